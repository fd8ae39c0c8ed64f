// Package http wires the fiber handlers and routes of the API surface.
package http

import (
	"github.com/gofiber/fiber/v2"

	"mailbridge/core/service/auth"
	"mailbridge/infra/middleware"
	"mailbridge/pkg/apperr"
	"mailbridge/pkg/response"
)

// AuthHandler serves signup, login and token rotation.
type AuthHandler struct {
	auth *auth.Service
}

func NewAuthHandler(authService *auth.Service) *AuthHandler {
	return &AuthHandler{auth: authService}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type sessionResponse struct {
	User   any `json:"user"`
	Tokens any `json:"tokens"`
}

func (h *AuthHandler) Signup(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	user, pair, err := h.auth.Signup(c.Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return response.Created(c, sessionResponse{User: user, Tokens: pair})
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	user, pair, err := h.auth.Login(c.Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return response.OK(c, sessionResponse{User: user, Tokens: pair})
}

func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil || req.RefreshToken == "" {
		return apperr.BadRequest("refresh_token is required")
	}

	pair, err := h.auth.Refresh(c.Context(), req.RefreshToken)
	if err != nil {
		return err
	}
	return response.OK(c, pair)
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	if err := h.auth.Logout(c.Context(), middleware.UserID(c)); err != nil {
		return err
	}
	return response.NoContent(c)
}
