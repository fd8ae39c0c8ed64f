// Package middleware holds the fiber middleware: bearer auth, panic
// recovery and the error-to-envelope mapping.
package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"mailbridge/core/service/auth"
	"mailbridge/pkg/response"
)

// Locals keys set by Auth.
const (
	LocalUserID = "user_id"
	LocalEmail  = "email"
)

// Auth validates the bearer token and stores the caller's identity in
// request locals.
func Auth(authService *auth.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" {
			return response.Unauthorized(c, "missing authorization header")
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return response.Unauthorized(c, "malformed authorization header")
		}

		claims, err := authService.ParseAccessToken(token)
		if err != nil {
			return response.Unauthorized(c, "invalid or expired token")
		}

		c.Locals(LocalUserID, claims.UserID)
		c.Locals(LocalEmail, claims.Email)
		return c.Next()
	}
}

// UserID reads the authenticated user id from request locals. Handlers
// behind Auth can rely on it being present.
func UserID(c *fiber.Ctx) uuid.UUID {
	if id, ok := c.Locals(LocalUserID).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}
