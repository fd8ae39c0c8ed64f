package http

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"mailbridge/core/service/account"
	"mailbridge/infra/middleware"
	"mailbridge/pkg/apperr"
	"mailbridge/pkg/response"
)

// AccountHandler serves mail account onboarding and management.
type AccountHandler struct {
	accounts  *account.Service
	clientURL string
}

func NewAccountHandler(accounts *account.Service, clientURL string) *AccountHandler {
	return &AccountHandler{accounts: accounts, clientURL: clientURL}
}

type registerIMAPRequest struct {
	Email       string `json:"email"`
	AppPassword string `json:"app_password"`
}

type updatePasswordRequest struct {
	AppPassword string `json:"app_password"`
}

func (h *AccountHandler) Register(c *fiber.Ctx) error {
	var req registerIMAPRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	acc, err := h.accounts.RegisterIMAP(c.Context(), middleware.UserID(c), req.Email, req.AppPassword)
	if err != nil {
		return err
	}
	return response.Created(c, acc)
}

func (h *AccountHandler) List(c *fiber.Ctx) error {
	accounts, err := h.accounts.List(c.Context(), middleware.UserID(c))
	if err != nil {
		return err
	}
	return response.OK(c, accounts)
}

func (h *AccountHandler) Get(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	acc, err := h.accounts.Get(c.Context(), middleware.UserID(c), id)
	if err != nil {
		return err
	}
	return response.OK(c, acc)
}

func (h *AccountHandler) UpdatePassword(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req updatePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	acc, err := h.accounts.UpdatePassword(c.Context(), middleware.UserID(c), id, req.AppPassword)
	if err != nil {
		return err
	}
	return response.OK(c, acc)
}

func (h *AccountHandler) Delete(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.accounts.Delete(c.Context(), middleware.UserID(c), id); err != nil {
		return err
	}
	return response.NoContent(c)
}

func (h *AccountHandler) TriggerSync(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.accounts.TriggerSync(c.Context(), middleware.UserID(c), id); err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"status": "queued"})
}

// OAuthStart hands back the Microsoft consent URL for the caller.
func (h *AccountHandler) OAuthStart(c *fiber.Ctx) error {
	authURL, err := h.accounts.StartOAuth(c.Context(), middleware.UserID(c))
	if err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"auth_url": authURL})
}

// OAuthCallback completes the consent flow. Microsoft redirects the
// browser here, so on success the user lands back on the client app.
func (h *AccountHandler) OAuthCallback(c *fiber.Ctx) error {
	if errCode := c.Query("error"); errCode != "" {
		return apperr.BadRequest("consent denied: " + errCode)
	}

	acc, err := h.accounts.CompleteOAuth(c.Context(), c.Query("state"), c.Query("code"))
	if err != nil {
		return err
	}

	if h.clientURL != "" {
		return c.Redirect(h.clientURL + "/accounts?linked=" + strconv.FormatInt(acc.ID, 10))
	}
	return response.OK(c, acc)
}

func pathID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.BadRequest("invalid id")
	}
	return id, nil
}
