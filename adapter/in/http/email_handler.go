package http

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"mailbridge/core/port/out"
	"mailbridge/core/service/email"
	"mailbridge/infra/middleware"
	"mailbridge/pkg/apperr"
	"mailbridge/pkg/response"
)

// EmailHandler serves the mirrored mailbox.
type EmailHandler struct {
	emails *email.Service
}

func NewEmailHandler(emails *email.Service) *EmailHandler {
	return &EmailHandler{emails: emails}
}

type readStatusRequest struct {
	IsRead bool `json:"is_read"`
}

func (h *EmailHandler) List(c *fiber.Ctx) error {
	filter, err := parseMessageFilter(c)
	if err != nil {
		return err
	}

	messages, total, err := h.emails.List(c.Context(), middleware.UserID(c), filter)
	if err != nil {
		return err
	}
	return response.OKWithMeta(c, messages, pageMeta(total, filter.Page, filter.Limit, len(messages)))
}

func (h *EmailHandler) Get(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	msg, attachments, err := h.emails.Get(c.Context(), middleware.UserID(c), id)
	if err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"message": msg, "attachments": attachments})
}

func (h *EmailHandler) SetReadStatus(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req readStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	if err := h.emails.SetReadStatus(c.Context(), middleware.UserID(c), id, req.IsRead); err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"id": id, "is_read": req.IsRead})
}

func (h *EmailHandler) Delete(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.emails.Delete(c.Context(), middleware.UserID(c), id); err != nil {
		return err
	}
	return response.NoContent(c)
}

func parseMessageFilter(c *fiber.Ctx) (out.MessageFilter, error) {
	filter := out.MessageFilter{
		Page:  c.QueryInt("page", 1),
		Limit: c.QueryInt("limit", 20),
	}

	if raw := c.Query("account_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, apperr.BadRequest("invalid account_id")
		}
		filter.AccountID = &id
	}
	if folder := c.Query("folder"); folder != "" {
		filter.Folder = &folder
	}
	if raw := c.Query("is_read"); raw != "" {
		isRead, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, apperr.BadRequest("invalid is_read")
		}
		filter.IsRead = &isRead
	}
	if raw := c.Query("from_date"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, apperr.BadRequest("from_date must be RFC 3339")
		}
		filter.FromDate = &t
	}
	if raw := c.Query("to_date"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, apperr.BadRequest("to_date must be RFC 3339")
		}
		filter.ToDate = &t
	}
	return filter, nil
}

func pageMeta(total, page, limit, returned int) *response.Meta {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	return &response.Meta{
		Total:    total,
		Page:     page,
		PageSize: limit,
		HasMore:  (page-1)*limit+returned < total,
	}
}
