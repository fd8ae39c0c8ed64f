package http

import (
	"github.com/gofiber/fiber/v2"

	"mailbridge/core/service/search"
	"mailbridge/infra/middleware"
	"mailbridge/pkg/apperr"
	"mailbridge/pkg/response"
)

// SearchHandler serves full-text and sender search.
type SearchHandler struct {
	search *search.Service
}

func NewSearchHandler(searchService *search.Service) *SearchHandler {
	return &SearchHandler{search: searchService}
}

// Search dispatches on the query parameters: ?q= runs ranked full-text
// search, ?sender= matches the from field. Presence of the key selects the
// mode; a blank query is a valid request answered with an empty page.
func (h *SearchHandler) Search(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 20)
	userID := middleware.UserID(c)
	args := c.Request().URI().QueryArgs()

	if args.Has("q") {
		hits, total, err := h.search.Text(c.Context(), userID, c.Query("q"), page, limit)
		if err != nil {
			return err
		}
		return response.OKWithMeta(c, hits, pageMeta(total, page, limit, len(hits)))
	}

	if args.Has("sender") {
		messages, total, err := h.search.Sender(c.Context(), userID, c.Query("sender"), page, limit)
		if err != nil {
			return err
		}
		return response.OKWithMeta(c, messages, pageMeta(total, page, limit, len(messages)))
	}

	return apperr.BadRequest("q or sender query parameter is required")
}
