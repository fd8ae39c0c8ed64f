package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"mailbridge/pkg/apperr"
	"mailbridge/pkg/logger"
	"mailbridge/pkg/response"
)

// ErrorHandler is the fiber app-level error handler. Application errors
// map to their code and status; everything else is a masked 500.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		if appErr.Status >= 500 {
			logger.WithError(appErr.Err).Error("%s %s failed: %s", c.Method(), c.Path(), appErr.Code)
		}
		return response.Error(c, appErr.Status, appErr.Code, appErr.Message)
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return response.Error(c, fiberErr.Code, "HTTP_ERROR", fiberErr.Message)
	}

	logger.WithError(err).Error("%s %s failed", c.Method(), c.Path())
	return response.InternalError(c, "internal server error")
}
