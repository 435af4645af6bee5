package handler

import (
	"github.com/gofiber/fiber/v2"

	"docstore/internal/http/middleware"
)

// errorPayload is the uniform failure response body.
type errorPayload struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// successPayload wraps a created or mutated resource.
type successPayload struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// requestIDFromCtx extracts the request_id stored by middleware.RequestID.
func requestIDFromCtx(c *fiber.Ctx) string {
	if v := c.Locals(middleware.RequestIDLocalKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// writeError writes the uniform JSON error body. The message must be safe to
// show to callers; internal error details never leave the process.
func writeError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(errorPayload{
		Success:   false,
		Message:   message,
		RequestID: requestIDFromCtx(c),
	})
}

// ErrorHandler returns a Fiber global error handler so that framework-level
// failures use the same envelope as handler-level ones.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			status = e.Code
		}

		switch status {
		case fiber.StatusBadRequest:
			return writeError(c, status, "bad request")
		case fiber.StatusNotFound:
			return writeError(c, status, "resource not found")
		case fiber.StatusMethodNotAllowed:
			return writeError(c, status, "method not allowed")
		case fiber.StatusRequestEntityTooLarge:
			return writeError(c, status, "request body too large")
		default:
			return writeError(c, status, "internal server error")
		}
	}
}
