package server

import (
	"errors"
	"fmt"

	"chatrelay/model"
	"chatrelay/storage"

	"github.com/gofiber/fiber/v2"
)

// validationError reports a malformed request body or parameter.
type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}

func invalid(format string, args ...any) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

// statusFor maps an error to the HTTP status reported to the client.
func statusFor(err error) int {
	var (
		notFound  *model.NotFoundError
		cfgErr    *model.ConfigurationError
		transport *model.TransportError
		badInput  *validationError
		fiberErr  *fiber.Error
	)

	switch {
	case errors.As(err, &notFound):
		return fiber.StatusNotFound
	case errors.As(err, &cfgErr), errors.As(err, &badInput):
		return fiber.StatusBadRequest
	case errors.As(err, &transport):
		return fiber.StatusBadGateway
	case errors.Is(err, storage.ErrConfigInUse):
		return fiber.StatusConflict
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	default:
		return fiber.StatusInternalServerError
	}
}

// handleError writes every handler error as {"detail": "..."}.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status := statusFor(err)

	detail := err.Error()
	if status == fiber.StatusInternalServerError {
		s.log.Printf("Internal error on %s %s: %v", c.Method(), c.Path(), err)
		detail = "internal server error"
	}

	return c.Status(status).JSON(fiber.Map{"detail": detail})
}
