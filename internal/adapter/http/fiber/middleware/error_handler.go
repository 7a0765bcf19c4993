package middleware

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/evcharge/ems-coordinator/internal/domain"
)

func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError

		switch e := err.(type) {
		case *fiber.Error:
			code = e.Code
		case *domain.Error:
			code = statusForKind(e.Kind)
		}

		if code == fiber.StatusInternalServerError {
			log.Error("Internal Server Error", zap.Error(err), zap.String("path", c.Path()))
		}

		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}

func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.ErrUnknownCharger, domain.ErrUnknownConnector, domain.ErrSessionNotFound:
		return fiber.StatusNotFound
	case domain.ErrConnectorBusy:
		return fiber.StatusConflict
	case domain.ErrStaleUpdate, domain.ErrProtocolError:
		return fiber.StatusBadRequest
	case domain.ErrPersistenceError:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
