package api

import (
	"errors"

	"github.com/fathima-sithara/message-service/internal/domain"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func statusOf(code string) int {
	switch code {
	case "not_found":
		return fiber.StatusNotFound
	case "forbidden":
		return fiber.StatusForbidden
	case "edit_window_expired", "invalid_argument":
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}

func (h *Handlers) fail(c *fiber.Ctx, err error) error {
	code := domain.Code(err)
	status := statusOf(code)
	if status == fiber.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("path", c.Path()),
			zap.String("user_id", userID(c)),
			zap.Error(err))
	}
	return c.Status(status).JSON(fiber.Map{"error": domain.PublicMessage(err), "code": code})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg, "code": "invalid_argument"})
}

// errorHandler renders errors that escape handlers, such as unknown routes.
func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code := "internal"
		switch fe.Code {
		case fiber.StatusNotFound:
			code = "not_found"
		case fiber.StatusMethodNotAllowed, fiber.StatusBadRequest, fiber.StatusUpgradeRequired:
			code = "invalid_argument"
		}
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message, "code": code})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error", "code": "internal"})
}
