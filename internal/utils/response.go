package utils

import "github.com/gofiber/fiber/v2"

// APIResponse is the envelope of every versioned API response.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message"`
}

// SendSuccess sends a 200 envelope.
func SendSuccess(c *fiber.Ctx, message string, data interface{}) error {
	return SendSuccessWithStatus(c, fiber.StatusOK, message, data)
}

// SendSuccessWithStatus sends a success envelope with the given status code.
func SendSuccessWithStatus(c *fiber.Ctx, status int, message string, data interface{}) error {
	if status == 0 {
		status = fiber.StatusOK
	}
	return send(c, status, true, orDefault(message, "success"), data)
}

// SendError sends an error envelope without data.
func SendError(c *fiber.Ctx, status int, message string) error {
	return send(c, status, false, orDefault(message, "error"), nil)
}

// SendErrorWithData sends an error envelope that still carries a payload,
// such as the failure record of an analysis run.
func SendErrorWithData(c *fiber.Ctx, status int, message string, data interface{}) error {
	return send(c, status, false, orDefault(message, "error"), data)
}

func send(c *fiber.Ctx, status int, success bool, message string, data interface{}) error {
	return c.Status(status).JSON(APIResponse{
		Success: success,
		Data:    data,
		Message: message,
	})
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
