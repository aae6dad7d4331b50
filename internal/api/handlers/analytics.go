package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/deskflow/deskflow-engine/internal/services"
)

// GetReport returns the aggregate analytics view
func GetReport(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		report, err := svc.Analytics.Aggregate(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.JSON(report)
	}
}

// GetTransitions returns the ordered audit trail for one conversation
func GetTransitions(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		conversationID := c.Params("id")

		transitions, err := svc.Analytics.ConversationTransitions(c.Context(), conversationID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		return c.JSON(fiber.Map{
			"transitions": transitions,
		})
	}
}

// GetSummary returns the stored summary for one conversation
func GetSummary(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		conversationID := c.Params("id")

		summary, err := svc.Analytics.ConversationSummary(c.Context(), conversationID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		if summary == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Summary not available",
			})
		}

		return c.JSON(summary)
	}
}
