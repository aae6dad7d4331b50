package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/deskflow/deskflow-engine/internal/lifecycle"
	"github.com/deskflow/deskflow-engine/internal/models"
	"github.com/deskflow/deskflow-engine/internal/services"
)

// InitializeConversation restores the stored session or creates a new
// active one. An optional identification token attaches the visitor
// identity.
func InitializeConversation(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req struct {
			Expanded bool `json:"expanded"`
		}
		// Body is optional for initialize.
		_ = c.BodyParser(&req)

		identity := svc.Identity.FromAuthHeader(c.Get(fiber.HeaderAuthorization))

		session, err := svc.Orchestrator.Initialize(c.Context(), identity, req.Expanded)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		return c.JSON(session)
	}
}

// AddMessage accepts a user message, surfacing guard and quota
// rejections as blocking responses the widget must handle.
func AddMessage(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req struct {
			Content string `json:"content"`
		}
		if err := c.BodyParser(&req); err != nil || req.Content == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}

		session, err := svc.Orchestrator.AddMessage(c.Context(), req.Content)
		if err != nil {
			switch {
			case errors.Is(err, lifecycle.ErrSpamCooldown):
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"error":                      "Please wait before sending another message",
					"remaining_cooldown_seconds": svc.Guard.RemainingCooldown().Seconds(),
				})
			case errors.Is(err, lifecycle.ErrQuotaExceeded):
				return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
					"error":  "Message quota exceeded",
					"status": svc.Orchestrator.Status(),
				})
			case errors.Is(err, lifecycle.ErrConversationOver):
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{
					"error":  "Conversation has ended",
					"status": svc.Orchestrator.Status(),
				})
			default:
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"error": err.Error(),
				})
			}
		}

		return c.JSON(session)
	}
}

// RecordInteraction notes user activity for the idle timer
func RecordInteraction(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := svc.Orchestrator.RecordInteraction(c.Context()); err != nil {
			if errors.Is(err, lifecycle.ErrNoSession) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
					"error": "No live session",
				})
			}
			if errors.Is(err, lifecycle.ErrConversationOver) {
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{
					"error": "Conversation has ended",
				})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.JSON(fiber.Map{"status": svc.Orchestrator.Status()})
	}
}

// SetExpanded persists widget visibility; first expansion creates a
// session.
func SetExpanded(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req struct {
			Expanded bool `json:"expanded"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}

		session, err := svc.Orchestrator.SetExpanded(c.Context(), req.Expanded)
		if err != nil {
			if errors.Is(err, lifecycle.ErrNoSession) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
					"error": "No live session",
				})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.JSON(session)
	}
}

// RequestHandoff asks for a human agent. A backend rejection leaves the
// conversation unchanged and is surfaced as retryable.
func RequestHandoff(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := svc.Orchestrator.RequestHandoff(c.Context()); err != nil {
			switch {
			case errors.Is(err, lifecycle.ErrNoSession):
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
					"error": "No live session",
				})
			case errors.Is(err, lifecycle.ErrInvalidTransition):
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{
					"error":  "Handoff not available in the current state",
					"status": svc.Orchestrator.Status(),
				})
			default:
				return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
					"error":     err.Error(),
					"retryable": true,
				})
			}
		}
		return c.JSON(fiber.Map{"status": svc.Orchestrator.Status()})
	}
}

// AcceptHandoff marks the handoff as taken by a human agent
func AcceptHandoff(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req struct {
			Agent string `json:"agent"`
		}
		_ = c.BodyParser(&req)

		if err := svc.Orchestrator.AcceptHandoff(c.Context(), req.Agent); err != nil {
			return conversationError(c, svc, err)
		}
		return c.JSON(fiber.Map{"status": svc.Orchestrator.Status()})
	}
}

// EndConversation terminates the conversation explicitly
func EndConversation(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req struct {
			Reason string `json:"reason"`
			Agent  bool   `json:"agent"`
		}
		_ = c.BodyParser(&req)

		by := models.TriggeredByUser
		if req.Agent {
			by = models.TriggeredByAI
		}

		if err := svc.Orchestrator.EndConversation(c.Context(), req.Reason, by); err != nil {
			return conversationError(c, svc, err)
		}
		return c.JSON(fiber.Map{"status": svc.Orchestrator.Status()})
	}
}

// CloseConversation administratively closes an ended conversation
func CloseConversation(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := svc.Orchestrator.CloseConversation(c.Context()); err != nil {
			return conversationError(c, svc, err)
		}
		return c.JSON(fiber.Map{"status": svc.Orchestrator.Status()})
	}
}

// GetConversation returns the live session and guard state
func GetConversation(svc *services.Services) fiber.Handler {
	return func(c *fiber.Ctx) error {
		session := svc.Orchestrator.Session()
		if session == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "No live session",
			})
		}

		return c.JSON(fiber.Map{
			"session": session,
			"guard":   svc.Guard.Snapshot(),
		})
	}
}

func conversationError(c *fiber.Ctx, svc *services.Services, err error) error {
	switch {
	case errors.Is(err, lifecycle.ErrNoSession):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No live session",
		})
	case errors.Is(err, lifecycle.ErrInvalidTransition), errors.Is(err, lifecycle.ErrConversationOver):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":  err.Error(),
			"status": svc.Orchestrator.Status(),
		})
	default:
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":     err.Error(),
			"retryable": true,
		})
	}
}
