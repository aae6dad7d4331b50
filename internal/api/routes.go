package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/deskflow/deskflow-engine/internal/api/handlers"
	"github.com/deskflow/deskflow-engine/internal/api/middleware"
	"github.com/deskflow/deskflow-engine/internal/services"
)

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, svc *services.Services, hub *handlers.Hub) {
	api := app.Group("/api/v1")

	// Conversation lifecycle (widget surface)
	conv := api.Group("/conversation")
	conv.Post("/initialize", handlers.InitializeConversation(svc))
	conv.Post("/messages", middleware.MessageRateLimit(), handlers.AddMessage(svc))
	conv.Post("/interaction", handlers.RecordInteraction(svc))
	conv.Post("/expand", handlers.SetExpanded(svc))
	conv.Post("/handoff", handlers.RequestHandoff(svc))
	conv.Post("/handoff/accept", handlers.AcceptHandoff(svc))
	conv.Post("/end", handlers.EndConversation(svc))
	conv.Post("/close", handlers.CloseConversation(svc))
	conv.Get("/", handlers.GetConversation(svc))

	// Analytics (console surface)
	api.Get("/analytics/report", handlers.GetReport(svc))
	api.Get("/conversations/:id/transitions", handlers.GetTransitions(svc))
	api.Get("/conversations/:id/summary", handlers.GetSummary(svc))

	// Live transition stream
	app.Use("/ws/events", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(hub.Serve))

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "deskflow-engine",
		})
	})
}
