package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/helpdesk-labs/support-chat/internal/api/http/handlers"
	"github.com/helpdesk-labs/support-chat/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	WS             *handlers.WSHandler
	Conversations  *handlers.ConversationHandler
	Presence       *handlers.PresenceHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	app.Get("/ws", cfg.WS.Upgrade, cfg.WS.Serve())

	api := app.Group("/api", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())
	api.Get("/presence", auth.RequireAgent(), cfg.Presence.List)
	api.Get("/queue", auth.RequireAgent(), cfg.Conversations.Queue)

	conversations := api.Group("/conversations")
	conversations.Post("", auth.RequireClient(), cfg.Conversations.Create)
	conversations.Post("/:id/department", cfg.Conversations.AssignDepartment)
	conversations.Post("/:id/accept", auth.RequireAgent(), cfg.Conversations.Accept)
	conversations.Post("/:id/transfer", auth.RequireAgent(), cfg.Conversations.Transfer)
	conversations.Post("/:id/close", cfg.Conversations.Close)
}
