package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/smb-connect/connect-api/internal/config"
	"github.com/smb-connect/connect-api/internal/handler"
	"github.com/smb-connect/connect-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ConversationHandler *handler.ConversationHandler
	MessageHandler      *handler.MessageHandler
	FeedHandler         *handler.FeedHandler
	ConnectionHandler   *handler.ConnectionHandler
	NotificationHandler *handler.NotificationHandler
	StreamHandler       *handler.StreamHandler
	UploadHandler       *handler.UploadHandler
	JWTMiddleware       fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))
	api.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.ConversationHandler != nil {
		conversations := app.Group("/api/v1/conversations", jwtMiddleware)
		deps.ConversationHandler.Register(conversations)
	}

	if deps.MessageHandler != nil {
		messages := app.Group("/api/v1/messages", jwtMiddleware)
		deps.MessageHandler.Register(messages)
	}

	if deps.FeedHandler != nil {
		feed := app.Group("/api/v1/posts", jwtMiddleware)
		deps.FeedHandler.Register(feed)
	}

	if deps.ConnectionHandler != nil {
		connections := app.Group("/api/v1/connections", jwtMiddleware)
		deps.ConnectionHandler.Register(connections)
	}

	if deps.NotificationHandler != nil {
		notifications := app.Group("/api/v1/notifications", jwtMiddleware)
		deps.NotificationHandler.Register(notifications)
	}

	if deps.StreamHandler != nil {
		stream := app.Group("/api/v1/stream", jwtMiddleware)
		deps.StreamHandler.Register(stream)
	}

	if deps.UploadHandler != nil {
		uploads := app.Group("/api/v1/uploads", jwtMiddleware)
		deps.UploadHandler.Register(uploads)
	}
}
