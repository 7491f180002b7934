package handler

import (
	"bufio"
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/smb-connect/connect-api/internal/dto"
	"github.com/smb-connect/connect-api/internal/service"
	"github.com/smb-connect/connect-api/internal/utils"
)

// StreamHandler exposes the change-notification stream over SSE. Clients
// subscribe to one (topic, filter) pair per connection; the subscription is
// torn down when the connection closes.
type StreamHandler struct {
	service service.StreamService
	logger  zerolog.Logger
}

// NewStreamHandler constructs a stream handler instance.
func NewStreamHandler(service service.StreamService, logger zerolog.Logger) *StreamHandler {
	return &StreamHandler{
		service: service,
		logger:  logger.With().Str("component", "stream_handler").Logger(),
	}
}

// Register binds the stream route.
func (h *StreamHandler) Register(router fiber.Router) {
	router.Get("/", h.stream)
}

func (h *StreamHandler) stream(c *fiber.Ctx) error {
	memberID := memberIDFromContext(c)
	if memberID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "member not authenticated")
	}

	topic := strings.TrimSpace(c.Query("topic"))
	filter := strings.TrimSpace(c.Query("filter"))

	switch topic {
	case dto.StreamTopicPosts:
		// The feed stream is unfiltered.
	case dto.StreamTopicConnections:
		// Members may only watch their own connection requests.
		filter = memberID
	default:
		return utils.SendError(c, fiber.StatusBadRequest, "unsupported stream topic")
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	ctx, cancel := context.WithCancel(requestContext(c))
	events, cleanup := h.service.Subscribe(topic, filter)

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			cleanup()
			cancel()
		}()

		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				if err := writeServerSentEvent(w, "change", event); err != nil {
					h.logger.Debug().Err(err).Msg("failed to write stream event")
					return
				}
			case <-ticker.C:
				if err := writeKeepAlive(w); err != nil {
					h.logger.Debug().Err(err).Msg("failed to write stream keepalive")
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})

	return nil
}
