package handler

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/smb-connect/connect-api/internal/dto"
	"github.com/smb-connect/connect-api/internal/service"
	"github.com/smb-connect/connect-api/internal/utils"
)

// ConversationHandler exposes the inbox endpoints.
type ConversationHandler struct {
	service service.ConversationService
	logger  zerolog.Logger
}

// NewConversationHandler creates a conversation handler instance.
func NewConversationHandler(service service.ConversationService, logger zerolog.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: service,
		logger:  logger.With().Str("component", "conversation_handler").Logger(),
	}
}

// Register binds conversation routes under the provided router group.
func (h *ConversationHandler) Register(router fiber.Router) {
	router.Post("/", h.create)
	router.Get("/", h.list)
	router.Get("/unread", h.unreadBadge)
	router.Get("/:id", h.get)
	router.Post("/:id/read", h.markRead)
	router.Patch("/:id/mute", h.setMuted)
}

func (h *ConversationHandler) create(c *fiber.Ctx) error {
	memberID := memberIDFromContext(c)
	if memberID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "member not authenticated")
	}

	var payload dto.ConversationCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	conversation, err := h.service.Create(requestContext(c), memberID, payload)
	if err != nil {
		switch {
		case isValidationError(err),
			errors.Is(err, service.ErrDirectNeedsOnePeer),
			errors.Is(err, service.ErrDirectConversationNamed),
			errors.Is(err, service.ErrGroupNeedsName):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		default:
			requestLogger(h.logger, c).Error().Err(err).Msg("failed to create conversation")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to create conversation")
		}
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "conversation created", conversation)
}

func (h *ConversationHandler) list(c *fiber.Ctx) error {
	memberID := memberIDFromContext(c)
	if memberID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "member not authenticated")
	}

	conversations, err := h.service.List(requestContext(c), memberID)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to list conversations")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list conversations")
	}

	return utils.SendSuccess(c, "conversations", conversations)
}

func (h *ConversationHandler) unreadBadge(c *fiber.Ctx) error {
	memberID := memberIDFromContext(c)
	if memberID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "member not authenticated")
	}

	badge, err := h.service.UnreadBadge(requestContext(c), memberID)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to compute unread badge")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to compute unread badge")
	}

	return utils.SendSuccess(c, "unread badge", badge)
}

func (h *ConversationHandler) get(c *fiber.Ctx) error {
	memberID := memberIDFromContext(c)
	if memberID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "member not authenticated")
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid conversation id")
	}

	conversation, err := h.service.Get(requestContext(c), id, memberID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotParticipant):
			return utils.SendError(c, fiber.StatusForbidden, err.Error())
		case errors.Is(err, gorm.ErrRecordNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "conversation not found")
		default:
			requestLogger(h.logger, c).Error().Err(err).Msg("failed to load conversation")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to load conversation")
		}
	}

	return utils.SendSuccess(c, "conversation", conversation)
}

func (h *ConversationHandler) markRead(c *fiber.Ctx) error {
	memberID := memberIDFromContext(c)
	if memberID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "member not authenticated")
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid conversation id")
	}

	var payload struct {
		At *time.Time `json:"at"`
	}
	_ = c.BodyParser(&payload)

	at := time.Now().UTC()
	if payload.At != nil {
		at = *payload.At
	}

	if err := h.service.MarkRead(requestContext(c), id, memberID, at); err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to mark conversation read")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to mark conversation read")
	}

	return utils.SendSuccess(c, "conversation marked read", nil)
}

func (h *ConversationHandler) setMuted(c *fiber.Ctx) error {
	memberID := memberIDFromContext(c)
	if memberID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "member not authenticated")
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid conversation id")
	}

	var payload struct {
		Muted bool `json:"muted"`
	}
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.service.SetMuted(requestContext(c), id, memberID, payload.Muted); err != nil {
		if errors.Is(err, service.ErrNotParticipant) {
			return utils.SendError(c, fiber.StatusForbidden, err.Error())
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to update mute flag")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to update mute flag")
	}

	return utils.SendSuccess(c, "mute flag updated", fiber.Map{"muted": payload.Muted})
}
