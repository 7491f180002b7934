package handler

import (
	"context"
	"errors"
	"mime/multipart"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/smb-connect/connect-api/internal/dto"
	"github.com/smb-connect/connect-api/internal/middleware"
	"github.com/smb-connect/connect-api/internal/repository"
	"github.com/smb-connect/connect-api/internal/service"
	"github.com/smb-connect/connect-api/internal/utils"
)

// MessageHandler wires message endpoints including the websocket upgrade for
// live threads.
type MessageHandler struct {
	service service.MessageService
	logger  zerolog.Logger
}

// NewMessageHandler creates a message handler instance.
func NewMessageHandler(service service.MessageService, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		service: service,
		logger:  logger.With().Str("component", "message_handler").Logger(),
	}
}

// Register binds message routes under the provided router group.
func (h *MessageHandler) Register(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			ctx := c.UserContext()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
			c.Locals("request_ctx", ctx)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/ws", websocket.New(h.handleConnection))
	router.Get("/history", h.history)
	router.Post("/", h.send)
	router.Patch("/:id", h.edit)
	router.Delete("/:id", h.delete)
}

func (h *MessageHandler) handleConnection(conn *websocket.Conn) {
	memberID := websocketMemberID(conn)
	if memberID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusUnauthorized, "member id missing"))
		_ = conn.Close()
		return
	}

	conversationID, err := strconv.ParseUint(strings.TrimSpace(conn.Query("conversation_id")), 10, 64)
	if err != nil || conversationID == 0 {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusBadRequest, "conversation_id required"))
		_ = conn.Close()
		return
	}

	correlation, _ := conn.Locals("correlation_id").(string)
	baseCtx, _ := conn.Locals("request_ctx").(context.Context)

	opts := service.ThreadConnectionOptions{
		MemberID:       memberID,
		ConversationID: uint(conversationID),
		CorrelationID:  correlation,
		Context:        baseCtx,
	}

	h.logger.Info().Str("member_id", memberID).Uint64("conversation_id", conversationID).Msg("thread websocket connected")
	h.service.ServeConnection(conn, opts)
	h.logger.Info().Str("member_id", memberID).Uint64("conversation_id", conversationID).Msg("thread websocket disconnected")
}

func (h *MessageHandler) history(c *fiber.Ctx) error {
	memberID := memberIDFromContext(c)
	if memberID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "member not authenticated")
	}

	conversationID, err := strconv.ParseUint(c.Query("conversation_id"), 10, 64)
	if err != nil || conversationID == 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "conversation_id required")
	}

	var beforePtr *time.Time
	if before := c.Query("before"); before != "" {
		parsed, err := time.Parse(time.RFC3339, before)
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid before timestamp")
		}
		beforePtr = &parsed
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	query := dto.MessageHistoryQuery{
		ConversationID: uint(conversationID),
		Before:         beforePtr,
		Limit:          limit,
	}

	messages, err := h.service.History(requestContext(c), memberID, query)
	if err != nil {
		switch {
		case isValidationError(err):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrNotParticipant):
			return utils.SendError(c, fiber.StatusForbidden, err.Error())
		default:
			requestLogger(h.logger, c).Error().Err(err).Msg("failed to load message history")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to load message history")
		}
	}

	return utils.SendSuccess(c, "message history", messages)
}

// send accepts multipart composes: a payload part plus up to five attachment
// files, or a plain JSON body for text-only messages.
func (h *MessageHandler) send(c *fiber.Ctx) error {
	memberID := memberIDFromContext(c)
	if memberID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "member not authenticated")
	}

	var payload dto.MessageSendRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	files := attachmentFiles(c)

	message, err := h.service.Send(requestContext(c), memberID, payload, files)
	if err != nil {
		switch {
		case isValidationError(err),
			errors.Is(err, service.ErrEmptyMessage),
			errors.Is(err, service.ErrReplyTargetInvalid):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrTooManyAttachments),
			errors.Is(err, service.ErrUploadTooLarge):
			return utils.SendError(c, fiber.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, service.ErrUploadTypeNotAllowed):
			return utils.SendError(c, fiber.StatusUnsupportedMediaType, err.Error())
		case errors.Is(err, service.ErrNotParticipant):
			return utils.SendError(c, fiber.StatusForbidden, err.Error())
		default:
			requestLogger(h.logger, c).Error().Err(err).Msg("failed to send message")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to send message")
		}
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", message)
}

func (h *MessageHandler) edit(c *fiber.Ctx) error {
	memberID := memberIDFromContext(c)
	if memberID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "member not authenticated")
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid message id")
	}

	var payload dto.MessageEditRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	message, err := h.service.Edit(requestContext(c), id, memberID, payload)
	if err != nil {
		switch {
		case isValidationError(err):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		case errors.Is(err, repository.ErrNotMessageSender):
			return utils.SendError(c, fiber.StatusForbidden, err.Error())
		case errors.Is(err, gorm.ErrRecordNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "message not found")
		default:
			requestLogger(h.logger, c).Error().Err(err).Msg("failed to edit message")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to edit message")
		}
	}

	return utils.SendSuccess(c, "message updated", message)
}

func (h *MessageHandler) delete(c *fiber.Ctx) error {
	memberID := memberIDFromContext(c)
	if memberID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "member not authenticated")
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid message id")
	}

	message, err := h.service.Delete(requestContext(c), id, memberID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotMessageSender):
			return utils.SendError(c, fiber.StatusForbidden, err.Error())
		case errors.Is(err, gorm.ErrRecordNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "message not found")
		default:
			requestLogger(h.logger, c).Error().Err(err).Msg("failed to delete message")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to delete message")
		}
	}

	return utils.SendSuccess(c, "message deleted", message)
}

func attachmentFiles(c *fiber.Ctx) []*multipart.FileHeader {
	form, err := c.MultipartForm()
	if err != nil || form == nil {
		return nil
	}
	return form.File["attachments"]
}

func websocketMemberID(conn *websocket.Conn) string {
	if value := conn.Locals("member_id"); value != nil {
		if id, ok := value.(string); ok {
			return strings.TrimSpace(id)
		}
	}
	return ""
}
