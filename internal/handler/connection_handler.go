package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/smb-connect/connect-api/internal/dto"
	"github.com/smb-connect/connect-api/internal/service"
	"github.com/smb-connect/connect-api/internal/utils"
)

// ConnectionHandler exposes member connection-request endpoints.
type ConnectionHandler struct {
	service service.ConnectionService
	logger  zerolog.Logger
}

// NewConnectionHandler creates a connection handler instance.
func NewConnectionHandler(service service.ConnectionService, logger zerolog.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		service: service,
		logger:  logger.With().Str("component", "connection_handler").Logger(),
	}
}

// Register binds connection routes under the provided router group.
func (h *ConnectionHandler) Register(router fiber.Router) {
	router.Post("/", h.create)
	router.Get("/", h.list)
	router.Patch("/:id", h.respond)
}

func (h *ConnectionHandler) create(c *fiber.Ctx) error {
	memberID := memberIDFromContext(c)
	if memberID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "member not authenticated")
	}

	var payload dto.ConnectionRequestCreate
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	request, err := h.service.Create(requestContext(c), memberID, payload)
	if err != nil {
		switch {
		case isValidationError(err), errors.Is(err, service.ErrSelfConnection):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		case errors.Is(err, gorm.ErrRecordNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "member not found")
		default:
			requestLogger(h.logger, c).Error().Err(err).Msg("failed to create connection request")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to create connection request")
		}
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "connection request sent", request)
}

func (h *ConnectionHandler) list(c *fiber.Ctx) error {
	memberID := memberIDFromContext(c)
	if memberID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "member not authenticated")
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	requests, err := h.service.List(requestContext(c), memberID, limit)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to list connection requests")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list connection requests")
	}

	return utils.SendSuccess(c, "connection requests", requests)
}

func (h *ConnectionHandler) respond(c *fiber.Ctx) error {
	memberID := memberIDFromContext(c)
	if memberID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "member not authenticated")
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request id")
	}

	var payload struct {
		Status string `json:"status"`
	}
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	request, err := h.service.Respond(requestContext(c), id, memberID, payload.Status)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidConnectionStatus):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		case errors.Is(err, gorm.ErrRecordNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "connection request not found")
		default:
			requestLogger(h.logger, c).Error().Err(err).Msg("failed to respond to connection request")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to respond to connection request")
		}
	}

	return utils.SendSuccess(c, "connection request updated", request)
}
