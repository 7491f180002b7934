package handler

import (
	"context"
	"errors"
	"mime/multipart"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/smb-connect/connect-api/internal/dto"
	"github.com/smb-connect/connect-api/internal/repository"
	"github.com/smb-connect/connect-api/internal/service"
	"github.com/smb-connect/connect-api/internal/utils"
)

// FeedHandler exposes the social feed endpoints.
type FeedHandler struct {
	service service.FeedService
	logger  zerolog.Logger
}

// NewFeedHandler creates a feed handler instance.
func NewFeedHandler(service service.FeedService, logger zerolog.Logger) *FeedHandler {
	return &FeedHandler{
		service: service,
		logger:  logger.With().Str("component", "feed_handler").Logger(),
	}
}

// Register binds feed routes under the provided router group.
func (h *FeedHandler) Register(router fiber.Router) {
	router.Get("/", h.list)
	router.Post("/", h.create)
	router.Get("/:id", h.get)
	router.Delete("/:id", h.delete)

	router.Post("/:id/like", h.like)
	router.Delete("/:id/like", h.unlike)
	router.Post("/:id/repost", h.repost)
	router.Post("/:id/share", h.share)

	router.Get("/:id/comments", h.listComments)
	router.Post("/:id/comments", h.comment)
	router.Delete("/:id/comments/:commentID", h.deleteComment)
}

func (h *FeedHandler) list(c *fiber.Ctx) error {
	memberID := memberIDFromContext(c)
	if memberID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "member not authenticated")
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	query := dto.FeedQuery{
		Context: c.Query("context"),
		Limit:   limit,
	}
	if raw := c.Query("organization_id"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid organization id")
		}
		orgID := uint(parsed)
		query.OrganizationID = &orgID
	}

	posts, err := h.service.List(requestContext(c), memberID, query)
	if err != nil {
		if isValidationError(err) {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to load feed")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load feed")
	}

	return utils.SendSuccess(c, "feed", posts)
}

// create accepts a multipart compose: the payload fields plus an optional
// single "media" file.
func (h *FeedHandler) create(c *fiber.Ctx) error {
	memberID := memberIDFromContext(c)
	if memberID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "member not authenticated")
	}

	var payload dto.PostCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	var media *multipart.FileHeader
	if file, err := c.FormFile("media"); err == nil {
		media = file
	}

	post, err := h.service.CreatePost(requestContext(c), memberID, payload, media)
	if err != nil {
		switch {
		case isValidationError(err), errors.Is(err, service.ErrEmptyPost):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrUploadTooLarge):
			return utils.SendError(c, fiber.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, service.ErrUploadTypeNotAllowed):
			return utils.SendError(c, fiber.StatusUnsupportedMediaType, err.Error())
		default:
			requestLogger(h.logger, c).Error().Err(err).Msg("failed to create post")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to create post")
		}
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "post created", post)
}

func (h *FeedHandler) get(c *fiber.Ctx) error {
	memberID := memberIDFromContext(c)
	if memberID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "member not authenticated")
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid post id")
	}

	post, err := h.service.GetPost(requestContext(c), id, memberID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "post not found")
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to load post")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load post")
	}

	return utils.SendSuccess(c, "post", post)
}

func (h *FeedHandler) delete(c *fiber.Ctx) error {
	memberID := memberIDFromContext(c)
	if memberID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "member not authenticated")
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid post id")
	}

	if err := h.service.DeletePost(requestContext(c), id, memberID); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotPostAuthor):
			return utils.SendError(c, fiber.StatusForbidden, err.Error())
		case errors.Is(err, gorm.ErrRecordNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "post not found")
		default:
			requestLogger(h.logger, c).Error().Err(err).Msg("failed to delete post")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to delete post")
		}
	}

	return utils.SendSuccess(c, "post deleted", nil)
}

func (h *FeedHandler) like(c *fiber.Ctx) error {
	return h.reaction(c, h.service.Like, "post liked")
}

func (h *FeedHandler) unlike(c *fiber.Ctx) error {
	return h.reaction(c, h.service.Unlike, "post unliked")
}

func (h *FeedHandler) share(c *fiber.Ctx) error {
	return h.reaction(c, h.service.Share, "post shared")
}

func (h *FeedHandler) reaction(c *fiber.Ctx, mutate func(ctx context.Context, postID uint, memberID string) (dto.PostCounters, error), message string) error {
	memberID := memberIDFromContext(c)
	if memberID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "member not authenticated")
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid post id")
	}

	counters, err := mutate(requestContext(c), id, memberID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "post not found")
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to apply reaction")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to apply reaction")
	}

	return utils.SendSuccess(c, message, counters)
}

func (h *FeedHandler) repost(c *fiber.Ctx) error {
	memberID := memberIDFromContext(c)
	if memberID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "member not authenticated")
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid post id")
	}

	post, err := h.service.Repost(requestContext(c), id, memberID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSelfRepost), errors.Is(err, service.ErrRepostOfRepost):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		case errors.Is(err, gorm.ErrRecordNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "post not found")
		default:
			requestLogger(h.logger, c).Error().Err(err).Msg("failed to repost")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to repost")
		}
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "post reposted", post)
}

func (h *FeedHandler) listComments(c *fiber.Ctx) error {
	memberID := memberIDFromContext(c)
	if memberID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "member not authenticated")
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid post id")
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}
	offset, err := parseQueryInt(c, "offset")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid offset")
	}

	comments, err := h.service.ListComments(requestContext(c), id, limit, offset)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to list comments")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list comments")
	}

	return utils.SendSuccess(c, "comments", comments)
}

func (h *FeedHandler) comment(c *fiber.Ctx) error {
	memberID := memberIDFromContext(c)
	if memberID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "member not authenticated")
	}

	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid post id")
	}

	var payload dto.CommentCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	payload.PostID = id

	comment, err := h.service.Comment(requestContext(c), memberID, payload)
	if err != nil {
		if isValidationError(err) {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to add comment")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to add comment")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "comment added", comment)
}

func (h *FeedHandler) deleteComment(c *fiber.Ctx) error {
	memberID := memberIDFromContext(c)
	if memberID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "member not authenticated")
	}

	postID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid post id")
	}
	commentID, err := parseUintParam(c, "commentID")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid comment id")
	}

	counters, err := h.service.DeleteComment(requestContext(c), commentID, postID, memberID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotPostAuthor):
			return utils.SendError(c, fiber.StatusForbidden, err.Error())
		case errors.Is(err, gorm.ErrRecordNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "comment not found")
		default:
			requestLogger(h.logger, c).Error().Err(err).Msg("failed to delete comment")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to delete comment")
		}
	}

	return utils.SendSuccess(c, "comment deleted", counters)
}
