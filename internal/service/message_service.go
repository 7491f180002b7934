package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/websocket/v2"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smb-connect/connect-api/internal/dto"
	"github.com/smb-connect/connect-api/internal/models"
	"github.com/smb-connect/connect-api/internal/observability"
	"github.com/smb-connect/connect-api/internal/repository"
)

const (
	maxMessageAttachments = 5
	threadCacheTTL        = 30 * time.Minute
)

var (
	// ErrEmptyMessage indicates a compose with neither text nor attachments.
	ErrEmptyMessage = errors.New("message requires text or at least one attachment")
	// ErrTooManyAttachments indicates the per-message attachment cap was exceeded.
	ErrTooManyAttachments = fmt.Errorf("a message may carry at most %d attachments", maxMessageAttachments)
	// ErrNotParticipant indicates the caller does not belong to the conversation.
	ErrNotParticipant = errors.New("member is not a participant of the conversation")
	// ErrReplyTargetInvalid indicates the replied-to message is missing or foreign.
	ErrReplyTargetInvalid = errors.New("reply target does not belong to the conversation")
)

// ThreadConnectionOptions wraps metadata extracted during the HTTP upgrade.
type ThreadConnectionOptions struct {
	MemberID       string
	ConversationID uint
	CorrelationID  string
	Context        context.Context
}

// MessageService owns the message thread: ordered history with resolved
// senders and reply references, transactional sends, edits, tombstone
// deletes and the live websocket connection per conversation.
type MessageService interface {
	History(ctx context.Context, memberID string, query dto.MessageHistoryQuery) ([]dto.MessageResponse, error)
	Send(ctx context.Context, senderID string, payload dto.MessageSendRequest, files []*multipart.FileHeader) (dto.MessageResponse, error)
	Edit(ctx context.Context, id uint, senderID string, payload dto.MessageEditRequest) (dto.MessageResponse, error)
	Delete(ctx context.Context, id uint, senderID string) (dto.MessageResponse, error)
	ServeConnection(conn *websocket.Conn, opts ThreadConnectionOptions)
}

type messageService struct {
	messages      repository.MessageRepository
	conversations repository.ConversationRepository
	members       repository.MemberRepository
	uploads       UploadService
	streams       StreamService
	redis         *redis.Client
	cachePrefix   string
	validator     *validator.Validate
	logger        zerolog.Logger
	tracer        trace.Tracer
	sanitizer     *bluemonday.Policy
}

// NewMessageService creates the messaging service.
func NewMessageService(
	messages repository.MessageRepository,
	conversations repository.ConversationRepository,
	members repository.MemberRepository,
	uploads UploadService,
	streams StreamService,
	redisClient *redis.Client,
	channelBase string,
	validate *validator.Validate,
	logger zerolog.Logger,
) MessageService {
	sanitizer := bluemonday.UGCPolicy()
	sanitizer.AllowElements("br")

	cachePrefix := ""
	if channelBase != "" {
		cachePrefix = channelBase + ":thread:last"
	}

	return &messageService{
		messages:      messages,
		conversations: conversations,
		members:       members,
		uploads:       uploads,
		streams:       streams,
		redis:         redisClient,
		cachePrefix:   cachePrefix,
		validator:     validate,
		logger:        logger.With().Str("component", "message_service").Logger(),
		tracer:        otel.Tracer("github.com/smb-connect/connect-api/internal/service/message"),
		sanitizer:     sanitizer,
	}
}

func (s *messageService) History(ctx context.Context, memberID string, query dto.MessageHistoryQuery) ([]dto.MessageResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, err
	}

	if _, err := s.conversations.GetParticipant(ctx, query.ConversationID, memberID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotParticipant
		}
		return nil, err
	}

	before := time.Time{}
	if query.Before != nil {
		before = *query.Before
	}

	messages, err := s.messages.ListByConversation(ctx, query.ConversationID, before, query.Limit)
	if err != nil {
		return nil, err
	}

	responses := dto.NewMessageResponseSlice(messages)
	if err := s.enrich(ctx, messages, responses); err != nil {
		s.logger.Warn().Err(err).Msg("failed to enrich message history")
	}

	return responses, nil
}

// enrich resolves sender identities and reply references with one batched
// lookup each instead of a query per message.
func (s *messageService) enrich(ctx context.Context, messages []models.Message, responses []dto.MessageResponse) error {
	senderIDs := make([]string, 0, len(messages))
	seenSenders := make(map[string]struct{}, len(messages))
	replyIDs := make([]uint, 0)
	seenReplies := make(map[uint]struct{})

	for _, message := range messages {
		if _, ok := seenSenders[message.SenderID]; !ok {
			seenSenders[message.SenderID] = struct{}{}
			senderIDs = append(senderIDs, message.SenderID)
		}
		if message.ReplyToMessageID != nil {
			if _, ok := seenReplies[*message.ReplyToMessageID]; !ok {
				seenReplies[*message.ReplyToMessageID] = struct{}{}
				replyIDs = append(replyIDs, *message.ReplyToMessageID)
			}
		}
	}

	members, err := s.members.ListByIDs(ctx, senderIDs)
	if err != nil {
		return err
	}
	memberByID := make(map[string]models.Member, len(members))
	for _, member := range members {
		memberByID[member.ID] = member
	}

	targets, err := s.messages.ListByIDs(ctx, replyIDs)
	if err != nil {
		return err
	}
	targetByID := make(map[uint]models.Message, len(targets))
	for _, target := range targets {
		targetByID[target.ID] = target
	}

	for i, message := range messages {
		if member, ok := memberByID[message.SenderID]; ok {
			responses[i].SenderName = member.Name
			responses[i].SenderAvatar = member.AvatarURL
		}
		if message.ReplyToMessageID != nil {
			if target, ok := targetByID[*message.ReplyToMessageID]; ok {
				reference := &dto.MessageReference{
					ID:       target.ID,
					SenderID: target.SenderID,
					Content:  target.Content,
				}
				if member, ok := memberByID[target.SenderID]; ok {
					reference.SenderName = member.Name
				}
				responses[i].ReplyTo = reference
			}
		}
	}

	return nil
}

// Send validates the compose, uploads the attachments and persists the
// message plus the conversation bump as one transaction. Attachments that
// uploaded before a later one fails stay in object storage; only the message
// row is withheld.
func (s *messageService) Send(ctx context.Context, senderID string, payload dto.MessageSendRequest, files []*multipart.FileHeader) (dto.MessageResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.MessageResponse{}, err
	}

	if len(files) > maxMessageAttachments {
		return dto.MessageResponse{}, ErrTooManyAttachments
	}

	content := strings.TrimSpace(s.sanitizer.Sanitize(payload.Content))
	if content == "" && len(files) == 0 {
		return dto.MessageResponse{}, ErrEmptyMessage
	}

	if _, err := s.conversations.GetParticipant(ctx, payload.ConversationID, senderID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.MessageResponse{}, ErrNotParticipant
		}
		return dto.MessageResponse{}, err
	}

	if payload.ReplyToMessageID != nil {
		target, err := s.messages.Get(ctx, *payload.ReplyToMessageID)
		if err != nil || target.ConversationID != payload.ConversationID {
			return dto.MessageResponse{}, ErrReplyTargetInvalid
		}
	}

	attrs := []attribute.KeyValue{
		attribute.Int("message.conversation_id", int(payload.ConversationID)),
		attribute.String("message.sender_id", senderID),
		attribute.Int("message.attachment_count", len(files)),
	}
	spanCtx, span := s.tracer.Start(ctx, "message.send", trace.WithAttributes(attrs...))
	defer span.End()

	attachments := make([]models.Attachment, 0, len(files))
	for _, file := range files {
		stored, class, err := s.uploads.Upload(spanCtx, file, senderID)
		if err != nil {
			span.RecordError(err)
			return dto.MessageResponse{}, fmt.Errorf("attachment %q: %w", file.Filename, err)
		}
		attachments = append(attachments, models.Attachment{
			Type:      class,
			URL:       stored.URL,
			Name:      file.Filename,
			SizeBytes: stored.SizeBytes,
			MimeType:  stored.MimeType,
		})
	}

	model := models.Message{
		ConversationID:   payload.ConversationID,
		SenderID:         senderID,
		Type:             deriveMessageType(attachments),
		ReplyToMessageID: payload.ReplyToMessageID,
	}
	if content != "" {
		model.Content = &content
	}
	if len(attachments) > 0 {
		encoded, err := json.Marshal(attachments)
		if err != nil {
			return dto.MessageResponse{}, err
		}
		model.Attachments = datatypes.JSON(encoded)
	}

	if err := s.messages.CreateWithTouch(spanCtx, &model); err != nil {
		span.RecordError(err)
		return dto.MessageResponse{}, err
	}

	// The sender has evidently read their own message.
	if err := s.conversations.MarkRead(spanCtx, payload.ConversationID, senderID, model.CreatedAt); err != nil {
		s.logger.Warn().Err(err).Msg("failed to advance sender read position")
	}

	response := dto.NewMessageResponse(model)
	if member, err := s.members.Get(spanCtx, senderID); err == nil {
		response.SenderName = member.Name
		response.SenderAvatar = member.AvatarURL
	}

	s.cacheLastMessage(spanCtx, response)
	s.publish(spanCtx, dto.StreamActionInsert, response)

	observability.MessagesSent().WithLabelValues(model.Type).Inc()

	return response, nil
}

func (s *messageService) Edit(ctx context.Context, id uint, senderID string, payload dto.MessageEditRequest) (dto.MessageResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.MessageResponse{}, err
	}

	content := strings.TrimSpace(s.sanitizer.Sanitize(payload.Content))
	if content == "" {
		return dto.MessageResponse{}, errors.New("message content empty after sanitization")
	}

	message, err := s.messages.Edit(ctx, id, senderID, content)
	if err != nil {
		return dto.MessageResponse{}, err
	}

	response := dto.NewMessageResponse(message)
	s.publish(ctx, dto.StreamActionUpdate, response)

	return response, nil
}

func (s *messageService) Delete(ctx context.Context, id uint, senderID string) (dto.MessageResponse, error) {
	message, err := s.messages.SoftDelete(ctx, id, senderID)
	if err != nil {
		return dto.MessageResponse{}, err
	}

	response := dto.NewMessageResponse(message)
	// Tombstones are updates, not deletes: the row survives with placeholder content.
	s.publish(ctx, dto.StreamActionUpdate, response)

	return response, nil
}

func (s *messageService) publish(ctx context.Context, action string, message dto.MessageResponse) {
	s.streams.Publish(ctx, dto.StreamEvent{
		Topic:   dto.StreamTopicMessages,
		Action:  action,
		Filter:  strconv.FormatUint(uint64(message.ConversationID), 10),
		Message: &message,
	})
}

// ServeConnection keeps one websocket open for a conversation. The stream
// subscription is the connection's scoped resource; it is released exactly
// once when either loop exits.
func (s *messageService) ServeConnection(conn *websocket.Conn, opts ThreadConnectionOptions) {
	baseCtx := opts.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	filter := strconv.FormatUint(uint64(opts.ConversationID), 10)
	events, cleanup := s.streams.Subscribe(dto.StreamTopicMessages, filter)
	defer cleanup()

	observability.ThreadConnectionsTotal().Inc()

	if last := s.fetchLastMessage(baseCtx, opts.ConversationID); last != nil {
		_ = conn.WriteJSON(dto.StreamEvent{
			Topic:   dto.StreamTopicMessages,
			Action:  dto.StreamActionInsert,
			Filter:  filter,
			Message: last,
			SentAt:  time.Now().UTC(),
		})
	}

	done := make(chan struct{})
	go s.writer(conn, opts, events, done)
	s.reader(baseCtx, conn, opts)
	close(done)
}

func (s *messageService) reader(ctx context.Context, conn *websocket.Conn, opts ThreadConnectionOptions) {
	for {
		var payload dto.MessageSendRequest
		if err := conn.ReadJSON(&payload); err != nil {
			s.logger.Debug().Err(err).Msg("thread read loop ended")
			return
		}

		payload.ConversationID = opts.ConversationID
		if _, err := s.Send(ctx, opts.MemberID, payload, nil); err != nil {
			s.logger.Warn().Err(err).Msg("failed to process thread message")
		}
	}
}

func (s *messageService) writer(conn *websocket.Conn, opts ThreadConnectionOptions, events <-chan dto.StreamEvent, done <-chan struct{}) {
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				s.logger.Debug().Err(err).Msg("thread write loop terminated")
				return
			}
			// An inbound message delivered while the thread is open counts
			// as read for the viewer.
			if event.Action == dto.StreamActionInsert && event.Message != nil && event.Message.SenderID != opts.MemberID {
				if err := s.conversations.MarkRead(context.Background(), opts.ConversationID, opts.MemberID, event.Message.CreatedAt); err != nil {
					s.logger.Warn().Err(err).Msg("failed to mark thread read on delivery")
				}
			}
		case <-time.After(30 * time.Second):
			if err := conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				s.logger.Debug().Err(err).Msg("thread ping failed")
				return
			}
		case <-done:
			return
		}
	}
}

func (s *messageService) cacheLastMessage(ctx context.Context, message dto.MessageResponse) {
	if s.redis == nil || s.cachePrefix == "" {
		return
	}

	payload, err := json.Marshal(message)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to marshal message for cache")
		return
	}

	key := fmt.Sprintf("%s:%d", s.cachePrefix, message.ConversationID)
	if err := s.redis.Set(ctx, key, payload, threadCacheTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to cache last message")
	}
}

func (s *messageService) fetchLastMessage(ctx context.Context, conversationID uint) *dto.MessageResponse {
	if s.redis == nil || s.cachePrefix == "" {
		return nil
	}

	key := fmt.Sprintf("%s:%d", s.cachePrefix, conversationID)
	result, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		return nil
	}

	var message dto.MessageResponse
	if err := json.Unmarshal([]byte(result), &message); err != nil {
		s.logger.Warn().Err(err).Msg("failed to unmarshal cached message")
		return nil
	}

	return &message
}

// deriveMessageType maps the attachment set onto the message type tag:
// text when empty, image or document when homogeneous, mixed otherwise.
func deriveMessageType(attachments []models.Attachment) string {
	if len(attachments) == 0 {
		return models.MessageTypeText
	}

	images := 0
	documents := 0
	for _, attachment := range attachments {
		if attachment.Type == AttachmentClassImage {
			images++
		} else {
			documents++
		}
	}

	switch {
	case documents == 0:
		return models.MessageTypeImage
	case images == 0:
		return models.MessageTypeDocument
	default:
		return models.MessageTypeMixed
	}
}
