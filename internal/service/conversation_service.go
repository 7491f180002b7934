package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/smb-connect/connect-api/internal/dto"
	"github.com/smb-connect/connect-api/internal/models"
	"github.com/smb-connect/connect-api/internal/repository"
)

var (
	// ErrDirectNeedsOnePeer indicates a direct conversation with the wrong
	// number of peers.
	ErrDirectNeedsOnePeer = errors.New("a direct conversation takes exactly one other member")
	// ErrDirectConversationNamed indicates a name was supplied for a direct
	// conversation; names belong to groups only.
	ErrDirectConversationNamed = errors.New("direct conversations cannot be named")
	// ErrGroupNeedsName indicates a group conversation without a name.
	ErrGroupNeedsName = errors.New("a group conversation requires a name")
)

// ConversationService manages the caller's inbox: opening conversations,
// listing them with unread counts, read positions and mute flags.
type ConversationService interface {
	Create(ctx context.Context, creatorID string, payload dto.ConversationCreateRequest) (dto.ConversationResponse, error)
	Get(ctx context.Context, id uint, memberID string) (dto.ConversationResponse, error)
	List(ctx context.Context, memberID string) ([]dto.ConversationResponse, error)
	MarkRead(ctx context.Context, conversationID uint, memberID string, at time.Time) error
	SetMuted(ctx context.Context, conversationID uint, memberID string, muted bool) error
	UnreadBadge(ctx context.Context, memberID string) (dto.UnreadBadgeResponse, error)
}

type conversationService struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	members       repository.MemberRepository
	validator     *validator.Validate
	logger        zerolog.Logger
	tracer        trace.Tracer
}

// NewConversationService creates the inbox service.
func NewConversationService(
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	members repository.MemberRepository,
	validate *validator.Validate,
	logger zerolog.Logger,
) ConversationService {
	return &conversationService{
		conversations: conversations,
		messages:      messages,
		members:       members,
		validator:     validate,
		logger:        logger.With().Str("component", "conversation_service").Logger(),
		tracer:        otel.Tracer("github.com/smb-connect/connect-api/internal/service/conversation"),
	}
}

func (s *conversationService) Create(ctx context.Context, creatorID string, payload dto.ConversationCreateRequest) (dto.ConversationResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.ConversationResponse{}, err
	}

	memberIDs := dedupeMembers(creatorID, payload.MemberIDs)

	switch payload.Type {
	case models.ConversationTypeDirect:
		if len(memberIDs) != 2 {
			return dto.ConversationResponse{}, ErrDirectNeedsOnePeer
		}
		if payload.Name != nil {
			return dto.ConversationResponse{}, ErrDirectConversationNamed
		}
	case models.ConversationTypeGroup:
		if payload.Name == nil || strings.TrimSpace(*payload.Name) == "" {
			return dto.ConversationResponse{}, ErrGroupNeedsName
		}
	}

	spanCtx, span := s.tracer.Start(ctx, "conversations.create", trace.WithAttributes(
		attribute.String("conversation.type", payload.Type),
		attribute.Int("conversation.member_count", len(memberIDs)),
	))
	defer span.End()

	conversation := models.Conversation{
		Type:          payload.Type,
		Name:          payload.Name,
		LastMessageAt: time.Now().UTC(),
	}
	if err := s.conversations.CreateWithParticipants(spanCtx, &conversation, memberIDs); err != nil {
		span.RecordError(err)
		return dto.ConversationResponse{}, err
	}

	created, err := s.conversations.Get(spanCtx, conversation.ID)
	if err != nil {
		return dto.ConversationResponse{}, err
	}

	return s.toResponse(spanCtx, created, creatorID, false), nil
}

func (s *conversationService) Get(ctx context.Context, id uint, memberID string) (dto.ConversationResponse, error) {
	if _, err := s.conversations.GetParticipant(ctx, id, memberID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ConversationResponse{}, ErrNotParticipant
		}
		return dto.ConversationResponse{}, err
	}

	conversation, err := s.conversations.Get(ctx, id)
	if err != nil {
		return dto.ConversationResponse{}, err
	}

	return s.toResponse(ctx, conversation, memberID, true), nil
}

func (s *conversationService) List(ctx context.Context, memberID string) ([]dto.ConversationResponse, error) {
	if strings.TrimSpace(memberID) == "" {
		return nil, errors.New("member id is required")
	}

	conversations, err := s.conversations.ListByMember(ctx, memberID)
	if err != nil {
		return nil, err
	}

	responses := make([]dto.ConversationResponse, 0, len(conversations))
	for _, conversation := range conversations {
		responses = append(responses, s.toResponse(ctx, conversation, memberID, true))
	}

	return responses, nil
}

func (s *conversationService) MarkRead(ctx context.Context, conversationID uint, memberID string, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return s.conversations.MarkRead(ctx, conversationID, memberID, at)
}

func (s *conversationService) SetMuted(ctx context.Context, conversationID uint, memberID string, muted bool) error {
	if _, err := s.conversations.GetParticipant(ctx, conversationID, memberID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotParticipant
		}
		return err
	}
	return s.conversations.SetMuted(ctx, conversationID, memberID, muted)
}

// UnreadBadge recomputes the global unread counter from the read positions
// instead of keeping a stored count that can drift.
func (s *conversationService) UnreadBadge(ctx context.Context, memberID string) (dto.UnreadBadgeResponse, error) {
	conversations, err := s.conversations.ListByMember(ctx, memberID)
	if err != nil {
		return dto.UnreadBadgeResponse{}, err
	}

	badge := dto.UnreadBadgeResponse{
		ByConversation: make(map[uint]int64, len(conversations)),
		ComputedAt:     time.Now().UTC(),
	}

	for _, conversation := range conversations {
		count, err := s.conversations.UnreadCount(ctx, conversation.ID, memberID)
		if err != nil {
			s.logger.Warn().Err(err).Uint("conversation_id", conversation.ID).Msg("failed to compute unread count")
			continue
		}
		if count > 0 {
			badge.ByConversation[conversation.ID] = count
			badge.Total += count
		}
	}

	return badge, nil
}

func (s *conversationService) toResponse(ctx context.Context, conversation models.Conversation, viewerID string, withPreview bool) dto.ConversationResponse {
	response := dto.ConversationResponse{
		ID:            conversation.ID,
		Name:          conversation.Name,
		Type:          conversation.Type,
		LastMessageAt: conversation.LastMessageAt,
	}

	memberIDs := make([]string, 0, len(conversation.Participants))
	for _, participant := range conversation.Participants {
		memberIDs = append(memberIDs, participant.MemberID)
	}

	memberByID := make(map[string]models.Member, len(memberIDs))
	if members, err := s.members.ListByIDs(ctx, memberIDs); err == nil {
		for _, member := range members {
			memberByID[member.ID] = member
		}
	}

	for _, participant := range conversation.Participants {
		entry := dto.ParticipantResponse{
			MemberID:   participant.MemberID,
			LastReadAt: participant.LastReadAt,
			IsMuted:    participant.IsMuted,
		}
		if member, ok := memberByID[participant.MemberID]; ok {
			entry.Name = member.Name
			entry.AvatarURL = member.AvatarURL
		}
		response.Participants = append(response.Participants, entry)
	}

	if !withPreview {
		return response
	}

	if count, err := s.conversations.UnreadCount(ctx, conversation.ID, viewerID); err == nil {
		response.UnreadCount = count
	}

	if messages, err := s.messages.ListByConversation(ctx, conversation.ID, time.Time{}, 1); err == nil && len(messages) > 0 {
		preview := dto.NewMessageResponse(messages[len(messages)-1])
		if member, ok := memberByID[preview.SenderID]; ok {
			preview.SenderName = member.Name
			preview.SenderAvatar = member.AvatarURL
		}
		response.LastMessage = &preview
	}

	return response
}

// dedupeMembers folds the creator into the participant set and drops
// duplicates, keeping a stable order.
func dedupeMembers(creatorID string, memberIDs []string) []string {
	seen := map[string]struct{}{creatorID: {}}
	result := []string{creatorID}
	for _, id := range memberIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	sort.Strings(result[1:])
	return result
}
