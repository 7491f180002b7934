package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/smb-connect/connect-api/internal/models"
)

// ConversationRepository persists conversations and their participants.
type ConversationRepository interface {
	CreateWithParticipants(ctx context.Context, conversation *models.Conversation, memberIDs []string) error
	Get(ctx context.Context, id uint) (models.Conversation, error)
	ListByMember(ctx context.Context, memberID string) ([]models.Conversation, error)
	GetParticipant(ctx context.Context, conversationID uint, memberID string) (models.Participant, error)
	MarkRead(ctx context.Context, conversationID uint, memberID string, at time.Time) error
	SetMuted(ctx context.Context, conversationID uint, memberID string, muted bool) error
	UnreadCount(ctx context.Context, conversationID uint, memberID string) (int64, error)
}

type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository constructs a conversation repository backed by GORM.
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) CreateWithParticipants(ctx context.Context, conversation *models.Conversation, memberIDs []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conversation).Error; err != nil {
			return err
		}

		participants := make([]models.Participant, 0, len(memberIDs))
		for _, memberID := range memberIDs {
			participants = append(participants, models.Participant{
				ConversationID: conversation.ID,
				MemberID:       memberID,
			})
		}

		return tx.Create(&participants).Error
	})
}

func (r *conversationRepository) Get(ctx context.Context, id uint) (models.Conversation, error) {
	var conversation models.Conversation
	if err := r.db.WithContext(ctx).Preload("Participants").First(&conversation, id).Error; err != nil {
		return models.Conversation{}, err
	}
	return conversation, nil
}

func (r *conversationRepository) ListByMember(ctx context.Context, memberID string) ([]models.Conversation, error) {
	var conversations []models.Conversation
	err := r.db.WithContext(ctx).
		Joins("JOIN participants ON participants.conversation_id = conversations.id").
		Where("participants.member_id = ?", memberID).
		Preload("Participants").
		Order("conversations.last_message_at DESC").
		Find(&conversations).Error
	if err != nil {
		return nil, err
	}
	return conversations, nil
}

func (r *conversationRepository) GetParticipant(ctx context.Context, conversationID uint, memberID string) (models.Participant, error) {
	var participant models.Participant
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND member_id = ?", conversationID, memberID).
		First(&participant).Error
	if err != nil {
		return models.Participant{}, err
	}
	return participant, nil
}

// MarkRead advances the participant's read position. The guarded update keeps
// last_read_at monotonic: repeated or out-of-order calls never move it back.
func (r *conversationRepository) MarkRead(ctx context.Context, conversationID uint, memberID string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Participant{}).
		Where("conversation_id = ? AND member_id = ?", conversationID, memberID).
		Where("last_read_at IS NULL OR last_read_at < ?", at).
		Update("last_read_at", at).Error
}

func (r *conversationRepository) SetMuted(ctx context.Context, conversationID uint, memberID string, muted bool) error {
	return r.db.WithContext(ctx).Model(&models.Participant{}).
		Where("conversation_id = ? AND member_id = ?", conversationID, memberID).
		Update("is_muted", muted).Error
}

// UnreadCount counts messages newer than the participant's read position that
// were sent by someone else. It is recomputed per request rather than
// maintained incrementally.
func (r *conversationRepository) UnreadCount(ctx context.Context, conversationID uint, memberID string) (int64, error) {
	participant, err := r.GetParticipant(ctx, conversationID, memberID)
	if err != nil {
		return 0, err
	}

	query := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ?", conversationID, memberID)
	if participant.LastReadAt != nil {
		query = query.Where("created_at > ?", *participant.LastReadAt)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
