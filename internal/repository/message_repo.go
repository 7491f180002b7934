package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/smb-connect/connect-api/internal/models"
)

// ErrNotMessageSender indicates a mutation attempted on another member's message.
var ErrNotMessageSender = errors.New("message does not belong to sender")

// MessageRepository persists conversation messages.
type MessageRepository interface {
	CreateWithTouch(ctx context.Context, message *models.Message) error
	Get(ctx context.Context, id uint) (models.Message, error)
	ListByConversation(ctx context.Context, conversationID uint, before time.Time, limit int) ([]models.Message, error)
	ListByIDs(ctx context.Context, ids []uint) ([]models.Message, error)
	Edit(ctx context.Context, id uint, senderID, content string) (models.Message, error)
	SoftDelete(ctx context.Context, id uint, senderID string) (models.Message, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository constructs a message repository backed by GORM.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

// CreateWithTouch inserts the message and bumps the conversation's
// last_message_at in one transaction, so the thread's sort position can never
// drift from its newest message.
func (r *messageRepository) CreateWithTouch(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return err
		}

		return tx.Model(&models.Conversation{}).
			Where("id = ?", message.ConversationID).
			Update("last_message_at", message.CreatedAt).Error
	})
}

func (r *messageRepository) Get(ctx context.Context, id uint) (models.Message, error) {
	var message models.Message
	if err := r.db.WithContext(ctx).First(&message, id).Error; err != nil {
		return models.Message{}, err
	}
	return message, nil
}

func (r *messageRepository) ListByConversation(ctx context.Context, conversationID uint, before time.Time, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID)
	if !before.IsZero() {
		query = query.Where("created_at < ?", before)
	}

	var messages []models.Message
	if err := query.Order("created_at DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, err
	}

	// Reverse to chronological order ascending for clients.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (r *messageRepository) ListByIDs(ctx context.Context, ids []uint) ([]models.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var messages []models.Message
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *messageRepository) Edit(ctx context.Context, id uint, senderID, content string) (models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&message, id).Error; err != nil {
			return err
		}
		if message.SenderID != senderID {
			return ErrNotMessageSender
		}

		message.Content = &content
		message.Edited = true
		return tx.Save(&message).Error
	})
	if err != nil {
		return models.Message{}, err
	}
	return message, nil
}

// SoftDelete tombstones a message: content becomes the placeholder string and
// the deleted flag and timestamp are set exactly once. Deleting an already
// deleted message returns the existing tombstone unchanged.
func (r *messageRepository) SoftDelete(ctx context.Context, id uint, senderID string) (models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&message, id).Error; err != nil {
			return err
		}
		if message.SenderID != senderID {
			return ErrNotMessageSender
		}
		if message.Deleted {
			return nil
		}

		now := time.Now().UTC()
		placeholder := models.DeletedMessagePlaceholder
		message.Content = &placeholder
		message.Deleted = true
		message.DeletedAt = &now
		return tx.Save(&message).Error
	})
	if err != nil {
		return models.Message{}, err
	}
	return message, nil
}
