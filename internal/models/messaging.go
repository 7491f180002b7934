package models

import (
	"time"

	"gorm.io/datatypes"
)

// Conversation types.
const (
	ConversationTypeDirect = "direct"
	ConversationTypeGroup  = "group"
)

// Message types derived from the attachment set at send time.
const (
	MessageTypeText     = "text"
	MessageTypeImage    = "image"
	MessageTypeDocument = "document"
	MessageTypeMixed    = "mixed"
)

// DeletedMessagePlaceholder replaces the content of soft-deleted messages.
const DeletedMessagePlaceholder = "This message has been deleted"

// Conversation represents a direct or group chat between members.
// Name is nil for direct conversations; clients derive a title from the
// other participant.
type Conversation struct {
	ID            uint          `gorm:"primaryKey" json:"id"`
	Name          *string       `gorm:"size:255" json:"name,omitempty"`
	Type          string        `gorm:"size:16;not null;default:direct" json:"type"`
	LastMessageAt time.Time     `gorm:"index" json:"last_message_at"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	Participants  []Participant `json:"participants,omitempty"`
}

// Participant is the membership of one member in one conversation and
// carries the member's read position.
type Participant struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	ConversationID uint       `gorm:"not null;uniqueIndex:idx_participant_conversation_member" json:"conversation_id"`
	MemberID       string     `gorm:"size:64;not null;index;uniqueIndex:idx_participant_conversation_member" json:"member_id"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty"`
	IsMuted        bool       `gorm:"not null;default:false" json:"is_muted"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Message belongs to exactly one conversation. Content is nullable: a
// message must carry text, at least one attachment, or both. Soft deletes
// keep the row and attachments as an audit tombstone.
type Message struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	ConversationID   uint           `gorm:"not null;index" json:"conversation_id"`
	SenderID         string         `gorm:"size:64;not null;index" json:"sender_id"`
	Content          *string        `gorm:"type:text" json:"content,omitempty"`
	Type             string         `gorm:"size:16;not null;default:text" json:"type"`
	Attachments      datatypes.JSON `gorm:"type:json" json:"attachments,omitempty"`
	ReplyToMessageID *uint          `gorm:"index" json:"reply_to_message_id,omitempty"`
	Edited           bool           `gorm:"not null;default:false" json:"edited"`
	Deleted          bool           `gorm:"not null;default:false" json:"deleted"`
	DeletedAt        *time.Time     `json:"deleted_at,omitempty"`
	CreatedAt        time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Attachment is a descriptor embedded in a message's attachment list.
// Descriptors are validated before upload and immutable once attached.
type Attachment struct {
	Type      string `json:"type"`
	URL       string `json:"url"`
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	MimeType  string `json:"mime_type"`
}
