package dto

import (
	"encoding/json"
	"time"

	"github.com/smb-connect/connect-api/internal/models"
)

// ConversationCreateRequest opens a direct or group conversation. Direct
// conversations carry no name; the client derives one from the peer.
type ConversationCreateRequest struct {
	Type      string   `json:"type" validate:"required,oneof=direct group"`
	Name      *string  `json:"name" validate:"omitempty,min=1,max=255"`
	MemberIDs []string `json:"member_ids" validate:"required,min=1,dive,required,max=64"`
}

// ConversationResponse is a conversation as listed in the caller's inbox.
type ConversationResponse struct {
	ID            uint                  `json:"id"`
	Name          *string               `json:"name,omitempty"`
	Type          string                `json:"type"`
	LastMessageAt time.Time             `json:"last_message_at"`
	UnreadCount   int64                 `json:"unread_count"`
	Participants  []ParticipantResponse `json:"participants,omitempty"`
	LastMessage   *MessageResponse      `json:"last_message,omitempty"`
}

// ParticipantResponse describes one member of a conversation.
type ParticipantResponse struct {
	MemberID   string     `json:"member_id"`
	Name       string     `json:"name,omitempty"`
	AvatarURL  *string    `json:"avatar_url,omitempty"`
	LastReadAt *time.Time `json:"last_read_at,omitempty"`
	IsMuted    bool       `json:"is_muted"`
}

// MessageSendRequest is the text part of a compose; attachments arrive as
// multipart files alongside it.
type MessageSendRequest struct {
	ConversationID   uint   `json:"conversation_id" validate:"required"`
	Content          string `json:"content" validate:"omitempty,max=8000"`
	ReplyToMessageID *uint  `json:"reply_to_message_id"`
}

// MessageEditRequest replaces the content of the sender's own message.
type MessageEditRequest struct {
	Content string `json:"content" validate:"required,min=1,max=8000"`
}

// MessageHistoryQuery filters a thread load.
type MessageHistoryQuery struct {
	ConversationID uint       `query:"conversation_id" validate:"required"`
	Before         *time.Time `query:"before"`
	Limit          int        `query:"limit" validate:"omitempty,min=1,max=200"`
}

// MessageReference is the resolved quote of a replied-to message.
type MessageReference struct {
	ID         uint    `json:"id"`
	SenderID   string  `json:"sender_id"`
	SenderName string  `json:"sender_name,omitempty"`
	Content    *string `json:"content,omitempty"`
}

// MessageResponse is the serialized representation of a message.
type MessageResponse struct {
	ID             uint                `json:"id"`
	ConversationID uint                `json:"conversation_id"`
	SenderID       string              `json:"sender_id"`
	SenderName     string              `json:"sender_name,omitempty"`
	SenderAvatar   *string             `json:"sender_avatar,omitempty"`
	Content        *string             `json:"content,omitempty"`
	Type           string              `json:"type"`
	Attachments    []models.Attachment `json:"attachments,omitempty"`
	ReplyTo        *MessageReference   `json:"reply_to,omitempty"`
	Edited         bool                `json:"edited"`
	Deleted        bool                `json:"deleted"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// NewMessageResponse converts a model into a DTO, decoding the embedded
// attachment descriptors.
func NewMessageResponse(message models.Message) MessageResponse {
	response := MessageResponse{
		ID:             message.ID,
		ConversationID: message.ConversationID,
		SenderID:       message.SenderID,
		Content:        message.Content,
		Type:           message.Type,
		Edited:         message.Edited,
		Deleted:        message.Deleted,
		CreatedAt:      message.CreatedAt,
		UpdatedAt:      message.UpdatedAt,
	}

	if len(message.Attachments) > 0 {
		var attachments []models.Attachment
		if err := json.Unmarshal(message.Attachments, &attachments); err == nil {
			response.Attachments = attachments
		}
	}

	return response
}

// NewMessageResponseSlice converts a slice of models into DTOs.
func NewMessageResponseSlice(messages []models.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, NewMessageResponse(message))
	}
	return out
}

// UnreadBadgeResponse sums unread messages across the caller's conversations.
type UnreadBadgeResponse struct {
	Total          int64          `json:"total"`
	ByConversation map[uint]int64 `json:"by_conversation,omitempty"`
	ComputedAt     time.Time      `json:"computed_at"`
}
