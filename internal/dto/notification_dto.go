package dto

import (
	"time"

	"github.com/smb-connect/connect-api/internal/models"
)

// NotificationCreateRequest describes the payload to create a notification.
type NotificationCreateRequest struct {
	MemberID string `json:"member_id" validate:"required,max=64"`
	Type     string `json:"type" validate:"required,max=64"`
	Message  string `json:"message" validate:"required,min=1,max=2000"`
}

// NotificationResponse represents notification data returned to clients.
type NotificationResponse struct {
	ID        uint      `json:"id"`
	MemberID  string    `json:"member_id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewNotificationResponse converts a notification model to DTO.
func NewNotificationResponse(model models.Notification) NotificationResponse {
	return NotificationResponse{
		ID:        model.ID,
		MemberID:  model.MemberID,
		Type:      model.Type,
		Message:   model.Message,
		Read:      model.Read,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
}

// NewNotificationResponseSlice converts a slice to DTOs.
func NewNotificationResponseSlice(items []models.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewNotificationResponse(item))
	}
	return out
}

// ConnectionRequestCreate asks another member for a connection.
type ConnectionRequestCreate struct {
	ToMemberID string `json:"to_member_id" validate:"required,max=64"`
}

// ConnectionRequestResponse is a serialized connection request.
type ConnectionRequestResponse struct {
	ID           uint      `json:"id"`
	FromMemberID string    `json:"from_member_id"`
	ToMemberID   string    `json:"to_member_id"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewConnectionRequestResponse converts a model to DTO.
func NewConnectionRequestResponse(model models.ConnectionRequest) ConnectionRequestResponse {
	return ConnectionRequestResponse{
		ID:           model.ID,
		FromMemberID: model.FromMemberID,
		ToMemberID:   model.ToMemberID,
		Status:       model.Status,
		CreatedAt:    model.CreatedAt,
		UpdatedAt:    model.UpdatedAt,
	}
}

// UploadResponse describes a stored media object.
type UploadResponse struct {
	URL       string `json:"url"`
	FileName  string `json:"file_name"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}
