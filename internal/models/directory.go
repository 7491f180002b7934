package models

import "time"

// Organization kinds.
const (
	OrganizationTypeCompany     = "company"
	OrganizationTypeAssociation = "association"
)

// Connection request states.
const (
	ConnectionStatusPending  = "pending"
	ConnectionStatusAccepted = "accepted"
	ConnectionStatusDeclined = "declined"
)

// Member is the directory entry used to enrich feed items and message
// threads with author identity. The id mirrors the auth subject.
type Member struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	AvatarURL *string   `gorm:"size:512" json:"avatar_url,omitempty"`
	Headline  *string   `gorm:"size:255" json:"headline,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Organization is a company or association members can post on behalf of.
type Organization struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Type      string    `gorm:"size:16;not null;index" json:"type"`
	LogoURL   *string   `gorm:"size:512" json:"logo_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConnectionRequest links two members pending mutual approval.
type ConnectionRequest struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	FromMemberID string    `gorm:"size:64;not null;uniqueIndex:idx_connection_pair" json:"from_member_id"`
	ToMemberID   string    `gorm:"size:64;not null;index;uniqueIndex:idx_connection_pair" json:"to_member_id"`
	Status       string    `gorm:"size:16;not null;default:pending" json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
