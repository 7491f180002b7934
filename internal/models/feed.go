package models

import "time"

// Post contexts scope which feed a post belongs to.
const (
	PostContextMember      = "member"
	PostContextCompany     = "company"
	PostContextAssociation = "association"
)

// Mention target kinds.
const (
	MentionTargetMember      = "member"
	MentionTargetAssociation = "association"
)

// Post is a feed entry authored by a member, optionally on behalf of an
// organization. Counters are denormalized aggregates maintained in the same
// transaction as the child-row writes; they never go negative.
type Post struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	AuthorID         string     `gorm:"size:64;not null;index" json:"author_id"`
	Content          *string    `gorm:"type:text" json:"content,omitempty"`
	PostContext      string     `gorm:"size:16;index" json:"post_context,omitempty"`
	OrganizationID   *uint      `gorm:"index" json:"organization_id,omitempty"`
	ImageURL         *string    `gorm:"size:512" json:"image_url,omitempty"`
	VideoURL         *string    `gorm:"size:512" json:"video_url,omitempty"`
	DocumentURL      *string    `gorm:"size:512" json:"document_url,omitempty"`
	LikesCount       int        `gorm:"not null;default:0" json:"likes_count"`
	CommentsCount    int        `gorm:"not null;default:0" json:"comments_count"`
	SharesCount      int        `gorm:"not null;default:0" json:"shares_count"`
	RepostsCount     int        `gorm:"not null;default:0" json:"reposts_count"`
	OriginalPostID   *uint      `gorm:"index" json:"original_post_id,omitempty"`
	OriginalAuthorID *string    `gorm:"size:64" json:"original_author_id,omitempty"`
	Deleted          bool       `gorm:"not null;default:false" json:"deleted"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
	CreatedAt        time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// PostLike is a join row; existence implies "liked". Uniqueness per
// (post, member) is enforced by the index.
type PostLike struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PostID    uint      `gorm:"not null;uniqueIndex:idx_like_post_member" json:"post_id"`
	MemberID  string    `gorm:"size:64;not null;index;uniqueIndex:idx_like_post_member" json:"member_id"`
	CreatedAt time.Time `json:"created_at"`
}

// PostComment is a comment under a post.
type PostComment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PostID    uint      `gorm:"not null;index" json:"post_id"`
	AuthorID  string    `gorm:"size:64;not null;index" json:"author_id"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Mention is extracted from @name tokens at post-creation time and resolves
// to either a member or an association.
type Mention struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	PostID     uint      `gorm:"not null;index" json:"post_id"`
	TargetType string    `gorm:"size:16;not null" json:"target_type"`
	TargetID   string    `gorm:"size:64;not null;index" json:"target_id"`
	CreatedAt  time.Time `json:"created_at"`
}
