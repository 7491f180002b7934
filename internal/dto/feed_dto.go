package dto

import (
	"time"

	"github.com/smb-connect/connect-api/internal/models"
)

// FeedQuery scopes which posts belong to the requested feed.
type FeedQuery struct {
	Context        string `query:"context" validate:"omitempty,oneof=member company association"`
	OrganizationID *uint  `query:"organization_id"`
	Limit          int    `query:"limit" validate:"omitempty,min=1,max=100"`
}

// PostCreateRequest is the text part of a post compose; the optional single
// media file arrives as a multipart part alongside it.
type PostCreateRequest struct {
	Content        string `json:"content" validate:"omitempty,max=8000"`
	PostContext    string `json:"post_context" validate:"omitempty,oneof=member company association"`
	OrganizationID *uint  `json:"organization_id"`
}

// CommentCreateRequest adds a comment to a post.
type CommentCreateRequest struct {
	PostID  uint   `json:"post_id" validate:"required"`
	Content string `json:"content" validate:"required,min=1,max=4000"`
}

// MemberSummary is the author identity resolved for feed items.
type MemberSummary struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	AvatarURL *string `json:"avatar_url,omitempty"`
	Headline  *string `json:"headline,omitempty"`
}

// OrganizationSummary is the organization identity resolved for feed items.
type OrganizationSummary struct {
	ID      uint    `json:"id"`
	Name    string  `json:"name"`
	Type    string  `json:"type"`
	LogoURL *string `json:"logo_url,omitempty"`
}

// PostCounters carries the denormalized aggregates of a post. Realtime
// counter patches ship these values so clients update in place instead of
// refetching the whole feed.
type PostCounters struct {
	LikesCount    int `json:"likes_count"`
	CommentsCount int `json:"comments_count"`
	SharesCount   int `json:"shares_count"`
	RepostsCount  int `json:"reposts_count"`
}

// PostResponse is a feed item with its enrichment resolved.
type PostResponse struct {
	ID             uint                 `json:"id"`
	Author         MemberSummary        `json:"author"`
	Organization   *OrganizationSummary `json:"organization,omitempty"`
	Content        *string              `json:"content,omitempty"`
	PostContext    string               `json:"post_context,omitempty"`
	ImageURL       *string              `json:"image_url,omitempty"`
	VideoURL       *string              `json:"video_url,omitempty"`
	DocumentURL    *string              `json:"document_url,omitempty"`
	Counters       PostCounters         `json:"counters"`
	LikedByViewer  bool                 `json:"liked_by_viewer"`
	OriginalPostID *uint                `json:"original_post_id,omitempty"`
	OriginalAuthor *MemberSummary       `json:"original_author,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// NewPostResponse converts a post model into a DTO without enrichment;
// callers fill author, organization and like status from batched lookups.
func NewPostResponse(post models.Post) PostResponse {
	return PostResponse{
		ID:          post.ID,
		Author:      MemberSummary{ID: post.AuthorID},
		Content:     post.Content,
		PostContext: post.PostContext,
		ImageURL:    post.ImageURL,
		VideoURL:    post.VideoURL,
		DocumentURL: post.DocumentURL,
		Counters: PostCounters{
			LikesCount:    post.LikesCount,
			CommentsCount: post.CommentsCount,
			SharesCount:   post.SharesCount,
			RepostsCount:  post.RepostsCount,
		},
		OriginalPostID: post.OriginalPostID,
		CreatedAt:      post.CreatedAt,
		UpdatedAt:      post.UpdatedAt,
	}
}

// CommentResponse is a serialized post comment.
type CommentResponse struct {
	ID        uint      `json:"id"`
	PostID    uint      `json:"post_id"`
	AuthorID  string    `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewCommentResponse converts a comment model to a DTO.
func NewCommentResponse(model models.PostComment) CommentResponse {
	return CommentResponse{
		ID:        model.ID,
		PostID:    model.PostID,
		AuthorID:  model.AuthorID,
		Content:   model.Content,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
}

// NewCommentResponseSlice converts comments to DTOs.
func NewCommentResponseSlice(items []models.PostComment) []CommentResponse {
	out := make([]CommentResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewCommentResponse(item))
	}
	return out
}
