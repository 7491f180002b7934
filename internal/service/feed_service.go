package service

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/smb-connect/connect-api/internal/dto"
	"github.com/smb-connect/connect-api/internal/models"
	"github.com/smb-connect/connect-api/internal/observability"
	"github.com/smb-connect/connect-api/internal/repository"
)

var (
	// ErrEmptyPost indicates a compose with neither text nor media.
	ErrEmptyPost = errors.New("post requires text or a media file")
	// ErrSelfRepost indicates a member tried to repost their own post.
	ErrSelfRepost = errors.New("cannot repost your own post")
	// ErrRepostOfRepost indicates the repost target is itself a repost.
	ErrRepostOfRepost = errors.New("cannot repost a repost; target the original post")
)

// mentionPattern matches @name tokens in post content. Names may carry the
// member-id alphabet plus dashes and colons.
var mentionPattern = regexp.MustCompile(`@([a-zA-Z0-9_\-:]+)`)

// FeedService owns the social feed: posting with media and mentions, liking,
// commenting, reposting and sharing, with every counter change broadcast as a
// patch event.
type FeedService interface {
	List(ctx context.Context, viewerID string, query dto.FeedQuery) ([]dto.PostResponse, error)
	GetPost(ctx context.Context, id uint, viewerID string) (dto.PostResponse, error)
	CreatePost(ctx context.Context, authorID string, payload dto.PostCreateRequest, media *multipart.FileHeader) (dto.PostResponse, error)
	DeletePost(ctx context.Context, id uint, authorID string) error

	Like(ctx context.Context, postID uint, memberID string) (dto.PostCounters, error)
	Unlike(ctx context.Context, postID uint, memberID string) (dto.PostCounters, error)

	Repost(ctx context.Context, postID uint, memberID string) (dto.PostResponse, error)
	Share(ctx context.Context, postID uint, memberID string) (dto.PostCounters, error)

	Comment(ctx context.Context, authorID string, payload dto.CommentCreateRequest) (dto.CommentResponse, error)
	DeleteComment(ctx context.Context, commentID uint, postID uint, authorID string) (dto.PostCounters, error)
	ListComments(ctx context.Context, postID uint, limit, offset int) ([]dto.CommentResponse, error)
}

type feedService struct {
	posts         repository.PostRepository
	members       repository.MemberRepository
	organizations repository.OrganizationRepository
	uploads       UploadService
	streams       StreamService
	notifications NotificationService
	validator     *validator.Validate
	logger        zerolog.Logger
	tracer        trace.Tracer
	sanitizer     *bluemonday.Policy
}

// NewFeedService creates the feed service.
func NewFeedService(
	posts repository.PostRepository,
	members repository.MemberRepository,
	organizations repository.OrganizationRepository,
	uploads UploadService,
	streams StreamService,
	notifications NotificationService,
	validate *validator.Validate,
	logger zerolog.Logger,
) FeedService {
	sanitizer := bluemonday.UGCPolicy()
	sanitizer.AllowElements("br")

	return &feedService{
		posts:         posts,
		members:       members,
		organizations: organizations,
		uploads:       uploads,
		streams:       streams,
		notifications: notifications,
		validator:     validate,
		logger:        logger.With().Str("component", "feed_service").Logger(),
		tracer:        otel.Tracer("github.com/smb-connect/connect-api/internal/service/feed"),
		sanitizer:     sanitizer,
	}
}

func (s *feedService) List(ctx context.Context, viewerID string, query dto.FeedQuery) ([]dto.PostResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, err
	}

	filter := repository.FeedFilter{Limit: query.Limit}
	switch {
	case query.OrganizationID != nil:
		filter.OrganizationID = query.OrganizationID
	case query.Context != "":
		filter.Contexts = []string{query.Context}
	default:
		// The member home feed mixes personal and association posts.
		filter.Contexts = []string{models.PostContextMember, models.PostContextAssociation, ""}
	}

	posts, err := s.posts.ListFeed(ctx, filter)
	if err != nil {
		return nil, err
	}

	return s.enrichPosts(ctx, viewerID, posts)
}

func (s *feedService) GetPost(ctx context.Context, id uint, viewerID string) (dto.PostResponse, error) {
	post, err := s.posts.Get(ctx, id)
	if err != nil {
		return dto.PostResponse{}, err
	}
	// Soft-deleted posts disappear from direct reads just as they do from the feed.
	if post.Deleted {
		return dto.PostResponse{}, gorm.ErrRecordNotFound
	}

	responses, err := s.enrichPosts(ctx, viewerID, []models.Post{post})
	if err != nil || len(responses) == 0 {
		return dto.PostResponse{}, err
	}
	return responses[0], nil
}

// enrichPosts resolves authors, organizations and the viewer's like status
// with one batched lookup per table instead of a query per post.
func (s *feedService) enrichPosts(ctx context.Context, viewerID string, posts []models.Post) ([]dto.PostResponse, error) {
	memberIDs := make([]string, 0, len(posts))
	seenMembers := make(map[string]struct{}, len(posts))
	orgIDs := make([]uint, 0)
	seenOrgs := make(map[uint]struct{})
	postIDs := make([]uint, 0, len(posts))

	appendMember := func(id string) {
		if _, ok := seenMembers[id]; !ok {
			seenMembers[id] = struct{}{}
			memberIDs = append(memberIDs, id)
		}
	}

	for _, post := range posts {
		postIDs = append(postIDs, post.ID)
		appendMember(post.AuthorID)
		if post.OriginalAuthorID != nil {
			appendMember(*post.OriginalAuthorID)
		}
		if post.OrganizationID != nil {
			if _, ok := seenOrgs[*post.OrganizationID]; !ok {
				seenOrgs[*post.OrganizationID] = struct{}{}
				orgIDs = append(orgIDs, *post.OrganizationID)
			}
		}
	}

	members, err := s.members.ListByIDs(ctx, memberIDs)
	if err != nil {
		return nil, err
	}
	memberByID := make(map[string]models.Member, len(members))
	for _, member := range members {
		memberByID[member.ID] = member
	}

	organizations, err := s.organizations.ListByIDs(ctx, orgIDs)
	if err != nil {
		return nil, err
	}
	orgByID := make(map[uint]models.Organization, len(organizations))
	for _, organization := range organizations {
		orgByID[organization.ID] = organization
	}

	likedByViewer := make(map[uint]struct{})
	if viewerID != "" {
		likedIDs, err := s.posts.ListLikedPostIDs(ctx, viewerID, postIDs)
		if err != nil {
			return nil, err
		}
		for _, id := range likedIDs {
			likedByViewer[id] = struct{}{}
		}
	}

	responses := make([]dto.PostResponse, 0, len(posts))
	for _, post := range posts {
		response := dto.NewPostResponse(post)
		if member, ok := memberByID[post.AuthorID]; ok {
			response.Author = memberSummary(member)
		}
		if post.OriginalAuthorID != nil {
			if member, ok := memberByID[*post.OriginalAuthorID]; ok {
				summary := memberSummary(member)
				response.OriginalAuthor = &summary
			}
		}
		if post.OrganizationID != nil {
			if organization, ok := orgByID[*post.OrganizationID]; ok {
				response.Organization = &dto.OrganizationSummary{
					ID:      organization.ID,
					Name:    organization.Name,
					Type:    organization.Type,
					LogoURL: organization.LogoURL,
				}
			}
		}
		if _, ok := likedByViewer[post.ID]; ok {
			response.LikedByViewer = true
		}
		responses = append(responses, response)
	}

	return responses, nil
}

func (s *feedService) CreatePost(ctx context.Context, authorID string, payload dto.PostCreateRequest, media *multipart.FileHeader) (dto.PostResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.PostResponse{}, err
	}

	content := strings.TrimSpace(s.sanitizer.Sanitize(payload.Content))
	if content == "" && media == nil {
		return dto.PostResponse{}, ErrEmptyPost
	}

	spanCtx, span := s.tracer.Start(ctx, "feed.create_post", trace.WithAttributes(
		attribute.String("post.author_id", authorID),
		attribute.String("post.context", payload.PostContext),
		attribute.Bool("post.has_media", media != nil),
	))
	defer span.End()

	post := models.Post{
		AuthorID:       authorID,
		PostContext:    payload.PostContext,
		OrganizationID: payload.OrganizationID,
	}
	if content != "" {
		post.Content = &content
	}

	if media != nil {
		stored, class, err := s.uploads.Upload(spanCtx, media, authorID)
		if err != nil {
			span.RecordError(err)
			return dto.PostResponse{}, fmt.Errorf("media %q: %w", media.Filename, err)
		}
		url := stored.URL
		switch class {
		case AttachmentClassImage:
			post.ImageURL = &url
		case AttachmentClassVideo:
			post.VideoURL = &url
		default:
			post.DocumentURL = &url
		}
	}

	mentions := s.resolveMentions(spanCtx, content)
	if err := s.posts.Create(spanCtx, &post, mentions); err != nil {
		span.RecordError(err)
		return dto.PostResponse{}, err
	}

	s.notifyMentions(spanCtx, post, mentions)

	responses, err := s.enrichPosts(spanCtx, authorID, []models.Post{post})
	if err != nil || len(responses) == 0 {
		return dto.NewPostResponse(post), nil
	}
	response := responses[0]

	s.publishPostEvent(spanCtx, dto.StreamActionInsert, post, nil)
	observability.PostsCreatedTotal().WithLabelValues(postContextLabel(post.PostContext)).Inc()

	return response, nil
}

// resolveMentions extracts @name tokens and resolves each against the member
// directory first, then associations. Unresolvable tokens are dropped.
func (s *feedService) resolveMentions(ctx context.Context, content string) []models.Mention {
	if content == "" {
		return nil
	}

	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	mentions := make([]models.Mention, 0, len(matches))
	for _, match := range matches {
		name := match[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}

		if member, err := s.members.FindByName(ctx, name); err == nil {
			mentions = append(mentions, models.Mention{
				TargetType: models.MentionTargetMember,
				TargetID:   member.ID,
			})
			continue
		}
		if organization, err := s.organizations.FindByName(ctx, name); err == nil && organization.Type == models.PostContextAssociation {
			mentions = append(mentions, models.Mention{
				TargetType: models.MentionTargetAssociation,
				TargetID:   strconv.FormatUint(uint64(organization.ID), 10),
			})
		}
	}

	return mentions
}

func (s *feedService) notifyMentions(ctx context.Context, post models.Post, mentions []models.Mention) {
	if s.notifications == nil {
		return
	}

	for _, mention := range mentions {
		if mention.TargetType != models.MentionTargetMember || mention.TargetID == post.AuthorID {
			continue
		}
		_, err := s.notifications.Publish(ctx, dto.NotificationCreateRequest{
			MemberID: mention.TargetID,
			Type:     "mention",
			Message:  fmt.Sprintf("You were mentioned in a post by %s", post.AuthorID),
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("target_id", mention.TargetID).Msg("failed to publish mention notification")
		}
	}
}

func (s *feedService) DeletePost(ctx context.Context, id uint, authorID string) error {
	if err := s.posts.SoftDelete(ctx, id, authorID); err != nil {
		return err
	}

	s.streams.Publish(ctx, dto.StreamEvent{
		Topic:  dto.StreamTopicPosts,
		Action: dto.StreamActionDelete,
		Filter: "",
		PostID: id,
	})
	return nil
}

func (s *feedService) Like(ctx context.Context, postID uint, memberID string) (dto.PostCounters, error) {
	changed, err := s.posts.Like(ctx, postID, memberID)
	if err != nil {
		return dto.PostCounters{}, err
	}
	return s.countersAfterMutation(ctx, postID, changed)
}

func (s *feedService) Unlike(ctx context.Context, postID uint, memberID string) (dto.PostCounters, error) {
	changed, err := s.posts.Unlike(ctx, postID, memberID)
	if err != nil {
		return dto.PostCounters{}, err
	}
	return s.countersAfterMutation(ctx, postID, changed)
}

func (s *feedService) Repost(ctx context.Context, postID uint, memberID string) (dto.PostResponse, error) {
	original, err := s.posts.Get(ctx, postID)
	if err != nil {
		return dto.PostResponse{}, err
	}
	if original.AuthorID == memberID {
		return dto.PostResponse{}, ErrSelfRepost
	}
	if original.OriginalPostID != nil {
		return dto.PostResponse{}, ErrRepostOfRepost
	}
	if original.Deleted {
		return dto.PostResponse{}, gorm.ErrRecordNotFound
	}

	repost := models.Post{
		AuthorID:         memberID,
		Content:          original.Content,
		PostContext:      models.PostContextMember,
		ImageURL:         original.ImageURL,
		VideoURL:         original.VideoURL,
		DocumentURL:      original.DocumentURL,
		OriginalPostID:   &original.ID,
		OriginalAuthorID: &original.AuthorID,
	}
	if err := s.posts.Repost(ctx, &repost); err != nil {
		return dto.PostResponse{}, err
	}

	s.publishPostEvent(ctx, dto.StreamActionInsert, repost, nil)
	if _, err := s.countersAfterMutation(ctx, original.ID, true); err != nil {
		s.logger.Warn().Err(err).Uint("post_id", original.ID).Msg("failed to publish repost counter patch")
	}

	responses, err := s.enrichPosts(ctx, memberID, []models.Post{repost})
	if err != nil || len(responses) == 0 {
		return dto.NewPostResponse(repost), nil
	}
	return responses[0], nil
}

func (s *feedService) Share(ctx context.Context, postID uint, memberID string) (dto.PostCounters, error) {
	if _, err := s.posts.Get(ctx, postID); err != nil {
		return dto.PostCounters{}, err
	}
	if err := s.posts.IncrementShares(ctx, postID); err != nil {
		return dto.PostCounters{}, err
	}
	return s.countersAfterMutation(ctx, postID, true)
}

func (s *feedService) Comment(ctx context.Context, authorID string, payload dto.CommentCreateRequest) (dto.CommentResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.CommentResponse{}, err
	}

	content := strings.TrimSpace(s.sanitizer.Sanitize(payload.Content))
	if content == "" {
		return dto.CommentResponse{}, errors.New("comment content empty after sanitization")
	}

	comment := models.PostComment{
		PostID:   payload.PostID,
		AuthorID: authorID,
		Content:  content,
	}
	if err := s.posts.AddComment(ctx, &comment); err != nil {
		return dto.CommentResponse{}, err
	}

	if _, err := s.countersAfterMutation(ctx, payload.PostID, true); err != nil {
		s.logger.Warn().Err(err).Uint("post_id", payload.PostID).Msg("failed to publish comment counter patch")
	}

	return dto.NewCommentResponse(comment), nil
}

func (s *feedService) DeleteComment(ctx context.Context, commentID uint, postID uint, authorID string) (dto.PostCounters, error) {
	if err := s.posts.DeleteComment(ctx, commentID, authorID); err != nil {
		return dto.PostCounters{}, err
	}
	return s.countersAfterMutation(ctx, postID, true)
}

func (s *feedService) ListComments(ctx context.Context, postID uint, limit, offset int) ([]dto.CommentResponse, error) {
	comments, err := s.posts.ListComments(ctx, postID, limit, offset)
	if err != nil {
		return nil, err
	}
	return dto.NewCommentResponseSlice(comments), nil
}

// countersAfterMutation re-reads the post and, when the mutation changed
// anything, broadcasts the fresh counters as a patch so feed clients update
// the one card in place.
func (s *feedService) countersAfterMutation(ctx context.Context, postID uint, changed bool) (dto.PostCounters, error) {
	post, err := s.posts.Get(ctx, postID)
	if err != nil {
		return dto.PostCounters{}, err
	}

	counters := dto.PostCounters{
		LikesCount:    post.LikesCount,
		CommentsCount: post.CommentsCount,
		SharesCount:   post.SharesCount,
		RepostsCount:  post.RepostsCount,
	}

	if changed {
		s.publishPostEvent(ctx, dto.StreamActionUpdate, post, &counters)
	}

	return counters, nil
}

func (s *feedService) publishPostEvent(ctx context.Context, action string, post models.Post, counters *dto.PostCounters) {
	event := dto.StreamEvent{
		Topic:    dto.StreamTopicPosts,
		Action:   action,
		Filter:   "",
		PostID:   post.ID,
		Counters: counters,
	}
	// Inserts carry no patch payload; feed clients refetch the page.
	if action == dto.StreamActionInsert {
		event.Refetch = true
	}
	s.streams.Publish(ctx, event)
}

func memberSummary(member models.Member) dto.MemberSummary {
	return dto.MemberSummary{
		ID:        member.ID,
		Name:      member.Name,
		AvatarURL: member.AvatarURL,
		Headline:  member.Headline,
	}
}

func postContextLabel(context string) string {
	if context == "" {
		return "member"
	}
	return context
}
