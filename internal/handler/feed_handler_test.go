package handler

import (
	"context"
	"mime/multipart"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/smb-connect/connect-api/internal/dto"
	"github.com/smb-connect/connect-api/internal/repository"
	"github.com/smb-connect/connect-api/internal/service"
)

type feedServiceMock struct {
	posts      []dto.PostResponse
	post       dto.PostResponse
	counters   dto.PostCounters
	comment    dto.CommentResponse
	getErr     error
	deleteErr  error
	likeErr    error
	repostErr  error
	commentErr error
}

func (f *feedServiceMock) List(ctx context.Context, viewerID string, query dto.FeedQuery) ([]dto.PostResponse, error) {
	return f.posts, nil
}

func (f *feedServiceMock) GetPost(ctx context.Context, id uint, viewerID string) (dto.PostResponse, error) {
	if f.getErr != nil {
		return dto.PostResponse{}, f.getErr
	}
	return f.post, nil
}

func (f *feedServiceMock) CreatePost(ctx context.Context, authorID string, payload dto.PostCreateRequest, media *multipart.FileHeader) (dto.PostResponse, error) {
	return f.post, nil
}

func (f *feedServiceMock) DeletePost(ctx context.Context, id uint, authorID string) error {
	return f.deleteErr
}

func (f *feedServiceMock) Like(ctx context.Context, postID uint, memberID string) (dto.PostCounters, error) {
	if f.likeErr != nil {
		return dto.PostCounters{}, f.likeErr
	}
	return f.counters, nil
}

func (f *feedServiceMock) Unlike(ctx context.Context, postID uint, memberID string) (dto.PostCounters, error) {
	return f.counters, nil
}

func (f *feedServiceMock) Repost(ctx context.Context, postID uint, memberID string) (dto.PostResponse, error) {
	if f.repostErr != nil {
		return dto.PostResponse{}, f.repostErr
	}
	return f.post, nil
}

func (f *feedServiceMock) Share(ctx context.Context, postID uint, memberID string) (dto.PostCounters, error) {
	return f.counters, nil
}

func (f *feedServiceMock) Comment(ctx context.Context, authorID string, payload dto.CommentCreateRequest) (dto.CommentResponse, error) {
	if f.commentErr != nil {
		return dto.CommentResponse{}, f.commentErr
	}
	return f.comment, nil
}

func (f *feedServiceMock) DeleteComment(ctx context.Context, commentID uint, postID uint, authorID string) (dto.PostCounters, error) {
	return f.counters, nil
}

func (f *feedServiceMock) ListComments(ctx context.Context, postID uint, limit, offset int) ([]dto.CommentResponse, error) {
	return nil, nil
}

func newFeedApp(mock *feedServiceMock, memberID string) *fiber.App {
	app := fiber.New()
	group := app.Group("/api/v1/posts", authStub(memberID))
	NewFeedHandler(mock, zerolog.Nop()).Register(group)
	return app
}

func TestFeedHandlerListRequiresAuth(t *testing.T) {
	app := newFeedApp(&feedServiceMock{}, "")

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/posts/", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestFeedHandlerLikeReturnsCounters(t *testing.T) {
	mock := &feedServiceMock{counters: dto.PostCounters{LikesCount: 4}}
	app := newFeedApp(mock, "alice")

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/api/v1/posts/3/like", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	payload := decodeResponse(t, resp)
	require.True(t, payload.Success)
	data, ok := payload.Data.(map[string]interface{})
	require.True(t, ok)
	require.EqualValues(t, 4, data["likes_count"])
}

func TestFeedHandlerLikeUnknownPost(t *testing.T) {
	app := newFeedApp(&feedServiceMock{likeErr: gorm.ErrRecordNotFound}, "alice")

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/api/v1/posts/99/like", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestFeedHandlerRepostGuardsMapToBadRequest(t *testing.T) {
	for _, repostErr := range []error{service.ErrSelfRepost, service.ErrRepostOfRepost} {
		app := newFeedApp(&feedServiceMock{repostErr: repostErr}, "alice")

		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/api/v1/posts/3/repost", nil))
		require.NoError(t, err)
		require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	}
}

func TestFeedHandlerDeleteForeignPost(t *testing.T) {
	app := newFeedApp(&feedServiceMock{deleteErr: repository.ErrNotPostAuthor}, "mallory")

	resp, err := app.Test(httptest.NewRequest(fiber.MethodDelete, "/api/v1/posts/3", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestFeedHandlerCommentCreated(t *testing.T) {
	mock := &feedServiceMock{comment: dto.CommentResponse{ID: 11, PostID: 3, AuthorID: "alice", Content: "nice"}}
	app := newFeedApp(mock, "alice")

	resp, err := app.Test(jsonRequest(t, fiber.MethodPost, "/api/v1/posts/3/comments", fiber.Map{"content": "nice"}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	payload := decodeResponse(t, resp)
	require.True(t, payload.Success)
	require.Equal(t, "comment added", payload.Message)
}

func TestFeedHandlerInvalidPostID(t *testing.T) {
	app := newFeedApp(&feedServiceMock{}, "alice")

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/api/v1/posts/abc/like", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
