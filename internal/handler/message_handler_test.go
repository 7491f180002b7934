package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/smb-connect/connect-api/internal/dto"
	"github.com/smb-connect/connect-api/internal/repository"
	"github.com/smb-connect/connect-api/internal/service"
	"github.com/smb-connect/connect-api/internal/utils"
)

func authStub(memberID string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if memberID != "" {
			c.Locals("member_id", memberID)
		}
		return c.Next()
	}
}

func jsonRequest(t *testing.T, method, target string, body interface{}) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func decodeResponse(t *testing.T, resp *http.Response) utils.APIResponse {
	t.Helper()
	defer resp.Body.Close()
	var payload utils.APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload
}

type messageServiceMock struct {
	sent       dto.MessageResponse
	history    []dto.MessageResponse
	historyErr error
	sendErr    error
	editErr    error
	deleteErr  error
}

func (m *messageServiceMock) History(ctx context.Context, memberID string, query dto.MessageHistoryQuery) ([]dto.MessageResponse, error) {
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	return m.history, nil
}

func (m *messageServiceMock) Send(ctx context.Context, senderID string, payload dto.MessageSendRequest, files []*multipart.FileHeader) (dto.MessageResponse, error) {
	if m.sendErr != nil {
		return dto.MessageResponse{}, m.sendErr
	}
	return m.sent, nil
}

func (m *messageServiceMock) Edit(ctx context.Context, id uint, senderID string, payload dto.MessageEditRequest) (dto.MessageResponse, error) {
	if m.editErr != nil {
		return dto.MessageResponse{}, m.editErr
	}
	return m.sent, nil
}

func (m *messageServiceMock) Delete(ctx context.Context, id uint, senderID string) (dto.MessageResponse, error) {
	if m.deleteErr != nil {
		return dto.MessageResponse{}, m.deleteErr
	}
	return m.sent, nil
}

func (m *messageServiceMock) ServeConnection(conn *websocket.Conn, opts service.ThreadConnectionOptions) {}

func newMessageApp(mock *messageServiceMock, memberID string) *fiber.App {
	app := fiber.New()
	group := app.Group("/api/v1/messages", authStub(memberID))
	NewMessageHandler(mock, zerolog.Nop()).Register(group)
	return app
}

func TestMessageHandlerSendCreated(t *testing.T) {
	content := "hi"
	mock := &messageServiceMock{sent: dto.MessageResponse{ID: 1, ConversationID: 7, SenderID: "alice", Content: &content}}
	app := newMessageApp(mock, "alice")

	resp, err := app.Test(jsonRequest(t, fiber.MethodPost, "/api/v1/messages/", dto.MessageSendRequest{
		ConversationID: 7,
		Content:        "hi",
	}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	payload := decodeResponse(t, resp)
	require.True(t, payload.Success)
	require.Equal(t, "message sent", payload.Message)
}

func TestMessageHandlerSendRequiresAuth(t *testing.T) {
	app := newMessageApp(&messageServiceMock{}, "")

	resp, err := app.Test(jsonRequest(t, fiber.MethodPost, "/api/v1/messages/", dto.MessageSendRequest{ConversationID: 7, Content: "hi"}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestMessageHandlerSendErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"empty message", service.ErrEmptyMessage, fiber.StatusBadRequest},
		{"invalid reply target", service.ErrReplyTargetInvalid, fiber.StatusBadRequest},
		{"not a participant", service.ErrNotParticipant, fiber.StatusForbidden},
		{"too many attachments", service.ErrTooManyAttachments, fiber.StatusRequestEntityTooLarge},
		{"attachment too large", fmt.Errorf("attachment %q: %w", "big.pdf", service.ErrUploadTooLarge), fiber.StatusRequestEntityTooLarge},
		{"attachment type refused", fmt.Errorf("attachment %q: %w", "run.exe", service.ErrUploadTypeNotAllowed), fiber.StatusUnsupportedMediaType},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newMessageApp(&messageServiceMock{sendErr: tc.err}, "alice")

			resp, err := app.Test(jsonRequest(t, fiber.MethodPost, "/api/v1/messages/", dto.MessageSendRequest{ConversationID: 7, Content: "hi"}))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
			require.False(t, decodeResponse(t, resp).Success)
		})
	}
}

func TestMessageHandlerHistoryRequiresConversationID(t *testing.T) {
	app := newMessageApp(&messageServiceMock{}, "alice")

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/messages/history", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/messages/history?conversation_id=7", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestMessageHandlerHistoryForbiddenForNonParticipant(t *testing.T) {
	app := newMessageApp(&messageServiceMock{historyErr: service.ErrNotParticipant}, "mallory")

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/messages/history?conversation_id=7", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	require.False(t, decodeResponse(t, resp).Success)
}

func TestMessageHandlerEditAndDeleteErrors(t *testing.T) {
	app := newMessageApp(&messageServiceMock{
		editErr:   repository.ErrNotMessageSender,
		deleteErr: gorm.ErrRecordNotFound,
	}, "alice")

	resp, err := app.Test(jsonRequest(t, fiber.MethodPatch, "/api/v1/messages/5", dto.MessageEditRequest{Content: "fixed"}))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodDelete, "/api/v1/messages/5", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestMessageHandlerWebsocketRouteRequiresUpgrade(t *testing.T) {
	app := newMessageApp(&messageServiceMock{}, "alice")

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/messages/ws?conversation_id=7", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}
