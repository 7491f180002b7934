package integration_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/smb-connect/connect-api/internal/dto"
	"github.com/smb-connect/connect-api/internal/handler"
	"github.com/smb-connect/connect-api/internal/models"
	"github.com/smb-connect/connect-api/internal/repository"
	"github.com/smb-connect/connect-api/internal/service"
)

// buildApp wires the messaging stack against an in-memory database the way
// cmd/api does, minus the external brokers. The auth stub reads the member
// from a header so one test can act as several members.
func buildApp(t *testing.T) *fiber.App {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Member{}, &models.Conversation{}, &models.Participant{}, &models.Message{},
	))

	for _, member := range []models.Member{
		{ID: "alice", Name: "Alice"},
		{ID: "bob", Name: "Bob"},
	} {
		require.NoError(t, db.Create(&member).Error)
	}

	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	memberRepo := repository.NewMemberRepository(db)

	validate := validator.New(validator.WithRequiredStructEnabled())
	logger := zerolog.Nop()
	streams := service.NewStreamService(nil, "", nil, logger)

	conversationService := service.NewConversationService(conversationRepo, messageRepo, memberRepo, validate, logger)
	messageService := service.NewMessageService(messageRepo, conversationRepo, memberRepo, nil, streams, nil, "", validate, logger)

	app := fiber.New()
	auth := func(c *fiber.Ctx) error {
		if member := c.Get("X-Member-ID"); member != "" {
			c.Locals("member_id", member)
		}
		return c.Next()
	}

	handler.NewConversationHandler(conversationService, logger).Register(app.Group("/api/v1/conversations", auth))
	handler.NewMessageHandler(messageService, logger).Register(app.Group("/api/v1/messages", auth))

	return app
}

func doJSON(t *testing.T, app *fiber.App, method, target, memberID string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("X-Member-ID", memberID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeData(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.True(t, envelope.Success)
	if target != nil {
		require.NoError(t, json.Unmarshal(envelope.Data, target))
	}
}

func TestMessagingFlowEndToEnd(t *testing.T) {
	app := buildApp(t)

	// Alice opens a direct conversation with Bob.
	resp := doJSON(t, app, fiber.MethodPost, "/api/v1/conversations/", "alice", dto.ConversationCreateRequest{
		Type:      models.ConversationTypeDirect,
		MemberIDs: []string{"bob"},
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var conversation dto.ConversationResponse
	decodeData(t, resp, &conversation)
	require.NotZero(t, conversation.ID)
	require.Len(t, conversation.Participants, 2)

	// Alice sends a message.
	resp = doJSON(t, app, fiber.MethodPost, "/api/v1/messages/", "alice", dto.MessageSendRequest{
		ConversationID: conversation.ID,
		Content:        "hello bob",
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var message dto.MessageResponse
	decodeData(t, resp, &message)
	require.Equal(t, "Alice", message.SenderName)

	// Bob sees one unread; Alice, as the sender, sees none.
	var badge dto.UnreadBadgeResponse
	resp = doJSON(t, app, fiber.MethodGet, "/api/v1/conversations/unread", "bob", nil)
	decodeData(t, resp, &badge)
	require.Equal(t, int64(1), badge.Total)
	require.Equal(t, int64(1), badge.ByConversation[conversation.ID])

	resp = doJSON(t, app, fiber.MethodGet, "/api/v1/conversations/unread", "alice", nil)
	decodeData(t, resp, &badge)
	require.Zero(t, badge.Total)

	// Bob reads the thread and the badge clears.
	resp = doJSON(t, app, fiber.MethodPost, "/api/v1/conversations/"+itoa(conversation.ID)+"/read", "bob", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, app, fiber.MethodGet, "/api/v1/conversations/unread", "bob", nil)
	decodeData(t, resp, &badge)
	require.Zero(t, badge.Total)

	// A non-participant cannot read the thread, neither through the
	// conversation endpoint nor through message history.
	resp = doJSON(t, app, fiber.MethodGet, "/api/v1/conversations/"+itoa(conversation.ID), "mallory", nil)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, app, fiber.MethodGet, "/api/v1/messages/history?conversation_id="+itoa(conversation.ID), "mallory", nil)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// History is ordered and carries the resolved sender.
	resp = doJSON(t, app, fiber.MethodGet, "/api/v1/messages/history?conversation_id="+itoa(conversation.ID), "bob", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var history []dto.MessageResponse
	decodeData(t, resp, &history)
	require.Len(t, history, 1)
	require.Equal(t, "hello bob", *history[0].Content)
	require.Equal(t, "Alice", history[0].SenderName)
}

func itoa(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
