package service

import (
	"context"
	"fmt"
	"mime/multipart"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/smb-connect/connect-api/internal/dto"
	"github.com/smb-connect/connect-api/internal/models"
)

type messageRepoStub struct {
	messages map[uint]models.Message
	nextID   uint
}

func newMessageRepoStub() *messageRepoStub {
	return &messageRepoStub{messages: make(map[uint]models.Message)}
}

func (m *messageRepoStub) CreateWithTouch(ctx context.Context, message *models.Message) error {
	m.nextID++
	message.ID = m.nextID
	message.CreatedAt = time.Now().UTC()
	message.UpdatedAt = message.CreatedAt
	m.messages[message.ID] = *message
	return nil
}

func (m *messageRepoStub) Get(ctx context.Context, id uint) (models.Message, error) {
	message, ok := m.messages[id]
	if !ok {
		return models.Message{}, gorm.ErrRecordNotFound
	}
	return message, nil
}

func (m *messageRepoStub) ListByConversation(ctx context.Context, conversationID uint, before time.Time, limit int) ([]models.Message, error) {
	return nil, nil
}

func (m *messageRepoStub) ListByIDs(ctx context.Context, ids []uint) ([]models.Message, error) {
	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		if message, ok := m.messages[id]; ok {
			out = append(out, message)
		}
	}
	return out, nil
}

func (m *messageRepoStub) Edit(ctx context.Context, id uint, senderID, content string) (models.Message, error) {
	message, ok := m.messages[id]
	if !ok {
		return models.Message{}, gorm.ErrRecordNotFound
	}
	message.Content = &content
	message.Edited = true
	m.messages[id] = message
	return message, nil
}

func (m *messageRepoStub) SoftDelete(ctx context.Context, id uint, senderID string) (models.Message, error) {
	message, ok := m.messages[id]
	if !ok {
		return models.Message{}, gorm.ErrRecordNotFound
	}
	now := time.Now().UTC()
	placeholder := models.DeletedMessagePlaceholder
	message.Deleted = true
	message.DeletedAt = &now
	message.Content = &placeholder
	m.messages[id] = message
	return message, nil
}

type conversationRepoStub struct {
	participants   map[string]struct{}
	markReads      []string
	created        *models.Conversation
	createdMembers []string
	unread         map[uint]int64
}

func newConversationRepoStub(pairs ...string) *conversationRepoStub {
	stub := &conversationRepoStub{participants: make(map[string]struct{})}
	for _, pair := range pairs {
		stub.participants[pair] = struct{}{}
	}
	return stub
}

func participantKey(conversationID uint, memberID string) string {
	return fmt.Sprintf("%d|%s", conversationID, memberID)
}

func (c *conversationRepoStub) CreateWithParticipants(ctx context.Context, conversation *models.Conversation, memberIDs []string) error {
	conversation.ID = 1
	for _, memberID := range memberIDs {
		conversation.Participants = append(conversation.Participants, models.Participant{
			ConversationID: conversation.ID,
			MemberID:       memberID,
		})
		c.participants[participantKey(conversation.ID, memberID)] = struct{}{}
	}
	c.created = conversation
	c.createdMembers = memberIDs
	return nil
}

func (c *conversationRepoStub) Get(ctx context.Context, id uint) (models.Conversation, error) {
	if c.created != nil && c.created.ID == id {
		return *c.created, nil
	}
	return models.Conversation{ID: id}, nil
}

func (c *conversationRepoStub) ListByMember(ctx context.Context, memberID string) ([]models.Conversation, error) {
	if c.created != nil {
		return []models.Conversation{*c.created}, nil
	}
	return nil, nil
}

func (c *conversationRepoStub) GetParticipant(ctx context.Context, conversationID uint, memberID string) (models.Participant, error) {
	if _, ok := c.participants[participantKey(conversationID, memberID)]; !ok {
		return models.Participant{}, gorm.ErrRecordNotFound
	}
	return models.Participant{ConversationID: conversationID, MemberID: memberID}, nil
}

func (c *conversationRepoStub) MarkRead(ctx context.Context, conversationID uint, memberID string, at time.Time) error {
	c.markReads = append(c.markReads, participantKey(conversationID, memberID))
	return nil
}

func (c *conversationRepoStub) SetMuted(ctx context.Context, conversationID uint, memberID string, muted bool) error {
	return nil
}

func (c *conversationRepoStub) UnreadCount(ctx context.Context, conversationID uint, memberID string) (int64, error) {
	return c.unread[conversationID], nil
}

type memberRepoStub struct {
	members map[string]models.Member
}

func (m *memberRepoStub) Get(ctx context.Context, id string) (models.Member, error) {
	member, ok := m.members[id]
	if !ok {
		return models.Member{}, gorm.ErrRecordNotFound
	}
	return member, nil
}

func (m *memberRepoStub) ListByIDs(ctx context.Context, ids []string) ([]models.Member, error) {
	out := make([]models.Member, 0, len(ids))
	for _, id := range ids {
		if member, ok := m.members[id]; ok {
			out = append(out, member)
		}
	}
	return out, nil
}

func (m *memberRepoStub) FindByName(ctx context.Context, name string) (models.Member, error) {
	for _, member := range m.members {
		if member.Name == name {
			return member, nil
		}
	}
	return models.Member{}, gorm.ErrRecordNotFound
}

type uploadStub struct {
	err   error
	calls int
}

func (u *uploadStub) Upload(ctx context.Context, file *multipart.FileHeader, memberID string) (dto.UploadResponse, string, error) {
	u.calls++
	if u.err != nil {
		return dto.UploadResponse{}, "", u.err
	}
	return dto.UploadResponse{URL: "https://cdn.example.com/x", SizeBytes: 10, MimeType: "image/png"}, AttachmentClassImage, nil
}

type streamStub struct {
	events []dto.StreamEvent
}

func (s *streamStub) Subscribe(topic, filter string) (<-chan dto.StreamEvent, func()) {
	ch := make(chan dto.StreamEvent)
	close(ch)
	return ch, func() {}
}

func (s *streamStub) Publish(ctx context.Context, event dto.StreamEvent) {
	s.events = append(s.events, event)
}

func (s *streamStub) Start(ctx context.Context) {}

type messageFixture struct {
	messages      *messageRepoStub
	conversations *conversationRepoStub
	members       *memberRepoStub
	uploads       *uploadStub
	streams       *streamStub
	service       MessageService
}

func newMessageFixture(t *testing.T, redisClient *redis.Client) *messageFixture {
	t.Helper()
	fixture := &messageFixture{
		messages:      newMessageRepoStub(),
		conversations: newConversationRepoStub(participantKey(7, "alice"), participantKey(7, "bob")),
		members: &memberRepoStub{members: map[string]models.Member{
			"alice": {ID: "alice", Name: "Alice"},
			"bob":   {ID: "bob", Name: "Bob"},
		}},
		uploads: &uploadStub{},
		streams: &streamStub{},
	}
	fixture.service = NewMessageService(
		fixture.messages, fixture.conversations, fixture.members,
		fixture.uploads, fixture.streams, redisClient, "connect",
		validator.New(validator.WithRequiredStructEnabled()), zerolog.Nop(),
	)
	return fixture
}

func TestMessageServiceSendRejectsEmpty(t *testing.T) {
	fixture := newMessageFixture(t, nil)

	_, err := fixture.service.Send(context.Background(), "alice", dto.MessageSendRequest{
		ConversationID: 7,
		Content:        "   ",
	}, nil)
	require.ErrorIs(t, err, ErrEmptyMessage)
	require.Empty(t, fixture.messages.messages)
}

func TestMessageServiceSendRejectsAttachmentOverflow(t *testing.T) {
	fixture := newMessageFixture(t, nil)

	files := make([]*multipart.FileHeader, maxMessageAttachments+1)
	for i := range files {
		files[i] = &multipart.FileHeader{Filename: "f.png"}
	}

	_, err := fixture.service.Send(context.Background(), "alice", dto.MessageSendRequest{
		ConversationID: 7,
		Content:        "too much",
	}, files)
	require.ErrorIs(t, err, ErrTooManyAttachments)
	require.Zero(t, fixture.uploads.calls)
}

func TestMessageServiceSendRequiresParticipant(t *testing.T) {
	fixture := newMessageFixture(t, nil)

	_, err := fixture.service.Send(context.Background(), "mallory", dto.MessageSendRequest{
		ConversationID: 7,
		Content:        "let me in",
	}, nil)
	require.ErrorIs(t, err, ErrNotParticipant)
}

func TestMessageServiceHistoryRequiresParticipant(t *testing.T) {
	fixture := newMessageFixture(t, nil)

	_, err := fixture.service.History(context.Background(), "mallory", dto.MessageHistoryQuery{ConversationID: 7})
	require.ErrorIs(t, err, ErrNotParticipant)

	_, err = fixture.service.History(context.Background(), "alice", dto.MessageHistoryQuery{ConversationID: 7})
	require.NoError(t, err)
}

func TestMessageServiceSendAttachmentOnlyStoresNullContent(t *testing.T) {
	fixture := newMessageFixture(t, nil)

	response, err := fixture.service.Send(context.Background(), "alice", dto.MessageSendRequest{
		ConversationID: 7,
	}, []*multipart.FileHeader{{Filename: "pic.png"}})
	require.NoError(t, err)
	require.Nil(t, response.Content)
	require.Equal(t, models.MessageTypeImage, response.Type)

	require.Len(t, response.Attachments, 1)
	attachment := response.Attachments[0]
	require.Equal(t, AttachmentClassImage, attachment.Type)
	require.Equal(t, "https://cdn.example.com/x", attachment.URL)
	require.Equal(t, "pic.png", attachment.Name)

	stored := fixture.messages.messages[response.ID]
	require.Nil(t, stored.Content)
	require.NotEmpty(t, stored.Attachments)
}

func TestMessageServiceSendValidatesReplyTarget(t *testing.T) {
	fixture := newMessageFixture(t, nil)

	foreignID := uint(99)
	_, err := fixture.service.Send(context.Background(), "alice", dto.MessageSendRequest{
		ConversationID:   7,
		Content:          "re: nothing",
		ReplyToMessageID: &foreignID,
	}, nil)
	require.ErrorIs(t, err, ErrReplyTargetInvalid)
}

func TestMessageServiceSendSanitizesPublishesAndCaches(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	fixture := newMessageFixture(t, redisClient)

	response, err := fixture.service.Send(context.Background(), "alice", dto.MessageSendRequest{
		ConversationID: 7,
		Content:        "<script>alert(1)</script>hello",
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, response.Content)
	require.Equal(t, "hello", *response.Content)
	require.Equal(t, models.MessageTypeText, response.Type)
	require.Equal(t, "Alice", response.SenderName)

	require.Len(t, fixture.streams.events, 1)
	event := fixture.streams.events[0]
	require.Equal(t, dto.StreamTopicMessages, event.Topic)
	require.Equal(t, dto.StreamActionInsert, event.Action)
	require.Equal(t, "7", event.Filter)
	require.NotNil(t, event.Message)

	// The sender's read position advances with their own message.
	require.Contains(t, fixture.conversations.markReads, participantKey(7, "alice"))

	// The last message lands in the thread cache for fast socket warm-up.
	require.True(t, mr.Exists("connect:thread:last:7"))
}

func TestMessageServiceDeletePublishesTombstoneAsUpdate(t *testing.T) {
	fixture := newMessageFixture(t, nil)

	sent, err := fixture.service.Send(context.Background(), "alice", dto.MessageSendRequest{
		ConversationID: 7,
		Content:        "delete me",
	}, nil)
	require.NoError(t, err)

	deleted, err := fixture.service.Delete(context.Background(), sent.ID, "alice")
	require.NoError(t, err)
	require.True(t, deleted.Deleted)
	require.Equal(t, models.DeletedMessagePlaceholder, *deleted.Content)

	last := fixture.streams.events[len(fixture.streams.events)-1]
	require.Equal(t, dto.StreamActionUpdate, last.Action)
}

func TestDeriveMessageType(t *testing.T) {
	require.Equal(t, models.MessageTypeText, deriveMessageType(nil))
	require.Equal(t, models.MessageTypeImage, deriveMessageType([]models.Attachment{
		{Type: AttachmentClassImage}, {Type: AttachmentClassImage},
	}))
	require.Equal(t, models.MessageTypeDocument, deriveMessageType([]models.Attachment{
		{Type: AttachmentClassDocument},
	}))
	require.Equal(t, models.MessageTypeMixed, deriveMessageType([]models.Attachment{
		{Type: AttachmentClassImage}, {Type: AttachmentClassDocument},
	}))
}
