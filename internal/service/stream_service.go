package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/smb-connect/connect-api/internal/dto"
	"github.com/smb-connect/connect-api/internal/observability"
)

const streamBufferSize = 16

// StreamService fans change notifications out to subscribers of a
// (topic, filter) pair. A subscription is a scoped resource: the returned
// cleanup releases it exactly once, and duplicate subscriptions to the same
// pair each get their own channel without re-registering upstream consumers.
type StreamService interface {
	Subscribe(topic, filter string) (<-chan dto.StreamEvent, func())
	Publish(ctx context.Context, event dto.StreamEvent)
	Start(ctx context.Context)
}

type streamService struct {
	redis       *redis.Client
	redisStream string
	nats        *nats.Conn
	natsSubject string
	logger      zerolog.Logger
	broker      *streamBroker
	nodeID      string
	dedupe      *envelopeDedupe
}

type streamEnvelope struct {
	ID     string          `json:"id"`
	Source string          `json:"source"`
	Event  dto.StreamEvent `json:"event"`
	SentAt time.Time       `json:"sent_at"`
}

// envelopeDedupe remembers recently seen envelope IDs. With redis pub/sub and
// the NATS queue group both configured, one node can receive the same envelope
// over both transports; the second copy must not broadcast again.
type envelopeDedupe struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	limit int
}

func newEnvelopeDedupe(limit int) *envelopeDedupe {
	return &envelopeDedupe{
		seen:  make(map[string]struct{}, limit),
		limit: limit,
	}
}

// observe reports whether the ID was already seen, recording it if not.
func (d *envelopeDedupe) observe(id string) bool {
	if id == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}
	d.seen[id] = struct{}{}
	d.order = append(d.order, id)
	if len(d.order) > d.limit {
		delete(d.seen, d.order[0])
		d.order = d.order[1:]
	}
	return false
}

type streamBroker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan dto.StreamEvent]struct{}
}

// NewStreamService constructs the change-notification fan-out. Redis and NATS
// are optional; with both nil events stay node-local.
func NewStreamService(redisClient *redis.Client, channelBase string, natsConn *nats.Conn, logger zerolog.Logger) StreamService {
	stream := ""
	subject := ""
	if channelBase != "" {
		stream = channelBase + ":stream"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".stream"
	}

	return &streamService{
		redis:       redisClient,
		redisStream: stream,
		nats:        natsConn,
		natsSubject: subject,
		logger:      logger.With().Str("component", "stream_service").Logger(),
		broker: &streamBroker{
			subscribers: make(map[string]map[chan dto.StreamEvent]struct{}),
		},
		nodeID: uuid.NewString(),
		dedupe: newEnvelopeDedupe(512),
	}
}

func (s *streamService) Start(ctx context.Context) {
	if s.redis != nil && s.redisStream != "" {
		go s.consumeRedis(ctx)
	}
	if s.nats != nil && s.natsSubject != "" {
		go s.consumeNATS(ctx)
	}
}

func (s *streamService) Subscribe(topic, filter string) (<-chan dto.StreamEvent, func()) {
	channel := make(chan dto.StreamEvent, streamBufferSize)
	key := streamKey(topic, filter)

	s.broker.subscribe(key, channel)
	observability.StreamSubscribersActive().Inc()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			s.broker.unsubscribe(key, channel)
			observability.StreamSubscribersActive().Dec()
		})
	}

	return channel, cleanup
}

func (s *streamService) Publish(ctx context.Context, event dto.StreamEvent) {
	if event.SentAt.IsZero() {
		event.SentAt = time.Now().UTC()
	}

	observability.StreamEventsTotal().WithLabelValues(event.Topic, event.Action).Inc()
	s.broker.broadcast(streamKey(event.Topic, event.Filter), event)

	if err := s.publishRemote(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("topic", event.Topic).Msg("failed to publish stream event")
	}
}

func (s *streamService) publishRemote(ctx context.Context, event dto.StreamEvent) error {
	if (s.redis == nil || s.redisStream == "") && (s.nats == nil || s.natsSubject == "") {
		return nil
	}

	envelope := streamEnvelope{
		ID:     uuid.NewString(),
		Source: s.nodeID,
		Event:  event,
		SentAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	if s.redis != nil && s.redisStream != "" {
		if err := s.redis.Publish(ctx, s.redisStream, payload).Err(); err != nil {
			return err
		}
	}

	if s.nats != nil && s.natsSubject != "" {
		if err := s.nats.Publish(s.natsSubject, payload); err != nil {
			return err
		}
	}

	return nil
}

func (s *streamService) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisStream)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Error().Err(err).Msg("stream redis subscription closed")
			return
		}
		s.handleEvent([]byte(msg.Payload))
	}
}

func (s *streamService) consumeNATS(ctx context.Context) {
	sub, err := s.nats.QueueSubscribe(s.natsSubject, "connect-stream", func(msg *nats.Msg) {
		s.handleEvent(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats stream subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain stream nats subscription")
		}
	}()
}

func (s *streamService) handleEvent(payload []byte) {
	var envelope streamEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		s.logger.Warn().Err(err).Msg("invalid stream event payload")
		return
	}

	if envelope.Source == s.nodeID {
		return
	}
	if s.dedupe.observe(envelope.ID) {
		return
	}

	event := envelope.Event
	observability.StreamEventsTotal().WithLabelValues(event.Topic, event.Action).Inc()
	s.broker.broadcast(streamKey(event.Topic, event.Filter), event)
}

func streamKey(topic, filter string) string {
	return topic + "|" + filter
}

func (b *streamBroker) subscribe(key string, ch chan dto.StreamEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[key]; !exists {
		b.subscribers[key] = make(map[chan dto.StreamEvent]struct{})
	}
	b.subscribers[key][ch] = struct{}{}
}

func (b *streamBroker) unsubscribe(key string, ch chan dto.StreamEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subscribers, ok := b.subscribers[key]; ok {
		if _, present := subscribers[ch]; present {
			delete(subscribers, ch)
			close(ch)
		}
		if len(subscribers) == 0 {
			delete(b.subscribers, key)
		}
	}
}

func (b *streamBroker) broadcast(key string, event dto.StreamEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subscribers := b.subscribers[key]
	for ch := range subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}
