package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse-edc/Connector-sub001/clock"
	"github.com/eclipse-edc/Connector-sub001/entity"
	"github.com/eclipse-edc/Connector-sub001/ext"
)

// Compile-time interface checks.
var (
	_ ext.Extension          = (*Broker)(nil)
	_ ext.EntityCreated      = (*Broker)(nil)
	_ ext.EntityLeased       = (*Broker)(nil)
	_ ext.EntityTransitioned = (*Broker)(nil)
	_ ext.EntityRetrying     = (*Broker)(nil)
	_ ext.EntityFailed       = (*Broker)(nil)
	_ ext.EntityAbandoned    = (*Broker)(nil)
	_ ext.Shutdown           = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker is the real-time stream broker. It implements the ext.Extension
// interface to receive entity lifecycle events and fans them out to
// subscribers via topic-based pub/sub. Publishing never blocks the engine:
// events for a subscriber without credits or buffer space are dropped.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger
	clock  clock.Clock

	subscribers sync.Map // subscriberID to *Subscriber

	totalPublished atomic.Int64
	totalDropped   atomic.Int64

	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// WithClock sets the clock used to stamp events.
func WithClock(c clock.Clock) BrokerOption {
	return func(b *Broker) { b.clock = c }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		clock:          clock.Real{},
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics. An existing
// subscriber with the same ID is replaced and closed.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	if prev, loaded := b.subscribers.Swap(subscriberID, sub); loaded {
		b.topics.UnsubscribeAll(subscriberID)
		prev.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to additional topics.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) {
	sub, ok := b.GetSubscriber(subscriberID)
	if !ok {
		return
	}
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
		TotalDropped:    b.totalDropped.Load(),
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// publish broadcasts an event to all matching topics.
func (b *Broker) publish(evt *Event) {
	sent, missed := b.topics.broadcast(resolveTopics(evt), evt)
	b.totalPublished.Add(int64(sent))
	if missed > 0 {
		b.totalDropped.Add(int64(missed))
		b.logger.Debug("stream events dropped",
			slog.String("type", string(evt.Type)),
			slog.String("topic", evt.Topic),
			slog.Int("subscribers", missed),
		)
	}
}

func (b *Broker) entityEvent(typ EventType, e *entity.Entity, data EntityEventData) *Event {
	data.EntityID = e.ID.String()
	data.EntityType = string(e.Type)
	data.State = string(e.State)
	data.Version = e.Version
	return &Event{
		Type:       typ,
		Timestamp:  b.clock.Now().UTC(),
		Topic:      EntityTopic(e.ID.String()),
		EntityType: string(e.Type),
		Data:       mustMarshal(data),
	}
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

// ── Entity lifecycle hooks ──────────────────────────

func (b *Broker) OnEntityCreated(_ context.Context, e *entity.Entity) error {
	b.publish(b.entityEvent(EventEntityCreated, e, EntityEventData{}))
	return nil
}

func (b *Broker) OnEntityLeased(_ context.Context, e *entity.Entity) error {
	b.publish(b.entityEvent(EventEntityLeased, e, EntityEventData{LeaseHolder: e.LeaseHolder}))
	return nil
}

func (b *Broker) OnEntityTransitioned(_ context.Context, e *entity.Entity, from entity.State, elapsed time.Duration) error {
	b.publish(b.entityEvent(EventEntityTransitioned, e, EntityEventData{
		From:      string(from),
		ElapsedMs: elapsed.Milliseconds(),
	}))
	return nil
}

func (b *Broker) OnEntityRetrying(_ context.Context, e *entity.Entity, attempt int, nextEligibleAt time.Time, cause error) error {
	data := EntityEventData{
		Attempt:        attempt,
		NextEligibleAt: nextEligibleAt.UTC().Format(time.RFC3339Nano),
	}
	if cause != nil {
		data.Error = cause.Error()
	}
	b.publish(b.entityEvent(EventEntityRetrying, e, data))
	return nil
}

func (b *Broker) OnEntityFailed(_ context.Context, e *entity.Entity, err error) error {
	data := EntityEventData{Attempt: e.AttemptCount}
	if err != nil {
		data.Error = err.Error()
	}
	b.publish(b.entityEvent(EventEntityFailed, e, data))
	return nil
}

func (b *Broker) OnEntityAbandoned(_ context.Context, e *entity.Entity, reason string) error {
	b.publish(b.entityEvent(EventEntityAbandoned, e, EntityEventData{Reason: reason}))
	return nil
}

// ── Shutdown ────────────────────────────────────────

func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		b.topics.UnsubscribeAll(key.(string)) //nolint:errcheck // keys are subscriber IDs
		value.(*Subscriber).Close()           //nolint:errcheck // sync.Map always stores *Subscriber
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
