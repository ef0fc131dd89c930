// Package hub implements the durable, topic-scoped, per-consumer event queue
// backed by the durable store. Publishing fans an event out to every live
// consumer of the topic at publish time; each consumer pulls and acks its own
// copy, giving at-least-once delivery per consumer. Consumers that stop
// pulling are garbage-collected on the publish path.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/confwell/confwell/pkg/stores"
	"github.com/confwell/confwell/pkg/telemetry"
)

const (
	// DefaultConsumerIdleTTL is how long a consumer may go without a pull
	// before the publish-side cleanup deletes it.
	DefaultConsumerIdleTTL = 24 * time.Hour

	// DefaultPublishCleanupFrequency is how many publishes happen between
	// idle-consumer sweeps.
	DefaultPublishCleanupFrequency = 128

	// DefaultReportFrequency is how many pulls happen between opportunistic
	// last_used refreshes.
	DefaultReportFrequency = 16
)

// ErrConsumerDestroyed reports that a consumer row was garbage-collected or
// deleted. For a replicator this is fatal: it must resync from scratch.
var ErrConsumerDestroyed = errors.New("event consumer destroyed")

// Event is one queued event as seen by a consumer.
type Event struct {
	ID   int64
	Data []byte
}

// Queue is the consumer-attachment surface the replicator uses.
type Queue interface {
	CreateConsumer(ctx context.Context, topic string) (Consumer, error)
	RestoreConsumer(ctx context.Context, topic, consumerID string) (Consumer, error)
}

// Consumer is one client's view of a topic queue.
type Consumer interface {
	ID() string
	Pull(ctx context.Context, n int) ([]Event, error)
	Ack(ctx context.Context, ids []int64) error
	Destroy(ctx context.Context) error
}

// Options tunes hub liveness behavior. Zero values take the defaults.
type Options struct {
	ConsumerIdleTTL         time.Duration
	PublishCleanupFrequency int64
	ReportFrequency         int64
}

// Hub is the concrete queue over the durable store. One Hub serves both the
// publish side and consumer attachment for any number of topics.
type Hub struct {
	store   stores.Store
	opts    Options
	log     *telemetry.Logger
	metrics *telemetry.Metrics

	publishes atomic.Int64
}

// New creates a hub over the given store.
func New(store stores.Store, opts Options, log *telemetry.Logger, metrics *telemetry.Metrics) *Hub {
	if opts.ConsumerIdleTTL <= 0 {
		opts.ConsumerIdleTTL = DefaultConsumerIdleTTL
	}
	if opts.PublishCleanupFrequency <= 0 {
		opts.PublishCleanupFrequency = DefaultPublishCleanupFrequency
	}
	if opts.ReportFrequency <= 0 {
		opts.ReportFrequency = DefaultReportFrequency
	}
	return &Hub{
		store:   store,
		opts:    opts,
		log:     log.NewComponentLogger("hub"),
		metrics: metrics,
	}
}

// Publish appends the payload to every live consumer of the topic. Consumers
// created after this call never see the event; their initial dump covers it.
func (h *Hub) Publish(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	consumerIDs, err := h.store.ListEventConsumerIDs(ctx, topic)
	if err != nil {
		return fmt.Errorf("failed to list consumers for topic %s: %w", topic, err)
	}

	if err := h.store.InsertEvents(ctx, consumerIDs, data, time.Now().UnixNano()); err != nil {
		return fmt.Errorf("failed to fan out event on topic %s: %w", topic, err)
	}
	if h.metrics != nil {
		h.metrics.HubEventPublished(topic, len(consumerIDs))
	}

	if h.publishes.Add(1)%h.opts.PublishCleanupFrequency == 0 {
		h.cleanup(ctx, topic)
	}
	return nil
}

// cleanup deletes consumers of the topic that have not pulled within the TTL.
func (h *Hub) cleanup(ctx context.Context, topic string) {
	cutoff := time.Now().Add(-h.opts.ConsumerIdleTTL).UnixMilli()
	deleted, err := h.store.DeleteIdleEventConsumers(ctx, topic, cutoff)
	if err != nil {
		h.log.WithError(err).Warn("idle consumer cleanup failed")
		return
	}
	if deleted > 0 {
		h.log.WithField("topic", topic).WithField("deleted", deleted).Info("garbage-collected idle consumers")
		if h.metrics != nil {
			h.metrics.HubConsumersCleaned(topic, int(deleted))
		}
	}
}

// CreateConsumer registers a new consumer of the topic.
func (h *Hub) CreateConsumer(ctx context.Context, topic string) (Consumer, error) {
	row := &stores.EventConsumer{
		ID:         uuid.New().String(),
		Topic:      topic,
		CreatedAt:  time.Now(),
		LastUsedMS: time.Now().UnixMilli(),
	}
	if err := h.store.InsertEventConsumer(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to create consumer on topic %s: %w", topic, err)
	}
	return h.consumer(topic, row.ID), nil
}

// RestoreConsumer reattaches to an existing consumer, refreshing its
// last-used stamp. Returns ErrConsumerDestroyed when the row is gone.
func (h *Hub) RestoreConsumer(ctx context.Context, topic, consumerID string) (Consumer, error) {
	affected, err := h.store.TouchEventConsumer(ctx, topic, consumerID, time.Now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to restore consumer %s: %w", consumerID, err)
	}
	if affected != 1 {
		return nil, fmt.Errorf("consumer %s on topic %s: %w", consumerID, topic, ErrConsumerDestroyed)
	}
	return h.consumer(topic, consumerID), nil
}

func (h *Hub) consumer(topic, id string) *hubConsumer {
	return &hubConsumer{hub: h, topic: topic, id: id}
}

// hubConsumer implements Consumer over the store.
type hubConsumer struct {
	hub   *Hub
	topic string
	id    string

	mu    sync.Mutex
	pulls int64
}

func (c *hubConsumer) ID() string { return c.id }

// Pull returns up to n queued events in creation order. Every
// ReportFrequency-th pull refreshes the consumer's liveness stamp; a refresh
// that touches no row means the consumer was garbage-collected.
func (c *hubConsumer) Pull(ctx context.Context, n int) ([]Event, error) {
	if err := c.maybeReport(ctx); err != nil {
		return nil, err
	}

	rows, err := c.hub.store.PullEvents(ctx, c.id, n)
	if err != nil {
		return nil, fmt.Errorf("failed to pull events for consumer %s: %w", c.id, err)
	}

	events := make([]Event, len(rows))
	for i, row := range rows {
		events[i] = Event{ID: row.ID, Data: row.Data}
	}
	if c.hub.metrics != nil && len(events) > 0 {
		c.hub.metrics.HubEventsPulled(c.topic, len(events))
	}
	return events, nil
}

func (c *hubConsumer) maybeReport(ctx context.Context) error {
	c.mu.Lock()
	report := c.pulls%c.hub.opts.ReportFrequency == 0
	c.pulls++
	c.mu.Unlock()
	if !report {
		return nil
	}

	affected, err := c.hub.store.TouchEventConsumer(ctx, c.topic, c.id, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to refresh consumer %s: %w", c.id, err)
	}
	if affected != 1 {
		return fmt.Errorf("consumer %s on topic %s: %w", c.id, c.topic, ErrConsumerDestroyed)
	}
	return nil
}

// Ack deletes delivered events.
func (c *hubConsumer) Ack(ctx context.Context, ids []int64) error {
	if err := c.hub.store.DeleteEvents(ctx, ids); err != nil {
		return fmt.Errorf("failed to ack events for consumer %s: %w", c.id, err)
	}
	return nil
}

// Destroy deletes the consumer row; undelivered events cascade.
func (c *hubConsumer) Destroy(ctx context.Context) error {
	affected, err := c.hub.store.DeleteEventConsumer(ctx, c.id)
	if err != nil {
		return fmt.Errorf("failed to destroy consumer %s: %w", c.id, err)
	}
	if affected == 0 {
		return fmt.Errorf("consumer %s: %w", c.id, ErrConsumerDestroyed)
	}
	return nil
}
