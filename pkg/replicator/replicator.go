// Package replicator keeps an in-memory replica set of one entity type in
// sync with the durable store by draining a per-consumer event queue. It is
// generic over the entity type: the source reads the durable store, the
// target is the local replica, and every applied change is published to an
// observer for downstream fan-out.
package replicator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/confwell/confwell/pkg/hub"
	"github.com/confwell/confwell/pkg/telemetry"
	"github.com/confwell/confwell/pkg/worker"
)

const (
	// DefaultStepBatchSize is the number of queued events pulled per tick.
	DefaultStepBatchSize = 128

	// DefaultStepInterval is the idle sleep between ticks once caught up.
	DefaultStepInterval = 100 * time.Millisecond

	// DefaultDumpBatchSize is the chunk size of the initial full dump.
	DefaultDumpBatchSize = 256
)

// Entity is a replicated row. Versions are strictly monotonic per id and
// break ties on replay: upserts at or below the stored version are ignored.
type Entity interface {
	EntityID() string
	EntityVersion() int64
}

// Source reads entities from the durable store.
type Source[E Entity] interface {
	GetIDs(ctx context.Context) ([]string, error)
	GetByIDs(ctx context.Context, ids []string) ([]E, error)
}

// Outcome reports what an upsert did to the target.
type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeUpdated
	OutcomeIgnored
)

// Target is the local replica the replicator maintains. One Upsert call is
// one exclusive critical section; readers never observe a partial batch.
type Target[E Entity] interface {
	Upsert(entities []E) []Outcome
	Delete(id string) (E, bool)
	Clear()
	ConsumerID() (string, bool)
	SetConsumerID(id string)
}

// ChangeType classifies an applied replica change.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

// Change notifies observers of one applied replica change. Entity holds the
// new state for created/updated and the prior state for deleted.
type Change[E Entity] struct {
	Type   ChangeType
	Entity E
}

// changePayload is the wire shape of a queue event on an entity topic.
type changePayload struct {
	EntityID string `json:"entityId"`
}

// Options tunes a Replicator. Zero values take the package defaults.
type Options struct {
	StepBatchSize int
	StepInterval  time.Duration
	DumpBatchSize int
}

// Replicator pumps one entity topic from the durable store into a target.
type Replicator[E Entity] struct {
	topic    string
	queue    hub.Queue
	source   Source[E]
	target   Target[E]
	onChange func(Change[E])
	onFatal  func(error)
	opts     Options

	log     *telemetry.Logger
	tracer  *telemetry.Tracer
	metrics *telemetry.Metrics

	consumer hub.Consumer
	worker   *worker.Worker
	ticker   *time.Ticker
	stopTick chan struct{}
	stopOnce sync.Once
}

// New creates a replicator. onChange receives every applied change in apply
// order; onFatal receives unrecoverable errors (the consumer being destroyed
// remotely), after which the replicator stops ticking.
func New[E Entity](
	topic string,
	queue hub.Queue,
	source Source[E],
	target Target[E],
	onChange func(Change[E]),
	onFatal func(error),
	opts Options,
	log *telemetry.Logger,
	tracer *telemetry.Tracer,
	metrics *telemetry.Metrics,
) *Replicator[E] {
	if opts.StepBatchSize <= 0 {
		opts.StepBatchSize = DefaultStepBatchSize
	}
	if opts.StepInterval <= 0 {
		opts.StepInterval = DefaultStepInterval
	}
	if opts.DumpBatchSize <= 0 {
		opts.DumpBatchSize = DefaultDumpBatchSize
	}
	if onChange == nil {
		onChange = func(Change[E]) {}
	}
	if onFatal == nil {
		onFatal = func(error) {}
	}
	return &Replicator[E]{
		topic:    topic,
		queue:    queue,
		source:   source,
		target:   target,
		onChange: onChange,
		onFatal:  onFatal,
		opts:     opts,
		log:      log.NewComponentLogger("replicator"),
		tracer:   tracer,
		metrics:  metrics,
		stopTick: make(chan struct{}),
	}
}

// Start restores or recreates the queue consumer, performs the initial dump
// when a fresh consumer was needed, and enters the steady pull loop.
func (r *Replicator[E]) Start(ctx context.Context) error {
	if err := r.ensureConsumer(ctx); err != nil {
		return fmt.Errorf("failed to attach consumer on topic %s: %w", r.topic, err)
	}

	r.worker = worker.New(r.step, r.stepError)
	r.worker.Start(ctx)

	r.ticker = time.NewTicker(r.opts.StepInterval)
	go func() {
		for {
			select {
			case <-r.stopTick:
				return
			case <-r.ticker.C:
				_ = r.worker.Wakeup()
			}
		}
	}()

	r.log.WithField("topic", r.topic).Info("replicator started")
	return nil
}

// ensureConsumer restores the persisted consumer if it is still alive;
// otherwise it clears the target and rebuilds replica state from a full dump.
// A publish that happened before the consumer existed can never reach it,
// which is exactly why the dump runs at consumer-creation time.
func (r *Replicator[E]) ensureConsumer(ctx context.Context) error {
	if id, ok := r.target.ConsumerID(); ok {
		consumer, err := r.queue.RestoreConsumer(ctx, r.topic, id)
		if err == nil {
			r.consumer = consumer
			r.log.WithField("consumer_id", id).Debug("restored existing consumer")
			return nil
		}
		if !errors.Is(err, hub.ErrConsumerDestroyed) {
			return err
		}
		r.log.WithField("consumer_id", id).Warn("consumer expired, resyncing from scratch")
	}

	r.target.Clear()
	consumer, err := r.queue.CreateConsumer(ctx, r.topic)
	if err != nil {
		return err
	}
	r.consumer = consumer
	r.target.SetConsumerID(consumer.ID())

	return r.initialDump(ctx)
}

func (r *Replicator[E]) initialDump(ctx context.Context) error {
	ids, err := r.source.GetIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list source ids: %w", err)
	}
	for start := 0; start < len(ids); start += r.opts.DumpBatchSize {
		end := start + r.opts.DumpBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		entities, err := r.source.GetByIDs(ctx, ids[start:end])
		if err != nil {
			return fmt.Errorf("failed to fetch dump batch: %w", err)
		}
		outcomes := r.target.Upsert(entities)
		r.emitUpserts(entities, outcomes)
	}
	r.log.WithField("entities", len(ids)).Info("initial dump complete")
	return nil
}

// step drains the consumer queue. It keeps pulling while full batches come
// back (we are lagging) and returns once a short batch signals we are caught
// up; the interval ticker schedules the next wakeup.
func (r *Replicator[E]) step(ctx context.Context) error {
	if r.tracer != nil {
		spanCtx, span := r.tracer.StartReplicationSpan(ctx, r.topic)
		defer span.End()
		ctx = spanCtx
	}
	for {
		n, err := r.applyBatch(ctx)
		if err != nil {
			return err
		}
		if n < r.opts.StepBatchSize {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (r *Replicator[E]) applyBatch(ctx context.Context) (int, error) {
	events, err := r.consumer.Pull(ctx, r.opts.StepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to pull events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	// Distinct entity ids, resolved through one source query.
	seen := make(map[string]struct{}, len(events))
	entityIDs := make([]string, 0, len(events))
	for _, ev := range events {
		var payload changePayload
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			r.log.WithError(err).Warn("skipping malformed queue event")
			continue
		}
		if _, dup := seen[payload.EntityID]; dup {
			continue
		}
		seen[payload.EntityID] = struct{}{}
		entityIDs = append(entityIDs, payload.EntityID)
	}

	entities, err := r.source.GetByIDs(ctx, entityIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve changed entities: %w", err)
	}

	resolved := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		resolved[e.EntityID()] = struct{}{}
	}

	outcomes := r.target.Upsert(entities)
	r.emitUpserts(entities, outcomes)

	// Ids that the source no longer knows were deleted upstream.
	for _, id := range entityIDs {
		if _, ok := resolved[id]; ok {
			continue
		}
		if prior, present := r.target.Delete(id); present {
			r.onChange(Change[E]{Type: ChangeDeleted, Entity: prior})
			if r.metrics != nil {
				r.metrics.ReplicatorChangeApplied(string(ChangeDeleted))
			}
		}
	}

	ackIDs := make([]int64, len(events))
	for i, ev := range events {
		ackIDs[i] = ev.ID
	}
	if err := r.consumer.Ack(ctx, ackIDs); err != nil {
		return 0, fmt.Errorf("failed to ack events: %w", err)
	}
	if r.metrics != nil {
		r.metrics.ReplicatorEventsApplied(len(events))
	}
	return len(events), nil
}

func (r *Replicator[E]) emitUpserts(entities []E, outcomes []Outcome) {
	for i, e := range entities {
		var t ChangeType
		switch outcomes[i] {
		case OutcomeCreated:
			t = ChangeCreated
		case OutcomeUpdated:
			t = ChangeUpdated
		default:
			continue
		}
		r.onChange(Change[E]{Type: t, Entity: e})
		if r.metrics != nil {
			r.metrics.ReplicatorChangeApplied(string(t))
		}
	}
}

// stepError routes task failures: a destroyed consumer is fatal and stops the
// replicator, anything else is transient and retried on the next tick.
func (r *Replicator[E]) stepError(err error) {
	if errors.Is(err, hub.ErrConsumerDestroyed) {
		r.log.WithError(err).Error("consumer destroyed, replicator stopping")
		go r.Stop()
		r.onFatal(err)
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	r.log.WithError(err).Warn("replication step failed, will retry")
	if r.metrics != nil {
		r.metrics.ReplicatorStepError()
	}
}

// Wakeup schedules an immediate step, bypassing the interval ticker.
func (r *Replicator[E]) Wakeup() {
	if r.worker != nil {
		_ = r.worker.Wakeup()
	}
}

// Stop halts ticking cooperatively. The in-flight step finishes its batch.
// Safe to call more than once.
func (r *Replicator[E]) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopTick)
		if r.ticker != nil {
			r.ticker.Stop()
		}
		if r.worker != nil {
			r.worker.Stop()
		}
		r.log.WithField("topic", r.topic).Info("replicator stopped")
	})
}

// Destroy stops the replicator, deletes its queue consumer, and clears the
// target replica.
func (r *Replicator[E]) Destroy(ctx context.Context) error {
	r.Stop()
	if r.consumer != nil {
		if err := r.consumer.Destroy(ctx); err != nil && !errors.Is(err, hub.ErrConsumerDestroyed) {
			return fmt.Errorf("failed to destroy consumer: %w", err)
		}
	}
	r.target.Clear()
	return nil
}
