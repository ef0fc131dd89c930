// Package stream fans replica changes out to live change-stream subscribers.
// Subscriptions are scoped to one project; each subscriber owns a bounded
// buffer and a slow subscriber loses its oldest undelivered events rather
// than blocking the publisher.
package stream

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/confwell/confwell/pkg/eval"
	"github.com/confwell/confwell/pkg/telemetry"
)

// DefaultBufferSize is the per-subscriber event buffer.
const DefaultBufferSize = 64

// EventType classifies a config change event.
type EventType string

const (
	EventConfigCreated EventType = "config_created"
	EventConfigUpdated EventType = "config_updated"
	EventConfigDeleted EventType = "config_deleted"
)

// Event is one config change as delivered to subscribers. Value and Overrides
// carry the config's rendered form so a subscriber can refresh without another
// fetch; they are environment-specific and filled at delivery, and stay empty
// for deleted configs.
type Event struct {
	ID         string                  `json:"id"`
	Timestamp  time.Time               `json:"timestamp"`
	Type       EventType               `json:"type"`
	ProjectID  string                  `json:"projectId"`
	ConfigName string                  `json:"configName"`
	Version    int64                   `json:"version,omitempty"`
	Value      any                     `json:"value,omitempty"`
	Overrides  []eval.RenderedOverride `json:"overrides,omitempty"`
}

// Subscription is one subscriber's handle on the bus. Events arrives in
// publish order; Cancel is idempotent and closes Events.
type Subscription struct {
	bus       *Bus
	projectID string
	key       int64

	Events chan Event

	once sync.Once
}

// Cancel detaches the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.bus.remove(s)
	})
}

// Bus is the in-process fan-out of config change events, keyed by project.
type Bus struct {
	bufferSize int
	log        *telemetry.Logger
	metrics    *telemetry.Metrics

	mu     sync.Mutex
	subs   map[string]map[int64]*Subscription
	nextID int64
	closed bool
}

// NewBus creates a bus. bufferSize <= 0 takes the default.
func NewBus(bufferSize int, log *telemetry.Logger, metrics *telemetry.Metrics) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		bufferSize: bufferSize,
		log:        log.NewComponentLogger("stream"),
		metrics:    metrics,
		subs:       make(map[string]map[int64]*Subscription),
	}
}

// Subscribe attaches a new subscriber to the project's change stream. Events
// published before the subscription never arrive; callers snapshot current
// state first and use events as the invalidation signal.
func (b *Bus) Subscribe(projectID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		bus:       b,
		projectID: projectID,
		key:       b.nextID,
		Events:    make(chan Event, b.bufferSize),
	}
	b.nextID++

	if b.closed {
		close(sub.Events)
		sub.once.Do(func() {})
		return sub
	}

	project, ok := b.subs[projectID]
	if !ok {
		project = make(map[int64]*Subscription)
		b.subs[projectID] = project
	}
	project[sub.key] = sub
	if b.metrics != nil {
		b.metrics.StreamSubscriberAdded()
	}
	return sub
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	project, ok := b.subs[sub.projectID]
	if !ok {
		return
	}
	if _, ok := project[sub.key]; !ok {
		return
	}
	delete(project, sub.key)
	if len(project) == 0 {
		delete(b.subs, sub.projectID)
	}
	close(sub.Events)
	if b.metrics != nil {
		b.metrics.StreamSubscriberRemoved()
	}
}

// Publish delivers the event to every subscriber of its project. Delivery
// never blocks: when a subscriber's buffer is full its oldest undelivered
// event is discarded to make room.
func (b *Bus) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs[event.ProjectID] {
		b.deliverLocked(sub, event)
	}
}

// deliverLocked runs under b.mu, which also serializes the drop-oldest
// shuffle against concurrent publishes on the same channel.
func (b *Bus) deliverLocked(sub *Subscription, event Event) {
	for {
		select {
		case sub.Events <- event:
			return
		default:
		}
		select {
		case dropped := <-sub.Events:
			b.log.WithProject(dropped.ProjectID).WithConfig(dropped.ConfigName).Warn("dropped event on slow subscriber")
			if b.metrics != nil {
				b.metrics.StreamEventDropped(dropped.ProjectID)
			}
		default:
		}
	}
}

// Close detaches every subscriber and rejects further publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, project := range b.subs {
		for _, sub := range project {
			close(sub.Events)
			if b.metrics != nil {
				b.metrics.StreamSubscriberRemoved()
			}
		}
	}
	b.subs = nil
}
