package stores

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports that the addressed row does not exist. Store methods
// wrap it so callers can classify with errors.Is.
var ErrNotFound = errors.New("not found")

// Project is a container of configs and environments.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Environment is a named tier within a project (Production, Development, ...).
type Environment struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"created_at"`
}

// ConfigRow is the durable form of an authored config document. The JSON
// columns (value, schema, overrides) are stored opaque; the read core parses
// them when building replica snapshots.
type ConfigRow struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	Version   int64     `json:"version"`
	Value     string    `json:"value"`            // JSON
	Schema    *string   `json:"schema,omitempty"` // JSON Schema or null
	Overrides string    `json:"overrides"`        // JSON array of overrides
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VariantRow is the per-environment overlay of a config.
type VariantRow struct {
	ID            string  `json:"id"`
	ConfigID      string  `json:"config_id"`
	EnvironmentID string  `json:"environment_id"`
	Value         string  `json:"value"`            // JSON
	Schema        *string `json:"schema,omitempty"` // JSON Schema or null
	Overrides     string  `json:"overrides"`        // JSON array of overrides
	UseBaseSchema bool    `json:"use_base_schema"`
}

// SDKKey maps a bearer token to the project and environment it reads.
type SDKKey struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	EnvironmentID string    `json:"environment_id"`
	Token         string    `json:"token"`
	CreatedAt     time.Time `json:"created_at"`
}

// EventConsumer is one client of an event topic. Events are fanned out to
// specific consumers at publish time; idle consumers are garbage-collected.
type EventConsumer struct {
	ID         string    `json:"id"`
	Topic      string    `json:"topic"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedMS int64     `json:"last_used_ms"` // unix milliseconds
}

// QueuedEvent is one undelivered event addressed to a consumer. Rows are
// deleted on ack. CreatedNS (unix nanoseconds) plus the autoincrement id
// give a total delivery order per consumer.
type QueuedEvent struct {
	ID         int64  `json:"id"`
	ConsumerID string `json:"consumer_id"`
	Data       []byte `json:"data"`
	CreatedNS  int64  `json:"created_ns"`
}

// Store is the durable store interface the core consumes. The SQLite
// implementation is the only one shipped; pluggable engines are a non-goal.
type Store interface {
	Init(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
	HealthCheck(ctx context.Context) error

	// Projects and environments
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	DeleteProject(ctx context.Context, id string) error
	CreateEnvironment(ctx context.Context, e *Environment) error
	ListEnvironments(ctx context.Context, projectID string) ([]*Environment, error)

	// Configs and variants
	CreateConfig(ctx context.Context, c *ConfigRow) error
	UpdateConfig(ctx context.Context, id, value string, schema *string, overrides string) (int64, error)
	DeleteConfig(ctx context.Context, id string) error
	GetConfig(ctx context.Context, id string) (*ConfigRow, error)
	GetConfigByName(ctx context.Context, projectID, name string) (*ConfigRow, error)
	ListConfigIDs(ctx context.Context) ([]string, error)
	GetConfigsByIDs(ctx context.Context, ids []string) ([]*ConfigRow, error)
	ListVariantsByConfigIDs(ctx context.Context, configIDs []string) ([]*VariantRow, error)
	UpsertVariant(ctx context.Context, v *VariantRow) (int64, error)
	DeleteVariant(ctx context.Context, configID, environmentID string) (int64, error)

	// SDK keys
	CreateSDKKey(ctx context.Context, k *SDKKey) error
	GetSDKKeyByToken(ctx context.Context, token string) (*SDKKey, error)
	DeleteSDKKey(ctx context.Context, id string) error

	// Event queue
	InsertEventConsumer(ctx context.Context, c *EventConsumer) error
	TouchEventConsumer(ctx context.Context, topic, id string, lastUsedMS int64) (int64, error)
	ListEventConsumerIDs(ctx context.Context, topic string) ([]string, error)
	InsertEvents(ctx context.Context, consumerIDs []string, data []byte, createdNS int64) error
	PullEvents(ctx context.Context, consumerID string, limit int) ([]*QueuedEvent, error)
	DeleteEvents(ctx context.Context, ids []int64) error
	DeleteEventConsumer(ctx context.Context, id string) (int64, error)
	DeleteIdleEventConsumers(ctx context.Context, topic string, beforeMS int64) (int64, error)
}
