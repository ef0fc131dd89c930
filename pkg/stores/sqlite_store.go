package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// Open database with SQLite-specific connection parameters
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	// Verify connection and set PRAGMAs
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// CreateProject creates a new project
func (s *SQLiteStore) CreateProject(ctx context.Context, p *Project) error {
	query := `
		INSERT INTO projects (id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query, p.ID, p.Name, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	return nil
}

// GetProject retrieves a project by ID
func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*Project, error) {
	query := `
		SELECT id, name, created_at, updated_at
		FROM projects
		WHERE id = ?
	`

	p := &Project{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.CreatedAt, &p.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return p, nil
}

// DeleteProject deletes a project by ID; configs and environments cascade
func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}

	return nil
}

// CreateEnvironment creates a new environment within a project
func (s *SQLiteStore) CreateEnvironment(ctx context.Context, e *Environment) error {
	query := `
		INSERT INTO environments (id, project_id, name, ord, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query, e.ID, e.ProjectID, e.Name, e.Order, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create environment: %w", err)
	}

	return nil
}

// ListEnvironments lists a project's environments in display order
func (s *SQLiteStore) ListEnvironments(ctx context.Context, projectID string) ([]*Environment, error) {
	query := `
		SELECT id, project_id, name, ord, created_at
		FROM environments
		WHERE project_id = ?
		ORDER BY ord ASC
	`

	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list environments: %w", err)
	}
	defer rows.Close()

	envs := []*Environment{}
	for rows.Next() {
		e := &Environment{}
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Name, &e.Order, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan environment: %w", err)
		}
		envs = append(envs, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating environments: %w", err)
	}

	return envs, nil
}

// CreateConfig creates a new config row at version 1
func (s *SQLiteStore) CreateConfig(ctx context.Context, c *ConfigRow) error {
	query := `
		INSERT INTO configs (id, project_id, name, version, value, schema, overrides, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		c.ID,
		c.ProjectID,
		c.Name,
		c.Version,
		c.Value,
		c.Schema,
		c.Overrides,
		c.CreatedAt,
		c.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}

	return nil
}

// UpdateConfig replaces a config's document and bumps its version.
// Returns the new version.
func (s *SQLiteStore) UpdateConfig(ctx context.Context, id, value string, schema *string, overrides string) (int64, error) {
	query := `
		UPDATE configs
		SET value = ?, schema = ?, overrides = ?, version = version + 1, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, value, schema, overrides, time.Now(), id)
	if err != nil {
		return 0, fmt.Errorf("failed to update config: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return 0, fmt.Errorf("config %s: %w", id, ErrNotFound)
	}

	return s.configVersion(ctx, id)
}

// DeleteConfig deletes a config by ID; variants cascade
func (s *SQLiteStore) DeleteConfig(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM configs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete config: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("config %s: %w", id, ErrNotFound)
	}

	return nil
}

// GetConfig retrieves a config row by ID
func (s *SQLiteStore) GetConfig(ctx context.Context, id string) (*ConfigRow, error) {
	query := `
		SELECT id, project_id, name, version, value, schema, overrides, created_at, updated_at
		FROM configs
		WHERE id = ?
	`

	return scanConfig(s.db.QueryRowContext(ctx, query, id), id)
}

// GetConfigByName retrieves a config row by its per-project unique name
func (s *SQLiteStore) GetConfigByName(ctx context.Context, projectID, name string) (*ConfigRow, error) {
	query := `
		SELECT id, project_id, name, version, value, schema, overrides, created_at, updated_at
		FROM configs
		WHERE project_id = ? AND name = ?
	`

	return scanConfig(s.db.QueryRowContext(ctx, query, projectID, name), projectID+"/"+name)
}

func scanConfig(row *sql.Row, ref string) (*ConfigRow, error) {
	c := &ConfigRow{}
	err := row.Scan(
		&c.ID,
		&c.ProjectID,
		&c.Name,
		&c.Version,
		&c.Value,
		&c.Schema,
		&c.Overrides,
		&c.CreatedAt,
		&c.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("config %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	return c, nil
}

// ListConfigIDs lists all config ids, for the replicator's initial dump
func (s *SQLiteStore) ListConfigIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM configs ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list config ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan config id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating config ids: %w", err)
	}

	return ids, nil
}

// GetConfigsByIDs retrieves the config rows for the given ids in one query.
// Missing ids are simply absent from the result.
func (s *SQLiteStore) GetConfigsByIDs(ctx context.Context, ids []string) ([]*ConfigRow, error) {
	if len(ids) == 0 {
		return []*ConfigRow{}, nil
	}

	query := fmt.Sprintf(`
		SELECT id, project_id, name, version, value, schema, overrides, created_at, updated_at
		FROM configs
		WHERE id IN (%s)
	`, placeholders(len(ids)))

	rows, err := s.db.QueryContext(ctx, query, stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("failed to get configs: %w", err)
	}
	defer rows.Close()

	configs := []*ConfigRow{}
	for rows.Next() {
		c := &ConfigRow{}
		err := rows.Scan(
			&c.ID,
			&c.ProjectID,
			&c.Name,
			&c.Version,
			&c.Value,
			&c.Schema,
			&c.Overrides,
			&c.CreatedAt,
			&c.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan config: %w", err)
		}
		configs = append(configs, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating configs: %w", err)
	}

	return configs, nil
}

// ListVariantsByConfigIDs retrieves all variant rows of the given configs
func (s *SQLiteStore) ListVariantsByConfigIDs(ctx context.Context, configIDs []string) ([]*VariantRow, error) {
	if len(configIDs) == 0 {
		return []*VariantRow{}, nil
	}

	query := fmt.Sprintf(`
		SELECT id, config_id, environment_id, value, schema, overrides, use_base_schema
		FROM config_variants
		WHERE config_id IN (%s)
	`, placeholders(len(configIDs)))

	rows, err := s.db.QueryContext(ctx, query, stringArgs(configIDs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	defer rows.Close()

	variants := []*VariantRow{}
	for rows.Next() {
		v := &VariantRow{}
		err := rows.Scan(
			&v.ID,
			&v.ConfigID,
			&v.EnvironmentID,
			&v.Value,
			&v.Schema,
			&v.Overrides,
			&v.UseBaseSchema,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		variants = append(variants, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating variants: %w", err)
	}

	return variants, nil
}

// UpsertVariant inserts or replaces a config's per-environment variant and
// bumps the parent config's version in the same transaction.
// Returns the config's new version.
func (s *SQLiteStore) UpsertVariant(ctx context.Context, v *VariantRow) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO config_variants (id, config_id, environment_id, value, schema, overrides, use_base_schema)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(config_id, environment_id) DO UPDATE SET
			value = excluded.value,
			schema = excluded.schema,
			overrides = excluded.overrides,
			use_base_schema = excluded.use_base_schema
	`

	if _, err := tx.ExecContext(ctx, query,
		v.ID,
		v.ConfigID,
		v.EnvironmentID,
		v.Value,
		v.Schema,
		v.Overrides,
		v.UseBaseSchema,
	); err != nil {
		return 0, fmt.Errorf("failed to upsert variant: %w", err)
	}

	version, err := bumpConfigVersion(ctx, tx, v.ConfigID)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit variant upsert: %w", err)
	}

	return version, nil
}

// DeleteVariant removes a config's variant for one environment and bumps the
// parent config's version. Returns the config's new version.
func (s *SQLiteStore) DeleteVariant(ctx context.Context, configID, environmentID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		`DELETE FROM config_variants WHERE config_id = ? AND environment_id = ?`,
		configID, environmentID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete variant: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return 0, fmt.Errorf("variant %s/%s: %w", configID, environmentID, ErrNotFound)
	}

	version, err := bumpConfigVersion(ctx, tx, configID)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit variant delete: %w", err)
	}

	return version, nil
}

func bumpConfigVersion(ctx context.Context, tx *sql.Tx, configID string) (int64, error) {
	result, err := tx.ExecContext(ctx,
		`UPDATE configs SET version = version + 1, updated_at = ? WHERE id = ?`,
		time.Now(), configID)
	if err != nil {
		return 0, fmt.Errorf("failed to bump config version: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return 0, fmt.Errorf("config %s: %w", configID, ErrNotFound)
	}

	var version int64
	if err := tx.QueryRowContext(ctx, `SELECT version FROM configs WHERE id = ?`, configID).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read config version: %w", err)
	}
	return version, nil
}

func (s *SQLiteStore) configVersion(ctx context.Context, configID string) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM configs WHERE id = ?`, configID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read config version: %w", err)
	}
	return version, nil
}

// CreateSDKKey creates a new SDK key
func (s *SQLiteStore) CreateSDKKey(ctx context.Context, k *SDKKey) error {
	query := `
		INSERT INTO sdk_keys (id, project_id, environment_id, token, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query, k.ID, k.ProjectID, k.EnvironmentID, k.Token, k.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create sdk key: %w", err)
	}

	return nil
}

// GetSDKKeyByToken resolves a bearer token to its SDK key row
func (s *SQLiteStore) GetSDKKeyByToken(ctx context.Context, token string) (*SDKKey, error) {
	query := `
		SELECT id, project_id, environment_id, token, created_at
		FROM sdk_keys
		WHERE token = ?
	`

	k := &SDKKey{}
	err := s.db.QueryRowContext(ctx, query, token).Scan(
		&k.ID,
		&k.ProjectID,
		&k.EnvironmentID,
		&k.Token,
		&k.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sdk key: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sdk key: %w", err)
	}

	return k, nil
}

// DeleteSDKKey deletes an SDK key by ID
func (s *SQLiteStore) DeleteSDKKey(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sdk_keys WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete sdk key: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("sdk key %s: %w", id, ErrNotFound)
	}

	return nil
}

// InsertEventConsumer inserts a new event consumer row
func (s *SQLiteStore) InsertEventConsumer(ctx context.Context, c *EventConsumer) error {
	query := `
		INSERT INTO event_consumers (id, topic, created_at, last_used_ms)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query, c.ID, c.Topic, c.CreatedAt, c.LastUsedMS)
	if err != nil {
		return fmt.Errorf("failed to insert event consumer: %w", err)
	}

	return nil
}

// TouchEventConsumer refreshes a consumer's last_used_ms.
// Returns the number of rows affected: zero means the consumer is gone.
func (s *SQLiteStore) TouchEventConsumer(ctx context.Context, topic, id string, lastUsedMS int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE event_consumers SET last_used_ms = ? WHERE id = ? AND topic = ?`,
		lastUsedMS, id, topic)
	if err != nil {
		return 0, fmt.Errorf("failed to touch event consumer: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// ListEventConsumerIDs lists the ids of all consumers of a topic
func (s *SQLiteStore) ListEventConsumerIDs(ctx context.Context, topic string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM event_consumers WHERE topic = ? ORDER BY created_at ASC`, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to list event consumers: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan consumer id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating consumer ids: %w", err)
	}

	return ids, nil
}

// InsertEvents appends one event row per consumer, all with the same payload
func (s *SQLiteStore) InsertEvents(ctx context.Context, consumerIDs []string, data []byte, createdNS int64) error {
	if len(consumerIDs) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString(`INSERT INTO events (consumer_id, data, created_ns) VALUES `)
	args := make([]any, 0, len(consumerIDs)*3)
	for i, id := range consumerIDs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?)")
		args = append(args, id, data, createdNS)
	}

	if _, err := s.db.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("failed to insert events: %w", err)
	}

	return nil
}

// PullEvents returns up to limit undelivered events for a consumer in
// creation order
func (s *SQLiteStore) PullEvents(ctx context.Context, consumerID string, limit int) ([]*QueuedEvent, error) {
	query := `
		SELECT id, consumer_id, data, created_ns
		FROM events
		WHERE consumer_id = ?
		ORDER BY created_ns ASC, id ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, consumerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to pull events: %w", err)
	}
	defer rows.Close()

	events := []*QueuedEvent{}
	for rows.Next() {
		e := &QueuedEvent{}
		if err := rows.Scan(&e.ID, &e.ConsumerID, &e.Data, &e.CreatedNS); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// DeleteEvents deletes acked events by id
func (s *SQLiteStore) DeleteEvents(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	query := fmt.Sprintf(`DELETE FROM events WHERE id IN (%s)`, placeholders(len(ids)))
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}

	return nil
}

// DeleteEventConsumer deletes a consumer row; its events cascade.
// Returns the number of rows affected.
func (s *SQLiteStore) DeleteEventConsumer(ctx context.Context, id string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM event_consumers WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete event consumer: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// DeleteIdleEventConsumers garbage-collects consumers of a topic whose
// last_used_ms is older than beforeMS. Returns the number deleted.
func (s *SQLiteStore) DeleteIdleEventConsumers(ctx context.Context, topic string, beforeMS int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM event_consumers WHERE topic = ? AND last_used_ms < ?`,
		topic, beforeMS)
	if err != nil {
		return 0, fmt.Errorf("failed to delete idle consumers: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// placeholders renders n comma-separated SQL placeholders
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
