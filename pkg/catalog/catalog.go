// Package catalog coordinates authoring writes: it validates mutations,
// persists them through the durable store, and publishes a change event for
// every config-affecting write so replicas converge.
package catalog

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/confwell/confwell/pkg/eval"
	"github.com/confwell/confwell/pkg/hub"
	"github.com/confwell/confwell/pkg/service"
	"github.com/confwell/confwell/pkg/stores"
	"github.com/confwell/confwell/pkg/telemetry"
)

// TopicConfigs is the event topic carrying config change notifications.
const TopicConfigs = "configs"

// namePattern constrains project, environment, and config names.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// changePayload is the queue event body: just the changed entity's id.
// Consumers re-read current state from the store, so the payload carries no
// document data.
type changePayload struct {
	EntityID string `json:"entityId"`
}

// Catalog is the write coordinator.
type Catalog struct {
	store stores.Store
	hub   *hub.Hub

	log    *telemetry.Logger
	tracer *telemetry.Tracer
}

// New creates a catalog over the given store and event hub.
func New(store stores.Store, h *hub.Hub, tel *telemetry.Telemetry) *Catalog {
	return &Catalog{
		store:  store,
		hub:    h,
		log:    tel.Logger.NewComponentLogger("catalog"),
		tracer: tel.Tracer,
	}
}

// ValidateName reports whether a name is usable for projects, environments,
// and configs.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return service.NewBadRequestError(
			fmt.Sprintf("invalid name %q: must match %s", name, namePattern.String()), nil)
	}
	return nil
}

// CreateProject creates a new project.
func (c *Catalog) CreateProject(ctx context.Context, name string) (*stores.Project, error) {
	_, span := c.tracer.StartWriteSpan(ctx, "create_project", "")
	defer span.End()

	if err := ValidateName(name); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	now := time.Now().UTC()
	p := &stores.Project{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.CreateProject(ctx, p); err != nil {
		telemetry.RecordError(span, err)
		return nil, service.NewTransientError("failed to create project", err)
	}
	c.log.WithProject(p.ID).WithField("name", name).Info("project created")
	telemetry.RecordSuccess(span)
	return p, nil
}

// GetProject returns one project by id.
func (c *Catalog) GetProject(ctx context.Context, id string) (*stores.Project, error) {
	p, err := c.store.GetProject(ctx, id)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, service.NewNotFoundError("project not found", id)
		}
		return nil, service.NewTransientError("failed to fetch project", err)
	}
	return p, nil
}

// DeleteProject deletes a project and everything under it.
func (c *Catalog) DeleteProject(ctx context.Context, id string) error {
	_, span := c.tracer.StartWriteSpan(ctx, "delete_project", id)
	defer span.End()

	if err := c.store.DeleteProject(ctx, id); err != nil {
		telemetry.RecordError(span, err)
		return service.NewTransientError("failed to delete project", err)
	}
	c.log.WithProject(id).Info("project deleted")
	telemetry.RecordSuccess(span)
	return nil
}

// CreateEnvironment creates an environment within a project.
func (c *Catalog) CreateEnvironment(ctx context.Context, projectID, name string, order int) (*stores.Environment, error) {
	_, span := c.tracer.StartWriteSpan(ctx, "create_environment", projectID)
	defer span.End()

	if err := ValidateName(name); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	e := &stores.Environment{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Name:      name,
		Order:     order,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.store.CreateEnvironment(ctx, e); err != nil {
		telemetry.RecordError(span, err)
		return nil, service.NewTransientError("failed to create environment", err)
	}
	c.log.WithProject(projectID).WithEnvironment(e.ID).WithField("name", name).Info("environment created")
	telemetry.RecordSuccess(span)
	return e, nil
}

// ListEnvironments lists a project's environments in display order.
func (c *Catalog) ListEnvironments(ctx context.Context, projectID string) ([]*stores.Environment, error) {
	envs, err := c.store.ListEnvironments(ctx, projectID)
	if err != nil {
		return nil, service.NewTransientError("failed to list environments", err)
	}
	return envs, nil
}

// CreateSDKKey mints a bearer token bound to one (project, environment) pair.
// The token is returned exactly once; only its row survives.
func (c *Catalog) CreateSDKKey(ctx context.Context, projectID, environmentID string) (*stores.SDKKey, error) {
	_, span := c.tracer.StartWriteSpan(ctx, "create_sdk_key", projectID)
	defer span.End()

	token, err := GenerateToken()
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, service.NewInternalError("failed to generate token", err)
	}

	k := &stores.SDKKey{
		ID:            uuid.New().String(),
		ProjectID:     projectID,
		EnvironmentID: environmentID,
		Token:         token,
		CreatedAt:     time.Now().UTC(),
	}
	if err := c.store.CreateSDKKey(ctx, k); err != nil {
		telemetry.RecordError(span, err)
		return nil, service.NewTransientError("failed to create sdk key", err)
	}
	c.log.WithProject(projectID).WithEnvironment(environmentID).Info("sdk key created")
	telemetry.RecordSuccess(span)
	return k, nil
}

// DeleteSDKKey revokes a key.
func (c *Catalog) DeleteSDKKey(ctx context.Context, id string) error {
	if err := c.store.DeleteSDKKey(ctx, id); err != nil {
		return service.NewTransientError("failed to delete sdk key", err)
	}
	return nil
}

// GenerateToken produces an opaque bearer token.
func GenerateToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "cw_" + hex.EncodeToString(buf), nil
}

// ConfigDocument is the authored body of a config or variant.
type ConfigDocument struct {
	Value     json.RawMessage `json:"value"`
	Schema    json.RawMessage `json:"schema,omitempty"`
	Overrides []eval.Override `json:"overrides,omitempty"`
}

func (d *ConfigDocument) validate() error {
	if len(d.Value) == 0 || !json.Valid(d.Value) {
		return service.NewBadRequestError("value must be a JSON document", nil)
	}
	if len(d.Schema) > 0 && !json.Valid(d.Schema) {
		return service.NewBadRequestError("schema must be a JSON document", nil)
	}
	for i := range d.Overrides {
		if err := d.Overrides[i].Validate(); err != nil {
			return service.NewBadRequestError(fmt.Sprintf("invalid override %d", i), err)
		}
	}
	return nil
}

func (d *ConfigDocument) columns() (value string, schema *string, overrides string, err error) {
	value = string(d.Value)
	if len(d.Schema) > 0 {
		s := string(d.Schema)
		schema = &s
	}
	raw, err := json.Marshal(d.Overrides)
	if err != nil {
		return "", nil, "", err
	}
	if d.Overrides == nil {
		raw = []byte("[]")
	}
	return value, schema, string(raw), nil
}

// CreateConfig creates a config at version 1 and announces it.
func (c *Catalog) CreateConfig(ctx context.Context, projectID, name string, doc ConfigDocument) (*stores.ConfigRow, error) {
	_, span := c.tracer.StartWriteSpan(ctx, "create_config", projectID)
	defer span.End()

	if err := ValidateName(name); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if err := doc.validate(); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	value, schema, overrides, err := doc.columns()
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, service.NewInternalError("failed to encode config document", err)
	}

	now := time.Now().UTC()
	row := &stores.ConfigRow{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Name:      name,
		Version:   1,
		Value:     value,
		Schema:    schema,
		Overrides: overrides,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.CreateConfig(ctx, row); err != nil {
		telemetry.RecordError(span, err)
		return nil, service.NewTransientError("failed to create config", err)
	}

	c.publishChange(ctx, row.ID)
	c.log.WithProject(projectID).WithConfig(name).Info("config created")
	telemetry.RecordSuccess(span)
	return row, nil
}

// UpdateConfig replaces a config's base document, bumping its version, and
// announces the change. Returns the new version.
func (c *Catalog) UpdateConfig(ctx context.Context, id string, doc ConfigDocument) (int64, error) {
	_, span := c.tracer.StartWriteSpan(ctx, "update_config", "")
	defer span.End()

	if err := doc.validate(); err != nil {
		telemetry.RecordError(span, err)
		return 0, err
	}
	value, schema, overrides, err := doc.columns()
	if err != nil {
		telemetry.RecordError(span, err)
		return 0, service.NewInternalError("failed to encode config document", err)
	}

	version, err := c.store.UpdateConfig(ctx, id, value, schema, overrides)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			nf := service.NewNotFoundError("config not found", id)
			telemetry.RecordError(span, nf)
			return 0, nf
		}
		telemetry.RecordError(span, err)
		return 0, service.NewTransientError("failed to update config", err)
	}

	c.publishChange(ctx, id)
	c.log.WithField("config_id", id).WithField("version", version).Info("config updated")
	telemetry.RecordSuccess(span)
	return version, nil
}

// DeleteConfig removes a config and announces the removal. Replicas resolve
// the id, find nothing, and drop their copies.
func (c *Catalog) DeleteConfig(ctx context.Context, id string) error {
	_, span := c.tracer.StartWriteSpan(ctx, "delete_config", "")
	defer span.End()

	if err := c.store.DeleteConfig(ctx, id); err != nil {
		telemetry.RecordError(span, err)
		return service.NewTransientError("failed to delete config", err)
	}

	c.publishChange(ctx, id)
	c.log.WithField("config_id", id).Info("config deleted")
	telemetry.RecordSuccess(span)
	return nil
}

// SetVariant creates or replaces a config's per-environment overlay. The
// parent config's version is bumped so replicas pick up the variant; the new
// version is returned.
func (c *Catalog) SetVariant(ctx context.Context, configID, environmentID string, doc ConfigDocument, useBaseSchema bool) (int64, error) {
	_, span := c.tracer.StartWriteSpan(ctx, "set_variant", "")
	defer span.End()

	if err := doc.validate(); err != nil {
		telemetry.RecordError(span, err)
		return 0, err
	}
	value, schema, overrides, err := doc.columns()
	if err != nil {
		telemetry.RecordError(span, err)
		return 0, service.NewInternalError("failed to encode variant document", err)
	}

	row := &stores.VariantRow{
		ID:            uuid.New().String(),
		ConfigID:      configID,
		EnvironmentID: environmentID,
		Value:         value,
		Schema:        schema,
		Overrides:     overrides,
		UseBaseSchema: useBaseSchema,
	}
	version, err := c.store.UpsertVariant(ctx, row)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			nf := service.NewNotFoundError("config not found", configID)
			telemetry.RecordError(span, nf)
			return 0, nf
		}
		telemetry.RecordError(span, err)
		return 0, service.NewTransientError("failed to set variant", err)
	}

	c.publishChange(ctx, configID)
	c.log.WithField("config_id", configID).WithEnvironment(environmentID).Info("variant set")
	telemetry.RecordSuccess(span)
	return version, nil
}

// DeleteVariant removes a per-environment overlay, bumping the parent
// config's version.
func (c *Catalog) DeleteVariant(ctx context.Context, configID, environmentID string) (int64, error) {
	_, span := c.tracer.StartWriteSpan(ctx, "delete_variant", "")
	defer span.End()

	version, err := c.store.DeleteVariant(ctx, configID, environmentID)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			nf := service.NewNotFoundError("variant not found", configID)
			telemetry.RecordError(span, nf)
			return 0, nf
		}
		telemetry.RecordError(span, err)
		return 0, service.NewTransientError("failed to delete variant", err)
	}

	c.publishChange(ctx, configID)
	c.log.WithField("config_id", configID).WithEnvironment(environmentID).Info("variant deleted")
	telemetry.RecordSuccess(span)
	return version, nil
}

// publishChange announces a config mutation on the configs topic. A publish
// failure does not fail the write: the mutation is durable, and a consumer
// that misses the event catches up on its next full resync.
func (c *Catalog) publishChange(ctx context.Context, configID string) {
	if err := c.hub.Publish(ctx, TopicConfigs, changePayload{EntityID: configID}); err != nil {
		c.log.WithError(err).WithField("config_id", configID).Error("failed to publish change event")
	}
}
