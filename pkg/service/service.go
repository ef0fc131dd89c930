package service

import (
	"context"
	"encoding/json"

	"github.com/confwell/confwell/pkg/eval"
	"github.com/confwell/confwell/pkg/replica"
	"github.com/confwell/confwell/pkg/replicator"
	"github.com/confwell/confwell/pkg/stream"
	"github.com/confwell/confwell/pkg/telemetry"
)

// RenderedConfig is a config as served to clients: resolved for one
// environment, with every reference inside its overrides rendered to
// concrete JSON.
type RenderedConfig struct {
	Name          string                  `json:"name"`
	Version       int64                   `json:"version"`
	EnvironmentID string                  `json:"environmentId"`
	Value         any                     `json:"value"`
	Schema        json.RawMessage         `json:"schema,omitempty"`
	Overrides     []eval.RenderedOverride `json:"renderedOverrides"`
}

// Service is the read core over the replica.
type Service struct {
	replica *replica.Store
	bus     *stream.Bus

	log     *telemetry.Logger
	tracer  *telemetry.Tracer
	metrics *telemetry.Metrics
}

// New creates the read service over a replica store and a change bus.
func New(store *replica.Store, bus *stream.Bus, tel *telemetry.Telemetry) *Service {
	return &Service{
		replica: store,
		bus:     bus,
		log:     tel.Logger.NewComponentLogger("service"),
		tracer:  tel.Tracer,
		metrics: tel.Metrics,
	}
}

// resolver returns raw stored values for reference rendering. References
// resolve within the reader's environment; a target with no variant there
// falls back to its base value.
func (s *Service) resolver(environmentID string) eval.Resolver {
	return func(projectID, configName string) (any, bool) {
		return s.replica.GetConfigValue(projectID, configName, environmentID)
	}
}

// GetConfig returns one rendered config.
func (s *Service) GetConfig(ctx context.Context, projectID, environmentID, name string) (*RenderedConfig, error) {
	_, span := s.tracer.StartReadSpan(ctx, "get_config", projectID, name, environmentID)
	defer span.End()
	timer := telemetry.NewTimer()

	ec, ok := s.replica.GetEnvironmentalConfig(projectID, name, environmentID)
	if !ok {
		s.metrics.RecordConfigRead("get_config", "not_found")
		err := NewNotFoundError("config not found", name)
		telemetry.RecordError(span, err)
		return nil, err
	}

	rendered := s.render(ec, environmentID)
	s.metrics.RecordConfigRead("get_config", "ok")
	s.metrics.RecordReadDuration("get_config", timer.Duration())
	telemetry.RecordSuccess(span)
	return rendered, nil
}

// GetProjectConfigs returns every config of the project, rendered for the
// environment and ordered by name.
func (s *Service) GetProjectConfigs(ctx context.Context, projectID, environmentID string) ([]*RenderedConfig, error) {
	_, span := s.tracer.StartReadSpan(ctx, "get_project_configs", projectID, "", environmentID)
	defer span.End()
	timer := telemetry.NewTimer()

	configs := s.replica.GetProjectConfigs(projectID, environmentID)
	rendered := make([]*RenderedConfig, len(configs))
	for i, ec := range configs {
		rendered[i] = s.render(ec, environmentID)
	}
	s.metrics.RecordConfigRead("get_project_configs", "ok")
	s.metrics.RecordReadDuration("get_project_configs", timer.Duration())
	telemetry.RecordSuccess(span)
	return rendered, nil
}

// GetConfigValue renders the config and evaluates its overrides against the
// caller's context, returning the final value and the evaluation result.
func (s *Service) GetConfigValue(ctx context.Context, projectID, environmentID, name string, evalContext map[string]any) (eval.Result, error) {
	_, span := s.tracer.StartReadSpan(ctx, "get_config_value", projectID, name, environmentID)
	defer span.End()
	timer := telemetry.NewTimer()

	ec, ok := s.replica.GetEnvironmentalConfig(projectID, name, environmentID)
	if !ok {
		s.metrics.RecordConfigRead("get_config_value", "not_found")
		err := NewNotFoundError("config not found", name)
		telemetry.RecordError(span, err)
		return eval.Result{}, err
	}

	overrides := eval.RenderOverrides(ec.Overrides, s.resolver(environmentID))
	result := eval.Evaluate(ec.Value, overrides, evalContext)

	outcome := "default"
	if result.Matched != nil {
		outcome = "matched"
	}
	s.metrics.RecordEvaluation(outcome)
	s.metrics.RecordConfigRead("get_config_value", "ok")
	s.metrics.RecordReadDuration("get_config_value", timer.Duration())
	telemetry.RecordSuccess(span)
	return result, nil
}

func (s *Service) render(ec *replica.EnvironmentalConfig, environmentID string) *RenderedConfig {
	return &RenderedConfig{
		Name:          ec.Name,
		Version:       ec.Version,
		EnvironmentID: environmentID,
		Value:         ec.Value,
		Schema:        ec.Schema,
		Overrides:     eval.RenderOverrides(ec.Overrides, s.resolver(environmentID)),
	}
}

// RenderEventPayload fills the event with the config's current rendered form
// for one environment, so a subscriber can refresh from the event alone. A
// config no longer in the replica (deleted) keeps an empty payload.
func (s *Service) RenderEventPayload(event stream.Event, environmentID string) stream.Event {
	ec, ok := s.replica.GetEnvironmentalConfig(event.ProjectID, event.ConfigName, environmentID)
	if !ok {
		return event
	}
	event.Value = ec.Value
	event.Overrides = eval.RenderOverrides(ec.Overrides, s.resolver(environmentID))
	return event
}

// Subscribe attaches a change-stream subscription scoped to one project.
// Events published before the subscription never arrive; callers read current
// state first and treat events as invalidation signals.
func (s *Service) Subscribe(projectID string) *stream.Subscription {
	return s.bus.Subscribe(projectID)
}

// HandleChange is the replicator's change observer. Each applied change
// produces one direct event, plus an update event for every config whose
// overrides reference the changed config, since their rendered form may have
// changed even though their own version did not.
func (s *Service) HandleChange(change replicator.Change[*replica.Config]) {
	cfg := change.Entity
	var eventType stream.EventType
	switch change.Type {
	case replicator.ChangeCreated:
		eventType = stream.EventConfigCreated
	case replicator.ChangeUpdated:
		eventType = stream.EventConfigUpdated
	case replicator.ChangeDeleted:
		eventType = stream.EventConfigDeleted
	default:
		return
	}

	s.bus.Publish(stream.Event{
		Type:       eventType,
		ProjectID:  cfg.ProjectID,
		ConfigName: cfg.Name,
		Version:    cfg.Version,
	})

	for _, dependentID := range s.replica.ReferencedBy(cfg.ProjectID, cfg.Name) {
		if dependentID == cfg.ID {
			continue
		}
		dependent, ok := s.replica.Get(dependentID)
		if !ok {
			continue
		}
		s.bus.Publish(stream.Event{
			Type:       stream.EventConfigUpdated,
			ProjectID:  dependent.ProjectID,
			ConfigName: dependent.Name,
			Version:    dependent.Version,
		})
	}
}
