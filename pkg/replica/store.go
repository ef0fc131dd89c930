package replica

import (
	"sort"
	"sync"

	"github.com/confwell/confwell/pkg/replicator"
)

type nameKey struct {
	projectID string
	name      string
}

type refKey struct {
	projectID string
	name      string
}

// Store is the in-memory replica of all config documents, indexed by id, by
// (projectId, name), by project, and inversely by reference target. All reads
// and all replicator writes are mutually exclusive under one RWMutex; an
// upsert batch is a single exclusive critical section, so readers never
// observe a partial batch.
type Store struct {
	mu sync.RWMutex

	configs          map[string]*Config
	byProjectAndName map[nameKey]string
	byProject        map[string]map[string]struct{}

	// referencedBy maps a reference target to the set of config ids whose
	// overrides reference it; refsOf is the forward index used to unwind it.
	referencedBy map[refKey]map[string]struct{}
	refsOf       map[string]map[refKey]struct{}

	consumerID  string
	hasConsumer bool
}

// NewStore creates an empty replica store.
func NewStore() *Store {
	s := &Store{}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.configs = make(map[string]*Config)
	s.byProjectAndName = make(map[nameKey]string)
	s.byProject = make(map[string]map[string]struct{})
	s.referencedBy = make(map[refKey]map[string]struct{})
	s.refsOf = make(map[string]map[refKey]struct{})
}

// Upsert applies one batch of config snapshots. An entry whose version is at
// or below the stored version reports OutcomeIgnored, which makes event
// replay and re-dumps idempotent.
func (s *Store) Upsert(configs []*Config) []replicator.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	outcomes := make([]replicator.Outcome, len(configs))
	for i, c := range configs {
		outcomes[i] = s.upsertLocked(c)
	}
	return outcomes
}

func (s *Store) upsertLocked(c *Config) replicator.Outcome {
	prior, exists := s.configs[c.ID]
	if exists && prior.Version >= c.Version {
		return replicator.OutcomeIgnored
	}
	if exists {
		s.unindexLocked(prior)
	}
	s.indexLocked(c)
	if exists {
		return replicator.OutcomeUpdated
	}
	return replicator.OutcomeCreated
}

// Delete removes a config, returning the prior entry when present.
func (s *Store) Delete(id string) (*Config, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prior, exists := s.configs[id]
	if !exists {
		return nil, false
	}
	s.unindexLocked(prior)
	return prior, true
}

// Clear drops all replica state except the persisted consumer id.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// ConsumerID returns the event-queue consumer this replica is bound to.
func (s *Store) ConsumerID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.consumerID, s.hasConsumer
}

// SetConsumerID binds the replica to an event-queue consumer.
func (s *Store) SetConsumerID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumerID = id
	s.hasConsumer = true
}

func (s *Store) indexLocked(c *Config) {
	s.configs[c.ID] = c
	s.byProjectAndName[nameKey{c.ProjectID, c.Name}] = c.ID

	project, ok := s.byProject[c.ProjectID]
	if !ok {
		project = make(map[string]struct{})
		s.byProject[c.ProjectID] = project
	}
	project[c.ID] = struct{}{}

	refs := c.references()
	s.refsOf[c.ID] = refs
	for key := range refs {
		set, ok := s.referencedBy[key]
		if !ok {
			set = make(map[string]struct{})
			s.referencedBy[key] = set
		}
		set[c.ID] = struct{}{}
	}
}

func (s *Store) unindexLocked(c *Config) {
	delete(s.configs, c.ID)
	delete(s.byProjectAndName, nameKey{c.ProjectID, c.Name})

	if project, ok := s.byProject[c.ProjectID]; ok {
		delete(project, c.ID)
		if len(project) == 0 {
			delete(s.byProject, c.ProjectID)
		}
	}

	for key := range s.refsOf[c.ID] {
		if set, ok := s.referencedBy[key]; ok {
			delete(set, c.ID)
			if len(set) == 0 {
				delete(s.referencedBy, key)
			}
		}
	}
	delete(s.refsOf, c.ID)
}

// Get returns a config snapshot by id.
func (s *Store) Get(id string) (*Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.configs[id]
	return c, ok
}

// GetEnvironmentalConfig resolves a config for one environment: the variant's
// document when one exists for the environment, the base document otherwise.
func (s *Store) GetEnvironmentalConfig(projectID, name, environmentID string) (*EnvironmentalConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byProjectAndName[nameKey{projectID, name}]
	if !ok {
		return nil, false
	}
	return s.configs[id].Environmental(environmentID), true
}

// GetConfigValue returns the raw stored value of a config for an environment,
// without overrides applied. This is what the reference resolver reads.
func (s *Store) GetConfigValue(projectID, name, environmentID string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byProjectAndName[nameKey{projectID, name}]
	if !ok {
		return nil, false
	}
	c := s.configs[id]
	if v, ok := c.Variants[environmentID]; ok {
		return v.Value, true
	}
	return c.BaseValue, true
}

// GetProjectConfigs returns all of a project's configs resolved for one
// environment, ordered by name.
func (s *Store) GetProjectConfigs(projectID, environmentID string) []*EnvironmentalConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*EnvironmentalConfig, 0, len(s.byProject[projectID]))
	for id := range s.byProject[projectID] {
		out = append(out, s.configs[id].Environmental(environmentID))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ReferencedBy returns the ids of configs whose overrides reference the given
// (projectId, configName) target.
func (s *Store) ReferencedBy(projectID, name string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.referencedBy[refKey{projectID, name}]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of replicated configs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.configs)
}
