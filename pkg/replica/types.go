// Package replica holds the in-memory, read-optimized projection of the
// config set. The replicator is its only writer; the read API and the
// reference resolver are its readers.
package replica

import (
	"encoding/json"

	"github.com/confwell/confwell/pkg/eval"
)

// Variant is the per-environment overlay of a config.
type Variant struct {
	ID            string
	EnvironmentID string
	Value         any
	Schema        json.RawMessage
	Overrides     []eval.Override
	UseBaseSchema bool
}

// Config is one replicated config document with all of its variants.
// Instances are immutable once handed to the store; the replicator replaces
// whole entries rather than mutating in place, so readers may hold a *Config
// outside the store's lock.
type Config struct {
	ID            string
	ProjectID     string
	Name          string
	Version       int64
	BaseValue     any
	BaseSchema    json.RawMessage
	BaseOverrides []eval.Override
	Variants      map[string]*Variant // keyed by environment id
}

// EntityID implements replicator.Entity.
func (c *Config) EntityID() string { return c.ID }

// EntityVersion implements replicator.Entity.
func (c *Config) EntityVersion() int64 { return c.Version }

// EnvironmentalConfig is a config as seen from one environment: the variant's
// document when one exists, the base document otherwise.
type EnvironmentalConfig struct {
	Name          string
	Version       int64
	EnvironmentID string
	Value         any
	Schema        json.RawMessage
	Overrides     []eval.Override
}

// Environmental resolves the config for one environment. A variant replaces
// value and overrides; its schema applies unless it opts into the base schema.
func (c *Config) Environmental(environmentID string) *EnvironmentalConfig {
	ec := &EnvironmentalConfig{
		Name:          c.Name,
		Version:       c.Version,
		EnvironmentID: environmentID,
		Value:         c.BaseValue,
		Schema:        c.BaseSchema,
		Overrides:     c.BaseOverrides,
	}
	if v, ok := c.Variants[environmentID]; ok {
		ec.Value = v.Value
		ec.Overrides = v.Overrides
		if v.UseBaseSchema {
			ec.Schema = c.BaseSchema
		} else {
			ec.Schema = v.Schema
		}
	}
	return ec
}

// references collects the (projectID, configName) targets of every reference
// value reachable from the config's overrides, across base and all variants.
func (c *Config) references() map[refKey]struct{} {
	refs := make(map[refKey]struct{})
	collectOverrideRefs(c.BaseOverrides, refs)
	for _, v := range c.Variants {
		collectOverrideRefs(v.Overrides, refs)
	}
	return refs
}

func collectOverrideRefs(overrides []eval.Override, refs map[refKey]struct{}) {
	for i := range overrides {
		collectValueRefs(&overrides[i].Value, refs)
		collectConditionRefs(overrides[i].Conditions, refs)
	}
}

func collectConditionRefs(conditions []eval.Condition, refs map[refKey]struct{}) {
	for i := range conditions {
		c := &conditions[i]
		if c.Value != nil {
			collectValueRefs(c.Value, refs)
		}
		collectConditionRefs(c.Conditions, refs)
		if c.Condition != nil {
			collectConditionRefs([]eval.Condition{*c.Condition}, refs)
		}
	}
}

func collectValueRefs(v *eval.Value, refs map[refKey]struct{}) {
	if v.Type == eval.ValueReference && v.Reference != nil {
		refs[refKey{projectID: v.Reference.ProjectID, name: v.Reference.ConfigName}] = struct{}{}
	}
}
