// Package eval implements the override condition model and its evaluation:
// the tagged Condition/Value unions authored in config documents, reference
// rendering against the replica, and the first-match-wins evaluator.
package eval

import (
	"encoding/json"
	"fmt"
)

// Op identifies a condition operator.
type Op string

const (
	OpEquals             Op = "equals"
	OpIn                 Op = "in"
	OpNotIn              Op = "not_in"
	OpLessThan           Op = "less_than"
	OpLessThanOrEqual    Op = "less_than_or_equal"
	OpGreaterThan        Op = "greater_than"
	OpGreaterThanOrEqual Op = "greater_than_or_equal"
	OpSegmentation       Op = "segmentation"
	OpAnd                Op = "and"
	OpOr                 Op = "or"
	OpNot                Op = "not"
)

// ValueType discriminates the Value union.
type ValueType string

const (
	ValueLiteral   ValueType = "literal"
	ValueReference ValueType = "reference"
)

// Reference points at a JSON sub-tree of another config's stored value.
// Path elements are object keys (string) or array indices (int).
type Reference struct {
	ProjectID  string `json:"projectId"`
	ConfigName string `json:"configName"`
	Path       []any  `json:"path"`
}

// Value is the tagged union carried by overrides and property conditions:
// either a literal JSON value or a cross-config reference.
type Value struct {
	Type      ValueType
	Literal   any
	Reference *Reference
}

// valueWire is the canonical JSON shape of a Value.
type valueWire struct {
	Type       ValueType       `json:"type"`
	Value      json.RawMessage `json:"value,omitempty"`
	ProjectID  string          `json:"projectId,omitempty"`
	ConfigName string          `json:"configName,omitempty"`
	Path       []any           `json:"path,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Type {
	case ValueLiteral:
		raw, err := json.Marshal(v.Literal)
		if err != nil {
			return nil, err
		}
		return json.Marshal(valueWire{Type: ValueLiteral, Value: raw})
	case ValueReference:
		if v.Reference == nil {
			return nil, fmt.Errorf("reference value has no reference")
		}
		return json.Marshal(valueWire{
			Type:       ValueReference,
			ProjectID:  v.Reference.ProjectID,
			ConfigName: v.Reference.ConfigName,
			Path:       v.Reference.Path,
		})
	default:
		return nil, fmt.Errorf("unknown value type: %q", v.Type)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var wire valueWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	switch wire.Type {
	case ValueLiteral:
		var lit any
		if len(wire.Value) > 0 {
			if err := json.Unmarshal(wire.Value, &lit); err != nil {
				return err
			}
		}
		*v = Value{Type: ValueLiteral, Literal: lit}
		return nil
	case ValueReference:
		*v = Value{Type: ValueReference, Reference: &Reference{
			ProjectID:  wire.ProjectID,
			ConfigName: wire.ConfigName,
			Path:       normalizePath(wire.Path),
		}}
		return nil
	default:
		return fmt.Errorf("unknown value type: %q", wire.Type)
	}
}

// normalizePath converts JSON numbers in a reference path to int indices.
func normalizePath(path []any) []any {
	out := make([]any, len(path))
	for i, step := range path {
		if f, ok := step.(float64); ok {
			out[i] = int(f)
			continue
		}
		out[i] = step
	}
	return out
}

// Condition is the recursive condition union, discriminated by Op.
// Property conditions use Property+Value, segmentation uses
// Property+Percentage+Salt, and/or use Conditions, not uses Condition.
type Condition struct {
	Op         Op          `json:"op"`
	Property   string      `json:"property,omitempty"`
	Value      *Value      `json:"value,omitempty"`
	Percentage float64     `json:"percentage,omitempty"`
	Salt       string      `json:"salt,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
	Condition  *Condition  `json:"condition,omitempty"`
}

// Validate checks that the fields required by the operator are present.
func (c *Condition) Validate() error {
	switch c.Op {
	case OpEquals, OpIn, OpNotIn, OpLessThan, OpLessThanOrEqual, OpGreaterThan, OpGreaterThanOrEqual:
		if c.Property == "" {
			return fmt.Errorf("%s condition requires a property", c.Op)
		}
		if c.Value == nil {
			return fmt.Errorf("%s condition requires a value", c.Op)
		}
	case OpSegmentation:
		if c.Property == "" {
			return fmt.Errorf("segmentation condition requires a property")
		}
		if c.Percentage < 0 || c.Percentage > 100 {
			return fmt.Errorf("segmentation percentage must be within [0,100], got %v", c.Percentage)
		}
	case OpAnd, OpOr:
		for i := range c.Conditions {
			if err := c.Conditions[i].Validate(); err != nil {
				return err
			}
		}
	case OpNot:
		if c.Condition == nil {
			return fmt.Errorf("not condition requires a child condition")
		}
		return c.Condition.Validate()
	default:
		return fmt.Errorf("unknown condition operator: %q", c.Op)
	}
	return nil
}

// Override is a named rule that replaces the base value when all of its
// conditions match the request context. Conditions are implicitly AND-combined.
type Override struct {
	Name       string      `json:"name"`
	Conditions []Condition `json:"conditions"`
	Value      Value       `json:"value"`
}

// Validate checks the override and all of its conditions.
func (o *Override) Validate() error {
	for i := range o.Conditions {
		if err := o.Conditions[i].Validate(); err != nil {
			return fmt.Errorf("override %q: %w", o.Name, err)
		}
	}
	return nil
}

// undefinedType is the resolution failure sentinel. It is distinct from JSON
// null: a dangling reference or dead path step resolves to Undefined, which
// compares unequal to everything and sits outside every range.
type undefinedType struct{}

// Undefined is the single undefinedType value.
var Undefined = undefinedType{}

// MarshalJSON renders Undefined as JSON null on the wire.
func (undefinedType) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// IsUndefined reports whether v is the Undefined sentinel.
func IsUndefined(v any) bool {
	_, ok := v.(undefinedType)
	return ok
}

// RenderedCondition mirrors Condition with reference values resolved to
// concrete JSON.
type RenderedCondition struct {
	Op         Op                  `json:"op"`
	Property   string              `json:"property,omitempty"`
	Value      any                 `json:"value,omitempty"`
	Percentage float64             `json:"percentage,omitempty"`
	Salt       string              `json:"salt,omitempty"`
	Conditions []RenderedCondition `json:"conditions,omitempty"`
	Condition  *RenderedCondition  `json:"condition,omitempty"`
}

// RenderedOverride mirrors Override with a concrete JSON value.
type RenderedOverride struct {
	Name       string              `json:"name"`
	Conditions []RenderedCondition `json:"conditions"`
	Value      any                 `json:"value"`
}
