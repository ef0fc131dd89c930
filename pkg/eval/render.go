package eval

// Resolver returns the raw stored value of a config for the environment the
// render runs in. It must not apply overrides; rendering reads stored values
// only, which keeps reference chains one hop deep and cycle-free.
type Resolver func(projectID, configName string) (any, bool)

// RenderOverrides resolves every reference value inside the override list to
// concrete JSON. Rendering happens once per read call and runs purely against
// in-memory state; failures degrade to Undefined, never to errors.
func RenderOverrides(overrides []Override, resolve Resolver) []RenderedOverride {
	rendered := make([]RenderedOverride, len(overrides))
	for i := range overrides {
		rendered[i] = RenderedOverride{
			Name:       overrides[i].Name,
			Conditions: renderConditions(overrides[i].Conditions, resolve),
			Value:      renderValue(overrides[i].Value, resolve),
		}
	}
	return rendered
}

func renderConditions(conditions []Condition, resolve Resolver) []RenderedCondition {
	if conditions == nil {
		return nil
	}
	out := make([]RenderedCondition, len(conditions))
	for i := range conditions {
		out[i] = renderCondition(&conditions[i], resolve)
	}
	return out
}

func renderCondition(c *Condition, resolve Resolver) RenderedCondition {
	rc := RenderedCondition{
		Op:         c.Op,
		Property:   c.Property,
		Percentage: c.Percentage,
		Salt:       c.Salt,
	}
	if c.Value != nil {
		rc.Value = renderValue(*c.Value, resolve)
	}
	if len(c.Conditions) > 0 {
		rc.Conditions = renderConditions(c.Conditions, resolve)
	}
	if c.Condition != nil {
		child := renderCondition(c.Condition, resolve)
		rc.Condition = &child
	}
	return rc
}

func renderValue(v Value, resolve Resolver) any {
	switch v.Type {
	case ValueLiteral:
		return v.Literal
	case ValueReference:
		if v.Reference == nil {
			return Undefined
		}
		root, ok := resolve(v.Reference.ProjectID, v.Reference.ConfigName)
		if !ok {
			return Undefined
		}
		return TraversePath(root, v.Reference.Path)
	default:
		return Undefined
	}
}

// TraversePath walks a JSON value along object keys and array indices.
// The walk stops at the first null, missing, or non-indexable step and
// yields Undefined.
func TraversePath(root any, path []any) any {
	current := root
	for _, step := range path {
		if current == nil || IsUndefined(current) {
			return Undefined
		}
		switch node := current.(type) {
		case map[string]any:
			key, ok := step.(string)
			if !ok {
				return Undefined
			}
			current, ok = node[key]
			if !ok {
				return Undefined
			}
		case []any:
			idx, ok := asIndex(step)
			if !ok || idx < 0 || idx >= len(node) {
				return Undefined
			}
			current = node[idx]
		default:
			return Undefined
		}
	}
	if current == nil {
		return nil
	}
	return current
}

func asIndex(step any) (int, bool) {
	switch i := step.(type) {
	case int:
		return i, true
	case float64:
		return int(i), true
	}
	return 0, false
}
