package eval

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"unicode/utf16"
)

// Result is the outcome of evaluating a rendered override list.
type Result struct {
	// FinalValue is the matched override's value, or the base value when no
	// override matched.
	FinalValue any

	// Matched is the first override whose conditions all matched, or nil.
	Matched *RenderedOverride

	// Trace records the per-override outcome and any diagnostics.
	Trace []TraceEntry
}

// TraceEntry describes the evaluation of a single override.
type TraceEntry struct {
	Override    string   `json:"override"`
	Matched     bool     `json:"matched"`
	Diagnostics []string `json:"diagnostics,omitempty"`
}

// Evaluate applies the first-match-wins override semantics: overrides are
// visited in order, each override's conditions are AND-combined, and the first
// full match supplies the final value. Condition failures are never errors;
// anything malformed degrades to a non-match with a trace diagnostic.
func Evaluate(base any, overrides []RenderedOverride, context map[string]any) Result {
	result := Result{FinalValue: base}

	for i := range overrides {
		o := &overrides[i]
		entry := TraceEntry{Override: o.Name}

		matched := true
		for j := range o.Conditions {
			if !evalCondition(&o.Conditions[j], context, &entry.Diagnostics) {
				matched = false
				break
			}
		}
		entry.Matched = matched
		result.Trace = append(result.Trace, entry)

		if matched {
			result.FinalValue = o.Value
			result.Matched = o
			return result
		}
	}

	return result
}

// evalCondition evaluates one condition node against the context.
func evalCondition(c *RenderedCondition, context map[string]any, diags *[]string) bool {
	switch c.Op {
	case OpAnd:
		for i := range c.Conditions {
			if !evalCondition(&c.Conditions[i], context, diags) {
				return false
			}
		}
		return true

	case OpOr:
		for i := range c.Conditions {
			if evalCondition(&c.Conditions[i], context, diags) {
				return true
			}
		}
		return false

	case OpNot:
		if c.Condition == nil {
			*diags = append(*diags, "not condition has no child")
			return false
		}
		return !evalCondition(c.Condition, context, diags)

	case OpSegmentation:
		return evalSegmentation(c, context)

	case OpEquals:
		return evalEquals(c, context)

	case OpIn, OpNotIn:
		return evalMembership(c, context, diags)

	case OpLessThan, OpLessThanOrEqual, OpGreaterThan, OpGreaterThanOrEqual:
		return evalComparison(c, context, diags)

	default:
		*diags = append(*diags, fmt.Sprintf("unknown operator %q", c.Op))
		return false
	}
}

func evalEquals(c *RenderedCondition, context map[string]any) bool {
	ctxVal, ok := context[c.Property]
	if !ok {
		return false
	}
	return jsonEqual(ctxVal, coerce(ctxVal, c.Value))
}

func evalMembership(c *RenderedCondition, context map[string]any, diags *[]string) bool {
	ctxVal, ok := context[c.Property]
	if !ok {
		return false
	}
	expected, ok := c.Value.([]any)
	if !ok {
		*diags = append(*diags, fmt.Sprintf("%s expects an array value for property %q", c.Op, c.Property))
		return false
	}
	member := false
	for _, e := range expected {
		if jsonEqual(ctxVal, coerce(ctxVal, e)) {
			member = true
			break
		}
	}
	if c.Op == OpNotIn {
		return !member
	}
	return member
}

func evalComparison(c *RenderedCondition, context map[string]any, diags *[]string) bool {
	ctxVal, ok := context[c.Property]
	if !ok {
		return false
	}
	expected := coerce(ctxVal, c.Value)

	if ln, lok := asNumber(ctxVal); lok {
		if rn, rok := asNumber(expected); rok {
			return compareOrdered(c.Op, ln, rn)
		}
	}
	if ls, lok := ctxVal.(string); lok {
		if rs, rok := expected.(string); rok {
			return compareOrdered(c.Op, ls, rs)
		}
	}
	*diags = append(*diags, fmt.Sprintf(
		"%s on property %q: mismatched operand types (%T vs %T)", c.Op, c.Property, ctxVal, expected))
	return false
}

func compareOrdered[T float64 | string](op Op, left, right T) bool {
	switch op {
	case OpLessThan:
		return left < right
	case OpLessThanOrEqual:
		return left <= right
	case OpGreaterThan:
		return left > right
	case OpGreaterThanOrEqual:
		return left >= right
	}
	return false
}

func evalSegmentation(c *RenderedCondition, context map[string]any) bool {
	ctxVal, ok := context[c.Property]
	if !ok || ctxVal == nil || IsUndefined(ctxVal) {
		return false
	}
	s, ok := stringify(ctxVal)
	if !ok {
		return false
	}
	return float64(SegmentationBucket(s+c.Salt)) < c.Percentage
}

// SegmentationBucket computes the stable 0..99 bucket for a salted property
// string. The hash is the classic 32-bit string hash
// sum = (sum << 5) - sum + c over UTF-16 code units, wrapped to int32.
func SegmentationBucket(s string) int {
	var sum int32
	for _, u := range utf16.Encode([]rune(s)) {
		sum = (sum << 5) - sum + int32(u)
	}
	b := int64(sum)
	if b < 0 {
		b = -b
	}
	return int(b % 100)
}

// coerce aligns the expected value's type to the context value's type:
// numeric strings parse to numbers against number contexts, "true"/"false"
// and numbers map to booleans against boolean contexts, and numbers and
// booleans stringify against string contexts. Everything else passes through.
func coerce(ctxVal, expected any) any {
	if IsUndefined(expected) {
		return expected
	}

	if _, ok := asNumber(ctxVal); ok {
		if s, ok := expected.(string); ok {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f
			}
		}
		return expected
	}

	if _, ok := ctxVal.(bool); ok {
		switch e := expected.(type) {
		case string:
			if e == "true" {
				return true
			}
			if e == "false" {
				return false
			}
		default:
			if f, ok := asNumber(expected); ok {
				return f != 0
			}
		}
		return expected
	}

	if _, ok := ctxVal.(string); ok {
		if f, ok := asNumber(expected); ok {
			return formatNumber(f)
		}
		if b, ok := expected.(bool); ok {
			return strconv.FormatBool(b)
		}
	}

	return expected
}

// asNumber normalizes the numeric types that reach the evaluator, whether
// from JSON decoding (float64) or from Go-constructed contexts.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// stringify renders a scalar context value the way the client SDKs do before
// hashing: numbers in minimal decimal form, booleans as true/false.
func stringify(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case bool:
		return strconv.FormatBool(s), true
	}
	if f, ok := asNumber(v); ok {
		return formatNumber(f), true
	}
	return "", false
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// jsonEqual compares two JSON values, treating all numeric representations
// as equal when numerically equal.
func jsonEqual(a, b any) bool {
	if IsUndefined(a) || IsUndefined(b) {
		return false
	}
	if an, ok := asNumber(a); ok {
		bn, ok := asNumber(b)
		return ok && an == bn
	}
	return reflect.DeepEqual(a, b)
}
