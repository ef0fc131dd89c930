package eval

import (
	"encoding/json"
	"testing"
)

func override(name string, value any, conditions ...RenderedCondition) RenderedOverride {
	return RenderedOverride{Name: name, Conditions: conditions, Value: value}
}

func equalsCond(property string, value any) RenderedCondition {
	return RenderedCondition{Op: OpEquals, Property: property, Value: value}
}

func TestEvaluateFirstMatchWins(t *testing.T) {
	overrides := []RenderedOverride{
		override("first", "from-first", equalsCond("tier", "pro")),
		override("second", "from-second", equalsCond("tier", "pro")),
	}

	result := Evaluate("base", overrides, map[string]any{"tier": "pro"})
	if result.FinalValue != "from-first" {
		t.Errorf("expected from-first, got %v", result.FinalValue)
	}
	if result.Matched == nil || result.Matched.Name != "first" {
		t.Errorf("expected first override to match, got %+v", result.Matched)
	}
	// Evaluation stops at the first match
	if len(result.Trace) != 1 {
		t.Errorf("expected 1 trace entry, got %d", len(result.Trace))
	}
}

func TestEvaluateNoMatchKeepsBase(t *testing.T) {
	overrides := []RenderedOverride{
		override("pro-only", "upgraded", equalsCond("tier", "pro")),
	}

	result := Evaluate("base", overrides, map[string]any{"tier": "free"})
	if result.FinalValue != "base" {
		t.Errorf("expected base value, got %v", result.FinalValue)
	}
	if result.Matched != nil {
		t.Errorf("expected no match, got %+v", result.Matched)
	}
	if len(result.Trace) != 1 || result.Trace[0].Matched {
		t.Errorf("expected one non-matched trace entry, got %+v", result.Trace)
	}
}

func TestEvaluateConditionsAreANDCombined(t *testing.T) {
	overrides := []RenderedOverride{
		override("both", true,
			equalsCond("tier", "pro"),
			equalsCond("region", "eu"),
		),
	}

	result := Evaluate(false, overrides, map[string]any{"tier": "pro", "region": "us"})
	if result.Matched != nil {
		t.Errorf("expected no match when one condition fails, got %+v", result.Matched)
	}

	result = Evaluate(false, overrides, map[string]any{"tier": "pro", "region": "eu"})
	if result.Matched == nil {
		t.Error("expected match when all conditions hold")
	}
}

func TestEvaluateMissingPropertyNeverMatches(t *testing.T) {
	conds := []RenderedCondition{
		equalsCond("tier", "pro"),
		{Op: OpNotIn, Property: "tier", Value: []any{"pro"}},
		{Op: OpLessThan, Property: "age", Value: float64(10)},
		{Op: OpSegmentation, Property: "userId", Percentage: 100},
	}
	for _, c := range conds {
		result := Evaluate("base", []RenderedOverride{override("o", "v", c)}, map[string]any{})
		if result.Matched != nil {
			t.Errorf("%s: expected no match for missing property", c.Op)
		}
	}
}

func TestEvaluateEqualsCoercion(t *testing.T) {
	tests := []struct {
		name     string
		ctxVal   any
		expected any
		want     bool
	}{
		{"number vs numeric string", float64(25), "25", true},
		{"int context vs float expected", 25, float64(25), true},
		{"number vs non-numeric string", float64(25), "abc", false},
		{"bool vs string true", true, "true", true},
		{"bool vs string false", false, "false", true},
		{"bool vs number", true, float64(1), true},
		{"bool vs zero", false, float64(0), true},
		{"string vs number", "5", float64(5), true},
		{"string vs bool", "true", true, true},
		{"string vs fractional number", "1.5", 1.5, true},
		{"plain strings", "eu", "eu", true},
		{"undefined never equals", "x", Undefined, false},
		{"null equals null", nil, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			overrides := []RenderedOverride{override("o", "v", equalsCond("p", tt.expected))}
			result := Evaluate("base", overrides, map[string]any{"p": tt.ctxVal})
			got := result.Matched != nil
			if got != tt.want {
				t.Errorf("equals(%v, %v) = %v, want %v", tt.ctxVal, tt.expected, got, tt.want)
			}
		})
	}
}

func TestEvaluateMembership(t *testing.T) {
	in := RenderedCondition{Op: OpIn, Property: "region", Value: []any{"eu", "us"}}
	notIn := RenderedCondition{Op: OpNotIn, Property: "region", Value: []any{"eu", "us"}}

	result := Evaluate("base", []RenderedOverride{override("o", "v", in)}, map[string]any{"region": "eu"})
	if result.Matched == nil {
		t.Error("expected in to match a member")
	}
	result = Evaluate("base", []RenderedOverride{override("o", "v", in)}, map[string]any{"region": "apac"})
	if result.Matched != nil {
		t.Error("expected in to reject a non-member")
	}
	result = Evaluate("base", []RenderedOverride{override("o", "v", notIn)}, map[string]any{"region": "apac"})
	if result.Matched == nil {
		t.Error("expected not_in to match a non-member")
	}

	// Membership coerces per element
	numbers := RenderedCondition{Op: OpIn, Property: "count", Value: []any{"1", "2"}}
	result = Evaluate("base", []RenderedOverride{override("o", "v", numbers)}, map[string]any{"count": float64(2)})
	if result.Matched == nil {
		t.Error("expected numeric coercion inside in")
	}

	// A non-array expected value degrades to non-match with a diagnostic
	malformed := RenderedCondition{Op: OpIn, Property: "region", Value: "eu"}
	result = Evaluate("base", []RenderedOverride{override("o", "v", malformed)}, map[string]any{"region": "eu"})
	if result.Matched != nil {
		t.Error("expected malformed in to degrade to non-match")
	}
	if len(result.Trace) != 1 || len(result.Trace[0].Diagnostics) == 0 {
		t.Errorf("expected a diagnostic, got %+v", result.Trace)
	}
}

func TestEvaluateComparisons(t *testing.T) {
	tests := []struct {
		op     Op
		ctxVal any
		value  any
		want   bool
	}{
		{OpLessThan, float64(5), float64(10), true},
		{OpLessThan, float64(10), float64(10), false},
		{OpLessThanOrEqual, float64(10), float64(10), true},
		{OpGreaterThan, float64(11), float64(10), true},
		{OpGreaterThanOrEqual, float64(9), float64(10), false},
		// Numeric strings coerce against number contexts
		{OpLessThan, float64(5), "10", true},
		// Strings compare lexicographically
		{OpLessThan, "apple", "banana", true},
		{OpGreaterThan, "apple", "banana", false},
		// Mismatched operand types never match
		{OpLessThan, "apple", float64(10), false},
		{OpGreaterThan, true, float64(0), false},
	}

	for _, tt := range tests {
		c := RenderedCondition{Op: tt.op, Property: "p", Value: tt.value}
		result := Evaluate("base", []RenderedOverride{override("o", "v", c)}, map[string]any{"p": tt.ctxVal})
		got := result.Matched != nil
		if got != tt.want {
			t.Errorf("%s(%v, %v) = %v, want %v", tt.op, tt.ctxVal, tt.value, got, tt.want)
		}
	}
}

func TestEvaluateBooleanCombinators(t *testing.T) {
	ctx := map[string]any{"tier": "pro", "region": "eu"}

	and := RenderedCondition{Op: OpAnd, Conditions: []RenderedCondition{
		equalsCond("tier", "pro"),
		equalsCond("region", "eu"),
	}}
	or := RenderedCondition{Op: OpOr, Conditions: []RenderedCondition{
		equalsCond("tier", "enterprise"),
		equalsCond("region", "eu"),
	}}
	not := RenderedCondition{Op: OpNot, Condition: &RenderedCondition{
		Op: OpEquals, Property: "tier", Value: "free",
	}}

	for _, c := range []RenderedCondition{and, or, not} {
		result := Evaluate("base", []RenderedOverride{override("o", "v", c)}, ctx)
		if result.Matched == nil {
			t.Errorf("%s: expected match", c.Op)
		}
	}

	// Empty and matches, empty or does not
	result := Evaluate("base", []RenderedOverride{override("o", "v", RenderedCondition{Op: OpAnd})}, ctx)
	if result.Matched == nil {
		t.Error("expected empty and to match")
	}
	result = Evaluate("base", []RenderedOverride{override("o", "v", RenderedCondition{Op: OpOr})}, ctx)
	if result.Matched != nil {
		t.Error("expected empty or not to match")
	}
}

func TestSegmentationBucket(t *testing.T) {
	// Known values of the 32-bit string hash
	if got := SegmentationBucket(""); got != 0 {
		t.Errorf("bucket(\"\") = %d, want 0", got)
	}
	if got := SegmentationBucket("a"); got != 97 {
		t.Errorf("bucket(\"a\") = %d, want 97", got)
	}

	// Deterministic and in range
	for _, s := range []string{"user-1", "user-2", "user-3", "véry-ünïcode"} {
		first := SegmentationBucket(s)
		if first < 0 || first > 99 {
			t.Errorf("bucket(%q) = %d, out of range", s, first)
		}
		if again := SegmentationBucket(s); again != first {
			t.Errorf("bucket(%q) not deterministic: %d then %d", s, first, again)
		}
	}
}

func TestEvaluateSegmentation(t *testing.T) {
	// bucket("a") is 97; strict less-than is the boundary
	seg := func(percentage float64) RenderedCondition {
		return RenderedCondition{Op: OpSegmentation, Property: "userId", Percentage: percentage}
	}
	ctx := map[string]any{"userId": "a"}

	result := Evaluate("base", []RenderedOverride{override("o", "v", seg(98))}, ctx)
	if result.Matched == nil {
		t.Error("expected bucket 97 to match percentage 98")
	}
	result = Evaluate("base", []RenderedOverride{override("o", "v", seg(97))}, ctx)
	if result.Matched != nil {
		t.Error("expected bucket 97 not to match percentage 97")
	}
	result = Evaluate("base", []RenderedOverride{override("o", "v", seg(0))}, ctx)
	if result.Matched != nil {
		t.Error("expected percentage 0 to never match")
	}

	// Salt moves users to a different bucket space
	salted := RenderedCondition{Op: OpSegmentation, Property: "userId", Percentage: 98, Salt: "exp-2"}
	want := float64(SegmentationBucket("a"+"exp-2")) < 98
	result = Evaluate("base", []RenderedOverride{override("o", "v", salted)}, ctx)
	if (result.Matched != nil) != want {
		t.Errorf("salted segmentation = %v, want %v", result.Matched != nil, want)
	}

	// Non-string identities hash their canonical string form
	numCtx := map[string]any{"userId": float64(42)}
	want = float64(SegmentationBucket("42")) < 50
	result = Evaluate("base", []RenderedOverride{override("o", "v", seg(50))}, numCtx)
	if (result.Matched != nil) != want {
		t.Errorf("numeric identity segmentation = %v, want %v", result.Matched != nil, want)
	}

	// Null identities never match
	result = Evaluate("base", []RenderedOverride{override("o", "v", seg(100))}, map[string]any{"userId": nil})
	if result.Matched != nil {
		t.Error("expected null identity not to match")
	}
}

func TestUndefinedMarshalsToNull(t *testing.T) {
	data, err := json.Marshal(Undefined)
	if err != nil {
		t.Fatalf("failed to marshal Undefined: %v", err)
	}
	if string(data) != "null" {
		t.Errorf("expected null, got %s", data)
	}
	if !IsUndefined(Undefined) {
		t.Error("IsUndefined(Undefined) = false")
	}
	if IsUndefined(nil) {
		t.Error("IsUndefined(nil) = true")
	}
}

func TestConditionValidate(t *testing.T) {
	valid := []Condition{
		{Op: OpEquals, Property: "tier", Value: &Value{Type: ValueLiteral, Literal: "pro"}},
		{Op: OpSegmentation, Property: "userId", Percentage: 50},
		{Op: OpAnd, Conditions: []Condition{{Op: OpSegmentation, Property: "u", Percentage: 10}}},
		{Op: OpNot, Condition: &Condition{Op: OpSegmentation, Property: "u", Percentage: 10}},
	}
	for _, c := range valid {
		if err := c.Validate(); err != nil {
			t.Errorf("%s: unexpected validation error: %v", c.Op, err)
		}
	}

	invalid := []Condition{
		{Op: OpEquals, Value: &Value{Type: ValueLiteral, Literal: "pro"}}, // no property
		{Op: OpEquals, Property: "tier"},                                 // no value
		{Op: OpSegmentation, Property: "u", Percentage: 101},
		{Op: OpSegmentation, Property: "u", Percentage: -1},
		{Op: OpNot},
		{Op: Op("matches")},
		{Op: OpAnd, Conditions: []Condition{{Op: OpNot}}}, // invalid child
	}
	for i, c := range invalid {
		if err := c.Validate(); err == nil {
			t.Errorf("case %d (%s): expected validation error", i, c.Op)
		}
	}
}

func TestValueJSONRoundTrip(t *testing.T) {
	lit := Value{Type: ValueLiteral, Literal: map[string]any{"limit": float64(5)}}
	data, err := json.Marshal(lit)
	if err != nil {
		t.Fatalf("failed to marshal literal: %v", err)
	}
	var back Value
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("failed to unmarshal literal: %v", err)
	}
	if back.Type != ValueLiteral {
		t.Errorf("expected literal type, got %s", back.Type)
	}

	ref := Value{Type: ValueReference, Reference: &Reference{
		ProjectID:  "proj-1",
		ConfigName: "plans",
		Path:       []any{"tiers", 0, "limit"},
	}}
	data, err = json.Marshal(ref)
	if err != nil {
		t.Fatalf("failed to marshal reference: %v", err)
	}
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("failed to unmarshal reference: %v", err)
	}
	if back.Reference == nil || back.Reference.ConfigName != "plans" {
		t.Fatalf("reference lost in round trip: %+v", back)
	}
	// JSON numbers in paths come back as int indices
	if idx, ok := back.Reference.Path[1].(int); !ok || idx != 0 {
		t.Errorf("expected int index 0, got %T %v", back.Reference.Path[1], back.Reference.Path[1])
	}

	var bad Value
	if err := json.Unmarshal([]byte(`{"type":"mystery"}`), &bad); err == nil {
		t.Error("expected error for unknown value type")
	}
}
