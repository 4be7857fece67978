package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Condition gates a field's visibility on another field's value.
//
// Supported forms:
//
//	other_field == true
//	other_field != "weekly"
//	other_field == 3
//
// The legacy triple-equals spelling (===, !==) is accepted and treated
// the same as ==/!=.
type Condition struct {
	Field  string
	Negate bool
	Value  any // bool, float64 or string
}

// ParseCondition parses a condition expression.
func ParseCondition(expr string) (Condition, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return Condition{}, fmt.Errorf("empty condition")
	}

	var op string
	var idx int
	for _, cand := range []string{"!==", "===", "!=", "=="} {
		if i := strings.Index(s, cand); i >= 0 {
			op = cand
			idx = i
			break
		}
	}
	if op == "" {
		return Condition{}, fmt.Errorf("condition %q: expected == or !=", expr)
	}

	field := strings.TrimSpace(s[:idx])
	lit := strings.TrimSpace(s[idx+len(op):])
	if field == "" || lit == "" {
		return Condition{}, fmt.Errorf("condition %q: missing operand", expr)
	}

	val, err := parseLiteral(lit)
	if err != nil {
		return Condition{}, fmt.Errorf("condition %q: %w", expr, err)
	}

	return Condition{
		Field:  field,
		Negate: strings.HasPrefix(op, "!"),
		Value:  val,
	}, nil
}

func parseLiteral(lit string) (any, error) {
	switch lit {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	if len(lit) >= 2 {
		if (lit[0] == '"' && lit[len(lit)-1] == '"') || (lit[0] == '\'' && lit[len(lit)-1] == '\'') {
			return lit[1 : len(lit)-1], nil
		}
	}
	if f, err := strconv.ParseFloat(lit, 64); err == nil {
		return f, nil
	}
	// Bare word: treat as string (matches select option values).
	return lit, nil
}

// Holds reports whether the condition is satisfied for the given config.
// Missing referenced values fall back to the schema default.
func (c Condition) Holds(s Schema, cfg Config) bool {
	v, ok := cfg[c.Field]
	if !ok {
		if f, found := s.Field(c.Field); found {
			v = f.Default
		}
	}
	eq := literalEqual(v, c.Value)
	if c.Negate {
		return !eq
	}
	return eq
}

func literalEqual(v, lit any) bool {
	switch want := lit.(type) {
	case bool:
		got, ok := v.(bool)
		return ok && got == want
	case float64:
		got, ok := asFloat(v)
		return ok && got == want
	case string:
		got, ok := v.(string)
		return ok && got == want
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}
