package schema

import "testing"

func TestParseCondition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		expr   string
		field  string
		negate bool
		value  any
	}{
		{"daily_quote == true", "daily_quote", false, true},
		{"daily_quote != false", "daily_quote", true, false},
		{"frequency == weekly", "frequency", false, "weekly"},
		{`frequency == "weekly"`, "frequency", false, "weekly"},
		{"frequency == 'weekly'", "frequency", false, "weekly"},
		{"goal == 3", "goal", false, float64(3)},
		// Legacy spellings.
		{"daily_quote === true", "daily_quote", false, true},
		{"frequency !== daily", "frequency", true, "daily"},
	}
	for _, tt := range tests {
		c, err := ParseCondition(tt.expr)
		if err != nil {
			t.Fatalf("ParseCondition(%q): %v", tt.expr, err)
		}
		if c.Field != tt.field || c.Negate != tt.negate || c.Value != tt.value {
			t.Fatalf("ParseCondition(%q) = %+v, want field=%q negate=%v value=%v",
				tt.expr, c, tt.field, tt.negate, tt.value)
		}
	}
}

func TestParseConditionErrors(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{"", "daily_quote", "== true", "daily_quote =="} {
		if _, err := ParseCondition(expr); err == nil {
			t.Fatalf("ParseCondition(%q) accepted malformed expression", expr)
		}
	}
}

func TestConditionHolds(t *testing.T) {
	t.Parallel()

	s := Schema{
		{Key: "daily_quote", Type: TypeBoolean, Default: true},
		{Key: "frequency", Type: TypeSelect, Options: []string{"daily", "weekly"}, Default: "daily"},
	}

	tests := []struct {
		expr string
		cfg  Config
		want bool
	}{
		{"daily_quote == true", Config{"daily_quote": true}, true},
		{"daily_quote == true", Config{"daily_quote": false}, false},
		// Missing value falls back to the schema default.
		{"daily_quote == true", Config{}, true},
		{"frequency != weekly", Config{"frequency": "daily"}, true},
		{"frequency != weekly", Config{"frequency": "weekly"}, false},
		// Type mismatch never matches.
		{"daily_quote == true", Config{"daily_quote": "true"}, false},
	}
	for _, tt := range tests {
		c, err := ParseCondition(tt.expr)
		if err != nil {
			t.Fatalf("ParseCondition(%q): %v", tt.expr, err)
		}
		if got := c.Holds(s, tt.cfg); got != tt.want {
			t.Fatalf("(%q).Holds(%v) = %v, want %v", tt.expr, tt.cfg, got, tt.want)
		}
	}
}
