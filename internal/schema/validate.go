package schema

import (
	"fmt"
	"math"
	"strings"
)

// Validate checks cfg against the schema and returns field-level errors.
//
// Rules, in order:
//  1. unknown keys are rejected ("unknown field")
//  2. hidden fields (condition not satisfied) are exempt entirely
//  3. absent + required + no default => "required"
//  4. present => exact type match, no coercion
//  5. integer/float => min/max inclusive
//  6. select/multiselect => value(s) must be members of options
//
// Plugin-specific semantic validation happens after this passes, via the
// plugin's own ValidateConfig.
func Validate(s Schema, cfg Config) Errors {
	errs := Errors{}

	for key := range cfg {
		if _, ok := s.Field(key); !ok {
			errs[key] = "unknown field"
		}
	}

	for _, f := range s {
		if f.Condition != "" {
			cond, err := ParseCondition(f.Condition)
			if err != nil {
				// Malformed conditions are caught by Schema.Check at startup;
				// at validation time treat the field as visible.
				cond = Condition{}
			} else if !cond.Holds(s, cfg) {
				continue
			}
		}

		v, present := cfg[f.Key]
		if !present {
			if f.Required && f.Default == nil {
				errs[f.Key] = "required"
			}
			continue
		}

		if msg := checkValue(f, v); msg != "" {
			errs[f.Key] = msg
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func checkValue(f FieldSpec, v any) string {
	switch f.Type {
	case TypeString:
		if _, ok := v.(string); !ok {
			return "invalid type"
		}

	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return "invalid type"
		}

	case TypeInteger:
		n, ok := asFloat(v)
		if !ok || n != math.Trunc(n) {
			return "invalid type"
		}
		if outOfRange(f, n) {
			return "out of range"
		}

	case TypeFloat:
		n, ok := asFloat(v)
		if !ok {
			return "invalid type"
		}
		if outOfRange(f, n) {
			return "out of range"
		}

	case TypeSelect:
		sv, ok := v.(string)
		if !ok {
			return "invalid type"
		}
		if !optionMember(f.Options, sv) {
			return "invalid option"
		}

	case TypeMultiselect:
		vals, ok := asStringSlice(v)
		if !ok {
			return "invalid type"
		}
		for _, sv := range vals {
			if !optionMember(f.Options, sv) {
				return "invalid option"
			}
		}
	}
	return ""
}

func outOfRange(f FieldSpec, n float64) bool {
	if f.Min != nil && n < *f.Min {
		return true
	}
	if f.Max != nil && n > *f.Max {
		return true
	}
	return false
}

func optionMember(opts []string, v string) bool {
	for _, o := range opts {
		if o == v {
			return true
		}
	}
	return false
}

func asStringSlice(v any) ([]string, bool) {
	switch x := v.(type) {
	case []string:
		return x, true
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// Describe renders a short human-readable summary of a field, used in CLI
// listings.
func Describe(f FieldSpec) string {
	var b strings.Builder
	b.WriteString(string(f.Type))
	if f.Required {
		b.WriteString(", required")
	}
	if len(f.Options) > 0 {
		b.WriteString(", options: ")
		b.WriteString(strings.Join(f.Options, "|"))
	}
	if f.Min != nil || f.Max != nil {
		lo, hi := "-inf", "+inf"
		if f.Min != nil {
			lo = trimFloat(*f.Min)
		}
		if f.Max != nil {
			hi = trimFloat(*f.Max)
		}
		fmt.Fprintf(&b, ", range %s..%s", lo, hi)
	}
	return b.String()
}

func trimFloat(f float64) string {
	if f == math.Trunc(f) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
