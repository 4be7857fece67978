package schema

import (
	"fmt"
	"sort"
	"strings"
)

// FieldType enumerates the value types a config field can declare.
type FieldType string

const (
	TypeString      FieldType = "string"
	TypeInteger     FieldType = "integer"
	TypeFloat       FieldType = "float"
	TypeBoolean     FieldType = "boolean"
	TypeSelect      FieldType = "select"
	TypeMultiselect FieldType = "multiselect"
)

// FieldSpec describes one configuration field of a plugin schema.
//
// Options is required for select/multiselect and is an ordered list of
// allowed values. Min/Max apply to integer/float fields (inclusive).
// Condition gates visibility on another field's value; a hidden field is
// exempt from validation entirely.
type FieldSpec struct {
	Key         string
	Type        FieldType
	Label       string
	Default     any
	Required    bool
	Options     []string
	Min         *float64
	Max         *float64
	Condition   string
	Description string
}

// Schema is an ordered list of field specs. Order matters for rendering;
// validation is order-independent.
type Schema []FieldSpec

// Config maps field keys to user-supplied values.
type Config map[string]any

// Clone returns a shallow copy so callers can hand out snapshots without
// exposing their backing map.
func (c Config) Clone() Config {
	if c == nil {
		return nil
	}
	cp := make(Config, len(c))
	for k, v := range c {
		cp[k] = v
	}
	return cp
}

// Errors maps field keys to human-readable validation messages.
// An empty (or nil) map means the config is valid.
type Errors map[string]string

func (e Errors) Error() string {
	if len(e) == 0 {
		return "config valid"
	}
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e[k])
	}
	return "config invalid: " + strings.Join(parts, "; ")
}

// Bound returns a pointer for Min/Max literals in field specs.
func Bound(v float64) *float64 { return &v }

// Field returns the spec for key, if present.
func (s Schema) Field(key string) (FieldSpec, bool) {
	for _, f := range s {
		if f.Key == key {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Defaults builds the config implied by the schema's default values.
// Fields without a default are omitted.
func (s Schema) Defaults() Config {
	out := Config{}
	for _, f := range s {
		if f.Default != nil {
			out[f.Key] = f.Default
		}
	}
	return out
}

// Check verifies the schema itself is well-formed: unique keys, known
// types, options present where required, and every condition referencing
// an existing field. Used by the registry's compliance pass.
func (s Schema) Check() error {
	seen := make(map[string]bool, len(s))
	for _, f := range s {
		if strings.TrimSpace(f.Key) == "" {
			return fmt.Errorf("schema field with empty key")
		}
		if seen[f.Key] {
			return fmt.Errorf("duplicate schema field %q", f.Key)
		}
		seen[f.Key] = true

		switch f.Type {
		case TypeString, TypeInteger, TypeFloat, TypeBoolean:
		case TypeSelect, TypeMultiselect:
			if len(f.Options) == 0 {
				return fmt.Errorf("field %q: %s requires options", f.Key, f.Type)
			}
		default:
			return fmt.Errorf("field %q: unknown type %q", f.Key, f.Type)
		}

		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			return fmt.Errorf("field %q: min > max", f.Key)
		}
	}

	for _, f := range s {
		if f.Condition == "" {
			continue
		}
		cond, err := ParseCondition(f.Condition)
		if err != nil {
			return fmt.Errorf("field %q: %w", f.Key, err)
		}
		if !seen[cond.Field] {
			return fmt.Errorf("field %q: condition references unknown field %q", f.Key, cond.Field)
		}
	}
	return nil
}
