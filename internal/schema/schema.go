// Package schema defines the activity schemas that constrain what the
// extraction adapter may produce and drive the conversation's follow-up
// priority.
//
// A schema is process-wide static configuration: required and optional
// fields, per-field value constraints, a follow-up question per field, and
// the declared field order. Declared order doubles as follow-up priority and
// as the deterministic tie-break when two missing fields are equally urgent.
//
// Values coming back from the extraction model are untyped JSON; Validate is
// the single place where they are coerced into typed values or rejected.
// Out-of-constraint values are rejected, never clamped; a clamped value
// would silently misrepresent what the athlete said.
package schema

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ActivityType identifies one of the four supported activity categories.
type ActivityType string

const (
	ActivityFitness         ActivityType = "fitness"
	ActivityCricketCoaching ActivityType = "cricket_coaching"
	ActivityCricketMatch    ActivityType = "cricket_match"
	ActivityRestDay         ActivityType = "rest_day"
)

// IsValid reports whether t is a recognised activity type.
func (t ActivityType) IsValid() bool {
	switch t {
	case ActivityFitness, ActivityCricketCoaching, ActivityCricketMatch, ActivityRestDay:
		return true
	}
	return false
}

// Kind describes a field's value domain.
type Kind string

const (
	// KindText accepts any non-empty string.
	KindText Kind = "text"

	// KindNumber accepts a numeric value within [Min, Max].
	KindNumber Kind = "number"

	// KindEnum accepts one of the declared Enum values (case-insensitive).
	KindEnum Kind = "enum"
)

// ErrUnknownField is returned by Validate for a field name the schema does
// not declare.
var ErrUnknownField = errors.New("schema: unknown field")

// ErrConstraint is returned by Validate when a value violates the field's
// declared constraint. The caller treats the field as still-missing.
var ErrConstraint = errors.New("schema: constraint violation")

// Field declares one schema field.
type Field struct {
	// Name is the field key used in accumulated payloads (snake_case).
	Name string `yaml:"name"`

	// Kind selects the value domain.
	Kind Kind `yaml:"kind"`

	// Required marks fields that must be filled before a conversation can
	// complete.
	Required bool `yaml:"required"`

	// Enum lists the accepted values for KindEnum fields.
	Enum []string `yaml:"enum,omitempty"`

	// Min and Max bound KindNumber fields (inclusive).
	Min float64 `yaml:"min,omitempty"`
	Max float64 `yaml:"max,omitempty"`

	// Integer restricts a KindNumber field to whole values.
	Integer bool `yaml:"integer,omitempty"`

	// Prompt is the follow-up question asked when this field is missing or
	// too uncertain.
	Prompt string `yaml:"prompt"`
}

// Schema is the versioned field definition for one activity type. Field
// declaration order is the follow-up priority order.
type Schema struct {
	Type    ActivityType `yaml:"type"`
	Version int          `yaml:"version"`
	Fields  []Field      `yaml:"fields"`

	// MinTurns is the expected minimum number of turns for a fully specified
	// log of this activity; the analytics efficiency score is normalised
	// against it.
	MinTurns int `yaml:"min_turns"`
}

// Field returns the declaration for name, if present.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// RequiredFields returns the required field names in declared order.
func (s *Schema) RequiredFields() []string {
	var out []string
	for _, f := range s.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// MissingRequired returns, in declared order, the required fields not yet
// present in accumulated.
func (s *Schema) MissingRequired(accumulated map[string]any) []string {
	var out []string
	for _, f := range s.Fields {
		if !f.Required {
			continue
		}
		if _, ok := accumulated[f.Name]; !ok {
			out = append(out, f.Name)
		}
	}
	return out
}

// Priority returns the declared position of name, or a position after every
// declared field when name is unknown. Lower is higher priority.
func (s *Schema) Priority(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return len(s.Fields)
}

// Validate coerces an untyped extraction value for the named field into its
// typed form. It returns [ErrUnknownField] for undeclared names and
// [ErrConstraint] for values outside the field's domain. Numeric JSON values
// arrive as float64; integer fields are returned as int.
func (s *Schema) Validate(name string, value any) (any, error) {
	f, ok := s.Field(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}

	switch f.Kind {
	case KindText:
		str, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: field %q wants text, got %T", ErrConstraint, name, value)
		}
		str = strings.TrimSpace(str)
		if str == "" {
			return nil, fmt.Errorf("%w: field %q is empty", ErrConstraint, name)
		}
		return str, nil

	case KindEnum:
		str, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: field %q wants one of %v, got %T", ErrConstraint, name, f.Enum, value)
		}
		for _, e := range f.Enum {
			if strings.EqualFold(strings.TrimSpace(str), e) {
				return e, nil
			}
		}
		return nil, fmt.Errorf("%w: field %q value %q not in %v", ErrConstraint, name, str, f.Enum)

	case KindNumber:
		num, ok := toFloat(value)
		if !ok {
			return nil, fmt.Errorf("%w: field %q wants a number, got %T", ErrConstraint, name, value)
		}
		if num < f.Min || num > f.Max {
			return nil, fmt.Errorf("%w: field %q value %v outside [%v, %v]", ErrConstraint, name, num, f.Min, f.Max)
		}
		if f.Integer {
			if num != math.Trunc(num) {
				return nil, fmt.Errorf("%w: field %q wants a whole number, got %v", ErrConstraint, name, num)
			}
			return int(num), nil
		}
		return num, nil

	default:
		return nil, fmt.Errorf("schema: field %q has unsupported kind %q", name, f.Kind)
	}
}

// toFloat accepts the numeric types a JSON decoder or a caller may supply.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// validate checks structural coherence of a schema definition.
func (s *Schema) validate() error {
	var errs []error
	if !s.Type.IsValid() {
		errs = append(errs, fmt.Errorf("schema: invalid activity type %q", s.Type))
	}
	if len(s.Fields) == 0 {
		errs = append(errs, fmt.Errorf("schema %s: no fields declared", s.Type))
	}
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			errs = append(errs, fmt.Errorf("schema %s: field with empty name", s.Type))
			continue
		}
		if seen[f.Name] {
			errs = append(errs, fmt.Errorf("schema %s: duplicate field %q", s.Type, f.Name))
		}
		seen[f.Name] = true
		switch f.Kind {
		case KindText:
		case KindEnum:
			if len(f.Enum) == 0 {
				errs = append(errs, fmt.Errorf("schema %s: enum field %q has no values", s.Type, f.Name))
			}
		case KindNumber:
			if f.Max < f.Min {
				errs = append(errs, fmt.Errorf("schema %s: field %q has max < min", s.Type, f.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("schema %s: field %q has unknown kind %q", s.Type, f.Name, f.Kind))
		}
		if f.Prompt == "" {
			errs = append(errs, fmt.Errorf("schema %s: field %q has no follow-up prompt", s.Type, f.Name))
		}
	}
	if len(s.Fields) > 0 && len(s.RequiredFields()) == 0 {
		// Completion confidence only counts required fields; without any the
		// session can never cross the threshold and always dies at max turns.
		errs = append(errs, fmt.Errorf("schema %s: at least one field must be required", s.Type))
	}
	if s.MinTurns < 1 {
		errs = append(errs, fmt.Errorf("schema %s: min_turns must be at least 1", s.Type))
	}
	return errors.Join(errs...)
}

// Registry is the immutable set of schemas keyed by activity type. Safe for
// concurrent reads.
type Registry struct {
	schemas map[ActivityType]*Schema
}

// NewRegistry builds a registry from the given schemas, validating each.
func NewRegistry(schemas ...*Schema) (*Registry, error) {
	m := make(map[ActivityType]*Schema, len(schemas))
	for _, s := range schemas {
		if err := s.validate(); err != nil {
			return nil, err
		}
		if _, dup := m[s.Type]; dup {
			return nil, fmt.Errorf("schema: duplicate registration for %q", s.Type)
		}
		m[s.Type] = s
	}
	return &Registry{schemas: m}, nil
}

// Lookup returns the schema for t.
func (r *Registry) Lookup(t ActivityType) (*Schema, error) {
	s, ok := r.schemas[t]
	if !ok {
		return nil, fmt.Errorf("schema: no schema registered for activity type %q", t)
	}
	return s, nil
}

// Types returns the registered activity types.
func (r *Registry) Types() []ActivityType {
	out := make([]ActivityType, 0, len(r.schemas))
	for t := range r.schemas {
		out = append(out, t)
	}
	return out
}
