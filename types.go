package flexy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// TypeKind represents supported attribute value kinds.
type TypeKind string

const (
	TypeString   TypeKind = "string"
	TypeInteger  TypeKind = "integer"
	TypeDecimal  TypeKind = "decimal" // double precision
	TypeBoolean  TypeKind = "boolean"
	TypeDate     TypeKind = "date"     // calendar date, normalized to UTC midnight
	TypeDateTime TypeKind = "datetime" // point in time, stored UTC
	TypeJSON     TypeKind = "json"
)

// TypeKinds lists every supported kind in declaration order.
func TypeKinds() []TypeKind {
	return []TypeKind{TypeString, TypeInteger, TypeDecimal, TypeBoolean, TypeDate, TypeDateTime, TypeJSON}
}

// Valid reports whether k is one of the seven supported kinds.
func (k TypeKind) Valid() bool {
	switch k {
	case TypeString, TypeInteger, TypeDecimal, TypeBoolean, TypeDate, TypeDateTime, TypeJSON:
		return true
	}
	return false
}

// ParseTypeKind converts a stored type string into a TypeKind.
func ParseTypeKind(s string) (TypeKind, error) {
	k := TypeKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown type kind: %q", s)
	}
	return k, nil
}

// Schema is a named field set assignable to entity instances of one entity type.
// Identity is (EntityType, Code); at most one schema per entity type may have
// IsDefault set.
type Schema struct {
	EntityType  string         `json:"entity_type"`
	Code        string         `json:"code"`
	Label       string         `json:"label"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	IsDefault   bool           `json:"is_default"`
	CreatedAt   int64          `json:"created_at"` // epoch millis
	UpdatedAt   int64          `json:"updated_at"` // epoch millis
}

// SchemaInput carries the caller-supplied portion of a schema definition.
type SchemaInput struct {
	Code        string         `json:"code"`
	Label       string         `json:"label"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	IsDefault   bool           `json:"is_default"`
}

// Metadata keys recognized on field definitions.
const (
	MetaOptions     = "options"
	MetaMultiple    = "multiple"
	MetaGroup       = "group"
	MetaPlaceholder = "placeholder"
	MetaHint        = "hint"
	MetaJSONSchema  = "json_schema"
)

// DefaultFieldGroup is used when a field definition carries no group metadata.
const DefaultFieldGroup = "Ungrouped"

// FieldDefinition is one declared attribute within a schema.
// Identity is (EntityType, SchemaCode, Name).
type FieldDefinition struct {
	EntityType         string            `json:"entity_type"`
	SchemaCode         string            `json:"schema_code"`
	Name               string            `json:"name"`
	Type               TypeKind          `json:"type"`
	Sort               int               `json:"sort"`
	ValidationRules    string            `json:"validation_rules,omitempty"`
	ValidationMessages map[string]string `json:"validation_messages,omitempty"`
	Metadata           map[string]any    `json:"metadata,omitempty"`
	Label              string            `json:"label,omitempty"`
	// Position is the insertion order, assigned by storage. It breaks sort ties.
	Position int `json:"-"`
}

// FieldOption is one allowed value for an option-restricted field.
type FieldOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Options returns the allowed values declared in metadata, if any.
// The metadata may carry either a plain list of values or a value->label map.
func (f *FieldDefinition) Options() ([]FieldOption, bool) {
	raw, ok := f.Metadata[MetaOptions]
	if !ok || raw == nil {
		return nil, false
	}
	switch v := raw.(type) {
	case []any:
		opts := make([]FieldOption, 0, len(v))
		for _, item := range v {
			s := fmt.Sprintf("%v", item)
			opts = append(opts, FieldOption{Value: s, Label: s})
		}
		return opts, len(opts) > 0
	case []string:
		opts := make([]FieldOption, 0, len(v))
		for _, s := range v {
			opts = append(opts, FieldOption{Value: s, Label: s})
		}
		return opts, len(opts) > 0
	case map[string]any:
		opts := make([]FieldOption, 0, len(v))
		for value, label := range v {
			opts = append(opts, FieldOption{Value: value, Label: fmt.Sprintf("%v", label)})
		}
		sort.Slice(opts, func(i, j int) bool { return opts[i].Value < opts[j].Value })
		return opts, len(opts) > 0
	case map[string]string:
		opts := make([]FieldOption, 0, len(v))
		for value, label := range v {
			opts = append(opts, FieldOption{Value: value, Label: label})
		}
		sort.Slice(opts, func(i, j int) bool { return opts[i].Value < opts[j].Value })
		return opts, len(opts) > 0
	}
	return nil, false
}

// Multiple reports whether the field accepts an array of option values.
// Only legal for JSON-typed fields; AddField rejects it elsewhere.
func (f *FieldDefinition) Multiple() bool {
	b, ok := f.Metadata[MetaMultiple].(bool)
	return ok && b
}

// Group returns the UI grouping for the field, or DefaultFieldGroup.
func (f *FieldDefinition) Group() string {
	if g, ok := f.Metadata[MetaGroup].(string); ok && g != "" {
		return g
	}
	return DefaultFieldGroup
}

// Rules returns the declared validation rules split into their list form.
func (f *FieldDefinition) Rules() []string {
	if strings.TrimSpace(f.ValidationRules) == "" {
		return nil
	}
	parts := strings.Split(f.ValidationRules, "|")
	rules := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			rules = append(rules, trimmed)
		}
	}
	return rules
}

// FieldInput carries the caller-supplied portion of a field definition.
type FieldInput struct {
	Name               string            `json:"name"`
	Type               TypeKind          `json:"type"`
	Sort               int               `json:"sort"`
	ValidationRules    string            `json:"validation_rules,omitempty"`
	ValidationMessages map[string]string `json:"validation_messages,omitempty"`
	Metadata           map[string]any    `json:"metadata,omitempty"`
	Label              string            `json:"label,omitempty"`
}

// DefaultFieldSort is applied when a field input leaves Sort at zero.
const DefaultFieldSort = 100

// HostEntity is the collaborator contract the surrounding application
// implements for each model kind that owns flexible attributes. The schema
// code linkage is soft: no database foreign key backs it.
type HostEntity interface {
	// EntityType returns the stable identifier of the host model kind.
	EntityType() string
	// EntityID returns the instance identifier.
	EntityID() uuid.UUID
	// SchemaCode returns the assigned schema code, or "" when unassigned.
	SchemaCode() string
	// SetSchemaCode updates the instance's schema linkage in memory.
	SetSchemaCode(code string)
	// Persisted reports whether the instance has been saved at least once.
	Persisted() bool
}
