package flexy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error codes used across the module.
const (
	ErrCodeDuplicateSchema  = "DUPLICATE_SCHEMA"
	ErrCodeSchemaNotFound   = "SCHEMA_NOT_FOUND"
	ErrCodeFieldNotInSchema = "FIELD_NOT_IN_SCHEMA"
	ErrCodeSchemaInUse      = "SCHEMA_IN_USE"
	ErrCodeTypeNotAllowed   = "TYPE_NOT_ALLOWED"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
)

// DuplicateSchemaError indicates a schema code that already exists for the
// entity type.
type DuplicateSchemaError struct {
	EntityType string `json:"entity_type"`
	Code       string `json:"code"`
}

func (e *DuplicateSchemaError) Error() string {
	return fmt.Sprintf("[%s] schema %q already exists for entity type %q", ErrCodeDuplicateSchema, e.Code, e.EntityType)
}

// NewDuplicateSchemaError creates a DuplicateSchemaError.
func NewDuplicateSchemaError(entityType, code string) *DuplicateSchemaError {
	return &DuplicateSchemaError{EntityType: entityType, Code: code}
}

// SchemaNotFoundError indicates an unknown schema code, or an attribute write
// against a persisted instance with no schema assigned (Code empty).
type SchemaNotFoundError struct {
	EntityType string `json:"entity_type"`
	Code       string `json:"code,omitempty"`
}

func (e *SchemaNotFoundError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("[%s] no schema assigned for entity type %q; assign one first", ErrCodeSchemaNotFound, e.EntityType)
	}
	return fmt.Sprintf("[%s] schema %q not found for entity type %q", ErrCodeSchemaNotFound, e.Code, e.EntityType)
}

// NewSchemaNotFoundError creates a SchemaNotFoundError.
func NewSchemaNotFoundError(entityType, code string) *SchemaNotFoundError {
	return &SchemaNotFoundError{EntityType: entityType, Code: code}
}

// FieldNotInSchemaError indicates access to a field name the assigned schema
// does not declare. The message enumerates the currently available names.
type FieldNotInSchemaError struct {
	SchemaCode string   `json:"schema_code"`
	Field      string   `json:"field"`
	Available  []string `json:"available"`
}

func (e *FieldNotInSchemaError) Error() string {
	available := "none"
	if len(e.Available) > 0 {
		names := append([]string(nil), e.Available...)
		sort.Strings(names)
		available = strings.Join(names, ", ")
	}
	return fmt.Sprintf("[%s] field %q is not declared in schema %q (available fields: %s)",
		ErrCodeFieldNotInSchema, e.Field, e.SchemaCode, available)
}

// NewFieldNotInSchemaError creates a FieldNotInSchemaError.
func NewFieldNotInSchemaError(schemaCode, field string, available []string) *FieldNotInSchemaError {
	return &FieldNotInSchemaError{SchemaCode: schemaCode, Field: field, Available: available}
}

// SchemaInUseError indicates a delete attempt on a schema still referenced by
// live entity instances. Count carries the number of blocking instances.
type SchemaInUseError struct {
	EntityType string `json:"entity_type"`
	Code       string `json:"code"`
	Count      int64  `json:"count"`
}

func (e *SchemaInUseError) Error() string {
	return fmt.Sprintf("[%s] schema %q for entity type %q is referenced by %d instance(s)",
		ErrCodeSchemaInUse, e.Code, e.EntityType, e.Count)
}

// NewSchemaInUseError creates a SchemaInUseError.
func NewSchemaInUseError(entityType, code string, count int64) *SchemaInUseError {
	return &SchemaInUseError{EntityType: entityType, Code: code, Count: count}
}

// TypeNotAllowedError indicates an attempt to persist a value of an
// unsupported underlying kind.
type TypeNotAllowedError struct {
	GoType string `json:"go_type"`
	Field  string `json:"field,omitempty"`
}

func (e *TypeNotAllowedError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] field %q: values of type %s cannot be persisted", ErrCodeTypeNotAllowed, e.Field, e.GoType)
	}
	return fmt.Sprintf("[%s] values of type %s cannot be persisted", ErrCodeTypeNotAllowed, e.GoType)
}

// NewTypeNotAllowedError creates a TypeNotAllowedError.
func NewTypeNotAllowedError(goType string) *TypeNotAllowedError {
	return &TypeNotAllowedError{GoType: goType}
}

// WithField adds field context to a TypeNotAllowedError.
func (e *TypeNotAllowedError) WithField(field string) *TypeNotAllowedError {
	e.Field = field
	return e
}

// ValidationError carries one or more rule violations for the staged
// attribute set, keyed by field name.
type ValidationError struct {
	Fields map[string][]string `json:"fields"`
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("[%s] validation failed", ErrCodeValidationFailed)
	}
	names := make([]string, 0, len(e.Fields))
	total := 0
	for name, msgs := range e.Fields {
		names = append(names, name)
		total += len(msgs)
	}
	sort.Strings(names)
	return fmt.Sprintf("[%s] validation failed: %d error(s) across fields [%s]",
		ErrCodeValidationFailed, total, strings.Join(names, ", "))
}

// NewValidationError creates an empty ValidationError.
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string][]string)}
}

// Add records a violation message for a field.
func (e *ValidationError) Add(field, message string) {
	e.Fields[field] = append(e.Fields[field], message)
}

// HasErrors reports whether any violation was recorded.
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// Messages returns the violation messages recorded for a field.
func (e *ValidationError) Messages(field string) []string {
	return e.Fields[field]
}

// ToError returns the ValidationError as an error when it carries violations,
// nil otherwise.
func (e *ValidationError) ToError() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// Error checking utilities.

// IsDuplicateSchema checks if an error is a DuplicateSchemaError.
func IsDuplicateSchema(err error) bool {
	var target *DuplicateSchemaError
	return errors.As(err, &target)
}

// IsSchemaNotFound checks if an error is a SchemaNotFoundError.
func IsSchemaNotFound(err error) bool {
	var target *SchemaNotFoundError
	return errors.As(err, &target)
}

// IsFieldNotInSchema checks if an error is a FieldNotInSchemaError.
func IsFieldNotInSchema(err error) bool {
	var target *FieldNotInSchemaError
	return errors.As(err, &target)
}

// IsSchemaInUse checks if an error is a SchemaInUseError.
func IsSchemaInUse(err error) bool {
	var target *SchemaInUseError
	return errors.As(err, &target)
}

// IsTypeNotAllowed checks if an error is a TypeNotAllowedError.
func IsTypeNotAllowed(err error) bool {
	var target *TypeNotAllowedError
	return errors.As(err, &target)
}

// IsValidation checks if an error is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
