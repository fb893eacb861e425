package flexy

import (
	"context"

	"github.com/google/uuid"
)

// SchemaRegistry provides schema and field definition management for one
// relational backend. All operations are scoped by the explicit entity-type
// identifier rather than any implicit call-site context.
type SchemaRegistry interface {
	// CreateSchema registers a new schema. It fails with DuplicateSchemaError
	// when (entityType, in.Code) already exists. When in.IsDefault is set, any
	// existing default for the entity type is demoted in the same transaction.
	CreateSchema(ctx context.Context, entityType string, in SchemaInput) (*Schema, error)

	// GetSchema returns the schema, or nil when absent.
	GetSchema(ctx context.Context, entityType, code string) (*Schema, error)

	// ListSchemas returns all schemas for the entity type ordered by code.
	ListSchemas(ctx context.Context, entityType string) ([]*Schema, error)

	// DefaultSchema returns the default schema for the entity type, or nil.
	DefaultSchema(ctx context.Context, entityType string) (*Schema, error)

	// DeleteSchema removes a schema, cascading deletion of its field
	// definitions and clearing schema linkage on matching attribute value
	// rows. It fails with SchemaInUseError while entity instances still
	// reference the code. Entity-table cleanup is best-effort: when the host
	// table cannot be resolved that step is skipped without failing the
	// delete. Returns false when no schema matched.
	DeleteSchema(ctx context.Context, entityType, code string) (bool, error)

	// AddField upserts a field definition by (schemaCode, in.Name). It fails
	// with SchemaNotFoundError when the schema is absent.
	AddField(ctx context.Context, entityType, schemaCode string, in FieldInput) (*FieldDefinition, error)

	// RemoveField deletes a field definition, returning false when absent.
	RemoveField(ctx context.Context, entityType, schemaCode, name string) (bool, error)

	// ListFields returns the schema's field definitions ordered by sort
	// ascending, ties broken by insertion order.
	ListFields(ctx context.Context, entityType, schemaCode string) ([]*FieldDefinition, error)

	// Assign sets the instance's schema linkage after verifying the code
	// exists for the instance's entity type. Legal on both persisted and
	// not-yet-persisted instances.
	Assign(ctx context.Context, entity HostEntity, code string) error

	// ApplyDefault assigns the entity type's default schema to the instance
	// when no code was explicitly set. Explicit assignment, including an
	// explicit empty assignment, is never overridden. Intended to be invoked
	// from the host's create lifecycle hook.
	ApplyDefault(ctx context.Context, entity HostEntity) error
}

// FieldValue pairs a field definition with a staged value for batched writes.
type FieldValue struct {
	Field *FieldDefinition
	Value TypedValue
}

// ValueStore persists one typed row per (entity type, entity id, field name).
// Exactly one typed column is active per row, selected by the field's
// declared kind at write time.
type ValueStore interface {
	// Get reads one attribute value. A null TypedValue is returned both when
	// the row is absent and when the row's active column is null.
	Get(ctx context.Context, entityType string, entityID uuid.UUID, field *FieldDefinition) (TypedValue, error)

	// GetAll reads every persisted value for the instance in one batched
	// fetch, keyed by field name. Only names present in fields are decoded.
	GetAll(ctx context.Context, entityType string, entityID uuid.UUID, fields map[string]*FieldDefinition) (map[string]TypedValue, error)

	// Set upserts one attribute row, writing only the column matching the
	// field's declared kind and nulling the others.
	Set(ctx context.Context, entityType string, entityID uuid.UUID, field *FieldDefinition, value TypedValue, schemaCode string) error

	// SetMany upserts the given attribute rows inside a single transaction.
	SetMany(ctx context.Context, entityType string, entityID uuid.UUID, schemaCode string, values []FieldValue) error

	// DeleteForEntity cascades all attribute rows for the instance. Invoked
	// from the host's delete lifecycle hook. Returns the rows removed.
	DeleteForEntity(ctx context.Context, entityType string, entityID uuid.UUID) (int64, error)

	// ClearSchemaLink nulls the schema linkage on attribute rows referencing
	// a deleted schema without deleting the rows themselves.
	ClearSchemaLink(ctx context.Context, entityType, schemaCode string) (int64, error)

	// DistinctFieldNames returns the distinct field names actually present
	// for the entity type, ordered ascending.
	DistinctFieldNames(ctx context.Context, entityType string) ([]string, error)
}

// ViewProjector maintains the denormalized attribute projection view and its
// known-field-name tracking set.
type ViewProjector interface {
	// RecreateViewIfNeeded compares the candidate names against the tracked
	// set; when all are already known it returns false without touching the
	// view. Otherwise it records the new names and performs a full rebuild,
	// returning true. Steady-state cost is O(1) amortized per saved name.
	RecreateViewIfNeeded(ctx context.Context, entityType string, candidateFieldNames []string) (bool, error)

	// ForceRebuild truncates the tracked set, recomputes it from the distinct
	// field names present in the value store, and unconditionally rebuilds
	// the view. Callers must serialize invocations across processes.
	ForceRebuild(ctx context.Context, entityType string) error
}
