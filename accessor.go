package flexy

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Accessor is the schema-aware attribute façade bound to one host entity
// instance. Reads and writes are checked against the instance's assigned
// schema; writes are staged in memory and persisted only by Save, which the
// host's save lifecycle hook is expected to invoke.
//
// Read/write asymmetry for unassigned schemas: reads return nil (tolerated
// for backward compatibility), writes on a persisted instance fail
// immediately, writes on a not-yet-persisted instance are buffered and
// checked at save time.
//
// An Accessor is not safe for concurrent use; it assumes the single-writer-
// per-instance model of short-lived request scopes.
type Accessor struct {
	entity    HostEntity
	registry  SchemaRegistry
	store     ValueStore
	projector ViewProjector
	validator *Validator

	fieldsFor string                      // schema code the cached fields belong to
	fields    map[string]*FieldDefinition // declared fields of the assigned schema
	loaded    bool                        // persisted values fetched
	values    map[string]TypedValue       // persisted value cache
	dirty     map[string]any              // staged, unsaved raw values
}

// NewAccessor binds an accessor to a host entity instance. The projector may
// be nil when view maintenance is handled elsewhere.
func NewAccessor(entity HostEntity, registry SchemaRegistry, store ValueStore, projector ViewProjector) *Accessor {
	return &Accessor{
		entity:    entity,
		registry:  registry,
		store:     store,
		projector: projector,
		validator: NewValidator(),
		values:    make(map[string]TypedValue),
		dirty:     make(map[string]any),
	}
}

// Get returns the attribute's current value: the staged value when dirty, the
// persisted value otherwise. Reads with no assigned schema return nil; reads
// of a field the assigned schema does not declare fail with
// FieldNotInSchemaError.
func (a *Accessor) Get(ctx context.Context, name string) (any, error) {
	if value, ok := a.dirty[name]; ok {
		return value, nil
	}
	code := a.entity.SchemaCode()
	if code == "" {
		return nil, nil
	}
	if err := a.ensureFields(ctx, code); err != nil {
		return nil, err
	}
	if _, ok := a.fields[name]; !ok {
		return nil, NewFieldNotInSchemaError(code, name, a.fieldNames())
	}
	if err := a.ensureValues(ctx); err != nil {
		return nil, err
	}
	if value, ok := a.values[name]; ok {
		return value.Native(), nil
	}
	return nil, nil
}

// Set stages an attribute write. Unknown field names fail fast, before save.
func (a *Accessor) Set(ctx context.Context, name string, value any) error {
	code := a.entity.SchemaCode()
	if code == "" {
		if a.entity.Persisted() {
			return NewSchemaNotFoundError(a.entity.EntityType(), "")
		}
		// Buffered until save; field legality is checked once a schema
		// is assigned.
		a.dirty[name] = value
		return nil
	}
	if err := a.ensureFields(ctx, code); err != nil {
		return err
	}
	if _, ok := a.fields[name]; !ok {
		return NewFieldNotInSchemaError(code, name, a.fieldNames())
	}
	a.dirty[name] = value
	return nil
}

// IsDirty reports whether any attribute changed since the last load or save.
func (a *Accessor) IsDirty() bool {
	return len(a.dirty) > 0
}

// Dirty returns a copy of the staged, unsaved attributes.
func (a *Accessor) Dirty() map[string]any {
	out := make(map[string]any, len(a.dirty))
	for name, value := range a.dirty {
		out[name] = value
	}
	return out
}

// Save validates the staged attribute set as a whole and persists every dirty
// attribute in one transaction. Any violation aborts the entire save with a
// ValidationError and applies none of the writes. A save with nothing dirty
// performs zero writes.
func (a *Accessor) Save(ctx context.Context) error {
	if len(a.dirty) == 0 {
		return nil
	}

	code := a.entity.SchemaCode()
	if code == "" {
		return NewSchemaNotFoundError(a.entity.EntityType(), "")
	}
	if err := a.ensureFields(ctx, code); err != nil {
		return err
	}
	for name := range a.dirty {
		if _, ok := a.fields[name]; !ok {
			return NewFieldNotInSchemaError(code, name, a.fieldNames())
		}
	}
	if err := a.ensureValues(ctx); err != nil {
		return err
	}

	// Cross-field rules see persisted siblings overlaid with staged writes.
	staged := make(map[string]any, len(a.values)+len(a.dirty))
	for name, value := range a.values {
		staged[name] = value.Native()
	}
	for name, value := range a.dirty {
		staged[name] = value
	}
	if err := a.validator.Validate(a.fields, staged); err != nil {
		return err
	}

	writes := make([]FieldValue, 0, len(a.dirty))
	dirtyNames := make([]string, 0, len(a.dirty))
	for name, raw := range a.dirty {
		field := a.fields[name]
		typed, err := Coerce(field.Type, raw)
		if err != nil {
			var tna *TypeNotAllowedError
			if errors.As(err, &tna) {
				return tna.WithField(name)
			}
			return fmt.Errorf("coerce field %q: %w", name, err)
		}
		writes = append(writes, FieldValue{Field: field, Value: typed})
		dirtyNames = append(dirtyNames, name)
	}

	entityType := a.entity.EntityType()
	entityID := a.entity.EntityID()
	if err := a.store.SetMany(ctx, entityType, entityID, code, writes); err != nil {
		return fmt.Errorf("persist attributes: %w", err)
	}

	if a.projector != nil {
		rebuilt, err := a.projector.RecreateViewIfNeeded(ctx, entityType, dirtyNames)
		if err != nil {
			// The values are already committed; a projection failure is
			// repairable via ForceRebuild, so it does not undo the save.
			zap.S().Warnw("attribute view refresh failed",
				"entity_type", entityType, "entity_id", entityID, "err", err)
		} else if rebuilt {
			zap.S().Debugw("attribute view rebuilt", "entity_type", entityType, "fields", dirtyNames)
		}
	}

	for _, write := range writes {
		a.values[write.Field.Name] = write.Value
	}
	a.dirty = make(map[string]any)
	return nil
}

// Reload discards the cached and staged state so the next access refetches
// from storage. Used after out-of-band changes or schema reassignment.
func (a *Accessor) Reload() {
	a.fields = nil
	a.fieldsFor = ""
	a.loaded = false
	a.values = make(map[string]TypedValue)
	a.dirty = make(map[string]any)
}

// ensureFields loads the assigned schema's field definitions once per schema
// code; reassignment invalidates the cache.
func (a *Accessor) ensureFields(ctx context.Context, code string) error {
	if a.fields != nil && a.fieldsFor == code {
		return nil
	}
	entityType := a.entity.EntityType()
	schema, err := a.registry.GetSchema(ctx, entityType, code)
	if err != nil {
		return fmt.Errorf("load schema %q: %w", code, err)
	}
	if schema == nil {
		return NewSchemaNotFoundError(entityType, code)
	}
	defs, err := a.registry.ListFields(ctx, entityType, code)
	if err != nil {
		return fmt.Errorf("load fields of schema %q: %w", code, err)
	}
	fields := make(map[string]*FieldDefinition, len(defs))
	for _, def := range defs {
		fields[def.Name] = def
	}
	a.fields = fields
	a.fieldsFor = code
	// Values cached under a previous schema may not be visible anymore.
	a.loaded = false
	a.values = make(map[string]TypedValue)
	return nil
}

// ensureValues performs the single batched fetch of persisted values on first
// field access.
func (a *Accessor) ensureValues(ctx context.Context) error {
	if a.loaded {
		return nil
	}
	values, err := a.store.GetAll(ctx, a.entity.EntityType(), a.entity.EntityID(), a.fields)
	if err != nil {
		return fmt.Errorf("load attribute values: %w", err)
	}
	a.values = values
	a.loaded = true
	return nil
}

func (a *Accessor) fieldNames() []string {
	names := make([]string, 0, len(a.fields))
	for name := range a.fields {
		names = append(names, name)
	}
	return names
}
