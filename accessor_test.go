package flexy

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testProduct struct {
	id        uuid.UUID
	code      string
	persisted bool
}

func (p *testProduct) EntityType() string     { return "product" }
func (p *testProduct) EntityID() uuid.UUID    { return p.id }
func (p *testProduct) SchemaCode() string     { return p.code }
func (p *testProduct) SetSchemaCode(c string) { p.code = c }
func (p *testProduct) Persisted() bool        { return p.persisted }

// memRegistry is an in-memory SchemaRegistry for accessor tests.
type memRegistry struct {
	schemas map[string]*Schema            // keyed entityType/code
	fields  map[string][]*FieldDefinition // keyed entityType/code
}

func newMemRegistry() *memRegistry {
	return &memRegistry{
		schemas: make(map[string]*Schema),
		fields:  make(map[string][]*FieldDefinition),
	}
}

func regKey(entityType, code string) string { return entityType + "/" + code }

func (r *memRegistry) addSchema(entityType, code string, defs ...*FieldDefinition) {
	r.schemas[regKey(entityType, code)] = &Schema{EntityType: entityType, Code: code}
	r.fields[regKey(entityType, code)] = defs
}

func (r *memRegistry) CreateSchema(ctx context.Context, entityType string, in SchemaInput) (*Schema, error) {
	if _, ok := r.schemas[regKey(entityType, in.Code)]; ok {
		return nil, NewDuplicateSchemaError(entityType, in.Code)
	}
	s := &Schema{EntityType: entityType, Code: in.Code, Label: in.Label, IsDefault: in.IsDefault}
	r.schemas[regKey(entityType, in.Code)] = s
	return s, nil
}

func (r *memRegistry) GetSchema(ctx context.Context, entityType, code string) (*Schema, error) {
	return r.schemas[regKey(entityType, code)], nil
}

func (r *memRegistry) ListSchemas(ctx context.Context, entityType string) ([]*Schema, error) {
	var out []*Schema
	for _, s := range r.schemas {
		if s.EntityType == entityType {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memRegistry) DefaultSchema(ctx context.Context, entityType string) (*Schema, error) {
	for _, s := range r.schemas {
		if s.EntityType == entityType && s.IsDefault {
			return s, nil
		}
	}
	return nil, nil
}

func (r *memRegistry) DeleteSchema(ctx context.Context, entityType, code string) (bool, error) {
	if _, ok := r.schemas[regKey(entityType, code)]; !ok {
		return false, nil
	}
	delete(r.schemas, regKey(entityType, code))
	delete(r.fields, regKey(entityType, code))
	return true, nil
}

func (r *memRegistry) AddField(ctx context.Context, entityType, schemaCode string, in FieldInput) (*FieldDefinition, error) {
	def := &FieldDefinition{EntityType: entityType, SchemaCode: schemaCode, Name: in.Name, Type: in.Type}
	r.fields[regKey(entityType, schemaCode)] = append(r.fields[regKey(entityType, schemaCode)], def)
	return def, nil
}

func (r *memRegistry) RemoveField(ctx context.Context, entityType, schemaCode, name string) (bool, error) {
	return false, nil
}

func (r *memRegistry) ListFields(ctx context.Context, entityType, schemaCode string) ([]*FieldDefinition, error) {
	return r.fields[regKey(entityType, schemaCode)], nil
}

func (r *memRegistry) Assign(ctx context.Context, entity HostEntity, code string) error {
	if _, ok := r.schemas[regKey(entity.EntityType(), code)]; !ok {
		return NewSchemaNotFoundError(entity.EntityType(), code)
	}
	entity.SetSchemaCode(code)
	return nil
}

func (r *memRegistry) ApplyDefault(ctx context.Context, entity HostEntity) error {
	if entity.SchemaCode() != "" {
		return nil
	}
	def, _ := r.DefaultSchema(ctx, entity.EntityType())
	if def != nil {
		entity.SetSchemaCode(def.Code)
	}
	return nil
}

// memStore is an in-memory ValueStore recording SetMany invocations.
type memStore struct {
	rows     map[string]TypedValue // entityType/entityID/fieldName
	setCalls int
}

func newMemStore() *memStore { return &memStore{rows: make(map[string]TypedValue)} }

func storeKey(entityType string, entityID uuid.UUID, field string) string {
	return entityType + "/" + entityID.String() + "/" + field
}

func (s *memStore) Get(ctx context.Context, entityType string, entityID uuid.UUID, field *FieldDefinition) (TypedValue, error) {
	if v, ok := s.rows[storeKey(entityType, entityID, field.Name)]; ok {
		return v, nil
	}
	return Null(field.Type), nil
}

func (s *memStore) GetAll(ctx context.Context, entityType string, entityID uuid.UUID, fields map[string]*FieldDefinition) (map[string]TypedValue, error) {
	out := make(map[string]TypedValue)
	for name := range fields {
		if v, ok := s.rows[storeKey(entityType, entityID, name)]; ok {
			out[name] = v
		}
	}
	return out, nil
}

func (s *memStore) Set(ctx context.Context, entityType string, entityID uuid.UUID, field *FieldDefinition, value TypedValue, schemaCode string) error {
	s.rows[storeKey(entityType, entityID, field.Name)] = value
	return nil
}

func (s *memStore) SetMany(ctx context.Context, entityType string, entityID uuid.UUID, schemaCode string, values []FieldValue) error {
	s.setCalls++
	for _, fv := range values {
		s.rows[storeKey(entityType, entityID, fv.Field.Name)] = fv.Value
	}
	return nil
}

func (s *memStore) DeleteForEntity(ctx context.Context, entityType string, entityID uuid.UUID) (int64, error) {
	var n int64
	prefix := entityType + "/" + entityID.String() + "/"
	for key := range s.rows {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(s.rows, key)
			n++
		}
	}
	return n, nil
}

func (s *memStore) ClearSchemaLink(ctx context.Context, entityType, schemaCode string) (int64, error) {
	return 0, nil
}

func (s *memStore) DistinctFieldNames(ctx context.Context, entityType string) ([]string, error) {
	return nil, nil
}

// memProjector records candidate names passed on save.
type memProjector struct {
	candidates [][]string
	fail       error
}

func (p *memProjector) RecreateViewIfNeeded(ctx context.Context, entityType string, names []string) (bool, error) {
	if p.fail != nil {
		return false, p.fail
	}
	p.candidates = append(p.candidates, names)
	return true, nil
}

func (p *memProjector) ForceRebuild(ctx context.Context, entityType string) error { return nil }

func footwearRegistry() *memRegistry {
	reg := newMemRegistry()
	reg.addSchema("product", "footwear",
		&FieldDefinition{Name: "color", Type: TypeString, ValidationRules: "required|string"},
		&FieldDefinition{Name: "size", Type: TypeInteger, ValidationRules: "integer|min:1"},
	)
	reg.addSchema("product", "books",
		&FieldDefinition{Name: "isbn", Type: TypeString},
	)
	return reg
}

func TestAccessorGetWithoutSchemaReturnsNil(t *testing.T) {
	ctx := context.Background()
	entity := &testProduct{id: uuid.New(), persisted: true}
	acc := NewAccessor(entity, footwearRegistry(), newMemStore(), nil)

	value, err := acc.Get(ctx, "color")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestAccessorSetWithoutSchemaOnPersistedFails(t *testing.T) {
	ctx := context.Background()
	entity := &testProduct{id: uuid.New(), persisted: true}
	acc := NewAccessor(entity, footwearRegistry(), newMemStore(), nil)

	err := acc.Set(ctx, "color", "red")
	require.Error(t, err)
	assert.True(t, IsSchemaNotFound(err))
	assert.Contains(t, err.Error(), "assign one first")
}

func TestAccessorSetWithoutSchemaOnNewBuffers(t *testing.T) {
	ctx := context.Background()
	entity := &testProduct{id: uuid.New(), persisted: false}
	store := newMemStore()
	acc := NewAccessor(entity, footwearRegistry(), store, nil)

	require.NoError(t, acc.Set(ctx, "color", "red"))
	assert.True(t, acc.IsDirty())

	// Saving while still unassigned fails; nothing was written.
	err := acc.Save(ctx)
	require.Error(t, err)
	assert.True(t, IsSchemaNotFound(err))
	assert.Zero(t, store.setCalls)

	// After assignment the buffered write saves fine.
	entity.SetSchemaCode("footwear")
	require.NoError(t, acc.Save(ctx))
	assert.Equal(t, 1, store.setCalls)
}

func TestAccessorBufferedUnknownFieldFailsAtSave(t *testing.T) {
	ctx := context.Background()
	entity := &testProduct{id: uuid.New(), persisted: false}
	acc := NewAccessor(entity, footwearRegistry(), newMemStore(), nil)

	require.NoError(t, acc.Set(ctx, "isbn", "978-0"))
	entity.SetSchemaCode("footwear")

	err := acc.Save(ctx)
	require.Error(t, err)
	assert.True(t, IsFieldNotInSchema(err))
}

func TestAccessorUnknownFieldFailsFast(t *testing.T) {
	ctx := context.Background()
	entity := &testProduct{id: uuid.New(), code: "footwear", persisted: true}
	acc := NewAccessor(entity, footwearRegistry(), newMemStore(), nil)

	err := acc.Set(ctx, "isbn", "978-0")
	require.Error(t, err)
	assert.True(t, IsFieldNotInSchema(err))
	assert.Contains(t, err.Error(), "color")
	assert.Contains(t, err.Error(), "size")

	_, err = acc.Get(ctx, "isbn")
	require.Error(t, err)
	assert.True(t, IsFieldNotInSchema(err))
}

func TestAccessorDirtyReadsBack(t *testing.T) {
	ctx := context.Background()
	entity := &testProduct{id: uuid.New(), code: "footwear", persisted: true}
	acc := NewAccessor(entity, footwearRegistry(), newMemStore(), nil)

	require.NoError(t, acc.Set(ctx, "color", "blue"))
	value, err := acc.Get(ctx, "color")
	require.NoError(t, err)
	assert.Equal(t, "blue", value)

	dirty := acc.Dirty()
	assert.Equal(t, map[string]any{"color": "blue"}, dirty)
	dirty["color"] = "mutated"
	assert.Equal(t, map[string]any{"color": "blue"}, acc.Dirty())
}

func TestAccessorSaveValidatesWholeSet(t *testing.T) {
	ctx := context.Background()
	entity := &testProduct{id: uuid.New(), code: "footwear", persisted: true}
	store := newMemStore()
	acc := NewAccessor(entity, footwearRegistry(), store, nil)

	require.NoError(t, acc.Set(ctx, "size", 0))
	err := acc.Save(ctx)
	verr, ok := err.(*ValidationError)
	require.True(t, ok, "expected *ValidationError, got %T", err)
	assert.NotEmpty(t, verr.Messages("size"))
	assert.Zero(t, store.setCalls)
	assert.True(t, acc.IsDirty())
}

func TestAccessorSaveNoopWhenClean(t *testing.T) {
	ctx := context.Background()
	entity := &testProduct{id: uuid.New(), code: "footwear", persisted: true}
	store := newMemStore()
	acc := NewAccessor(entity, footwearRegistry(), store, nil)

	require.NoError(t, acc.Save(ctx))
	assert.Zero(t, store.setCalls)
}

func TestAccessorSavePersistsAndNotifiesProjector(t *testing.T) {
	ctx := context.Background()
	entity := &testProduct{id: uuid.New(), code: "footwear", persisted: true}
	store := newMemStore()
	projector := &memProjector{}
	acc := NewAccessor(entity, footwearRegistry(), store, projector)

	require.NoError(t, acc.Set(ctx, "color", "red"))
	require.NoError(t, acc.Set(ctx, "size", 42))
	require.NoError(t, acc.Save(ctx))

	assert.Equal(t, 1, store.setCalls)
	assert.False(t, acc.IsDirty())
	require.Len(t, projector.candidates, 1)
	assert.ElementsMatch(t, []string{"color", "size"}, projector.candidates[0])

	// Saved values read back without another save.
	value, err := acc.Get(ctx, "size")
	require.NoError(t, err)
	assert.Equal(t, int64(42), value)
}

func TestAccessorSaveCoercesToDeclaredKind(t *testing.T) {
	ctx := context.Background()
	entity := &testProduct{id: uuid.New(), code: "footwear", persisted: true}
	store := newMemStore()
	acc := NewAccessor(entity, footwearRegistry(), store, nil)

	require.NoError(t, acc.Set(ctx, "color", "red"))
	require.NoError(t, acc.Set(ctx, "size", "42"))
	require.NoError(t, acc.Save(ctx))

	stored := store.rows[storeKey("product", entity.id, "size")]
	got, ok := stored.IntVal()
	require.True(t, ok)
	assert.Equal(t, int64(42), got)
}

func TestAccessorTypeNotAllowedCarriesField(t *testing.T) {
	ctx := context.Background()
	entity := &testProduct{id: uuid.New(), code: "books", persisted: true}
	acc := NewAccessor(entity, footwearRegistry(), newMemStore(), nil)

	require.NoError(t, acc.Set(ctx, "isbn", make(chan int)))

	err := acc.Save(ctx)
	require.Error(t, err)
	assert.True(t, IsTypeNotAllowed(err))
	assert.Contains(t, err.Error(), "isbn")
}

func TestAccessorProjectorFailureDoesNotUndoSave(t *testing.T) {
	ctx := context.Background()
	entity := &testProduct{id: uuid.New(), code: "footwear", persisted: true}
	store := newMemStore()
	projector := &memProjector{fail: assert.AnError}
	acc := NewAccessor(entity, footwearRegistry(), store, projector)

	require.NoError(t, acc.Set(ctx, "color", "red"))
	require.NoError(t, acc.Save(ctx))
	assert.Equal(t, 1, store.setCalls)
	assert.False(t, acc.IsDirty())
}

func TestAccessorSchemaSwitchInvalidatesFields(t *testing.T) {
	ctx := context.Background()
	entity := &testProduct{id: uuid.New(), code: "footwear", persisted: true}
	acc := NewAccessor(entity, footwearRegistry(), newMemStore(), nil)

	require.NoError(t, acc.Set(ctx, "color", "red"))
	require.NoError(t, acc.Save(ctx))

	entity.SetSchemaCode("books")
	err := acc.Set(ctx, "color", "green")
	require.Error(t, err)
	assert.True(t, IsFieldNotInSchema(err))

	require.NoError(t, acc.Set(ctx, "isbn", "978-3-16-148410-0"))
}

func TestAccessorUnknownSchemaAssignment(t *testing.T) {
	ctx := context.Background()
	entity := &testProduct{id: uuid.New(), code: "nonexistent", persisted: true}
	acc := NewAccessor(entity, footwearRegistry(), newMemStore(), nil)

	_, err := acc.Get(ctx, "color")
	require.Error(t, err)
	assert.True(t, IsSchemaNotFound(err))
}

func TestAccessorReloadDiscardsState(t *testing.T) {
	ctx := context.Background()
	entity := &testProduct{id: uuid.New(), code: "footwear", persisted: true}
	store := newMemStore()
	acc := NewAccessor(entity, footwearRegistry(), store, nil)

	require.NoError(t, acc.Set(ctx, "color", "red"))
	acc.Reload()
	assert.False(t, acc.IsDirty())

	value, err := acc.Get(ctx, "color")
	require.NoError(t, err)
	assert.Nil(t, value)
}
