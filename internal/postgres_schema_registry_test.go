package internal

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lychee-technology/flexy"
)

func testDBConfig() flexy.DatabaseConfig {
	db := flexy.DefaultConfig().Database
	db.EntityTables = map[string]flexy.EntityTable{
		"product": {Table: "products", SchemaCodeColumn: "attribute_schema_code", IDColumn: "id"},
	}
	return db
}

func fixedClock() func() time.Time {
	return func() time.Time { return time.UnixMilli(1700000000000).UTC() }
}

func newTestRegistry(t *testing.T) (*PostgresSchemaRegistry, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	reg := NewPostgresSchemaRegistry(mock, testDBConfig())
	reg.withClock(fixedClock())
	return reg, mock
}

func TestCreateSchemaInsertsAndDemotesDefault(t *testing.T) {
	ctx := context.Background()
	reg, mock := newTestRegistry(t)
	defer mock.Close()

	now := int64(1700000000000)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("product", "footwear").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`UPDATE "flexy_schemas" SET is_default = false`).
		WithArgs("product", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO "flexy_schemas"`).
		WithArgs("product", "footwear", "Footwear", "", []byte(nil), true, now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	schema, err := reg.CreateSchema(ctx, "product", flexy.SchemaInput{
		Code: "footwear", Label: "Footwear", IsDefault: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "footwear", schema.Code)
	assert.True(t, schema.IsDefault)
	assert.Equal(t, now, schema.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSchemaDuplicate(t *testing.T) {
	ctx := context.Background()
	reg, mock := newTestRegistry(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("product", "footwear").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := reg.CreateSchema(ctx, "product", flexy.SchemaInput{Code: "footwear"})
	require.Error(t, err)
	assert.True(t, flexy.IsDuplicateSchema(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSchemaAbsentReturnsNil(t *testing.T) {
	ctx := context.Background()
	reg, mock := newTestRegistry(t)
	defer mock.Close()

	mock.ExpectQuery(`SELECT entity_type, code`).
		WithArgs("product", "ghost").
		WillReturnError(pgx.ErrNoRows)

	schema, err := reg.GetSchema(ctx, "product", "ghost")
	require.NoError(t, err)
	assert.Nil(t, schema)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSchemaDecodesMetadata(t *testing.T) {
	ctx := context.Background()
	reg, mock := newTestRegistry(t)
	defer mock.Close()

	desc := "All shoes"
	rows := pgxmock.NewRows([]string{"entity_type", "code", "label", "description", "metadata", "is_default", "created_at", "updated_at"}).
		AddRow("product", "footwear", "Footwear", &desc, []byte(`{"icon":"boot"}`), false, int64(1), int64(2))
	mock.ExpectQuery(`SELECT entity_type, code`).
		WithArgs("product", "footwear").
		WillReturnRows(rows)

	schema, err := reg.GetSchema(ctx, "product", "footwear")
	require.NoError(t, err)
	require.NotNil(t, schema)
	assert.Equal(t, "All shoes", schema.Description)
	assert.Equal(t, "boot", schema.Metadata["icon"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSchemaBlockedWhileReferenced(t *testing.T) {
	ctx := context.Background()
	reg, mock := newTestRegistry(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT.+FOR SHARE`).
		WithArgs("footwear").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectRollback()

	_, err := reg.DeleteSchema(ctx, "product", "footwear")
	require.Error(t, err)
	assert.True(t, flexy.IsSchemaInUse(err))
	var inUse *flexy.SchemaInUseError
	require.ErrorAs(t, err, &inUse)
	assert.Equal(t, int64(3), inUse.Count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSchemaCascades(t *testing.T) {
	ctx := context.Background()
	reg, mock := newTestRegistry(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT.+FOR SHARE`).
		WithArgs("footwear").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectExec(`DELETE FROM "flexy_fields"`).
		WithArgs("product", "footwear").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(`UPDATE "flexy_values" SET schema_code = NULL`).
		WithArgs("product", "footwear").
		WillReturnResult(pgxmock.NewResult("UPDATE", 5))
	mock.ExpectExec(`UPDATE "products" SET "attribute_schema_code" = NULL`).
		WithArgs("footwear").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec(`DELETE FROM "flexy_schemas"`).
		WithArgs("product", "footwear").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	deleted, err := reg.DeleteSchema(ctx, "product", "footwear")
	require.NoError(t, err)
	assert.True(t, deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSchemaSkipsUnknownEntityTable(t *testing.T) {
	ctx := context.Background()
	reg, mock := newTestRegistry(t)
	defer mock.Close()

	// No reference count query for an unconfigured entity type.
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "flexy_fields"`).
		WithArgs("warehouse", "bulk").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`UPDATE "flexy_values" SET schema_code = NULL`).
		WithArgs("warehouse", "bulk").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec(`DELETE FROM "flexy_schemas"`).
		WithArgs("warehouse", "bulk").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCommit()

	deleted, err := reg.DeleteSchema(ctx, "warehouse", "bulk")
	require.NoError(t, err)
	assert.False(t, deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func expectSchemaLookup(mock pgxmock.PgxPoolIface, entityType, code string) {
	rows := pgxmock.NewRows([]string{"entity_type", "code", "label", "description", "metadata", "is_default", "created_at", "updated_at"}).
		AddRow(entityType, code, "", (*string)(nil), []byte(nil), false, int64(1), int64(1))
	mock.ExpectQuery(`SELECT entity_type, code`).
		WithArgs(entityType, code).
		WillReturnRows(rows)
}

func TestAddFieldUpserts(t *testing.T) {
	ctx := context.Background()
	reg, mock := newTestRegistry(t)
	defer mock.Close()

	expectSchemaLookup(mock, "product", "footwear")
	mock.ExpectQuery(`INSERT INTO "flexy_fields"`).
		WithArgs("product", "footwear", "color", "string", flexy.DefaultFieldSort,
			"required|string", []byte(nil), []byte(nil), "Color").
		WillReturnRows(pgxmock.NewRows([]string{"position"}).AddRow(7))

	def, err := reg.AddField(ctx, "product", "footwear", flexy.FieldInput{
		Name: "color", Type: flexy.TypeString, ValidationRules: "required|string", Label: "Color",
	})
	require.NoError(t, err)
	assert.Equal(t, flexy.DefaultFieldSort, def.Sort)
	assert.Equal(t, 7, def.Position)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddFieldSchemaMissing(t *testing.T) {
	ctx := context.Background()
	reg, mock := newTestRegistry(t)
	defer mock.Close()

	mock.ExpectQuery(`SELECT entity_type, code`).
		WithArgs("product", "ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err := reg.AddField(ctx, "product", "ghost", flexy.FieldInput{Name: "color", Type: flexy.TypeString})
	require.Error(t, err)
	assert.True(t, flexy.IsSchemaNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddFieldMultipleRequiresJSON(t *testing.T) {
	ctx := context.Background()
	reg, mock := newTestRegistry(t)
	defer mock.Close()

	_, err := reg.AddField(ctx, "product", "footwear", flexy.FieldInput{
		Name: "tags", Type: flexy.TypeString,
		Metadata: map[string]any{flexy.MetaMultiple: true},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "json")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListFieldsOrdersAndCaches(t *testing.T) {
	ctx := context.Background()
	reg, mock := newTestRegistry(t)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"entity_type", "schema_code", "name", "value_type", "sort", "validation_rules", "validation_messages", "metadata", "label", "position"}).
		AddRow("product", "footwear", "color", "string", 10, strPtr("required"), []byte(nil), []byte(nil), (*string)(nil), 1).
		AddRow("product", "footwear", "size", "integer", 20, (*string)(nil), []byte(nil), []byte(nil), (*string)(nil), 2)
	mock.ExpectQuery(`SELECT entity_type, schema_code, name`).
		WithArgs("product", "footwear").
		WillReturnRows(rows)

	defs, err := reg.ListFields(ctx, "product", "footwear")
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "color", defs[0].Name)
	assert.Equal(t, flexy.TypeInteger, defs[1].Type)
	assert.Equal(t, "required", defs[0].ValidationRules)

	// Second call is served from the cache: no further query expected.
	defs2, err := reg.ListFields(ctx, "product", "footwear")
	require.NoError(t, err)
	assert.Len(t, defs2, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveFieldInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	reg, mock := newTestRegistry(t)
	defer mock.Close()

	mock.ExpectExec(`DELETE FROM "flexy_fields"`).
		WithArgs("product", "footwear", "color").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	removed, err := reg.RemoveField(ctx, "product", "footwear", "color")
	require.NoError(t, err)
	assert.True(t, removed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignVerifiesSchemaExists(t *testing.T) {
	ctx := context.Background()
	reg, mock := newTestRegistry(t)
	defer mock.Close()

	entity := &stubEntity{entityType: "product"}

	mock.ExpectQuery(`SELECT entity_type, code`).
		WithArgs("product", "ghost").
		WillReturnError(pgx.ErrNoRows)
	err := reg.Assign(ctx, entity, "ghost")
	require.Error(t, err)
	assert.True(t, flexy.IsSchemaNotFound(err))
	assert.Empty(t, entity.code)

	expectSchemaLookup(mock, "product", "footwear")
	require.NoError(t, reg.Assign(ctx, entity, "footwear"))
	assert.Equal(t, "footwear", entity.code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyDefault(t *testing.T) {
	ctx := context.Background()
	reg, mock := newTestRegistry(t)
	defer mock.Close()

	// Explicit assignment is never overridden.
	assigned := &stubEntity{entityType: "product", code: "books"}
	require.NoError(t, reg.ApplyDefault(ctx, assigned))
	assert.Equal(t, "books", assigned.code)

	rows := pgxmock.NewRows([]string{"entity_type", "code", "label", "description", "metadata", "is_default", "created_at", "updated_at"}).
		AddRow("product", "footwear", "", (*string)(nil), []byte(nil), true, int64(1), int64(1))
	mock.ExpectQuery(`SELECT entity_type, code`).
		WithArgs("product").
		WillReturnRows(rows)

	fresh := &stubEntity{entityType: "product"}
	require.NoError(t, reg.ApplyDefault(ctx, fresh))
	assert.Equal(t, "footwear", fresh.code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyDefaultNoDefaultConfigured(t *testing.T) {
	ctx := context.Background()
	reg, mock := newTestRegistry(t)
	defer mock.Close()

	mock.ExpectQuery(`SELECT entity_type, code`).
		WithArgs("product").
		WillReturnError(pgx.ErrNoRows)

	fresh := &stubEntity{entityType: "product"}
	require.NoError(t, reg.ApplyDefault(ctx, fresh))
	assert.Empty(t, fresh.code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func strPtr(s string) *string { return &s }
