package internal

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lychee-technology/flexy"
)

// PostgresValueStore implements flexy.ValueStore over the narrow typed-column
// table. Upserts always write all seven typed columns so a field whose
// declared kind changed never keeps a stale column populated.
type PostgresValueStore struct {
	pool  registryPool
	table string
}

// NewPostgresValueStore creates a value store over the given pool.
func NewPostgresValueStore(pool registryPool, db flexy.DatabaseConfig) *PostgresValueStore {
	return &PostgresValueStore{pool: pool, table: db.TableNames.Values}
}

const valueColumns = "entity_type, entity_id, field_name, schema_code, value_string, value_int, value_decimal, value_boolean, value_date, value_datetime, value_json"

func (s *PostgresValueStore) Get(ctx context.Context, entityType string, entityID uuid.UUID, field *flexy.FieldDefinition) (flexy.TypedValue, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE entity_type = $1 AND entity_id = $2 AND field_name = $3",
		valueColumns, sanitizeIdentifier(s.table),
	)
	row, err := scanValueRow(s.pool.QueryRow(ctx, query, entityType, entityID, field.Name))
	if errors.Is(err, pgx.ErrNoRows) {
		return flexy.Null(field.Type), nil
	}
	if err != nil {
		return flexy.TypedValue{}, fmt.Errorf("query attribute value: %w", err)
	}
	return decodeValueRow(row, field.Type)
}

func (s *PostgresValueStore) GetAll(ctx context.Context, entityType string, entityID uuid.UUID, fields map[string]*flexy.FieldDefinition) (map[string]flexy.TypedValue, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE entity_type = $1 AND entity_id = $2",
		valueColumns, sanitizeIdentifier(s.table),
	)
	rows, err := s.pool.Query(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("query attribute values: %w", err)
	}
	defer rows.Close()

	values := make(map[string]flexy.TypedValue, len(fields))
	for rows.Next() {
		row, err := scanValueRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attribute value: %w", err)
		}
		def, ok := fields[row.FieldName]
		if !ok {
			// Row outlived its field definition; unreadable until a schema
			// declares the name again.
			continue
		}
		value, err := decodeValueRow(row, def.Type)
		if err != nil {
			return nil, fmt.Errorf("decode %q: %w", row.FieldName, err)
		}
		values[row.FieldName] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attribute values: %w", err)
	}
	return values, nil
}

func (s *PostgresValueStore) Set(ctx context.Context, entityType string, entityID uuid.UUID, field *flexy.FieldDefinition, value flexy.TypedValue, schemaCode string) error {
	row, err := encodeValueRow(entityType, entityID, field.Name, schemaCode, value)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, s.upsertSQL(), upsertArgs(row)...); err != nil {
		return fmt.Errorf("upsert attribute value: %w", err)
	}
	return nil
}

func (s *PostgresValueStore) SetMany(ctx context.Context, entityType string, entityID uuid.UUID, schemaCode string, values []flexy.FieldValue) error {
	if len(values) == 0 {
		return nil
	}

	rows := make([]valueRow, 0, len(values))
	for _, fv := range values {
		row, err := encodeValueRow(entityType, entityID, fv.Field.Name, schemaCode, fv.Value)
		if err != nil {
			return fmt.Errorf("encode %q: %w", fv.Field.Name, err)
		}
		rows = append(rows, row)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	upsert := s.upsertSQL()
	for _, row := range rows {
		if _, err := tx.Exec(ctx, upsert, upsertArgs(row)...); err != nil {
			return fmt.Errorf("upsert %q: %w", row.FieldName, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresValueStore) DeleteForEntity(ctx context.Context, entityType string, entityID uuid.UUID) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE entity_type = $1 AND entity_id = $2", sanitizeIdentifier(s.table))
	tag, err := s.pool.Exec(ctx, query, entityType, entityID)
	if err != nil {
		return 0, fmt.Errorf("delete attribute values: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresValueStore) ClearSchemaLink(ctx context.Context, entityType, schemaCode string) (int64, error) {
	query := fmt.Sprintf("UPDATE %s SET schema_code = NULL WHERE entity_type = $1 AND schema_code = $2", sanitizeIdentifier(s.table))
	tag, err := s.pool.Exec(ctx, query, entityType, schemaCode)
	if err != nil {
		return 0, fmt.Errorf("clear schema linkage: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresValueStore) DistinctFieldNames(ctx context.Context, entityType string) ([]string, error) {
	query := fmt.Sprintf("SELECT DISTINCT field_name FROM %s WHERE entity_type = $1 ORDER BY field_name", sanitizeIdentifier(s.table))
	rows, err := s.pool.Query(ctx, query, entityType)
	if err != nil {
		return nil, fmt.Errorf("query field names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan field name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate field names: %w", err)
	}
	return names, nil
}

func (s *PostgresValueStore) upsertSQL() string {
	return fmt.Sprintf(
		`INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (entity_type, entity_id, field_name)
		DO UPDATE SET schema_code = EXCLUDED.schema_code,
			value_string = EXCLUDED.value_string, value_int = EXCLUDED.value_int,
			value_decimal = EXCLUDED.value_decimal, value_boolean = EXCLUDED.value_boolean,
			value_date = EXCLUDED.value_date, value_datetime = EXCLUDED.value_datetime,
			value_json = EXCLUDED.value_json`,
		sanitizeIdentifier(s.table), valueColumns,
	)
}

func upsertArgs(row valueRow) []any {
	return []any{
		row.EntityType, row.EntityID, row.FieldName, row.SchemaCode,
		row.ValueString, row.ValueInt, row.ValueDecimal, row.ValueBoolean,
		row.ValueDate, row.ValueDateTime, row.ValueJSON,
	}
}

func scanValueRow(r rowScanner) (valueRow, error) {
	var row valueRow
	err := r.Scan(
		&row.EntityType, &row.EntityID, &row.FieldName, &row.SchemaCode,
		&row.ValueString, &row.ValueInt, &row.ValueDecimal, &row.ValueBoolean,
		&row.ValueDate, &row.ValueDateTime, &row.ValueJSON,
	)
	return row, err
}
