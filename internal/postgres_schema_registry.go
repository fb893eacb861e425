package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lychee-technology/flexy"
	"go.uber.org/zap"
)

// registryPool is the subset of pgxpool.Pool the repositories use; pgxmock
// satisfies it in tests.
type registryPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// PostgresSchemaRegistry implements flexy.SchemaRegistry on PostgreSQL.
// Referential integrity between schemas, fields, values and host entity rows
// is application-enforced: the delete path runs the cascade explicitly
// instead of relying on database foreign keys.
type PostgresSchemaRegistry struct {
	pool         registryPool
	tables       flexy.TableNames
	entityTables map[string]flexy.EntityTable
	cache        *fieldCache
	nowFunc      func() time.Time
}

// NewPostgresSchemaRegistry creates a registry over the given pool.
func NewPostgresSchemaRegistry(pool registryPool, db flexy.DatabaseConfig) *PostgresSchemaRegistry {
	return &PostgresSchemaRegistry{
		pool:         pool,
		tables:       db.TableNames,
		entityTables: db.EntityTables,
		cache:        newFieldCache(),
		nowFunc:      time.Now,
	}
}

func (r *PostgresSchemaRegistry) withClock(now func() time.Time) {
	if now != nil {
		r.nowFunc = now
	}
}

const schemaColumns = "entity_type, code, label, description, metadata, is_default, created_at, updated_at"

// CreateSchema registers a new schema. Demoting any existing default runs in
// the same transaction as the insert so concurrent readers never observe two
// defaults.
func (r *PostgresSchemaRegistry) CreateSchema(ctx context.Context, entityType string, in flexy.SchemaInput) (*flexy.Schema, error) {
	if in.Code == "" {
		return nil, fmt.Errorf("schema code cannot be empty")
	}

	metadata, err := marshalMeta(in.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode schema metadata: %w", err)
	}
	now := nowMillis(r.nowFunc)

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // no-op if committed

	var exists bool
	existsQuery := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE entity_type = $1 AND code = $2)", sanitizeIdentifier(r.tables.Schemas))
	if err := tx.QueryRow(ctx, existsQuery, entityType, in.Code).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check schema existence: %w", err)
	}
	if exists {
		return nil, flexy.NewDuplicateSchemaError(entityType, in.Code)
	}

	if in.IsDefault {
		demote := fmt.Sprintf("UPDATE %s SET is_default = false, updated_at = $2 WHERE entity_type = $1 AND is_default", sanitizeIdentifier(r.tables.Schemas))
		if _, err := tx.Exec(ctx, demote, entityType, now); err != nil {
			return nil, fmt.Errorf("demote existing default: %w", err)
		}
	}

	insert := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		sanitizeIdentifier(r.tables.Schemas), schemaColumns,
	)
	if _, err := tx.Exec(ctx, insert, entityType, in.Code, in.Label, in.Description, metadata, in.IsDefault, now, now); err != nil {
		return nil, fmt.Errorf("insert schema: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	zap.S().Debugw("schema created", "entity_type", entityType, "code", in.Code, "is_default", in.IsDefault)
	return &flexy.Schema{
		EntityType:  entityType,
		Code:        in.Code,
		Label:       in.Label,
		Description: in.Description,
		Metadata:    in.Metadata,
		IsDefault:   in.IsDefault,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// GetSchema returns the schema, or nil when absent.
func (r *PostgresSchemaRegistry) GetSchema(ctx context.Context, entityType, code string) (*flexy.Schema, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE entity_type = $1 AND code = $2", schemaColumns, sanitizeIdentifier(r.tables.Schemas))
	schema, err := scanSchema(r.pool.QueryRow(ctx, query, entityType, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query schema: %w", err)
	}
	return schema, nil
}

// ListSchemas returns all schemas for the entity type ordered by code.
func (r *PostgresSchemaRegistry) ListSchemas(ctx context.Context, entityType string) ([]*flexy.Schema, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE entity_type = $1 ORDER BY code", schemaColumns, sanitizeIdentifier(r.tables.Schemas))
	rows, err := r.pool.Query(ctx, query, entityType)
	if err != nil {
		return nil, fmt.Errorf("query schemas: %w", err)
	}
	defer rows.Close()

	var schemas []*flexy.Schema
	for rows.Next() {
		schema, err := scanSchema(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schema: %w", err)
		}
		schemas = append(schemas, schema)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schemas: %w", err)
	}
	return schemas, nil
}

// DefaultSchema returns the entity type's default schema, or nil.
func (r *PostgresSchemaRegistry) DefaultSchema(ctx context.Context, entityType string) (*flexy.Schema, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE entity_type = $1 AND is_default", schemaColumns, sanitizeIdentifier(r.tables.Schemas))
	schema, err := scanSchema(r.pool.QueryRow(ctx, query, entityType))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query default schema: %w", err)
	}
	return schema, nil
}

// DeleteSchema removes a schema after verifying no live entity instance
// still references it. Field definitions are deleted and value rows keep
// their data with the schema linkage cleared. The host entity table cleanup
// is best-effort: an unresolvable entity table skips that step.
func (r *PostgresSchemaRegistry) DeleteSchema(ctx context.Context, entityType, code string) (bool, error) {
	entityTable, entityTableKnown := r.entityTables[entityType]
	if !entityTableKnown {
		zap.S().Infow("entity table not configured, skipping reference check and cleanup",
			"entity_type", entityType, "schema_code", code)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if entityTableKnown {
		// The check runs inside the delete transaction and locks the
		// referencing rows, so an in-flight assignment cannot slip between
		// check and commit.
		countQuery := fmt.Sprintf(
			"SELECT COUNT(*) FROM (SELECT 1 FROM %s WHERE %s = $1 FOR SHARE) refs",
			sanitizeIdentifier(entityTable.Table), sanitizeIdentifier(entityTable.SchemaCodeColumn),
		)
		var count int64
		if err := tx.QueryRow(ctx, countQuery, code).Scan(&count); err != nil {
			return false, fmt.Errorf("count schema references: %w", err)
		}
		if count > 0 {
			return false, flexy.NewSchemaInUseError(entityType, code, count)
		}
	}

	deleteFields := fmt.Sprintf("DELETE FROM %s WHERE entity_type = $1 AND schema_code = $2", sanitizeIdentifier(r.tables.Fields))
	if _, err := tx.Exec(ctx, deleteFields, entityType, code); err != nil {
		return false, fmt.Errorf("cascade field definitions: %w", err)
	}

	// Attribute history survives schema deletion; only the linkage goes.
	clearValues := fmt.Sprintf("UPDATE %s SET schema_code = NULL WHERE entity_type = $1 AND schema_code = $2", sanitizeIdentifier(r.tables.Values))
	if _, err := tx.Exec(ctx, clearValues, entityType, code); err != nil {
		return false, fmt.Errorf("clear value schema linkage: %w", err)
	}

	if entityTableKnown {
		clearEntities := fmt.Sprintf(
			"UPDATE %s SET %s = NULL WHERE %s = $1",
			sanitizeIdentifier(entityTable.Table),
			sanitizeIdentifier(entityTable.SchemaCodeColumn),
			sanitizeIdentifier(entityTable.SchemaCodeColumn),
		)
		if _, err := tx.Exec(ctx, clearEntities, code); err != nil {
			return false, fmt.Errorf("clear entity schema linkage: %w", err)
		}
	}

	deleteSchema := fmt.Sprintf("DELETE FROM %s WHERE entity_type = $1 AND code = $2", sanitizeIdentifier(r.tables.Schemas))
	tag, err := tx.Exec(ctx, deleteSchema, entityType, code)
	if err != nil {
		return false, fmt.Errorf("delete schema: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}

	r.cache.invalidate(entityType, code)
	deleted := tag.RowsAffected() > 0
	if deleted {
		zap.S().Infow("schema deleted", "entity_type", entityType, "code", code)
	}
	return deleted, nil
}

const fieldColumns = "entity_type, schema_code, name, value_type, sort, validation_rules, validation_messages, metadata, label, position"

// AddField upserts a field definition by (schemaCode, name).
func (r *PostgresSchemaRegistry) AddField(ctx context.Context, entityType, schemaCode string, in flexy.FieldInput) (*flexy.FieldDefinition, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("field name cannot be empty")
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("unknown type kind: %q", in.Type)
	}
	if multiple, ok := in.Metadata[flexy.MetaMultiple].(bool); ok && multiple && in.Type != flexy.TypeJSON {
		return nil, fmt.Errorf("metadata %q is only legal for %s-typed fields", flexy.MetaMultiple, flexy.TypeJSON)
	}

	schema, err := r.GetSchema(ctx, entityType, schemaCode)
	if err != nil {
		return nil, err
	}
	if schema == nil {
		return nil, flexy.NewSchemaNotFoundError(entityType, schemaCode)
	}

	sort := in.Sort
	if sort == 0 {
		sort = flexy.DefaultFieldSort
	}
	messages, err := marshalMeta(in.ValidationMessages)
	if err != nil {
		return nil, fmt.Errorf("encode validation messages: %w", err)
	}
	metadata, err := marshalMeta(in.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode field metadata: %w", err)
	}

	upsert := fmt.Sprintf(
		`INSERT INTO %s (entity_type, schema_code, name, value_type, sort, validation_rules, validation_messages, metadata, label)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (entity_type, schema_code, name)
		DO UPDATE SET value_type = EXCLUDED.value_type, sort = EXCLUDED.sort,
			validation_rules = EXCLUDED.validation_rules,
			validation_messages = EXCLUDED.validation_messages,
			metadata = EXCLUDED.metadata, label = EXCLUDED.label
		RETURNING position`,
		sanitizeIdentifier(r.tables.Fields),
	)
	var position int
	if err := r.pool.QueryRow(ctx, upsert,
		entityType, schemaCode, in.Name, string(in.Type), sort,
		in.ValidationRules, messages, metadata, in.Label,
	).Scan(&position); err != nil {
		return nil, fmt.Errorf("upsert field definition: %w", err)
	}

	r.cache.invalidate(entityType, schemaCode)
	return &flexy.FieldDefinition{
		EntityType:         entityType,
		SchemaCode:         schemaCode,
		Name:               in.Name,
		Type:               in.Type,
		Sort:               sort,
		ValidationRules:    in.ValidationRules,
		ValidationMessages: in.ValidationMessages,
		Metadata:           in.Metadata,
		Label:              in.Label,
		Position:           position,
	}, nil
}

// RemoveField deletes one field definition. Persisted values for the field
// are kept; they simply become unreadable until a schema declares the name
// again.
func (r *PostgresSchemaRegistry) RemoveField(ctx context.Context, entityType, schemaCode, name string) (bool, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE entity_type = $1 AND schema_code = $2 AND name = $3", sanitizeIdentifier(r.tables.Fields))
	tag, err := r.pool.Exec(ctx, query, entityType, schemaCode, name)
	if err != nil {
		return false, fmt.Errorf("delete field definition: %w", err)
	}
	r.cache.invalidate(entityType, schemaCode)
	return tag.RowsAffected() > 0, nil
}

// ListFields returns the schema's field definitions ordered by sort
// ascending, insertion order breaking ties.
func (r *PostgresSchemaRegistry) ListFields(ctx context.Context, entityType, schemaCode string) ([]*flexy.FieldDefinition, error) {
	if defs, ok := r.cache.get(entityType, schemaCode); ok {
		return defs, nil
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE entity_type = $1 AND schema_code = $2 ORDER BY sort ASC, position ASC", fieldColumns, sanitizeIdentifier(r.tables.Fields))
	rows, err := r.pool.Query(ctx, query, entityType, schemaCode)
	if err != nil {
		return nil, fmt.Errorf("query field definitions: %w", err)
	}
	defer rows.Close()

	var defs []*flexy.FieldDefinition
	for rows.Next() {
		def, err := scanFieldDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan field definition: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate field definitions: %w", err)
	}

	r.cache.put(entityType, schemaCode, defs)
	return defs, nil
}

// Assign sets the instance's schema linkage after verifying the code exists
// for the instance's entity type. Persisting the linkage column is the
// host's responsibility.
func (r *PostgresSchemaRegistry) Assign(ctx context.Context, entity flexy.HostEntity, code string) error {
	entityType := entity.EntityType()
	schema, err := r.GetSchema(ctx, entityType, code)
	if err != nil {
		return err
	}
	if schema == nil {
		return flexy.NewSchemaNotFoundError(entityType, code)
	}
	entity.SetSchemaCode(code)
	return nil
}

// ApplyDefault assigns the entity type's default schema when the instance
// has no code set. Hosts must invoke it only from the create path and only
// when no explicit assignment (including an explicit empty one) happened.
func (r *PostgresSchemaRegistry) ApplyDefault(ctx context.Context, entity flexy.HostEntity) error {
	if entity.SchemaCode() != "" {
		return nil
	}
	def, err := r.DefaultSchema(ctx, entity.EntityType())
	if err != nil {
		return err
	}
	if def == nil {
		return nil
	}
	entity.SetSchemaCode(def.Code)
	return nil
}

func marshalMeta[M map[string]any | map[string]string](m M) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchema(row rowScanner) (*flexy.Schema, error) {
	var (
		schema      flexy.Schema
		description *string
		metadata    []byte
	)
	if err := row.Scan(
		&schema.EntityType, &schema.Code, &schema.Label, &description,
		&metadata, &schema.IsDefault, &schema.CreatedAt, &schema.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if description != nil {
		schema.Description = *description
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &schema.Metadata); err != nil {
			return nil, fmt.Errorf("decode schema metadata: %w", err)
		}
	}
	return &schema, nil
}

func scanFieldDefinition(row rowScanner) (*flexy.FieldDefinition, error) {
	var (
		def       flexy.FieldDefinition
		valueType string
		rules     *string
		messages  []byte
		metadata  []byte
		label     *string
	)
	if err := row.Scan(
		&def.EntityType, &def.SchemaCode, &def.Name, &valueType, &def.Sort,
		&rules, &messages, &metadata, &label, &def.Position,
	); err != nil {
		return nil, err
	}
	kind, err := flexy.ParseTypeKind(valueType)
	if err != nil {
		return nil, err
	}
	def.Type = kind
	if rules != nil {
		def.ValidationRules = *rules
	}
	if label != nil {
		def.Label = *label
	}
	if len(messages) > 0 {
		if err := json.Unmarshal(messages, &def.ValidationMessages); err != nil {
			return nil, fmt.Errorf("decode validation messages: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &def.Metadata); err != nil {
			return nil, fmt.Errorf("decode field metadata: %w", err)
		}
	}
	return &def, nil
}
