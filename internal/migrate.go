package internal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lychee-technology/flexy"
	"go.uber.org/zap"
)

// LegacyMigrator copies schema definitions out of the deprecated flat table
// into the field-set model. The flat table kept one row per schema with the
// field list embedded as a json document.
type LegacyMigrator struct {
	pool        registryPool
	registry    flexy.SchemaRegistry
	legacyTable string
}

// MigrationResult summarizes one migration run.
type MigrationResult struct {
	SchemasMigrated int
	SchemasSkipped  int
	FieldsMigrated  int
}

type legacyField struct {
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	Sort     int               `json:"sort"`
	Rules    string            `json:"rules,omitempty"`
	Messages map[string]string `json:"messages,omitempty"`
	Metadata map[string]any    `json:"metadata,omitempty"`
	Label    string            `json:"label,omitempty"`
}

func NewLegacyMigrator(pool registryPool, registry flexy.SchemaRegistry, legacyTable string) *LegacyMigrator {
	return &LegacyMigrator{pool: pool, registry: registry, legacyTable: legacyTable}
}

// Migrate walks every legacy row and recreates it through the registry.
// Schemas already present are skipped wholesale, so re-running after a
// partial failure produces no duplicate rows.
func (m *LegacyMigrator) Migrate(ctx context.Context) (*MigrationResult, error) {
	query := fmt.Sprintf(
		"SELECT entity_type, code, label, description, is_default, fields FROM %s ORDER BY entity_type, code",
		sanitizeIdentifier(m.legacyTable),
	)
	rows, err := m.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query legacy schemas: %w", err)
	}
	defer rows.Close()

	type legacyRow struct {
		entityType  string
		code        string
		label       string
		description *string
		isDefault   bool
		fields      []byte
	}
	var pending []legacyRow
	for rows.Next() {
		var lr legacyRow
		if err := rows.Scan(&lr.entityType, &lr.code, &lr.label, &lr.description, &lr.isDefault, &lr.fields); err != nil {
			return nil, fmt.Errorf("scan legacy schema: %w", err)
		}
		pending = append(pending, lr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate legacy schemas: %w", err)
	}

	result := &MigrationResult{}
	for _, lr := range pending {
		existing, err := m.registry.GetSchema(ctx, lr.entityType, lr.code)
		if err != nil {
			return result, err
		}
		if existing != nil {
			result.SchemasSkipped++
			continue
		}

		var fields []legacyField
		if len(lr.fields) > 0 {
			if err := json.Unmarshal(lr.fields, &fields); err != nil {
				return result, fmt.Errorf("decode legacy fields for %s/%s: %w", lr.entityType, lr.code, err)
			}
		}

		in := flexy.SchemaInput{Code: lr.code, Label: lr.label, IsDefault: lr.isDefault}
		if lr.description != nil {
			in.Description = *lr.description
		}
		if _, err := m.registry.CreateSchema(ctx, lr.entityType, in); err != nil {
			if flexy.IsDuplicateSchema(err) {
				result.SchemasSkipped++
				continue
			}
			return result, err
		}
		result.SchemasMigrated++

		for _, lf := range fields {
			kind, err := flexy.ParseTypeKind(lf.Type)
			if err != nil {
				return result, fmt.Errorf("legacy field %s/%s/%s: %w", lr.entityType, lr.code, lf.Name, err)
			}
			if _, err := m.registry.AddField(ctx, lr.entityType, lr.code, flexy.FieldInput{
				Name:               lf.Name,
				Type:               kind,
				Sort:               lf.Sort,
				ValidationRules:    lf.Rules,
				ValidationMessages: lf.Messages,
				Metadata:           lf.Metadata,
				Label:              lf.Label,
			}); err != nil {
				return result, fmt.Errorf("migrate field %s/%s/%s: %w", lr.entityType, lr.code, lf.Name, err)
			}
			result.FieldsMigrated++
		}
	}

	zap.S().Infow("legacy schema migration finished",
		"migrated", result.SchemasMigrated, "skipped", result.SchemasSkipped, "fields", result.FieldsMigrated)
	return result, nil
}
