// Package factory wires configuration and a database pool into the storage
// components. This is the entrypoint for host projects embedding the
// attribute layer.
package factory

import (
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lychee-technology/flexy"
	"github.com/lychee-technology/flexy/internal"
	"go.uber.org/zap"
)

// queryPool is the slice of the pool API the table check needs; it keeps the
// check mockable.
type queryPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// tableCollector is swapped out in unit tests.
var tableCollector = collectTablesFromPool

// Components bundles the wired storage layer.
type Components struct {
	Registry  flexy.SchemaRegistry
	Store     flexy.ValueStore
	Projector flexy.ViewProjector
}

// NewComponents validates the configuration, verifies the required tables
// exist, and wires the registry, value store and view projector over the
// pool.
//
// Usage:
//
//	config := flexy.DefaultConfig()
//	components, err := factory.NewComponents(ctx, config, pool)
//	if err != nil {
//	    // handle error
//	}
//	acc := flexy.NewAccessor(entity, components.Registry, components.Store, components.Projector)
func NewComponents(ctx context.Context, config *flexy.Config, pool *pgxpool.Pool) (*Components, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	tables, err := tableCollector(ctx, pool)
	if err != nil {
		return nil, err
	}

	t := config.Database.TableNames
	for _, required := range []string{t.Schemas, t.Fields, t.Values, t.ViewFields} {
		if !slices.Contains(tables, required) {
			return nil, fmt.Errorf("required table %q is missing in the database", required)
		}
	}

	registry := internal.NewPostgresSchemaRegistry(pool, config.Database)
	store := internal.NewPostgresValueStore(pool, config.Database)
	projector := internal.NewPostgresViewProjector(pool, *config, store)

	zap.S().Infow("attribute storage components wired",
		"dialect", config.Projection.Dialect, "tables", len(tables))
	return &Components{Registry: registry, Store: store, Projector: projector}, nil
}

func collectTablesFromPool(ctx context.Context, pool queryPool) ([]string, error) {
	rows, err := pool.Query(ctx, `SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE';`)
	if err != nil {
		return nil, fmt.Errorf("failed to verify database connection: %w", err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, tableName)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return tables, nil
}

// NewAccessor creates an attribute accessor for the entity over the wired
// components.
func (c *Components) NewAccessor(entity flexy.HostEntity) *flexy.Accessor {
	return flexy.NewAccessor(entity, c.Registry, c.Store, c.Projector)
}

// NewLogger builds a zap logger from the logging configuration and installs
// it as the process global.
func NewLogger(cfg flexy.LoggingConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		zcfg.Level = level
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}
