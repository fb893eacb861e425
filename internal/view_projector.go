package internal

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5"
	"github.com/lychee-technology/flexy"
	"go.uber.org/zap"
)

// PostgresViewProjector implements flexy.ViewProjector. Known field names
// live in a tracking table so the steady-state save path costs one membership
// query instead of a view rebuild. The view is shared across entity types and
// projects the union of every tracked name; a rebuild drops and recreates it
// in one transaction because CREATE OR REPLACE VIEW cannot rename, remove, or
// reorder existing columns.
type PostgresViewProjector struct {
	pool         registryPool
	tables       flexy.TableNames
	generator    ViewSQLGenerator
	store        flexy.ValueStore
	advisoryLock bool
}

// NewPostgresViewProjector creates a projector over the given pool. The
// store is consulted only by ForceRebuild, to recompute the tracked set.
func NewPostgresViewProjector(pool registryPool, cfg flexy.Config, store flexy.ValueStore) *PostgresViewProjector {
	tables := cfg.Database.TableNames
	var gen ViewSQLGenerator
	if cfg.Projection.Dialect == flexy.DialectDuckDB {
		gen = NewDuckDBViewSQLGenerator(tables, cfg.Projection.ColumnPrefix)
	} else {
		gen = NewPostgresViewSQLGenerator(tables, cfg.Projection.ColumnPrefix)
	}
	return &PostgresViewProjector{
		pool:         pool,
		tables:       tables,
		generator:    gen,
		store:        store,
		advisoryLock: cfg.Projection.AdvisoryLock,
	}
}

func (p *PostgresViewProjector) RecreateViewIfNeeded(ctx context.Context, entityType string, candidateFieldNames []string) (bool, error) {
	if len(candidateFieldNames) == 0 {
		return false, nil
	}

	known, err := p.knownNames(ctx, entityType)
	if err != nil {
		return false, err
	}
	var fresh []string
	for _, name := range candidateFieldNames {
		if _, ok := known[name]; !ok {
			fresh = append(fresh, name)
		}
	}
	if len(fresh) == 0 {
		return false, nil
	}

	// Tracking inserts and the rebuild commit together: a failed rebuild
	// leaves the names untracked so the next save retries it.
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insert := fmt.Sprintf(
		"INSERT INTO %s (entity_type, field_name) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		sanitizeIdentifier(p.tables.ViewFields),
	)
	for _, name := range fresh {
		if _, err := tx.Exec(ctx, insert, entityType, name); err != nil {
			return false, fmt.Errorf("track field name %q: %w", name, err)
		}
	}

	total, err := p.rebuildInTx(ctx, tx)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}
	zap.S().Infow("projection view rebuilt", "entity_type", entityType, "new_fields", fresh, "total_fields", total)
	return true, nil
}

func (p *PostgresViewProjector) ForceRebuild(ctx context.Context, entityType string) error {
	if p.advisoryLock && p.generator.Dialect() == flexy.DialectPostgres {
		locked, err := p.acquireLock(ctx, entityType)
		if err != nil {
			return fmt.Errorf("acquire rebuild lock: %w", err)
		}
		if !locked {
			return fmt.Errorf("rebuild already in progress for entity type %q", entityType)
		}
		defer p.releaseLock(ctx, entityType)
	}

	names, err := p.store.DistinctFieldNames(ctx, entityType)
	if err != nil {
		return fmt.Errorf("recompute field names: %w", err)
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	truncate := fmt.Sprintf("DELETE FROM %s WHERE entity_type = $1", sanitizeIdentifier(p.tables.ViewFields))
	if _, err := tx.Exec(ctx, truncate, entityType); err != nil {
		return fmt.Errorf("reset tracked field names: %w", err)
	}
	insert := fmt.Sprintf(
		"INSERT INTO %s (entity_type, field_name) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		sanitizeIdentifier(p.tables.ViewFields),
	)
	for _, name := range names {
		if _, err := tx.Exec(ctx, insert, entityType, name); err != nil {
			return fmt.Errorf("track field name %q: %w", name, err)
		}
	}

	total, err := p.rebuildInTx(ctx, tx)
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	zap.S().Infow("projection view force-rebuilt", "entity_type", entityType, "fields", total)
	return nil
}

func (p *PostgresViewProjector) knownNames(ctx context.Context, entityType string) (map[string]struct{}, error) {
	query := fmt.Sprintf("SELECT field_name FROM %s WHERE entity_type = $1", sanitizeIdentifier(p.tables.ViewFields))
	rows, err := p.pool.Query(ctx, query, entityType)
	if err != nil {
		return nil, fmt.Errorf("query tracked field names: %w", err)
	}
	defer rows.Close()

	known := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan tracked field name: %w", err)
		}
		known[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracked field names: %w", err)
	}
	return known, nil
}

// rebuildInTx recreates the view over the union of tracked names across all
// entity types and returns how many columns it projects.
func (p *PostgresViewProjector) rebuildInTx(ctx context.Context, tx pgx.Tx) (int, error) {
	query := fmt.Sprintf("SELECT DISTINCT field_name FROM %s", sanitizeIdentifier(p.tables.ViewFields))
	rows, err := tx.Query(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("query union of tracked field names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return 0, fmt.Errorf("scan tracked field name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate tracked field names: %w", err)
	}
	rows.Close()

	ddl, err := p.generator.ViewDDL(sortedNames(names))
	if err != nil {
		return 0, fmt.Errorf("render view ddl: %w", err)
	}
	drop := fmt.Sprintf("DROP VIEW IF EXISTS %s", sanitizeIdentifier(p.tables.View))
	if _, err := tx.Exec(ctx, drop); err != nil {
		return 0, fmt.Errorf("drop view: %w", err)
	}
	if _, err := tx.Exec(ctx, ddl); err != nil {
		return 0, fmt.Errorf("recreate view: %w", err)
	}
	return len(names), nil
}

func (p *PostgresViewProjector) acquireLock(ctx context.Context, entityType string) (bool, error) {
	var locked bool
	err := p.pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", rebuildLockKey(entityType)).Scan(&locked)
	return locked, err
}

func (p *PostgresViewProjector) releaseLock(ctx context.Context, entityType string) {
	if _, err := p.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", rebuildLockKey(entityType)); err != nil {
		zap.S().Warnw("release rebuild lock failed", "entity_type", entityType, "error", err)
	}
}

// rebuildLockKey derives the advisory lock key from the entity type.
func rebuildLockKey(entityType string) int64 {
	h := fnv.New64a()
	h.Write([]byte("flexy:view:" + entityType))
	return int64(h.Sum64())
}
