package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lychee-technology/flexy"
)

type dbOptions struct {
	host     string
	port     int
	database string
	user     string
	password string
	sslMode  string
	tables   flexy.TableNames
}

func addDBFlags(flags *flag.FlagSet, opts *dbOptions) {
	defaults := flexy.DefaultConfig().Database.TableNames
	flags.StringVar(&opts.host, "db-host", getenvDefault("DB_HOST", "localhost"), "database host")
	flags.IntVar(&opts.port, "db-port", getenvDefaultInt("DB_PORT", 5432), "database port")
	flags.StringVar(&opts.database, "db-name", getenvDefault("DB_NAME", "flexy"), "database name")
	flags.StringVar(&opts.user, "db-user", getenvDefault("DB_USER", "postgres"), "database user")
	flags.StringVar(&opts.password, "db-password", getenvDefault("DB_PASSWORD", "postgres"), "database password")
	flags.StringVar(&opts.sslMode, "db-ssl-mode", getenvDefault("DB_SSL_MODE", "disable"), "database sslmode")
	flags.StringVar(&opts.tables.Schemas, "schemas-table", getenvDefault("SCHEMAS_TABLE", defaults.Schemas), "schemas table name")
	flags.StringVar(&opts.tables.Fields, "fields-table", getenvDefault("FIELDS_TABLE", defaults.Fields), "field definitions table name")
	flags.StringVar(&opts.tables.Values, "values-table", getenvDefault("VALUES_TABLE", defaults.Values), "attribute values table name")
	flags.StringVar(&opts.tables.ViewFields, "view-fields-table", getenvDefault("VIEW_FIELDS_TABLE", defaults.ViewFields), "tracked view field names table")
	flags.StringVar(&opts.tables.View, "view-name", getenvDefault("VIEW_NAME", defaults.View), "projection view name")
}

func runInitDB(args []string) error {
	flags := flag.NewFlagSet("init-db", flag.ContinueOnError)
	flags.SetOutput(os.Stdout)
	flags.Usage = func() {
		fmt.Println("Usage: flexy-tools init-db [options]")
		fmt.Println("")
		fmt.Println("Options:")
		flags.PrintDefaults()
	}

	opts := dbOptions{}
	addDBFlags(flags, &opts)
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, buildConnString(opts))
	if err != nil {
		return fmt.Errorf("create connection pool: %w", err)
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if err := withTx(ctx, conn, func(tx pgx.Tx) error {
		return ensureTables(ctx, tx, opts)
	}); err != nil {
		return err
	}

	fmt.Println("Database initialized successfully.")
	return nil
}

func ensureTables(ctx context.Context, tx pgx.Tx, opts dbOptions) error {
	schemas := quoteIdentifier(opts.tables.Schemas)
	fields := quoteIdentifier(opts.tables.Fields)
	values := quoteIdentifier(opts.tables.Values)
	viewFields := quoteIdentifier(opts.tables.ViewFields)
	view := quoteIdentifier(opts.tables.View)

	ddlSchemas := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		entity_type TEXT NOT NULL,
		code        TEXT NOT NULL,
		label       TEXT NOT NULL DEFAULT '',
		description TEXT,
		metadata    JSONB,
		is_default  BOOLEAN NOT NULL DEFAULT FALSE,
		created_at  BIGINT NOT NULL,
		updated_at  BIGINT NOT NULL,
		PRIMARY KEY (entity_type, code)
	)`, schemas)
	if _, err := tx.Exec(ctx, ddlSchemas); err != nil {
		return fmt.Errorf("ensure schemas table: %w", err)
	}
	fmt.Printf("Created schemas table: %s\n", opts.tables.Schemas)

	ddlFields := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		entity_type         TEXT NOT NULL,
		schema_code         TEXT NOT NULL,
		name                TEXT NOT NULL,
		value_type          TEXT NOT NULL,
		sort                INTEGER NOT NULL DEFAULT 100,
		validation_rules    TEXT,
		validation_messages JSONB,
		metadata            JSONB,
		label               TEXT,
		position            SERIAL,
		PRIMARY KEY (entity_type, schema_code, name)
	)`, fields)
	if _, err := tx.Exec(ctx, ddlFields); err != nil {
		return fmt.Errorf("ensure field definitions table: %w", err)
	}
	fmt.Printf("Created field definitions table: %s\n", opts.tables.Fields)

	ddlValues := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		entity_type    TEXT NOT NULL,
		entity_id      UUID NOT NULL,
		field_name     TEXT NOT NULL,
		schema_code    TEXT,
		value_string   TEXT,
		value_int      BIGINT,
		value_decimal  DOUBLE PRECISION,
		value_boolean  BOOLEAN,
		value_date     DATE,
		value_datetime TIMESTAMPTZ,
		value_json     JSONB,
		PRIMARY KEY (entity_type, entity_id, field_name)
	)`, values)
	if _, err := tx.Exec(ctx, ddlValues); err != nil {
		return fmt.Errorf("ensure attribute values table: %w", err)
	}
	fmt.Printf("Created attribute values table: %s\n", opts.tables.Values)

	ddlViewFields := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		entity_type TEXT NOT NULL,
		field_name  TEXT NOT NULL,
		PRIMARY KEY (entity_type, field_name)
	)`, viewFields)
	if _, err := tx.Exec(ctx, ddlViewFields); err != nil {
		return fmt.Errorf("ensure view fields table: %w", err)
	}
	fmt.Printf("Created view fields table: %s\n", opts.tables.ViewFields)

	idxValues := quoteIdentifier(makeIndexName(opts.tables.Values, "field_name"))
	createIdx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (entity_type, field_name)`, idxValues, values)
	if _, err := tx.Exec(ctx, createIdx); err != nil {
		return fmt.Errorf("create value field index: %w", err)
	}

	idxSchema := quoteIdentifier(makeIndexName(opts.tables.Values, "schema_code"))
	createSchemaIdx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (entity_type, schema_code) WHERE schema_code IS NOT NULL`, idxSchema, values)
	if _, err := tx.Exec(ctx, createSchemaIdx); err != nil {
		return fmt.Errorf("create value schema index: %w", err)
	}

	// Identity-only projection; the projector widens it as field names
	// appear. Replacing an already-widened view would drop its columns, so
	// the view is only created when absent.
	var viewExists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM information_schema.views WHERE table_schema = 'public' AND table_name = $1)`,
		opts.tables.View,
	).Scan(&viewExists); err != nil {
		return fmt.Errorf("check projection view: %w", err)
	}
	if viewExists {
		fmt.Printf("Projection view already exists: %s\n", opts.tables.View)
	} else {
		ddlView := fmt.Sprintf(`CREATE VIEW %s AS
SELECT v.entity_type, v.entity_id, MAX(v.schema_code) AS schema_code
FROM %s v
GROUP BY v.entity_type, v.entity_id`, view, values)
		if _, err := tx.Exec(ctx, ddlView); err != nil {
			return fmt.Errorf("ensure projection view: %w", err)
		}
		fmt.Printf("Created projection view: %s\n", opts.tables.View)
	}

	return nil
}

func buildConnString(opts dbOptions) string {
	hostPort := fmt.Sprintf("%s:%d", opts.host, opts.port)

	var userInfo *url.Userinfo
	if opts.password != "" {
		userInfo = url.UserPassword(opts.user, opts.password)
	} else {
		userInfo = url.User(opts.user)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   hostPort,
		Path:   "/" + opts.database,
	}

	q := url.Values{}
	if opts.sslMode != "" {
		q.Set("sslmode", opts.sslMode)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

func withTx(ctx context.Context, conn *pgxpool.Conn, fn func(pgx.Tx) error) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w; rollback failed: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func quoteIdentifier(name string) string {
	return pgx.Identifier(splitIdentifier(name)).Sanitize()
}

func splitIdentifier(name string) []string {
	parts := strings.Split(name, ".")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	if len(result) == 0 {
		return []string{name}
	}
	return result
}

func makeIndexName(table, suffix string) string {
	flat := strings.ReplaceAll(table, ".", "_")
	return fmt.Sprintf("idx_%s_%s", flat, suffix)
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getenvDefaultInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}
