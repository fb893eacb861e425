package internal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/lychee-technology/flexy"
	"go.uber.org/zap"
)

// DuckDBClient wraps a database/sql DB opened with the DuckDB driver. It
// backs the snapshot export path and the duckdb projection dialect.
type DuckDBClient struct {
	DB  *sql.DB
	cfg flexy.ExportConfig
}

// NewDuckDBClient opens a DuckDB database per the export configuration and
// bootstraps the extensions the snapshot path needs: parquet and
// postgres_scanner always, plus httpfs and the s3_* settings when the
// exporter writes to S3 directly or a custom endpoint is configured.
func NewDuckDBClient(cfg flexy.ExportConfig) (*DuckDBClient, error) {
	dsn := cfg.DuckDBPath
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	exts := []string{"parquet", "postgres_scanner"}
	if cfg.UploadDirect || cfg.S3Endpoint != "" {
		exts = append(exts, "httpfs")
	}
	for _, ext := range exts {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("INSTALL %s;", ext)); err != nil {
			zap.S().Warnw("duckdb: install extension failed", "extension", ext, "err", err)
			continue
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf("LOAD %s;", ext)); err != nil {
			zap.S().Warnw("duckdb: load extension failed", "extension", ext, "err", err)
		}
	}

	if cfg.UploadDirect || cfg.S3Endpoint != "" {
		configureS3(ctx, db, cfg)
	}

	return &DuckDBClient{DB: db, cfg: cfg}, nil
}

func configureS3(ctx context.Context, db *sql.DB, cfg flexy.ExportConfig) {
	settings := map[string]string{}
	if cfg.S3Region != "" {
		settings["s3_region"] = cfg.S3Region
	}
	if cfg.S3Endpoint != "" {
		// DuckDB wants host:port without a scheme; the scheme decides SSL.
		endpoint := cfg.S3Endpoint
		useSSL := "true"
		if rest, ok := strings.CutPrefix(endpoint, "http://"); ok {
			endpoint, useSSL = rest, "false"
		} else if rest, ok := strings.CutPrefix(endpoint, "https://"); ok {
			endpoint = rest
		}
		settings["s3_endpoint"] = endpoint
		settings["s3_use_ssl"] = useSSL
		settings["s3_url_style"] = "path"
	}
	if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" {
		settings["s3_access_key_id"] = key
		settings["s3_secret_access_key"] = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	for name, value := range settings {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("SET %s='%s';", name, strings.ReplaceAll(value, "'", "''"))); err != nil {
			zap.S().Warnw("duckdb: set s3 option failed", "option", name, "err", err)
		}
	}
}

// ExportView copies the projection view rows for one entity type to dest,
// which is either a local path or an s3:// url.
func (c *DuckDBClient) ExportView(ctx context.Context, pgConnStr, viewName, entityType, dest string) error {
	pgEsc := strings.ReplaceAll(pgConnStr, "'", "''")
	destEsc := strings.ReplaceAll(dest, "'", "''")
	typeEsc := strings.ReplaceAll(entityType, "'", "''")

	copySQL := fmt.Sprintf(`COPY (
SELECT * FROM postgres_scan('%s', 'public', '%s')
WHERE entity_type = '%s'
) TO '%s' (FORMAT PARQUET, COMPRESSION 'ZSTD');`, pgEsc, viewName, typeEsc, destEsc)

	ctx2, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()
	if _, err := c.DB.ExecContext(ctx2, copySQL); err != nil {
		return fmt.Errorf("duckdb copy exec: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (c *DuckDBClient) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}
