package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/lychee-technology/flexy"
	"github.com/lychee-technology/flexy/internal/export"
	"go.uber.org/zap"
)

func runExportSnapshot(args []string, logger *zap.Logger) error {
	flags := flag.NewFlagSet("export-snapshot", flag.ContinueOnError)
	flags.SetOutput(os.Stdout)
	flags.Usage = func() {
		fmt.Println("Usage: flexy-tools export-snapshot [options]")
		fmt.Println("")
		fmt.Println("Options:")
		flags.PrintDefaults()
	}

	opts := dbOptions{}
	addDBFlags(flags, &opts)
	entityType := flags.String("entity-type", getenvDefault("ENTITY_TYPE", ""), "entity type to export (required)")
	bucket := flags.String("s3-bucket", getenvDefault("S3_BUCKET", ""), "destination S3 bucket (required)")
	region := flags.String("s3-region", getenvDefault("S3_REGION", ""), "S3 region")
	prefix := flags.String("s3-prefix", getenvDefault("S3_PREFIX", "flexy/snapshots"), "S3 key prefix")
	stagingDir := flags.String("staging-dir", getenvDefault("STAGING_DIR", ""), "local staging directory (default: system temp)")
	duckdbPath := flags.String("duckdb-path", getenvDefault("DUCKDB_PATH", ""), "DuckDB database path (default: in-memory)")
	uploadDirect := flags.Bool("upload-direct", false, "COPY straight to s3:// instead of staging locally")
	useIAM := flags.Bool("use-iam-auth", false, "generate a DSQL IAM auth token for the database connection")
	dryRun := flags.Bool("dry-run", false, "log what would be exported without writing")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if *entityType == "" {
		return fmt.Errorf("-entity-type is required")
	}
	if *bucket == "" {
		return fmt.Errorf("-s3-bucket is required")
	}

	cfg := flexy.DefaultConfig()
	cfg.Database.Host = opts.host
	cfg.Database.Port = opts.port
	cfg.Database.Database = opts.database
	cfg.Database.Username = opts.user
	cfg.Database.Password = opts.password
	cfg.Database.SSLMode = opts.sslMode
	cfg.Database.UseIAMAuth = *useIAM
	cfg.Database.TableNames = opts.tables
	cfg.Export = flexy.ExportConfig{
		Enabled:      true,
		S3Bucket:     *bucket,
		S3Region:     *region,
		S3Prefix:     *prefix,
		StagingDir:   *stagingDir,
		DuckDBPath:   *duckdbPath,
		UploadDirect: *uploadDirect,
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	return export.RunOnce(context.Background(), cfg, *entityType, *dryRun, logger)
}
