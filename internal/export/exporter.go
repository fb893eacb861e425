// Package export produces parquet snapshots of the attribute projection view
// and ships them to S3. Runs are serialized per entity type with a database
// advisory lock so overlapping schedulers cannot double-export.
package export

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	awsCreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dsql/auth"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/lychee-technology/flexy"
	"github.com/lychee-technology/flexy/internal"
	"go.uber.org/zap"
)

// RunOnce performs one snapshot export pass for the entity type.
func RunOnce(ctx context.Context, cfg *flexy.Config, entityType string, dryRun bool, logger *zap.Logger) error {
	if !cfg.Export.Enabled {
		return fmt.Errorf("export disabled in config")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	if cfg.Export.S3Region != "" {
		awsCfg.Region = cfg.Export.S3Region
	}
	if envKey := os.Getenv("AWS_ACCESS_KEY_ID"); envKey != "" {
		awsCfg.Credentials = awsCreds.NewStaticCredentialsProvider(envKey, os.Getenv("AWS_SECRET_ACCESS_KEY"), "")
	}
	s3Client := s3.NewFromConfig(awsCfg)

	pgPassword := cfg.Database.Password
	if cfg.Database.UseIAMAuth {
		endpoint := fmt.Sprintf("%s:%d", cfg.Database.Host, cfg.Database.Port)
		if token, err := auth.GenerateDbConnectAuthToken(ctx, endpoint, awsCfg.Region, awsCfg.Credentials); err == nil && token != "" {
			pgPassword = token
			logger.Sugar().Infow("generated IAM auth token for postgres connection")
		} else {
			logger.Sugar().Warnw("IAM auth token generation failed, falling back to configured password", "err", err)
		}
	}

	pgConnStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.Username, pgPassword, cfg.Database.Database, sslMode(cfg))
	db, err := sql.Open("postgres", pgConnStr)
	if err != nil {
		return fmt.Errorf("open pg: %w", err)
	}
	defer db.Close()

	locked, err := acquireExportLock(ctx, db, entityType)
	if err != nil {
		return fmt.Errorf("acquire export lock: %w", err)
	}
	if !locked {
		logger.Sugar().Infow("export lock not acquired, another run is in progress", "entity_type", entityType)
		return nil
	}
	defer releaseExportLock(ctx, db, entityType, logger)

	exportCfg := cfg.Export
	if exportCfg.S3Region == "" {
		exportCfg.S3Region = awsCfg.Region
	}
	duck, err := internal.NewDuckDBClient(exportCfg)
	if err != nil {
		return fmt.Errorf("open duckdb: %w", err)
	}
	defer duck.Close()

	snapshotID := uuid.Must(uuid.NewV7()).String()
	key := strings.TrimSuffix(cfg.Export.S3Prefix, "/") +
		fmt.Sprintf("/%s/%s.parquet", entityType, snapshotID)

	if dryRun {
		logger.Sugar().Infow("dry-run: skipping export", "entity_type", entityType, "key", key)
		return nil
	}

	if cfg.Export.UploadDirect {
		dest := fmt.Sprintf("s3://%s/%s", cfg.Export.S3Bucket, key)
		if err := duck.ExportView(ctx, pgConnStr, cfg.Database.TableNames.View, entityType, dest); err != nil {
			return fmt.Errorf("export snapshot: %w", err)
		}
	} else {
		staging := stagingPath(cfg.Export.StagingDir, entityType, snapshotID)
		if err := duck.ExportView(ctx, pgConnStr, cfg.Database.TableNames.View, entityType, staging); err != nil {
			return fmt.Errorf("export snapshot: %w", err)
		}
		defer os.Remove(staging)
		if err := uploadFile(ctx, s3Client, cfg.Export.S3Bucket, key, staging, logger); err != nil {
			return fmt.Errorf("upload snapshot: %w", err)
		}
	}

	logger.Sugar().Infow("snapshot export completed", "entity_type", entityType, "bucket", cfg.Export.S3Bucket, "key", key)
	return nil
}

func sslMode(cfg *flexy.Config) string {
	if cfg.Database.SSLMode == "" {
		return "require"
	}
	return cfg.Database.SSLMode
}

func stagingPath(dir, entityType, snapshotID string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return fmt.Sprintf("%s/%s-%s.parquet", strings.TrimSuffix(dir, "/"), entityType, snapshotID)
}

func acquireExportLock(ctx context.Context, db *sql.DB, entityType string) (bool, error) {
	var locked bool
	err := db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", exportLockKey(entityType)).Scan(&locked)
	return locked, err
}

func releaseExportLock(ctx context.Context, db *sql.DB, entityType string, logger *zap.Logger) {
	if _, err := db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", exportLockKey(entityType)); err != nil {
		logger.Sugar().Warnw("release export lock failed", "entity_type", entityType, "err", err)
	}
}

func exportLockKey(entityType string) int64 {
	h := fnv.New64a()
	h.Write([]byte("flexy:export:" + entityType))
	return int64(h.Sum64())
}
