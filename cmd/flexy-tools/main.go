package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Errorf("failed to set up logger: %w", err))
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init-db":
		if err := runInitDB(os.Args[2:]); err != nil {
			sugar.Fatalf("init-db: %v", err)
		}
	case "rebuild-view":
		if err := runRebuildView(os.Args[2:]); err != nil {
			sugar.Fatalf("rebuild-view: %v", err)
		}
	case "migrate-legacy":
		if err := runMigrateLegacy(os.Args[2:]); err != nil {
			sugar.Fatalf("migrate-legacy: %v", err)
		}
	case "export-snapshot":
		if err := runExportSnapshot(os.Args[2:], logger); err != nil {
			sugar.Fatalf("export-snapshot: %v", err)
		}
	default:
		sugar.Errorf("unknown command %q", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	logger := zap.S()
	logger.Info("Usage: flexy-tools <command> [options]")
	logger.Info("")
	logger.Info("Commands:")
	logger.Info("  init-db          Create PostgreSQL tables and the attribute projection view")
	logger.Info("  rebuild-view     Force a full rebuild of the attribute projection view")
	logger.Info("  migrate-legacy   Migrate schemas from the legacy flat table into the field-set model")
	logger.Info("  export-snapshot  Export a parquet snapshot of the projection view to S3")
}
