package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lychee-technology/flexy"
	"github.com/lychee-technology/flexy/internal"
)

func runMigrateLegacy(args []string) error {
	flags := flag.NewFlagSet("migrate-legacy", flag.ContinueOnError)
	flags.SetOutput(os.Stdout)
	flags.Usage = func() {
		fmt.Println("Usage: flexy-tools migrate-legacy [options]")
		fmt.Println("")
		fmt.Println("Options:")
		flags.PrintDefaults()
	}

	opts := dbOptions{}
	addDBFlags(flags, &opts)
	legacyTable := flags.String("legacy-table", getenvDefault("LEGACY_TABLE", "legacy_schemas"), "legacy flat schema table name")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg := flexy.DefaultConfig()
	cfg.Database.TableNames = opts.tables

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, buildConnString(opts))
	if err != nil {
		return fmt.Errorf("create connection pool: %w", err)
	}
	defer pool.Close()

	registry := internal.NewPostgresSchemaRegistry(pool, cfg.Database)
	migrator := internal.NewLegacyMigrator(pool, registry, *legacyTable)
	result, err := migrator.Migrate(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Migration finished: %d schemas migrated, %d skipped, %d fields.\n",
		result.SchemasMigrated, result.SchemasSkipped, result.FieldsMigrated)
	return nil
}
