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

func runRebuildView(args []string) error {
	flags := flag.NewFlagSet("rebuild-view", flag.ContinueOnError)
	flags.SetOutput(os.Stdout)
	flags.Usage = func() {
		fmt.Println("Usage: flexy-tools rebuild-view [options]")
		fmt.Println("")
		fmt.Println("Options:")
		flags.PrintDefaults()
	}

	opts := dbOptions{}
	addDBFlags(flags, &opts)
	entityType := flags.String("entity-type", getenvDefault("ENTITY_TYPE", ""), "entity type to rebuild (required)")
	dialect := flags.String("dialect", getenvDefault("VIEW_DIALECT", flexy.DialectPostgres), "view SQL dialect: postgres or duckdb")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if *entityType == "" {
		return fmt.Errorf("-entity-type is required")
	}

	cfg := flexy.DefaultConfig()
	cfg.Database.TableNames = opts.tables
	cfg.Projection.Dialect = *dialect
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, buildConnString(opts))
	if err != nil {
		return fmt.Errorf("create connection pool: %w", err)
	}
	defer pool.Close()

	store := internal.NewPostgresValueStore(pool, cfg.Database)
	projector := internal.NewPostgresViewProjector(pool, *cfg, store)
	if err := projector.ForceRebuild(ctx, *entityType); err != nil {
		return err
	}

	fmt.Printf("Projection view rebuilt for entity type %q.\n", *entityType)
	return nil
}
