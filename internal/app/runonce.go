package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/sift/internal/canonical"
	"horse.fit/sift/internal/cli"
	"horse.fit/sift/internal/db"
)

// runRunOnce executes collect, process and merge as one pass. Each
// stage is independently idempotent, so a failure mid-run is recovered
// by simply running again.
func runRunOnce(args []string) int {
	fs := flag.NewFlagSet("run-once", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 45*time.Minute, "Command timeout")
	fetchBodies := fs.Bool("fetch-bodies", false, "Fetch article pages when the feed has no description")
	jobID := fs.String("job-id", "", "Checkpoint job ID (defaults to process-YYYYMMDD)")
	skipCollect := fs.Bool("skip-collect", false, "Skip feed collection and only process what is already ingested")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, logger, code := bootstrap(envLoader)
	if code != 0 {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	store, err := canonical.NewStore(cfg.StoreDir)
	if err != nil {
		logger.Error().Err(err).Msg("canonical store unavailable")
		fmt.Fprintf(os.Stderr, "Canonical store unavailable: %v\n", err)
		return 1
	}

	if !*skipCollect {
		inserted, stats, err := collectOnce(ctx, cfg, logger, pool, *fetchBodies)
		if err != nil {
			logger.Error().Err(err).Msg("collection stage failed")
			fmt.Fprintf(os.Stderr, "Collection failed: %v\n", err)
			return 1
		}
		fmt.Printf("collect: %d items, %d newly ingested\n", stats.Items, inserted)
	}

	summary, err := processOnce(ctx, cfg, logger, pool, store, *jobID)
	if err != nil {
		logger.Error().Err(err).Msg("process stage failed")
		fmt.Fprintf(os.Stderr, "Process failed: %v\n", err)
		return 1
	}
	printSummary(summary)

	results, err := mergeOnce(ctx, cfg, logger, pool, store)
	if err != nil {
		logger.Error().Err(err).Msg("merge stage failed")
		fmt.Fprintf(os.Stderr, "Merge failed: %v\n", err)
		return 1
	}
	total := 0
	for _, stats := range results {
		total += stats.New + stats.Updated
	}
	fmt.Printf("merge: %d scopes touched, %d records written\n", len(results), total)

	return 0
}
