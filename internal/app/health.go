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

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Second, "Command timeout")

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

	if err := pool.Ping(ctx); err != nil {
		logger.Error().Err(err).Msg("database ping failed")
		fmt.Fprintf(os.Stderr, "Database ping failed: %v\n", err)
		return 1
	}

	store, err := canonical.NewStore(cfg.StoreDir)
	if err != nil {
		logger.Error().Err(err).Msg("canonical store unavailable")
		fmt.Fprintf(os.Stderr, "Canonical store unavailable: %v\n", err)
		return 1
	}
	scopes, err := store.Scopes()
	if err != nil {
		logger.Error().Err(err).Msg("canonical store unreadable")
		fmt.Fprintf(os.Stderr, "Canonical store unreadable: %v\n", err)
		return 1
	}

	counts, err := pool.CountByState(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("state counts query failed")
		fmt.Fprintf(os.Stderr, "State counts query failed: %v\n", err)
		return 1
	}

	fmt.Printf("database: ok\n")
	fmt.Printf("canonical store: ok (%d scopes)\n", len(scopes))
	for state, n := range counts {
		fmt.Printf("  %s: %d\n", state, n)
	}
	return 0
}
