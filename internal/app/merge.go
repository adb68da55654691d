package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/sift/internal/article"
	"horse.fit/sift/internal/canonical"
	"horse.fit/sift/internal/cli"
	"horse.fit/sift/internal/config"
	"horse.fit/sift/internal/db"
	"horse.fit/sift/internal/globaltime"
)

func runMerge(args []string) int {
	fs := flag.NewFlagSet("merge", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")
	purge := fs.Bool("purge", false, "Delete terminal working-store rows older than the dedup window after merging")

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

	results, mergeErr := mergeOnce(ctx, cfg, logger, pool, store)

	scopes := make([]string, 0, len(results))
	for scope := range results {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	for _, scope := range scopes {
		stats := results[scope]
		fmt.Printf("%s: %d new, %d updated, %d skipped, %d total\n",
			scope, stats.New, stats.Updated, stats.SkippedOlder, stats.Total)
	}
	if len(results) == 0 && mergeErr == nil {
		fmt.Println("nothing to merge")
	}
	if mergeErr != nil {
		logger.Error().Err(mergeErr).Msg("merge run failed")
		fmt.Fprintf(os.Stderr, "Merge failed: %v\n", mergeErr)
		return 1
	}

	if *purge {
		purged, err := pool.PurgeProcessed(ctx, cfg.DedupWindowDays)
		if err != nil {
			logger.Error().Err(err).Msg("purge failed")
			fmt.Fprintf(os.Stderr, "Purge failed: %v\n", err)
			return 1
		}
		fmt.Printf("purged: %d terminal rows\n", purged)
	}

	return 0
}

// mergeOnce publishes every relevant processed article into the
// canonical store of each scope its region tags map to. Merging is
// idempotent, so rerunning after a partial failure is safe.
func mergeOnce(ctx context.Context, cfg *config.Config, logger zerolog.Logger, pool *db.Pool, store *canonical.Store) (map[string]canonical.MergeStats, error) {
	processed, err := pool.ListByState(ctx, article.StateProcessed)
	if err != nil {
		return nil, err
	}

	batches := make(map[string][]article.Article)
	for _, a := range processed {
		if !a.IsRelevant {
			continue
		}
		for _, scope := range scopesFor(a.RegionTags) {
			batches[scope] = append(batches[scope], a)
		}
	}

	now := globaltime.UTC()
	results := make(map[string]canonical.MergeStats, len(batches))

	scopes := make([]string, 0, len(batches))
	for scope := range batches {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)

	// A failed scope aborts only that scope; the others still merge.
	var errs []error
	for _, scope := range scopes {
		stats, err := store.Merge(scope, batches[scope], now)
		if err != nil {
			logger.Error().Err(err).Str("scope", scope).Msg("scope merge aborted")
			errs = append(errs, fmt.Errorf("merge scope %s: %w", scope, err))
			continue
		}
		results[scope] = stats
		logger.Info().
			Str("scope", scope).
			Int("new", stats.New).
			Int("updated", stats.Updated).
			Int("skipped_older", stats.SkippedOlder).
			Int("total", stats.Total).
			Msg("scope merged")
	}

	return results, errors.Join(errs...)
}
