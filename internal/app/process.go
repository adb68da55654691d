package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/sift/internal/article"
	"horse.fit/sift/internal/canonical"
	"horse.fit/sift/internal/checkpoint"
	"horse.fit/sift/internal/classify"
	"horse.fit/sift/internal/cli"
	"horse.fit/sift/internal/config"
	"horse.fit/sift/internal/db"
	"horse.fit/sift/internal/dedup"
	"horse.fit/sift/internal/globaltime"
	"horse.fit/sift/internal/langdetect"
	"horse.fit/sift/internal/lexicon"
)

// processSummary aggregates the per-stage outcomes of one process run.
type processSummary struct {
	Ingested   int
	Stale      int
	Duplicates int
	Tier1Drops int
	Tier2      classify.Tier2Stats
	Tier3      classify.Tier3Stats
}

func runProcess(args []string) int {
	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Minute, "Command timeout")
	jobID := fs.String("job-id", "", "Checkpoint job ID (defaults to process-YYYYMMDD)")

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

	summary, err := processOnce(ctx, cfg, logger, pool, store, *jobID)
	if err != nil {
		logger.Error().Err(err).Msg("process run failed")
		fmt.Fprintf(os.Stderr, "Process failed: %v\n", err)
		return 1
	}

	printSummary(summary)
	return 0
}

func printSummary(s *processSummary) {
	fmt.Printf("ingested: %d\n", s.Ingested)
	fmt.Printf("rejected: %d stale, %d duplicates, %d below filter\n", s.Stale, s.Duplicates, s.Tier1Drops)
	fmt.Printf("classified: %d of %d (relevant %d, failed %d, resumed %d)\n",
		s.Tier2.Processed, s.Tier2.Total, s.Tier2.Relevant, s.Tier2.Failed, s.Tier2.Resumed)
	if s.Tier2.FellBack {
		fmt.Println("note: primary provider was unavailable, run continued on fallback")
	}
	fmt.Printf("premium: %d ranked, %d selected, %d polished, %d degraded\n",
		s.Tier3.Ranked, s.Tier3.Selected, s.Tier3.Polished, s.Tier3.Degraded)
}

// processOnce runs filtering, deduplication and both classification
// tiers over everything currently waiting in the working store.
func processOnce(ctx context.Context, cfg *config.Config, logger zerolog.Logger, pool *db.Pool, store *canonical.Store, jobID string) (*processSummary, error) {
	now := globaltime.UTC()
	if jobID == "" {
		jobID = "process-" + now.Format("20060102")
	}

	table, err := lexicon.Load(cfg.LexiconPath)
	if err != nil {
		return nil, fmt.Errorf("load lexicon: %w", err)
	}
	filter := classify.NewRuleFilter(table, langdetect.Detector{}, cfg.TargetLang)

	ingested, err := pool.ListByState(ctx, article.StateIngested)
	if err != nil {
		return nil, err
	}
	stuck, err := pool.ListByState(ctx, article.StateClassifying)
	if err != nil {
		return nil, err
	}

	summary := &processSummary{Ingested: len(ingested)}
	if len(ingested) == 0 && len(stuck) == 0 {
		logger.Info().Msg("nothing to process")
		return summary, nil
	}

	engine, err := buildDedupEngine(ctx, cfg, logger, pool, store, table, now)
	if err != nil {
		return nil, err
	}

	boosts := make(map[int64]int)
	var toClassify []*article.Article

	// Articles stranded mid-classification by an interrupted run rejoin
	// the batch; any the checkpoint already lists as completed are
	// skipped by canonical key inside the orchestrator.
	for i := range stuck {
		a := &stuck[i]
		boosts[a.ID] = filter.Score(a.Title, a.ContentExcerpt).ImportanceBoost
		toClassify = append(toClassify, a)
	}

	windowSpan := time.Duration(cfg.WindowHours) * time.Hour
	var filtered []*article.Article
	for i := range ingested {
		a := &ingested[i]
		filtered = append(filtered, a)

		if err := a.Advance(article.StateFiltering); err != nil {
			return nil, err
		}

		if !article.WithinWindow(a.DatePublished, now, windowSpan) {
			if err := a.Advance(article.StateRejected); err != nil {
				return nil, err
			}
			logger.Debug().Str("key", a.CanonicalKey).Time("published", a.DatePublished).Msg("outside freshness window")
			summary.Stale++
			continue
		}

		verdict := engine.Check(a)
		if verdict.Duplicate {
			if err := a.Advance(article.StateRejected); err != nil {
				return nil, err
			}
			logger.Info().Str("key", a.CanonicalKey).Str("reason", verdict.Reason).Msg("duplicate rejected")
			summary.Duplicates++
			continue
		}

		res := filter.Score(a.Title, a.ContentExcerpt)
		if res.Band == classify.BandReject {
			if err := a.Advance(article.StateRejected); err != nil {
				return nil, err
			}
			summary.Tier1Drops++
			continue
		}

		boosts[a.ID] = res.ImportanceBoost
		if err := a.Advance(article.StateClassifying); err != nil {
			return nil, err
		}
		toClassify = append(toClassify, a)
	}

	if err := pool.SaveArticles(ctx, filtered); err != nil {
		return nil, err
	}

	if len(toClassify) == 0 {
		return summary, nil
	}

	orch, premium, err := buildClassifiers(cfg, logger, filter, pool.SaveArticles)
	if err != nil {
		return nil, err
	}

	t2stats, t2err := orch.Run(ctx, jobID, toClassify)
	summary.Tier2 = t2stats
	// Persist whatever states the run reached, even on interruption,
	// before deciding whether to surface the error. An interrupted ctx
	// cannot carry its own save.
	saveCtx, cancelSave := saveContext(ctx)
	err = pool.SaveArticles(saveCtx, toClassify)
	cancelSave()
	if err != nil {
		return nil, err
	}
	if t2err != nil {
		return summary, t2err
	}

	scorer := classify.NewScorer(table)
	polisher := classify.NewPolisher(premium, scorer, cfg.PremiumTopK, cfg.Workers, logger)
	summary.Tier3 = polisher.Run(ctx, toClassify, boosts)

	if err := pool.SaveArticles(ctx, toClassify); err != nil {
		return nil, err
	}

	logger.Info().
		Int("ingested", summary.Ingested).
		Int("stale", summary.Stale).
		Int("duplicates", summary.Duplicates).
		Int("tier1_drops", summary.Tier1Drops).
		Int("classified", summary.Tier2.Processed).
		Int("polished", summary.Tier3.Polished).
		Msg("process run complete")
	return summary, nil
}

// buildDedupEngine assembles the run-scoped duplicate detector: recent
// working-store sightings for the fuzzy window plus every key already
// published to a canonical store. Entity extraction picks up the
// lexicon's stop words and org markers so dedup tuning lives in the
// same file as the filter rules.
func buildDedupEngine(ctx context.Context, cfg *config.Config, logger zerolog.Logger, pool *db.Pool, store *canonical.Store, table *lexicon.Table, now time.Time) (*dedup.Engine, error) {
	recent, err := pool.RecentArticles(ctx, cfg.DedupWindowDays)
	if err != nil {
		return nil, err
	}

	stop := make([]string, 0, len(table.StopWords))
	for w := range table.StopWords {
		stop = append(stop, w)
	}
	extract := dedup.NewExtractor(stop, table.OrgMarkers)
	window := dedup.NewWindow(now, time.Duration(cfg.DedupWindowDays)*24*time.Hour, extract)
	for i := range recent {
		// The batch being processed is still INGESTED; seeding it into
		// the window would make every new article its own duplicate.
		if recent[i].ProcessingState == article.StateIngested {
			continue
		}
		window.AddArticle(&recent[i])
	}

	keys, err := store.AllKeys()
	if err != nil {
		return nil, err
	}

	return dedup.NewEngine(window, keys, dedup.Thresholds{
		TokenSet: cfg.TokenSetThreshold,
		Partial:  cfg.PartialThreshold,
		Combined: cfg.CombinedThreshold,
	}, logger)
}

// saveContext returns ctx unchanged while it is live, or a fresh
// short-deadline context once it is done, so the save that records an
// interrupted run's progress does not die of the same interruption.
func saveContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx.Err() == nil {
		return ctx, func() {}
	}
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// buildClassifiers resolves the tier-2 orchestrator and the optional
// premium provider from configuration. persist is handed to the
// orchestrator so results reach the working store before each
// checkpoint write.
func buildClassifiers(cfg *config.Config, logger zerolog.Logger, filter *classify.RuleFilter, persist func(ctx context.Context, batch []*article.Article) error) (*classify.Orchestrator, classify.Provider, error) {
	local := classify.NewLocalProvider(filter)

	registry := classify.NewRegistry(cfg.Provider)
	if err := registry.Register(local); err != nil {
		return nil, nil, err
	}
	if cfg.ProviderURL != "" {
		remote, err := classify.NewRemoteProvider(classify.RemoteOptions{
			Name:    cfg.Provider,
			BaseURL: cfg.ProviderURL,
			APIKey:  cfg.ProviderKey,
			Model:   cfg.ProviderModel,
			Timeout: cfg.ProviderTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := registry.Register(remote); err != nil {
			return nil, nil, err
		}
	}

	primary, err := registry.Provider(cfg.Provider)
	if err != nil {
		logger.Warn().Str("provider", cfg.Provider).Msg("configured provider not available, using local rules")
		primary = local
	}
	var fallback classify.Provider
	if primary != classify.Provider(local) {
		fallback = local
	}

	cpStore, err := checkpoint.NewFileStore(cfg.CheckpointDir)
	if err != nil {
		return nil, nil, err
	}

	orch, err := classify.NewOrchestrator(primary, fallback, cpStore, classify.Tier2Config{
		BatchSize:          cfg.BatchSize,
		MaxRetries:         cfg.MaxRetries,
		Backoff:            cfg.Backoff,
		CheckpointInterval: cfg.CheckpointInterval,
		Workers:            cfg.Workers,
		Persist:            persist,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	var premium classify.Provider
	if cfg.PremiumURL != "" {
		p, err := classify.NewRemoteProvider(classify.RemoteOptions{
			Name:    "premium",
			BaseURL: cfg.PremiumURL,
			APIKey:  cfg.PremiumKey,
			Model:   cfg.PremiumModel,
			Timeout: cfg.ProviderTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		premium = p
	}

	return orch, premium, nil
}
