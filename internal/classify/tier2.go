package classify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/sift/internal/article"
	"horse.fit/sift/internal/checkpoint"
)

// Tier2Config tunes the bulk classification stage.
type Tier2Config struct {
	BatchSize          int
	MaxRetries         int
	Backoff            func(attempt int) time.Duration
	CheckpointInterval int
	Workers            int
	// Persist makes a span of finished records durable. It is called
	// with each newly completed stretch before the checkpoint covering
	// that stretch is written, so a checkpoint never claims work whose
	// results exist only in memory. Nil leaves persistence to the
	// caller after Run returns.
	Persist func(ctx context.Context, batch []*article.Article) error
}

// Tier2Stats summarizes one bulk classification run.
type Tier2Stats struct {
	Total     int
	Resumed   int
	Processed int
	Relevant  int
	Failed    int
	// FellBack is set when the primary provider became unavailable and
	// the run continued on the fallback.
	FellBack bool
}

// Orchestrator drives tier 2: batches to the primary provider, per
// record retry with backoff on batch failure, fallback on provider
// unavailability, periodic checkpoints for resumability.
type Orchestrator struct {
	primary     Provider
	fallback    Provider
	checkpoints checkpoint.Store
	cfg         Tier2Config
	log         zerolog.Logger

	mu       sync.Mutex
	active   Provider
	fellBack bool
}

func NewOrchestrator(primary, fallback Provider, checkpoints checkpoint.Store, cfg Tier2Config, log zerolog.Logger) (*Orchestrator, error) {
	if primary == nil {
		return nil, fmt.Errorf("tier2: primary provider is required")
	}
	if checkpoints == nil {
		return nil, fmt.Errorf("tier2: checkpoint store is required")
	}
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("tier2: batch size must be >= 1")
	}
	if cfg.CheckpointInterval < 1 {
		return nil, fmt.Errorf("tier2: checkpoint interval must be >= 1")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Backoff == nil {
		cfg.Backoff = func(int) time.Duration { return 0 }
	}
	return &Orchestrator{
		primary:     primary,
		fallback:    fallback,
		checkpoints: checkpoints,
		cfg:         cfg,
		log:         log,
		active:      primary,
	}, nil
}

type tier2Batch struct {
	idx      int
	start    int
	articles []*article.Article
}

// Run classifies every article in the slice. Articles must be in state
// CLASSIFYING; each ends PROCESSED or FAILED, except records an
// interrupted run never reached, which stay CLASSIFYING for the next
// run. An existing checkpoint for jobID skips the records it lists as
// completed, matched by canonical key; the checkpoint is cleared only
// on full completion.
func (o *Orchestrator) Run(ctx context.Context, jobID string, articles []*article.Article) (Tier2Stats, error) {
	stats := Tier2Stats{Total: len(articles)}

	var doneKeys []string
	cp, err := o.checkpoints.Load(jobID)
	switch {
	case err == nil:
		doneKeys = cp.CompletedKeys
		o.log.Info().Str("job_id", jobID).Int("completed", len(doneKeys)).Msg("resuming from checkpoint")
	case errors.Is(err, checkpoint.ErrNotFound):
	default:
		return stats, err
	}

	completedKeys := make(map[string]struct{}, len(doneKeys))
	for _, k := range doneKeys {
		completedKeys[k] = struct{}{}
	}
	var pending []*article.Article
	for _, a := range articles {
		if _, done := completedKeys[a.CanonicalKey]; done {
			stats.Resumed++
			continue
		}
		pending = append(pending, a)
	}

	var batches []tier2Batch
	for i := 0; i < len(pending); i += o.cfg.BatchSize {
		end := i + o.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batches = append(batches, tier2Batch{idx: len(batches), start: i, articles: pending[i:end]})
	}

	jobs := make(chan tier2Batch)
	done := make(chan tier2Batch)

	var wg sync.WaitGroup
	for w := 0; w < o.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range jobs {
				o.processBatch(ctx, b.articles)
				select {
				case done <- b:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, b := range batches {
			select {
			case jobs <- b:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(done)
	}()

	// Checkpoints cover only the contiguous completed prefix, so a
	// resume never skips a record a faster sibling batch happened to
	// finish first.
	completed := make([]bool, len(batches))
	frontier := 0
	lastSaved := -1
	for b := range done {
		completed[b.idx] = true
		for frontier < len(batches) && completed[frontier] {
			frontier++
		}
		contiguousEnd := -1
		if frontier > 0 {
			last := batches[frontier-1]
			contiguousEnd = last.start + len(last.articles) - 1
		}
		if contiguousEnd-lastSaved >= o.cfg.CheckpointInterval {
			if err := o.checkpointPrefix(ctx, jobID, doneKeys, pending, lastSaved, contiguousEnd); err != nil {
				o.log.Error().Err(err).Str("job_id", jobID).Msg("checkpoint save failed")
			} else {
				lastSaved = contiguousEnd
			}
		}
	}

	if err := ctx.Err(); err != nil {
		// Interrupted: the checkpoint stays so the next run resumes.
		return o.tally(stats, articles), err
	}

	stats = o.tally(stats, articles)
	if err := o.checkpoints.Clear(jobID); err != nil {
		return stats, err
	}
	return stats, nil
}

func (o *Orchestrator) tally(stats Tier2Stats, articles []*article.Article) Tier2Stats {
	stats.Processed, stats.Relevant, stats.Failed = 0, 0, 0
	for _, a := range articles {
		switch a.ProcessingState {
		case article.StateProcessed:
			stats.Processed++
			if a.IsRelevant {
				stats.Relevant++
			}
		case article.StateFailed:
			stats.Failed++
		}
	}
	o.mu.Lock()
	stats.FellBack = o.fellBack
	o.mu.Unlock()
	return stats
}

// checkpointPrefix makes the newly completed stretch of records
// durable and only then records the completed prefix in the
// checkpoint. The ordering is the whole point: a checkpoint written
// first would claim results that still live only in memory, and a
// crash would then resume past work that was lost.
func (o *Orchestrator) checkpointPrefix(ctx context.Context, jobID string, doneKeys []string, pending []*article.Article, lastSaved, contiguousEnd int) error {
	if o.cfg.Persist != nil && contiguousEnd > lastSaved {
		if err := o.cfg.Persist(ctx, pending[lastSaved+1:contiguousEnd+1]); err != nil {
			return fmt.Errorf("persist classified records: %w", err)
		}
	}

	keys := append([]string(nil), doneKeys...)
	processed, failed := 0, 0
	for _, a := range pending[:contiguousEnd+1] {
		// A record a cancelled attempt left CLASSIFYING is not complete
		// and must be picked up again on resume.
		switch a.ProcessingState {
		case article.StateProcessed:
			keys = append(keys, a.CanonicalKey)
			processed++
		case article.StateFailed:
			keys = append(keys, a.CanonicalKey)
			failed++
		}
	}
	return o.checkpoints.Save(checkpoint.Checkpoint{
		JobID:         jobID,
		Timestamp:     time.Now().UTC(),
		LastIndex:     contiguousEnd,
		Processed:     len(doneKeys) + processed,
		Total:         len(doneKeys) + len(pending),
		Provider:      o.activeProvider().Name(),
		CompletedKeys: keys,
		Stats:         map[string]int{"processed": processed, "failed": failed},
	})
}

func (o *Orchestrator) processBatch(ctx context.Context, batch []*article.Article) {
	items := make([]Item, len(batch))
	for i, a := range batch {
		items[i] = Item{ID: a.ID, Title: a.Title, ContentExcerpt: a.ContentExcerpt}
	}

	results, err := o.classify(ctx, items)
	if err == nil {
		for i, a := range batch {
			o.apply(a, results[i])
		}
		return
	}

	o.log.Warn().Err(err).Int("batch_size", len(batch)).Msg("batch classification failed, retrying records individually")
	for i, a := range batch {
		o.retryRecord(ctx, a, items[i])
	}
}

func (o *Orchestrator) classify(ctx context.Context, items []Item) ([]Result, error) {
	provider := o.activeProvider()
	results, err := provider.Classify(ctx, items)
	if err != nil && errors.Is(err, ErrUnavailable) {
		if fb := o.switchToFallback(err); fb != nil {
			results, err = fb.Classify(ctx, items)
		}
	}
	if err == nil && len(results) != len(items) {
		return nil, fmt.Errorf("provider returned %d results for %d items: %w", len(results), len(items), ErrMalformed)
	}
	return results, err
}

// retryRecord retries one record with the configured backoff schedule.
// A record that exhausts its retries is FAILED with the recorded error
// and never blocks its batch siblings. A cancelled run is not a
// provider failure: the record is left CLASSIFYING so the next run
// picks it up.
func (o *Orchestrator) retryRecord(ctx context.Context, a *article.Article, item Item) {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxRetries; attempt++ {
		results, err := o.classify(ctx, []Item{item})
		if err == nil {
			o.apply(a, results[0])
			return
		}
		if ctx.Err() != nil {
			return
		}
		lastErr = err
		a.ProcessingAttempts++

		if attempt < o.cfg.MaxRetries {
			if err := sleepCtx(ctx, o.cfg.Backoff(attempt)); err != nil {
				return
			}
		}
	}
	a.Fail(fmt.Sprintf("classification failed after %d attempts: %v", a.ProcessingAttempts, lastErr))
}

func (o *Orchestrator) apply(a *article.Article, r Result) {
	a.IsRelevant = r.IsRelevant
	a.RelevanceScore = r.Confidence
	if r.Category != "" {
		a.Category = r.Category
	}
	if len(r.RegionTags) > 0 {
		a.RegionTags = r.RegionTags
	}
	if r.Summary != "" {
		a.Summary = r.Summary
	}
	if err := a.Advance(article.StateProcessed); err != nil {
		o.log.Error().Err(err).Str("key", a.CanonicalKey).Msg("state advance failed")
	}
}

func (o *Orchestrator) activeProvider() Provider {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

func (o *Orchestrator) switchToFallback(cause error) Provider {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fellBack {
		return o.active
	}
	if o.fallback == nil {
		return nil
	}
	o.log.Warn().
		Str("from", o.active.Name()).
		Str("to", o.fallback.Name()).
		AnErr("reason", cause).
		Msg("primary provider unavailable, switching to fallback")
	o.active = o.fallback
	o.fellBack = true
	return o.active
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
