package classify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/sift/internal/article"
	"horse.fit/sift/internal/checkpoint"
)

type stubProvider struct {
	name     string
	classify func(ctx context.Context, items []Item) ([]Result, error)

	mu    sync.Mutex
	calls int
	seen  []string
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Classify(ctx context.Context, items []Item) ([]Result, error) {
	p.mu.Lock()
	p.calls++
	for _, item := range items {
		p.seen = append(p.seen, item.Title)
	}
	p.mu.Unlock()
	return p.classify(ctx, items)
}

func okResults(items []Item) []Result {
	results := make([]Result, len(items))
	for i := range items {
		results[i] = Result{IsRelevant: true, Confidence: 0.8, Category: "AI Products & Applications", Summary: "ok"}
	}
	return results
}

func classifyingArticles(n int) []*article.Article {
	arts := make([]*article.Article, n)
	for i := range arts {
		arts[i] = &article.Article{
			ID:              int64(i + 1),
			CanonicalKey:    fmt.Sprintf("https://example.com/%d", i),
			Title:           fmt.Sprintf("article %d", i),
			ProcessingState: article.StateClassifying,
		}
	}
	return arts
}

func testConfig() Tier2Config {
	return Tier2Config{
		BatchSize:          2,
		MaxRetries:         3,
		Backoff:            func(int) time.Duration { return 0 },
		CheckpointInterval: 50,
		Workers:            2,
	}
}

func TestTier2HappyPath(t *testing.T) {
	t.Parallel()

	primary := &stubProvider{name: "groq", classify: func(_ context.Context, items []Item) ([]Result, error) {
		return okResults(items), nil
	}}
	store := checkpoint.NewMemoryStore()
	orch, err := NewOrchestrator(primary, nil, store, testConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	arts := classifyingArticles(5)
	stats, err := orch.Run(context.Background(), "job", arts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Processed != 5 || stats.Failed != 0 || stats.Relevant != 5 {
		t.Fatalf("stats = %+v", stats)
	}
	for _, a := range arts {
		if a.ProcessingState != article.StateProcessed {
			t.Fatalf("article %d state = %s", a.ID, a.ProcessingState)
		}
		if a.Summary != "ok" || a.RelevanceScore != 0.8 {
			t.Fatalf("result not applied: %+v", a)
		}
	}
	if _, err := store.Load("job"); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Fatalf("checkpoint not cleared: %v", err)
	}
}

func TestTier2MalformedRecordDoesNotBlockSiblings(t *testing.T) {
	t.Parallel()

	primary := &stubProvider{name: "groq", classify: func(_ context.Context, items []Item) ([]Result, error) {
		if len(items) > 1 {
			return nil, fmt.Errorf("batch parse: %w", ErrMalformed)
		}
		if items[0].Title == "article 1" {
			return nil, fmt.Errorf("record parse: %w", ErrMalformed)
		}
		return okResults(items), nil
	}}
	orch, err := NewOrchestrator(primary, nil, checkpoint.NewMemoryStore(), testConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	arts := classifyingArticles(4)
	stats, err := orch.Run(context.Background(), "job", arts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Processed != 3 || stats.Failed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if arts[1].ProcessingState != article.StateFailed {
		t.Fatalf("malformed record state = %s, want FAILED", arts[1].ProcessingState)
	}
	if arts[1].LastError == "" || arts[1].ProcessingAttempts != 3 {
		t.Fatalf("failure not recorded: attempts=%d err=%q", arts[1].ProcessingAttempts, arts[1].LastError)
	}
	for _, i := range []int{0, 2, 3} {
		if arts[i].ProcessingState != article.StateProcessed {
			t.Fatalf("sibling %d state = %s", i, arts[i].ProcessingState)
		}
	}
}

func TestTier2FallbackOnUnavailablePrimary(t *testing.T) {
	t.Parallel()

	primary := &stubProvider{name: "groq", classify: func(context.Context, []Item) ([]Result, error) {
		return nil, fmt.Errorf("connection refused: %w", ErrUnavailable)
	}}
	fallback := &stubProvider{name: "local", classify: func(_ context.Context, items []Item) ([]Result, error) {
		return okResults(items), nil
	}}
	orch, err := NewOrchestrator(primary, fallback, checkpoint.NewMemoryStore(), testConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	arts := classifyingArticles(4)
	stats, err := orch.Run(context.Background(), "job", arts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Processed != 4 || !stats.FellBack {
		t.Fatalf("stats = %+v", stats)
	}
	fallback.mu.Lock()
	defer fallback.mu.Unlock()
	if fallback.calls == 0 {
		t.Fatal("fallback provider never called")
	}
}

func TestTier2ResumeFromCheckpoint(t *testing.T) {
	t.Parallel()

	primary := &stubProvider{name: "groq", classify: func(_ context.Context, items []Item) ([]Result, error) {
		return okResults(items), nil
	}}
	store := checkpoint.NewMemoryStore()
	if err := store.Save(checkpoint.Checkpoint{
		JobID:         "job",
		LastIndex:     1,
		Processed:     2,
		Total:         4,
		CompletedKeys: []string{"https://example.com/0", "https://example.com/1"},
	}); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	orch, err := NewOrchestrator(primary, nil, store, testConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	arts := classifyingArticles(4)
	stats, err := orch.Run(context.Background(), "job", arts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Resumed != 2 {
		t.Fatalf("resumed = %d, want 2", stats.Resumed)
	}

	primary.mu.Lock()
	seen := append([]string(nil), primary.seen...)
	primary.mu.Unlock()
	for _, title := range seen {
		if title == "article 0" || title == "article 1" {
			t.Fatalf("completed record was reprocessed: %s", title)
		}
	}
	if arts[0].ProcessingState != article.StateClassifying {
		t.Fatal("records the checkpoint lists as completed must be untouched")
	}
	if arts[2].ProcessingState != article.StateProcessed || arts[3].ProcessingState != article.StateProcessed {
		t.Fatal("records outside the checkpoint must be processed")
	}
	if _, err := store.Load("job"); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Fatal("checkpoint must be cleared after a completed run")
	}
}

type spyStore struct {
	*checkpoint.MemoryStore
	mu    sync.Mutex
	saves int
}

func (s *spyStore) Save(cp checkpoint.Checkpoint) error {
	s.mu.Lock()
	s.saves++
	s.mu.Unlock()
	return s.MemoryStore.Save(cp)
}

func TestTier2CheckpointsPersistedDuringRun(t *testing.T) {
	t.Parallel()

	primary := &stubProvider{name: "groq", classify: func(_ context.Context, items []Item) ([]Result, error) {
		return okResults(items), nil
	}}
	store := &spyStore{MemoryStore: checkpoint.NewMemoryStore()}
	cfg := testConfig()
	cfg.BatchSize = 1
	cfg.Workers = 1
	cfg.CheckpointInterval = 2
	orch, err := NewOrchestrator(primary, nil, store, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	if _, err := orch.Run(context.Background(), "job", classifyingArticles(6)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.saves < 2 {
		t.Fatalf("saves = %d, want periodic checkpoints during the run", store.saves)
	}
}

func TestTier2InterruptionKeepsCheckpoint(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	primary := &stubProvider{name: "groq"}
	primary.classify = func(_ context.Context, items []Item) ([]Result, error) {
		primary.mu.Lock()
		calls := primary.calls
		primary.mu.Unlock()
		if calls > 2 {
			once.Do(cancel)
			return nil, ctx.Err()
		}
		return okResults(items), nil
	}

	store := checkpoint.NewMemoryStore()
	cfg := testConfig()
	cfg.BatchSize = 1
	cfg.Workers = 1
	cfg.CheckpointInterval = 1
	orch, err := NewOrchestrator(primary, nil, store, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	_, runErr := orch.Run(ctx, "job", classifyingArticles(10))
	if runErr == nil {
		t.Fatal("interrupted run should return the context error")
	}

	cp, err := store.Load("job")
	if err != nil {
		t.Fatalf("checkpoint should survive an interruption: %v", err)
	}
	if cp.LastIndex < 0 || len(cp.CompletedKeys) == 0 {
		t.Fatalf("checkpoint = %+v", cp)
	}
}

type guardedStore struct {
	*checkpoint.MemoryStore
	check func(cp checkpoint.Checkpoint) error
}

func (s *guardedStore) Save(cp checkpoint.Checkpoint) error {
	if err := s.check(cp); err != nil {
		return err
	}
	return s.MemoryStore.Save(cp)
}

func TestTier2PersistsResultsBeforeCheckpoint(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	durable := make(map[string]article.State)

	cfg := testConfig()
	cfg.BatchSize = 1
	cfg.Workers = 1
	cfg.CheckpointInterval = 2
	cfg.Persist = func(_ context.Context, batch []*article.Article) error {
		mu.Lock()
		defer mu.Unlock()
		for _, a := range batch {
			durable[a.CanonicalKey] = a.ProcessingState
		}
		return nil
	}

	store := &guardedStore{MemoryStore: checkpoint.NewMemoryStore(), check: func(cp checkpoint.Checkpoint) error {
		mu.Lock()
		defer mu.Unlock()
		for _, key := range cp.CompletedKeys {
			if durable[key] != article.StateProcessed {
				return fmt.Errorf("checkpoint lists %s before its result was durable", key)
			}
		}
		return nil
	}}
	primary := &stubProvider{name: "groq", classify: func(_ context.Context, items []Item) ([]Result, error) {
		return okResults(items), nil
	}}
	orch, err := NewOrchestrator(primary, nil, store, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	arts := classifyingArticles(6)
	if _, err := orch.Run(context.Background(), "job", arts); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(durable) != 6 {
		t.Fatalf("durable records = %d, want 6", len(durable))
	}
	for key, state := range durable {
		if state != article.StateProcessed {
			t.Fatalf("record %s persisted as %s", key, state)
		}
	}
}

// An interrupted run followed by a resumed run must end with the same
// outcome as an uninterrupted run: every record classified, none
// failed for being cancelled, and no record sent to the provider
// twice across the two runs.
func TestTier2InterruptedThenResumedMatchesUninterrupted(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	durable := make(map[string]article.State)
	persist := func(_ context.Context, batch []*article.Article) error {
		mu.Lock()
		defer mu.Unlock()
		for _, a := range batch {
			durable[a.CanonicalKey] = a.ProcessingState
		}
		return nil
	}

	cfg := testConfig()
	cfg.BatchSize = 1
	cfg.Workers = 1
	cfg.CheckpointInterval = 1
	cfg.Persist = persist
	store := checkpoint.NewMemoryStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	successes := 0
	first := &stubProvider{name: "groq"}
	first.classify = func(_ context.Context, items []Item) ([]Result, error) {
		first.mu.Lock()
		defer first.mu.Unlock()
		if successes >= 5 {
			cancel()
			return nil, ctx.Err()
		}
		successes++
		return okResults(items), nil
	}
	orch, err := NewOrchestrator(first, nil, store, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	arts := classifyingArticles(10)
	if _, err := orch.Run(ctx, "job", arts); err == nil {
		t.Fatal("interrupted run should return the context error")
	}
	// The caller saves all reached states once the run returns.
	if err := persist(context.Background(), arts); err != nil {
		t.Fatalf("persist: %v", err)
	}

	for _, a := range arts {
		if a.ProcessingState == article.StateFailed {
			t.Fatalf("cancellation must not fail records: %s %q", a.CanonicalKey, a.LastError)
		}
	}

	// On restart only records still mid-classification are loaded.
	var second []*article.Article
	for _, a := range arts {
		if durable[a.CanonicalKey] != article.StateClassifying {
			continue
		}
		second = append(second, &article.Article{
			ID:              a.ID,
			CanonicalKey:    a.CanonicalKey,
			Title:           a.Title,
			ProcessingState: article.StateClassifying,
		})
	}
	if len(second) != 5 {
		t.Fatalf("records left for the resumed run = %d, want 5", len(second))
	}

	resumed := &stubProvider{name: "groq", classify: func(_ context.Context, items []Item) ([]Result, error) {
		return okResults(items), nil
	}}
	orch2, err := NewOrchestrator(resumed, nil, store, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	if _, err := orch2.Run(context.Background(), "job", second); err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	if err := persist(context.Background(), second); err != nil {
		t.Fatalf("persist: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, a := range arts {
		if durable[a.CanonicalKey] != article.StateProcessed {
			t.Fatalf("record %s ended %s, want PROCESSED", a.CanonicalKey, durable[a.CanonicalKey])
		}
	}

	firstDone := make(map[string]struct{})
	for _, a := range arts {
		if a.ProcessingState == article.StateProcessed {
			firstDone[a.Title] = struct{}{}
		}
	}
	resumed.mu.Lock()
	defer resumed.mu.Unlock()
	for _, title := range resumed.seen {
		if _, done := firstDone[title]; done {
			t.Fatalf("record classified by the first run was sent again: %s", title)
		}
	}

	if _, err := store.Load("job"); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Fatal("checkpoint must be cleared after the resumed run completes")
	}
}
