package canonical

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"horse.fit/sift/internal/article"
)

func processed(key, title string, published time.Time) article.Article {
	return article.Article{
		URL:             key,
		CanonicalKey:    key,
		Title:           title,
		DatePublished:   published,
		ProcessingState: article.StateProcessed,
		IsRelevant:      true,
		Category:        "AI Policy & Regulation",
	}
}

func TestMergeInsertsNewRecords(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	batch := []article.Article{
		processed("https://a.example/1", "First", now.Add(-time.Hour)),
		processed("https://a.example/2", "Second", now.Add(-2*time.Hour)),
	}
	stats, err := store.Merge("national", batch, now)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if stats.New != 2 || stats.Total != 2 {
		t.Fatalf("stats = %+v", stats)
	}

	snap, err := store.Load("national")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Articles) != 2 {
		t.Fatalf("persisted %d articles, want 2", len(snap.Articles))
	}
	if snap.Articles[0].CanonicalKey != "https://a.example/1" {
		t.Fatalf("articles not ordered newest first: %s", snap.Articles[0].CanonicalKey)
	}
	if len(snap.Categories["AI Policy & Regulation"]) != 2 {
		t.Fatalf("category view = %v", snap.Categories)
	}
	if !snap.LastUpdated.Equal(now) {
		t.Fatalf("last_updated = %v", snap.LastUpdated)
	}
}

func TestMergeLatestWins(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	old := processed("https://a.example/1", "Original title", now.Add(-48*time.Hour))
	if _, err := store.Merge("national", []article.Article{old}, now); err != nil {
		t.Fatalf("first merge: %v", err)
	}

	newer := processed("https://a.example/1", "Corrected title", now.Add(-time.Hour))
	stats, err := store.Merge("national", []article.Article{newer}, now)
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if stats.Updated != 1 || stats.New != 0 || stats.Total != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	snap, _ := store.Load("national")
	if snap.Articles[0].Title != "Corrected title" {
		t.Fatalf("newer record did not win: %q", snap.Articles[0].Title)
	}

	// Replaying the older record changes nothing.
	stats, err = store.Merge("national", []article.Article{old}, now)
	if err != nil {
		t.Fatalf("replay merge: %v", err)
	}
	if stats.SkippedOlder != 1 || stats.Total != 1 {
		t.Fatalf("replay stats = %+v", stats)
	}
	snap, _ = store.Load("national")
	if snap.Articles[0].Title != "Corrected title" {
		t.Fatalf("older record overwrote newer: %q", snap.Articles[0].Title)
	}
}

func TestMergeEqualDateTieBreakPrefersLongerExcerpt(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	published := now.Add(-time.Hour)

	short := processed("https://a.example/1", "Story", published)
	short.ContentExcerpt = "brief"
	if _, err := store.Merge("national", []article.Article{short}, now); err != nil {
		t.Fatalf("merge short: %v", err)
	}

	long := processed("https://a.example/1", "Story", published)
	long.ContentExcerpt = "a considerably more complete excerpt of the story"
	stats, err := store.Merge("national", []article.Article{long}, now)
	if err != nil {
		t.Fatalf("merge long: %v", err)
	}
	if stats.Updated != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	snap, _ := store.Load("national")
	if snap.Articles[0].ContentExcerpt != long.ContentExcerpt {
		t.Fatal("longer excerpt should win an exact date tie")
	}
}

func TestMergeIdempotent(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	batch := []article.Article{
		processed("https://a.example/1", "One", now.Add(-time.Hour)),
		processed("https://a.example/2", "Two", now.Add(-2*time.Hour)),
		processed("https://a.example/3", "Three", now.Add(-3*time.Hour)),
	}
	if _, err := store.Merge("national", batch, now); err != nil {
		t.Fatalf("first merge: %v", err)
	}
	first, _ := store.Load("national")

	stats, err := store.Merge("national", batch, now)
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if stats.New != 0 || stats.Updated != 0 || stats.SkippedOlder != 3 || stats.Total != 3 {
		t.Fatalf("second merge stats = %+v", stats)
	}

	second, _ := store.Load("national")
	if len(first.Articles) != len(second.Articles) {
		t.Fatal("idempotent merge changed the record count")
	}
	for i := range first.Articles {
		if first.Articles[i].CanonicalKey != second.Articles[i].CanonicalKey {
			t.Fatal("idempotent merge changed ordering")
		}
	}
}

func TestMergeMixedBatchScenario(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	var existing []article.Article
	for i := 0; i < 7; i++ {
		existing = append(existing, processed(fmt.Sprintf("https://a.example/existing-%d", i), "Existing", now.Add(-72*time.Hour)))
	}
	if _, err := store.Merge("national", existing, now); err != nil {
		t.Fatalf("seed merge: %v", err)
	}

	var batch []article.Article
	for i := 0; i < 10; i++ {
		batch = append(batch, processed(fmt.Sprintf("https://a.example/new-%d", i), "New", now.Add(-time.Hour)))
	}
	// 5 reprocessings with older dates: silently skipped.
	for i := 0; i < 5; i++ {
		batch = append(batch, processed(fmt.Sprintf("https://a.example/existing-%d", i), "Stale copy", now.Add(-96*time.Hour)))
	}
	// 2 corrections with newer dates: replace in place.
	for i := 5; i < 7; i++ {
		batch = append(batch, processed(fmt.Sprintf("https://a.example/existing-%d", i), "Corrected", now.Add(-time.Hour)))
	}

	stats, err := store.Merge("national", batch, now)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if stats.New != 10 || stats.Updated != 2 || stats.SkippedOlder != 5 || stats.Total != 17 {
		t.Fatalf("stats = %+v", stats)
	}

	snap, _ := store.Load("national")
	corrected := 0
	for i := range snap.Articles {
		if snap.Articles[i].Title == "Corrected" {
			corrected++
		}
		if snap.Articles[i].Title == "Stale copy" {
			t.Fatal("older reprocessing overwrote canonical data")
		}
	}
	if corrected != 2 {
		t.Fatalf("%d corrected records, want 2", corrected)
	}
}

func TestMergeEmptyBatchIsNoOp(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	seed := []article.Article{processed("https://a.example/1", "One", now.Add(-time.Hour))}
	if _, err := store.Merge("national", seed, now); err != nil {
		t.Fatalf("seed merge: %v", err)
	}

	stats, err := store.Merge("national", nil, now)
	if err != nil {
		t.Fatalf("empty merge must not abort: %v", err)
	}
	if stats.Total != 1 || stats.New != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestMergeSkipsUnprocessedRecords(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	rec := processed("https://a.example/1", "One", now.Add(-time.Hour))
	rec.ProcessingState = article.StateFailed
	stats, err := store.Merge("national", []article.Article{rec}, now)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if stats.New != 0 || stats.Total != 0 {
		t.Fatalf("failed record reached the canonical store: %+v", stats)
	}
}

func TestReplaceEnforcesNeverShrink(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	var seed []article.Article
	for i := 0; i < 10; i++ {
		seed = append(seed, processed(fmt.Sprintf("https://a.example/%d", i), "Seed", now.Add(-time.Hour)))
	}
	if _, err := store.Merge("national", seed, now); err != nil {
		t.Fatalf("seed merge: %v", err)
	}

	truncated := seed[:4]
	err = store.Replace("national", truncated, now)
	if !errors.Is(err, ErrWouldShrink) {
		t.Fatalf("Replace with fewer records = %v, want ErrWouldShrink", err)
	}

	snap, loadErr := store.Load("national")
	if loadErr != nil {
		t.Fatalf("Load after abort: %v", loadErr)
	}
	if len(snap.Articles) != 10 {
		t.Fatalf("store has %d records after aborted shrink, want 10 untouched", len(snap.Articles))
	}
}

func TestScopesAreIndependent(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	same := processed("https://a.example/story", "Story", now.Add(-time.Hour))
	if _, err := store.Merge("national", []article.Article{same}, now); err != nil {
		t.Fatalf("national merge: %v", err)
	}
	if _, err := store.Merge("ka", []article.Article{same}, now); err != nil {
		t.Fatalf("regional merge: %v", err)
	}

	scopes, err := store.Scopes()
	if err != nil {
		t.Fatalf("Scopes: %v", err)
	}
	if len(scopes) != 2 {
		t.Fatalf("scopes = %v", scopes)
	}

	keys, err := store.AllKeys()
	if err != nil {
		t.Fatalf("AllKeys: %v", err)
	}
	if _, ok := keys["https://a.example/story"]; !ok || len(keys) != 1 {
		t.Fatalf("keys = %v", keys)
	}
}

func TestMergeRejectsInvalidScopeName(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := store.Merge("../escape", nil, time.Now()); err == nil {
		t.Fatal("expected error for scope name with path separators")
	}
}
