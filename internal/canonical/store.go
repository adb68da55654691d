// Package canonical owns the durable per-scope article stores. A
// scope is an independent partition (national, one per region); within
// a scope canonical_key is unique. Merging is the only mutation point
// and is serialized per scope; writes are atomic so concurrent readers
// observe either the old or the new complete state.
package canonical

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"horse.fit/sift/internal/article"
)

// ErrWouldShrink means a write would reduce a scope's record count.
// Shrinking canonical data is never automatic; it aborts the scope's
// merge and leaves the store untouched.
var ErrWouldShrink = errors.New("canonical store would shrink")

// Snapshot is the complete state of one scope.
type Snapshot struct {
	Scope       string            `json:"scope"`
	LastUpdated time.Time         `json:"last_updated"`
	Articles    []article.Article `json:"articles"`
	// Categories maps category name to the canonical keys in it,
	// recomputed on every merge.
	Categories map[string][]string `json:"categories"`
}

// MergeStats summarizes one scope merge.
type MergeStats struct {
	New          int `json:"new"`
	Updated      int `json:"updated"`
	SkippedOlder int `json:"skipped_older"`
	Total        int `json:"total"`
}

var scopePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidScope reports whether name is usable as a scope identifier.
func ValidScope(name string) bool {
	return scopePattern.MatchString(name)
}

// Store reads and writes per-scope JSON documents under a directory.
type Store struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create canonical store dir %s: %w", dir, err)
	}
	return &Store{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *Store) scopeLock(scope string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locks[scope]; !ok {
		s.locks[scope] = &sync.Mutex{}
	}
	return s.locks[scope]
}

func (s *Store) scopePath(scope string) (string, error) {
	if !scopePattern.MatchString(scope) {
		return "", fmt.Errorf("invalid scope name %q", scope)
	}
	return filepath.Join(s.dir, scope+".json"), nil
}

// Scopes lists every scope with a persisted document.
func (s *Store) Scopes() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list canonical store: %w", err)
	}
	var scopes []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		scopes = append(scopes, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(scopes)
	return scopes, nil
}

// Load returns the scope's full record set. A scope with no document
// yet is empty, not an error; an unreadable or corrupt document is an
// error, because dedup and merge must not proceed on partial state.
func (s *Store) Load(scope string) (*Snapshot, error) {
	path, err := s.scopePath(scope)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Snapshot{Scope: scope, Categories: map[string][]string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read canonical scope %s: %w", scope, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("parse canonical scope %s: %w", scope, err)
	}
	snap.Scope = scope
	if snap.Categories == nil {
		snap.Categories = map[string][]string{}
	}
	return &snap, nil
}

// AllKeys returns every canonical key across all scopes. Any read
// failure is fatal to the caller's run: skipping the global duplicate
// check would re-admit already-published stories.
func (s *Store) AllKeys() (map[string]struct{}, error) {
	scopes, err := s.Scopes()
	if err != nil {
		return nil, err
	}

	keys := make(map[string]struct{})
	for _, scope := range scopes {
		snap, err := s.Load(scope)
		if err != nil {
			return nil, err
		}
		for i := range snap.Articles {
			if k := snap.Articles[i].CanonicalKey; k != "" {
				keys[k] = struct{}{}
			}
		}
	}
	return keys, nil
}

// Merge folds a batch of processed records into one scope. Records
// with a key not yet present are inserted; records with a present key
// replace the stored one only when strictly newer by date_published,
// with a longer-excerpt tie-break on equal dates. Running the same
// merge twice yields the same state as running it once.
func (s *Store) Merge(scope string, batch []article.Article, now time.Time) (MergeStats, error) {
	lock := s.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()

	snap, err := s.Load(scope)
	if err != nil {
		return MergeStats{}, err
	}

	index := make(map[string]int, len(snap.Articles))
	for i := range snap.Articles {
		index[snap.Articles[i].CanonicalKey] = i
	}

	var stats MergeStats
	for _, rec := range batch {
		if rec.ProcessingState != article.StateProcessed || rec.CanonicalKey == "" {
			continue
		}

		i, exists := index[rec.CanonicalKey]
		if !exists {
			snap.Articles = append(snap.Articles, rec)
			index[rec.CanonicalKey] = len(snap.Articles) - 1
			stats.New++
			continue
		}

		existing := &snap.Articles[i]
		switch {
		case rec.DatePublished.After(existing.DatePublished):
			*existing = rec
			stats.Updated++
		case rec.DatePublished.Equal(existing.DatePublished) && len(rec.ContentExcerpt) > len(existing.ContentExcerpt):
			*existing = rec
			stats.Updated++
		default:
			stats.SkippedOlder++
		}
	}
	stats.Total = len(snap.Articles)

	sort.SliceStable(snap.Articles, func(i, j int) bool {
		ai, aj := &snap.Articles[i], &snap.Articles[j]
		if !ai.DatePublished.Equal(aj.DatePublished) {
			return ai.DatePublished.After(aj.DatePublished)
		}
		return ai.CanonicalKey < aj.CanonicalKey
	})

	snap.LastUpdated = now
	snap.Categories = categoryView(snap.Articles)

	if err := s.writeSnapshot(scope, snap); err != nil {
		return MergeStats{}, err
	}
	return stats, nil
}

// writeSnapshot atomically replaces a scope document after the
// never-shrink check against the currently persisted state. Callers
// must hold the scope lock.
func (s *Store) writeSnapshot(scope string, snap *Snapshot) error {
	path, err := s.scopePath(scope)
	if err != nil {
		return err
	}

	current, err := s.Load(scope)
	if err != nil {
		return err
	}
	if len(snap.Articles) < len(current.Articles) {
		return fmt.Errorf("scope %s: %d records -> %d: %w", scope, len(current.Articles), len(snap.Articles), ErrWouldShrink)
	}

	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal canonical scope %s: %w", scope, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write canonical scope %s: %w", scope, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish canonical scope %s: %w", scope, err)
	}
	return nil
}

// Replace persists a complete replacement record set for a scope,
// subject to the same never-shrink check. It exists for manual,
// audited repair work, not for the pipeline.
func (s *Store) Replace(scope string, articles []article.Article, now time.Time) error {
	lock := s.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()

	snap := &Snapshot{
		Scope:       scope,
		LastUpdated: now,
		Articles:    articles,
		Categories:  categoryView(articles),
	}
	return s.writeSnapshot(scope, snap)
}

func categoryView(articles []article.Article) map[string][]string {
	view := make(map[string][]string)
	for i := range articles {
		cat := articles[i].Category
		if cat == "" {
			cat = "Uncategorized"
		}
		view[cat] = append(view[cat], articles[i].CanonicalKey)
	}
	return view
}
