package dedup

import (
	"time"

	"horse.fit/sift/internal/article"
)

// Entry is one remembered story in the rolling window.
type Entry struct {
	CanonicalKey string
	Title        string
	ScrapedAt    time.Time
	Entities     Entities
}

// Window is the run-scoped rolling dedup index. It is rebuilt at the
// start of every run from the canonical store and recent history, and
// discarded when the run ends. It is owned by a single run and is not
// safe for concurrent use.
type Window struct {
	span    time.Duration
	cutoff  time.Time
	extract *Extractor
	byKey   map[string]struct{}
	entries []Entry
}

// NewWindow builds an empty rolling index covering [now-span, now].
// A nil extractor means the built-in vocabulary.
func NewWindow(now time.Time, span time.Duration, extract *Extractor) *Window {
	if extract == nil {
		extract = defaultExtractor
	}
	return &Window{
		span:    span,
		cutoff:  now.Add(-span),
		extract: extract,
		byKey:   make(map[string]struct{}),
	}
}

// Add records a story in the window. Entries scraped before the
// window's cutoff are ignored.
func (w *Window) Add(key, title string, scrapedAt time.Time) {
	if !scrapedAt.IsZero() && scrapedAt.Before(w.cutoff) {
		return
	}
	if key != "" {
		w.byKey[key] = struct{}{}
	}
	w.entries = append(w.entries, Entry{
		CanonicalKey: key,
		Title:        title,
		ScrapedAt:    scrapedAt,
		Entities:     w.extract.Extract(title),
	})
}

// AddArticle is Add for an article record.
func (w *Window) AddArticle(a *article.Article) {
	w.Add(a.CanonicalKey, a.Title, a.DateScraped)
}

// HasKey reports an exact canonical-key hit.
func (w *Window) HasKey(key string) bool {
	_, ok := w.byKey[key]
	return ok
}

// Len is the number of remembered entries.
func (w *Window) Len() int {
	return len(w.entries)
}
