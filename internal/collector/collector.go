// Package collector pulls candidate articles from RSS/Atom feeds,
// validates them, and hands them to the pipeline as freshly ingested
// records.
package collector

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"horse.fit/sift/internal/article"
	"horse.fit/sift/internal/globaltime"
	payloadschema "horse.fit/sift/schema"
)

// DefaultExcerptLimit bounds the stored content excerpt.
const DefaultExcerptLimit = 2000

// LanguageDetector reports the language of a text sample.
type LanguageDetector interface {
	Detect(text string) (string, bool)
}

// Options configures a collection run.
type Options struct {
	Feeds        []string
	FeedTimeout  time.Duration
	ExcerptLimit int
	// FetchBodies enables a readability fetch of the article page when
	// the feed item carries no description.
	FetchBodies bool
	Fetch       FetchOptions
	Detector    LanguageDetector
}

// Stats summarizes one collection run.
type Stats struct {
	Feeds      int `json:"feeds"`
	FeedErrors int `json:"feed_errors"`
	Items      int `json:"items"`
	Invalid    int `json:"invalid"`
	Unusable   int `json:"unusable"`
	Collected  int `json:"collected"`
}

// Collector turns feed items into ingested articles.
type Collector struct {
	opts Options
	log  zerolog.Logger
}

func New(opts Options, log zerolog.Logger) *Collector {
	if opts.ExcerptLimit <= 0 {
		opts.ExcerptLimit = DefaultExcerptLimit
	}
	return &Collector{opts: opts, log: log}
}

// Collect fetches every configured feed and returns the validated,
// deduplicated-by-key articles in INGESTED state. Feed failures are
// counted and logged but do not abort the run.
func (c *Collector) Collect(ctx context.Context) ([]article.Article, Stats, error) {
	var stats Stats
	now := globaltime.UTC()

	seen := make(map[string]struct{})
	var collected []article.Article

	for _, feedURL := range c.opts.Feeds {
		if err := ctx.Err(); err != nil {
			return collected, stats, err
		}
		stats.Feeds++

		feed, err := fetchFeed(ctx, feedURL, c.opts.FeedTimeout, c.opts.Fetch.UserAgent)
		if err != nil {
			stats.FeedErrors++
			c.log.Warn().Err(err).Str("feed", feedURL).Msg("feed fetch failed")
			continue
		}

		source := feedSourceName(feed, feedURL)
		for _, item := range feed.Items {
			stats.Items++
			rec, ok := c.buildArticle(ctx, item, source, now, &stats)
			if !ok {
				continue
			}
			if _, dup := seen[rec.CanonicalKey]; dup {
				continue
			}
			seen[rec.CanonicalKey] = struct{}{}
			collected = append(collected, rec)
			stats.Collected++
		}
	}

	return collected, stats, nil
}

func (c *Collector) buildArticle(ctx context.Context, item *gofeed.Item, source string, now time.Time, stats *Stats) (article.Article, bool) {
	payload := payloadschema.CandidatePayload{
		URL:        strings.TrimSpace(item.Link),
		Title:      strings.TrimSpace(item.Title),
		Content:    CleanText(item.Description),
		SourceName: source,
	}
	if item.PublishedParsed != nil {
		payload.DatePublished = item.PublishedParsed.UTC().Format(time.RFC3339)
	} else if p := strings.TrimSpace(item.Published); p != "" {
		payload.DatePublished = p
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		stats.Invalid++
		return article.Article{}, false
	}
	validated, err := payloadschema.ValidateCandidatePayload(raw)
	if err != nil {
		stats.Invalid++
		c.log.Debug().Err(err).Str("url", payload.URL).Msg("rejected candidate payload")
		return article.Article{}, false
	}

	key := article.CanonicalKey(validated.URL)
	if key == "" {
		stats.Unusable++
		c.log.Debug().Str("url", validated.URL).Msg("unusable article url")
		return article.Article{}, false
	}

	excerpt := validated.Content
	if excerpt == "" && c.opts.FetchBodies {
		text, err := FetchExcerpt(ctx, validated.URL, validated.Title, c.opts.Fetch)
		if err != nil {
			c.log.Debug().Err(err).Str("url", validated.URL).Msg("excerpt fetch failed")
		} else {
			excerpt = text
		}
	}
	excerpt = TruncateText(excerpt, c.opts.ExcerptLimit)

	rec := article.Article{
		URL:             validated.URL,
		CanonicalKey:    key,
		Title:           validated.Title,
		ContentExcerpt:  excerpt,
		DatePublished:   parsePublished(validated.DatePublished),
		DateScraped:     now,
		SourceName:      validated.SourceName,
		ProcessingState: article.StateIngested,
	}

	if c.opts.Detector != nil {
		sample := rec.Title
		if rec.ContentExcerpt != "" {
			sample = rec.Title + " " + rec.ContentExcerpt
		}
		if code, ok := c.opts.Detector.Detect(sample); ok {
			rec.Language = code
		}
	}

	return rec, true
}

// parsePublished parses a publish date leniently. Anything that cannot
// be parsed yields the zero time, which the freshness window treats as
// stale rather than guessing a date.
func parsePublished(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC()
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
