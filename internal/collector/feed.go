package collector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

const defaultFeedTimeout = 20 * time.Second

// fetchFeed downloads and parses one RSS/Atom feed with its own
// deadline so a slow source cannot stall the whole collection run.
func fetchFeed(ctx context.Context, feedURL string, timeout time.Duration, userAgent string) (*gofeed.Feed, error) {
	if timeout <= 0 {
		timeout = defaultFeedTimeout
	}
	feedCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	parser := gofeed.NewParser()
	if ua := strings.TrimSpace(userAgent); ua != "" {
		parser.UserAgent = ua
	} else {
		parser.UserAgent = defaultUserAgent
	}

	feed, err := parser.ParseURLWithContext(feedURL, feedCtx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}
	return feed, nil
}

// feedSourceName picks a human-readable source label for a feed.
func feedSourceName(feed *gofeed.Feed, feedURL string) string {
	if feed != nil {
		if title := strings.TrimSpace(feed.Title); title != "" {
			return title
		}
	}
	return feedURL
}
