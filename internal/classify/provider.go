package classify

import (
	"context"
	"errors"
)

// Typed provider failures. Retry policy differs by kind: transient
// failures are retried with backoff, ErrUnavailable switches to the
// fallback provider, ErrMalformed is a permanent record-level failure.
var (
	ErrUnavailable = errors.New("classification provider unavailable")
	ErrRateLimited = errors.New("classification provider rate limited")
	ErrMalformed   = errors.New("malformed provider response")
)

// Item is one article submitted for classification.
type Item struct {
	ID             int64
	Title          string
	ContentExcerpt string
}

// Result is the provider's structured answer for one item.
type Result struct {
	IsRelevant bool     `json:"is_relevant"`
	Confidence float64  `json:"confidence"`
	Category   string   `json:"category"`
	RegionTags []string `json:"region_tags"`
	Summary    string   `json:"summary"`
}

// Provider classifies a batch of articles in one request. A response
// must contain exactly one Result per submitted Item, in order.
type Provider interface {
	Classify(ctx context.Context, items []Item) ([]Result, error)
	Name() string
}
