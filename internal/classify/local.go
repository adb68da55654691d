package classify

import (
	"context"
	"strings"
)

// LocalProvider is the no-network fallback: it reuses the rule filter's
// lexicon scoring to produce a coarse but well-formed classification
// when no remote provider can be reached.
type LocalProvider struct {
	filter *RuleFilter
}

func NewLocalProvider(filter *RuleFilter) *LocalProvider {
	return &LocalProvider{filter: filter}
}

func (p *LocalProvider) Name() string { return "local" }

func (p *LocalProvider) Classify(_ context.Context, items []Item) ([]Result, error) {
	results := make([]Result, len(items))
	for i, item := range items {
		score := p.filter.Score(item.Title, item.ContentExcerpt)

		category := ""
		if len(score.Categories) > 0 {
			category = score.Categories[0]
		}

		results[i] = Result{
			IsRelevant: score.Band != BandReject,
			Confidence: bandConfidence(score.Band),
			Category:   category,
			RegionTags: score.Regions,
			Summary:    summarize(item),
		}
	}
	return results, nil
}

func bandConfidence(band Band) float64 {
	switch band {
	case BandHigh:
		return 0.9
	case BandMedium:
		return 0.6
	case BandBorderline:
		return 0.35
	default:
		return 0.1
	}
}

// summarize takes the first sentence of the excerpt, or falls back to
// the title.
func summarize(item Item) string {
	text := strings.TrimSpace(item.ContentExcerpt)
	if text == "" {
		return item.Title
	}
	if i := strings.IndexAny(text, ".!?"); i > 0 && i < len(text)-1 {
		return text[:i+1]
	}
	if len(text) > 200 {
		return text[:200]
	}
	return text
}
