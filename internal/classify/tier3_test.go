package classify

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/sift/internal/article"
)

func processedRelevant(id int64, title string) *article.Article {
	return &article.Article{
		ID:              id,
		CanonicalKey:    fmt.Sprintf("https://example.com/%d", id),
		Title:           title,
		ProcessingState: article.StateProcessed,
		IsRelevant:      true,
		Category:        "AI Products & Applications",
	}
}

func TestScorerGovernmentSignals(t *testing.T) {
	t.Parallel()

	scorer := NewScorer(testTable(t))

	a := processedRelevant(1, "Government of India tables AI bill in Parliament")
	// union_govt 30 + parliament 25.
	if got := scorer.Score(a, 0); got != 55 {
		t.Fatalf("score = %v, want 55", got)
	}

	b := processedRelevant(2, "Startup ships new AI tool")
	if got := scorer.Score(b, 0); got != 0 {
		t.Fatalf("score = %v, want 0", got)
	}
}

func TestScorerFundingScaledAndCapped(t *testing.T) {
	t.Parallel()

	scorer := NewScorer(testTable(t))

	a := processedRelevant(1, "Startup raises ₹50 crore for AI platform")
	// 50 / threshold 10 = 5, *2 = 10 points.
	if got := scorer.Score(a, 0); got != 10 {
		t.Fatalf("score = %v, want 10", got)
	}

	b := processedRelevant(2, "Consortium commits ₹900 crore to compute cluster")
	if got := scorer.Score(b, 0); got != 20 {
		t.Fatalf("large funding score = %v, want capped at 20", got)
	}
}

func TestScorerNationalScopeAndInstitutions(t *testing.T) {
	t.Parallel()

	scorer := NewScorer(testTable(t))

	a := processedRelevant(1, "IIT researchers publish new results")
	a.RegionTags = article.RegionTags{"IN"}
	// national scope 10 + institution 10.
	if got := scorer.Score(a, 0); got != 20 {
		t.Fatalf("score = %v, want 20", got)
	}
}

func TestScorerCategoryBonusAndBoost(t *testing.T) {
	t.Parallel()

	scorer := NewScorer(testTable(t))

	a := processedRelevant(1, "State drafts rules")
	a.Category = "AI Policy & Regulation"
	if got := scorer.Score(a, 15); got != 20 {
		t.Fatalf("score = %v, want 20 (15 boost + 5 category)", got)
	}
}

func TestScorerManualOverrides(t *testing.T) {
	t.Parallel()

	scorer := NewScorer(testTable(t))

	a := processedRelevant(1, "Minor note")
	a.ForcePremium = true
	if got := scorer.Score(a, 0); got != 999 {
		t.Fatalf("force_premium score = %v, want 999", got)
	}

	b := processedRelevant(2, "Government of India announcement in Parliament")
	b.SkipPremium = true
	if got := scorer.Score(b, 0); got != -999 {
		t.Fatalf("skip_premium score = %v, want -999", got)
	}
}

func TestPolisherSelectsTopKAndPolishes(t *testing.T) {
	t.Parallel()

	premium := &stubProvider{name: "premium", classify: func(_ context.Context, items []Item) ([]Result, error) {
		return []Result{{
			IsRelevant: true,
			Confidence: 0.95,
			Category:   "AI Policy & Regulation",
			RegionTags: []string{"IN"},
			Summary:    "polished",
		}}, nil
	}}
	polisher := NewPolisher(premium, NewScorer(testTable(t)), 2, 2, zerolog.Nop())

	high1 := processedRelevant(1, "Government of India tables AI bill in Parliament")
	high2 := processedRelevant(2, "Ministry of Electronics funds ₹500 crore AI mission")
	low := processedRelevant(3, "Small startup ships a chatbot")
	skipped := processedRelevant(4, "Rejected story")
	skipped.IsRelevant = false

	stats := polisher.Run(context.Background(), []*article.Article{low, high1, high2, skipped}, nil)
	if stats.Ranked != 3 || stats.Selected != 2 || stats.Polished != 2 || stats.Degraded != 0 {
		t.Fatalf("stats = %+v", stats)
	}

	for _, a := range []*article.Article{high1, high2} {
		if !a.PremiumProcessed || a.Summary != "polished" {
			t.Fatalf("top article %d not polished: %+v", a.ID, a)
		}
	}
	if low.PremiumProcessed {
		t.Fatal("article outside top K should not be polished")
	}
	if skipped.ImportanceScore != 0 {
		t.Fatal("irrelevant article should not be scored")
	}
}

func TestPolisherFailureDegradesToBulkResult(t *testing.T) {
	t.Parallel()

	premium := &stubProvider{name: "premium", classify: func(context.Context, []Item) ([]Result, error) {
		return nil, fmt.Errorf("premium quota: %w", ErrRateLimited)
	}}
	polisher := NewPolisher(premium, NewScorer(testTable(t)), 5, 2, zerolog.Nop())

	a := processedRelevant(1, "Government of India tables AI bill in Parliament")
	a.Summary = "bulk summary"
	a.Category = "AI Policy & Regulation"

	stats := polisher.Run(context.Background(), []*article.Article{a}, nil)
	if stats.Degraded != 1 || stats.Polished != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if a.ProcessingState != article.StateProcessed {
		t.Fatalf("state = %s, polish failure must not fail the record", a.ProcessingState)
	}
	if a.PremiumProcessed || a.Summary != "bulk summary" {
		t.Fatalf("bulk result not kept: %+v", a)
	}
}

func TestPolisherSkipsNegativeScores(t *testing.T) {
	t.Parallel()

	premium := &stubProvider{name: "premium", classify: func(_ context.Context, items []Item) ([]Result, error) {
		return okResults(items), nil
	}}
	polisher := NewPolisher(premium, NewScorer(testTable(t)), 10, 1, zerolog.Nop())

	a := processedRelevant(1, "Important but manually skipped")
	a.SkipPremium = true

	stats := polisher.Run(context.Background(), []*article.Article{a}, nil)
	if stats.Selected != 0 {
		t.Fatalf("stats = %+v, skip_premium article must not be selected", stats)
	}
}
