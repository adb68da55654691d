package classify

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"horse.fit/sift/internal/article"
	"horse.fit/sift/internal/lexicon"
)

// Sentinel scores for the manual override flags.
const (
	forcePremiumScore = 999
	skipPremiumScore  = -999
)

var fundingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)₹\s*([\d,]+(?:\.\d+)?)\s*crore`),
	regexp.MustCompile(`(?i)rs\.?\s*([\d,]+(?:\.\d+)?)\s*crore`),
	regexp.MustCompile(`(?i)inr\s*([\d,]+(?:\.\d+)?)\s*crore`),
	regexp.MustCompile(`(?i)\$\s*([\d,]+(?:\.\d+)?)\s*million`),
}

// Scorer computes the tier-3 importance score from the lexicon's
// weighted rules.
type Scorer struct {
	table *lexicon.Table
}

func NewScorer(table *lexicon.Table) *Scorer {
	return &Scorer{table: table}
}

// Score ranks one article. boost carries the importance hints the rule
// filter accumulated in tier 1.
func (s *Scorer) Score(a *article.Article, boost int) float64 {
	if a.ForcePremium {
		return forcePremiumScore
	}
	if a.SkipPremium {
		return skipPremiumScore
	}

	text := strings.ToLower(a.Title + " " + a.ContentExcerpt)
	score := boost

	for _, rule := range s.table.Government {
		if rule.Pattern.MatchString(text) {
			score += rule.Points
		}
	}

	if amount := maxFundingAmount(text); amount >= s.table.FundingThreshold && s.table.FundingThreshold > 0 {
		funding := int(amount/s.table.FundingThreshold) * 2
		if funding > 20 {
			funding = 20
		}
		score += funding
	}

	if a.RegionTags.Has("IN") || len(a.RegionTags) > 2 {
		score += 10
	}

	if s.table.Institutions != nil && s.table.Institutions.MatchString(text) {
		score += 10
	}

	switch {
	case strings.Contains(a.Category, "Policy") || strings.Contains(a.Category, "Regulation"):
		score += 5
	case strings.Contains(a.Category, "Major") || strings.Contains(a.Category, "Developments"):
		score += 3
	}

	return float64(score)
}

// maxFundingAmount returns the largest monetary figure in the text,
// in crore. Dollar millions convert at a rough ₹8 crore per $1M.
func maxFundingAmount(text string) float64 {
	max := 0.0
	for _, p := range fundingPatterns {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			n, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
			if err != nil {
				continue
			}
			if strings.Contains(p.String(), `\$`) {
				n *= 8
			}
			if n > max {
				max = n
			}
		}
	}
	return max
}

// Polisher is tier 3: importance-rank the relevant survivors, take the
// top K, and resubmit each individually to the premium provider. A
// polish failure keeps the tier-2 result; it never fails the record.
type Polisher struct {
	premium Provider
	scorer  *Scorer
	topK    int
	workers int
	log     zerolog.Logger
}

// Tier3Stats summarizes the premium pass.
type Tier3Stats struct {
	Ranked   int
	Selected int
	Polished int
	Degraded int
}

func NewPolisher(premium Provider, scorer *Scorer, topK, workers int, log zerolog.Logger) *Polisher {
	if workers < 1 {
		workers = 1
	}
	return &Polisher{premium: premium, scorer: scorer, topK: topK, workers: workers, log: log}
}

// Run scores and polishes articles in place. Only PROCESSED, relevant
// records participate.
func (p *Polisher) Run(ctx context.Context, articles []*article.Article, boosts map[int64]int) Tier3Stats {
	var stats Tier3Stats

	var eligible []*article.Article
	for _, a := range articles {
		if a.ProcessingState != article.StateProcessed || !a.IsRelevant {
			continue
		}
		a.ImportanceScore = p.scorer.Score(a, boosts[a.ID])
		eligible = append(eligible, a)
	}
	stats.Ranked = len(eligible)

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].ImportanceScore > eligible[j].ImportanceScore
	})

	var selected []*article.Article
	for _, a := range eligible {
		if len(selected) >= p.topK {
			break
		}
		if a.ImportanceScore < 0 {
			break
		}
		selected = append(selected, a)
	}
	stats.Selected = len(selected)

	if p.premium == nil || len(selected) == 0 {
		return stats
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, p.workers)
	for _, a := range selected {
		wg.Add(1)
		go func(a *article.Article) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			ok := p.polish(ctx, a)
			mu.Lock()
			if ok {
				stats.Polished++
			} else {
				stats.Degraded++
			}
			mu.Unlock()
		}(a)
	}
	wg.Wait()

	return stats
}

func (p *Polisher) polish(ctx context.Context, a *article.Article) bool {
	results, err := p.premium.Classify(ctx, []Item{{ID: a.ID, Title: a.Title, ContentExcerpt: a.ContentExcerpt}})
	if err != nil || len(results) != 1 {
		p.log.Warn().Err(err).Str("key", a.CanonicalKey).Msg("premium polish failed, keeping bulk result")
		return false
	}

	r := results[0]
	if r.Category != "" {
		a.Category = r.Category
	}
	if len(r.RegionTags) > 0 {
		a.RegionTags = r.RegionTags
	}
	if r.Summary != "" {
		a.Summary = r.Summary
	}
	a.PremiumProcessed = true
	return true
}
