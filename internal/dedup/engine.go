// Package dedup decides which freshly ingested articles are genuinely
// new. Checks run in layers, cheapest first: exact canonical-key hits
// against the rolling window and the full canonical store, then fuzzy
// title similarity, with a differentiation override so that similar
// wording about different events is never collapsed.
package dedup

import (
	"fmt"

	"github.com/rs/zerolog"

	"horse.fit/sift/internal/article"
)

// Thresholds are the similarity cut lines, 0-100.
type Thresholds struct {
	TokenSet int
	Partial  int
	Combined int
}

// DefaultThresholds are the calibrated cut lines.
func DefaultThresholds() Thresholds {
	return Thresholds{TokenSet: 88, Partial: 90, Combined: 82}
}

// Verdict is the outcome of a duplicate check.
type Verdict struct {
	Duplicate bool
	// Reason is set only for duplicates: which layer matched and why.
	Reason string
	// MatchedTitle is the existing story a fuzzy duplicate matched.
	MatchedTitle string
}

// Engine checks candidates against a rolling window and the complete
// canonical key set.
type Engine struct {
	window *Window
	// canonicalKeys is every key in the full canonical store across
	// all scopes. The window alone is not enough: a story older than
	// the window span but still canonical must not be re-admitted.
	canonicalKeys map[string]struct{}
	thresholds    Thresholds
	log           zerolog.Logger
}

// NewEngine wires a dedup engine. canonicalKeys must come from a
// successful load of the full canonical store; callers that cannot
// load the store must fail the run instead of passing nil.
func NewEngine(window *Window, canonicalKeys map[string]struct{}, thresholds Thresholds, log zerolog.Logger) (*Engine, error) {
	if window == nil {
		return nil, fmt.Errorf("dedup: window is required")
	}
	if canonicalKeys == nil {
		return nil, fmt.Errorf("dedup: canonical key set is required; refusing to run without global dedup")
	}
	return &Engine{
		window:        window,
		canonicalKeys: canonicalKeys,
		thresholds:    thresholds,
		log:           log,
	}, nil
}

// Check classifies one candidate. Candidates found new are added to
// the window so later candidates in the same run are checked against
// them.
func (e *Engine) Check(a *article.Article) Verdict {
	if a.CanonicalKey != "" {
		if e.window.HasKey(a.CanonicalKey) {
			return Verdict{Duplicate: true, Reason: "exact canonical key in rolling window"}
		}
		if _, ok := e.canonicalKeys[a.CanonicalKey]; ok {
			return Verdict{Duplicate: true, Reason: "exact canonical key in canonical store"}
		}
	}

	candidate := e.window.extract.Extract(a.Title)
	for i := range e.window.entries {
		entry := &e.window.entries[i]
		if v := e.compareTitles(a.Title, candidate, entry); v.Duplicate {
			e.log.Debug().
				Str("candidate", a.Title).
				Str("matched", entry.Title).
				Str("reason", v.Reason).
				Msg("duplicate detected")
			return v
		}
	}

	e.window.AddArticle(a)
	return Verdict{}
}

func (e *Engine) compareTitles(title string, candidate Entities, entry *Entry) Verdict {
	scores := scoreTitles(title, entry.Title)

	match := scores.tokenSet >= e.thresholds.TokenSet ||
		scores.partial >= e.thresholds.Partial ||
		scores.weighted() >= float64(e.thresholds.Combined)
	if !match {
		return Verdict{}
	}

	// Differentiation override: similar wording does not make two
	// stories the same event. Differing amounts (Series A vs Series B)
	// or disjoint subjects (Google vs Microsoft) keep them separate.
	if len(candidate.Amounts) > 0 && len(entry.Entities.Amounts) > 0 &&
		!amountsCouldBeSame(candidate.Amounts, entry.Entities.Amounts) {
		return Verdict{}
	}
	if overlap := orgOverlap(candidate.Orgs, entry.Entities.Orgs); overlap >= 0 && overlap < 0.3 {
		return Verdict{}
	}

	reason := ""
	switch {
	case scores.tokenSet >= e.thresholds.TokenSet:
		reason = fmt.Sprintf("token set %d >= %d", scores.tokenSet, e.thresholds.TokenSet)
	case scores.partial >= e.thresholds.Partial:
		reason = fmt.Sprintf("partial %d >= %d", scores.partial, e.thresholds.Partial)
	default:
		reason = fmt.Sprintf("combined %.0f >= %d", scores.weighted(), e.thresholds.Combined)
	}
	return Verdict{Duplicate: true, Reason: reason, MatchedTitle: entry.Title}
}
