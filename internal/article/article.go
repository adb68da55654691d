package article

import (
	"fmt"
	"strings"
	"time"
)

// State tracks an article through the pipeline.
type State string

const (
	StateIngested    State = "INGESTED"
	StateFiltering   State = "FILTERING"
	StateClassifying State = "CLASSIFYING"
	StateProcessed   State = "PROCESSED"
	StateRejected    State = "REJECTED"
	StateFailed      State = "FAILED"
)

var transitions = map[State][]State{
	StateIngested:    {StateFiltering},
	StateFiltering:   {StateClassifying, StateRejected},
	StateClassifying: {StateProcessed, StateRejected, StateFailed},
}

// CanAdvance reports whether moving from -> to is a legal pipeline step.
func CanAdvance(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Article is one ingested item. The JSON field names are the
// publication contract and must stay stable.
type Article struct {
	ID                 int64      `json:"-" gorm:"primaryKey"`
	URL                string     `json:"url" gorm:"not null"`
	CanonicalKey       string     `json:"canonical_key" gorm:"uniqueIndex;not null"`
	Title              string     `json:"title"`
	ContentExcerpt     string     `json:"content_excerpt"`
	DatePublished      time.Time  `json:"date_published"`
	DateScraped        time.Time  `json:"date_scraped"`
	SourceName         string     `json:"source_name"`
	ProcessingState    State      `json:"processing_state" gorm:"index;default:INGESTED"`
	ProcessingAttempts int        `json:"processing_attempts"`
	LastError          string     `json:"last_error,omitempty"`
	IsRelevant         bool       `json:"is_relevant"`
	RelevanceScore     float64    `json:"relevance_score"`
	ImportanceScore    float64    `json:"importance_score"`
	Category           string     `json:"category"`
	RegionTags         RegionTags `json:"region_tags" gorm:"serializer:json"`
	Summary            string     `json:"summary"`
	PremiumProcessed   bool       `json:"premium_processed"`
	Language           string     `json:"language,omitempty"`

	// Manual overrides for the premium tier, set out of band.
	ForcePremium bool `json:"-"`
	SkipPremium  bool `json:"-"`
}

// RegionTags is a set of region codes kept sorted-insensitive; JSON
// shape is a plain string array.
type RegionTags []string

// Has reports membership, case-insensitively.
func (t RegionTags) Has(code string) bool {
	for _, tag := range t {
		if strings.EqualFold(tag, code) {
			return true
		}
	}
	return false
}

// Advance moves the article to the given state, or errors if the
// transition is not part of the pipeline state machine.
func (a *Article) Advance(to State) error {
	if !CanAdvance(a.ProcessingState, to) {
		return fmt.Errorf("illegal state transition %s -> %s for %s", a.ProcessingState, to, a.CanonicalKey)
	}
	a.ProcessingState = to
	return nil
}

// Fail marks the article FAILED with the recorded reason. Unlike
// Advance it is legal from any non-terminal state.
func (a *Article) Fail(reason string) {
	a.ProcessingState = StateFailed
	a.LastError = reason
}

// WithinWindow reports whether published falls inside the freshness
// window ending at now. A zero published time is always outside the
// window: an article whose date could not be parsed must not be treated
// as fresh.
func WithinWindow(published, now time.Time, window time.Duration) bool {
	if published.IsZero() {
		return false
	}
	return !published.Before(now.Add(-window))
}
