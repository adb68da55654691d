package classify

import (
	"sort"
	"strings"

	"horse.fit/sift/internal/lexicon"
)

// Band is the tier-1 confidence band. Only BandReject drops a record.
type Band string

const (
	BandHigh       Band = "high"
	BandMedium     Band = "medium"
	BandBorderline Band = "borderline"
	BandReject     Band = "reject"
)

// Score caps keep a single keyword family from dominating the total.
const (
	maxTopicScore = 150
	maxGeoScore   = 60
)

// excerptSample is how much content the rule filter reads; the title
// plus the opening of the article carry nearly all the signal.
const excerptSample = 500

// LanguageDetector reports the dominant language of a text. Implemented
// by the lingua-backed detector; tests substitute a stub.
type LanguageDetector interface {
	Detect(text string) (lang string, ok bool)
}

// RuleResult is the tier-1 outcome for one article.
type RuleResult struct {
	Band            Band
	Score           int
	TopicScore      int
	GeoScore        int
	Categories      []string
	Regions         []string
	ImportanceBoost int
}

// RuleFilter is the deterministic tier-1 filter: weighted keyword
// scoring over the lexicon, no network, sub-second for any batch.
type RuleFilter struct {
	table      *lexicon.Table
	detector   LanguageDetector
	targetLang string
}

// NewRuleFilter wires the filter. detector may be nil to skip the
// language gate.
func NewRuleFilter(table *lexicon.Table, detector LanguageDetector, targetLang string) *RuleFilter {
	return &RuleFilter{
		table:      table,
		detector:   detector,
		targetLang: strings.ToLower(strings.TrimSpace(targetLang)),
	}
}

// Score bands one article. An article needs BOTH a topic signal and a
// geography signal to pass; either signal alone can at best reach the
// borderline band.
func (f *RuleFilter) Score(title, content string) RuleResult {
	if f.detector != nil && f.targetLang != "" {
		if lang, ok := f.detector.Detect(title); ok && lang != f.targetLang {
			return RuleResult{Band: BandReject}
		}
	}

	sample := content
	if len(sample) > excerptSample {
		sample = sample[:excerptSample]
	}
	text := strings.ToLower(title + " " + sample)

	var res RuleResult
	categories := make(map[string]struct{})
	regions := make(map[string]struct{})

	for _, rule := range f.table.Topics {
		if !rule.Pattern.MatchString(text) {
			continue
		}
		res.TopicScore += rule.Weight
		res.ImportanceBoost += rule.ImportanceBoost
		for _, c := range rule.Categories {
			categories[c] = struct{}{}
		}
	}
	if res.TopicScore > maxTopicScore {
		res.TopicScore = maxTopicScore
	}

	for _, rule := range f.table.Geo {
		if !rule.Pattern.MatchString(text) {
			continue
		}
		res.GeoScore += rule.Weight
		res.ImportanceBoost += rule.ImportanceBoost
		for _, r := range rule.Regions {
			regions[r] = struct{}{}
		}
	}
	if res.GeoScore > maxGeoScore {
		res.GeoScore = maxGeoScore
	}

	res.Score = res.TopicScore + res.GeoScore
	res.Categories = sortedKeys(categories)
	res.Regions = sortedKeys(regions)

	th := f.table.Thresholds
	hasTopic := res.TopicScore >= th.TopicSignalMin
	hasGeo := res.GeoScore >= th.GeoSignalMin

	switch {
	case res.Score >= th.HighConfidence && hasTopic && hasGeo:
		res.Band = BandHigh
	case res.Score >= th.PassFilter && hasTopic && hasGeo:
		res.Band = BandMedium
	case res.Score >= th.BorderlineMin && (hasTopic || hasGeo):
		res.Band = BandBorderline
	default:
		res.Band = BandReject
	}
	return res
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
