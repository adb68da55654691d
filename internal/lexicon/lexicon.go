// Package lexicon loads the keyword/weight tables driving the rule
// filter and importance scoring. Tables are immutable after Load;
// scoring stays a pure function over them.
package lexicon

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

type fileFormat struct {
	Thresholds struct {
		PassFilter     int `yaml:"pass_filter"`
		HighConfidence int `yaml:"high_confidence"`
		BorderlineMin  int `yaml:"borderline_min"`
		TopicSignalMin int `yaml:"topic_signal_min"`
		GeoSignalMin   int `yaml:"geo_signal_min"`
	} `yaml:"thresholds"`
	TopicKeywords []struct {
		Keyword         string   `yaml:"keyword"`
		Weight          int      `yaml:"weight"`
		Categories      []string `yaml:"categories"`
		ImportanceBoost int      `yaml:"importance_boost"`
	} `yaml:"topic_keywords"`
	GeoMarkers []struct {
		Pattern         string   `yaml:"pattern"`
		Name            string   `yaml:"name"`
		Tier            int      `yaml:"tier"`
		Weight          int      `yaml:"weight"`
		Regions         []string `yaml:"regions"`
		ImportanceBoost int      `yaml:"importance_boost"`
	} `yaml:"geo_markers"`
	Importance struct {
		Government []struct {
			Pattern string `yaml:"pattern"`
			Label   string `yaml:"label"`
			Points  int    `yaml:"points"`
		} `yaml:"government"`
		InstitutionsPattern  string  `yaml:"institutions_pattern"`
		FundingThresholdUnit float64 `yaml:"funding_threshold"`
	} `yaml:"importance"`
	StopWords []string `yaml:"stop_words"`
	OrgMarkers []string `yaml:"org_markers"`
}

// TopicRule is one compiled topic keyword with its weight and hints.
type TopicRule struct {
	Pattern         *regexp.Regexp
	Weight          int
	Categories      []string
	ImportanceBoost int
	Description     string
}

// GeoRule is one compiled geography marker.
type GeoRule struct {
	Pattern         *regexp.Regexp
	Name            string
	Tier            int
	Weight          int
	Regions         []string
	ImportanceBoost int
}

// GovernmentRule is one weighted government-signal pattern used in
// importance scoring.
type GovernmentRule struct {
	Pattern *regexp.Regexp
	Label   string
	Points  int
}

// Thresholds are the confidence-band cut lines.
type Thresholds struct {
	PassFilter     int
	HighConfidence int
	BorderlineMin  int
	TopicSignalMin int
	GeoSignalMin   int
}

// Table is the compiled, immutable lexicon.
type Table struct {
	Thresholds   Thresholds
	Topics       []TopicRule
	Geo          []GeoRule
	Government   []GovernmentRule
	Institutions *regexp.Regexp
	// FundingThreshold is the minimum monetary magnitude (in the
	// lexicon's base unit) that contributes importance points.
	FundingThreshold float64
	StopWords        map[string]struct{}
	OrgMarkers       []string
}

// Load reads and compiles a lexicon file. Invalid regex entries fail
// the load; a partially usable lexicon silently missing rules would
// skew every score after it.
func Load(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse compiles a lexicon from raw YAML.
func Parse(raw []byte) (*Table, error) {
	var f fileFormat
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse lexicon yaml: %w", err)
	}

	t := &Table{
		Thresholds: Thresholds{
			PassFilter:     f.Thresholds.PassFilter,
			HighConfidence: f.Thresholds.HighConfidence,
			BorderlineMin:  f.Thresholds.BorderlineMin,
			TopicSignalMin: f.Thresholds.TopicSignalMin,
			GeoSignalMin:   f.Thresholds.GeoSignalMin,
		},
		FundingThreshold: f.Importance.FundingThresholdUnit,
		StopWords:        make(map[string]struct{}, len(f.StopWords)),
		OrgMarkers:       append([]string(nil), f.OrgMarkers...),
	}

	if t.Thresholds.PassFilter <= 0 {
		return nil, fmt.Errorf("lexicon thresholds.pass_filter must be > 0")
	}

	for _, k := range f.TopicKeywords {
		re, err := regexp.Compile("(?i)" + k.Keyword)
		if err != nil {
			return nil, fmt.Errorf("compile topic keyword %q: %w", k.Keyword, err)
		}
		t.Topics = append(t.Topics, TopicRule{
			Pattern:         re,
			Weight:          k.Weight,
			Categories:      k.Categories,
			ImportanceBoost: k.ImportanceBoost,
			Description:     k.Keyword,
		})
	}

	for _, m := range f.GeoMarkers {
		re, err := regexp.Compile("(?i)" + m.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile geo marker %q: %w", m.Pattern, err)
		}
		t.Geo = append(t.Geo, GeoRule{
			Pattern:         re,
			Name:            m.Name,
			Tier:            m.Tier,
			Weight:          m.Weight,
			Regions:         m.Regions,
			ImportanceBoost: m.ImportanceBoost,
		})
	}

	for _, g := range f.Importance.Government {
		re, err := regexp.Compile("(?i)" + g.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile government pattern %q: %w", g.Pattern, err)
		}
		t.Government = append(t.Government, GovernmentRule{Pattern: re, Label: g.Label, Points: g.Points})
	}

	if f.Importance.InstitutionsPattern != "" {
		re, err := regexp.Compile("(?i)" + f.Importance.InstitutionsPattern)
		if err != nil {
			return nil, fmt.Errorf("compile institutions pattern: %w", err)
		}
		t.Institutions = re
	}

	for _, w := range f.StopWords {
		t.StopWords[w] = struct{}{}
	}

	if len(t.Topics) == 0 {
		return nil, fmt.Errorf("lexicon has no topic keywords")
	}
	if len(t.Geo) == 0 {
		return nil, fmt.Errorf("lexicon has no geo markers")
	}

	return t, nil
}

// IsStopWord reports whether the lowercase token is in the stop list.
func (t *Table) IsStopWord(token string) bool {
	_, ok := t.StopWords[token]
	return ok
}
