package lexicon

import (
	"strings"
	"testing"
)

const sampleLexicon = `
thresholds:
  pass_filter: 40
  high_confidence: 80
  borderline_min: 30
  topic_signal_min: 60
  geo_signal_min: 20
topic_keywords:
  - keyword: '\bartificial intelligence\b'
    weight: 60
    categories: ["AI Products & Applications"]
  - keyword: '\bai polic(y|ies)\b'
    weight: 80
    categories: ["AI Policy & Regulation"]
    importance_boost: 15
geo_markers:
  - pattern: '\bindia\b'
    name: India
    tier: 1
    weight: 20
    regions: ["IN"]
  - pattern: '\bniti aayog\b'
    name: NITI Aayog
    tier: 3
    weight: 30
    importance_boost: 20
importance:
  government:
    - pattern: '\bparliament\b'
      label: parliament
      points: 25
  institutions_pattern: '\b(iit|iisc)\b'
  funding_threshold: 10
org_markers: ["Ltd", "Labs"]
stop_words: ["the", "and"]
`

func TestParseCompilesRules(t *testing.T) {
	t.Parallel()

	table, err := Parse([]byte(sampleLexicon))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(table.Topics) != 2 || len(table.Geo) != 2 {
		t.Fatalf("got %d topics, %d geo rules", len(table.Topics), len(table.Geo))
	}
	if table.Thresholds.PassFilter != 40 || table.Thresholds.HighConfidence != 80 {
		t.Fatalf("thresholds not loaded: %+v", table.Thresholds)
	}
	if !table.Topics[0].Pattern.MatchString("Artificial Intelligence lab opens") {
		t.Fatal("topic patterns should match case-insensitively")
	}
	if table.Geo[1].ImportanceBoost != 20 {
		t.Fatalf("geo importance boost = %d, want 20", table.Geo[1].ImportanceBoost)
	}
	if table.FundingThreshold != 10 {
		t.Fatalf("funding threshold = %v, want 10", table.FundingThreshold)
	}
	if !table.IsStopWord("the") || table.IsStopWord("ministry") {
		t.Fatal("stop word lookup wrong")
	}
}

func TestParseRejectsInvalidRegex(t *testing.T) {
	t.Parallel()

	broken := strings.Replace(sampleLexicon, `'\bindia\b'`, `'[unclosed'`, 1)
	if _, err := Parse([]byte(broken)); err == nil {
		t.Fatal("expected error for invalid regex")
	}
}

func TestParseRejectsEmptyTables(t *testing.T) {
	t.Parallel()

	if _, err := Parse([]byte("thresholds:\n  pass_filter: 40\n")); err == nil {
		t.Fatal("expected error for lexicon without rules")
	}
}
