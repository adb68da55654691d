package dedup

import (
	"regexp"
	"strconv"
	"strings"
)

var amountPattern = regexp.MustCompile(`(?i)(?:₹|rs\.?|inr|usd|\$)\s*[\d,]+(?:\.\d+)?\s*(?:crore|cr|lakh|million|mn|billion|bn|k)?`)

var numberPattern = regexp.MustCompile(`[\d.]+`)

// Words too generic to distinguish one story from another.
var noiseWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "to": {}, "for": {}, "in": {}, "on": {},
	"at": {}, "by": {}, "with": {}, "from": {}, "of": {}, "and": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {},
	"will": {}, "would": {}, "could": {}, "should": {}, "may": {}, "might": {},
	"set": {}, "up": {}, "sets": {}, "setting": {}, "ready": {}, "new": {},
	"india": {}, "indian": {}, "indias": {},
	"announces": {}, "announced": {}, "announcement": {},
	"launching": {}, "launches": {}, "launch": {},
	"plans": {}, "planning": {}, "planned": {}, "plan": {},
	"estimated": {}, "expected": {}, "likely": {}, "reportedly": {},
	"says": {}, "said": {}, "reports": {}, "reported": {},
	"startup": {}, "company": {}, "funding": {}, "raises": {},
	"million": {}, "crore": {}, "series": {}, "round": {}, "investment": {},
	"model": {}, "platform": {}, "technology": {}, "digital": {},
	"artificial": {}, "intelligence": {}, "machine": {}, "learning": {}, "data": {},
	"centre": {}, "center": {}, "global": {}, "first": {}, "latest": {}, "biggest": {},
}

// Entities are the comparable signals extracted from a title.
type Entities struct {
	// Amounts are monetary mentions normalized to "<number><unit>",
	// e.g. "₹5,000 crore" -> "5000cr", "$100 million" -> "100mn".
	Amounts []string
	// Orgs are distinguishing terms: proper-noun-ish tokens left after
	// noise stripping. Overlap below the differentiation floor means
	// two similar titles describe different subjects.
	Orgs map[string]struct{}
}

// Extractor turns titles into comparable entities. The built-in noise
// list can be extended with lexicon stop words, and org markers
// ("Ltd", "Labs") rescue short company tokens the length filter would
// otherwise drop.
type Extractor struct {
	noise   map[string]struct{}
	markers map[string]struct{}
}

// NewExtractor merges the built-in noise list with extra stop words.
// Markers are matched case-insensitively against the token following a
// candidate org term; the markers themselves are too generic to count
// as orgs and join the noise list.
func NewExtractor(stopWords, orgMarkers []string) *Extractor {
	x := &Extractor{
		noise:   make(map[string]struct{}, len(noiseWords)+len(stopWords)+len(orgMarkers)),
		markers: make(map[string]struct{}, len(orgMarkers)),
	}
	for w := range noiseWords {
		x.noise[w] = struct{}{}
	}
	for _, w := range stopWords {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			x.noise[w] = struct{}{}
		}
	}
	for _, m := range orgMarkers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			x.markers[m] = struct{}{}
			x.noise[m] = struct{}{}
		}
	}
	return x
}

var defaultExtractor = NewExtractor(nil, nil)

// ExtractEntities is Extract with the built-in vocabulary only.
func ExtractEntities(text string) Entities {
	return defaultExtractor.Extract(text)
}

// Extract pulls amounts and distinguishing terms out of a title for
// the differentiation override.
func (x *Extractor) Extract(text string) Entities {
	e := Entities{Orgs: make(map[string]struct{})}

	seen := make(map[string]struct{})
	for _, m := range amountPattern.FindAllString(text, -1) {
		norm := NormalizeAmount(m)
		if norm == "" {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		e.Amounts = append(e.Amounts, norm)
	}

	words := strings.Fields(text)
	toks := make([]string, len(words))
	for i, word := range words {
		toks[i] = cleanToken(word)
	}
	for i, word := range words {
		tok := toks[i]
		if tok == "" {
			continue
		}
		// A token a marker follows ("Ola Ltd") names a company even
		// when it is short or generic on its own.
		if i+1 < len(toks) {
			if _, marked := x.markers[toks[i+1]]; marked {
				e.Orgs[tok] = struct{}{}
				continue
			}
		}
		if len(tok) <= 3 {
			continue
		}
		if _, noise := x.noise[tok]; noise {
			continue
		}
		// The first word of a headline is capitalized regardless, so
		// it only counts when it is an acronym.
		if i == 0 && word != strings.ToUpper(word) {
			continue
		}
		e.Orgs[tok] = struct{}{}
	}

	return e
}

func cleanToken(word string) string {
	return strings.ToLower(strings.TrimFunc(word, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('A' <= r && r <= 'Z') && !('0' <= r && r <= '9')
	}))
}

// NormalizeAmount reduces a monetary mention to a comparable
// "<number><unit>" form. Returns "" when no number can be read.
func NormalizeAmount(raw string) string {
	s := strings.ToLower(raw)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	for _, cur := range []string{"₹", "$", "rs.", "rs", "inr", "usd"} {
		s = strings.ReplaceAll(s, cur, "")
	}

	numStr := numberPattern.FindString(s)
	if numStr == "" {
		return ""
	}
	num, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return ""
	}

	// "5k cr" means 5,000 crore; bare "5k" means 5,000.
	if strings.Contains(s, "k") && !strings.Contains(s, "crore") && !strings.Contains(s, "lakh") {
		num *= 1000
	}

	unit := ""
	switch {
	case strings.Contains(s, "crore") || strings.Contains(s, "cr"):
		unit = "cr"
	case strings.Contains(s, "lakh"):
		unit = "lakh"
	case strings.Contains(s, "billion") || strings.Contains(s, "bn"):
		unit = "bn"
	case strings.Contains(s, "million") || strings.Contains(s, "mn"):
		unit = "mn"
	}

	return strconv.Itoa(int(num)) + unit
}

// amountsCouldBeSame reports whether two amount sets might describe
// the same figure. Numbers within 20% of each other are treated as the
// same amount with different rounding; a true result never blocks a
// duplicate verdict.
func amountsCouldBeSame(a, b []string) bool {
	numsA := amountNumbers(a)
	numsB := amountNumbers(b)
	if len(numsA) == 0 || len(numsB) == 0 {
		return true
	}

	for _, n1 := range numsA {
		for _, n2 := range numsB {
			lo, hi := n1, n2
			if lo > hi {
				lo, hi = hi, lo
			}
			if hi == 0 || lo/hi > 0.8 {
				return true
			}
		}
	}
	return false
}

func amountNumbers(amounts []string) []float64 {
	var nums []float64
	for _, a := range amounts {
		numStr := numberPattern.FindString(a)
		if numStr == "" {
			continue
		}
		n, err := strconv.ParseFloat(numStr, 64)
		if err != nil || n <= 0 {
			continue
		}
		nums = append(nums, n)
	}
	return nums
}

// orgOverlap is |A∩B| / |A∪B| over distinguishing terms; returns -1
// when either side has none, meaning the signal is absent.
func orgOverlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return -1
	}
	common := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			common++
		}
	}
	union := len(a) + len(b) - common
	if union == 0 {
		return -1
	}
	return float64(common) / float64(union)
}
