package dedup

import (
	"sort"
	"strings"
	"unicode"
)

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// ratio is the plain edit-distance similarity of two strings, 0-100.
func ratio(a, b string) int {
	if a == b {
		return 100
	}
	longest := len([]rune(a))
	if lb := len([]rune(b)); lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 100
	}
	d := levenshtein(a, b)
	return int(100 * (float64(longest-d) / float64(longest)))
}

// tokenSortRatio compares the two strings with tokens sorted, ignoring
// word order entirely.
func tokenSortRatio(a, b string) int {
	return ratio(sortedJoin(tokenize(a)), sortedJoin(tokenize(b)))
}

func sortedJoin(tokens []string) string {
	sorted := append([]string(nil), tokens...)
	sort.Strings(sorted)
	return strings.Join(sorted, " ")
}

// tokenSetRatio compares the shared token core against each side's
// full token set, which makes it robust to one title carrying extra
// trailing detail.
func tokenSetRatio(a, b string) int {
	setA := toSet(tokenize(a))
	setB := toSet(tokenize(b))

	var common, onlyA, onlyB []string
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			common = append(common, tok)
		} else {
			onlyA = append(onlyA, tok)
		}
	}
	for tok := range setB {
		if _, ok := setA[tok]; !ok {
			onlyB = append(onlyB, tok)
		}
	}
	sort.Strings(common)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	core := strings.Join(common, " ")
	full1 := strings.TrimSpace(core + " " + strings.Join(onlyA, " "))
	full2 := strings.TrimSpace(core + " " + strings.Join(onlyB, " "))

	best := ratio(core, full1)
	if r := ratio(core, full2); r > best {
		best = r
	}
	if r := ratio(full1, full2); r > best {
		best = r
	}
	return best
}

// partialRatio is the best edit-distance score of the shorter string
// against any same-length window of the longer one; 100 when one title
// is contained in the other.
func partialRatio(a, b string) int {
	shorter, longer := []rune(strings.ToLower(a)), []rune(strings.ToLower(b))
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if len(shorter) == 0 {
		return 100
	}
	if strings.Contains(string(longer), string(shorter)) {
		return 100
	}

	best := 0
	for start := 0; start+len(shorter) <= len(longer); start++ {
		window := string(longer[start : start+len(shorter)])
		if r := ratio(string(shorter), window); r > best {
			best = r
			if best == 100 {
				break
			}
		}
	}
	return best
}

type titleScores struct {
	tokenSet  int
	partial   int
	tokenSort int
	basic     int
}

func (s titleScores) weighted() float64 {
	return float64(s.tokenSet)*0.4 + float64(s.partial)*0.25 + float64(s.tokenSort)*0.25 + float64(s.basic)*0.1
}

func scoreTitles(a, b string) titleScores {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	return titleScores{
		tokenSet:  tokenSetRatio(la, lb),
		partial:   partialRatio(la, lb),
		tokenSort: tokenSortRatio(la, lb),
		basic:     ratio(la, lb),
	}
}

func toSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	return set
}
