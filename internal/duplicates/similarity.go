package duplicates

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/opensource-finance/kestrel/internal/textnorm"
)

// Similarity weights.
const (
	tokenSetWeight = 0.6
	charWeight     = 0.4
)

// DefaultSimilarityThreshold is the score at or above which two invoice
// strings are duplicates.
const DefaultSimilarityThreshold = 90.0

// InvoiceSimilarity compares two invoice identifiers on a 0-100 scale. Both
// sides are case-folded and stripped of punctuation; the score mixes the
// token-set ratio and the character ratio. Consecutive numbers of one series
// ("INV-1041" and "INV-1042") are never duplicates.
func InvoiceSimilarity(a, b string, threshold float64) (bool, float64) {
	na, nb := textnorm.Normalize(a), textnorm.Normalize(b)
	if na == "" || nb == "" {
		return false, 0
	}
	if Sequential(na, nb) {
		return false, 0
	}
	score := tokenSetWeight*tokenSetRatio(na, nb) + charWeight*ratio(na, nb)
	score = math.Round(score*100) / 100
	return score >= threshold, score
}

// ratio is the indel similarity of two strings scaled to 0-100.
func ratio(a, b string) float64 {
	if a == "" && b == "" {
		return 100
	}
	return 100 * levenshtein.RatioForStrings([]rune(a), []rune(b), levenshtein.DefaultOptions)
}

// tokenSetRatio compares the shared tokens against each side's full token
// set and keeps the best ratio, so word order and repeated words do not
// matter.
func tokenSetRatio(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	var common, onlyA, onlyB []string
	for t := range ta {
		if tb[t] {
			common = append(common, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for t := range tb {
		if !ta[t] {
			onlyB = append(onlyB, t)
		}
	}
	sort.Strings(common)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	base := strings.Join(common, " ")
	withA := strings.TrimSpace(base + " " + strings.Join(onlyA, " "))
	withB := strings.TrimSpace(base + " " + strings.Join(onlyB, " "))

	best := ratio(withA, withB)
	if base != "" {
		best = max(best, ratio(base, withA), ratio(base, withB))
	}
	return best
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, t := range strings.Fields(s) {
		out[t] = true
	}
	return out
}

// Sequential reports whether b continues a's number series: both strings
// have the same non-digit skeleton and exactly one digit run differs, by one.
func Sequential(a, b string) bool {
	skelA, numsA := splitDigits(a)
	skelB, numsB := splitDigits(b)
	if skelA != skelB || len(numsA) != len(numsB) || len(numsA) == 0 {
		return false
	}
	diffs := 0
	for i := range numsA {
		if numsA[i] == numsB[i] {
			continue
		}
		diffs++
		x, errA := strconv.ParseUint(numsA[i], 10, 64)
		y, errB := strconv.ParseUint(numsB[i], 10, 64)
		if errA != nil || errB != nil {
			return false
		}
		if x != y+1 && y != x+1 {
			return false
		}
	}
	return diffs == 1
}

// splitDigits replaces every digit run with '#' and returns the runs.
func splitDigits(s string) (string, []string) {
	var skel strings.Builder
	var runs []string
	start := -1
	for i, r := range s {
		if unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			runs = append(runs, s[start:i])
			skel.WriteByte('#')
			start = -1
		}
		skel.WriteRune(r)
	}
	if start >= 0 {
		runs = append(runs, s[start:])
		skel.WriteByte('#')
	}
	return skel.String(), runs
}
