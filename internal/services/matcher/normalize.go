package matcher

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

const maskRune = '*'

// fold brings a string to a comparable form: NFKC, narrow width, case folded.
func fold(s string) string {
	s = norm.NFKC.String(s)
	s = width.Fold.String(s)
	return cases.Fold().String(s)
}

// normalizeName folds s and drops everything except letters, digits and the mask rune.
func normalizeName(s string) string {
	var b strings.Builder
	for _, r := range fold(s) {
		if r == maskRune || unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func tokens(s string) map[string]struct{} {
	fields := strings.FieldsFunc(fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}

// nameScore returns 1 for equal names, maskedNameScore when one side is a masked form
// of the other ("김*수" vs "김민수") and 0 otherwise.
func nameScore(a, b string) float64 {
	na, nb := normalizeName(a), normalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb && !strings.ContainsRune(na, maskRune) {
		return 1
	}
	if maskedEqual([]rune(na), []rune(nb)) {
		return maskedNameScore
	}
	return 0
}

func maskedEqual(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	masked, revealed := false, 0
	for i := range a {
		if a[i] == maskRune || b[i] == maskRune {
			masked = true
			continue
		}
		if a[i] != b[i] {
			return false
		}
		revealed++
	}
	return masked && revealed > 0
}

// jaccard is |A∩B| / |A∪B| over normalized tokens.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
