// Package textutil holds the deterministic text primitives shared by the
// verifier, the contradiction detector and the lexical reranker.
package textutil

import (
	"regexp"
	"sort"
	"strings"
)

var wordRe = regexp.MustCompile(`\b\w+\b`)

// Stopwords are removed before any overlap computation
var Stopwords = toSet(
	"the", "a", "an", "is", "are", "was", "were", "be", "been",
	"being", "have", "has", "had", "do", "does", "did", "will",
	"would", "could", "should", "may", "might", "shall", "can",
	"to", "of", "in", "for", "on", "with", "at", "by", "from",
	"as", "into", "through", "during", "before", "after", "and",
	"but", "or", "nor", "not", "so", "yet", "both", "either",
	"neither", "each", "every", "all", "any", "few", "more",
	"most", "other", "some", "such", "no", "only", "own",
	"same", "than", "too", "very", "it", "its", "this", "that",
	"these", "those", "i", "me", "my", "we", "our", "you", "your",
	"he", "him", "his", "she", "her", "they", "them", "their",
)

// Words returns the lowercased word-boundary tokens of text in order
func Words(text string) []string {
	return wordRe.FindAllString(strings.ToLower(text), -1)
}

// ContentTokens returns the set of lowercased tokens with stopwords removed
func ContentTokens(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range Words(text) {
		if _, stop := Stopwords[w]; stop {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

// Jaccard returns |a ∩ b| / |a ∪ b|, or 0 when both sets are empty
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := Intersect(a, b)
	union := len(a) + len(b) - len(inter)
	return float64(len(inter)) / float64(union)
}

// Intersect returns the sorted tokens present in both sets
func Intersect(a, b map[string]struct{}) []string {
	if len(b) < len(a) {
		a, b = b, a
	}
	var out []string
	for t := range a {
		if _, ok := b[t]; ok {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// Union merges sets into a new set
func Union(sets ...map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for _, s := range sets {
		for t := range s {
			out[t] = struct{}{}
		}
	}
	return out
}

// Keys returns the sorted members of a set
func Keys(s map[string]struct{}) []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func toSet(words ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(words))
	for _, w := range words {
		s[w] = struct{}{}
	}
	return s
}

// NewSet builds a set from words
func NewSet(words ...string) map[string]struct{} {
	return toSet(words...)
}
