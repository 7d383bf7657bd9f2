package textutil

import "strings"

// suffixes are tried longest first; only one is stripped
var suffixes = []string{"ations", "ation", "ments", "ment", "ings", "ing", "als", "al", "ed", "es", "s"}

// Stem reduces a lowercased word to a crude stem so inflections of the same
// subject term compare equal ("approved", "approval" and "approve" all give "approv").
// It is intentionally simple and deterministic; it is not a linguistic stemmer.
func Stem(w string) string {
	if len(w) <= 3 {
		return w
	}
	for _, suf := range suffixes {
		if strings.HasSuffix(w, suf) && len(w)-len(suf) >= 3 {
			w = w[:len(w)-len(suf)]
			break
		}
	}
	if len(w) > 3 && strings.HasSuffix(w, "e") {
		w = w[:len(w)-1]
	}
	return w
}

// StemmedContentTokens returns stems of the content tokens of text, skipping
// pure numbers and any word in exclude
func StemmedContentTokens(text string, exclude map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range Words(text) {
		if _, stop := Stopwords[w]; stop {
			continue
		}
		if _, skip := exclude[w]; skip {
			continue
		}
		if isDigits(w) {
			continue
		}
		out[Stem(w)] = struct{}{}
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
