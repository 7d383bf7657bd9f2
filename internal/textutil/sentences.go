package textutil

import (
	"strings"
	"unicode"
)

// SplitSentences splits text after '.', '!' or '?' when followed by whitespace.
// Terminal punctuation stays with its sentence; empty fragments are dropped.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var out []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 >= len(runes) || !unicode.IsSpace(runes[i+1]) {
			continue
		}
		out = appendNonEmpty(out, string(runes[start:i+1]))
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		start = j
		i = j - 1
	}
	if start < len(runes) {
		out = appendNonEmpty(out, string(runes[start:]))
	}
	return out
}

// CollapseSpace replaces runs of whitespace with a single space and trims
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func appendNonEmpty(out []string, s string) []string {
	if s = strings.TrimSpace(s); s != "" {
		out = append(out, s)
	}
	return out
}
