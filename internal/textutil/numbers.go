package textutil

import (
	"regexp"
	"strings"
)

// Number is a numeric mention with its canonical value and unit
type Number struct {
	Raw   string // Text as matched, e.g. "30 business days"
	Value string // Canonical value: thousands separators removed, e.g. "1000", "2.5"
	Unit  string // "%", a duration unit ("day", "business day", ...), or "" when bare
	Start int    // Byte offset of the match in the source text
	End   int
}

// numberRe matches integers (optionally with thousands separators), decimals,
// percentages and duration-suffixed quantities ("30 days", "12-month").
var numberRe = regexp.MustCompile(`(?i)\b(\d{1,3}(?:,\d{3})+|\d+)(\.\d+)?\b(?:\s*(%|percent\b|per cent\b))?(?:\s*-?\s*(business days?|working days?|calendar days?|days?|weeks?|months?|years?|hours?|hrs?|minutes?|mins?|seconds?)\b)?`)

// ExtractNumbers returns every numeric mention in order of appearance
func ExtractNumbers(text string) []Number {
	matches := numberRe.FindAllStringSubmatchIndex(text, -1)
	out := make([]Number, 0, len(matches))
	for _, m := range matches {
		n := Number{
			Raw:   strings.TrimSpace(text[m[0]:m[1]]),
			Value: strings.ReplaceAll(text[m[2]:m[3]], ",", ""),
			Start: m[0],
			End:   m[1],
		}
		if m[4] >= 0 {
			n.Value += text[m[4]:m[5]]
		}
		switch {
		case m[6] >= 0:
			n.Unit = "%"
		case m[8] >= 0:
			n.Unit = canonicalUnit(text[m[8]:m[9]])
		}
		out = append(out, n)
	}
	return out
}

// NumberValues returns the set of canonical values mentioned in text
func NumberValues(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, n := range ExtractNumbers(text) {
		out[n.Value] = struct{}{}
	}
	return out
}

// HasNumber reports whether text mentions any number
func HasNumber(text string) bool {
	return numberRe.MatchString(text)
}

func canonicalUnit(u string) string {
	u = strings.ToLower(strings.Join(strings.Fields(u), " "))
	switch u {
	case "hr", "hrs":
		return "hour"
	case "min", "mins":
		return "minute"
	}
	return strings.TrimSuffix(u, "s")
}
