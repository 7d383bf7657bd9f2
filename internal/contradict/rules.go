// Package contradict flags pairs of evidence passages that state conflicting policy.
package contradict

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/ppiankov/policyrag/internal/textutil"
)

type antonym struct {
	pos, neg     string
	posRe, negRe *regexp.Regexp
	negators     []*regexp.Regexp // every negative phrase that negates pos
	modal        bool
}

var antonyms = buildAntonyms([][2]string{
	{"allowed", "not allowed"}, {"allowed", "prohibited"}, {"allowed", "forbidden"},
	{"required", "not required"}, {"required", "optional"},
	{"must", "must not"}, {"shall", "shall not"},
	{"enabled", "disabled"}, {"always", "never"},
	{"mandatory", "voluntary"}, {"permitted", "banned"},
	{"can", "cannot"}, {"should", "should not"},
	{"approve", "reject"}, {"include", "exclude"},
})

var modalTerms = textutil.NewSet("must", "shall", "required", "mandatory")

// polarityWords are excluded from subject tokens so two passages are compared
// on what they talk about, not on the polarity terms themselves
var polarityWords = func() map[string]struct{} {
	out := make(map[string]struct{})
	for _, a := range antonyms {
		for _, w := range strings.Fields(a.pos + " " + a.neg) {
			out[w] = struct{}{}
		}
	}
	return out
}()

func buildAntonyms(pairs [][2]string) []antonym {
	out := make([]antonym, len(pairs))
	for i, p := range pairs {
		_, modal := modalTerms[p[0]]
		out[i] = antonym{
			pos:   p[0],
			neg:   p[1],
			posRe: phraseRe(p[0]),
			negRe: phraseRe(p[1]),
			modal: modal,
		}
	}
	for i := range out {
		for _, other := range out {
			if other.pos == out[i].pos {
				out[i].negators = append(out[i].negators, other.negRe)
			}
		}
	}
	return out
}

func phraseRe(phrase string) *regexp.Regexp {
	parts := strings.Fields(phrase)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(`\b` + strings.Join(parts, `\s+`) + `\b`)
}

// hasPositive reports a positive match that is not part of a negative phrase
// ("must" inside "must not" does not count, nor "required" inside "not required")
func (a antonym) hasPositive(text string) bool {
	var negSpans [][]int
	for _, re := range a.negators {
		negSpans = append(negSpans, re.FindAllStringIndex(text, -1)...)
	}
	for _, m := range a.posRe.FindAllStringIndex(text, -1) {
		inside := false
		for _, n := range negSpans {
			if m[0] >= n[0] && m[1] <= n[1] {
				inside = true
				break
			}
		}
		if !inside {
			return true
		}
	}
	return false
}

func (a antonym) hasNegative(text string) bool {
	return a.negRe.MatchString(text)
}

// subjectTokens are the stemmed content tokens minus polarity terms
func subjectTokens(text string) map[string]struct{} {
	return textutil.StemmedContentTokens(text, polarityWords)
}

type ruleHit struct {
	confidence float64
	rationale  string
}

// negationRule fires when one passage states a term and the other its negation
// and they share at least minShared subject tokens
func negationRule(textA, textB string, minShared int) (ruleHit, bool) {
	a := normalise(textA)
	b := normalise(textB)

	var matched []string
	modal := false
	for _, ant := range antonyms {
		if (ant.hasPositive(a) && ant.hasNegative(b)) || (ant.hasNegative(a) && ant.hasPositive(b)) {
			matched = append(matched, fmt.Sprintf("'%s' vs '%s'", ant.pos, ant.neg))
			modal = modal || ant.modal
		}
	}
	if len(matched) == 0 {
		return ruleHit{}, false
	}

	subjA, subjB := subjectTokens(textA), subjectTokens(textB)
	shared := textutil.Intersect(subjA, subjB)
	if len(shared) < minShared {
		return ruleHit{}, false
	}

	conf := 0.6
	if modal {
		conf += 0.1
	}
	if smaller := min(len(subjA), len(subjB)); smaller > 0 {
		conf += 0.2 * float64(len(shared)) / float64(smaller)
	}
	conf += 0.05 * float64(len(matched)-1)

	return ruleHit{
		confidence: clamp(conf),
		rationale: fmt.Sprintf("negation_pair: %s on shared subject [%s]",
			strings.Join(matched, ", "), strings.Join(shared, ", ")),
	}, true
}

var qualifierRe = regexp.MustCompile(`(minimum|maximum|at least|at most|no more than|no fewer than)\s+(?:of\s+)?$`)

var qualifierWords = textutil.NewSet("minimum", "maximum", "least", "fewer")

type mention struct {
	raw       string
	value     string
	unit      string
	qualifier string
	context   map[string]struct{}
}

func mentions(text string) []mention {
	lower := normalise(text)
	var out []mention
	for _, n := range textutil.ExtractNumbers(lower) {
		m := mention{raw: n.Raw, value: n.Value, unit: n.Unit}
		if m.unit == "" {
			m.unit = firstContentStem(lower[n.End:])
		}
		if q := qualifierRe.FindStringSubmatch(lower[:n.Start]); q != nil {
			m.qualifier = q[1]
		}
		m.context = precedingContext(lower[:n.Start], 3)
		out = append(out, m)
	}
	return out
}

func contentWords(text string) []string {
	var out []string
	for _, w := range textutil.Words(text) {
		if _, stop := textutil.Stopwords[w]; stop {
			continue
		}
		if _, q := qualifierWords[w]; q {
			continue
		}
		if w[0] >= '0' && w[0] <= '9' {
			continue
		}
		out = append(out, textutil.Stem(w))
	}
	return out
}

func firstContentStem(after string) string {
	if words := contentWords(after); len(words) > 0 {
		return words[0]
	}
	return ""
}

func precedingContext(before string, n int) map[string]struct{} {
	words := contentWords(before)
	if len(words) > n {
		words = words[len(words)-n:]
	}
	return textutil.NewSet(words...)
}

// numericRule fires when both passages quantify the same unit in a shared
// context with disjoint values ("20 days of leave" vs "30 days of leave")
func numericRule(textA, textB string) (ruleHit, bool) {
	ma, mb := mentions(textA), mentions(textB)
	valuesA, valuesB := valuesByUnit(ma), valuesByUnit(mb)

	var best ruleHit
	found := false
	for _, x := range ma {
		for _, y := range mb {
			if x.unit == "" || x.unit != y.unit || x.value == y.value {
				continue
			}
			if _, ok := valuesB[x.unit][x.value]; ok {
				continue
			}
			if _, ok := valuesA[y.unit][y.value]; ok {
				continue
			}
			shared := textutil.Intersect(x.context, y.context)
			if len(shared) == 0 {
				continue
			}

			conf := 0.55
			if x.qualifier != "" && x.qualifier == y.qualifier {
				conf += 0.2
			}
			conf += 0.15 * math.Min(1, float64(len(shared))/3)
			conf = clamp(conf)

			if !found || conf > best.confidence {
				best = ruleHit{
					confidence: conf,
					rationale: fmt.Sprintf("numeric_mismatch: '%s' vs '%s' on shared context [%s]",
						withQualifier(x), withQualifier(y), strings.Join(shared, ", ")),
				}
				found = true
			}
		}
	}
	return best, found
}

func withQualifier(m mention) string {
	if m.qualifier != "" {
		return m.qualifier + " " + m.raw
	}
	return m.raw
}

func valuesByUnit(ms []mention) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{})
	for _, m := range ms {
		if out[m.unit] == nil {
			out[m.unit] = make(map[string]struct{})
		}
		out[m.unit][m.value] = struct{}{}
	}
	return out
}

func normalise(text string) string {
	return strings.ToLower(textutil.CollapseSpace(text))
}

func clamp(x float64) float64 {
	x = math.Round(x*10000) / 10000
	return math.Max(0, math.Min(1, x))
}
