package generate

import (
	"regexp"
	"strings"

	"github.com/ppiankov/policyrag/internal/model"
	"github.com/ppiankov/policyrag/internal/textutil"
	"github.com/ppiankov/policyrag/internal/verify"
)

const maxExtractiveText = 2000

var keywordRe = regexp.MustCompile(`[a-z0-9]+`)

// question words carry no topic, on top of the shared stopwords
var questionWords = textutil.NewSet(
	"must", "having", "doing", "if", "then", "what", "which", "who", "whom",
	"how", "when", "where", "why", "about", "between", "above", "below",
)

// Extractive answers with the top paragraph's own sentences, each tagged with
// its paragraph id. It abstains when the paragraph looks unrelated to the question.
func Extractive(question string, top model.EvidenceItem) Draft {
	draft := Draft{Generator: GeneratorExtractive, Citations: []string{}}
	if !Relevant(question, top.Text) {
		draft.Answer = model.AnswerInsufficientEvidence
		return draft
	}

	tag := verify.CitationTag(top.ParagraphID)
	var sentences []string
	for _, s := range textutil.SplitSentences(truncateRunes(top.Text, maxExtractiveText)) {
		// the tag goes before the terminal punctuation so it stays with its sentence
		if last := s[len(s)-1]; last == '.' || last == '!' || last == '?' {
			sentences = append(sentences, s[:len(s)-1]+" "+tag+string(last))
		} else {
			sentences = append(sentences, s+" "+tag+".")
		}
	}
	if len(sentences) == 0 {
		draft.Answer = model.AnswerInsufficientEvidence
		return draft
	}

	draft.Answer = strings.Join(sentences, " ")
	if top.ParagraphID != "" {
		draft.Citations = []string{top.ParagraphID}
	}
	return draft
}

// Relevant reports whether text shares at least two keywords, or a quarter of
// the question's keywords, with the question. A question without keywords is
// always relevant.
func Relevant(question, text string) bool {
	q := keywords(question)
	if len(q) == 0 {
		return true
	}
	shared := textutil.Intersect(q, keywords(text))
	return len(shared) >= 2 || float64(len(shared))/float64(len(q)) >= 0.25
}

func keywords(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range keywordRe.FindAllString(strings.ToLower(text), -1) {
		if len(w) < 3 {
			continue
		}
		if _, stop := textutil.Stopwords[w]; stop {
			continue
		}
		if _, q := questionWords[w]; q {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}
