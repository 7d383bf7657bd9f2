// Package verify checks every claim of a draft answer against the passages it cites.
package verify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ppiankov/policyrag/internal/model"
	"github.com/ppiankov/policyrag/internal/textutil"
)

var (
	citationRe    = regexp.MustCompile(`\[CITATION:\s*([^\]]+)\]`)
	placeholderRe = regexp.MustCompile(`\x00CITE(\d+)\x00`)
	trailingTags  = regexp.MustCompile(`([.!?])((?:\s*\x00CITE\d+\x00)+)`)
	numericOnlyRe = regexp.MustCompile(`^\s*\d+\s*[.)]?\s*$`)
	spaceBeforeRe = regexp.MustCompile(`\s+([.,;:!?])`)
)

// CitationTag renders the inline tag for a paragraph id
func CitationTag(id string) string {
	return "[CITATION: " + id + "]"
}

// ExtractCitations returns the distinct inline citation ids in order of appearance
func ExtractCitations(answer string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range citationRe.FindAllStringSubmatch(answer, -1) {
		id := strings.TrimSpace(m[1])
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// SplitClaims splits an answer into sentence-level claims with their inline
// citations. Citation tags are swapped for placeholders before sentence
// splitting so ids containing dots do not break sentences. Tags written after
// the terminal punctuation ("... characters. [CITATION: x]") and fragments made
// only of placeholders belong to the sentence before them. NUL bytes in the
// answer are dropped so model text can never forge a placeholder.
func SplitClaims(answer string) []model.Claim {
	answer = strings.TrimSpace(strings.ReplaceAll(answer, "\x00", ""))
	if answer == "" || answer == model.AnswerInsufficientEvidence {
		return nil
	}

	var ids []string
	text := citationRe.ReplaceAllStringFunc(answer, func(tag string) string {
		m := citationRe.FindStringSubmatch(tag)
		ids = append(ids, strings.TrimSpace(m[1]))
		return fmt.Sprintf("\x00CITE%d\x00", len(ids)-1)
	})
	text = trailingTags.ReplaceAllString(text, "${2}${1}")

	var merged []string
	for _, sent := range textutil.SplitSentences(text) {
		if strings.TrimSpace(placeholderRe.ReplaceAllString(sent, "")) == "" && len(merged) > 0 {
			merged[len(merged)-1] += " " + sent
			continue
		}
		merged = append(merged, sent)
	}

	var claims []model.Claim
	for _, sent := range merged {
		var cited []string
		seen := make(map[string]bool)
		for _, m := range placeholderRe.FindAllStringSubmatch(sent, -1) {
			idx, err := strconv.Atoi(m[1])
			if err != nil || idx >= len(ids) {
				continue
			}
			if id := ids[idx]; id != "" && !seen[id] {
				seen[id] = true
				cited = append(cited, id)
			}
		}

		clean := placeholderRe.ReplaceAllString(sent, " ")
		clean = spaceBeforeRe.ReplaceAllString(textutil.CollapseSpace(clean), "$1")
		if len(clean) < 3 || numericOnlyRe.MatchString(clean) {
			continue
		}

		claims = append(claims, model.Claim{
			ClaimID:           fmt.Sprintf("c%04d", len(claims)),
			Text:              clean,
			CitedParagraphIDs: cited,
		})
	}
	return claims
}

// RenderClaim renders a claim back into answer text with its citation tags
func RenderClaim(c model.Claim) string {
	var b strings.Builder
	b.WriteString(c.Text)
	for _, id := range c.CitedParagraphIDs {
		b.WriteString(" ")
		b.WriteString(CitationTag(id))
	}
	return b.String()
}
