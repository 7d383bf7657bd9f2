package verify

import (
	"strings"

	"github.com/ppiankov/policyrag/internal/model"
)

// PolicyResult is the answer after the support-rate policy
type PolicyResult struct {
	Answer    string
	Citations []string
	Notes     []model.Note
	Abstained bool
	Pruned    bool
}

// ApplySupportPolicy enforces the minimum support rate. Below it, or when no
// claim survives, the response becomes an abstention. At or above it, unsupported claims are removed: the
// answer is rebuilt from the supported claims with their inline tags and the
// citations become the ordered union of those claims' citations. With no
// unsupported claims, or no claims at all, the answer and citations pass
// through unchanged.
func ApplySupportPolicy(answer string, citations []string, res model.VerificationResult, minRate float64) PolicyResult {
	out := PolicyResult{Answer: answer, Citations: citations}
	if res.SupportRate == nil {
		return out
	}

	// compare the exact ratio, not a rate that may have been rounded for display
	rate := *res.SupportRate
	if total := res.Total(); total > 0 {
		rate = float64(res.SupportedClaims) / float64(total)
	}
	if rate < minRate || res.SupportedClaims == 0 {
		return PolicyResult{
			Answer:    model.AnswerInsufficientEvidence,
			Citations: []string{},
			Notes:     []model.Note{model.NoteAbstainedLowSupportRate},
			Abstained: true,
		}
	}

	if res.UnsupportedClaims == 0 {
		return out
	}

	var parts []string
	kept := []string{}
	seen := make(map[string]bool)
	for _, c := range res.Claims {
		if !c.Supported {
			continue
		}
		parts = append(parts, RenderClaim(c))
		for _, id := range c.CitedParagraphIDs {
			if !seen[id] {
				seen[id] = true
				kept = append(kept, id)
			}
		}
	}

	return PolicyResult{
		Answer:    strings.Join(parts, " "),
		Citations: kept,
		Notes:     []model.Note{model.NoteUnsupportedClaimsRemoved},
		Pruned:    true,
	}
}
