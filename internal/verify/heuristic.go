package verify

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ppiankov/policyrag/internal/model"
	"github.com/ppiankov/policyrag/internal/textutil"
)

// Verifier scores every claim against the text of the paragraphs it cites
type Verifier interface {
	Name() string
	Verify(ctx context.Context, claims []model.Claim, evidenceByID map[string]string) model.VerificationResult
}

// HeuristicVerifier is the Tier-1 lexical and numeric checker
type HeuristicVerifier struct {
	overlapThreshold float64
}

// NewHeuristicVerifier creates a Tier-1 verifier. A claim is lexically supported
// when its Jaccard overlap with the cited text is strictly above threshold.
func NewHeuristicVerifier(overlapThreshold float64) *HeuristicVerifier {
	return &HeuristicVerifier{overlapThreshold: overlapThreshold}
}

// Name returns the verifier name
func (v *HeuristicVerifier) Name() string { return "heuristic" }

// Verify checks each claim independently
func (v *HeuristicVerifier) Verify(ctx context.Context, claims []model.Claim, evidenceByID map[string]string) model.VerificationResult {
	out := make([]model.Claim, len(claims))
	for i, c := range claims {
		out[i] = v.VerifyClaim(c, evidenceByID)
	}
	return Summarize(out)
}

// VerifyClaim returns a copy of c with its Tier-1 verdict filled in
func (v *HeuristicVerifier) VerifyClaim(c model.Claim, evidenceByID map[string]string) model.Claim {
	c.Tier = 1
	cited, reason := citedText(c, evidenceByID)
	if reason != "" {
		c.Supported = false
		c.SupportScore = 0
		c.Rationale = reason
		return c
	}

	c.SupportScore = round4(textutil.Jaccard(textutil.ContentTokens(c.Text), textutil.ContentTokens(cited)))
	c.Supported = c.SupportScore > v.overlapThreshold
	if c.Supported {
		c.Rationale = fmt.Sprintf("lexical overlap %.4f > %.2f", c.SupportScore, v.overlapThreshold)
	} else {
		c.Rationale = fmt.Sprintf("lexical overlap %.4f <= %.2f", c.SupportScore, v.overlapThreshold)
	}

	if missing := missingNumbers(c.Text, cited); len(missing) > 0 {
		c.Supported = false
		c.Rationale = "number not in cited text: " + strings.Join(missing, ", ")
	}
	return c
}

// citedText concatenates the cited paragraphs. A non-empty reason means the
// claim is unsupported by construction.
func citedText(c model.Claim, evidenceByID map[string]string) (string, string) {
	if len(c.CitedParagraphIDs) == 0 {
		return "", "no citations"
	}
	parts := make([]string, 0, len(c.CitedParagraphIDs))
	for _, id := range c.CitedParagraphIDs {
		text, ok := evidenceByID[id]
		if !ok {
			return "", "cites unknown paragraph " + id
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, " "), ""
}

// missingNumbers lists claim numbers absent from the cited text, sorted
func missingNumbers(claim, cited string) []string {
	have := textutil.NumberValues(cited)
	var missing []string
	for v := range textutil.NumberValues(claim) {
		if _, ok := have[v]; !ok {
			missing = append(missing, v)
		}
	}
	sort.Strings(missing)
	return missing
}

// Summarize counts verdicts. SupportRate is the exact supported/total ratio and
// stays nil when there are no claims.
func Summarize(claims []model.Claim) model.VerificationResult {
	res := model.VerificationResult{Claims: claims}
	if res.Claims == nil {
		res.Claims = []model.Claim{}
	}
	for _, c := range claims {
		if c.Supported {
			res.SupportedClaims++
		} else {
			res.UnsupportedClaims++
		}
	}
	if total := res.Total(); total > 0 {
		rate := float64(res.SupportedClaims) / float64(total)
		res.SupportRate = &rate
	}
	return res
}

func round4(x float64) float64 {
	return math.Round(x*10000) / 10000
}
