package model

// Claim is one sentence-like assertion from a draft answer, with its cited sources
type Claim struct {
	ClaimID           string   `json:"claim_id"`                    // c0000, c0001, ...
	Text              string   `json:"text"`                        // Claim text without citation tags
	CitedParagraphIDs []string `json:"cited_paragraph_ids"`         // Inline citations in order of appearance
	Supported         bool     `json:"supported"`                   // Verdict after lexical and numeric checks
	SupportScore      float64  `json:"support_score"`               // Jaccard overlap with the cited text
	Rationale         string   `json:"rationale,omitempty"`         // Human-readable reason for the verdict
	Tier              int      `json:"verification_tier,omitempty"` // 1 = heuristic, 2 = LLM judge
}

// VerificationResult summarizes per-claim verification for one answer
type VerificationResult struct {
	Claims            []Claim  `json:"claims"`
	SupportedClaims   int      `json:"supported_claims"`
	UnsupportedClaims int      `json:"unsupported_claims"`
	SupportRate       *float64 `json:"support_rate"` // nil when there are no claims
}

// Total returns the number of verified claims
func (v VerificationResult) Total() int {
	return v.SupportedClaims + v.UnsupportedClaims
}

// ContradictionRule names the heuristic that flagged a pair
type ContradictionRule string

const (
	RuleNegationPair    ContradictionRule = "negation_pair"
	RuleNumericMismatch ContradictionRule = "numeric_mismatch"
	RuleCombined        ContradictionRule = "negation_pair+numeric_mismatch"
	RuleLLMJudge        ContradictionRule = "llm_judge"
)

// ContradictionRecord is a detected conflict between two evidence passages.
// ParagraphIDs is normalized so that ParagraphIDs[0] < ParagraphIDs[1].
type ContradictionRecord struct {
	ParagraphIDs [2]string         `json:"paragraph_ids"`
	Rule         ContradictionRule `json:"rule"`
	Rationale    string            `json:"rationale"`
	Confidence   float64           `json:"confidence"` // Deterministic rule strength in [0,1]
}
