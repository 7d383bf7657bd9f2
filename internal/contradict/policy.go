package contradict

import "github.com/ppiankov/policyrag/internal/model"

// PolicyResult is the answer after the contradiction policy
type PolicyResult struct {
	Answer    string
	Citations []string
	Notes     []model.Note
	Abstained bool
}

// ApplyPolicy decides what detected contradictions do to the answer. Under
// surface the answer is unchanged and CONTRADICTION_SURFACED is noted. Under
// abstain_on_high a record above cutoff also turns the response into an
// abstention. CONTRADICTION_SURFACED is noted whenever records exist, but an
// answer that is already INSUFFICIENT_EVIDENCE or ERROR is never changed.
func ApplyPolicy(answer string, citations []string, records []model.ContradictionRecord, policy model.ContradictionPolicy, cutoff float64) PolicyResult {
	out := PolicyResult{Answer: answer, Citations: citations}
	if len(records) == 0 {
		return out
	}

	out.Notes = []model.Note{model.NoteContradictionSurfaced}
	if policy != model.PolicyAbstainOnHigh || answer == model.AnswerInsufficientEvidence || answer == model.AnswerError {
		return out
	}

	for _, r := range records {
		if r.Confidence > cutoff {
			return PolicyResult{
				Answer:    model.AnswerInsufficientEvidence,
				Citations: []string{},
				Notes:     []model.Note{model.NoteContradictionSurfaced, model.NoteAbstainedContradictionHigh},
				Abstained: true,
			}
		}
	}
	return out
}
