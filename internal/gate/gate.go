// Package gate decides whether evidence is strong enough to attempt an answer.
package gate

import "github.com/ppiankov/policyrag/internal/model"

// Decision is the gate verdict for one query
type Decision struct {
	Proceed  bool
	Snapshot model.ConfidenceSnapshot
}

// Decide inspects the score_rerank of the ranked evidence and abstains iff the
// top score is below threshold. Empty evidence yields a zero snapshot, so it
// abstains for any positive threshold. Decide is pure.
func Decide(evidence []model.EvidenceItem, threshold float64) Decision {
	snap := model.ConfidenceSnapshot{AbstainThreshold: threshold}
	if len(evidence) > 0 {
		snap.MaxRerank = evidence[0].ScoreRerank

		n := min(3, len(evidence))
		var sum float64
		for _, e := range evidence[:n] {
			sum += e.ScoreRerank
		}
		snap.MeanTop3Rerank = sum / float64(n)
	}

	return Decision{
		Proceed:  snap.MaxRerank >= threshold,
		Snapshot: snap,
	}
}
