package gate

import "github.com/ppiankov/policyrag/internal/model"

// DefaultThreshold is used when there is too little labelled data to calibrate
const DefaultThreshold = 0.30

const minCalibrationRecords = 5

// Calibration reports the chosen threshold and its abstention metrics
type Calibration struct {
	Threshold float64 `json:"threshold"`
	F1        float64 `json:"f1"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	Records   int     `json:"records"`
}

// Calibrate picks the threshold in {0.05, 0.10, ..., 0.95} that maximizes
// abstention F1 over dev records labelled answerable or unanswerable. An
// abstention on an unanswerable query is a true positive. Ties keep the lowest
// threshold. With fewer than five labelled records it returns DefaultThreshold.
func Calibrate(records []model.ResponseRecord) Calibration {
	var labelled []model.ResponseRecord
	for _, r := range records {
		if r.Category == "answerable" || r.Category == "unanswerable" {
			labelled = append(labelled, r)
		}
	}

	best := Calibration{Threshold: DefaultThreshold, Records: len(labelled)}
	if len(labelled) < minCalibrationRecords {
		return best
	}

	best.F1 = -1
	for step := 1; step <= 19; step++ {
		t := float64(step*5) / 100
		var tp, fp, fn int
		for _, r := range labelled {
			abstain := r.Confidence.MaxRerank < t
			unanswerable := r.Category == "unanswerable"
			switch {
			case abstain && unanswerable:
				tp++
			case abstain:
				fp++
			case unanswerable:
				fn++
			}
		}
		p, rec, f1 := prf(tp, fp, fn)
		if f1 > best.F1 {
			best = Calibration{Threshold: t, F1: f1, Precision: p, Recall: rec, Records: len(labelled)}
		}
	}
	return best
}

func prf(tp, fp, fn int) (precision, recall, f1 float64) {
	if tp+fp > 0 {
		precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		recall = float64(tp) / float64(tp+fn)
	}
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return precision, recall, f1
}
