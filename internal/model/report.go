package model

import "time"

// Sentinel answers
const (
	AnswerInsufficientEvidence = "INSUFFICIENT_EVIDENCE"
	AnswerError                = "ERROR"
)

// Note is an explanatory flag attached to a response
type Note string

// The closed set of pipeline notes
const (
	NoteAbstainedLowConfidence     Note = "ABSTAINED_LOW_CONFIDENCE"
	NoteAbstainedLowSupportRate    Note = "ABSTAINED_LOW_SUPPORT_RATE"
	NoteUnsupportedClaimsRemoved   Note = "UNSUPPORTED_CLAIMS_REMOVED"
	NoteContradictionSurfaced      Note = "CONTRADICTION_SURFACED"
	NoteAbstainedContradictionHigh Note = "ABSTAINED_CONTRADICTION_HIGH"
	NoteRerankFallback             Note = "RERANK_FALLBACK"
	NoteRerankDisabled             Note = "RERANK_DISABLED"
	NoteVerifyDisabled             Note = "VERIFY_DISABLED"
	NoteContradictionsDisabled     Note = "CONTRADICTIONS_DISABLED"
)

// AllNotes lists every flag in the closed set
var AllNotes = []Note{
	NoteAbstainedLowConfidence,
	NoteAbstainedLowSupportRate,
	NoteUnsupportedClaimsRemoved,
	NoteContradictionSurfaced,
	NoteAbstainedContradictionHigh,
	NoteRerankFallback,
	NoteRerankDisabled,
	NoteVerifyDisabled,
	NoteContradictionsDisabled,
}

// ErrorNote formats the generation failure reason recorded alongside answer ERROR
func ErrorNote(reason string) Note {
	return Note("ERROR: " + reason)
}

// ConfidenceSnapshot is computed once per query by the gate
type ConfidenceSnapshot struct {
	MaxRerank        float64 `json:"max_rerank"`
	MeanTop3Rerank   float64 `json:"mean_top3_rerank"`
	AbstainThreshold float64 `json:"abstain_threshold"`
}

// Latency records per-stage wall time in milliseconds
type Latency struct {
	Retrieval      float64 `json:"retrieval"`
	Rerank         float64 `json:"rerank"`
	LLMGen         float64 `json:"llm_gen"`
	Verify         float64 `json:"verify"`
	Contradictions float64 `json:"contradictions"`
}

// Total sums all stages
func (l Latency) Total() float64 {
	return l.Retrieval + l.Rerank + l.LLMGen + l.Verify + l.Contradictions
}

// ResponseRecord is the per-query output, one JSON line in a run's results log
type ResponseRecord struct {
	QueryID           string                `json:"query_id"`
	RunID             string                `json:"run_id,omitempty"`
	Question          string                `json:"question,omitempty"`
	Category          string                `json:"category,omitempty"` // answerable, unanswerable, contradiction (eval label, passthrough)
	Answer            string                `json:"answer"`
	Citations         []string              `json:"citations"`
	Notes             []Note                `json:"notes"`
	Confidence        ConfidenceSnapshot    `json:"confidence"`
	Evidence          []EvidenceItem        `json:"evidence"`
	ClaimVerification *VerificationResult   `json:"claim_verification,omitempty"` // nil when abstained early or verification disabled
	Contradictions    []ContradictionRecord `json:"contradictions"`
	LatencyMs         Latency               `json:"latency_ms"`
	Generator         string                `json:"generator,omitempty"` // llm, extractive
	Provider          string                `json:"provider,omitempty"`
	Model             string                `json:"model,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
}

// HasNote reports whether the record carries the given flag
func (r *ResponseRecord) HasNote(n Note) bool {
	for _, x := range r.Notes {
		if x == n {
			return true
		}
	}
	return false
}

// IsAbstained reports whether the record is an abstention
func (r *ResponseRecord) IsAbstained() bool {
	return r.Answer == AnswerInsufficientEvidence
}

// IsError reports whether generation failed for this query
func (r *ResponseRecord) IsError() bool {
	return r.Answer == AnswerError
}

// Query is one line of a batch queries file
type Query struct {
	QueryID  string `json:"query_id"`
	Question string `json:"question"`
	Category string `json:"category,omitempty"`
}

// Signal is a run-level metric with transparent formula data
type Signal struct {
	Type        SignalType             `json:"type"`           // Signal classification
	Severity    SignalSeverity         `json:"severity"`       // info, warning, critical
	Description string                 `json:"description"`    // Human-readable description
	Data        map[string]interface{} `json:"data,omitempty"` // Formula and inputs
}

// SignalType classifies a run summary signal
type SignalType string

const (
	SignalAnswerRate         SignalType = "answer_rate"         // Answered / total
	SignalAbstentionRate     SignalType = "abstention_rate"     // Abstained / total
	SignalErrorRate          SignalType = "error_rate"          // ERROR / total
	SignalSupportRate        SignalType = "support_rate_mean"   // Mean support rate over answered records
	SignalContradictions     SignalType = "contradictions"      // Records with at least one contradiction
	SignalRerankFallback     SignalType = "rerank_fallback"     // Reranker degradations
	SignalLatency            SignalType = "latency"             // Mean per-stage latency
	SignalAbstentionAccuracy SignalType = "abstention_accuracy" // Abstentions on unanswerable queries
)

// SignalSeverity indicates the importance of the signal
type SignalSeverity string

const (
	SeverityInfo     SignalSeverity = "info"
	SeverityWarning  SignalSeverity = "warning"
	SeverityCritical SignalSeverity = "critical"
)

// RunSummary is written to summary.json at the end of a batch run
type RunSummary struct {
	RunID        string            `json:"run_id"`
	TotalQueries int               `json:"total_queries"`
	Answered     int               `json:"answered"`
	Abstained    int               `json:"abstained"`
	Errors       int               `json:"errors"`
	NoteCounts   map[Note]int      `json:"note_counts"`
	Signals      []Signal          `json:"signals"`
	Config       ReliabilityConfig `json:"config"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
}
