package model

// Paragraph is one addressable corpus unit produced by ingestion
type Paragraph struct {
	ParagraphID string `json:"paragraph_id"`          // Stable unique id (assigned upstream)
	DocID       string `json:"doc_id"`                // Source document id
	Page        int    `json:"page,omitempty"`        // 1-based page number, 0 if unknown
	Text        string `json:"text"`                  // Paragraph text
	SourceFile  string `json:"source_file,omitempty"` // Original file name
}

// EvidenceItem is a retrieved (and possibly reranked) candidate passage for a query.
// Items are treated as values: stages copy them instead of mutating shared slices.
type EvidenceItem struct {
	ParagraphID   string  `json:"paragraph_id"`
	DocID         string  `json:"doc_id,omitempty"`
	Page          int     `json:"page,omitempty"`
	Text          string  `json:"text,omitempty"`
	ScoreRetrieve float64 `json:"score_retrieve"` // Retrieval score (BM25 max-normalized or backend score)
	ScoreRerank   float64 `json:"score_rerank"`   // Rerank score in [0,1]; equals ScoreRetrieve when rerank is off or failed
}

// FromParagraph builds an evidence candidate carrying a retrieval score
func FromParagraph(p Paragraph, score float64) EvidenceItem {
	return EvidenceItem{
		ParagraphID:   p.ParagraphID,
		DocID:         p.DocID,
		Page:          p.Page,
		Text:          p.Text,
		ScoreRetrieve: score,
		ScoreRerank:   score,
	}
}

// CloneEvidence returns a copy of the slice so callers can reorder it safely
func CloneEvidence(items []EvidenceItem) []EvidenceItem {
	if items == nil {
		return nil
	}
	out := make([]EvidenceItem, len(items))
	copy(out, items)
	return out
}

// EvidenceByID indexes evidence text by paragraph id
func EvidenceByID(items []EvidenceItem) map[string]string {
	m := make(map[string]string, len(items))
	for _, e := range items {
		m[e.ParagraphID] = e.Text
	}
	return m
}

// ParagraphIDs returns the ids in list order
func ParagraphIDs(items []EvidenceItem) []string {
	ids := make([]string, 0, len(items))
	for _, e := range items {
		ids = append(ids, e.ParagraphID)
	}
	return ids
}
