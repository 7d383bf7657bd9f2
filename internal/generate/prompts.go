package generate

import (
	"fmt"
	"strings"

	"github.com/ppiankov/policyrag/internal/model"
)

const answerSystem = `You are an audit-ready policy question-answering assistant with strict citation requirements.
You MUST follow ALL of these rules:

1. Answer the user's question using ONLY the evidence paragraphs supplied below.
2. If the evidence does not contain enough information to answer, respond with
   exactly the string INSUFFICIENT_EVIDENCE as your answer.
3. EVERY sentence in your answer MUST end with at least one citation in this format:
   [CITATION: <paragraph_id>]
   For example: "Passwords must be at least 12 characters. [CITATION: it-security::p0004]"
4. Return your response as valid JSON matching this schema:
   {"answer": "<string>", "citations": ["<paragraph_id>", ...], "notes": "<optional string>"}
5. The "citations" list must contain ALL paragraph_ids used in your inline citations.
6. If your answer is INSUFFICIENT_EVIDENCE, "citations" must be an empty list [].
7. Do NOT invent information. Do NOT use prior knowledge.
8. Be concise but complete. Each claim must be directly traceable to evidence.`

const answerUser = `Evidence paragraphs (ranked by relevance):
%s

Question: %s

Respond with valid JSON only. Remember: EVERY sentence needs an inline [CITATION: paragraph_id].`

const repairSystem = `Your previous response was not valid JSON.
Return ONLY valid JSON matching this schema, nothing else:
{"answer": "<string>", "citations": ["<paragraph_id>", ...], "notes": "<optional string>"}`

// EvidenceBlock formats ranked evidence the way the answer prompt expects it
func EvidenceBlock(evidence []model.EvidenceItem) string {
	parts := make([]string, 0, len(evidence))
	for i, e := range evidence {
		page := "?"
		if e.Page > 0 {
			page = fmt.Sprint(e.Page)
		}
		doc := e.DocID
		if doc == "" {
			doc = "?"
		}
		parts = append(parts, fmt.Sprintf("--- Evidence %d ---\nparagraph_id: %s\nsource: %s (page %s)\ntext: %s\n",
			i+1, e.ParagraphID, doc, page, e.Text))
	}
	return strings.Join(parts, "\n")
}

func userPrompt(question string, evidence []model.EvidenceItem) string {
	return fmt.Sprintf(answerUser, EvidenceBlock(evidence), question)
}
