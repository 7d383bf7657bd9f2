package contradict

import (
	"context"
	"fmt"
	"time"

	"github.com/ppiankov/policyrag/internal/cache"
	"github.com/ppiankov/policyrag/internal/llm"
	"github.com/ppiankov/policyrag/internal/model"
)

const contradictionSystem = `You are a contradiction detection assistant.
You will receive TWO evidence paragraphs from a policy corpus.
Determine if they CONTRADICT each other.

Rules:
1. A contradiction exists only if the two paragraphs make INCOMPATIBLE claims.
2. Mere differences in scope or topic are NOT contradictions.
3. Return ONLY valid JSON, no other text.

Output format:
{"contradiction": true, "rationale": "explanation of the conflict"}`

// CacheStage names the contradiction-judge entries in the judge cache
const CacheStage = "contradiction"

// PairVerdict is the Tier-2 judge output
type PairVerdict struct {
	Contradiction bool   `json:"contradiction"`
	Rationale     string `json:"rationale"`
}

// LLMJudge asks a model whether two passages conflict, behind the judge cache
type LLMJudge struct {
	provider llm.Provider
	loader   *cache.Loader
	timeout  time.Duration
}

// NewLLMJudge creates a Tier-2 contradiction judge
func NewLLMJudge(provider llm.Provider, loader *cache.Loader, timeout time.Duration) *LLMJudge {
	return &LLMJudge{provider: provider, loader: loader, timeout: timeout}
}

// JudgePair implements PairJudge. The cache key covers both texts, so an
// edited paragraph is judged again.
func (j *LLMJudge) JudgePair(ctx context.Context, a, b model.EvidenceItem) (bool, string, error) {
	if j.provider == nil {
		return false, "", llm.ErrNotConfigured
	}
	inputs := []string{a.ParagraphID, a.Text, b.ParagraphID, b.Text}
	v, _, err := cache.Load(ctx, j.loader, CacheStage, inputs, func(ctx context.Context) (PairVerdict, error) {
		return j.judge(ctx, a, b)
	})
	if err != nil {
		return false, "", err
	}
	return v.Contradiction, v.Rationale, nil
}

func (j *LLMJudge) judge(ctx context.Context, a, b model.EvidenceItem) (PairVerdict, error) {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	user := fmt.Sprintf("PARAGRAPH A (ID: %s):\n%s\n\nPARAGRAPH B (ID: %s):\n%s\n\nReturn JSON only:",
		a.ParagraphID, a.Text, b.ParagraphID, b.Text)
	resp, err := j.provider.Complete(ctx, llm.CompletionRequest{System: contradictionSystem, User: user})
	if err != nil {
		return PairVerdict{}, err
	}
	obj, ok := llm.ExtractJSON(resp.Text)
	if !ok || !obj.Get("contradiction").Exists() {
		return PairVerdict{}, fmt.Errorf("contradiction judge returned no verdict: %.100s", resp.Text)
	}
	return PairVerdict{
		Contradiction: obj.Get("contradiction").Bool(),
		Rationale:     obj.Get("rationale").String(),
	}, nil
}
