package verify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/policyrag/internal/cache"
	"github.com/ppiankov/policyrag/internal/llm"
	"github.com/ppiankov/policyrag/internal/model"
	"github.com/ppiankov/policyrag/internal/textutil"
	"go.uber.org/zap"
)

const claimVerifySystem = `You are a strict fact-checking assistant.
You will receive a CLAIM and one or more EVIDENCE paragraphs.
Your task: determine if the evidence EXPLICITLY supports the claim.

Rules:
1. "supported=true" ONLY if the paragraph text explicitly supports the claim.
2. You MUST provide a "quote" that is an EXACT substring from the evidence text that proves support.
3. If no evidence supports the claim, return supported=false.
4. Return ONLY valid JSON, no other text.

Output format:
{"supported": true, "rationale": "short explanation", "quote": "exact substring from evidence"}`

// CacheStage names the claim-judge entries in the judge cache
const CacheStage = "claim_verify"

// ClaimVerdict is the Tier-2 judge output
type ClaimVerdict struct {
	Supported bool   `json:"supported"`
	Rationale string `json:"rationale"`
	Quote     string `json:"quote"`
}

// LLMVerifier is the Tier-2 verifier. Each claim with resolvable citations is
// judged by an LLM behind the content-addressed cache; a judge error falls back
// to the Tier-1 verdict for that claim. The numeric check still vetoes a
// "supported" verdict.
type LLMVerifier struct {
	provider llm.Provider
	loader   *cache.Loader
	fallback *HeuristicVerifier
	timeout  time.Duration
	logger   *zap.Logger
}

// NewLLMVerifier creates a Tier-2 verifier
func NewLLMVerifier(provider llm.Provider, loader *cache.Loader, fallback *HeuristicVerifier, timeout time.Duration, logger *zap.Logger) *LLMVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMVerifier{provider: provider, loader: loader, fallback: fallback, timeout: timeout, logger: logger}
}

// Name returns the verifier name
func (v *LLMVerifier) Name() string { return "llm" }

// Verify judges each claim in order
func (v *LLMVerifier) Verify(ctx context.Context, claims []model.Claim, evidenceByID map[string]string) model.VerificationResult {
	out := make([]model.Claim, len(claims))
	for i, c := range claims {
		out[i] = v.verifyClaim(ctx, c, evidenceByID)
	}
	return Summarize(out)
}

func (v *LLMVerifier) verifyClaim(ctx context.Context, c model.Claim, evidenceByID map[string]string) model.Claim {
	tier1 := v.fallback.VerifyClaim(c, evidenceByID)
	cited, reason := citedText(c, evidenceByID)
	if reason != "" || v.provider == nil {
		return tier1
	}

	texts := make([]string, len(c.CitedParagraphIDs))
	for i, id := range c.CitedParagraphIDs {
		texts[i] = evidenceByID[id]
	}

	verdict, _, err := cache.Load(ctx, v.loader, CacheStage, append([]string{c.Text}, texts...), func(ctx context.Context) (ClaimVerdict, error) {
		return v.judge(ctx, c.Text, texts)
	})
	if err != nil {
		v.logger.Warn("claim judge failed, using heuristic verdict",
			zap.String("claim_id", c.ClaimID), zap.Error(err))
		return tier1
	}

	c.Tier = 2
	c.SupportScore = tier1.SupportScore
	c.Supported = verdict.Supported
	c.Rationale = verdict.Rationale
	if c.Supported && verdict.Quote != "" && !strings.Contains(textutil.CollapseSpace(cited), textutil.CollapseSpace(verdict.Quote)) {
		c.Supported = false
		c.Rationale = "judge quote not found in cited text"
	}
	if missing := missingNumbers(c.Text, cited); c.Supported && len(missing) > 0 {
		c.Supported = false
		c.Rationale = "number not in cited text: " + strings.Join(missing, ", ")
	}
	return c
}

func (v *LLMVerifier) judge(ctx context.Context, claim string, texts []string) (ClaimVerdict, error) {
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	blocks := make([]string, len(texts))
	for i, t := range texts {
		blocks[i] = fmt.Sprintf("Paragraph %d:\n%s", i+1, t)
	}
	user := fmt.Sprintf("CLAIM: %s\n\nEVIDENCE:\n%s\n\nReturn JSON only:", claim, strings.Join(blocks, "\n---\n"))

	resp, err := v.provider.Complete(ctx, llm.CompletionRequest{System: claimVerifySystem, User: user})
	if err != nil {
		return ClaimVerdict{}, err
	}
	obj, ok := llm.ExtractJSON(resp.Text)
	if !ok || !obj.Get("supported").Exists() {
		return ClaimVerdict{}, fmt.Errorf("claim judge returned no verdict: %.100s", resp.Text)
	}
	return ClaimVerdict{
		Supported: obj.Get("supported").Bool(),
		Rationale: obj.Get("rationale").String(),
		Quote:     obj.Get("quote").String(),
	}, nil
}
