// Package generate drafts a cited answer from ranked evidence.
package generate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/policyrag/internal/llm"
	"github.com/ppiankov/policyrag/internal/model"
	"github.com/ppiankov/policyrag/internal/verify"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Generator names recorded on the response
const (
	GeneratorLLM        = "llm"
	GeneratorExtractive = "extractive"
)

// maxRawAnswer bounds the raw reply kept when the model never returns JSON
const maxRawAnswer = 500

// Draft is a generated answer before verification
type Draft struct {
	Answer           string
	Citations        []string // validated against the evidence set, inline ids merged in
	Generator        string
	Model            string
	TokensUsed       int
	Repaired         bool     // the repair prompt was needed
	RemovedCitations []string // ids cited by the model that are not in the evidence set
}

// Generator calls the answer model, or the extractive fallback when no model is configured
type Generator struct {
	provider        llm.Provider
	allowExtractive bool
	timeout         time.Duration
	logger          *zap.Logger
}

// New creates a generator. provider may be nil.
func New(provider llm.Provider, allowExtractive bool, timeout time.Duration, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{provider: provider, allowExtractive: allowExtractive, timeout: timeout, logger: logger}
}

// Generate drafts an answer for question from evidence. A Failed outcome means
// the query must be recorded as ERROR. A Degraded outcome carries the raw model
// text after JSON parsing failed twice.
func (g *Generator) Generate(ctx context.Context, question string, evidence []model.EvidenceItem) model.Outcome[Draft] {
	if g.provider == nil {
		if g.allowExtractive && len(evidence) > 0 {
			return model.Ok(Extractive(question, evidence[0]))
		}
		return model.Failed[Draft](llm.ErrNotConfigured.Error())
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		System: answerSystem,
		User:   userPrompt(question, evidence),
	})
	if err != nil {
		return model.Failed[Draft](fmt.Sprintf("%s generation: %v", g.provider.Name(), err))
	}

	draft := Draft{Generator: GeneratorLLM, Model: resp.Model, TokensUsed: resp.TokensUsed}
	obj, ok := parseAnswer(resp.Text)
	if !ok {
		g.logger.Warn("generation output is not valid JSON, attempting repair",
			zap.String("provider", g.provider.Name()))
		draft.Repaired = true
		if repaired, err := g.provider.Complete(ctx, llm.CompletionRequest{System: repairSystem, User: resp.Text}); err == nil {
			draft.TokensUsed += repaired.TokensUsed
			obj, ok = parseAnswer(repaired.Text)
		} else {
			g.logger.Warn("repair call failed", zap.Error(err))
		}
	}

	valid := make(map[string]bool, len(evidence))
	for _, e := range evidence {
		valid[e.ParagraphID] = true
	}

	if !ok {
		g.logger.Error("could not parse generation output after repair")
		draft.Answer = truncateRunes(strings.TrimSpace(resp.Text), maxRawAnswer)
		draft.Citations, draft.RemovedCitations = validateCitations(draft.Answer, nil, valid)
		return model.Degraded(draft, "generation output is not valid JSON")
	}

	draft.Answer = strings.TrimSpace(obj.Get("answer").String())
	if draft.Answer == "" {
		draft.Answer = model.AnswerInsufficientEvidence
	}
	draft.Citations, draft.RemovedCitations = validateCitations(draft.Answer, citationList(obj.Get("citations")), valid)
	if len(draft.RemovedCitations) > 0 {
		g.logger.Warn("removed citations outside the evidence set", zap.Strings("ids", draft.RemovedCitations))
	}
	return model.Ok(draft)
}

func parseAnswer(text string) (gjson.Result, bool) {
	obj, ok := llm.ExtractJSON(text)
	if !ok || obj.Get("answer").Type != gjson.String {
		return gjson.Result{}, false
	}
	return obj, true
}

// citationList accepts ["id", ...] as well as [{"paragraph_id": "id"}, ...]
func citationList(r gjson.Result) []string {
	var out []string
	r.ForEach(func(_, v gjson.Result) bool {
		switch {
		case v.Type == gjson.String:
			out = append(out, strings.TrimSpace(v.String()))
		case v.IsObject() && v.Get("paragraph_id").Exists():
			out = append(out, strings.TrimSpace(v.Get("paragraph_id").String()))
		}
		return true
	})
	return out
}

// validateCitations merges listed and inline ids in order and keeps those in
// the evidence set. An INSUFFICIENT_EVIDENCE answer never carries citations.
func validateCitations(answer string, listed []string, valid map[string]bool) (kept, removed []string) {
	kept = []string{}
	if answer == model.AnswerInsufficientEvidence {
		return kept, nil
	}
	seen := make(map[string]bool)
	for _, id := range append(listed, verify.ExtractCitations(answer)...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if valid[id] {
			kept = append(kept, id)
		} else {
			removed = append(removed, id)
		}
	}
	return kept, removed
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
