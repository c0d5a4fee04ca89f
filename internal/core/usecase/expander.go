package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/norwood-labs/marginalia/internal/core/ports"
)

// QueryExpander produces paraphrase variations of a question for the
// retrieval fan-out.
type QueryExpander interface {
	Expand(ctx context.Context, question string, n int) ([]string, error)
}

// LLMQueryExpander asks the fast generation tier for paraphrases. Failures
// are the caller's to tolerate: expansion is best-effort by contract.
type LLMQueryExpander struct {
	generator ports.Generator
	timeout   time.Duration
}

func NewLLMQueryExpander(generator ports.Generator, timeout time.Duration) *LLMQueryExpander {
	return &LLMQueryExpander{generator: generator, timeout: timeout}
}

func (e *LLMQueryExpander) Expand(ctx context.Context, question string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	prompt := fmt.Sprintf(`Rephrase the question below in %d different ways that keep its exact meaning.
Return strict JSON: {"variants": ["...", "..."]}. No markdown, no extra keys.

Question:
%s`, n, question)

	result, err := e.generator.Generate(ctx, ports.GenerationRequest{
		Prompt:      prompt,
		Tier:        ports.TierFast,
		Temperature: 0.7,
		MaxTokens:   256,
		Timeout:     e.timeout,
		JSONFormat:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("expand query: %w", err)
	}

	var parsed struct {
		Variants []string `json:"variants"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(result.Text)), &parsed); err != nil {
		return nil, fmt.Errorf("parse expansion json: %w", err)
	}

	out := make([]string, 0, n)
	for _, v := range parsed.Variants {
		v = strings.TrimSpace(v)
		if v == "" || strings.EqualFold(v, question) {
			continue
		}
		out = append(out, v)
		if len(out) == n {
			break
		}
	}
	return out, nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
