package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/norwood-labs/marginalia/internal/core/domain"
	"github.com/norwood-labs/marginalia/internal/core/ports"
)

// DualModelOrchestrator runs the work/judge loop: a generation pass, an
// independent evaluation pass, and a bounded regenerate loop. A fast-track
// gate skips evaluation when the retrieval pass already gives high
// confidence on a simple, in-network question.
type DualModelOrchestrator struct {
	generator ports.Generator
	tuning    Tuning
	logger    *slog.Logger
}

func NewDualModelOrchestrator(generator ports.Generator, tuning Tuning, logger *slog.Logger) *DualModelOrchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &DualModelOrchestrator{generator: generator, tuning: tuning, logger: logger}
}

// GenerationOutcome is the loop's final product: the answer text, the last
// evaluation, and which models ran.
type GenerationOutcome struct {
	Text         string
	Evaluation   domain.Evaluation
	ModelsUsed   []string
	Attempts     int
	FastTracked  bool
	Degraded     bool
	EvalDuration time.Duration
}

// Run executes GENERATE → EVALUATE → (PASS | REGENERATE | DECLINE) up to
// MaxAttempts. Judge failure degrades to the unverified answer; generation
// failure surfaces to the caller (already retried at the provider layer).
func (d *DualModelOrchestrator) Run(
	ctx context.Context,
	query domain.Query,
	mode domain.AnswerMode,
	chunks []domain.Chunk,
	confidence float64,
	inNetwork bool,
) (*GenerationOutcome, error) {
	outcome := &GenerationOutcome{}
	fastTrack := d.shouldFastTrack(query.Intent, confidence, inNetwork)

	var hints []string
	for attempt := 1; attempt <= d.tuning.MaxAttempts; attempt++ {
		outcome.Attempts = attempt

		text, model, err := d.generate(ctx, query, mode, chunks, hints)
		if err != nil {
			return nil, fmt.Errorf("generate attempt %d: %w", attempt, err)
		}
		outcome.Text = text
		outcome.ModelsUsed = appendModel(outcome.ModelsUsed, model)

		if fastTrack {
			outcome.FastTracked = true
			outcome.Evaluation = domain.Evaluation{
				Verdict: domain.VerdictSkippedGood,
				Score:   confidence,
				Attempt: attempt,
			}
			return outcome, nil
		}

		evalStart := time.Now()
		eval, judgeModel, err := d.evaluate(ctx, query, mode, text, chunks, attempt)
		outcome.EvalDuration += time.Since(evalStart)
		if err != nil {
			// The judge being down must not fail the whole request: return
			// the unverified answer.
			d.logger.Warn("judge_unavailable", "attempt", attempt, "error", err)
			outcome.Degraded = true
			outcome.Evaluation = domain.Evaluation{
				Verdict: domain.VerdictError,
				Attempt: attempt,
			}
			return outcome, nil
		}
		outcome.ModelsUsed = appendModel(outcome.ModelsUsed, judgeModel)
		outcome.Evaluation = eval

		switch eval.Verdict {
		case domain.VerdictPass:
			return outcome, nil
		case domain.VerdictDecline:
			// Terminate early only on catastrophic quality or exhausted
			// attempts; otherwise a decline is just another regenerate.
			if eval.Score < d.tuning.DeclineFloor || attempt == d.tuning.MaxAttempts {
				return outcome, nil
			}
			hints = eval.RetryHints
		case domain.VerdictRegenerate:
			if attempt == d.tuning.MaxAttempts {
				return outcome, nil
			}
			hints = eval.RetryHints
		default:
			return outcome, nil
		}
	}
	return outcome, nil
}

// shouldFastTrack skips the judge when confidence is high AND intent is
// simple AND coverage is in-network. Out-of-network coverage, complex or
// comparative intent, or low confidence force the full loop.
func (d *DualModelOrchestrator) shouldFastTrack(intent domain.QueryIntent, confidence float64, inNetwork bool) bool {
	if !inNetwork {
		return false
	}
	if isComplexIntent(intent) {
		return false
	}
	if confidence < d.tuning.FastTrackConfidence {
		return false
	}
	return intent == domain.IntentSimple || intent == domain.IntentDefinition
}

func (d *DualModelOrchestrator) generate(
	ctx context.Context,
	query domain.Query,
	mode domain.AnswerMode,
	chunks []domain.Chunk,
	hints []string,
) (string, string, error) {
	result, err := d.generator.Generate(ctx, ports.GenerationRequest{
		Prompt:      buildAnswerPrompt(query, mode, chunks, hints),
		Tier:        ports.TierFast,
		Temperature: d.tuning.GenerationTemp,
		MaxTokens:   d.tuning.GenerationMaxTokens,
		Timeout:     d.tuning.GenerationTimeout,
	})
	if err != nil {
		return "", "", err
	}
	return strings.TrimSpace(result.Text), result.ModelUsed, nil
}

func (d *DualModelOrchestrator) evaluate(
	ctx context.Context,
	query domain.Query,
	mode domain.AnswerMode,
	answer string,
	chunks []domain.Chunk,
	attempt int,
) (domain.Evaluation, string, error) {
	result, err := d.generator.Generate(ctx, ports.GenerationRequest{
		Prompt:      buildJudgePrompt(query, mode, answer, chunks),
		Tier:        ports.TierCapable,
		Temperature: d.tuning.EvaluationTemp,
		MaxTokens:   512,
		Timeout:     d.tuning.EvaluationTimeout,
		JSONFormat:  true,
	})
	if err != nil {
		return domain.Evaluation{}, "", err
	}

	var parsed struct {
		Verdict    string             `json:"verdict"`
		Score      float64            `json:"score"`
		Criteria   map[string]float64 `json:"criteria"`
		RetryHints []string           `json:"retry_hints"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(result.Text)), &parsed); err != nil {
		return domain.Evaluation{}, "", fmt.Errorf("parse judge json: %w", err)
	}

	eval := domain.Evaluation{
		Verdict:    normalizeVerdict(parsed.Verdict, parsed.Score, d.tuning.JudgePassScore),
		Score:      parsed.Score,
		Criteria:   parsed.Criteria,
		RetryHints: parsed.RetryHints,
		Attempt:    attempt,
	}
	return eval, result.ModelUsed, nil
}

func normalizeVerdict(raw string, score, passScore float64) domain.Verdict {
	switch domain.Verdict(strings.ToUpper(strings.TrimSpace(raw))) {
	case domain.VerdictPass:
		return domain.VerdictPass
	case domain.VerdictRegenerate:
		return domain.VerdictRegenerate
	case domain.VerdictDecline:
		return domain.VerdictDecline
	}
	// Judges occasionally return free-form verdicts; fall back to the score.
	if score >= passScore {
		return domain.VerdictPass
	}
	return domain.VerdictRegenerate
}

func appendModel(models []string, model string) []string {
	if model == "" {
		return models
	}
	for _, m := range models {
		if m == model {
			return models
		}
	}
	return append(models, model)
}
