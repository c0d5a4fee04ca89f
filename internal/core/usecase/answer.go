package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/norwood-labs/marginalia/internal/core/domain"
	"github.com/norwood-labs/marginalia/internal/core/ports"
)

const cacheServiceName = "answer"

// AnswerUseCase answers one natural-language question over the tenant's
// corpus: retrieval, epistemic grading, the work/judge loop, caching, and a
// fire-and-forget usage record. The user-visible failure behavior is always
// a degraded-but-present answer; only input validation surfaces raw errors.
type AnswerUseCase struct {
	retrieval *RetrievalOrchestrator
	dualModel *DualModelOrchestrator
	cache     ports.Cache
	usage     ports.UsageLogPublisher
	tuning    Tuning
	logger    *slog.Logger
}

func NewAnswerUseCase(
	retrieval *RetrievalOrchestrator,
	dualModel *DualModelOrchestrator,
	cache ports.Cache,
	usage ports.UsageLogPublisher,
	tuning Tuning,
	logger *slog.Logger,
) *AnswerUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnswerUseCase{
		retrieval: retrieval,
		dualModel: dualModel,
		cache:     cache,
		usage:     usage,
		tuning:    tuning,
		logger:    logger,
	}
}

func (uc *AnswerUseCase) Answer(ctx context.Context, req ports.AnswerRequest) (*domain.Answer, error) {
	started := time.Now()

	query, err := uc.buildQuery(req)
	if err != nil {
		return nil, err
	}

	fingerprint := queryFingerprint(cacheServiceName, query, uc.tuning.ModelVersion)
	if cached, ok := uc.cacheGet(ctx, fingerprint); ok {
		cached.Metadata.CacheHit = true
		return cached, nil
	}

	// Retrieval pass.
	retrievalStart := time.Now()
	window, retrievalMeta, err := uc.retrieval.Retrieve(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	retrievalDur := time.Since(retrievalStart)

	// Epistemic grading and mode selection.
	contextStart := time.Now()
	concept := coreConcept(query.Normalized)
	chunks := classifyChunks(concept, window)
	exploratory := req.Conversation != nil && req.Conversation.Exploratory
	mode := decideAnswerMode(chunks, query.Intent, exploratory)
	selected := assembleContext(chunks, uc.tuning.ContextCharBudget)
	contextDur := time.Since(contextStart)

	confidence := 0.0
	if len(window) > 0 {
		confidence = window[0].FinalScore
	}
	inNetwork := coverageInNetwork(chunks)

	// Work/judge loop.
	generationStart := time.Now()
	outcome, err := uc.dualModel.Run(ctx, query, mode, selected, confidence, inNetwork)
	generationDur := time.Since(generationStart)

	answer := &domain.Answer{}
	if err != nil {
		// Generation exhausted its retries: degrade to keyword-only results
		// rather than surfacing a raw failure.
		uc.logger.Warn("generation_degraded", "tenant", query.TenantID, "error", err)
		answer.Text = degradedAnswerText(selected)
		answer.Metadata.Degraded = true
		answer.Metadata.DegradeReason = degradeReason(err)
		answer.Metadata.Verdict = domain.VerdictError
	} else {
		answer.Text = outcome.Text
		answer.Metadata.ModelsUsed = outcome.ModelsUsed
		answer.Metadata.FastTracked = outcome.FastTracked
		answer.Metadata.Attempts = outcome.Attempts
		answer.Metadata.Verdict = outcome.Evaluation.Verdict
		answer.Metadata.QualityScore = outcome.Evaluation.Score
		answer.Metadata.Degraded = outcome.Degraded
		if outcome.Degraded {
			answer.Metadata.DegradeReason = "judge unavailable, answer unverified"
		}
	}

	answer.Sources = sourcesFromChunks(selected)
	answer.Metadata.Mode = mode
	answer.Metadata.Retrieval = retrievalMeta
	evalDur := time.Duration(0)
	if outcome != nil {
		evalDur = outcome.EvalDuration
	}
	answer.Metadata.Latency = domain.StageLatency{
		Retrieval:  retrievalDur,
		Context:    contextDur,
		Generation: generationDur - evalDur,
		Evaluation: evalDur,
		Total:      time.Since(started),
	}

	if err == nil && !answer.Metadata.Degraded {
		uc.cacheSet(ctx, fingerprint, answer)
	}
	uc.publishUsage(query, fingerprint, answer, started)
	return answer, nil
}

func (uc *AnswerUseCase) buildQuery(req ports.AnswerRequest) (domain.Query, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return domain.Query{}, domain.WrapError(domain.ErrInvalidInput, "build query", fmt.Errorf("question is required"))
	}
	if strings.TrimSpace(req.TenantID) == "" {
		return domain.Query{}, domain.WrapError(domain.ErrInvalidInput, "build query", fmt.Errorf("tenant id is required"))
	}
	if req.Limit < 0 || req.Offset < 0 {
		return domain.Query{}, domain.WrapError(domain.ErrInvalidInput, "build query", fmt.Errorf("limit and offset must be non-negative"))
	}

	limit := req.Limit
	if limit == 0 {
		limit = uc.tuning.DefaultLimit
	}
	if limit > uc.tuning.MaxLimit {
		limit = uc.tuning.MaxLimit
	}

	normalized := normalizeText(question)
	return domain.Query{
		Raw:        question,
		Normalized: normalized,
		TenantID:   req.TenantID,
		Scope:      req.Scope,
		Intent:     classifyIntent(normalized, req.IntentHint, req.Conversation),
		Limit:      limit,
		Offset:     req.Offset,
	}, nil
}

// queryFingerprint hashes every semantic input of a query. Formatting-only
// differences normalize away; changing any semantic input changes the key.
func queryFingerprint(service string, query domain.Query, modelVersion string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x1f%s\x1f%s\x1f%s\x1f%d\x1f%d\x1f%s",
		service, query.Normalized, query.TenantID, query.Scope, query.Limit, query.Offset, modelVersion)
	return service + ":" + hex.EncodeToString(h.Sum(nil))
}

func (uc *AnswerUseCase) cacheGet(ctx context.Context, key string) (*domain.Answer, bool) {
	if uc.cache == nil {
		return nil, false
	}
	raw, ok := uc.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var answer domain.Answer
	if err := json.Unmarshal(raw, &answer); err != nil {
		uc.logger.Warn("cache_entry_corrupt", "key", key, "error", err)
		uc.cache.Delete(ctx, key)
		return nil, false
	}
	return &answer, true
}

func (uc *AnswerUseCase) cacheSet(ctx context.Context, key string, answer *domain.Answer) {
	if uc.cache == nil {
		return
	}
	raw, err := json.Marshal(answer)
	if err != nil {
		uc.logger.Warn("cache_marshal_failed", "key", key, "error", err)
		return
	}
	uc.cache.Set(ctx, key, raw, uc.tuning.AnswerCacheTTL)
}

// publishUsage appends the quality log fire-and-forget; it must never block
// the response path.
func (uc *AnswerUseCase) publishUsage(query domain.Query, fingerprint string, answer *domain.Answer, started time.Time) {
	if uc.usage == nil {
		return
	}
	record := domain.UsageRecord{
		Fingerprint:  fingerprint,
		TenantID:     query.TenantID,
		Question:     query.Raw,
		Mode:         answer.Metadata.Mode,
		Verdict:      answer.Metadata.Verdict,
		QualityScore: answer.Metadata.QualityScore,
		CacheHit:     answer.Metadata.CacheHit,
		Latency:      time.Since(started),
		CreatedAt:    time.Now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := uc.usage.PublishUsage(ctx, record); err != nil {
			uc.logger.Warn("usage_publish_failed", "fingerprint", fingerprint, "error", err)
		}
	}()
}

func degradedAnswerText(chunks []domain.Chunk) string {
	if len(chunks) == 0 {
		return "I could not generate an answer right now and found no matching notes. Please try again shortly."
	}
	var b strings.Builder
	b.WriteString("I could not generate an answer right now. The closest passages from your notes:\n\n")
	for idx, chunk := range chunks {
		if idx == 3 {
			break
		}
		b.WriteString(fmt.Sprintf("%d. %s — %s\n", idx+1, chunk.Title, chunk.Snippet))
	}
	return b.String()
}

func degradeReason(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrProviderTimeout):
		return "generation provider timeout"
	case domain.IsKind(err, domain.ErrProviderUnavailable), domain.IsKind(err, domain.ErrTemporary):
		return "generation provider unavailable"
	default:
		return "generation failed"
	}
}

func sourcesFromChunks(chunks []domain.Chunk) []domain.Source {
	out := make([]domain.Source, 0, len(chunks))
	for _, chunk := range chunks {
		out = append(out, domain.Source{
			SourceID:   chunk.SourceID,
			Title:      chunk.Title,
			Snippet:    chunk.Snippet,
			SourceType: chunk.SourceType,
			MatchType:  chunk.MatchType,
			Level:      chunk.Level,
			Score:      chunk.FinalScore,
		})
	}
	return out
}
