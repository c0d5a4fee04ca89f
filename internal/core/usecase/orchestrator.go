package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"

	"github.com/norwood-labs/marginalia/internal/core/domain"
	"github.com/norwood-labs/marginalia/internal/core/ports"
)

// RetrievalOrchestrator drives one query end-to-end through the strategy
// set: primary strategies and expansion variants run as concurrent tasks on
// a shared pool, joined under explicit deadlines; rescue paths fire only
// when the primary pass under-delivers. Every fired path is recorded in the
// returned metadata.
type RetrievalOrchestrator struct {
	store      ports.ContentStore
	strategies []Strategy
	typo       *TypoRescueStrategy
	lowConf    *LowConfidenceRescueStrategy
	expander   QueryExpander
	bridge     ports.GraphBridge
	pool       *ants.Pool
	tuning     Tuning
	logger     *slog.Logger
}

func NewRetrievalOrchestrator(
	store ports.ContentStore,
	strategies []Strategy,
	expander QueryExpander,
	bridge ports.GraphBridge,
	pool *ants.Pool,
	tuning Tuning,
	logger *slog.Logger,
) *RetrievalOrchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetrievalOrchestrator{
		store:      store,
		strategies: strategies,
		typo:       NewTypoRescueStrategy(tuning),
		lowConf:    NewLowConfidenceRescueStrategy(tuning),
		expander:   expander,
		bridge:     bridge,
		pool:       pool,
		tuning:     tuning,
		logger:     logger,
	}
}

// collector accumulates candidates from concurrent strategy tasks.
type collector struct {
	mu         sync.Mutex
	candidates []domain.RetrievalCandidate
	errs       []string
}

func (c *collector) add(hits []domain.RetrievalCandidate) {
	c.mu.Lock()
	c.candidates = append(c.candidates, hits...)
	c.mu.Unlock()
}

func (c *collector) fail(name string, err error) {
	c.mu.Lock()
	c.errs = append(c.errs, fmt.Sprintf("%s: %v", name, err))
	c.mu.Unlock()
}

// Retrieve runs the full retrieval pass and returns the ranked window plus
// per-call metadata.
func (o *RetrievalOrchestrator) Retrieve(ctx context.Context, query domain.Query) ([]domain.FusedResult, domain.RetrievalMetadata, error) {
	meta := domain.RetrievalMetadata{StrategyMix: map[string]int{}}
	tokens := tokenize(query.Normalized)

	notes, err := o.store.FetchCandidates(ctx, query.TenantID, query.Scope)
	if err != nil {
		// Lexical strategies lose their pool but semantic search can still
		// serve; isolate the failure instead of aborting the pass.
		o.logger.Warn("candidate_fetch_failed", "tenant", query.TenantID, "error", err)
		meta.StrategyErrors = append(meta.StrategyErrors, fmt.Sprintf("content_store: %v", err))
		notes = nil
	}
	if len(notes) > o.tuning.CandidatePoolLimit {
		notes = notes[:o.tuning.CandidatePoolLimit]
	}

	in := StrategyInput{Query: query, Tokens: tokens, Notes: notes}

	col := &collector{}
	var wg sync.WaitGroup
	for _, strategy := range o.strategies {
		strategy := strategy
		wg.Add(1)
		o.submit(func() {
			defer wg.Done()
			hits, err := strategy.Search(ctx, in)
			if err != nil {
				col.fail(strategy.Name(), err)
				return
			}
			col.add(hits)
		})
	}

	// Expansion fan-out runs alongside the primary strategies under its own
	// wall-clock budget; on overrun partial results are used and the
	// omission is recorded, never silently dropped.
	expansionDone := make(chan struct{})
	expansionCtx, cancelExpansion := context.WithTimeout(ctx, o.tuning.ExpansionBudget)
	defer cancelExpansion()
	var expansionVariants atomic.Int32
	go func() {
		defer close(expansionDone)
		o.runExpansion(expansionCtx, query, notes, col, &expansionVariants)
	}()

	wg.Wait()
	select {
	case <-expansionDone:
	case <-expansionCtx.Done():
		meta.ExpansionTimeout = true
		o.logger.Warn("expansion_timeout", "budget_ms", o.tuning.ExpansionBudget.Milliseconds())
	}
	meta.ExpansionVariants = int(expansionVariants.Load())

	// Graph bridge enrichment has a separate, shorter budget.
	o.runGraphBridge(ctx, query, notes, col, &meta)

	candidates := col.snapshot()
	meta.StrategyErrors = append(meta.StrategyErrors, col.errors()...)

	// Typo rescue: only when lexical results are sparse and a correction of
	// the query actually differs.
	lexicalCount := countLexical(candidates)
	if lexicalCount < o.tuning.TypoRescueMinResults {
		if corrected, changed := correctQuery(contentTokens(tokens), notes); changed {
			meta.CorrectionApplied = true
			meta.CorrectedQuery = corrected
			correctedIn := StrategyInput{
				Query:  withNormalized(query, corrected),
				Tokens: tokenize(corrected),
				Notes:  notes,
			}
			hits, err := o.typo.Search(ctx, correctedIn)
			if err != nil {
				meta.StrategyErrors = append(meta.StrategyErrors, fmt.Sprintf("typo_rescue: %v", err))
			} else if len(hits) > 0 {
				meta.TypoRescueFired = true
				candidates = append(candidates, hits...)
			}
		}
	}

	fused := fuseCandidates(tokens, candidates, o.tuning)

	// Low-confidence rescue: secondary, less-trusted pool, capped by the
	// mix policy so rescue content cannot dominate the window.
	if o.needsLowConfidenceRescue(fused, &meta) {
		rescueHits := o.runLowConfidenceRescue(ctx, query, tokens, notes, &meta)
		if len(rescueHits) > 0 {
			meta.LowConfRescueFired = true
			candidates = append(candidates, rescueHits...)
			fused = fuseCandidates(tokens, candidates, o.tuning)
		}
	}

	window := applyMixPolicy(fused, query.Limit, query.Offset, o.tuning)
	for _, r := range window {
		meta.StrategyMix[string(r.MatchType)]++
	}
	return window, meta, nil
}

func (o *RetrievalOrchestrator) runExpansion(ctx context.Context, query domain.Query, notes []domain.Note, col *collector, variantCount *atomic.Int32) {
	if o.expander == nil || o.tuning.ExpansionVariants <= 0 {
		return
	}
	variants, err := o.expander.Expand(ctx, query.Raw, o.tuning.ExpansionVariants)
	if err != nil {
		col.fail("expansion", err)
		return
	}
	variantCount.Store(int32(len(variants)))

	var wg sync.WaitGroup
	for _, variant := range variants {
		variant := variant
		wg.Add(1)
		o.submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			variantIn := StrategyInput{
				Query:  withNormalized(query, normalizeText(variant)),
				Tokens: tokenize(variant),
				Notes:  notes,
			}
			for _, strategy := range o.strategies {
				if _, isSemantic := strategy.(*SemanticStrategy); isSemantic {
					continue // variants only re-run the cheap lexical passes
				}
				hits, err := strategy.Search(ctx, variantIn)
				if err != nil {
					col.fail("expansion_"+strategy.Name(), err)
					continue
				}
				col.add(hits)
			}
		})
	}
	wg.Wait()
}

func (o *RetrievalOrchestrator) runGraphBridge(ctx context.Context, query domain.Query, notes []domain.Note, col *collector, meta *domain.RetrievalMetadata) {
	if o.bridge == nil {
		return
	}
	bridgeCtx, cancel := context.WithTimeout(ctx, o.tuning.GraphBridgeBudget)
	defer cancel()

	concepts := contentTokens(tokenize(query.Normalized))
	if len(concepts) == 0 {
		return
	}
	related, err := o.bridge.RelatedConcepts(bridgeCtx, query.TenantID, concepts, o.tuning.GraphBridgeTopK)
	if err != nil {
		if bridgeCtx.Err() != nil {
			meta.GraphBridgeTimeout = true
			o.logger.Warn("graph_bridge_timeout", "budget_ms", o.tuning.GraphBridgeBudget.Milliseconds())
		} else {
			col.fail("graph_bridge", err)
		}
		return
	}
	if len(related) == 0 {
		return
	}
	meta.GraphBridgeUsed = true

	bridgeQuery := strings.Join(related, " ")
	bridgeIn := StrategyInput{
		Query:  withNormalized(query, normalizeText(bridgeQuery)),
		Tokens: tokenize(bridgeQuery),
		Notes:  notes,
	}
	lemma := NewLemmaStrategy(o.tuning)
	hits, err := lemma.Search(bridgeCtx, bridgeIn)
	if err != nil {
		col.fail("graph_bridge_lemma", err)
		return
	}
	col.add(hits)
}

func (o *RetrievalOrchestrator) needsLowConfidenceRescue(fused []domain.FusedResult, meta *domain.RetrievalMetadata) bool {
	if len(fused) < o.tuning.LowConfidenceMinResults {
		meta.RescueReason = fmt.Sprintf("candidates=%d below minimum %d", len(fused), o.tuning.LowConfidenceMinResults)
		return true
	}
	if fused[0].FinalScore < o.tuning.LowConfidenceMinTopScore {
		meta.RescueReason = fmt.Sprintf("top score %.2f below threshold %.2f", fused[0].FinalScore, o.tuning.LowConfidenceMinTopScore)
		return true
	}
	return false
}

func (o *RetrievalOrchestrator) runLowConfidenceRescue(ctx context.Context, query domain.Query, tokens []string, primary []domain.Note, meta *domain.RetrievalMetadata) []domain.RetrievalCandidate {
	if query.Scope == "" {
		// No narrower scope to relax; the primary pool already was the
		// whole corpus, so there is no secondary pool to pull from.
		return nil
	}
	wide, err := o.store.FetchCandidates(ctx, query.TenantID, "")
	if err != nil {
		meta.StrategyErrors = append(meta.StrategyErrors, fmt.Sprintf("low_confidence_rescue: %v", err))
		return nil
	}

	seen := make(map[string]struct{}, len(primary))
	for _, n := range primary {
		seen[n.ID] = struct{}{}
	}
	secondary := make([]domain.Note, 0, len(wide))
	for _, n := range wide {
		if _, dup := seen[n.ID]; dup {
			continue
		}
		secondary = append(secondary, n)
	}
	if len(secondary) == 0 {
		return nil
	}
	if len(secondary) > o.tuning.CandidatePoolLimit {
		secondary = secondary[:o.tuning.CandidatePoolLimit]
	}

	hits, err := o.lowConf.Search(ctx, StrategyInput{Query: query, Tokens: tokens, Notes: secondary})
	if err != nil {
		meta.StrategyErrors = append(meta.StrategyErrors, fmt.Sprintf("low_confidence_rescue: %v", err))
		return nil
	}
	return hits
}

// submit schedules a task on the shared pool, falling back to a plain
// goroutine when the pool is saturated or absent.
func (o *RetrievalOrchestrator) submit(task func()) {
	if o.pool != nil {
		if err := o.pool.Submit(task); err == nil {
			return
		}
	}
	go task()
}

func (c *collector) snapshot() []domain.RetrievalCandidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.RetrievalCandidate, len(c.candidates))
	copy(out, c.candidates)
	return out
}

func (c *collector) errors() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.errs))
	copy(out, c.errs)
	return out
}

func countLexical(candidates []domain.RetrievalCandidate) int {
	n := 0
	for _, c := range candidates {
		if c.MatchType == domain.MatchExact || c.MatchType == domain.MatchLemma {
			n++
		}
	}
	return n
}

func withNormalized(query domain.Query, normalized string) domain.Query {
	query.Normalized = normalized
	return query
}
