package usecase

import (
	"time"

	"github.com/norwood-labs/marginalia/internal/core/domain"
)

// Tuning holds the product-tuned constants of the answer engine. Values are
// calibrated against production traffic; change them via configuration, not
// by editing defaults.
type Tuning struct {
	// Tier ceilings: per-match-type score maxima enforced both on raw
	// strategy scores and on fused scores after boosts.
	CeilingExact    float64
	CeilingLemma    float64
	CeilingSemantic float64
	CeilingRescue   float64

	// Fusion boosts.
	TokenFrequencyBoostMax float64
	BoostAnnotation        float64
	BoostTags              float64
	BoostTitle             float64
	MultiSignalBonus       float64

	// Rescue triggers and caps.
	TypoRescueMinResults     int
	LowConfidenceMinResults  int
	LowConfidenceMinTopScore float64
	RescueMaxRatio           float64

	// Mix policy: share of the final window semantic-only results may fill.
	SemanticFillRatio float64

	// Fan-out budgets.
	ExpansionVariants  int
	ExpansionBudget    time.Duration
	GraphBridgeBudget  time.Duration
	GraphBridgeTopK    int
	ExpansionPoolSize  int
	DefaultLimit       int
	MaxLimit           int
	CandidatePoolLimit int

	// Dual-model loop.
	MaxAttempts          int
	FastTrackConfidence  float64
	DeclineFloor         float64
	JudgePassScore       float64
	GenerationTimeout    time.Duration
	EvaluationTimeout    time.Duration
	ContextCharBudget    int
	GenerationMaxTokens  int
	GenerationTemp       float64
	EvaluationTemp       float64
	EscalationsPerAnswer int

	// Cache.
	AnswerCacheTTL time.Duration
	ModelVersion   string
}

// DefaultTuning mirrors production settings.
func DefaultTuning() Tuning {
	return Tuning{
		CeilingExact:    10.0,
		CeilingLemma:    7.0,
		CeilingSemantic: 5.5,
		CeilingRescue:   4.0,

		TokenFrequencyBoostMax: 1.5,
		BoostAnnotation:        1.2,
		BoostTags:              0.8,
		BoostTitle:             0.5,
		MultiSignalBonus:       0.5,

		TypoRescueMinResults:     3,
		LowConfidenceMinResults:  3,
		LowConfidenceMinTopScore: 4.0,
		RescueMaxRatio:           0.25,

		SemanticFillRatio: 0.5,

		ExpansionVariants:  2,
		ExpansionBudget:    2 * time.Second,
		GraphBridgeBudget:  600 * time.Millisecond,
		GraphBridgeTopK:    5,
		ExpansionPoolSize:  8,
		DefaultLimit:       10,
		MaxLimit:           50,
		CandidatePoolLimit: 500,

		MaxAttempts:          2,
		FastTrackConfidence:  5.5,
		DeclineFloor:         2.0,
		JudgePassScore:       6.0,
		GenerationTimeout:    45 * time.Second,
		EvaluationTimeout:    30 * time.Second,
		ContextCharBudget:    6000,
		GenerationMaxTokens:  1024,
		GenerationTemp:       0.3,
		EvaluationTemp:       0.0,
		EscalationsPerAnswer: 1,

		AnswerCacheTTL: 10 * time.Minute,
		ModelVersion:   "v1",
	}
}

// ceilingFor returns the score ceiling for a match type.
func (t Tuning) ceilingFor(matchType domain.MatchType) float64 {
	switch matchType {
	case domain.MatchExact:
		return t.CeilingExact
	case domain.MatchLemma:
		return t.CeilingLemma
	case domain.MatchSemantic:
		return t.CeilingSemantic
	case domain.MatchRescue:
		return t.CeilingRescue
	default:
		return t.CeilingRescue
	}
}
