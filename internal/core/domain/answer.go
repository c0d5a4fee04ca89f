package domain

import "time"

// AnswerMode is the epistemic stance the generator is instructed to take.
type AnswerMode string

const (
	ModeQuote     AnswerMode = "QUOTE"     // direct evidence exists, quote it
	ModeSynthesis AnswerMode = "SYNTHESIS" // no direct evidence, infer with caveats
	ModeHybrid    AnswerMode = "HYBRID"    // mixed definitional + contextual evidence
	ModeExplorer  AnswerMode = "EXPLORER"  // open-ended multi-turn exploration
)

// Verdict is the judge's ruling over one generation attempt.
type Verdict string

const (
	VerdictPass        Verdict = "PASS"
	VerdictRegenerate  Verdict = "REGENERATE"
	VerdictDecline     Verdict = "DECLINE"
	VerdictSkippedGood Verdict = "SKIPPED_GOOD"
	VerdictError       Verdict = "ERROR"
)

// Evaluation is produced fresh for each generation attempt, never merged
// across attempts.
type Evaluation struct {
	Verdict    Verdict            `json:"verdict"`
	Score      float64            `json:"score"`
	Criteria   map[string]float64 `json:"criteria,omitempty"`
	RetryHints []string           `json:"retry_hints,omitempty"`
	Attempt    int                `json:"attempt"`
}

// Source is one cited passage in the final answer.
type Source struct {
	SourceID   string         `json:"source_id"`
	Title      string         `json:"title"`
	Snippet    string         `json:"snippet"`
	SourceType string         `json:"source_type"`
	MatchType  MatchType      `json:"match_type"`
	Level      EpistemicLevel `json:"epistemic_level"`
	Score      float64        `json:"score"`
}

// StageLatency is the per-stage latency breakdown of one answer call.
type StageLatency struct {
	Retrieval  time.Duration `json:"retrieval_ms"`
	Context    time.Duration `json:"context_ms"`
	Generation time.Duration `json:"generation_ms"`
	Evaluation time.Duration `json:"evaluation_ms"`
	Total      time.Duration `json:"total_ms"`
}

// AnswerMetadata is everything a caller needs to reproduce and audit an
// answer: mode, strategy mix, rescue/correction flags, models, verdict.
type AnswerMetadata struct {
	Mode          AnswerMode        `json:"mode"`
	Retrieval     RetrievalMetadata `json:"retrieval"`
	ModelsUsed    []string          `json:"models_used"`
	FastTracked   bool              `json:"fast_tracked"`
	Attempts      int               `json:"attempts"`
	Verdict       Verdict           `json:"verdict"`
	QualityScore  float64           `json:"quality_score"`
	CacheHit      bool              `json:"cache_hit"`
	Degraded      bool              `json:"degraded,omitempty"`
	DegradeReason string            `json:"degrade_reason,omitempty"`
	Latency       StageLatency      `json:"latency"`
}

// Answer is the caller-facing result of one question.
type Answer struct {
	Text     string         `json:"text"`
	Sources  []Source       `json:"sources"`
	Metadata AnswerMetadata `json:"metadata"`
}

// UsageRecord is the fire-and-forget quality log appended after each answer.
type UsageRecord struct {
	Fingerprint  string        `json:"fingerprint"`
	TenantID     string        `json:"tenant_id"`
	Question     string        `json:"question"`
	Mode         AnswerMode    `json:"mode"`
	Verdict      Verdict       `json:"verdict"`
	QualityScore float64       `json:"quality_score"`
	CacheHit     bool          `json:"cache_hit"`
	Latency      time.Duration `json:"latency_ms"`
	CreatedAt    time.Time     `json:"created_at"`
}
