package domain

// MatchType records which strategy family produced a candidate. The fusion
// engine may refine it for display (e.g. exact → exact after typo rescue)
// but never invents a stronger type than the strategy reported.
type MatchType string

const (
	MatchExact    MatchType = "exact"
	MatchLemma    MatchType = "lemma"
	MatchSemantic MatchType = "semantic"
	MatchRescue   MatchType = "rescue"
)

// Note is one corpus row as read from the content store. The engine treats
// it as immutable source material.
type Note struct {
	ID         string   `json:"id"`
	TenantID   string   `json:"tenant_id"`
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	Annotation string   `json:"annotation,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	SourceType string   `json:"source_type"`
	Scope      string   `json:"scope,omitempty"`
}

// RetrievalCandidate is a raw strategy hit. Ownership transfers to the
// fusion engine, which may set FinalScore and refine MatchType; the source
// text is never mutated.
type RetrievalCandidate struct {
	SourceID    string    `json:"source_id"`
	Title       string    `json:"title"`
	Snippet     string    `json:"snippet"`
	Annotation  string    `json:"annotation,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	SourceType  string    `json:"source_type"`
	MatchType   MatchType `json:"match_type"`
	Score       float64   `json:"score"`
	FromRescue  bool      `json:"from_rescue,omitempty"`
	FromCorrect bool      `json:"from_correction,omitempty"`
}

// FusedResult is a candidate after fusion scoring. Result order within one
// fusion pass is a total order on (InPrimaryContent desc, FinalScore desc),
// stable on discovery order.
type FusedResult struct {
	RetrievalCandidate
	FinalScore       float64 `json:"final_score"`
	Rank             int     `json:"rank"`
	InPrimaryContent bool    `json:"in_primary_content"`
}

// EpistemicLevel grades how directly a chunk answers the query concept.
type EpistemicLevel string

const (
	LevelA EpistemicLevel = "A" // definitional or evaluative statement about the concept
	LevelB EpistemicLevel = "B" // concept present, no definitional structure
	LevelC EpistemicLevel = "C" // topical similarity only
)

// Chunk is a fused result graded for answerability. Level is computed once
// per retrieval pass and never mutated afterward.
type Chunk struct {
	FusedResult
	Level         EpistemicLevel `json:"epistemic_level"`
	Answerability float64        `json:"answerability_score"`
}

// RetrievalMetadata reports which paths fired during one retrieval pass.
type RetrievalMetadata struct {
	StrategyMix        map[string]int `json:"strategy_mix"`
	CorrectionApplied  bool           `json:"correction_applied,omitempty"`
	CorrectedQuery     string         `json:"corrected_query,omitempty"`
	TypoRescueFired    bool           `json:"typo_rescue_fired,omitempty"`
	LowConfRescueFired bool           `json:"low_confidence_rescue_fired,omitempty"`
	RescueReason       string         `json:"rescue_reason,omitempty"`
	ExpansionVariants  int            `json:"expansion_variants,omitempty"`
	ExpansionTimeout   bool           `json:"expansion_timeout,omitempty"`
	GraphBridgeUsed    bool           `json:"graph_bridge_used,omitempty"`
	GraphBridgeTimeout bool           `json:"graph_bridge_timeout,omitempty"`
	StrategyErrors     []string       `json:"strategy_errors,omitempty"`
}
