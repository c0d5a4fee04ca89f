package domain

// QueryIntent is the coarse classification of what a question asks for.
type QueryIntent string

const (
	IntentSimple      QueryIntent = "simple"
	IntentDefinition  QueryIntent = "definition"
	IntentComparative QueryIntent = "comparative"
	IntentComplex     QueryIntent = "complex"
	IntentExploratory QueryIntent = "exploratory"
)

// Query is a single retrieval request. Immutable once issued: the engine
// never mutates it after construction.
type Query struct {
	Raw        string      `json:"raw"`
	Normalized string      `json:"normalized"`
	TenantID   string      `json:"tenant_id"`
	Scope      string      `json:"scope,omitempty"`
	Intent     QueryIntent `json:"intent"`
	Limit      int         `json:"limit"`
	Offset     int         `json:"offset"`
}

// ConversationState carries multi-turn context. It is assembled by the
// conversation layer between turns and is read-only to the answer engine.
type ConversationState struct {
	ConversationID string       `json:"conversation_id"`
	ActiveTopic    string       `json:"active_topic,omitempty"`
	Assumptions    []Assumption `json:"assumptions,omitempty"`
	Facts          []KnownFact  `json:"facts,omitempty"`
	OpenQuestions  []string     `json:"open_questions,omitempty"`
	Turn           int          `json:"turn"`
	Exploratory    bool         `json:"exploratory"`
}

type Assumption struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type KnownFact struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}
