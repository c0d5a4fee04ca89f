package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/norwood-labs/marginalia/internal/core/domain"
	"github.com/norwood-labs/marginalia/internal/core/ports"
	"github.com/norwood-labs/marginalia/internal/observability/metrics"
)

type RouterConfig struct {
	Service        string
	RateLimitRPS   int
	RateLimitBurst int
	MaxInFlight    int
	AcquireTimeout time.Duration
}

type Router struct {
	answers       ports.AnswerService
	conversations ports.ConversationStore
	metrics       *metrics.HTTPServerMetrics
	logger        *slog.Logger
	cfg           RouterConfig
}

func NewRouter(
	answers ports.AnswerService,
	conversations ports.ConversationStore,
	httpMetrics *metrics.HTTPServerMetrics,
	logger *slog.Logger,
	cfg RouterConfig,
) *Router {
	if cfg.Service == "" {
		cfg.Service = "api"
	}
	return &Router{
		answers:       answers,
		conversations: conversations,
		metrics:       httpMetrics,
		logger:        logger,
		cfg:           cfg,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/answer", rt.answer)
	mux.HandleFunc("/v1/conversations/", rt.getConversation)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.cfg.MaxInFlight > 0 {
		handler = backpressureMiddleware(handler, rt.cfg.MaxInFlight, rt.cfg.AcquireTimeout)
	}
	if rt.cfg.RateLimitRPS > 0 {
		handler = rateLimitMiddleware(handler, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst)
	}
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.cfg.Service, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type answerRequestBody struct {
	Question       string `json:"question"`
	TenantID       string `json:"tenant_id"`
	Scope          string `json:"scope,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	Offset         int    `json:"offset,omitempty"`
	IntentHint     string `json:"intent_hint,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

func (rt *Router) answer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var body answerRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.Question) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}
	if strings.TrimSpace(body.TenantID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant_id is required"})
		return
	}

	req := ports.AnswerRequest{
		Question:       body.Question,
		TenantID:       body.TenantID,
		Scope:          body.Scope,
		Limit:          body.Limit,
		Offset:         body.Offset,
		IntentHint:     body.IntentHint,
		ConversationID: body.ConversationID,
	}
	if body.ConversationID != "" && rt.conversations != nil {
		state, err := rt.conversations.GetState(r.Context(), body.TenantID, body.ConversationID)
		if err != nil && !domain.IsKind(err, domain.ErrNotFound) {
			rt.logger.Warn("conversation state unavailable",
				"request_id", requestIDFromContext(r.Context()),
				"conversation_id", body.ConversationID,
				"error", err,
			)
		}
		req.Conversation = state
	}

	answer, err := rt.answers.Answer(r.Context(), req)
	if err != nil {
		status := mapErrorToHTTPStatus(err)
		rt.logger.Error("answer request failed",
			"request_id", requestIDFromContext(r.Context()),
			"tenant_id", body.TenantID,
			"status", status,
			"error", err,
		)
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	if rt.metrics != nil {
		rt.recordAnswerMetrics(answer)
	}
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) recordAnswerMetrics(answer *domain.Answer) {
	md := answer.Metadata
	confidence := 0.0
	if len(answer.Sources) > 0 {
		confidence = answer.Sources[0].Score
	}
	rt.metrics.RecordAnswer(rt.cfg.Service, string(md.Verdict), string(md.Mode), confidence, md.Degraded)
	rt.metrics.RecordCacheLookup(rt.cfg.Service, md.CacheHit)
	rt.metrics.RecordGenerationAttempts(rt.cfg.Service, md.Attempts)
	if md.FastTracked {
		rt.metrics.RecordFastTrack(rt.cfg.Service)
	}
	if md.Retrieval.TypoRescueFired {
		rt.metrics.RecordRescue(rt.cfg.Service, "typo")
	}
	if md.Retrieval.LowConfRescueFired {
		rt.metrics.RecordRescue(rt.cfg.Service, "low_confidence")
	}
	if md.Retrieval.ExpansionTimeout {
		rt.metrics.RecordExpansionTimeout(rt.cfg.Service)
	}
	if md.Retrieval.GraphBridgeTimeout {
		rt.metrics.RecordGraphBridgeTimeout(rt.cfg.Service)
	}
	rt.metrics.RecordStrategyMix(rt.cfg.Service, md.Retrieval.StrategyMix)
	rt.metrics.RecordStage(rt.cfg.Service, "retrieval", md.Latency.Retrieval)
	rt.metrics.RecordStage(rt.cfg.Service, "context", md.Latency.Context)
	rt.metrics.RecordStage(rt.cfg.Service, "generation", md.Latency.Generation)
	rt.metrics.RecordStage(rt.cfg.Service, "evaluation", md.Latency.Evaluation)
	rt.metrics.RecordStage(rt.cfg.Service, "total", md.Latency.Total)
}

func (rt *Router) getConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if rt.conversations == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation store is not configured"})
		return
	}

	conversationID := strings.TrimPrefix(r.URL.Path, "/v1/conversations/")
	if conversationID == "" || strings.Contains(conversationID, "/") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "conversation id is required"})
		return
	}
	tenantID := strings.TrimSpace(r.URL.Query().Get("tenant_id"))
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant_id is required"})
		return
	}

	state, err := rt.conversations.GetState(r.Context(), tenantID, conversationID)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
