package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/norwood-labs/marginalia/internal/core/domain"
	"github.com/norwood-labs/marginalia/internal/core/ports"
)

type fakeAnswerService struct {
	lastRequest ports.AnswerRequest
	answer      *domain.Answer
	err         error
}

func (f *fakeAnswerService) Answer(_ context.Context, req ports.AnswerRequest) (*domain.Answer, error) {
	f.lastRequest = req
	if f.err != nil {
		return nil, f.err
	}
	return f.answer, nil
}

type fakeConversationStore struct {
	state *domain.ConversationState
	err   error
	saved *domain.ConversationState
}

func (f *fakeConversationStore) GetState(_ context.Context, _, _ string) (*domain.ConversationState, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.state, nil
}

func (f *fakeConversationStore) SaveState(_ context.Context, _ string, state *domain.ConversationState) error {
	f.saved = state
	return nil
}

func newTestRouter(svc ports.AnswerService, conv ports.ConversationStore) http.Handler {
	rt := NewRouter(svc, conv, nil, slog.Default(), RouterConfig{Service: "api-test"})
	return rt.Handler()
}

func postAnswer(t *testing.T, handler http.Handler, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/answer", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestAnswerEndpointReturnsAnswer(t *testing.T) {
	svc := &fakeAnswerService{
		answer: &domain.Answer{
			Text: "Conscience is defined as the inner sense of right and wrong.",
			Sources: []domain.Source{
				{SourceID: "n1", Title: "ethics", Score: 8.2, Level: domain.LevelA},
			},
			Metadata: domain.AnswerMetadata{
				Mode:    domain.ModeQuote,
				Verdict: domain.VerdictPass,
			},
		},
	}
	handler := newTestRouter(svc, nil)

	res := postAnswer(t, handler, map[string]any{
		"question":  "what is conscience",
		"tenant_id": "tenant-1",
		"scope":     "philosophy",
		"limit":     5,
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}

	var answer domain.Answer
	if err := json.NewDecoder(res.Body).Decode(&answer); err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	if answer.Text == "" || len(answer.Sources) != 1 {
		t.Fatalf("unexpected answer payload: %+v", answer)
	}
	if svc.lastRequest.TenantID != "tenant-1" || svc.lastRequest.Scope != "philosophy" || svc.lastRequest.Limit != 5 {
		t.Fatalf("request not forwarded to service: %+v", svc.lastRequest)
	}
	if res.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestAnswerEndpointValidatesInput(t *testing.T) {
	handler := newTestRouter(&fakeAnswerService{}, nil)

	res := postAnswer(t, handler, map[string]any{"tenant_id": "tenant-1"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("missing question expected 400, got %d", res.Code)
	}

	res = postAnswer(t, handler, map[string]any{"question": "what is conscience"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("missing tenant expected 400, got %d", res.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/answer", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET expected 405, got %d", rec.Code)
	}
}

func TestAnswerEndpointMapsDomainErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", domain.WrapError(domain.ErrInvalidInput, "answer", errors.New("question is required")), http.StatusBadRequest},
		{"provider unavailable", domain.WrapError(domain.ErrProviderUnavailable, "generate", errors.New("breaker open")), http.StatusServiceUnavailable},
		{"provider timeout", domain.WrapError(domain.ErrProviderTimeout, "generate", errors.New("deadline exceeded")), http.StatusGatewayTimeout},
		{"temporary", domain.WrapError(domain.ErrTemporary, "retrieve", errors.New("connection reset")), http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := newTestRouter(&fakeAnswerService{err: tc.err}, nil)
			res := postAnswer(t, handler, map[string]any{
				"question":  "what is conscience",
				"tenant_id": "tenant-1",
			})
			if res.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, res.Code)
			}
		})
	}
}

func TestAnswerEndpointLoadsConversationState(t *testing.T) {
	svc := &fakeAnswerService{answer: &domain.Answer{Text: "ok"}}
	conv := &fakeConversationStore{
		state: &domain.ConversationState{
			ConversationID: "conv-9",
			ActiveTopic:    "stoicism",
			Exploratory:    true,
			Turn:           3,
		},
	}
	handler := newTestRouter(svc, conv)

	res := postAnswer(t, handler, map[string]any{
		"question":        "tell me more",
		"tenant_id":       "tenant-1",
		"conversation_id": "conv-9",
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if svc.lastRequest.Conversation == nil || !svc.lastRequest.Conversation.Exploratory {
		t.Fatalf("conversation state was not attached: %+v", svc.lastRequest.Conversation)
	}
}

func TestAnswerEndpointToleratesMissingConversation(t *testing.T) {
	svc := &fakeAnswerService{answer: &domain.Answer{Text: "ok"}}
	conv := &fakeConversationStore{err: domain.WrapError(domain.ErrNotFound, "conversation", errors.New("no rows"))}
	handler := newTestRouter(svc, conv)

	res := postAnswer(t, handler, map[string]any{
		"question":        "tell me more",
		"tenant_id":       "tenant-1",
		"conversation_id": "conv-missing",
	})
	if res.Code != http.StatusOK {
		t.Fatalf("missing conversation should not fail the answer, got %d", res.Code)
	}
	if svc.lastRequest.Conversation != nil {
		t.Fatalf("expected nil conversation state, got %+v", svc.lastRequest.Conversation)
	}
}

func TestGetConversationEndpoint(t *testing.T) {
	conv := &fakeConversationStore{
		state: &domain.ConversationState{ConversationID: "conv-1", Turn: 2},
	}
	handler := newTestRouter(&fakeAnswerService{}, conv)

	req := httptest.NewRequest(http.MethodGet, "/v1/conversations/conv-1?tenant_id=tenant-1", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	var state domain.ConversationState
	if err := json.NewDecoder(res.Body).Decode(&state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.ConversationID != "conv-1" || state.Turn != 2 {
		t.Fatalf("unexpected state: %+v", state)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/conversations/conv-1", nil)
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("missing tenant_id expected 400, got %d", res.Code)
	}
}

func TestHealthzEndpoint(t *testing.T) {
	handler := newTestRouter(&fakeAnswerService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}
