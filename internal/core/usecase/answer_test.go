package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/norwood-labs/marginalia/internal/core/domain"
	"github.com/norwood-labs/marginalia/internal/core/ports"
)

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string][]byte)}
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

func (c *mapCache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

func (c *mapCache) DeletePattern(_ context.Context, prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.data {
		if strings.HasPrefix(k, prefix) {
			delete(c.data, k)
		}
	}
}

type channelPublisher struct {
	records chan domain.UsageRecord
}

func (p *channelPublisher) PublishUsage(_ context.Context, record domain.UsageRecord) error {
	p.records <- record
	return nil
}

func newAnswerUseCase(store *fakeStore, gen *scriptedGenerator, cache ports.Cache, usage ports.UsageLogPublisher) *AnswerUseCase {
	tuning := DefaultTuning()
	strategies := []Strategy{NewExactStrategy(tuning), NewLemmaStrategy(tuning)}
	retrieval := NewRetrievalOrchestrator(store, strategies, nil, nil, nil, tuning, nil)
	dualModel := NewDualModelOrchestrator(gen, tuning, nil)
	return NewAnswerUseCase(retrieval, dualModel, cache, usage, tuning, nil)
}

func TestAnswerHappyPathFastTracks(t *testing.T) {
	store := &fakeStore{notes: scopedNotes()}
	gen := &scriptedGenerator{answerText: "Conscience is your inner moral sense."}
	uc := newAnswerUseCase(store, gen, newMapCache(), nil)

	answer, err := uc.Answer(context.Background(), ports.AnswerRequest{
		Question: "what is conscience",
		TenantID: "t1",
		Scope:    "philosophy",
	})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}

	if answer.Text == "" {
		t.Fatalf("expected answer text")
	}
	if answer.Metadata.Mode != domain.ModeQuote {
		t.Fatalf("mode = %q, want QUOTE for a definitional hit", answer.Metadata.Mode)
	}
	if !answer.Metadata.FastTracked {
		t.Fatalf("high-confidence definitional query should fast-track: %+v", answer.Metadata)
	}
	if answer.Metadata.Verdict != domain.VerdictSkippedGood {
		t.Fatalf("verdict = %q, want SKIPPED_GOOD", answer.Metadata.Verdict)
	}
	if len(answer.Sources) == 0 {
		t.Fatalf("answer must cite sources")
	}
	if answer.Sources[0].SourceID != "n1" {
		t.Fatalf("top source = %q, want the definitional note", answer.Sources[0].SourceID)
	}
	if answer.Metadata.CacheHit {
		t.Fatalf("first call must not be a cache hit")
	}
	if answer.Metadata.Latency.Total <= 0 {
		t.Fatalf("latency must be recorded")
	}
}

func TestAnswerServesFromCacheOnRepeat(t *testing.T) {
	store := &fakeStore{notes: scopedNotes()}
	gen := &scriptedGenerator{answerText: "Conscience is your inner moral sense."}
	uc := newAnswerUseCase(store, gen, newMapCache(), nil)

	first, err := uc.Answer(context.Background(), ports.AnswerRequest{
		Question: "what is conscience",
		TenantID: "t1",
		Scope:    "philosophy",
	})
	if err != nil {
		t.Fatalf("first answer: %v", err)
	}
	callsAfterFirst := gen.generateCalls

	// Same question with different formatting must hit the cache.
	second, err := uc.Answer(context.Background(), ports.AnswerRequest{
		Question: "  What   IS  Conscience? ",
		TenantID: "t1",
		Scope:    "philosophy",
	})
	if err != nil {
		t.Fatalf("second answer: %v", err)
	}
	if !second.Metadata.CacheHit {
		t.Fatalf("formatting-only difference should hit the cache")
	}
	if second.Text != first.Text {
		t.Fatalf("cached answer text differs")
	}
	if gen.generateCalls != callsAfterFirst {
		t.Fatalf("cache hit must not call the generator again")
	}
}

func TestAnswerCacheKeySeparatesTenants(t *testing.T) {
	store := &fakeStore{notes: scopedNotes()}
	gen := &scriptedGenerator{answerText: "answer"}
	uc := newAnswerUseCase(store, gen, newMapCache(), nil)

	if _, err := uc.Answer(context.Background(), ports.AnswerRequest{
		Question: "what is conscience", TenantID: "t1", Scope: "philosophy",
	}); err != nil {
		t.Fatalf("first answer: %v", err)
	}
	calls := gen.generateCalls

	second, err := uc.Answer(context.Background(), ports.AnswerRequest{
		Question: "what is conscience", TenantID: "t2", Scope: "philosophy",
	})
	if err != nil {
		t.Fatalf("second answer: %v", err)
	}
	if second.Metadata.CacheHit {
		t.Fatalf("a different tenant must never see another tenant's cache entry")
	}
	if gen.generateCalls == calls {
		t.Fatalf("different tenant should trigger fresh generation")
	}
}

func TestAnswerValidatesInput(t *testing.T) {
	uc := newAnswerUseCase(&fakeStore{}, &scriptedGenerator{}, nil, nil)

	cases := []ports.AnswerRequest{
		{Question: "", TenantID: "t1"},
		{Question: "   ", TenantID: "t1"},
		{Question: "what is conscience", TenantID: ""},
		{Question: "what is conscience", TenantID: "t1", Limit: -1},
		{Question: "what is conscience", TenantID: "t1", Offset: -5},
	}
	for _, req := range cases {
		if _, err := uc.Answer(context.Background(), req); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("request %+v: err = %v, want invalid input kind", req, err)
		}
	}
}

func TestAnswerDegradesWhenGenerationFails(t *testing.T) {
	store := &fakeStore{notes: scopedNotes()}
	gen := &scriptedGenerator{generateErr: domain.WrapError(domain.ErrProviderUnavailable, "generate", errors.New("breaker open"))}
	cache := newMapCache()
	uc := newAnswerUseCase(store, gen, cache, nil)

	answer, err := uc.Answer(context.Background(), ports.AnswerRequest{
		Question: "what is conscience",
		TenantID: "t1",
		Scope:    "philosophy",
	})
	if err != nil {
		t.Fatalf("generation failure should degrade, not error: %v", err)
	}
	if !answer.Metadata.Degraded {
		t.Fatalf("answer should be marked degraded")
	}
	if answer.Metadata.Verdict != domain.VerdictError {
		t.Fatalf("verdict = %q, want ERROR", answer.Metadata.Verdict)
	}
	if !strings.Contains(answer.Text, "On conscience") {
		t.Fatalf("degraded answer should surface the closest passages: %q", answer.Text)
	}
	if len(cache.data) != 0 {
		t.Fatalf("degraded answers must never be cached")
	}
}

func TestAnswerPublishesUsageRecord(t *testing.T) {
	store := &fakeStore{notes: scopedNotes()}
	gen := &scriptedGenerator{answerText: "answer"}
	usage := &channelPublisher{records: make(chan domain.UsageRecord, 1)}
	uc := newAnswerUseCase(store, gen, newMapCache(), usage)

	if _, err := uc.Answer(context.Background(), ports.AnswerRequest{
		Question: "what is conscience",
		TenantID: "t1",
		Scope:    "philosophy",
	}); err != nil {
		t.Fatalf("answer: %v", err)
	}

	select {
	case record := <-usage.records:
		if record.TenantID != "t1" || record.Question != "what is conscience" {
			t.Fatalf("unexpected usage record: %+v", record)
		}
		if record.Fingerprint == "" {
			t.Fatalf("usage record must carry the fingerprint")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("usage record was not published")
	}
}

func TestQueryFingerprint(t *testing.T) {
	base := domain.Query{Normalized: "what is conscience", TenantID: "t1", Scope: "s1", Limit: 10, Offset: 0}

	same := queryFingerprint("answer", base, "v1")
	if same != queryFingerprint("answer", base, "v1") {
		t.Fatalf("fingerprint must be deterministic")
	}
	if !strings.HasPrefix(same, "answer:") {
		t.Fatalf("fingerprint should carry the service prefix: %q", same)
	}

	variants := []domain.Query{
		{Normalized: "what is conscience", TenantID: "t2", Scope: "s1", Limit: 10},
		{Normalized: "what is conscience", TenantID: "t1", Scope: "s2", Limit: 10},
		{Normalized: "what is conscience", TenantID: "t1", Scope: "s1", Limit: 20},
		{Normalized: "what is conscience", TenantID: "t1", Scope: "s1", Limit: 10, Offset: 10},
		{Normalized: "what is stoicism", TenantID: "t1", Scope: "s1", Limit: 10},
	}
	for _, v := range variants {
		if queryFingerprint("answer", v, "v1") == same {
			t.Fatalf("semantic change did not change the fingerprint: %+v", v)
		}
	}
	if queryFingerprint("answer", base, "v2") == same {
		t.Fatalf("model version change must change the fingerprint")
	}
}

func TestExpanderParsesVariants(t *testing.T) {
	calls := 0
	fake := generatorFunc(func(_ context.Context, req ports.GenerationRequest) (*ports.GenerationResult, error) {
		calls++
		return &ports.GenerationResult{
			Text: `Here you go: {"variants": ["what does conscience mean", "meaning of conscience", ""]}`,
		}, nil
	})

	e := NewLLMQueryExpander(fake, time.Second)
	variants, err := e.Expand(context.Background(), "what is conscience", 2)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(variants) != 2 {
		t.Fatalf("variants = %v, want 2 non-empty entries", variants)
	}
	if calls != 1 {
		t.Fatalf("expand should make one provider call, made %d", calls)
	}

	if got, err := e.Expand(context.Background(), "q", 0); err != nil || got != nil {
		t.Fatalf("zero variants should short-circuit, got %v, %v", got, err)
	}
}

type generatorFunc func(ctx context.Context, req ports.GenerationRequest) (*ports.GenerationResult, error)

func (f generatorFunc) Generate(ctx context.Context, req ports.GenerationRequest) (*ports.GenerationResult, error) {
	return f(ctx, req)
}
