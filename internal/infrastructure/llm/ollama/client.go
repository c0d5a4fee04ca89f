package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/norwood-labs/marginalia/internal/core/ports"
	"github.com/norwood-labs/marginalia/internal/infrastructure/resilience"
)

// Client talks to a local Ollama instance. It hosts two model tiers (a fast
// workhorse and a capable judge) plus the embedding model; every call goes
// through the resilience executor and a shared rate limiter.
type Client struct {
	baseURL      string
	fastModel    string
	capableModel string
	embedModel   string
	httpClient   *http.Client
	executor     *resilience.Executor
	limiter      *rate.Limiter
	escalations  int
}

type Options struct {
	FastModel            string
	CapableModel         string
	EmbedModel           string
	RequestTimeout       time.Duration
	RequestsPerSecond    float64
	Burst                int
	EscalationsPerAnswer int
	Executor             *resilience.Executor
}

func New(baseURL string, options Options) *Client {
	timeout := options.RequestTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	rps := options.RequestsPerSecond
	if rps <= 0 {
		rps = 4
	}
	burst := options.Burst
	if burst <= 0 {
		burst = 8
	}
	escalations := options.EscalationsPerAnswer
	if escalations < 0 {
		escalations = 0
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		fastModel:    options.FastModel,
		capableModel: options.CapableModel,
		embedModel:   options.EmbedModel,
		httpClient:   &http.Client{Timeout: timeout},
		executor:     options.Executor,
		limiter:      rate.NewLimiter(rate.Limit(rps), burst),
		escalations:  escalations,
	}
}

// EmbedQuery builds a vector for query text.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	request := map[string]any{
		"model": c.embedModel,
		"input": []string{text},
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	err := c.execute(ctx, "ollama.embed", func(ctx context.Context) error {
		return c.postJSON(ctx, "/api/embed", request, &response, "embed")
	})
	if err != nil {
		return nil, wrapProviderError("embed", err)
	}
	if len(response.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return response.Embeddings[0], nil
}

// Generate runs one generation call on the requested tier, escalating to
// the capable tier on retryable failure up to the per-request cap.
func (c *Client) Generate(ctx context.Context, req ports.GenerationRequest) (*ports.GenerationResult, error) {
	model := c.modelFor(req.Tier)

	callCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	text, err := c.generateWithModel(callCtx, model, req)
	if err == nil {
		return &ports.GenerationResult{Text: text, ModelUsed: model}, nil
	}

	// Escalate once to the stronger tier when the fast tier keeps failing
	// on retryable errors.
	if req.Tier == ports.TierFast && c.escalations > 0 && model != c.capableModel {
		class := classifyOllamaError(err)
		if class.Retryable && callCtx.Err() == nil {
			text, escErr := c.generateWithModel(callCtx, c.capableModel, req)
			if escErr == nil {
				return &ports.GenerationResult{
					Text:            text,
					ModelUsed:       c.capableModel,
					FallbackApplied: true,
				}, nil
			}
			err = escErr
		}
	}
	return nil, wrapProviderError("generate", err)
}

func (c *Client) generateWithModel(ctx context.Context, model string, req ports.GenerationRequest) (string, error) {
	payload := map[string]any{
		"model":  model,
		"prompt": req.Prompt,
		"stream": false,
		"options": map[string]any{
			"temperature": req.Temperature,
		},
	}
	if req.MaxTokens > 0 {
		payload["options"].(map[string]any)["num_predict"] = req.MaxTokens
	}
	if req.JSONFormat {
		payload["format"] = "json"
	}

	var response struct {
		Response string `json:"response"`
	}
	err := c.execute(ctx, "ollama.generate", func(ctx context.Context) error {
		return c.postJSON(ctx, "/api/generate", payload, &response, "generate")
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

func (c *Client) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	call := func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return fn(ctx)
	}
	if c.executor == nil {
		return call(ctx)
	}
	return c.executor.Execute(ctx, operation, call, classifyOllamaError)
}

func (c *Client) modelFor(tier ports.ModelTier) string {
	if tier == ports.TierCapable {
		return c.capableModel
	}
	return c.fastModel
}
