package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/norwood-labs/marginalia/internal/config"
	"github.com/norwood-labs/marginalia/internal/core/ports"
	"github.com/norwood-labs/marginalia/internal/core/usecase"
	"github.com/norwood-labs/marginalia/internal/infrastructure/cache"
	"github.com/norwood-labs/marginalia/internal/infrastructure/graph/neo4j"
	"github.com/norwood-labs/marginalia/internal/infrastructure/llm/ollama"
	"github.com/norwood-labs/marginalia/internal/infrastructure/queue/nats"
	"github.com/norwood-labs/marginalia/internal/infrastructure/repository/postgres"
	"github.com/norwood-labs/marginalia/internal/infrastructure/resilience"
	"github.com/norwood-labs/marginalia/internal/infrastructure/vector/qdrant"
)

type App struct {
	Config config.Config

	Queue         *nats.Queue
	AnswerUC      ports.AnswerService
	Conversations ports.ConversationStore
	UsageStore    ports.UsageLogStore

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	notes := postgres.NewNoteRepository(db)
	if err := notes.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	conversations := postgres.NewConversationRepository(db)
	usageStore := postgres.NewUsageLogRepository(db)

	queue, err := nats.New(cfg.NATSURL, cfg.NATSUsageSubject)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init usage queue: %w", err)
	}

	tuning := tuningFromConfig(cfg)

	local := cache.NewMemoryCache(cfg.CacheLocalCapacity)
	var shared ports.Cache
	if cfg.CacheSharedEnabled {
		sharedTTL := time.Duration(cfg.CacheSharedTTLMins) * time.Minute
		kv, err := cache.NewNATSKVCache(queue.Conn(), "marginalia-answers", sharedTTL, logger)
		if err != nil {
			logger.Warn("shared cache unavailable, running on local tier only", "error", err)
		} else {
			shared = kv
		}
	}
	answerCache := cache.NewTieredCache(local, shared)

	executor := resilience.NewExecutor(resilience.DefaultConfig())
	llm := ollama.New(cfg.OllamaURL, ollama.Options{
		FastModel:            cfg.OllamaFastModel,
		CapableModel:         cfg.OllamaCapableModel,
		EmbedModel:           cfg.OllamaEmbedModel,
		RequestsPerSecond:    float64(cfg.OllamaRPS),
		EscalationsPerAnswer: tuning.EscalationsPerAnswer,
		Executor:             executor,
	})

	vectors := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection)

	var bridge ports.GraphBridge
	var closeBridge func()
	if cfg.Neo4jEnabled {
		graphBridge, err := neo4j.New(cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
		if err != nil {
			logger.Warn("graph bridge unavailable, continuing without it", "error", err)
		} else {
			bridge = graphBridge
			closeBridge = func() { _ = graphBridge.Close(context.Background()) }
		}
	}

	pool, err := ants.NewPool(cfg.RetrievalPoolWorkers, ants.WithNonblocking(true))
	if err != nil {
		queue.Close()
		_ = db.Close()
		return nil, fmt.Errorf("init retrieval pool: %w", err)
	}

	strategies := []usecase.Strategy{
		usecase.NewExactStrategy(tuning),
		usecase.NewLemmaStrategy(tuning),
		usecase.NewSemanticStrategy(llm, vectors, tuning),
	}
	expander := usecase.NewLLMQueryExpander(llm, tuning.ExpansionBudget)
	retrieval := usecase.NewRetrievalOrchestrator(notes, strategies, expander, bridge, pool, tuning, logger)
	dualModel := usecase.NewDualModelOrchestrator(llm, tuning, logger)
	answerUC := usecase.NewAnswerUseCase(retrieval, dualModel, answerCache, queue, tuning, logger)

	return &App{
		Config:        cfg,
		Queue:         queue,
		AnswerUC:      answerUC,
		Conversations: conversations,
		UsageStore:    usageStore,

		closeFn: func() {
			pool.Release()
			if closeBridge != nil {
				closeBridge()
			}
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func tuningFromConfig(cfg config.Config) usecase.Tuning {
	tuning := usecase.DefaultTuning()

	if cfg.DefaultLimit > 0 {
		tuning.DefaultLimit = cfg.DefaultLimit
	}
	if cfg.MaxLimit > 0 {
		tuning.MaxLimit = cfg.MaxLimit
	}
	if cfg.ExpansionVariants > 0 {
		tuning.ExpansionVariants = cfg.ExpansionVariants
	}
	if cfg.ExpansionBudgetMS > 0 {
		tuning.ExpansionBudget = time.Duration(cfg.ExpansionBudgetMS) * time.Millisecond
	}
	if cfg.GraphBridgeBudgetMS > 0 {
		tuning.GraphBridgeBudget = time.Duration(cfg.GraphBridgeBudgetMS) * time.Millisecond
	}
	if cfg.MaxAttempts > 0 {
		tuning.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.FastTrackConfidence > 0 {
		tuning.FastTrackConfidence = cfg.FastTrackConfidence
	}
	if cfg.RescueMaxRatio > 0 {
		tuning.RescueMaxRatio = cfg.RescueMaxRatio
	}
	if cfg.AnswerCacheTTLMins > 0 {
		tuning.AnswerCacheTTL = time.Duration(cfg.AnswerCacheTTLMins) * time.Minute
	}
	if cfg.RetrievalPoolWorkers > 0 {
		tuning.ExpansionPoolSize = cfg.RetrievalPoolWorkers
	}
	if cfg.ModelVersion != "" {
		tuning.ModelVersion = cfg.ModelVersion
	}

	return tuning
}
