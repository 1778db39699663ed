package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	redisv8 "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redisv9 "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/answer"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/answercache"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/chunking"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/classifier"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/config"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/docstore"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/embeddings"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/fallback"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/generator"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/health"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/httpapi"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/ingest"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/reranker"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/retriever"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/tracing"
	"github.com/Shubh2310-developer/Engunity-AI-sub002/internal/vectordb"
)

// groundingPhrases earn candidates a small relevance bonus when the answer
// anchors itself to the supplied context.
var groundingPhrases = []string{
	"according to the",
	"the document states",
	"as described in",
	"based on the context",
}

// engineHolder lets the answer engine be swapped atomically on config
// reload without restarting the HTTP server.
type engineHolder struct {
	v atomic.Value // *answer.Engine
}

func (h *engineHolder) store(e *answer.Engine) { h.v.Store(e) }

func (h *engineHolder) Answer(ctx context.Context, req answer.Request) (*answer.Answer, error) {
	return h.v.Load().(*answer.Engine).Answer(ctx, req)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("Tracing initialization failed, continuing without traces", zap.Error(err))
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()

	// document record store
	store, err := docstore.NewStore(docstore.Config{
		Host:            cfg.Docstore.Host,
		Port:            cfg.Docstore.Port,
		User:            cfg.Docstore.User,
		Password:        cfg.Docstore.Password,
		Database:        cfg.Docstore.Database,
		SSLMode:         cfg.Docstore.SSLMode,
		MaxConnections:  cfg.Docstore.MaxConnections,
		IdleConnections: cfg.Docstore.IdleConnections,
		MaxLifetime:     cfg.Docstore.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to document store", zap.Error(err))
	}
	defer store.Close()
	if err := store.EnsureSchema(startCtx); err != nil {
		logger.Fatal("Failed to ensure document schema", zap.Error(err))
	}

	// embedder with optional Redis cache tier
	var embedCache embeddings.EmbeddingCache
	if cfg.Embeddings.RedisAddr != "" {
		rc, err := embeddings.NewRedisCache(cfg.Embeddings.RedisAddr)
		if err != nil {
			logger.Warn("Embedding Redis cache unavailable, using local LRU", zap.Error(err))
			embedCache = embeddings.NewLocalLRU(cfg.Embeddings.MaxLRU)
		} else {
			embedCache = rc
		}
	} else {
		embedCache = embeddings.NewLocalLRU(cfg.Embeddings.MaxLRU)
	}
	embedder := embeddings.NewService(embeddings.Config{
		BaseURL:      cfg.Embeddings.BaseURL,
		DefaultModel: cfg.Embeddings.DefaultModel,
		Timeout:      cfg.Embeddings.Timeout,
		RedisAddr:    cfg.Embeddings.RedisAddr,
		CacheTTL:     cfg.Embeddings.CacheTTL,
		MaxLRU:       cfg.Embeddings.MaxLRU,
	}, embedCache)

	// vector index
	vdb := vectordb.NewClient(vectordb.Config{
		Host:       cfg.VectorDB.Host,
		Port:       cfg.VectorDB.Port,
		Collection: cfg.VectorDB.Collection,
		Timeout:    cfg.VectorDB.Timeout,
		Dimensions: cfg.VectorDB.Dimensions,
	}, logger)
	if err := vdb.EnsureCollection(startCtx); err != nil {
		logger.Fatal("Failed to ensure vector collection", zap.Error(err))
	}

	// ingestion pipeline
	chunker := chunking.New(chunking.Config{
		ChunkSize:    cfg.Chunking.ChunkSize,
		Overlap:      cfg.Chunking.Overlap,
		MinChunkSize: cfg.Chunking.MinChunkSize,
		HardCapChars: cfg.Docstore.HardCapChars,
	})
	ingestor := ingest.NewService(store, chunker, embedder, vdb, logger)

	// retrieval and ranking
	retr := retriever.New(retriever.Config{
		TopK:       cfg.Retrieval.TopK,
		ScoreFloor: cfg.Retrieval.ScoreFloor,
	}, embedder, vdb, logger)
	rr := reranker.New(reranker.Config{
		Enabled:  cfg.Rerank.Enabled,
		BaseURL:  cfg.Rerank.BaseURL,
		Timeout:  cfg.Rerank.Timeout,
		InputMax: cfg.Rerank.InputMax,
		TopK:     cfg.Rerank.TopK,
		MinScore: cfg.Rerank.MinScore,
	}, logger)

	// generator
	gen := generator.NewClient(generator.Config{
		BaseURL:   cfg.Generation.BaseURL,
		Timeout:   cfg.Generation.Timeout,
		MaxTokens: cfg.Generation.MaxTokens,
	}, logger)

	// question classifier; the ML head lives on the model service
	var qc *classifier.Classifier
	rules, err := classifier.LoadRules(cfg.Classifier.RulesPath)
	if err != nil {
		logger.Warn("Classifier rules unavailable, classification disabled", zap.Error(err))
	} else {
		qc = classifier.New(classifier.Config{
			MLBaseURL:     cfg.Generation.BaseURL,
			MLThreshold:   cfg.Classifier.MLThreshold,
			CacheCapacity: cfg.Classifier.CacheCapacity,
		}, rules, logger)
	}

	// external knowledge fallback
	var agent *fallback.Agent
	if cfg.Fallback.Enabled {
		agent, err = fallback.NewAgent(fallback.Config{
			Enabled:          true,
			Provider:         cfg.Fallback.Provider,
			MaxResults:       cfg.Fallback.MaxResults,
			ContentSizeCap:   cfg.Fallback.ContentSizeCap,
			SearchTimeout:    cfg.Fallback.SearchTimeout,
			FetchTimeout:     cfg.Fallback.FetchTimeout,
			TrustWeights:     cfg.Fallback.TrustWeights,
			MaxConcurrent:    cfg.Fallback.MaxConcurrent,
			RatePerSecond:    cfg.Fallback.RatePerSecond,
			WikipediaBaseURL: cfg.Fallback.BaseURL,
			SearchBaseURL:    cfg.Fallback.BaseURL,
			SearchAPIKey:     os.Getenv("FALLBACK_API_KEY"),
			LLMBaseURL:       cfg.Generation.BaseURL,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to construct fallback agent", zap.Error(err))
		}
	}

	// adaptive answer cache; demotes everything if the embedding model moved
	cache, err := answercache.Open(answercache.Config{
		Path:               cfg.Cache.Path,
		PromotionThreshold: cfg.Cache.PromotionThreshold,
		FlushEvery:         cfg.Cache.FlushEvery,
		KeywordJaccard:     cfg.Cache.KeywordJaccard,
		RedisAddr:          cfg.Cache.RedisAddr,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to open answer cache", zap.Error(err))
	}
	cache.SetEmbeddingVersion(startCtx, embedder.ModelVersion())

	// answer engine behind a swappable holder for hot reload
	holder := &engineHolder{}
	buildEngine := func(c *config.Config) (*answer.Engine, error) {
		return answer.NewEngine(engineConfig(c), answer.Deps{
			Store:      store,
			Retriever:  retr,
			Reranker:   rr,
			Generator:  gen,
			Classifier: classifierOrNil(qc),
			Fallback:   fallbackOrNil(agent),
			Cache:      cache,
			Embedder:   embedder,
			Logger:     logger,
		})
	}
	engine, err := buildEngine(cfg)
	if err != nil {
		logger.Fatal("Failed to construct answer engine", zap.Error(err))
	}
	holder.store(engine)

	// hot reload for gate/generation/limit tunables
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/qa.yaml"
	}
	if manager, err := config.NewManager(cfgPath, cfg, logger); err != nil {
		logger.Warn("Config watcher unavailable", zap.Error(err))
	} else {
		manager.OnChange(func(next *config.Config) {
			e, err := buildEngine(next)
			if err != nil {
				logger.Error("Reloaded config rejected by engine", zap.Error(err))
				return
			}
			holder.store(e)
			logger.Info("Answer engine reloaded with new thresholds")
		})
		if err := manager.Start(); err != nil {
			logger.Warn("Config watcher failed to start", zap.Error(err))
		} else {
			defer manager.Stop()
		}
	}

	// optional Redis for ingestion idempotency
	var idemRedis *redisv9.Client
	if cfg.Cache.RedisAddr != "" {
		idemRedis = redisv9.NewClient(&redisv9.Options{Addr: cfg.Cache.RedisAddr})
		defer idemRedis.Close()
	}

	// API surface
	apiMux := http.NewServeMux()
	httpapi.NewAnswerHandler(holder, logger).RegisterRoutes(apiMux)
	httpapi.NewDocumentsHandler(ingestor, logger).RegisterRoutes(apiMux)
	httpapi.NewFeedbackHandler(cache, logger).RegisterRoutes(apiMux)
	apiHandler := httpapi.NewIdempotency(idemRedis, logger).Middleware(apiMux)

	apiServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Service.Port),
		Handler:      apiHandler,
		ReadTimeout:  cfg.Service.ReadTimeout,
		WriteTimeout: cfg.Service.WriteTimeout,
	}

	// health surface
	hm := health.NewManager(logger)
	hm.Register(health.NewPingChecker("docstore", store, true))
	hm.Register(health.NewPingChecker("vectordb", vdb, true))
	hm.Register(health.NewModelServiceChecker("generator", cfg.Generation.BaseURL, true))
	if cfg.Embeddings.BaseURL != cfg.Generation.BaseURL {
		hm.Register(health.NewModelServiceChecker("embedder", cfg.Embeddings.BaseURL, true))
	}
	if cfg.Cache.RedisAddr != "" {
		hm.Register(health.NewRedisChecker(
			redisv8.NewClient(&redisv8.Options{Addr: cfg.Cache.RedisAddr}), nil))
	}
	healthMux := http.NewServeMux()
	hm.RegisterRoutes(healthMux)
	healthServer := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Service.HealthPort),
		Handler: healthMux,
	}

	// metrics surface
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Service.MetricsPort),
		Handler: metricsMux,
	}

	go serve(apiServer, "api", logger)
	go serve(healthServer, "health", logger)
	go serve(metricsServer, "metrics", logger)
	logger.Info("Service started",
		zap.Int("port", cfg.Service.Port),
		zap.Int("health_port", cfg.Service.HealthPort),
		zap.Int("metrics_port", cfg.Service.MetricsPort))

	// graceful shutdown: drain HTTP, then flush the answer cache
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Service.GracefulTimeout)
	defer shutdownCancel()
	for _, srv := range []*http.Server{apiServer, healthServer, metricsServer} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Server shutdown incomplete", zap.Error(err))
		}
	}
	if err := cache.Close(); err != nil {
		logger.Error("Answer cache close failed", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Trace flush incomplete", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

func serve(srv *http.Server, name string, logger *zap.Logger) {
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("Server failed", zap.String("server", name), zap.Error(err))
	}
}

// engineConfig maps the loaded file config onto engine thresholds
func engineConfig(c *config.Config) answer.Config {
	schedule := make([]generator.Params, 0, len(c.Generation.SamplingSchedule))
	for _, p := range c.Generation.SamplingSchedule {
		schedule = append(schedule, generator.Params{Temperature: p.Temperature, TopP: p.TopP})
	}
	return answer.Config{
		NCandidates:      c.Generation.NCandidates,
		MaxTokens:        c.Generation.MaxTokens,
		ContextBudget:    c.Generation.ContextBudget,
		SamplingSchedule: schedule,
		Weights: answer.Weights{
			Perplexity: c.Generation.Weights.Perplexity,
			Relevance:  c.Generation.Weights.Relevance,
			Quality:    c.Generation.Weights.Quality,
		},
		GroundingPhrases:   groundingPhrases,
		ConfidenceFloor:    c.Gate.ConfidenceFloor,
		MinAnswerLength:    c.Gate.MinAnswerLength,
		BannedPhrases:      c.Gate.BannedPhrases,
		PoorAnswerPatterns: c.Gate.PoorAnswerRegexes,
		SimilarityFloor:    c.Cache.SimilarityFloor,
		RetrieverTopK:      c.Retrieval.TopK,
		DefaultDeadline:    c.Deadlines.Total,
		MaxInFlight:        c.Limits.MaxInFlight,
		QueueSize:          c.Limits.QueueSize,
	}
}

// typed-nil guards: a nil concrete pointer must become a nil interface
func classifierOrNil(c *classifier.Classifier) answer.Classifier {
	if c == nil {
		return nil
	}
	return c
}

func fallbackOrNil(a *fallback.Agent) answer.FallbackAgent {
	if a == nil {
		return nil
	}
	return a
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
