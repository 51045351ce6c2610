package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gamereview/api/internal/analysis"
	"github.com/gamereview/api/internal/book"
	"github.com/gamereview/api/internal/config"
	"github.com/gamereview/api/internal/eval"
	"github.com/gamereview/api/internal/httpapi"
	"github.com/gamereview/api/internal/logx"
	"github.com/gamereview/api/internal/review"
	"github.com/gamereview/api/internal/store"
)

func main() {
	var (
		cfgPath   = flag.String("config", "", "path to config file (optional)")
		addr      = flag.String("addr", "", "listen address (overrides config)")
		stockfish = flag.String("stockfish", "", "path to Stockfish executable (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *stockfish != "" {
		cfg.StockfishPath = *stockfish
	}

	logger := logx.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := eval.NewEnginePool(eval.PoolConfig{
		StockfishPath: cfg.StockfishPath,
		Logger:        logger.With().Str("component", "engine-pool").Logger(),
		Workers:       cfg.EngineWorkers,
		HashMB:        cfg.EngineHashMB,
		Threads:       cfg.EngineThreads,
		Nice:          cfg.EngineNice,
		Timeout:       cfg.EngineTimeout,
		MaxRestarts:   cfg.EngineMaxRestarts,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create engine pool")
	}
	defer pool.Close()

	// Optional shared eval store so multiple instances reuse work.
	var shared eval.SharedStore
	if cfg.RedisAddr != "" {
		redisStore, err := store.NewRedisEvalStore(ctx, cfg.RedisAddr, cfg.RedisTTL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, running without shared eval store")
		} else {
			defer redisStore.Close()
			shared = redisStore
			logger.Info().Str("addr", cfg.RedisAddr).Msg("shared eval store connected")
		}
	}

	cache := eval.NewCache(cfg.CacheEntries, shared, logger.With().Str("component", "eval-cache").Logger())
	evaluator := eval.NewEvaluator(pool, cache, eval.EvaluatorConfig{
		Workers: cfg.EngineWorkers,
		Retries: cfg.EngineRetries,
		Logger:  logger.With().Str("component", "evaluator").Logger(),
	})

	var bookDB *book.Database
	if cfg.BookDir != "" {
		bookDB = book.NewDatabase()
		if err := bookDB.LoadDir(cfg.BookDir); err != nil {
			logger.Warn().Err(err).Str("dir", cfg.BookDir).Msg("failed to load opening book")
			bookDB = nil
		} else {
			logger.Info().Int("openings", bookDB.Count()).Msg("opening book loaded")
		}
	}

	analyzer := analysis.NewAnalyzer(evaluator, bookDB, analysis.AnalyzerConfig{
		Depth:        cfg.EngineDepth,
		BookPlyLimit: cfg.BookPlyLimit,
		Logger:       logger.With().Str("component", "analyzer").Logger(),
	})

	var analyses store.AnalysisStore
	if cfg.MongoURI != "" {
		mongoStore, err := store.NewMongoAnalysisStore(ctx, cfg.MongoURI, "gamereview")
		if err != nil {
			logger.Fatal().Err(err).Msg("connect mongo")
		}
		defer mongoStore.Close(context.Background())
		analyses = mongoStore
		logger.Info().Msg("mongo analysis store connected")
	} else {
		analyses = store.NewMemoryAnalysisStore(1000)
		logger.Info().Msg("using in-memory analysis store")
	}

	reviewer := review.NewClient(review.ClientConfig{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
		Logger:  logger.With().Str("component", "review").Logger(),
	})
	if !reviewer.Configured() {
		logger.Info().Msg("review disabled - set OPENAI_API_KEY to enable")
	}

	router := httpapi.NewRouter(httpapi.RouterConfig{
		Logger:   logger,
		Analyzer: analyzer,
		Store:    analyses,
		Reviewer: reviewer,
		Stats: func() map[string]any {
			return map[string]any{
				"pool":  pool.Stats(),
				"cache": cache.Stats(),
				"book":  bookDB.Count(),
				"depth": cfg.EngineDepth,
			}
		},
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // analyses of long games take a while
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Int("depth", cfg.EngineDepth).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("api server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown error")
	}

	logger.Info().Msg("shutdown complete")
}
