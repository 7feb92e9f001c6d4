package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"nbapred/pipeline/internal/cache"
	"nbapred/pipeline/internal/client"
	"nbapred/pipeline/internal/collector"
	"nbapred/pipeline/internal/config"
	"nbapred/pipeline/internal/features"
	"nbapred/pipeline/internal/history"
	"nbapred/pipeline/internal/metrics"
	"nbapred/pipeline/internal/pipeline"
	"nbapred/pipeline/internal/predictor"
	"nbapred/pipeline/internal/repository"
	"nbapred/pipeline/internal/scheduler"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Setup logger
	setupLogger()

	log.Info().Msg("Starting NBA prediction worker")

	// Load configuration
	cfg := config.MustLoad()
	log.Info().
		Str("env", cfg.AppEnv).
		Str("log_level", cfg.LogLevel).
		Msg("Configuration loaded")

	// The worker always runs the full pipeline, so the prediction and
	// storage credentials are checked at startup, not at the first cron
	// trigger.
	if err := cfg.RequireModel(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if err := cfg.RequireDatabase(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Create context that listens for cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Received shutdown signal, gracefully shutting down...")
		cancel()
	}()

	// Initialize NBA stats client
	statsClient := client.NewClient(client.Config{
		BaseURL:        cfg.APIBaseURL,
		Timeout:        cfg.APITimeout,
		RateLimitDelay: cfg.APIRateLimitDelay,
		RetryAttempts:  cfg.APIRetryAttempts,
		RetryBaseDelay: cfg.APIRetryBaseDelay,
	})
	log.Info().Msg("NBA stats client initialized")

	// Initialize database connection
	db, err := repository.NewDatabase(ctx, cfg.DatabaseDSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.VerifySchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("Schema verification failed")
	}
	log.Info().Msg("Database connection established")

	// Initialize Redis cache
	var store cache.Cache = cache.NewNoop()
	if cfg.CacheEnabled {
		redisCache, err := cache.NewRedisCache(cache.Config{
			Host:     cfg.RedisHost,
			Port:     strconv.Itoa(cfg.RedisPort),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to Redis - continuing without cache")
		} else {
			defer redisCache.Close()
			store = redisCache
			log.Info().Msg("Redis cache connected")
		}
	}

	// Wire the pipeline
	rivalry := history.NewRivalryCalculator(statsClient, store, history.RivalryConfig{
		WindowYears:     cfg.RivalryWindowYears,
		CloseGameMargin: cfg.RivalryCloseMargin,
		Saturation:      cfg.RivalrySaturation,
		CacheTTL:        cfg.CacheTTLHistory,
	})
	competitive := history.NewCompetitiveCalculator(statsClient, cfg.CompetitiveMargin)

	runner := pipeline.NewRunner(pipeline.Components{
		Collector: collector.New(statsClient),
		Standings: collector.NewStandingsProvider(statsClient, store, cfg.CacheTTLStandings),
		Features:  features.NewEngineer(rivalry, competitive),
		Predictor: predictor.NewAdapter(predictor.NewLoader(cfg.ModelPath), predictor.Config{
			GoodThreshold:    cfg.GoodThreshold,
			ConfidenceHigh:   cfg.ConfidenceHigh,
			ConfidenceMedium: cfg.ConfidenceMedium,
		}),
		Store: db.Predictions,
	})

	// Start metrics HTTP server
	if cfg.EnableMetrics {
		go startMetricsServer(strconv.Itoa(cfg.MetricsPort))
	}

	// Update system uptime and pool gauges
	startTime := time.Now()
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				metrics.SystemUptime.Set(time.Since(startTime).Seconds())
				stat := db.Pool.Stat()
				metrics.UpdateDBConnectionStats(stat.AcquiredConns(), stat.IdleConns())
			case <-ctx.Done():
				return
			}
		}
	}()

	// Create and start scheduler
	sched := scheduler.NewScheduler(cfg, runner)

	log.Info().Msg("Starting scheduler...")
	if err := sched.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	// Keep running until context is cancelled
	<-ctx.Done()

	// Graceful shutdown
	log.Info().Msg("Shutting down scheduler...")
	sched.Stop()

	log.Info().Msg("Worker shutdown complete")
}

// setupLogger configures the zerolog logger
func setupLogger() {
	// Pretty console logging in development
	if os.Getenv("APP_ENV") == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	// Set log level
	level := zerolog.InfoLevel
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		parsedLevel, err := zerolog.ParseLevel(lvl)
		if err == nil {
			level = parsedLevel
		}
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("level", level.String()).
		Msg("Logger initialized")
}

// startMetricsServer starts the Prometheus metrics HTTP server
func startMetricsServer(port string) {
	http.Handle("/metrics", promhttp.Handler())

	// Health check endpoint
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	addr := fmt.Sprintf(":%s", port)
	log.Info().Str("port", port).Msg("Starting metrics server")

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Error().Err(err).Msg("Metrics server failed")
	}
}
