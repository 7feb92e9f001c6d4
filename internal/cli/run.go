package cli

import (
	"context"
	"fmt"
	"io"
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
	"nbapred/pipeline/internal/pipeline"
	"nbapred/pipeline/internal/predictor"
	"nbapred/pipeline/internal/repository"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// runFlags is a snapshot of the root command flags. Keeping flag
// validation on a value type lets tests exercise every pairing rule
// without executing the command.
type runFlags struct {
	date      string
	force     bool
	fromStep  string
	untilStep string
	input     string
	output    string
}

func currentFlags() runFlags {
	return runFlags{
		date:      flagDate,
		force:     flagForce,
		fromStep:  flagFromStep,
		untilStep: flagUntilStep,
		input:     flagInput,
		output:    flagOutput,
	}
}

func runRoot(cmd *cobra.Command, args []string) error {
	if flagValidate {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runValidate(ctx, cmd.OutOrStdout(), cfg)
	}

	// Flag pairing and step ordering are rejected before configuration
	// is read, so a bad invocation never touches the network.
	opts, err := buildRunOptions(currentFlags(), time.Now())
	if err != nil {
		return err
	}
	steps, err := pipeline.Span(opts.From, opts.Until)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	comp, cleanup, err := buildComponents(ctx, cfg, steps)
	defer cleanup()
	if err != nil {
		return err
	}

	summary, err := pipeline.NewRunner(comp).Run(ctx, opts)
	if err != nil {
		return err
	}

	if !flagQuiet {
		printSummary(cmd.OutOrStdout(), summary)
	}
	if summary.Failed > 0 {
		return fmt.Errorf("run finished with %d storage failure(s)", summary.Failed)
	}
	return nil
}

// buildRunOptions turns the CLI flags into run options. Every rejection
// here is a usage error surfaced before any work starts.
func buildRunOptions(f runFlags, now time.Time) (pipeline.RunOptions, error) {
	opts := pipeline.RunOptions{
		Force:      f.force,
		InputPath:  f.input,
		OutputPath: f.output,
	}

	if f.fromStep != "" {
		step, err := pipeline.ParseStep(f.fromStep)
		if err != nil {
			return pipeline.RunOptions{}, err
		}
		if step == pipeline.StepCollection {
			return pipeline.RunOptions{}, fmt.Errorf("--from-step cannot name collection; runs start there unless resumed")
		}
		opts.From = step
	}
	if f.untilStep != "" {
		step, err := pipeline.ParseStep(f.untilStep)
		if err != nil {
			return pipeline.RunOptions{}, err
		}
		opts.Until = step
	}

	if f.fromStep != "" && f.input == "" {
		return pipeline.RunOptions{}, fmt.Errorf("--from-step requires --input")
	}
	if f.input != "" && f.fromStep == "" {
		return pipeline.RunOptions{}, fmt.Errorf("--input requires --from-step")
	}
	if f.untilStep != "" && f.output == "" {
		return pipeline.RunOptions{}, fmt.Errorf("--until-step requires --output")
	}

	date := f.date
	if date == "" {
		date = now.AddDate(0, 0, -1).Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return pipeline.RunOptions{}, fmt.Errorf("invalid --date %q (want YYYY-MM-DD)", f.date)
	}
	opts.Date = date

	return opts, nil
}

// buildComponents wires only the components the planned steps need, so
// a partial run does not demand credentials for steps it never reaches.
// The returned cleanup func is safe to call even when err is non-nil.
func buildComponents(ctx context.Context, cfg *config.Config, steps []pipeline.Step) (pipeline.Components, func(), error) {
	needs := make(map[pipeline.Step]bool, len(steps))
	for _, s := range steps {
		needs[s] = true
	}

	var comp pipeline.Components
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if needs[pipeline.StepCollection] || needs[pipeline.StepFeatures] {
		statsClient := client.NewClient(client.Config{
			BaseURL:        cfg.APIBaseURL,
			Timeout:        cfg.APITimeout,
			RateLimitDelay: cfg.APIRateLimitDelay,
			RetryAttempts:  cfg.APIRetryAttempts,
			RetryBaseDelay: cfg.APIRetryBaseDelay,
		})

		if needs[pipeline.StepCollection] {
			comp.Collector = collector.New(statsClient)
		}
		if needs[pipeline.StepFeatures] {
			store := newCacheStore(cfg, &closers)
			comp.Standings = collector.NewStandingsProvider(statsClient, store, cfg.CacheTTLStandings)

			rivalry := history.NewRivalryCalculator(statsClient, store, history.RivalryConfig{
				WindowYears:     cfg.RivalryWindowYears,
				CloseGameMargin: cfg.RivalryCloseMargin,
				Saturation:      cfg.RivalrySaturation,
				CacheTTL:        cfg.CacheTTLHistory,
			})
			competitive := history.NewCompetitiveCalculator(statsClient, cfg.CompetitiveMargin)
			comp.Features = features.NewEngineer(rivalry, competitive)
		}
	}

	if needs[pipeline.StepPrediction] {
		if err := cfg.RequireModel(); err != nil {
			return comp, cleanup, &pipeline.ConfigurationError{Reason: err.Error()}
		}
		comp.Predictor = predictor.NewAdapter(predictor.NewLoader(cfg.ModelPath), predictor.Config{
			GoodThreshold:    cfg.GoodThreshold,
			ConfidenceHigh:   cfg.ConfidenceHigh,
			ConfidenceMedium: cfg.ConfidenceMedium,
		})
	}

	if needs[pipeline.StepStorage] {
		if err := cfg.RequireDatabase(); err != nil {
			return comp, cleanup, &pipeline.ConfigurationError{Reason: err.Error()}
		}
		db, err := repository.NewDatabase(ctx, cfg.DatabaseDSN())
		if err != nil {
			return comp, cleanup, fmt.Errorf("failed to connect to database: %w", err)
		}
		closers = append(closers, db.Close)
		if err := db.VerifySchema(ctx); err != nil {
			return comp, cleanup, err
		}
		comp.Store = db.Predictions
	}

	return comp, cleanup, nil
}

// newCacheStore picks the cache backend for one run: Redis when it is
// reachable, an in-process cache otherwise. The pipeline works the same
// either way, cold caches just cost extra API calls.
func newCacheStore(cfg *config.Config, closers *[]func()) cache.Cache {
	if !cfg.CacheEnabled {
		return cache.NewNoop()
	}

	redisCache, err := cache.NewRedisCache(cache.Config{
		Host:     cfg.RedisHost,
		Port:     strconv.Itoa(cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to connect to Redis - continuing with in-process cache")
		return cache.NewMemoryCache(cfg.CacheTTLStandings, 10*time.Minute)
	}

	*closers = append(*closers, func() { _ = redisCache.Close() })
	return redisCache
}

// runValidate checks the pieces a full run would need and stops before
// any game is processed: configuration, the model artifact, and the
// database schema.
func runValidate(ctx context.Context, out io.Writer, cfg *config.Config) error {
	fmt.Fprintln(out, "configuration: ok")

	if err := cfg.RequireModel(); err != nil {
		return err
	}
	model, err := predictor.NewLoader(cfg.ModelPath).Load()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "model: ok (version %s, features %s)\n", model.Version(), model.FeatureVersion())

	if err := cfg.RequireDatabase(); err != nil {
		return err
	}
	db, err := repository.NewDatabase(ctx, cfg.DatabaseDSN())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.VerifySchema(ctx); err != nil {
		return err
	}
	stats, err := db.Predictions.Stats(ctx)
	if err != nil {
		return err
	}
	if stats.LatestGameDate != "" {
		fmt.Fprintf(out, "database: ok (%d predictions stored, latest game %s)\n", stats.TotalPredictions, stats.LatestGameDate)
	} else {
		fmt.Fprintf(out, "database: ok (%d predictions stored)\n", stats.TotalPredictions)
	}

	return nil
}

func printSummary(out io.Writer, s *pipeline.RunSummary) {
	fmt.Fprintf(out, "run %s  date %s  duration %s\n", s.RunID, s.TargetDate, s.Duration().Round(time.Millisecond))
	fmt.Fprintf(out, "  found      %d\n", s.Found)
	fmt.Fprintf(out, "  processed  %d\n", s.Processed)
	fmt.Fprintf(out, "  saved      %d\n", s.Saved)
	fmt.Fprintf(out, "  skipped    %d\n", s.Skipped)
	fmt.Fprintf(out, "  failed     %d\n", s.Failed)
	for _, msg := range s.Errors {
		fmt.Fprintf(out, "  error: %s\n", msg)
	}
}

// setupLogging mirrors the worker's logger setup. Logs go to stderr so
// summaries and checkpoints on stdout stay machine-readable.
func setupLogging(cfg *config.Config) {
	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
