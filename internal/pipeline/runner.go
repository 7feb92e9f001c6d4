package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nbapred/pipeline/internal/client"
	"nbapred/pipeline/internal/features"
	"nbapred/pipeline/internal/metrics"
	"nbapred/pipeline/internal/models"
	"nbapred/pipeline/internal/predictor"
	"nbapred/pipeline/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ConfigurationError marks an invalid run configuration: a bad step
// sequence, a missing flag pairing, an unwired component. It is always
// raised before any I/O happens.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

func configErrorf(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// Collector produces the finished games for a date.
type Collector interface {
	Collect(ctx context.Context, date string) ([]models.Game, error)
}

// StandingsProvider resolves the standings snapshot for a date.
type StandingsProvider interface {
	ForDate(ctx context.Context, date string) (*models.Standings, error)
}

// FeatureExtractor derives the feature vector for one game.
type FeatureExtractor interface {
	Extract(ctx context.Context, game *models.Game, standings *models.Standings) (models.FeatureVector, error)
}

// Predictor scores one featured event.
type Predictor interface {
	Predict(event models.FeaturedEvent) (*models.Prediction, error)
}

// PredictionStore persists predictions.
type PredictionStore interface {
	Save(ctx context.Context, pred *models.Prediction, overwrite bool) (repository.SaveOutcome, error)
}

// Components wires the step implementations into a runner. A partial
// run only needs the components of the steps it executes; the plan
// check rejects a run whose span touches a nil component.
type Components struct {
	Collector Collector
	Standings StandingsProvider
	Features  FeatureExtractor
	Predictor Predictor
	Store     PredictionStore
}

// Runner executes a contiguous span of pipeline steps for one date,
// sequentially, accumulating per-event failures instead of aborting
// the batch.
type Runner struct {
	c Components
}

// NewRunner creates a pipeline runner.
func NewRunner(c Components) *Runner {
	return &Runner{c: c}
}

// RunOptions configures a single pipeline run.
type RunOptions struct {
	Date       string // target date, YYYY-MM-DD
	From       Step   // first step to execute; empty means collection
	Until      Step   // last step to execute; empty means storage
	InputPath  string // checkpoint to start from, required when From > collection
	OutputPath string // checkpoint to write, required when Until < storage
	Force      bool   // overwrite stored predictions
}

// RunSummary reports what a run did. Per-event skips and failures are
// accumulated here rather than aborting the batch.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	TargetDate string    `json:"target_date"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Found      int       `json:"found"`
	Processed  int       `json:"processed"`
	Saved      int       `json:"saved"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Errors     []string  `json:"errors,omitempty"`
}

// Duration returns the wall-clock duration of the run.
func (s *RunSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

type plan struct {
	from  Step
	until Step
}

// Run executes the configured span of steps. The returned summary is
// non-nil whenever the configuration was valid, even if the run
// failed partway.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*RunSummary, error) {
	p, err := r.plan(&opts)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{
		RunID:      uuid.NewString(),
		TargetDate: opts.Date,
		StartedAt:  time.Now().UTC(),
	}

	log.Info().
		Str("run_id", summary.RunID).
		Str("date", opts.Date).
		Str("from", string(p.from)).
		Str("until", string(p.until)).
		Msg("Pipeline run starting")

	start := time.Now()
	err = r.run(ctx, p, opts, summary)
	summary.FinishedAt = time.Now().UTC()

	status := "success"
	if err != nil {
		status = "failure"
		metrics.RecordError("pipeline", "run_failed")
		log.Error().Err(err).Str("run_id", summary.RunID).Msg("Pipeline run failed")
	} else {
		log.Info().
			Str("run_id", summary.RunID).
			Int("found", summary.Found).
			Int("processed", summary.Processed).
			Int("saved", summary.Saved).
			Int("skipped", summary.Skipped).
			Int("failed", summary.Failed).
			Dur("duration", summary.Duration()).
			Msg("Pipeline run finished")
	}
	metrics.RecordRun(status, time.Since(start).Seconds())

	return summary, err
}

// plan validates the run configuration. Nothing here performs I/O;
// every rejection is a ConfigurationError surfaced before any work.
func (r *Runner) plan(opts *RunOptions) (plan, error) {
	if opts.From == "" {
		opts.From = StepCollection
	}
	if opts.Until == "" {
		opts.Until = StepStorage
	}

	if opts.From.index() < 0 {
		return plan{}, configErrorf("unknown step %q", opts.From)
	}
	if opts.Until.index() < 0 {
		return plan{}, configErrorf("unknown step %q", opts.Until)
	}
	if opts.From.index() > opts.Until.index() {
		return plan{}, configErrorf("step %q cannot run after %q", opts.From, opts.Until)
	}

	if opts.From != StepCollection && opts.InputPath == "" {
		return plan{}, configErrorf("starting from step %q requires an input checkpoint", opts.From)
	}
	if opts.From == StepCollection && opts.InputPath != "" {
		return plan{}, configErrorf("an input checkpoint is only valid when starting after collection")
	}
	if opts.Until != StepStorage && opts.OutputPath == "" {
		return plan{}, configErrorf("stopping at step %q requires an output checkpoint", opts.Until)
	}

	if opts.From == StepCollection {
		if opts.Date == "" {
			return plan{}, configErrorf("a target date is required when collection runs")
		}
		if _, err := time.Parse("2006-01-02", opts.Date); err != nil {
			return plan{}, configErrorf("invalid date %q (want YYYY-MM-DD)", opts.Date)
		}
	}

	for _, step := range span(opts.From, opts.Until) {
		switch step {
		case StepCollection:
			if r.c.Collector == nil {
				return plan{}, configErrorf("collection step requires a collector")
			}
		case StepFeatures:
			if r.c.Features == nil || r.c.Standings == nil {
				return plan{}, configErrorf("features step requires a feature engineer and a standings provider")
			}
		case StepPrediction:
			if r.c.Predictor == nil {
				return plan{}, configErrorf("prediction step requires a prediction adapter")
			}
		case StepStorage:
			if r.c.Store == nil {
				return plan{}, configErrorf("storage step requires a prediction store")
			}
		}
	}

	return plan{from: opts.From, until: opts.Until}, nil
}

func (r *Runner) run(ctx context.Context, p plan, opts RunOptions, summary *RunSummary) error {
	var (
		games  []models.Game
		events []models.FeaturedEvent
		preds  []*models.Prediction
	)

	// A run that starts after collection consumes a checkpoint from the
	// step right before its starting step.
	if p.from != StepCollection {
		var meta Metadata
		var err error
		switch p.from {
		case StepFeatures:
			games, meta, err = ReadGames(opts.InputPath)
		case StepPrediction:
			events, meta, err = ReadFeatured(opts.InputPath)
		case StepStorage:
			preds, meta, err = ReadPredictions(opts.InputPath)
		}
		if err != nil {
			return err
		}

		summary.Found = meta.TotalItems
		if meta.TargetDate != "" {
			summary.TargetDate = meta.TargetDate
		}
		log.Info().
			Str("input", opts.InputPath).
			Str("step", string(meta.Step)).
			Int("items", meta.TotalItems).
			Msg("Checkpoint loaded")
	}

	for _, step := range span(p.from, p.until) {
		if err := ctx.Err(); err != nil {
			return err
		}
		stepStart := time.Now()

		switch step {
		case StepCollection:
			collected, err := r.c.Collector.Collect(ctx, opts.Date)
			if err != nil {
				return err
			}
			games = collected
			summary.Found = len(games)

		case StepFeatures:
			standings, err := r.c.Standings.ForDate(ctx, summary.TargetDate)
			if err != nil {
				return fmt.Errorf("failed to resolve standings: %w", err)
			}

			events = make([]models.FeaturedEvent, 0, len(games))
			for i := range games {
				game := games[i]
				fv, err := r.c.Features.Extract(ctx, &game, standings)
				if err != nil {
					if !skippable(err) {
						return err
					}
					recordSkip(summary, step, game.GameID, err)
					continue
				}
				events = append(events, models.FeaturedEvent{
					GameID:   game.GameID,
					Game:     game,
					Features: fv,
				})
			}

		case StepPrediction:
			preds = make([]*models.Prediction, 0, len(events))
			for _, event := range events {
				pred, err := r.c.Predictor.Predict(event)
				if err != nil {
					var loadErr *predictor.ModelLoadError
					if errors.As(err, &loadErr) {
						return err
					}
					recordSkip(summary, step, event.GameID, err)
					continue
				}
				preds = append(preds, pred)
			}

		case StepStorage:
			for _, pred := range preds {
				outcome, err := r.c.Store.Save(ctx, pred, opts.Force)
				if err != nil {
					recordFailure(summary, pred.GameID, err)
					continue
				}
				if outcome == repository.SaveSkipped {
					log.Debug().Str("game_id", pred.GameID).Msg("Prediction already stored")
					summary.Skipped++
					continue
				}
				summary.Saved++
			}
		}

		metrics.RecordStep(string(step), time.Since(stepStart).Seconds())
	}

	switch p.until {
	case StepCollection:
		summary.Processed = len(games)
	case StepFeatures:
		summary.Processed = len(events)
	case StepPrediction:
		summary.Processed = len(preds)
	case StepStorage:
		summary.Processed = len(preds) - summary.Failed
	}

	if opts.OutputPath != "" {
		if err := r.writeOutput(p.until, opts, summary, games, events, preds); err != nil {
			return err
		}
	}

	return nil
}

func (r *Runner) writeOutput(until Step, opts RunOptions, summary *RunSummary, games []models.Game, events []models.FeaturedEvent, preds []*models.Prediction) error {
	meta := Metadata{
		Step:        until,
		Timestamp:   time.Now().UTC(),
		TargetDate:  summary.TargetDate,
		InputSource: opts.InputPath,
		RunID:       summary.RunID,
	}

	var err error
	switch until {
	case StepCollection:
		err = WriteGames(opts.OutputPath, meta, games)
	case StepFeatures:
		err = WriteFeatured(opts.OutputPath, meta, events)
	case StepPrediction:
		err = WritePredictions(opts.OutputPath, meta, preds)
	case StepStorage:
		// Storage transforms nothing; the portable artifact after it is
		// still the prediction batch, stamped with its producing step.
		meta.Step = StepPrediction
		err = WritePredictions(opts.OutputPath, meta, preds)
	}
	if err != nil {
		return err
	}

	log.Info().
		Str("path", opts.OutputPath).
		Str("step", string(meta.Step)).
		Msg("Checkpoint written")
	return nil
}

// skippable reports whether an error aborts only the affected event.
// Collection failures (retry budget exhausted on a per-event fetch)
// and feature validation failures skip the event; everything else is
// fatal to the run.
func skippable(err error) bool {
	var vErr *features.ValidationError
	if errors.As(err, &vErr) {
		return true
	}
	var cErr *client.CollectionError
	return errors.As(err, &cErr)
}

func recordSkip(summary *RunSummary, step Step, gameID string, err error) {
	log.Warn().Err(err).Str("game_id", gameID).Str("step", string(step)).Msg("Skipping event")
	metrics.RecordEventSkip(string(step))
	summary.Skipped++
	summary.Errors = append(summary.Errors, fmt.Sprintf("%s: game %s: %v", step, gameID, err))
}

func recordFailure(summary *RunSummary, gameID string, err error) {
	log.Error().Err(err).Str("game_id", gameID).Msg("Failed to save prediction")
	metrics.RecordError("storage", "save_failed")
	summary.Failed++
	summary.Errors = append(summary.Errors, fmt.Sprintf("storage: game %s: %v", gameID, err))
}
