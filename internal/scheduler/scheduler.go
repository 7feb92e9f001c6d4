package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nbapred/pipeline/internal/config"
	"nbapred/pipeline/internal/pipeline"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// PipelineRunner runs one pipeline pass.
type PipelineRunner interface {
	Run(ctx context.Context, opts pipeline.RunOptions) (*pipeline.RunSummary, error)
}

// Scheduler triggers a daily pipeline run for the previous day's games.
// Finished games only appear after the slate ends, so the cron fires
// once per morning rather than polling.
type Scheduler struct {
	cfg    *config.Config
	runner PipelineRunner
	cron   *cron.Cron
	mu     sync.Mutex
}

// NewScheduler creates a new scheduler instance
func NewScheduler(cfg *config.Config, runner PipelineRunner) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		runner: runner,
		cron:   cron.New(),
	}
}

// Start registers the cron entry and begins scheduling. When
// RUN_ON_START is set, one run fires immediately in the background.
func (s *Scheduler) Start(ctx context.Context) error {
	log.Info().Msg("Scheduler starting...")

	if _, err := s.cron.AddFunc(s.cfg.PipelineCron, func() {
		s.runOnce(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule pipeline run: %w", err)
	}

	s.cron.Start()
	log.Info().
		Str("schedule", s.cfg.PipelineCron).
		Msg("Pipeline run scheduled")

	if s.cfg.RunOnStart {
		log.Info().Msg("Running pipeline on startup...")
		go s.runOnce(ctx)
	}

	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	log.Info().Msg("Stopping scheduler...")

	if s.cron != nil {
		s.cron.Stop()
	}

	log.Info().Msg("Scheduler stopped")
}

// runOnce runs the pipeline for yesterday's date. Triggers that arrive
// while a run is still in flight are dropped, not queued; the next
// scheduled run covers the same data anyway.
func (s *Scheduler) runOnce(ctx context.Context) {
	if !s.mu.TryLock() {
		log.Warn().Msg("Previous pipeline run still in progress, skipping this trigger")
		return
	}
	defer s.mu.Unlock()

	date := time.Now().AddDate(0, 0, -1).Format("2006-01-02")
	log.Info().Str("date", date).Msg("Scheduled pipeline run starting")

	summary, err := s.runner.Run(ctx, pipeline.RunOptions{Date: date})
	if err != nil {
		log.Error().Err(err).Str("date", date).Msg("Scheduled pipeline run failed")
		return
	}

	log.Info().
		Str("run_id", summary.RunID).
		Str("date", date).
		Int("found", summary.Found).
		Int("saved", summary.Saved).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Msg("Scheduled pipeline run complete")
}
