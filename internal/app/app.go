// -----------------------------------------------------------------------
// Package app wires configuration, the browser pool, the tool site
// executor and the batch scheduler into a runnable pipeline.
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/imago/internal/common"
	"github.com/ternarybob/imago/internal/models"
	"github.com/ternarybob/imago/internal/pipeline"
	"github.com/ternarybob/imago/internal/services/archive"
	"github.com/ternarybob/imago/internal/services/browser"
	"github.com/ternarybob/imago/internal/services/imagestool"
)

// App holds the application configuration and drives batch runs.
//
// Browser instances live for exactly one batch run: RunBatch starts a
// fresh pool and the scheduler releases it when the run settles, so a
// scheduled re-run never inherits a stale Chrome session.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	cron *cron.Cron

	// mu guards running so scheduled triggers can skip instead of
	// stacking up behind an in-flight batch.
	mu      sync.Mutex
	running bool
}

// New creates the application from a validated configuration
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if logger == nil {
		logger = common.GetLogger()
	}

	return &App{
		Config: cfg,
		Logger: logger,
	}, nil
}

// RunBatch enumerates job folders under the source root and processes
// them all in one scheduler run. Job-level failures are recorded in the
// summary; the returned error covers only setup problems (no jobs, pool
// startup) that prevent the run from starting at all.
func (a *App) RunBatch(ctx context.Context) (models.BatchSummary, error) {
	runID := common.NewRunID()
	logger := a.Logger.WithCorrelationId(runID)

	jobs, err := pipeline.EnumerateJobs(a.Config.Source.Dir, a.Config.Source.OutputFolder)
	if err != nil {
		return models.BatchSummary{}, fmt.Errorf("enumerating job folders: %w", err)
	}
	if len(jobs) == 0 {
		return models.BatchSummary{}, fmt.Errorf("no job folders found under %s", a.Config.Source.Dir)
	}

	slots := pipeline.ClampParallelism(a.Config.Pipeline.Parallelism)

	logger.Info().
		Str("run_id", runID).
		Str("source", a.Config.Source.Dir).
		Int("jobs", len(jobs)).
		Int("parallelism", slots).
		Str("format", a.Config.Pipeline.Format).
		Msg("Starting batch run")

	pool, err := browser.NewPool(browser.PoolConfig{
		Slots:     slots,
		Headless:  a.Config.Browser.Headless,
		UserAgent: a.Config.Browser.UserAgent,
	}, logger)
	if err != nil {
		return models.BatchSummary{}, fmt.Errorf("starting browser pool: %w", err)
	}

	executor := imagestool.NewExecutor(pool, a.toolConfig(), imagestool.WithLogger(logger))
	expander := archive.NewExpander(logger)
	runner := pipeline.NewRunner(executor, expander, a.Config.Pipeline.Format, logger)
	scheduler := pipeline.NewScheduler(runner, pool, slots, logger)

	// The scheduler owns the pool from here and shuts it down when the
	// run settles.
	summary := scheduler.Run(ctx, jobs)

	a.logSummary(logger, summary)
	return summary, nil
}

// toolConfig maps the user-facing tool settings onto the executor
// configuration. Endpoint URLs are not user-configurable; the executor
// fills in its defaults.
func (a *App) toolConfig() imagestool.Config {
	return imagestool.Config{
		NavigationTimeout: a.Config.Tool.NavigationTimeout,
		SettleTimeout:     a.Config.Tool.SettleTimeout,
		ProcessingTimeout: a.Config.Tool.ProcessingTimeout,
		DownloadTimeout:   a.Config.Tool.DownloadTimeout,
		SubmitInterval:    a.Config.Tool.SubmitInterval,
	}
}

// logSummary writes the end-of-run report: aggregate counts first, then
// one line per job so failures are attributable without digging through
// the run's interleaved logs.
func (a *App) logSummary(logger arbor.ILogger, summary models.BatchSummary) {
	logger.Info().
		Int("total", summary.Total).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Str("duration", summary.Duration.Round(timeRounding).String()).
		Msg("Batch run summary")

	for _, outcome := range summary.Outcomes {
		switch outcome.Status {
		case models.JobStatusFailed:
			logger.Error().
				Str("job", outcome.Name).
				Str("state", string(outcome.FinalState)).
				Str("error", outcome.Error).
				Msg("Job failed")
		case models.JobStatusSkipped:
			logger.Warn().
				Str("job", outcome.Name).
				Str("reason", outcome.Error).
				Msg("Job skipped")
		default:
			logger.Info().
				Str("job", outcome.Name).
				Int("images", outcome.ImagesFound).
				Int("converted", outcome.Converted).
				Int("compressed", outcome.Compressed).
				Bool("fallback", outcome.FallbackUsed).
				Str("duration", outcome.Duration().Round(timeRounding).String()).
				Msg("Job completed")
		}
	}
}

// Close stops the schedule if one is running. Per-run resources are
// released by the scheduler itself.
func (a *App) Close() error {
	a.StopSchedule()
	return nil
}
