package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/imago/internal/interfaces"
	"github.com/ternarybob/imago/internal/models"
)

// Parallelism bounds. Values outside this range are clamped, not rejected.
const (
	MinParallelism = 1
	MaxParallelism = 10
)

// ClampParallelism forces a parallelism value into the supported range
func ClampParallelism(n int) int {
	if n < MinParallelism {
		return MinParallelism
	}
	if n > MaxParallelism {
		return MaxParallelism
	}
	return n
}

// Scheduler partitions jobs into consecutive batches of the configured
// parallelism and runs each batch's jobs concurrently, one browser slot
// per in-flight job. Batch k+1 never starts before every job of batch k
// has a settled outcome.
//
// Jobs are isolated by partitioning: each task writes only its own entry
// of the outcome slice and its own output directory, so no locking is
// needed between them.
type Scheduler struct {
	runner      *Runner
	pool        interfaces.ContextPool
	parallelism int
	logger      arbor.ILogger
}

// NewScheduler creates a scheduler running at the given parallelism.
// Parallelism is clamped to [MinParallelism, MaxParallelism] and further
// limited by the pool size.
func NewScheduler(runner *Runner, pool interfaces.ContextPool, parallelism int, logger arbor.ILogger) *Scheduler {
	clamped := ClampParallelism(parallelism)
	if clamped != parallelism {
		logger.Warn().
			Int("requested", parallelism).
			Int("clamped", clamped).
			Msg("Parallelism outside supported range, clamping")
	}
	if pool != nil && pool.Size() < clamped {
		clamped = pool.Size()
	}
	// A degraded pool must never zero the batch size
	if clamped < MinParallelism {
		clamped = MinParallelism
	}

	return &Scheduler{
		runner:      runner,
		pool:        pool,
		parallelism: clamped,
		logger:      logger,
	}
}

// Parallelism returns the effective batch size after clamping
func (s *Scheduler) Parallelism() int {
	return s.parallelism
}

// Run processes all jobs in batches and returns the aggregated summary.
// One job's failure never aborts its siblings or later batches; every
// job gets a recorded outcome. The pool is released exactly once before
// Run returns, even if a job panics.
func (s *Scheduler) Run(ctx context.Context, jobs []models.Job) models.BatchSummary {
	started := time.Now()
	defer s.pool.Shutdown()

	s.logger.Info().
		Int("jobs", len(jobs)).
		Int("parallelism", s.parallelism).
		Msg("Starting batch run")

	outcomes := make([]models.JobOutcome, len(jobs))

	for batchStart := 0; batchStart < len(jobs); batchStart += s.parallelism {
		batchEnd := min(batchStart+s.parallelism, len(jobs))
		batch := jobs[batchStart:batchEnd]

		s.logger.Info().
			Int("batch", batchStart/s.parallelism+1).
			Int("size", len(batch)).
			Msg("Starting batch")

		var wg sync.WaitGroup
		for i, job := range batch {
			wg.Add(1)
			slot := i
			index := batchStart + i

			go func() {
				jobStarted := time.Now()
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						buf := make([]byte, 4096)
						n := runtime.Stack(buf, false)

						s.logger.Error().
							Str("job", job.Name).
							Str("panic", fmt.Sprintf("%v", r)).
							Str("stack", string(buf[:n])).
							Msg("Recovered from panic in job task")

						outcomes[index] = models.JobOutcome{
							JobID:       job.ID,
							Name:        job.Name,
							Status:      models.JobStatusFailed,
							FinalState:  models.StateFailed,
							Error:       fmt.Sprintf("job panicked: %v", r),
							StartedAt:   jobStarted,
							CompletedAt: time.Now(),
						}
					}
				}()

				outcomes[index] = s.runner.Run(ctx, job, slot)
			}()
		}
		wg.Wait()
	}

	summary := models.Summarize(started, time.Now(), outcomes)

	s.logger.Info().
		Int("total", summary.Total).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Dur("duration", summary.Duration).
		Msg("Batch run completed")

	return summary
}
