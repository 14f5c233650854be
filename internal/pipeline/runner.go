package pipeline

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/imago/internal/interfaces"
	"github.com/ternarybob/imago/internal/models"
)

// workDirName is the job-scoped directory where the converted image set
// is staged between the convert and compress stages.
const workDirName = "converted"

// Runner drives one job through the fixed stage sequence: discover the
// input set, convert it, work out what the convert stage produced,
// compress, then normalize the output directory.
//
// A runner never panics past Run and never returns an unsettled job: the
// scheduler always receives a terminal outcome.
type Runner struct {
	executor   interfaces.StageExecutor
	expander   interfaces.ArchiveExpander
	normalizer *Normalizer
	retry      *RetryPolicy
	format     string
	logger     arbor.ILogger
}

// NewRunner creates a pipeline runner converting to the given target format
func NewRunner(executor interfaces.StageExecutor, expander interfaces.ArchiveExpander, format string, logger arbor.ILogger) *Runner {
	return &Runner{
		executor:   executor,
		expander:   expander,
		normalizer: NewNormalizer(expander, logger),
		retry:      NewRetryPolicy(),
		format:     format,
		logger:     logger,
	}
}

// WithRetryPolicy overrides the default stage retry policy
func (r *Runner) WithRetryPolicy(policy *RetryPolicy) *Runner {
	r.retry = policy
	return r
}

// Run executes the whole pipeline for one job on the given slot and
// returns its settled outcome. Errors below the compress stage are
// absorbed by the fallback path; only an exhausted compress stage or an
// unreadable source fails the job.
func (r *Runner) Run(ctx context.Context, job models.Job, slot int) models.JobOutcome {
	logger := r.logger.WithCorrelationId(job.ID)

	outcome := models.JobOutcome{
		JobID:     job.ID,
		Name:      job.Name,
		Status:    models.JobStatusRunning,
		StartedAt: time.Now(),
	}

	logger.Info().
		Str("job", job.Name).
		Str("source", job.SourceDir).
		Int("slot", slot).
		Msg("Starting job pipeline")

	// Discovering
	images, err := FindImages(job.SourceDir)
	if err != nil {
		return r.fail(logger, outcome, err)
	}
	if len(images) == 0 {
		outcome.Status = models.JobStatusSkipped
		outcome.FinalState = models.StateDiscovering
		outcome.Error = models.ErrNoImages.Error()
		outcome.CompletedAt = time.Now()
		logger.Info().Str("job", job.Name).Msg("No supported images found, skipping job")
		return outcome
	}
	outcome.ImagesFound = len(images)

	workDir := filepath.Join(job.OutputDir, workDirName)
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return r.fail(logger, outcome, err)
	}

	// Converting
	convertResult := models.StageResult{Kind: models.ArtifactNone}
	attempts, err := r.retry.ExecuteWithRetry(ctx, logger, models.StageConvert, func() error {
		result, execErr := r.executor.ExecuteStage(ctx, slot, interfaces.StageRequest{
			Stage:       models.StageConvert,
			Images:      images,
			Format:      r.format,
			DownloadDir: job.OutputDir,
		})
		if execErr != nil {
			return execErr
		}
		convertResult = result
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return r.fail(logger, outcome, ctx.Err())
		}
		// A dead convert stage is not fatal: the compress stage falls back
		// to the original images.
		logger.Warn().
			Err(models.NewStageError(models.StageConvert, attempts, err)).
			Msg("Convert stage produced no output")
		convertResult = models.StageResult{Kind: models.ArtifactNone}
	}

	// Disambiguating
	converted := r.disambiguate(ctx, logger, convertResult, workDir)
	outcome.Converted = len(converted)

	// Compressing
	inputs := converted
	if len(inputs) == 0 {
		inputs = images
		outcome.FallbackUsed = true
		logger.Info().Str("job", job.Name).Msg("No converted images, compressing originals")
	}

	attempts, err = r.retry.ExecuteWithRetry(ctx, logger, models.StageCompress, func() error {
		result, execErr := r.executor.ExecuteStage(ctx, slot, interfaces.StageRequest{
			Stage:       models.StageCompress,
			Images:      inputs,
			DownloadDir: job.OutputDir,
		})
		if execErr != nil {
			return execErr
		}
		if result.Kind == models.ArtifactNone {
			return models.ErrNoArtifact
		}
		return nil
	})
	if err != nil {
		return r.fail(logger, outcome, models.NewStageError(models.StageCompress, attempts, err))
	}

	// Normalizing
	r.normalizer.Normalize(ctx, job.OutputDir, workDir)
	outcome.Compressed = countImages(job.OutputDir)

	outcome.Status = models.JobStatusCompleted
	outcome.FinalState = models.StateDone
	outcome.CompletedAt = time.Now()

	logger.Info().
		Str("job", job.Name).
		Int("images", outcome.ImagesFound).
		Int("compressed", outcome.Compressed).
		Bool("fallback", outcome.FallbackUsed).
		Dur("duration", outcome.Duration()).
		Msg("Job pipeline completed")

	return outcome
}

// disambiguate turns the convert stage's artifact into the converted
// image set, staged in workDir. An empty result routes the compress
// stage onto the original images.
func (r *Runner) disambiguate(ctx context.Context, logger arbor.ILogger, result models.StageResult, workDir string) []string {
	switch result.Kind {
	case models.ArtifactArchive:
		if _, err := r.expander.Expand(ctx, result.Path, workDir); err != nil {
			logger.Warn().Err(err).Str("archive", filepath.Base(result.Path)).Msg("Failed to expand converted archive")
			return nil
		}
		if err := os.Remove(result.Path); err != nil {
			logger.Warn().Err(err).Str("archive", filepath.Base(result.Path)).Msg("Failed to remove converted archive")
		}
		converted, err := FindImages(workDir)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to list expanded archive contents")
			return nil
		}
		return converted

	case models.ArtifactFile:
		name := strings.TrimPrefix(filepath.Base(result.Path), models.ConvertedPrefix)
		dest := filepath.Join(workDir, name)
		if err := copyFile(result.Path, dest); err != nil {
			logger.Warn().Err(err).Str("file", filepath.Base(result.Path)).Msg("Failed to stage converted image")
			return nil
		}
		if err := os.Remove(result.Path); err != nil {
			logger.Warn().Err(err).Str("file", filepath.Base(result.Path)).Msg("Failed to remove converted download")
		}
		return []string{dest}

	default:
		return nil
	}
}

// fail settles a job as failed with the triggering error
func (r *Runner) fail(logger arbor.ILogger, outcome models.JobOutcome, err error) models.JobOutcome {
	outcome.Status = models.JobStatusFailed
	outcome.FinalState = models.StateFailed
	outcome.Error = err.Error()
	outcome.CompletedAt = time.Now()

	logger.Error().
		Err(err).
		Str("job", outcome.Name).
		Dur("duration", outcome.Duration()).
		Msg("Job pipeline failed")

	return outcome
}

// copyFile copies src to dst, truncating dst if it exists
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// countImages counts the image files sitting directly in dir
func countImages(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && models.IsImageFile(entry.Name()) {
			count++
		}
	}
	return count
}
