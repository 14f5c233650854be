package models

import (
	"time"
)

// JobStatus represents the scheduler-level state of a processing job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	// JobStatusSkipped marks a job whose source folder held no supported
	// images. Skipped jobs are not failures.
	JobStatusSkipped JobStatus = "skipped"
)

// PipelineState tracks how far a job's pipeline has progressed.
// States advance in order; Done and Failed are terminal.
type PipelineState string

const (
	StateDiscovering    PipelineState = "discovering"
	StateConverting     PipelineState = "converting"
	StateDisambiguating PipelineState = "disambiguating"
	StateCompressing    PipelineState = "compressing"
	StateNormalizing    PipelineState = "normalizing"
	StateDone           PipelineState = "done"
	StateFailed         PipelineState = "failed"
)

// Terminal reports whether the pipeline has reached a final state.
func (s PipelineState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Job is one unit of batch work: a source folder of images and the
// output folder its processed results land in.
type Job struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SourceDir string    `json:"source_dir"`
	OutputDir string    `json:"output_dir"`
	CreatedAt time.Time `json:"created_at"`
}

// JobOutcome records the result of running one job's pipeline.
type JobOutcome struct {
	JobID       string        `json:"job_id"`
	Name        string        `json:"name"`
	Status      JobStatus     `json:"status"`
	FinalState  PipelineState `json:"final_state"`
	ImagesFound int           `json:"images_found"`
	Converted   int           `json:"converted"`
	Compressed  int           `json:"compressed"`
	// FallbackUsed is set when conversion produced nothing usable and the
	// originals were compressed instead.
	FallbackUsed bool      `json:"fallback_used,omitempty"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
}

// Duration returns the wall-clock time the job ran for.
func (o JobOutcome) Duration() time.Duration {
	if o.CompletedAt.IsZero() || o.StartedAt.IsZero() {
		return 0
	}
	return o.CompletedAt.Sub(o.StartedAt)
}

// Failed reports whether the job ended in failure.
func (o JobOutcome) Failed() bool {
	return o.Status == JobStatusFailed
}

// BatchSummary aggregates the outcomes of one scheduler run.
type BatchSummary struct {
	Total       int           `json:"total"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Outcomes    []JobOutcome  `json:"outcomes"`
	Duration    time.Duration `json:"duration"`
}

// Summarize builds a BatchSummary from a completed run's outcomes.
func Summarize(started, completed time.Time, outcomes []JobOutcome) BatchSummary {
	summary := BatchSummary{
		Total:       len(outcomes),
		StartedAt:   started,
		CompletedAt: completed,
		Outcomes:    outcomes,
		Duration:    completed.Sub(started),
	}
	for _, outcome := range outcomes {
		switch outcome.Status {
		case JobStatusFailed:
			summary.Failed++
		case JobStatusSkipped:
			summary.Skipped++
		default:
			summary.Succeeded++
		}
	}
	return summary
}
