package models

import (
	"errors"
	"fmt"
)

// ErrNoImages is recorded when discovery finds no supported images in a
// job's source folder. The job is skipped without touching the browser.
var ErrNoImages = errors.New("no supported images found")

// ErrNoArtifact is returned when a stage completes without producing a
// usable download.
var ErrNoArtifact = errors.New("stage produced no artifact")

// StageError wraps a stage failure with the stage that failed and how
// many attempts were made before giving up.
type StageError struct {
	Stage    StageKind
	Attempts int
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed after %d attempt(s): %v", e.Stage, e.Attempts, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError builds a StageError for the given stage and cause.
func NewStageError(stage StageKind, attempts int, err error) *StageError {
	return &StageError{Stage: stage, Attempts: attempts, Err: err}
}
