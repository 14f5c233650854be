package interfaces

import (
	"context"

	"github.com/ternarybob/imago/internal/models"
)

// StageRequest describes one stage execution against the image tool site.
type StageRequest struct {
	// Stage selects which tool page to drive.
	Stage models.StageKind

	// Images are absolute paths of the files to upload.
	Images []string

	// Format is the conversion target (webp, png, jpg, avif). Only
	// meaningful for the convert stage.
	Format string

	// DownloadDir is where the stage's artifact must land.
	DownloadDir string
}

// StageExecutor drives a single processing stage end to end: upload,
// wait for the site to finish, download the result.
type StageExecutor interface {
	// ExecuteStage runs one stage on the given browser slot and reports
	// what was downloaded. A result of kind ArtifactNone with a nil error
	// means the stage finished but yielded nothing usable.
	ExecuteStage(ctx context.Context, slot int, req StageRequest) (models.StageResult, error)
}
