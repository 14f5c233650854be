// -----------------------------------------------------------------------
// Package imagestool drives the imagestool.com pages through Chrome:
// upload a set of images, wait for the site to process them, capture the
// resulting download. One stage execution = one tab on the slot's browser.
// -----------------------------------------------------------------------

package imagestool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/imago/internal/interfaces"
	"github.com/ternarybob/imago/internal/models"
)

const (
	// DefaultConvertBaseURL hosts the per-format conversion pages
	// (to-webp, to-png, ...).
	DefaultConvertBaseURL = "https://to.imagestool.com"

	// DefaultCompressURL is the compression page.
	DefaultCompressURL = "https://imagestool.com/compress-image"
)

// Page selectors. The tool pages expose one shared upload input; results
// surface as elements whose class mentions download.
const (
	uploadInputSelector   = `input[type="file"]`
	downloadReadySelector = `.download-btn, [class*="download"]`
)

// Fixed pacing the tool pages need between interactions. These track the
// site's client-side rendering, not network timeouts, so they are not
// configurable.
const (
	pageSettleWait    = 2 * time.Second
	uploadSettleWait  = 3 * time.Second
	resultsSettleWait = 2 * time.Second
)

// SlotProvider resolves a scheduler slot to its bound browser context.
type SlotProvider interface {
	Slot(i int) (context.Context, error)
}

// Config holds the endpoints and per-phase time bounds for stage
// execution. Every wait is bounded: a page that never finishes processing
// surfaces as a stage error, never a hang.
type Config struct {
	ConvertBaseURL    string
	CompressURL       string
	NavigationTimeout time.Duration
	SettleTimeout     time.Duration
	ProcessingTimeout time.Duration
	DownloadTimeout   time.Duration
	SubmitInterval    time.Duration
}

// DefaultConfig returns the production endpoints and time bounds
func DefaultConfig() Config {
	return Config{
		ConvertBaseURL:    DefaultConvertBaseURL,
		CompressURL:       DefaultCompressURL,
		NavigationTimeout: 60 * time.Second,
		SettleTimeout:     30 * time.Second,
		ProcessingTimeout: 120 * time.Second,
		DownloadTimeout:   60 * time.Second,
		SubmitInterval:    2 * time.Second,
	}
}

// Executor runs convert and compress stages against the tool site.
type Executor struct {
	slots   SlotProvider
	config  Config
	limiter *rate.Limiter
	logger  arbor.ILogger
}

// ExecutorOption configures the Executor.
type ExecutorOption func(*Executor)

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithSubmitLimiter replaces the submission pacer. Useful for tests that
// should not wait between stages.
func WithSubmitLimiter(limiter *rate.Limiter) ExecutorOption {
	return func(e *Executor) {
		e.limiter = limiter
	}
}

// NewExecutor creates a stage executor running on the given browser slots.
// Submissions are paced across all slots so parallel jobs don't hammer
// the site.
func NewExecutor(slots SlotProvider, config Config, opts ...ExecutorOption) *Executor {
	if config.ConvertBaseURL == "" {
		config.ConvertBaseURL = DefaultConvertBaseURL
	}
	if config.CompressURL == "" {
		config.CompressURL = DefaultCompressURL
	}

	e := &Executor{
		slots:  slots,
		config: config,
		logger: arbor.NewLogger(),
	}

	if config.SubmitInterval > 0 {
		e.limiter = rate.NewLimiter(rate.Every(config.SubmitInterval), 1)
	} else {
		e.limiter = rate.NewLimiter(rate.Inf, 1)
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// ExecuteStage uploads the request's images to the stage's tool page,
// waits for processing, captures the download, and names it with the
// stage prefix inside the download directory. The result classifies what
// arrived; a download in a shape the pipeline can't use is ArtifactNone
// with a nil error.
func (e *Executor) ExecuteStage(ctx context.Context, slot int, req interfaces.StageRequest) (models.StageResult, error) {
	none := models.StageResult{Kind: models.ArtifactNone}

	if len(req.Images) == 0 {
		return none, fmt.Errorf("%s stage invoked with no input files", req.Stage)
	}
	if err := os.MkdirAll(req.DownloadDir, 0755); err != nil {
		return none, fmt.Errorf("failed to create download directory: %w", err)
	}

	// Pace submissions toward the site across all slots
	if err := e.limiter.Wait(ctx); err != nil {
		return none, err
	}

	slotCtx, err := e.slots.Slot(slot)
	if err != nil {
		return none, err
	}

	pageURL, err := e.stageURL(req)
	if err != nil {
		return none, err
	}

	e.logger.Info().
		Str("stage", req.Stage.String()).
		Str("url", pageURL).
		Int("files", len(req.Images)).
		Int("slot", slot).
		Msg("Executing stage")

	// Fresh tab per stage, closed when the stage ends so state never
	// leaks between stages sharing a slot.
	tabCtx, closeTab := chromedp.NewContext(slotCtx)
	defer closeTab()

	capture := listenForDownloads(tabCtx)

	if err := e.openStagePage(tabCtx, pageURL, req.DownloadDir); err != nil {
		return none, err
	}
	if err := e.uploadImages(tabCtx, req.Images); err != nil {
		return none, err
	}
	if err := e.awaitProcessing(tabCtx); err != nil {
		return none, err
	}
	if err := e.triggerDownload(tabCtx); err != nil {
		return none, err
	}

	info, err := capture.wait(tabCtx, e.config.DownloadTimeout)
	if err != nil {
		return none, fmt.Errorf("%s stage download failed: %w", req.Stage, err)
	}

	artifactPath, err := e.claimDownload(req, info)
	if err != nil {
		return none, err
	}

	result := models.StageResult{
		Kind: models.ClassifyArtifact(artifactPath),
		Path: artifactPath,
	}
	if result.Kind == models.ArtifactNone {
		e.logger.Warn().
			Str("stage", req.Stage.String()).
			Str("file", filepath.Base(artifactPath)).
			Msg("Stage produced a file the pipeline cannot use")
		result.Path = ""
		return result, nil
	}

	e.logger.Info().
		Str("stage", req.Stage.String()).
		Str("artifact", filepath.Base(artifactPath)).
		Str("kind", string(result.Kind)).
		Msg("Stage completed")

	return result, nil
}

// stageURL resolves the tool page for a stage request
func (e *Executor) stageURL(req interfaces.StageRequest) (string, error) {
	switch req.Stage {
	case models.StageConvert:
		if req.Format == "" {
			return "", fmt.Errorf("convert stage requires a target format")
		}
		return fmt.Sprintf("%s/to-%s", e.config.ConvertBaseURL, strings.ToLower(req.Format)), nil
	case models.StageCompress:
		return e.config.CompressURL, nil
	default:
		return "", fmt.Errorf("unknown stage %q", req.Stage)
	}
}

// openStagePage enables downloads into dir and navigates to the tool page
func (e *Executor) openStagePage(tabCtx context.Context, pageURL, dir string) error {
	navCtx, cancel := context.WithTimeout(tabCtx, e.config.NavigationTimeout)
	defer cancel()

	err := chromedp.Run(navCtx,
		allowDownloads(dir),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady(`body`, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", pageURL, err)
	}
	return nil
}

// uploadImages waits for the page's upload input and attaches the files.
// The input is frequently hidden behind a styled drop zone, so presence
// rather than visibility is the readiness signal.
func (e *Executor) uploadImages(tabCtx context.Context, images []string) error {
	uploadCtx, cancel := context.WithTimeout(tabCtx, e.config.SettleTimeout)
	defer cancel()

	err := chromedp.Run(uploadCtx,
		chromedp.Sleep(pageSettleWait),
		chromedp.WaitReady(uploadInputSelector, chromedp.ByQuery),
		chromedp.SetUploadFiles(uploadInputSelector, images, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("failed to upload files: %w", err)
	}

	e.logger.Debug().
		Int("files", len(images)).
		Msg("Files attached to upload input")

	return nil
}

// awaitProcessing blocks until the page shows a download control,
// bounded by the processing timeout.
func (e *Executor) awaitProcessing(tabCtx context.Context) error {
	procCtx, cancel := context.WithTimeout(tabCtx, e.config.ProcessingTimeout)
	defer cancel()

	err := chromedp.Run(procCtx,
		chromedp.Sleep(uploadSettleWait),
		chromedp.WaitVisible(downloadReadySelector, chromedp.ByQuery),
		chromedp.Sleep(resultsSettleWait),
	)
	if err != nil {
		return fmt.Errorf("site did not finish processing within %s: %w", e.config.ProcessingTimeout, err)
	}
	return nil
}

// triggerDownload clicks the page's download control
func (e *Executor) triggerDownload(tabCtx context.Context) error {
	clickCtx, cancel := context.WithTimeout(tabCtx, e.config.SettleTimeout)
	defer cancel()

	var clicked string
	if err := chromedp.Run(clickCtx, chromedp.Evaluate(triggerDownloadScript, &clicked)); err != nil {
		return fmt.Errorf("failed to trigger download: %w", err)
	}
	if clicked == "none" {
		return fmt.Errorf("no download control found on the page")
	}

	e.logger.Debug().
		Str("control", clicked).
		Msg("Download triggered")

	return nil
}

// claimDownload renames the completed download from its GUID to the
// stage-prefixed suggested filename inside the download directory.
func (e *Executor) claimDownload(req interfaces.StageRequest, info downloadInfo) (string, error) {
	downloaded := filepath.Join(req.DownloadDir, info.GUID)

	name := info.SuggestedName
	if name == "" {
		name = info.GUID
	}
	target := filepath.Join(req.DownloadDir, models.StagePrefix(req.Stage)+filepath.Base(name))

	if err := os.Rename(downloaded, target); err != nil {
		return "", fmt.Errorf("failed to claim downloaded file: %w", err)
	}
	return target, nil
}
