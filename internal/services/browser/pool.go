// -----------------------------------------------------------------------
// Package browser manages the pool of Chrome contexts the pipeline runs
// its tool site sessions on. One context per scheduler slot, created up
// front and reused sequentially for every job routed to that slot.
// -----------------------------------------------------------------------

package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/imago/internal/common"
)

// startupTimeout bounds the smoke test each new browser instance must
// pass before it joins the pool.
const startupTimeout = 30 * time.Second

// shutdownTimeout bounds how long Shutdown waits for Chrome processes to
// exit before giving up.
const shutdownTimeout = 30 * time.Second

// PoolConfig holds configuration for the browser pool
type PoolConfig struct {
	Slots     int    `json:"slots"`
	Headless  bool   `json:"headless"`
	UserAgent string `json:"user_agent"`
}

// Pool is a fixed set of Chrome browser contexts, one per concurrency
// slot. Unlike a round-robin pool there is no allocation step: slot i
// always resolves to the same browser, so two concurrent jobs can never
// share one as long as they hold distinct slots.
type Pool struct {
	browsers         []context.Context
	browserCancels   []context.CancelFunc
	allocatorCancels []context.CancelFunc
	mu               sync.Mutex
	closed           bool
	logger           arbor.ILogger
}

// NewPool creates the browser pool and starts every Chrome instance.
// Instances that fail their startup test are dropped with a warning; the
// pool only errors when not a single instance could be created. Callers
// must size their scheduling to Size(), which may be smaller than
// requested.
func NewPool(config PoolConfig, logger arbor.ILogger) (*Pool, error) {
	if config.Slots <= 0 {
		return nil, fmt.Errorf("pool slots must be greater than 0, got: %d", config.Slots)
	}

	p := &Pool{
		browsers:         make([]context.Context, 0, config.Slots),
		browserCancels:   make([]context.CancelFunc, 0, config.Slots),
		allocatorCancels: make([]context.CancelFunc, 0, config.Slots),
		logger:           logger,
	}

	logger.Info().
		Int("slots", config.Slots).
		Bool("headless", config.Headless).
		Msg("Starting browser pool")

	var lastErr error
	for i := 0; i < config.Slots; i++ {
		if err := p.createInstance(i, config); err != nil {
			lastErr = err
			logger.Warn().
				Err(err).
				Int("slot", i).
				Msg("Failed to create browser instance")
			continue
		}
	}

	if len(p.browsers) == 0 {
		p.Shutdown()
		return nil, fmt.Errorf("failed to create any browser instances, last error: %w", lastErr)
	}

	if len(p.browsers) < config.Slots {
		logger.Warn().
			Int("requested", config.Slots).
			Int("created", len(p.browsers)).
			Msg("Created fewer browser instances than requested")
	}

	logger.Info().
		Int("browsers", len(p.browsers)).
		Msg("Browser pool ready")

	return p, nil
}

// createInstance starts one Chrome instance and verifies it responds
func (p *Pool) createInstance(slot int, config PoolConfig) error {
	started := time.Now()

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if config.UserAgent != "" {
		allocatorOpts = append(allocatorOpts, chromedp.UserAgent(config.UserAgent))
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	// Smoke test: the instance must load a blank page before it is trusted
	// with real work.
	testCtx, testCancel := context.WithTimeout(browserCtx, startupTimeout)
	defer testCancel()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocatorCancel()
		return fmt.Errorf("browser instance failed startup test: %w", err)
	}

	p.browsers = append(p.browsers, browserCtx)
	p.browserCancels = append(p.browserCancels, browserCancel)
	p.allocatorCancels = append(p.allocatorCancels, allocatorCancel)

	p.logger.Debug().
		Int("slot", slot).
		Dur("startup_time", time.Since(started)).
		Msg("Browser instance created")

	return nil
}

// Size returns the number of usable browser slots
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.browsers)
}

// Slot returns the browser context bound to the given slot index.
func (p *Pool) Slot(i int) (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("browser pool is shut down")
	}
	if i < 0 || i >= len(p.browsers) {
		return nil, fmt.Errorf("browser slot %d out of range (pool size %d)", i, len(p.browsers))
	}
	return p.browsers[i], nil
}

// Shutdown closes every browser and allocator. Calling it again after the
// first time is a no-op.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	count := len(p.browsers)
	if count == 0 {
		return
	}

	p.logger.Info().
		Int("browsers", count).
		Msg("Shutting down browser pool")

	started := time.Now()

	// The cleanup goroutine takes the cancel funcs with it; it may outlive
	// the timeout below, so nothing may reach them through the pool again.
	browserCancels := p.browserCancels
	allocatorCancels := p.allocatorCancels
	p.browsers = nil
	p.browserCancels = nil
	p.allocatorCancels = nil

	done := make(chan struct{})
	common.SafeGo(p.logger, "browser-pool-shutdown", func() {
		// Browser contexts before their allocators so Chrome processes
		// get a clean close request first.
		cancelAll(browserCancels)
		cancelAll(allocatorCancels)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		p.logger.Warn().
			Int("browsers", count).
			Msg("Browser pool shutdown timed out")
	}

	p.logger.Info().
		Int("browsers", count).
		Dur("shutdown_time", time.Since(started)).
		Msg("Browser pool shut down")
}

func cancelAll(cancels []context.CancelFunc) {
	for _, cancel := range cancels {
		if cancel != nil {
			cancel()
		}
	}
}
