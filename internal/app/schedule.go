package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// timeRounding trims durations in log output down to something readable
const timeRounding = 100 * time.Millisecond

// StartSchedule begins recurring batch runs on the configured cron
// expression (six fields, seconds first). A trigger that fires while a
// previous batch is still running is skipped, not queued.
func (a *App) StartSchedule() error {
	if a.cron != nil {
		return fmt.Errorf("schedule already started")
	}

	spec := a.Config.Schedule.Cron
	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(spec, a.runScheduled); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}

	a.cron = c
	c.Start()

	a.Logger.Info().
		Str("cron", spec).
		Msg("Schedule started")
	return nil
}

// StopSchedule stops the cron scheduler and waits for a triggered run
// to finish. Safe to call when no schedule is running.
func (a *App) StopSchedule() {
	if a.cron == nil {
		return
	}

	ctx := a.cron.Stop()
	<-ctx.Done()
	a.cron = nil

	a.Logger.Info().Msg("Schedule stopped")
}

// runScheduled is the cron callback. Panics are contained here so a bad
// run cannot take down the scheduler goroutine.
func (a *App) runScheduled() {
	defer func() {
		if r := recover(); r != nil {
			a.Logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("PANIC RECOVERED in scheduled batch run")
		}
	}()

	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		a.Logger.Warn().Msg("Previous batch still running, skipping this trigger")
		return
	}
	a.running = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	if _, err := a.RunBatch(context.Background()); err != nil {
		a.Logger.Error().Err(err).Msg("Scheduled batch run failed")
	}
}
