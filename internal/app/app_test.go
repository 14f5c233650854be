package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/imago/internal/common"
)

func testConfig(t *testing.T) *common.Config {
	t.Helper()
	cfg := common.NewDefaultConfig()
	cfg.Source.Dir = t.TempDir()
	return cfg
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(nil, arbor.NewLogger())
	assert.Error(t, err)
}

func TestNew_DefaultsLogger(t *testing.T) {
	application, err := New(testConfig(t), nil)
	require.NoError(t, err)
	assert.NotNil(t, application.Logger)
}

func TestRunBatch_NoJobFolders(t *testing.T) {
	application, err := New(testConfig(t), arbor.NewLogger())
	require.NoError(t, err)

	// An empty source root yields no jobs; the run must fail before any
	// browser is started.
	_, err = application.RunBatch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no job folders")
}

func TestRunBatch_MissingSourceRoot(t *testing.T) {
	cfg := testConfig(t)
	cfg.Source.Dir = "/nonexistent/imago-source"

	application, err := New(cfg, arbor.NewLogger())
	require.NoError(t, err)

	_, err = application.RunBatch(context.Background())
	assert.Error(t, err)
}

func TestToolConfig_MapsTimeouts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tool.NavigationTimeout = 11 * time.Second
	cfg.Tool.SettleTimeout = 12 * time.Second
	cfg.Tool.ProcessingTimeout = 13 * time.Second
	cfg.Tool.DownloadTimeout = 14 * time.Second
	cfg.Tool.SubmitInterval = 15 * time.Second

	application, err := New(cfg, arbor.NewLogger())
	require.NoError(t, err)

	toolCfg := application.toolConfig()
	assert.Equal(t, 11*time.Second, toolCfg.NavigationTimeout)
	assert.Equal(t, 12*time.Second, toolCfg.SettleTimeout)
	assert.Equal(t, 13*time.Second, toolCfg.ProcessingTimeout)
	assert.Equal(t, 14*time.Second, toolCfg.DownloadTimeout)
	assert.Equal(t, 15*time.Second, toolCfg.SubmitInterval)
	assert.Empty(t, toolCfg.ConvertBaseURL, "endpoints stay executor defaults")
}

func TestStartSchedule_InvalidCron(t *testing.T) {
	cfg := testConfig(t)
	cfg.Schedule.Cron = "not a cron expression"

	application, err := New(cfg, arbor.NewLogger())
	require.NoError(t, err)

	assert.Error(t, application.StartSchedule())
}

func TestStartSchedule_StartStop(t *testing.T) {
	application, err := New(testConfig(t), arbor.NewLogger())
	require.NoError(t, err)

	require.NoError(t, application.StartSchedule())
	assert.Error(t, application.StartSchedule(), "second start must be rejected")

	application.StopSchedule()
	application.StopSchedule() // idempotent

	// A stopped schedule can be started again
	require.NoError(t, application.StartSchedule())
	require.NoError(t, application.Close())
}

func TestRunScheduled_SkipsWhileBatchInFlight(t *testing.T) {
	application, err := New(testConfig(t), arbor.NewLogger())
	require.NoError(t, err)

	application.mu.Lock()
	application.running = true
	application.mu.Unlock()

	// The run path always clears the in-flight flag in a defer, so a
	// surviving flag proves the trigger was skipped without a run.
	application.runScheduled()

	application.mu.Lock()
	defer application.mu.Unlock()
	assert.True(t, application.running)
}

func TestRunScheduled_ContainsPanic(t *testing.T) {
	// A nil config makes RunBatch panic. The cron callback has to swallow
	// it and release the in-flight flag so later triggers still fire.
	application := &App{Logger: arbor.NewLogger()}

	assert.NotPanics(t, func() { application.runScheduled() })

	application.mu.Lock()
	defer application.mu.Unlock()
	assert.False(t, application.running)
}
