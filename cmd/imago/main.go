package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/imago/internal/app"
	"github.com/ternarybob/imago/internal/common"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	// Command-line flags
	configFiles  configPaths // Multiple -config flags supported
	rootDir      = flag.String("root", "", "Source root containing image set folders (overrides config)")
	parallelism  = flag.Int("parallelism", 0, "Concurrent jobs per batch, 1-10 (overrides config)")
	format       = flag.String("format", "", "Conversion target format (overrides config)")
	showBrowser  = flag.Bool("show-browser", false, "Run Chrome with a visible window")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	// Global state
	config *common.Config
	logger arbor.ILogger
)

func init() {
	// Register custom flag for multiple config files
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	// Write a crash report before dying on an unrecovered panic
	defer common.RecoverWithCrashFile()
	common.InstallCrashHandler("logs")

	// A .version file beside the executable overrides the compiled-in
	// version
	common.LoadVersionFromFile()

	// Parse command-line flags
	flag.Parse()

	// Handle version flag
	if *showVersion || *showVersionV {
		fmt.Printf("Imago version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	// -show-browser flips headless off; leaving it unset keeps whatever
	// the config says
	var headless *bool
	if *showBrowser {
		h := false
		headless = &h
	}

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Apply CLI overrides (highest priority)
	// 3. Initialize logger
	// 4. Print banner
	var err error

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("imago.toml"); err == nil {
			configFiles = append(configFiles, "imago.toml")
		} else if _, err := os.Stat("deployments/local/imago.toml"); err == nil {
			// Fallback: check deployments/local for users running from project root
			configFiles = append(configFiles, "deployments/local/imago.toml")
		}
	}

	// 1. Load configuration (default -> file1 -> file2 -> ... -> env -> CLI)
	// Later config files override earlier ones. Running without any config
	// file is fine as long as flags or env supply the source root.
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		// Use temporary logger for startup errors
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration files")
		os.Exit(1)
	}

	// 2. Apply command-line flag overrides (highest priority)
	common.ApplyFlagOverrides(config, *rootDir, *format, *parallelism, headless)

	// 3. Initialize logger with final configuration
	logger = common.InitLogger(config)

	// 4. Print banner
	common.PrintBanner(common.GetVersion())

	// Validate the final merged configuration; a bad root or format is
	// fatal before anything starts
	if err := config.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
		os.Exit(1)
	}

	logger.Info().
		Strs("config_files", configFiles).
		Str("version", common.GetVersion()).
		Str("build", common.GetBuild()).
		Str("commit", common.GetGitCommit()).
		Str("source", config.Source.Dir).
		Str("format", config.Pipeline.Format).
		Int("parallelism", config.Pipeline.Parallelism).
		Bool("headless", config.Browser.Headless).
		Str("log_file", common.GetLogFilePath(logger)).
		Msg("Application configuration loaded")

	// Initialize application
	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer application.Close()

	// Cancel the run context on interrupt so in-flight jobs settle
	// instead of being killed mid-stage
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if !config.Schedule.Enabled {
		runOnce(ctx, cancel, application, sigChan)
		return
	}

	// Scheduled mode: stay up and re-run the batch on the configured cron
	if err := application.StartSchedule(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start schedule")
		os.Exit(1)
	}

	logger.Info().
		Str("cron", config.Schedule.Cron).
		Msg("Running on schedule - Press Ctrl+C to stop")

	<-sigChan
	logger.Info().Msg("Interrupt signal received")

	logger.Info().Msg("Shutting down")
	cancel()
}

// runOnce performs a single batch run. Configuration and setup errors
// exit non-zero; individual job failures are reported in the summary but
// do not change the exit code.
func runOnce(ctx context.Context, cancel context.CancelFunc, application *app.App, sigChan chan os.Signal) {
	common.SafeGoWithContext(ctx, logger, "signal-watcher", func() {
		select {
		case <-sigChan:
			logger.Warn().Msg("Interrupt signal received, cancelling run")
			cancel()
		case <-ctx.Done():
		}
	})

	summary, err := application.RunBatch(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("Batch run could not start")
		os.Exit(1)
	}

	if summary.Failed > 0 {
		logger.Warn().
			Int("failed", summary.Failed).
			Int("total", summary.Total).
			Msg("Batch run finished with failures")
	}
}
