package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string         `toml:"environment"` // "development" or "production"
	Source      SourceConfig   `toml:"source"`
	Pipeline    PipelineConfig `toml:"pipeline"`
	Browser     BrowserConfig  `toml:"browser"`
	Tool        ToolConfig     `toml:"tool"`
	Schedule    ScheduleConfig `toml:"schedule"`
	Logging     LoggingConfig  `toml:"logging"`
}

// SourceConfig describes where image sets are read from and where
// processed output lands.
type SourceConfig struct {
	Dir          string `toml:"dir" validate:"required"` // Root directory containing image set folders
	OutputFolder string `toml:"output_folder"`           // Subfolder of the root that receives processed output (default: "processed")
}

// PipelineConfig controls batch execution and stage behavior
type PipelineConfig struct {
	Parallelism int    `toml:"parallelism"`                               // Concurrent jobs per batch; values outside 1..10 are clamped
	Format      string `toml:"format" validate:"oneof=webp png jpg avif"` // Conversion target format
}

// BrowserConfig controls the Chrome instances driving the tool site
type BrowserConfig struct {
	Headless  bool   `toml:"headless"`   // Run Chrome without a visible window
	UserAgent string `toml:"user_agent"` // User agent string for tool site requests
}

// ToolConfig contains timeouts and pacing for the image tool site
type ToolConfig struct {
	NavigationTimeout time.Duration `toml:"navigation_timeout"` // Page load timeout
	SettleTimeout     time.Duration `toml:"settle_timeout"`     // Wait for the page to go network-idle after load
	ProcessingTimeout time.Duration `toml:"processing_timeout"` // Wait for the site to finish processing uploads
	DownloadTimeout   time.Duration `toml:"download_timeout"`   // Wait for the result download to complete
	SubmitInterval    time.Duration `toml:"submit_interval"`    // Minimum spacing between stage submissions across all slots
}

// ScheduleConfig enables recurring batch runs
type ScheduleConfig struct {
	Enabled bool   `toml:"enabled"` // Run on a schedule instead of once
	Cron    string `toml:"cron"`    // Cron expression with seconds field, e.g. "0 0 2 * * *"
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// NewDefaultConfig creates a configuration with default values
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in imago.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development", // Default to development mode
		Source: SourceConfig{
			Dir:          "",          // User must provide the source root
			OutputFolder: "processed", // Processed output lands in <root>/processed
		},
		Pipeline: PipelineConfig{
			Parallelism: 3,      // Three jobs per batch balances throughput against tool site load
			Format:      "webp", // Default conversion target
		},
		Browser: BrowserConfig{
			Headless:  true,
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		Tool: ToolConfig{
			NavigationTimeout: 60 * time.Second,
			SettleTimeout:     30 * time.Second,  // Tool pages load assets lazily; give the network time to go quiet
			ProcessingTimeout: 120 * time.Second, // Large uploads take a while to process server-side
			DownloadTimeout:   60 * time.Second,
			SubmitInterval:    2 * time.Second, // Pace submissions so parallel slots don't hammer the site
		},
		Schedule: ScheduleConfig{
			Enabled: false,         // Disabled by default - user must explicitly opt-in
			Cron:    "0 0 2 * * *", // 2am daily (cron format with seconds)
		},
		Logging: LoggingConfig{
			Level:  "info",                     // Info level for production (debug|info|warn|error)
			Format: "text",                     // Human-readable text format (text|json)
			Output: []string{"stdout", "file"}, // Log to both console and file
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
// Priority system: CLI flags > Environment variables > Config file > Defaults
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env -> CLI
// Later files override earlier files. Priority system: CLI flags > Environment variables > Last config file > ... > First config file > Defaults
// Example: LoadFromFiles("base.toml", "override.toml") - override.toml settings take precedence over base.toml
func LoadFromFiles(paths ...string) (*Config, error) {
	// Start with defaults
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier files)
	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// Apply environment variables (overrides all file configs)
	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: IMAGO_ENV, fallback: GO_ENV)
	if env := os.Getenv("IMAGO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Source configuration
	if dir := os.Getenv("IMAGO_SOURCE_DIR"); dir != "" {
		config.Source.Dir = dir
	}
	if folder := os.Getenv("IMAGO_OUTPUT_FOLDER"); folder != "" {
		config.Source.OutputFolder = folder
	}

	// Pipeline configuration
	if parallelism := os.Getenv("IMAGO_PARALLELISM"); parallelism != "" {
		if p, err := strconv.Atoi(parallelism); err == nil {
			config.Pipeline.Parallelism = p
		}
	}
	if format := os.Getenv("IMAGO_FORMAT"); format != "" {
		config.Pipeline.Format = format
	}

	// Browser configuration
	if headless := os.Getenv("IMAGO_BROWSER_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = h
		}
	}
	if userAgent := os.Getenv("IMAGO_BROWSER_USER_AGENT"); userAgent != "" {
		config.Browser.UserAgent = userAgent
	}

	// Tool configuration
	if navigationTimeout := os.Getenv("IMAGO_TOOL_NAVIGATION_TIMEOUT"); navigationTimeout != "" {
		if nt, err := time.ParseDuration(navigationTimeout); err == nil {
			config.Tool.NavigationTimeout = nt
		}
	}
	if settleTimeout := os.Getenv("IMAGO_TOOL_SETTLE_TIMEOUT"); settleTimeout != "" {
		if st, err := time.ParseDuration(settleTimeout); err == nil {
			config.Tool.SettleTimeout = st
		}
	}
	if processingTimeout := os.Getenv("IMAGO_TOOL_PROCESSING_TIMEOUT"); processingTimeout != "" {
		if pt, err := time.ParseDuration(processingTimeout); err == nil {
			config.Tool.ProcessingTimeout = pt
		}
	}
	if downloadTimeout := os.Getenv("IMAGO_TOOL_DOWNLOAD_TIMEOUT"); downloadTimeout != "" {
		if dt, err := time.ParseDuration(downloadTimeout); err == nil {
			config.Tool.DownloadTimeout = dt
		}
	}
	if submitInterval := os.Getenv("IMAGO_TOOL_SUBMIT_INTERVAL"); submitInterval != "" {
		if si, err := time.ParseDuration(submitInterval); err == nil {
			config.Tool.SubmitInterval = si
		}
	}

	// Schedule configuration
	if enabled := os.Getenv("IMAGO_SCHEDULE_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Schedule.Enabled = e
		}
	}
	if cronExpr := os.Getenv("IMAGO_SCHEDULE_CRON"); cronExpr != "" {
		config.Schedule.Cron = cronExpr
	}

	// Logging configuration
	if level := os.Getenv("IMAGO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("IMAGO_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("IMAGO_LOG_OUTPUT"); output != "" {
		// Split comma-separated output types
		outputs := []string{}
		for _, o := range splitString(output, ",") {
			trimmed := trimSpace(o)
			if trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
	if timeFormat := os.Getenv("IMAGO_LOG_TIME_FORMAT"); timeFormat != "" {
		config.Logging.TimeFormat = timeFormat
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, sourceDir, format string, parallelism int, headless *bool) {
	// Command-line flags have highest priority
	if sourceDir != "" {
		config.Source.Dir = sourceDir
	}
	if format != "" {
		config.Pipeline.Format = format
	}
	if parallelism > 0 {
		config.Pipeline.Parallelism = parallelism
	}
	if headless != nil {
		config.Browser.Headless = *headless
	}
}

// Validate checks the configuration for values that would make a run
// impossible. Parallelism is intentionally not range-checked here because
// the scheduler clamps it.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Schedule.Enabled {
		if err := ValidateSchedule(c.Schedule.Cron); err != nil {
			return err
		}
	}

	return nil
}

// ValidateSchedule validates a cron expression using the same parser the
// scheduler runs with (six fields, seconds first).
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", schedule, err)
	}
	return nil
}

// Helper functions for string manipulation
func splitString(s, sep string) []string {
	result := []string{}
	start := 0
	for i := 0; i < len(s); i++ {
		if i+len(sep) <= len(s) && s[i:i+len(sep)] == sep {
			result = append(result, s[start:i])
			start = i + len(sep)
			i = start - 1
		}
	}
	result = append(result, s[start:])
	return result
}

func trimSpace(s string) string {
	start := 0
	end := len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t' || s[start] == '\n' || s[start] == '\r') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\n' || s[end-1] == '\r') {
		end--
	}
	return s[start:end]
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
