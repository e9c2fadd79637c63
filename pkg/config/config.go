package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete vahti configuration
type Config struct {
	Display     DisplayConfig     `mapstructure:"display"`
	Report      ReportConfig      `mapstructure:"report"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Jobs        JobsConfig        `mapstructure:"jobs"`
	JobDefaults JobDefaultsConfig `mapstructure:"job_defaults"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Browser     BrowserConfig     `mapstructure:"browser"`
	Output      OutputConfig      `mapstructure:"output"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// DisplayConfig selects which verbs are included in reports
type DisplayConfig struct {
	New       bool `mapstructure:"new"`
	Error     bool `mapstructure:"error"`
	Unchanged bool `mapstructure:"unchanged"`
	EmptyDiff bool `mapstructure:"empty-diff"`
}

// ReportConfig contains renderer and reporter settings
type ReportConfig struct {
	Tz       string         `mapstructure:"tz"`
	Text     TextConfig     `mapstructure:"text"`
	Markdown MarkdownConfig `mapstructure:"markdown"`
	HTML     HTMLConfig     `mapstructure:"html"`
	Stdout   StdoutConfig   `mapstructure:"stdout"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Slack    SlackConfig    `mapstructure:"slack"`
}

// TextConfig controls the plain text renderer
type TextConfig struct {
	Details    bool `mapstructure:"details"`
	Footer     bool `mapstructure:"footer"`
	Minimal    bool `mapstructure:"minimal"`
	LineLength int  `mapstructure:"line_length"`
}

// MarkdownConfig controls the markdown renderer
type MarkdownConfig struct {
	Details bool `mapstructure:"details"`
	Footer  bool `mapstructure:"footer"`
	Minimal bool `mapstructure:"minimal"`
}

// HTMLConfig controls the HTML renderer
type HTMLConfig struct {
	Details bool   `mapstructure:"details"`
	Footer  bool   `mapstructure:"footer"`
	Title   string `mapstructure:"title"`
}

// StdoutConfig controls the console reporter
type StdoutConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Color   bool `mapstructure:"color"`
}

// WebhookConfig controls the generic JSON webhook reporter
type WebhookConfig struct {
	Enabled  bool              `mapstructure:"enabled"`
	URL      string            `mapstructure:"url"`
	Markdown bool              `mapstructure:"markdown"`
	Headers  map[string]string `mapstructure:"headers"`
	Timeout  time.Duration     `mapstructure:"timeout"`
}

// SlackConfig controls the Slack incoming webhook reporter
type SlackConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	WebhookURL       string        `mapstructure:"webhook_url"`
	Channel          string        `mapstructure:"channel"`
	MaxMessageLength int           `mapstructure:"max_message_length"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// StorageConfig contains snapshot store configuration
type StorageConfig struct {
	Backend      string `mapstructure:"backend"`
	Path         string `mapstructure:"path"`
	MaxSnapshots int    `mapstructure:"max_snapshots"`
}

// JobsConfig locates the jobs file and bounds the worker pool
type JobsConfig struct {
	File       string `mapstructure:"file"`
	MaxWorkers int    `mapstructure:"max_workers"`
}

// JobDefaultsConfig holds directives merged into every job of the matching kind
type JobDefaultsConfig struct {
	All     map[string]interface{} `mapstructure:"all"`
	URL     map[string]interface{} `mapstructure:"url"`
	Browser map[string]interface{} `mapstructure:"browser"`
	Command map[string]interface{} `mapstructure:"command"`
}

// HTTPConfig contains defaults for URL jobs
type HTTPConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// BrowserConfig contains settings for browser-rendered jobs
type BrowserConfig struct {
	RemoteURL string        `mapstructure:"remote_url"`
	Bin       string        `mapstructure:"bin"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// OutputConfig contains output formatting configuration
type OutputConfig struct {
	NoColor bool `mapstructure:"no_color"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	dm := NewDefaultsManager()
	return &Config{
		Display: DisplayConfig{
			New:       true,
			Error:     true,
			Unchanged: false,
			EmptyDiff: false,
		},
		Report: ReportConfig{
			Text:     TextConfig{Details: true, Footer: true, LineLength: 75},
			Markdown: MarkdownConfig{Details: true, Footer: true},
			HTML:     HTMLConfig{Details: true, Footer: true, Title: "vahti report"},
			Stdout:   StdoutConfig{Enabled: true, Color: true},
			Webhook:  WebhookConfig{Timeout: 10 * time.Second},
			Slack:    SlackConfig{MaxMessageLength: 40000, Timeout: 10 * time.Second},
		},
		Storage: StorageConfig{
			Backend:      "sqlite",
			Path:         filepath.Join(dm.DataDir(), "cache.db"),
			MaxSnapshots: 4,
		},
		Jobs: JobsConfig{
			File: dm.JobsFile(),
		},
		HTTP: HTTPConfig{
			Timeout:           60 * time.Second,
			UserAgent:         "vahti (+https://github.com/yairfalse/vahti)",
			RequestsPerSecond: 2,
			Burst:             2,
		},
		Browser: BrowserConfig{
			Timeout: 90 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// Load loads configuration from the global viper instance
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom loads configuration from v, reading config.yaml when one is found
func LoadFrom(v *viper.Viper) (*Config, error) {
	config := DefaultConfig()

	if v.ConfigFileUsed() == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".vahti"))
		}
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("VAHTI")
	v.AutomaticEnv()

	v.BindEnv("logging.level", "VAHTI_LOG_LEVEL", "LOG_LEVEL")
	v.BindEnv("report.tz", "VAHTI_TZ")
	v.BindEnv("storage.path", "VAHTI_CACHE")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is not an error - we'll use defaults
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite", "local":
	default:
		return fmt.Errorf("unknown storage backend %q (want sqlite or local)", c.Storage.Backend)
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}

	if c.Storage.MaxSnapshots < 0 {
		return fmt.Errorf("storage max_snapshots must not be negative")
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	if c.HTTP.RequestsPerSecond < 0 {
		return fmt.Errorf("http requests_per_second must not be negative")
	}

	if c.Report.Webhook.Enabled && c.Report.Webhook.URL == "" {
		return fmt.Errorf("report.webhook is enabled but has no url")
	}

	if c.Report.Slack.Enabled && c.Report.Slack.WebhookURL == "" {
		return fmt.Errorf("report.slack is enabled but has no webhook_url")
	}

	return nil
}

// Location resolves report.tz. An empty value means the local timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Report.Tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Report.Tz)
	if err != nil {
		return nil, fmt.Errorf("invalid report.tz %q: %w", c.Report.Tz, err)
	}
	return loc, nil
}

// DisplayVerb reports whether results with the given verb are shown.
// Verbs without a display switch are always shown.
func (c *Config) DisplayVerb(verb string) bool {
	switch verb {
	case "new":
		return c.Display.New
	case "error":
		return c.Display.Error
	case "unchanged":
		return c.Display.Unchanged
	default:
		return true
	}
}

// ExpandPaths expands home directory paths
func (c *Config) ExpandPaths() error {
	var err error
	c.Storage.Path, err = expandPath(c.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to expand storage path: %w", err)
	}

	c.Jobs.File, err = expandPath(c.Jobs.File)
	if err != nil {
		return fmt.Errorf("failed to expand jobs file path: %w", err)
	}

	c.Logging.File, err = expandPath(c.Logging.File)
	if err != nil {
		return fmt.Errorf("failed to expand log file path: %w", err)
	}

	return nil
}

// expandPath expands ~ to home directory
func expandPath(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path, err
	}

	if len(path) == 1 {
		return home, nil
	}

	return filepath.Join(home, path[1:]), nil
}
