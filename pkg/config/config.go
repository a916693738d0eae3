package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AppName is used for config, data and keyring locations
const AppName = "twitgather"

// DefaultQuery is the fixed keyword query collected by both pipelines
const DefaultQuery = "#mahsa_amini OR #mahsaamini OR #مهسا_امینی"

// DefaultPageSize is the number of posts requested per backfill iteration
const DefaultPageSize = 2500

// Collection modes
const (
	ModeArchive = "archive"
	ModeStream  = "stream"
	ModeBoth    = "both"
)

// Config holds all configuration options for the collector
type Config struct {
	// Mode selects the pipelines to run: archive, stream or both
	Mode string `yaml:"mode" json:"mode"`

	// Twitter API access
	Twitter TwitterConfig `yaml:"twitter" json:"twitter"`

	// Backfill pager settings
	Backfill BackfillConfig `yaml:"backfill" json:"backfill"`

	// Stream subscriber settings
	Stream StreamConfig `yaml:"stream" json:"stream"`

	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	// Retry settings for setup-time API calls
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// TwitterConfig holds the query, credentials and endpoints
type TwitterConfig struct {
	Query             string        `yaml:"query" json:"query"`
	Account           string        `yaml:"account" json:"account"`
	ConsumerKey       string        `yaml:"consumer_key" json:"consumer_key"`
	ConsumerSecret    string        `yaml:"consumer_secret" json:"consumer_secret"`
	AccessToken       string        `yaml:"access_token" json:"access_token"`
	AccessTokenSecret string        `yaml:"access_token_secret" json:"access_token_secret"`
	BearerToken       string        `yaml:"bearer_token" json:"bearer_token"`
	APIBaseURL        string        `yaml:"api_base_url" json:"api_base_url"`
	StreamBaseURL     string        `yaml:"stream_base_url" json:"stream_base_url"`
	TweetFields       []string      `yaml:"tweet_fields" json:"tweet_fields"`
	RuleTag           string        `yaml:"rule_tag" json:"rule_tag"`
	RequestTimeout    time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// BackfillConfig holds backward pagination settings
type BackfillConfig struct {
	// StartID is the initial checkpoint; 0 starts from the newest post
	StartID  int64 `yaml:"start_id" json:"start_id"`
	PageSize int   `yaml:"page_size" json:"page_size"`
	// MaxIterations bounds the run; 0 means unbounded
	MaxIterations int           `yaml:"max_iterations" json:"max_iterations"`
	Sleep         time.Duration `yaml:"sleep" json:"sleep"`
	// MaxConsecutiveFailures stops the run after that many failed pages in a
	// row; 0 keeps going forever
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures" json:"max_consecutive_failures"`
	RequestsPerWindow      int           `yaml:"requests_per_window" json:"requests_per_window"`
	Window                 time.Duration `yaml:"window" json:"window"`
}

// StreamConfig holds stream subscriber settings
type StreamConfig struct {
	QueueSize int `yaml:"queue_size" json:"queue_size"`
}

// OutputConfig holds output directory configuration
type OutputConfig struct {
	Root           string `yaml:"root" json:"root"`
	FlushThreshold int    `yaml:"flush_threshold" json:"flush_threshold"`
	Dedupe         bool   `yaml:"dedupe" json:"dedupe"`
}

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" json:"level"`
	ConsoleLevel string `yaml:"console_level" json:"console_level"`
	File         string `yaml:"file" json:"file"`
	MaxSize      int    `yaml:"max_size" json:"max_size"`
	MaxBackups   int    `yaml:"max_backups" json:"max_backups"`
	MaxAge       int    `yaml:"max_age" json:"max_age"`
	Compress     bool   `yaml:"compress" json:"compress"`
	NoColor      bool   `yaml:"no_color" json:"no_color"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Mode: ModeArchive,
		Twitter: TwitterConfig{
			Query:          DefaultQuery,
			APIBaseURL:     "https://api.twitter.com/1.1/",
			StreamBaseURL:  "https://api.twitter.com/2/",
			TweetFields:    []string{"id", "author_id", "created_at", "lang", "source", "text"},
			RuleTag:        AppName,
			RequestTimeout: 30 * time.Second,
		},
		Backfill: BackfillConfig{
			StartID:                0,
			PageSize:               DefaultPageSize,
			MaxIterations:          0,
			Sleep:                  900 * time.Second,
			MaxConsecutiveFailures: 0,
			RequestsPerWindow:      180,
			Window:                 15 * time.Minute,
		},
		Stream: StreamConfig{
			QueueSize: 256,
		},
		Output: OutputConfig{
			Root:           ".",
			FlushThreshold: 100,
			Dedupe:         true,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:        "debug",
			ConsoleLevel: "info",
			File:         "",
			MaxSize:      64,
			MaxBackups:   1500,
			MaxAge:       0,
			Compress:     false,
		},
	}
}

// DataDir is where dataset files, the checkpoint and the seen index live
func (o OutputConfig) DataDir() string {
	return filepath.Join(o.Root, "data")
}

// LogsDir is where the rotating log file lives
func (o OutputConfig) LogsDir() string {
	return filepath.Join(o.Root, "logs")
}

// DatasetPath returns the dataset file for a record schema ("archive" or "stream")
func (o OutputConfig) DatasetPath(schema string) string {
	return filepath.Join(o.DataDir(), fmt.Sprintf("dataset_%s.csv", schema))
}

// CheckpointPath returns the persisted backfill checkpoint file
func (o OutputConfig) CheckpointPath() string {
	return filepath.Join(o.DataDir(), "checkpoint.json")
}

// SeenIndexPath returns the sqlite file used to skip already collected posts
func (o OutputConfig) SeenIndexPath() string {
	return filepath.Join(o.DataDir(), "seen.db")
}

// getenv returns the first non-empty environment variable among names
func getenv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// LoadFromEnv loads configuration from environment variables. The lowercase
// credential names used by the original collector scripts are still honored.
func (c *Config) LoadFromEnv() error {
	var errs []error

	if v := getenv("TWITGATHER_CONSUMER_KEY", "consumer_key"); v != "" {
		c.Twitter.ConsumerKey = v
	}
	if v := getenv("TWITGATHER_CONSUMER_SECRET", "consumer_secret"); v != "" {
		c.Twitter.ConsumerSecret = v
	}
	if v := getenv("TWITGATHER_ACCESS_TOKEN", "access_token"); v != "" {
		c.Twitter.AccessToken = v
	}
	if v := getenv("TWITGATHER_ACCESS_TOKEN_SECRET", "access_token_secret"); v != "" {
		c.Twitter.AccessTokenSecret = v
	}
	if v := getenv("TWITGATHER_BEARER_TOKEN", "bearer_token"); v != "" {
		c.Twitter.BearerToken = v
	}
	if v := os.Getenv("TWITGATHER_ACCOUNT"); v != "" {
		c.Twitter.Account = v
	}

	if v := os.Getenv("TWITGATHER_MODE"); v != "" {
		c.Mode = strings.ToLower(v)
	}

	if v := os.Getenv("TWITGATHER_LAST_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("TWITGATHER_LAST_ID: %w", err))
		} else {
			c.Backfill.StartID = id
		}
	}
	if v := os.Getenv("TWITGATHER_PAGE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("TWITGATHER_PAGE_SIZE: %w", err))
		} else {
			c.Backfill.PageSize = n
		}
	}
	if v := os.Getenv("TWITGATHER_PAGE_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("TWITGATHER_PAGE_COUNT: %w", err))
		} else {
			c.Backfill.MaxIterations = n
		}
	}
	if v := os.Getenv("TWITGATHER_SLEEP"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("TWITGATHER_SLEEP: %w", err))
		} else {
			c.Backfill.Sleep = d
		}
	}

	if v := os.Getenv("TWITGATHER_OUTPUT_PATH"); v != "" {
		c.Output.Root = v
	}
	if v := os.Getenv("TWITGATHER_DEDUPE"); v != "" {
		c.Output.Dedupe = strings.ToLower(v) == "true"
	}

	if v := os.Getenv("TWITGATHER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	return errors.Join(errs...)
}

// parseSeconds accepts either a bare number of seconds or a Go duration
func parseSeconds(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	for _, loc := range []string{".twitgather.yaml", ".twitgather.yml"} {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	for _, name := range []string{"config.yaml", "config.yml"} {
		if path, err := xdg.SearchConfigFile(filepath.Join(AppName, name)); err == nil {
			return path
		}
	}

	return ""
}

// Validate checks if the configuration is valid. Credentials are checked
// separately by ValidateCredentials because they may come from a credential
// store after loading.
func (c *Config) Validate() error {
	var errs []error

	switch c.Mode {
	case ModeArchive, ModeStream, ModeBoth:
	default:
		errs = append(errs, fmt.Errorf("invalid mode %q (want archive, stream or both)", c.Mode))
	}

	if strings.TrimSpace(c.Twitter.Query) == "" {
		errs = append(errs, errors.New("query is required"))
	}

	if c.Backfill.StartID < 0 {
		errs = append(errs, errors.New("start id cannot be negative"))
	}
	if c.Backfill.PageSize <= 0 {
		errs = append(errs, errors.New("page size must be positive"))
	}
	if c.Backfill.MaxIterations < 0 {
		errs = append(errs, errors.New("max iterations cannot be negative"))
	}
	if c.Backfill.Sleep < 0 {
		errs = append(errs, errors.New("sleep cannot be negative"))
	}
	if c.Backfill.MaxConsecutiveFailures < 0 {
		errs = append(errs, errors.New("max consecutive failures cannot be negative"))
	}
	if c.Backfill.RequestsPerWindow < 0 {
		errs = append(errs, errors.New("requests per window cannot be negative"))
	}
	if c.Backfill.RequestsPerWindow > 0 && c.Backfill.Window <= 0 {
		errs = append(errs, errors.New("rate limit window must be positive"))
	}

	if c.Stream.QueueSize <= 0 {
		errs = append(errs, errors.New("stream queue size must be positive"))
	}

	if c.Output.Root == "" {
		errs = append(errs, errors.New("output root is required"))
	}
	if c.Output.FlushThreshold < 0 {
		errs = append(errs, errors.New("flush threshold cannot be negative"))
	}

	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}
	if c.Logging.ConsoleLevel != "" && !validLogLevels[strings.ToLower(c.Logging.ConsoleLevel)] {
		errs = append(errs, errors.New("invalid console log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// NeedsArchive reports whether the backfill pipeline runs in this mode
func (c *Config) NeedsArchive() bool {
	return c.Mode == ModeArchive || c.Mode == ModeBoth
}

// NeedsStream reports whether the stream pipeline runs in this mode
func (c *Config) NeedsStream() bool {
	return c.Mode == ModeStream || c.Mode == ModeBoth
}

// ValidateCredentials checks that the secrets required by the selected mode
// are present: four OAuth1 secrets for search, a bearer token for the stream.
func (c *Config) ValidateCredentials() error {
	var errs []error

	if c.NeedsArchive() {
		if c.Twitter.ConsumerKey == "" {
			errs = append(errs, errors.New("consumer key is required for archive mode"))
		}
		if c.Twitter.ConsumerSecret == "" {
			errs = append(errs, errors.New("consumer secret is required for archive mode"))
		}
		if c.Twitter.AccessToken == "" {
			errs = append(errs, errors.New("access token is required for archive mode"))
		}
		if c.Twitter.AccessTokenSecret == "" {
			errs = append(errs, errors.New("access token secret is required for archive mode"))
		}
	}
	if c.NeedsStream() && c.Twitter.BearerToken == "" {
		errs = append(errs, errors.New("bearer token is required for stream mode"))
	}

	return errors.Join(errs...)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Only keys present in the map are applied.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if mode, ok := flags["mode"].(string); ok && mode != "" {
		c.Mode = strings.ToLower(mode)
	}
	if lastID, ok := flags["last-id"].(int64); ok {
		c.Backfill.StartID = lastID
	}
	if pageSize, ok := flags["page-size"].(int); ok && pageSize > 0 {
		c.Backfill.PageSize = pageSize
	}
	if pageCount, ok := flags["page-count"].(int); ok {
		c.Backfill.MaxIterations = pageCount
	}
	if sleep, ok := flags["sleep"].(int); ok {
		c.Backfill.Sleep = time.Duration(sleep) * time.Second
	}
	if path, ok := flags["path"].(string); ok && path != "" {
		c.Output.Root = path
	}
	if dedupe, ok := flags["dedupe"].(bool); ok {
		c.Output.Dedupe = dedupe
	}
	if account, ok := flags["account"].(string); ok && account != "" {
		c.Twitter.Account = account
	}
	if v, ok := flags["consumer-key"].(string); ok && v != "" {
		c.Twitter.ConsumerKey = v
	}
	if v, ok := flags["consumer-secret"].(string); ok && v != "" {
		c.Twitter.ConsumerSecret = v
	}
	if v, ok := flags["access-token"].(string); ok && v != "" {
		c.Twitter.AccessToken = v
	}
	if v, ok := flags["access-token-secret"].(string); ok && v != "" {
		c.Twitter.AccessTokenSecret = v
	}
	if v, ok := flags["bearer-token"].(string); ok && v != "" {
		c.Twitter.BearerToken = v
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if noColor, ok := flags["no-color"].(bool); ok {
		c.Logging.NoColor = noColor
	}
}

// resolvePaths fills derived paths that depend on the output root
func (c *Config) resolvePaths() {
	if c.Logging.File == "" {
		c.Logging.File = filepath.Join(c.Output.LogsDir(), "twit.log")
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	if home, err := os.UserHomeDir(); err == nil {
		_ = godotenv.Load(filepath.Join(home, ".twitgather.env"))
	}

	// Start with defaults
	config := DefaultConfig()

	// Load from config file
	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// Override with environment variables (includes values from .env)
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Override with command line flags
	config.MergeCommandLineFlags(flags)
	config.resolvePaths()

	// Validate final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
