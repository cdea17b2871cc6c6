// Package config provides configuration management for compressarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort           = 8080
	defaultServerTimeout        = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultShutdownTimeout      = 10 * time.Second
	defaultDatabasePath         = "/data/video_db.sqlite"
	defaultDatabaseTimeout      = 30
	defaultDatabaseMaxRetries   = 3
	defaultDatabaseRetryDelay   = 0.1
	defaultVideoDir             = "/video-input"
	defaultOutputDir            = "/video-output"
	defaultScanInterval         = 30
	defaultConfirmInterval      = 60
	defaultConfirmBatchSize     = 10
	defaultAIInterval           = 10
	defaultAIBatchSize          = 3
	defaultAIModel              = "gpt-4o-mini"
	defaultAIBaseURL            = "https://api.openai.com/v1"
	defaultAITemperature        = 0.3
	defaultPromptFile           = "/data/prompt.txt"
	defaultMinReductionRatio    = 0.20
	defaultMoverBatchSize       = 5
	defaultMoverInterval        = 10
	defaultSleepInterval        = 10
	defaultRetryDelay           = 30
	defaultMaxRetryDelay        = 300
	defaultMaxConsecutiveErrors = 3
	defaultBackupRetention      = 7
	defaultBackupMinFreeSpace   = 100 * 1024 * 1024 // 100MB
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Library     LibraryConfig     `mapstructure:"library"`
	Scanner     ScannerConfig     `mapstructure:"scanner"`
	Approver    ApproverConfig    `mapstructure:"approver"`
	AI          AIConfig          `mapstructure:"ai"`
	Transcoder  TranscoderConfig  `mapstructure:"transcoder"`
	Mover       MoverConfig       `mapstructure:"mover"`
	Workers     WorkersConfig     `mapstructure:"workers"`
	Host        HostConfig        `mapstructure:"host"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Backup      BackupConfig      `mapstructure:"backup"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
//
// Timeout and RetryDelay are plain seconds rather than Go duration strings so
// the flat environment forms (DB_TIMEOUT=30, DB_RETRY_DELAY=0.1) parse as the
// numbers they are.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, postgres, mysql
	// Path is the SQLite database file location. Ignored for other drivers.
	Path string `mapstructure:"path"`
	// DSN overrides the connection string for postgres/mysql deployments.
	DSN string `mapstructure:"dsn"`
	// Timeout is the SQLite busy handler timeout in seconds.
	Timeout int `mapstructure:"timeout"`
	// MaxRetries is how many times a write is retried when the database
	// reports it is locked.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelay is the pause between lock retries, in seconds.
	RetryDelay float64 `mapstructure:"retry_delay"`
	LogLevel   string  `mapstructure:"log_level"` // silent, error, warn, info
}

// LibraryConfig holds the watched input tree and the transcode output tree.
type LibraryConfig struct {
	VideoDir   string   `mapstructure:"video_dir"`
	OutputDir  string   `mapstructure:"output_dir"`
	Extensions []string `mapstructure:"extensions"`
}

// ScannerConfig holds discovery worker configuration.
type ScannerConfig struct {
	// Interval is the pause between scan passes, in seconds.
	Interval int `mapstructure:"interval"`
}

// ApproverConfig holds confirmation and acceptance worker configuration.
type ApproverConfig struct {
	// Interval is the pause between approval passes, in seconds.
	Interval int `mapstructure:"interval"`
	// BatchSize is the maximum number of rows promoted per pass.
	BatchSize int `mapstructure:"batch_size"`
	// AutoConfirmed promotes pending rows without operator input.
	AutoConfirmed bool `mapstructure:"auto_confirmed"`
	// AutoAccept promotes optimized rows without operator input.
	AutoAccept bool `mapstructure:"auto_accept"`
}

// AIConfig holds command synthesis configuration.
type AIConfig struct {
	// Interval is the pause between synthesis passes, in seconds.
	Interval int `mapstructure:"interval"`
	// BatchSize is the maximum number of rows synthesized per pass.
	BatchSize int    `mapstructure:"batch_size"`
	Model     string `mapstructure:"model"`
	// APIKey authenticates against the chat completions endpoint. Required.
	APIKey  string `mapstructure:"api_key" masq:"secret"`
	BaseURL string `mapstructure:"base_url"`
	// PromptFile is read at synthesis time when present and replaces the
	// built-in system prompt.
	PromptFile  string  `mapstructure:"prompt_file"`
	Temperature float64 `mapstructure:"temperature"`
}

// TranscoderConfig holds transcode execution configuration.
type TranscoderConfig struct {
	// MinReductionRatio aborts a transcode whose projected reduction falls
	// below this fraction of the original size.
	MinReductionRatio float64 `mapstructure:"min_reduction_ratio"`
	// FFmpegBinary is the path to ffmpeg (empty = auto-detect).
	FFmpegBinary string `mapstructure:"ffmpeg_binary"`
	// FFprobeBinary is the path to ffprobe (empty = auto-detect).
	FFprobeBinary string `mapstructure:"ffprobe_binary"`
}

// MoverConfig holds replacement worker configuration.
type MoverConfig struct {
	// Interval is the pause between replacement passes, in seconds.
	Interval int `mapstructure:"interval"`
	// BatchSize is the maximum number of rows replaced per pass.
	BatchSize int `mapstructure:"batch_size"`
}

// WorkersConfig holds the failure policy shared by every worker loop.
type WorkersConfig struct {
	// SleepInterval is the idle pause when a worker finds no rows, in seconds.
	SleepInterval int `mapstructure:"sleep_interval"`
	// RetryDelay is the base backoff after a failed pass, in seconds.
	RetryDelay int `mapstructure:"retry_delay"`
	// MaxRetryDelay caps the exponential backoff, in seconds.
	MaxRetryDelay int `mapstructure:"max_retry_delay"`
	// MaxConsecutiveErrors is how many failed passes a worker tolerates
	// before the process gives up.
	MaxConsecutiveErrors int `mapstructure:"max_consecutive_errors"`
}

// HostConfig overrides detected host facts in the capability snapshot sent
// to the model. Empty fields fall back to detection.
type HostConfig struct {
	OS       string `mapstructure:"os"`
	OSVer    string `mapstructure:"os_version"`
	CPUModel string `mapstructure:"cpu_model"`
	TotalRAM string `mapstructure:"total_ram"`
	GPUModel string `mapstructure:"gpu_model"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// BackupConfig holds backup configuration.
type BackupConfig struct {
	Directory string               `mapstructure:"directory"` // Backup storage location (empty = dir of database.path + /backups)
	Schedule  BackupScheduleConfig `mapstructure:"schedule"`
	// MinFreeSpace is the free disk space required before taking a backup.
	// Supports human-readable values like "100MB", "1GB", or raw byte counts.
	MinFreeSpace ByteSize `mapstructure:"min_free_space"`
}

// BackupScheduleConfig holds scheduled backup configuration.
type BackupScheduleConfig struct {
	Enabled   bool   `mapstructure:"enabled"`   // Enable scheduled backups
	Cron      string `mapstructure:"cron"`      // 6-field cron expression (default: "0 0 2 * * *" daily at 2 AM)
	Retention int    `mapstructure:"retention"` // Number of backups to keep
}

// MaintenanceConfig holds background housekeeping configuration.
type MaintenanceConfig struct {
	// OrphanSweepCron schedules the sweep of abandoned transcode temp files.
	OrphanSweepCron string `mapstructure:"orphan_sweep_cron"`
	// TempMaxAge is how old a temp file must be before the sweep removes it.
	// Supports extended units like "1d" and "2w".
	TempMaxAge Duration `mapstructure:"temp_max_age"`
}

// flatEnvAliases maps config keys to the bare environment variable names
// honored alongside the COMPRESSARR_-prefixed forms. These are the names the
// container images have always shipped with, so both spellings work; the
// prefixed form wins when both are set.
var flatEnvAliases = map[string]string{
	"database.path":                  "DB_PATH",
	"database.timeout":               "DB_TIMEOUT",
	"database.max_retries":           "DB_MAX_RETRIES",
	"database.retry_delay":           "DB_RETRY_DELAY",
	"library.video_dir":              "VIDEO_DIR",
	"library.output_dir":             "OUTPUT_DIR",
	"scanner.interval":               "SCAN_INTERVAL",
	"approver.interval":              "CONFIRM_INTERVAL",
	"approver.batch_size":            "CONFIRM_BATCH_SIZE",
	"approver.auto_confirmed":        "AUTO_CONFIRMED",
	"approver.auto_accept":           "AUTO_ACCEPT",
	"ai.interval":                    "AI_INTERVAL",
	"ai.batch_size":                  "AI_BATCH_SIZE",
	"ai.model":                       "AI_MODEL",
	"ai.api_key":                     "OPENAI_API_KEY",
	"ai.base_url":                    "OPENAI_BASE_URL",
	"transcoder.min_reduction_ratio": "MIN_REDUCTION_RATIO",
	"mover.batch_size":               "REPLACE_BATCH_SIZE",
	"mover.interval":                 "REPLACE_INTERVAL",
	"workers.sleep_interval":         "SLEEP_INTERVAL",
	"workers.retry_delay":            "PROCESS_RETRY_DELAY",
	"workers.max_retry_delay":        "MAX_RETRY_DELAY",
	"workers.max_consecutive_errors": "MAX_CONSECUTIVE_ERRORS",
	"host.os":                        "HOST_OS",
	"host.os_version":                "HOST_OS_VERSION",
	"host.cpu_model":                 "HOST_CPU_MODEL",
	"host.total_ram":                 "HOST_TOTAL_RAM",
	"host.gpu_model":                 "HOST_GPU_MODEL",
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with COMPRESSARR_ and use underscores
// for nesting, e.g. COMPRESSARR_SERVER_PORT=8080. The flat legacy names in
// flatEnvAliases (DB_PATH, VIDEO_DIR, OPENAI_API_KEY, ...) are honored too.
func Load(configPath string) (*Config, error) {
	cfg, err := Snapshot(configPath)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Snapshot reads configuration like Load but skips validation, for callers
// that need the effective configuration even when required fields are not
// set yet, or that overlay flag values before validating themselves.
func Snapshot(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/compressarr")
		v.AddConfigPath("$HOME/.compressarr")
	}

	// Environment variable settings
	v.SetEnvPrefix("COMPRESSARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindFlatEnvAliases(v)

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	// The text-unmarshaller hook lets ByteSize and Duration fields parse
	// their human-readable spellings ("100MB", "24h", "1w").
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// bindFlatEnvAliases registers both the prefixed and the bare environment
// names for every aliased key. Explicit BindEnv names bypass the prefix, so
// the prefixed spelling has to be listed by hand and listed first.
func bindFlatEnvAliases(v *viper.Viper) {
	replacer := strings.NewReplacer(".", "_")
	for key, alias := range flatEnvAliases {
		prefixed := "COMPRESSARR_" + strings.ToUpper(replacer.Replace(key))
		_ = v.BindEnv(key, prefixed, alias)
	}
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.idle_timeout", defaultIdleTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", defaultDatabasePath)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.timeout", defaultDatabaseTimeout)
	v.SetDefault("database.max_retries", defaultDatabaseMaxRetries)
	v.SetDefault("database.retry_delay", defaultDatabaseRetryDelay)
	v.SetDefault("database.log_level", "warn")

	// Library defaults
	v.SetDefault("library.video_dir", defaultVideoDir)
	v.SetDefault("library.output_dir", defaultOutputDir)
	v.SetDefault("library.extensions", []string{".mp4", ".mkv", ".avi", ".mov"})

	// Worker defaults
	v.SetDefault("scanner.interval", defaultScanInterval)
	v.SetDefault("approver.interval", defaultConfirmInterval)
	v.SetDefault("approver.batch_size", defaultConfirmBatchSize)
	v.SetDefault("approver.auto_confirmed", false)
	v.SetDefault("approver.auto_accept", false)
	v.SetDefault("ai.interval", defaultAIInterval)
	v.SetDefault("ai.batch_size", defaultAIBatchSize)
	v.SetDefault("ai.model", defaultAIModel)
	v.SetDefault("ai.base_url", defaultAIBaseURL)
	v.SetDefault("ai.prompt_file", defaultPromptFile)
	v.SetDefault("ai.temperature", defaultAITemperature)
	v.SetDefault("transcoder.min_reduction_ratio", defaultMinReductionRatio)
	v.SetDefault("transcoder.ffmpeg_binary", "")
	v.SetDefault("transcoder.ffprobe_binary", "")
	v.SetDefault("mover.batch_size", defaultMoverBatchSize)
	v.SetDefault("mover.interval", defaultMoverInterval)
	v.SetDefault("workers.sleep_interval", defaultSleepInterval)
	v.SetDefault("workers.retry_delay", defaultRetryDelay)
	v.SetDefault("workers.max_retry_delay", defaultMaxRetryDelay)
	v.SetDefault("workers.max_consecutive_errors", defaultMaxConsecutiveErrors)

	// Host overrides default to detection
	v.SetDefault("host.os", "")
	v.SetDefault("host.os_version", "")
	v.SetDefault("host.cpu_model", "")
	v.SetDefault("host.total_ram", "")
	v.SetDefault("host.gpu_model", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Backup defaults
	v.SetDefault("backup.directory", "")                // Empty = dir of database.path + /backups
	v.SetDefault("backup.schedule.enabled", true)       // Enabled by default
	v.SetDefault("backup.schedule.cron", "0 0 2 * * *") // Daily at 2 AM (6-field cron)
	v.SetDefault("backup.schedule.retention", defaultBackupRetention)
	v.SetDefault("backup.min_free_space", defaultBackupMinFreeSpace)

	// Maintenance defaults
	v.SetDefault("maintenance.orphan_sweep_cron", "0 0 * * * *") // Hourly (6-field cron)
	v.SetDefault("maintenance.temp_max_age", "24h")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	// Database validation
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		return fmt.Errorf("database.path is required for the sqlite driver")
	}
	if c.Database.Driver != "sqlite" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for the %s driver", c.Database.Driver)
	}
	if c.Database.MaxRetries < 0 {
		return fmt.Errorf("database.max_retries must not be negative")
	}
	if c.Database.RetryDelay < 0 {
		return fmt.Errorf("database.retry_delay must not be negative")
	}

	// Library validation
	if c.Library.VideoDir == "" {
		return fmt.Errorf("library.video_dir is required")
	}
	if c.Library.OutputDir == "" {
		return fmt.Errorf("library.output_dir is required")
	}

	// AI validation
	if c.AI.APIKey == "" {
		return fmt.Errorf("ai.api_key is required (set OPENAI_API_KEY)")
	}
	if c.AI.BatchSize < 1 {
		return fmt.Errorf("ai.batch_size must be at least 1")
	}

	// Worker validation
	if c.Approver.BatchSize < 1 {
		return fmt.Errorf("approver.batch_size must be at least 1")
	}
	if c.Mover.BatchSize < 1 {
		return fmt.Errorf("mover.batch_size must be at least 1")
	}
	if c.Workers.MaxConsecutiveErrors < 1 {
		return fmt.Errorf("workers.max_consecutive_errors must be at least 1")
	}
	if c.Workers.MaxRetryDelay < c.Workers.RetryDelay {
		return fmt.Errorf("workers.max_retry_delay must not be below workers.retry_delay")
	}
	if c.Transcoder.MinReductionRatio < 0 || c.Transcoder.MinReductionRatio >= 1 {
		return fmt.Errorf("transcoder.min_reduction_ratio must be in [0, 1)")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BusyTimeout returns the SQLite busy handler timeout as a duration.
func (c *DatabaseConfig) BusyTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// RetryDelayDuration returns the lock retry pause as a duration.
func (c *DatabaseConfig) RetryDelayDuration() time.Duration {
	return time.Duration(c.RetryDelay * float64(time.Second))
}

// IntervalDuration returns the scan pass interval as a duration.
func (c *ScannerConfig) IntervalDuration() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

// IntervalDuration returns the approval pass interval as a duration.
func (c *ApproverConfig) IntervalDuration() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

// IntervalDuration returns the synthesis pass interval as a duration.
func (c *AIConfig) IntervalDuration() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

// IntervalDuration returns the replacement pass interval as a duration.
func (c *MoverConfig) IntervalDuration() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

// SleepIntervalDuration returns the idle pause as a duration.
func (c *WorkersConfig) SleepIntervalDuration() time.Duration {
	return time.Duration(c.SleepInterval) * time.Second
}

// RetryDelayDuration returns the base backoff as a duration.
func (c *WorkersConfig) RetryDelayDuration() time.Duration {
	return time.Duration(c.RetryDelay) * time.Second
}

// MaxRetryDelayDuration returns the backoff cap as a duration.
func (c *WorkersConfig) MaxRetryDelayDuration() time.Duration {
	return time.Duration(c.MaxRetryDelay) * time.Second
}

// HasExtension reports whether the path's extension is in the allow-list.
// Matching is case-insensitive.
func (c *LibraryConfig) HasExtension(path string) bool {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return false
	}
	ext := strings.ToLower(path[idx:])
	for _, allowed := range c.Extensions {
		if strings.ToLower(allowed) == ext {
			return true
		}
	}
	return false
}

// BackupPath returns the backup directory path.
// If Directory is set, returns it directly; otherwise returns the database
// directory + /backups.
func (c *BackupConfig) BackupPath(databaseDir string) string {
	if c.Directory != "" {
		return c.Directory
	}
	return fmt.Sprintf("%s/backups", databaseDir)
}
