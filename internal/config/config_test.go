package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Driver:     "sqlite",
			Path:       "test.db",
			Timeout:    30,
			MaxRetries: 3,
			RetryDelay: 0.1,
			LogLevel:   "warn",
		},
		Library: LibraryConfig{
			VideoDir:   "/video-input",
			OutputDir:  "/video-output",
			Extensions: []string{".mp4", ".mkv", ".avi", ".mov"},
		},
		Approver: ApproverConfig{Interval: 60, BatchSize: 10},
		AI: AIConfig{
			Interval:  10,
			BatchSize: 3,
			Model:     "gpt-4o-mini",
			APIKey:    "sk-test",
		},
		Transcoder: TranscoderConfig{MinReductionRatio: 0.20},
		Mover:      MoverConfig{Interval: 10, BatchSize: 5},
		Workers: WorkersConfig{
			SleepInterval:        10,
			RetryDelay:           30,
			MaxRetryDelay:        300,
			MaxConsecutiveErrors: 3,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

func TestLoad_Defaults(t *testing.T) {
	// The API key is the only setting without a usable default
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Server defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)

	// Database defaults
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/data/video_db.sqlite", cfg.Database.Path)
	assert.Equal(t, 30, cfg.Database.Timeout)
	assert.Equal(t, 3, cfg.Database.MaxRetries)
	assert.InDelta(t, 0.1, cfg.Database.RetryDelay, 1e-9)

	// Library defaults
	assert.Equal(t, "/video-input", cfg.Library.VideoDir)
	assert.Equal(t, "/video-output", cfg.Library.OutputDir)
	assert.Equal(t, []string{".mp4", ".mkv", ".avi", ".mov"}, cfg.Library.Extensions)

	// Worker defaults
	assert.Equal(t, 30, cfg.Scanner.Interval)
	assert.Equal(t, 60, cfg.Approver.Interval)
	assert.Equal(t, 10, cfg.Approver.BatchSize)
	assert.False(t, cfg.Approver.AutoConfirmed)
	assert.False(t, cfg.Approver.AutoAccept)
	assert.Equal(t, 10, cfg.AI.Interval)
	assert.Equal(t, 3, cfg.AI.BatchSize)
	assert.Equal(t, "gpt-4o-mini", cfg.AI.Model)
	assert.Equal(t, "sk-test", cfg.AI.APIKey)
	assert.InDelta(t, 0.20, cfg.Transcoder.MinReductionRatio, 1e-9)
	assert.Equal(t, 5, cfg.Mover.BatchSize)
	assert.Equal(t, 10, cfg.Mover.Interval)
	assert.Equal(t, 10, cfg.Workers.SleepInterval)
	assert.Equal(t, 30, cfg.Workers.RetryDelay)
	assert.Equal(t, 300, cfg.Workers.MaxRetryDelay)
	assert.Equal(t, 3, cfg.Workers.MaxConsecutiveErrors)

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Backup defaults
	assert.True(t, cfg.Backup.Schedule.Enabled)
	assert.Equal(t, "0 0 2 * * *", cfg.Backup.Schedule.Cron)
	assert.Equal(t, 7, cfg.Backup.Schedule.Retention)
	assert.Equal(t, int64(100*1024*1024), cfg.Backup.MinFreeSpace.Bytes())

	// Maintenance defaults
	assert.Equal(t, "0 0 * * * *", cfg.Maintenance.OrphanSweepCron)
	assert.Equal(t, 24*time.Hour, cfg.Maintenance.TempMaxAge.Duration())
}

func TestLoad_FromFile(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  host: "127.0.0.1"
  port: 9090
  read_timeout: 60s

database:
  path: "/tmp/videos.sqlite"
  timeout: 10

library:
  video_dir: "/mnt/movies"
  output_dir: "/mnt/optimized"

ai:
  api_key: "sk-from-file"
  model: "gpt-4o"

logging:
  level: "debug"
  format: "text"
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Check file values were loaded
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "/tmp/videos.sqlite", cfg.Database.Path)
	assert.Equal(t, 10, cfg.Database.Timeout)
	assert.Equal(t, "/mnt/movies", cfg.Library.VideoDir)
	assert.Equal(t, "/mnt/optimized", cfg.Library.OutputDir)
	assert.Equal(t, "sk-from-file", cfg.AI.APIKey)
	assert.Equal(t, "gpt-4o", cfg.AI.Model)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_EnvOverride(t *testing.T) {
	// Set environment variables
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("COMPRESSARR_SERVER_PORT", "3000")
	t.Setenv("COMPRESSARR_DATABASE_PATH", "/tmp/override.sqlite")
	t.Setenv("COMPRESSARR_LOGGING_LEVEL", "warn")
	t.Setenv("COMPRESSARR_AI_MODEL", "gpt-4o")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Check env overrides
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/tmp/override.sqlite", cfg.Database.Path)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "gpt-4o", cfg.AI.Model)
}

func TestLoad_FlatEnvAliases(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-flat")
	t.Setenv("DB_PATH", "/tmp/flat.sqlite")
	t.Setenv("DB_TIMEOUT", "15")
	t.Setenv("DB_MAX_RETRIES", "5")
	t.Setenv("DB_RETRY_DELAY", "0.25")
	t.Setenv("VIDEO_DIR", "/mnt/in")
	t.Setenv("OUTPUT_DIR", "/mnt/out")
	t.Setenv("SCAN_INTERVAL", "45")
	t.Setenv("CONFIRM_INTERVAL", "90")
	t.Setenv("CONFIRM_BATCH_SIZE", "20")
	t.Setenv("AUTO_CONFIRMED", "true")
	t.Setenv("AUTO_ACCEPT", "true")
	t.Setenv("AI_INTERVAL", "5")
	t.Setenv("AI_BATCH_SIZE", "2")
	t.Setenv("AI_MODEL", "gpt-4.1-mini")
	t.Setenv("PROCESS_RETRY_DELAY", "60")
	t.Setenv("MAX_CONSECUTIVE_ERRORS", "4")
	t.Setenv("MIN_REDUCTION_RATIO", "0.35")
	t.Setenv("SLEEP_INTERVAL", "20")
	t.Setenv("MAX_RETRY_DELAY", "600")
	t.Setenv("REPLACE_BATCH_SIZE", "8")
	t.Setenv("REPLACE_INTERVAL", "15")
	t.Setenv("HOST_GPU_MODEL", "NVIDIA GeForce RTX 4070")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sk-flat", cfg.AI.APIKey)
	assert.Equal(t, "/tmp/flat.sqlite", cfg.Database.Path)
	assert.Equal(t, 15, cfg.Database.Timeout)
	assert.Equal(t, 5, cfg.Database.MaxRetries)
	assert.InDelta(t, 0.25, cfg.Database.RetryDelay, 1e-9)
	assert.Equal(t, "/mnt/in", cfg.Library.VideoDir)
	assert.Equal(t, "/mnt/out", cfg.Library.OutputDir)
	assert.Equal(t, 45, cfg.Scanner.Interval)
	assert.Equal(t, 90, cfg.Approver.Interval)
	assert.Equal(t, 20, cfg.Approver.BatchSize)
	assert.True(t, cfg.Approver.AutoConfirmed)
	assert.True(t, cfg.Approver.AutoAccept)
	assert.Equal(t, 5, cfg.AI.Interval)
	assert.Equal(t, 2, cfg.AI.BatchSize)
	assert.Equal(t, "gpt-4.1-mini", cfg.AI.Model)
	assert.Equal(t, 60, cfg.Workers.RetryDelay)
	assert.Equal(t, 4, cfg.Workers.MaxConsecutiveErrors)
	assert.InDelta(t, 0.35, cfg.Transcoder.MinReductionRatio, 1e-9)
	assert.Equal(t, 20, cfg.Workers.SleepInterval)
	assert.Equal(t, 600, cfg.Workers.MaxRetryDelay)
	assert.Equal(t, 8, cfg.Mover.BatchSize)
	assert.Equal(t, 15, cfg.Mover.Interval)
	assert.Equal(t, "NVIDIA GeForce RTX 4070", cfg.Host.GPUModel)
}

func TestLoad_PrefixedWinsOverFlat(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("DB_PATH", "/tmp/flat.sqlite")
	t.Setenv("COMPRESSARR_DATABASE_PATH", "/tmp/prefixed.sqlite")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/prefixed.sqlite", cfg.Database.Path)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 8080
ai:
  api_key: "sk-from-file"
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	// Set env var to override file
	t.Setenv("COMPRESSARR_SERVER_PORT", "9000")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	// Env should override file
	assert.Equal(t, 9000, cfg.Server.Port)
	// File value should be preserved
	assert.Equal(t, "sk-from-file", cfg.AI.APIKey)
}

func TestLoad_MissingAPIKey(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ai.api_key")
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validTestConfig()
	err := cfg.Validate()
	assert.NoError(t, err)
}

func TestValidate_InvalidPort(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"zero port", 0},
		{"negative port", -1},
		{"port too high", 70000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			cfg.Server.Port = tt.port
			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "server.port")
		})
	}
}

func TestValidate_InvalidDriver(t *testing.T) {
	cfg := validTestConfig()
	cfg.Database.Driver = "invalid"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "database.driver")
}

func TestValidate_SQLiteRequiresPath(t *testing.T) {
	cfg := validTestConfig()
	cfg.Database.Path = ""
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "database.path")
}

func TestValidate_SharedDriversRequireDSN(t *testing.T) {
	for _, driver := range []string{"postgres", "mysql"} {
		t.Run(driver, func(t *testing.T) {
			cfg := validTestConfig()
			cfg.Database.Driver = driver
			cfg.Database.DSN = ""
			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "database.dsn")
		})
	}
}

func TestValidate_LibraryDirs(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		errContains string
	}{
		{"empty video dir", func(c *Config) { c.Library.VideoDir = "" }, "video_dir"},
		{"empty output dir", func(c *Config) { c.Library.OutputDir = "" }, "output_dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestValidate_MissingAPIKey(t *testing.T) {
	cfg := validTestConfig()
	cfg.AI.APIKey = ""
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ai.api_key")
}

func TestValidate_WorkerPolicy(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		errContains string
	}{
		{"zero approver batch", func(c *Config) { c.Approver.BatchSize = 0 }, "approver.batch_size"},
		{"zero ai batch", func(c *Config) { c.AI.BatchSize = 0 }, "ai.batch_size"},
		{"zero mover batch", func(c *Config) { c.Mover.BatchSize = 0 }, "mover.batch_size"},
		{"zero consecutive errors", func(c *Config) { c.Workers.MaxConsecutiveErrors = 0 }, "max_consecutive_errors"},
		{"cap below base delay", func(c *Config) { c.Workers.MaxRetryDelay = 5 }, "max_retry_delay"},
		{"ratio of one", func(c *Config) { c.Transcoder.MinReductionRatio = 1.0 }, "min_reduction_ratio"},
		{"negative ratio", func(c *Config) { c.Transcoder.MinReductionRatio = -0.1 }, "min_reduction_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := validTestConfig()
	cfg.Logging.Level = "invalid"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := validTestConfig()
	cfg.Logging.Format = "xml"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "logging.format")
}

func TestServerConfig_Address(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		port     int
		expected string
	}{
		{"localhost", "127.0.0.1", 8080, "127.0.0.1:8080"},
		{"all interfaces", "0.0.0.0", 3000, "0.0.0.0:3000"},
		{"hostname", "example.com", 443, "example.com:443"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &ServerConfig{Host: tt.host, Port: tt.port}
			assert.Equal(t, tt.expected, cfg.Address())
		})
	}
}

func TestDurationAccessors(t *testing.T) {
	db := &DatabaseConfig{Timeout: 30, RetryDelay: 0.1}
	assert.Equal(t, 30*time.Second, db.BusyTimeout())
	assert.Equal(t, 100*time.Millisecond, db.RetryDelayDuration())

	workers := &WorkersConfig{SleepInterval: 10, RetryDelay: 30, MaxRetryDelay: 300}
	assert.Equal(t, 10*time.Second, workers.SleepIntervalDuration())
	assert.Equal(t, 30*time.Second, workers.RetryDelayDuration())
	assert.Equal(t, 300*time.Second, workers.MaxRetryDelayDuration())

	scanner := &ScannerConfig{Interval: 45}
	assert.Equal(t, 45*time.Second, scanner.IntervalDuration())
}

func TestLibraryConfig_HasExtension(t *testing.T) {
	cfg := &LibraryConfig{Extensions: []string{".mp4", ".mkv", ".avi", ".mov"}}

	tests := []struct {
		path string
		want bool
	}{
		{"/video-input/movie.mp4", true},
		{"/video-input/movie.MKV", true},
		{"/video-input/nested/show.mov", true},
		{"/video-input/notes.txt", false},
		{"/video-input/archive.mp4.bak", false},
		{"/video-input/noextension", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.HasExtension(tt.path))
		})
	}
}

func TestBackupConfig_BackupPath(t *testing.T) {
	t.Run("explicit directory", func(t *testing.T) {
		cfg := &BackupConfig{Directory: "/backups"}
		assert.Equal(t, "/backups", cfg.BackupPath("/data"))
	})

	t.Run("derived from database dir", func(t *testing.T) {
		cfg := &BackupConfig{}
		assert.Equal(t, "/data/backups", cfg.BackupPath("/data"))
	})
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	// Create an invalid YAML file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	invalidContent := `
server:
  port: "not a number"
  invalid yaml structure
`
	err := os.WriteFile(configPath, []byte(invalidContent), 0o600)
	require.NoError(t, err)

	_, err = Load(configPath)
	assert.Error(t, err)
}

func TestLoad_NonExistentFile(t *testing.T) {
	// Specifying a non-existent file should fail
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestConfig_AllDrivers(t *testing.T) {
	drivers := []string{"sqlite", "postgres", "mysql"}

	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			cfg := validTestConfig()
			cfg.Database.Driver = driver
			cfg.Database.DSN = "user:pass@tcp(localhost:3306)/compressarr"
			err := cfg.Validate()
			assert.NoError(t, err)
		})
	}
}
