package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the entire application configuration
type Config struct {
	Work     WorkConfig     `mapstructure:"work"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	Download DownloadConfig `mapstructure:"download"`
	Split    SplitConfig    `mapstructure:"split"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
}

// WorkConfig contains work-directory settings
type WorkConfig struct {
	RootDir        string `mapstructure:"root_dir"`
	TempFileMaxAge string `mapstructure:"temp_file_max_age"`
}

// ExtractConfig contains share-link resolution settings
type ExtractConfig struct {
	Timeout   string `mapstructure:"timeout"`
	UserAgent string `mapstructure:"user_agent"`
}

// DownloadConfig contains download job settings
type DownloadConfig struct {
	MaxRetries             int    `mapstructure:"max_retries"`
	BufferSizeMB           int    `mapstructure:"buffer_size_mb"`
	MinFreeSpaceMB         int    `mapstructure:"min_free_space_mb"`
	ProgressUpdateInterval string `mapstructure:"progress_update_interval"`
	StaleTaskTimeout       string `mapstructure:"stale_task_timeout"`
}

// SplitConfig contains re-encoding settings
type SplitConfig struct {
	FFmpegPath  string `mapstructure:"ffmpeg_path"`
	FFprobePath string `mapstructure:"ffprobe_path"`
	ExtraArgs   string `mapstructure:"extra_args"`
	Timeout     string `mapstructure:"timeout"`
}

// HTTPConfig contains HTTP server configuration
type HTTPConfig struct {
	BindAddr     string `mapstructure:"bind_addr"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	IdleTimeout  string `mapstructure:"idle_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// Load loads configuration from the specified file path
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// Set defaults
	viper.SetDefault("work.root_dir", "/var/lib/sharesplit")
	viper.SetDefault("work.temp_file_max_age", "24h")
	viper.SetDefault("extract.timeout", "15s")
	viper.SetDefault("extract.user_agent", "sharesplit/1.0")
	viper.SetDefault("download.max_retries", 5)
	viper.SetDefault("download.buffer_size_mb", 1)
	viper.SetDefault("download.min_free_space_mb", 256)
	viper.SetDefault("download.progress_update_interval", "1s")
	viper.SetDefault("download.stale_task_timeout", "30m")
	viper.SetDefault("split.ffmpeg_path", "ffmpeg")
	viper.SetDefault("split.ffprobe_path", "ffprobe")
	viper.SetDefault("split.extra_args", "")
	viper.SetDefault("split.timeout", "20m")
	viper.SetDefault("http.bind_addr", "0.0.0.0:8080")
	viper.SetDefault("http.read_timeout", "30s")
	viper.SetDefault("http.write_timeout", "30s")
	viper.SetDefault("http.idle_timeout", "60s")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("database.path", "")

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Work.RootDir == "" {
		return fmt.Errorf("work.root_dir is required")
	}

	if c.Download.MaxRetries < 0 {
		return fmt.Errorf("download.max_retries must not be negative")
	}
	if c.Download.BufferSizeMB <= 0 {
		return fmt.Errorf("download.buffer_size_mb must be positive")
	}

	if c.Split.FFmpegPath == "" {
		return fmt.Errorf("split.ffmpeg_path is required")
	}
	if c.Split.FFprobePath == "" {
		return fmt.Errorf("split.ffprobe_path is required")
	}

	// Validate duration strings
	durations := map[string]string{
		"work.temp_file_max_age":            c.Work.TempFileMaxAge,
		"extract.timeout":                   c.Extract.Timeout,
		"download.progress_update_interval": c.Download.ProgressUpdateInterval,
		"download.stale_task_timeout":       c.Download.StaleTaskTimeout,
		"split.timeout":                     c.Split.Timeout,
		"http.read_timeout":                 c.HTTP.ReadTimeout,
		"http.write_timeout":                c.HTTP.WriteTimeout,
		"http.idle_timeout":                 c.HTTP.IdleTimeout,
	}
	for key, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	// Validate logging config
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

// GetTempFileMaxAge returns the temp file max age as time.Duration
func (c *WorkConfig) GetTempFileMaxAge() time.Duration {
	d, _ := time.ParseDuration(c.TempFileMaxAge)
	return d
}

// GetTimeout returns the extraction timeout as time.Duration
func (c *ExtractConfig) GetTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// GetBufferSize returns the download buffer size in bytes
func (c *DownloadConfig) GetBufferSize() int {
	return c.BufferSizeMB * 1024 * 1024
}

// GetMinFreeSpace returns the minimum free space in bytes
func (c *DownloadConfig) GetMinFreeSpace() int64 {
	return int64(c.MinFreeSpaceMB) * 1024 * 1024
}

// GetProgressUpdateInterval returns the progress update interval as time.Duration
func (c *DownloadConfig) GetProgressUpdateInterval() time.Duration {
	d, _ := time.ParseDuration(c.ProgressUpdateInterval)
	return d
}

// GetStaleTaskTimeout returns the stale task timeout as time.Duration
func (c *DownloadConfig) GetStaleTaskTimeout() time.Duration {
	d, _ := time.ParseDuration(c.StaleTaskTimeout)
	return d
}

// GetTimeout returns the split timeout as time.Duration
func (c *SplitConfig) GetTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// GetReadTimeout returns the HTTP read timeout as time.Duration
func (c *HTTPConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ReadTimeout)
	return d
}

// GetWriteTimeout returns the HTTP write timeout as time.Duration
func (c *HTTPConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(c.WriteTimeout)
	return d
}

// GetIdleTimeout returns the HTTP idle timeout as time.Duration
func (c *HTTPConfig) GetIdleTimeout() time.Duration {
	d, _ := time.ParseDuration(c.IdleTimeout)
	return d
}
