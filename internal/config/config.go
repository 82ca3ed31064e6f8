// Package config provides configuration management for asciireel using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/jmylchreest/asciireel/internal/urlutil"
)

// Default configuration values.
const (
	defaultServerPort       = 8080
	defaultServerTimeout    = 30 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultFPS              = 30
	defaultWidth            = 60
	defaultHeight           = 20
	defaultChunkSize        = 300
	defaultRefreshRate      = 60
	defaultPrefetchMargin   = 30
	defaultFetchTimeout     = 30 * time.Second
	defaultRetryAttempts    = 2
	defaultRetryDelay       = 500 * time.Millisecond
	defaultCircuitThreshold = 5
	defaultCircuitTimeout   = 30 * time.Second
	defaultMaxChunkSize     = 16 * 1024 * 1024 // 16MB
	defaultMaxSessions      = 32
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "ASCIIREEL"

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Compiler CompilerConfig `mapstructure:"compiler"`
	Player   PlayerConfig   `mapstructure:"player"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	FFmpeg   FFmpegConfig   `mapstructure:"ffmpeg"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	MaxSessions     int           `mapstructure:"max_sessions"` // concurrent websocket playback sessions
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	BaseDir   string `mapstructure:"base_dir"`
	FramesDir string `mapstructure:"frames_dir"`
	TempDir   string `mapstructure:"temp_dir"`
	// CleanupSchedule is the cron expression for sweeping abandoned compile
	// stages. Empty disables the sweep.
	CleanupSchedule string        `mapstructure:"cleanup_schedule"`
	StageMaxAge     time.Duration `mapstructure:"stage_max_age"`
	// ChunkRetention is how long chunks of a superseded compile are kept
	// after a recompile, for sessions still playing the earlier manifest.
	ChunkRetention time.Duration `mapstructure:"chunk_retention"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// CompilerConfig holds the defaults used by the frame compiler.
type CompilerConfig struct {
	FPS       int    `mapstructure:"fps"`
	Width     int    `mapstructure:"width"`
	Height    int    `mapstructure:"height"`
	ChunkSize int    `mapstructure:"chunk_size"`
	Palette   string `mapstructure:"palette"`
	Source    string `mapstructure:"source"` // ffmpeg, images
	// Input and Schedule let the server recompile its reel periodically,
	// for sources that change over time. An empty schedule disables it.
	Input    string `mapstructure:"input"`
	Schedule string `mapstructure:"schedule"`
}

// PlayerConfig holds playback scheduler configuration.
type PlayerConfig struct {
	RefreshRate    int           `mapstructure:"refresh_rate"`    // display refreshes per second driving the tick loop
	PrefetchMargin int           `mapstructure:"prefetch_margin"` // frames before buffer end that trigger a prefetch
	ChunkRetries   int           `mapstructure:"chunk_retries"`   // extra attempts for a failed chunk (0 = fail fast)
	ChunkBackoff   time.Duration `mapstructure:"chunk_backoff"`
	FallbackFPS    int           `mapstructure:"fallback_fps"`   // degraded mode rate when no manifest is available
	EagerPrefetch  bool          `mapstructure:"eager_prefetch"` // request the second chunk as soon as the first lands
}

// FetchConfig holds asset retrieval configuration for remote reels.
type FetchConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	AuthToken        string        `mapstructure:"auth_token" masq:"secret"` // sent as a bearer token; redacted in logs
	Timeout          time.Duration `mapstructure:"timeout"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	CircuitThreshold int           `mapstructure:"circuit_threshold"`
	CircuitTimeout   time.Duration `mapstructure:"circuit_timeout"`
	// MaxChunkSize caps the decoded size of a single manifest or chunk resource.
	// Supports human-readable values like "16MB" or raw byte counts.
	MaxChunkSize ByteSize `mapstructure:"max_chunk_size"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // empty = auto-detect
	LogLevel   string `mapstructure:"log_level"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with ASCIIREEL_ and use underscores for nesting.
// Example: ASCIIREEL_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/asciireel")
		v.AddConfigPath("$HOME/.asciireel")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return Unmarshal(v)
}

// Unmarshal decodes and validates the configuration held by v.
func Unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	hooks := mapstructure.ComposeDecodeHookFunc(
		byteSizeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hooks)); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_sessions", defaultMaxSessions)

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.frames_dir", "frames")
	v.SetDefault("storage.temp_dir", "temp")
	v.SetDefault("storage.cleanup_schedule", "@hourly")
	v.SetDefault("storage.stage_max_age", time.Hour)
	v.SetDefault("storage.chunk_retention", time.Hour)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Compiler defaults
	v.SetDefault("compiler.fps", defaultFPS)
	v.SetDefault("compiler.width", defaultWidth)
	v.SetDefault("compiler.height", defaultHeight)
	v.SetDefault("compiler.chunk_size", defaultChunkSize)
	v.SetDefault("compiler.palette", " .:;ox%##")
	v.SetDefault("compiler.source", "ffmpeg")
	v.SetDefault("compiler.input", "")
	v.SetDefault("compiler.schedule", "")

	// Player defaults
	v.SetDefault("player.refresh_rate", defaultRefreshRate)
	v.SetDefault("player.prefetch_margin", defaultPrefetchMargin)
	v.SetDefault("player.chunk_retries", 0)
	v.SetDefault("player.chunk_backoff", time.Second)
	v.SetDefault("player.fallback_fps", defaultFPS)
	v.SetDefault("player.eager_prefetch", true)

	// Fetch defaults
	v.SetDefault("fetch.base_url", "")
	v.SetDefault("fetch.auth_token", "")
	v.SetDefault("fetch.timeout", defaultFetchTimeout)
	v.SetDefault("fetch.retry_attempts", defaultRetryAttempts)
	v.SetDefault("fetch.retry_delay", defaultRetryDelay)
	v.SetDefault("fetch.circuit_threshold", defaultCircuitThreshold)
	v.SetDefault("fetch.circuit_timeout", defaultCircuitTimeout)
	v.SetDefault("fetch.max_chunk_size", defaultMaxChunkSize)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.log_level", "error")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}
	if c.Server.MaxSessions < 1 {
		return fmt.Errorf("server.max_sessions must be at least 1")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}
	if c.Storage.FramesDir == "" {
		return fmt.Errorf("storage.frames_dir is required")
	}
	if c.Storage.ChunkRetention < 0 {
		return fmt.Errorf("storage.chunk_retention must not be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Compiler.FPS < 1 {
		return fmt.Errorf("compiler.fps must be at least 1")
	}
	if c.Compiler.Width < 1 || c.Compiler.Height < 1 {
		return fmt.Errorf("compiler.width and compiler.height must be at least 1")
	}
	if c.Compiler.ChunkSize < 1 {
		return fmt.Errorf("compiler.chunk_size must be at least 1")
	}
	validSources := map[string]bool{"ffmpeg": true, "images": true}
	if !validSources[c.Compiler.Source] {
		return fmt.Errorf("compiler.source must be one of: ffmpeg, images")
	}

	if c.Compiler.Schedule != "" && c.Compiler.Input == "" {
		return fmt.Errorf("compiler.input is required when compiler.schedule is set")
	}

	if c.Player.RefreshRate < 1 {
		return fmt.Errorf("player.refresh_rate must be at least 1")
	}
	if c.Player.PrefetchMargin < 1 {
		return fmt.Errorf("player.prefetch_margin must be at least 1")
	}
	if c.Player.ChunkRetries < 0 {
		return fmt.Errorf("player.chunk_retries must not be negative")
	}
	if c.Player.FallbackFPS < 1 {
		return fmt.Errorf("player.fallback_fps must be at least 1")
	}

	if c.Fetch.BaseURL != "" {
		if _, err := urlutil.ParseLocation(c.Fetch.BaseURL); err != nil {
			return fmt.Errorf("fetch.base_url: %w", err)
		}
	}
	if c.Fetch.RetryAttempts < 0 {
		return fmt.Errorf("fetch.retry_attempts must not be negative")
	}
	if c.Fetch.MaxChunkSize <= 0 {
		return fmt.Errorf("fetch.max_chunk_size must be positive")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FramesPath returns the full path to the compiled reel directory.
func (c *StorageConfig) FramesPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.FramesDir)
}
