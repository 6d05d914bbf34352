package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
	Pipeline  PipelineConfig  `yaml:"pipeline" envconfig:"PIPELINE"`
	Upload    UploadConfig    `yaml:"upload" envconfig:"UPLOAD"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/insightpulse.log"`
}

// WebSocketConfig contains WebSocket transport configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE" default:"1024"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE" default:"1024"`
	WriteWait       time.Duration `yaml:"write_wait" envconfig:"WRITE_WAIT" default:"10s"`
	ReceiveTimeout  time.Duration `yaml:"receive_timeout" envconfig:"RECEIVE_TIMEOUT" default:"60s"`
	SendBufferSize  int           `yaml:"send_buffer_size" envconfig:"SEND_BUFFER_SIZE" default:"256"`
}

// PipelineConfig controls orchestration behaviour
type PipelineConfig struct {
	StageDelay             time.Duration `yaml:"stage_delay" envconfig:"STAGE_DELAY" default:"500ms"`
	ProcessTimeout         time.Duration `yaml:"process_timeout" envconfig:"PROCESS_TIMEOUT" default:"30s"`
	AnalyzeTimeout         time.Duration `yaml:"analyze_timeout" envconfig:"ANALYZE_TIMEOUT" default:"15s"`
	CancelOnLastDisconnect bool          `yaml:"cancel_on_last_disconnect" envconfig:"CANCEL_ON_LAST_DISCONNECT" default:"true"`
}

// UploadConfig constrains dataset intake
type UploadConfig struct {
	MaxFileSize    int64    `yaml:"max_file_size" envconfig:"MAX_FILE_SIZE" default:"10485760"`
	AllowedDomains []string `yaml:"allowed_domains" envconfig:"ALLOWED_DOMAINS" default:"financial,retail,generic"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"100"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"50"`
}

// Load loads configuration from environment variables and an optional
// YAML file pointed at by INSIGHT_CONFIG_FILE.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("INSIGHT", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if path := os.Getenv("INSIGHT_CONFIG_FILE"); path != "" {
		if err := mergeFile(&cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// mergeFile overlays values from a YAML file onto cfg
func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// validate checks configuration invariants
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch strings.ToLower(c.Logging.Output) {
	case "console", "file", "both":
	default:
		return fmt.Errorf("invalid log output: %s", c.Logging.Output)
	}

	if c.WebSocket.ReceiveTimeout <= 0 {
		return fmt.Errorf("websocket receive timeout must be positive")
	}
	if c.WebSocket.SendBufferSize <= 0 {
		return fmt.Errorf("websocket send buffer size must be positive")
	}

	if c.Pipeline.ProcessTimeout <= 0 || c.Pipeline.AnalyzeTimeout <= 0 {
		return fmt.Errorf("pipeline timeouts must be positive")
	}

	if c.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("upload max file size must be positive")
	}
	if len(c.Upload.AllowedDomains) == 0 {
		return fmt.Errorf("at least one upload domain must be allowed")
	}

	return nil
}

// DomainAllowed reports whether a dataset domain is accepted for upload
func (u UploadConfig) DomainAllowed(domain string) bool {
	for _, d := range u.AllowedDomains {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}

// Default returns a configuration with default values, used by tests
// and by components constructed without an explicit config.
func Default() *Config {
	cfg := &Config{}
	if err := envconfig.Process("INSIGHT_DEFAULTS_UNUSED", cfg); err != nil {
		// Defaults come from struct tags; processing an unused prefix
		// cannot fail for this struct.
		panic(err)
	}
	return cfg
}
