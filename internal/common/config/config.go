// Package config provides configuration management for the aiswarm
// coordination server. It supports loading configuration from environment
// variables, a config file, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the coordination server.
type Config struct {
	WorkingDirectory string          `mapstructure:"workingDirectory"`
	Server           ServerConfig    `mapstructure:"server"`
	EventBus         EventBusConfig  `mapstructure:"eventBus"`
	Heartbeat        HeartbeatConfig `mapstructure:"heartbeat"`
	Tasks            TaskConfig      `mapstructure:"tasks"`
	Admin            AdminConfig     `mapstructure:"admin"`
	Logging          LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds the MCP HTTP transport configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	// Port is the preferred loopback port. If taken, ports up to PortMax
	// are scanned.
	Port    int `mapstructure:"port"`
	PortMax int `mapstructure:"portMax"`
	// ReadTimeout / WriteTimeout in seconds. Long-poll tools hold
	// connections open, so the write timeout must exceed the longest
	// configured task wait.
	ReadTimeout  int `mapstructure:"readTimeout"`
	WriteTimeout int `mapstructure:"writeTimeout"`
	// Stdio enables the stdio JSON-RPC transport alongside HTTP.
	Stdio bool `mapstructure:"stdio"`
}

// EventBusConfig holds per-subscriber queue settings.
type EventBusConfig struct {
	Capacity int    `mapstructure:"capacity"`
	FullMode string `mapstructure:"fullMode"` // wait, drop_oldest, drop_newest, drop_write
}

// HeartbeatConfig holds agent liveness settings.
type HeartbeatConfig struct {
	TimeoutSeconds       int `mapstructure:"timeoutSeconds"`
	SweepIntervalSeconds int `mapstructure:"sweepIntervalSeconds"`
}

// TaskConfig holds long-poll defaults for task dispatch.
type TaskConfig struct {
	DefaultWaitSeconds    int `mapstructure:"defaultWaitSeconds"`
	PollingIntervalMillis int `mapstructure:"pollingIntervalMillis"`
}

// AdminConfig holds the read-only inspection API settings.
type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// DatabasePath returns the SQLite file path under the working directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.WorkingDirectory, ".aiswarm", "aiswarm.db")
}

// HeartbeatTimeout returns the Running→Unhealthy threshold.
func (h *HeartbeatConfig) HeartbeatTimeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

// SweepInterval returns the health-sweep period.
func (h *HeartbeatConfig) SweepInterval() time.Duration {
	return time.Duration(h.SweepIntervalSeconds) * time.Second
}

// DefaultWait returns the get_next_task default timeout.
func (t *TaskConfig) DefaultWait() time.Duration {
	return time.Duration(t.DefaultWaitSeconds) * time.Second
}

// PollingInterval returns the fallback poll period for long-poll tools.
func (t *TaskConfig) PollingInterval() time.Duration {
	return time.Duration(t.PollingIntervalMillis) * time.Millisecond
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// detectDefaultLogFormat returns "json" in production environments and
// "text" for terminal/development use.
func detectDefaultLogFormat() string {
	if env := os.Getenv("AISWARM_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("workingDirectory", "")

	// Server defaults: loopback only, fallback scan 8081-9000.
	// Timeouts tolerate 10-minute long-poll connections.
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.portMax", 9000)
	v.SetDefault("server.readTimeout", 630)
	v.SetDefault("server.writeTimeout", 630)
	v.SetDefault("server.stdio", false)

	// Event bus defaults
	v.SetDefault("eventBus.capacity", 1024)
	v.SetDefault("eventBus.fullMode", "wait")

	// Heartbeat defaults
	v.SetDefault("heartbeat.timeoutSeconds", 90)
	v.SetDefault("heartbeat.sweepIntervalSeconds", 15)

	// Task dispatch defaults
	v.SetDefault("tasks.defaultWaitSeconds", 30)
	v.SetDefault("tasks.pollingIntervalMillis", 1000)

	// Admin inspection API defaults
	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.host", "127.0.0.1")
	v.SetDefault("admin.port", 8080)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and
// defaults. Environment variables use the prefix AISWARM_ with snake_case
// naming. The config file is config.yaml in the working directory or
// under .aiswarm/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AISWARM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath(".aiswarm")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.WorkingDirectory == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve working directory: %w", err)
		}
		cfg.WorkingDirectory = cwd
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are sane.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Server.PortMax < cfg.Server.Port || cfg.Server.PortMax > 65535 {
		errs = append(errs, "server.portMax must be between server.port and 65535")
	}

	if cfg.EventBus.Capacity <= 0 {
		errs = append(errs, "eventBus.capacity must be positive")
	}
	validModes := map[string]bool{"wait": true, "drop_oldest": true, "drop_newest": true, "drop_write": true}
	if !validModes[strings.ToLower(cfg.EventBus.FullMode)] {
		errs = append(errs, "eventBus.fullMode must be one of: wait, drop_oldest, drop_newest, drop_write")
	}

	if cfg.Heartbeat.TimeoutSeconds <= 0 {
		errs = append(errs, "heartbeat.timeoutSeconds must be positive")
	}
	if cfg.Heartbeat.SweepIntervalSeconds <= 0 {
		errs = append(errs, "heartbeat.sweepIntervalSeconds must be positive")
	}

	if cfg.Tasks.DefaultWaitSeconds <= 0 {
		errs = append(errs, "tasks.defaultWaitSeconds must be positive")
	}
	if cfg.Tasks.PollingIntervalMillis <= 0 {
		errs = append(errs, "tasks.pollingIntervalMillis must be positive")
	}

	if cfg.Admin.Enabled && (cfg.Admin.Port <= 0 || cfg.Admin.Port > 65535) {
		errs = append(errs, "admin.port must be between 1 and 65535")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
