package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// SettingsDir is where ladle keeps its settings and logs, relative to the
// working directory.
const SettingsDir = ".ladle"

// Config is the application configuration, loaded from the settings file,
// environment, and flags via viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Stream  StreamConfig  `mapstructure:"stream"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig points at the assistant service.
type ServerConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StreamConfig tunes the event stream.
type StreamConfig struct {
	// IdleTimeout aborts a stream that goes silent. Zero disables it.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	LogFile  string `mapstructure:"log_file"`
	Preserve bool   `mapstructure:"preserve"`
	Level    string `mapstructure:"level"`
}

var cfg Config

// SetDefaults registers every default with viper. Called once from command
// initialization, before Load.
func SetDefaults() {
	viper.SetDefault("server.url", "http://localhost:8080")
	viper.SetDefault("server.token", "")
	viper.SetDefault("server.timeout", "30s")

	viper.SetDefault("stream.idle_timeout", "2m")

	viper.SetDefault("logging.log_file", filepath.Join(SettingsDir, "ladle.log"))
	viper.SetDefault("logging.preserve", true)
	viper.SetDefault("logging.level", "info")
}

// Load unmarshals the merged viper state into the global config.
func Load() error {
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to parse configuration: %w", err)
	}
	return nil
}

// Get returns the loaded configuration.
func Get() Config {
	return cfg
}

// BuildSettingsPath resolves a file name inside the settings directory,
// creating the directory if needed.
func BuildSettingsPath(name string) string {
	if err := os.MkdirAll(SettingsDir, 0755); err != nil {
		return name
	}
	return filepath.Join(SettingsDir, name)
}
