// Package config handles configuration loading and management for pipechat.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/arkova/pipechat/internal/appdir"
)

// LogConfig holds logging-related settings.
type LogConfig struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level string `yaml:"level,omitempty"`
	// File is an optional log file path. Relative paths are resolved
	// against the pipechat logs directory.
	File string `yaml:"file,omitempty"`
	// JSON enables JSON log output
	JSON bool `yaml:"json,omitempty"`
}

// Config represents the complete pipechat configuration.
type Config struct {
	// Server is the base URL of the platform (e.g. "http://localhost:5300").
	Server string `yaml:"server"`

	// Token is a static auth token for the platform API. Prefer TokenCommand
	// for anything beyond local development.
	Token string `yaml:"token,omitempty"`

	// TokenCommand is a shell command whose stdout is used as the auth
	// token. It is re-run for every (re)connection so short-lived tokens
	// keep working.
	TokenCommand string `yaml:"token_command,omitempty"`

	// SessionType is the default debug session kind: "person" or "group".
	SessionType string `yaml:"session_type,omitempty"`

	// Log holds logging settings.
	Log LogConfig `yaml:"log,omitempty"`

	// Prompts is a list of saved prompts for the chat command.
	Prompts []Prompt `yaml:"prompts,omitempty"`
}

// Prompt is a named, reusable message for the chat command.
type Prompt struct {
	Name   string `yaml:"name"`
	Prompt string `yaml:"prompt"`
}

// Default returns the configuration defaults applied before file values.
func Default() *Config {
	return &Config{
		Server:      "http://localhost:5300",
		SessionType: "person",
		Log:         LogConfig{Level: "info"},
	}
}

// DefaultConfigPath returns the default configuration file path for the
// current platform. The PIPECHATRC environment variable overrides it.
func DefaultConfigPath() string {
	if envPath := os.Getenv("PIPECHATRC"); envPath != "" {
		return envPath
	}

	var configDir string
	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, _ := os.UserHomeDir()
		configDir = home
	default: // linux and others
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = xdgConfig
		} else {
			home, _ := os.UserHomeDir()
			configDir = home
		}
	}

	return filepath.Join(configDir, ".pipechatrc")
}

// Load reads and parses the configuration file from the given path.
// Missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDefault loads configuration from the default path, falling back to the
// settings file in the pipechat data directory when no RC file exists.
func LoadDefault() (*Config, error) {
	rcPath := DefaultConfigPath()
	if _, err := os.Stat(rcPath); err == nil {
		return Load(rcPath)
	}

	settingsPath, err := appdir.SettingsPath()
	if err != nil {
		return nil, err
	}
	return Load(settingsPath)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.SessionType {
	case "", "person", "group":
	default:
		return fmt.Errorf("invalid session_type %q (want \"person\" or \"group\")", c.SessionType)
	}
	return nil
}

// LogFilePath resolves the configured log file against the pipechat logs
// directory. Returns "" when file logging is disabled.
func (c *Config) LogFilePath() (string, error) {
	if c.Log.File == "" {
		return "", nil
	}
	if filepath.IsAbs(c.Log.File) {
		return c.Log.File, nil
	}
	logsDir, err := appdir.LogsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(logsDir, c.Log.File), nil
}
