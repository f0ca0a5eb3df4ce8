// Package config loads the agent's YAML configuration and persists the agent
// credential between runs.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/greenops/greenops/pkg/file"
)

// Config represents the structure of the agent configuration file.
type Config struct {
	Server struct {
		URL     string        `yaml:"url"`     // Base URL of the GreenOps server
		Timeout time.Duration `yaml:"timeout"` // Per-request timeout
	} `yaml:"server"`

	Heartbeat struct {
		Interval    time.Duration `yaml:"interval"`     // Interval between heartbeats
		BackoffBase time.Duration `yaml:"backoff_base"` // Initial retry delay after a failure
		BackoffMax  time.Duration `yaml:"backoff_max"`  // Retry delay cap
	} `yaml:"heartbeat"`

	Idle struct {
		Probe string `yaml:"probe"` // External idle-time command, e.g. xprintidle
	} `yaml:"idle"`

	TokenFile string `yaml:"token_file"` // Where the agent credential is persisted
}

// DefaultDir returns the platform config directory for the agent.
func DefaultDir() string {
	if runtime.GOOS == "windows" {
		base := os.Getenv("PROGRAMDATA")
		if base == "" {
			base = `C:\ProgramData`
		}
		return filepath.Join(base, "GreenOps")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".greenops")
}

// Load reads the agent configuration, filling defaults and applying
// environment overrides. A missing file is not an error; the defaults plus
// environment are enough to run.
func Load(filename string, fileClient file.FileOperations) (*Config, error) {
	var cfg Config

	exists, err := fileClient.IsFileExists(filename)
	if err != nil {
		return nil, err
	}
	if exists {
		if err := fileClient.ReadYamlFile(filename, &cfg); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("GREENOPS_SERVER_URL"); v != "" {
		cfg.Server.URL = v
	}
	if cfg.Server.URL == "" {
		cfg.Server.URL = "http://localhost:8000"
	}
	cfg.Server.URL = strings.TrimRight(cfg.Server.URL, "/")

	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = 10 * time.Second
	}
	if cfg.Heartbeat.Interval == 0 {
		cfg.Heartbeat.Interval = 60 * time.Second
	}
	if cfg.Heartbeat.BackoffBase == 0 {
		cfg.Heartbeat.BackoffBase = 5 * time.Second
	}
	if cfg.Heartbeat.BackoffMax == 0 {
		cfg.Heartbeat.BackoffMax = 5 * time.Minute
	}
	if cfg.TokenFile == "" {
		cfg.TokenFile = filepath.Join(DefaultDir(), "token")
	}

	return &cfg, nil
}

// LoadToken reads the persisted agent credential, returning "" when none has
// been saved yet.
func LoadToken(cfg *Config, fileClient file.FileOperations) string {
	exists, err := fileClient.IsFileExists(cfg.TokenFile)
	if err != nil || !exists {
		return ""
	}
	token, err := fileClient.ReadFile(cfg.TokenFile)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(token)
}

// SaveToken persists the agent credential for the next run.
func SaveToken(cfg *Config, fileClient file.FileOperations, token string) error {
	return fileClient.WriteFile(cfg.TokenFile, token)
}
