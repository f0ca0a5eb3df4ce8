// Package config loads the server's YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/greenops/greenops/pkg/file"
)

// Config represents the structure of the server configuration file.
type Config struct {
	Server struct {
		Host string `yaml:"host"` // Listen address
		Port int    `yaml:"port"` // Listen port
	} `yaml:"server"`

	Storage struct {
		Path string `yaml:"path"` // Badger database directory
	} `yaml:"storage"`

	Auth struct {
		JWTSecret            string        `yaml:"jwt_secret"`             // Operator session signing key (or GREENOPS_JWT_SECRET)
		JWTExpiry            time.Duration `yaml:"jwt_expiry"`             // Operator session lifetime
		AdminUsername        string        `yaml:"admin_username"`         // Bootstrap operator account
		AdminInitialPassword string        `yaml:"admin_initial_password"` // Bootstrap password (or GREENOPS_ADMIN_PASSWORD)
		LoginRateLimit       int           `yaml:"login_rate_limit"`       // Login attempts per window per client
		LoginRateWindow      time.Duration `yaml:"login_rate_window"`      // Rate-limit window
	} `yaml:"auth"`

	Sweeper struct {
		Interval time.Duration `yaml:"interval"` // Offline/expiry sweep interval
	} `yaml:"sweeper"`

	CORS struct {
		Origins []string `yaml:"origins"` // Allowed CORS origins
	} `yaml:"cors"`

	Log struct {
		Level string `yaml:"level"` // zerolog level name
	} `yaml:"log"`
}

// Load reads the YAML configuration from the specified file, applies
// environment overrides for secrets and fills in defaults.
func Load(filename string, fileClient file.FileOperations) (*Config, error) {
	var cfg Config
	if err := fileClient.ReadYamlFile(filename, &cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", filename, err)
	}

	if v := os.Getenv("GREENOPS_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("GREENOPS_ADMIN_PASSWORD"); v != "" {
		cfg.Auth.AdminInitialPassword = v
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "data"
	}
	if cfg.Auth.JWTExpiry == 0 {
		cfg.Auth.JWTExpiry = 24 * time.Hour
	}
	if cfg.Auth.AdminUsername == "" {
		cfg.Auth.AdminUsername = "admin"
	}
	if cfg.Auth.LoginRateLimit == 0 {
		cfg.Auth.LoginRateLimit = 5
	}
	if cfg.Auth.LoginRateWindow == 0 {
		cfg.Auth.LoginRateWindow = 15 * time.Minute
	}
	if cfg.Sweeper.Interval == 0 {
		cfg.Sweeper.Interval = 60 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not set (or GREENOPS_JWT_SECRET)")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret is too short (%d chars); minimum 32 required", len(c.Auth.JWTSecret))
	}
	return nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
