package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config mirrors config.yaml. Zero values are replaced by defaults in Load.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
	Liveness  LivenessConfig  `yaml:"liveness"`
	Fallback  FallbackConfig  `yaml:"fallback"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Activity  ActivityConfig  `yaml:"activity"`
	Auth      AuthConfig      `yaml:"auth"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
	Mode   string `yaml:"mode"` // gin mode: debug | release | test
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Dir string `yaml:"dir"`
}

type LivenessConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	OfflineAfter  time.Duration `yaml:"offline_after"`
}

// FallbackConfig describes the HTTP endpoint every display exposes for
// events it may have missed on the websocket.
type FallbackConfig struct {
	Enabled bool          `yaml:"enabled"`
	Port    int           `yaml:"port"`
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

type RateLimitConfig struct {
	DeviceRPS   float64 `yaml:"device_rps"`
	DeviceBurst int     `yaml:"device_burst"`
}

type ActivityConfig struct {
	Backend       string `yaml:"backend"` // sqlite | dynamodb | log
	DynamoDBTable string `yaml:"dynamodb_table"`
}

type AuthConfig struct {
	Tokens []TokenConfig `yaml:"tokens"`
}

type TokenConfig struct {
	Token  string `yaml:"token"`
	UserID string `yaml:"user_id"`
	Admin  bool   `yaml:"admin"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	cfg := Config{}
	cfg.Fallback.Enabled = true
	applyDefaults(&cfg)
	return cfg
}

// Load reads a YAML config file and fills in defaults.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{Fallback: FallbackConfig{Enabled: true}}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = DatabasePath
	}
	if cfg.Log.Dir == "" {
		cfg.Log.Dir = "log"
	}
	if cfg.Liveness.SweepInterval <= 0 {
		cfg.Liveness.SweepInterval = 30 * time.Second
	}
	if cfg.Liveness.OfflineAfter <= 0 {
		cfg.Liveness.OfflineAfter = 90 * time.Second
	}
	if cfg.Fallback.Port == 0 {
		cfg.Fallback.Port = 8080
	}
	if cfg.Fallback.Path == "" {
		cfg.Fallback.Path = "/api/display/event"
	}
	if cfg.Fallback.Timeout <= 0 {
		cfg.Fallback.Timeout = 3 * time.Second
	}
	if cfg.RateLimit.DeviceRPS <= 0 {
		cfg.RateLimit.DeviceRPS = 5
	}
	if cfg.RateLimit.DeviceBurst <= 0 {
		cfg.RateLimit.DeviceBurst = 20
	}
	if cfg.Activity.Backend == "" {
		cfg.Activity.Backend = "sqlite"
	}
}

func (c Config) Validate() error {
	if c.Liveness.OfflineAfter < c.Liveness.SweepInterval {
		return errors.New("liveness.offline_after must not be shorter than liveness.sweep_interval")
	}
	if c.Fallback.Timeout > 30*time.Second {
		return errors.New("fallback.timeout must be at most 30s")
	}
	switch c.Activity.Backend {
	case "sqlite", "log":
	case "dynamodb":
		if c.Activity.DynamoDBTable == "" {
			return errors.New("activity.dynamodb_table must be set for the dynamodb backend")
		}
	default:
		return fmt.Errorf("unknown activity.backend %q (expected sqlite, dynamodb or log)", c.Activity.Backend)
	}
	for i, tok := range c.Auth.Tokens {
		if tok.Token == "" {
			return fmt.Errorf("auth.tokens[%d]: token must be set", i)
		}
		if tok.UserID == "" && !tok.Admin {
			return fmt.Errorf("auth.tokens[%d]: user_id must be set for non-admin tokens", i)
		}
	}
	return nil
}
