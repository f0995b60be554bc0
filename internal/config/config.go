// Package config loads the daemon configuration from a YAML file into
// plain structs with defaults and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gatesql/gatesql/internal/registry"
)

// Duration makes "3s"-style values parseable by yaml.v3, which has no
// native time.Duration support.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		dur, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("config: bad duration %q: %w", s, err)
		}
		*d = Duration(dur)
		return nil
	}
	var n int64
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("config: bad duration value")
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

// Std converts back to the stdlib type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Listen      string            `yaml:"listen"`
	AdminListen string            `yaml:"admin_listen"`
	CorsOrigins []string          `yaml:"cors_origins"`
	KeyFile     string            `yaml:"key_file"`
	LogFile     string            `yaml:"log_file"`
	Limits      LimitsConfig      `yaml:"limits"`
	Database    DatabaseConfig    `yaml:"database"`
	Constants   registry.Constants `yaml:"constants"`
}

type DatabaseConfig struct {
	Driver         string        `yaml:"driver"`
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ConnectTimeout Duration      `yaml:"connect_timeout"`
}

type LimitsConfig struct {
	MaxConnections int           `yaml:"max_connections"`
	MaxDBWorkers   int           `yaml:"max_db_workers"`
	IdleTimeout    Duration      `yaml:"idle_timeout"`
}

// Load reads the YAML file at path. A missing path yields the defaults.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Listen == "" {
		cfg.Listen = ":9461"
	}
	if cfg.AdminListen == "" {
		cfg.AdminListen = ":9462"
	}
	if cfg.KeyFile == "" {
		cfg.KeyFile = "gatesql.key.pem"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "mysql"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "127.0.0.1"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 3306
	}
	if cfg.Database.ConnectTimeout == 0 {
		cfg.Database.ConnectTimeout = Duration(10 * time.Second)
	}
	if cfg.Limits.MaxConnections == 0 {
		cfg.Limits.MaxConnections = 256
	}
	if cfg.Limits.MaxDBWorkers == 0 {
		cfg.Limits.MaxDBWorkers = 16
	}
	if cfg.Limits.IdleTimeout == 0 {
		cfg.Limits.IdleTimeout = Duration(10 * time.Minute)
	}
	if cfg.Constants.Naming == (registry.Naming{}) {
		cfg.Constants.Naming = registry.DefaultNaming()
	}
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Listen) == "" {
		return fmt.Errorf("config missing listen address")
	}
	if cfg.Database.Driver != "mysql" && cfg.Database.Driver != "sqlite" {
		return fmt.Errorf("config driver %q unsupported", cfg.Database.Driver)
	}
	if cfg.Limits.MaxConnections < 1 {
		return fmt.Errorf("config max_connections must be positive")
	}
	if cfg.Limits.MaxDBWorkers < 1 {
		return fmt.Errorf("config max_db_workers must be positive")
	}
	return nil
}
