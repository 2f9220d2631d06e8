package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/cloudsync/internal/env"
	"github.com/loykin/cloudsync/internal/logger"
)

// EnvPrefix namespaces environment overrides, e.g. CLOUDSYNC_SERVER_PORT.
const EnvPrefix = "CLOUDSYNC"

type Config struct {
	ResourcesDir string          `mapstructure:"resources_dir"`
	Server       ServerConfig    `mapstructure:"server"`
	Dependent    DependentConfig `mapstructure:"dependent"`
	Health       HealthConfig    `mapstructure:"health"`
	Log          logger.Config   `mapstructure:"log"`
	Control      ControlConfig   `mapstructure:"control"`
	Metrics      MetricsConfig   `mapstructure:"metrics"`
	History      HistoryConfig   `mapstructure:"history"`
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	Binary              string        `mapstructure:"binary"`
	Args                []string      `mapstructure:"args"`
	WorkDir             string        `mapstructure:"workdir"`
	Env                 []string      `mapstructure:"env"`
	EnvFiles            []string      `mapstructure:"env_files"`
	GraceDelay          time.Duration `mapstructure:"grace_delay"`
	StopTimeout         time.Duration `mapstructure:"stop_timeout"`
	KeepOnHealthFailure bool          `mapstructure:"keep_on_health_failure"`
}

type DependentConfig struct {
	Name          string        `mapstructure:"name"`
	Dir           string        `mapstructure:"dir"`
	Marker        string        `mapstructure:"marker"`
	VersionArg    string        `mapstructure:"version_arg"`
	VerifyTimeout time.Duration `mapstructure:"verify_timeout"`
	VerifySystem  bool          `mapstructure:"verify_system"`
}

type HealthConfig struct {
	Path     string        `mapstructure:"path"`
	Attempts int           `mapstructure:"attempts"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Interval time.Duration `mapstructure:"interval"`
}

type ControlConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

type MetricsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
}

type HistoryConfig struct {
	DSN string `mapstructure:"dsn"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("resources_dir", "")

	v.SetDefault("server.port", 8989)
	v.SetDefault("server.binary", "sync-server")
	v.SetDefault("server.args", []string{})
	v.SetDefault("server.workdir", "")
	v.SetDefault("server.env", []string{})
	v.SetDefault("server.env_files", []string{})
	v.SetDefault("server.grace_delay", 2*time.Second)
	v.SetDefault("server.stop_timeout", 5*time.Second)
	v.SetDefault("server.keep_on_health_failure", false)

	v.SetDefault("dependent.name", "rclone")
	v.SetDefault("dependent.dir", "rclone-binaries")
	v.SetDefault("dependent.marker", "rclone v")
	v.SetDefault("dependent.version_arg", "version")
	v.SetDefault("dependent.verify_timeout", 10*time.Second)
	v.SetDefault("dependent.verify_system", false)

	v.SetDefault("health.path", "/status")
	v.SetDefault("health.attempts", 20)
	v.SetDefault("health.timeout", time.Second)
	v.SetDefault("health.interval", 500*time.Millisecond)

	v.SetDefault("log.slog.level", "info")
	v.SetDefault("log.slog.format", "text")
	v.SetDefault("log.slog.color", "auto")
	v.SetDefault("log.slog.timestamps", true)
	v.SetDefault("log.slog.source", false)
	v.SetDefault("log.file.dir", "")
	v.SetDefault("log.file.stdout", "")
	v.SetDefault("log.file.stderr", "")
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)

	v.SetDefault("control.listen", "")
	v.SetDefault("control.base_path", "/api")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.sample_interval", 5*time.Second)

	v.SetDefault("history.dsn", "")
}

// Default returns the built-in configuration.
func Default() *Config {
	c, _ := load(viper.New(), "")
	return c
}

// Load reads the TOML file at path (optional) and applies CLOUDSYNC_*
// environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	return load(viper.New(), path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if c.ResourcesDir == "" {
		c.ResourcesDir = DefaultResourcesDir()
	}
	if path != "" && !filepath.IsAbs(c.ResourcesDir) {
		c.ResourcesDir = filepath.Join(filepath.Dir(path), c.ResourcesDir)
	}
	return &c, nil
}

// DefaultResourcesDir is the directory holding the running executable.
func DefaultResourcesDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}

// Validate rejects values the supervisor cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}
	if c.Server.Binary == "" {
		errs = append(errs, errors.New("server.binary must not be empty"))
	}
	if c.Server.GraceDelay < 0 {
		errs = append(errs, errors.New("server.grace_delay must not be negative"))
	}
	if c.Server.StopTimeout <= 0 {
		errs = append(errs, errors.New("server.stop_timeout must be positive"))
	}
	if c.Dependent.Name == "" {
		errs = append(errs, errors.New("dependent.name must not be empty"))
	}
	if c.Dependent.VerifyTimeout <= 0 {
		errs = append(errs, errors.New("dependent.verify_timeout must be positive"))
	}
	if c.Health.Attempts <= 0 {
		errs = append(errs, fmt.Errorf("health.attempts must be positive, got %d", c.Health.Attempts))
	}
	if c.Health.Timeout <= 0 {
		errs = append(errs, errors.New("health.timeout must be positive"))
	}
	if c.Health.Interval < 0 {
		errs = append(errs, errors.New("health.interval must not be negative"))
	}
	if !strings.HasPrefix(c.Health.Path, "/") {
		errs = append(errs, fmt.Errorf("health.path must start with '/', got %q", c.Health.Path))
	}
	if c.Control.BasePath != "" && !strings.HasPrefix(c.Control.BasePath, "/") {
		errs = append(errs, fmt.Errorf("control.base_path must start with '/', got %q", c.Control.BasePath))
	}
	return errors.Join(errs...)
}

// BackendEnv builds the backend's base environment: the OS environment,
// then server.env_files in order, then server.env.
func (c *Config) BackendEnv() (*env.Env, error) {
	e := env.FromOS()
	for _, p := range c.Server.EnvFiles {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		e.Add(pairs)
	}
	e.Add(c.Server.Env)
	return e, nil
}

// LoadEnvFile parses a simple .env file and returns "KEY=VALUE" entries in file order.
// Blank lines and lines starting with # are ignored.
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			out = append(out, strings.TrimSpace(line[:i])+"="+strings.TrimSpace(line[i+1:]))
		}
	}
	return out, nil
}
