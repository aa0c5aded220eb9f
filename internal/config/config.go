// Package config loads the cropsense YAML configuration.
package config

import (
	"os"
	"time"

	cserrors "github.com/YuminosukeSato/cropsense/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds all cropsense configuration.
type Config struct {
	Data    DataConfig    `yaml:"data"`
	Model   ModelConfig   `yaml:"model"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

// DataConfig locates the training dataset.
type DataConfig struct {
	Path string `yaml:"path"`
}

// ModelConfig holds the random forest hyperparameters.
type ModelConfig struct {
	NEstimators     int    `yaml:"n_estimators"`
	RandomState     int64  `yaml:"random_state"`
	MaxFeatures     string `yaml:"max_features"` // sqrt, log2, all
	Criterion       string `yaml:"criterion"`    // gini, entropy
	MaxDepth        int    `yaml:"max_depth"`    // -1 = unlimited
	MinSamplesSplit int    `yaml:"min_samples_split"`
	MinSamplesLeaf  int    `yaml:"min_samples_leaf"`
	Bootstrap       bool   `yaml:"bootstrap"`
	NJobs           int    `yaml:"n_jobs"` // 0 = one worker per CPU
}

// ServerConfig configures the HTTP form service.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// LoggingConfig configures pkg/log.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			Path: "Crop_recommendation.csv",
		},
		Model: ModelConfig{
			NEstimators:     150,
			RandomState:     42,
			MaxFeatures:     "sqrt",
			Criterion:       "gini",
			MaxDepth:        -1,
			MinSamplesSplit: 2,
			MinSamplesLeaf:  1,
			Bootstrap:       true,
		},
		Server: ServerConfig{
			Addr:            ":8501",
			ReadTimeout:     "10s",
			WriteTimeout:    "30s",
			ShutdownTimeout: "5s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path or a missing file
// yields the defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, cserrors.Wrapf(err, "read config %s", path)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, cserrors.Wrapf(err, "parse config %s", path)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return cserrors.Wrap(err, "marshal config")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return cserrors.Wrapf(err, "write config %s", path)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if p := os.Getenv("CROPSENSE_DATA"); p != "" {
		c.Data.Path = p
	}
	if addr := os.Getenv("CROPSENSE_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if lvl := os.Getenv("CROPSENSE_LOG_LEVEL"); lvl != "" {
		c.Logging.Level = lvl
	}
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if c.Data.Path == "" {
		return cserrors.NewValidationError("data.path", "must not be empty", c.Data.Path)
	}

	m := c.Model
	if m.NEstimators < 1 {
		return cserrors.NewValidationError("model.n_estimators", "must be at least 1", m.NEstimators)
	}
	switch m.MaxFeatures {
	case "sqrt", "log2", "all":
	default:
		return cserrors.NewValidationError("model.max_features", "must be sqrt, log2 or all", m.MaxFeatures)
	}
	if m.Criterion != "gini" && m.Criterion != "entropy" {
		return cserrors.NewValidationError("model.criterion", "must be gini or entropy", m.Criterion)
	}
	if m.MaxDepth == 0 || m.MaxDepth < -1 {
		return cserrors.NewValidationError("model.max_depth", "must be positive or -1", m.MaxDepth)
	}
	if m.MinSamplesSplit < 2 {
		return cserrors.NewValidationError("model.min_samples_split", "must be at least 2", m.MinSamplesSplit)
	}
	if m.MinSamplesLeaf < 1 {
		return cserrors.NewValidationError("model.min_samples_leaf", "must be at least 1", m.MinSamplesLeaf)
	}

	if c.Server.Addr == "" {
		return cserrors.NewValidationError("server.addr", "must not be empty", c.Server.Addr)
	}
	for key, v := range map[string]string{
		"server.read_timeout":     c.Server.ReadTimeout,
		"server.write_timeout":    c.Server.WriteTimeout,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return cserrors.NewValidationError(key, "must be a duration such as 10s", v)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return cserrors.NewValidationError("logging.level", "must be debug, info, warn or error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return cserrors.NewValidationError("logging.format", "must be json or console", c.Logging.Format)
	}
	return nil
}

// ReadTimeout returns server.read_timeout, 10s if unparsable.
func (c *Config) ReadTimeout() time.Duration {
	return parseDuration(c.Server.ReadTimeout, 10*time.Second)
}

// WriteTimeout returns server.write_timeout, 30s if unparsable.
func (c *Config) WriteTimeout() time.Duration {
	return parseDuration(c.Server.WriteTimeout, 30*time.Second)
}

// ShutdownTimeout returns server.shutdown_timeout, 5s if unparsable.
func (c *Config) ShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout, 5*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
