// Package config loads refindex configuration from a YAML file with
// REFINDEX_* environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Extractor names
const (
	ExtractorGo       = "go"
	ExtractorManifest = "manifest"
)

// Config is the top-level configuration.
type Config struct {
	Index   IndexConfig   `yaml:"index"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Watch   WatchConfig   `yaml:"watch"`
}

// IndexConfig locates the index and controls how it is maintained.
type IndexConfig struct {
	// Dir holds index.db; it is owned by the index and wiped on rebuild
	Dir         string `yaml:"dir"`
	ProjectRoot string `yaml:"projectRoot"`
	// Extractor selects how files are turned into references: "go" parses
	// Go sources, "manifest" reads YAML reference manifests
	Extractor  string   `yaml:"extractor"`
	Extensions []string `yaml:"extensions"`
	Workers    int      `yaml:"workers"`
	CacheSize  int      `yaml:"cacheSize"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// WatchConfig controls the file watcher that feeds build events to the
// index.
type WatchConfig struct {
	DebounceMs int `yaml:"debounceMs"`
	// Exclude holds doublestar patterns matched against slash-separated
	// paths relative to the project root (e.g. "vendor/**")
	Exclude []string `yaml:"exclude"`
}

// Debounce returns the quiet period before a batch of changes is applied
func (w WatchConfig) Debounce() time.Duration {
	return time.Duration(w.DebounceMs) * time.Millisecond
}

// Load reads a YAML config file (if provided) and applies environment
// overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when nothing is specified
func Default() *Config {
	return &Config{
		Index: IndexConfig{
			Dir:         ".refindex",
			ProjectRoot: ".",
			Extractor:   ExtractorGo,
			Extensions:  []string{".go"},
			Workers:     runtime.NumCPU(),
			CacheSize:   8192,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9108,
		},
		Watch: WatchConfig{
			DebounceMs: 200,
			Exclude:    []string{"vendor/**", "node_modules/**"},
		},
	}
}

// Validate rejects settings the index cannot run with
func (c *Config) Validate() error {
	if c.Index.Dir == "" {
		return fmt.Errorf("index.dir must be set")
	}
	switch c.Index.Extractor {
	case ExtractorGo, ExtractorManifest:
	default:
		return fmt.Errorf("index.extractor %q: want %q or %q", c.Index.Extractor, ExtractorGo, ExtractorManifest)
	}
	if c.Index.Workers <= 0 {
		return fmt.Errorf("index.workers must be positive, got %d", c.Index.Workers)
	}
	if c.Index.CacheSize <= 0 {
		return fmt.Errorf("index.cacheSize must be positive, got %d", c.Index.CacheSize)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q: want text or json", c.Logging.Format)
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port %d out of range", c.Metrics.Port)
	}
	if c.Watch.DebounceMs < 0 {
		return fmt.Errorf("watch.debounceMs must not be negative, got %d", c.Watch.DebounceMs)
	}
	for _, pattern := range c.Watch.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("watch.exclude: invalid pattern %q", pattern)
		}
	}
	return nil
}

// applyEnvOverrides reads REFINDEX_* environment variables and sets the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REFINDEX_INDEX_DIR"); v != "" {
		cfg.Index.Dir = v
	}
	if v := os.Getenv("REFINDEX_PROJECT_ROOT"); v != "" {
		cfg.Index.ProjectRoot = v
	}
	if v := os.Getenv("REFINDEX_EXTRACTOR"); v != "" {
		cfg.Index.Extractor = v
	}
	if v := os.Getenv("REFINDEX_EXTENSIONS"); v != "" {
		cfg.Index.Extensions = strings.Split(v, ",")
	}
	if v := os.Getenv("REFINDEX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Index.Workers = n
		}
	}
	if v := os.Getenv("REFINDEX_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Index.CacheSize = n
		}
	}
	if v := os.Getenv("REFINDEX_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("REFINDEX_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("REFINDEX_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
	if v := os.Getenv("REFINDEX_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
	if v := os.Getenv("REFINDEX_WATCH_DEBOUNCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Watch.DebounceMs = n
		}
	}
	if v := os.Getenv("REFINDEX_WATCH_EXCLUDE"); v != "" {
		cfg.Watch.Exclude = strings.Split(v, ",")
	}
}
