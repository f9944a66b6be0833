// Package config loads the objsearch configuration: YAML file, defaults,
// then OBJSEARCH_* environment overrides, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete objsearch configuration.
type Config struct {
	Worker  WorkerConfig   `yaml:"worker"`
	Retry   RetryConfig    `yaml:"retry"`
	Events  EventsConfig   `yaml:"events"`
	Index   IndexConfig    `yaml:"index"`
	Rules   RulesConfig    `yaml:"rules"`
	Sources []SourceConfig `yaml:"sources"`
	Logging LoggingConfig  `yaml:"logging"`
}

// SourceConfig registers one filesystem-backed object source.
type SourceConfig struct {
	// Code is the storage code events and rule sets refer to.
	Code string `yaml:"code"`

	// Root is the directory holding the source's objects.
	Root string `yaml:"root"`
}

// WorkerConfig configures the event-processing worker.
type WorkerConfig struct {
	// ID names the worker; recorded as the updater on claimed events.
	// Defaults to the hostname.
	ID string `yaml:"id"`

	// Codes restricts which events the worker claims. Empty means the
	// default code.
	Codes []string `yaml:"codes"`

	// Tick is the poll interval when the queue is drained.
	Tick time.Duration `yaml:"tick"`

	// ScratchDir is the root for per-worker scratch directories.
	ScratchDir string `yaml:"scratch_dir"`

	// MaxSubObjects bounds the sub-objects indexed per object.
	MaxSubObjects int `yaml:"max_sub_objects"`

	// MaxRefPathDepth bounds recursive lookups through references.
	MaxRefPathDepth int `yaml:"max_ref_path_depth"`
}

// RetryConfig configures the retrier shared by worker and indexer.
type RetryConfig struct {
	// Count is the number of normal retries per operation.
	Count int `yaml:"count"`

	// Delay is the fixed sleep between normal retries.
	Delay time.Duration `yaml:"delay"`

	// FatalBackoffs is the escalating schedule for fatal-retriable
	// errors; exhausting it stops the worker.
	FatalBackoffs []time.Duration `yaml:"fatal_backoffs"`
}

// EventsConfig configures the durable event queue.
type EventsConfig struct {
	// Path is the SQLite database file.
	Path string `yaml:"path"`
}

// IndexConfig configures the search index.
type IndexConfig struct {
	// Path is the Bleve index directory.
	Path string `yaml:"path"`
}

// RulesConfig configures rule set loading.
type RulesConfig struct {
	// Dir holds the rule set YAML files.
	Dir string `yaml:"dir"`

	// Watch reloads rule files as they change.
	Watch bool `yaml:"watch"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the built-in configuration.
func Default() Config {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "objsearch"
	}
	return Config{
		Worker: WorkerConfig{
			ID:              host,
			Tick:            time.Second,
			ScratchDir:      os.TempDir(),
			MaxSubObjects:   10000,
			MaxRefPathDepth: 50,
		},
		Retry: RetryConfig{
			Count: 5,
			Delay: time.Second,
			FatalBackoffs: []time.Duration{
				time.Second, 10 * time.Second, time.Minute,
				10 * time.Minute, time.Hour,
			},
		},
		Events:  EventsConfig{Path: "objsearch-events.db"},
		Index:   IndexConfig{Path: "objsearch-index"},
		Rules:   RulesConfig{Dir: "rules"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the config file at path (missing file means pure defaults when
// path is empty), applies environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Worker.ID == "" {
		return fmt.Errorf("worker.id must not be empty")
	}
	if c.Worker.Tick <= 0 {
		return fmt.Errorf("worker.tick must be positive")
	}
	if c.Worker.MaxSubObjects < 1 {
		return fmt.Errorf("worker.max_sub_objects must be at least 1")
	}
	if c.Worker.MaxRefPathDepth < 1 {
		return fmt.Errorf("worker.max_ref_path_depth must be at least 1")
	}
	if c.Retry.Count < 1 {
		return fmt.Errorf("retry.count must be at least 1")
	}
	if c.Retry.Delay < time.Millisecond {
		return fmt.Errorf("retry.delay must be at least 1ms")
	}
	for _, b := range c.Retry.FatalBackoffs {
		if b <= 0 {
			return fmt.Errorf("retry.fatal_backoffs entries must be positive")
		}
	}
	if c.Events.Path == "" {
		return fmt.Errorf("events.path must not be empty")
	}
	if c.Rules.Dir == "" {
		return fmt.Errorf("rules.dir must not be empty")
	}
	for i, src := range c.Sources {
		if src.Code == "" || src.Root == "" {
			return fmt.Errorf("sources[%d]: code and root are required", i)
		}
	}
	return nil
}

// applyEnv overrides config fields from OBJSEARCH_* variables.
func applyEnv(c *Config) {
	if v := os.Getenv("OBJSEARCH_WORKER_ID"); v != "" {
		c.Worker.ID = v
	}
	if v := os.Getenv("OBJSEARCH_WORKER_CODES"); v != "" {
		c.Worker.Codes = splitList(v)
	}
	if v := os.Getenv("OBJSEARCH_SCRATCH_DIR"); v != "" {
		c.Worker.ScratchDir = v
	}
	if v := os.Getenv("OBJSEARCH_EVENTS_PATH"); v != "" {
		c.Events.Path = v
	}
	if v := os.Getenv("OBJSEARCH_INDEX_PATH"); v != "" {
		c.Index.Path = v
	}
	if v := os.Getenv("OBJSEARCH_RULES_DIR"); v != "" {
		c.Rules.Dir = v
	}
	if v := os.Getenv("OBJSEARCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("OBJSEARCH_RETRY_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retry.Count = n
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
