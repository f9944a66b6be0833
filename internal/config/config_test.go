package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.Worker.ID)
	assert.Equal(t, time.Second, cfg.Worker.Tick)
	assert.Equal(t, 10000, cfg.Worker.MaxSubObjects)
	assert.Equal(t, 50, cfg.Worker.MaxRefPathDepth)
	assert.Equal(t, 5, cfg.Retry.Count)
	assert.Equal(t, time.Second, cfg.Retry.Delay)
	assert.Len(t, cfg.Retry.FatalBackoffs, 5)
	assert.Equal(t, "objsearch-events.db", cfg.Events.Path)
	assert.Equal(t, "objsearch-index", cfg.Index.Path)
	assert.Equal(t, "rules", cfg.Rules.Dir)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, cfg.Sources)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
worker:
  id: worker-1
  codes: [default, bulk]
  tick: 250ms
  max_sub_objects: 500
retry:
  count: 3
  delay: 2s
events:
  path: /var/lib/objsearch/events.db
index:
  path: /var/lib/objsearch/index
rules:
  dir: /etc/objsearch/rules
  watch: true
sources:
  - code: FS
    root: /srv/objects
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "worker-1", cfg.Worker.ID)
	assert.Equal(t, []string{"default", "bulk"}, cfg.Worker.Codes)
	assert.Equal(t, 250*time.Millisecond, cfg.Worker.Tick)
	assert.Equal(t, 500, cfg.Worker.MaxSubObjects)
	assert.Equal(t, 50, cfg.Worker.MaxRefPathDepth, "unset fields keep their defaults")
	assert.Equal(t, 3, cfg.Retry.Count)
	assert.Equal(t, 2*time.Second, cfg.Retry.Delay)
	assert.Equal(t, "/var/lib/objsearch/events.db", cfg.Events.Path)
	assert.True(t, cfg.Rules.Watch)
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, SourceConfig{Code: "FS", Root: "/srv/objects"}, cfg.Sources[0])
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{{"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OBJSEARCH_WORKER_ID", "env-worker")
	t.Setenv("OBJSEARCH_WORKER_CODES", "a, b ,c")
	t.Setenv("OBJSEARCH_EVENTS_PATH", "/tmp/env-events.db")
	t.Setenv("OBJSEARCH_RULES_DIR", "/tmp/env-rules")
	t.Setenv("OBJSEARCH_LOG_LEVEL", "warn")
	t.Setenv("OBJSEARCH_RETRY_COUNT", "9")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "env-worker", cfg.Worker.ID)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Worker.Codes)
	assert.Equal(t, "/tmp/env-events.db", cfg.Events.Path)
	assert.Equal(t, "/tmp/env-rules", cfg.Rules.Dir)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 9, cfg.Retry.Count)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("worker:\n  id: file-worker\n"), 0o644))
	t.Setenv("OBJSEARCH_WORKER_ID", "env-worker")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-worker", cfg.Worker.ID, "environment wins over the file")
}

func TestValidate(t *testing.T) {
	mutations := map[string]func(*Config){
		"empty worker id":     func(c *Config) { c.Worker.ID = "" },
		"nonpositive tick":    func(c *Config) { c.Worker.Tick = 0 },
		"zero max subobjects": func(c *Config) { c.Worker.MaxSubObjects = 0 },
		"zero ref path depth": func(c *Config) { c.Worker.MaxRefPathDepth = 0 },
		"zero retry count":    func(c *Config) { c.Retry.Count = 0 },
		"sub-ms retry delay":  func(c *Config) { c.Retry.Delay = time.Microsecond },
		"zero fatal backoff":  func(c *Config) { c.Retry.FatalBackoffs = []time.Duration{0} },
		"empty events path":   func(c *Config) { c.Events.Path = "" },
		"empty rules dir":     func(c *Config) { c.Rules.Dir = "" },
		"source without code": func(c *Config) { c.Sources = []SourceConfig{{Root: "/srv"}} },
		"source without root": func(c *Config) { c.Sources = []SourceConfig{{Code: "FS"}} },
	}
	for name, mutate := range mutations {
		cfg := Default()
		mutate(&cfg)
		assert.Error(t, cfg.Validate(), name)
	}

	cfg := Default()
	cfg.Sources = []SourceConfig{{Code: "FS", Root: "/srv"}}
	assert.NoError(t, cfg.Validate())
}
