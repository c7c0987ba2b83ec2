package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, 4, c.Identity.IDLength)
	assert.Equal(t, StoreMemory, c.Store.Backend)
	assert.Equal(t, EventsHub, c.Events.Backend)
}

func TestParseConfigAugmentDefaults(t *testing.T) {
	c, err := ParseConfigAugmentDefaults([]byte(`
identity:
  id-length: 6
log:
  level: debug
  console: false
store:
  backend: bolt
  bolt-path: /tmp/marks.db
client:
  retry-max: 0
`))
	require.NoError(t, err)

	assert.Equal(t, 6, c.Identity.IDLength)
	assert.Equal(t, "debug", c.Log.Level)
	require.NotNil(t, c.Log.Console)
	assert.False(t, *c.Log.Console)
	assert.Equal(t, StoreBolt, c.Store.Backend)
	assert.Equal(t, "/tmp/marks.db", c.Store.BoltPath)
	require.NotNil(t, c.Client.RetryMax)
	assert.Equal(t, 0, *c.Client.RetryMax)

	// Untouched sections keep their defaults
	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, "copus:marks:", c.Events.ChannelPrefix)
	assert.Equal(t, "http://localhost:8080", c.Client.BaseURL)

	level, err := c.Log.ZerologLevel()
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, level)
}

func TestParseConfigRejectsBadYAML(t *testing.T) {
	c, err := ParseConfigAugmentDefaults([]byte("identity: [unclosed"))
	assert.Error(t, err)
	assert.Equal(t, Default(), c)
}

func TestApplyEnv(t *testing.T) {
	c := Default()
	env := map[string]string{
		"COPUS_DATABASE_URL": "postgres://localhost/copus",
		"COPUS_REDIS_ADDR":   "redis:6379",
	}
	c.ApplyEnv(func(k string) string { return env[k] })
	assert.Equal(t, "postgres://localhost/copus", c.Store.DatabaseURL)
	assert.Equal(t, "redis:6379", c.Events.RedisAddr)
	assert.Equal(t, "info", c.Log.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"id length", func(c *Config) { c.Identity.IDLength = 0 }},
		{"unknown store", func(c *Config) { c.Store.Backend = "sqlite" }},
		{"bolt without path", func(c *Config) { c.Store.Backend = StoreBolt; c.Store.BoltPath = "" }},
		{"postgres without url", func(c *Config) { c.Store.Backend = StorePostgres }},
		{"unknown events", func(c *Config) { c.Events.Backend = "kafka" }},
		{"redis without addr", func(c *Config) { c.Events.Backend = EventsRedis; c.Events.RedisAddr = "" }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "copus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9090\"\n"), 0644))
	t.Setenv("COPUS_DATABASE_URL", "")
	t.Setenv("COPUS_REDIS_ADDR", "")
	t.Setenv("COPUS_LOG_LEVEL", "")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", c.Server.Addr)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	c, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}
