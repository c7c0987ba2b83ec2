package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config is the configuration data as present in a config file, usually
// 'copus.yaml'.
type Config struct {
	Identity Identity `yaml:"identity"`
	Log      Log      `yaml:"log"`
	Server   Server   `yaml:"server"`
	Store    Store    `yaml:"store"`
	Events   Events   `yaml:"events"`
	Client   Client   `yaml:"client"`
}

// Identity configures stable node ids.
type Identity struct {
	IDLength int `yaml:"id-length"`
}

// Log configures logging.
type Log struct {
	Level string `yaml:"level"`
	// Console selects human-readable output instead of JSON lines.
	Console *bool `yaml:"console"`
}

// Server configures the mark server listener.
type Server struct {
	Addr        string `yaml:"addr"`
	MetricsPath string `yaml:"metrics-path"`
}

// Store backends.
const (
	StoreMemory   = "memory"
	StoreBolt     = "bolt"
	StorePostgres = "postgres"
)

// Store selects and configures the mark store.
type Store struct {
	Backend     string `yaml:"backend"`
	BoltPath    string `yaml:"bolt-path"`
	DatabaseURL string `yaml:"database-url"`
}

// Event fan-out backends.
const (
	EventsHub   = "hub"
	EventsRedis = "redis"
)

// Events selects how mark events reach websocket subscribers.
type Events struct {
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis-addr"`
	// ChannelPrefix is prepended to the document id to form a Redis channel.
	ChannelPrefix string `yaml:"channel-prefix"`
}

// Client configures the HTTP mark service client.
type Client struct {
	BaseURL  string `yaml:"base-url"`
	RetryMax *int   `yaml:"retry-max"`
}

// ParseConfigAugmentDefaults parses the configuration specified in
// YAML-formatted data and uses it to augment the default configuration.
func ParseConfigAugmentDefaults(yamlData []byte) (Config, error) {
	defaultConfig := Default()

	parsedConfig := Config{}
	err := yaml.Unmarshal(yamlData, &parsedConfig)
	if err != nil {
		return defaultConfig, fmt.Errorf("error unmarshaling yaml (%s)", err)
	}

	return defaultConfig.augmentWith(parsedConfig), nil
}

// Load reads the file at path, augments the defaults with it and applies
// environment overrides. An empty path yields the defaults.
func Load(path string) (Config, error) {
	result := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return result, fmt.Errorf("reading config: %w", err)
		}
		result, err = ParseConfigAugmentDefaults(data)
		if err != nil {
			return result, err
		}
	}
	result.ApplyEnv(os.Getenv)
	return result, result.Validate()
}

// ApplyEnv overrides connection settings from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("COPUS_DATABASE_URL"); v != "" {
		c.Store.DatabaseURL = v
	}
	if v := getenv("COPUS_REDIS_ADDR"); v != "" {
		c.Events.RedisAddr = v
	}
	if v := getenv("COPUS_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	if c.Identity.IDLength < 1 {
		return fmt.Errorf("identity.id-length must be positive, got %d", c.Identity.IDLength)
	}
	switch c.Store.Backend {
	case StoreMemory:
	case StoreBolt:
		if c.Store.BoltPath == "" {
			return fmt.Errorf("store.bolt-path is required for the bolt backend")
		}
	case StorePostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("store.database-url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Events.Backend {
	case EventsHub:
	case EventsRedis:
		if c.Events.RedisAddr == "" {
			return fmt.Errorf("events.redis-addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown events backend %q", c.Events.Backend)
	}
	if _, err := c.Log.ZerologLevel(); err != nil {
		return err
	}
	return nil
}

// ZerologLevel parses the configured level.
func (l Log) ZerologLevel() (zerolog.Level, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(l.Level))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q", l.Level)
	}
	return level, nil
}

func (base Config) augmentWith(augment Config) Config {
	result := base

	if augment.Identity.IDLength != 0 {
		result.Identity.IDLength = augment.Identity.IDLength
	}

	overwriteIfDefined(&result.Log.Level, augment.Log.Level)
	if augment.Log.Console != nil {
		result.Log.Console = augment.Log.Console
	}

	overwriteIfDefined(&result.Server.Addr, augment.Server.Addr)
	overwriteIfDefined(&result.Server.MetricsPath, augment.Server.MetricsPath)

	overwriteIfDefined(&result.Store.Backend, augment.Store.Backend)
	overwriteIfDefined(&result.Store.BoltPath, augment.Store.BoltPath)
	overwriteIfDefined(&result.Store.DatabaseURL, augment.Store.DatabaseURL)

	overwriteIfDefined(&result.Events.Backend, augment.Events.Backend)
	overwriteIfDefined(&result.Events.RedisAddr, augment.Events.RedisAddr)
	overwriteIfDefined(&result.Events.ChannelPrefix, augment.Events.ChannelPrefix)

	overwriteIfDefined(&result.Client.BaseURL, augment.Client.BaseURL)
	if augment.Client.RetryMax != nil {
		result.Client.RetryMax = augment.Client.RetryMax
	}

	return result
}

func overwriteIfDefined(s *string, augment string) {
	if augment != "" {
		*s = augment
	}
}
