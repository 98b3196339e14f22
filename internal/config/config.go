package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the host configuration loaded at startup. Individual plugins do
// not appear here; their settings travel through the plugin config protocol.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Plugins    PluginsConfig    `yaml:"plugins"`
	StateStore StateStoreConfig `yaml:"stateStore"`
	Dedup      DedupConfig      `yaml:"dedup"`
	Events     EventsConfig     `yaml:"events"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// PluginsConfig controls plugin discovery.
type PluginsConfig struct {
	// Dirs are the roots scanned for plugin directories.
	Dirs []string `yaml:"dirs"`
	// Watch enables filesystem watching of the plugin roots; changes
	// trigger a registry reload.
	Watch bool `yaml:"watch"`
}

// StateStoreConfig selects where enabled flags and config blobs persist.
type StateStoreConfig struct {
	Driver  string `yaml:"driver"` // memory | mysql
	DSN     string `yaml:"dsn"`
	DataDir string `yaml:"dataDir"`
}

// DedupConfig selects the webhook deduplication backend.
type DedupConfig struct {
	Driver string      `yaml:"driver"` // memory | redis
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig carries Redis connection parameters.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EventsConfig selects the event bus backend.
type EventsConfig struct {
	Driver string     `yaml:"driver"` // memory | amqp
	AMQP   AMQPConfig `yaml:"amqp"`
}

// AMQPConfig carries RabbitMQ connection parameters.
type AMQPConfig struct {
	URL     string `yaml:"url"`
	Queue   string `yaml:"queue"`
	Durable bool   `yaml:"durable"`
}

// LogConfig mirrors the logger package configuration.
type LogConfig struct {
	Level       string   `yaml:"level"`
	Format      string   `yaml:"format"`
	OutputPaths []string `yaml:"outputPaths"`
}

// Load parses a YAML config file and applies defaults relative to its
// location.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path cannot be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if len(c.Plugins.Dirs) == 0 {
		c.Plugins.Dirs = []string{filepath.Join(baseDir, "plugins")}
	} else {
		for i, dir := range c.Plugins.Dirs {
			if !filepath.IsAbs(dir) {
				c.Plugins.Dirs[i] = filepath.Join(baseDir, dir)
			}
		}
	}
	if c.StateStore.Driver == "" {
		c.StateStore.Driver = "memory"
	}
	if c.StateStore.DataDir == "" {
		c.StateStore.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.StateStore.DataDir) {
		c.StateStore.DataDir = filepath.Join(baseDir, c.StateStore.DataDir)
	}
	if c.Dedup.Driver == "" {
		c.Dedup.Driver = "memory"
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}
