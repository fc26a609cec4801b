// Package config loads the domreplay YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level domreplay configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Recorder RecorderConfig `yaml:"recorder"`
	Browser  BrowserConfig  `yaml:"browser"`
	Mirror   MirrorConfig   `yaml:"mirror"`
	Server   ServerConfig   `yaml:"server"`
	Sinks    []SinkConfig   `yaml:"sinks"`
	Pages    []PageConfig   `yaml:"pages"`
}

// StoreConfig locates the change log.
type StoreConfig struct {
	Path          string        `yaml:"path"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// RecorderConfig tunes upload batching.
type RecorderConfig struct {
	FlushDebounce   time.Duration `yaml:"flush_debounce"`
	MaxBuffer       int           `yaml:"max_buffer"`
	ForceFlushAfter time.Duration `yaml:"force_flush_after"`
	CheckInterval   time.Duration `yaml:"check_interval"`
	InputPollRate   float64       `yaml:"input_poll_rate"` // polls per second
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Stealth          string        `yaml:"stealth"` // plain | headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
}

// MirrorConfig sets up replay pages.
type MirrorConfig struct {
	ViewportWidth    int     `yaml:"viewport_width"`
	ViewportHeight   int     `yaml:"viewport_height"`
	DeviceScale      float64 `yaml:"device_scale"`
	ShowInteractions bool    `yaml:"show_interactions"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// LiveRate bounds websocket messages per second per live client.
	LiveRate  float64 `yaml:"live_rate"`
	LiveBurst int     `yaml:"live_burst"`
	MCP       bool    `yaml:"mcp"`
}

// SinkConfig defines where recorder uploads go.
type SinkConfig struct {
	Type string `yaml:"type"` // local | stdout | webhook
	URL  string `yaml:"url"`  // for webhook
}

// PageConfig is a page to record on startup.
type PageConfig struct {
	TabID int    `yaml:"tab_id"`
	URL   string `yaml:"url"`
}

// Load reads a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and fills in defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Store.Path == "" {
		c.Store.Path = "data/domreplay.db"
	}
	if c.Store.FlushInterval <= 0 {
		c.Store.FlushInterval = time.Second
	}
	if c.Recorder.FlushDebounce <= 0 {
		c.Recorder.FlushDebounce = 100 * time.Millisecond
	}
	if c.Recorder.MaxBuffer <= 0 {
		c.Recorder.MaxBuffer = 1000
	}
	if c.Recorder.ForceFlushAfter <= 0 {
		c.Recorder.ForceFlushAfter = time.Second
	}
	if c.Recorder.CheckInterval <= 0 {
		c.Recorder.CheckInterval = 500 * time.Millisecond
	}
	if c.Recorder.InputPollRate <= 0 {
		c.Recorder.InputPollRate = 20
	}
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Mirror.ViewportWidth <= 0 {
		c.Mirror.ViewportWidth = 1280
	}
	if c.Mirror.ViewportHeight <= 0 {
		c.Mirror.ViewportHeight = 800
	}
	if c.Mirror.DeviceScale <= 0 {
		c.Mirror.DeviceScale = 1
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8740"
	}
	if c.Server.LiveRate <= 0 {
		c.Server.LiveRate = 30
	}
	if c.Server.LiveBurst <= 0 {
		c.Server.LiveBurst = 10
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "local"}}
	}
}

func (c *Config) validate() error {
	switch c.Browser.Stealth {
	case "plain", "headless", "headful":
	default:
		return fmt.Errorf("config: browser.stealth %q: want plain, headless or headful", c.Browser.Stealth)
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "local", "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sinks[%d]: webhook needs a url", i)
			}
		default:
			return fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type)
		}
	}
	for i, p := range c.Pages {
		if p.URL == "" {
			return fmt.Errorf("config: pages[%d]: url is required", i)
		}
		if p.TabID <= 0 {
			c.Pages[i].TabID = i + 1
		}
	}
	return nil
}
