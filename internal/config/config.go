// Package config loads critline settings from YAML and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"critline/fold"
)

const (
	defaultListen       = ":8081"
	defaultDBPath       = "data/critline.db"
	defaultSitesDir     = "config/sites"
	defaultMaxBodyBytes = 2 * fold.MaxPostSize

	// maxOptionsHashLen bounds options_hash so the payload header stays
	// small next to any sensible max_payload_bytes.
	maxOptionsHashLen = 128
	// nonceLen is the length of the uuid nonces scan sends.
	nonceLen = 36
)

// Config holds all runtime configuration parameters.
type Config struct {
	Listen          string        `yaml:"listen"`
	DBPath          string        `yaml:"db_path"`
	LogLevel        string        `yaml:"log_level"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	CacheTTLSeconds int           `yaml:"cache_ttl_seconds"`
	SitesDir        string        `yaml:"sites_dir"`
	Viewport        fold.Viewport `yaml:"viewport"`
	Beacon          Beacon        `yaml:"beacon"`
	Collector       Collector     `yaml:"collector"`
	Browser         Browser       `yaml:"browser"`
	Fetch           Fetch         `yaml:"fetch"`
}

// Beacon controls payload construction and delivery.
type Beacon struct {
	URL             string `yaml:"url"`
	OptionsHash     string `yaml:"options_hash"`
	MaxPayloadBytes int    `yaml:"max_payload_bytes"`
	MarkTruncated   bool   `yaml:"mark_truncated"`
	RenderedSizes   bool   `yaml:"rendered_sizes"`
	TimeoutMs       int    `yaml:"timeout_ms"`
}

// Collector controls nonce checks and support aggregation in serve.
type Collector struct {
	AcceptUnsolicited bool `yaml:"accept_unsolicited"`
	NonceTTLMs        int  `yaml:"nonce_ttl_ms"`
	// SupportInterval is the support one beacon adds to each key it
	// reports; older support decays by interval/(interval+1).
	SupportInterval int `yaml:"support_interval"`
	// SupportPercentage is the share of the maximum support a key needs
	// to be reported critical.
	SupportPercentage int `yaml:"support_percentage"`
}

// Browser controls the headless snapshot.
type Browser struct {
	ExecPath     string `yaml:"exec_path"`
	UserAgent    string `yaml:"user_agent"`
	TimeoutMs    int    `yaml:"timeout_ms"`
	WaitSelector string `yaml:"wait_selector"`
	SettleMs     int    `yaml:"settle_ms"`
}

// Fetch controls plain HTTP fetches of pages, stylesheets and images.
type Fetch struct {
	UserAgent string `yaml:"user_agent"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads path, applies defaults and CRITLINE_* overrides, and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}
	if err := applyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyDefaults sets default values for unspecified fields.
func applyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = defaultListen
	}
	if cfg.DBPath == "" {
		cfg.DBPath = defaultDBPath
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.CacheTTLSeconds == 0 {
		cfg.CacheTTLSeconds = 60
	}
	if cfg.SitesDir == "" {
		cfg.SitesDir = defaultSitesDir
	}
	if cfg.Viewport.Width == 0 {
		cfg.Viewport.Width = 1280
	}
	if cfg.Viewport.Height == 0 {
		cfg.Viewport.Height = 800
	}
	if cfg.Beacon.MaxPayloadBytes == 0 {
		cfg.Beacon.MaxPayloadBytes = fold.MaxPostSize
	}
	if cfg.Beacon.OptionsHash == "" {
		cfg.Beacon.OptionsHash = "default"
	}
	if cfg.Beacon.TimeoutMs == 0 {
		cfg.Beacon.TimeoutMs = 10000
	}
	if cfg.Collector.NonceTTLMs == 0 {
		cfg.Collector.NonceTTLMs = 300000
	}
	if cfg.Collector.SupportInterval == 0 {
		cfg.Collector.SupportInterval = 10
	}
	if cfg.Collector.SupportPercentage == 0 {
		cfg.Collector.SupportPercentage = 80
	}
	if cfg.Browser.TimeoutMs == 0 {
		cfg.Browser.TimeoutMs = 25000
	}
	if cfg.Fetch.TimeoutMs == 0 {
		cfg.Fetch.TimeoutMs = 8000
	}
}

// validate checks that values are sensible.
func validate(cfg *Config) error {
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if cfg.Viewport.Width < 1 || cfg.Viewport.Height < 1 {
		return fmt.Errorf("viewport must be at least 1x1, got %dx%d", cfg.Viewport.Width, cfg.Viewport.Height)
	}
	if cfg.Beacon.MaxPayloadBytes < 64 {
		return fmt.Errorf("beacon.max_payload_bytes must be >= 64")
	}
	if cfg.MaxBodyBytes < int64(cfg.Beacon.MaxPayloadBytes) {
		return fmt.Errorf("max_body_bytes must be >= beacon.max_payload_bytes")
	}
	if strings.ContainsAny(cfg.Beacon.OptionsHash, "&=") {
		return fmt.Errorf("beacon.options_hash must not contain '&' or '='")
	}
	if len(cfg.Beacon.OptionsHash) > maxOptionsHashLen {
		return fmt.Errorf("beacon.options_hash must be at most %d bytes, got %d", maxOptionsHashLen, len(cfg.Beacon.OptionsHash))
	}
	// "oh=<hash>&n=<nonce>&xx=" is written before any item.
	if header := len("oh=&n=&xx=") + len(cfg.Beacon.OptionsHash) + nonceLen; header > cfg.Beacon.MaxPayloadBytes {
		return fmt.Errorf("beacon.max_payload_bytes %d leaves no room after the %d byte header", cfg.Beacon.MaxPayloadBytes, header)
	}
	if cfg.Collector.SupportInterval < 1 || cfg.Collector.NonceTTLMs < 1 {
		return fmt.Errorf("collector.support_interval and collector.nonce_ttl_ms must be positive")
	}
	if cfg.Collector.SupportPercentage < 0 || cfg.Collector.SupportPercentage > 100 {
		return fmt.Errorf("collector.support_percentage must be within 0..100")
	}
	if cfg.Browser.TimeoutMs < 1000 {
		return fmt.Errorf("browser.timeout_ms must be >= 1000")
	}
	if cfg.CacheTTLSeconds < 0 || cfg.Browser.SettleMs < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

// applyEnv overlays CRITLINE_* variables. PORT, when set, wins over the
// listen address.
func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = v
		}
	}
	str("CRITLINE_LISTEN", &cfg.Listen)
	str("CRITLINE_DB", &cfg.DBPath)
	str("CRITLINE_LOG_LEVEL", &cfg.LogLevel)
	str("CRITLINE_SITES_DIR", &cfg.SitesDir)
	str("CRITLINE_BEACON_URL", &cfg.Beacon.URL)
	str("CRITLINE_OPTIONS_HASH", &cfg.Beacon.OptionsHash)
	str("CRITLINE_CHROME", &cfg.Browser.ExecPath)
	str("CRITLINE_USER_AGENT", &cfg.Browser.UserAgent)
	if v := strings.TrimSpace(getenv("CRITLINE_VIEWPORT")); v != "" {
		vp, err := ParseViewport(v)
		if err != nil {
			return fmt.Errorf("CRITLINE_VIEWPORT: %w", err)
		}
		cfg.Viewport = vp
	}
	if v := strings.TrimSpace(getenv("CRITLINE_ACCEPT_UNSOLICITED")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CRITLINE_ACCEPT_UNSOLICITED: %w", err)
		}
		cfg.Collector.AcceptUnsolicited = b
	}
	if v := strings.TrimSpace(getenv("CRITLINE_MARK_TRUNCATED")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CRITLINE_MARK_TRUNCATED: %w", err)
		}
		cfg.Beacon.MarkTruncated = b
	}
	if port := strings.TrimSpace(getenv("PORT")); port != "" {
		cfg.Listen = ":" + port
	}
	return nil
}

// ParseViewport reads "WIDTHxHEIGHT".
func ParseViewport(s string) (fold.Viewport, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return fold.Viewport{}, fmt.Errorf("viewport %q: want WIDTHxHEIGHT", s)
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return fold.Viewport{}, fmt.Errorf("viewport %q: %w", s, err)
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil {
		return fold.Viewport{}, fmt.Errorf("viewport %q: %w", s, err)
	}
	if width < 1 || height < 1 {
		return fold.Viewport{}, fmt.Errorf("viewport %q: must be positive", s)
	}
	return fold.Viewport{Width: width, Height: height}, nil
}

// Level returns the parsed log level; validate has already checked it.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (b Browser) Timeout() time.Duration { return time.Duration(b.TimeoutMs) * time.Millisecond }

func (b Browser) Settle() time.Duration { return time.Duration(b.SettleMs) * time.Millisecond }

func (b Beacon) Timeout() time.Duration { return time.Duration(b.TimeoutMs) * time.Millisecond }

func (c Collector) NonceTTL() time.Duration { return time.Duration(c.NonceTTLMs) * time.Millisecond }

func (f Fetch) Timeout() time.Duration { return time.Duration(f.TimeoutMs) * time.Millisecond }
