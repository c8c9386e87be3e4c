package config

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"critline/fold"
)

// SiteConfig overrides scan settings for one host and its subdomains. It
// is read from <sites_dir>/<host>.json.
type SiteConfig struct {
	Viewport     *fold.Viewport    `json:"viewport,omitempty"`
	WaitSelector string            `json:"wait_selector,omitempty"`
	SettleMs     int               `json:"settle_ms,omitempty"`
	UserAgent    string            `json:"user_agent,omitempty"`
	OptionsHash  string            `json:"options_hash,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
}

// SiteStore finds SiteConfig files, caching hits and misses per host.
type SiteStore struct {
	dir   string
	mu    sync.RWMutex
	cache map[string]*SiteConfig
}

func NewSiteStore(dir string) *SiteStore {
	return &SiteStore{
		dir:   dir,
		cache: make(map[string]*SiteConfig),
	}
}

// Find returns the most specific SiteConfig for target's host, trying
// parent domains in turn, or nil.
func (s *SiteStore) Find(target string) *SiteConfig {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	s.mu.RLock()
	if cfg, ok := s.cache[host]; ok {
		s.mu.RUnlock()
		return cfg
	}
	s.mu.RUnlock()

	labels := strings.Split(host, ".")
	for i := 0; i < len(labels); i++ {
		candidate := strings.Join(labels[i:], ".")
		if cfg := s.load(candidate); cfg != nil {
			s.mu.Lock()
			s.cache[host] = cfg
			s.mu.Unlock()
			return cfg
		}
	}
	s.mu.Lock()
	s.cache[host] = nil
	s.mu.Unlock()
	return nil
}

func (s *SiteStore) load(host string) *SiteConfig {
	if s.dir == "" {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(s.dir, host+".json"))
	if err != nil {
		return nil
	}
	var cfg SiteConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil
	}
	cfg.WaitSelector = strings.TrimSpace(cfg.WaitSelector)
	return &cfg
}

// ForSite returns a copy of c with the overrides for target applied.
func (c *Config) ForSite(target string, sites *SiteStore) *Config {
	out := *c
	if sites == nil {
		return &out
	}
	site := sites.Find(target)
	if site == nil {
		return &out
	}
	if site.Viewport != nil && site.Viewport.Width > 0 && site.Viewport.Height > 0 {
		out.Viewport = *site.Viewport
	}
	if site.WaitSelector != "" {
		out.Browser.WaitSelector = site.WaitSelector
	}
	if site.SettleMs > 0 {
		out.Browser.SettleMs = site.SettleMs
	}
	if site.UserAgent != "" {
		out.Browser.UserAgent = site.UserAgent
		out.Fetch.UserAgent = site.UserAgent
	}
	if site.OptionsHash != "" && !strings.ContainsAny(site.OptionsHash, "&=") {
		out.Beacon.OptionsHash = site.OptionsHash
	}
	return &out
}

// HeadersFor returns the extra request headers configured for target.
func (s *SiteStore) HeadersFor(target string) map[string]string {
	if s == nil {
		return nil
	}
	if site := s.Find(target); site != nil {
		return site.Headers
	}
	return nil
}
