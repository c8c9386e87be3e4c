package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"critline/fold"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Beacon.MaxPayloadBytes != fold.MaxPostSize {
		t.Fatalf("max payload = %d", cfg.Beacon.MaxPayloadBytes)
	}
	if cfg.Viewport != (fold.Viewport{Width: 1280, Height: 800}) {
		t.Fatalf("viewport = %+v", cfg.Viewport)
	}
	if cfg.MaxBodyBytes < int64(cfg.Beacon.MaxPayloadBytes) {
		t.Fatalf("body limit below payload limit")
	}
	c := cfg.Collector
	if c.AcceptUnsolicited || c.SupportInterval != 10 || c.SupportPercentage != 80 || c.NonceTTL().Minutes() != 5 {
		t.Fatalf("collector = %+v", c)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "critline.yaml", `
listen: ":9000"
log_level: debug
viewport:
  width: 360
  height: 640
beacon:
  url: http://collector.test/beacon
  options_hash: abc
  mark_truncated: true
browser:
  wait_selector: "#app"
  settle_ms: 250
`)
	t.Setenv("CRITLINE_LISTEN", "")
	t.Setenv("PORT", "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":9000" || cfg.Viewport.Width != 360 || cfg.Beacon.OptionsHash != "abc" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if !cfg.Beacon.MarkTruncated || cfg.Browser.WaitSelector != "#app" || cfg.Browser.Settle().Milliseconds() != 250 {
		t.Fatalf("nested settings lost: %+v", cfg)
	}
	if cfg.Level().String() != "debug" {
		t.Fatalf("level = %s", cfg.Level())
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"bad level", "log_level: loud\n", "log_level"},
		{"tiny payload", "beacon:\n  max_payload_bytes: 10\n", "max_payload_bytes"},
		{"hash with separator", "beacon:\n  options_hash: a&b\n", "options_hash"},
		{"body below payload", "max_body_bytes: 100\n", "max_body_bytes"},
		{"short browser timeout", "browser:\n  timeout_ms: 5\n", "timeout_ms"},
		{"long hash", "beacon:\n  options_hash: " + strings.Repeat("a", 129) + "\n", "at most 128"},
		{"header over payload", "beacon:\n  max_payload_bytes: 64\n  options_hash: " + strings.Repeat("h", 20) + "\n", "no room"},
		{"percentage over 100", "collector:\n  support_percentage: 101\n", "support_percentage"},
		{"negative interval", "collector:\n  support_interval: -1\n", "support_interval"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "c.yaml", tc.yaml)
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Load err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		"CRITLINE_BEACON_URL":         "http://c.test/b",
		"CRITLINE_VIEWPORT":           "400x900",
		"CRITLINE_MARK_TRUNCATED":     "true",
		"CRITLINE_ACCEPT_UNSOLICITED": "1",
		"PORT":                        "7000",
	}
	cfg := &Config{Listen: ":1"}
	if err := applyEnv(cfg, func(k string) string { return env[k] }); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.Beacon.URL != "http://c.test/b" || cfg.Viewport.Height != 900 || !cfg.Beacon.MarkTruncated || cfg.Listen != ":7000" || !cfg.Collector.AcceptUnsolicited {
		t.Fatalf("cfg = %+v", cfg)
	}

	bad := map[string]string{"CRITLINE_VIEWPORT": "wide"}
	if err := applyEnv(&Config{}, func(k string) string { return bad[k] }); err == nil {
		t.Fatalf("expected error for bad viewport")
	}
}

func TestParseViewport(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want fold.Viewport
		ok   bool
	}{
		{"1280x800", fold.Viewport{Width: 1280, Height: 800}, true},
		{" 360X640 ", fold.Viewport{Width: 360, Height: 640}, true},
		{"0x100", fold.Viewport{}, false},
		{"100", fold.Viewport{}, false},
		{"axb", fold.Viewport{}, false},
	}
	for _, tc := range cases {
		got, err := ParseViewport(tc.in)
		if (err == nil) != tc.ok || got != tc.want {
			t.Fatalf("ParseViewport(%q) = %+v, %v", tc.in, got, err)
		}
	}
}

func TestSiteOverrides(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "example.test.json", `{"viewport":{"width":375,"height":667},"wait_selector":" main ","headers":{"X-Debug":"1"}}`)
	writeFile(t, dir, "broken.test.json", `{`)
	sites := NewSiteStore(dir)

	base := Default()
	got := base.ForSite("https://www.example.test/page", sites)
	if got.Viewport != (fold.Viewport{Width: 375, Height: 667}) || got.Browser.WaitSelector != "main" {
		t.Fatalf("override not applied: %+v", got)
	}
	if base.Viewport.Width != 1280 {
		t.Fatalf("base config mutated")
	}
	if h := sites.HeadersFor("http://example.test/"); h["X-Debug"] != "1" {
		t.Fatalf("headers = %v", h)
	}
	if sites.Find("http://broken.test/") != nil || sites.Find("http://other.test/") != nil {
		t.Fatalf("unexpected site config")
	}
	if sites.Find("not a url") != nil {
		t.Fatalf("config for invalid url")
	}
}
