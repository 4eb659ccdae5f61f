package monitor

import (
	"testing"
	"time"
)

func TestWsToHTTPRewritesSecureScheme(t *testing.T) {
	got := wsToHTTP("wss://relay.example.com/path")
	if got != "https://relay.example.com/path" {
		t.Fatalf("wsToHTTP = %q", got)
	}
}

func TestWsToHTTPRewritesInsecureScheme(t *testing.T) {
	got := wsToHTTP("ws://relay.example.com")
	if got != "http://relay.example.com" {
		t.Fatalf("wsToHTTP = %q", got)
	}
}

func TestWsToHTTPLeavesUnknownSchemeUnchanged(t *testing.T) {
	got := wsToHTTP("ftp://relay.example.com")
	if got != "ftp://relay.example.com" {
		t.Fatalf("wsToHTTP = %q, want unchanged", got)
	}
}

func TestSplitRelayHostPortWithExplicitPort(t *testing.T) {
	host, port, err := splitRelayHostPort("wss://relay.example.com:4433/path")
	if err != nil {
		t.Fatalf("splitRelayHostPort: %v", err)
	}
	if host != "relay.example.com" || port != "4433" {
		t.Fatalf("host=%q port=%q", host, port)
	}
}

func TestSplitRelayHostPortDefaultsTo443(t *testing.T) {
	host, port, err := splitRelayHostPort("wss://relay.example.com/path")
	if err != nil {
		t.Fatalf("splitRelayHostPort: %v", err)
	}
	if host != "relay.example.com" || port != "443" {
		t.Fatalf("host=%q port=%q, want 443 default", host, port)
	}
}

func TestConfigSetDefaults(t *testing.T) {
	c := Config{}
	c.setDefaults()
	if c.ChunkSize != 100 {
		t.Fatalf("ChunkSize = %d, want 100", c.ChunkSize)
	}
	if c.GeoIPMaxAge != 30*24*time.Hour {
		t.Fatalf("GeoIPMaxAge = %v, want 30 days", c.GeoIPMaxAge)
	}
	if c.GeohashPrecision != 9 {
		t.Fatalf("GeohashPrecision = %d, want 9", c.GeohashPrecision)
	}
}

func TestEnabledChecksListsOnlyEnabledProbes(t *testing.T) {
	m := &Monitor{cfg: Config{Checks: ChecksConfig{
		NIP11: CheckConfig{Enabled: true, Timeout: 5 * time.Second},
		RTT:   CheckConfig{Enabled: false},
		SSL:   CheckConfig{Enabled: true, Timeout: 2 * time.Second},
	}}}
	checks := m.enabledChecks()
	if len(checks) != 2 {
		t.Fatalf("checks = %+v, want 2 enabled entries", checks)
	}
	names := map[string]bool{}
	for _, c := range checks {
		names[c.Name] = true
	}
	if !names["nip11"] || !names["ssl"] {
		t.Fatalf("checks = %+v, missing expected names", checks)
	}
	if names["rtt"] {
		t.Fatal("rtt was disabled and must not appear")
	}
}
