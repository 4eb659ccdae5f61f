// Package config loads and validates the YAML configuration tree every
// BigBrotr service reads at startup (spec.md §2.1 ambient stack,
// §6.5 environment variables).
//
// Grounded on the teacher's internal/config/config.go: an embedded
// example.yaml default, os.ReadFile + yaml.Unmarshal, a defaults pass,
// an environment-override pass, then Validate. The section tree itself
// is reshaped around Database/Networks/Services rather than the
// teacher's Site/Protocols/Rendering tree.
package config

import (
	"embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed example.yaml
var exampleConfig embed.FS

// Config is the root configuration document.
type Config struct {
	Database     Database     `yaml:"database"`
	Networks     Networks     `yaml:"networks"`
	Batch        Batch        `yaml:"batch"`
	Seeder       SeederConfig `yaml:"seeder"`
	Finder       FinderConfig `yaml:"finder"`
	Validator    ValidatorCfg `yaml:"validator"`
	Monitor      MonitorCfg   `yaml:"monitor"`
	Synchronizer SyncCfg      `yaml:"synchronizer"`
	Logging      Logging      `yaml:"logging"`
}

// Database holds connection pool parameters (spec.md §4.3).
type Database struct {
	Host                    string `yaml:"host"`
	Port                    int    `yaml:"port"`
	Name                    string `yaml:"name"`
	User                    string `yaml:"user"`
	PasswordEnv             string `yaml:"password_env"`
	MinSize                 int    `yaml:"min_size"`
	MaxSize                 int    `yaml:"max_size"`
	MaxQueriesBeforeRecycle int    `yaml:"max_queries_before_recycle"`
	IdleLifetimeSeconds     int    `yaml:"idle_lifetime_s"`
	ConnectMaxAttempts      int    `yaml:"connect_max_attempts"`
	ApplicationName         string `yaml:"application_name"`
	StatementTimeoutMs      int    `yaml:"statement_timeout_ms"`
}

// NetworkPolicy is one entry of the `networks` map (spec.md §4.6 step 1,
// §5 concurrency bounds).
type NetworkPolicy struct {
	Enabled   bool   `yaml:"enabled"`
	ProxyURL  string `yaml:"proxy_url"`
	MaxTasks  int    `yaml:"max_tasks"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// Networks configures the four disjoint relay networks (spec.md §1).
type Networks struct {
	Clearnet NetworkPolicy `yaml:"clearnet"`
	Tor      NetworkPolicy `yaml:"tor"`
	I2P      NetworkPolicy `yaml:"i2p"`
	Loki     NetworkPolicy `yaml:"loki"`
}

// Policy looks up the policy for a network tag ("clearnet","tor","i2p","loki").
func (n Networks) Policy(network string) (NetworkPolicy, bool) {
	switch network {
	case "clearnet":
		return n.Clearnet, true
	case "tor":
		return n.Tor, true
	case "i2p":
		return n.I2P, true
	case "loki":
		return n.Loki, true
	default:
		return NetworkPolicy{}, false
	}
}

// Timeout returns the per-network timeout as a time.Duration.
func (p NetworkPolicy) Timeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// Batch holds the bulk-insert batch-size limits (spec.md §4.2).
type Batch struct {
	MaxSize int `yaml:"max_size"`
}

// SeederConfig configures the one-shot Seeder (spec.md §4.4).
type SeederConfig struct {
	SeedFile   string `yaml:"seed_file"`
	ToValidate bool   `yaml:"to_validate"`
}

// FinderConfig configures Finder (spec.md §4.5).
type FinderConfig struct {
	Interval    int              `yaml:"interval_s"`
	Concurrency FinderConc       `yaml:"concurrency"`
	Events      FinderEvents     `yaml:"events"`
	APISources  []APISourceCfg   `yaml:"api_sources"`
}

// FinderConc bounds the DB event-scan concurrency.
type FinderConc struct {
	MaxParallelEvents int `yaml:"max_parallel_events"`
}

// FinderEvents configures the per-relay event batch size.
type FinderEvents struct {
	BatchSize int `yaml:"batch_size"`
}

// APISourceCfg is one external discovery API source (spec.md §4.5.2).
type APISourceCfg struct {
	URL                  string `yaml:"url"`
	JMESPath             string `yaml:"jmespath"`
	TimeoutMs            int    `yaml:"timeout_ms"`
	ConnectTimeoutMs     int    `yaml:"connect_timeout_ms"`
	VerifySSL            bool   `yaml:"verify_ssl"`
	MaxResponseSize      int64  `yaml:"max_response_size"`
	DelayBetweenRequests int    `yaml:"delay_between_requests_ms"`
}

// ValidatorCfg configures Validator (spec.md §4.6).
type ValidatorCfg struct {
	Interval   int              `yaml:"interval_s"`
	Cleanup    ValidatorCleanup `yaml:"cleanup"`
	Processing ChunkedProcessing `yaml:"processing"`
}

// ValidatorCleanup configures the candidate cleanup pass.
type ValidatorCleanup struct {
	Enabled     bool `yaml:"enabled"`
	MaxFailures int  `yaml:"max_failures"`
}

// ChunkedProcessing is the common {max_candidates/max_relays, chunk_size}
// shape used by Validator and Monitor (spec.md §4.6 step 3-4, §4.7 step 7).
type ChunkedProcessing struct {
	MaxItems  int `yaml:"max_items"`
	ChunkSize int `yaml:"chunk_size"`
}

// MonitorCfg configures Monitor (spec.md §4.7).
type MonitorCfg struct {
	Interval    int               `yaml:"interval_s"`
	GeoIP       GeoIPCfg          `yaml:"geoip"`
	Profile     ProfileCfg        `yaml:"profile"`
	Discovery   DiscoveryCfg      `yaml:"discovery"`
	Processing  ChunkedProcessing `yaml:"processing"`
	Checks      ChecksCfg         `yaml:"checks"`
	PublishTo   []string          `yaml:"publish_to"`
	SigningKeyEnv string          `yaml:"signing_key_env"`
}

// GeoIPCfg configures GeoIP database refresh (spec.md §4.7 step 1).
type GeoIPCfg struct {
	CityPath  string `yaml:"city_path"`
	ASNPath   string `yaml:"asn_path"`
	MaxAgeDays int   `yaml:"max_age_days"`
}

// ProfileCfg configures kind-0 profile publication (spec.md §4.7 step 3).
type ProfileCfg struct {
	Enabled      bool     `yaml:"enabled"`
	IntervalS    int      `yaml:"interval_s"`
	Name         string   `yaml:"name"`
	About        string   `yaml:"about"`
	Picture      string   `yaml:"picture"`
	// Relays lists where the kind-0/kind-10166 events are published.
	// Empty falls back to Monitor.PublishTo.
	Relays       []string `yaml:"relays"`
}

// DiscoveryCfg configures kind-30166 discovery publication and the
// relay-due-for-check window (spec.md §4.7 step 4/6-7).
type DiscoveryCfg struct {
	Enabled   bool     `yaml:"enabled"`
	IntervalS int      `yaml:"interval_s"`
	// Relays lists where kind-30166 events are published. Empty falls
	// back to Monitor.PublishTo.
	Relays    []string `yaml:"relays"`
}

// ChecksCfg individually toggles each of the seven NIP-66 probes
// (spec.md §4.7.1) plus per-type retry policy.
type ChecksCfg struct {
	NIP11 CheckCfg `yaml:"nip11"`
	RTT   CheckCfg `yaml:"rtt"`
	SSL   CheckCfg `yaml:"ssl"`
	DNS   CheckCfg `yaml:"dns"`
	Geo   CheckCfg `yaml:"geo"`
	Net   CheckCfg `yaml:"net"`
	HTTP  CheckCfg `yaml:"http"`
}

// CheckCfg is one probe's enable flag, store flag, timeout, and retry policy.
type CheckCfg struct {
	Enabled     bool `yaml:"enabled"`
	Store       bool `yaml:"store"`
	TimeoutMs   int  `yaml:"timeout_ms"`
	MaxRetries  int  `yaml:"max_retries"`
	InitialDelayMs int `yaml:"initial_delay_ms"`
	MaxDelayMs  int  `yaml:"max_delay_ms"`
}

// SyncCfg configures Synchronizer (spec.md §4.8).
type SyncCfg struct {
	RelayOverrides    []string          `yaml:"relay_overrides"`
	TimeRange         TimeRangeCfg      `yaml:"time_range"`
	LookbackSeconds   int               `yaml:"lookback_seconds"`
	Pagination        PaginationCfg     `yaml:"pagination"`
	Timeouts          RelayTimeouts     `yaml:"timeouts"`
	CursorFlushInterval int             `yaml:"cursor_flush_interval"`
}

// TimeRangeCfg bounds the initial (no-cursor) sync window start.
type TimeRangeCfg struct {
	DefaultStart int64 `yaml:"default_start"`
}

// PaginationCfg bounds per-page event counts.
type PaginationCfg struct {
	Limit    int `yaml:"limit"`
	MaxLimit int `yaml:"max_limit"`
}

// RelayTimeouts holds the per-network relay task timeout (spec.md §4.8
// step 5, default 1800s clearnet / 3600s overlays).
type RelayTimeouts struct {
	Clearnet int `yaml:"relay_clearnet_s"`
	Tor      int `yaml:"relay_tor_s"`
	I2P      int `yaml:"relay_i2p_s"`
	Loki     int `yaml:"relay_loki_s"`
}

// ForNetwork returns the configured timeout for a network tag.
func (t RelayTimeouts) ForNetwork(network string) time.Duration {
	var seconds int
	switch network {
	case "clearnet":
		seconds = t.Clearnet
	case "tor":
		seconds = t.Tor
	case "i2p":
		seconds = t.I2P
	case "loki":
		seconds = t.Loki
	}
	return time.Duration(seconds) * time.Second
}

// Logging configures the structured logger (spec.md §2 ambient stack).
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads, defaults, env-overrides, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("config: env overrides: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return &cfg, nil
}

// DatabasePassword resolves the admin password from the configured
// environment variable (spec.md §6.5: "never from config files").
func (c *Config) DatabasePassword() (string, error) {
	name := c.Database.PasswordEnv
	if name == "" {
		name = "DB_ADMIN_PASSWORD"
	}
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("config: required environment variable %s is unset", name)
	}
	return v, nil
}

// applyEnvOverrides applies the small set of documented env-driven
// overrides (spec.md §6.5: "optional per-network proxy URLs").
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("BIGBROTR_PROXY_TOR"); v != "" {
		cfg.Networks.Tor.ProxyURL = v
	}
	if v := os.Getenv("BIGBROTR_PROXY_I2P"); v != "" {
		cfg.Networks.I2P.ProxyURL = v
	}
	if v := os.Getenv("BIGBROTR_PROXY_LOKI"); v != "" {
		cfg.Networks.Loki.ProxyURL = v
	}
	return nil
}

// GetExampleConfig returns the embedded default configuration document.
func GetExampleConfig() ([]byte, error) {
	return exampleConfig.ReadFile("example.yaml")
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
var validLogFormats = map[string]bool{"text": true, "json": true}

// Validate enforces the fatal-at-startup configuration errors of
// spec.md §7 category 6.
func Validate(cfg *Config) error {
	if cfg.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if cfg.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if cfg.Database.MaxSize < cfg.Database.MinSize {
		return fmt.Errorf("database.max_size (%d) must be >= database.min_size (%d)", cfg.Database.MaxSize, cfg.Database.MinSize)
	}
	if cfg.Batch.MaxSize <= 0 || cfg.Batch.MaxSize > 100_000 {
		return fmt.Errorf("batch.max_size must be in (0, 100000]")
	}
	if cfg.Logging.Level != "" && !validLogLevels[strings.ToLower(cfg.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	if cfg.Logging.Format != "" && !validLogFormats[strings.ToLower(cfg.Logging.Format)] {
		return fmt.Errorf("logging.format must be one of text, json")
	}
	if !cfg.Networks.Clearnet.Enabled && !cfg.Networks.Tor.Enabled && !cfg.Networks.I2P.Enabled && !cfg.Networks.Loki.Enabled {
		return fmt.Errorf("at least one network must be enabled")
	}
	return nil
}
