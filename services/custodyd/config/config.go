package config

import (
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"vestvault/native/oracle"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	if value.Value == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for custodyd.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	GenesisPath   string          `yaml:"genesis"`
	State         StateConfig     `yaml:"state"`
	Journal       JournalConfig   `yaml:"journal"`
	Oracle        OracleConfig    `yaml:"oracle"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Recon         ReconConfig     `yaml:"recon"`
	Log           LogConfig       `yaml:"log"`
}

// StateConfig selects the custody ledger backend.
type StateConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// JournalConfig points at the notification journal. DSNs starting with
// postgres:// or postgresql:// use PostgreSQL, anything else SQLite.
type JournalConfig struct {
	DSN string `yaml:"dsn"`
}

// OracleConfig tunes the price feed poller.
type OracleConfig struct {
	FeedID   string   `yaml:"feed_id"`
	Endpoint string   `yaml:"endpoint"`
	Interval Duration `yaml:"interval"`
	Timeout  Duration `yaml:"timeout"`
	MaxAge   Duration `yaml:"max_age"`
}

// AuthConfig bounds signed request freshness.
type AuthConfig struct {
	MaxSkew Duration `yaml:"max_skew"`
}

// RateLimitConfig throttles callers by client address.
type RateLimitConfig struct {
	RequestsPerMinute float64  `yaml:"requests_per_minute"`
	Burst             int      `yaml:"burst"`
	TrustedProxies    []string `yaml:"trusted_proxies"`
}

// ReconConfig schedules reconciliation reports.
type ReconConfig struct {
	OutputDir string   `yaml:"output_dir"`
	Interval  Duration `yaml:"interval"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7080"
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = "leveldb"
	}
	if cfg.State.Path == "" {
		cfg.State.Path = "/var/data/custodyd/state"
	}
	if cfg.Journal.DSN == "" {
		cfg.Journal.DSN = "file:/var/data/custodyd/journal.sqlite"
	}
	if cfg.Oracle.Interval.Duration == 0 {
		cfg.Oracle.Interval.Duration = 5 * time.Second
	}
	if cfg.Oracle.Timeout.Duration == 0 {
		cfg.Oracle.Timeout.Duration = 5 * time.Second
	}
	if cfg.Oracle.MaxAge.Duration == 0 {
		cfg.Oracle.MaxAge.Duration = time.Duration(oracle.DefaultMaxAgeSeconds) * time.Second
	}
	if cfg.Auth.MaxSkew.Duration == 0 {
		cfg.Auth.MaxSkew.Duration = 5 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.Recon.OutputDir == "" {
		cfg.Recon.OutputDir = "/var/data/custodyd/recon"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func validate(cfg Config) error {
	switch strings.ToLower(cfg.State.Backend) {
	case "leveldb", "bolt", "memory":
	default:
		return fmt.Errorf("state.backend must be leveldb, bolt or memory")
	}
	if strings.TrimSpace(cfg.GenesisPath) == "" {
		return fmt.Errorf("genesis must be configured")
	}
	if _, err := oracle.FeedIDFromHex(cfg.Oracle.FeedID); err != nil {
		return fmt.Errorf("oracle.feed_id: %w", err)
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	for _, proxy := range cfg.RateLimit.TrustedProxies {
		if !validProxy(proxy) {
			return fmt.Errorf("rate_limit.trusted_proxies: invalid entry %q", proxy)
		}
	}
	if cfg.Oracle.MaxAge.Duration < time.Second {
		return fmt.Errorf("oracle.max_age must be at least one second")
	}
	return nil
}

func validProxy(value string) bool {
	value = strings.TrimSpace(value)
	if strings.Contains(value, "/") {
		_, err := netip.ParsePrefix(value)
		return err == nil
	}
	_, err := netip.ParseAddr(value)
	return err == nil
}

// MaxAgeSeconds returns the oracle freshness bound in whole seconds.
func (c OracleConfig) MaxAgeSeconds() uint64 {
	return uint64(c.MaxAge.Duration / time.Second)
}
