package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"reefchain/native/oracle"
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
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for oracled.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	StatePath     string          `yaml:"state_database"`
	AuditPath     string          `yaml:"audit_database"`
	AdminToken    string          `yaml:"admin_token"`
	TLS           TLSConfig       `yaml:"tls"`
	Engine        EngineConfig    `yaml:"engine"`
	Recorder      RecorderConfig  `yaml:"recorder"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Sources       []Source        `yaml:"sources"`
	Pairs         []Pair          `yaml:"pairs"`
}

// TLSConfig enables mutual TLS for the admin surface.
type TLSConfig struct {
	CertPath     string `yaml:"cert"`
	KeyPath      string `yaml:"key"`
	ClientCAPath string `yaml:"client_ca"`
}

// EngineConfig tunes the aggregation engine. ParamsFile optionally points at
// a TOML file whose values take precedence over the inline durations.
type EngineConfig struct {
	DefaultMaxAge Duration `yaml:"default_max_age"`
	TwapPeriod    Duration `yaml:"twap_period"`
	ParamsFile    string   `yaml:"params_file"`
}

// RecorderConfig controls the observation keeper loop.
type RecorderConfig struct {
	Interval Duration `yaml:"interval"`
}

// RateLimitConfig throttles the public read endpoints.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Source describes an upstream price feed.
type Source struct {
	Name     string            `yaml:"name"`
	Type     string            `yaml:"type"`
	Endpoint string            `yaml:"endpoint"`
	APIKey   string            `yaml:"api_key"`
	Assets   map[string]string `yaml:"assets"`
}

// Pair identifies a base/quote pair the daemon serves.
type Pair struct {
	Base  string `yaml:"base"`
	Quote string `yaml:"quote"`
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
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// EngineParams converts the YAML engine block into engine parameters.
func (c Config) EngineParams() oracle.Config {
	return oracle.Config{
		DefaultMaxAgeSeconds:    int64(c.Engine.DefaultMaxAge.Duration / time.Second),
		TwapPeriodSeconds:       int64(c.Engine.TwapPeriod.Duration / time.Second),
		RecorderIntervalSeconds: int64(c.Recorder.Interval.Duration / time.Second),
	}.Normalise()
}

// FeedIDs merges the per-source asset mappings into parallel token and feed id
// slices, sorted by token so startup seeding is deterministic. When two
// sources map the same token the later source wins.
func (c Config) FeedIDs() ([]string, []string) {
	merged := map[string]string{}
	for _, src := range c.Sources {
		for token, id := range src.Assets {
			symbol := strings.ToUpper(strings.TrimSpace(token))
			feedID := strings.TrimSpace(id)
			if symbol == "" || feedID == "" {
				continue
			}
			merged[symbol] = feedID
		}
	}
	tokens := make([]string, 0, len(merged))
	for token := range merged {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	ids := make([]string, len(tokens))
	for i, token := range tokens {
		ids[i] = merged[token]
	}
	return tokens, ids
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7087"
	}
	if cfg.StatePath == "" {
		cfg.StatePath = "/var/data/oracled/state"
	}
	if cfg.AuditPath == "" {
		cfg.AuditPath = "/var/data/oracled/audit.sqlite"
	}
	if cfg.Engine.DefaultMaxAge.Duration == 0 {
		cfg.Engine.DefaultMaxAge.Duration = time.Hour
	}
	if cfg.Engine.TwapPeriod.Duration == 0 {
		cfg.Engine.TwapPeriod.Duration = 24 * time.Hour
	}
	if cfg.Recorder.Interval.Duration == 0 {
		cfg.Recorder.Interval.Duration = 5 * time.Minute
	}
	if cfg.RateLimit.RequestsPerSecond <= 0 {
		cfg.RateLimit.RequestsPerSecond = 20
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 40
	}
}

func validate(cfg Config) error {
	if len(cfg.Pairs) == 0 {
		return fmt.Errorf("at least one pair must be configured")
	}
	for _, pair := range cfg.Pairs {
		if strings.TrimSpace(pair.Base) == "" || strings.TrimSpace(pair.Quote) == "" {
			return fmt.Errorf("pair requires base and quote symbols")
		}
	}
	if len(cfg.Sources) == 0 {
		return fmt.Errorf("at least one price source must be configured")
	}
	for _, src := range cfg.Sources {
		if strings.TrimSpace(src.Type) == "" {
			return fmt.Errorf("source %q requires a type", src.Name)
		}
	}
	if strings.TrimSpace(cfg.AdminToken) == "" && cfg.TLS.ClientCAPath == "" {
		return fmt.Errorf("admin surface requires a bearer token or client TLS")
	}
	return nil
}
