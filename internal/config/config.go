package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level dashboard configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Poller    PollerConfig    `yaml:"poller"`
	Streams   StreamsConfig   `yaml:"streams"`
	Scripts   ScriptsConfig   `yaml:"scripts"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// RateLimit is the number of requests per minute allowed per client IP.
	RateLimit       int           `yaml:"rate_limit"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// APIConfig holds relief backend connection settings.
type APIConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`
	// RateLimit is the outbound request rate per second; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// PollerConfig holds request status polling settings.
type PollerConfig struct {
	Interval     time.Duration `yaml:"interval"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// StreamConfig is the cadence and buffer size of one scripted stream.
type StreamConfig struct {
	Interval time.Duration `yaml:"interval"`
	Jitter   time.Duration `yaml:"jitter"`
	Capacity int           `yaml:"capacity"`
}

// StreamsConfig holds per-stream settings.
type StreamsConfig struct {
	Drone        StreamConfig `yaml:"drone"`
	Verification StreamConfig `yaml:"verification"`
	Activity     StreamConfig `yaml:"activity"`
	Debate       StreamConfig `yaml:"debate"`
	// VerificationProgress is how often verification cards advance a status.
	VerificationProgress time.Duration `yaml:"verification_progress"`
}

// ScriptsConfig points at an optional script catalog overriding the
// built-in one.
type ScriptsConfig struct {
	Path string `yaml:"path"`
}

// SimulatorConfig controls the in-process ledger and agent swarm routes.
type SimulatorConfig struct {
	Enabled   *bool         `yaml:"enabled"`
	StepDelay time.Duration `yaml:"step_delay"`
}

// On reports whether the simulator routes are served.
func (s SimulatorConfig) On() bool {
	return s.Enabled == nil || *s.Enabled
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// defaults applies sane defaults to zero-valued fields.
func (c *Config) defaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 300
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = 10 * time.Second
	}
	if c.API.EvaluationTimeout == 0 {
		c.API.EvaluationTimeout = 30 * time.Second
	}
	if c.API.Burst == 0 {
		c.API.Burst = 5
	}
	if c.Poller.Interval == 0 {
		c.Poller.Interval = 5 * time.Second
	}
	if c.Poller.FetchTimeout == 0 {
		c.Poller.FetchTimeout = c.Poller.Interval
	}
	streamDefaults(&c.Streams.Drone, 4*time.Second, 2*time.Second, 30)
	streamDefaults(&c.Streams.Verification, 8*time.Second, 0, 7)
	streamDefaults(&c.Streams.Activity, 3*time.Second, 0, 21)
	streamDefaults(&c.Streams.Debate, 1500*time.Millisecond, 0, 16)
	if c.Streams.VerificationProgress == 0 {
		c.Streams.VerificationProgress = 4 * time.Second
	}
	if c.Simulator.StepDelay == 0 {
		c.Simulator.StepDelay = 50 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

func streamDefaults(s *StreamConfig, interval, jitter time.Duration, capacity int) {
	if s.Interval == 0 {
		s.Interval = interval
	}
	if s.Jitter == 0 {
		s.Jitter = jitter
	}
	if s.Capacity == 0 {
		s.Capacity = capacity
	}
}

// validate checks required fields and value constraints.
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must be non-negative")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute http(s) url, got %q", c.API.BaseURL)
	}
	if c.API.Timeout < 0 || c.API.EvaluationTimeout < 0 {
		return fmt.Errorf("api timeouts must be non-negative")
	}
	if c.API.RateLimit < 0 || c.API.Burst < 0 {
		return fmt.Errorf("api.rate_limit and api.burst must be non-negative")
	}
	if c.Poller.Interval < 0 || c.Poller.FetchTimeout < 0 {
		return fmt.Errorf("poller.interval and poller.fetch_timeout must be non-negative")
	}
	streams := map[string]StreamConfig{
		"drone":        c.Streams.Drone,
		"verification": c.Streams.Verification,
		"activity":     c.Streams.Activity,
		"debate":       c.Streams.Debate,
	}
	for name, s := range streams {
		if s.Interval < 0 || s.Jitter < 0 {
			return fmt.Errorf("streams.%s interval and jitter must be non-negative", name)
		}
		if s.Capacity < 0 {
			return fmt.Errorf("streams.%s.capacity must be non-negative", name)
		}
	}
	if c.Simulator.StepDelay < 0 {
		return fmt.Errorf("simulator.step_delay must be non-negative")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	return nil
}

// expandEnv replaces ${VAR} references in deployment-specific fields with
// environment variable values, e.g. ${AEGIS_API_URL}.
func (c *Config) expandEnv() {
	c.API.BaseURL = os.ExpandEnv(c.API.BaseURL)
	c.Scripts.Path = os.ExpandEnv(c.Scripts.Path)
}

// Load reads a YAML config file, applies defaults, expands env vars, and validates.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.expandEnv()
	cfg.defaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}
