package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Reasoning   ReasoningConfig   `yaml:"reasoning"`
	Negotiation NegotiationConfig `yaml:"negotiation"`
	Realtime    RealtimeConfig    `yaml:"realtime"`
	Events      EventsConfig      `yaml:"events"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

type DatabaseConfig struct {
	// URL may be left empty and supplied via DATABASE_URL instead.
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type ReasoningConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	// APIKey is normally supplied via LLM_API_KEY.
	APIKey         string  `yaml:"api_key"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MaxRetries     int     `yaml:"max_retries"`
	Temperature    float64 `yaml:"temperature"`
}

type NegotiationConfig struct {
	// AutoContinueDelayMs paces auto-continued steps so the UI stays legible.
	// Not a correctness knob.
	AutoContinueDelayMs int `yaml:"auto_continue_delay_ms"`
	DiscoveryTurns      int `yaml:"discovery_turns"`
}

type RealtimeConfig struct {
	// RedisAddr enables the cross-pod delta relay when set (or via REDIS_ADDR).
	RedisAddr      string `yaml:"redis_addr"`
	AllowedOrigins string `yaml:"allowed_origins"`
}

type EventsConfig struct {
	// PubSubProject/Topic enable the durable Pub/Sub sink when both are set.
	PubSubProject string `yaml:"pubsub_project"`
	PubSubTopic   string `yaml:"pubsub_topic"`
}

// BackendTimeout returns the bounded timeout for one reasoning call.
func (r ReasoningConfig) BackendTimeout() time.Duration {
	if r.TimeoutSeconds <= 0 {
		return 45 * time.Second
	}
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// AutoContinueDelay returns the pacing delay between auto-continued steps.
func (n NegotiationConfig) AutoContinueDelay() time.Duration {
	if n.AutoContinueDelayMs <= 0 {
		return 1500 * time.Millisecond
	}
	return time.Duration(n.AutoContinueDelayMs) * time.Millisecond
}

func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// Default returns a runnable config when no file is present (demo mode).
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{Port: "8080", Env: "development"},
		Negotiation: NegotiationConfig{
			AutoContinueDelayMs: 1500,
			DiscoveryTurns:      3,
		},
		Reasoning: ReasoningConfig{
			TimeoutSeconds: 45,
			MaxRetries:     2,
			Temperature:    0.7,
		},
	}
	applyEnvOverrides(cfg)
	return cfg
}

// Secrets never live in the YAML file in production; env wins when set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.Reasoning.APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.Reasoning.BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.Reasoning.Model = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Realtime.RedisAddr = v
	}
	if v := os.Getenv("PUBSUB_PROJECT"); v != "" {
		cfg.Events.PubSubProject = v
	}
	if v := os.Getenv("PUBSUB_TOPIC"); v != "" {
		cfg.Events.PubSubTopic = v
	}
}
