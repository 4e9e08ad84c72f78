// Package config loads the assistant configuration from YAML with environment
// overrides and supports live reload of the tier and enricher sections.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/olga/go-assistant/internal/llm"
)

// #region types

// Config is the root configuration. It is loaded from ~/.olga/config.yaml
// and can be overridden by OLGA_* environment variables.
type Config struct {
	Providers ProvidersConfig `mapstructure:"providers" yaml:"providers"`
	Chat      ChatConfig      `mapstructure:"chat" yaml:"chat"`
	Tiers     TiersConfig     `mapstructure:"tiers" yaml:"tiers"`
	Search    SearchConfig    `mapstructure:"search" yaml:"search"`
	Endpoints EndpointsConfig `mapstructure:"endpoints" yaml:"endpoints"`
	Enrichers EnrichersConfig `mapstructure:"enrichers" yaml:"enrichers"`
	Auth      AuthConfig      `mapstructure:"auth" yaml:"auth"`
	Persona   PersonaConfig   `mapstructure:"persona" yaml:"persona"`
	Memory    MemoryConfig    `mapstructure:"memory" yaml:"memory"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Alarm     AlarmConfig     `mapstructure:"alarm" yaml:"alarm"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	DialDelay time.Duration   `mapstructure:"dial_delay" yaml:"dial_delay"`
}

// ProvidersConfig holds both chat provider kinds.
type ProvidersConfig struct {
	Bearer ProviderConfig `mapstructure:"bearer" yaml:"bearer"`
	URLKey ProviderConfig `mapstructure:"urlkey" yaml:"urlkey"`
}

// ProviderConfig is the endpoint and credential for one provider kind.
type ProviderConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
}

// ChatConfig controls request shaping and conversation bounds.
type ChatConfig struct {
	MaxTokens     int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature   float64       `mapstructure:"temperature" yaml:"temperature"`
	HistoryWindow int           `mapstructure:"history_window" yaml:"history_window"`
	LogCap        int           `mapstructure:"log_cap" yaml:"log_cap"`
	MinKeyLength  int           `mapstructure:"min_key_length" yaml:"min_key_length"`
	TokenDivisor  int           `mapstructure:"token_divisor" yaml:"token_divisor"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// TiersConfig is the ordered candidate list per tier.
type TiersConfig struct {
	Elevated  []llm.Candidate `mapstructure:"elevated" yaml:"elevated"`
	Political []llm.Candidate `mapstructure:"political" yaml:"political"`
	Technical []llm.Candidate `mapstructure:"technical" yaml:"technical"`
	Default   []llm.Candidate `mapstructure:"default" yaml:"default"`
}

// SearchConfig configures the web search provider.
type SearchConfig struct {
	BaseURL    string `mapstructure:"base_url" yaml:"base_url"`
	APIKey     string `mapstructure:"api_key" yaml:"api_key"`
	GL         string `mapstructure:"gl" yaml:"gl"`
	HL         string `mapstructure:"hl" yaml:"hl"`
	MaxResults int    `mapstructure:"max_results" yaml:"max_results"`
}

// EndpointsConfig holds the base URL of every enricher collaborator.
type EndpointsConfig struct {
	Crypto         string `mapstructure:"crypto" yaml:"crypto"`
	Market         string `mapstructure:"market" yaml:"market"`
	National       string `mapstructure:"national" yaml:"national"`
	Marketplace    string `mapstructure:"marketplace" yaml:"marketplace"`
	Geocode        string `mapstructure:"geocode" yaml:"geocode"`
	Portfolio      string `mapstructure:"portfolio" yaml:"portfolio"`
	PortfolioProxy string `mapstructure:"portfolio_proxy" yaml:"portfolio_proxy"`
	ImageGen       string `mapstructure:"image_gen" yaml:"image_gen"`
}

// EnrichersConfig bounds enricher latency and disables enrichers by name.
type EnrichersConfig struct {
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	TrafficTimeout time.Duration `mapstructure:"traffic_timeout" yaml:"traffic_timeout"`
	Disabled       []string      `mapstructure:"disabled" yaml:"disabled"`
	RatePerSecond  float64       `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	QuoteTTL       time.Duration `mapstructure:"quote_ttl" yaml:"quote_ttl"`
}

// AuthConfig names the identity allowed to see financial data.
type AuthConfig struct {
	FinancialUser string `mapstructure:"financial_user" yaml:"financial_user"`
}

// PersonaConfig holds persona gating.
type PersonaConfig struct {
	AdultAge int `mapstructure:"adult_age" yaml:"adult_age"`
}

// MemoryConfig selects the long-term memory backend.
type MemoryConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend"` // sqlite | redis
	RedisAddr   string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisStream string `mapstructure:"redis_stream" yaml:"redis_stream"`
	Limit       int    `mapstructure:"limit" yaml:"limit"`
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// ServerConfig holds listener addresses and gRPC session limits.
type ServerConfig struct {
	HTTPAddr       string        `mapstructure:"http_addr" yaml:"http_addr"`
	GRPCAddr       string        `mapstructure:"grpc_addr" yaml:"grpc_addr"`
	SessionIdleTTL time.Duration `mapstructure:"session_idle_ttl" yaml:"session_idle_ttl"`
	MaxSessions    int           `mapstructure:"max_sessions" yaml:"max_sessions"`
}

// AlarmConfig configures the alarm watcher.
type AlarmConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval" yaml:"check_interval"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level   string `mapstructure:"level" yaml:"level"`
	Dir     string `mapstructure:"dir" yaml:"dir"`
	Console bool   `mapstructure:"console" yaml:"console"`
}

// #endregion types

// #region defaults

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Providers: ProvidersConfig{
			Bearer: ProviderConfig{BaseURL: "https://api.groq.com/openai/v1"},
			URLKey: ProviderConfig{BaseURL: "https://generativelanguage.googleapis.com/v1beta"},
		},
		Chat: ChatConfig{
			MaxTokens:     300,
			Temperature:   0.6,
			HistoryWindow: 15,
			LogCap:        50,
			MinKeyLength:  20,
			TokenDivisor:  4,
			Timeout:       30 * time.Second,
		},
		Tiers: DefaultTiers(),
		Search: SearchConfig{
			BaseURL:    "https://google.serper.dev",
			GL:         "ve",
			HL:         "es",
			MaxResults: 3,
		},
		Endpoints: EndpointsConfig{
			Crypto:         "https://api.binance.com",
			Market:         "https://query1.finance.yahoo.com",
			National:       "https://www.bcv.org.ve",
			Marketplace:    "https://api.mercadolibre.com",
			Geocode:        "https://nominatim.openstreetmap.org",
			Portfolio:      "http://localhost:8090/status",
			PortfolioProxy: "",
			ImageGen:       "https://image.pollinations.ai",
		},
		Enrichers: EnrichersConfig{
			Timeout:        6 * time.Second,
			TrafficTimeout: 9 * time.Second,
			RatePerSecond:  5,
			QuoteTTL:       60 * time.Second,
		},
		Persona: PersonaConfig{AdultAge: 18},
		Memory: MemoryConfig{
			Backend:     "sqlite",
			RedisAddr:   "localhost:6379",
			RedisStream: "olga:memory",
			Limit:       5,
		},
		Storage: StorageConfig{DBPath: "~/.olga/olga.db"},
		Server: ServerConfig{
			HTTPAddr:       ":8080",
			GRPCAddr:       ":50061",
			SessionIdleTTL: 30 * time.Minute,
			MaxSessions:    256,
		},
		Alarm:     AlarmConfig{CheckInterval: 20 * time.Second},
		Logging:   LoggingConfig{Level: "info", Console: true},
		DialDelay: 2500 * time.Millisecond,
	}
}

// DefaultTiers returns the fixed candidate lists. Richer models lead the
// elevated and political tiers, the fastest model leads the default tier.
func DefaultTiers() TiersConfig {
	bearer := func(m string) llm.Candidate { return llm.Candidate{Model: m, Provider: llm.KindBearer} }
	urlkey := func(m string) llm.Candidate { return llm.Candidate{Model: m, Provider: llm.KindURLKey} }
	return TiersConfig{
		Elevated:  []llm.Candidate{urlkey("gemini-2.5-pro"), bearer("llama-3.3-70b-versatile"), urlkey("gemini-2.0-flash")},
		Political: []llm.Candidate{bearer("llama-3.3-70b-versatile"), urlkey("gemini-2.5-flash"), bearer("llama-3.1-8b-instant")},
		Technical: []llm.Candidate{urlkey("gemini-2.5-flash"), bearer("llama-3.3-70b-versatile"), bearer("llama-3.1-8b-instant")},
		Default:   []llm.Candidate{bearer("llama-3.1-8b-instant"), urlkey("gemini-2.0-flash"), bearer("llama-3.3-70b-versatile")},
	}
}

// ForTier returns the candidate list for a tier name, falling back to the
// default list for unknown names.
func (t TiersConfig) ForTier(name string) []llm.Candidate {
	switch name {
	case "elevated":
		return t.Elevated
	case "political":
		return t.Political
	case "technical":
		return t.Technical
	default:
		return t.Default
	}
}

// IsDisabled reports whether an enricher was switched off by name.
func (e EnrichersConfig) IsDisabled(name string) bool {
	for _, d := range e.Disabled {
		if strings.EqualFold(d, name) {
			return true
		}
	}
	return false
}

// #endregion defaults

// #region load

// DefaultPath returns ~/.olga/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".olga", "config.yaml"), nil
}

// Loader owns the viper instance backing a loaded Config so the file can be
// watched after the initial load.
type Loader struct {
	v    *viper.Viper
	path string

	mu  sync.RWMutex
	cfg *Config
}

// LoadFromPath reads configuration from path and merges OLGA_* environment
// overrides. A missing file is created with default values.
func LoadFromPath(path string) (*Loader, error) {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Example: OLGA_PROVIDERS_BEARER_API_KEY
	v.SetEnvPrefix("OLGA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Loader{v: v, path: path, cfg: cfg}, nil
}

// Config returns the current configuration snapshot.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Path returns the resolved config file path.
func (l *Loader) Path() string { return l.path }

// Watch reloads the tier lists and enricher flags whenever the file changes.
// Other sections keep their startup values. onChange receives the merged
// snapshot; a file that fails to decode or validate is ignored.
func (l *Loader) Watch(onChange func(*Config), onError func(error)) {
	l.v.OnConfigChange(func(fsnotify.Event) {
		next, err := decode(l.v)
		if err == nil {
			err = next.Validate()
		}
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}

		l.mu.Lock()
		merged := *l.cfg
		merged.Tiers = next.Tiers
		merged.Enrichers = next.Enrichers
		l.cfg = &merged
		l.mu.Unlock()

		if onChange != nil {
			onChange(&merged)
		}
	})
	l.v.WatchConfig()
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := replaceTiers(v, &cfg.Tiers); err != nil {
		return nil, err
	}
	cfg.Storage.DBPath = expandPath(cfg.Storage.DBPath)
	cfg.Logging.Dir = expandPath(cfg.Logging.Dir)
	return cfg, nil
}

// replaceTiers decodes every configured tier list into a fresh slice.
// Unmarshal overlays a shorter list onto the default one element by
// element, which would leave default candidates behind the configured ones.
func replaceTiers(v *viper.Viper, t *TiersConfig) error {
	lists := []struct {
		key string
		dst *[]llm.Candidate
	}{
		{"tiers.elevated", &t.Elevated},
		{"tiers.political", &t.Political},
		{"tiers.technical", &t.Technical},
		{"tiers.default", &t.Default},
	}
	for _, l := range lists {
		if !v.IsSet(l.key) {
			continue
		}
		var list []llm.Candidate
		if err := v.UnmarshalKey(l.key, &list); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", l.key, err)
		}
		*l.dst = list
	}
	return nil
}

// #endregion load

// #region validate

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Chat.MaxTokens <= 0 {
		return fmt.Errorf("chat.max_tokens must be positive")
	}
	if c.Chat.HistoryWindow <= 0 {
		return fmt.Errorf("chat.history_window must be positive")
	}
	if c.Chat.LogCap < c.Chat.HistoryWindow {
		return fmt.Errorf("chat.log_cap (%d) must be >= chat.history_window (%d)", c.Chat.LogCap, c.Chat.HistoryWindow)
	}
	if c.Chat.TokenDivisor <= 0 {
		return fmt.Errorf("chat.token_divisor must be positive")
	}

	tiers := map[string][]llm.Candidate{
		"elevated":  c.Tiers.Elevated,
		"political": c.Tiers.Political,
		"technical": c.Tiers.Technical,
		"default":   c.Tiers.Default,
	}
	for name, list := range tiers {
		if len(list) == 0 {
			return fmt.Errorf("tiers.%s cannot be empty", name)
		}
		for i, cand := range list {
			if cand.Model == "" {
				return fmt.Errorf("tiers.%s[%d]: model cannot be empty", name, i)
			}
			if cand.Provider != llm.KindBearer && cand.Provider != llm.KindURLKey {
				return fmt.Errorf("tiers.%s[%d]: invalid provider '%s', must be one of: bearer, urlkey", name, i, cand.Provider)
			}
		}
	}

	validBackends := map[string]bool{"sqlite": true, "redis": true}
	if !validBackends[c.Memory.Backend] {
		return fmt.Errorf("invalid memory.backend '%s', must be one of: sqlite, redis", c.Memory.Backend)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

// #endregion validate

// #region helpers

func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// #endregion helpers
