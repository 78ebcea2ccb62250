package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/compare"
	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Jina      JinaConfig      `yaml:"jina" mapstructure:"jina"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Facts     FactsConfig     `yaml:"facts" mapstructure:"facts"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Auth      AuthConfig      `yaml:"auth" mapstructure:"auth"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// JinaConfig holds Jina AI Reader and Search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// AnthropicConfig holds settings for the optional LLM extractor.
type AnthropicConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// FactsConfig configures the facts collection and comparison pipeline.
type FactsConfig struct {
	CooldownMinutes      int            `yaml:"cooldown_minutes" mapstructure:"cooldown_minutes"`
	FetchTimeoutSecs     int            `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
	SearchTimeoutSecs    int            `yaml:"search_timeout_secs" mapstructure:"search_timeout_secs"`
	MaxConcurrentFetches int            `yaml:"max_concurrent_fetches" mapstructure:"max_concurrent_fetches"`
	HostRatePerSec       float64        `yaml:"host_rate_per_sec" mapstructure:"host_rate_per_sec"`
	GuardBackend         string         `yaml:"guard_backend" mapstructure:"guard_backend"`
	ScorePolicy          string         `yaml:"score_policy" mapstructure:"score_policy"`
	LanesFile            string         `yaml:"lanes_file" mapstructure:"lanes_file"`
	TTLDays              map[string]int `yaml:"ttl_days" mapstructure:"ttl_days"`
}

// Cooldown returns the run guard cooldown window.
func (f FactsConfig) Cooldown() time.Duration {
	return time.Duration(f.CooldownMinutes) * time.Minute
}

// FetchTimeout returns the per-page fetch budget.
func (f FactsConfig) FetchTimeout() time.Duration {
	return time.Duration(f.FetchTimeoutSecs) * time.Second
}

// SearchTimeout returns the per-query search budget.
func (f FactsConfig) SearchTimeout() time.Duration {
	return time.Duration(f.SearchTimeoutSecs) * time.Second
}

// LaneTTLs resolves the configured TTL for every lane, falling back to the
// built-in defaults for lanes that are missing or non-positive.
func (f FactsConfig) LaneTTLs() map[model.Lane]time.Duration {
	out := make(map[model.Lane]time.Duration, len(model.AllLanes()))
	for _, l := range model.AllLanes() {
		if days, ok := f.TTLDays[string(l)]; ok && days > 0 {
			out[l] = time.Duration(days) * 24 * time.Hour
			continue
		}
		out[l] = model.DefaultTTL(l)
	}
	return out
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// AuthConfig configures verification of identity tokens.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config file, and environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DEALFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("anthropic.enabled", false)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("facts.cooldown_minutes", 15)
	v.SetDefault("facts.fetch_timeout_secs", 12)
	v.SetDefault("facts.search_timeout_secs", 15)
	v.SetDefault("facts.max_concurrent_fetches", 6)
	v.SetDefault("facts.host_rate_per_sec", 2.0)
	v.SetDefault("facts.guard_backend", "memory")
	v.SetDefault("facts.score_policy", "weighted_top")
	v.SetDefault("facts.ttl_days", map[string]int{
		"pricing":      7,
		"features":     14,
		"integrations": 14,
		"trust":        7,
		"changelog":    3,
		"overview":     14,
	})

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the keys required by a command mode ("pipeline" or
// "serve") and reports every problem found.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "pipeline", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}
	if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
		problems = append(problems, "store.driver must be postgres or sqlite")
	}
	if c.Jina.Key == "" {
		problems = append(problems, "jina.key is required")
	}
	if c.Anthropic.Enabled && c.Anthropic.Key == "" {
		problems = append(problems, "anthropic.key is required when anthropic.enabled is set")
	}
	if c.Facts.MaxConcurrentFetches < 1 || c.Facts.MaxConcurrentFetches > 32 {
		problems = append(problems, "facts.max_concurrent_fetches must be between 1 and 32")
	}
	if c.Facts.CooldownMinutes < 0 {
		problems = append(problems, "facts.cooldown_minutes must be >= 0")
	}
	if c.Facts.FetchTimeoutSecs <= 0 {
		problems = append(problems, "facts.fetch_timeout_secs must be > 0")
	}
	if c.Facts.GuardBackend != "memory" && c.Facts.GuardBackend != "store" {
		problems = append(problems, "facts.guard_backend must be memory or store")
	}
	if _, err := compare.PolicyByName(c.Facts.ScorePolicy); err != nil {
		problems = append(problems, "facts.score_policy must be weighted_top, max or mean")
	}

	if mode == "serve" {
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Auth.JWTSecret == "" {
			problems = append(problems, "auth.jwt_secret is required")
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
