package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/model"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://r.jina.ai", cfg.Jina.BaseURL)
	assert.Equal(t, "https://s.jina.ai", cfg.Jina.SearchBaseURL)
	assert.Equal(t, 15, cfg.Facts.CooldownMinutes)
	assert.Equal(t, 15*time.Minute, cfg.Facts.Cooldown())
	assert.Equal(t, 12*time.Second, cfg.Facts.FetchTimeout())
	assert.Equal(t, 6, cfg.Facts.MaxConcurrentFetches)
	assert.Equal(t, "memory", cfg.Facts.GuardBackend)
	assert.Equal(t, "weighted_top", cfg.Facts.ScorePolicy)
	assert.False(t, cfg.Anthropic.Enabled)

	ttls := cfg.Facts.LaneTTLs()
	assert.Equal(t, 7*24*time.Hour, ttls[model.LanePricing])
	assert.Equal(t, 3*24*time.Hour, ttls[model.LaneChangelog])
	assert.Len(t, ttls, len(model.AllLanes()))
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
  format: console
server:
  port: 9090
facts:
  cooldown_minutes: 5
  ttl_days:
    changelog: 1
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Facts.Cooldown())
	assert.Equal(t, 24*time.Hour, cfg.Facts.LaneTTLs()[model.LaneChangelog])
	// Defaults still apply for unset values
	assert.Equal(t, 6, cfg.Facts.MaxConcurrentFetches)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("DEALFORGE_STORE_DRIVER", "postgres")
	t.Setenv("DEALFORGE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DEALFORGE_SERVER_PORT=3000\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("DEALFORGE_SERVER_PORT") }) //nolint:errcheck

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLaneTTLsIgnoresNonPositive(t *testing.T) {
	f := FactsConfig{TTLDays: map[string]int{"pricing": 0, "trust": -2, "features": 30}}

	ttls := f.LaneTTLs()
	assert.Equal(t, model.DefaultTTL(model.LanePricing), ttls[model.LanePricing])
	assert.Equal(t, model.DefaultTTL(model.LaneTrust), ttls[model.LaneTrust])
	assert.Equal(t, 30*24*time.Hour, ttls[model.LaneFeatures])
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config that passes pipeline validation.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/dealforge"
	cfg.Jina.Key = "jina_key"
	cfg.Facts.MaxConcurrentFetches = 6
	cfg.Facts.CooldownMinutes = 15
	cfg.Facts.FetchTimeoutSecs = 12
	cfg.Facts.GuardBackend = "memory"
	cfg.Server.Port = 8080
	cfg.Auth.JWTSecret = "secret"
	return cfg
}

func TestValidatePipeline_AllPresent(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("pipeline"))
}

func TestValidatePipeline_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	cfg.Jina.Key = ""

	err := cfg.Validate("pipeline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "jina.key is required")
}

func TestValidateSQLiteNeedsNoURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = ""

	assert.NoError(t, cfg.Validate("pipeline"))
}

func TestValidateAnthropicKeyWhenEnabled(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Enabled = true

	err := cfg.Validate("pipeline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key")
}

func TestValidateServe(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("serve"))

	cfg.Server.Port = 0
	cfg.Auth.JWTSecret = ""
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
	assert.Contains(t, err.Error(), "auth.jwt_secret is required")
}

func TestValidateBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Facts.MaxConcurrentFetches = 0
	err := cfg.Validate("pipeline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_fetches must be between 1 and 32")

	cfg.Facts.MaxConcurrentFetches = 6
	cfg.Facts.GuardBackend = "redis"
	err = cfg.Validate("pipeline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "guard_backend")

	cfg.Facts.GuardBackend = "memory"
	cfg.Facts.ScorePolicy = "median"
	err = cfg.Validate("pipeline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "score_policy must be weighted_top, max or mean")

	cfg.Facts.ScorePolicy = "max"
	assert.NoError(t, cfg.Validate("pipeline"))
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
