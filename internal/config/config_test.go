package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	boterrors "github.com/ducminhle1904/rsi-momentum-bot/internal/errors"
)

const minimalYAML = `
bot:
  symbols: [BTCUSDT, ETHUSDT]
`

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

// TestParse_Defaults fills every omitted field
func TestParse_Defaults(t *testing.T) {
	c, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, c.Bot.Symbols)
	assert.Equal(t, "1h", c.Bot.Interval)
	assert.Equal(t, 5*time.Minute, c.Bot.CycleInterval)
	assert.Equal(t, 250, c.Bot.BarLimit)
	assert.True(t, c.Bot.CloseOnShutdown)

	assert.Equal(t, 14, c.Strategy.RSIPeriod)
	assert.Equal(t, 200, c.Strategy.TrendPeriod)
	assert.Equal(t, 30.0, c.Strategy.Oversold)
	assert.Equal(t, 70.0, c.Strategy.Overbought)

	assert.Equal(t, 0.01, c.Risk.MaxRiskPerTrade)
	assert.Equal(t, 0.05, c.Risk.MaxDailyLoss)
	assert.Equal(t, 3, c.Risk.MaxPositions)
	assert.Equal(t, 2.0, c.Risk.MaxLeverage)

	assert.Equal(t, 30*time.Second, c.Safety.StaleThreshold)
	assert.Equal(t, 3, c.Safety.MaxConsecutiveStale)
	assert.Equal(t, 10, c.Safety.MaxErrors)
	assert.Equal(t, 120, c.Safety.MaxCalls)
	assert.Equal(t, "file", c.Safety.MarkerBackend)

	assert.Equal(t, ModePaper, c.Exchange.Mode)
	assert.False(t, c.IsLive())
	assert.Equal(t, 10000.0, c.Exchange.Paper.InitialBalance)
	assert.Equal(t, "spot", c.Exchange.Bybit.Category)

	assert.Equal(t, "logs/audit.jsonl", c.Audit.FilePath)
	assert.Equal(t, ":9090", c.Monitoring.Addr)
	assert.True(t, c.Monitoring.Enabled)
	assert.Equal(t, "data/state.json", c.State.Path)
	assert.Equal(t, "info", c.Logger.Level)
}

// TestParse_ExplicitFalseOverridesDefault keeps a false written in the file
func TestParse_ExplicitFalseOverridesDefault(t *testing.T) {
	c, err := Parse([]byte(minimalYAML + `
  close_on_shutdown: false
  cycle_interval: 90s
monitoring:
  enabled: false
state:
  enabled: false
`))
	require.NoError(t, err)

	assert.False(t, c.Bot.CloseOnShutdown)
	assert.Equal(t, 90*time.Second, c.Bot.CycleInterval)
	assert.False(t, c.Monitoring.Enabled)
	assert.False(t, c.State.Enabled)
}

// TestParse_MissingSymbols reports the yaml field name
func TestParse_MissingSymbols(t *testing.T) {
	_, err := Parse([]byte("strategy:\n  rsi_period: 14\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot.symbols is required")

	category, ok := boterrors.CategoryOf(err)
	require.True(t, ok)
	assert.Equal(t, boterrors.ErrorCategoryConfiguration, category)
}

// TestParse_TagViolations lists every failing field
func TestParse_TagViolations(t *testing.T) {
	_, err := Parse([]byte(minimalYAML + `
  interval: 2h
exchange:
  mode: sandbox
risk:
  max_risk_per_trade: 1.5
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot.interval must be one of")
	assert.Contains(t, err.Error(), "exchange.mode must be one of: paper, live")
	assert.Contains(t, err.Error(), "risk.max_risk_per_trade must be less than or equal to 1")
}

// TestParse_CrossFieldRules checks the thresholds ordering
func TestParse_CrossFieldRules(t *testing.T) {
	_, err := Parse([]byte(minimalYAML + `
strategy:
  oversold: 75
  overbought: 70
`))
	require.Error(t, err)
}

// TestParse_LiveNeedsCredentials rejects live mode without API keys
func TestParse_LiveNeedsCredentials(t *testing.T) {
	_, err := Parse([]byte(minimalYAML + `
exchange:
  mode: live
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key and api_secret are required")

	c, err := Parse([]byte(minimalYAML + `
exchange:
  mode: live
  bybit:
    api_key: k
    api_secret: s
`))
	require.NoError(t, err)
	assert.True(t, c.IsLive())
}

// TestParse_LiveShortNeedsLinear rejects shorts on a live spot account
func TestParse_LiveShortNeedsLinear(t *testing.T) {
	_, err := Parse([]byte(minimalYAML + `
  allow_short: true
exchange:
  mode: live
  bybit: {api_key: k, api_secret: s}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "linear")
}

// TestParse_RedisMarkerNeedsAddr requires an address for the redis backend
func TestParse_RedisMarkerNeedsAddr(t *testing.T) {
	_, err := Parse([]byte(minimalYAML + `
safety:
  marker_backend: redis
  redis:
    addr: ""
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "safety.redis.addr")
}

// TestParse_BadYAML surfaces the decode error
func TestParse_BadYAML(t *testing.T) {
	_, err := Parse([]byte("bot: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

// TestApplyEnv overrides secrets and deployment settings
func TestApplyEnv(t *testing.T) {
	c, err := decode([]byte(minimalYAML))
	require.NoError(t, err)

	require.NoError(t, c.ApplyEnv(envMap(map[string]string{
		"TRADING_MODE":       "live",
		"BYBIT_API_KEY":      "key",
		"BYBIT_API_SECRET":   "secret",
		"BYBIT_TESTNET":      "true",
		"SYMBOLS":            " solusdt, ,adausdt ",
		"LOG_LEVEL":          "debug",
		"AUDIT_DATABASE_URL": "postgres://bot@localhost/audit",
		"KILL_MARKER_PATH":   "/tmp/KILL",
		"STATE_PATH":         "",
	})))

	assert.Equal(t, ModeLive, c.Exchange.Mode)
	assert.Equal(t, "key", c.Exchange.Bybit.APIKey)
	assert.Equal(t, "secret", c.Exchange.Bybit.APISecret)
	assert.True(t, c.Exchange.Bybit.Testnet)
	assert.Equal(t, []string{"SOLUSDT", "ADAUSDT"}, c.Bot.Symbols)
	assert.Equal(t, "debug", c.Logger.Level)
	assert.Equal(t, "postgres://bot@localhost/audit", c.Audit.Postgres.DSN)
	assert.Equal(t, "/tmp/KILL", c.Safety.MarkerPath)
	assert.Equal(t, "data/state.json", c.State.Path, "empty values do not override")
	require.NoError(t, c.Validate())
}

// TestApplyEnv_BadBool reports the variable name
func TestApplyEnv_BadBool(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	err = c.ApplyEnv(envMap(map[string]string{"DRY_RUN": "maybe"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DRY_RUN")
}

// TestLoadWithEnv reads the file then the process environment
func TestLoadWithEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0644))

	t.Setenv("SYMBOLS", "XRPUSDT")
	t.Setenv("DRY_RUN", "1")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"XRPUSDT"}, c.Bot.Symbols)
	assert.True(t, c.Bot.DryRun)

	_, err = LoadWithEnv(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// TestLoad_ExampleConfig parses the shipped example
func TestLoad_ExampleConfig(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "configs", "config.example.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, c.Bot.Symbols)
	assert.Equal(t, ModePaper, c.Exchange.Mode)
}

// TestResolvePath maps bare names into configs/
func TestResolvePath(t *testing.T) {
	assert.Equal(t, filepath.Join("configs", "btc.yaml"), ResolvePath("btc"))
	assert.Equal(t, filepath.Join("configs", "btc.yml"), ResolvePath("btc.yml"))
	assert.Equal(t, "deploy/prod.yaml", ResolvePath("deploy/prod.yaml"))
	assert.Equal(t, "deploy/prod.yaml", ResolvePath("deploy/prod"))
}

// TestLoadUnvalidated tolerates a missing file and missing symbols
func TestLoadUnvalidated(t *testing.T) {
	t.Setenv("KILL_MARKER_PATH", "/tmp/ops/KILL")

	c, err := LoadUnvalidated(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, c.Bot.Symbols)
	assert.Equal(t, "/tmp/ops/KILL", c.Safety.MarkerPath)
	assert.Equal(t, "file", c.Safety.MarkerBackend)
}

// TestParse_ReplayPaperOnly rejects replay data in live mode
func TestParse_ReplayPaperOnly(t *testing.T) {
	c, err := Parse([]byte(minimalYAML + `
exchange:
  replay:
    data_dir: data
`))
	require.NoError(t, err)
	assert.Equal(t, "spot", c.Exchange.Replay.Category)

	_, err = Parse([]byte(minimalYAML + `
exchange:
  mode: live
  bybit: {api_key: k, api_secret: s}
  replay:
    data_dir: data
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "paper mode")
}
