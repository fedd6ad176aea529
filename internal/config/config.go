package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ducminhle1904/rsi-momentum-bot/internal/audit"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/bot"
	boterrors "github.com/ducminhle1904/rsi-momentum-bot/internal/errors"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/exchange"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/exchange/bybit"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/logger"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/notifications"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/portfolio"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/risk"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/safety"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/state"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/strategy"
)

// Trading modes.
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Config is the complete bot configuration.
type Config struct {
	Bot        bot.Config           `yaml:"bot"`
	Strategy   strategy.Params      `yaml:"strategy"`
	Risk       risk.Limits          `yaml:"risk"`
	Safety     safety.Config        `yaml:"safety"`
	Exchange   ExchangeConfig       `yaml:"exchange"`
	Portfolio  portfolio.Config     `yaml:"portfolio"`
	Audit      AuditConfig          `yaml:"audit"`
	Alerts     notifications.Config `yaml:"alerts"`
	Logger     logger.Config        `yaml:"logger"`
	Monitoring MonitoringConfig     `yaml:"monitoring"`
	State      state.Config         `yaml:"state"`
}

// ExchangeConfig selects simulated or live execution. Market data comes
// from Bybit unless a paper run replays stored bars; in paper mode orders
// are filled locally.
type ExchangeConfig struct {
	Mode   string               `yaml:"mode" default:"paper" validate:"oneof=paper live"`
	Paper  exchange.PaperConfig `yaml:"paper"`
	Bybit  bybit.Config         `yaml:"bybit"`
	Replay ReplayConfig         `yaml:"replay"`
}

// ReplayConfig points a paper run at bars saved by fetch-bars.
type ReplayConfig struct {
	DataDir  string `yaml:"data_dir"`
	Category string `yaml:"category" default:"spot" validate:"oneof=spot linear"`
}

// AuditConfig enables the audit sinks. Both may be active at once.
type AuditConfig struct {
	// FilePath is the JSON-lines audit log; empty disables it.
	FilePath string               `yaml:"file_path" default:"logs/audit.jsonl"`
	Postgres audit.PostgresConfig `yaml:"postgres"`
}

// MonitoringConfig exposes /metrics and /health.
type MonitoringConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Addr    string `yaml:"addr" default:":9090"`
	// HealthMaxSilence marks the bot degraded when no cycle completed for this long.
	HealthMaxSilence time.Duration `yaml:"health_max_silence" default:"15m"`
	// StatusTable prints the status table to stdout after each cycle.
	StatusTable bool `yaml:"status_table"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Default returns a configuration with every default applied and no symbols.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("set config defaults: %w", err)
	}
	return &c, nil
}

// ResolvePath maps a bare name such as "btc" to configs/btc.yaml.
func ResolvePath(name string) string {
	if !strings.ContainsAny(name, "/\\") {
		name = filepath.Join("configs", name)
	}
	if ext := filepath.Ext(name); ext != ".yaml" && ext != ".yml" {
		name += ".yaml"
	}
	return name
}

// Load reads a YAML file on top of the defaults and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// LoadWithEnv loads the file and applies environment overrides before validating.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadUnvalidated reads the file, or only the defaults when it does not
// exist, and applies the environment. Operator tools that touch a single
// subsystem use it so an incomplete bot config does not block them.
func LoadUnvalidated(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return c, nil
}

// Parse decodes YAML on top of the defaults and validates it.
func Parse(b []byte) (*Config, error) {
	c, err := decode(b)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func decode(b []byte) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

// ApplyEnv overrides secrets and deployment settings from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("env %s: %w", key, err)
		}
		*dst = parsed
		return nil
	}

	str("TRADING_MODE", &c.Exchange.Mode)
	str("BYBIT_API_KEY", &c.Exchange.Bybit.APIKey)
	str("BYBIT_API_SECRET", &c.Exchange.Bybit.APISecret)
	if err := boolean("BYBIT_TESTNET", &c.Exchange.Bybit.Testnet); err != nil {
		return err
	}
	if err := boolean("BYBIT_DEMO", &c.Exchange.Bybit.Demo); err != nil {
		return err
	}
	if err := boolean("DRY_RUN", &c.Bot.DryRun); err != nil {
		return err
	}
	if v, ok := lookup("SYMBOLS"); ok && v != "" {
		c.Bot.Symbols = splitList(v)
	}
	str("LOG_LEVEL", &c.Logger.Level)
	str("AUDIT_DATABASE_URL", &c.Audit.Postgres.DSN)
	str("KILL_MARKER_PATH", &c.Safety.MarkerPath)
	str("REDIS_ADDR", &c.Safety.Redis.Addr)
	str("REDIS_PASSWORD", &c.Safety.Redis.Password)
	str("METRICS_ADDR", &c.Monitoring.Addr)
	str("STATE_PATH", &c.State.Path)
	str("TELEGRAM_BOT_TOKEN", &c.Alerts.Telegram.Token)
	str("TELEGRAM_CHAT_ID", &c.Alerts.Telegram.ChatID)
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, strings.ToUpper(s))
		}
	}
	return out
}

// Validate checks struct tags, then the rules that span fields.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return boterrors.NewConfigurationError("config", "validate", err)
	}
	return nil
}

func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	var errs []error
	if err := c.Strategy.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Risk.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Exchange.Mode == ModeLive {
		if c.Exchange.Bybit.APIKey == "" || c.Exchange.Bybit.APISecret == "" {
			errs = append(errs, errors.New("exchange.bybit api_key and api_secret are required in live mode"))
		}
	}
	if c.Bot.AllowShort && c.Exchange.Mode == ModeLive && c.Exchange.Bybit.Category == "spot" {
		errs = append(errs, errors.New("bot.allow_short requires the linear category in live mode"))
	}
	if c.Exchange.Replay.DataDir != "" && c.Exchange.Mode == ModeLive {
		errs = append(errs, errors.New("exchange.replay is only available in paper mode"))
	}
	if c.Safety.MarkerBackend == "redis" && c.Safety.Redis.Addr == "" {
		errs = append(errs, errors.New("safety.redis.addr is required for the redis marker backend"))
	}
	return errors.Join(errs...)
}

// IsLive reports whether orders go to the exchange.
func (c *Config) IsLive() bool {
	return c.Exchange.Mode == ModeLive
}

func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	msgs := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		msgs = append(msgs, fieldErrorMessage(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func fieldErrorMessage(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}
