package bybit

import (
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"

	"github.com/ducminhle1904/rsi-momentum-bot/internal/exchange"
)

const demoBaseURL = "https://api-demo.bybit.com"

// Client adapts the Bybit v5 API to the exchange interfaces.
type Client struct {
	httpClient  *bybit_api.Client
	cfg         Config
	instruments *InstrumentManager
	now         func() time.Time
}

var (
	_ exchange.Exchange       = (*Client)(nil)
	_ exchange.OrderCanceller = (*Client)(nil)
)

// Config holds the configuration for the Bybit client
type Config struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`
	// Demo selects the demo trading environment.
	Demo bool `yaml:"demo"`
	// BaseURL overrides the environment endpoint.
	BaseURL     string `yaml:"base_url"`
	Category    string `yaml:"category" default:"spot" validate:"oneof=spot linear"`
	QuoteAsset  string `yaml:"quote_asset" default:"USDT"`
	AccountType string `yaml:"account_type" default:"UNIFIED"`
	// FillPollInterval and FillPollAttempts bound how long PlaceOrder waits for a fill report.
	FillPollInterval time.Duration `yaml:"fill_poll_interval" default:"250ms"`
	FillPollAttempts int           `yaml:"fill_poll_attempts" default:"8"`
}

// NewClient creates a new Bybit client
func NewClient(config Config) *Client {
	if config.Category == "" {
		config.Category = "spot"
	}
	if config.QuoteAsset == "" {
		config.QuoteAsset = "USDT"
	}
	if config.AccountType == "" {
		config.AccountType = "UNIFIED"
	}
	if config.FillPollInterval <= 0 {
		config.FillPollInterval = 250 * time.Millisecond
	}
	if config.FillPollAttempts <= 0 {
		config.FillPollAttempts = 8
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		switch {
		case config.Demo:
			baseURL = demoBaseURL
		case config.Testnet:
			baseURL = bybit_api.TESTNET
		default:
			baseURL = bybit_api.MAINNET
		}
	}

	c := &Client{
		httpClient: bybit_api.NewBybitHttpClient(
			config.APIKey,
			config.APISecret,
			bybit_api.WithBaseURL(baseURL),
		),
		cfg: config,
		now: time.Now,
	}
	c.instruments = NewInstrumentManager(c)
	return c
}

func (c *Client) GetName() string {
	return "bybit"
}

// GetEnvironment returns a string describing the current environment
func (c *Client) GetEnvironment() string {
	switch {
	case c.cfg.Demo:
		return "demo"
	case c.cfg.Testnet:
		return "testnet"
	default:
		return "mainnet"
	}
}

// Category is the product line orders are placed in.
func (c *Client) Category() string {
	return c.cfg.Category
}
