package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Entry policy selects which filters gate a buy signal. The market-only
// policy uses the BTC trend filter alone; market_and_symbol additionally
// requires the symbol's own close above its short EMA.
const (
	EntryPolicyMarket          = "market"
	EntryPolicyMarketAndSymbol = "market_and_symbol"
)

type Config struct {
	Symbols []string `yaml:"symbols"`

	Strategy struct {
		ShortWindow  int     `yaml:"short_window"`
		FilterWindow int     `yaml:"filter_window"`
		NoiseRatio   float64 `yaml:"noise_ratio"`
		EntryPolicy  string  `yaml:"entry_policy"`
		ResetHour    int     `yaml:"reset_hour"`
	} `yaml:"strategy"`

	Trading struct {
		MinOrderKRW           float64       `yaml:"min_order_krw"`
		LateEntryPct          float64       `yaml:"late_entry_pct"`
		CheckInterval         time.Duration `yaml:"check_interval"`
		OrderDelay            time.Duration `yaml:"order_delay"`
		ZeroBalanceRetryLimit int           `yaml:"zero_balance_retry_limit"`
		BuyBlockCooldown      time.Duration `yaml:"buy_block_cooldown"`
		PendingBuyTimeout     time.Duration `yaml:"pending_buy_timeout"`
	} `yaml:"trading"`

	Exchange struct {
		RESTEndpoint string `yaml:"rest_endpoint"`
		WSEndpoint   string `yaml:"ws_endpoint"`
	} `yaml:"exchange"`

	DataDir string `yaml:"data_dir"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`

	Metrics struct {
		Port int `yaml:"port"`
	} `yaml:"metrics"`
}

// Account holds one set of exchange credentials. Accounts trade
// independently and never share persisted state.
type Account struct {
	Name      string
	AccessKey string
	SecretKey string
}

// Secrets are process-wide credentials taken from the environment.
type Secrets struct {
	TelegramToken  string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID string `envconfig:"TELEGRAM_CHAT_ID"`
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := defaults()
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Strategy.ShortWindow = 5
	cfg.Strategy.FilterWindow = 20
	cfg.Strategy.NoiseRatio = 0.5
	cfg.Strategy.EntryPolicy = EntryPolicyMarketAndSymbol
	cfg.Strategy.ResetHour = 9
	cfg.Trading.MinOrderKRW = 5000
	cfg.Trading.LateEntryPct = 1.0
	cfg.Trading.CheckInterval = time.Second
	cfg.Trading.OrderDelay = 200 * time.Millisecond
	cfg.Trading.ZeroBalanceRetryLimit = 3
	cfg.Trading.BuyBlockCooldown = 5 * time.Minute
	cfg.Trading.PendingBuyTimeout = 30 * time.Minute
	cfg.Exchange.RESTEndpoint = "https://api.upbit.com"
	cfg.Exchange.WSEndpoint = "wss://api.upbit.com/websocket/v1"
	cfg.DataDir = "data"
	cfg.Logging.Level = "info"
	return cfg
}

// Validate rejects configurations the bot cannot trade with. Failures here
// are fatal at startup.
func (c *Config) Validate() error {
	var errs []string
	if len(c.Symbols) == 0 {
		errs = append(errs, "symbols cannot be empty")
	}
	for _, s := range c.Symbols {
		if s == "" || strings.ContainsAny(s, " -") {
			errs = append(errs, fmt.Sprintf("invalid symbol %q", s))
		}
	}
	if c.Strategy.ShortWindow < 1 {
		errs = append(errs, fmt.Sprintf("short_window must be >= 1, got %d", c.Strategy.ShortWindow))
	}
	if c.Strategy.FilterWindow < 1 {
		errs = append(errs, fmt.Sprintf("filter_window must be >= 1, got %d", c.Strategy.FilterWindow))
	}
	if c.Strategy.NoiseRatio <= 0 || c.Strategy.NoiseRatio > 1 {
		errs = append(errs, fmt.Sprintf("noise_ratio must be in (0, 1], got %g", c.Strategy.NoiseRatio))
	}
	switch c.Strategy.EntryPolicy {
	case EntryPolicyMarket, EntryPolicyMarketAndSymbol:
	default:
		errs = append(errs, fmt.Sprintf("entry_policy must be %q or %q, got %q",
			EntryPolicyMarket, EntryPolicyMarketAndSymbol, c.Strategy.EntryPolicy))
	}
	if c.Strategy.ResetHour < 0 || c.Strategy.ResetHour > 23 {
		errs = append(errs, fmt.Sprintf("reset_hour must be in [0, 23], got %d", c.Strategy.ResetHour))
	}
	if c.Trading.MinOrderKRW <= 0 {
		errs = append(errs, "min_order_krw must be positive")
	}
	if c.Trading.ZeroBalanceRetryLimit < 1 {
		errs = append(errs, fmt.Sprintf("zero_balance_retry_limit must be >= 1, got %d", c.Trading.ZeroBalanceRetryLimit))
	}
	if c.Trading.CheckInterval <= 0 {
		errs = append(errs, "check_interval must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// LoadEnv reads a .env file if present and resolves secrets plus account
// credential triplets (ACCOUNT_N_NAME / ACCOUNT_N_ACCESS_KEY /
// ACCOUNT_N_SECRET_KEY, N starting at 1). The first incomplete triplet
// stops the scan.
func LoadEnv() (*Secrets, []Account, error) {
	_ = godotenv.Load()

	var sec Secrets
	if err := envconfig.Process("", &sec); err != nil {
		return nil, nil, err
	}

	var accounts []Account
	for i := 1; ; i++ {
		name := os.Getenv(fmt.Sprintf("ACCOUNT_%d_NAME", i))
		access := os.Getenv(fmt.Sprintf("ACCOUNT_%d_ACCESS_KEY", i))
		secret := os.Getenv(fmt.Sprintf("ACCOUNT_%d_SECRET_KEY", i))
		if name == "" || access == "" || secret == "" {
			break
		}
		accounts = append(accounts, Account{Name: name, AccessKey: access, SecretKey: secret})
	}
	if len(accounts) == 0 {
		return nil, nil, fmt.Errorf("no accounts configured (ACCOUNT_1_NAME missing)")
	}
	return &sec, accounts, nil
}
