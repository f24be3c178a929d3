package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"trendrider/indicators"
	"trendrider/internal/constants"
	"trendrider/models"
	"trendrider/order"
	"trendrider/risk"
	"trendrider/strategy"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds application configuration. It is loaded once and never
// reloaded.
type Config struct {
	// Exchange
	APIKey       string `mapstructure:"api_key"`
	APISecret    string `mapstructure:"api_secret"`
	DemoRESTHost string `mapstructure:"rest_host"`
	RecvWindow   string `mapstructure:"recv_window"`
	AccountType  string `mapstructure:"account_type"`
	Coin         string `mapstructure:"coin"`

	// Market
	Symbol       string        `mapstructure:"symbol"`
	Interval     string        `mapstructure:"interval"`
	CandleLimit  int           `mapstructure:"candle_limit"`
	ObDepth      int           `mapstructure:"book_depth"`
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// Indicator periods
	EMAPeriod    int `mapstructure:"ema_period"`
	MACDFast     int `mapstructure:"macd_fast"`
	MACDSlow     int `mapstructure:"macd_slow"`
	MACDSignal   int `mapstructure:"macd_signal"`
	RSIPeriod    int `mapstructure:"rsi_period"`
	ATRPeriod    int `mapstructure:"atr_period"`
	ADXPeriod    int `mapstructure:"adx_period"`
	VolumePeriod int `mapstructure:"volume_period"`

	// Signal thresholds
	RSIHigh         float64 `mapstructure:"rsi_overbought"`
	RSILow          float64 `mapstructure:"rsi_oversold"`
	VolumeSpikeMult float64 `mapstructure:"volume_multiplier"`
	MinADX          float64 `mapstructure:"min_adx"`
	ExitADX         float64 `mapstructure:"exit_adx"`

	// Risk
	RiskPerTrade   float64 `mapstructure:"risk_per_trade"`
	AtrSLMult      float64 `mapstructure:"atr_sl_mult"`
	AtrTPMult      float64 `mapstructure:"atr_tp_mult"`
	MaxPositions   int     `mapstructure:"max_positions"`
	MinRewardRisk  float64 `mapstructure:"min_reward_risk"`
	MaxNotionalPct float64 `mapstructure:"max_notional_pct"`

	// Trailing
	EnableTrailing   bool    `mapstructure:"trailing"`
	TrailActivationR float64 `mapstructure:"trail_activation_r"`
	TrailADXScaling  bool    `mapstructure:"trail_adx_scaling"`

	// Order retries
	RetryMaxAttempts int           `mapstructure:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
	RetryMultiplier  float64       `mapstructure:"retry_multiplier"`
	RetryMaxDelay    time.Duration `mapstructure:"retry_max_delay"`
	RetryMaxElapsed  time.Duration `mapstructure:"retry_max_elapsed"`

	// Paper trading
	DryRun      bool    `mapstructure:"dry_run"`
	PaperEquity float64 `mapstructure:"paper_equity"`

	// Persistence: sqlite, postgres, redis or none
	StoreDriver   string `mapstructure:"store_driver"`
	StoreDSN      string `mapstructure:"store_dsn"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`

	// Telegram
	TelegramEnabled bool   `mapstructure:"telegram_enabled"`
	TelegramToken   string `mapstructure:"telegram_token"`
	TelegramChatID  int64  `mapstructure:"telegram_chat_id"`

	// Status server ("off" disables it)
	StatusAddr string `mapstructure:"status_addr"`

	// Logging configuration
	LogFile       string `mapstructure:"log_file"`
	LogMaxSize    int    `mapstructure:"log_max_size"`    // megabytes
	LogMaxBackups int    `mapstructure:"log_max_backups"` // number of files
	LogMaxAge     int    `mapstructure:"log_max_age"`     // days
	LogCompress   bool   `mapstructure:"log_compress"`
	LogLevel      string `mapstructure:"log_level"`

	// Daemon configuration
	PIDFile string `mapstructure:"pid_file"`
}

var defaults = map[string]any{
	"rest_host":    "https://api-demo.bybit.com",
	"recv_window":  "5000",
	"account_type": "UNIFIED",
	"coin":         "USDT",

	"symbol":        "BTCUSDT",
	"interval":      constants.Minute15,
	"candle_limit":  300,
	"book_depth":    constants.DefaultBookDepth,
	"poll_interval": "1m",

	"ema_period":    constants.DefaultEMAPeriod,
	"macd_fast":     constants.DefaultMACDFast,
	"macd_slow":     constants.DefaultMACDSlow,
	"macd_signal":   constants.DefaultMACDSignal,
	"rsi_period":    constants.DefaultRSIPeriod,
	"atr_period":    constants.DefaultATRPeriod,
	"adx_period":    constants.DefaultADXPeriod,
	"volume_period": constants.DefaultVolumePeriod,

	"rsi_overbought":    constants.DefaultRSIOverbought,
	"rsi_oversold":      constants.DefaultRSIOversold,
	"volume_multiplier": constants.DefaultVolumeMultiplier,
	"min_adx":           constants.DefaultMinADX,
	"exit_adx":          constants.DefaultExitADX,

	"risk_per_trade":   constants.DefaultRiskFraction,
	"atr_sl_mult":      constants.DefaultSLAtrMultiplier,
	"atr_tp_mult":      constants.DefaultTPAtrMultiplier,
	"max_positions":    1,
	"min_reward_risk":  constants.DefaultMinRewardRisk,
	"max_notional_pct": 0.0,

	"trailing":           true,
	"trail_activation_r": constants.DefaultTrailActivationR,
	"trail_adx_scaling":  false,

	"retry_max_attempts": 4,
	"retry_base_delay":   "500ms",
	"retry_multiplier":   2.0,
	"retry_max_delay":    "8s",
	"retry_max_elapsed":  "30s",

	"dry_run":      false,
	"paper_equity": 10000.0,

	"store_driver":   "sqlite",
	"store_dsn":      "trendrider.db",
	"redis_addr":     "127.0.0.1:6379",
	"redis_password": "",
	"redis_db":       0,
	"redis_prefix":   "trendrider",

	"telegram_enabled": false,
	"telegram_token":   "",
	"telegram_chat_id": 0,

	"status_addr": "127.0.0.1:6061",

	"log_file":        "logs/trendrider.log",
	"log_max_size":    10,
	"log_max_backups": 5,
	"log_max_age":     30,
	"log_compress":    true,
	"log_level":       "info",

	"pid_file": "trendrider.pid",
}

// envAliases are the historical variable names accepted besides the
// upper-cased keys.
var envAliases = map[string][]string{
	"api_key":          {"BYBIT_API_KEY"},
	"api_secret":       {"BYBIT_API_SECRET"},
	"rest_host":        {"BYBIT_REST_HOST", "BYBIT_DEMO_REST_HOST"},
	"symbol":           {"TRADING_SYMBOL"},
	"risk_per_trade":   {"RISK_PER_TRADE"},
	"telegram_token":   {"TELEGRAM_BOT_TOKEN"},
	"telegram_chat_id": {"TELEGRAM_CHAT_ID"},
	"log_file":         {"LOG_FILE"},
	"status_addr":      {"STATUS_ADDR"},
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		_ = v.BindEnv(append([]string{key, strings.ToUpper(key)}, names...)...)
	}
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// LoadConfig returns the defaults overridden by environment variables. It
// does not validate.
func LoadConfig() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		return &Config{}
	}
	return cfg
}

// Load reads .env (optional), then the YAML file at path (optional when
// empty), then the environment, and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidConfig)
	}
	if !c.DryRun && (c.APIKey == "" || c.APISecret == "") {
		return fmt.Errorf("%w: api_key and api_secret are required unless dry_run is set", ErrInvalidConfig)
	}
	if err := c.Periods().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := risk.Validate(c.RiskParameters()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.AtrTPMult < c.AtrSLMult {
		return fmt.Errorf("%w: atr_tp_mult %.2f gives reward:risk below 1", ErrInvalidConfig, c.AtrTPMult)
	}
	if c.CandleLimit < c.Periods().Warmup() {
		return fmt.Errorf("%w: candle_limit %d below indicator warm-up %d", ErrInvalidConfig, c.CandleLimit, c.Periods().Warmup())
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll_interval must be positive", ErrInvalidConfig)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("%w: retry_max_attempts must be at least 1", ErrInvalidConfig)
	}
	if c.TelegramEnabled && (c.TelegramToken == "" || c.TelegramChatID == 0) {
		return fmt.Errorf("%w: telegram_token and telegram_chat_id are required when telegram is enabled", ErrInvalidConfig)
	}
	switch c.StoreDriver {
	case "sqlite", "postgres", "redis", "none":
	default:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	}
	if c.DryRun && c.PaperEquity <= 0 {
		return fmt.Errorf("%w: paper_equity must be positive in dry run", ErrInvalidConfig)
	}
	return nil
}

// RiskParameters projects the risk section.
func (c *Config) RiskParameters() models.RiskParameters {
	return models.RiskParameters{
		RiskFraction:        c.RiskPerTrade,
		StopMultiplier:      c.AtrSLMult,
		TargetMultiplier:    c.AtrTPMult,
		MaxPositions:        c.MaxPositions,
		MinRewardRisk:       c.MinRewardRisk,
		MaxNotionalFraction: c.MaxNotionalPct,
		TrailADXScaling:     c.TrailADXScaling,
	}
}

// Periods projects the indicator periods.
func (c *Config) Periods() indicators.Periods {
	return indicators.Periods{
		EMA:        c.EMAPeriod,
		MACDFast:   c.MACDFast,
		MACDSlow:   c.MACDSlow,
		MACDSignal: c.MACDSignal,
		RSI:        c.RSIPeriod,
		ATR:        c.ATRPeriod,
		ADX:        c.ADXPeriod,
		Volume:     c.VolumePeriod,
	}
}

// Thresholds projects the signal thresholds.
func (c *Config) Thresholds() strategy.Thresholds {
	return strategy.Thresholds{
		RSIOverbought:    c.RSIHigh,
		RSIOversold:      c.RSILow,
		VolumeMultiplier: c.VolumeSpikeMult,
		MinADX:           c.MinADX,
		ExitADX:          c.ExitADX,
	}
}

// RetryPolicy projects the order retry settings.
func (c *Config) RetryPolicy() order.RetryPolicy {
	return order.RetryPolicy{
		MaxAttempts: c.RetryMaxAttempts,
		BaseDelay:   c.RetryBaseDelay,
		Multiplier:  c.RetryMultiplier,
		MaxDelay:    c.RetryMaxDelay,
		MaxElapsed:  c.RetryMaxElapsed,
	}
}
