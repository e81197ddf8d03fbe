package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"btcalerts/internal/marketdata/agg"
	"btcalerts/internal/model"
)

// Config holds all application configuration, read from the environment
// (and an optional .env file) by Load.
type Config struct {
	// Instrument and upstream endpoints
	Symbol      string
	FeedURL     string
	RESTURL     string
	Bootstrap   bool
	StagingMode bool // use SimWSURL (cmd/tickserver) instead of FeedURL
	SimWSURL    string

	// Candles and indicators
	EnabledTFs     string // comma-separated seconds or labels, e.g. "60,1800" or "1m,30m"
	MaxCandles     int
	CandleAlign    string // bucket | tick
	StaleTolerance time.Duration
	EvalInterval   time.Duration
	MinCandles     int
	PricePrecision int

	// Alerts
	DefaultThresholdPct float64
	PriceAlertTolerance float64
	AlertRulesFile      string

	// Notification sinks (each enabled when set)
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string

	// Infrastructure
	HTTPAddr      string
	MetricsAddr   string
	RedisAddr     string // empty disables the Redis publisher
	RedisPassword string
	RedisDB       int
	SQLitePath    string // empty disables the alert journal

	LogLevel string
}

// Load reads configuration from .env (if present) and the environment.
func Load() *Config {
	return load(".env")
}

func load(envFile string) *Config {
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	_ = v.ReadInConfig()
	v.AutomaticEnv()
	setDefaults(v)

	return &Config{
		Symbol:      strings.ToUpper(v.GetString("SYMBOL")),
		FeedURL:     v.GetString("FEED_URL"),
		RESTURL:     v.GetString("REST_URL"),
		Bootstrap:   v.GetBool("BOOTSTRAP"),
		StagingMode: v.GetBool("STAGING_MODE"),
		SimWSURL:    v.GetString("SIM_WS_URL"),

		EnabledTFs:     v.GetString("ENABLED_TFS"),
		MaxCandles:     v.GetInt("MAX_CANDLES"),
		CandleAlign:    v.GetString("CANDLE_ALIGN"),
		StaleTolerance: v.GetDuration("STALE_TOLERANCE"),
		EvalInterval:   v.GetDuration("EVAL_INTERVAL"),
		MinCandles:     v.GetInt("MIN_CANDLES"),
		PricePrecision: v.GetInt("PRICE_PRECISION"),

		DefaultThresholdPct: v.GetFloat64("DEFAULT_THRESHOLD_PCT"),
		PriceAlertTolerance: v.GetFloat64("PRICE_ALERT_TOLERANCE"),
		AlertRulesFile:      v.GetString("ALERT_RULES_FILE"),

		TelegramBotToken: v.GetString("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   v.GetString("TELEGRAM_CHAT_ID"),
		WebhookURL:       v.GetString("WEBHOOK_URL"),

		HTTPAddr:      v.GetString("HTTP_ADDR"),
		MetricsAddr:   v.GetString("METRICS_ADDR"),
		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),
		SQLitePath:    v.GetString("SQLITE_PATH"),

		LogLevel: v.GetString("LOG_LEVEL"),
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SYMBOL", "BTCUSDT")
	v.SetDefault("FEED_URL", "wss://fstream.binance.com/ws/btcusdt@aggTrade")
	v.SetDefault("REST_URL", "https://api.binance.com")
	v.SetDefault("BOOTSTRAP", true)
	v.SetDefault("STAGING_MODE", false)
	v.SetDefault("SIM_WS_URL", "ws://localhost:9001/ws")

	// Default TFs: 1m, 30m, 1h, 4h
	v.SetDefault("ENABLED_TFS", "60,1800,3600,14400")
	v.SetDefault("MAX_CANDLES", 250)
	v.SetDefault("CANDLE_ALIGN", "bucket")
	v.SetDefault("STALE_TOLERANCE", "2s")
	v.SetDefault("EVAL_INTERVAL", "1s")
	v.SetDefault("MIN_CANDLES", 20)
	v.SetDefault("PRICE_PRECISION", 2)

	v.SetDefault("DEFAULT_THRESHOLD_PCT", 0.1)
	v.SetDefault("PRICE_ALERT_TOLERANCE", 0.001)

	v.SetDefault("HTTP_ADDR", ":5001")
	v.SetDefault("METRICS_ADDR", ":9090")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("LOG_LEVEL", "info")
}

// ParseTFs parses EnabledTFs into timeframes, keeping order and dropping duplicates.
func (c *Config) ParseTFs() ([]model.Timeframe, error) {
	seen := make(map[int]bool)
	var tfs []model.Timeframe
	for _, p := range strings.Split(c.EnabledTFs, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		tf, err := model.ParseTimeframe(p)
		if err != nil {
			return nil, fmt.Errorf("config: ENABLED_TFS: %w", err)
		}
		if seen[tf.Seconds] {
			continue
		}
		seen[tf.Seconds] = true
		tfs = append(tfs, tf)
	}
	if len(tfs) == 0 {
		return nil, errors.New("config: ENABLED_TFS is empty")
	}
	return tfs, nil
}

// TradeFeedURL returns the simulator URL in staging mode, the exchange feed otherwise.
func (c *Config) TradeFeedURL() string {
	if c.StagingMode {
		return c.SimWSURL
	}
	return c.FeedURL
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Symbol == "" {
		errs = append(errs, errors.New("SYMBOL is empty"))
	}
	if _, err := c.ParseTFs(); err != nil {
		errs = append(errs, err)
	}
	if c.MaxCandles < 1 {
		errs = append(errs, fmt.Errorf("MAX_CANDLES must be >= 1, got %d", c.MaxCandles))
	}
	if _, err := agg.ParseAlignment(c.CandleAlign); err != nil {
		errs = append(errs, err)
	}
	if c.StaleTolerance < 0 {
		errs = append(errs, fmt.Errorf("STALE_TOLERANCE must not be negative, got %s", c.StaleTolerance))
	}
	if c.EvalInterval <= 0 {
		errs = append(errs, fmt.Errorf("EVAL_INTERVAL must be positive, got %s", c.EvalInterval))
	}
	if c.MinCandles < 1 {
		errs = append(errs, fmt.Errorf("MIN_CANDLES must be >= 1, got %d", c.MinCandles))
	}
	if c.DefaultThresholdPct < 0 {
		errs = append(errs, fmt.Errorf("DEFAULT_THRESHOLD_PCT must not be negative, got %v", c.DefaultThresholdPct))
	}
	if c.PriceAlertTolerance < 0 {
		errs = append(errs, fmt.Errorf("PRICE_ALERT_TOLERANCE must not be negative, got %v", c.PriceAlertTolerance))
	}
	if c.TradeFeedURL() == "" {
		errs = append(errs, errors.New("trade feed URL is empty"))
	}
	if (c.TelegramBotToken == "") != (c.TelegramChatID == "") {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
