// Package config loads the scalper configuration from an optional YAML file
// and SCALPER_* environment variables, and validates it once at startup.
// An inconsistent configuration is fatal; nothing is re-read at runtime.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"goldscalper/internal/indicator"
	"goldscalper/internal/portfolio"
	"goldscalper/internal/strategy"
)

// ErrInvalidConfiguration wraps every validation failure.
var ErrInvalidConfiguration = errors.New("config: invalid configuration")

// Config holds all application configuration.
type Config struct {
	Symbol      string        `mapstructure:"symbol" validate:"required"`
	BarInterval time.Duration `mapstructure:"bar_interval" validate:"gte=1s"`

	Indicators indicator.Config     `mapstructure:"indicators"`
	Strategy   strategy.Config      `mapstructure:"strategy"`
	Risk       portfolio.RiskLimits `mapstructure:"risk"`
	Feed       FeedConfig           `mapstructure:"feed"`
	Execution  ExecutionConfig      `mapstructure:"execution"`
	Session    SessionConfig        `mapstructure:"session"`
	Storage    StorageConfig        `mapstructure:"storage"`
	Server     ServerConfig         `mapstructure:"server"`
	Notify     NotifyConfig         `mapstructure:"notify"`
	LogLevel   string               `mapstructure:"log_level" validate:"oneof=debug info warn warning error"`

	settings map[string]interface{}
}

// FeedConfig selects where bars come from. "ws" aggregates live ticks from
// a websocket tick feed; "replay" plays stored bars back from SQLite.
type FeedConfig struct {
	Mode        string        `mapstructure:"mode" validate:"oneof=ws replay"`
	URL         string        `mapstructure:"url" validate:"omitempty,url"`
	ReplaySpeed float64       `mapstructure:"replay_speed" validate:"gte=0"`
	ReplayFrom  time.Duration `mapstructure:"replay_from" validate:"gte=0"` // lookback from now; 0 = everything
}

// ExecutionConfig selects and tunes the execution gateway.
type ExecutionConfig struct {
	Mode           string          `mapstructure:"mode" validate:"oneof=paper"`
	Timeout        time.Duration   `mapstructure:"timeout" validate:"gt=0"`
	PendingTimeout time.Duration   `mapstructure:"pending_timeout" validate:"gt=0"`
	SlippagePoints int64           `mapstructure:"slippage_points" validate:"gte=0"`
	InitialEquity  decimal.Decimal `mapstructure:"initial_equity"`
}

// SessionConfig controls session identity and resumption.
type SessionConfig struct {
	ID         string `mapstructure:"id"` // empty = generate
	Resume     bool   `mapstructure:"resume"`
	WarmupBars int    `mapstructure:"warmup_bars" validate:"gte=0"`
}

// StorageConfig locates the bar store, trade journal and session store.
type StorageConfig struct {
	SQLitePath    string `mapstructure:"sqlite_path" validate:"required"`
	JournalPath   string `mapstructure:"journal_path" validate:"required"`
	RedisAddr     string `mapstructure:"redis_addr"` // empty disables Redis
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" validate:"gte=0"`
	EventChannel  string `mapstructure:"event_channel"`
}

// ServerConfig holds listen addresses. Empty disables the server.
type ServerConfig struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
	APIAddr     string `mapstructure:"api_addr"`
	WSAddr      string `mapstructure:"ws_addr"`
}

// NotifyConfig configures alert channels. Empty disables the channel.
type NotifyConfig struct {
	TelegramToken  string `mapstructure:"telegram_token"`
	TelegramChatID string `mapstructure:"telegram_chat_id"`
	WebhookURL     string `mapstructure:"webhook_url" validate:"omitempty,url"`
	// WebhookMinLevel drops quieter alerts from the webhook only.
	WebhookMinLevel string `mapstructure:"webhook_min_level" validate:"oneof=INFO WARNING CRITICAL"`
}

// Load reads configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SCALPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			decimalHook(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("%w: parsing config failed: %v", ErrInvalidConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.settings = v.AllSettings()
	return &cfg, nil
}

// Default returns the built-in configuration without reading any source.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("symbol", "XAUUSD")
	v.SetDefault("bar_interval", "5s")
	v.SetDefault("log_level", "info")

	ind := indicator.DefaultConfig()
	v.SetDefault("indicators.rsi_period", ind.RSIPeriod)
	v.SetDefault("indicators.stoch_k_period", ind.StochKPeriod)
	v.SetDefault("indicators.stoch_d_period", ind.StochDPeriod)
	v.SetDefault("indicators.atr_period", ind.ATRPeriod)
	v.SetDefault("indicators.ma_period", ind.MAPeriod)
	v.SetDefault("indicators.ma_type", ind.MAType)
	v.SetDefault("indicators.slope_lookback", ind.SlopeLookback)
	v.SetDefault("indicators.slope_deadband_points", ind.SlopeDeadbandPoints)

	st := strategy.DefaultConfig()
	v.SetDefault("strategy.rsi_oversold", st.RSIOversold)
	v.SetDefault("strategy.rsi_overbought", st.RSIOverbought)
	v.SetDefault("strategy.max_concurrent_positions", st.MaxConcurrentPositions)
	v.SetDefault("strategy.max_spread_points", st.MaxSpreadPoints)
	v.SetDefault("strategy.default_lot_size", st.DefaultLotSize.String())
	v.SetDefault("strategy.stop_loss_points", st.StopLossPoints)
	v.SetDefault("strategy.take_profit_mode", st.TakeProfitMode)
	v.SetDefault("strategy.take_profit_points", st.TakeProfitPoints)
	v.SetDefault("strategy.take_profit_atr_multiple", st.TakeProfitATRMultiple)
	v.SetDefault("strategy.min_take_profit_points", st.MinTakeProfitPoints)
	v.SetDefault("strategy.max_take_profit_points", st.MaxTakeProfitPoints)
	v.SetDefault("strategy.break_even_trigger_points", st.BreakEvenTriggerPoints)
	v.SetDefault("strategy.partial_close_trigger_points", st.PartialCloseTriggerPoints)
	v.SetDefault("strategy.partial_close_fraction", st.PartialCloseFraction.String())
	v.SetDefault("strategy.trail_atr_multiplier", st.TrailATRMultiplier)
	v.SetDefault("strategy.entry_cooldown", st.EntryCooldown.String())
	v.SetDefault("strategy.loss_cooldown", st.LossCooldown.String())
	v.SetDefault("strategy.max_hold_time", st.MaxHoldTime.String())
	v.SetDefault("strategy.max_adverse_excursion_points", st.MaxAdverseExcursionPoints)

	v.SetDefault("risk.risk_percent", 0)
	v.SetDefault("risk.max_daily_loss", "0")
	v.SetDefault("risk.max_drawdown_pct", 0)

	v.SetDefault("feed.mode", "ws")
	v.SetDefault("feed.url", "ws://localhost:9001/ws")
	v.SetDefault("feed.replay_speed", 0)
	v.SetDefault("feed.replay_from", "0s")

	v.SetDefault("execution.mode", "paper")
	v.SetDefault("execution.timeout", "5s")
	v.SetDefault("execution.pending_timeout", "30s")
	v.SetDefault("execution.slippage_points", 0)
	v.SetDefault("execution.initial_equity", "10000")

	v.SetDefault("session.id", "")
	v.SetDefault("session.resume", false)
	v.SetDefault("session.warmup_bars", 0)

	v.SetDefault("storage.sqlite_path", "data/bars.db")
	v.SetDefault("storage.journal_path", "data/journal.db")
	v.SetDefault("storage.redis_addr", "")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.event_channel", "scalper:events")

	v.SetDefault("server.metrics_addr", ":9090")
	v.SetDefault("server.api_addr", ":8080")
	v.SetDefault("server.ws_addr", "")

	v.SetDefault("notify.telegram_token", "")
	v.SetDefault("notify.telegram_chat_id", "")
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.webhook_min_level", "INFO")
}

// Validate checks field rules and the relations between fields. Every
// failure wraps ErrInvalidConfiguration.
func (c *Config) Validate() error {
	var errs []error
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
		} else {
			errs = append(errs, err)
		}
	}
	if err := c.Strategy.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Execution.InitialEquity.IsNegative() {
		errs = append(errs, fmt.Errorf("execution.initial_equity %s is negative", c.Execution.InitialEquity))
	}
	if c.Risk.MaxDailyLoss.IsNegative() {
		errs = append(errs, fmt.Errorf("risk.max_daily_loss %s is negative", c.Risk.MaxDailyLoss))
	}
	if c.Risk.RiskPercent > 0 && !c.Execution.InitialEquity.IsPositive() {
		errs = append(errs, errors.New("risk.risk_percent needs a positive execution.initial_equity"))
	}
	if c.Feed.Mode == "ws" && c.Feed.URL == "" {
		errs = append(errs, errors.New("feed.url is required in ws mode"))
	}
	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		errs = append(errs, errors.New("notify.telegram_chat_id is required with a telegram token"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfiguration, errors.Join(errs...))
}

var secretKeys = map[string]bool{
	"telegram_token": true,
	"redis_password": true,
}

// YAML renders the effective settings, defaults and overrides included,
// with secrets masked.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(redact(c.settings))
}

func redact(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]interface{}:
			out[k] = redact(val)
		case string:
			if secretKeys[k] && val != "" {
				out[k] = "***"
			} else {
				out[k] = val
			}
		default:
			out[k] = v
		}
	}
	return out
}

// decimalHook decodes strings and numbers into decimal.Decimal.
func decimalHook() mapstructure.DecodeHookFuncType {
	target := reflect.TypeOf(decimal.Decimal{})
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != target {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				return decimal.Zero, nil
			}
			return decimal.NewFromString(strings.TrimSpace(v))
		case float64:
			return decimal.NewFromFloat(v), nil
		case float32:
			return decimal.NewFromFloat32(v), nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		}
		return data, nil
	}
}
