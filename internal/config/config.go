package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"mkts/internal/market"
	"mkts/internal/presenter"
)

// Provider names accepted by the provider key
const (
	ProviderAlphaVantage = "alphavantage"
	ProviderYahoo        = "yahoo"
)

// DefaultSymbol is used when no symbol is given
const DefaultSymbol = "VOO"

// Default range lengths in days. Alpha Vantage only serves about the last
// 100 trading days to free keys.
const (
	DefaultDaysAlphaVantage = 100
	DefaultDaysYahoo        = 365
)

// DefaultDays returns the range length used when neither --from nor a
// non-zero days setting is given
func DefaultDays(provider string) int {
	if provider == ProviderAlphaVantage {
		return DefaultDaysAlphaVantage
	}
	return DefaultDaysYahoo
}

// Config holds all configuration for mkts.
type Config struct {
	Provider string `mapstructure:"provider"`

	// API key and base URLs (configurable for testing)
	AlphavantageAPIKey  string `mapstructure:"alphavantage_api_key"`
	AlphavantageBaseURL string `mapstructure:"alphavantage_base_url"`
	YahooBaseURL        string `mapstructure:"yahoo_base_url"`

	// Network budget
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RetryAttempts     int           `mapstructure:"retry_attempts"`
	RetryBaseDelay    time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay     time.Duration `mapstructure:"retry_max_delay"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute"`
	Concurrency       int           `mapstructure:"concurrency"`

	// Cache
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	CacheCapacity int           `mapstructure:"cache_capacity"`
	CachePath     string        `mapstructure:"cache_path"`

	// Metrics windows
	SMAWindow      int     `mapstructure:"sma_window"`
	EMAWindow      int     `mapstructure:"ema_window"`
	VolWindow      int     `mapstructure:"vol_window"`
	PeriodsPerYear float64 `mapstructure:"periods_per_year"`

	// Request and output
	Symbols  []string `mapstructure:"symbols"`
	From     string   `mapstructure:"from"`
	To       string   `mapstructure:"to"`
	Days     int      `mapstructure:"days"`
	Format   string   `mapstructure:"format"`
	Watch    string   `mapstructure:"watch"`
	LogLevel string   `mapstructure:"log_level"`
}

// flagKeys maps command-line flags onto configuration keys
var flagKeys = map[string]string{
	"provider":    "provider",
	"from":        "from",
	"to":          "to",
	"days":        "days",
	"format":      "format",
	"sma":         "sma_window",
	"ema":         "ema_window",
	"vol-window":  "vol_window",
	"cache":       "cache_path",
	"cache-ttl":   "cache_ttl",
	"concurrency": "concurrency",
	"watch":       "watch",
	"log-level":   "log_level",
	"timeout":     "request_timeout",
}

// NewFlagSet defines the command-line flags Load understands
func NewFlagSet(name string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.String("provider", ProviderAlphaVantage, "quote provider: alphavantage or yahoo")
	flags.String("from", "", "first date of the range (YYYY-MM-DD)")
	flags.String("to", "", "last date of the range (YYYY-MM-DD, default today)")
	flags.Int("days", 0, "range length in days when --from is not given (default 100 for alphavantage, 365 for yahoo)")
	flags.StringP("format", "f", string(presenter.FormatTable), "output format: table, json, yaml or csv")
	flags.Int("sma", 20, "simple moving average window")
	flags.Int("ema", 20, "exponential moving average window")
	flags.Int("vol-window", 20, "realized volatility window, in returns")
	flags.String("cache", "", "path of the on-disk cache (empty keeps the cache in memory)")
	flags.Duration("cache-ttl", 24*time.Hour, "how long a cached series stays fresh")
	flags.Int("concurrency", 4, "symbols processed at once")
	flags.String("watch", "", "re-run on a cron schedule, e.g. \"@every 1m\" or \"*/30 * * * * *\"")
	flags.String("log-level", "warn", "log level: debug, info, warn or error")
	flags.Duration("timeout", 10*time.Second, "per-request timeout")
	flags.String("config", "", "config file (default ./config.yaml or $HOME/.mkts/config.yaml)")
	return flags
}

// Load reads configuration from, in increasing precedence: defaults, an
// optional config file, a .env file, environment variables and the flags
// that were explicitly set. Positional arguments become the symbols.
//
// Environment variables use the MKTS_ prefix (MKTS_PROVIDER,
// MKTS_CACHE_TTL, ...). The API key is also read from ALPHAVANTAGE_API_KEY.
func Load(flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()

	v.SetEnvPrefix("MKTS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	v.SetConfigType("yaml")
	configFile := ""
	if flags != nil {
		configFile, _ = flags.GetString("config")
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.mkts")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}
	if used := v.ConfigFileUsed(); used != "" {
		slog.Debug("config file loaded", "path", used)
	}

	v.BindEnv("alphavantage_api_key", "MKTS_ALPHAVANTAGE_API_KEY", "ALPHAVANTAGE_API_KEY")

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if flags != nil && flags.NArg() > 0 {
		config.Symbols = flags.Args()
	}
	if len(config.Symbols) == 0 {
		config.Symbols = []string{DefaultSymbol}
	}
	if config.Days == 0 {
		config.Days = DefaultDays(config.Provider)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderAlphaVantage)
	v.SetDefault("alphavantage_base_url", "https://www.alphavantage.co/query")
	v.SetDefault("yahoo_base_url", "https://query1.finance.yahoo.com")

	v.SetDefault("request_timeout", 10*time.Second)
	v.SetDefault("retry_attempts", 3)
	v.SetDefault("retry_base_delay", time.Second)
	v.SetDefault("retry_max_delay", 10*time.Second)
	v.SetDefault("requests_per_minute", 0)
	v.SetDefault("concurrency", 4)

	v.SetDefault("cache_ttl", 24*time.Hour)
	v.SetDefault("cache_capacity", 128)
	v.SetDefault("cache_path", "")

	v.SetDefault("sma_window", 20)
	v.SetDefault("ema_window", 20)
	v.SetDefault("vol_window", 20)
	v.SetDefault("periods_per_year", 252)

	v.SetDefault("symbols", []string{})
	v.SetDefault("from", "")
	v.SetDefault("to", "")
	v.SetDefault("watch", "")
	v.SetDefault("days", 0)
	v.SetDefault("format", "table")
	v.SetDefault("log_level", "warn")
}

// ValidationError lists every invalid or missing setting
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks every setting and reports all problems at once
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Provider {
	case ProviderAlphaVantage:
		if c.AlphavantageAPIKey == "" {
			add("missing ALPHAVANTAGE_API_KEY (required by the alphavantage provider)")
		}
	case ProviderYahoo:
	default:
		add("unknown provider %q (want alphavantage or yahoo)", c.Provider)
	}

	if _, err := presenter.ParseFormat(c.Format); err != nil {
		add("format: %v", err)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		add("log_level: %v", err)
	}

	positive := map[string]int{
		"retry_attempts": c.RetryAttempts,
		"concurrency":    c.Concurrency,
		"cache_capacity": c.CacheCapacity,
		"sma_window":     c.SMAWindow,
		"ema_window":     c.EMAWindow,
		"days":           c.Days,
	}
	for _, key := range []string{"retry_attempts", "concurrency", "cache_capacity", "sma_window", "ema_window", "days"} {
		if positive[key] <= 0 {
			add("%s must be positive, got %d", key, positive[key])
		}
	}
	if c.VolWindow < 2 {
		add("vol_window must be at least 2, got %d", c.VolWindow)
	}
	if c.PeriodsPerYear <= 0 {
		add("periods_per_year must be positive, got %v", c.PeriodsPerYear)
	}
	if c.RequestTimeout <= 0 {
		add("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		add("retry delays must satisfy 0 < retry_base_delay <= retry_max_delay")
	}
	if c.CacheTTL <= 0 {
		add("cache_ttl must be positive, got %s", c.CacheTTL)
	}
	if c.RequestsPerMinute < 0 {
		add("requests_per_minute must not be negative")
	}

	if _, err := c.DateRange(time.Now()); err != nil {
		add("%v", err)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// DateRange resolves the requested range. Without --to the range ends
// today; without --from it spans Days days back from the end.
func (c *Config) DateRange(today time.Time) (market.DateRange, error) {
	to := market.Date(today)
	if c.To != "" {
		t, err := market.ParseDate(c.To)
		if err != nil {
			return market.DateRange{}, fmt.Errorf("to: %w", err)
		}
		to = t
	}
	if c.From == "" {
		return market.TrailingRange(to, c.Days), nil
	}
	from, err := market.ParseDate(c.From)
	if err != nil {
		return market.DateRange{}, fmt.Errorf("from: %w", err)
	}
	return market.NewDateRange(from, to)
}

// ParseLogLevel maps a level name onto slog
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}
