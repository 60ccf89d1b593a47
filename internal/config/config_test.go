package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate runs the test in an empty directory with no config or .env in
// reach and clears every variable Load reads
func isolate(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	for _, key := range []string{
		"ALPHAVANTAGE_API_KEY", "MKTS_ALPHAVANTAGE_API_KEY", "MKTS_PROVIDER",
		"MKTS_CACHE_TTL", "MKTS_CONCURRENCY", "MKTS_FORMAT", "MKTS_SYMBOLS",
		"MKTS_YAHOO_BASE_URL", "MKTS_ALPHAVANTAGE_BASE_URL", "MKTS_DAYS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_WithDefaults(t *testing.T) {
	isolate(t)
	t.Setenv("ALPHAVANTAGE_API_KEY", "test_alphavantage_key")

	cfg, err := Load(NewFlagSet("mkts"))
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	tests := []struct {
		name     string
		got      any
		expected any
	}{
		{"Provider", cfg.Provider, ProviderAlphaVantage},
		{"AlphavantageAPIKey", cfg.AlphavantageAPIKey, "test_alphavantage_key"},
		{"AlphavantageBaseURL", cfg.AlphavantageBaseURL, "https://www.alphavantage.co/query"},
		{"YahooBaseURL", cfg.YahooBaseURL, "https://query1.finance.yahoo.com"},
		{"RequestTimeout", cfg.RequestTimeout, 10 * time.Second},
		{"RetryAttempts", cfg.RetryAttempts, 3},
		{"RetryBaseDelay", cfg.RetryBaseDelay, time.Second},
		{"RetryMaxDelay", cfg.RetryMaxDelay, 10 * time.Second},
		{"CacheTTL", cfg.CacheTTL, 24 * time.Hour},
		{"CacheCapacity", cfg.CacheCapacity, 128},
		{"Concurrency", cfg.Concurrency, 4},
		{"SMAWindow", cfg.SMAWindow, 20},
		{"PeriodsPerYear", cfg.PeriodsPerYear, 252.0},
		{"Format", cfg.Format, "table"},
		{"Days", cfg.Days, DefaultDaysAlphaVantage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.expected)
			}
		})
	}

	if len(cfg.Symbols) != 1 || cfg.Symbols[0] != DefaultSymbol {
		t.Errorf("Symbols = %v, want [%s]", cfg.Symbols, DefaultSymbol)
	}
}

func TestLoad_DefaultDaysFollowProvider(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
		want int
	}{
		{"alphavantage stays within compact history", map[string]string{"ALPHAVANTAGE_API_KEY": "k"}, nil, DefaultDaysAlphaVantage},
		{"yahoo gets a year", map[string]string{"MKTS_PROVIDER": "yahoo"}, nil, DefaultDaysYahoo},
		{"explicit flag wins", map[string]string{"ALPHAVANTAGE_API_KEY": "k"}, []string{"--days", "400"}, 400},
		{"explicit env wins", map[string]string{"MKTS_PROVIDER": "yahoo", "MKTS_DAYS": "30"}, nil, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			flags := NewFlagSet("mkts")
			if err := flags.Parse(tt.args); err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			cfg, err := Load(flags)
			if err != nil {
				t.Fatalf("Load() returned unexpected error: %v", err)
			}
			if cfg.Days != tt.want {
				t.Errorf("Days = %d, want %d", cfg.Days, tt.want)
			}
		})
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("MKTS_PROVIDER", "yahoo")
	t.Setenv("MKTS_CACHE_TTL", "90m")
	t.Setenv("MKTS_CONCURRENCY", "8")
	t.Setenv("MKTS_YAHOO_BASE_URL", "https://test.yahoo.local")

	cfg, err := Load(NewFlagSet("mkts"))
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if cfg.Provider != ProviderYahoo {
		t.Errorf("Provider = %q, want yahoo", cfg.Provider)
	}
	if cfg.CacheTTL != 90*time.Minute {
		t.Errorf("CacheTTL = %s, want 1h30m", cfg.CacheTTL)
	}
	if cfg.Concurrency != 8 {
		t.Errorf("Concurrency = %d, want 8", cfg.Concurrency)
	}
	if cfg.YahooBaseURL != "https://test.yahoo.local" {
		t.Errorf("YahooBaseURL = %q", cfg.YahooBaseURL)
	}
}

func TestLoad_FlagsOverrideEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("MKTS_PROVIDER", "alphavantage")
	t.Setenv("MKTS_FORMAT", "csv")

	flags := NewFlagSet("mkts")
	if err := flags.Parse([]string{"--provider", "yahoo", "--sma", "5", "-f", "json", "--vol-window", "10", "voo", "spy"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg, err := Load(flags)
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if cfg.Provider != ProviderYahoo {
		t.Errorf("Provider = %q, want yahoo", cfg.Provider)
	}
	if cfg.Format != "json" {
		t.Errorf("Format = %q, want json", cfg.Format)
	}
	if cfg.SMAWindow != 5 || cfg.VolWindow != 10 {
		t.Errorf("windows = %d/%d, want 5/10", cfg.SMAWindow, cfg.VolWindow)
	}
	// Flags left at their defaults do not mask lower layers
	if cfg.EMAWindow != 20 {
		t.Errorf("EMAWindow = %d, want 20", cfg.EMAWindow)
	}
	if strings.Join(cfg.Symbols, ",") != "voo,spy" {
		t.Errorf("Symbols = %v, want [voo spy]", cfg.Symbols)
	}
}

func TestLoad_ConfigFileAndDotEnv(t *testing.T) {
	isolate(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "mkts.yaml")
	yaml := "provider: alphavantage\ncache_capacity: 16\nsymbols: [VOO, QQQ]\nformat: yaml\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(".env", []byte("ALPHAVANTAGE_API_KEY=from_dotenv\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// godotenv sets process variables; clear them after the test
	t.Cleanup(func() { os.Unsetenv("ALPHAVANTAGE_API_KEY") })
	os.Unsetenv("ALPHAVANTAGE_API_KEY")

	flags := NewFlagSet("mkts")
	if err := flags.Parse([]string{"--config", path}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(flags)
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if cfg.AlphavantageAPIKey != "from_dotenv" {
		t.Errorf("AlphavantageAPIKey = %q, want from_dotenv", cfg.AlphavantageAPIKey)
	}
	if cfg.CacheCapacity != 16 {
		t.Errorf("CacheCapacity = %d, want 16", cfg.CacheCapacity)
	}
	if cfg.Format != "yaml" {
		t.Errorf("Format = %q, want yaml", cfg.Format)
	}
	if strings.Join(cfg.Symbols, ",") != "VOO,QQQ" {
		t.Errorf("Symbols = %v", cfg.Symbols)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	isolate(t)
	flags := NewFlagSet("mkts")
	if err := flags.Parse([]string{"--config", "/nonexistent/mkts.yaml", "--provider", "yahoo"}); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(flags); err == nil {
		t.Error("Load() expected error for an explicit missing config file, got nil")
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	isolate(t)

	_, err := Load(NewFlagSet("mkts"))
	if err == nil {
		t.Fatal("Load() expected error, got nil")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Load() error = %T, want *ValidationError", err)
	}
	if !strings.Contains(err.Error(), "ALPHAVANTAGE_API_KEY") {
		t.Errorf("error %q does not name ALPHAVANTAGE_API_KEY", err)
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := &Config{
		Provider:       "bloomberg",
		Format:         "xml",
		LogLevel:       "loud",
		RetryAttempts:  0,
		Concurrency:    1,
		CacheCapacity:  1,
		SMAWindow:      1,
		EMAWindow:      1,
		VolWindow:      1,
		Days:           1,
		PeriodsPerYear: 252,
		RequestTimeout: time.Second,
		RetryBaseDelay: time.Second,
		RetryMaxDelay:  time.Second,
		CacheTTL:       time.Hour,
		From:           "2024-02-01",
		To:             "2024-01-01",
	}

	err := cfg.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate() error = %v, want *ValidationError", err)
	}

	for _, want := range []string{"provider", "format", "log level", "retry_attempts", "vol_window", "before start"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
	if len(verr.Problems) != 6 {
		t.Errorf("Problems = %d (%v), want 6", len(verr.Problems), verr.Problems)
	}
}

func TestDateRange(t *testing.T) {
	today := time.Date(2024, 6, 30, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		cfg      Config
		wantFrom string
		wantTo   string
		wantErr  bool
	}{
		{"trailing default", Config{Days: 365}, "2023-07-01", "2024-06-30", false},
		{"explicit", Config{From: "2024-01-01", To: "2024-03-31"}, "2024-01-01", "2024-03-31", false},
		{"to only", Config{To: "2024-01-31", Days: 30}, "2024-01-01", "2024-01-31", false},
		{"reversed", Config{From: "2024-02-01", To: "2024-01-01"}, "", "", true},
		{"bad date", Config{From: "01/02/2024"}, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng, err := tt.cfg.DateRange(today)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DateRange() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got := rng.From.Format("2006-01-02"); got != tt.wantFrom {
				t.Errorf("From = %s, want %s", got, tt.wantFrom)
			}
			if got := rng.To.Format("2006-01-02"); got != tt.wantTo {
				t.Errorf("To = %s, want %s", got, tt.wantTo)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	for name, want := range map[string]slog.Level{"debug": slog.LevelDebug, "INFO": slog.LevelInfo, "warn": slog.LevelWarn, "error": slog.LevelError} {
		got, err := ParseLogLevel(name)
		if err != nil || got != want {
			t.Errorf("ParseLogLevel(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := ParseLogLevel("verbose"); err == nil {
		t.Error("ParseLogLevel(verbose) expected error")
	}
}
