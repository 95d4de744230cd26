package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	LocatorLinear      = "linear"
	LocatorBinary      = "binary"
	LocatorExponential = "exponential"

	PaginationOffset = "offset"
	PaginationCursor = "cursor"

	RoundingHalfEven = "half_even"
	RoundingHalfUp   = "half_up"
)

type Config struct {
	App struct {
		Environment string
		LogLevel    string
		LogDir      string
	}

	Ledger struct {
		AddressURL     string
		TradesURL      string
		SymbolsURL     string
		MarkPriceURL   string
		RequestTimeout time.Duration
		// consecutive failures before ledger calls fail fast
		BreakerFailures int
		BreakerTimeout  time.Duration
	}

	Scan struct {
		StartID         int64
		MaxID           int64
		Locator         string
		NumWorkers      int
		ZeroFeeStreak   int
		CheckpointEvery int
		SkipIDs         map[int64]struct{}
		ProbeRetries    int
		DiscoveryDelay  time.Duration
	}

	Fetch struct {
		Pagination  string
		PageSize    int
		MaxPages    int
		MaxTrades   int
		PageRetries int
	}

	Fees struct {
		ThresholdFallback bool
		ThresholdRatio    decimal.Decimal
		Rounding          string
	}

	Store struct {
		OutFile string
	}

	ClickHouse struct {
		Enabled      bool
		Host         string
		Port         int
		User         string
		Password     string
		Database     string
		QueryTimeout time.Duration
		Debug        bool
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
		PriceTTL time.Duration
	}

	Metrics struct {
		Addr string
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	// App settings
	cfg.App.Environment = getEnvOrDefault("APP_ENV", "production")
	cfg.App.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.App.LogDir = getEnvOrDefault("LOG_DIR", "logs")

	// Ledger endpoints
	cfg.Ledger.AddressURL = getEnvOrDefault("ADDRESS_URL", "https://sodex.dev/mainnet/chain/user/%d/address")
	cfg.Ledger.TradesURL = getEnvOrDefault("TRADES_URL", "https://mainnet-data.sodex.dev/api/v1/spot/trades")
	cfg.Ledger.SymbolsURL = getEnvOrDefault("SYMBOLS_URL", "https://mainnet-gw.sodex.dev/bolt/symbols?names")
	cfg.Ledger.MarkPriceURL = getEnvOrDefault("MARK_PRICE_URL", "https://mainnet-gw.sodex.dev/futures/fapi/market/v1/public/q/mark-price")
	cfg.Ledger.RequestTimeout = time.Duration(getEnvAsIntOrDefault("REQUEST_TIMEOUT_MS", 10000)) * time.Millisecond
	cfg.Ledger.BreakerFailures = getEnvAsIntOrDefault("LEDGER_BREAKER_FAILURES", 10)
	cfg.Ledger.BreakerTimeout = time.Duration(getEnvAsIntOrDefault("LEDGER_BREAKER_TIMEOUT_SECS", 60)) * time.Second

	// Scan settings
	cfg.Scan.StartID = getEnvAsInt64OrDefault("START_ID", 1000)
	cfg.Scan.MaxID = getEnvAsInt64OrDefault("MAX_ID", 0)
	cfg.Scan.Locator = strings.ToLower(getEnvOrDefault("LOCATOR", LocatorLinear))
	cfg.Scan.NumWorkers = getEnvAsIntOrDefault("NUM_WORKERS", 5)
	cfg.Scan.ZeroFeeStreak = getEnvAsIntOrDefault("ZERO_FEE_STREAK", 0)
	cfg.Scan.CheckpointEvery = getEnvAsIntOrDefault("CHECKPOINT_EVERY", 50)
	cfg.Scan.ProbeRetries = getEnvAsIntOrDefault("PROBE_RETRIES", 1)
	cfg.Scan.DiscoveryDelay = time.Duration(getEnvAsIntOrDefault("DISCOVERY_DELAY_MS", 100)) * time.Millisecond
	skip, err := ParseIDList(os.Getenv("SKIP_IDS"))
	if err != nil {
		return nil, fmt.Errorf("invalid SKIP_IDS: %w", err)
	}
	cfg.Scan.SkipIDs = skip

	// Trade history
	cfg.Fetch.Pagination = strings.ToLower(getEnvOrDefault("PAGINATION", PaginationOffset))
	cfg.Fetch.PageSize = getEnvAsIntOrDefault("PAGE_SIZE", 100)
	cfg.Fetch.MaxPages = getEnvAsIntOrDefault("MAX_PAGES", 0)
	cfg.Fetch.MaxTrades = getEnvAsIntOrDefault("MAX_TRADES", 0)
	cfg.Fetch.PageRetries = getEnvAsIntOrDefault("PAGE_RETRIES", 0)

	// Fee normalization
	cfg.Fees.ThresholdFallback = getEnvAsBoolOrDefault("FEE_THRESHOLD_FALLBACK", true)
	ratio, err := decimal.NewFromString(getEnvOrDefault("FEE_THRESHOLD_RATIO", "0.02"))
	if err != nil {
		return nil, fmt.Errorf("invalid FEE_THRESHOLD_RATIO: %w", err)
	}
	cfg.Fees.ThresholdRatio = ratio
	cfg.Fees.Rounding = strings.ToLower(getEnvOrDefault("ROUNDING", RoundingHalfEven))

	cfg.Store.OutFile = getEnvOrDefault("OUT_FILE", "spot_market_stats.json")

	// ClickHouse settings
	cfg.ClickHouse.Host = os.Getenv("CLICKHOUSE_HOST")
	cfg.ClickHouse.Enabled = cfg.ClickHouse.Host != ""
	cfg.ClickHouse.Port = getEnvAsIntOrDefault("CLICKHOUSE_PORT", 9000)
	cfg.ClickHouse.User = getEnvOrDefault("CLICKHOUSE_USER", "default")
	cfg.ClickHouse.Password = os.Getenv("CLICKHOUSE_PASSWORD")
	cfg.ClickHouse.Database = getEnvOrDefault("CLICKHOUSE_DB", "default")
	cfg.ClickHouse.QueryTimeout = time.Duration(getEnvAsIntOrDefault("CLICKHOUSE_QUERY_TIMEOUT_SECS", 30)) * time.Second
	cfg.ClickHouse.Debug = cfg.App.Environment != "production"

	// Redis settings
	cfg.Redis.Addr = os.Getenv("REDIS_ADDR")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	cfg.Redis.DB = getEnvAsIntOrDefault("REDIS_DB", 0)
	cfg.Redis.PriceTTL = time.Duration(getEnvAsIntOrDefault("REDIS_PRICE_TTL_SECS", 300)) * time.Second

	cfg.Metrics.Addr = os.Getenv("METRICS_ADDR")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the scanner cannot run with.
func (c *Config) Validate() error {
	switch c.Scan.Locator {
	case LocatorLinear, LocatorExponential:
	case LocatorBinary:
		if c.Scan.MaxID < c.Scan.StartID {
			return fmt.Errorf("binary locator needs MAX_ID >= START_ID, got %d < %d", c.Scan.MaxID, c.Scan.StartID)
		}
	default:
		return fmt.Errorf("unknown locator %q", c.Scan.Locator)
	}
	switch c.Fetch.Pagination {
	case PaginationOffset, PaginationCursor:
	default:
		return fmt.Errorf("unknown pagination %q", c.Fetch.Pagination)
	}
	switch c.Fees.Rounding {
	case RoundingHalfEven, RoundingHalfUp:
	default:
		return fmt.Errorf("unknown rounding %q", c.Fees.Rounding)
	}
	if c.Scan.StartID <= 0 {
		return fmt.Errorf("START_ID must be positive, got %d", c.Scan.StartID)
	}
	if c.Scan.NumWorkers <= 0 {
		return fmt.Errorf("NUM_WORKERS must be positive, got %d", c.Scan.NumWorkers)
	}
	if c.Fetch.PageSize <= 0 {
		return fmt.Errorf("PAGE_SIZE must be positive, got %d", c.Fetch.PageSize)
	}
	if c.Scan.ZeroFeeStreak < 0 || c.Scan.CheckpointEvery < 0 || c.Scan.ProbeRetries < 0 || c.Fetch.PageRetries < 0 {
		return fmt.Errorf("streak, checkpoint and retry settings must not be negative")
	}
	if c.Ledger.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT_MS must be positive")
	}
	if c.Fees.ThresholdRatio.IsNegative() {
		return fmt.Errorf("FEE_THRESHOLD_RATIO must not be negative")
	}
	return nil
}

// maxIDRange bounds a single a-b entry in SKIP_IDS.
const maxIDRange = 100000

// ParseIDList parses "5,7,10-12" into a set of IDs.
func ParseIDList(raw string) (map[int64]struct{}, error) {
	ids := make(map[int64]struct{})
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		from, err := strconv.ParseInt(strings.TrimSpace(lo), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad id %q: %w", part, err)
		}
		to := from
		if isRange {
			to, err = strconv.ParseInt(strings.TrimSpace(hi), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("bad id range %q: %w", part, err)
			}
			if to < from {
				return nil, fmt.Errorf("bad id range %q: end before start", part)
			}
			if uint64(to-from) >= maxIDRange {
				return nil, fmt.Errorf("bad id range %q: wider than %d ids", part, maxIDRange)
			}
		}
		for id := from; ; id++ {
			ids[id] = struct{}{}
			if id == to {
				break
			}
		}
	}
	return ids, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
