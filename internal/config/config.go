package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"gopkg.in/validator.v2"
)

// Config holds all configuration for the application.
type Config struct {
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
	Logger   Logger   `mapstructure:"logger"`
	Finnhub  Finnhub  `mapstructure:"finnhub"`
	Cache    Cache    `mapstructure:"cache"`
	Kafka    Kafka    `mapstructure:"kafka"`
	Ledger   Ledger   `mapstructure:"ledger"`
	Market   Market   `mapstructure:"market"`
}

// Server holds the configuration for the HTTP server.
type Server struct {
	Address         string `mapstructure:"address" validate:"nonzero"`
	EnableGzip      bool   `mapstructure:"enable_gzip"`
	EnablePprof     bool   `mapstructure:"enable_pprof"`
	EnableAccessLog bool   `mapstructure:"enable_access_log"`
	MaxBodySize     int    `mapstructure:"max_body_size" validate:"min=1"`
}

// Database holds the configuration for the database.
type Database struct {
	Driver string `mapstructure:"driver" validate:"regexp=^(sqlite|postgres)$"`
	DSN    string `mapstructure:"dsn" validate:"nonzero"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// Finnhub holds the configuration for the market data provider.
// An empty ApiKey leaves the provider unconfigured.
type Finnhub struct {
	ApiKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url" validate:"nonzero"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst" validate:"min=1"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// Cache holds the configuration for the response cache.
type Cache struct {
	Backend        string        `mapstructure:"backend" validate:"regexp=^(memory|redis)$"`
	RedisAddress   string        `mapstructure:"redis_address"`
	RedisPassword  string        `mapstructure:"redis_password"`
	RedisDB        int           `mapstructure:"redis_db"`
	KeyPrefix      string        `mapstructure:"key_prefix"`
	LoadTimeout    time.Duration `mapstructure:"load_timeout"`
	TopMoversTTL   time.Duration `mapstructure:"top_movers_ttl"`
	MarketNewsTTL  time.Duration `mapstructure:"market_news_ttl"`
	CompanyNewsTTL time.Duration `mapstructure:"company_news_ttl"`
	CandlesTTL     time.Duration `mapstructure:"candles_ttl"`
}

// Kafka holds the configuration for the transaction event stream.
type Kafka struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// Ledger holds the configuration for the transactional ledger.
type Ledger struct {
	InitialBalance   string        `mapstructure:"initial_balance"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" validate:"nonzero"`
}

// Market holds the configuration for aggregated market views.
type Market struct {
	TopMoversSymbols []string `mapstructure:"top_movers_symbols" validate:"nonzero"`
	Workers          int      `mapstructure:"workers" validate:"min=1"`
}

// StartingBalance parses the configured balance for newly opened accounts.
func (l Ledger) StartingBalance() (decimal.Decimal, error) {
	if strings.TrimSpace(l.InitialBalance) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(l.InitialBalance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid ledger.initial_balance %q: %w", l.InitialBalance, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("ledger.initial_balance must not be negative, got %s", d)
	}
	return d, nil
}

var defaultTopMovers = []string{
	"AAPL", "MSFT", "AMZN", "NVDA", "GOOGL", "META", "TSLA", "JPM", "V", "UNH",
	"XOM", "PG", "KO", "DIS", "AMD", "NFLX", "BA", "WMT", "COST", "INTC",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.enable_gzip", false)
	v.SetDefault("server.enable_pprof", false)
	v.SetDefault("server.enable_access_log", false)
	v.SetDefault("server.max_body_size", 64<<10) // bytes

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "portfolio.db")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.file", "")
	v.SetDefault("logger.max_size", 100) // megabytes
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30) // days

	v.SetDefault("finnhub.api_key", "")
	v.SetDefault("finnhub.base_url", "https://finnhub.io/api/v1")
	v.SetDefault("finnhub.rate_limit", 30) // requests per second
	v.SetDefault("finnhub.rate_limit_burst", 5)
	v.SetDefault("finnhub.timeout", "10s")

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_address", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.key_prefix", "portfolio:")
	v.SetDefault("cache.load_timeout", "30s")
	v.SetDefault("cache.top_movers_ttl", "1m")
	v.SetDefault("cache.market_news_ttl", "5m")
	v.SetDefault("cache.company_news_ttl", "5m")
	v.SetDefault("cache.candles_ttl", "1m")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "portfolio.transactions")

	v.SetDefault("ledger.initial_balance", "0")
	v.SetDefault("ledger.operation_timeout", "5s")

	v.SetDefault("market.top_movers_symbols", defaultTopMovers)
	v.SetDefault("market.workers", 8)
}

// LoadConfig reads configuration from file or environment variables.
// A missing config file is not an error; defaults and the environment apply.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("failed to decode config: %w", err)
	}

	if err = validator.Validate(config); err != nil {
		return config, fmt.Errorf("invalid config: %w", err)
	}
	if _, err = config.Ledger.StartingBalance(); err != nil {
		return config, err
	}
	return config, nil
}
