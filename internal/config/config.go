package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	Timezone      string `envconfig:"APP_TIMEZONE" default:"UTC"`

	Log   LogConfig
	Store StoreConfig
	Redis RedisConfig
	Auth  AuthConfig
	Stock StockConfig
}

type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"json"`
}

// StoreConfig selects the repository backend. An empty Driver is inferred
// from the other settings, see ResolvedDriver.
type StoreConfig struct {
	Driver            string `envconfig:"STORE_DRIVER"`
	DatabaseURL       string `envconfig:"DATABASE_URL"`
	SQLitePath        string `envconfig:"SQLITE_PATH" default:"./data/petshop.db"`
	MongoURI          string `envconfig:"MONGO_URI"`
	MongoDatabase     string `envconfig:"MONGO_DATABASE" default:"petShop"`
	MongoTransactions bool   `envconfig:"MONGO_TRANSACTIONS" default:"false"`
}

type RedisConfig struct {
	Addr           string        `envconfig:"REDIS_ADDR"`
	Password       string        `envconfig:"REDIS_PASSWORD"`
	DB             int           `envconfig:"REDIS_DB" default:"0"`
	ReportCacheTTL time.Duration `envconfig:"REPORT_CACHE_TTL" default:"60s"`
}

type AuthConfig struct {
	Secret            string        `envconfig:"AUTH_SECRET"`
	TokenTTL          time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"24h"`
	CookieSecure      bool          `envconfig:"COOKIE_SECURE" default:"false"`
	SeedAdminUsername string        `envconfig:"SEED_ADMIN_USERNAME" default:"admin"`
	SeedAdminPassword string        `envconfig:"SEED_ADMIN_PASSWORD"`
}

type StockConfig struct {
	FloorCheck        bool `envconfig:"STOCK_FLOOR_CHECK" default:"false"`
	LowStockThreshold int  `envconfig:"LOW_STOCK_THRESHOLD" default:"5"`
}

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
)

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	cfg.Auth.Secret = strings.TrimSpace(cfg.Auth.Secret)
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}
	if cfg.Redis.ReportCacheTTL <= 0 {
		cfg.Redis.ReportCacheTTL = time.Minute
	}
	if cfg.Stock.LowStockThreshold < 0 {
		cfg.Stock.LowStockThreshold = 0
	}

	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// ResolvedDriver returns the configured driver, falling back to postgres when
// DATABASE_URL is set, mongo when MONGO_URI is set and memory otherwise.
func (s StoreConfig) ResolvedDriver() string {
	if s.Driver != "" {
		return s.Driver
	}
	switch {
	case s.DatabaseURL != "":
		return DriverPostgres
	case s.MongoURI != "":
		return DriverMongo
	default:
		return DriverMemory
	}
}
