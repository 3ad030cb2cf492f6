package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewLedgerConfigHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// RateLimit throttles mutating requests per actor and channel. It needs redis.
	RateLimitEnabled    bool
	RateLimitWriteRate  float64
	RateLimitWriteBurst int

	// SchedulerEnabled runs the periodic alert scan in this process.
	SchedulerEnabled         bool
	SchedulerIntervalSeconds int

	// LedgerConfigPath is an extra directory searched for ledger.yml.
	LedgerConfigPath string

	// SnowflakeNode identifies this process in generated ids.
	SnowflakeNode int64
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:                  getenv("APP_SERVICE", "payables"),
		AppVersion:               getenv("APP_VERSION", "0.1.0"),
		Environment:              getenv("ENVIRONMENT", "development"),
		HTTPAddr:                 getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:             getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:                   getenv("DATABASE_TYPE", "postgres"),
		DBHost:                   getenv("DATABASE_HOST", "localhost"),
		DBPort:                   getenv("DATABASE_PORT", "5432"),
		DBName:                   getenv("DATABASE_NAME", "payables"),
		DBUser:                   getenv("DATABASE_USER", "postgres"),
		DBPassword:               getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:                getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:            getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:            getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime:        getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime:        getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		RedisAddr:                strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:            getenv("REDIS_PASSWORD", ""),
		RedisDB:                  getenvInt("REDIS_DB", 0),
		RateLimitEnabled:         getenvBool("RATE_LIMIT_ENABLED", false),
		RateLimitWriteRate:       getenvFloat("RATE_LIMIT_WRITE_RATE", 5),
		RateLimitWriteBurst:      getenvInt("RATE_LIMIT_WRITE_BURST", 20),
		SchedulerEnabled:         getenvBool("SCHEDULER_ENABLED", true),
		SchedulerIntervalSeconds: getenvInt("SCHEDULER_INTERVAL_SECONDS", 60),
		LedgerConfigPath:         strings.TrimSpace(getenv("LEDGER_CONFIG_PATH", "")),
		SnowflakeNode:            getenvInt64("SNOWFLAKE_NODE", 1),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
