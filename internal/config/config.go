package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
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
	DBSQLitePath      string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBMigrateOnStart  bool
	DBMetricsEnabled  bool

	Redis     RedisConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
	Scheduler SchedulerConfig

	// CronSecret guards the retention trigger route.
	CronSecret string

	PolicyFile string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type CacheConfig struct {
	Driver string
	TTL    time.Duration
}

type RateLimitConfig struct {
	Enabled          bool
	RecordUsageRate  float64
	RecordUsageBurst int
	SweepLockTTL     time.Duration
}

type SchedulerConfig struct {
	RunInterval       time.Duration
	BatchSize         int
	ReconcileParallel int
	RetentionInterval time.Duration
	EnabledJobs       []string
}

// Module exposes the env config and the hot-reloaded policy file to the fx graph.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPolicyHolder),
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:      getenv("APP_SERVICE", "callquota"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "callquota"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBSQLitePath:      getenv("DATABASE_SQLITE_PATH", "callquota.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBMigrateOnStart:  getenvBool("DATABASE_MIGRATE_ON_START", true),
		DBMetricsEnabled:  getenvBool("DATABASE_METRICS_ENABLED", true),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Driver: strings.ToLower(strings.TrimSpace(getenv("CACHE_DRIVER", "memory"))),
			TTL:    time.Duration(getenvInt("CACHE_TTL_SECONDS", 30)) * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:          getenvBool("RATE_LIMIT_ENABLED", false),
			RecordUsageRate:  getenvFloat("RATE_LIMIT_RECORD_USAGE_RATE", 20),
			RecordUsageBurst: getenvInt("RATE_LIMIT_RECORD_USAGE_BURST", 40),
			SweepLockTTL:     time.Duration(getenvInt("RETENTION_LOCK_TTL_SECONDS", 900)) * time.Second,
		},
		Scheduler: SchedulerConfig{
			RunInterval:       time.Duration(getenvInt("SCHEDULER_RUN_INTERVAL_SECONDS", 60)) * time.Second,
			BatchSize:         getenvInt("SCHEDULER_BATCH_SIZE", 100),
			ReconcileParallel: getenvInt("SCHEDULER_RECONCILE_PARALLEL", 4),
			RetentionInterval: time.Duration(getenvInt("SCHEDULER_RETENTION_INTERVAL_HOURS", 24)) * time.Hour,
			EnabledJobs:       parseList(getenv("SCHEDULER_ENABLED_JOBS", "")),
		},

		CronSecret: strings.TrimSpace(getenv("CRON_SECRET", "")),
		PolicyFile: strings.TrimSpace(getenv("POLICY_FILE", "")),
	}
}

// RedisEnabled reports whether a redis address was configured.
func (c Config) RedisEnabled() bool {
	return strings.TrimSpace(c.Redis.Addr) != ""
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
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

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
