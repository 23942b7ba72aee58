package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the admin console.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Backend  BackendConfig
	Session  SessionConfig
	Routes   RoutesConfig
	Login    LoginConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values. An empty DSN disables Postgres.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values. An empty Addr disables Redis.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// BackendConfig describes the Damio Kids REST backend the console talks to.
type BackendConfig struct {
	BaseURL               string
	TimeoutSeconds        int
	WarmupPath            string
	WarmupTimeoutSeconds  int
	WarmupIntervalSeconds int
}

// SessionConfig controls browser sessions and where their credentials live.
type SessionConfig struct {
	Store                string
	CookieName           string
	CookieSecure         bool
	IdleTTLMinutes       int
	SweepIntervalSeconds int
	EncryptionKey        string
	InitWaitMillis       int
	MaxActive            int
}

// RoutesConfig names the console's well-known views.
type RoutesConfig struct {
	LoginPath   string
	LandingPath string
}

// LoginConfig throttles login attempts per client address.
type LoginConfig struct {
	RatePerMinute int
	Burst         int
}

// Session store kinds.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "damio-admin-console"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 45),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:      os.Getenv("REDIS_ADDR"),
			Password:  os.Getenv("REDIS_PASSWORD"),
			DB:        redisDB,
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "damio:admin:"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Backend: BackendConfig{
			BaseURL:               strings.TrimRight(getEnv("BACKEND_BASE_URL", "https://damio-kids-backend.onrender.com"), "/"),
			TimeoutSeconds:        getEnvAsInt("BACKEND_TIMEOUT_SECONDS", 30),
			WarmupPath:            getEnv("BACKEND_WARMUP_PATH", "/health"),
			WarmupTimeoutSeconds:  getEnvAsInt("BACKEND_WARMUP_TIMEOUT_SECONDS", 20),
			WarmupIntervalSeconds: getEnvAsInt("BACKEND_WARMUP_INTERVAL_SECONDS", 300),
		},
		Session: SessionConfig{
			Store:                strings.ToLower(getEnv("SESSION_STORE", StoreMemory)),
			CookieName:           getEnv("SESSION_COOKIE_NAME", "damio_admin_sid"),
			CookieSecure:         getEnvAsBool("SESSION_COOKIE_SECURE", false),
			IdleTTLMinutes:       getEnvAsInt("SESSION_IDLE_TTL_MINUTES", 24*60),
			SweepIntervalSeconds: getEnvAsInt("SESSION_SWEEP_INTERVAL_SECONDS", 60),
			EncryptionKey:        os.Getenv("SESSION_ENCRYPTION_KEY"),
			InitWaitMillis:       getEnvAsInt("SESSION_INIT_WAIT_MS", 2000),
			MaxActive:            getEnvAsInt("SESSION_MAX_ACTIVE", 10000),
		},
		Routes: RoutesConfig{
			LoginPath:   getEnv("ROUTE_LOGIN_PATH", "/admin/login"),
			LandingPath: getEnv("ROUTE_LANDING_PATH", "/admin/dashboard"),
		},
		Login: LoginConfig{
			RatePerMinute: getEnvAsInt("LOGIN_RATE_PER_MINUTE", 10),
			Burst:         getEnvAsInt("LOGIN_RATE_BURST", 5),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the console cannot start with.
func (c *Config) Validate() error {
	switch c.Session.Store {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("SESSION_STORE=redis requires REDIS_ADDR")
		}
	case StorePostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("SESSION_STORE=postgres requires POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("invalid SESSION_STORE %q", c.Session.Store)
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("BACKEND_BASE_URL must not be empty")
	}
	if !strings.HasPrefix(c.Routes.LoginPath, "/") || !strings.HasPrefix(c.Routes.LandingPath, "/") {
		return fmt.Errorf("route paths must be absolute")
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Timeout is the bound applied to every backend call.
func (b BackendConfig) Timeout() time.Duration {
	if b.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// WarmupTimeout bounds the best-effort warm-up request.
func (b BackendConfig) WarmupTimeout() time.Duration {
	if b.WarmupTimeoutSeconds <= 0 {
		return 20 * time.Second
	}
	return time.Duration(b.WarmupTimeoutSeconds) * time.Second
}

// WarmupInterval is the minimum gap between warm-up requests.
func (b BackendConfig) WarmupInterval() time.Duration {
	if b.WarmupIntervalSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(b.WarmupIntervalSeconds) * time.Second
}

// IdleTTL is how long an untouched browser session is kept. Every read of
// the stored credential restarts it.
func (s SessionConfig) IdleTTL() time.Duration {
	if s.IdleTTLMinutes <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(s.IdleTTLMinutes) * time.Minute
}

// SweepInterval is the period of the idle-session sweeper.
func (s SessionConfig) SweepInterval() time.Duration {
	if s.SweepIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(s.SweepIntervalSeconds) * time.Second
}

// InitWait bounds how long a guard waits for startup verification before
// rendering the loading placeholder.
func (s SessionConfig) InitWait() time.Duration {
	if s.InitWaitMillis < 0 {
		return 0
	}
	return time.Duration(s.InitWaitMillis) * time.Millisecond
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
