package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Persistence backends the registry can be bound to.
const (
	PersistenceNone     = "none"
	PersistencePostgres = "postgres"
	PersistenceRedis    = "redis"
)

// Config holds all application configuration loaded from environment
// variables. It is the single source of truth for runtime parameters.
type Config struct {
	Port      string
	Env       string
	JWTSecret string

	Persistence string

	DB        DatabaseConfig
	Redis     RedisConfig
	Trust     TrustConfig
	RateLimit RateLimitConfig
	Session   SessionConfig
	Worker    WorkerConfig
	Admin     AdminConfig
}

// DatabaseConfig contains PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// RedisConfig contains Redis connection parameters.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// TrustConfig contains the scoring bounds, weights and the auto-suspend
// policy floor.
type TrustConfig struct {
	MinScore     float64
	MaxScore     float64
	SuspendFloor float64

	SuccessWeight      float64
	ResponseTimeWeight float64
	IssuePenaltyWeight float64
	TenureWeight       float64
	VolumeWeight       float64
}

// RateLimitConfig contains the sliding-window parameters.
type RateLimitConfig struct {
	Window         time.Duration
	DefaultCeiling int
}

// SessionConfig contains session TTL and liveness parameters.
type SessionConfig struct {
	TTL              time.Duration
	HeartbeatTimeout time.Duration
}

// WorkerConfig contains interval configuration for background workers.
type WorkerConfig struct {
	PersistFlushInterval time.Duration
}

// AdminConfig contains the admin console credential. The password is stored
// bcrypt-hashed; the plaintext never appears in config.
type AdminConfig struct {
	Username     string
	PasswordHash string
}

// Load reads configuration from environment variables. If a .env file exists
// in the working directory, it will be loaded first. It returns a populated
// Config or an error with a human-friendly message.
func Load() (*Config, error) {
	// Load .env if present; ignore error if file is missing so that production
	// environments relying solely on real environment variables keep working.
	_ = godotenv.Load()

	cfg := &Config{}

	// Server
	cfg.Port = getEnv("PORT", "8080")
	cfg.Env = getEnv("ENV", "development")
	cfg.JWTSecret = getEnv("JWT_SECRET", "")
	cfg.Persistence = getEnv("PERSISTENCE", PersistenceNone)

	// Database
	cfg.DB = DatabaseConfig{
		Host:     getEnv("DB_HOST", ""),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", ""),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", ""),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}

	// Redis
	cfg.Redis = RedisConfig{
		Host:     getEnv("REDIS_HOST", "redis"),
		Port:     getEnv("REDIS_PORT", "6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvInt("REDIS_DB", 0),
	}

	// Trust scoring
	cfg.Trust = TrustConfig{
		MinScore:           getEnvFloat("TRUST_MIN_SCORE", 0.5),
		MaxScore:           getEnvFloat("TRUST_MAX_SCORE", 1.0),
		SuspendFloor:       getEnvFloat("TRUST_SUSPEND_FLOOR", 0.5),
		SuccessWeight:      getEnvFloat("TRUST_WEIGHT_SUCCESS", 0.40),
		ResponseTimeWeight: getEnvFloat("TRUST_WEIGHT_RESPONSE_TIME", 0.20),
		IssuePenaltyWeight: getEnvFloat("TRUST_WEIGHT_ISSUE_PENALTY", 0.20),
		TenureWeight:       getEnvFloat("TRUST_WEIGHT_TENURE", 0.10),
		VolumeWeight:       getEnvFloat("TRUST_WEIGHT_VOLUME", 0.10),
	}

	// Rate limiting
	cfg.RateLimit = RateLimitConfig{
		DefaultCeiling: getEnvInt("RATE_LIMIT_DEFAULT_CEILING", 60),
	}

	// Admin console
	cfg.Admin = AdminConfig{
		Username:     getEnv("ADMIN_USERNAME", "admin"),
		PasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
	}

	// Durations
	var err error
	if cfg.RateLimit.Window, err = parseDurationEnv("RATE_LIMIT_WINDOW", "60s"); err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_WINDOW: %w", err)
	}
	if cfg.Session.TTL, err = parseDurationEnv("SESSION_TTL", "24h"); err != nil {
		return nil, fmt.Errorf("invalid SESSION_TTL: %w", err)
	}
	if cfg.Session.HeartbeatTimeout, err = parseDurationEnv("SESSION_HEARTBEAT_TIMEOUT", "60s"); err != nil {
		return nil, fmt.Errorf("invalid SESSION_HEARTBEAT_TIMEOUT: %w", err)
	}
	if cfg.Worker.PersistFlushInterval, err = parseDurationEnv("PERSIST_FLUSH_INTERVAL", "5s"); err != nil {
		return nil, fmt.Errorf("invalid PERSIST_FLUSH_INTERVAL: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set for admin authentication")
	}

	switch c.Persistence {
	case PersistenceNone:
	case PersistencePostgres:
		if c.DB.Host == "" || c.DB.User == "" || c.DB.Name == "" {
			return errors.New("database configuration incomplete: ensure DB_HOST, DB_USER, and DB_NAME are set")
		}
	case PersistenceRedis:
		if c.Redis.Host == "" {
			return errors.New("redis configuration incomplete: ensure REDIS_HOST is set")
		}
	default:
		return fmt.Errorf("unknown PERSISTENCE %q: must be none, postgres, or redis", c.Persistence)
	}

	t := c.Trust
	if t.MinScore >= t.MaxScore {
		return errors.New("TRUST_MIN_SCORE must be below TRUST_MAX_SCORE")
	}
	if t.SuspendFloor < t.MinScore || t.SuspendFloor > t.MaxScore {
		return errors.New("TRUST_SUSPEND_FLOOR must lie within the score bounds")
	}
	// Monotonicity requires every weight to be non-negative.
	for _, w := range []float64{t.SuccessWeight, t.ResponseTimeWeight, t.IssuePenaltyWeight, t.TenureWeight, t.VolumeWeight} {
		if w < 0 {
			return errors.New("trust weights must be non-negative")
		}
	}

	if c.RateLimit.DefaultCeiling <= 0 {
		return errors.New("RATE_LIMIT_DEFAULT_CEILING must be positive")
	}
	if c.Session.TTL <= 0 || c.Session.HeartbeatTimeout <= 0 {
		return errors.New("session TTL and heartbeat timeout must be positive")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default if empty.
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvInt returns the value of an environment variable as an integer or a
// default if empty/invalid.
func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// getEnvFloat returns the value of an environment variable as a float or a
// default if empty/invalid.
func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// parseDurationEnv reads an environment variable and parses it as
// time.Duration. If the variable is empty, it falls back to the provided
// default value.
func parseDurationEnv(key, def string) (time.Duration, error) {
	raw := getEnv(key, def)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be >= 0")
	}
	return d, nil
}
