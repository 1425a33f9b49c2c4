package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Relay     RelayConfig
	Fetch     FetchConfig
	Cache     CacheConfig
	Blob      BlobConfig
	Scanner   ScannerConfig
	RateLimit RateLimitConfig
	Telemetry TelemetryConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
	CORSOrigins []string
}

// RedisConfig holds connection settings for the metadata tier
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// DatabaseConfig holds Postgres connection settings (postgres blob backend only)
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RelayConfig holds settings for the profile relay connection
type RelayConfig struct {
	URL              string
	ConnectTimeout   time.Duration
	LookupTimeout    time.Duration
	BatchTimeout     time.Duration
	VerifySignatures bool
}

// FetchConfig holds settings for origin image downloads
type FetchConfig struct {
	Timeout           time.Duration
	MaxBytes          int64
	UserAgent         string
	BlockPrivateHosts bool
	ProxyURL          string
	ProxyToken        string
	ProxyTimeout      time.Duration
}

// CacheConfig holds freshness and in-process cache settings
type CacheConfig struct {
	MaxAge              time.Duration
	RecordTTL           time.Duration
	MemorySize          int
	MemoryTTL           time.Duration
	SkipUnchangedSource bool
}

// BlobConfig selects and configures the blob tier
type BlobConfig struct {
	Backend string // "memory", "redis", "postgres" or "s3"

	S3Bucket          string
	S3Prefix          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3ForcePathStyle  bool
}

// ScannerConfig holds background discovery and pruning settings
type ScannerConfig struct {
	Enabled       bool
	Interval      time.Duration
	Limit         int
	Window        time.Duration
	RetentionDays int
	BatchSize     int
	OrphanGrace   time.Duration
}

// RateLimitConfig holds per-IP request limits
type RateLimitConfig struct {
	Enabled  bool
	Backend  string // "redis" or "memory"
	Requests int64
	Window   time.Duration
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof   bool
	PprofPort     int
	EnableMetrics bool
}

const defaultUserAgent = "avatar-proxy/1.0 (+https://github.com/lyzr/avatar-proxy)"

// Load loads configuration from environment variables.
// A .env file in the working directory is read first if present; real
// environment variables win over it.
func Load(serviceName string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"), // Default to text for development
			CORSOrigins: getEnvSlice("CORS_ALLOW_ORIGINS", []string{"*"}),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "avatars"),
			User:        getEnv("POSTGRES_USER", "avatars"),
			Password:    getEnv("POSTGRES_PASSWORD", "avatars"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 20),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Relay: RelayConfig{
			URL:              getEnv("RELAY_URL", "wss://relay.damus.io"),
			ConnectTimeout:   getEnvDuration("RELAY_CONNECT_TIMEOUT", 5*time.Second),
			LookupTimeout:    getEnvDuration("RELAY_LOOKUP_TIMEOUT", 3*time.Second),
			BatchTimeout:     getEnvDuration("RELAY_BATCH_TIMEOUT", 10*time.Second),
			VerifySignatures: getEnvBool("RELAY_VERIFY_SIGNATURES", true),
		},
		Fetch: FetchConfig{
			Timeout:           getEnvDuration("FETCH_TIMEOUT", 10*time.Second),
			MaxBytes:          getEnvInt64("FETCH_MAX_BYTES", 10*1024*1024),
			UserAgent:         getEnv("FETCH_USER_AGENT", defaultUserAgent),
			BlockPrivateHosts: getEnvBool("FETCH_BLOCK_PRIVATE_HOSTS", true),
			ProxyURL:          getEnv("FETCH_PROXY_URL", ""),
			ProxyToken:        getEnv("FETCH_PROXY_TOKEN", ""),
			ProxyTimeout:      getEnvDuration("FETCH_PROXY_TIMEOUT", 15*time.Second),
		},
		Cache: CacheConfig{
			MaxAge:              getEnvDuration("CACHE_MAX_AGE", 7*24*time.Hour),
			RecordTTL:           getEnvDuration("CACHE_RECORD_TTL", 30*24*time.Hour),
			MemorySize:          getEnvInt("CACHE_MEMORY_SIZE", 10000),
			MemoryTTL:           getEnvDuration("CACHE_MEMORY_TTL", 30*time.Second),
			SkipUnchangedSource: getEnvBool("CACHE_SKIP_UNCHANGED_SOURCE", true),
		},
		Blob: BlobConfig{
			Backend:           getEnv("BLOB_BACKEND", "redis"),
			S3Bucket:          getEnv("S3_BUCKET", ""),
			S3Prefix:          getEnv("S3_PREFIX", ""),
			S3Region:          getEnv("S3_REGION", "us-east-1"),
			S3Endpoint:        getEnv("S3_ENDPOINT", ""),
			S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			S3ForcePathStyle:  getEnvBool("S3_FORCE_PATH_STYLE", false),
		},
		Scanner: ScannerConfig{
			Enabled:       getEnvBool("SCANNER_ENABLED", true),
			Interval:      getEnvDuration("SCANNER_INTERVAL", 5*time.Minute),
			Limit:         getEnvInt("SCANNER_LIMIT", 500),
			Window:        getEnvDuration("SCANNER_WINDOW", 24*time.Hour),
			RetentionDays: getEnvInt("SCANNER_RETENTION_DAYS", 30),
			BatchSize:     getEnvInt("SCANNER_BATCH_SIZE", 1000),
			OrphanGrace:   getEnvDuration("SCANNER_ORPHAN_GRACE", 1*time.Hour),
		},
		RateLimit: RateLimitConfig{
			Enabled:  getEnvBool("RATE_LIMIT_ENABLED", true),
			Backend:  getEnv("RATE_LIMIT_BACKEND", "redis"),
			Requests: getEnvInt64("RATE_LIMIT_REQUESTS", 120),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", 1*time.Minute),
		},
		Telemetry: TelemetryConfig{
			EnablePprof:   getEnvBool("ENABLE_PPROF", false),
			PprofPort:     getEnvInt("PPROF_PORT", 6060),
			EnableMetrics: getEnvBool("ENABLE_METRICS", true),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}

	relayURL, err := url.Parse(c.Relay.URL)
	if err != nil || (relayURL.Scheme != "ws" && relayURL.Scheme != "wss") {
		return fmt.Errorf("relay url must be ws:// or wss://, got %q", c.Relay.URL)
	}

	for name, d := range map[string]time.Duration{
		"relay connect timeout": c.Relay.ConnectTimeout,
		"relay lookup timeout":  c.Relay.LookupTimeout,
		"relay batch timeout":   c.Relay.BatchTimeout,
		"fetch timeout":         c.Fetch.Timeout,
		"fetch proxy timeout":   c.Fetch.ProxyTimeout,
		"cache max age":         c.Cache.MaxAge,
		"cache record ttl":      c.Cache.RecordTTL,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if c.Fetch.MaxBytes <= 0 {
		return fmt.Errorf("fetch max bytes must be positive")
	}

	switch c.Blob.Backend {
	case "memory", "redis", "postgres":
	case "s3":
		if c.Blob.S3Bucket == "" {
			return fmt.Errorf("s3 blob backend requires S3_BUCKET")
		}
	default:
		return fmt.Errorf("unknown blob backend: %s", c.Blob.Backend)
	}

	if c.Blob.Backend == "postgres" && c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Scanner.Enabled {
		if c.Scanner.Interval <= 0 {
			return fmt.Errorf("scanner interval must be positive")
		}
		if c.Scanner.Limit <= 0 || c.Scanner.BatchSize <= 0 {
			return fmt.Errorf("scanner limit and batch size must be positive")
		}
		if c.Scanner.RetentionDays <= 0 {
			return fmt.Errorf("scanner retention days must be positive")
		}
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Backend != "redis" && c.RateLimit.Backend != "memory" {
			return fmt.Errorf("unknown rate limit backend: %s", c.RateLimit.Backend)
		}
		if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit requests and window must be positive")
		}
	}

	return nil
}

// RedisAddr returns the host:port address of the metadata Redis
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// ProxyEnabled reports whether the secondary fetch path is configured
func (c *Config) ProxyEnabled() bool {
	return c.Fetch.ProxyURL != "" && c.Fetch.ProxyToken != ""
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvSlice parses a comma-separated list
func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
