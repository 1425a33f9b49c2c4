package bootstrap

import (
	"github.com/lyzr/avatar-proxy/common/config"
	"github.com/lyzr/avatar-proxy/common/logger"
	"github.com/redis/go-redis/v9"
)

// Option configures the bootstrap process
type Option func(*options)

type options struct {
	skipTelemetry bool
	customLogger  *logger.Logger
	customConfig  *config.Config
	customRedis   *redis.Client
}

// WithoutTelemetry skips telemetry initialization
func WithoutTelemetry() Option {
	return func(o *options) {
		o.skipTelemetry = true
	}
}

// WithCustomLogger uses a custom logger instead of creating one
func WithCustomLogger(log *logger.Logger) Option {
	return func(o *options) {
		o.customLogger = log
	}
}

// WithCustomConfig uses a custom config instead of loading from env
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.customConfig = cfg
	}
}

// WithRedisClient uses an existing Redis client. The caller keeps ownership.
func WithRedisClient(client *redis.Client) Option {
	return func(o *options) {
		o.customRedis = client
	}
}

func defaultOptions() *options {
	return &options{}
}
