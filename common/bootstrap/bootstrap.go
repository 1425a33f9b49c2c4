package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/lyzr/avatar-proxy/common/config"
	"github.com/lyzr/avatar-proxy/common/db"
	"github.com/lyzr/avatar-proxy/common/logger"
	rediscommon "github.com/lyzr/avatar-proxy/common/redis"
	"github.com/lyzr/avatar-proxy/common/telemetry"
	"github.com/redis/go-redis/v9"
)

// Setup initializes all service components
// This is the main entry point for all binaries
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	// 2. Initialize logger
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(
			components.Config.Service.LogLevel,
			components.Config.Service.LogFormat,
		)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environment", components.Config.Service.Environment,
	)

	// 3. Initialize Redis (metadata tier, rate limit counters)
	if options.customRedis != nil {
		components.Redis = options.customRedis
	} else {
		components.Redis = redis.NewClient(&redis.Options{
			Addr:     components.Config.RedisAddr(),
			Password: components.Config.Redis.Password,
			DB:       components.Config.Redis.DB,
		})
		components.addCleanup(func() error {
			components.Logger.Info("closing redis connection")
			return components.Redis.Close()
		})
	}
	components.RedisClient = rediscommon.NewClient(components.Redis, components.Logger)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	if err := components.RedisClient.Ping(pingCtx); err != nil {
		// Requests degrade to uncached fetches until Redis comes back
		components.Logger.Warn("redis unreachable at startup", "addr", components.Config.RedisAddr(), "error", err)
	}
	cancel()

	// 4. Initialize database (postgres blob backend only)
	if components.Config.Blob.Backend == "postgres" {
		components.Logger.Info("connecting to database")
		components.DB, err = db.New(ctx, components.Config, components.Logger)
		if err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		components.addCleanup(func() error {
			components.DB.Close()
			return nil
		})
	}

	// 5. Initialize telemetry (if not skipped)
	if !options.skipTelemetry && components.Config.Telemetry.EnablePprof {
		components.Logger.Info("initializing telemetry")
		components.Telemetry = telemetry.New(
			components.Config.Telemetry.PprofPort,
			components.Logger,
		)

		if err := components.Telemetry.Start(ctx); err != nil {
			components.Logger.Warn("failed to start telemetry", "error", err)
			// Don't fail startup if telemetry fails
		}

		components.addCleanup(func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return components.Telemetry.Shutdown(shutdownCtx)
		})
	}

	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"db", components.DB != nil,
		"blob_backend", components.Config.Blob.Backend,
		"telemetry", components.Telemetry != nil,
	)

	return components, nil
}
