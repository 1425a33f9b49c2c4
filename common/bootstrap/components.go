package bootstrap

import (
	"context"
	"fmt"

	"github.com/lyzr/avatar-proxy/common/config"
	"github.com/lyzr/avatar-proxy/common/db"
	"github.com/lyzr/avatar-proxy/common/logger"
	rediscommon "github.com/lyzr/avatar-proxy/common/redis"
	"github.com/lyzr/avatar-proxy/common/telemetry"
	"github.com/redis/go-redis/v9"
)

// Components holds all initialized service dependencies
type Components struct {
	Config      *config.Config
	Logger      *logger.Logger
	Redis       *redis.Client
	RedisClient *rediscommon.Client
	DB          *db.DB
	Telemetry   *telemetry.Telemetry

	// Internal
	cleanupFuncs []func() error
}

// Shutdown performs graceful shutdown of all components
// Should be called with defer after Setup()
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errors []error

	// Run cleanup functions in reverse order (LIFO)
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errors = append(errors, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}
	c.cleanupFuncs = nil

	if len(errors) > 0 {
		return fmt.Errorf("shutdown errors: %v", errors)
	}

	c.Logger.Info("shutdown complete")
	return nil
}

// Health checks health of the connection-backed components
func (c *Components) Health(ctx context.Context) error {
	if err := c.RedisClient.Ping(ctx); err != nil {
		return fmt.Errorf("redis unhealthy: %w", err)
	}

	if c.DB != nil {
		if err := c.DB.Health(ctx); err != nil {
			return fmt.Errorf("database unhealthy: %w", err)
		}
	}

	return nil
}

// AddCleanup registers a cleanup function run by Shutdown
func (c *Components) AddCleanup(fn func() error) {
	c.addCleanup(fn)
}

func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
