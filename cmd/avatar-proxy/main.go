package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/container"
	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/routes"
	"github.com/lyzr/avatar-proxy/common/bootstrap"
	"github.com/lyzr/avatar-proxy/common/middleware"
	"github.com/lyzr/avatar-proxy/common/server"
	"github.com/lyzr/avatar-proxy/common/telemetry"
)

const serviceName = "avatar-proxy"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bootstrap common components (config, logger, redis, optional db, telemetry)
	components, err := bootstrap.Setup(ctx, serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap %s: %v\n", serviceName, err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	// Initialize service container (singleton pattern - all services created once)
	serviceContainer, err := container.NewContainer(ctx, components)
	if err != nil {
		components.Logger.Error("failed to initialize service container", "error", err)
		os.Exit(1)
	}

	// Initialize Echo server
	e := setupEcho()

	// Setup middleware
	setupMiddleware(e, serviceContainer)

	// Setup health check and metrics
	setupHealthCheck(e, serviceContainer)

	// Register all routes
	registerRoutes(e, serviceContainer)

	// Background discovery and pruning
	startScanner(ctx, serviceContainer)

	// Start server
	if err := startServer(ctx, e, components); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo, c *container.Container) {
	cfg := c.Components.Config

	e.Use(echomiddleware.RequestIDWithConfig(echomiddleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger(c.Components.Logger))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins:  cfg.Service.CORSOrigins,
		AllowMethods:  []string{"GET", "HEAD", "OPTIONS"},
		ExposeHeaders: []string{"ETag", "Last-Modified", "X-Cache"},
	}))
	e.Use(middleware.SecurityHeaders())
	if cfg.Telemetry.EnableMetrics {
		e.Use(middleware.MetricsMiddleware())
	}
	if c.RateLimiter != nil {
		e.Use(middleware.RateLimitMiddleware(c.RateLimiter))
	}
}

// setupHealthCheck registers the health check and metrics endpoints
func setupHealthCheck(e *echo.Echo, c *container.Container) {
	routes.RegisterHealthRoutes(e, c)

	if c.Components.Config.Telemetry.EnableMetrics {
		e.GET("/metrics", echo.WrapHandler(telemetry.MetricsHandler()))
	}
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, c *container.Container) {
	routes.RegisterAvatarRoutes(e, c)
}

// startScanner runs the scanner loop until ctx is cancelled
func startScanner(ctx context.Context, c *container.Container) {
	if !c.Components.Config.Scanner.Enabled {
		c.Components.Logger.Info("scanner disabled")
		return
	}

	go func() {
		if err := c.Scanner.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.Components.Logger.Error("scanner stopped", "error", err)
		}
	}()
}

// startServer serves until a shutdown signal, then stops the scanner
func startServer(ctx context.Context, e *echo.Echo, components *bootstrap.Components) error {
	cfg := components.Config

	// A miss can spend a relay lookup plus an origin and a proxy download
	writeTimeout := cfg.Relay.LookupTimeout + cfg.Relay.ConnectTimeout + cfg.Fetch.Timeout + cfg.Fetch.ProxyTimeout + 5*time.Second

	srv := server.New(serviceName, cfg.Service.Port, e, writeTimeout, components.Logger)
	return srv.Start(ctx)
}
