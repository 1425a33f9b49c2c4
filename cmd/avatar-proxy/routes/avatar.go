package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/container"
	"github.com/lyzr/avatar-proxy/cmd/avatar-proxy/handlers"
)

// RegisterAvatarRoutes registers the public avatar routes
func RegisterAvatarRoutes(e *echo.Echo, c *container.Container) {
	// Create handler with dependencies
	h := handlers.NewAvatarHandler(c.AvatarService, c.Components.Logger)

	avatars := e.Group("/avatar")
	{
		avatars.GET("/:identity", h.GetAvatar)  // GET /avatar/e0f6...2b55?size=200&format=webp
		avatars.HEAD("/:identity", h.GetAvatar) // HEAD /avatar/e0f6...2b55
	}
}

// RegisterHealthRoutes registers the health check
func RegisterHealthRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewHealthHandler(c.Components.Config.Service.Name, c.Store)

	e.GET("/health", h.GetHealth) // GET /health
}
