// services/gateway/internal/api/routes.go
package api

import "github.com/gin-gonic/gin"

// SetupRoutes registers the ops endpoints.
func SetupRoutes(router *gin.Engine, h *Handlers) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/devices", h.ListDevices)
		v1.GET("/devices/:id", h.GetDevice)
		v1.GET("/commands", h.ListCommands)
		v1.POST("/commands", h.RelayCommand)
	}
}
