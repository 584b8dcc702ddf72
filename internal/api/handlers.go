// services/gateway/internal/api/handlers.go
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"example.com/backstage/services/gateway/internal/core"
)

// Handlers exposes the gateway's operational surface.
type Handlers struct {
	gateway *core.Gateway
	journal core.CommandStore
	logger  *logrus.Logger
}

// NewHandlers creates the API handlers. journal may be nil when the command
// journal is not configured.
func NewHandlers(gateway *core.Gateway, journal core.CommandStore, logger *logrus.Logger) *Handlers {
	return &Handlers{gateway: gateway, journal: journal, logger: logger}
}

// Health reports service liveness and the registry size.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"devices": h.gateway.Registry.Len(),
	})
}

// ListDevices returns the registry snapshot.
func (h *Handlers) ListDevices(c *gin.Context) {
	c.JSON(http.StatusOK, h.gateway.Registry.List())
}

// GetDevice returns one registered device.
func (h *Handlers) GetDevice(c *gin.Context) {
	rec, ok := h.gateway.Registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": core.ErrDeviceNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ListCommands returns recent command journal entries.
func (h *Handlers) ListCommands(c *gin.Context) {
	if h.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "command journal not configured"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	records, err := h.journal.ListRecent(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list command journal")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list commands"})
		return
	}
	c.JSON(http.StatusOK, records)
}

// RelayCommand injects a command through the relay, exactly as if the
// backend had issued it. Used for operational recovery and testing.
func (h *Handlers) RelayCommand(c *gin.Context) {
	var req core.CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Device == "" && req.Group == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": core.ErrNoCommandTarget.Error()})
		return
	}

	if err := h.gateway.Relay.Deliver(c.Request.Context(), req); err != nil {
		h.logger.WithError(err).Error("Manual command relay failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}
