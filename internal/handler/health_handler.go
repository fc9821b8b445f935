package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentmesh/trustgate/internal/registry"
	"github.com/agentmesh/trustgate/internal/utils"
)

var startTime = time.Now()

// HealthHandler provides the health endpoint.
type HealthHandler struct {
	reg *registry.Registry
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(reg *registry.Registry) *HealthHandler {
	return &HealthHandler{reg: reg}
}

// GetHealth responds with service status and registry counts.
func (h *HealthHandler) GetHealth(c *gin.Context) {
	stats := h.reg.GetStatistics()
	utils.Success(c, 200, "Service is healthy", gin.H{
		"status":         "healthy",
		"version":        "1.0.0",
		"uptime":         int(time.Since(startTime).Seconds()),
		"clients":        stats.TotalClients,
		"activeSessions": stats.ActiveSessions,
	})
}
