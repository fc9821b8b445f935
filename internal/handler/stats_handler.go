package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/agentmesh/trustgate/internal/registry"
	"github.com/agentmesh/trustgate/internal/utils"
)

// StatsHandler exposes the registry's read-only diagnostic view.
type StatsHandler struct {
	reg *registry.Registry
}

// NewStatsHandler constructs a StatsHandler.
func NewStatsHandler(reg *registry.Registry) *StatsHandler {
	return &StatsHandler{reg: reg}
}

// GetStatistics handles GET /v1/admin/statistics
func (h *StatsHandler) GetStatistics(c *gin.Context) {
	utils.Success(c, 200, "Statistics retrieved", h.reg.GetStatistics())
}
