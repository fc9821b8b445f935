package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/agentmesh/trustgate/internal/registry"
	"github.com/agentmesh/trustgate/internal/utils"
)

// TrustHandler handles reputation-affecting HTTP endpoints.
type TrustHandler struct {
	reg *registry.Registry
}

// NewTrustHandler constructs a TrustHandler.
func NewTrustHandler(reg *registry.Registry) *TrustHandler {
	return &TrustHandler{reg: reg}
}

// RecordOutcome handles POST /v1/clients/:client_id/outcomes.
// Called by the broker when a transaction involving the client completes.
type outcomeRequest struct {
	Successful     *bool   `json:"successful" binding:"required"`
	ResponseTimeMs float64 `json:"responseTimeMs"`
}

func (h *TrustHandler) RecordOutcome(c *gin.Context) {
	var req outcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 400, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.ResponseTimeMs < 0 {
		utils.Error(c, 400, "INVALID_REQUEST", "responseTimeMs must be non-negative")
		return
	}

	err := h.reg.RecordTransactionOutcome(c.Param("client_id"), *req.Successful, req.ResponseTimeMs)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			utils.Error(c, 404, "NOT_FOUND", "Client not found")
			return
		}
		utils.Error(c, 500, "INTERNAL_ERROR", "Failed to record outcome")
		return
	}

	view, _ := h.reg.GetClient(c.Param("client_id"))
	utils.Success(c, 200, "Outcome recorded", view)
}

// ReportIssue handles POST /v1/clients/:client_id/issues.
func (h *TrustHandler) ReportIssue(c *gin.Context) {
	var req struct {
		Details string `json:"details" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 400, "INVALID_REQUEST", "Invalid request body")
		return
	}

	err := h.reg.ReportIssue(c.Param("client_id"), req.Details)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			utils.Error(c, 404, "NOT_FOUND", "Client not found")
			return
		}
		utils.Error(c, 500, "INTERNAL_ERROR", "Failed to report issue")
		return
	}

	view, _ := h.reg.GetClient(c.Param("client_id"))
	utils.Success(c, 200, "Issue reported", view)
}
