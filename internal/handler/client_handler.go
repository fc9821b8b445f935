package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agentmesh/trustgate/internal/middleware"
	"github.com/agentmesh/trustgate/internal/models"
	"github.com/agentmesh/trustgate/internal/registry"
	"github.com/agentmesh/trustgate/internal/utils"
)

// ClientHandler handles registration and client lifecycle HTTP endpoints.
type ClientHandler struct {
	reg *registry.Registry
}

// NewClientHandler constructs a ClientHandler.
func NewClientHandler(reg *registry.Registry) *ClientHandler {
	return &ClientHandler{reg: reg}
}

// RegisterRequest is the payload for POST /v1/clients.
type RegisterRequest struct {
	Kind            string            `json:"kind" binding:"required"`
	DisplayName     string            `json:"displayName" binding:"required"`
	Capabilities    []string          `json:"capabilities"`
	Metadata        map[string]string `json:"metadata"`
	RequireApproval bool              `json:"requireApproval"`
}

// Register handles POST /v1/clients. The response carries the plaintext
// secret; it is never retrievable again.
func (h *ClientHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 400, "INVALID_REQUEST", "Invalid request body")
		return
	}

	creds, view, err := h.reg.Register(registry.RegisterRequest{
		Kind:            models.ClientKind(req.Kind),
		DisplayName:     req.DisplayName,
		Capabilities:    req.Capabilities,
		Metadata:        req.Metadata,
		RequireApproval: req.RequireApproval,
	})
	if err != nil {
		if errors.Is(err, utils.ErrInvalidKind) {
			utils.Error(c, 400, "INVALID_KIND", "kind must be buyer, seller, or third-party")
			return
		}
		utils.Error(c, 500, "INTERNAL_ERROR", "Failed to register client")
		return
	}

	utils.Success(c, 201, "Client registered", gin.H{
		"client":      view,
		"credentials": creds,
	})
}

// Approve handles POST /v1/admin/clients/:client_id/approve
func (h *ClientHandler) Approve(c *gin.Context) {
	h.transition(c, h.reg.Approve(c.Param("client_id")), "Client approved")
}

// Suspend handles POST /v1/admin/clients/:client_id/suspend
func (h *ClientHandler) Suspend(c *gin.Context) {
	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 400, "INVALID_REQUEST", "Invalid request body")
		return
	}
	h.transition(c, h.reg.Suspend(c.Param("client_id"), req.Reason), "Client suspended")
}

// Reactivate handles POST /v1/admin/clients/:client_id/reactivate
func (h *ClientHandler) Reactivate(c *gin.Context) {
	h.transition(c, h.reg.Reactivate(c.Param("client_id")), "Client reactivated")
}

// Deactivate handles POST /v1/admin/clients/:client_id/deactivate
func (h *ClientHandler) Deactivate(c *gin.Context) {
	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 400, "INVALID_REQUEST", "Invalid request body")
		return
	}
	h.transition(c, h.reg.Deactivate(c.Param("client_id"), req.Reason), "Client deactivated")
}

// transition maps a lifecycle-transition result to the response envelope.
func (h *ClientHandler) transition(c *gin.Context, err error, message string) {
	switch {
	case err == nil:
		utils.Success(c, 200, message, nil)
	case errors.Is(err, utils.ErrNotFound):
		utils.Error(c, 404, "NOT_FOUND", "Client not found")
	case errors.Is(err, utils.ErrInvalidState):
		utils.Error(c, 409, "INVALID_STATE", "Operation not valid for the client's current status")
	default:
		utils.Error(c, 500, "INTERNAL_ERROR", "Operation failed")
	}
}

// GetClient handles GET /v1/admin/clients/:client_id
func (h *ClientHandler) GetClient(c *gin.Context) {
	view, err := h.reg.GetClient(c.Param("client_id"))
	if err != nil {
		utils.Error(c, 404, "NOT_FOUND", "Client not found")
		return
	}
	utils.Success(c, 200, "Client retrieved", view)
}

// Query handles GET /v1/admin/clients?kind=&status=&min_trust_score=
func (h *ClientHandler) Query(c *gin.Context) {
	var filter registry.QueryFilter

	if v := c.Query("kind"); v != "" {
		kind := models.ClientKind(v)
		if !kind.Valid() {
			utils.Error(c, 400, "INVALID_KIND", "Unknown kind filter")
			return
		}
		filter.Kind = &kind
	}
	if v := c.Query("status"); v != "" {
		status := models.ClientStatus(v)
		filter.Status = &status
	}
	if v := c.Query("min_trust_score"); v != "" {
		score, err := strconv.ParseFloat(v, 64)
		if err != nil {
			utils.Error(c, 400, "INVALID_REQUEST", "min_trust_score must be a number")
			return
		}
		filter.MinTrustScore = &score
	}

	views := h.reg.Query(filter)
	utils.Success(c, 200, "Clients retrieved", gin.H{
		"clients": views,
		"count":   len(views),
	})
}

// UpdateCeiling handles PUT /v1/admin/clients/:client_id/rate-limit
func (h *ClientHandler) UpdateCeiling(c *gin.Context) {
	var req struct {
		Ceiling int `json:"ceiling" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 400, "INVALID_REQUEST", "Invalid request body")
		return
	}

	err := h.reg.UpdateCeiling(c.Param("client_id"), req.Ceiling)
	switch {
	case err == nil:
		utils.Success(c, 200, "Rate limit updated", gin.H{"ceiling": req.Ceiling})
	case errors.Is(err, utils.ErrNotFound):
		utils.Error(c, 404, "NOT_FOUND", "Client not found")
	default:
		utils.Error(c, 400, "INVALID_REQUEST", "Ceiling must be positive")
	}
}

// HasCapability handles GET /v1/clients/:client_id/capabilities/:capability
func (h *ClientHandler) HasCapability(c *gin.Context) {
	has := h.reg.HasCapability(c.Param("client_id"), c.Param("capability"))
	utils.Success(c, 200, "Capability checked", gin.H{"hasCapability": has})
}

// Me handles GET /v1/me for an authenticated agent.
func (h *ClientHandler) Me(c *gin.Context) {
	view := middleware.GetClient(c)
	if view == nil {
		utils.Error(c, 401, "UNAUTHENTICATED", "Invalid credentials")
		return
	}
	utils.Success(c, 200, "Profile retrieved", view)
}
