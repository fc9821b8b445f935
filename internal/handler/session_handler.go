package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/agentmesh/trustgate/internal/middleware"
	"github.com/agentmesh/trustgate/internal/registry"
	"github.com/agentmesh/trustgate/internal/utils"
)

// SessionHandler handles session lifecycle HTTP endpoints for agents.
type SessionHandler struct {
	reg *registry.Registry
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(reg *registry.Registry) *SessionHandler {
	return &SessionHandler{reg: reg}
}

// Create handles POST /v1/sessions for an authenticated agent.
func (h *SessionHandler) Create(c *gin.Context) {
	view := middleware.GetClient(c)
	if view == nil {
		utils.Error(c, 401, "UNAUTHENTICATED", "Invalid credentials")
		return
	}

	sess, err := h.reg.CreateSession(view.ClientID)
	if err != nil {
		if errors.Is(err, utils.ErrInvalidState) {
			utils.Error(c, 409, "INVALID_STATE", "Client is not active")
			return
		}
		utils.Error(c, 500, "INTERNAL_ERROR", "Failed to create session")
		return
	}

	utils.Success(c, 201, "Session created", sess)
}

// Validate handles GET /v1/sessions/:token
func (h *SessionHandler) Validate(c *gin.Context) {
	sess, err := h.reg.ValidateSession(c.Param("token"))
	if err != nil {
		utils.Error(c, 404, "NOT_FOUND", "Session not found or expired")
		return
	}
	utils.Success(c, 200, "Session valid", sess)
}

// Heartbeat handles POST /v1/sessions/:token/heartbeat.
// Always answers 200: an unknown token means the session was already evicted,
// which the agent discovers on its next validate.
func (h *SessionHandler) Heartbeat(c *gin.Context) {
	h.reg.RecordHeartbeat(c.Param("token"))
	utils.Success(c, 200, "Heartbeat recorded", nil)
}
