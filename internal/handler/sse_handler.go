package handler

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/agentmesh/trustgate/internal/events"
	"github.com/agentmesh/trustgate/internal/utils"
)

// SSEHandler streams registry events to admin consoles over Server-Sent
// Events.
type SSEHandler struct {
	hub *events.Hub
}

// NewSSEHandler creates a new SSEHandler.
func NewSSEHandler(hub *events.Hub) *SSEHandler {
	return &SSEHandler{hub: hub}
}

// Stream handles GET /v1/admin/events?token=<jwt>
// EventSource API cannot set custom headers, so the JWT is passed via query
// param.
func (h *SSEHandler) Stream(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		utils.Error(c, 401, "UNAUTHORIZED", "Missing token query parameter")
		return
	}

	claims, err := utils.ValidateJWT(token)
	if err != nil {
		utils.Error(c, 401, "INVALID_TOKEN", "Invalid or expired token")
		return
	}

	subscriberID := fmt.Sprintf("admin-%s-%d", claims.Username, time.Now().UnixNano())

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // Disable nginx buffering

	sub := h.hub.Subscribe(subscriberID)
	defer h.hub.Unsubscribe(subscriberID)

	c.SSEvent("connected", gin.H{
		"subscriberId": subscriberID,
		"timestamp":    time.Now().Format(time.RFC3339),
	})
	c.Writer.Flush()

	log.Info().Str("subscriber_id", subscriberID).Str("admin", claims.Username).Msg("admin event stream started")

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-keepalive.C:
			c.SSEvent("ping", nil)
			c.Writer.Flush()
		case data, ok := <-sub.Events:
			if !ok {
				return
			}
			c.SSEvent("registry", string(data))
			c.Writer.Flush()
		}
	}
}
