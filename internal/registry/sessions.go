package registry

import (
	"github.com/agentmesh/trustgate/internal/models"
	"github.com/agentmesh/trustgate/internal/ratelimit"
	"github.com/agentmesh/trustgate/internal/utils"
)

// CreateSession opens a session for an active client. Suspended, pending and
// deactivated clients cannot open sessions.
func (r *Registry) CreateSession(clientID string) (*models.Session, error) {
	rec, err := r.lookup(clientID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	active := rec.client.Status == models.StatusActive
	rec.mu.Unlock()
	if !active {
		return nil, utils.ErrInvalidState
	}

	return r.sessions.Create(clientID)
}

// ValidateSession returns the session for the token if it is still live,
// refreshing its liveness mark.
func (r *Registry) ValidateSession(token string) (*models.Session, error) {
	return r.sessions.Validate(token)
}

// RecordHeartbeat re-arms the session's liveness timer. Unknown tokens are a
// no-op.
func (r *Registry) RecordHeartbeat(token string) {
	r.sessions.Heartbeat(token)
}

// CheckAndRecord gates one request by the client's sliding window. A denial
// is a normal outcome and is reported to the event hub.
func (r *Registry) CheckAndRecord(clientID string) ratelimit.Decision {
	d := r.limiter.CheckAndRecord(clientID)
	if d == ratelimit.Denied {
		r.hub.Publish(models.Event{
			Type:     models.EventRateLimitDenied,
			ClientID: clientID,
		})
	}
	return d
}

// UpdateCeiling changes the client's rate-limit ceiling for subsequent
// checks. Requests already counted in the current window are unaffected.
func (r *Registry) UpdateCeiling(clientID string, ceiling int) error {
	rec, err := r.lookup(clientID)
	if err != nil {
		return err
	}
	if ceiling <= 0 {
		return utils.ErrInvalidInput
	}

	rec.mu.Lock()
	rec.client.RateLimitCeiling = ceiling
	rec.mu.Unlock()

	r.limiter.UpdateCeiling(clientID, ceiling)
	r.markDirty(clientID)
	return nil
}
