package models

import "time"

// EventType names the categories of events the registry emits.
type EventType string

const (
	EventClientRegistered   EventType = "client.registered"
	EventClientApproved     EventType = "client.approved"
	EventClientSuspended    EventType = "client.suspended"
	EventClientReactivated  EventType = "client.reactivated"
	EventClientDeactivated  EventType = "client.deactivated"
	EventTrustScoreChanged  EventType = "trust.score_changed"
	EventIssueReported      EventType = "trust.issue_reported"
	EventAutoSuspended      EventType = "trust.auto_suspended"
	EventRateLimitDenied    EventType = "ratelimit.denied"
	EventSessionCreated     EventType = "session.created"
	EventSessionExpired     EventType = "session.expired"
	EventConnectionLost     EventType = "session.connection_lost"
)

// Event is the payload pushed to the registered sink and broadcast to admin
// SSE consumers. Emission is best-effort; producers never block on it.
type Event struct {
	Type         EventType    `json:"event"`
	ClientID     string       `json:"clientId,omitempty"`
	SessionToken string       `json:"sessionToken,omitempty"`
	Status       ClientStatus `json:"status,omitempty"`
	TrustScore   float64      `json:"trustScore,omitempty"`
	Reason       string       `json:"reason,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
}
