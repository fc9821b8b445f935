package models

import "time"

// ClientKind identifies which side of the marketplace a participant acts on.
type ClientKind string

const (
	KindBuyer      ClientKind = "buyer"
	KindSeller     ClientKind = "seller"
	KindThirdParty ClientKind = "third-party"
)

// Valid reports whether the kind is one of the recognized participant kinds.
func (k ClientKind) Valid() bool {
	switch k {
	case KindBuyer, KindSeller, KindThirdParty:
		return true
	}
	return false
}

// ClientStatus is the lifecycle state of a registered client.
// Deactivated is terminal: no transition ever leaves it.
type ClientStatus string

const (
	StatusPending     ClientStatus = "pending"
	StatusActive      ClientStatus = "active"
	StatusSuspended   ClientStatus = "suspended"
	StatusDeactivated ClientStatus = "deactivated"
)

// Reputation holds the per-client counters the trust score is computed from.
// SuccessCount + FailureCount never exceeds TransactionCount; the three are
// only ever incremented together under the client's lock.
type Reputation struct {
	TransactionCount      int     `json:"transactionCount" db:"transaction_count"`
	SuccessCount          int     `json:"successCount" db:"success_count"`
	FailureCount          int     `json:"failureCount" db:"failure_count"`
	AverageResponseTimeMs float64 `json:"averageResponseTimeMs" db:"avg_response_time_ms"`
	ReportedIssueCount    int     `json:"reportedIssueCount" db:"reported_issue_count"`
}

// Client represents a registered marketplace participant.
// The plaintext credential secret is never stored; only its hash is retained.
type Client struct {
	ClientID           string       `json:"clientId" db:"client_id"`
	Kind               ClientKind   `json:"kind" db:"kind"`
	DisplayName        string       `json:"displayName" db:"display_name"`
	Capabilities       []string     `json:"capabilities" db:"capabilities"`
	Metadata           map[string]string `json:"metadata,omitempty" db:"-"`
	Status             ClientStatus `json:"status" db:"status"`
	StatusReason       string       `json:"statusReason,omitempty" db:"status_reason"`
	CredentialPublicID string       `json:"credentialPublicId" db:"credential_public_id"`
	SecretHash         string       `json:"secretHash" db:"secret_hash"`
	TrustScore         float64      `json:"trustScore" db:"trust_score"`
	Reputation         Reputation   `json:"reputation"`
	RateLimitCeiling   int          `json:"rateLimitCeiling" db:"rate_limit_ceiling"`
	RegisteredAt       time.Time    `json:"registeredAt" db:"registered_at"`
	LastActiveAt       time.Time    `json:"lastActiveAt" db:"last_active_at"`
}

// HasCapability reports whether the client declared the given capability.
func (c *Client) HasCapability(capability string) bool {
	for _, cap := range c.Capabilities {
		if cap == capability {
			return true
		}
	}
	return false
}

// View is the sanitized projection of a Client returned to external callers.
// It never carries secret material.
type View struct {
	ClientID         string       `json:"clientId"`
	Kind             ClientKind   `json:"kind"`
	DisplayName      string       `json:"displayName"`
	Capabilities     []string     `json:"capabilities"`
	Status           ClientStatus `json:"status"`
	TrustScore       float64      `json:"trustScore"`
	Reputation       Reputation   `json:"reputation"`
	RateLimitCeiling int          `json:"rateLimitCeiling"`
	RegisteredAt     time.Time    `json:"registeredAt"`
	LastActiveAt     time.Time    `json:"lastActiveAt"`
}

// Sanitize returns the external view of the client.
func (c *Client) Sanitize() *View {
	caps := make([]string, len(c.Capabilities))
	copy(caps, c.Capabilities)
	return &View{
		ClientID:         c.ClientID,
		Kind:             c.Kind,
		DisplayName:      c.DisplayName,
		Capabilities:     caps,
		Status:           c.Status,
		TrustScore:       c.TrustScore,
		Reputation:       c.Reputation,
		RateLimitCeiling: c.RateLimitCeiling,
		RegisteredAt:     c.RegisteredAt,
		LastActiveAt:     c.LastActiveAt,
	}
}

// Credentials is returned exactly once, from Register. The secret is not
// recoverable afterwards.
type Credentials struct {
	ClientID string `json:"clientId"`
	PublicID string `json:"publicId"`
	Secret   string `json:"secret"`
}
