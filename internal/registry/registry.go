// Package registry owns the authoritative client record set for the
// marketplace gatekeeper. It orchestrates the registration lifecycle,
// credential verification, reputation scoring, rate limiting and session
// management. All mutations of a single client are serialized by a per-record
// lock; operations on different clients never contend.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentmesh/trustgate/internal/events"
	"github.com/agentmesh/trustgate/internal/models"
	"github.com/agentmesh/trustgate/internal/ratelimit"
	"github.com/agentmesh/trustgate/internal/session"
	"github.com/agentmesh/trustgate/internal/trust"
	"github.com/agentmesh/trustgate/internal/utils"
)

// Store is the optional durable backend. Saves are write-behind: a slow store
// never stalls authentication or scoring.
type Store interface {
	Save(ctx context.Context, c *models.Client) error
	Load(ctx context.Context, clientID string) (*models.Client, error)
	LoadAll(ctx context.Context) ([]*models.Client, error)
}

// Config carries the registry's tunable policy.
type Config struct {
	// DefaultCeiling is the requests-per-window ceiling assigned at
	// registration.
	DefaultCeiling int
	// SuspendFloor is the score at or below which an issue report triggers
	// an automatic suspension. Normally equal to the scoring floor.
	SuspendFloor float64
}

// record pairs a client with the lock serializing its mutations.
type record struct {
	mu     sync.Mutex
	client models.Client
}

// Registry is the trust and access control engine. Construct with New; the
// zero value is not usable.
type Registry struct {
	mu         sync.RWMutex
	clients    map[string]*record
	byPublicID map[string]*record

	engine   *trust.Engine
	limiter  *ratelimit.Limiter
	sessions *session.Store
	hub      *events.Hub
	store    Store

	cfg Config
	now func() time.Time

	dirtyMu sync.Mutex
	dirty   map[string]struct{}

	// dummyHash absorbs secret comparisons for unknown public ids so the
	// unauthenticated path costs the same with or without a matching client.
	dummyHash string
}

// New constructs a Registry. store may be nil for purely in-memory operation.
func New(engine *trust.Engine, limiter *ratelimit.Limiter, sessions *session.Store, hub *events.Hub, store Store, cfg Config) *Registry {
	return &Registry{
		clients:    make(map[string]*record),
		byPublicID: make(map[string]*record),
		engine:     engine,
		limiter:    limiter,
		sessions:   sessions,
		hub:        hub,
		store:      store,
		cfg:        cfg,
		now:        time.Now,
		dirty:      make(map[string]struct{}),
		dummyHash:  utils.HashSecret("trustgate-dummy-secret"),
	}
}

// SetClock overrides the clock source. Intended for tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// LoadPersisted restores clients from the durable store at startup.
// Sessions and rate-limit windows are not persisted and start empty.
func (r *Registry) LoadPersisted(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	clients, err := r.store.LoadAll(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range clients {
		rec := &record{client: *c}
		r.clients[c.ClientID] = rec
		r.byPublicID[c.CredentialPublicID] = rec
		r.limiter.Track(c.ClientID, c.RateLimitCeiling)
	}
	log.Info().Int("clients", len(clients)).Msg("restored clients from store")
	return nil
}

// RegisterRequest carries registration input.
type RegisterRequest struct {
	Kind            models.ClientKind
	DisplayName     string
	Capabilities    []string
	Metadata        map[string]string
	RequireApproval bool
}

// Register creates a new client and issues its credential pair. The plaintext
// secret is returned exactly once; only its hash is retained.
func (r *Registry) Register(req RegisterRequest) (*models.Credentials, *models.View, error) {
	if !req.Kind.Valid() {
		return nil, nil, utils.ErrInvalidKind
	}

	clientID, err := utils.GenerateClientID(string(req.Kind))
	if err != nil {
		return nil, nil, err
	}
	publicID, secret, err := utils.GenerateCredentialPair()
	if err != nil {
		return nil, nil, err
	}

	status := models.StatusActive
	if req.RequireApproval {
		status = models.StatusPending
	}

	now := r.now()
	c := models.Client{
		ClientID:           clientID,
		Kind:               req.Kind,
		DisplayName:        req.DisplayName,
		Capabilities:       append([]string(nil), req.Capabilities...),
		Metadata:           req.Metadata,
		Status:             status,
		CredentialPublicID: publicID,
		SecretHash:         utils.HashSecret(secret),
		TrustScore:         r.engine.MinScore,
		RateLimitCeiling:   r.cfg.DefaultCeiling,
		RegisteredAt:       now,
		LastActiveAt:       now,
	}

	rec := &record{client: c}
	r.mu.Lock()
	r.clients[clientID] = rec
	r.byPublicID[publicID] = rec
	r.mu.Unlock()

	r.limiter.Track(clientID, c.RateLimitCeiling)
	r.markDirty(clientID)

	r.hub.Publish(models.Event{
		Type:     models.EventClientRegistered,
		ClientID: clientID,
		Status:   status,
	})
	log.Info().Str("client_id", clientID).Str("kind", string(req.Kind)).Str("status", string(status)).Msg("client registered")

	creds := &models.Credentials{ClientID: clientID, PublicID: publicID, Secret: secret}
	return creds, c.Sanitize(), nil
}

// Approve transitions a pending client to active.
func (r *Registry) Approve(clientID string) error {
	rec, err := r.lookup(clientID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	if rec.client.Status != models.StatusPending {
		rec.mu.Unlock()
		return utils.ErrInvalidState
	}
	rec.client.Status = models.StatusActive
	rec.client.StatusReason = ""
	rec.mu.Unlock()

	r.markDirty(clientID)
	r.hub.Publish(models.Event{
		Type:     models.EventClientApproved,
		ClientID: clientID,
		Status:   models.StatusActive,
	})
	log.Info().Str("client_id", clientID).Msg("client approved")
	return nil
}

// Authenticate verifies a credential pair and returns the sanitized client.
// Every failure mode returns ErrUnauthenticated: the caller cannot tell an
// unknown public id from a wrong secret or a non-active client.
func (r *Registry) Authenticate(publicID, secret string) (*models.View, error) {
	r.mu.RLock()
	rec, ok := r.byPublicID[publicID]
	r.mu.RUnlock()

	if !ok {
		// Burn a comparison so unknown ids cost the same as mismatches.
		utils.SecretMatches(r.dummyHash, secret)
		return nil, utils.ErrUnauthenticated
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !utils.SecretMatches(rec.client.SecretHash, secret) {
		return nil, utils.ErrUnauthenticated
	}
	if rec.client.Status != models.StatusActive {
		return nil, utils.ErrUnauthenticated
	}

	rec.client.LastActiveAt = r.now()
	return rec.client.Sanitize(), nil
}

// Suspend transitions an active client to suspended and synchronously evicts
// every session it owns.
func (r *Registry) Suspend(clientID, reason string) error {
	rec, err := r.lookup(clientID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	if rec.client.Status != models.StatusActive {
		rec.mu.Unlock()
		return utils.ErrInvalidState
	}
	rec.client.Status = models.StatusSuspended
	rec.client.StatusReason = reason
	rec.mu.Unlock()

	terminated := r.sessions.TerminateByClient(clientID, "client suspended")
	r.markDirty(clientID)

	r.hub.Publish(models.Event{
		Type:     models.EventClientSuspended,
		ClientID: clientID,
		Status:   models.StatusSuspended,
		Reason:   reason,
	})
	log.Info().Str("client_id", clientID).Str("reason", reason).Int("sessions_terminated", terminated).Msg("client suspended")
	return nil
}

// Reactivate transitions a suspended client back to active.
func (r *Registry) Reactivate(clientID string) error {
	rec, err := r.lookup(clientID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	if rec.client.Status != models.StatusSuspended {
		rec.mu.Unlock()
		return utils.ErrInvalidState
	}
	rec.client.Status = models.StatusActive
	rec.client.StatusReason = ""
	rec.mu.Unlock()

	r.markDirty(clientID)
	r.hub.Publish(models.Event{
		Type:     models.EventClientReactivated,
		ClientID: clientID,
		Status:   models.StatusActive,
	})
	log.Info().Str("client_id", clientID).Msg("client reactivated")
	return nil
}

// Deactivate moves a client to the terminal deactivated state and evicts its
// sessions. Valid from any state except deactivated itself.
func (r *Registry) Deactivate(clientID, reason string) error {
	rec, err := r.lookup(clientID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	if rec.client.Status == models.StatusDeactivated {
		rec.mu.Unlock()
		return utils.ErrInvalidState
	}
	rec.client.Status = models.StatusDeactivated
	rec.client.StatusReason = reason
	rec.mu.Unlock()

	terminated := r.sessions.TerminateByClient(clientID, "client deactivated")
	r.limiter.Untrack(clientID)
	r.markDirty(clientID)

	r.hub.Publish(models.Event{
		Type:     models.EventClientDeactivated,
		ClientID: clientID,
		Status:   models.StatusDeactivated,
		Reason:   reason,
	})
	log.Info().Str("client_id", clientID).Str("reason", reason).Int("sessions_terminated", terminated).Msg("client deactivated")
	return nil
}

// HasCapability reports whether the client declared the capability.
// Unknown clients simply lack every capability.
func (r *Registry) HasCapability(clientID, capability string) bool {
	rec, err := r.lookup(clientID)
	if err != nil {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.client.HasCapability(capability)
}

// GetClient returns the sanitized view of a client.
func (r *Registry) GetClient(clientID string) (*models.View, error) {
	rec, err := r.lookup(clientID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.client.Sanitize(), nil
}

// QueryFilter narrows Query results. Nil fields match everything.
type QueryFilter struct {
	Kind          *models.ClientKind
	Status        *models.ClientStatus
	MinTrustScore *float64
}

// Query returns sanitized views of every client matching the filter.
func (r *Registry) Query(f QueryFilter) []*models.View {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.clients))
	for _, rec := range r.clients {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	var out []*models.View
	for _, rec := range recs {
		rec.mu.Lock()
		c := rec.client
		rec.mu.Unlock()

		if f.Kind != nil && c.Kind != *f.Kind {
			continue
		}
		if f.Status != nil && c.Status != *f.Status {
			continue
		}
		if f.MinTrustScore != nil && c.TrustScore < *f.MinTrustScore {
			continue
		}
		out = append(out, c.Sanitize())
	}
	return out
}

// Statistics is the read-only diagnostic view of the registry.
type Statistics struct {
	TotalClients   int                         `json:"totalClients"`
	ByKind         map[models.ClientKind]int   `json:"byKind"`
	ByStatus       map[models.ClientStatus]int `json:"byStatus"`
	MeanTrustScore float64                     `json:"meanTrustScore"`
	ActiveSessions int                         `json:"activeSessions"`
}

// GetStatistics aggregates counts by kind and status plus the mean trust
// score across all clients.
func (r *Registry) GetStatistics() Statistics {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.clients))
	for _, rec := range r.clients {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	stats := Statistics{
		ByKind:         make(map[models.ClientKind]int),
		ByStatus:       make(map[models.ClientStatus]int),
		ActiveSessions: r.sessions.Count(),
	}

	var sum float64
	for _, rec := range recs {
		rec.mu.Lock()
		c := rec.client
		rec.mu.Unlock()

		stats.TotalClients++
		stats.ByKind[c.Kind]++
		stats.ByStatus[c.Status]++
		sum += c.TrustScore
	}
	if stats.TotalClients > 0 {
		stats.MeanTrustScore = sum / float64(stats.TotalClients)
	}
	return stats
}

// lookup finds the record for a client id.
func (r *Registry) lookup(clientID string) (*record, error) {
	r.mu.RLock()
	rec, ok := r.clients[clientID]
	r.mu.RUnlock()
	if !ok {
		return nil, utils.ErrNotFound
	}
	return rec, nil
}

// markDirty queues a client for the write-behind flusher. No-op without a
// durable store.
func (r *Registry) markDirty(clientID string) {
	if r.store == nil {
		return
	}
	r.dirtyMu.Lock()
	r.dirty[clientID] = struct{}{}
	r.dirtyMu.Unlock()
}

// FlushDirty persists every client touched since the previous flush. Save
// failures are logged and swallowed: persistence is best-effort and must
// never surface into request handling.
func (r *Registry) FlushDirty(ctx context.Context) {
	if r.store == nil {
		return
	}

	r.dirtyMu.Lock()
	if len(r.dirty) == 0 {
		r.dirtyMu.Unlock()
		return
	}
	ids := make([]string, 0, len(r.dirty))
	for id := range r.dirty {
		ids = append(ids, id)
	}
	r.dirty = make(map[string]struct{})
	r.dirtyMu.Unlock()

	for _, id := range ids {
		rec, err := r.lookup(id)
		if err != nil {
			continue
		}
		rec.mu.Lock()
		snapshot := rec.client
		rec.mu.Unlock()

		if err := r.store.Save(ctx, &snapshot); err != nil {
			log.Warn().Err(err).Str("client_id", id).Msg("client persist failed, will retry on next change")
			r.markDirty(id)
		}
	}
}
