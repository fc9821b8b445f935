package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/trustgate/internal/events"
	"github.com/agentmesh/trustgate/internal/models"
	"github.com/agentmesh/trustgate/internal/ratelimit"
	"github.com/agentmesh/trustgate/internal/session"
	"github.com/agentmesh/trustgate/internal/trust"
	"github.com/agentmesh/trustgate/internal/utils"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return newTestRegistryWithStore(t, nil)
}

func newTestRegistryWithStore(t *testing.T, store Store) *Registry {
	t.Helper()
	hub := events.NewHub(nil)
	engine := trust.NewEngine(0.5, 1.0, trust.DefaultWeights())
	limiter := ratelimit.New(time.Minute, 60)
	sessions := session.NewStore(24*time.Hour, time.Minute, hub)
	t.Cleanup(sessions.Close)
	return New(engine, limiter, sessions, hub, store, Config{
		DefaultCeiling: 60,
		SuspendFloor:   0.5,
	})
}

func registerActive(t *testing.T, r *Registry, kind models.ClientKind) (*models.Credentials, *models.View) {
	t.Helper()
	creds, view, err := r.Register(RegisterRequest{
		Kind:        kind,
		DisplayName: "test agent",
	})
	require.NoError(t, err)
	return creds, view
}

func TestRegisterActiveImmediately(t *testing.T) {
	r := newTestRegistry(t)

	creds, view, err := r.Register(RegisterRequest{
		Kind:         models.KindSeller,
		DisplayName:  "acme pricing bot",
		Capabilities: []string{"negotiation", "loyalty-pricing"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusActive, view.Status)
	assert.Equal(t, models.KindSeller, view.Kind)
	assert.Equal(t, 0.5, view.TrustScore)
	assert.Contains(t, creds.ClientID, "seller_")
	assert.NotEmpty(t, creds.Secret)
	assert.Equal(t, creds.ClientID, view.ClientID)
}

func TestRegisterWithApprovalIsPending(t *testing.T) {
	r := newTestRegistry(t)

	_, view, err := r.Register(RegisterRequest{
		Kind:            models.KindBuyer,
		DisplayName:     "shopper",
		RequireApproval: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, view.Status)
}

func TestRegisterRejectsUnknownKind(t *testing.T) {
	r := newTestRegistry(t)

	_, _, err := r.Register(RegisterRequest{Kind: "auctioneer", DisplayName: "x"})
	assert.ErrorIs(t, err, utils.ErrInvalidKind)
}

func TestApproveLifecycle(t *testing.T) {
	r := newTestRegistry(t)

	_, view, err := r.Register(RegisterRequest{
		Kind:            models.KindSeller,
		DisplayName:     "needs approval",
		RequireApproval: true,
	})
	require.NoError(t, err)

	require.NoError(t, r.Approve(view.ClientID))
	got, err := r.GetClient(view.ClientID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)

	// Approving an already-active client fails the same way every time.
	assert.ErrorIs(t, r.Approve(view.ClientID), utils.ErrInvalidState)
	assert.ErrorIs(t, r.Approve(view.ClientID), utils.ErrInvalidState)

	got, err = r.GetClient(view.ClientID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)
}

func TestApproveUnknownClient(t *testing.T) {
	r := newTestRegistry(t)
	assert.ErrorIs(t, r.Approve("seller_missing"), utils.ErrNotFound)
}

func TestAuthenticate(t *testing.T) {
	r := newTestRegistry(t)
	creds, view := registerActive(t, r, models.KindBuyer)

	got, err := r.Authenticate(creds.PublicID, creds.Secret)
	require.NoError(t, err)
	assert.Equal(t, view.ClientID, got.ClientID)
}

func TestAuthenticateFailuresAreIndistinguishable(t *testing.T) {
	r := newTestRegistry(t)
	creds, _ := registerActive(t, r, models.KindBuyer)

	_, wrongSecret := r.Authenticate(creds.PublicID, "tg_sec_wrong")
	_, unknownID := r.Authenticate("tg_pub_missing", creds.Secret)

	assert.ErrorIs(t, wrongSecret, utils.ErrUnauthenticated)
	assert.ErrorIs(t, unknownID, utils.ErrUnauthenticated)
	assert.Equal(t, wrongSecret, unknownID)
}

func TestAuthenticateRequiresActiveStatus(t *testing.T) {
	r := newTestRegistry(t)

	creds, view, err := r.Register(RegisterRequest{
		Kind:            models.KindSeller,
		DisplayName:     "pending seller",
		RequireApproval: true,
	})
	require.NoError(t, err)

	_, err = r.Authenticate(creds.PublicID, creds.Secret)
	assert.ErrorIs(t, err, utils.ErrUnauthenticated)

	require.NoError(t, r.Approve(view.ClientID))
	_, err = r.Authenticate(creds.PublicID, creds.Secret)
	assert.NoError(t, err)

	require.NoError(t, r.Suspend(view.ClientID, "manual review"))
	_, err = r.Authenticate(creds.PublicID, creds.Secret)
	assert.ErrorIs(t, err, utils.ErrUnauthenticated)
}

func TestSuspendAndReactivate(t *testing.T) {
	r := newTestRegistry(t)
	_, view := registerActive(t, r, models.KindSeller)

	require.NoError(t, r.Suspend(view.ClientID, "manual review"))
	got, _ := r.GetClient(view.ClientID)
	assert.Equal(t, models.StatusSuspended, got.Status)

	// Suspending twice is invalid.
	assert.ErrorIs(t, r.Suspend(view.ClientID, "again"), utils.ErrInvalidState)

	require.NoError(t, r.Reactivate(view.ClientID))
	got, _ = r.GetClient(view.ClientID)
	assert.Equal(t, models.StatusActive, got.Status)

	assert.ErrorIs(t, r.Reactivate(view.ClientID), utils.ErrInvalidState)
}

func TestDeactivateIsTerminal(t *testing.T) {
	r := newTestRegistry(t)
	_, view := registerActive(t, r, models.KindThirdParty)

	require.NoError(t, r.Deactivate(view.ClientID, "offboarded"))

	assert.ErrorIs(t, r.Deactivate(view.ClientID, "again"), utils.ErrInvalidState)
	assert.ErrorIs(t, r.Approve(view.ClientID), utils.ErrInvalidState)
	assert.ErrorIs(t, r.Suspend(view.ClientID, "x"), utils.ErrInvalidState)
	assert.ErrorIs(t, r.Reactivate(view.ClientID), utils.ErrInvalidState)

	got, err := r.GetClient(view.ClientID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeactivated, got.Status)
}

func TestPendingCanBeDeactivated(t *testing.T) {
	r := newTestRegistry(t)

	_, view, err := r.Register(RegisterRequest{
		Kind:            models.KindBuyer,
		DisplayName:     "rejected applicant",
		RequireApproval: true,
	})
	require.NoError(t, err)

	require.NoError(t, r.Deactivate(view.ClientID, "registration rejected"))
	got, _ := r.GetClient(view.ClientID)
	assert.Equal(t, models.StatusDeactivated, got.Status)
}

func TestSuspendCascadesSessions(t *testing.T) {
	r := newTestRegistry(t)
	_, view := registerActive(t, r, models.KindSeller)

	s1, err := r.CreateSession(view.ClientID)
	require.NoError(t, err)
	s2, err := r.CreateSession(view.ClientID)
	require.NoError(t, err)

	require.NoError(t, r.Suspend(view.ClientID, "fraud signal"))

	_, err = r.ValidateSession(s1.Token)
	assert.ErrorIs(t, err, utils.ErrNotFound)
	_, err = r.ValidateSession(s2.Token)
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestCreateSessionRequiresActiveClient(t *testing.T) {
	r := newTestRegistry(t)
	_, view := registerActive(t, r, models.KindBuyer)

	require.NoError(t, r.Suspend(view.ClientID, "hold"))
	_, err := r.CreateSession(view.ClientID)
	assert.ErrorIs(t, err, utils.ErrInvalidState)

	_, err = r.CreateSession("buyer_missing")
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestHasCapability(t *testing.T) {
	r := newTestRegistry(t)

	_, view, err := r.Register(RegisterRequest{
		Kind:         models.KindSeller,
		DisplayName:  "negotiator",
		Capabilities: []string{"negotiation"},
	})
	require.NoError(t, err)

	assert.True(t, r.HasCapability(view.ClientID, "negotiation"))
	assert.False(t, r.HasCapability(view.ClientID, "loyalty-pricing"))
	assert.False(t, r.HasCapability("seller_missing", "negotiation"))
}

func TestRecordTransactionOutcome(t *testing.T) {
	r := newTestRegistry(t)
	_, view := registerActive(t, r, models.KindSeller)

	scoreAtRegistration := view.TrustScore

	require.NoError(t, r.RecordTransactionOutcome(view.ClientID, true, 200))

	got, err := r.GetClient(view.ClientID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Reputation.TransactionCount)
	assert.Equal(t, 1, got.Reputation.SuccessCount)
	assert.Equal(t, 0, got.Reputation.FailureCount)
	assert.InDelta(t, 200, got.Reputation.AverageResponseTimeMs, 1e-9)
	assert.Greater(t, got.TrustScore, scoreAtRegistration)
}

func TestOutcomeCountersStayConsistent(t *testing.T) {
	r := newTestRegistry(t)
	_, view := registerActive(t, r, models.KindBuyer)

	outcomes := []struct {
		ok bool
		ms float64
	}{
		{true, 100}, {false, 900}, {true, 300}, {true, 250}, {false, 1200},
	}
	for _, o := range outcomes {
		require.NoError(t, r.RecordTransactionOutcome(view.ClientID, o.ok, o.ms))
	}

	got, _ := r.GetClient(view.ClientID)
	rep := got.Reputation
	assert.Equal(t, rep.TransactionCount, rep.SuccessCount+rep.FailureCount)
	assert.Equal(t, 5, rep.TransactionCount)
	assert.InDelta(t, 550, rep.AverageResponseTimeMs, 1e-9)
	assert.GreaterOrEqual(t, got.TrustScore, 0.5)
	assert.LessOrEqual(t, got.TrustScore, 1.0)
}

func TestConcurrentOutcomesLoseNoUpdates(t *testing.T) {
	r := newTestRegistry(t)
	_, view := registerActive(t, r, models.KindSeller)

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.RecordTransactionOutcome(view.ClientID, i%2 == 0, 100)
		}(i)
	}
	wg.Wait()

	got, _ := r.GetClient(view.ClientID)
	assert.Equal(t, n, got.Reputation.TransactionCount)
	assert.Equal(t, n/2, got.Reputation.SuccessCount)
	assert.Equal(t, n/2, got.Reputation.FailureCount)
}

func TestTenIssuesSuspendFreshClient(t *testing.T) {
	r := newTestRegistry(t)
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.SetClock(func() time.Time { return fixed })
	_, view := registerActive(t, r, models.KindSeller)

	for i := 0; i < 10; i++ {
		require.NoError(t, r.ReportIssue(view.ClientID, "late delivery"))
	}

	got, err := r.GetClient(view.ClientID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuspended, got.Status)
	assert.Equal(t, 10, got.Reputation.ReportedIssueCount)
	assert.Equal(t, 0.5, got.TrustScore)
}

func TestAutoSuspendTerminatesSessions(t *testing.T) {
	r := newTestRegistry(t)
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.SetClock(func() time.Time { return fixed })
	_, view := registerActive(t, r, models.KindSeller)

	sess, err := r.CreateSession(view.ClientID)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, r.ReportIssue(view.ClientID, "nonpayment"))
	}

	_, err = r.ValidateSession(sess.Token)
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestIssueReportsOnHealthyClientDoNotSuspend(t *testing.T) {
	r := newTestRegistry(t)
	_, view := registerActive(t, r, models.KindSeller)

	// A strong transaction history keeps the score above the floor.
	for i := 0; i < 50; i++ {
		require.NoError(t, r.RecordTransactionOutcome(view.ClientID, true, 100))
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, r.ReportIssue(view.ClientID, "minor complaint"))
	}

	got, _ := r.GetClient(view.ClientID)
	assert.Equal(t, models.StatusActive, got.Status)
}

func TestQueryFilters(t *testing.T) {
	r := newTestRegistry(t)

	registerActive(t, r, models.KindSeller)
	registerActive(t, r, models.KindSeller)
	_, buyer := registerActive(t, r, models.KindBuyer)
	require.NoError(t, r.Suspend(buyer.ClientID, "hold"))

	seller := models.KindSeller
	assert.Len(t, r.Query(QueryFilter{Kind: &seller}), 2)

	suspended := models.StatusSuspended
	views := r.Query(QueryFilter{Status: &suspended})
	require.Len(t, views, 1)
	assert.Equal(t, buyer.ClientID, views[0].ClientID)

	high := 0.9
	assert.Empty(t, r.Query(QueryFilter{MinTrustScore: &high}))
}

func TestGetStatistics(t *testing.T) {
	r := newTestRegistry(t)

	registerActive(t, r, models.KindSeller)
	registerActive(t, r, models.KindBuyer)
	_, third := registerActive(t, r, models.KindThirdParty)
	require.NoError(t, r.Suspend(third.ClientID, "hold"))

	stats := r.GetStatistics()
	assert.Equal(t, 3, stats.TotalClients)
	assert.Equal(t, 1, stats.ByKind[models.KindSeller])
	assert.Equal(t, 1, stats.ByKind[models.KindBuyer])
	assert.Equal(t, 1, stats.ByKind[models.KindThirdParty])
	assert.Equal(t, 2, stats.ByStatus[models.StatusActive])
	assert.Equal(t, 1, stats.ByStatus[models.StatusSuspended])
	assert.InDelta(t, 0.5, stats.MeanTrustScore, 1e-9)
}

func TestCheckAndRecordUsesClientCeiling(t *testing.T) {
	r := newTestRegistry(t)
	_, view := registerActive(t, r, models.KindBuyer)

	require.NoError(t, r.UpdateCeiling(view.ClientID, 3))
	for i := 0; i < 3; i++ {
		assert.Equal(t, ratelimit.Allowed, r.CheckAndRecord(view.ClientID))
	}
	assert.Equal(t, ratelimit.Denied, r.CheckAndRecord(view.ClientID))

	got, _ := r.GetClient(view.ClientID)
	assert.Equal(t, 3, got.RateLimitCeiling)
}

func TestUpdateCeilingValidation(t *testing.T) {
	r := newTestRegistry(t)
	_, view := registerActive(t, r, models.KindBuyer)

	assert.ErrorIs(t, r.UpdateCeiling(view.ClientID, 0), utils.ErrInvalidInput)
	assert.ErrorIs(t, r.UpdateCeiling("buyer_missing", 10), utils.ErrNotFound)
}

// fakeStore records saves and can be made to fail.
type fakeStore struct {
	mu      sync.Mutex
	saved   map[string]models.Client
	failing bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(map[string]models.Client)}
}

func (s *fakeStore) Save(_ context.Context, c *models.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("store unavailable")
	}
	s.saved[c.ClientID] = *c
	return nil
}

func (s *fakeStore) Load(_ context.Context, clientID string) (*models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.saved[clientID]
	if !ok {
		return nil, utils.ErrNotFound
	}
	return &c, nil
}

func (s *fakeStore) LoadAll(_ context.Context) ([]*models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Client, 0, len(s.saved))
	for _, c := range s.saved {
		cc := c
		out = append(out, &cc)
	}
	return out, nil
}

func TestFlushDirtyPersistsChanges(t *testing.T) {
	store := newFakeStore()
	r := newTestRegistryWithStore(t, store)

	_, view := registerActive(t, r, models.KindSeller)
	require.NoError(t, r.RecordTransactionOutcome(view.ClientID, true, 150))

	r.FlushDirty(context.Background())

	store.mu.Lock()
	saved, ok := store.saved[view.ClientID]
	store.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, 1, saved.Reputation.TransactionCount)
	assert.NotEmpty(t, saved.SecretHash)
}

func TestFlushDirtyRetriesFailedSaves(t *testing.T) {
	store := newFakeStore()
	r := newTestRegistryWithStore(t, store)

	_, view := registerActive(t, r, models.KindSeller)

	store.mu.Lock()
	store.failing = true
	store.mu.Unlock()
	r.FlushDirty(context.Background())

	store.mu.Lock()
	store.failing = false
	store.mu.Unlock()
	r.FlushDirty(context.Background())

	store.mu.Lock()
	_, ok := store.saved[view.ClientID]
	store.mu.Unlock()
	assert.True(t, ok)
}

func TestLoadPersistedRestoresClients(t *testing.T) {
	store := newFakeStore()
	r := newTestRegistryWithStore(t, store)

	creds, view := registerActive(t, r, models.KindSeller)
	r.FlushDirty(context.Background())

	// A fresh registry bound to the same store sees the client and its
	// credential still authenticates.
	r2 := newTestRegistryWithStore(t, store)
	require.NoError(t, r2.LoadPersisted(context.Background()))

	got, err := r2.GetClient(view.ClientID)
	require.NoError(t, err)
	assert.Equal(t, view.ClientID, got.ClientID)

	_, err = r2.Authenticate(creds.PublicID, creds.Secret)
	assert.NoError(t, err)
}
