package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/trustgate/internal/events"
	"github.com/agentmesh/trustgate/internal/models"
	"github.com/agentmesh/trustgate/internal/utils"
)

func newTestStore(t *testing.T, ttl, heartbeatTimeout time.Duration) (*Store, chan models.Event) {
	t.Helper()
	sink := make(chan models.Event, 64)
	s := NewStore(ttl, heartbeatTimeout, events.NewHub(sink))
	t.Cleanup(s.Close)
	return s, sink
}

func TestCreateAndValidate(t *testing.T) {
	s, _ := newTestStore(t, 24*time.Hour, time.Minute)

	sess, err := s.Create("client-1")
	require.NoError(t, err)
	assert.Equal(t, "client-1", sess.ClientID)
	assert.NotEmpty(t, sess.Token)
	assert.True(t, sess.ExpiresAt.After(sess.CreatedAt))

	got, err := s.Validate(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.Token, got.Token)
	assert.Equal(t, 1, s.Count())
}

func TestValidateUnknownToken(t *testing.T) {
	s, _ := newTestStore(t, 24*time.Hour, time.Minute)

	_, err := s.Validate("tg_ses_missing")
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestSessionTokensAreUnique(t *testing.T) {
	s, _ := newTestStore(t, 24*time.Hour, time.Minute)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		sess, err := s.Create("client-1")
		require.NoError(t, err)
		assert.False(t, seen[sess.Token])
		seen[sess.Token] = true
	}
}

func TestMissedHeartbeatEvictsSession(t *testing.T) {
	s, sink := newTestStore(t, 24*time.Hour, 100*time.Millisecond)

	sess, err := s.Create("client-1")
	require.NoError(t, err)

	// No heartbeat: eviction within a bounded grace period.
	deadline := time.After(500 * time.Millisecond)
	var lost *models.Event
	for lost == nil {
		select {
		case ev := <-sink:
			if ev.Type == models.EventConnectionLost {
				lost = &ev
			}
		case <-deadline:
			t.Fatal("session was not evicted after missed heartbeat")
		}
	}
	assert.Equal(t, sess.Token, lost.SessionToken)
	assert.Equal(t, "client-1", lost.ClientID)

	_, err = s.Validate(sess.Token)
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestHeartbeatKeepsSessionAlive(t *testing.T) {
	s, _ := newTestStore(t, 24*time.Hour, 150*time.Millisecond)

	sess, err := s.Create("client-1")
	require.NoError(t, err)

	// Heartbeat well inside the timeout for several periods.
	for i := 0; i < 8; i++ {
		time.Sleep(50 * time.Millisecond)
		s.Heartbeat(sess.Token)
	}

	_, err = s.Validate(sess.Token)
	assert.NoError(t, err)
}

func TestHeartbeatOnUnknownTokenIsNoOp(t *testing.T) {
	s, _ := newTestStore(t, 24*time.Hour, time.Minute)
	s.Heartbeat("tg_ses_missing")
	assert.Equal(t, 0, s.Count())
}

func TestValidateCountsAsLiveness(t *testing.T) {
	s, _ := newTestStore(t, 24*time.Hour, 150*time.Millisecond)

	sess, err := s.Create("client-1")
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		time.Sleep(50 * time.Millisecond)
		_, err = s.Validate(sess.Token)
		require.NoError(t, err)
	}
}

func TestExpiredSessionEvictedOnValidate(t *testing.T) {
	s, _ := newTestStore(t, 50*time.Millisecond, time.Hour)

	sess, err := s.Create("client-1")
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)
	_, err = s.Validate(sess.Token)
	assert.ErrorIs(t, err, utils.ErrNotFound)
	assert.Equal(t, 0, s.Count())
}

func TestTerminateByClient(t *testing.T) {
	s, _ := newTestStore(t, 24*time.Hour, time.Minute)

	s1, err := s.Create("client-1")
	require.NoError(t, err)
	s2, err := s.Create("client-1")
	require.NoError(t, err)
	other, err := s.Create("client-2")
	require.NoError(t, err)

	n := s.TerminateByClient("client-1", "client suspended")
	assert.Equal(t, 2, n)

	_, err = s.Validate(s1.Token)
	assert.ErrorIs(t, err, utils.ErrNotFound)
	_, err = s.Validate(s2.Token)
	assert.ErrorIs(t, err, utils.ErrNotFound)

	// Sessions of other clients are untouched.
	_, err = s.Validate(other.Token)
	assert.NoError(t, err)
}
