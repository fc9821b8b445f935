// Package session tracks authenticated sessions and their liveness. A single
// scheduler goroutine drains a min-heap of deadlines, so eviction costs
// O(log n) per session regardless of how many connections are open.
package session

import (
	"container/heap"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentmesh/trustgate/internal/events"
	"github.com/agentmesh/trustgate/internal/models"
	"github.com/agentmesh/trustgate/internal/utils"
)

// entry is a live session plus the generation counter used for lazy timer
// cancellation: re-arming bumps gen, so a previously pushed deadline whose gen
// no longer matches is discarded when it surfaces on the heap.
type entry struct {
	session models.Session
	gen     uint64
}

// deadline is one pending expiration check on the heap.
type deadline struct {
	at    time.Time
	token string
	gen   uint64
}

type deadlineHeap []deadline

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x interface{}) { *h = append(*h, x.(deadline)) }
func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	d := old[n-1]
	*h = old[:n-1]
	return d
}

// Store owns all active sessions and their liveness timers.
type Store struct {
	mu        sync.Mutex
	sessions  map[string]*entry
	byClient  map[string]map[string]struct{}
	deadlines deadlineHeap

	ttl              time.Duration
	heartbeatTimeout time.Duration

	hub  *events.Hub
	now  func() time.Time
	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// NewStore constructs a Store and starts its scheduler goroutine.
func NewStore(ttl, heartbeatTimeout time.Duration, hub *events.Hub) *Store {
	s := &Store{
		sessions:         make(map[string]*entry),
		byClient:         make(map[string]map[string]struct{}),
		ttl:              ttl,
		heartbeatTimeout: heartbeatTimeout,
		hub:              hub,
		now:              time.Now,
		wake:             make(chan struct{}, 1),
		done:             make(chan struct{}),
	}
	go s.run()
	return s
}

// SetClock overrides the clock source. Intended for tests; call before any
// session is created.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Close stops the scheduler. Sessions already tracked stop being evicted.
func (s *Store) Close() {
	s.once.Do(func() { close(s.done) })
}

// Create issues a fresh session for the client and arms its liveness timer.
// Callers gate on client status; the store does not know about clients.
func (s *Store) Create(clientID string) (*models.Session, error) {
	token, err := utils.GenerateSessionToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	sess := models.Session{
		Token:          token,
		ClientID:       clientID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
		LastLivenessAt: now,
	}

	s.mu.Lock()
	e := &entry{session: sess, gen: 1}
	s.sessions[token] = e
	if s.byClient[clientID] == nil {
		s.byClient[clientID] = make(map[string]struct{})
	}
	s.byClient[clientID][token] = struct{}{}
	s.pushDeadlineLocked(e)
	s.mu.Unlock()

	s.hub.Publish(models.Event{
		Type:         models.EventSessionCreated,
		ClientID:     clientID,
		SessionToken: token,
	})

	sessCopy := sess
	return &sessCopy, nil
}

// Validate returns the session if it is still live, refreshing its liveness
// mark as a side effect. An expired session is evicted and reported as not
// found.
func (s *Store) Validate(token string) (*models.Session, error) {
	s.mu.Lock()
	e, ok := s.sessions[token]
	if !ok {
		s.mu.Unlock()
		return nil, utils.ErrNotFound
	}

	now := s.now()
	if e.session.Expired(now) {
		s.evictLocked(e, models.EventSessionExpired, "ttl elapsed")
		s.mu.Unlock()
		return nil, utils.ErrNotFound
	}

	e.session.LastLivenessAt = now
	e.gen++
	s.pushDeadlineLocked(e)
	sess := e.session
	s.mu.Unlock()

	return &sess, nil
}

// Heartbeat re-arms the liveness timer. Unknown tokens are a no-op: the
// session was already evicted and the client will discover that on its next
// Validate.
func (s *Store) Heartbeat(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[token]
	if !ok {
		return
	}
	e.session.LastLivenessAt = s.now()
	e.gen++
	s.pushDeadlineLocked(e)
}

// TerminateByClient synchronously evicts every session owned by the client.
// Used for cascading termination on Suspend/Deactivate.
func (s *Store) TerminateByClient(clientID, reason string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens := s.byClient[clientID]
	n := len(tokens)
	for token := range tokens {
		if e, ok := s.sessions[token]; ok {
			s.evictLocked(e, models.EventSessionExpired, reason)
		}
	}
	return n
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// pushDeadlineLocked arms the next expiration check for the entry: the sooner
// of the liveness timeout and the absolute TTL. Caller holds s.mu.
func (s *Store) pushDeadlineLocked(e *entry) {
	at := e.session.LastLivenessAt.Add(s.heartbeatTimeout)
	if e.session.ExpiresAt.Before(at) {
		at = e.session.ExpiresAt
	}
	heap.Push(&s.deadlines, deadline{at: at, token: e.session.Token, gen: e.gen})

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// evictLocked removes the session and publishes the eviction event.
// Caller holds s.mu; publication is non-blocking so holding the lock is safe.
func (s *Store) evictLocked(e *entry, evType models.EventType, reason string) {
	token := e.session.Token
	clientID := e.session.ClientID

	delete(s.sessions, token)
	if set, ok := s.byClient[clientID]; ok {
		delete(set, token)
		if len(set) == 0 {
			delete(s.byClient, clientID)
		}
	}

	s.hub.Publish(models.Event{
		Type:         evType,
		ClientID:     clientID,
		SessionToken: token,
		Reason:       reason,
	})
	log.Debug().Str("client_id", clientID).Str("event", string(evType)).Str("reason", reason).Msg("session evicted")
}

// run is the scheduler loop. It sleeps until the earliest armed deadline,
// discards stale heap items (generation mismatch), and evicts sessions whose
// liveness window or TTL has lapsed.
func (s *Store) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		s.drainLocked()
		var wait time.Duration
		if len(s.deadlines) > 0 {
			wait = time.Until(s.deadlines[0].at)
			if wait < 0 {
				wait = 0
			}
		} else {
			wait = time.Hour
		}
		s.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-s.done:
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// drainLocked pops and handles every deadline that is due. Caller holds s.mu.
func (s *Store) drainLocked() {
	now := s.now()
	for len(s.deadlines) > 0 && !s.deadlines[0].at.After(now) {
		d := heap.Pop(&s.deadlines).(deadline)

		e, ok := s.sessions[d.token]
		if !ok || e.gen != d.gen {
			// Stale: session already evicted or timer re-armed since.
			continue
		}

		if e.session.Expired(now) {
			s.evictLocked(e, models.EventSessionExpired, "ttl elapsed")
		} else {
			s.evictLocked(e, models.EventConnectionLost, "heartbeat timeout")
		}
	}
}
