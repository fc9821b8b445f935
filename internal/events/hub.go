// Package events fans out typed registry events to an owner-registered sink
// and to admin SSE subscribers. Emission is best-effort: a slow or absent
// consumer never blocks or fails the operation that produced the event.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentmesh/trustgate/internal/models"
)

// Subscriber represents a connected SSE consumer.
type Subscriber struct {
	ID     string
	Events chan []byte
}

// Hub manages the event sink and SSE subscriber connections.
type Hub struct {
	mu   sync.RWMutex
	sink chan<- models.Event
	subs map[string]*Subscriber
}

// NewHub creates a Hub. sink may be nil when the owner does not consume
// events programmatically.
func NewHub(sink chan<- models.Event) *Hub {
	return &Hub{
		sink: sink,
		subs: make(map[string]*Subscriber),
	}
}

// Subscribe adds an SSE consumer and returns it for streaming.
func (h *Hub) Subscribe(id string) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := &Subscriber{
		ID:     id,
		Events: make(chan []byte, 64),
	}
	h.subs[id] = s
	log.Info().Str("subscriber_id", id).Int("total_subscribers", len(h.subs)).Msg("event subscriber connected")
	return s
}

// Unsubscribe removes a consumer and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s, ok := h.subs[id]; ok {
		close(s.Events)
		delete(h.subs, id)
		log.Info().Str("subscriber_id", id).Int("total_subscribers", len(h.subs)).Msg("event subscriber disconnected")
	}
}

// Publish pushes the event to the sink and every subscriber.
// Non-blocking: drops the event wherever a buffer is full.
func (h *Hub) Publish(ev models.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.sink != nil {
		select {
		case h.sink <- ev:
		default:
			log.Warn().Str("event", string(ev.Type)).Msg("event sink full, dropping event")
		}
	}

	if len(h.subs) == 0 {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event")
		return
	}
	for _, s := range h.subs {
		select {
		case s.Events <- data:
		default:
			log.Warn().Str("subscriber_id", s.ID).Msg("subscriber buffer full, dropping event")
		}
	}
}

// SubscriberCount returns the number of connected SSE consumers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
