package playback

import (
	"sync"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

const subscriberBufferSize = 16

// Hub fans playback events out to subscribers. Subscribers may attach and
// detach at any time without affecting playback; a slow subscriber loses
// events instead of stalling the engine.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]chan Event
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]chan Event)}
}

// Subscribe registers a new subscriber and returns its id and channel.
// The channel is closed when the subscriber detaches or the hub closes.
func (h *Hub) Subscribe() (string, <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, subscriberBufferSize)
	if h.closed {
		close(ch)
		return "", ch
	}
	id := uuid.New().String()
	h.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber. Unknown ids are ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// Publish delivers an event to all subscribers without blocking.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			zlog.Warn().Msgf("playback: dropping %s event for slow subscriber %s", ev.Type, id)
		}
	}
}

// Close detaches all subscribers and closes their channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
