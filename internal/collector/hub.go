package collector

import (
	"log"
	"sync"

	"github.com/google/uuid"
)

// subscriberBuffer is how many undelivered events a subscriber may hold
// before it is considered stalled and dropped.
const subscriberBuffer = 16

// Subscriber is one live viewer of a host topic. Events delivered on C are
// the canonical snapshot JSON. C is closed when the subscriber is dropped
// for falling behind or when Unsubscribe is called.
type Subscriber struct {
	ID       string
	Hostname string
	C        chan []byte
}

// Hub fans ingestion events out to per-hostname subscriber sets. Delivery
// is best-effort and at-most-once: only subscribers registered at the
// moment of publish see an event, and a subscriber whose buffer is full is
// dropped rather than allowed to slow the publisher or its peers.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[string]*Subscriber
}

func NewHub() *Hub {
	return &Hub{
		topics: make(map[string]map[string]*Subscriber),
	}
}

// Subscribe registers a new subscriber on a hostname topic.
func (h *Hub) Subscribe(hostname string) *Subscriber {
	sub := &Subscriber{
		ID:       uuid.NewString(),
		Hostname: hostname,
		C:        make(chan []byte, subscriberBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.topics[hostname]
	if !ok {
		subs = make(map[string]*Subscriber)
		h.topics[hostname] = subs
	}
	subs[sub.ID] = sub

	return sub
}

// Unsubscribe deregisters a subscriber and closes its channel. Safe to
// call for a subscriber the hub already dropped.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(sub)
}

// Publish delivers an event to every current subscriber of a hostname
// topic. It never blocks: subscribers that cannot accept the event are
// dropped on the spot.
func (h *Hub) Publish(hostname string, event []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.topics[hostname] {
		select {
		case sub.C <- event:
		default:
			log.Printf("Dropping stalled subscriber %s on topic %s", sub.ID, hostname)
			h.remove(sub)
		}
	}
}

// SubscriberCount reports the current number of live subscribers on a
// topic.
func (h *Hub) SubscriberCount(hostname string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[hostname])
}

// remove must be called with h.mu held.
func (h *Hub) remove(sub *Subscriber) {
	subs, ok := h.topics[sub.Hostname]
	if !ok {
		return
	}
	if _, ok := subs[sub.ID]; !ok {
		return
	}
	delete(subs, sub.ID)
	close(sub.C)
	if len(subs) == 0 {
		delete(h.topics, sub.Hostname)
	}
}
