package manager

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	uuid "github.com/satori/go.uuid"
)

// EventKind classifies lifecycle events published to observers.
type EventKind string

const (
	EventDeviceAdded     EventKind = "device_added"
	EventDeviceRemoved   EventKind = "device_removed"
	EventPropertyChanged EventKind = "property_changed"
)

// Event is one lifecycle notification. Events are emitted in the order
// their underlying state transitions complete and are never batched.
type Event struct {
	Kind     EventKind `json:"kind"`
	DeviceID string    `json:"device_id"`
	Property string    `json:"property,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

const (
	subscriptionChanSize = 16
	publishTimeout       = 2 * time.Second
)

// Subscription delivers events to one consumer. Close subscriptions when
// done to avoid blocking publishers.
type Subscription struct {
	id     string
	events chan Event
	quit   chan struct{}
	hub    *Hub
	once   sync.Once
}

// ID returns the unique id for this subscription.
func (s *Subscription) ID() string { return s.id }

// Events returns the receive side of the subscription.
func (s *Subscription) Events() <-chan Event { return s.events }

// Close detaches the subscription from its hub.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.quit)
		s.hub.remove(s)
	})
}

// Hub fans lifecycle events out to subscriptions.
type Hub struct {
	mu   sync.Mutex
	subs map[string]*Subscription
	log  zerolog.Logger
	done bool
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		subs: make(map[string]*Subscription),
		log:  log.With().Str("component", "events").Logger(),
	}
}

// Subscribe attaches a new consumer.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{
		id:     uuid.NewV4().String(),
		events: make(chan Event, subscriptionChanSize),
		quit:   make(chan struct{}),
		hub:    h,
	}
	h.mu.Lock()
	if !h.done {
		h.subs[s.id] = s
	}
	h.mu.Unlock()
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	delete(h.subs, s.id)
	h.mu.Unlock()
}

// Publish delivers an event to every subscription, dropping consumers
// that stay full past the publish timeout.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		select {
		case <-s.quit:
		case s.events <- ev:
		case <-time.After(publishTimeout):
			h.log.Warn().Str("subscription", s.id).Msg("dropping stalled event subscription")
			s.Close()
		}
	}
}

// Close detaches every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.done = true
	h.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
}
