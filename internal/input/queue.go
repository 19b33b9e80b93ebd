// Package input provides the per-device key-event intake: an asynchronous
// queue with per-event expiry, keystate filtering and keycode-to-matrix
// mapping.
package input

import (
	"context"
	"sync"
	"time"

	"github.com/hyperb1iss/uchroma/internal/hardware"
)

// KeyState classifies one key transition.
type KeyState uint8

const (
	KeyUp KeyState = 1 << iota
	KeyDown
	KeyHold
)

// DefaultStateMask delivers presses and holds, which is what reactive
// renderers almost always want.
const DefaultStateMask = KeyDown | KeyHold

// Event is one keyboard input event. Data is a per-event scratch map
// renderers may write into (ripple stores its chosen color there).
type Event struct {
	Timestamp time.Time
	ExpireAt  time.Time
	Keycode   string
	Scancode  uint16
	State     KeyState
	Coords    []hardware.Point
	Data      map[string]any
}

// TimeRemaining is the time until the event expires, never negative.
func (e *Event) TimeRemaining() time.Duration {
	rem := time.Until(e.ExpireAt)
	if rem < 0 {
		return 0
	}
	return rem
}

// PercentComplete is the remaining fraction of the event's lifetime in
// [0,1]: 1 for a fresh event, falling to 0 at expiry.
func (e *Event) PercentComplete() float64 {
	total := e.ExpireAt.Sub(e.Timestamp)
	if total <= 0 {
		return 1
	}
	frac := float64(e.TimeRemaining()) / float64(total)
	if frac < 0 {
		frac = 0
	} else if frac > 1 {
		frac = 1
	}
	return frac
}

// Queue is the intake for one renderer. Events arrive from the device's
// key source, carry an expiry stamped at arrival, and are dropped once
// expired. With a zero expire time events are consumed on first read.
type Queue struct {
	mu         sync.Mutex
	desc       *hardware.Descriptor
	events     []*Event
	expireTime time.Duration
	mask       KeyState
	notify     chan struct{}
	closed     bool
}

// NewQueue builds an intake bound to a descriptor's key map.
func NewQueue(desc *hardware.Descriptor) *Queue {
	return &Queue{
		desc:   desc,
		mask:   DefaultStateMask,
		notify: make(chan struct{}, 1),
	}
}

// SetExpireTime sets how long dequeued events stay visible. Zero switches
// to consume-on-read.
func (q *Queue) SetExpireTime(d time.Duration) {
	q.mu.Lock()
	q.expireTime = d
	q.mu.Unlock()
}

// ExpireTime returns the configured event lifetime.
func (q *Queue) ExpireTime() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.expireTime
}

// SetStateMask filters which transitions are delivered.
func (q *Queue) SetStateMask(mask KeyState) {
	q.mu.Lock()
	q.mask = mask
	q.mu.Unlock()
}

// CoordsOf maps a symbolic keycode to matrix cells; unmapped keycodes
// yield an empty list.
func (q *Queue) CoordsOf(keycode string) []hardware.Point {
	return q.desc.KeyCoords(keycode)
}

// Push delivers one raw event into the queue. Events masked out by the
// state filter are dropped.
func (q *Queue) Push(keycode string, scancode uint16, state KeyState, at time.Time) {
	q.mu.Lock()
	if q.closed || q.mask&state == 0 {
		q.mu.Unlock()
		return
	}
	ev := &Event{
		Timestamp: at,
		ExpireAt:  at.Add(q.expireTime),
		Keycode:   keycode,
		Scancode:  scancode,
		State:     state,
		Coords:    q.desc.KeyCoords(keycode),
		Data:      make(map[string]any),
	}
	q.events = append(q.events, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) purgeLocked(now time.Time) {
	if q.expireTime == 0 {
		return
	}
	kept := q.events[:0]
	for _, ev := range q.events {
		if ev.ExpireAt.After(now) {
			kept = append(kept, ev)
		}
	}
	q.events = kept
}

// PopEventsNow returns the current non-expired event set without waiting.
func (q *Queue) PopEventsNow() []*Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.takeLocked()
}

func (q *Queue) takeLocked() []*Event {
	q.purgeLocked(time.Now())
	if len(q.events) == 0 {
		return nil
	}
	out := make([]*Event, len(q.events))
	copy(out, q.events)
	if q.expireTime == 0 {
		// consume-on-read
		q.events = q.events[:0]
	}
	return out
}

// PopEvents blocks until at least one non-expired event is available or
// the context is cancelled. Cancellation returns an empty set so a
// renderer being shut down can fall out of its draw wait.
func (q *Queue) PopEvents(ctx context.Context) []*Event {
	for {
		q.mu.Lock()
		events := q.takeLocked()
		q.mu.Unlock()
		if len(events) > 0 {
			return events
		}
		select {
		case <-ctx.Done():
			return nil
		case <-q.notify:
		}
	}
}

// Close wakes any waiter and drops queued events.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.events = nil
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
