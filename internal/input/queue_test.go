package input

import (
	"context"
	"testing"
	"time"

	"github.com/hyperb1iss/uchroma/internal/hardware"
)

func testDescriptor() *hardware.Descriptor {
	return &hardware.Descriptor{
		Name:       "test keyboard",
		Kind:       hardware.Keyboard,
		Dimensions: hardware.Dimensions{Height: 6, Width: 22},
		KeyMapping: map[string][]hardware.Point{
			"KEY_A": {{Row: 3, Col: 1}},
			"KEY_ENTER": {
				{Row: 3, Col: 13},
				{Row: 4, Col: 13},
			},
		},
	}
}

func TestCoordsMapping(t *testing.T) {
	q := NewQueue(testDescriptor())

	coords := q.CoordsOf("KEY_ENTER")
	if len(coords) != 2 {
		t.Fatalf("KEY_ENTER maps to %d cells, want 2", len(coords))
	}
	if coords[0] != (hardware.Point{Row: 3, Col: 13}) {
		t.Fatalf("unexpected first cell %v", coords[0])
	}

	if got := q.CoordsOf("KEY_NOPE"); len(got) != 0 {
		t.Fatalf("unmapped keycode should yield empty coords, got %v", got)
	}
}

func TestEventsCarryCoords(t *testing.T) {
	q := NewQueue(testDescriptor())
	q.SetExpireTime(time.Second)
	q.Push("KEY_A", 30, KeyDown, time.Now())

	events := q.PopEventsNow()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if len(events[0].Coords) != 1 || events[0].Coords[0].Row != 3 {
		t.Fatalf("coords not mapped: %v", events[0].Coords)
	}
}

func TestStateMaskFiltering(t *testing.T) {
	q := NewQueue(testDescriptor())
	q.SetExpireTime(time.Second)
	q.SetStateMask(KeyDown)

	q.Push("KEY_A", 30, KeyUp, time.Now())
	q.Push("KEY_A", 30, KeyHold, time.Now())
	if events := q.PopEventsNow(); len(events) != 0 {
		t.Fatalf("masked states delivered: %d", len(events))
	}

	q.Push("KEY_A", 30, KeyDown, time.Now())
	if events := q.PopEventsNow(); len(events) != 1 {
		t.Fatalf("down event not delivered")
	}
}

func TestExpiredEventsNeverReturned(t *testing.T) {
	q := NewQueue(testDescriptor())
	q.SetExpireTime(20 * time.Millisecond)
	q.Push("KEY_A", 30, KeyDown, time.Now())

	if events := q.PopEventsNow(); len(events) != 1 {
		t.Fatal("fresh event missing")
	}

	time.Sleep(30 * time.Millisecond)
	if events := q.PopEventsNow(); len(events) != 0 {
		t.Fatalf("expired event returned: %v", events)
	}
}

func TestEventsSurviveRereadUntilExpiry(t *testing.T) {
	q := NewQueue(testDescriptor())
	q.SetExpireTime(time.Second)
	q.Push("KEY_A", 30, KeyDown, time.Now())

	first := q.PopEventsNow()
	second := q.PopEventsNow()
	if len(first) != 1 || len(second) != 1 {
		t.Fatal("events with an expiry window remain visible across reads")
	}
	if first[0] != second[0] {
		t.Fatal("rereads must see the same event instance (shared payload)")
	}
}

func TestZeroExpiryConsumesOnRead(t *testing.T) {
	q := NewQueue(testDescriptor())
	q.Push("KEY_A", 30, KeyDown, time.Now())

	if events := q.PopEventsNow(); len(events) != 1 {
		t.Fatal("event missing")
	}
	if events := q.PopEventsNow(); len(events) != 0 {
		t.Fatal("zero-expiry event must be consumed on first read")
	}
}

func TestPopEventsBlocksUntilArrival(t *testing.T) {
	q := NewQueue(testDescriptor())
	q.SetExpireTime(time.Second)

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Push("KEY_A", 30, KeyDown, time.Now())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	events := q.PopEvents(ctx)
	if len(events) != 1 {
		t.Fatalf("got %d events after wait", len(events))
	}
}

func TestPopEventsReturnsEmptyOnCancel(t *testing.T) {
	q := NewQueue(testDescriptor())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan []*Event, 1)
	go func() { done <- q.PopEvents(ctx) }()
	cancel()

	select {
	case events := <-done:
		if len(events) != 0 {
			t.Fatalf("cancelled pop returned events: %v", events)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled pop did not return")
	}
}

func TestPercentComplete(t *testing.T) {
	now := time.Now()
	ev := &Event{Timestamp: now, ExpireAt: now.Add(time.Hour)}
	if pc := ev.PercentComplete(); pc < 0.99 {
		t.Fatalf("fresh event percent = %v", pc)
	}
	ev = &Event{Timestamp: now.Add(-2 * time.Hour), ExpireAt: now.Add(-time.Hour)}
	if pc := ev.PercentComplete(); pc != 0 {
		t.Fatalf("expired event percent = %v", pc)
	}
}
