package fxlib

import (
	"math"
	"time"

	"github.com/hyperb1iss/uchroma/internal/anim"
	"github.com/hyperb1iss/uchroma/internal/canvas"
	"github.com/hyperb1iss/uchroma/internal/hardware"
	"github.com/hyperb1iss/uchroma/internal/input"
	"github.com/hyperb1iss/uchroma/internal/traits"
)

const (
	rippleColorKey     = "ripple_color"
	rippleExpireFactor = 0.15
	rippleDefaultSpeed = 5
)

type rippleInstance struct {
	coords   []hardware.Point
	color    canvas.Color
	start    time.Time
	duration time.Duration
}

// ripple draws expanding rings from each key press. It needs key input
// and skips ticks while no ripples are live.
type ripple struct {
	ts *traits.Set

	queue       *input.Queue
	ripples     []rippleInstance
	lastEventTS map[string]time.Time
	maxDistance float64
	hue         float64
}

func newRipple() *ripple {
	r := &ripple{
		ts: traits.NewSet(
			traits.IntDef("ripple_width", 3, 1, 5),
			traits.IntDef("speed", rippleDefaultSpeed, 1, 9),
			traits.ColorDef("color", canvas.Transparent),
			traits.BoolDef("random", true),
		),
		lastEventTS: make(map[string]time.Time),
	}
	r.ts.Observe(func(name string, _, value any) {
		if name == "speed" && r.queue != nil {
			r.queue.SetExpireTime(r.expireTime(value.(int)))
		}
	})
	return r
}

func (r *ripple) expireTime(speed int) time.Duration {
	return time.Duration(float64(speed) * rippleExpireFactor * float64(time.Second))
}

func (r *ripple) Meta() anim.Meta {
	return anim.Meta{
		Name:          "ripple",
		DisplayName:   "Ripples",
		Description:   "Ripples of color when keys are pressed",
		Author:        "Stefanie Jane",
		Version:       "1.0",
		RequiresInput: true,
	}
}

func (r *ripple) Traits() *traits.Set { return r.ts }

func (r *ripple) Init(ctx *anim.Context) bool {
	if ctx.Input == nil {
		return false
	}
	r.queue = ctx.Input
	r.queue.SetExpireTime(r.expireTime(r.ts.Int("speed")))
	r.maxDistance = math.Hypot(float64(ctx.Width), float64(ctx.Height))
	return true
}

// nextColor cycles hues for auto-colored ripples.
func (r *ripple) nextColor() canvas.Color {
	if !r.ts.Bool("random") {
		if c := r.ts.Color("color"); c.A > 0 {
			return c
		}
	}
	r.hue += 0.127
	return canvas.HSV(r.hue, 1.0, 1.0)
}

func (r *ripple) ingest(events []*input.Event) {
	for _, ev := range events {
		if len(ev.Coords) == 0 {
			continue
		}
		if last, ok := r.lastEventTS[ev.Keycode]; ok && !ev.Timestamp.After(last) {
			continue
		}
		r.lastEventTS[ev.Keycode] = ev.Timestamp

		// each event keeps its color across repeated reads of the queue
		color, ok := ev.Data[rippleColorKey].(canvas.Color)
		if !ok {
			color = r.nextColor()
			ev.Data[rippleColorKey] = color
		}

		duration := ev.ExpireAt.Sub(ev.Timestamp)
		if duration <= 0 {
			duration = 10 * time.Millisecond
		}
		r.ripples = append(r.ripples, rippleInstance{
			coords:   ev.Coords,
			color:    color,
			start:    ev.Timestamp,
			duration: duration,
		})
	}
}

func ease(n float64) float64 {
	if n < 0 {
		n = 0
	} else if n > 1 {
		n = 1
	}
	n *= 2
	if n < 1 {
		return 0.5 * math.Pow(n, 5)
	}
	n -= 2
	return 0.5 * (math.Pow(n, 5) + 2)
}

func (r *ripple) Draw(layer *canvas.Layer, now time.Time) (bool, error) {
	if r.queue == nil {
		return false, nil
	}
	hadLive := len(r.ripples) > 0
	r.ingest(r.queue.PopEventsNow())

	width := r.ts.Int("ripple_width")
	speed := float64(r.ts.Int("speed"))

	live := r.ripples[:0]
	drew := false
	for _, rip := range r.ripples {
		elapsed := now.Sub(rip.start)
		if elapsed >= rip.duration {
			continue
		}
		live = append(live, rip)

		progress := elapsed.Seconds() / rip.duration.Seconds()
		radius := progress * r.maxDistance / (10.0 / speed) * 2.0
		for ring := width - 1; ring >= 0; ring-- {
			rad := radius - float64(ring)
			if rad < 0 {
				continue
			}
			alpha := ease(1.0 - rad/r.maxDistance)
			cc := rip.color.WithAlpha(rip.color.A * alpha)
			for _, coord := range rip.coords {
				layer.Ellipse(coord.Row, coord.Col, rad/1.33, rad, cc, false, 1.0)
			}
			drew = true
		}
	}
	r.ripples = live

	// no live ripples: skip the tick. The tick on which the last ripple
	// expires still submits the (reset, empty) layer so the compositor's
	// sticky copy holds no stale ring.
	return drew || hadLive, nil
}

func (r *ripple) Finish() {
	r.ripples = nil
}
