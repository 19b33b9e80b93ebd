package fxlib

import (
	"sync"
	"time"

	"github.com/hyperb1iss/uchroma/internal/anim"
	"github.com/hyperb1iss/uchroma/internal/canvas"
	"github.com/hyperb1iss/uchroma/internal/traits"
)

// rainbow scrolls a staggered hue gradient across the matrix.
type rainbow struct {
	ts    *traits.Set
	start time.Time

	mu       sync.Mutex
	gradient []canvas.Color
}

func newRainbow() *rainbow {
	r := &rainbow{
		ts: traits.NewSet(
			traits.IntDef("stagger", 4, 0, 100),
			traits.IntDef("length", 75, 20, 360),
			traits.FloatDef("scroll_speed", 0.5, 0.0, 4.0),
		),
	}
	r.ts.Observe(func(name string, _, _ any) {
		if name == "length" || name == "stagger" {
			r.mu.Lock()
			r.gradient = nil
			r.mu.Unlock()
		}
	})
	return r
}

func (r *rainbow) Meta() anim.Meta {
	return anim.Meta{
		Name:        "rainbow",
		DisplayName: "Rainbow",
		Description: "Rainbow of hues",
		Author:      "Stefanie Jane",
		Version:     "1.0",
	}
}

func (r *rainbow) Traits() *traits.Set { return r.ts }

func (r *rainbow) Init(ctx *anim.Context) bool {
	r.start = time.Now()
	return true
}

func (r *rainbow) Draw(layer *canvas.Layer, now time.Time) (bool, error) {
	stagger := r.ts.Int("stagger")

	r.mu.Lock()
	if r.gradient == nil {
		length := layer.Width() + layer.Height()*stagger
		if min := r.ts.Int("length"); length < min {
			length = min
		}
		r.gradient = canvas.Gradient(length)
	}
	grad := r.gradient
	r.mu.Unlock()

	offset := int(now.Sub(r.start).Seconds() * r.ts.Float("scroll_speed") * float64(len(grad)) / 10.0)
	for row := 0; row < layer.Height(); row++ {
		for col := 0; col < layer.Width(); col++ {
			idx := (row*stagger + col + offset) % len(grad)
			layer.Put(row, col, grad[idx])
		}
	}
	return true, nil
}

func (r *rainbow) Finish() {}
