package fxlib

import (
	"time"

	"github.com/hyperb1iss/uchroma/internal/anim"
	"github.com/hyperb1iss/uchroma/internal/canvas"
	"github.com/hyperb1iss/uchroma/internal/traits"
)

// wipe sweeps a color band across the matrix, leaving a fading trail.
type wipe struct {
	ts    *traits.Set
	start time.Time
	width int
}

func newWipe() *wipe {
	return &wipe{
		ts: traits.NewSet(
			traits.ColorDef("color", canvas.MustParseColor("#00ff88")),
			traits.ColorDef("base_color", canvas.Transparent),
			traits.FloatDef("speed", 1.0, 0.1, 4.0),
			traits.IntDef("trail", 6, 0, 40),
			traits.EnumDef("direction", "right", "right", "left"),
		),
	}
}

func (w *wipe) Meta() anim.Meta {
	return anim.Meta{
		Name:        "wipe",
		DisplayName: "Wipe",
		Description: "A band of color sweeping across the device",
		Author:      "Stefanie Jane",
		Version:     "1.0",
	}
}

func (w *wipe) Traits() *traits.Set { return w.ts }

func (w *wipe) Init(ctx *anim.Context) bool {
	w.start = time.Now()
	w.width = ctx.Width
	return true
}

func (w *wipe) Draw(layer *canvas.Layer, now time.Time) (bool, error) {
	color := w.ts.Color("color")
	base := w.ts.Color("base_color")
	trail := w.ts.Int("trail")
	speed := w.ts.Float("speed")

	cols := float64(layer.Width())
	pos := now.Sub(w.start).Seconds() * speed * cols / 2.0
	head := int(pos) % layer.Width()
	if w.ts.String("direction") == "left" {
		head = layer.Width() - 1 - head
	}

	if base.A > 0 {
		layer.Fill(base)
	}
	for row := 0; row < layer.Height(); row++ {
		layer.Put(row, head, color)
		for t := 1; t <= trail; t++ {
			col := head - t
			if w.ts.String("direction") == "left" {
				col = head + t
			}
			if col < 0 {
				col += layer.Width()
			}
			col %= layer.Width()
			fade := 1.0 - float64(t)/float64(trail+1)
			layer.PutBlend(row, col, color.WithAlpha(color.A*fade))
		}
	}
	return true, nil
}

func (w *wipe) Finish() {}
