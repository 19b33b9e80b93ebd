package fxlib

import (
	"math"
	"sync"
	"time"

	"github.com/hyperb1iss/uchroma/internal/anim"
	"github.com/hyperb1iss/uchroma/internal/canvas"
	"github.com/hyperb1iss/uchroma/internal/traits"
)

// Color schemes shared by the preset traits.
var colorSchemes = map[string][]canvas.Color{
	"qap": {
		canvas.MustParseColor("#9b5de5"),
		canvas.MustParseColor("#f15bb5"),
		canvas.MustParseColor("#fee440"),
		canvas.MustParseColor("#00bbf9"),
		canvas.MustParseColor("#00f5d4"),
	},
	"emma": {
		canvas.MustParseColor("#320e3b"),
		canvas.MustParseColor("#4c2a85"),
		canvas.MustParseColor("#6b7fd7"),
		canvas.MustParseColor("#bcedf6"),
		canvas.MustParseColor("#ddfcad"),
	},
	"best": {
		canvas.MustParseColor("#2d00f7"),
		canvas.MustParseColor("#ff0291"),
		canvas.MustParseColor("#d100d1"),
		canvas.MustParseColor("#fb4b04"),
		canvas.MustParseColor("#f9c80e"),
	},
}

// plasma draws the old-school moving-blob effect from a gradient lookup
// table derived from the color scheme traits.
type plasma struct {
	ts *traits.Set

	mu       sync.Mutex
	gradient []canvas.Color
	start    time.Time
}

func newPlasma() *plasma {
	p := &plasma{
		ts: traits.NewSet(
			traits.ColorListDef("color_scheme", 2, colorSchemes["qap"]...),
			traits.PresetDef("preset", "qap", colorSchemes),
			traits.IntDef("gradient_length", 360, 2, 1440),
			traits.FloatDef("speed", 1.0, 0.1, 2.0),
			traits.FloatDef("scale", 1.0, 0.2, 4.0),
			traits.IntDef("complexity", 2, 1, 4),
		),
	}
	// re-derive the lookup table before the next draw when the scheme
	// changes
	p.ts.Observe(func(name string, _, value any) {
		switch name {
		case "preset":
			if colors, ok := colorSchemes[value.(string)]; ok {
				_ = p.ts.Assign("color_scheme", colors)
			}
		case "color_scheme", "gradient_length":
			p.genGradient()
		}
	})
	return p
}

func (p *plasma) Meta() anim.Meta {
	return anim.Meta{
		Name:        "plasma",
		DisplayName: "Plasma",
		Description: "Colorful moving blobs of plasma",
		Author:      "Stefanie Jane",
		Version:     "1.0",
	}
}

func (p *plasma) Traits() *traits.Set { return p.ts }

func (p *plasma) genGradient() {
	length := p.ts.Int("gradient_length")
	scheme := p.ts.Colors("color_scheme")
	grad := canvas.Gradient(length, scheme...)
	p.mu.Lock()
	p.gradient = grad
	p.mu.Unlock()
}

func (p *plasma) Init(ctx *anim.Context) bool {
	p.start = time.Now()
	p.genGradient()
	return true
}

func (p *plasma) Draw(layer *canvas.Layer, now time.Time) (bool, error) {
	p.mu.Lock()
	grad := p.gradient
	p.mu.Unlock()
	if len(grad) == 0 {
		return false, nil
	}

	t := now.Sub(p.start).Seconds() * p.ts.Float("speed")
	scale := p.ts.Float("scale")
	complexity := p.ts.Int("complexity")

	w := float64(layer.Width())
	h := float64(layer.Height())

	for row := 0; row < layer.Height(); row++ {
		for col := 0; col < layer.Width(); col++ {
			x := float64(col) / w * 4.0 * scale
			y := float64(row) / h * 2.0 * scale

			v := math.Sin(x+t) + math.Sin(y+t/2.0)
			if complexity >= 2 {
				v += math.Sin((x+y+t)/2.0)
			}
			if complexity >= 3 {
				cx := x + 0.5*math.Sin(t/5.0)
				cy := y + 0.5*math.Cos(t/3.0)
				v += math.Sin(math.Sqrt(cx*cx+cy*cy+1.0) + t)
			}
			if complexity >= 4 {
				v += math.Sin(x*y/2.0 + t)
			}

			idx := int((v + 4.0) / 8.0 * float64(len(grad)))
			if idx < 0 {
				idx = 0
			} else if idx >= len(grad) {
				idx = len(grad) - 1
			}
			layer.Put(row, col, grad[idx])
		}
	}
	return true, nil
}

func (p *plasma) Finish() {}
