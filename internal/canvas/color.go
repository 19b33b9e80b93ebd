// Package canvas provides the floating-point RGBA surfaces the animation
// engine draws into: colors, layers, blend modes and drawing primitives.
package canvas

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Color holds four linear channels in [0,1]. Alpha is carried through
// composition; hardware payloads flatten to 24-bit RGB at commit time.
type Color struct {
	R, G, B, A float64
}

// Transparent is the zero value every surface cell starts from.
var Transparent = Color{}

// Black is opaque black, the default composition background.
var Black = Color{A: 1}

// NewColor builds an opaque color.
func NewColor(r, g, b float64) Color { return Color{r, g, b, 1} }

// ParseColor accepts "#rgb", "#rrggbb" or "#rrggbbaa" hex notation.
func ParseColor(s string) (Color, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	switch len(h) {
	case 3:
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	case 6, 8:
	default:
		return Color{}, fmt.Errorf("bad color %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 64)
	if err != nil {
		return Color{}, fmt.Errorf("bad color %q", s)
	}
	if len(h) == 8 {
		return Color{
			R: float64(v>>24&0xFF) / 255.0,
			G: float64(v>>16&0xFF) / 255.0,
			B: float64(v>>8&0xFF) / 255.0,
			A: float64(v&0xFF) / 255.0,
		}, nil
	}
	return Color{
		R: float64(v>>16&0xFF) / 255.0,
		G: float64(v>>8&0xFF) / 255.0,
		B: float64(v&0xFF) / 255.0,
		A: 1,
	}, nil
}

// MustParseColor is ParseColor for literals known to be valid.
func MustParseColor(s string) Color {
	c, err := ParseColor(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Hex renders the color as "#rrggbb", dropping alpha.
func (c Color) Hex() string {
	r, g, b := c.RGB()
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

// WithAlpha returns the color with a replacement alpha.
func (c Color) WithAlpha(a float64) Color {
	c.A = clamp01(a)
	return c
}

// Clamp bounds every channel to [0,1].
func (c Color) Clamp() Color {
	return Color{clamp01(c.R), clamp01(c.G), clamp01(c.B), clamp01(c.A)}
}

// RGB converts to the 8-bit hardware triplet: gamut clamp, premultiply by
// alpha over opaque black, scale with round-to-nearest.
func (c Color) RGB() (uint8, uint8, uint8) {
	return c.RGBOver(Black)
}

// RGBOver premultiplies over an opaque background before quantizing.
func (c Color) RGBOver(bg Color) (uint8, uint8, uint8) {
	cc := c.Clamp()
	r := cc.R*cc.A + bg.R*(1-cc.A)
	g := cc.G*cc.A + bg.G*(1-cc.A)
	b := cc.B*cc.A + bg.B*(1-cc.A)
	return quant(r), quant(g), quant(b)
}

func quant(v float64) uint8 {
	return uint8(math.RoundToEven(clamp01(v) * 255.0))
}

// HSV converts hue [0,1), saturation and value to an opaque color.
func HSV(h, s, v float64) Color {
	h = h - math.Floor(h)
	i := int(h * 6.0)
	f := h*6.0 - float64(i)
	p := v * (1.0 - s)
	q := v * (1.0 - f*s)
	t := v * (1.0 - (1.0-f)*s)
	switch i % 6 {
	case 0:
		return NewColor(v, t, p)
	case 1:
		return NewColor(q, v, p)
	case 2:
		return NewColor(p, v, t)
	case 3:
		return NewColor(p, q, v)
	case 4:
		return NewColor(t, p, v)
	default:
		return NewColor(v, p, q)
	}
}

// Lerp interpolates between two colors component-wise.
func Lerp(a, b Color, t float64) Color {
	t = clamp01(t)
	return Color{
		R: a.R + (b.R-a.R)*t,
		G: a.G + (b.G-a.G)*t,
		B: a.B + (b.B-a.B)*t,
		A: a.A + (b.A-a.A)*t,
	}
}

// Gradient samples a smooth cycle through the scheme colors, length steps
// long. Used by renderers that derive lookup tables from their traits.
func Gradient(length int, scheme ...Color) []Color {
	if length < 2 {
		length = 2
	}
	out := make([]Color, length)
	if len(scheme) == 0 {
		for i := range out {
			out[i] = HSV(float64(i)/float64(length), 1, 1)
		}
		return out
	}
	if len(scheme) == 1 {
		for i := range out {
			out[i] = scheme[0]
		}
		return out
	}
	segs := len(scheme)
	for i := range out {
		pos := float64(i) / float64(length) * float64(segs)
		idx := int(pos) % segs
		next := (idx + 1) % segs
		out[i] = Lerp(scheme[idx], scheme[next], pos-math.Floor(pos))
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
