// Package frame owns the per-device framebuffer: a matrix-shaped RGBA
// surface that composes layers and produces the on-wire per-row payloads.
package frame

import (
	"sync"
	"time"

	"github.com/hyperb1iss/uchroma/internal/canvas"
)

// Per-segment column budgets. Standard devices accept up to 24 LEDs per
// report; the custom_frame_alt quirk raises the RGB payload to 80 bytes.
const (
	MaxSegmentColumns  = 24
	AltSegmentRGBBytes = 80
	AltSegmentColumns  = AltSegmentRGBBytes / 3 // 26 triplets
)

// Committer pushes an encoded frame to hardware. The device driver
// implements this; the indirection keeps the framebuffer testable with a
// fake sink.
type Committer interface {
	CommitMatrix(f *Frame) error
}

// Segment is one contiguous run of a row, ready for a frame-data report.
// RGB holds 3 bytes per column, left to right.
type Segment struct {
	Row      uint8
	StartCol uint8
	EndCol   uint8
	RGB      []byte
}

// Frame is the per-device surface. Exactly one exists per live driver.
type Frame struct {
	mu     sync.Mutex
	height int
	width  int
	cells  []canvas.Color

	background canvas.Color
	altBudget  bool

	seq       uint64
	committed time.Time
}

// New allocates a frame of the device's shape. altBudget selects the wider
// custom_frame_alt segment limit.
func New(height, width int, altBudget bool) *Frame {
	if height <= 0 || width <= 0 {
		panic("frame: dimensions must be positive")
	}
	return &Frame{
		height:     height,
		width:      width,
		cells:      make([]canvas.Color, height*width),
		background: canvas.Black,
		altBudget:  altBudget,
	}
}

func (f *Frame) Height() int { return f.height }
func (f *Frame) Width() int  { return f.width }

// SetBackground replaces the composition background color.
func (f *Frame) SetBackground(c canvas.Color) {
	f.mu.Lock()
	f.background = c.Clamp()
	f.mu.Unlock()
}

// Clear resets the surface to transparent black.
func (f *Frame) Clear() {
	f.mu.Lock()
	for i := range f.cells {
		f.cells[i] = canvas.Transparent
	}
	f.mu.Unlock()
}

// Blit composites a layer onto the frame with the given mode and opacity.
// The layer shape must match the frame shape; mismatched layers are
// ignored.
func (f *Frame) Blit(layer *canvas.Layer, mode canvas.BlendMode, opacity float64) {
	if layer == nil || layer.Height() != f.height || layer.Width() != f.width {
		return
	}
	f.mu.Lock()
	for row := 0; row < f.height; row++ {
		for col := 0; col < f.width; col++ {
			idx := row*f.width + col
			f.cells[idx] = canvas.BlendPixel(f.cells[idx], layer.Get(row, col), mode, opacity)
		}
	}
	f.mu.Unlock()
}

// Segments encodes the surface into per-row wire payloads. Rows wider than
// the column budget split into contiguous left-to-right runs sharing the
// row index.
func (f *Frame) Segments() []Segment {
	budget := MaxSegmentColumns
	if f.altBudget {
		budget = AltSegmentColumns
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var segs []Segment
	for row := 0; row < f.height; row++ {
		for start := 0; start < f.width; start += budget {
			end := start + budget
			if end > f.width {
				end = f.width
			}
			rgb := make([]byte, 0, (end-start)*3)
			for col := start; col < end; col++ {
				r, g, b := f.cells[row*f.width+col].RGBOver(f.background)
				rgb = append(rgb, r, g, b)
			}
			segs = append(segs, Segment{
				Row:      uint8(row),
				StartCol: uint8(start),
				EndCol:   uint8(end - 1),
				RGB:      rgb,
			})
		}
	}
	return segs
}

// RGBBytes flattens the surface to a row-major 24-bit image for preview
// consumers.
func (f *Frame) RGBBytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]byte, 0, len(f.cells)*3)
	for _, c := range f.cells {
		r, g, b := c.RGBOver(f.background)
		out = append(out, r, g, b)
	}
	return out
}

// Commit pushes the current contents through the committer and stamps the
// frame sequence on success.
func (f *Frame) Commit(c Committer) error {
	if err := c.CommitMatrix(f); err != nil {
		return err
	}
	f.mu.Lock()
	f.seq++
	f.committed = time.Now()
	f.mu.Unlock()
	return nil
}

// Snapshot returns the current preview image with its sequence number and
// commit timestamp.
func (f *Frame) Snapshot() (w, h int, rgb []byte, seq uint64, at time.Time) {
	rgb = f.RGBBytes()
	f.mu.Lock()
	seq, at = f.seq, f.committed
	f.mu.Unlock()
	return f.width, f.height, rgb, seq, at
}
