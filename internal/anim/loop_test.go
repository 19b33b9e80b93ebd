package anim

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/hyperb1iss/uchroma/internal/canvas"
	"github.com/hyperb1iss/uchroma/internal/device"
	"github.com/hyperb1iss/uchroma/internal/frame"
	"github.com/hyperb1iss/uchroma/internal/hardware"
	"github.com/hyperb1iss/uchroma/internal/traits"
)

// fakeDevice records committed frames.
type fakeDevice struct {
	mu      sync.Mutex
	commits int
	last    []byte
	resets  int
}

func (f *fakeDevice) CommitMatrix(fr *frame.Frame) error {
	rgb := fr.RGBBytes()
	f.mu.Lock()
	f.commits++
	f.last = rgb
	f.mu.Unlock()
	return nil
}

func (f *fakeDevice) Reset() error {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
	return nil
}

func (f *fakeDevice) snapshot() (int, []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commits, append([]byte(nil), f.last...)
}

// fakeRenderer paints a constant color each draw.
type fakeRenderer struct {
	name   string
	color  canvas.Color
	ts     *traits.Set
	initOK bool

	mu       sync.Mutex
	draws    int
	finished bool
	failAt   int  // error on the nth draw (1-based), 0 = never
	oneShot  bool // submit only the first draw
}

func newFakeRenderer(name string, color canvas.Color) *fakeRenderer {
	return &fakeRenderer{
		name:   name,
		color:  color,
		ts:     traits.NewSet(),
		initOK: true,
	}
}

func (f *fakeRenderer) Meta() Meta {
	return Meta{Name: f.name, DisplayName: f.name, Version: "1.0"}
}

func (f *fakeRenderer) Traits() *traits.Set { return f.ts }

func (f *fakeRenderer) Init(*Context) bool { return f.initOK }

func (f *fakeRenderer) Draw(layer *canvas.Layer, _ time.Time) (bool, error) {
	f.mu.Lock()
	f.draws++
	draws := f.draws
	f.mu.Unlock()

	if f.failAt > 0 && draws >= f.failAt {
		return false, errors.New("synthetic draw failure")
	}
	if f.oneShot && draws > 1 {
		return false, nil
	}
	layer.Fill(f.color)
	return true, nil
}

func (f *fakeRenderer) Finish() {
	f.mu.Lock()
	f.finished = true
	f.mu.Unlock()
}

func (f *fakeRenderer) isFinished() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finished
}

func testLoop(t *testing.T, caps ...hardware.Capability) (*Loop, *fakeDevice, *Registry) {
	t.Helper()
	desc := &hardware.Descriptor{
		Name:       "test device",
		Kind:       hardware.Keyboard,
		Dimensions: hardware.Dimensions{Height: 2, Width: 2},
		Caps:       caps,
	}
	dev := &fakeDevice{}
	reg := NewRegistry()
	loop := NewLoop(dev, frame.New(2, 2, false), desc, nil, reg, zerolog.Nop())
	loop.Start()
	t.Cleanup(loop.Stop)
	return loop, dev, reg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestAutoZIndexAssignment(t *testing.T) {
	loop, _, reg := testLoop(t)
	reg.Register(func() Renderer { return newFakeRenderer("red", canvas.NewColor(1, 0, 0)) })
	reg.Register(func() Renderer { return newFakeRenderer("blue", canvas.NewColor(0, 0, 1)) })

	z0, err := loop.AddRenderer("red", nil, nil)
	if err != nil {
		t.Fatalf("add red: %v", err)
	}
	z1, err := loop.AddRenderer("blue", nil, nil)
	if err != nil {
		t.Fatalf("add blue: %v", err)
	}
	if z0 != 0 || z1 != 1 {
		t.Fatalf("auto z = %d,%d, want 0,1", z0, z1)
	}
}

func TestConflictOnOccupiedZIndex(t *testing.T) {
	loop, _, reg := testLoop(t)
	reg.Register(func() Renderer { return newFakeRenderer("red", canvas.NewColor(1, 0, 0)) })
	reg.Register(func() Renderer { return newFakeRenderer("blue", canvas.NewColor(0, 0, 1)) })

	if _, err := loop.AddRenderer("red", nil, nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	z := 0
	_, err := loop.AddRenderer("blue", &z, nil)
	if !errors.Is(err, device.ErrConflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
	if n := len(loop.Layers()); n != 1 {
		t.Fatalf("conflicting add changed the layer list: %d layers", n)
	}
}

func TestComposeBlendsByZOrder(t *testing.T) {
	loop, dev, reg := testLoop(t)
	reg.Register(func() Renderer { return newFakeRenderer("red", canvas.NewColor(1, 0, 0)) })
	reg.Register(func() Renderer { return newFakeRenderer("blue", canvas.NewColor(0, 0, 1)) })

	if _, err := loop.AddRenderer("red", nil, map[string]any{"blend_mode": "normal"}); err != nil {
		t.Fatalf("add red: %v", err)
	}
	if _, err := loop.AddRenderer("blue", nil, map[string]any{"blend_mode": "screen"}); err != nil {
		t.Fatalf("add blue: %v", err)
	}

	ok := waitFor(t, 2*time.Second, func() bool {
		commits, last := dev.snapshot()
		if commits < 3 || len(last) < 3 {
			return false
		}
		// screen(red, blue) = magenta
		return last[0] == 255 && last[1] == 0 && last[2] == 255
	})
	if !ok {
		_, last := dev.snapshot()
		t.Fatalf("composited frame never reached magenta, last = %v", last)
	}
}

func TestStickyLayerReuse(t *testing.T) {
	loop, dev, reg := testLoop(t)
	one := newFakeRenderer("oneshot", canvas.NewColor(0, 0, 1))
	one.oneShot = true
	reg.Register(func() Renderer { return newFakeRenderer("red", canvas.NewColor(1, 0, 0)) })
	reg.Register(func() Renderer { return one })

	if _, err := loop.AddRenderer("red", nil, map[string]any{"blend_mode": "normal"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := loop.AddRenderer("oneshot", nil, map[string]any{"blend_mode": "screen"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	// long after the oneshot stopped producing, its last layer still
	// composes in
	ok := waitFor(t, 2*time.Second, func() bool {
		commits, last := dev.snapshot()
		return commits > 5 && len(last) >= 3 && last[2] == 255
	})
	if !ok {
		_, last := dev.snapshot()
		t.Fatalf("sticky layer dropped from composition, last = %v", last)
	}
}

func TestRequiresInputRefusedWithoutCapability(t *testing.T) {
	loop, _, reg := testLoop(t) // no key_input capability
	reg.Register(func() Renderer {
		r := newFakeRenderer("reactive", canvas.NewColor(1, 1, 1))
		return &inputRenderer{fakeRenderer: r}
	})

	_, err := loop.AddRenderer("reactive", nil, nil)
	if !errors.Is(err, device.ErrUnsupported) {
		t.Fatalf("expected Unsupported, got %v", err)
	}
}

type inputRenderer struct{ *fakeRenderer }

func (r *inputRenderer) Meta() Meta {
	m := r.fakeRenderer.Meta()
	m.RequiresInput = true
	return m
}

func TestInitFailureIsNotAdded(t *testing.T) {
	loop, _, reg := testLoop(t)
	reg.Register(func() Renderer {
		r := newFakeRenderer("broken", canvas.NewColor(1, 1, 1))
		r.initOK = false
		return r
	})

	_, err := loop.AddRenderer("broken", nil, nil)
	if !errors.Is(err, device.ErrRendererFailed) {
		t.Fatalf("expected RendererFailed, got %v", err)
	}
	if len(loop.Layers()) != 0 {
		t.Fatal("failed init must not leave a layer behind")
	}
}

func TestInvalidTraitsRejectedAtAdd(t *testing.T) {
	loop, _, reg := testLoop(t)
	reg.Register(func() Renderer { return newFakeRenderer("red", canvas.NewColor(1, 0, 0)) })

	_, err := loop.AddRenderer("red", nil, map[string]any{"opacity": 1.5})
	if !errors.Is(err, device.ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	if len(loop.Layers()) != 0 {
		t.Fatal("invalid traits must not add the renderer")
	}
}

func TestRemoveCallsFinish(t *testing.T) {
	loop, _, reg := testLoop(t)
	r := newFakeRenderer("red", canvas.NewColor(1, 0, 0))
	reg.Register(func() Renderer { return r })

	z, err := loop.AddRenderer("red", nil, nil)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := loop.RemoveRenderer(z); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !r.isFinished() {
		t.Fatal("Finish not invoked on removal")
	}
	if len(loop.Layers()) != 0 {
		t.Fatal("layer list not empty after removal")
	}
}

func TestDrawErrorTerminatesOnlyThatRenderer(t *testing.T) {
	loop, dev, reg := testLoop(t)
	failing := newFakeRenderer("failing", canvas.NewColor(0, 1, 0))
	failing.failAt = 2
	reg.Register(func() Renderer { return newFakeRenderer("red", canvas.NewColor(1, 0, 0)) })
	reg.Register(func() Renderer { return failing })

	if _, err := loop.AddRenderer("red", nil, nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := loop.AddRenderer("failing", nil, nil); err != nil {
		t.Fatalf("add: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { return len(loop.Layers()) == 1 }) {
		t.Fatal("failing renderer was not removed")
	}
	if !failing.isFinished() {
		t.Fatal("Finish not invoked on the errored path")
	}

	// the healthy renderer keeps committing
	before, _ := dev.snapshot()
	if !waitFor(t, 2*time.Second, func() bool { c, _ := dev.snapshot(); return c > before }) {
		t.Fatal("surviving renderer stopped committing")
	}
}

func TestPauseHaltsCommits(t *testing.T) {
	loop, dev, reg := testLoop(t)
	reg.Register(func() Renderer { return newFakeRenderer("red", canvas.NewColor(1, 0, 0)) })
	if _, err := loop.AddRenderer("red", nil, nil); err != nil {
		t.Fatalf("add: %v", err)
	}

	if !waitFor(t, 2*time.Second, func() bool { c, _ := dev.snapshot(); return c > 0 }) {
		t.Fatal("no commits before pause")
	}

	loop.Pause(true)
	time.Sleep(100 * time.Millisecond)
	paused, _ := dev.snapshot()
	time.Sleep(200 * time.Millisecond)
	after, _ := dev.snapshot()
	if after > paused+1 {
		t.Fatalf("commits continued while paused: %d -> %d", paused, after)
	}

	loop.Pause(false)
	if !waitFor(t, 2*time.Second, func() bool { c, _ := dev.snapshot(); return c > after }) {
		t.Fatal("commits did not resume")
	}
}

func TestStopAllResetsDevice(t *testing.T) {
	loop, dev, reg := testLoop(t)
	reg.Register(func() Renderer { return newFakeRenderer("red", canvas.NewColor(1, 0, 0)) })
	if _, err := loop.AddRenderer("red", nil, nil); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := loop.StopAll(); err != nil {
		t.Fatalf("stop all: %v", err)
	}
	if len(loop.Layers()) != 0 {
		t.Fatal("layers remain after stop-all")
	}
	dev.mu.Lock()
	resets := dev.resets
	dev.mu.Unlock()
	if resets != 1 {
		t.Fatalf("device reset %d times, want 1", resets)
	}
}

func TestSetLayerTraitsValidates(t *testing.T) {
	loop, _, reg := testLoop(t)
	reg.Register(func() Renderer { return newFakeRenderer("red", canvas.NewColor(1, 0, 0)) })
	z, err := loop.AddRenderer("red", nil, nil)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := loop.SetLayerTraits(z, map[string]any{"fps": 20.0}); err != nil {
		t.Fatalf("set traits: %v", err)
	}
	if err := loop.SetLayerTraits(z, map[string]any{"fps": 99.0}); !errors.Is(err, device.ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument for out-of-range fps, got %v", err)
	}
	if err := loop.SetLayerTraits(7, nil); !errors.Is(err, device.ErrInvalidArgument) {
		t.Fatalf("expected InvalidArgument for unknown zindex, got %v", err)
	}
}
