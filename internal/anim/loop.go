package anim

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/hyperb1iss/uchroma/internal/canvas"
	"github.com/hyperb1iss/uchroma/internal/device"
	"github.com/hyperb1iss/uchroma/internal/frame"
	"github.com/hyperb1iss/uchroma/internal/hardware"
	"github.com/hyperb1iss/uchroma/internal/input"
)

// Device is the compositor's view of the driver: the commit path and the
// reset issued by stop-all. Renderers never hold the driver itself.
type Device interface {
	CommitMatrix(f *frame.Frame) error
	Reset() error
}

// LayerInfo describes one active layer for remote observers.
type LayerInfo struct {
	ZIndex int            `json:"zindex"`
	Name   string         `json:"name"`
	Traits map[string]any `json:"traits"`
}

// ChangeEvent names the layer-list transitions reported to observers.
type ChangeEvent string

const (
	LayerAdded    ChangeEvent = "layer_added"
	LayerRemoved  ChangeEvent = "layer_removed"
	LayerModified ChangeEvent = "layer_modified"
	LayerFailed   ChangeEvent = "layer_failed"
	StateChanged  ChangeEvent = "state_changed"
)

// Loop collects the output of the device's renderers and displays the
// composited image.
//
// Renderers run as independent tasks and block or yield buffers at their
// own pace. Each has a pair of buffered channels; finished layers arrive
// on the active queue and the compositor drains whatever is ready each
// tick, reusing the previous layer of any renderer that produced nothing
// this round. The composed result is pushed to the hardware no faster
// than MaxFPS.
type Loop struct {
	dev   Device
	frame *frame.Frame
	desc  *hardware.Descriptor
	src   *input.Source
	reg   *Registry
	log   zerolog.Logger

	mu      sync.Mutex
	holders []*holder
	paused  bool
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	wake chan struct{}

	// OnChange, when set, observes layer-list and state transitions.
	OnChange func(ev ChangeEvent, zindex int, name string)
}

// NewLoop builds the compositor for one device. src may be nil when the
// device produces no key input.
func NewLoop(dev Device, f *frame.Frame, desc *hardware.Descriptor, src *input.Source,
	reg *Registry, log zerolog.Logger) *Loop {
	return &Loop{
		dev:   dev,
		frame: f,
		desc:  desc,
		src:   src,
		reg:   reg,
		log:   log.With().Str("component", "anim").Logger(),
		wake:  make(chan struct{}, 1),
	}
}

// Start spawns the compositor task. Renderer tasks start as layers are
// added.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true
	go l.animate(ctx)
	l.log.Info().Msg("animation loop starting")
}

// Stop cancels every renderer, then the compositor task.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	cancel := l.cancel
	done := l.done
	l.mu.Unlock()

	for _, z := range l.zIndices() {
		_ = l.RemoveRenderer(z)
	}
	cancel()
	<-done
	l.log.Info().Msg("animation loop stopped")
}

// Pause halts composition; renderer tasks keep producing until their
// active queues fill, then block.
func (l *Loop) Pause(paused bool) {
	l.mu.Lock()
	if l.paused == paused {
		l.mu.Unlock()
		return
	}
	l.paused = paused
	l.mu.Unlock()

	if !paused {
		// pick up anything queued while paused
		select {
		case l.wake <- struct{}{}:
		default:
		}
	}
	l.notify(StateChanged, -1, "")
	l.log.Debug().Bool("paused", paused).Msg("loop pause state")
}

// Paused reports whether composition is halted.
func (l *Loop) Paused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

// StopAll removes every renderer and resets the device.
func (l *Loop) StopAll() error {
	for _, z := range l.zIndices() {
		_ = l.RemoveRenderer(z)
	}
	return l.dev.Reset()
}

func (l *Loop) zIndices() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]int, 0, len(l.holders))
	for _, h := range l.holders {
		out = append(out, h.zindex)
	}
	return out
}

// AddRenderer validates traits, initializes the renderer and spawns its
// task. A nil zindex auto-assigns max(current)+1; an occupied zindex fails
// with Conflict and spawns nothing.
func (l *Loop) AddRenderer(name string, zindex *int, traitValues map[string]any) (int, error) {
	meta, ok := l.reg.Meta(name)
	if !ok {
		return 0, errors.Wrapf(device.ErrUnsupported, "renderer %q", name)
	}
	if meta.RequiresInput && !l.desc.HasCapability(hardware.CapKeyInput) {
		return 0, errors.Wrapf(device.ErrUnsupported,
			"renderer %q needs key input the device cannot provide", name)
	}

	l.mu.Lock()
	z := 0
	for _, h := range l.holders {
		if h.zindex >= z {
			z = h.zindex + 1
		}
	}
	if zindex != nil {
		for _, h := range l.holders {
			if h.zindex == *zindex {
				l.mu.Unlock()
				return 0, errors.Wrapf(device.ErrConflict, "zindex %d", *zindex)
			}
		}
		z = *zindex
	}
	l.mu.Unlock()

	r, _ := l.reg.New(name)
	ts := r.Traits()
	ts.AddDefs(baseTraitDefs()...)
	if err := ts.AssignAll(traitValues); err != nil {
		return 0, errors.Wrap(device.ErrInvalidArgument, err.Error())
	}

	rctx := &Context{
		Height: l.frame.Height(),
		Width:  l.frame.Width(),
		Log:    l.log.With().Str("renderer", name).Int("zindex", z).Logger(),
	}
	var queue *input.Queue
	if l.src != nil && l.desc.HasCapability(hardware.CapKeyInput) {
		queue = input.NewQueue(l.desc)
		rctx.Input = queue
	}

	if !r.Init(rctx) {
		if queue != nil {
			queue.Close()
		}
		return 0, errors.Wrapf(device.ErrRendererFailed, "renderer %q failed to initialize", name)
	}

	h := &holder{
		renderer: r,
		meta:     meta,
		zindex:   z,
		log:      rctx.Log,
		availQ:   make(chan *canvas.Layer, NumBuffers),
		activeQ:  make(chan *canvas.Layer, NumBuffers),
		inputQ:   queue,
		done:     make(chan struct{}),
		wake:     l.wake,
		failed:   l.rendererFailed,
	}
	for i := 0; i < NumBuffers; i++ {
		h.availQ <- canvas.NewLayer(l.frame.Height(), l.frame.Width())
	}
	if queue != nil && l.src != nil {
		l.src.Attach(queue)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	l.mu.Lock()
	for _, other := range l.holders {
		if other.zindex == z {
			// lost a race for the slot
			l.mu.Unlock()
			cancel()
			if queue != nil {
				if l.src != nil {
					l.src.Detach(queue)
				}
				queue.Close()
			}
			h.finish()
			return 0, errors.Wrapf(device.ErrConflict, "zindex %d", z)
		}
	}
	l.holders = append(l.holders, h)
	l.sortLocked()
	l.mu.Unlock()

	go h.run(ctx)

	l.log.Info().Str("renderer", name).Int("zindex", z).Msg("layer created")
	l.notify(LayerAdded, z, name)
	return z, nil
}

func (l *Loop) sortLocked() {
	for i := 1; i < len(l.holders); i++ {
		for j := i; j > 0 && l.holders[j-1].zindex > l.holders[j].zindex; j-- {
			l.holders[j-1], l.holders[j] = l.holders[j], l.holders[j-1]
		}
	}
}

// RemoveRenderer cancels the task, drains both queues, invokes Finish and
// frees the layers.
func (l *Loop) RemoveRenderer(zindex int) error {
	l.mu.Lock()
	var h *holder
	idx := -1
	for i, cand := range l.holders {
		if cand.zindex == zindex {
			h, idx = cand, i
			break
		}
	}
	if h == nil {
		l.mu.Unlock()
		return errors.Wrapf(device.ErrInvalidArgument, "no layer at zindex %d", zindex)
	}
	l.holders = append(l.holders[:idx], l.holders[idx+1:]...)
	l.mu.Unlock()

	h.cancel()
	<-h.done

	if h.inputQ != nil {
		if l.src != nil {
			l.src.Detach(h.inputQ)
		}
		h.inputQ.Close()
	}

	// drain buffers
	for {
		select {
		case buf := <-h.activeQ:
			buf.Lock(false)
		case <-h.availQ:
		default:
			h.finish()
			l.log.Info().Int("zindex", zindex).Msg("layer removed")
			l.notify(LayerRemoved, zindex, h.meta.Name)
			return nil
		}
	}
}

// rendererFailed runs on the renderer task when Draw errors; removal
// happens off-task to avoid self-join.
func (l *Loop) rendererFailed(zindex int, err error) {
	l.notify(LayerFailed, zindex, err.Error())
	go func() {
		_ = l.RemoveRenderer(zindex)
	}()
}

// SetLayerTraits applies trait updates to the renderer at a z-index;
// changes take effect by its next draw.
func (l *Loop) SetLayerTraits(zindex int, values map[string]any) error {
	l.mu.Lock()
	var h *holder
	for _, cand := range l.holders {
		if cand.zindex == zindex {
			h = cand
			break
		}
	}
	l.mu.Unlock()
	if h == nil {
		return errors.Wrapf(device.ErrInvalidArgument, "no layer at zindex %d", zindex)
	}
	if err := h.renderer.Traits().AssignAll(values); err != nil {
		return errors.Wrap(device.ErrInvalidArgument, err.Error())
	}
	l.notify(LayerModified, zindex, h.meta.Name)
	return nil
}

// Layers snapshots the active layer list in z order.
func (l *Loop) Layers() []LayerInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LayerInfo, 0, len(l.holders))
	for _, h := range l.holders {
		out = append(out, LayerInfo{
			ZIndex: h.zindex,
			Name:   h.meta.Name,
			Traits: h.renderer.Traits().Values(),
		})
	}
	return out
}

func (l *Loop) notify(ev ChangeEvent, zindex int, name string) {
	if l.OnChange != nil {
		l.OnChange(ev, zindex, name)
	}
}

// animate is the compositor task: wait until any renderer has a layer
// ready, drain whatever is available, compose in z order and commit.
func (l *Loop) animate(ctx context.Context) {
	defer close(l.done)

	period := time.Duration(float64(time.Second) / MaxFPS)

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}

		l.mu.Lock()
		paused := l.paused
		holders := make([]*holder, len(l.holders))
		copy(holders, l.holders)
		l.mu.Unlock()

		if paused || len(holders) == 0 {
			continue
		}

		start := time.Now()

		// non-blocking snapshot: one layer per renderer at most
		popped := make(map[*holder]*canvas.Layer, len(holders))
		any := false
		for _, h := range holders {
			select {
			case buf := <-h.activeQ:
				popped[h] = buf
				any = true
			default:
			}
		}
		if !any {
			continue
		}

		l.frame.Clear()
		for _, h := range holders {
			buf := popped[h]
			if buf == nil {
				buf = h.lastBuf // sticky
			}
			if buf == nil {
				continue
			}
			l.frame.Blit(buf, buf.BlendMode, buf.Opacity)
		}

		if err := l.frame.Commit(l.dev); err != nil {
			// leave layers intact; the next tick retries with the same
			// composition inputs
			l.log.Warn().Err(err).Msg("frame commit failed")
		}

		// recycle the replaced sticky buffers
		for h, buf := range popped {
			if h.lastBuf != nil {
				h.lastBuf.Lock(false)
				h.returnLayer(h.lastBuf)
			}
			h.lastBuf = buf
		}

		// respect the global cap
		if rem := period - time.Since(start); rem > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(rem):
			}
		}

		// more layers may already be queued
		l.mu.Lock()
		pending := false
		for _, h := range l.holders {
			if len(h.activeQ) > 0 {
				pending = true
				break
			}
		}
		l.mu.Unlock()
		if pending {
			select {
			case l.wake <- struct{}{}:
			default:
			}
		}
	}
}
