// Package anim implements the animation engine: the renderer contract and
// registry, per-renderer double-buffered draw tasks, and the compositor
// loop that z-orders, blends and commits frames.
package anim

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hyperb1iss/uchroma/internal/canvas"
	"github.com/hyperb1iss/uchroma/internal/input"
	"github.com/hyperb1iss/uchroma/internal/traits"
)

// Frame-rate bounds. Per-renderer FPS clamps to [MinFPS, MaxFPS]; the
// compositor never commits faster than MaxFPS.
const (
	MinFPS     = 1.0
	MaxFPS     = 30.0
	DefaultFPS = 15.0

	// NumBuffers is the depth of each renderer's double-buffer queues.
	NumBuffers = 2
)

// Names of the composition traits every renderer carries.
const (
	TraitFPS        = "fps"
	TraitBlendMode  = "blend_mode"
	TraitOpacity    = "opacity"
	TraitBackground = "background_color"
)

// Meta describes a renderer implementation.
type Meta struct {
	Name        string
	DisplayName string
	Description string
	Author      string
	Version     string

	// RequiresInput marks renderers that cannot run on devices without
	// the key_input capability.
	RequiresInput bool
}

// Context hands a renderer its runtime surroundings at init time.
type Context struct {
	Height int
	Width  int

	// Input is the renderer's key-event queue, nil when the device has no
	// key input.
	Input *input.Queue

	Log zerolog.Logger
}

// Renderer is one animation unit. Draw produces a single frame into the
// layer; returning false skips the tick without submitting. Errors from
// Draw terminate the renderer without disturbing the rest of the device.
type Renderer interface {
	Meta() Meta
	Traits() *traits.Set
	Init(ctx *Context) bool
	Draw(layer *canvas.Layer, now time.Time) (bool, error)
	Finish()
}

// Factory builds a fresh renderer instance per activation.
type Factory func() Renderer

// Registry is the closed, build-time table of available renderers.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	metas     map[string]Meta
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		metas:     make(map[string]Meta),
	}
}

// Register adds a renderer type. Later registrations replace earlier ones
// of the same name.
func (r *Registry) Register(factory Factory) {
	inst := factory()
	meta := inst.Meta()
	r.mu.Lock()
	r.factories[meta.Name] = factory
	r.metas[meta.Name] = meta
	r.mu.Unlock()
}

// New instantiates a registered renderer.
func (r *Registry) New(name string) (Renderer, bool) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return factory(), true
}

// Meta returns the metadata of a registered renderer.
func (r *Registry) Meta(name string) (Meta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.metas[name]
	return m, ok
}

// Names lists registered renderers, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// baseTraitDefs are appended to every renderer's trait set at add time.
func baseTraitDefs() []traits.Def {
	return []traits.Def{
		traits.FloatDef(TraitFPS, DefaultFPS, MinFPS, MaxFPS),
		traits.EnumDef(TraitBlendMode, string(canvas.DefaultBlendMode), canvas.BlendModes()...),
		traits.FloatDef(TraitOpacity, 1.0, 0.0, 1.0),
		traits.ColorDef(TraitBackground, canvas.Transparent),
	}
}

// holder pairs a running renderer with its buffers and task state.
type holder struct {
	renderer Renderer
	meta     Meta
	zindex   int
	log      zerolog.Logger

	availQ  chan *canvas.Layer
	activeQ chan *canvas.Layer

	// lastBuf is the sticky composed layer reused when the renderer skips
	// a tick; owned by the compositor goroutine.
	lastBuf *canvas.Layer

	inputQ *input.Queue

	cancel context.CancelFunc
	done   chan struct{}

	finishOnce sync.Once
	failed     func(zindex int, err error)
	wake       chan<- struct{}
}

func (h *holder) finish() {
	h.finishOnce.Do(h.renderer.Finish)
}

// run is the renderer task: dequeue a free buffer, draw, hand the result
// to the compositor, pace to the configured FPS.
func (h *holder) run(ctx context.Context) {
	defer close(h.done)
	defer h.finish()

	ts := h.renderer.Traits()
	for {
		start := time.Now()

		var layer *canvas.Layer
		select {
		case <-ctx.Done():
			return
		case layer = <-h.availQ:
		}

		layer.Reset(ts.Color(TraitBackground),
			canvas.BlendMode(ts.String(TraitBlendMode)),
			ts.Float(TraitOpacity))

		submit, err := h.renderer.Draw(layer, time.Now())
		if err != nil {
			h.log.Error().Err(err).Msg("renderer draw failed, stopping")
			h.returnLayer(layer)
			if h.failed != nil {
				h.failed(h.zindex, err)
			}
			return
		}

		if submit {
			layer.Lock(true)
			select {
			case <-ctx.Done():
				layer.Lock(false)
				h.returnLayer(layer)
				return
			case h.activeQ <- layer:
			}
			select {
			case h.wake <- struct{}{}:
			default:
			}
		} else {
			h.returnLayer(layer)
		}

		fps := ts.Float(TraitFPS)
		if fps < MinFPS {
			fps = MinFPS
		} else if fps > MaxFPS {
			fps = MaxFPS
		}
		period := time.Duration(float64(time.Second) / fps)
		if rem := period - time.Since(start); rem > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(rem):
			}
		}
	}
}

func (h *holder) returnLayer(layer *canvas.Layer) {
	select {
	case h.availQ <- layer:
	default:
	}
}
