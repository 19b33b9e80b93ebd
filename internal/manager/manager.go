// Package manager observes hotplug, resolves connected devices against the
// descriptor store, and owns the lifecycle of drivers and their
// compositors.
package manager

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/hyperb1iss/uchroma/internal/anim"
	"github.com/hyperb1iss/uchroma/internal/canvas"
	"github.com/hyperb1iss/uchroma/internal/device"
	"github.com/hyperb1iss/uchroma/internal/fxlib"
	"github.com/hyperb1iss/uchroma/internal/hardware"
	"github.com/hyperb1iss/uchroma/internal/input"
	"github.com/hyperb1iss/uchroma/internal/prefs"
	"github.com/hyperb1iss/uchroma/internal/transport"
)

const (
	// openRetryDelay is the single retry window after a failed transport
	// open on hotplug.
	openRetryDelay = 250 * time.Millisecond

	// probeTimeout bounds the initial identity probe; unresponsive
	// devices are kept offline and initialized later.
	probeTimeout = 500 * time.Millisecond

	heartbeatInterval = 10 * time.Second
)

// Device bundles everything the daemon tracks for one connected device.
type Device struct {
	ID     string
	Driver *device.Driver
	Loop   *anim.Loop
	Source *input.Source
}

// Manager is the device lifecycle owner.
type Manager struct {
	store    *hardware.Store
	prefs    *prefs.Store
	registry *anim.Registry
	log      zerolog.Logger
	thermal  device.ThermalSource

	mu      sync.Mutex
	devices map[string]*Device
	paths   map[string]string // hidraw path -> device id
	nextIdx int

	watcher *fsnotify.Watcher
	stop    chan struct{}
	wg      sync.WaitGroup

	events *Hub
}

// New builds a manager over a loaded descriptor store.
func New(store *hardware.Store, pstore *prefs.Store, log zerolog.Logger) *Manager {
	reg := anim.NewRegistry()
	fxlib.RegisterAll(reg)
	return &Manager{
		store:    store,
		prefs:    pstore,
		registry: reg,
		log:      log.With().Str("component", "manager").Logger(),
		devices:  make(map[string]*Device),
		paths:    make(map[string]string),
		stop:     make(chan struct{}),
		events:   NewHub(log),
	}
}

// SetThermalSource injects the host thermal reader handed to laptop
// drivers.
func (m *Manager) SetThermalSource(src device.ThermalSource) { m.thermal = src }

// Registry exposes the renderer registry to the remote interface.
func (m *Manager) Registry() *anim.Registry { return m.registry }

// Events exposes the lifecycle event hub.
func (m *Manager) Events() *Hub { return m.events }

// Start performs the initial scan and begins watching for hotplug.
func (m *Manager) Start() error {
	m.rescan()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add("/dev"); err != nil {
		w.Close()
		return err
	}
	m.watcher = w

	m.wg.Add(2)
	go m.watchLoop()
	go m.heartbeatLoop()
	return nil
}

// Stop tears down every device and the watchers.
func (m *Manager) Stop() {
	close(m.stop)
	if m.watcher != nil {
		m.watcher.Close()
	}
	m.wg.Wait()

	m.mu.Lock()
	devices := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, d)
	}
	m.devices = make(map[string]*Device)
	m.mu.Unlock()

	for _, d := range devices {
		m.teardown(d)
	}
	m.events.Close()
}

// Devices snapshots the managed device set.
func (m *Manager) Devices() []*Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	return out
}

// Get resolves a device by id.
func (m *Manager) Get(id string) (*Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	return d, ok
}

func (m *Manager) watchLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stop:
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasPrefix(filepath.Base(ev.Name), "hidraw") {
				continue
			}
			// settle window for udev permissions
			time.Sleep(100 * time.Millisecond)
			m.rescan()
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.log.Warn().Err(err).Msg("hotplug watcher error")
		}
	}
}

func (m *Manager) heartbeatLoop() {
	defer m.wg.Done()
	tick := time.NewTicker(heartbeatInterval)
	defer tick.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-tick.C:
			for _, d := range m.Devices() {
				if d.Driver.Descriptor().HasCapability(hardware.CapWireless) {
					d.Driver.Heartbeat()
				}
			}
		}
	}
}

// rescan diffs the current enumeration against the managed set, adding
// and removing devices as needed.
func (m *Manager) rescan() {
	infos, err := transport.Enumerate(hardware.RazerVendorID)
	if err != nil {
		m.log.Warn().Err(err).Msg("hid enumeration failed")
		return
	}

	seen := make(map[string]bool)
	for _, info := range infos {
		// the control interface carries the feature reports
		if info.Interface > 0 {
			continue
		}
		seen[info.Path] = true

		if m.managedPath(info.Path) {
			continue
		}
		m.addDevice(info)
	}

	m.mu.Lock()
	var gone []string
	for path, id := range m.paths {
		if !seen[path] {
			gone = append(gone, id)
		}
	}
	m.mu.Unlock()
	for _, id := range gone {
		m.removeDevice(id)
	}
}

func (m *Manager) managedPath(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.paths[path]
	return ok
}

func (m *Manager) addDevice(info transport.DeviceInfo) {
	desc, ok := m.store.Lookup(info.VendorID, info.ProductID)
	if !ok {
		m.log.Debug().
			Str("path", info.Path).
			Uint16("product", info.ProductID).
			Msg("no descriptor for device, ignoring")
		return
	}

	profile := desc.ProfileFor()
	t, err := transport.Open(info.Path, profile.InterCommandDelay)
	if err != nil {
		// one retry after the settle window, then give up
		time.Sleep(openRetryDelay)
		t, err = transport.Open(info.Path, profile.InterCommandDelay)
		if err != nil {
			m.log.Warn().Err(err).Str("path", info.Path).Msg("failed to open transport")
			return
		}
	}

	drv := device.New(desc, t, m.log)
	if desc.Kind == hardware.Laptop && m.thermal != nil {
		drv.SetThermalSource(m.thermal)
	}

	probed := make(chan error, 1)
	go func() { probed <- drv.Start() }()
	select {
	case err = <-probed:
		if err != nil {
			m.log.Warn().Err(err).Str("device", desc.Name).Msg("device probe failed")
			drv.MarkOffline(true)
		}
	case <-time.After(probeTimeout):
		m.log.Warn().Str("device", desc.Name).Msg("device unresponsive, deferring initialization")
		drv.MarkOffline(true)
	}

	m.mu.Lock()
	id := fmt.Sprintf("%04x:%04x.%02d", desc.VendorID, desc.ProductID, m.nextIdx)
	m.nextIdx++
	m.mu.Unlock()

	var src *input.Source
	if desc.HasCapability(hardware.CapKeyInput) {
		src = input.NewSource(m.log, eventNodesFor(info.Path))
	}

	dev := &Device{ID: id, Driver: drv, Source: src}
	if f := drv.Frame(); f != nil {
		dev.Loop = anim.NewLoop(drv, f, desc, src, m.registry, m.log)
		dev.Loop.OnChange = func(ev anim.ChangeEvent, zindex int, name string) {
			m.events.Publish(Event{Kind: EventPropertyChanged, DeviceID: id,
				Property: string(ev), Detail: name})
			m.persist(dev)
		}
		dev.Loop.Start()
	}

	m.mu.Lock()
	m.devices[id] = dev
	m.paths[info.Path] = id
	m.mu.Unlock()

	m.restorePrefs(dev)

	m.log.Info().Str("id", id).Str("device", desc.Name).Msg("device added")
	m.events.Publish(Event{Kind: EventDeviceAdded, DeviceID: id})
}

func (m *Manager) removeDevice(id string) {
	m.mu.Lock()
	dev, ok := m.devices[id]
	if ok {
		delete(m.devices, id)
	}
	for path, owner := range m.paths {
		if owner == id {
			delete(m.paths, path)
			break
		}
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	m.events.Publish(Event{Kind: EventDeviceRemoved, DeviceID: id})
	m.teardown(dev)
	m.log.Info().Str("id", id).Msg("device removed")
}

func (m *Manager) teardown(dev *Device) {
	if dev.Loop != nil {
		dev.Loop.Stop()
	}
	if dev.Source != nil {
		dev.Source.Close()
	}
	dev.Driver.Stop()
}

// restorePrefs replays the persisted record onto a freshly added device.
func (m *Manager) restorePrefs(dev *Device) {
	rec := m.prefs.Get(dev.Driver.GetSerial())

	if rec.Brightness > 0 {
		if err := dev.Driver.SetBrightness(rec.Brightness); err != nil {
			m.log.Debug().Err(err).Msg("could not restore brightness")
		}
	}
	if rec.Effect != "" {
		args := device.EffectArgs{}
		if colors, ok := rec.EffectArgs["colors"].([]any); ok {
			for _, raw := range colors {
				if s, ok := raw.(string); ok {
					if c, err := canvas.ParseColor(s); err == nil {
						args.Colors = append(args.Colors, c)
					}
				}
			}
		}
		if err := dev.Driver.SetEffect(rec.Effect, args); err != nil {
			m.log.Debug().Err(err).Msg("could not restore effect")
		}
	}
	if dev.Loop != nil {
		for _, layer := range rec.Layers {
			z := layer.ZIndex
			if _, err := dev.Loop.AddRenderer(layer.Renderer, &z, layer.Traits); err != nil {
				m.log.Debug().Err(err).Str("renderer", layer.Renderer).Msg("could not restore layer")
			}
		}
	}
}

// persist snapshots the device's current layer stack and effect into the
// preference store.
func (m *Manager) persist(dev *Device) {
	rec := m.prefs.Get(dev.Driver.GetSerial())
	rec.Layers = rec.Layers[:0]
	if dev.Loop != nil {
		for _, info := range dev.Loop.Layers() {
			rec.Layers = append(rec.Layers, prefs.LayerRecord{
				Renderer: info.Name,
				ZIndex:   info.ZIndex,
				Traits:   sanitizeTraits(info.Traits),
			})
		}
	}
	if fx := dev.Driver.CurrentEffect(); fx != nil {
		rec.Effect = fx.Name
	}
	m.prefs.Put(dev.Driver.GetSerial(), rec)
}

// sanitizeTraits converts trait values to YAML-friendly forms.
func sanitizeTraits(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		switch tv := v.(type) {
		case canvas.Color:
			out[k] = tv.Hex()
		case []canvas.Color:
			hexes := make([]string, len(tv))
			for i, c := range tv {
				hexes[i] = c.Hex()
			}
			out[k] = hexes
		default:
			out[k] = v
		}
	}
	return out
}

// eventNodesFor finds the input event nodes belonging to the same USB
// device as a hidraw node, via sysfs.
func eventNodesFor(hidrawPath string) []string {
	name := filepath.Base(hidrawPath)
	pattern := filepath.Join("/sys/class/hidraw", name, "device", "input", "input*", "event*")
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return nil
	}
	nodes := make([]string, 0, len(matches))
	for _, match := range matches {
		node := filepath.Join("/dev/input", filepath.Base(match))
		if _, err := os.Stat(node); err == nil {
			nodes = append(nodes, node)
		}
	}
	return nodes
}
