// Package api exposes the daemon's remote object interface: HTTP JSON for
// operations and properties, websockets for lifecycle events and live
// frame preview.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/hyperb1iss/uchroma/internal/anim"
	"github.com/hyperb1iss/uchroma/internal/canvas"
	"github.com/hyperb1iss/uchroma/internal/config"
	"github.com/hyperb1iss/uchroma/internal/device"
	"github.com/hyperb1iss/uchroma/internal/hardware"
	"github.com/hyperb1iss/uchroma/internal/manager"
	"github.com/hyperb1iss/uchroma/internal/prefs"
	"github.com/hyperb1iss/uchroma/internal/protocol"
)

// compositorDeadline bounds remote requests that enter the compositor
// path.
const compositorDeadline = 2 * time.Second

// Server is the remote interface endpoint.
type Server struct {
	mgr    *manager.Manager
	prefs  *prefs.Store
	cfg    *config.Config
	log    zerolog.Logger
	server *http.Server
	start  time.Time
}

// NewServer wires the HTTP surface over a manager.
func NewServer(mgr *manager.Manager, pstore *prefs.Store, cfg *config.Config, log zerolog.Logger) *Server {
	return &Server{
		mgr:   mgr,
		prefs: pstore,
		cfg:   cfg,
		log:   log.With().Str("component", "api").Logger(),
		start: time.Now(),
	}
}

// Start begins serving; it returns once the listener stops.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/devices", s.handleListDevices)
	mux.HandleFunc("GET /api/devices/{id}", s.withDevice(s.handleGetDevice))
	mux.HandleFunc("POST /api/devices/{id}/brightness", s.withDevice(s.handleSetBrightness))
	mux.HandleFunc("POST /api/devices/{id}/suspend", s.withDevice(s.handleSuspend))
	mux.HandleFunc("POST /api/devices/{id}/reset", s.withDevice(s.handleReset))
	mux.HandleFunc("POST /api/devices/{id}/led", s.withDevice(s.handleSetLED))
	mux.HandleFunc("POST /api/devices/{id}/effect", s.withDevice(s.handleSetEffect))
	mux.HandleFunc("GET /api/devices/{id}/renderers", s.withDevice(s.handleListRenderers))
	mux.HandleFunc("POST /api/devices/{id}/layers", s.withDevice(s.handleAddLayer))
	mux.HandleFunc("PUT /api/devices/{id}/layers/{z}", s.withDevice(s.handleSetLayerTraits))
	mux.HandleFunc("DELETE /api/devices/{id}/layers/{z}", s.withDevice(s.handleRemoveLayer))
	mux.HandleFunc("POST /api/devices/{id}/pause", s.withDevice(s.handlePause))
	mux.HandleFunc("POST /api/devices/{id}/stop", s.withDevice(s.handleStopAnimation))
	mux.HandleFunc("GET /api/devices/{id}/frame", s.withDevice(s.handleGetFrame))

	mux.HandleFunc("POST /api/devices/{id}/fan/auto", s.withDevice(s.handleFanAuto))
	mux.HandleFunc("POST /api/devices/{id}/fan/rpm", s.withDevice(s.handleFanRPM))
	mux.HandleFunc("GET /api/devices/{id}/fan", s.withDevice(s.handleGetFan))
	mux.HandleFunc("POST /api/devices/{id}/power", s.withDevice(s.handleSetPowerMode))
	mux.HandleFunc("GET /api/devices/{id}/temperatures", s.withDevice(s.handleTemperatures))

	mux.HandleFunc("GET /api/devices/{id}/profiles", s.withDevice(s.handleListProfiles))
	mux.HandleFunc("POST /api/devices/{id}/profiles", s.withDevice(s.handleSaveProfile))
	mux.HandleFunc("POST /api/devices/{id}/profiles/restore", s.withDevice(s.handleRestoreProfile))

	mux.HandleFunc("GET /ws/events", s.handleEventsWS)
	mux.HandleFunc("GET /ws/frames/{id}", s.handleFramesWS)

	if s.cfg.DevMode {
		mux.HandleFunc("GET /debug/effects", s.handleDebugEffects)
	}

	s.server = &http.Server{Addr: s.cfg.Listen, Handler: mux}
	s.log.Info().Str("listen", s.cfg.Listen).Msg("remote interface listening")
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the listener down.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// writeError maps the core error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	name, status := "Internal", http.StatusInternalServerError
	switch {
	case errors.Is(err, device.ErrUnsupported):
		name, status = "Unsupported", http.StatusNotImplemented
	case errors.Is(err, device.ErrInvalidArgument):
		name, status = "InvalidArgument", http.StatusBadRequest
	case errors.Is(err, device.ErrDeviceBusy):
		name, status = "DeviceBusy", http.StatusServiceUnavailable
	case errors.Is(err, device.ErrDeviceOffline):
		name, status = "DeviceOffline", http.StatusServiceUnavailable
	case errors.Is(err, device.ErrTimeout):
		name, status = "Timeout", http.StatusGatewayTimeout
	case errors.Is(err, device.ErrProtocol):
		name, status = "ProtocolError", http.StatusBadGateway
	case errors.Is(err, device.ErrRendererFailed):
		name, status = "RendererFailed", http.StatusInternalServerError
	case errors.Is(err, device.ErrConflict):
		name, status = "Conflict", http.StatusConflict
	case errors.Is(err, device.ErrDeadline):
		name, status = "Deadline", http.StatusGatewayTimeout
	}
	writeJSON(w, status, errorBody{Error: name, Reason: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(device.ErrInvalidArgument, err.Error())
	}
	return nil
}

type deviceHandler func(w http.ResponseWriter, r *http.Request, dev *manager.Device)

func (s *Server) withDevice(fn deviceHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dev, ok := s.mgr.Get(r.PathValue("id"))
		if !ok {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "NotFound", Reason: "no such device"})
			return
		}
		fn(w, r, dev)
	}
}

// withDeadline runs an operation that enters the compositor path under the
// 2-second remote deadline.
func withDeadline(fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-time.After(compositorDeadline):
		return device.ErrDeadline
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_s": time.Since(s.start).Seconds(),
		"devices":  len(s.mgr.Devices()),
	})
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	ids := make([]string, 0)
	for _, dev := range s.mgr.Devices() {
		ids = append(ids, dev.ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": ids})
}

// deviceProperties assembles the readable property set of one device.
func (s *Server) deviceProperties(dev *manager.Device) map[string]any {
	desc := dev.Driver.Descriptor()
	major, minor := dev.Driver.GetFirmware()

	props := map[string]any{
		"id":         dev.ID,
		"name":       desc.Name,
		"kind":       desc.Kind,
		"vendor_id":  desc.VendorID,
		"product_id": desc.ProductID,
		"serial":     dev.Driver.GetSerial(),
		"firmware":   []int{int(major), int(minor)},
		"suspended":  dev.Driver.Suspended(),
		"offline":    dev.Driver.Offline(),

		"supported_leds":      desc.LEDs,
		"capabilities":        desc.Caps,
		"available_effects":   protocol.EffectNames(),
		"supported_renderers": s.mgr.Registry().Names(),
	}
	if desc.Dimensions.HasMatrix() {
		props["dimensions"] = map[string]int{
			"height": desc.Dimensions.Height,
			"width":  desc.Dimensions.Width,
		}
	}
	if fx := dev.Driver.CurrentEffect(); fx != nil {
		props["current_effect"] = fx.Name
	}
	if dev.Loop != nil {
		props["active_layers"] = dev.Loop.Layers()
		props["animation_paused"] = dev.Loop.Paused()
	}
	if desc.HasCapability(hardware.CapWireless) {
		battery, stale := dev.Driver.BatteryCached()
		charging, _ := dev.Driver.ChargingCached()
		props["battery"] = battery
		props["charging"] = charging
		props["stale"] = stale
	}
	return props
}

func (s *Server) handleGetDevice(w http.ResponseWriter, _ *http.Request, dev *manager.Device) {
	writeJSON(w, http.StatusOK, s.deviceProperties(dev))
}

func (s *Server) handleSetBrightness(w http.ResponseWriter, r *http.Request, dev *manager.Device) {
	var body struct {
		Brightness float64 `json:"brightness"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if err := dev.Driver.SetBrightness(body.Brightness); err != nil {
		s.writeError(w, err)
		return
	}
	s.persistBrightness(dev, body.Brightness)
	writeJSON(w, http.StatusOK, map[string]any{"brightness": body.Brightness})
}

func (s *Server) persistBrightness(dev *manager.Device, pct float64) {
	rec := s.prefs.Get(dev.Driver.GetSerial())
	rec.Brightness = pct
	s.prefs.Put(dev.Driver.GetSerial(), rec)
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request, dev *manager.Device) {
	var body struct {
		Suspended bool `json:"suspended"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	var err error
	if body.Suspended {
		err = dev.Driver.Suspend()
	} else {
		err = dev.Driver.Resume()
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suspended": body.Suspended})
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request, dev *manager.Device) {
	err := withDeadline(func() error {
		if dev.Loop != nil {
			return dev.Loop.StopAll()
		}
		return dev.Driver.Reset()
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSetLED(w http.ResponseWriter, r *http.Request, dev *manager.Device) {
	var body struct {
		Name       string   `json:"name"`
		Color      *string  `json:"color,omitempty"`
		On         *bool    `json:"on,omitempty"`
		Brightness *float64 `json:"brightness,omitempty"`
		Mode       *string  `json:"mode,omitempty"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}

	upd := device.LEDUpdate{On: body.On, Brightness: body.Brightness}
	if body.Color != nil {
		c, err := canvas.ParseColor(*body.Color)
		if err != nil {
			s.writeError(w, errors.Wrap(device.ErrInvalidArgument, err.Error()))
			return
		}
		upd.Color = &c
	}
	if body.Mode != nil {
		mode, err := parseLEDMode(*body.Mode)
		if err != nil {
			s.writeError(w, err)
			return
		}
		upd.Mode = &mode
	}

	if err := dev.Driver.SetLED(hardware.LEDType(body.Name), upd); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func parseLEDMode(name string) (device.LEDMode, error) {
	switch name {
	case "static":
		return device.LEDModeStatic, nil
	case "blink":
		return device.LEDModeBlink, nil
	case "pulse":
		return device.LEDModePulse, nil
	case "spectrum":
		return device.LEDModeSpectrum, nil
	}
	return 0, errors.Wrapf(device.ErrInvalidArgument, "led mode %q", name)
}

func (s *Server) handleSetEffect(w http.ResponseWriter, r *http.Request, dev *manager.Device) {
	var body struct {
		Name      string   `json:"name"`
		Color     *string  `json:"color,omitempty"`
		Colors    []string `json:"colors,omitempty"`
		Speed     int      `json:"speed,omitempty"`
		Direction int      `json:"direction,omitempty"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}

	args := device.EffectArgs{Speed: body.Speed, Direction: body.Direction}
	colorStrings := body.Colors
	if body.Color != nil {
		colorStrings = append([]string{*body.Color}, colorStrings...)
	}
	for _, cs := range colorStrings {
		c, err := canvas.ParseColor(cs)
		if err != nil {
			s.writeError(w, errors.Wrap(device.ErrInvalidArgument, err.Error()))
			return
		}
		args.Colors = append(args.Colors, c)
	}

	if err := dev.Driver.SetEffect(body.Name, args); err != nil {
		s.writeError(w, err)
		return
	}

	rec := s.prefs.Get(dev.Driver.GetSerial())
	rec.Effect = body.Name
	s.prefs.Put(dev.Driver.GetSerial(), rec)
	writeJSON(w, http.StatusOK, map[string]any{"effect": body.Name})
}

type rendererInfo struct {
	Name        string      `json:"name"`
	DisplayName string      `json:"display_name"`
	Description string      `json:"description"`
	Author      string      `json:"author"`
	Version     string      `json:"version"`
	NeedsInput  bool        `json:"needs_input"`
	Traits      []traitInfo `json:"traits"`
}

type traitInfo struct {
	Name    string   `json:"name"`
	Kind    string   `json:"kind"`
	Min     float64  `json:"min,omitempty"`
	Max     float64  `json:"max,omitempty"`
	Choices []string `json:"choices,omitempty"`
	Default any      `json:"default,omitempty"`
}

func (s *Server) handleListRenderers(w http.ResponseWriter, _ *http.Request, _ *manager.Device) {
	reg := s.mgr.Registry()
	out := make([]rendererInfo, 0)
	for _, name := range reg.Names() {
		meta, _ := reg.Meta(name)
		inst, _ := reg.New(name)
		info := rendererInfo{
			Name:        meta.Name,
			DisplayName: meta.DisplayName,
			Description: meta.Description,
			Author:      meta.Author,
			Version:     meta.Version,
			NeedsInput:  meta.RequiresInput,
		}
		for _, def := range inst.Traits().Defs() {
			ti := traitInfo{Name: def.Name, Kind: string(def.Kind), Min: def.Min, Max: def.Max, Choices: def.Choices}
			switch dv := def.Default.(type) {
			case canvas.Color:
				ti.Default = dv.Hex()
			case []canvas.Color:
				hexes := make([]string, len(dv))
				for i, c := range dv {
					hexes[i] = c.Hex()
				}
				ti.Default = hexes
			default:
				ti.Default = dv
			}
			info.Traits = append(info.Traits, ti)
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"renderers": out})
}

func requireLoop(dev *manager.Device) (*anim.Loop, error) {
	if dev.Loop == nil {
		return nil, errors.Wrap(device.ErrUnsupported, "device has no animation support")
	}
	return dev.Loop, nil
}

func (s *Server) handleAddLayer(w http.ResponseWriter, r *http.Request, dev *manager.Device) {
	loop, err := requireLoop(dev)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body struct {
		Renderer string         `json:"renderer"`
		ZIndex   *int           `json:"zindex,omitempty"`
		Traits   map[string]any `json:"traits,omitempty"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}

	var z int
	err = withDeadline(func() error {
		var addErr error
		z, addErr = loop.AddRenderer(body.Renderer, body.ZIndex, body.Traits)
		return addErr
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"zindex": z})
}

func (s *Server) handleSetLayerTraits(w http.ResponseWriter, r *http.Request, dev *manager.Device) {
	loop, err := requireLoop(dev)
	if err != nil {
		s.writeError(w, err)
		return
	}
	z, err := pathInt(r, "z")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body struct {
		Traits map[string]any `json:"traits"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if err := loop.SetLayerTraits(z, body.Traits); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleRemoveLayer(w http.ResponseWriter, r *http.Request, dev *manager.Device) {
	loop, err := requireLoop(dev)
	if err != nil {
		s.writeError(w, err)
		return
	}
	z, err := pathInt(r, "z")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := withDeadline(func() error { return loop.RemoveRenderer(z) }); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request, dev *manager.Device) {
	loop, err := requireLoop(dev)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body struct {
		Paused bool `json:"paused"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	loop.Pause(body.Paused)
	writeJSON(w, http.StatusOK, map[string]any{"paused": body.Paused})
}

func (s *Server) handleStopAnimation(w http.ResponseWriter, _ *http.Request, dev *manager.Device) {
	loop, err := requireLoop(dev)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := withDeadline(loop.StopAll); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleGetFrame(w http.ResponseWriter, _ *http.Request, dev *manager.Device) {
	f := dev.Driver.Frame()
	if f == nil {
		s.writeError(w, errors.Wrap(device.ErrUnsupported, "device has no frame buffer"))
		return
	}
	width, height, rgb, seq, at := f.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"width":  width,
		"height": height,
		"rgb":    base64.StdEncoding.EncodeToString(rgb),
		"seq":    seq,
		"t":      at.UnixNano(),
	})
}

func pathInt(r *http.Request, key string) (int, error) {
	raw := r.PathValue(key)
	v := 0
	for _, ch := range raw {
		if ch < '0' || ch > '9' {
			return 0, errors.Wrapf(device.ErrInvalidArgument, "bad %s %q", key, raw)
		}
		v = v*10 + int(ch-'0')
	}
	if raw == "" {
		return 0, errors.Wrapf(device.ErrInvalidArgument, "missing %s", key)
	}
	return v, nil
}
