// Package device implements the live device driver: command dispatch with
// retry semantics, LED and effect control, matrix frame commits, wireless
// telemetry and the laptop EC overlay.
package device

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/hyperb1iss/uchroma/internal/canvas"
	"github.com/hyperb1iss/uchroma/internal/frame"
	"github.com/hyperb1iss/uchroma/internal/hardware"
	"github.com/hyperb1iss/uchroma/internal/protocol"
	"github.com/hyperb1iss/uchroma/internal/transport"
)

// BUSY retry ladder: base doubles per attempt (7, 14, 28 ms).
const (
	busyRetries    = 3
	busyRetryBase  = 7 * time.Millisecond
	deviceModeNorm = 0x00
	deviceModeDrv  = 0x03
)

// Effect records the active built-in effect and its arguments.
type Effect struct {
	Name string
	Args EffectArgs
}

// EffectArgs carries the per-effect parameter set.
type EffectArgs struct {
	Colors    []canvas.Color
	Speed     int
	Direction int
}

// Driver is one live device. All public operations are atomic with respect
// to each other; the internal mutex is held across the full retry sequence
// of a logical command.
type Driver struct {
	desc    *hardware.Descriptor
	profile protocol.Profile
	t       transport.Transport
	log     zerolog.Logger

	frameBuf *frame.Frame
	thermal  ThermalSource

	mu sync.Mutex

	// mutable state, guarded by mu
	firmware   [2]uint8
	serial     string
	brightness float64
	saved      float64
	suspended  bool
	offline    bool
	effect     *Effect
	leds       map[hardware.LEDType]*LEDState
	wireless   wirelessState
	sysctl     sysctlState

	commitFailures int
}

// New constructs a driver over an open transport. The frame buffer is
// allocated when the descriptor declares a matrix.
func New(desc *hardware.Descriptor, t transport.Transport, log zerolog.Logger) *Driver {
	d := &Driver{
		desc:       desc,
		profile:    desc.ProfileFor(),
		t:          t,
		log:        log.With().Str("device", desc.Name).Logger(),
		brightness: 100,
		leds:       make(map[hardware.LEDType]*LEDState),
	}
	if desc.Dimensions.HasMatrix() {
		d.frameBuf = frame.New(desc.Dimensions.Height, desc.Dimensions.Width,
			desc.HasCapability(hardware.CapCustomFrameAlt))
	}
	return d
}

// SetThermalSource injects the host thermal reader used by the EC overlay.
func (d *Driver) SetThermalSource(src ThermalSource) { d.thermal = src }

func (d *Driver) Descriptor() *hardware.Descriptor { return d.desc }
func (d *Driver) Profile() protocol.Profile        { return d.profile }
func (d *Driver) Frame() *frame.Frame              { return d.frameBuf }

// Offline reports whether the device is unreachable.
func (d *Driver) Offline() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.offline
}

// MarkOffline flips the driver into offline mode: reads serve cached state,
// writes fail with ErrDeviceOffline.
func (d *Driver) MarkOffline(offline bool) {
	d.mu.Lock()
	was := d.offline
	d.offline = offline
	d.mu.Unlock()
	if was != offline {
		d.log.Info().Bool("offline", offline).Msg("device availability changed")
	}
}

// runCommand dispatches one command and returns the response payload.
// Callers must hold d.mu.
func (d *Driver) runCommand(cmd protocol.CommandDef, args ...byte) ([]byte, error) {
	if d.offline {
		return nil, ErrDeviceOffline
	}
	if !cmd.SupportsProfile(d.profile) {
		return nil, errors.Wrap(ErrUnsupported, cmd.Name)
	}

	size := len(args)
	if cmd.DataSize != protocol.Variable {
		size = cmd.DataSize
	}
	req := protocol.Request{
		TransactionID: d.profile.TransactionID,
		DataSize:      uint8(size),
		CommandClass:  cmd.Class,
		CommandID:     cmd.ID,
		Args:          args,
	}

	var payload []byte
	err := d.t.WithDevice(func() error {
		return d.exchange(req, &payload)
	})
	return payload, err
}

// exchange runs the request/response state machine: bounded BUSY retries
// with a doubling backoff (7, 14, 28 ms), a single TIMEOUT retry, immediate surfacing of
// everything else.
func (d *Driver) exchange(req protocol.Request, payload *[]byte) error {
	buf, err := protocol.Pack(req)
	if err != nil {
		return errors.Wrap(ErrInvalidArgument, err.Error())
	}

	timeoutRetried := false
	for attempt := 0; ; attempt++ {
		if err := d.t.SendFeature(buf); err != nil {
			return errors.Wrap(ErrDeviceOffline, err.Error())
		}

		// multi-packet bursts are fire-and-forget until the last packet
		if req.RemainingPackets > 0 {
			return nil
		}

		raw, err := d.t.ReadFeature()
		if err != nil {
			if errors.Is(err, transport.ErrReadTimeout) {
				if timeoutRetried {
					return ErrTimeout
				}
				timeoutRetried = true
				continue
			}
			return errors.Wrap(ErrDeviceOffline, err.Error())
		}

		resp := protocol.Unpack(raw, &d.profile)
		switch resp.Status {
		case protocol.StatusOK:
			if !resp.CRCOK {
				return errors.Wrap(ErrProtocol, "response checksum mismatch")
			}
			*payload = resp.Payload
			return nil
		case protocol.StatusBusy:
			if attempt >= busyRetries {
				return ErrDeviceBusy
			}
			time.Sleep(busyRetryBase << attempt)
		case protocol.StatusTimeout:
			if timeoutRetried {
				return ErrTimeout
			}
			timeoutRetried = true
		case protocol.StatusUnsupported:
			return errors.Wrapf(ErrUnsupported, "command %02x,%02x", req.CommandClass, req.CommandID)
		default:
			return errors.Wrapf(ErrProtocol, "command %02x,%02x failed with %s",
				req.CommandClass, req.CommandID, resp.Status)
		}
	}
}

// Start probes the device and switches it to driver mode.
func (d *Driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.runCommand(protocol.CmdSetDeviceMode, deviceModeDrv, 0x00); err != nil {
		return err
	}
	if err := d.refreshIdentity(); err != nil {
		return err
	}
	d.log.Info().
		Str("serial", d.serial).
		Str("firmware", d.firmwareString()).
		Msg("device initialized")
	return nil
}

// Stop restores normal device mode and closes the transport.
func (d *Driver) Stop() {
	d.mu.Lock()
	_, _ = d.runCommand(protocol.CmdSetDeviceMode, deviceModeNorm, 0x00)
	d.mu.Unlock()
	_ = d.t.Close()
}

func (d *Driver) refreshIdentity() error {
	payload, err := d.runCommand(protocol.CmdGetFirmware)
	if err != nil {
		return err
	}
	if len(payload) >= 2 {
		d.firmware = [2]uint8{payload[0], payload[1]}
	}

	if d.desc.Kind == hardware.Laptop {
		// Blades have no serial command; the model name is the identity.
		d.serial = d.desc.Name
		return nil
	}
	payload, err = d.runCommand(protocol.CmdGetSerial)
	if err != nil {
		return err
	}
	if cut := strings.IndexByte(string(payload), 0); cut >= 0 {
		payload = payload[:cut]
	}
	d.serial = strings.TrimSpace(string(payload))
	return nil
}

func (d *Driver) firmwareString() string {
	return "v" + itoa(int(d.firmware[0])) + "." + itoa(int(d.firmware[1]))
}

// GetFirmware returns the cached (major, minor) firmware version.
func (d *Driver) GetFirmware() (uint8, uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.firmware[0], d.firmware[1]
}

// GetSerial returns the device serial, read once at startup.
func (d *Driver) GetSerial() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.serial
}

// scaleBrightness converts a percentage to the hardware byte with
// round-half-even.
func scaleBrightness(pct float64) uint8 {
	return uint8(math.RoundToEven(pct * 2.55))
}

func unscaleBrightness(b uint8) float64 {
	return math.RoundToEven(float64(b)/2.55*100) / 100
}

// brightnessLED picks the LED zone that carries global brightness on this
// model.
func (d *Driver) brightnessLED() hardware.LEDType {
	switch {
	case d.desc.HasCapability(hardware.CapLogoLEDBrightness):
		return hardware.LEDLogo
	case d.desc.HasCapability(hardware.CapScrollWheelBrightness):
		return hardware.LEDScrollWheel
	}
	return hardware.LEDBacklight
}

// SetBrightness sets the global brightness percentage.
func (d *Driver) SetBrightness(pct float64) error {
	if pct < 0 || pct > 100 {
		return errors.Wrapf(ErrInvalidArgument, "brightness %v", pct)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.setBrightnessLocked(pct); err != nil {
		return err
	}
	d.brightness = pct
	return nil
}

func (d *Driver) setBrightnessLocked(pct float64) error {
	value := scaleBrightness(pct)

	if d.desc.Kind == hardware.Laptop {
		_, err := d.runCommand(protocol.CmdSetBladeBrightness, protocol.VarStore, value)
		return err
	}

	led, _ := d.brightnessLED().HardwareID()
	if protocol.CmdSetBrightnessExt.SupportsProfile(d.profile) {
		_, err := d.runCommand(protocol.CmdSetBrightnessExt, protocol.VarStore, led, value)
		return err
	}
	// standard brightness addresses the LED directly: [led, value]
	_, err := d.runCommand(protocol.CmdSetLEDBrightness, led, value)
	return err
}

// GetBrightness queries the hardware brightness percentage.
func (d *Driver) GetBrightness() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var payload []byte
	var err error
	var idx int

	if d.desc.Kind == hardware.Laptop {
		payload, err = d.runCommand(protocol.CmdGetBladeBrightness, protocol.VarStore, 0x00)
		idx = 1
	} else {
		led, _ := d.brightnessLED().HardwareID()
		if protocol.CmdGetBrightnessExt.SupportsProfile(d.profile) {
			payload, err = d.runCommand(protocol.CmdGetBrightnessExt, protocol.VarStore, led, 0x00)
			idx = 2
		} else {
			payload, err = d.runCommand(protocol.CmdGetLEDBrightness, led, 0x00)
			idx = 1
		}
	}
	if err != nil {
		if errors.Is(err, ErrDeviceOffline) {
			return d.brightness, nil
		}
		return 0, err
	}
	if len(payload) <= idx {
		return 0, errors.Wrap(ErrProtocol, "short brightness response")
	}
	d.brightness = unscaleBrightness(payload[idx])
	return d.brightness, nil
}

// Suspended reports the suspend state.
func (d *Driver) Suspended() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.suspended
}

// Suspend dims the device to zero, remembering the brightness for resume.
func (d *Driver) Suspend() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.suspended {
		return nil
	}
	d.saved = d.brightness
	if err := d.setBrightnessLocked(0); err != nil {
		return err
	}
	d.suspended = true
	return nil
}

// Resume restores the brightness saved at suspend time.
func (d *Driver) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.suspended {
		return nil
	}
	if err := d.setBrightnessLocked(d.saved); err != nil {
		return err
	}
	d.brightness = d.saved
	d.suspended = false
	return nil
}

// CurrentEffect returns the active built-in effect, or nil.
func (d *Driver) CurrentEffect() *Effect {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.effect == nil {
		return nil
	}
	cp := *d.effect
	return &cp
}

// Reset disables effects and restores full brightness.
func (d *Driver) Reset() error {
	if err := d.SetEffect("disable", EffectArgs{}); err != nil {
		return err
	}
	return d.SetBrightness(100)
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	var b [4]byte
	i := len(b)
	for v > 0 {
		i--
		b[i] = byte('0' + v%10)
		v /= 10
	}
	return string(b[i:])
}
