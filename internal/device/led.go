package device

import (
	"github.com/pkg/errors"

	"github.com/hyperb1iss/uchroma/internal/canvas"
	"github.com/hyperb1iss/uchroma/internal/hardware"
	"github.com/hyperb1iss/uchroma/internal/protocol"
)

// LEDMode is the firmware-side animation mode of a single LED zone.
type LEDMode uint8

const (
	LEDModeStatic   LEDMode = 0x00
	LEDModeBlink    LEDMode = 0x01
	LEDModePulse    LEDMode = 0x02
	LEDModeSpectrum LEDMode = 0x04
)

// LEDState is the cached state of one LED zone.
type LEDState struct {
	Type       hardware.LEDType
	On         bool
	Color      canvas.Color
	Brightness float64
	Mode       LEDMode
}

// LEDUpdate selects the subset of properties to change; nil fields are
// left untouched.
type LEDUpdate struct {
	On         *bool
	Color      *canvas.Color
	Brightness *float64
	Mode       *LEDMode
}

// SetLED applies an update to one LED zone, issuing only the commands the
// update needs. Zones not in the descriptor's supported set fail with
// ErrUnsupported without touching the transport.
func (d *Driver) SetLED(led hardware.LEDType, upd LEDUpdate) error {
	if !d.desc.HasLED(led) {
		return errors.Wrapf(ErrUnsupported, "led %q", led)
	}
	id, ok := led.HardwareID()
	if !ok {
		return errors.Wrapf(ErrUnsupported, "led %q", led)
	}
	if upd.Brightness != nil && (*upd.Brightness < 0 || *upd.Brightness > 100) {
		return errors.Wrapf(ErrInvalidArgument, "led brightness %v", *upd.Brightness)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	state := d.ledStateLocked(led)

	if upd.On != nil {
		on := byte(0)
		if *upd.On {
			on = 1
		}
		if _, err := d.runCommand(protocol.CmdSetLEDState, protocol.VarStore, id, on); err != nil {
			return err
		}
		state.On = *upd.On
	}
	if upd.Color != nil {
		r, g, b := upd.Color.RGB()
		if _, err := d.runCommand(protocol.CmdSetLEDColor, protocol.VarStore, id, r, g, b); err != nil {
			return err
		}
		state.Color = *upd.Color
	}
	if upd.Mode != nil {
		if _, err := d.runCommand(protocol.CmdSetLEDMode, protocol.VarStore, id, byte(*upd.Mode)); err != nil {
			return err
		}
		state.Mode = *upd.Mode
	}
	if upd.Brightness != nil {
		if _, err := d.runCommand(protocol.CmdSetLEDBrightness, id,
			scaleBrightness(*upd.Brightness)); err != nil {
			return err
		}
		state.Brightness = *upd.Brightness
	}
	return nil
}

// GetLED returns the cached state of one LED zone, refreshing from the
// hardware on first access.
func (d *Driver) GetLED(led hardware.LEDType) (LEDState, error) {
	if !d.desc.HasLED(led) {
		return LEDState{}, errors.Wrapf(ErrUnsupported, "led %q", led)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	state, fresh := d.leds[led]
	if !fresh {
		state = d.ledStateLocked(led)
		d.refreshLEDLocked(state)
	}
	return *state, nil
}

// LEDStates snapshots every cached LED zone.
func (d *Driver) LEDStates() map[hardware.LEDType]LEDState {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[hardware.LEDType]LEDState, len(d.leds))
	for k, v := range d.leds {
		out[k] = *v
	}
	return out
}

func (d *Driver) ledStateLocked(led hardware.LEDType) *LEDState {
	state, ok := d.leds[led]
	if !ok {
		state = &LEDState{Type: led, Brightness: 80, Color: canvas.NewColor(0, 1, 0)}
		d.leds[led] = state
	}
	return state
}

// refreshLEDLocked pulls state, color, mode and brightness from the
// hardware, keeping cached values on error.
func (d *Driver) refreshLEDLocked(state *LEDState) {
	id, _ := state.Type.HardwareID()

	if p, err := d.runCommand(protocol.CmdGetLEDState, protocol.VarStore, id, 0x00); err == nil && len(p) >= 3 {
		state.On = p[2] != 0
	}
	if p, err := d.runCommand(protocol.CmdGetLEDColor, protocol.VarStore, id, 0x00, 0x00, 0x00); err == nil && len(p) >= 5 {
		state.Color = canvas.NewColor(float64(p[2])/255, float64(p[3])/255, float64(p[4])/255)
	}
	if p, err := d.runCommand(protocol.CmdGetLEDMode, protocol.VarStore, id, 0x00); err == nil && len(p) >= 3 {
		state.Mode = LEDMode(p[2])
	}
	if p, err := d.runCommand(protocol.CmdGetLEDBrightness, id, 0x00); err == nil && len(p) >= 2 {
		state.Brightness = unscaleBrightness(p[1])
	}
}
