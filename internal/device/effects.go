package device

import (
	"github.com/pkg/errors"

	"github.com/hyperb1iss/uchroma/internal/frame"
	"github.com/hyperb1iss/uchroma/internal/hardware"
	"github.com/hyperb1iss/uchroma/internal/protocol"
)

// Modes for effects that take a variable number of colors.
const (
	effectModeRandom = 0
	effectModeSingle = 1
	effectModeDual   = 2
)

// SetEffect resolves the effect through the registry and issues exactly one
// effect command. Unknown effects and effects without a mapping for the
// active protocol column fail with ErrUnsupported before any transport.
func (d *Driver) SetEffect(name string, args EffectArgs) error {
	def, ok := protocol.LookupEffect(name)
	if !ok {
		return errors.Wrapf(ErrUnsupported, "effect %q", name)
	}
	id, ok := def.ID(d.profile.UsesExtendedFX)
	if !ok {
		return errors.Wrapf(ErrUnsupported, "effect %q on %s protocol", name, d.profile.Version)
	}
	if len(args.Colors) > def.MaxColors {
		return errors.Wrapf(ErrInvalidArgument, "effect %q accepts at most %d colors", name, def.MaxColors)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.setEffectLocked(name, id, args); err != nil {
		return err
	}
	d.effect = &Effect{Name: name, Args: args}
	return nil
}

func (d *Driver) setEffectLocked(name string, id uint8, args EffectArgs) error {
	block := buildEffectArgs(name, args)

	if d.profile.UsesExtendedFX {
		// Extended block: [varstore, led, effect_id, params...]. Custom
		// frames latch from the NOSTORE bank on the zero LED.
		varstore, led := byte(protocol.VarStore), backlightID()
		if name == "custom_frame" {
			varstore, led = protocol.NoStore, 0x00
		}
		_, err := d.runCommand(protocol.CmdSetEffectExt, append([]byte{varstore, led, id}, block...)...)
		return err
	}

	if name == "custom_frame" {
		varstore := byte(protocol.VarStore)
		if d.desc.Kind == hardware.Mouse {
			varstore = protocol.NoStore
		}
		block = []byte{varstore}
	}
	_, err := d.runCommand(protocol.CmdSetEffect, append([]byte{id}, block...)...)
	return err
}

// buildEffectArgs lays out the per-effect parameter block shared by both
// protocol columns.
func buildEffectArgs(name string, args EffectArgs) []byte {
	rgb := func(i int) []byte {
		r, g, b := args.Colors[i].RGB()
		return []byte{r, g, b}
	}

	switch name {
	case "static":
		if len(args.Colors) > 0 {
			return rgb(0)
		}
		return []byte{0x00, 0xFF, 0x00}
	case "wave":
		dir := byte(args.Direction)
		if dir == 0 {
			dir = 0x01
		}
		return []byte{dir}
	case "reactive":
		speed := clampInt(args.Speed, 1, 4)
		out := []byte{byte(speed)}
		if len(args.Colors) > 0 {
			out = append(out, rgb(0)...)
		}
		return out
	case "breathe":
		out := []byte{byte(colorMode(args))}
		for i := range args.Colors {
			out = append(out, rgb(i)...)
		}
		return out
	case "starlight":
		speed := clampInt(args.Speed, 1, 4)
		out := []byte{byte(colorMode(args)), byte(speed)}
		for i := range args.Colors {
			out = append(out, rgb(i)...)
		}
		return out
	case "fire", "ripple", "ripple_solid":
		speed := clampInt(args.Speed, 1, 8)
		out := []byte{0x01, byte(speed * 10)}
		if len(args.Colors) > 0 {
			out = append(out, rgb(0)...)
		}
		return out
	}
	return nil
}

func colorMode(args EffectArgs) int {
	switch len(args.Colors) {
	case 1:
		return effectModeSingle
	case 2:
		return effectModeDual
	}
	return effectModeRandom
}

func backlightID() byte {
	id, _ := hardware.LEDBacklight.HardwareID()
	return id
}

// CommitMatrix streams the frame's row segments to the hardware and latches
// them with the custom_frame effect. Repeated commit failures transition
// the driver offline.
func (d *Driver) CommitMatrix(f *frame.Frame) error {
	if f == nil || !d.desc.Dimensions.HasMatrix() {
		return errors.Wrap(ErrUnsupported, "device has no addressable matrix")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	err := d.commitMatrixLocked(f)
	if err == nil {
		// latch the pushed rows
		def, _ := protocol.LookupEffect("custom_frame")
		if id, ok := def.ID(d.profile.UsesExtendedFX); ok {
			err = d.setEffectLocked("custom_frame", id, EffectArgs{})
		}
	}

	if err != nil {
		d.commitFailures++
		if d.commitFailures >= 3 {
			d.offline = true
			d.log.Warn().Int("failures", d.commitFailures).Msg("marking device offline after commit failures")
		}
		return err
	}
	d.commitFailures = 0
	return nil
}

func (d *Driver) commitMatrixLocked(f *frame.Frame) error {
	if d.offline {
		return ErrDeviceOffline
	}

	if f.Height() == 1 {
		segs := f.Segments()
		if len(segs) == 0 {
			return nil
		}
		args := append([]byte{0x00, uint8(f.Width())}, segs[0].RGB...)
		_, err := d.runCommand(protocol.CmdSetFrameSingle, args...)
		return err
	}

	cmd := protocol.CmdSetFrameMatrix
	if d.profile.UsesExtendedFX {
		cmd = protocol.CmdSetFrameExt
	}

	segs := f.Segments()
	for i, seg := range segs {
		args := append([]byte{seg.Row, seg.StartCol, seg.EndCol}, seg.RGB...)
		req := protocol.Request{
			TransactionID:    d.profile.TransactionID,
			RemainingPackets: uint16(len(segs) - 1 - i),
			DataSize:         uint8(len(args)),
			CommandClass:     cmd.Class,
			CommandID:        cmd.ID,
			Args:             args,
		}
		var payload []byte
		if err := d.t.WithDevice(func() error {
			return d.exchange(req, &payload)
		}); err != nil {
			return err
		}
	}
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
