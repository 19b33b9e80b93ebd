package device

import (
	"github.com/pkg/errors"

	"github.com/hyperb1iss/uchroma/internal/hardware"
	"github.com/hyperb1iss/uchroma/internal/protocol"
)

// Thermal guard bands for manual fan control. At or above the trip point
// manual requests are converted to automatic control; manual control is
// allowed again once every sensor reads below the clear point.
const (
	thermalTripC  = 95.0
	thermalClearC = 90.0
)

// ThermalSource reads host temperatures. Injected by the environment; the
// driver treats it as an opaque collaborator.
type ThermalSource interface {
	ReadTemperatures() (map[string]float64, error)
}

// PowerMode is a laptop power profile.
type PowerMode uint8

const (
	PowerBalanced PowerMode = 0
	PowerGaming   PowerMode = 1
	PowerCreator  PowerMode = 2
	PowerCustom   PowerMode = 4
)

// ParsePowerMode maps a mode name to its wire value.
func ParsePowerMode(name string) (PowerMode, error) {
	switch name {
	case "balanced":
		return PowerBalanced, nil
	case "gaming":
		return PowerGaming, nil
	case "creator":
		return PowerCreator, nil
	case "custom":
		return PowerCustom, nil
	}
	return 0, errors.Wrapf(ErrInvalidArgument, "power mode %q", name)
}

func (m PowerMode) String() string {
	switch m {
	case PowerGaming:
		return "gaming"
	case PowerCreator:
		return "creator"
	case PowerCustom:
		return "custom"
	}
	return "balanced"
}

// BoostTarget selects the component for boost control.
type BoostTarget uint8

const (
	BoostCPU BoostTarget = 0x00
	BoostGPU BoostTarget = 0x01
)

// BoostLevel is a boost step for CUSTOM power mode.
type BoostLevel uint8

const (
	BoostLow    BoostLevel = 0
	BoostMedium BoostLevel = 1
	BoostHigh   BoostLevel = 2
	BoostMax    BoostLevel = 3
)

type sysctlState struct {
	powerMode   PowerMode
	manualFan   bool
	thermalTrip bool
}

// FanStatus is the result of a fan query.
type FanStatus struct {
	RPM1 int
	RPM2 *int
}

func (d *Driver) requireSystemControl() error {
	if !d.desc.HasCapability(hardware.CapSystemControl) {
		return errors.Wrap(ErrUnsupported, "device has no EC control")
	}
	return nil
}

// thermalOverride consults the thermal source. It returns true when manual
// fan control must be refused. The trip latches until temperatures fall
// below the clear band.
func (d *Driver) thermalOverride() bool {
	if d.thermal == nil {
		return false
	}
	temps, err := d.thermal.ReadTemperatures()
	if err != nil {
		d.log.Warn().Err(err).Msg("thermal source read failed")
		return d.sysctl.thermalTrip
	}

	maxT := 0.0
	for _, t := range temps {
		if t > maxT {
			maxT = t
		}
	}
	switch {
	case maxT >= thermalTripC:
		d.sysctl.thermalTrip = true
	case maxT < thermalClearC:
		d.sysctl.thermalTrip = false
	}
	return d.sysctl.thermalTrip
}

// setFanPowerLocked issues the combined EC command:
// [reserved, fan_id, power_mode, rpm/100].
func (d *Driver) setFanPowerLocked(mode PowerMode, rpm int, fanID byte) error {
	value := byte(0)
	if rpm > 0 {
		value = byte(rpm / 100)
	}
	_, err := d.runCommand(protocol.CmdSetFanMode, 0x00, fanID, byte(mode), value)
	return err
}

// SetFanAuto returns the fans to EC control, preserving the power mode.
func (d *Driver) SetFanAuto() error {
	if err := d.requireSystemControl(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setFanAutoLocked()
}

func (d *Driver) setFanAutoLocked() error {
	if err := d.setFanPowerLocked(d.sysctl.powerMode, 0, 0); err != nil {
		return err
	}
	if d.desc.Fans().DualFan {
		if err := d.setFanPowerLocked(d.sysctl.powerMode, 0, 1); err != nil {
			return err
		}
	}
	d.sysctl.manualFan = false
	return nil
}

// ThermalOverrideActive reports whether the last manual-fan request was
// converted to automatic control by the thermal guard.
func (d *Driver) ThermalOverrideActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sysctl.thermalTrip
}

// SetFanRPM requests manual fan speed. Requests outside the model's RPM
// band fail with ErrInvalidArgument and change nothing. When the thermal
// guard has tripped the request is converted to SetFanAuto and reported as
// an override (nil error, override=true).
func (d *Driver) SetFanRPM(rpm int, rpm2 *int) (override bool, err error) {
	if err := d.requireSystemControl(); err != nil {
		return false, err
	}

	limits := d.desc.Fans()
	if rpm == 0 {
		return false, d.SetFanAuto()
	}
	if rpm < limits.MinManualRPM || rpm > limits.MaxRPM {
		return false, errors.Wrapf(ErrInvalidArgument, "fan rpm %d outside [%d,%d]",
			rpm, limits.MinManualRPM, limits.MaxRPM)
	}
	if rpm2 != nil {
		if !limits.DualFan {
			return false, errors.Wrap(ErrUnsupported, "second fan")
		}
		if *rpm2 < limits.MinManualRPM || *rpm2 > limits.MaxRPM {
			return false, errors.Wrapf(ErrInvalidArgument, "fan 2 rpm %d outside [%d,%d]",
				*rpm2, limits.MinManualRPM, limits.MaxRPM)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.thermalOverride() {
		d.log.Warn().Int("rpm", rpm).Msg("thermal override active, forcing fan auto")
		return true, d.setFanAutoLocked()
	}

	mode := d.sysctl.powerMode
	if mode != PowerCustom {
		mode = PowerCustom
	}
	if err := d.setFanPowerLocked(mode, rpm, 0); err != nil {
		return false, err
	}
	if rpm2 != nil {
		if err := d.setFanPowerLocked(mode, *rpm2, 1); err != nil {
			return false, err
		}
	}
	d.sysctl.powerMode = mode
	d.sysctl.manualFan = true
	return false, nil
}

// GetFanRPM reads the current fan speeds, preferring the live tachometer
// query and falling back to the configured setting.
func (d *Driver) GetFanRPM() (FanStatus, error) {
	if err := d.requireSystemControl(); err != nil {
		return FanStatus{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	var status FanStatus
	if p, err := d.runCommand(protocol.CmdGetFanSpeed, 0x00, 0x00); err == nil && len(p) >= 3 {
		status.RPM1 = int(p[2]) * 100
	} else {
		p, err := d.runCommand(protocol.CmdGetFanMode, 0x00, 0x00, 0x00, 0x00)
		if err != nil {
			return FanStatus{}, err
		}
		if len(p) < 4 {
			return FanStatus{}, errors.Wrap(ErrProtocol, "short fan response")
		}
		status.RPM1 = int(p[3]) * 100
	}

	if d.desc.Fans().DualFan {
		if p, err := d.runCommand(protocol.CmdGetFanSpeed, 0x00, 0x01); err == nil && len(p) >= 3 {
			rpm := int(p[2]) * 100
			status.RPM2 = &rpm
		}
	}
	return status, nil
}

// SetPowerMode switches the power profile, preserving the fan setting.
func (d *Driver) SetPowerMode(mode PowerMode) error {
	if err := d.requireSystemControl(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	rpm := 0
	if p, err := d.runCommand(protocol.CmdGetFanMode, 0x00, 0x00, 0x00, 0x00); err == nil && len(p) >= 4 {
		rpm = int(p[3]) * 100
	}
	if err := d.setFanPowerLocked(mode, rpm, 0); err != nil {
		return err
	}
	d.sysctl.powerMode = mode
	return nil
}

// GetPowerMode reads the active power profile.
func (d *Driver) GetPowerMode() (PowerMode, error) {
	if err := d.requireSystemControl(); err != nil {
		return PowerBalanced, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	p, err := d.runCommand(protocol.CmdGetFanMode, 0x00, 0x00, 0x00, 0x00)
	if err != nil {
		return d.sysctl.powerMode, err
	}
	if len(p) < 3 {
		return d.sysctl.powerMode, errors.Wrap(ErrProtocol, "short power mode response")
	}
	mode := PowerMode(p[2])
	switch mode {
	case PowerBalanced, PowerGaming, PowerCreator, PowerCustom:
		d.sysctl.powerMode = mode
	default:
		mode = PowerBalanced
	}
	return mode, nil
}

// SetBoost sets the CPU or GPU boost level; requires CUSTOM power mode on
// the hardware side.
func (d *Driver) SetBoost(target BoostTarget, level BoostLevel) error {
	if err := d.requireSystemControl(); err != nil {
		return err
	}
	if level > BoostMax {
		return errors.Wrapf(ErrInvalidArgument, "boost level %d", level)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.runCommand(protocol.CmdSetBoost, 0x01, byte(target), byte(level))
	return err
}

// GetTemperatures exposes the injected thermal readings to clients.
func (d *Driver) GetTemperatures() (map[string]float64, error) {
	if err := d.requireSystemControl(); err != nil {
		return nil, err
	}
	if d.thermal == nil {
		return map[string]float64{}, nil
	}
	return d.thermal.ReadTemperatures()
}
