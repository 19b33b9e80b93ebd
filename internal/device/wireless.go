package device

import (
	"time"

	"github.com/pkg/errors"

	"github.com/hyperb1iss/uchroma/internal/hardware"
	"github.com/hyperb1iss/uchroma/internal/protocol"
)

// Wireless devices that miss the heartbeat probe for this long are marked
// offline.
const HeartbeatTimeout = 30 * time.Second

type wirelessState struct {
	battery  float64
	charging bool
	lastSeen time.Time
}

func (d *Driver) requireWireless() error {
	if !d.desc.HasCapability(hardware.CapWireless) {
		return errors.Wrap(ErrUnsupported, "device is not wireless")
	}
	return nil
}

// GetBattery queries the battery percentage. On failure the last observed
// value is retained and served by BatteryCached.
func (d *Driver) GetBattery() (float64, error) {
	if err := d.requireWireless(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	payload, err := d.runCommand(protocol.CmdGetBattery, 0x00, 0x00)
	if err != nil {
		return 0, err
	}
	if len(payload) < 2 {
		return 0, errors.Wrap(ErrProtocol, "short battery response")
	}
	d.wireless.battery = float64(payload[1]) / 255.0 * 100.0
	d.wireless.lastSeen = time.Now()
	return d.wireless.battery, nil
}

// BatteryCached returns the last observed battery level and whether it is
// stale (older than the heartbeat window or never observed).
func (d *Driver) BatteryCached() (pct float64, stale bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	stale = d.wireless.lastSeen.IsZero() || time.Since(d.wireless.lastSeen) > HeartbeatTimeout
	return d.wireless.battery, stale
}

// GetCharging queries the charging state.
func (d *Driver) GetCharging() (bool, error) {
	if err := d.requireWireless(); err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	payload, err := d.runCommand(protocol.CmdGetCharging, 0x00, 0x00)
	if err != nil {
		return false, err
	}
	if len(payload) < 2 {
		return false, errors.Wrap(ErrProtocol, "short charging response")
	}
	d.wireless.charging = payload[1] == 0x01
	d.wireless.lastSeen = time.Now()
	return d.wireless.charging, nil
}

// ChargingCached returns the last observed charging state with staleness.
func (d *Driver) ChargingCached() (charging bool, stale bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	stale = d.wireless.lastSeen.IsZero() || time.Since(d.wireless.lastSeen) > HeartbeatTimeout
	return d.wireless.charging, stale
}

// SetIdleTime sets the sleep timeout; the hardware accepts 60–900 seconds.
func (d *Driver) SetIdleTime(seconds int) error {
	if err := d.requireWireless(); err != nil {
		return err
	}
	if seconds < 60 || seconds > 900 {
		return errors.Wrapf(ErrInvalidArgument, "idle time %ds", seconds)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.runCommand(protocol.CmdSetIdleTime, byte(seconds>>8), byte(seconds))
	return err
}

// GetIdleTime queries the sleep timeout in seconds.
func (d *Driver) GetIdleTime() (int, error) {
	if err := d.requireWireless(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	payload, err := d.runCommand(protocol.CmdGetIdleTime, 0x00, 0x00)
	if err != nil {
		return 0, err
	}
	if len(payload) < 2 {
		return 0, errors.Wrap(ErrProtocol, "short idle time response")
	}
	return int(payload[0])<<8 | int(payload[1]), nil
}

// SetLowBatteryThreshold sets the low-battery warning level, clamped to
// the hardware's 5–50% band.
func (d *Driver) SetLowBatteryThreshold(pct int) error {
	if err := d.requireWireless(); err != nil {
		return err
	}
	pct = clampInt(pct, 5, 50)
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.runCommand(protocol.CmdSetLowBattery, byte(pct))
	return err
}

// Heartbeat probes the device and updates offline state. Used by the
// manager's periodic health check on wireless devices.
func (d *Driver) Heartbeat() bool {
	if d.requireWireless() != nil {
		return true
	}
	_, err := d.GetBattery()
	if err != nil && (errors.Is(err, ErrTimeout) || errors.Is(err, ErrDeviceOffline)) {
		d.mu.Lock()
		lost := !d.wireless.lastSeen.IsZero() && time.Since(d.wireless.lastSeen) > HeartbeatTimeout
		d.mu.Unlock()
		if lost {
			d.MarkOffline(true)
		}
		return false
	}
	if err == nil && d.Offline() {
		d.MarkOffline(false)
	}
	return err == nil
}
