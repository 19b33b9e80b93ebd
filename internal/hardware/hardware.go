// Package hardware holds the static device descriptor database. Descriptors
// are loaded once at startup from YAML and never mutated; runtime state
// lives on the device drivers.
package hardware

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hyperb1iss/uchroma/internal/protocol"
)

// RazerVendorID is the USB vendor id shared by all supported devices.
const RazerVendorID = 0x1532

// Kind classifies the physical device.
type Kind string

const (
	Keyboard Kind = "keyboard"
	Mouse    Kind = "mouse"
	Mousepad Kind = "mousepad"
	Headset  Kind = "headset"
	Keypad   Kind = "keypad"
	Laptop   Kind = "laptop"
)

// Capability flags alter command encoding or feature availability.
type Capability string

const (
	CapWireless              Capability = "wireless"
	CapHyperpolling          Capability = "hyperpolling"
	CapNoLED                 Capability = "no_led"
	CapSingleLED             Capability = "single_led"
	CapExtendedFX            Capability = "extended_fx"
	CapLogoLEDBrightness     Capability = "logo_led_brightness"
	CapScrollWheelBrightness Capability = "scroll_wheel_brightness"
	CapCustomFrameAlt        Capability = "custom_frame_alt"
	CapSoftwareEffectsOnly   Capability = "software_effects_only"
	CapCRCSkipOnOK           Capability = "crc_skip_on_ok"
	CapKeyInput              Capability = "key_input"
	CapSystemControl         Capability = "system_control"
)

// LEDType identifies an individually addressable LED zone.
type LEDType string

const (
	LEDScrollWheel  LEDType = "scroll_wheel"
	LEDMisc         LEDType = "misc"
	LEDBattery      LEDType = "battery"
	LEDLogo         LEDType = "logo"
	LEDBacklight    LEDType = "backlight"
	LEDMacro        LEDType = "macro"
	LEDGame         LEDType = "game"
	LEDProfileRed   LEDType = "profile_red"
	LEDProfileGreen LEDType = "profile_green"
	LEDProfileBlue  LEDType = "profile_blue"
)

var ledHardwareIDs = map[LEDType]uint8{
	LEDScrollWheel:  0x01,
	LEDMisc:         0x02,
	LEDBattery:      0x03,
	LEDLogo:         0x04,
	LEDBacklight:    0x05,
	LEDMacro:        0x07,
	LEDGame:         0x08,
	LEDProfileRed:   0x0E,
	LEDProfileGreen: 0x0C,
	LEDProfileBlue:  0x0D,
}

// HardwareID returns the wire id for the LED zone.
func (l LEDType) HardwareID() (uint8, bool) {
	id, ok := ledHardwareIDs[l]
	return id, ok
}

// Point addresses a single matrix cell, row-major.
type Point struct {
	Row int `yaml:"row"`
	Col int `yaml:"col"`
}

// Dimensions is the matrix shape, or zero for non-matrix devices.
type Dimensions struct {
	Height int `yaml:"height"`
	Width  int `yaml:"width"`
}

// HasMatrix reports whether the device carries an addressable matrix.
func (d Dimensions) HasMatrix() bool { return d.Height > 0 && d.Width > 0 }

// FanLimits bounds manual fan control for a laptop model.
type FanLimits struct {
	MinManualRPM int  `yaml:"min_manual_rpm"`
	MaxRPM       int  `yaml:"max_rpm"`
	DualFan      bool `yaml:"dual_fan"`
}

// DefaultFanLimits is used when a laptop descriptor omits limits.
var DefaultFanLimits = FanLimits{MinManualRPM: 3500, MaxRPM: 5000}

// HeadsetLayout describes the memory addresses of a headset variant.
type HeadsetLayout struct {
	EffectAddr uint16 `yaml:"effect_addr"`
	RGBAddr    uint16 `yaml:"rgb_addr"`
}

// Descriptor is the immutable configuration record for one device model.
type Descriptor struct {
	Name       string             `yaml:"name"`
	Kind       Kind               `yaml:"kind"`
	VendorID   uint16             `yaml:"vendor_id"`
	ProductID  uint16             `yaml:"product_id"`
	Dimensions Dimensions         `yaml:"dimensions,omitempty"`
	Protocol   protocol.Version   `yaml:"protocol"`
	LEDs       []LEDType          `yaml:"supported_leds,omitempty"`
	Effects    []string           `yaml:"supported_fx,omitempty"`
	Caps       []Capability       `yaml:"capabilities,omitempty"`
	KeyMapping map[string][]Point `yaml:"key_mapping,omitempty"`
	FanLimits  *FanLimits         `yaml:"fan_limits,omitempty"`
	Headset    *HeadsetLayout     `yaml:"headset,omitempty"`
}

// HasCapability reports whether the flag is declared on this model.
func (d *Descriptor) HasCapability(c Capability) bool {
	for _, cap := range d.Caps {
		if cap == c {
			return true
		}
	}
	return false
}

// HasLED reports whether the LED zone exists on this model.
func (d *Descriptor) HasLED(l LEDType) bool {
	for _, led := range d.LEDs {
		if led == l {
			return true
		}
	}
	return false
}

// HasEffect reports whether the hardware effect is declared supported.
func (d *Descriptor) HasEffect(name string) bool {
	for _, fx := range d.Effects {
		if fx == name {
			return true
		}
	}
	return false
}

// ProfileFor resolves the protocol profile, honoring the crc_skip quirk.
func (d *Descriptor) ProfileFor() protocol.Profile {
	p := protocol.ProfileFor(d.Protocol)
	if d.HasCapability(CapCRCSkipOnOK) {
		p.CRCSkipOnOK = true
	}
	return p
}

// Fans returns the model fan limits, falling back to the defaults.
func (d *Descriptor) Fans() FanLimits {
	if d.FanLimits != nil {
		return *d.FanLimits
	}
	return DefaultFanLimits
}

// KeyCoords maps a symbolic keycode to matrix cells. Unmapped keycodes
// yield an empty list.
func (d *Descriptor) KeyCoords(keycode string) []Point {
	return d.KeyMapping[keycode]
}

// Store is the in-memory descriptor catalog keyed on (vendor, product).
type Store struct {
	byID map[uint32]*Descriptor
}

func key(vendor, product uint16) uint32 {
	return uint32(vendor)<<16 | uint32(product)
}

// NewStore builds a store from pre-parsed descriptors, for tests and
// embedded defaults.
func NewStore(descs ...*Descriptor) *Store {
	s := &Store{byID: make(map[uint32]*Descriptor, len(descs))}
	for _, d := range descs {
		s.byID[key(d.VendorID, d.ProductID)] = d
	}
	return s
}

// LoadStore reads every *.yaml file under dir into a store. Each file holds
// a list of descriptors.
func LoadStore(dir string) (*Store, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	s := NewStore()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		var descs []*Descriptor
		if err := yaml.Unmarshal(b, &descs); err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
		for _, d := range descs {
			s.byID[key(d.VendorID, d.ProductID)] = d
		}
	}
	return s, nil
}

// Lookup resolves a connected device to its descriptor.
func (s *Store) Lookup(vendor, product uint16) (*Descriptor, bool) {
	d, ok := s.byID[key(vendor, product)]
	return d, ok
}

// Len reports the number of known models.
func (s *Store) Len() int { return len(s.byID) }
