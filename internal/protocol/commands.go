package protocol

// CommandDef identifies one hardware command.
//
// DataSize is the fixed argument size, or -1 for variable-length commands.
// An empty Protocols list means the command is valid on every generation.
type CommandDef struct {
	Class     uint8
	ID        uint8
	DataSize  int
	Name      string
	Protocols []Version
}

// SupportsProfile reports whether the command may be dispatched on the
// given protocol generation.
func (c CommandDef) SupportsProfile(p Profile) bool {
	if len(c.Protocols) == 0 {
		return true
	}
	for _, v := range c.Protocols {
		if v == p.Version {
			return true
		}
	}
	return false
}

// Variable marks a command with caller-supplied data size.
const Variable = -1

// Command registry. Organized by class:
//
//	0x00 device info & control
//	0x03 standard LED/effects
//	0x07 power & battery
//	0x0D laptop fan/power (EC control)
//	0x0E laptop display brightness
//	0x0F extended matrix effects
var (
	CmdGetFirmware   = CommandDef{0x00, 0x81, 0x02, "GET_FIRMWARE", nil}
	CmdGetSerial     = CommandDef{0x00, 0x82, 0x16, "GET_SERIAL", nil}
	CmdSetDeviceMode = CommandDef{0x00, 0x04, 0x02, "SET_DEVICE_MODE", nil}
	CmdGetDeviceMode = CommandDef{0x00, 0x84, 0x02, "GET_DEVICE_MODE", nil}
	CmdSetPollRate   = CommandDef{0x00, 0x05, 0x01, "SET_POLLING_RATE", nil}
	CmdGetPollRate   = CommandDef{0x00, 0x85, 0x01, "GET_POLLING_RATE", nil}
	CmdSetPollRateV2 = CommandDef{0x00, 0x40, Variable, "SET_POLLING_RATE_V2", []Version{VersionModern}}
	CmdGetPollRateV2 = CommandDef{0x00, 0xC0, Variable, "GET_POLLING_RATE_V2", []Version{VersionModern}}

	CmdSetLEDState      = CommandDef{0x03, 0x00, 0x03, "SET_LED_STATE", nil}
	CmdGetLEDState      = CommandDef{0x03, 0x80, 0x03, "GET_LED_STATE", nil}
	CmdSetLEDColor      = CommandDef{0x03, 0x01, 0x05, "SET_LED_COLOR", nil}
	CmdGetLEDColor      = CommandDef{0x03, 0x81, 0x05, "GET_LED_COLOR", nil}
	CmdSetLEDMode       = CommandDef{0x03, 0x02, 0x03, "SET_LED_MODE", nil}
	CmdGetLEDMode       = CommandDef{0x03, 0x82, 0x03, "GET_LED_MODE", nil}
	CmdSetLEDBrightness = CommandDef{0x03, 0x03, 0x03, "SET_LED_BRIGHTNESS", nil}
	CmdGetLEDBrightness = CommandDef{0x03, 0x83, 0x03, "GET_LED_BRIGHTNESS", nil}
	CmdSetEffect        = CommandDef{0x03, 0x0A, Variable, "SET_EFFECT", []Version{VersionLegacy}}
	CmdSetFrameMatrix   = CommandDef{0x03, 0x0B, Variable, "SET_FRAME_DATA_MATRIX", nil}
	CmdSetFrameSingle   = CommandDef{0x03, 0x0C, Variable, "SET_FRAME_DATA_SINGLE", nil}

	CmdSetLowBattery = CommandDef{0x07, 0x01, 0x01, "SET_LOW_BATTERY", wirelessProfiles}
	CmdGetLowBattery = CommandDef{0x07, 0x81, 0x01, "GET_LOW_BATTERY", wirelessProfiles}
	CmdSetIdleTime   = CommandDef{0x07, 0x03, 0x02, "SET_IDLE_TIME", wirelessProfiles}
	CmdGetIdleTime   = CommandDef{0x07, 0x83, 0x02, "GET_IDLE_TIME", wirelessProfiles}
	CmdGetBattery    = CommandDef{0x07, 0x80, 0x02, "GET_BATTERY_LEVEL", wirelessProfiles}
	CmdGetCharging   = CommandDef{0x07, 0x84, 0x02, "GET_CHARGING_STATUS", wirelessProfiles}

	CmdSetFanMode  = CommandDef{0x0D, 0x02, 0x04, "SET_FAN_MODE", nil}
	CmdGetFanMode  = CommandDef{0x0D, 0x82, 0x04, "GET_FAN_MODE", nil}
	CmdGetFanSpeed = CommandDef{0x0D, 0x81, 0x03, "GET_FAN_SPEED", nil}
	CmdSetBoost    = CommandDef{0x0D, 0x0D, Variable, "SET_BOOST", nil}
	CmdGetBoost    = CommandDef{0x0D, 0x8D, Variable, "GET_BOOST", nil}

	CmdSetBladeBrightness = CommandDef{0x0E, 0x04, 0x02, "SET_BLADE_BRIGHTNESS", nil}
	CmdGetBladeBrightness = CommandDef{0x0E, 0x84, 0x02, "GET_BLADE_BRIGHTNESS", nil}

	CmdSetEffectExt = CommandDef{0x0F, 0x02, Variable, "SET_EFFECT_EXTENDED", extendedProfiles}
	CmdGetEffectExt = CommandDef{0x0F, 0x80, Variable, "GET_EFFECT_EXTENDED", extendedProfiles}
	CmdSetFrameExt  = CommandDef{0x0F, 0x03, Variable, "SET_FRAME_EXTENDED", extendedProfiles}

	// Extended brightness exists only on true extended/modern hardware;
	// wireless keyboards keep the class 0x03 pair.
	CmdSetBrightnessExt = CommandDef{0x0F, 0x04, 0x03, "SET_BRIGHTNESS_EXTENDED", brightnessExtProfiles}
	CmdGetBrightnessExt = CommandDef{0x0F, 0x84, 0x03, "GET_BRIGHTNESS_EXTENDED", brightnessExtProfiles}
)

var (
	wirelessProfiles      = []Version{VersionExtended, VersionModern, VersionWirelessKB}
	extendedProfiles      = []Version{VersionExtended, VersionModern, VersionWirelessKB, VersionSpecial}
	brightnessExtProfiles = []Version{VersionExtended, VersionModern}
)

// Varstore selectors for LED and extended-effect commands.
const (
	NoStore  = 0x00
	VarStore = 0x01
)
