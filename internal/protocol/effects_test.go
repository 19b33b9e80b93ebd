package protocol

import "testing"

// The dual-column ids are fixed by the hardware; any drift here bricks
// effect dispatch on real devices.
func TestEffectIDTable(t *testing.T) {
	cases := []struct {
		name     string
		legacy   int
		extended int
	}{
		{"disable", 0x00, 0x00},
		{"static", 0x06, 0x01},
		{"breathe", 0x03, 0x02},
		{"spectrum", 0x04, 0x03},
		{"wave", 0x01, 0x04},
		{"reactive", 0x02, 0x05},
		{"starlight", 0x19, 0x07},
		{"custom_frame", 0x05, 0x08},
	}
	for _, tc := range cases {
		def, ok := LookupEffect(tc.name)
		if !ok {
			t.Fatalf("effect %q missing from registry", tc.name)
		}
		legacy, ok := def.ID(false)
		if !ok || int(legacy) != tc.legacy {
			t.Errorf("%s: legacy id %02x, want %02x", tc.name, legacy, tc.legacy)
		}
		extended, ok := def.ID(true)
		if !ok || int(extended) != tc.extended {
			t.Errorf("%s: extended id %02x, want %02x", tc.name, extended, tc.extended)
		}
	}
}

func TestLegacyOnlyEffects(t *testing.T) {
	for _, name := range []string{"gradient", "sweep", "circle", "highlight", "morph", "fire", "ripple", "ripple_solid"} {
		def, ok := LookupEffect(name)
		if !ok {
			t.Fatalf("effect %q missing from registry", name)
		}
		if _, ok := def.ID(false); !ok {
			t.Errorf("%s should have a legacy id", name)
		}
		if _, ok := def.ID(true); ok {
			t.Errorf("%s must not have an extended id", name)
		}
	}
}

func TestCommandProfileGating(t *testing.T) {
	if CmdSetEffect.SupportsProfile(Extended) {
		t.Error("legacy SET_EFFECT must not dispatch on the extended profile")
	}
	if !CmdSetEffect.SupportsProfile(Legacy) {
		t.Error("SET_EFFECT must dispatch on legacy")
	}
	if !CmdSetEffectExt.SupportsProfile(WirelessKB) {
		t.Error("SET_EFFECT_EXTENDED must dispatch on wireless keyboards")
	}
	if CmdSetBrightnessExt.SupportsProfile(WirelessKB) {
		t.Error("extended brightness is not available on wireless keyboards")
	}
	if !CmdGetFirmware.SupportsProfile(Special08) {
		t.Error("GET_FIRMWARE is universal")
	}
}
