package protocol

// EffectDef maps one effect name to its per-protocol hardware ids. Legacy
// ids ride command (0x03,0x0A); extended ids ride (0x0F,0x02). An id of -1
// means the effect does not exist on that protocol column.
type EffectDef struct {
	Name       string
	LegacyID   int
	ExtendedID int
	MaxColors  int
	HasSpeed   bool
	HasDir     bool
}

// ID returns the effect id for the selected column, or false when the
// effect is not available there.
func (e EffectDef) ID(extended bool) (uint8, bool) {
	id := e.LegacyID
	if extended {
		id = e.ExtendedID
	}
	if id < 0 {
		return 0, false
	}
	return uint8(id), true
}

// Effect table. The dual-column ids for the universally supported effects
// are fixed by the hardware and must not change.
var effects = map[string]EffectDef{
	"disable":      {Name: "disable", LegacyID: 0x00, ExtendedID: 0x00},
	"static":       {Name: "static", LegacyID: 0x06, ExtendedID: 0x01, MaxColors: 1},
	"breathe":      {Name: "breathe", LegacyID: 0x03, ExtendedID: 0x02, MaxColors: 2},
	"spectrum":     {Name: "spectrum", LegacyID: 0x04, ExtendedID: 0x03},
	"wave":         {Name: "wave", LegacyID: 0x01, ExtendedID: 0x04, HasDir: true},
	"reactive":     {Name: "reactive", LegacyID: 0x02, ExtendedID: 0x05, MaxColors: 1, HasSpeed: true},
	"starlight":    {Name: "starlight", LegacyID: 0x19, ExtendedID: 0x07, MaxColors: 2, HasSpeed: true},
	"custom_frame": {Name: "custom_frame", LegacyID: 0x05, ExtendedID: 0x08},

	// Legacy-only effects.
	"gradient":     {Name: "gradient", LegacyID: 0x0A, ExtendedID: -1},
	"sweep":        {Name: "sweep", LegacyID: 0x0C, ExtendedID: -1, MaxColors: 2, HasSpeed: true, HasDir: true},
	"circle":       {Name: "circle", LegacyID: 0x0D, ExtendedID: -1},
	"highlight":    {Name: "highlight", LegacyID: 0x10, ExtendedID: -1},
	"morph":        {Name: "morph", LegacyID: 0x11, ExtendedID: -1, MaxColors: 2, HasSpeed: true},
	"fire":         {Name: "fire", LegacyID: 0x12, ExtendedID: -1, MaxColors: 1, HasSpeed: true},
	"ripple_solid": {Name: "ripple_solid", LegacyID: 0x13, ExtendedID: -1, MaxColors: 1, HasSpeed: true},
	"ripple":       {Name: "ripple", LegacyID: 0x14, ExtendedID: -1, MaxColors: 1, HasSpeed: true},
}

// LookupEffect returns the definition for a named effect.
func LookupEffect(name string) (EffectDef, bool) {
	def, ok := effects[name]
	return def, ok
}

// EffectNames lists every registered effect name.
func EffectNames() []string {
	names := make([]string, 0, len(effects))
	for name := range effects {
		names = append(names, name)
	}
	return names
}
