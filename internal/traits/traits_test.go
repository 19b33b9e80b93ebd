package traits

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperb1iss/uchroma/internal/canvas"
)

func testSet() *Set {
	return NewSet(
		FloatDef("speed", 1.0, 0.1, 2.0),
		IntDef("width", 3, 1, 5),
		BoolDef("random", true),
		EnumDef("direction", "right", "right", "left"),
		ColorDef("color", canvas.MustParseColor("#00ff00")),
		ColorListDef("scheme", 2,
			canvas.MustParseColor("#ff0000"), canvas.MustParseColor("#0000ff")),
	)
}

func TestDefaults(t *testing.T) {
	s := testSet()
	assert.Equal(t, 1.0, s.Float("speed"))
	assert.Equal(t, 3, s.Int("width"))
	assert.True(t, s.Bool("random"))
	assert.Equal(t, "right", s.String("direction"))
	assert.Equal(t, "#00ff00", s.Color("color").Hex())
}

func TestOutOfRangeKeepsPriorValue(t *testing.T) {
	s := testSet()
	require.NoError(t, s.Assign("speed", 1.5))

	assert.Error(t, s.Assign("speed", 2.5))
	assert.Equal(t, 1.5, s.Float("speed"), "failed assignment must not disturb the value")

	assert.Error(t, s.Assign("width", 9))
	assert.Equal(t, 3, s.Int("width"))

	assert.Error(t, s.Assign("direction", "up"))
	assert.Equal(t, "right", s.String("direction"))
}

func TestIntRejectsFractions(t *testing.T) {
	s := testSet()
	assert.Error(t, s.Assign("width", 2.5))
	require.NoError(t, s.Assign("width", 2.0), "whole floats coerce to int (JSON numbers)")
	assert.Equal(t, 2, s.Int("width"))
}

func TestColorCoercion(t *testing.T) {
	s := testSet()
	require.NoError(t, s.Assign("color", "#123456"))
	assert.Equal(t, "#123456", s.Color("color").Hex())

	assert.Error(t, s.Assign("color", "chartreuse"))
	assert.Error(t, s.Assign("color", 42))
}

func TestColorListMinLength(t *testing.T) {
	s := testSet()
	assert.Error(t, s.Assign("scheme", []string{"#ffffff"}))
	require.NoError(t, s.Assign("scheme", []string{"#ffffff", "#000000", "#ff00ff"}))
	assert.Len(t, s.Colors("scheme"), 3)
}

func TestUnknownTrait(t *testing.T) {
	s := testSet()
	assert.Error(t, s.Assign("nope", 1))
}

func TestObserverFiresAfterStore(t *testing.T) {
	s := testSet()
	var gotName string
	var gotOld, gotNew any
	s.Observe(func(name string, old, value any) {
		gotName, gotOld, gotNew = name, old, value
	})

	require.NoError(t, s.Assign("speed", 0.5))
	assert.Equal(t, "speed", gotName)
	assert.Equal(t, 1.0, gotOld)
	assert.Equal(t, 0.5, gotNew)

	// failed assignments never notify
	gotName = ""
	_ = s.Assign("speed", 99.0)
	assert.Empty(t, gotName)
}

func TestPresetResolvesColors(t *testing.T) {
	presets := map[string][]canvas.Color{
		"fire": {canvas.MustParseColor("#ff0000"), canvas.MustParseColor("#ffaa00")},
		"ice":  {canvas.MustParseColor("#00ffff"), canvas.MustParseColor("#0000ff")},
	}
	s := NewSet(PresetDef("preset", "fire", presets))

	assert.Len(t, s.PresetColors("preset"), 2)
	require.NoError(t, s.Assign("preset", "ice"))
	assert.Equal(t, "#00ffff", s.PresetColors("preset")[0].Hex())
	assert.Error(t, s.Assign("preset", "lava"))
}

func TestAddDefsKeepsExisting(t *testing.T) {
	s := testSet()
	require.NoError(t, s.Assign("speed", 0.7))
	s.AddDefs(FloatDef("speed", 1.0, 0.1, 2.0), FloatDef("fps", 15, 1, 30))

	assert.Equal(t, 0.7, s.Float("speed"), "re-declaring must not reset the value")
	assert.Equal(t, 15.0, s.Float("fps"))
}
