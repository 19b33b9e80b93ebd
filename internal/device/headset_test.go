package device

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperb1iss/uchroma/internal/canvas"
	"github.com/hyperb1iss/uchroma/internal/hardware"
)

type fakeMemory struct {
	writes [][]byte
	ids    []byte
	read   []byte
}

func (f *fakeMemory) SendRaw(reportID byte, data []byte) error {
	f.ids = append(f.ids, reportID)
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeMemory) ReadRaw(_ byte, n int) ([]byte, error) {
	buf := make([]byte, n)
	copy(buf, f.read)
	return buf, nil
}

func krakenDescriptor() *hardware.Descriptor {
	return &hardware.Descriptor{
		Name:      "Kraken 7.1 V2",
		Kind:      hardware.Headset,
		VendorID:  0x1532,
		ProductID: 0x0510,
		Headset:   &hardware.HeadsetLayout{EffectAddr: 0x172D, RGBAddr: 0x1733},
	}
}

func TestHeadsetRequestFraming(t *testing.T) {
	mem := &fakeMemory{read: []byte{0xAB, 0xCD}}
	h, err := NewHeadset(krakenDescriptor(), mem, zerolog.Nop())
	require.NoError(t, err)

	data, err := h.ReadRAM(0x172D, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAB, 0xCD}, data)

	require.Len(t, mem.writes, 1)
	req := mem.writes[0]
	assert.Len(t, req, 37, "output report is 37 bytes")
	assert.Equal(t, byte(0x04), mem.ids[0], "output report id")
	assert.Equal(t, byte(0x00), req[0], "read-RAM destination")
	assert.Equal(t, byte(0x02), req[1], "length")
	assert.Equal(t, byte(0x17), req[2], "address high byte")
	assert.Equal(t, byte(0x2D), req[3], "address low byte")
}

func TestHeadsetEEPROMDestination(t *testing.T) {
	mem := &fakeMemory{}
	h, err := NewHeadset(krakenDescriptor(), mem, zerolog.Nop())
	require.NoError(t, err)

	_, err = h.ReadEEPROM(0x0030, 16)
	require.NoError(t, err)
	assert.Equal(t, byte(0x20), mem.writes[0][0], "read-EEPROM destination")
}

func TestHeadsetStaticWritesColorThenEffect(t *testing.T) {
	mem := &fakeMemory{}
	h, err := NewHeadset(krakenDescriptor(), mem, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, h.SetStatic(canvas.MustParseColor("#ff8000")))
	require.Len(t, mem.writes, 2)

	rgb := mem.writes[0]
	assert.Equal(t, byte(0x40), rgb[0], "write-RAM destination")
	assert.Equal(t, byte(0x17), rgb[2])
	assert.Equal(t, byte(0x33), rgb[3], "RGB block address")
	assert.Equal(t, []byte{0xFF, 0x80, 0x00, 0xFF}, rgb[4:8])

	fx := mem.writes[1]
	assert.Equal(t, byte(0x2D), fx[3], "effect word address")
	assert.Equal(t, byte(0x01), fx[4], "on bit")
}

func TestHeadsetRequiresLayout(t *testing.T) {
	desc := krakenDescriptor()
	desc.Headset = nil
	_, err := NewHeadset(desc, &fakeMemory{}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrUnsupported)
}
