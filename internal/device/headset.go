package device

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/hyperb1iss/uchroma/internal/canvas"
	"github.com/hyperb1iss/uchroma/internal/hardware"
)

// Kraken headsets do not speak the 90-byte report format; they expose a
// small memory read/write protocol instead. Output report id 0x04 carries
// 37 bytes, input report id 0x05 carries 33; commands must be spaced by
// 25 ms.
const (
	headsetReportOut    = 0x04
	headsetReportIn     = 0x05
	headsetOutLen       = 37
	headsetInLen        = 33
	headsetCommandDelay = 25 * time.Millisecond

	headsetReadRAM    = 0x00
	headsetReadEEPROM = 0x20
	headsetWriteRAM   = 0x40
)

// Effect bit positions within the headset effect word.
const (
	headsetFXOn       = 1 << 0
	headsetFXBreathe  = 1 << 1
	headsetFXSpectrum = 1 << 2
)

// MemoryTransport is the raw feature-report surface the headset driver
// needs; transport.HID satisfies it.
type MemoryTransport interface {
	SendRaw(reportID byte, data []byte) error
	ReadRaw(reportID byte, n int) ([]byte, error)
}

// HeadsetDriver drives a Kraken-style headset through its memory protocol.
// The address layout comes from the descriptor's headset section.
type HeadsetDriver struct {
	desc *hardware.Descriptor
	t    MemoryTransport
	log  zerolog.Logger

	lastCmd time.Time
}

// NewHeadset builds a headset driver; the descriptor must carry a headset
// layout.
func NewHeadset(desc *hardware.Descriptor, t MemoryTransport, log zerolog.Logger) (*HeadsetDriver, error) {
	if desc.Headset == nil {
		return nil, errors.Wrap(ErrUnsupported, "descriptor has no headset layout")
	}
	return &HeadsetDriver{desc: desc, t: t, log: log.With().Str("device", desc.Name).Logger()}, nil
}

func (h *HeadsetDriver) pace() {
	if rem := headsetCommandDelay - time.Since(h.lastCmd); rem > 0 {
		time.Sleep(rem)
	}
	h.lastCmd = time.Now()
}

// command builds the 37-byte request: destination, length, big-endian
// address, then data.
func (h *HeadsetDriver) command(destination byte, length byte, address uint16, data []byte) error {
	if len(data) > headsetOutLen-4 {
		return errors.Wrap(ErrInvalidArgument, "headset payload too long")
	}
	buf := make([]byte, headsetOutLen)
	buf[0] = destination
	buf[1] = length
	binary.BigEndian.PutUint16(buf[2:4], address)
	copy(buf[4:], data)

	h.pace()
	return h.t.SendRaw(headsetReportOut, buf)
}

// ReadRAM fetches length bytes from a RAM address.
func (h *HeadsetDriver) ReadRAM(address uint16, length byte) ([]byte, error) {
	if err := h.command(headsetReadRAM, length, address, nil); err != nil {
		return nil, err
	}
	h.pace()
	resp, err := h.t.ReadRaw(headsetReportIn, headsetInLen)
	if err != nil {
		return nil, err
	}
	if int(length) > len(resp) {
		return nil, errors.Wrap(ErrProtocol, "short headset response")
	}
	return resp[:length], nil
}

// ReadEEPROM fetches length bytes from persistent storage.
func (h *HeadsetDriver) ReadEEPROM(address uint16, length byte) ([]byte, error) {
	if err := h.command(headsetReadEEPROM, length, address, nil); err != nil {
		return nil, err
	}
	h.pace()
	resp, err := h.t.ReadRaw(headsetReportIn, headsetInLen)
	if err != nil {
		return nil, err
	}
	if int(length) > len(resp) {
		return nil, errors.Wrap(ErrProtocol, "short headset response")
	}
	return resp[:length], nil
}

// WriteRAM stores bytes at a RAM address.
func (h *HeadsetDriver) WriteRAM(address uint16, data []byte) error {
	return h.command(headsetWriteRAM, byte(len(data)), address, data)
}

// SetStatic paints a static color by writing the RGB block and enabling
// the effect bit.
func (h *HeadsetDriver) SetStatic(c canvas.Color) error {
	r, g, b := c.RGB()
	if err := h.WriteRAM(h.desc.Headset.RGBAddr, []byte{r, g, b, 0xFF}); err != nil {
		return err
	}
	return h.WriteRAM(h.desc.Headset.EffectAddr, []byte{headsetFXOn})
}

// SetBreathe cycles the color block with the breathe bit set.
func (h *HeadsetDriver) SetBreathe(c canvas.Color) error {
	r, g, b := c.RGB()
	if err := h.WriteRAM(h.desc.Headset.RGBAddr, []byte{r, g, b, 0xFF}); err != nil {
		return err
	}
	return h.WriteRAM(h.desc.Headset.EffectAddr, []byte{headsetFXOn | headsetFXBreathe})
}

// SetSpectrum enables the firmware spectrum cycle.
func (h *HeadsetDriver) SetSpectrum() error {
	return h.WriteRAM(h.desc.Headset.EffectAddr, []byte{headsetFXOn | headsetFXSpectrum})
}

// Disable turns lighting off.
func (h *HeadsetDriver) Disable() error {
	return h.WriteRAM(h.desc.Headset.EffectAddr, []byte{0x00})
}
