package device

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperb1iss/uchroma/internal/canvas"
	"github.com/hyperb1iss/uchroma/internal/frame"
	"github.com/hyperb1iss/uchroma/internal/hardware"
	"github.com/hyperb1iss/uchroma/internal/protocol"
	"github.com/hyperb1iss/uchroma/internal/transport"
)

// fakeTransport captures outgoing reports and replays queued responses.
// With nothing queued, every read yields an OK response with no payload.
type fakeTransport struct {
	sent  [][protocol.ReportSize]byte
	reads []readResult
}

type readResult struct {
	buf [protocol.ReportSize]byte
	err error
}

func (f *fakeTransport) SendFeature(report [protocol.ReportSize]byte) error {
	f.sent = append(f.sent, report)
	return nil
}

func (f *fakeTransport) ReadFeature() ([protocol.ReportSize]byte, error) {
	if len(f.reads) > 0 {
		res := f.reads[0]
		f.reads = f.reads[1:]
		return res.buf, res.err
	}
	return okResponse(), nil
}

func (f *fakeTransport) WithDevice(fn func() error) error { return fn() }
func (f *fakeTransport) Close() error                     { return nil }

func (f *fakeTransport) queue(buf [protocol.ReportSize]byte) {
	f.reads = append(f.reads, readResult{buf: buf})
}

func (f *fakeTransport) queueErr(err error) {
	f.reads = append(f.reads, readResult{err: err})
}

func response(status protocol.Status, payload ...byte) [protocol.ReportSize]byte {
	var buf [protocol.ReportSize]byte
	buf[0] = uint8(status)
	buf[5] = uint8(len(payload))
	copy(buf[8:], payload)
	buf[88] = protocol.CRC(buf[:])
	return buf
}

func okResponse(payload ...byte) [protocol.ReportSize]byte {
	return response(protocol.StatusOK, payload...)
}

func legacyKeyboard() *hardware.Descriptor {
	return &hardware.Descriptor{
		Name:       "BlackWidow Chroma",
		Kind:       hardware.Keyboard,
		VendorID:   0x1532,
		ProductID:  0x0203,
		Dimensions: hardware.Dimensions{Height: 6, Width: 22},
		Protocol:   protocol.VersionLegacy,
		LEDs:       []hardware.LEDType{hardware.LEDBacklight, hardware.LEDLogo},
		Effects:    []string{"static", "wave", "spectrum", "custom_frame"},
		Caps:       []hardware.Capability{hardware.CapKeyInput},
	}
}

func wirelessKeyboard() *hardware.Descriptor {
	return &hardware.Descriptor{
		Name:       "BlackWidow V3 Pro",
		Kind:       hardware.Keyboard,
		VendorID:   0x1532,
		ProductID:  0x025A,
		Dimensions: hardware.Dimensions{Height: 6, Width: 22},
		Protocol:   protocol.VersionWirelessKB,
		LEDs:       []hardware.LEDType{hardware.LEDBacklight},
		Caps:       []hardware.Capability{hardware.CapWireless, hardware.CapKeyInput},
	}
}

func bladeLaptop() *hardware.Descriptor {
	return &hardware.Descriptor{
		Name:       "Blade 15",
		Kind:       hardware.Laptop,
		VendorID:   0x1532,
		ProductID:  0x0233,
		Dimensions: hardware.Dimensions{Height: 6, Width: 16},
		Protocol:   protocol.VersionModern,
		Caps:       []hardware.Capability{hardware.CapSystemControl},
		FanLimits:  &hardware.FanLimits{MinManualRPM: 3500, MaxRPM: 5000, DualFan: true},
	}
}

func newTestDriver(desc *hardware.Descriptor) (*Driver, *fakeTransport) {
	t := &fakeTransport{}
	return New(desc, t, zerolog.Nop()), t
}

func TestStaticRedLegacyWire(t *testing.T) {
	d, ft := newTestDriver(legacyKeyboard())

	err := d.SetEffect("static", EffectArgs{Colors: []canvas.Color{canvas.MustParseColor("#ff0000")}})
	require.NoError(t, err)
	require.Len(t, ft.sent, 1, "exactly one effect command")

	buf := ft.sent[0]
	assert.Equal(t, byte(0xFF), buf[1], "legacy transaction id")
	assert.Equal(t, byte(0x00), buf[4], "protocol type")
	assert.Equal(t, byte(0x04), buf[5], "data size")
	assert.Equal(t, byte(0x03), buf[6], "command class")
	assert.Equal(t, byte(0x0A), buf[7], "command id")
	assert.Equal(t, byte(0x06), buf[8], "static effect id")
	assert.Equal(t, byte(0xFF), buf[9], "red")
	assert.Equal(t, byte(0x00), buf[10], "green")
	assert.Equal(t, byte(0x00), buf[11], "blue")

	fx := d.CurrentEffect()
	require.NotNil(t, fx)
	assert.Equal(t, "static", fx.Name)
	require.Len(t, fx.Args.Colors, 1)
	assert.Equal(t, "#ff0000", fx.Args.Colors[0].Hex())
}

func TestBrightnessWirelessKeyboardWire(t *testing.T) {
	d, ft := newTestDriver(wirelessKeyboard())

	require.NoError(t, d.SetBrightness(75))
	require.Len(t, ft.sent, 1)

	buf := ft.sent[0]
	assert.Equal(t, byte(0x9F), buf[1], "wireless keyboard transaction id")
	assert.Equal(t, byte(0x03), buf[6], "standard LED class")
	assert.Equal(t, byte(0x03), buf[7], "brightness command")
	assert.Equal(t, byte(0x05), buf[8], "backlight LED id")
	assert.Equal(t, byte(0xBF), buf[9], "round(75*2.55) = 191")

	ft.queue(okResponse(0x05, 0xBF))
	pct, err := d.GetBrightness()
	require.NoError(t, err)
	assert.InDelta(t, 75, pct, 1, "read-back within the rounding budget")
}

func TestBrightnessRange(t *testing.T) {
	d, ft := newTestDriver(legacyKeyboard())
	assert.ErrorIs(t, d.SetBrightness(101), ErrInvalidArgument)
	assert.ErrorIs(t, d.SetBrightness(-1), ErrInvalidArgument)
	assert.Empty(t, ft.sent)

	// zero is valid and distinct from LED off
	require.NoError(t, d.SetBrightness(0))
	require.Len(t, ft.sent, 1)
	assert.Equal(t, byte(0x00), ft.sent[0][9])
}

func TestBusyRetryLadder(t *testing.T) {
	d, ft := newTestDriver(legacyKeyboard())
	ft.queue(response(protocol.StatusBusy))
	ft.queue(response(protocol.StatusBusy))
	ft.queue(okResponse())

	require.NoError(t, d.SetEffect("spectrum", EffectArgs{}))
	assert.Len(t, ft.sent, 3, "two BUSY responses mean two resends")
}

func TestBusyExhaustion(t *testing.T) {
	d, ft := newTestDriver(legacyKeyboard())
	for i := 0; i < 4; i++ {
		ft.queue(response(protocol.StatusBusy))
	}
	err := d.SetEffect("spectrum", EffectArgs{})
	assert.ErrorIs(t, err, ErrDeviceBusy)
	assert.Len(t, ft.sent, 4, "initial send plus three resends")
}

func TestTimeoutSingleRetry(t *testing.T) {
	d, ft := newTestDriver(legacyKeyboard())
	ft.queue(response(protocol.StatusTimeout))
	ft.queue(okResponse())
	require.NoError(t, d.SetEffect("spectrum", EffectArgs{}))

	ft.sent = nil
	ft.queue(response(protocol.StatusTimeout))
	ft.queue(response(protocol.StatusTimeout))
	err := d.SetEffect("spectrum", EffectArgs{})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Len(t, ft.sent, 2, "one retry only")
}

func TestFailSurfacesImmediately(t *testing.T) {
	d, ft := newTestDriver(legacyKeyboard())
	ft.queue(response(protocol.StatusFail))
	err := d.SetEffect("spectrum", EffectArgs{})
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Len(t, ft.sent, 1)
}

func TestCRCMismatchRaisesProtocolError(t *testing.T) {
	d, ft := newTestDriver(legacyKeyboard())
	bad := okResponse()
	bad[88] ^= 0x5A
	ft.queue(bad)
	err := d.SetEffect("spectrum", EffectArgs{})
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestCRCSkipOnOKCapability(t *testing.T) {
	desc := legacyKeyboard()
	desc.Caps = append(desc.Caps, hardware.CapCRCSkipOnOK)
	d, ft := newTestDriver(desc)

	bad := okResponse()
	bad[88] ^= 0x5A
	ft.queue(bad)
	assert.NoError(t, d.SetEffect("spectrum", EffectArgs{}))
}

func TestSetLEDUnsupportedSendsNothing(t *testing.T) {
	d, ft := newTestDriver(legacyKeyboard())
	on := true
	err := d.SetLED(hardware.LEDScrollWheel, LEDUpdate{On: &on})
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Empty(t, ft.sent, "unsupported LED must fail before transport")
}

func TestSetLEDIssuesSubset(t *testing.T) {
	d, ft := newTestDriver(legacyKeyboard())
	on := false
	color := canvas.MustParseColor("#00ffff")
	require.NoError(t, d.SetLED(hardware.LEDLogo, LEDUpdate{On: &on, Color: &color}))
	require.Len(t, ft.sent, 2, "one command per updated property")

	state := ft.sent[0]
	assert.Equal(t, byte(0x03), state[6])
	assert.Equal(t, byte(0x00), state[7], "SET_LED_STATE")
	assert.Equal(t, byte(0x01), state[8], "varstore")
	assert.Equal(t, byte(0x04), state[9], "logo LED id")
	assert.Equal(t, byte(0x00), state[10], "off")

	col := ft.sent[1]
	assert.Equal(t, byte(0x01), col[7], "SET_LED_COLOR")
	assert.Equal(t, []byte{0x00, 0xFF, 0xFF}, []byte(col[10:13]))
}

func TestSetEffectUnknownOrUnmapped(t *testing.T) {
	d, ft := newTestDriver(legacyKeyboard())
	assert.ErrorIs(t, d.SetEffect("disco", EffectArgs{}), ErrUnsupported)

	// gradient exists only in the legacy column
	ext, ft2 := newTestDriver(wirelessKeyboard())
	assert.ErrorIs(t, ext.SetEffect("gradient", EffectArgs{}), ErrUnsupported)
	assert.Empty(t, ft.sent)
	assert.Empty(t, ft2.sent)
}

func TestExtendedEffectArgBlock(t *testing.T) {
	d, ft := newTestDriver(wirelessKeyboard())
	err := d.SetEffect("static", EffectArgs{Colors: []canvas.Color{canvas.MustParseColor("#00ff00")}})
	require.NoError(t, err)
	require.Len(t, ft.sent, 1)

	buf := ft.sent[0]
	assert.Equal(t, byte(0x0F), buf[6], "extended class")
	assert.Equal(t, byte(0x02), buf[7], "extended effect command")
	assert.Equal(t, byte(0x01), buf[8], "varstore")
	assert.Equal(t, byte(0x05), buf[9], "backlight LED")
	assert.Equal(t, byte(0x01), buf[10], "extended static id")
	assert.Equal(t, []byte{0x00, 0xFF, 0x00}, []byte(buf[11:14]))
}

func TestCommitMatrixLegacySequence(t *testing.T) {
	desc := legacyKeyboard()
	desc.Dimensions = hardware.Dimensions{Height: 2, Width: 4}
	d, ft := newTestDriver(desc)

	f := frame.New(2, 4, false)
	require.NoError(t, d.CommitMatrix(f))
	require.Len(t, ft.sent, 3, "two row reports plus the latch")

	row0 := ft.sent[0]
	assert.Equal(t, byte(0x03), row0[6])
	assert.Equal(t, byte(0x0B), row0[7], "SET_FRAME_DATA_MATRIX")
	assert.Equal(t, uint16(1), uint16(row0[2])<<8|uint16(row0[3]), "one packet follows")
	assert.Equal(t, byte(0x00), row0[8], "row index")
	assert.Equal(t, byte(0x00), row0[9], "start col")
	assert.Equal(t, byte(0x03), row0[10], "end col")

	row1 := ft.sent[1]
	assert.Equal(t, byte(0x01), row1[8], "second row index")
	assert.Equal(t, uint16(0), uint16(row1[2])<<8|uint16(row1[3]), "last packet")

	latch := ft.sent[2]
	assert.Equal(t, byte(0x03), latch[6])
	assert.Equal(t, byte(0x0A), latch[7], "SET_EFFECT")
	assert.Equal(t, byte(0x05), latch[8], "custom_frame legacy id")
}

func TestCommitMatrixExtendedSequence(t *testing.T) {
	desc := wirelessKeyboard()
	desc.Dimensions = hardware.Dimensions{Height: 1, Width: 4}
	d, ft := newTestDriver(desc)

	// height 1 uses the single-row command even on extended devices
	f := frame.New(1, 4, false)
	require.NoError(t, d.CommitMatrix(f))
	require.Len(t, ft.sent, 2)
	assert.Equal(t, byte(0x0C), ft.sent[0][7], "SET_FRAME_DATA_SINGLE")

	latch := ft.sent[1]
	assert.Equal(t, byte(0x0F), latch[6])
	assert.Equal(t, byte(0x02), latch[7])
	assert.Equal(t, byte(0x00), latch[8], "custom frame latches from NOSTORE")
	assert.Equal(t, byte(0x00), latch[9], "zero LED")
	assert.Equal(t, byte(0x08), latch[10], "custom_frame extended id")
}

func TestCommitMatrixWideRowSegments(t *testing.T) {
	desc := wirelessKeyboard()
	desc.Dimensions = hardware.Dimensions{Height: 2, Width: 30}
	d, ft := newTestDriver(desc)

	f := frame.New(2, 30, false)
	require.NoError(t, d.CommitMatrix(f))
	// 2 segments per row * 2 rows + latch
	require.Len(t, ft.sent, 5)

	assert.Equal(t, byte(0x0F), ft.sent[0][6], "extended frame class")
	assert.Equal(t, byte(0x03), ft.sent[0][7], "SET_FRAME_EXTENDED")
	assert.Equal(t, byte(0x00), ft.sent[0][9], "first segment starts at col 0")
	assert.Equal(t, byte(23), ft.sent[0][10])
	assert.Equal(t, byte(24), ft.sent[1][9], "second segment continues the row")
	assert.Equal(t, byte(0x00), ft.sent[1][8], "same row index")

	remaining := uint16(ft.sent[0][2])<<8 | uint16(ft.sent[0][3])
	assert.Equal(t, uint16(3), remaining, "three packets follow the first")
}

type fakeThermal struct {
	temps map[string]float64
}

func (f *fakeThermal) ReadTemperatures() (map[string]float64, error) {
	return f.temps, nil
}

func TestFanSafetyOverride(t *testing.T) {
	d, ft := newTestDriver(bladeLaptop())
	thermal := &fakeThermal{temps: map[string]float64{"cpu": 96}}
	d.SetThermalSource(thermal)

	override, err := d.SetFanRPM(3500, nil)
	require.NoError(t, err)
	assert.True(t, override, "hot CPU converts manual fan to auto")
	require.NotEmpty(t, ft.sent)
	assert.Equal(t, byte(0x00), ft.sent[0][11], "rpm byte forced to auto")
	assert.True(t, d.ThermalOverrideActive())

	// trip latches until readings fall below the clear band
	thermal.temps["cpu"] = 92
	override, err = d.SetFanRPM(3500, nil)
	require.NoError(t, err)
	assert.True(t, override, "override holds between 90 and 95")

	thermal.temps["cpu"] = 88
	ft.sent = nil
	override, err = d.SetFanRPM(3500, nil)
	require.NoError(t, err)
	assert.False(t, override)
	require.NotEmpty(t, ft.sent)

	buf := ft.sent[0]
	assert.Equal(t, byte(0x0D), buf[6], "EC class")
	assert.Equal(t, byte(0x02), buf[7], "SET_FAN_MODE")
	assert.Equal(t, byte(0x00), buf[9], "fan id")
	assert.Equal(t, byte(35), buf[11], "3500 rpm / 100")
}

func TestFanRPMBounds(t *testing.T) {
	d, ft := newTestDriver(bladeLaptop())

	_, err := d.SetFanRPM(3000, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument, "below min_manual_rpm")
	_, err = d.SetFanRPM(6000, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument, "above max_rpm")
	assert.Empty(t, ft.sent, "rejected requests change no state")
}

func TestFanControlRequiresCapability(t *testing.T) {
	d, _ := newTestDriver(legacyKeyboard())
	_, err := d.SetFanRPM(4000, nil)
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.ErrorIs(t, d.SetFanAuto(), ErrUnsupported)
}

func TestBatteryTimeoutThenStale(t *testing.T) {
	desc := wirelessKeyboard()
	d, ft := newTestDriver(desc)

	ft.queueErr(errTimeoutSentinel)
	ft.queueErr(errTimeoutSentinel)
	_, err := d.GetBattery()
	assert.ErrorIs(t, err, ErrTimeout)

	pct, stale := d.BatteryCached()
	assert.True(t, stale, "never-observed battery reads as stale")
	assert.Equal(t, 0.0, pct)

	// a successful probe freshens the cache
	ft.queue(okResponse(0x00, 0xFF))
	pct, err = d.GetBattery()
	require.NoError(t, err)
	assert.InDelta(t, 100, pct, 0.5)

	pct, stale = d.BatteryCached()
	assert.False(t, stale)
	assert.InDelta(t, 100, pct, 0.5)
}

func TestBatteryRequiresWireless(t *testing.T) {
	d, _ := newTestDriver(legacyKeyboard())
	_, err := d.GetBattery()
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestIdleTimeRange(t *testing.T) {
	d, ft := newTestDriver(wirelessKeyboard())
	assert.ErrorIs(t, d.SetIdleTime(30), ErrInvalidArgument)
	assert.ErrorIs(t, d.SetIdleTime(1000), ErrInvalidArgument)
	assert.Empty(t, ft.sent)

	require.NoError(t, d.SetIdleTime(600))
	require.Len(t, ft.sent, 1)
	assert.Equal(t, byte(0x02), ft.sent[0][8], "600 >> 8")
	assert.Equal(t, byte(0x58), ft.sent[0][9], "600 & 0xff")
}

func TestSuspendRestoresBrightness(t *testing.T) {
	d, ft := newTestDriver(legacyKeyboard())
	require.NoError(t, d.SetBrightness(60))

	require.NoError(t, d.Suspend())
	assert.True(t, d.Suspended())
	assert.Equal(t, byte(0x00), ft.sent[len(ft.sent)-1][9], "suspend dims to zero")

	require.NoError(t, d.Resume())
	assert.False(t, d.Suspended())
	assert.Equal(t, scaleForTest(60), ft.sent[len(ft.sent)-1][9], "resume restores saved level")
}

func scaleForTest(pct float64) byte { return scaleBrightness(pct) }

func TestOfflineWritesFail(t *testing.T) {
	d, ft := newTestDriver(legacyKeyboard())
	d.MarkOffline(true)

	err := d.SetEffect("spectrum", EffectArgs{})
	assert.ErrorIs(t, err, ErrDeviceOffline)
	assert.Empty(t, ft.sent)
}

// errTimeoutSentinel mirrors the transport's read-timeout error identity.
var errTimeoutSentinel = errors.WithStack(transport.ErrReadTimeout)
