// Package transport provides the feature-report endpoint for one HID
// device. It enforces the profile's inter-command delay and serializes
// logical operations; it never retries.
package transport

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sstallion/go-hid"

	"github.com/hyperb1iss/uchroma/internal/protocol"
)

// ReadTimeout bounds a single feature-report read.
const ReadTimeout = 1 * time.Second

var (
	ErrShortRead   = errors.New("short feature report read")
	ErrReadTimeout = errors.New("feature report read timed out")
	ErrClosed      = errors.New("transport is closed")
)

// Transport is the single path to a device's feature reports.
type Transport interface {
	// SendFeature writes one 90-byte report. Callers must hold the device
	// scope via WithDevice.
	SendFeature(report [protocol.ReportSize]byte) error
	// ReadFeature reads one 90-byte report, honoring ReadTimeout.
	ReadFeature() ([protocol.ReportSize]byte, error)
	// WithDevice runs fn under the device's exclusive lock so two logical
	// commands cannot interleave.
	WithDevice(fn func() error) error
	Close() error
}

// HID is the hidapi-backed transport.
type HID struct {
	mu      sync.Mutex
	dev     *hid.Device
	delay   time.Duration
	lastCmd time.Time
	closed  bool
}

// Open opens the feature-report endpoint at a hidraw path with the
// profile's inter-command delay.
func Open(path string, delay time.Duration) (*HID, error) {
	dev, err := hid.OpenPath(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open hid device %s", path)
	}
	return &HID{dev: dev, delay: delay}, nil
}

// DeviceInfo identifies one enumerated HID interface.
type DeviceInfo struct {
	Path      string
	VendorID  uint16
	ProductID uint16
	Serial    string
	Product   string
	Interface int
}

// Enumerate lists connected HID interfaces for a vendor, one entry per
// (product, interface) pair.
func Enumerate(vendor uint16) ([]DeviceInfo, error) {
	var out []DeviceInfo
	err := hid.Enumerate(vendor, 0, func(info *hid.DeviceInfo) error {
		out = append(out, DeviceInfo{
			Path:      info.Path,
			VendorID:  info.VendorID,
			ProductID: info.ProductID,
			Serial:    info.SerialNbr,
			Product:   info.ProductStr,
			Interface: info.InterfaceNbr,
		})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "enumerate hid devices")
	}
	return out, nil
}

// FindPath enumerates for the first hidraw node matching the ids.
func FindPath(vendor, product uint16) (string, error) {
	var path string
	err := hid.Enumerate(vendor, product, func(info *hid.DeviceInfo) error {
		if path == "" {
			path = info.Path
		}
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "enumerate hid devices")
	}
	if path == "" {
		return "", errors.Errorf("no hid device %04x:%04x", vendor, product)
	}
	return path, nil
}

// smartDelay sleeps out the remainder of the inter-command window, measured
// from the end of the previous transfer (write or read).
func (h *HID) smartDelay() {
	if h.lastCmd.IsZero() {
		return
	}
	if rem := h.delay - time.Since(h.lastCmd); rem > 0 {
		time.Sleep(rem)
	}
}

func (h *HID) SendFeature(report [protocol.ReportSize]byte) error {
	if h.closed {
		return ErrClosed
	}
	h.smartDelay()

	buf := make([]byte, protocol.ReportSize+1)
	buf[0] = protocol.RequestReportID
	copy(buf[1:], report[:])

	_, err := h.dev.SendFeatureReport(buf)
	h.lastCmd = time.Now()
	if err != nil {
		return errors.Wrap(err, "send feature report")
	}
	return nil
}

func (h *HID) ReadFeature() ([protocol.ReportSize]byte, error) {
	var out [protocol.ReportSize]byte
	if h.closed {
		return out, ErrClosed
	}
	h.smartDelay()

	type result struct {
		n   int
		buf []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		buf := make([]byte, protocol.ReportSize+1)
		buf[0] = protocol.ResponseReportID
		n, err := h.dev.GetFeatureReport(buf)
		done <- result{n, buf, err}
	}()

	select {
	case res := <-done:
		h.lastCmd = time.Now()
		if res.err != nil {
			return out, errors.Wrap(res.err, "get feature report")
		}
		if res.n < protocol.ReportSize {
			return out, ErrShortRead
		}
		copy(out[:], res.buf[1:protocol.ReportSize+1])
		return out, nil
	case <-time.After(ReadTimeout):
		h.lastCmd = time.Now()
		return out, ErrReadTimeout
	}
}

// SendRaw writes an arbitrary-length feature report under the given report
// id. Used by the headset memory protocol, which does not speak the 90-byte
// format.
func (h *HID) SendRaw(reportID byte, data []byte) error {
	if h.closed {
		return ErrClosed
	}
	h.smartDelay()

	buf := make([]byte, len(data)+1)
	buf[0] = reportID
	copy(buf[1:], data)
	_, err := h.dev.SendFeatureReport(buf)
	h.lastCmd = time.Now()
	if err != nil {
		return errors.Wrap(err, "send raw feature report")
	}
	return nil
}

// ReadRaw reads an n-byte feature report under the given report id.
func (h *HID) ReadRaw(reportID byte, n int) ([]byte, error) {
	if h.closed {
		return nil, ErrClosed
	}
	h.smartDelay()

	buf := make([]byte, n+1)
	buf[0] = reportID
	read, err := h.dev.GetFeatureReport(buf)
	h.lastCmd = time.Now()
	if err != nil {
		return nil, errors.Wrap(err, "get raw feature report")
	}
	if read < n {
		return nil, ErrShortRead
	}
	return buf[1 : n+1], nil
}

func (h *HID) WithDevice(fn func() error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	return fn()
}

func (h *HID) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.dev.Close()
}
