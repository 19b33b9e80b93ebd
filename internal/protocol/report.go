// Package protocol implements the Razer Chroma feature-report wire format:
// the 90-byte report codec, protocol profiles keyed by device generation,
// and the command/effect registries.
package protocol

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Report geometry. The raw report is always 90 bytes; byte 0 carries the
// status code on responses and must be zero on requests.
const (
	ReportSize  = 90
	DataBufSize = 80

	crcOffset      = 88
	reservedOffset = 89
)

// HID report ids bracketing a transaction: requests go out on id 0x02,
// responses are read back from id 0x00.
const (
	RequestReportID  = 0x02
	ResponseReportID = 0x00
)

// Status is the hardware status code found at byte 0 of a response.
type Status uint8

const (
	StatusUnknown     Status = 0x00
	StatusBusy        Status = 0x01
	StatusOK          Status = 0x02
	StatusFail        Status = 0x03
	StatusTimeout     Status = 0x04
	StatusUnsupported Status = 0x05
)

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "UNKNOWN"
	case StatusBusy:
		return "BUSY"
	case StatusOK:
		return "OK"
	case StatusFail:
		return "FAIL"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusUnsupported:
		return "UNSUPPORTED"
	}
	return "FAIL"
}

// Normalize maps any out-of-range status byte to FAIL.
func (s Status) Normalize() Status {
	if s > StatusUnsupported {
		return StatusFail
	}
	return s
}

var ErrDataTooLong = errors.New("report data exceeds 80 bytes")

// Request describes one outgoing command.
//
// DataSize is the registry's declared size for fixed-size commands (which
// may exceed len(Args), e.g. GET_SERIAL); for Variable commands it is len(Args).
type Request struct {
	TransactionID    uint8
	RemainingPackets uint16
	ProtocolType     uint8
	DataSize         uint8
	CommandClass     uint8
	CommandID        uint8
	Args             []byte
}

// Response is the parsed form of one incoming report.
type Response struct {
	Status           Status
	TransactionID    uint8
	RemainingPackets uint16
	ProtocolType     uint8
	DataSize         uint8
	CommandClass     uint8
	CommandID        uint8
	Payload          []byte
	CRC              uint8
	CRCOK            bool
}

// CRC computes the report checksum: XOR of bytes 1..86 inclusive.
func CRC(buf []byte) uint8 {
	var crc uint8
	for i := 1; i < 87; i++ {
		crc ^= buf[i]
	}
	return crc
}

// Pack serializes a request into the 90-byte wire form and installs the CRC.
// Bytes 0 and 89 are left zero.
func Pack(req Request) ([ReportSize]byte, error) {
	var buf [ReportSize]byte
	if len(req.Args) > DataBufSize {
		return buf, ErrDataTooLong
	}

	buf[1] = req.TransactionID
	binary.BigEndian.PutUint16(buf[2:4], req.RemainingPackets)
	buf[4] = req.ProtocolType
	buf[5] = req.DataSize
	buf[6] = req.CommandClass
	buf[7] = req.CommandID
	copy(buf[8:8+DataBufSize], req.Args)
	buf[crcOffset] = CRC(buf[:])

	return buf, nil
}

// Unpack parses a response buffer. CRCOK is set when the computed checksum
// matches byte 88, or when the profile skips validation on an OK status.
func Unpack(buf [ReportSize]byte, profile *Profile) Response {
	status := Status(buf[0]).Normalize()
	dataSize := buf[5]
	if dataSize > DataBufSize {
		dataSize = DataBufSize
	}

	payload := make([]byte, dataSize)
	copy(payload, buf[8:8+int(dataSize)])

	crcOK := CRC(buf[:]) == buf[crcOffset]
	if !crcOK && profile != nil && profile.CRCSkipOnOK && status == StatusOK {
		crcOK = true
	}

	return Response{
		Status:           status,
		TransactionID:    buf[1],
		RemainingPackets: binary.BigEndian.Uint16(buf[2:4]),
		ProtocolType:     buf[4],
		DataSize:         dataSize,
		CommandClass:     buf[6],
		CommandID:        buf[7],
		Payload:          payload,
		CRC:              buf[crcOffset],
		CRCOK:            crcOK,
	}
}
