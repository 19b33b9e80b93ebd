package device

import "github.com/pkg/errors"

// Closed taxonomy of errors surfaced by the core. Wrapped causes attach
// context; match with errors.Is.
var (
	ErrUnsupported     = errors.New("operation not supported on this device")
	ErrInvalidArgument = errors.New("argument out of range")
	ErrDeviceBusy      = errors.New("device busy")
	ErrDeviceOffline   = errors.New("device offline")
	ErrTimeout         = errors.New("command timed out")
	ErrProtocol        = errors.New("protocol error")
	ErrRendererFailed  = errors.New("renderer failed")
	ErrConflict        = errors.New("z-index already occupied")
	ErrDeadline        = errors.New("remote deadline exceeded")
)
