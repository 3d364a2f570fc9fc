package ksx

import "errors"

// Domain errors for the KS X 4506 bridge package.
var (
	// ErrInvalidAddress is returned when an address string cannot be parsed.
	ErrInvalidAddress = errors.New("ksx: invalid device address")

	// ErrNeedMoreData is returned by Decode when the buffer does not yet
	// hold a complete frame.
	ErrNeedMoreData = errors.New("ksx: need more data")

	// ErrNoHeader is returned by Decode when the buffer does not start
	// with the STX marker.
	ErrNoHeader = errors.New("ksx: frame does not start with STX")

	// ErrChecksum is returned by Decode when either checksum byte does not
	// match the frame contents.
	ErrChecksum = errors.New("ksx: checksum mismatch")

	// ErrPayloadTooLarge is returned when a payload does not fit the
	// one-byte length field.
	ErrPayloadTooLarge = errors.New("ksx: payload too large")

	// ErrDeviceExists is returned when a device is added twice.
	ErrDeviceExists = errors.New("ksx: device already exists")

	// ErrDeviceNotFound is returned when an address has no device context.
	ErrDeviceNotFound = errors.New("ksx: device not found")

	// ErrNotAttached is returned when a packet is sent before a transport
	// is attached.
	ErrNotAttached = errors.New("ksx: stream not attached")

	// ErrOutOfRange is returned when a field is outside its valid range and
	// the network rejects rather than clamps.
	ErrOutOfRange = errors.New("ksx: value out of range")
)
