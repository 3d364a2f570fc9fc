package transport

import "errors"

// Domain errors for the transport package.
var (
	// ErrNotConnected is returned when writing while no connection is up.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrConnectionClosed is returned when reading from a websocket
	// connection that has already failed or been closed.
	ErrConnectionClosed = errors.New("transport: connection closed")

	// ErrUnsupportedTransport is returned by NewDialer for an unknown
	// transport type.
	ErrUnsupportedTransport = errors.New("transport: unsupported transport type")

	// ErrInvalidEndpoint is returned when a URL or port name cannot be used.
	ErrInvalidEndpoint = errors.New("transport: invalid endpoint")
)
