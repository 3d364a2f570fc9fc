package ksx

import (
	"fmt"
	"strings"
)

// ParseResult is the outcome of parsing one inbound frame.
type ParseResult int

// Parse results. Values <= ResultNone leave the property store untouched.
const (
	ResultMalformed       ParseResult = -2
	ResultUnknown         ParseResult = -1
	ResultNone            ParseResult = 0
	ResultPeerDetected    ParseResult = 1
	ResultStateUpdated    ParseResult = 2
	ResultActionPerformed ParseResult = 3
	ResultErrorReceived   ParseResult = 4
)

func (r ParseResult) String() string {
	switch r {
	case ResultMalformed:
		return "malformed"
	case ResultUnknown:
		return "unknown"
	case ResultNone:
		return "none"
	case ResultPeerDetected:
		return "peer_detected"
	case ResultStateUpdated:
		return "state_updated"
	case ResultActionPerformed:
		return "action_performed"
	case ResultErrorReceived:
		return "error_received"
	}
	return fmt.Sprintf("result_%d", int(r))
}

// ErrorCode is a device error reported to listeners and stored in 0.error.
type ErrorCode int

// Device error codes.
const (
	ErrorNone          ErrorCode = 0
	ErrorUnknown       ErrorCode = -1
	ErrorCantControl   ErrorCode = -2
	ErrorNotResponding ErrorCode = -3
	ErrorNoDevice      ErrorCode = -4
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorNone:
		return "none"
	case ErrorUnknown:
		return "unknown"
	case ErrorCantControl:
		return "cannot_control"
	case ErrorNotResponding:
		return "not_responding"
	case ErrorNoDevice:
		return "no_device"
	}
	return fmt.Sprintf("error_%d", int(c))
}

// Capability describes which request shapes a device kind answers.
type Capability uint8

// Capability bits.
const (
	CapStatusSingle Capability = 1 << iota
	CapStatusMulti
	CapCharacSingle
	CapCharacMulti

	CapAll = CapStatusSingle | CapStatusMulti | CapCharacSingle | CapCharacMulti
)

// Has reports whether every bit of want is set.
func (c Capability) Has(want Capability) bool { return c&want == want }

// RangePolicy decides what happens to out-of-range fields.
type RangePolicy int

// Range policies.
const (
	// RangeClamp clamps the value into range and logs a warning.
	RangeClamp RangePolicy = iota

	// RangeReject treats the frame or request as malformed.
	RangeReject
)

// ParseRangePolicy accepts "clamp" or "reject".
func ParseRangePolicy(s string) (RangePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "clamp":
		return RangeClamp, nil
	case "reject":
		return RangeReject, nil
	}
	return RangeClamp, fmt.Errorf("%w: range policy %q", ErrOutOfRange, s)
}

func (p RangePolicy) String() string {
	if p == RangeReject {
		return "reject"
	}
	return "clamp"
}
