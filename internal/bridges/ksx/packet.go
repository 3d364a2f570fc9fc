package ksx

import (
	"bytes"
	"fmt"
	"strings"
)

// Frame layout constants.
//
//	[STX][kind][sub][cmd][len][payload...][xor][add]
const (
	// STX marks the first byte of every frame.
	STX = 0xF7

	headerSize  = 5
	trailerSize = 2

	// MinFrameSize is the size of a frame with an empty payload.
	MinFrameSize = headerSize + trailerSize

	// MaxPayloadSize is the largest payload the length byte can describe.
	MaxPayloadSize = 0xFF

	lengthOffset = 4
)

// Packet is one decoded frame.
type Packet struct {
	Kind    Kind
	Sub     SubID
	Command Command
	Data    []byte
}

// NewPacket builds a packet addressed to addr.
func NewPacket(addr Address, cmd Command, data ...byte) Packet {
	return Packet{Kind: addr.Kind(), Sub: addr.Sub(), Command: cmd, Data: data}
}

// Address returns the device address the packet is for (or from).
func (p Packet) Address() Address {
	return NewAddress(p.Kind, p.Sub.Value())
}

// Equal reports whether two packets carry the same fields and payload.
func (p Packet) Equal(o Packet) bool {
	return p.Kind == o.Kind && p.Sub == o.Sub && p.Command == o.Command && bytes.Equal(p.Data, o.Data)
}

// Encode serialises the packet with both checksums.
//
// Returns:
//   - []byte: Complete frame
//   - error: ErrPayloadTooLarge if the payload exceeds MaxPayloadSize
func (p Packet) Encode() ([]byte, error) {
	if len(p.Data) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(p.Data))
	}

	frame := make([]byte, 0, MinFrameSize+len(p.Data))
	frame = append(frame, STX, byte(p.Kind), p.Sub.Value(), byte(p.Command), byte(len(p.Data)))
	frame = append(frame, p.Data...)

	xor, add := checksums(frame)
	return append(frame, xor, add), nil
}

// MustEncode is like Encode but panics on error. Payloads built by adapters
// are always a few bytes long.
func (p Packet) MustEncode() []byte {
	frame, err := p.Encode()
	if err != nil {
		panic(err)
	}
	return frame
}

// String renders the frame bytes in hex for logs.
func (p Packet) String() string {
	frame, err := p.Encode()
	if err != nil {
		return fmt.Sprintf("<invalid packet %s %s: %v>", p.Address(), p.Command, err)
	}
	return HexString(frame)
}

// Decode parses one frame from the start of buf.
//
// The length is checked before any checksum is computed, so Decode never
// reads past buf.
//
// Parameters:
//   - buf: Bytes starting at a candidate STX
//
// Returns:
//   - Packet: Decoded packet (payload is a copy)
//   - int: Number of bytes the frame occupies
//   - error: ErrNoHeader, ErrNeedMoreData or ErrChecksum
func Decode(buf []byte) (Packet, int, error) {
	if len(buf) == 0 {
		return Packet{}, 0, ErrNeedMoreData
	}
	if buf[0] != STX {
		return Packet{}, 0, ErrNoHeader
	}
	if len(buf) < MinFrameSize {
		return Packet{}, 0, ErrNeedMoreData
	}

	length := int(buf[lengthOffset])
	size := MinFrameSize + length
	if len(buf) < size {
		return Packet{}, 0, ErrNeedMoreData
	}

	body := buf[:headerSize+length]
	xor, add := checksums(body)
	gotXor, gotAdd := buf[headerSize+length], buf[headerSize+length+1]
	if xor != gotXor {
		return Packet{}, 0, fmt.Errorf("%w: xor %02X != %02X", ErrChecksum, gotXor, xor)
	}
	if add != gotAdd {
		return Packet{}, 0, fmt.Errorf("%w: add %02X != %02X", ErrChecksum, gotAdd, add)
	}

	p := Packet{
		Kind:    Kind(buf[1]),
		Sub:     SubID(buf[2]),
		Command: Command(buf[3]),
		Data:    bytes.Clone(buf[headerSize : headerSize+length]),
	}
	if p.Data == nil {
		p.Data = []byte{}
	}
	return p, size, nil
}

// checksums computes the xor checksum over body and the add checksum over
// body followed by that xor byte.
func checksums(body []byte) (xor, add byte) {
	for _, b := range body {
		xor ^= b
		add += b
	}
	add += xor
	return xor, add
}

// HexString renders bytes as "F7 0E 01".
func HexString(b []byte) string {
	var sb strings.Builder
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", v)
	}
	return sb.String()
}
