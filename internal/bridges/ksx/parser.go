package ksx

import (
	"errors"

	"github.com/nerrad567/gray-logic-homenet/internal/stream"
)

// FrameDecoder feeds Decode to a stream.Reassembler. A short buffer maps to
// stream.ErrIncomplete; any other failure makes the reassembler skip one
// byte and rescan for STX.
var FrameDecoder = stream.DecoderFunc[Packet](decodeFrame)

func decodeFrame(buf []byte) (Packet, int, error) {
	p, n, err := Decode(buf)
	if errors.Is(err, ErrNeedMoreData) {
		return Packet{}, 0, stream.ErrIncomplete
	}
	return p, n, err
}
