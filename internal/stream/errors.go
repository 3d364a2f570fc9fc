package stream

import "errors"

// ErrIncomplete is returned by a Decoder when the buffer holds the start of
// a frame but not all of it yet.
var ErrIncomplete = errors.New("stream: incomplete frame")
