package stream

import (
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-homenet/internal/eventloop"
)

const (
	// DefaultBufferSize bounds the bytes held while waiting for a frame.
	DefaultBufferSize = 1024

	// DefaultClearDelay is how long a partial frame may sit in the buffer
	// without new bytes before it is discarded.
	DefaultClearDelay = 500 * time.Millisecond
)

// Decoder extracts one frame from the start of buf.
//
// It returns the frame and the number of bytes it occupies, ErrIncomplete
// when more bytes are needed, or any other error when buf does not start
// with a valid frame.
type Decoder[T any] interface {
	Decode(buf []byte) (T, int, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc[T any] func(buf []byte) (T, int, error)

// Decode calls f.
func (f DecoderFunc[T]) Decode(buf []byte) (T, int, error) { return f(buf) }

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Stats counts reassembler events.
type Stats struct {
	Frames    uint64 // frames delivered to the handler
	Skipped   uint64 // bytes skipped while resynchronising
	Overflows uint64 // buffer cleared because a chunk did not fit
	Cleared   uint64 // partial frames discarded by the cleanup timer
}

// Option configures a Reassembler.
type Option func(*options)

type options struct {
	bufferSize int
	clearDelay time.Duration
	logger     Logger
}

// WithBufferSize overrides DefaultBufferSize.
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// WithClearDelay overrides DefaultClearDelay.
func WithClearDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.clearDelay = d
		}
	}
}

// WithLogger sets the logger for overflow and cleanup events.
func WithLogger(l Logger) Option {
	return func(o *options) { o.logger = l }
}

// Reassembler turns chunks of bytes into frames of type T.
type Reassembler[T any] struct {
	queue   eventloop.Queue
	decoder Decoder[T]
	handler func(T)
	opts    options

	buf        []byte
	clearTimer eventloop.Timer

	statsMu sync.Mutex
	stats   Stats
}

// New creates a Reassembler that calls handler for every decoded frame.
//
// Parameters:
//   - queue: Event loop used for the cleanup timer
//   - decoder: Frame decoder
//   - handler: Called on the event loop for every complete frame
func New[T any](queue eventloop.Queue, decoder Decoder[T], handler func(T), opts ...Option) *Reassembler[T] {
	o := options{bufferSize: DefaultBufferSize, clearDelay: DefaultClearDelay}
	for _, opt := range opts {
		opt(&o)
	}
	return &Reassembler[T]{
		queue:   queue,
		decoder: decoder,
		handler: handler,
		opts:    o,
		buf:     make([]byte, 0, o.bufferSize),
	}
}

// Feed appends chunk and delivers every complete frame now in the buffer.
func (r *Reassembler[T]) Feed(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	r.stopClearTimer()

	if len(r.buf)+len(chunk) > r.opts.bufferSize {
		r.count(func(s *Stats) { s.Overflows++ })
		r.warn("stream buffer overflow, dropping buffered bytes",
			"buffered", len(r.buf),
			"incoming", len(chunk),
			"capacity", r.opts.bufferSize,
		)
		r.buf = r.buf[:0]
		if len(chunk) > r.opts.bufferSize {
			chunk = chunk[len(chunk)-r.opts.bufferSize:]
		}
	}
	r.buf = append(r.buf, chunk...)

	r.drain()
}

// Reset drops everything buffered.
func (r *Reassembler[T]) Reset() {
	r.stopClearTimer()
	r.buf = r.buf[:0]
}

// Buffered returns how many bytes are waiting for the rest of a frame.
func (r *Reassembler[T]) Buffered() int { return len(r.buf) }

// Stats returns a snapshot of the event counters.
func (r *Reassembler[T]) Stats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}

func (r *Reassembler[T]) drain() {
	mark := 0
	for mark < len(r.buf) {
		frame, n, err := r.decoder.Decode(r.buf[mark:])
		switch {
		case err == nil && n > 0:
			mark += n
			r.count(func(s *Stats) { s.Frames++ })
			if r.handler != nil {
				r.handler(frame)
			}
		case errors.Is(err, ErrIncomplete):
			r.compact(mark)
			r.armClearTimer()
			return
		default:
			mark++
			r.count(func(s *Stats) { s.Skipped++ })
		}
	}
	r.compact(mark)
}

// compact moves the unread tail to the front of the buffer.
func (r *Reassembler[T]) compact(mark int) {
	if mark == 0 {
		return
	}
	n := copy(r.buf, r.buf[mark:])
	r.buf = r.buf[:n]
}

func (r *Reassembler[T]) armClearTimer() {
	r.clearTimer = r.queue.AfterFunc(r.opts.clearDelay, func() {
		r.clearTimer = nil
		if len(r.buf) == 0 {
			return
		}
		r.count(func(s *Stats) { s.Cleared++ })
		r.debug("stream partial frame discarded", "bytes", len(r.buf))
		r.buf = r.buf[:0]
	})
}

func (r *Reassembler[T]) stopClearTimer() {
	if r.clearTimer != nil {
		r.clearTimer.Stop()
		r.clearTimer = nil
	}
}

func (r *Reassembler[T]) count(fn func(*Stats)) {
	r.statsMu.Lock()
	fn(&r.stats)
	r.statsMu.Unlock()
}

func (r *Reassembler[T]) warn(msg string, args ...any) {
	if r.opts.logger != nil {
		r.opts.logger.Warn(msg, args...)
	}
}

func (r *Reassembler[T]) debug(msg string, args ...any) {
	if r.opts.logger != nil {
		r.opts.logger.Debug(msg, args...)
	}
}
