package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// defaultReconnectInterval is the initial delay between reconnection attempts.
	defaultReconnectInterval = 5 * time.Second

	// maxReconnectInterval is the maximum delay between reconnection attempts.
	maxReconnectInterval = 2 * time.Minute

	// defaultDialTimeout bounds a single dial attempt.
	defaultDialTimeout = 15 * time.Second

	// readBufferSize is the size of the read buffer for incoming bytes.
	readBufferSize = 256

	// backoffFactor is the multiplier applied after each failed attempt.
	backoffFactor = 1.5
)

// Dialer opens a connection to the line.
type Dialer interface {
	// Dial opens a new connection. It must honour ctx cancellation.
	Dial(ctx context.Context) (io.ReadWriteCloser, error)

	// Endpoint describes where the dialer connects, for logs and health.
	Endpoint() string
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (io.ReadWriteCloser, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (io.ReadWriteCloser, error) { return f(ctx) }

// Endpoint returns a fixed description.
func (f DialerFunc) Endpoint() string { return "func" }

// Handler receives link events. Calls come from the link's goroutine and
// never overlap.
type Handler interface {
	// LinkUp is called after a connection is established. w writes to the
	// live connection and stays valid across reconnects.
	LinkUp(w io.Writer)

	// LinkData is called with each chunk read. p is only valid for the
	// duration of the call.
	LinkData(p []byte)

	// LinkDown is called when an established connection is lost.
	LinkDown(err error)
}

// Logger interface for optional logging support.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// LinkConfig holds the dependencies and tuning of a Link.
type LinkConfig struct {
	Dialer  Dialer
	Handler Handler

	// ReconnectInterval is the initial delay between reconnection attempts.
	// Default: 5s. The delay grows by 1.5x per failure up to 2 minutes.
	ReconnectInterval time.Duration

	// DialTimeout bounds a single dial attempt. Default: 15s.
	DialTimeout time.Duration

	Logger Logger
}

// LinkStats holds link counters.
type LinkStats struct {
	Connected   bool
	BytesRx     uint64
	BytesTx     uint64
	Connects    uint64
	Disconnects uint64
	DialErrors  uint64
	WriteErrors uint64
}

// Link keeps one connection to the line open and reconnects on failure.
//
// Thread Safety:
//   - Write, IsConnected and Stats are safe for concurrent use.
//   - Start and Stop may each be called once.
type Link struct {
	cfg LinkConfig

	connMu sync.Mutex
	conn   io.ReadWriteCloser

	// writeMu serialises writes; websocket connections forbid concurrent writers.
	writeMu sync.Mutex

	bytesRx     atomic.Uint64
	bytesTx     atomic.Uint64
	connects    atomic.Uint64
	disconnects atomic.Uint64
	dialErrors  atomic.Uint64
	writeErrors atomic.Uint64

	done     chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewLink creates a link. Call Start to begin dialing.
func NewLink(cfg LinkConfig) *Link {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	return &Link{cfg: cfg, done: make(chan struct{})}
}

// Endpoint returns the dialer's endpoint description.
func (l *Link) Endpoint() string { return l.cfg.Dialer.Endpoint() }

// Start begins dialing in the background. It returns immediately; the first
// connection failure is retried like any later one.
func (l *Link) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	go l.run(ctx)
}

// Stop closes the current connection and waits for the link goroutine.
func (l *Link) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
		if l.cancel != nil {
			l.cancel()
		}
		l.closeConn()
	})
	l.wg.Wait()
}

// Write sends p on the live connection.
func (l *Link) Write(p []byte) (int, error) {
	l.connMu.Lock()
	conn := l.conn
	l.connMu.Unlock()
	if conn == nil {
		return 0, ErrNotConnected
	}

	l.writeMu.Lock()
	n, err := conn.Write(p)
	l.writeMu.Unlock()
	l.bytesTx.Add(uint64(n)) //nolint:gosec // n is never negative
	if err != nil {
		l.writeErrors.Add(1)
		l.logError("transport write failed", err)
		// Closing forces the read loop to notice and reconnect.
		l.closeConn()
		return n, err
	}
	return n, nil
}

// IsConnected reports whether a connection is up.
func (l *Link) IsConnected() bool {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	return l.conn != nil
}

// Stats returns a snapshot of the link counters.
func (l *Link) Stats() LinkStats {
	return LinkStats{
		Connected:   l.IsConnected(),
		BytesRx:     l.bytesRx.Load(),
		BytesTx:     l.bytesTx.Load(),
		Connects:    l.connects.Load(),
		Disconnects: l.disconnects.Load(),
		DialErrors:  l.dialErrors.Load(),
		WriteErrors: l.writeErrors.Load(),
	}
}

func (l *Link) run(ctx context.Context) {
	defer l.wg.Done()

	backoff := l.cfg.ReconnectInterval
	for {
		if l.isClosed() {
			return
		}

		conn, err := l.dial(ctx)
		if err != nil {
			l.dialErrors.Add(1)
			l.logError("transport dial failed", err, "endpoint", l.Endpoint(), "backoff", backoff.String())
			if backoff = l.waitBackoff(backoff); backoff == 0 {
				return
			}
			continue
		}

		if !l.setConn(conn) {
			conn.Close()
			return
		}
		backoff = l.cfg.ReconnectInterval
		l.connects.Add(1)
		l.logInfo("transport connected", "endpoint", l.Endpoint())
		l.cfg.Handler.LinkUp(l)

		err = l.readLoop(conn)

		l.closeConn()
		l.disconnects.Add(1)
		l.cfg.Handler.LinkDown(err)
		if l.isClosed() {
			return
		}
		l.logError("transport connection lost", err, "endpoint", l.Endpoint())
		if backoff = l.waitBackoff(backoff); backoff == 0 {
			return
		}
	}
}

func (l *Link) dial(ctx context.Context) (io.ReadWriteCloser, error) {
	dialCtx, cancel := context.WithTimeout(ctx, l.cfg.DialTimeout)
	defer cancel()
	return l.cfg.Dialer.Dial(dialCtx)
}

func (l *Link) readLoop(conn io.Reader) error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			l.bytesRx.Add(uint64(n)) //nolint:gosec // n is never negative
			l.cfg.Handler.LinkData(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
}

// waitBackoff sleeps for backoff and returns the next delay, or 0 if the
// link was stopped meanwhile.
func (l *Link) waitBackoff(backoff time.Duration) time.Duration {
	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-l.done:
		return 0
	case <-timer.C:
	}
	next := time.Duration(float64(backoff) * backoffFactor)
	if next > maxReconnectInterval {
		next = maxReconnectInterval
	}
	return next
}

// setConn installs conn unless the link has been stopped.
func (l *Link) setConn(conn io.ReadWriteCloser) bool {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.isClosed() {
		return false
	}
	l.conn = conn
	return true
}

func (l *Link) closeConn() {
	l.connMu.Lock()
	conn := l.conn
	l.conn = nil
	l.connMu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (l *Link) isClosed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *Link) logInfo(msg string, args ...any) {
	if l.cfg.Logger != nil {
		l.cfg.Logger.Info(msg, args...)
	}
}

func (l *Link) logError(msg string, err error, args ...any) {
	if l.cfg.Logger != nil {
		l.cfg.Logger.Error(msg, append([]any{"error", err}, args...)...)
	}
}
