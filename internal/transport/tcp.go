package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
)

// TCPDialer connects to a serial-to-ethernet converter in raw socket mode.
type TCPDialer struct {
	Address string
}

// NewTCPDialer accepts "tcp://host:port" or a bare "host:port".
func NewTCPDialer(rawURL string) (*TCPDialer, error) {
	addr := rawURL
	if strings.Contains(rawURL, "://") {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
		}
		if u.Scheme != "tcp" {
			return nil, fmt.Errorf("%w: unsupported URL scheme %q (use tcp://)", ErrInvalidEndpoint, u.Scheme)
		}
		addr = u.Host
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	return &TCPDialer{Address: addr}, nil
}

// Dial opens the socket.
func (d *TCPDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return nil, fmt.Errorf("dial tcp://%s: %w", d.Address, err)
	}
	return conn, nil
}

// Endpoint returns "tcp://host:port".
func (d *TCPDialer) Endpoint() string { return "tcp://" + d.Address }
