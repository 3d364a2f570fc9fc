package transport

import (
	"fmt"

	"github.com/nerrad567/gray-logic-homenet/internal/infrastructure/config"
)

// NewDialer builds the dialer selected by cfg.Type.
func NewDialer(cfg config.TransportConfig) (Dialer, error) {
	switch cfg.Type {
	case config.TransportSerial:
		return NewSerialDialer(cfg.Port, cfg.BaudRate, cfg.Parity)
	case config.TransportWebSocket:
		return NewWebSocketDialer(cfg.URL, cfg.Username, cfg.Password, cfg.SkipTLSVerify)
	case config.TransportTCP:
		return NewTCPDialer(cfg.URL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTransport, cfg.Type)
	}
}
