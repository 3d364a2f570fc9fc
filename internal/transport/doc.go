// Package transport carries raw KS X 4506 bytes between the protocol
// engine and the RS-485 line.
//
// The line is reached one of three ways:
//   - serial: a local USB/RS-485 adapter (go.bug.st/serial)
//   - websocket: a remote serial bridge exchanging binary messages
//   - tcp: a serial-to-ethernet converter in raw socket mode
//
// A Link owns one connection at a time. It dials, pumps received bytes to
// its Handler and reconnects with exponential backoff when the connection
// drops, until Stop is called.
//
// Usage:
//
//	dialer, err := transport.NewDialer(cfg.KSX.Transport)
//	if err != nil {
//	    return err
//	}
//	link := transport.NewLink(transport.LinkConfig{Dialer: dialer, Handler: h})
//	link.Start(ctx)
//	defer link.Stop()
package transport
