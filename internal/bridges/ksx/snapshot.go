package ksx

import (
	"context"
	"fmt"
)

// onLoop runs fn on the event loop and waits for it to finish or for ctx
// to end. fn must not block.
func (n *Network) onLoop(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	n.queue.Post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for event loop: %w", ctx.Err())
	}
}

// Snapshot returns the state of every real device ordered by address.
//
// Thread Safety: may be called from any goroutine; the read runs on the
// event loop.
//
// Parameters:
//   - ctx: Cancels the wait for the loop
//
// Returns:
//   - []StateMessage: One entry per device
//   - error: If ctx ends before the loop ran the read
func (n *Network) Snapshot(ctx context.Context) ([]StateMessage, error) {
	var out []StateMessage
	err := n.onLoop(ctx, func() {
		devices := n.Devices()
		out = make([]StateMessage, 0, len(devices))
		for _, dc := range devices {
			out = append(out, NewStateMessage(dc, nil))
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeviceState returns the state of the device at addr.
//
// Thread Safety: may be called from any goroutine.
//
// Returns:
//   - StateMessage: Current properties of the device
//   - error: ErrDeviceNotFound if addr holds no real device
func (n *Network) DeviceState(ctx context.Context, addr Address) (StateMessage, error) {
	var (
		msg   StateMessage
		found bool
	)
	err := n.onLoop(ctx, func() {
		dc, ok := n.Device(addr)
		if !ok {
			return
		}
		msg, found = NewStateMessage(dc, nil), true
	})
	if err != nil {
		return StateMessage{}, err
	}
	if !found {
		return StateMessage{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, addr)
	}
	return msg, nil
}

// Refresh asks the device at addr to report its state. The answer arrives
// through the listener like any other status response.
//
// Thread Safety: may be called from any goroutine.
func (n *Network) Refresh(ctx context.Context, addr Address) error {
	found := false
	err := n.onLoop(ctx, func() {
		if dc, ok := n.Device(addr); ok {
			dc.RequestUpdate()
			found = true
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, addr)
	}
	return nil
}
