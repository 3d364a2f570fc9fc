package transport

import (
	"context"
	"fmt"
	"io"

	"go.bug.st/serial"
)

// KS X 4506 lines run 8 data bits with one stop bit.
const serialDataBits = 8

// SerialDialer opens a local serial port.
type SerialDialer struct {
	Port string
	Mode serial.Mode

	// open is replaced in tests; nil means serial.Open.
	open func(name string, mode *serial.Mode) (serial.Port, error)
}

// NewSerialDialer builds a dialer for port at baud with the given parity
// ("none", "even" or "odd").
func NewSerialDialer(port string, baud int, parity string) (*SerialDialer, error) {
	if port == "" {
		return nil, fmt.Errorf("%w: empty serial port", ErrInvalidEndpoint)
	}
	if baud <= 0 {
		return nil, fmt.Errorf("%w: baud rate %d", ErrInvalidEndpoint, baud)
	}
	p, err := parseParity(parity)
	if err != nil {
		return nil, err
	}
	return &SerialDialer{
		Port: port,
		Mode: serial.Mode{
			BaudRate: baud,
			DataBits: serialDataBits,
			Parity:   p,
			StopBits: serial.OneStopBit,
		},
	}, nil
}

// Dial opens the port. Opening a local device does not block, so ctx is
// only checked up front.
func (d *SerialDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	open := d.open
	if open == nil {
		open = serial.Open
	}
	mode := d.Mode
	port, err := open(d.Port, &mode)
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", d.Port, err)
	}
	return port, nil
}

// Endpoint returns "serial:<port>@<baud>".
func (d *SerialDialer) Endpoint() string {
	return fmt.Sprintf("serial:%s@%d", d.Port, d.Mode.BaudRate)
}

func parseParity(s string) (serial.Parity, error) {
	switch s {
	case "", "none":
		return serial.NoParity, nil
	case "even":
		return serial.EvenParity, nil
	case "odd":
		return serial.OddParity, nil
	default:
		return serial.NoParity, fmt.Errorf("%w: parity %q", ErrInvalidEndpoint, s)
	}
}

// SerialPorts lists the serial ports present on this machine.
func SerialPorts() ([]string, error) {
	return serial.GetPortsList()
}
