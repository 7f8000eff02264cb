// Package sensor talks to the K7-MYO sensor over its serial link: it performs
// the identification handshake, decodes tilt frames and feeds averaged samples
// into the sweep queue.
package sensor

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Baud rates supported by the sensor.
const (
	FastBaud = 230400
	SlowBaud = 115200
)

// Port is the subset of a serial port the sensor link needs. It is satisfied
// by serial.Port and by TestablePort.
type Port interface {
	io.ReadWriteCloser
	SetRTS(bool) error
	SetDTR(bool) error
	ResetInputBuffer() error
}

// PortOptions describes how to open the sensor port.
type PortOptions struct {
	Slow        bool
	ReadTimeout time.Duration
}

// BaudRate returns the selected line rate.
func (o PortOptions) BaudRate() int {
	if o.Slow {
		return SlowBaud
	}
	return FastBaud
}

// SerialMode converts the options into the go.bug.st/serial mode, always 8N1.
func (o PortOptions) SerialMode() *serial.Mode {
	return &serial.Mode{
		BaudRate: o.BaudRate(),
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// Open opens the serial port at path.
func Open(path string, opts PortOptions) (serial.Port, error) {
	port, err := serial.Open(path, opts.SerialMode())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if opts.ReadTimeout > 0 {
		if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("set read timeout: %w", err)
		}
	}
	return port, nil
}

// ListPorts returns the serial ports present on the system.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
