package sensor

import (
	"bytes"
	"errors"
	"sync"
)

// ErrPortClosed is returned by TestablePort after Close.
var ErrPortClosed = errors.New("serial port closed")

// LineEvent records a control line change on a TestablePort.
type LineEvent struct {
	Line  string
	Value bool
}

// TestablePort implements Port with scripted reads and recorded writes. It
// stands in for the sensor in tests and in simulation mode.
type TestablePort struct {
	mu sync.Mutex

	// ReadBuffer holds data returned by Read.
	ReadBuffer *bytes.Buffer
	// WriteBuffer captures data written to the port.
	WriteBuffer *bytes.Buffer

	// ReadError is returned by Read once ReadBuffer is drained, if set.
	ReadError error
	// WriteError is returned by Write if set.
	WriteError error
	// LineError is returned by SetRTS and SetDTR if set.
	LineError error

	// Lines records every RTS/DTR change in order.
	Lines []LineEvent
	// WriteRTS records the RTS level at the time of each write.
	WriteRTS []bool

	rts, dtr bool
	closed   bool
}

// NewTestablePort returns a port whose reads return reply.
func NewTestablePort(reply []byte) *TestablePort {
	return &TestablePort{
		ReadBuffer:  bytes.NewBuffer(append([]byte(nil), reply...)),
		WriteBuffer: bytes.NewBuffer(nil),
	}
}

// NewSimulatedSensor returns a port that answers the handshake like a real
// sensor.
func NewSimulatedSensor() *TestablePort {
	return NewTestablePort([]byte(ExpectedVersion + "\r"))
}

func (p *TestablePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPortClosed
	}
	n, err := p.ReadBuffer.Read(b)
	if n == 0 && p.ReadError != nil {
		return 0, p.ReadError
	}
	return n, err
}

func (p *TestablePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPortClosed
	}
	if p.WriteError != nil {
		return 0, p.WriteError
	}
	p.WriteRTS = append(p.WriteRTS, p.rts)
	return p.WriteBuffer.Write(b)
}

func (p *TestablePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *TestablePort) SetRTS(v bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.LineError != nil {
		return p.LineError
	}
	p.rts = v
	p.Lines = append(p.Lines, LineEvent{"rts", v})
	return nil
}

func (p *TestablePort) SetDTR(v bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.LineError != nil {
		return p.LineError
	}
	p.dtr = v
	p.Lines = append(p.Lines, LineEvent{"dtr", v})
	return nil
}

// ResetInputBuffer is a no-op; scripted input is never discarded.
func (p *TestablePort) ResetInputBuffer() error { return nil }

// Closed reports whether Close was called.
func (p *TestablePort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
