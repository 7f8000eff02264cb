package sensor

import (
	"bytes"
	"errors"
	"fmt"
)

const (
	// IdentRequest is sent with RTS asserted to wake the sensor.
	IdentRequest = "K7-MYO6"
	// ExpectedVersion is the only firmware reply accepted.
	ExpectedVersion = "K7-MYO Ver 2.0"

	maxReplyLen = 64
)

// ErrHandshake is returned when the sensor does not identify itself.
var ErrHandshake = errors.New("sensor handshake failed")

// Handshake identifies the sensor: RTS and DTR are cleared, the
// identification string is sent under RTS, then DTR is raised while the
// single reply line is read. The reply must equal ExpectedVersion.
func Handshake(port Port) (string, error) {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"clear rts", func() error { return port.SetRTS(false) }},
		{"clear dtr", func() error { return port.SetDTR(false) }},
		{"flush input", port.ResetInputBuffer},
		{"raise rts", func() error { return port.SetRTS(true) }},
		{"send ident", func() error {
			_, err := port.Write([]byte(IdentRequest))
			return err
		}},
		{"drop rts", func() error { return port.SetRTS(false) }},
		{"raise dtr", func() error { return port.SetDTR(true) }},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrHandshake, s.name, err)
		}
	}
	defer port.SetDTR(false)

	reply, err := readLine(port)
	if err != nil {
		return "", fmt.Errorf("%w: read reply: %w", ErrHandshake, err)
	}
	if reply != ExpectedVersion {
		return reply, fmt.Errorf("%w: unexpected reply %q", ErrHandshake, reply)
	}
	return reply, nil
}

// readLine reads one byte at a time up to a carriage return so that no frame
// data after the reply is consumed.
func readLine(port Port) (string, error) {
	var line bytes.Buffer
	b := make([]byte, 1)
	for line.Len() < maxReplyLen {
		n, err := port.Read(b)
		if n == 1 {
			if b[0] == '\r' || b[0] == '\n' {
				return line.String(), nil
			}
			line.WriteByte(b[0])
			continue
		}
		if err != nil {
			return line.String(), err
		}
		// go.bug.st/serial reports a read timeout as (0, nil).
		return line.String(), errors.New("timeout")
	}
	return line.String(), errors.New("reply too long")
}
