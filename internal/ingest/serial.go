package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// DefaultBaud is the GRBL default serial speed.
const DefaultBaud = 115200

// serialReadTimeout bounds each port read so cancellation is noticed.
const serialReadTimeout = time.Second

// OpenSerial streams lines from a controller on port. The source never ends
// on its own; cancel ctx to stop it.
func OpenSerial(port string, baud int) (Source, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	p, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", port, err)
	}
	if err := p.SetReadTimeout(serialReadTimeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", port, err)
	}
	return newPortSource(p), nil
}

// SerialPorts lists the serial ports present on this host.
func SerialPorts() ([]string, error) {
	return serial.GetPortsList()
}

// portSource splits a timeout-driven byte stream into lines. A read that
// returns no bytes is a timeout, not end of stream.
type portSource struct {
	port  io.ReadCloser
	buf   []byte
	chunk []byte
}

func newPortSource(p io.ReadCloser) *portSource {
	return &portSource{port: p, chunk: make([]byte, 512)}
}

func (s *portSource) Next(ctx context.Context) (string, error) {
	for {
		if i := bytes.IndexByte(s.buf, '\n'); i >= 0 {
			line := cleanLine(string(s.buf[:i]))
			s.buf = s.buf[i+1:]
			if line == "" {
				continue
			}
			return line, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := s.port.Read(s.chunk)
		if n > 0 {
			s.buf = appendBounded(s.buf, s.chunk[:n])
		}
		if err != nil {
			return "", fmt.Errorf("serial read: %w", err)
		}
	}
}

func (s *portSource) Close() error { return s.port.Close() }

// appendBounded appends p to buf, dropping bytes that would grow the
// unterminated last line past maxLineBytes.
func appendBounded(buf, p []byte) []byte {
	for len(p) > 0 {
		room := maxLineBytes - (len(buf) - (bytes.LastIndexByte(buf, '\n') + 1))
		seg := p
		i := bytes.IndexByte(p, '\n')
		if i >= 0 {
			seg = p[:i]
		}
		if room > 0 {
			buf = append(buf, seg[:min(len(seg), room)]...)
		}
		if i < 0 {
			return buf
		}
		buf = append(buf, '\n')
		p = p[i+1:]
	}
	return buf
}
