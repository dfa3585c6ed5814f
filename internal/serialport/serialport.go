// Package serialport is a thin, scoped adapter over a serial port: a
// \r\n-terminated (or timeout-delimited) line reader plus raw-byte write.
// It owns the OS handle for its lifetime and releases it on every exit
// path.
package serialport

import (
	"bufio"
	"errors"
	"fmt"
	"time"

	"github.com/tarm/serial"
)

// Defaults match the configuration this gateway's modem sessions expect:
// 115200 8N1, with a 5 second read timeout so a send's response wait can
// be bounded (see internal/modem).
const (
	DefaultBaud        = 115200
	DefaultReadTimeout = 5 * time.Second
)

// Port is a framed serial transport: Write sends raw bytes, ReadLine reads
// one \r\n-terminated line (or returns a timeout error if the deadline for
// the current read cycle elapses first).
type Port struct {
	name    string
	sp      *serial.Port
	reader  *bufio.Reader
	timeout time.Duration
}

// Open acquires the named serial port at baud 8N1, with the given read
// timeout applied to every ReadLine call. The caller must Close the
// returned Port on every exit path.
func Open(name string, baud int, timeout time.Duration) (*Port, error) {
	if baud == 0 {
		baud = DefaultBaud
	}
	if timeout == 0 {
		timeout = DefaultReadTimeout
	}
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: timeout}
	sp, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, &IOError{Op: "open", Port: name, Err: err}
	}
	return &Port{
		name:    name,
		sp:      sp,
		reader:  bufio.NewReader(sp),
		timeout: timeout,
	}, nil
}

// Name returns the port's configured path, e.g. "/dev/ttyUSB0".
func (p *Port) Name() string { return p.name }

// Write sends raw bytes to the modem.
func (p *Port) Write(b []byte) error {
	if _, err := p.sp.Write(b); err != nil {
		return &IOError{Op: "write", Port: p.name, Err: err}
	}
	return nil
}

// WriteLine sends s followed by \r, the framing the AT command surface
// expects for command lines.
func (p *Port) WriteLine(s string) error {
	return p.Write([]byte(s + "\r"))
}

// ReadLine reads a single \r\n-terminated line, with trailing CR/LF
// stripped. An underlying read timeout surfaces as an *IOError wrapping
// the driver's timeout condition; callers that need to distinguish a bare
// timeout from a harder I/O failure can use IsTimeout.
func (p *Port) ReadLine() (string, error) {
	line, err := p.reader.ReadString('\n')
	if err != nil {
		if len(line) > 0 {
			return trimCRLF(line), nil
		}
		return "", &IOError{Op: "read", Port: p.name, Err: err}
	}
	return trimCRLF(line), nil
}

func trimCRLF(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// Close releases the OS handle. Safe to call more than once.
func (p *Port) Close() error {
	if p.sp == nil {
		return nil
	}
	err := p.sp.Close()
	p.sp = nil
	if err != nil {
		return &IOError{Op: "close", Port: p.name, Err: err}
	}
	return nil
}

// IOError reports a serial open/read/write/close failure.
type IOError struct {
	Op   string
	Port string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("serialport: %s %s: %v", e.Op, e.Port, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// IsTimeout reports whether err indicates the read deadline elapsed
// without a complete line rather than a harder transport failure.
func IsTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		if t, ok := ioErr.Err.(timeouter); ok {
			return t.Timeout()
		}
	}
	return false
}
