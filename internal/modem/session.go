// Package modem drives one physical modem over a serial port: it runs the
// PDU-mode init sequence, serializes AT+CMGS sends against the continuous
// unsolicited-result-code reader, and turns +CMT/+CDS lines into events for
// the inbound handler and delivery-report reconciler.
package modem

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/Skunkworks-Digital/muxo/internal/pdu"
	"github.com/Skunkworks-Digital/muxo/internal/serialport"
)

// Conn is the narrow transport Session needs; serialport.Port satisfies it.
// Tests substitute an in-memory fake.
type Conn interface {
	Write(b []byte) error
	WriteLine(s string) error
	ReadLine() (string, error)
	Close() error
}

// InboundEvent is emitted for a successfully parsed SMS-DELIVER.
type InboundEvent struct {
	DeviceID int64
	MSISDN   string
	Text     string
}

// DeliveryReportEvent is emitted for a successfully parsed status report.
type DeliveryReportEvent struct {
	DeviceID  int64
	Ref       string
	Status    pdu.Status
	ErrorCode string
}

const (
	idleSleep     = 200 * time.Millisecond
	reconnectWait = 2 * time.Second
)

// Session owns one open serial connection to a modem and serializes command
// exchanges against the continuous URC reader via portMu. The caller
// constructs it with an already-open Conn and drives it with Run.
type Session struct {
	DeviceID int64

	conn   Conn
	log    *slog.Logger
	portMu sync.Mutex
	sendMu sync.Mutex

	Inbound chan InboundEvent
	DLR     chan DeliveryReportEvent
}

// NewSession wraps an already-open connection. Inbound and DLR are
// unbuffered channels the caller must drain concurrently with Run.
func NewSession(deviceID int64, conn Conn, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		DeviceID: deviceID,
		conn:     conn,
		log:      log.With("device", deviceID),
		Inbound:  make(chan InboundEvent),
		DLR:      make(chan DeliveryReportEvent),
	}
}

// Init runs the PDU-mode setup sequence. Must be called once before Run.
func (s *Session) Init(ctx context.Context) error {
	if err := s.command(ctx, "AT+CMGF=0"); err != nil {
		return err
	}
	if err := s.command(ctx, "AT+CNMI=2,2,0,0,0"); err != nil {
		return err
	}
	return nil
}

// command writes an AT command line and drains lines until OK or a
// rejection, ignoring the echo and any blank lines. It returns only the
// outcome; commandLines also returns the non-terminal response lines
// collected in between.
func (s *Session) command(ctx context.Context, line string) error {
	_, err := s.commandLines(ctx, line)
	return err
}

func (s *Session) commandLines(ctx context.Context, line string) ([]string, error) {
	s.portMu.Lock()
	defer s.portMu.Unlock()

	if err := s.conn.WriteLine(line); err != nil {
		return nil, serialIO(err.Error())
	}

	var lines []string
	for {
		resp, err := s.conn.ReadLine()
		if err != nil {
			if serialport.IsTimeout(err) {
				return nil, timeout(line)
			}
			return nil, serialIO(err.Error())
		}
		resp = strings.TrimSpace(resp)
		switch {
		case resp == "", resp == line:
			continue
		case resp == "OK":
			return lines, nil
		case resp == "ERROR", strings.HasPrefix(resp, "+CMS ERROR:"):
			return lines, rejected(resp)
		default:
			lines = append(lines, resp)
		}
	}
}

// Send transmits each segment in order via AT+CMGS and returns the
// modem-assigned reference for each, normalized to two-digit uppercase hex.
// Send fails and aborts on the first segment that is rejected or times out.
func (s *Session) Send(ctx context.Context, segments []pdu.Segment) ([]string, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	refs := make([]string, 0, len(segments))
	for _, seg := range segments {
		ref, err := s.sendSegment(ctx, seg)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (s *Session) sendSegment(ctx context.Context, seg pdu.Segment) (string, error) {
	s.portMu.Lock()
	defer s.portMu.Unlock()

	cmd := fmt.Sprintf("AT+CMGS=%d", seg.TPDULength)
	if err := s.conn.WriteLine(cmd); err != nil {
		return "", serialIO(err.Error())
	}
	// drain the echo / "> " prompt line
	if _, err := s.conn.ReadLine(); err != nil && !serialport.IsTimeout(err) {
		return "", serialIO(err.Error())
	}

	body, err := decodeHexBytes(seg.Hex)
	if err != nil {
		return "", rejected(err.Error())
	}
	if err := s.conn.Write(append(body, 0x1A)); err != nil {
		return "", serialIO(err.Error())
	}

	var ref string
	for {
		resp, err := s.conn.ReadLine()
		if err != nil {
			if serialport.IsTimeout(err) {
				return "", timeout(cmd)
			}
			return "", serialIO(err.Error())
		}
		resp = strings.TrimSpace(resp)
		switch {
		case resp == "":
			continue
		case strings.HasPrefix(resp, "+CMGS:"):
			raw := strings.TrimSpace(strings.TrimPrefix(resp, "+CMGS:"))
			if hexRef, err := pdu.NormalizeRef(raw, 10); err == nil {
				ref = hexRef
			} else {
				ref = strings.ToUpper(raw)
			}
		case resp == "OK":
			return ref, nil
		case resp == "ERROR", strings.HasPrefix(resp, "+CMS ERROR:"):
			return "", rejected(resp)
		default:
			// echo or unrelated chatter; ignore
		}
	}
}

// Run drives the unsolicited-result-code reader until ctx is done or a
// hard I/O error occurs, in which case it returns that error so a
// supervisor can reconnect. It sends InboundEvent/DeliveryReportEvent on
// Inbound/DLR for each parsed URC.
func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := s.readLineLocked()
		if err != nil {
			if serialport.IsTimeout(err) {
				s.fallbackPoll(ctx)
				continue
			}
			return err
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "+CMT:"):
			s.handleDeliver(ctx)
		case strings.HasPrefix(line, "+CDS:"):
			s.handleStatusReport(ctx)
		default:
			// unknown prefix, or echo/chatter; ignored
		}
	}
}

func (s *Session) readLineLocked() (string, error) {
	s.portMu.Lock()
	defer s.portMu.Unlock()
	return s.conn.ReadLine()
}

func (s *Session) handleDeliver(ctx context.Context) {
	pduLine, err := s.readLineLocked()
	if err != nil {
		return
	}
	d, err := pdu.ParseDeliver(strings.TrimSpace(pduLine))
	if err != nil {
		s.log.Warn("discarding unparseable deliver PDU", "error", err)
		return
	}
	ev := InboundEvent{DeviceID: s.DeviceID, MSISDN: d.MSISDN, Text: d.Text}
	select {
	case s.Inbound <- ev:
	case <-ctx.Done():
	}
}

func (s *Session) handleStatusReport(ctx context.Context) {
	pduLine, err := s.readLineLocked()
	if err != nil {
		return
	}
	r, err := pdu.ParseStatusReport(strings.TrimSpace(pduLine))
	if err != nil {
		s.log.Warn("discarding unparseable status report PDU", "error", err)
		return
	}
	ev := DeliveryReportEvent{DeviceID: s.DeviceID, Ref: r.Ref, Status: r.Status, ErrorCode: r.ErrorCode}
	select {
	case s.DLR <- ev:
	case <-ctx.Done():
	}
}

// fallbackPoll is the idle-cycle fallback: issue AT+CMGL=4 so any message
// the modem is holding surfaces as ordinary response lines (ignored here as
// unrecognized prefixes), then pause briefly before the next read cycle.
func (s *Session) fallbackPoll(ctx context.Context) {
	s.portMu.Lock()
	_ = s.conn.WriteLine("AT+CMGL=4")
	s.portMu.Unlock()

	select {
	case <-time.After(idleSleep):
	case <-ctx.Done():
	}
}

// Close releases the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

func decodeHexBytes(hexStr string) ([]byte, error) {
	return hex.DecodeString(hexStr)
}

// Supervisor owns the reconnect loop for one device: it opens the serial
// port, runs Init, then Run, and on any failure closes the port, waits, and
// retries with a capped exponential backoff, until ctx is done.
type Supervisor struct {
	DeviceID int64
	PortName string
	Baud     int
	Log      *slog.Logger

	// OpenPort is overridable for tests; defaults to serialport.Open.
	OpenPort func(name string, baud int, timeout time.Duration) (Conn, error)

	Inbound chan InboundEvent
	DLR     chan DeliveryReportEvent

	mu      sync.Mutex
	current *Session
}

// NewSupervisor constructs a Supervisor whose Inbound/DLR channels are
// shared across reconnects so downstream consumers never need to resubscribe.
func NewSupervisor(deviceID int64, portName string, baud int, log *slog.Logger) *Supervisor {
	return &Supervisor{
		DeviceID: deviceID,
		PortName: portName,
		Baud:     baud,
		Log:      log,
		OpenPort: func(name string, baud int, timeout time.Duration) (Conn, error) {
			return serialport.Open(name, baud, timeout)
		},
		Inbound: make(chan InboundEvent),
		DLR:     make(chan DeliveryReportEvent),
	}
}

// Run blocks, reconnecting indefinitely, until ctx is done.
func (sv *Supervisor) Run(ctx context.Context) {
	b := &backoff.Backoff{Min: reconnectWait, Max: 5 * time.Minute, Factor: 2}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := sv.OpenPort(sv.PortName, sv.Baud, serialport.DefaultReadTimeout)
		if err != nil {
			sv.Log.Warn("modem open failed", "port", sv.PortName, "error", err)
			if !sv.sleep(ctx, b.Duration()) {
				return
			}
			continue
		}

		sess := NewSession(sv.DeviceID, conn, sv.Log)
		sv.setCurrent(sess)

		if err := sess.Init(ctx); err != nil {
			sv.Log.Warn("modem init failed", "port", sv.PortName, "error", err)
			sess.Close()
			if !sv.sleep(ctx, b.Duration()) {
				return
			}
			continue
		}
		b.Reset()

		done := make(chan struct{})
		go sv.pump(ctx, sess, done)

		err = sess.Run(ctx)
		sess.Close()
		<-done

		if err == nil {
			return // ctx was Done
		}
		sv.Log.Warn("modem session ended", "port", sv.PortName, "error", err)
		if !sv.sleep(ctx, b.Duration()) {
			return
		}
	}
}

func (sv *Supervisor) pump(ctx context.Context, sess *Session, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-sess.Inbound:
			if !ok {
				return
			}
			select {
			case sv.Inbound <- ev:
			case <-ctx.Done():
				return
			}
		case ev, ok := <-sess.DLR:
			if !ok {
				return
			}
			select {
			case sv.DLR <- ev:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (sv *Supervisor) setCurrent(s *Session) {
	sv.mu.Lock()
	sv.current = s
	sv.mu.Unlock()
}

// Send dispatches to the currently connected session, if any.
func (sv *Supervisor) Send(ctx context.Context, segments []pdu.Segment) ([]string, error) {
	sv.mu.Lock()
	sess := sv.current
	sv.mu.Unlock()
	if sess == nil {
		return nil, serialIO("device not connected")
	}
	return sess.Send(ctx, segments)
}

func (sv *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
