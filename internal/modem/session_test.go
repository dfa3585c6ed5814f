package modem

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skunkworks-Digital/muxo/internal/pdu"
)

// fakeConn implements Conn with a scripted queue of lines to return from
// ReadLine, and records everything written to it.
type fakeConn struct {
	lines   []string
	written [][]byte
	closed  bool
}

func (f *fakeConn) Write(b []byte) error {
	f.written = append(f.written, append([]byte(nil), b...))
	return nil
}

func (f *fakeConn) WriteLine(s string) error {
	return f.Write([]byte(s + "\r"))
}

func (f *fakeConn) ReadLine() (string, error) {
	if len(f.lines) == 0 {
		return "", errTimeout{}
	}
	line := f.lines[0]
	f.lines = f.lines[1:]
	return line, nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

type errTimeout struct{}

func (errTimeout) Error() string { return "timeout" }
func (errTimeout) Timeout() bool { return true }

func TestSessionInitSendsExpectedCommands(t *testing.T) {
	conn := &fakeConn{lines: []string{"OK", "OK"}}
	s := NewSession(1, conn, nil)
	err := s.Init(context.Background())
	require.NoError(t, err)
	require.Len(t, conn.written, 2)
	assert.Equal(t, "AT+CMGF=0\r", string(conn.written[0]))
	assert.Equal(t, "AT+CNMI=2,2,0,0,0\r", string(conn.written[1]))
}

func TestSessionInitRejected(t *testing.T) {
	conn := &fakeConn{lines: []string{"ERROR"}}
	s := NewSession(1, conn, nil)
	err := s.Init(context.Background())
	require.Error(t, err)
	var f *Fault
	require.True(t, errors.As(err, &f))
	assert.Equal(t, KindModemRejected, f.Kind)
}

func TestSessionSendReturnsRef(t *testing.T) {
	conn := &fakeConn{lines: []string{
		"", // echo/prompt drain
		"+CMGS: 42",
		"OK",
	}}
	s := NewSession(1, conn, nil)
	seg := pdu.Segment{Hex: "0001000B915155214365F7000005C8329BFD06", TPDULength: 19, Index: 1, Total: 1}
	refs, err := s.Send(context.Background(), []pdu.Segment{seg})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "2A", refs[0])
}

func TestSessionSendRejected(t *testing.T) {
	conn := &fakeConn{lines: []string{
		"",
		"+CMS ERROR: 500",
	}}
	s := NewSession(1, conn, nil)
	seg := pdu.Segment{Hex: "0001000B915155214365F7000005C8329BFD06", TPDULength: 19}
	_, err := s.Send(context.Background(), []pdu.Segment{seg})
	require.Error(t, err)
	var f *Fault
	require.True(t, errors.As(err, &f))
	assert.Equal(t, KindModemRejected, f.Kind)
}

func TestSessionRunDispatchesDeliver(t *testing.T) {
	// Hand-built DELIVER PDU (no SMSC, first octet 04, OA
	// "+15551234567", GSM7 "Hello" packed as C8 32 9B FD 06, the same
	// bytes the codec's own round-trip test verifies).
	pduHex := "00" + "04" + "0B" + "91" + "5155214365F7" +
		"00" + "00" + "00000000000000" + "05" + "C8329BFD06"
	conn := &fakeConn{lines: []string{
		"+CMT: ,23",
		pduHex,
	}}
	s := NewSession(1, conn, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case ev := <-s.Inbound:
		assert.Equal(t, int64(1), ev.DeviceID)
		assert.Equal(t, "+15551234567", ev.MSISDN)
		assert.Equal(t, "Hello", ev.Text)
	case <-time.After(time.Second):
		t.Fatal("expected an inbound event")
	}
	cancel()
	<-done
}

func TestSessionRunDispatchesStatusReport(t *testing.T) {
	pduHex := "00" + "06" + "2A" + "0B" + "91" + "5155214365F7" +
		"00000000000000" + "00000000000000" + "00"
	conn := &fakeConn{lines: []string{
		"+CDS: 25",
		pduHex,
	}}
	s := NewSession(1, conn, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case ev := <-s.DLR:
		assert.Equal(t, "2A", ev.Ref)
		assert.Equal(t, pdu.StatusDelivered, ev.Status)
	case <-time.After(time.Second):
		t.Fatal("expected a delivery report event")
	}
	cancel()
	<-done
}
