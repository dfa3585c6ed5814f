package pdu

import "fmt"

// Kind discriminates the core error taxonomy's PDU-codec-facing faults.
type Kind int

const (
	// KindMalformed indicates a PDU failed a structural check: bad hex,
	// truncated fields, or an impossible length.
	KindMalformed Kind = iota
)

// Fault is the error type returned by this package's parsers. It satisfies
// error and carries a Kind plus a free-text Detail naming the problem; it
// does not record a byte offset.
type Fault struct {
	Kind   Kind
	Detail string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("pdu: malformed: %s", f.Detail)
}

func malformed(format string, args ...interface{}) *Fault {
	return &Fault{Kind: KindMalformed, Detail: fmt.Sprintf(format, args...)}
}
