// Package pdu implements bit-exact encoding and decoding of 3GPP TS 23.040
// SMS-SUBMIT, SMS-DELIVER and SMS-STATUS-REPORT PDUs, in GSM 7-bit and
// UCS-2, including UDH concatenation for long messages. It is pure
// computation: no I/O, no allocation beyond what a single message needs.
package pdu

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/Skunkworks-Digital/muxo/internal/pdu/gsm7"
	"github.com/Skunkworks-Digital/muxo/internal/pdu/semioctet"
	"github.com/Skunkworks-Digital/muxo/internal/pdu/ucs2"
)

// gsm7SingleLimit and ucs2SingleLimit are the largest message a single
// SUBMIT PDU can carry before segmentation kicks in.
const (
	gsm7SingleLimit = 160
	ucs2SingleLimit = 70
	gsm7ChunkSize   = 153
	ucs2ChunkSize   = 67
)

// Segment is one SMS-SUBMIT PDU, ready to hand to a modem session.
type Segment struct {
	Hex        string // full PDU hex, including the leading "00" (no SMSC)
	TPDULength int    // length in octets, excludes the SMSC length octet
	Index      int    // 1-based position within the message
	Total      int    // total segment count
}

// Encode builds one or more SUBMIT PDUs to deliver text to number. Messages
// that fit a single PDU (160 GSM 7-bit septets, or 70 UCS-2 characters) are
// emitted unsegmented; longer messages are split and concatenated via a
// shared 8-bit reference.
func Encode(number, text string) ([]Segment, error) {
	gsm := gsm7.IsBasicString(text)
	runes := []rune(text)

	var chunks []string
	switch {
	case gsm && len(runes) > gsm7SingleLimit:
		chunks = splitRunes(runes, gsm7ChunkSize)
	case !gsm && len(runes) > ucs2SingleLimit:
		chunks = splitRunes(runes, ucs2ChunkSize)
	default:
		chunks = []string{text}
	}

	multi := len(chunks) > 1
	var ref byte
	if multi {
		var err error
		ref, err = randomRef()
		if err != nil {
			return nil, err
		}
	}

	segments := make([]Segment, len(chunks))
	for i, chunk := range chunks {
		h, err := encodeSegment(number, chunk, gsm, multi, ref, i+1, len(chunks))
		if err != nil {
			return nil, err
		}
		segments[i] = Segment{
			Hex:        h,
			TPDULength: len(h)/2 - 1,
			Index:      i + 1,
			Total:      len(chunks),
		}
	}
	return segments, nil
}

func splitRunes(runes []rune, size int) []string {
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

func randomRef() (byte, error) {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("pdu: generating concatenation reference: %w", err)
	}
	return b[0], nil
}

func encodeSegment(number, text string, gsm, multi bool, ref byte, index, total int) (string, error) {
	toa, addrDigits, swapped := semioctet.Encode(number)

	var firstOctet byte = 0x01
	if multi {
		firstOctet = 0x41
	}

	var dcs byte
	var udl int
	var userData []byte

	if gsm {
		dcs = 0x00
		septets := gsm7.Septets(text)
		if multi {
			udh := []byte{0x05, 0x00, 0x03, ref, byte(total), byte(index)}
			headerSeptets := (len(udh)*8 + 6) / 7
			packed := gsm7.PackAt(septets, headerSeptets*7)
			copy(packed, udh)
			userData = packed
			udl = headerSeptets + len(septets)
		} else {
			userData = gsm7.Pack(septets)
			udl = len(septets)
		}
	} else {
		dcs = 0x08
		body := ucs2.Encode(text)
		if multi {
			udh := []byte{0x05, 0x00, 0x03, ref, byte(total), byte(index)}
			userData = append(append([]byte{}, udh...), body...)
			udl = len(udh) + len(body)
		} else {
			userData = body
			udl = len(body)
		}
	}

	if addrDigits > 0xFF || udl > 0xFF {
		return "", malformed("message too long to address in a single PDU")
	}

	var b strings.Builder
	b.WriteString("00") // no SMSC
	fmt.Fprintf(&b, "%02X", firstOctet)
	b.WriteString("00") // MR, assigned by the modem on send
	fmt.Fprintf(&b, "%02X", addrDigits)
	fmt.Fprintf(&b, "%02X", toa)
	b.WriteString(strings.ToUpper(swapped))
	b.WriteString("00") // PID
	fmt.Fprintf(&b, "%02X", dcs)
	fmt.Fprintf(&b, "%02X", udl)
	b.WriteString(strings.ToUpper(hex.EncodeToString(userData)))
	return b.String(), nil
}

// Deliver is a parsed SMS-DELIVER PDU.
type Deliver struct {
	MSISDN string
	Text   string
}

// ParseDeliver decodes an SMS-DELIVER PDU as received from a modem's +CMT
// URC. It also accepts an SMS-SUBMIT PDU as built by Encode (message type
// 01: a message reference before the address, no SCTS), so the codec's own
// output parses back.
func ParseDeliver(pduHex string) (*Deliver, error) {
	data, err := decodeHex(pduHex)
	if err != nil {
		return nil, err
	}

	pos := 0
	smscLen, pos, err := readByte(data, pos, "smsc length")
	if err != nil {
		return nil, err
	}
	pos += int(smscLen)

	firstOctet, pos, err := readByte(data, pos, "first octet")
	if err != nil {
		return nil, err
	}
	udhi := firstOctet&0x40 != 0
	submit := firstOctet&0x03 == 0x01
	if submit {
		if _, pos, err = readByte(data, pos, "message reference"); err != nil {
			return nil, err
		}
	}

	addrDigits, pos, err := readByte(data, pos, "address length")
	if err != nil {
		return nil, err
	}
	toa, pos, err := readByte(data, pos, "type of address")
	if err != nil {
		return nil, err
	}
	addrBytes := (int(addrDigits) + 1) / 2
	if pos+addrBytes > len(data) {
		return nil, malformed("address field exceeds pdu")
	}
	msisdn, err := semioctet.Decode(toa, int(addrDigits), strings.ToUpper(hex.EncodeToString(data[pos:pos+addrBytes])))
	if err != nil {
		return nil, malformed("address: %v", err)
	}
	pos += addrBytes

	if _, pos, err = readByte(data, pos, "pid"); err != nil {
		return nil, err
	}
	dcs, pos, err := readByte(data, pos, "dcs")
	if err != nil {
		return nil, err
	}
	if !submit {
		if pos+7 > len(data) {
			return nil, malformed("scts exceeds pdu")
		}
		pos += 7 // SCTS, not needed by the core
	}

	udl, pos, err := readByte(data, pos, "udl")
	if err != nil {
		return nil, err
	}
	ud := data[pos:]

	var text string
	if dcs == 0x08 {
		body := ud
		if udhi {
			udhl, _, err := readByte(body, 0, "udhl")
			if err != nil {
				return nil, err
			}
			skip := int(udhl) + 1
			if skip > len(body) {
				return nil, malformed("udh exceeds user data")
			}
			body = body[skip:]
		}
		text = ucs2.Decode(body)
	} else {
		skipSeptets := 0
		if udhi {
			udhl, _, err := readByte(ud, 0, "udhl")
			if err != nil {
				return nil, err
			}
			skipSeptets = ((int(udhl)+1)*8 + 6) / 7
		}
		septets := gsm7.Unpack(ud, int(udl))
		if skipSeptets > len(septets) {
			return nil, malformed("udh septets exceed udl")
		}
		text = gsm7.Text(septets[skipSeptets:])
	}
	text = strings.TrimRight(text, "\x00")

	return &Deliver{MSISDN: msisdn, Text: text}, nil
}

// Status is the delivery state carried by an SMS-STATUS-REPORT PDU.
type Status int

const (
	StatusDelivered Status = iota
	StatusFailed
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StatusReport is a parsed SMS-STATUS-REPORT (CDS) PDU.
type StatusReport struct {
	// Ref is the message reference the report responds to, rendered as a
	// canonical 2-digit uppercase hex string so it compares equal to a
	// session-assigned reference normalized the same way (see
	// internal/modem). Comparisons should parse both sides as base-16
	// unsigned integers rather than relying on string equality, so that
	// leading zeros never cause a spurious mismatch.
	Ref       string
	Status    Status
	ErrorCode string // hex status byte, set only when Status == StatusFailed
}

// ParseStatusReport decodes an SMS-STATUS-REPORT PDU as received from a
// modem's +CDS URC.
func ParseStatusReport(pduHex string) (*StatusReport, error) {
	data, err := decodeHex(pduHex)
	if err != nil {
		return nil, err
	}

	pos := 0
	smscLen, pos, err := readByte(data, pos, "smsc length")
	if err != nil {
		return nil, err
	}
	pos += int(smscLen)

	if _, pos, err = readByte(data, pos, "first octet"); err != nil {
		return nil, err
	}

	mr, pos, err := readByte(data, pos, "message reference")
	if err != nil {
		return nil, err
	}

	addrDigits, pos, err := readByte(data, pos, "address length")
	if err != nil {
		return nil, err
	}
	if _, pos, err = readByte(data, pos, "type of address"); err != nil {
		return nil, err
	}
	addrBytes := (int(addrDigits) + 1) / 2
	if pos+addrBytes > len(data) {
		return nil, malformed("address field exceeds pdu")
	}
	pos += addrBytes

	if pos+14 > len(data) {
		return nil, malformed("scts/discharge time exceeds pdu")
	}
	pos += 14 // SCTS + discharge time, not needed by the core

	status, _, err := readByte(data, pos, "status")
	if err != nil {
		return nil, err
	}

	report := &StatusReport{Ref: fmt.Sprintf("%02X", mr)}
	switch {
	case status < 0x20:
		report.Status = StatusDelivered
	case status >= 0x40:
		report.Status = StatusFailed
		report.ErrorCode = fmt.Sprintf("%02X", status)
	default:
		report.Status = StatusUnknown
	}
	return report, nil
}

// NormalizeRef renders a message reference (in any base the caller knows
// it to be in) as the canonical hex form used for comparisons.
func NormalizeRef(ref string, base int) (string, error) {
	n, err := strconv.ParseUint(ref, base, 8)
	if err != nil {
		return "", fmt.Errorf("pdu: reference %q is not base-%d: %w", ref, base, err)
	}
	return fmt.Sprintf("%02X", n), nil
}

// RefsEqual reports whether two reference strings denote the same message
// reference, comparing as unsigned integers (base 16, the canonical form
// this package and the modem session both use) so leading zeros never
// cause a spurious mismatch. Refs that fail to parse as numbers fall back
// to exact string comparison.
func RefsEqual(a, b string) bool {
	na, erra := strconv.ParseUint(a, 16, 64)
	nb, errb := strconv.ParseUint(b, 16, 64)
	if erra == nil && errb == nil {
		return na == nb
	}
	return a == b
}

func decodeHex(s string) ([]byte, error) {
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, malformed("invalid hex: %v", err)
	}
	if len(data) == 0 {
		return nil, malformed("empty pdu")
	}
	return data, nil
}

func readByte(data []byte, pos int, field string) (byte, int, error) {
	if pos >= len(data) {
		return 0, pos, malformed("truncated before %s", field)
	}
	return data[pos], pos + 1, nil
}
