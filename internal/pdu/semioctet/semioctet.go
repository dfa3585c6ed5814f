// Package semioctet implements the nibble-swapped BCD-like digit packing
// used for SMS address fields, per 3GPP TS 23.040 section 9.1.2.5.
package semioctet

import (
	"fmt"
	"strings"
)

// TOAInternational and TOAUnknown are the Type-of-Address byte values this
// gateway emits: international numbers (a leading '+') get 0x91, anything
// else gets 0x81 (unknown).
const (
	TOAInternational byte = 0x91
	TOAUnknown       byte = 0x81
)

// Encode splits number into a Type-of-Address byte, the unpadded digit
// count, and the swapped-nibble hex digit string (padded with a trailing
// 'F' if the digit count is odd). number may carry a leading '+' to select
// the international TOA.
func Encode(number string) (toa byte, digitCount int, swapped string) {
	digits := number
	toa = TOAUnknown
	if strings.HasPrefix(number, "+") {
		toa = TOAInternational
		digits = number[1:]
	}
	digitCount = len(digits)
	padded := digits
	if digitCount%2 != 0 {
		padded += "F"
	}
	var b strings.Builder
	for i := 0; i < len(padded); i += 2 {
		b.WriteByte(padded[i+1])
		b.WriteByte(padded[i])
	}
	swapped = b.String()
	return
}

// Decode reverses Encode: given a Type-of-Address byte, the unpadded digit
// count, and the swapped-nibble hex digit string, it reconstructs the
// original number string (with a leading '+' for international numbers).
func Decode(toa byte, digitCount int, swapped string) (string, error) {
	if len(swapped)%2 != 0 {
		return "", fmt.Errorf("semioctet: odd-length swapped field %q", swapped)
	}
	var b strings.Builder
	for i := 0; i < len(swapped); i += 2 {
		b.WriteByte(swapped[i+1])
		b.WriteByte(swapped[i])
	}
	digits := b.String()
	if digitCount < 0 || digitCount > len(digits) {
		return "", fmt.Errorf("semioctet: digit count %d exceeds decoded field %q", digitCount, digits)
	}
	digits = digits[:digitCount]
	if toa&0x70 == 0x10 {
		return "+" + digits, nil
	}
	return digits, nil
}
