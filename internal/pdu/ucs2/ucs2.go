// Package ucs2 encodes and decodes the UCS-2 (UTF-16 big-endian) user data
// alphabet used when a message contains characters outside the GSM 7-bit
// basic set.
package ucs2

import "unicode/utf16"

// Encode renders s as big-endian UTF-16 code units.
func Encode(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 0, len(units)*2)
	for _, u := range units {
		out = append(out, byte(u>>8), byte(u))
	}
	return out
}

// Decode reads big-endian UTF-16 code units back into a string. Trailing
// odd bytes are ignored.
func Decode(data []byte) string {
	n := len(data) / 2
	units := make([]uint16, n)
	for i := 0; i < n; i++ {
		units[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return string(utf16.Decode(units))
}
