// Package msisdn normalizes phone numbers to E.164 using a small built-in
// table of country calling codes and national trunk prefixes. It covers the
// regions this gateway is configured for via DEFAULT_REGION; it is not a
// general phone-number library (see DESIGN.md for why no such dependency is
// wired in here).
package msisdn

import (
	"fmt"
	"strings"
)

// region describes a single ISO country's calling code and the national
// trunk prefix to strip before prepending it.
type region struct {
	callingCode string
	trunkPrefix string
	nationalLen int // expected length of the national significant number
}

var regions = map[string]region{
	"US": {callingCode: "1", trunkPrefix: "1", nationalLen: 10},
	"CA": {callingCode: "1", trunkPrefix: "1", nationalLen: 10},
	"GB": {callingCode: "44", trunkPrefix: "0", nationalLen: 10},
	"DE": {callingCode: "49", trunkPrefix: "0", nationalLen: 10},
	"FR": {callingCode: "33", trunkPrefix: "0", nationalLen: 9},
	"AU": {callingCode: "61", trunkPrefix: "0", nationalLen: 9},
	"IN": {callingCode: "91", trunkPrefix: "0", nationalLen: 10},
	"NG": {callingCode: "234", trunkPrefix: "0", nationalLen: 10},
}

// Normalize converts raw into E.164 ("+" followed by 7-15 digits). raw
// already in "+<digits>" form is validated and passed through (after
// stripping separators); otherwise it is interpreted as a national number in
// defaultRegion.
func Normalize(raw, defaultRegion string) (string, error) {
	cleaned := stripSeparators(raw)
	if cleaned == "" {
		return "", fmt.Errorf("msisdn: empty number")
	}

	if strings.HasPrefix(cleaned, "+") {
		digits := cleaned[1:]
		if !isDigits(digits) {
			return "", fmt.Errorf("msisdn: %q is not numeric", raw)
		}
		if len(digits) < 7 || len(digits) > 15 {
			return "", fmt.Errorf("msisdn: %q has an invalid length", raw)
		}
		return "+" + digits, nil
	}

	if !isDigits(cleaned) {
		return "", fmt.Errorf("msisdn: %q is not numeric", raw)
	}

	r, ok := regions[strings.ToUpper(defaultRegion)]
	if !ok {
		return "", fmt.Errorf("msisdn: unknown default region %q", defaultRegion)
	}

	national := strings.TrimPrefix(cleaned, r.trunkPrefix)
	if len(national) != r.nationalLen {
		return "", fmt.Errorf("msisdn: %q is not a %d-digit national number in region %s", raw, r.nationalLen, defaultRegion)
	}
	return "+" + r.callingCode + national, nil
}

func stripSeparators(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for _, r := range s {
		switch r {
		case ' ', '-', '(', ')', '.':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
