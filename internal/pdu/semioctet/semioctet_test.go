package semioctet

import "testing"

func TestEncodeInternationalOddLength(t *testing.T) {
	toa, n, swapped := Encode("+15551234567")
	if toa != TOAInternational {
		t.Fatalf("toa = %#x, want international", toa)
	}
	if n != 11 {
		t.Fatalf("digit count = %d, want 11", n)
	}
	if swapped != "5155214365F7" {
		t.Fatalf("swapped = %s, want 5155214365F7", swapped)
	}
}

func TestEncodeUnknownEvenLength(t *testing.T) {
	toa, n, swapped := Encode("1555123456")
	if toa != TOAUnknown {
		t.Fatalf("toa = %#x, want unknown", toa)
	}
	if n != 10 {
		t.Fatalf("digit count = %d, want 10", n)
	}
	if swapped != "5155214365" {
		t.Fatalf("swapped = %s, want 5155214365", swapped)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, number := range []string{"+15551234567", "15551234567", "+447911123456", "123"} {
		toa, n, swapped := Encode(number)
		got, err := Decode(toa, n, swapped)
		if err != nil {
			t.Fatalf("Decode(%s): %v", number, err)
		}
		if got != number {
			t.Fatalf("round trip: got %s, want %s", got, number)
		}
	}
}
