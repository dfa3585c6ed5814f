package gsm7

import (
	"reflect"
	"testing"
)

func TestIsBasicString(t *testing.T) {
	if !IsBasicString("Hello, World! \t\r\n") {
		t.Error("expected basic ASCII plus control chars to be basic")
	}
	if IsBasicString("héllo") {
		t.Error("expected accented character to be non-basic")
	}
	if IsBasicString("price: €5") {
		t.Error("euro sign is outside the basic set this codec supports")
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	septets := Septets("Hello")
	packed := Pack(septets)
	want := []byte{0xC8, 0x32, 0x9B, 0xFD, 0x06}
	if !reflect.DeepEqual(packed, want) {
		t.Fatalf("Pack(\"Hello\") = % X, want % X", packed, want)
	}
	unpacked := Unpack(packed, len(septets))
	if !reflect.DeepEqual(unpacked, septets) {
		t.Fatalf("Unpack = % X, want % X", unpacked, septets)
	}
	if Text(unpacked) != "Hello" {
		t.Fatalf("Text(Unpack(Pack(...))) = %q", Text(unpacked))
	}
}

func TestPackAtOverlaysHeader(t *testing.T) {
	udh := []byte{0x05, 0x00, 0x03, 0x42, 0x02, 0x01}
	headerSeptets := (len(udh)*8 + 6) / 7
	septets := Septets("hi")
	packed := PackAt(septets, headerSeptets*7)
	copy(packed, udh)
	if packed[0] != 0x05 || packed[1] != 0x00 || packed[2] != 0x03 {
		t.Fatalf("header overwritten: % X", packed)
	}
}
