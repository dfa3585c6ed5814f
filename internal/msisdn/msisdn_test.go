package msisdn

import "testing"

func TestNormalizePassesThroughE164(t *testing.T) {
	got, err := Normalize("+15551234567", "US")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got != "+15551234567" {
		t.Fatalf("got %s, want +15551234567", got)
	}
}

func TestNormalizeStripsSeparators(t *testing.T) {
	got, err := Normalize("+1 (555) 123-4567", "US")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got != "+15551234567" {
		t.Fatalf("got %s, want +15551234567", got)
	}
}

func TestNormalizeNationalWithTrunkPrefix(t *testing.T) {
	got, err := Normalize("07911123456", "GB")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got != "+447911123456" {
		t.Fatalf("got %s, want +447911123456", got)
	}
}

func TestNormalizeNationalWithoutTrunkPrefix(t *testing.T) {
	got, err := Normalize("5551234567", "US")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got != "+15551234567" {
		t.Fatalf("got %s, want +15551234567", got)
	}
}

func TestNormalizeRejectsBadLength(t *testing.T) {
	if _, err := Normalize("555", "US"); err == nil {
		t.Fatal("expected an error for too-short national number")
	}
}

func TestNormalizeRejectsNonNumeric(t *testing.T) {
	if _, err := Normalize("+1555ABC4567", "US"); err == nil {
		t.Fatal("expected an error for non-numeric input")
	}
}

func TestNormalizeRejectsUnknownRegion(t *testing.T) {
	if _, err := Normalize("5551234567", "ZZ"); err == nil {
		t.Fatal("expected an error for unknown region")
	}
}
