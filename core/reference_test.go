package core

import (
	"regexp"
	"testing"
	"time"
)

var referencePattern = regexp.MustCompile(`^[0-9]{8}$`)

func TestReferenceNumber_LastEightDigitsOfMillis(t *testing.T) {
	at := time.UnixMilli(1700000123456)
	if got := ReferenceNumber(at); got != "00123456" {
		t.Fatalf("expected 00123456, got %q", got)
	}
}

func TestReferenceNumber_PadsSmallValues(t *testing.T) {
	if got := ReferenceNumber(time.UnixMilli(42)); got != "00000042" {
		t.Fatalf("expected 00000042, got %q", got)
	}
	if got := ReferenceNumber(time.UnixMilli(0)); got != "00000000" {
		t.Fatalf("expected 00000000, got %q", got)
	}
}

func TestReferenceNumber_AlwaysEightDigits(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 500; i++ {
		at := start.Add(time.Duration(i) * 7919 * time.Millisecond)
		if got := ReferenceNumber(at); !referencePattern.MatchString(got) {
			t.Fatalf("expected 8 digits for %s, got %q", at, got)
		}
	}
	if got := ReferenceNumber(time.UnixMilli(-5)); !referencePattern.MatchString(got) {
		t.Fatalf("expected 8 digits before the epoch, got %q", got)
	}
}
