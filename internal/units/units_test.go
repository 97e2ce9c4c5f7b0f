package units

import (
	"math"
	"testing"
	"time"
)

func TestConversions(t *testing.T) {
	if got := NsToSeconds(2.5e8); got != 0.25 {
		t.Errorf("NsToSeconds(2.5e8) = %v, want 0.25", got)
	}
	if got := SecondsToNs(0.25); got != 2.5e8 {
		t.Errorf("SecondsToNs(0.25) = %v, want 2.5e8", got)
	}
	if got := MsToSeconds(5000); got != 5.0 {
		t.Errorf("MsToSeconds(5000) = %v, want 5", got)
	}
	// Round trip.
	if got := NsToSeconds(SecondsToNs(1.234)); math.Abs(got-1.234) > 1e-12 {
		t.Errorf("round trip = %v, want 1.234", got)
	}
}

func TestDaysSince(t *testing.T) {
	epoch := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ts := float64(epoch.Unix()) + 10*SecondsPerDay

	if got := DaysSince(epoch, ts); math.Abs(got-10) > 1e-9 {
		t.Errorf("DaysSince = %v, want 10", got)
	}
	// Timestamps before the epoch have accumulated no aging.
	if got := DaysSince(epoch, float64(epoch.Unix())-SecondsPerDay); got != 0 {
		t.Errorf("DaysSince before epoch = %v, want 0", got)
	}
	// An unset epoch means no aging baseline at all.
	if got := DaysSince(time.Time{}, ts); got != 0 {
		t.Errorf("DaysSince with zero epoch = %v, want 0", got)
	}
}
