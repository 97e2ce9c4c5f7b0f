// Package units provides shared time and unit conversions for the delay
// model and alignment code.
package units

import "time"

// NanosPerSecond is the ns/s conversion factor as a float, used where
// delay arithmetic stays in float64 nanoseconds.
const NanosPerSecond = 1e9

// SecondsPerDay converts between day-denominated aging rates and
// second-denominated timestamps.
const SecondsPerDay = 86400.0

// NsToSeconds converts float nanoseconds to seconds.
func NsToSeconds(ns float64) float64 { return ns / NanosPerSecond }

// SecondsToNs converts seconds to float nanoseconds.
func SecondsToNs(s float64) float64 { return s * NanosPerSecond }

// MsToSeconds converts milliseconds to seconds.
func MsToSeconds(ms float64) float64 { return ms / 1000 }

// DaysSince returns the elapsed days between a calibration epoch and a
// stream timestamp (seconds since the Unix epoch). Negative spans clamp to
// zero: a timestamp before the calibration epoch has accumulated no aging.
func DaysSince(epoch time.Time, timestamp float64) float64 {
	if epoch.IsZero() {
		return 0
	}
	days := (timestamp - float64(epoch.UnixNano())/NanosPerSecond) / SecondsPerDay
	if days < 0 {
		return 0
	}
	return days
}
