// Package testutil provides shared fixtures for pipeline tests: compact
// builders for measurements, streams and bundles, plus an in-memory
// profile store.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/arable-data/chronofuse/internal/fusion"
	"github.com/arable-data/chronofuse/internal/fusion/delay"
)

// Scalar builds a valid scalar measurement.
func Scalar(sensorID string, ts, value float64) fusion.Measurement {
	return fusion.Measurement{
		Timestamp:   ts,
		Value:       fusion.ScalarValue(value),
		Uncertainty: 0.1,
		SensorID:    sensorID,
		Quality:     fusion.QualityFlags{IsValid: true},
	}
}

// ScalarStream builds a stream of valid scalar measurements from
// (timestamp, value) pairs.
func ScalarStream(sensorID string, kind fusion.SensorKind, points [][2]float64) fusion.SensorStream {
	s := fusion.SensorStream{SensorID: sensorID, Kind: kind}
	for _, p := range points {
		s.Measurements = append(s.Measurements, Scalar(sensorID, p[0], p[1]))
	}
	return s
}

// Bundle wraps streams into a measurement bundle collected now.
func Bundle(streams ...fusion.SensorStream) fusion.SensorMeasurementBundle {
	return fusion.SensorMeasurementBundle{
		CollectedAt: time.Unix(1700000000, 0).UTC(),
		Streams:     streams,
	}
}

// MemProfileStore is an in-memory delay.ProfileLoader for tests. Sensors
// absent from the map fail with the canonical missing-calibration error.
type MemProfileStore struct {
	Profiles map[string]delay.Profile
}

// NewMemProfileStore seeds a store with zero-delay profiles for the given
// sensor IDs.
func NewMemProfileStore(sensorIDs ...string) *MemProfileStore {
	s := &MemProfileStore{Profiles: make(map[string]delay.Profile)}
	for _, id := range sensorIDs {
		s.Profiles[id] = delay.Profile{SensorID: id}
	}
	return s
}

// LoadProfile implements delay.ProfileLoader.
func (s *MemProfileStore) LoadProfile(_ context.Context, sensorID string) (delay.Profile, error) {
	p, ok := s.Profiles[sensorID]
	if !ok {
		return delay.Profile{}, delay.MissingProfileError(sensorID)
	}
	return p, nil
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertInDelta fails the test when got is not within delta of want.
func AssertInDelta(t *testing.T, got, want, delta float64) {
	t.Helper()
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	if diff > delta {
		t.Errorf("got %v, want %v (+/- %v)", got, want, delta)
	}
}
