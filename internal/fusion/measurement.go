// Package fusion defines the domain types shared by the temporal alignment
// and fusion pipeline, and the Engine that runs the pipeline end to end.
package fusion

import (
	"sort"
	"time"
)

// SensorKind identifies the class of hardware a stream originates from.
// The kind determines the sensor's domain priority in consensus weighting.
type SensorKind string

const (
	SensorGPS            SensorKind = "gps"
	SensorAtomicClock    SensorKind = "atomic_clock"
	SensorWeatherStation SensorKind = "weather_station"
	SensorSatellite      SensorKind = "satellite"
	SensorSoil           SensorKind = "soil"
)

// DomainPriority returns the relative weight a sensor kind carries when
// combined with trust in consensus weighting. Unknown kinds weigh 1.
func (k SensorKind) DomainPriority() float64 {
	switch k {
	case SensorAtomicClock:
		return 1.5
	case SensorGPS:
		return 1.2
	case SensorSatellite:
		return 1.1
	case SensorWeatherStation:
		return 1.0
	case SensorSoil:
		return 0.8
	default:
		return 1.0
	}
}

// EnvironmentalContext captures ambient conditions at measurement time.
// The delay model uses these to evaluate its environmental correction terms.
type EnvironmentalContext struct {
	TemperatureC    float64 `json:"temperature_c"`
	PressureHPa     float64 `json:"pressure_hpa"`
	HumidityPct     float64 `json:"humidity_pct"`
	MagneticFieldUT float64 `json:"magnetic_field_ut"`
	SolarFluxSFU    float64 `json:"solar_flux_sfu"`
	AltitudeM       float64 `json:"altitude_m"`
}

// QualityFlags mark a measurement's validity as assessed upstream.
// Measurements with IsValid=false are treated as absent by the engine.
type QualityFlags struct {
	IsValid   bool   `json:"is_valid"`
	Saturated bool   `json:"saturated,omitempty"`
	Note      string `json:"note,omitempty"`
}

// Measurement is a single timestamped observation from one sensor.
// Immutable after creation; the owning stream never rewrites it in place.
// Timestamp is seconds on the sensor's own clock, monotonic within a stream
// but not synchronised across streams until delay correction runs.
type Measurement struct {
	Timestamp   float64              `json:"timestamp"`
	Value       Value                `json:"value"`
	Uncertainty float64              `json:"uncertainty"`
	SensorID    string               `json:"sensor_id"`
	Env         EnvironmentalContext `json:"env"`
	Quality     QualityFlags         `json:"quality"`

	// TemporalUncertainty is the residual timing uncertainty in seconds
	// after delay correction. Zero until the delay model has run.
	TemporalUncertainty float64 `json:"temporal_uncertainty,omitempty"`

	// AlignmentUncertainty is set on measurements produced by warping a
	// target stream onto a reference timeline.
	AlignmentUncertainty float64 `json:"alignment_uncertainty,omitempty"`
}

// SensorStream is the ordered sequence of measurements for one sensor.
// Raw streams may arrive out of temporal order; consumers that need
// time order call SortedByTime on a working copy.
type SensorStream struct {
	SensorID     string        `json:"sensor_id"`
	Kind         SensorKind    `json:"kind"`
	Measurements []Measurement `json:"measurements"`
}

// SortedByTime returns a copy of the stream's measurements sorted by
// timestamp. The receiver is not modified.
func (s *SensorStream) SortedByTime() []Measurement {
	out := make([]Measurement, len(s.Measurements))
	copy(out, s.Measurements)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}

// Valid returns the stream's measurements with invalid quality flags
// filtered out.
func (s *SensorStream) Valid() []Measurement {
	out := make([]Measurement, 0, len(s.Measurements))
	for _, m := range s.Measurements {
		if m.Quality.IsValid {
			out = append(out, m)
		}
	}
	return out
}

// SensorMeasurementBundle groups the streams submitted for one fusion call,
// tagged with an opaque region key supplied by the caller. The engine never
// interprets the region numerically; it only threads it through to results.
type SensorMeasurementBundle struct {
	Region      string         `json:"region,omitempty"`
	CollectedAt time.Time      `json:"collected_at"`
	Streams     []SensorStream `json:"streams"`
}

// StreamsBySensor returns the bundle's streams keyed by sensor ID, dropping
// streams that have no valid measurements. Duplicate sensor IDs are merged.
func (b *SensorMeasurementBundle) StreamsBySensor() map[string]SensorStream {
	out := make(map[string]SensorStream, len(b.Streams))
	for _, s := range b.Streams {
		valid := s.Valid()
		if len(valid) == 0 {
			continue
		}
		if existing, ok := out[s.SensorID]; ok {
			existing.Measurements = append(existing.Measurements, valid...)
			out[s.SensorID] = existing
			continue
		}
		out[s.SensorID] = SensorStream{SensorID: s.SensorID, Kind: s.Kind, Measurements: valid}
	}
	return out
}
