// Package delay implements per-sensor timestamp correction from a physical
// delay model: systematic cable/processing delay plus environmental,
// relativistic and aging terms evaluated against a calibration profile.
package delay

import (
	"context"
	"time"
)

// Profile holds the calibrated delay-model parameters for one sensor.
// Mutated only by recalibration; the model reads it on every correction.
type Profile struct {
	SensorID string `json:"sensor_id"`

	CableDelayNs      float64 `json:"cable_delay_ns"`
	ProcessingDelayNs float64 `json:"processing_delay_ns"`

	// TempCoeffNsPerC scales with the deviation from the 25 C reference.
	TempCoeffNsPerC float64 `json:"temp_coeff_ns_per_c"`

	// AgingRateNsPerDay accumulates since CalibrationEpoch.
	AgingRateNsPerDay float64 `json:"aging_rate_ns_per_day"`

	CalibrationEpoch time.Time `json:"calibration_epoch"`

	// AltitudeM is the installation altitude used for the gravitational
	// time-dilation term when a measurement carries no altitude of its own.
	AltitudeM float64 `json:"altitude_m"`

	// FrequencyDriftPPB is the oscillator drift in parts per billion,
	// applied against the measurement timestamp.
	FrequencyDriftPPB float64 `json:"frequency_drift_ppb"`

	// Environmental sensitivities.
	PressureCoeffNsPerHPa float64 `json:"pressure_coeff_ns_per_hpa"`
	HumidityCoeffNsPerPct float64 `json:"humidity_coeff_ns_per_pct"`
	MagneticCoeffNsPerUT  float64 `json:"magnetic_coeff_ns_per_ut"`
	SolarCoeffNsPerSFU    float64 `json:"solar_coeff_ns_per_sfu"`

	// BaseUncertaintyNs is the residual timing uncertainty of the
	// calibration itself.
	BaseUncertaintyNs float64 `json:"base_uncertainty_ns"`
}

// ProfileLoader fetches calibration profiles from the storage collaborator.
// Implementations return an error wrapping fusion.ErrMissingCalibration when
// no profile exists for the sensor.
type ProfileLoader interface {
	LoadProfile(ctx context.Context, sensorID string) (Profile, error)
}

// ProfileSaver persists recalibrated profiles.
type ProfileSaver interface {
	SaveProfile(ctx context.Context, p Profile) error
}
