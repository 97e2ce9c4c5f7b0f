package delay

import (
	"math"

	"github.com/arable-data/chronofuse/internal/fusion"
	"github.com/arable-data/chronofuse/internal/units"
)

// Physical constants for the relativistic term.
const (
	// SpeedOfLightMps is c in metres per second.
	SpeedOfLightMps = 299792458.0
	// SurfaceGravityMps2 is standard gravity at sea level.
	SurfaceGravityMps2 = 9.80665
	// EarthRadiusM is the mean Earth radius used for the curvature
	// correction of effective gravity at altitude.
	EarthRadiusM = 6371000.0
	// ReferenceTemperatureC is the calibration reference temperature.
	ReferenceTemperatureC = 25.0
)

// Model predicts the total observation delay of one sensor from its
// calibration profile and the ambient conditions at measurement time.
// All terms are pure functions of the profile and the inputs.
type Model struct {
	profile Profile
}

// NewModel builds a delay model around a calibration profile.
func NewModel(p Profile) *Model {
	return &Model{profile: p}
}

// Profile returns the profile the model was built from.
func (m *Model) Profile() Profile { return m.profile }

// PredictDelayNs returns the predicted delay in nanoseconds for a
// measurement taken at the given timestamp (seconds) under the given
// environmental conditions.
func (m *Model) PredictDelayNs(timestamp float64, env fusion.EnvironmentalContext) float64 {
	p := m.profile

	d := p.CableDelayNs + p.ProcessingDelayNs
	d += p.TempCoeffNsPerC * (env.TemperatureC - ReferenceTemperatureC)
	d += p.AgingRateNsPerDay * units.DaysSince(p.CalibrationEpoch, timestamp)
	d += gravitationalDilationNs(m.altitudeFor(env), timestamp)
	d += frequencyDriftNs(p.FrequencyDriftPPB, timestamp)
	d += p.PressureCoeffNsPerHPa * env.PressureHPa
	d += p.HumidityCoeffNsPerPct * env.HumidityPct
	d += p.MagneticCoeffNsPerUT * env.MagneticFieldUT
	d += p.SolarCoeffNsPerSFU * env.SolarFluxSFU
	return d
}

// UncertaintyNs reports the model's residual timing uncertainty in
// nanoseconds: the calibration base uncertainty grown by oscillator aging
// since the calibration epoch, evaluated at the given timestamp.
func (m *Model) UncertaintyNs(timestamp float64) float64 {
	p := m.profile
	aging := math.Abs(p.AgingRateNsPerDay) * units.DaysSince(p.CalibrationEpoch, timestamp)
	// Aging contributes at a tenth of its accumulated magnitude: the bias
	// itself is corrected, only its calibration error remains.
	return p.BaseUncertaintyNs + 0.1*aging
}

func (m *Model) altitudeFor(env fusion.EnvironmentalContext) float64 {
	if env.AltitudeM != 0 {
		return env.AltitudeM
	}
	return m.profile.AltitudeM
}

// gravitationalDilationNs is the accumulated clock offset from gravitational
// time dilation at altitude h: rate = g_eff*h/c^2, with g_eff reduced by
// Earth-curvature at h. The rate integrates over the elapsed timestamp.
func gravitationalDilationNs(altitudeM, timestamp float64) float64 {
	gEff := SurfaceGravityMps2 * math.Pow(EarthRadiusM/(EarthRadiusM+altitudeM), 2)
	rate := gEff * altitudeM / (SpeedOfLightMps * SpeedOfLightMps)
	return rate * timestamp * units.NanosPerSecond
}

// frequencyDriftNs converts a parts-per-billion oscillator drift into the
// accumulated offset at the given timestamp.
func frequencyDriftNs(driftPPB, timestamp float64) float64 {
	return driftPPB * 1e-9 * timestamp * units.NanosPerSecond
}
