package delay

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/arable-data/chronofuse/internal/fusion"
)

func TestModel_SystematicTerms(t *testing.T) {
	m := NewModel(Profile{
		SensorID:          "gps-1",
		CableDelayNs:      100,
		ProcessingDelayNs: 50,
	})
	// At the reference temperature with no other coefficients, only the
	// systematic delays contribute.
	got := m.PredictDelayNs(0, fusion.EnvironmentalContext{TemperatureC: ReferenceTemperatureC})
	if got != 150 {
		t.Errorf("delay = %v ns, want 150", got)
	}
}

func TestModel_TemperatureTerm(t *testing.T) {
	m := NewModel(Profile{TempCoeffNsPerC: 2})
	got := m.PredictDelayNs(0, fusion.EnvironmentalContext{TemperatureC: 35})
	if math.Abs(got-20) > 1e-9 {
		t.Errorf("temperature term = %v ns, want 20 (10 C above reference)", got)
	}
}

func TestModel_AgingTerm(t *testing.T) {
	epoch := time.Unix(0, 0).UTC()
	m := NewModel(Profile{AgingRateNsPerDay: 1, CalibrationEpoch: epoch})
	// Ten days after the epoch.
	ts := 10 * 86400.0
	got := m.PredictDelayNs(ts, fusion.EnvironmentalContext{TemperatureC: ReferenceTemperatureC})
	if math.Abs(got-10) > 1e-9 {
		t.Errorf("aging term = %v ns, want 10", got)
	}
	// Before the epoch no aging has accumulated.
	got = m.PredictDelayNs(-86400, fusion.EnvironmentalContext{TemperatureC: ReferenceTemperatureC})
	if got != 0 {
		t.Errorf("pre-epoch aging = %v ns, want 0", got)
	}
}

func TestModel_GravitationalTermGrowsWithAltitude(t *testing.T) {
	low := NewModel(Profile{AltitudeM: 0})
	high := NewModel(Profile{AltitudeM: 10000})
	env := fusion.EnvironmentalContext{TemperatureC: ReferenceTemperatureC}
	ts := 86400.0
	if l, h := low.PredictDelayNs(ts, env), high.PredictDelayNs(ts, env); h <= l {
		t.Errorf("dilation at 10 km (%v ns) should exceed sea level (%v ns)", h, l)
	}
}

func TestModel_EffectiveGravityCurvatureCorrection(t *testing.T) {
	// The curvature correction must keep the 10 km term strictly below
	// the uncorrected g*h/c^2 rate.
	alt := 10000.0
	ts := 86400.0
	uncorrected := SurfaceGravityMps2 * alt / (SpeedOfLightMps * SpeedOfLightMps) * ts * 1e9
	m := NewModel(Profile{AltitudeM: alt})
	got := m.PredictDelayNs(ts, fusion.EnvironmentalContext{TemperatureC: ReferenceTemperatureC})
	if got >= uncorrected {
		t.Errorf("curvature-corrected dilation %v ns >= uncorrected %v ns", got, uncorrected)
	}
	if got < 0.99*uncorrected {
		t.Errorf("correction at 10 km should be under 1%%: got %v vs %v", got, uncorrected)
	}
}

func TestModel_EnvironmentalTerms(t *testing.T) {
	m := NewModel(Profile{
		PressureCoeffNsPerHPa: 0.1,
		HumidityCoeffNsPerPct: 0.2,
		MagneticCoeffNsPerUT:  0.3,
		SolarCoeffNsPerSFU:    0.4,
	})
	env := fusion.EnvironmentalContext{
		TemperatureC:    ReferenceTemperatureC,
		PressureHPa:     10,
		HumidityPct:     10,
		MagneticFieldUT: 10,
		SolarFluxSFU:    10,
	}
	got := m.PredictDelayNs(0, env)
	if math.Abs(got-10) > 1e-9 {
		t.Errorf("environmental terms = %v ns, want 10", got)
	}
}

func TestCorrector_ShiftsTimestamps(t *testing.T) {
	loader := staticLoader{profile: Profile{SensorID: "s1", CableDelayNs: 2e8}} // 0.2 s
	c := NewCorrector(loader)
	s := fusion.SensorStream{SensorID: "s1", Measurements: []fusion.Measurement{
		{Timestamp: 1.0, Env: fusion.EnvironmentalContext{TemperatureC: ReferenceTemperatureC}},
	}}
	out, err := c.CorrectStream(context.Background(), s)
	if err != nil {
		t.Fatalf("CorrectStream: %v", err)
	}
	if math.Abs(out.Measurements[0].Timestamp-0.8) > 1e-9 {
		t.Errorf("corrected timestamp = %v, want 0.8", out.Measurements[0].Timestamp)
	}
	// Original untouched.
	if s.Measurements[0].Timestamp != 1.0 {
		t.Error("CorrectStream mutated the input stream")
	}
}

func TestCorrector_MissingCalibration(t *testing.T) {
	c := NewCorrector(staticLoader{err: MissingProfileError("ghost")})
	_, err := c.CorrectStream(context.Background(), fusion.SensorStream{SensorID: "ghost"})
	if !errors.Is(err, fusion.ErrMissingCalibration) {
		t.Fatalf("err = %v, want ErrMissingCalibration", err)
	}
	var se *fusion.SensorError
	if !errors.As(err, &se) || se.SensorID != "ghost" {
		t.Errorf("error should carry the sensor id, got %v", err)
	}
}

type staticLoader struct {
	profile Profile
	err     error
}

func (l staticLoader) LoadProfile(_ context.Context, sensorID string) (Profile, error) {
	if l.err != nil {
		return Profile{}, l.err
	}
	return l.profile, nil
}
