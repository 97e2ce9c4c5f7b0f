package delay

import (
	"context"
	"fmt"

	"github.com/arable-data/chronofuse/internal/fusion"
	"github.com/arable-data/chronofuse/internal/units"
)

// Corrector applies delay-model timestamp correction to whole streams,
// loading profiles through the storage collaborator.
type Corrector struct {
	loader ProfileLoader
}

// NewCorrector builds a corrector over a profile source.
func NewCorrector(loader ProfileLoader) *Corrector {
	return &Corrector{loader: loader}
}

// CorrectStream returns a copy of the stream with every measurement's
// timestamp shifted back by the predicted delay and its temporal
// uncertainty recorded. A sensor without a profile fails with an error
// wrapping fusion.ErrMissingCalibration; the caller decides whether to
// drop the stream or abort.
func (c *Corrector) CorrectStream(ctx context.Context, s fusion.SensorStream) (fusion.SensorStream, error) {
	profile, err := c.loader.LoadProfile(ctx, s.SensorID)
	if err != nil {
		return fusion.SensorStream{}, &fusion.SensorError{
			SensorID: s.SensorID,
			Stage:    "delay_correction",
			Err:      err,
		}
	}
	model := NewModel(profile)

	out := fusion.SensorStream{SensorID: s.SensorID, Kind: s.Kind}
	out.Measurements = make([]fusion.Measurement, len(s.Measurements))
	for i, m := range s.Measurements {
		delayNs := model.PredictDelayNs(m.Timestamp, m.Env)
		corrected := m
		corrected.Timestamp = m.Timestamp - units.NsToSeconds(delayNs)
		corrected.TemporalUncertainty = units.NsToSeconds(model.UncertaintyNs(m.Timestamp))
		out.Measurements[i] = corrected
	}
	return out, nil
}

// MissingProfileError builds the canonical error for a sensor with no
// stored calibration. Store implementations use it so callers can rely on
// errors.Is(err, fusion.ErrMissingCalibration).
func MissingProfileError(sensorID string) error {
	return fmt.Errorf("sensor %s: %w", sensorID, fusion.ErrMissingCalibration)
}
