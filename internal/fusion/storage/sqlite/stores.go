// Package sqlite implements the fusion engine's persistence contracts over
// the telemetry database: delay calibration profiles, trust score history
// and fault events.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/arable-data/chronofuse/internal/db"
	"github.com/arable-data/chronofuse/internal/fusion/delay"
	"github.com/arable-data/chronofuse/internal/fusion/trust"
)

// ProfileStore persists delay calibration profiles. It implements
// delay.ProfileLoader and delay.ProfileSaver.
type ProfileStore struct {
	db *db.DB
}

// NewProfileStore creates a ProfileStore backed by the given database.
func NewProfileStore(database *db.DB) *ProfileStore {
	return &ProfileStore{db: database}
}

// LoadProfile fetches the calibration profile for a sensor. A sensor with
// no stored profile fails with fusion.ErrMissingCalibration (wrapped), per
// the engine's no-silent-zero-delay policy.
func (s *ProfileStore) LoadProfile(ctx context.Context, sensorID string) (delay.Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT sensor_id, cable_delay_ns, processing_delay_ns,
		       temp_coeff_ns_per_c, aging_rate_ns_per_day,
		       calibration_epoch_ns, altitude_m, frequency_drift_ppb,
		       pressure_coeff_ns_per_hpa, humidity_coeff_ns_per_pct,
		       magnetic_coeff_ns_per_ut, solar_coeff_ns_per_sfu,
		       base_uncertainty_ns
		FROM delay_profiles WHERE sensor_id = ?`, sensorID)

	var p delay.Profile
	var epochNs int64
	err := row.Scan(&p.SensorID, &p.CableDelayNs, &p.ProcessingDelayNs,
		&p.TempCoeffNsPerC, &p.AgingRateNsPerDay,
		&epochNs, &p.AltitudeM, &p.FrequencyDriftPPB,
		&p.PressureCoeffNsPerHPa, &p.HumidityCoeffNsPerPct,
		&p.MagneticCoeffNsPerUT, &p.SolarCoeffNsPerSFU,
		&p.BaseUncertaintyNs)
	if errors.Is(err, sql.ErrNoRows) {
		return delay.Profile{}, delay.MissingProfileError(sensorID)
	}
	if err != nil {
		return delay.Profile{}, fmt.Errorf("load profile %s: %w", sensorID, err)
	}
	if epochNs != 0 {
		p.CalibrationEpoch = time.Unix(0, epochNs).UTC()
	}
	return p, nil
}

// SaveProfile upserts a calibration profile.
func (s *ProfileStore) SaveProfile(ctx context.Context, p delay.Profile) error {
	var epochNs int64
	if !p.CalibrationEpoch.IsZero() {
		epochNs = p.CalibrationEpoch.UnixNano()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delay_profiles (
			sensor_id, cable_delay_ns, processing_delay_ns,
			temp_coeff_ns_per_c, aging_rate_ns_per_day,
			calibration_epoch_ns, altitude_m, frequency_drift_ppb,
			pressure_coeff_ns_per_hpa, humidity_coeff_ns_per_pct,
			magnetic_coeff_ns_per_ut, solar_coeff_ns_per_sfu,
			base_uncertainty_ns, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(sensor_id) DO UPDATE SET
			cable_delay_ns = excluded.cable_delay_ns,
			processing_delay_ns = excluded.processing_delay_ns,
			temp_coeff_ns_per_c = excluded.temp_coeff_ns_per_c,
			aging_rate_ns_per_day = excluded.aging_rate_ns_per_day,
			calibration_epoch_ns = excluded.calibration_epoch_ns,
			altitude_m = excluded.altitude_m,
			frequency_drift_ppb = excluded.frequency_drift_ppb,
			pressure_coeff_ns_per_hpa = excluded.pressure_coeff_ns_per_hpa,
			humidity_coeff_ns_per_pct = excluded.humidity_coeff_ns_per_pct,
			magnetic_coeff_ns_per_ut = excluded.magnetic_coeff_ns_per_ut,
			solar_coeff_ns_per_sfu = excluded.solar_coeff_ns_per_sfu,
			base_uncertainty_ns = excluded.base_uncertainty_ns,
			updated_at = CURRENT_TIMESTAMP`,
		p.SensorID, p.CableDelayNs, p.ProcessingDelayNs,
		p.TempCoeffNsPerC, p.AgingRateNsPerDay,
		epochNs, p.AltitudeM, p.FrequencyDriftPPB,
		p.PressureCoeffNsPerHPa, p.HumidityCoeffNsPerPct,
		p.MagneticCoeffNsPerUT, p.SolarCoeffNsPerSFU,
		p.BaseUncertaintyNs)
	if err != nil {
		return fmt.Errorf("save profile %s: %w", p.SensorID, err)
	}
	return nil
}

// TrustStore persists trust history and fault events. It implements
// trust.HistorySink.
type TrustStore struct {
	db *db.DB
}

// NewTrustStore creates a TrustStore backed by the given database.
func NewTrustStore(database *db.DB) *TrustStore {
	return &TrustStore{db: database}
}

// SaveTrust appends a trust score observation for a sensor.
func (s *TrustStore) SaveTrust(ctx context.Context, sensorID string, score float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trust_history (sensor_id, score) VALUES (?, ?)`,
		sensorID, score)
	if err != nil {
		return fmt.Errorf("save trust %s: %w", sensorID, err)
	}
	return nil
}

// SaveFault records a detected fault event.
func (s *TrustStore) SaveFault(ctx context.Context, ev trust.FaultEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fault_events (event_id, sensor_id, severity, observed_at)
		 VALUES (?, ?, ?, ?)`,
		ev.ID, ev.SensorID, ev.Severity, ev.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("save fault %s: %w", ev.SensorID, err)
	}
	return nil
}

// TrustHistory returns a sensor's most recent trust scores, newest first,
// capped at limit.
func (s *TrustStore) TrustHistory(ctx context.Context, sensorID string, limit int) ([]float64, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT score FROM trust_history WHERE sensor_id = ?
		 ORDER BY id DESC LIMIT ?`, sensorID, limit)
	if err != nil {
		return nil, fmt.Errorf("trust history %s: %w", sensorID, err)
	}
	defer rows.Close()

	var scores []float64
	for rows.Next() {
		var score float64
		if err := rows.Scan(&score); err != nil {
			return nil, fmt.Errorf("trust history %s: %w", sensorID, err)
		}
		scores = append(scores, score)
	}
	return scores, rows.Err()
}

var (
	_ delay.ProfileLoader = (*ProfileStore)(nil)
	_ delay.ProfileSaver  = (*ProfileStore)(nil)
	_ trust.HistorySink   = (*TrustStore)(nil)
)
