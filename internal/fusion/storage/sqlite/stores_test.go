package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/arable-data/chronofuse/internal/db"
	"github.com/arable-data/chronofuse/internal/fusion"
	"github.com/arable-data/chronofuse/internal/fusion/delay"
	"github.com/arable-data/chronofuse/internal/fusion/trust"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "fusion.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}
	return database
}

func TestProfileStore_SaveLoadRoundTrip(t *testing.T) {
	store := NewProfileStore(openTestDB(t))
	ctx := context.Background()

	want := delay.Profile{
		SensorID:              "gps-rooftop",
		CableDelayNs:          125.5,
		ProcessingDelayNs:     2000,
		TempCoeffNsPerC:       0.3,
		AgingRateNsPerDay:     0.01,
		CalibrationEpoch:      time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC),
		AltitudeM:             450,
		FrequencyDriftPPB:     0.002,
		PressureCoeffNsPerHPa: 0.001,
		HumidityCoeffNsPerPct: 0.0005,
		MagneticCoeffNsPerUT:  0.0001,
		SolarCoeffNsPerSFU:    0.00002,
		BaseUncertaintyNs:     50,
	}
	if err := store.SaveProfile(ctx, want); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}

	got, err := store.LoadProfile(ctx, "gps-rooftop")
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if got != want {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestProfileStore_UpsertReplaces(t *testing.T) {
	store := NewProfileStore(openTestDB(t))
	ctx := context.Background()

	p := delay.Profile{SensorID: "clock-1", CableDelayNs: 100}
	if err := store.SaveProfile(ctx, p); err != nil {
		t.Fatalf("first save: %v", err)
	}
	p.CableDelayNs = 250
	if err := store.SaveProfile(ctx, p); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := store.LoadProfile(ctx, "clock-1")
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if got.CableDelayNs != 250 {
		t.Errorf("cable delay = %v, want updated 250", got.CableDelayNs)
	}
}

func TestProfileStore_MissingIsCalibrationError(t *testing.T) {
	store := NewProfileStore(openTestDB(t))

	_, err := store.LoadProfile(context.Background(), "never-calibrated")
	if !errors.Is(err, fusion.ErrMissingCalibration) {
		t.Fatalf("err = %v, want ErrMissingCalibration", err)
	}
	if !strings.Contains(err.Error(), "never-calibrated") {
		t.Errorf("err = %v, want the sensor named", err)
	}
}

func TestTrustStore_HistoryNewestFirst(t *testing.T) {
	store := NewTrustStore(openTestDB(t))
	ctx := context.Background()

	for _, score := range []float64{0.8, 0.4, 0.6} {
		if err := store.SaveTrust(ctx, "soil-7", score); err != nil {
			t.Fatalf("SaveTrust: %v", err)
		}
	}
	if err := store.SaveTrust(ctx, "other", 0.9); err != nil {
		t.Fatalf("SaveTrust other: %v", err)
	}

	got, err := store.TrustHistory(ctx, "soil-7", 10)
	if err != nil {
		t.Fatalf("TrustHistory: %v", err)
	}
	want := []float64{0.6, 0.4, 0.8}
	if len(got) != len(want) {
		t.Fatalf("history = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("history[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	limited, err := store.TrustHistory(ctx, "soil-7", 2)
	if err != nil {
		t.Fatalf("TrustHistory limited: %v", err)
	}
	if len(limited) != 2 || limited[0] != 0.6 {
		t.Errorf("limited history = %v, want newest two", limited)
	}
}

func TestTrustStore_SaveFault(t *testing.T) {
	database := openTestDB(t)
	store := NewTrustStore(database)
	ctx := context.Background()

	ev := trust.FaultEvent{
		ID:        uuid.NewString(),
		SensorID:  "gps-2",
		Severity:  0.7,
		Timestamp: time.Date(2026, 8, 26, 14, 30, 0, 0, time.UTC),
	}
	if err := store.SaveFault(ctx, ev); err != nil {
		t.Fatalf("SaveFault: %v", err)
	}

	var severity float64
	row := database.QueryRowContext(ctx,
		`SELECT severity FROM fault_events WHERE event_id = ?`, ev.ID)
	if err := row.Scan(&severity); err != nil {
		t.Fatalf("read back fault: %v", err)
	}
	if severity != 0.7 {
		t.Errorf("severity = %v, want 0.7", severity)
	}

	// Duplicate event IDs are rejected by the primary key.
	if err := store.SaveFault(ctx, ev); err == nil {
		t.Error("expected duplicate event_id insert to fail")
	}
}

func TestTrustStore_AsHistorySink(t *testing.T) {
	// Wiring check: a tracker persisting through the real store.
	database := openTestDB(t)
	store := NewTrustStore(database)
	tracker := trust.NewTracker(trust.DefaultConfig(), store)

	tracker.Observe(context.Background(),
		map[string]float64{"w-1": 0.1}, 0, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))

	history, err := store.TrustHistory(context.Background(), "w-1", 5)
	if err != nil {
		t.Fatalf("TrustHistory: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history = %v, want one decayed score", history)
	}
	if history[0] >= 0.8 {
		t.Errorf("persisted score = %v, want decayed below initial trust", history[0])
	}
}

func TestMigrateVersion(t *testing.T) {
	database := openTestDB(t)
	version, dirty, err := database.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion: %v", err)
	}
	if dirty {
		t.Error("schema reported dirty after clean migration")
	}
	if version < 2 {
		t.Errorf("version = %d, want at least 2", version)
	}
}
