package trust

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/arable-data/chronofuse/internal/fusion"
)

var cycleTime = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func TestTracker_SeedsInitialTrust(t *testing.T) {
	tr := NewTracker(DefaultConfig(), nil)
	if got := tr.Trust("soil-01"); got != 0.8 {
		t.Errorf("initial trust = %v, want 0.8", got)
	}
}

func TestTracker_DecayAndFloor(t *testing.T) {
	cfg := DefaultConfig()
	tr := NewTracker(cfg, nil)
	ctx := context.Background()

	// Worst-case consistency of 0 gives severity 1, so each cycle halves
	// trust until the floor holds.
	prev := tr.Trust("gps-01")
	for i := 0; i < 20; i++ {
		got := tr.Observe(ctx, map[string]float64{"gps-01": 0}, 0, cycleTime)
		cur := got["gps-01"]
		if cur > prev {
			t.Fatalf("cycle %d: trust rose during faults: %v -> %v", i, prev, cur)
		}
		if cur < cfg.Floor {
			t.Fatalf("cycle %d: trust %v below floor %v", i, cur, cfg.Floor)
		}
		prev = cur
	}
	if prev != cfg.Floor {
		t.Errorf("after sustained faults trust = %v, want floor %v", prev, cfg.Floor)
	}
	if len(tr.Faults()) != 20 {
		t.Errorf("recorded %d fault events, want 20", len(tr.Faults()))
	}
}

func TestTracker_RecoveryTowardFull(t *testing.T) {
	tr := NewTracker(DefaultConfig(), nil)
	ctx := context.Background()

	// Drive trust down, then feed consistent observations.
	tr.Observe(ctx, map[string]float64{"w-01": 0}, 0, cycleTime)
	low := tr.Trust("w-01")

	prev := low
	for i := 0; i < 200; i++ {
		got := tr.Observe(ctx, map[string]float64{"w-01": 0.95}, 0, cycleTime)
		cur := got["w-01"]
		if cur < prev {
			t.Fatalf("cycle %d: trust fell during recovery: %v -> %v", i, prev, cur)
		}
		if cur > 1 {
			t.Fatalf("cycle %d: trust %v above 1", i, cur)
		}
		prev = cur
	}
	if prev < 0.99 {
		t.Errorf("trust after long recovery = %v, want near 1", prev)
	}
}

func TestTracker_BoundsUnderArbitrarySequences(t *testing.T) {
	cfg := DefaultConfig()
	tr := NewTracker(cfg, nil)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 1000; i++ {
		scores := map[string]float64{
			"a": rng.Float64(),
			"b": rng.Float64(),
			"c": rng.Float64(),
		}
		got := tr.Observe(ctx, scores, 0, cycleTime)
		for id, trust := range got {
			if trust < cfg.Floor || trust > 1 {
				t.Fatalf("cycle %d sensor %s: trust %v outside [%v, 1]", i, id, trust, cfg.Floor)
			}
		}
	}
}

func TestTracker_PerCallThresholdOverride(t *testing.T) {
	tr := NewTracker(DefaultConfig(), nil)
	ctx := context.Background()

	// 0.55 is below the default 0.6 threshold but above an explicit 0.5.
	got := tr.Observe(ctx, map[string]float64{"s": 0.55}, 0.5, cycleTime)
	if got["s"] < 0.8 {
		t.Errorf("trust = %v, want recovery with the lower threshold", got["s"])
	}
	got = tr.Observe(ctx, map[string]float64{"s": 0.55}, 0, cycleTime)
	if got["s"] >= 0.8 {
		t.Errorf("trust = %v, want decay under the default threshold", got["s"])
	}
}

type recordingSink struct {
	trusts int
	faults []FaultEvent
	err    error
}

func (s *recordingSink) SaveTrust(ctx context.Context, sensorID string, score float64) error {
	s.trusts++
	return s.err
}

func (s *recordingSink) SaveFault(ctx context.Context, ev FaultEvent) error {
	s.faults = append(s.faults, ev)
	return s.err
}

func TestTracker_PersistsHistory(t *testing.T) {
	sink := &recordingSink{}
	tr := NewTracker(DefaultConfig(), sink)
	ctx := context.Background()

	tr.Observe(ctx, map[string]float64{"a": 0.1, "b": 0.9}, 0, cycleTime)
	if sink.trusts != 2 {
		t.Errorf("persisted %d trust rows, want 2", sink.trusts)
	}
	if len(sink.faults) != 1 || sink.faults[0].SensorID != "a" {
		t.Errorf("persisted faults = %+v, want one for sensor a", sink.faults)
	}
	if sink.faults[0].Severity <= 0 || sink.faults[0].Severity > 1 {
		t.Errorf("fault severity = %v, want in (0, 1]", sink.faults[0].Severity)
	}
	if sink.faults[0].ID == "" {
		t.Error("fault event missing ID")
	}
}

func TestTracker_SinkFailureIsNotFatal(t *testing.T) {
	sink := &recordingSink{err: context.DeadlineExceeded}
	tr := NewTracker(DefaultConfig(), sink)

	got := tr.Observe(context.Background(), map[string]float64{"a": 0.1}, 0, cycleTime)
	if got["a"] >= 0.8 {
		t.Errorf("trust = %v, want decay applied despite sink failure", got["a"])
	}
}

func TestConsistency_OutlierAttribution(t *testing.T) {
	mk := func(vals ...float64) []fusion.Measurement {
		out := make([]fusion.Measurement, len(vals))
		for i, v := range vals {
			out[i] = fusion.Measurement{
				Timestamp: float64(i),
				Value:     fusion.ScalarValue(v),
				Quality:   fusion.QualityFlags{IsValid: true},
			}
		}
		return out
	}
	aligned := map[string][]fusion.Measurement{
		"good-1":  mk(10.0, 10.0, 10.0),
		"good-2":  mk(10.1, 10.1, 10.1),
		"outlier": mk(50.0, 50.0, 50.0),
	}

	scores := Consistency(aligned)
	if scores["outlier"] >= scores["good-1"] || scores["outlier"] >= scores["good-2"] {
		t.Errorf("outlier score %v not below good sensors %v / %v",
			scores["outlier"], scores["good-1"], scores["good-2"])
	}
	// The outlier agrees with nobody: sim(10, 50) = 0.2 against both.
	if diff := scores["outlier"] - 0.2; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("outlier score = %v, want 0.2", scores["outlier"])
	}
}

func TestConsistency_LoneSensor(t *testing.T) {
	aligned := map[string][]fusion.Measurement{
		"solo": {{Timestamp: 0, Value: fusion.ScalarValue(1)}},
	}
	scores := Consistency(aligned)
	if scores["solo"] != 1 {
		t.Errorf("lone sensor score = %v, want 1", scores["solo"])
	}
}
