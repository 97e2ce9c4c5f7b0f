// Package trust tracks per-sensor reliability scores. Scores decay
// multiplicatively when cross-sensor consistency checks fail and recover
// slowly while a sensor stays consistent. The tracker is the single owner
// of trust state: all mutation happens under its lock so consensus
// weighting never reads half-updated values.
package trust

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arable-data/chronofuse/internal/config"
	"github.com/arable-data/chronofuse/internal/monitoring"
)

// FaultEvent records one detected consistency fault.
type FaultEvent struct {
	ID        string    `json:"id"`
	SensorID  string    `json:"sensor_id"`
	Severity  float64   `json:"severity"` // in (0, 1]
	Timestamp time.Time `json:"timestamp"`
}

// HistorySink persists trust scores and fault events for diagnostics.
// Persistence failures are logged, never fatal to a fusion cycle.
type HistorySink interface {
	SaveTrust(ctx context.Context, sensorID string, score float64) error
	SaveFault(ctx context.Context, event FaultEvent) error
}

// Config tunes decay and recovery behaviour.
type Config struct {
	// InitialTrust seeds sensors never seen before.
	InitialTrust float64
	// LearningRate scales multiplicative decay: trust *= 1 - severity*rate.
	LearningRate float64
	// Floor is the minimum trust; strictly positive so a faulted sensor
	// can recover.
	Floor float64
	// RecoveryRate moves trust toward 1.0 on each fault-free observation.
	RecoveryRate float64
	// ConsistencyThreshold is the mean pairwise similarity below which a
	// sensor is faulted.
	ConsistencyThreshold float64
}

// DefaultConfig returns the tracker defaults used when the tuning file
// provides no overrides.
func DefaultConfig() Config {
	return Config{
		InitialTrust:         0.8,
		LearningRate:         0.5,
		Floor:                0.05,
		RecoveryRate:         0.05,
		ConsistencyThreshold: 0.6,
	}
}

// ConfigFromTuning builds a tracker Config from a loaded tuning file.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		InitialTrust:         cfg.GetTrustInitial(),
		LearningRate:         cfg.GetTrustLearningRate(),
		Floor:                cfg.GetTrustFloor(),
		RecoveryRate:         cfg.GetTrustRecoveryRate(),
		ConsistencyThreshold: cfg.GetByzantineFaultThreshold(),
	}
}

// Tracker owns the trust scores. Safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	cfg    Config
	scores map[string]float64
	faults []FaultEvent
	sink   HistorySink // optional
}

// NewTracker builds a tracker. sink may be nil to disable persistence.
func NewTracker(cfg Config, sink HistorySink) *Tracker {
	if cfg.InitialTrust <= 0 || cfg.InitialTrust > 1 {
		cfg.InitialTrust = DefaultConfig().InitialTrust
	}
	if cfg.Floor <= 0 {
		cfg.Floor = DefaultConfig().Floor
	}
	return &Tracker{
		cfg:    cfg,
		scores: make(map[string]float64),
		sink:   sink,
	}
}

// Trust returns the current score for a sensor, seeding unknown sensors
// with the configured initial trust.
func (t *Tracker) Trust(sensorID string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trustLocked(sensorID)
}

// Snapshot returns a copy of all current scores.
func (t *Tracker) Snapshot() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]float64, len(t.scores))
	for k, v := range t.scores {
		out[k] = v
	}
	return out
}

// Faults returns a copy of the fault events recorded so far.
func (t *Tracker) Faults() []FaultEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]FaultEvent, len(t.faults))
	copy(out, t.faults)
	return out
}

// Observe evaluates one fusion cycle's consistency scores and updates
// trust in a single critical section. consistency maps sensor ID to its
// mean pairwise similarity with the other reporting sensors; threshold is
// the per-call fault threshold (non-positive falls back to the tracker's
// configured one); at is the cycle timestamp. The updated scores are
// returned so the caller works from the same snapshot the consensus stage
// will see.
func (t *Tracker) Observe(ctx context.Context, consistency map[string]float64, threshold float64, at time.Time) map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if threshold <= 0 {
		threshold = t.cfg.ConsistencyThreshold
	}
	for sensorID, score := range consistency {
		cur := t.trustLocked(sensorID)
		if score < threshold {
			severity := (threshold - score) / threshold
			severity = math.Min(1, math.Max(0, severity))
			next := cur * (1 - severity*t.cfg.LearningRate)
			if next < t.cfg.Floor {
				next = t.cfg.Floor
			}
			t.scores[sensorID] = next
			ev := FaultEvent{
				ID:        uuid.NewString(),
				SensorID:  sensorID,
				Severity:  severity,
				Timestamp: at,
			}
			t.faults = append(t.faults, ev)
			monitoring.Logf("[TrustTracker] fault sensor=%s severity=%.3f trust %.3f -> %.3f",
				sensorID, severity, cur, next)
			if t.sink != nil {
				if err := t.sink.SaveFault(ctx, ev); err != nil {
					monitoring.Logf("[TrustTracker] persist fault for %s failed: %v", sensorID, err)
				}
			}
		} else {
			// Slow recovery toward full trust.
			next := cur + t.cfg.RecoveryRate*(1-cur)
			if next > 1 {
				next = 1
			}
			t.scores[sensorID] = next
		}
		if t.sink != nil {
			if err := t.sink.SaveTrust(ctx, sensorID, t.scores[sensorID]); err != nil {
				monitoring.Logf("[TrustTracker] persist trust for %s failed: %v", sensorID, err)
			}
		}
	}

	out := make(map[string]float64, len(consistency))
	for sensorID := range consistency {
		out[sensorID] = t.scores[sensorID]
	}
	return out
}

func (t *Tracker) trustLocked(sensorID string) float64 {
	if s, ok := t.scores[sensorID]; ok {
		return s
	}
	t.scores[sensorID] = t.cfg.InitialTrust
	return t.cfg.InitialTrust
}
