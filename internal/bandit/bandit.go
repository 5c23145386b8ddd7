// Package bandit selects among prompt/parameter variants with Thompson
// sampling and learns from delayed binary feedback. Per-arm posteriors are
// persisted wholesale through a Store after every mutation; feedback for an
// unknown arm is advisory and never fails the caller.
package bandit

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNoArmsForStage means no registered arm matches the requested stage.
var ErrNoArmsForStage = errors.New("no arms registered for stage")

// Arm is one prompt/parameter variant. Arms are defined at process start and
// never mutated; learned state lives in ArmStats.
type Arm struct {
	ID          string
	Stage       string
	Model       string
	Temperature float64
	Notes       string
}

// ArmStats is the Beta posterior for one arm. Alpha counts successes, Beta
// failures; both start at 1 (uniform prior).
type ArmStats struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
	Pulls int     `json:"pulls"`
}

func defaultStats() ArmStats {
	return ArmStats{Alpha: 1, Beta: 1, Pulls: 0}
}

// Bandit holds the posterior registry. The mutex serializes in-process use;
// concurrent processes sharing one store file still race on
// read-modify-write-persist, which the store contract documents.
type Bandit struct {
	mu     sync.Mutex
	store  Store
	stats  map[string]ArmStats
	rng    *rand.Rand
	logger *zap.Logger
}

// New loads persisted stats from the store. A missing or unreadable store is
// not fatal: the bandit starts from an empty registry and logs the condition.
func New(store Store, logger *zap.Logger) *Bandit {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bandit{
		store:  store,
		stats:  make(map[string]ArmStats),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logger,
	}
	loaded, err := store.Load()
	if err != nil {
		logger.Warn("bandit state load failed, starting empty", zap.Error(err))
		return b
	}
	b.stats = loaded
	logger.Info("bandit state loaded", zap.Int("arms", len(loaded)))
	return b
}

// EnsureArms registers any arm not yet present with default stats and
// persists the registry once.
func (b *Bandit) EnsureArms(arms []Arm) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	added := 0
	for _, arm := range arms {
		if _, ok := b.stats[arm.ID]; !ok {
			b.stats[arm.ID] = defaultStats()
			added++
		}
	}
	if err := b.store.Persist(b.snapshotLocked()); err != nil {
		return fmt.Errorf("persist bandit state: %w", err)
	}
	if added > 0 {
		b.logger.Info("bandit arms registered",
			zap.Int("added", added), zap.Int("total", len(b.stats)))
	}
	return nil
}

// Choose filters arms by stage, samples each candidate's Beta posterior and
// returns the arm with the maximum draw together with the full sample map.
// Ties resolve to the earlier arm in definition order.
func (b *Bandit) Choose(stage string, arms []Arm) (Arm, map[string]float64, error) {
	var candidates []Arm
	for _, arm := range arms {
		if arm.Stage == stage {
			candidates = append(candidates, arm)
		}
	}
	if len(candidates) == 0 {
		return Arm{}, nil, fmt.Errorf("%w: %s", ErrNoArmsForStage, stage)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	samples := make(map[string]float64, len(candidates))
	best := 0
	bestSample := -1.0
	for i, arm := range candidates {
		stats, ok := b.stats[arm.ID]
		if !ok {
			stats = defaultStats()
		}
		s := sampleBeta(b.rng, stats.Alpha, stats.Beta)
		samples[arm.ID] = s
		if s > bestSample {
			bestSample = s
			best = i
		}
	}

	chosen := candidates[best]
	chosenStats := b.stats[chosen.ID]
	b.logger.Info("bandit choose",
		zap.String("stage", stage),
		zap.String("arm_id", chosen.ID),
		zap.Float64("alpha", chosenStats.Alpha),
		zap.Float64("beta", chosenStats.Beta),
		zap.Int("pulls", chosenStats.Pulls),
		zap.Any("samples", samples))
	return chosen, samples, nil
}

// Update records binary feedback for an arm and persists the registry.
// Feedback for an unregistered arm is logged and dropped; persistence
// failures are logged but never surfaced, since feedback is advisory.
func (b *Bandit) Update(armID string, reward int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats, ok := b.stats[armID]
	if !ok {
		b.logger.Warn("bandit update for unknown arm",
			zap.String("arm_id", armID), zap.Int("reward", reward))
		return
	}

	stats.Pulls++
	if reward == 1 {
		stats.Alpha++
	} else {
		stats.Beta++
	}
	b.stats[armID] = stats

	if err := b.store.Persist(b.snapshotLocked()); err != nil {
		b.logger.Error("bandit state persist failed", zap.Error(err))
	}
	b.logger.Info("bandit update",
		zap.String("arm_id", armID),
		zap.Int("reward", reward),
		zap.Float64("alpha", stats.Alpha),
		zap.Float64("beta", stats.Beta),
		zap.Int("pulls", stats.Pulls))
}

// Snapshot returns a copy of all per-arm stats.
func (b *Bandit) Snapshot() map[string]ArmStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// Stats returns the posterior for one arm.
func (b *Bandit) Stats(armID string) (ArmStats, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.stats[armID]
	return s, ok
}

func (b *Bandit) snapshotLocked() map[string]ArmStats {
	out := make(map[string]ArmStats, len(b.stats))
	for k, v := range b.stats {
		out[k] = v
	}
	return out
}
