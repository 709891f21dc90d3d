package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"netsentry/internal/logger"
	"netsentry/pkg/models"
)

// ErrNotFound is returned by Restore when no prior snapshot exists. It is
// not a failure; the system starts from empty state.
var ErrNotFound = errors.New("state: no snapshot found")

// IPCount is one entry in the top-K active source list.
type IPCount struct {
	IP    string `json:"ip"`
	Count int64  `json:"count"`
}

// TrainingProgress mirrors the anomaly scorer's training indicators.
type TrainingProgress struct {
	Trained         bool      `json:"trained"`
	TrainedAt       time.Time `json:"trained_at,omitempty"`
	SamplesBuffered int       `json:"samples_buffered"`
	SamplesTrained  int       `json:"samples_trained"`
}

// PersistedState is the durable snapshot of all counters, distributions and
// the active block set. Mutated only through Save/Restore, never partially
// written.
type PersistedState struct {
	SavedAt        time.Time           `json:"saved_at"`
	ProcessedCount int64               `json:"processed_count"`
	MalformedCount int64               `json:"malformed_count"`
	DroppedBenign  int64               `json:"dropped_benign"`
	SeverityCounts map[string]int64    `json:"severity_counts"`
	ActionCounts   map[string]int64    `json:"action_counts"`
	PatternCounts  map[string]int64    `json:"pattern_counts"`
	TopSources     []IPCount           `json:"top_sources"`
	Blocks         []models.BlockEntry `json:"blocks"`
	Training       TrainingProgress    `json:"training"`
}

// SnapshotFunc produces a consistent point-in-time copy of live state.
type SnapshotFunc func() PersistedState

// Manager periodically and crash-safely snapshots mutable state. A failed
// save keeps the last good file on disk and retries next interval.
type Manager struct {
	path     string
	interval time.Duration
	snapshot SnapshotFunc

	degraded atomic.Bool
	onHealth func(degraded bool)
}

// NewManager creates a persistence manager.
func NewManager(path string, interval time.Duration, snapshot SnapshotFunc) *Manager {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Manager{path: path, interval: interval, snapshot: snapshot}
}

// SetHealthFunc registers a callback invoked after every save attempt with
// the current degraded state. Set before Run starts.
func (m *Manager) SetHealthFunc(fn func(degraded bool)) {
	m.onHealth = fn
}

// Save takes a snapshot and atomically replaces the durable file. A failed
// save marks the manager degraded until a later save succeeds.
func (m *Manager) Save() error {
	snap := m.snapshot()
	snap.SavedAt = time.Now().UTC()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		m.setDegraded(true)
		return fmt.Errorf("encode state: %w", err)
	}
	if err := WriteFileAtomic(m.path, data, 0644); err != nil {
		m.setDegraded(true)
		return err
	}
	m.setDegraded(false)
	return nil
}

func (m *Manager) setDegraded(degraded bool) {
	m.degraded.Store(degraded)
	if m.onHealth != nil {
		m.onHealth(degraded)
	}
}

// Restore loads the previous snapshot. Block entries that expired during
// downtime are dropped so their remaining TTL is never resurrected.
// Returns ErrNotFound when no file exists; a corrupt file is reported as an
// error and the caller starts empty.
func (m *Manager) Restore() (*PersistedState, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var snap PersistedState
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode state file %s: %w", m.path, err)
	}

	now := time.Now()
	live := snap.Blocks[:0]
	for _, b := range snap.Blocks {
		if !b.Expired(now) {
			live = append(live, b)
		}
	}
	snap.Blocks = live

	return &snap, nil
}

// Degraded reports whether the most recent save attempt failed.
func (m *Manager) Degraded() bool {
	return m.degraded.Load()
}

// Run saves on a fixed interval until the context is cancelled, then takes
// a final snapshot on the way out.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := m.Save(); err != nil {
				logger.Errorf("Final state save failed: %v", err)
			}
			return
		case <-ticker.C:
			wasDegraded := m.Degraded()
			if err := m.Save(); err != nil {
				logger.Errorf("State save failed, retrying next interval: %v", err)
				continue
			}
			if wasDegraded {
				logger.Infof("State save recovered")
			}
		}
	}
}
