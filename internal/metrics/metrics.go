package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"netsentry/internal/state"
)

const maxTrackedSources = 10000

// Store accumulates classification counters. It backs both the Prometheus
// collectors and the persisted snapshot, mirroring how the original system
// saved state straight out of its metrics store.
type Store struct {
	mu             sync.Mutex
	processed      int64
	malformed      int64
	droppedBenign  int64
	severityCounts map[string]int64
	actionCounts   map[string]int64
	patternCounts  map[string]int64
	sourceCounts   map[string]int64

	registry *prometheus.Registry

	alertsTotal      *prometheus.CounterVec
	malformedTotal   prometheus.Counter
	droppedTotal     prometheus.Counter
	patternsTotal    *prometheus.CounterVec
	blocksTotal      prometheus.Counter
	anomalyScores    prometheus.Histogram
	processingTimes  prometheus.Histogram
	activeBlocks     prometheus.Gauge
	trackedProfiles  prometheus.Gauge
	degradedPersists prometheus.Gauge
}

// NewStore creates the store and registers its collectors.
func NewStore() *Store {
	s := &Store{
		severityCounts: make(map[string]int64),
		actionCounts:   make(map[string]int64),
		patternCounts:  make(map[string]int64),
		sourceCounts:   make(map[string]int64),
		registry:       prometheus.NewRegistry(),
	}

	s.alertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netsentry_alerts_total",
		Help: "Classified alerts by severity category and decided action.",
	}, []string{"severity", "action"})
	s.malformedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netsentry_malformed_alerts_total",
		Help: "Alerts skipped because they were malformed or incomplete.",
	})
	s.droppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netsentry_benign_artifacts_total",
		Help: "Alerts dropped early as hardware offload artifacts.",
	})
	s.patternsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netsentry_pattern_detections_total",
		Help: "Heuristic attack pattern detections.",
	}, []string{"pattern"})
	s.blocksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netsentry_blocks_total",
		Help: "BLOCK commands issued.",
	})
	s.anomalyScores = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "netsentry_anomaly_score",
		Help:    "Distribution of anomaly scores.",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})
	s.processingTimes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "netsentry_processing_seconds",
		Help:    "Per-alert classification latency.",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	})
	s.activeBlocks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "netsentry_active_blocks",
		Help: "Currently active block entries.",
	})
	s.trackedProfiles = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "netsentry_tracked_profiles",
		Help: "Live behavioral profiles.",
	})
	s.degradedPersists = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "netsentry_persistence_degraded",
		Help: "1 when the last state save failed.",
	})

	s.registry.MustRegister(
		s.alertsTotal, s.malformedTotal, s.droppedTotal, s.patternsTotal,
		s.blocksTotal, s.anomalyScores, s.processingTimes,
		s.activeBlocks, s.trackedProfiles, s.degradedPersists,
	)
	return s
}

// Registry exposes the Prometheus registry for the /metrics listener.
func (s *Store) Registry() *prometheus.Registry {
	return s.registry
}

// RecordAlert records one classified alert.
func (s *Store) RecordAlert(srcIP, severity, action string, anomalyScore float64, elapsed time.Duration) {
	s.mu.Lock()
	s.processed++
	s.severityCounts[severity]++
	s.actionCounts[action]++
	if _, tracked := s.sourceCounts[srcIP]; tracked || len(s.sourceCounts) < maxTrackedSources {
		s.sourceCounts[srcIP]++
	}
	s.mu.Unlock()

	s.alertsTotal.WithLabelValues(severity, action).Inc()
	s.anomalyScores.Observe(anomalyScore)
	s.processingTimes.Observe(elapsed.Seconds())
}

// RecordPattern records one pattern detection.
func (s *Store) RecordPattern(name string) {
	s.mu.Lock()
	s.patternCounts[name]++
	s.mu.Unlock()
	s.patternsTotal.WithLabelValues(name).Inc()
}

// RecordMalformed counts a skipped malformed alert.
func (s *Store) RecordMalformed() {
	s.mu.Lock()
	s.malformed++
	s.mu.Unlock()
	s.malformedTotal.Inc()
}

// RecordDroppedBenign counts an early-dropped offload artifact.
func (s *Store) RecordDroppedBenign() {
	s.mu.Lock()
	s.droppedBenign++
	s.mu.Unlock()
	s.droppedTotal.Inc()
}

// RecordBlock counts an issued BLOCK command.
func (s *Store) RecordBlock() {
	s.blocksTotal.Inc()
}

// SetActiveBlocks updates the active block gauge.
func (s *Store) SetActiveBlocks(n int) {
	s.activeBlocks.Set(float64(n))
}

// SetTrackedProfiles updates the live profile gauge.
func (s *Store) SetTrackedProfiles(n int) {
	s.trackedProfiles.Set(float64(n))
}

// SetPersistenceDegraded flags a failed state save.
func (s *Store) SetPersistenceDegraded(degraded bool) {
	if degraded {
		s.degradedPersists.Set(1)
	} else {
		s.degradedPersists.Set(0)
	}
}

// Processed returns the processed-alert count.
func (s *Store) Processed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed
}

// SeverityCounts returns a copy of the severity distribution.
func (s *Store) SeverityCounts() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounts(s.severityCounts)
}

// TopSources returns the k most active source IPs, most active first.
func (s *Store) TopSources(k int) []state.IPCount {
	s.mu.Lock()
	all := make([]state.IPCount, 0, len(s.sourceCounts))
	for ip, count := range s.sourceCounts {
		all = append(all, state.IPCount{IP: ip, Count: count})
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Count != all[j].Count {
			return all[i].Count > all[j].Count
		}
		return all[i].IP < all[j].IP
	})
	if k > 0 && len(all) > k {
		all = all[:k]
	}
	return all
}

// Snapshot produces the counter portion of the persisted state.
func (s *Store) Snapshot(topK int) state.PersistedState {
	top := s.TopSources(topK)

	s.mu.Lock()
	defer s.mu.Unlock()
	return state.PersistedState{
		ProcessedCount: s.processed,
		MalformedCount: s.malformed,
		DroppedBenign:  s.droppedBenign,
		SeverityCounts: copyCounts(s.severityCounts),
		ActionCounts:   copyCounts(s.actionCounts),
		PatternCounts:  copyCounts(s.patternCounts),
		TopSources:     top,
	}
}

// Restore repopulates counters from a persisted snapshot.
func (s *Store) Restore(snap *state.PersistedState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed = snap.ProcessedCount
	s.malformed = snap.MalformedCount
	s.droppedBenign = snap.DroppedBenign
	if snap.SeverityCounts != nil {
		s.severityCounts = copyCounts(snap.SeverityCounts)
	}
	if snap.ActionCounts != nil {
		s.actionCounts = copyCounts(snap.ActionCounts)
	}
	if snap.PatternCounts != nil {
		s.patternCounts = copyCounts(snap.PatternCounts)
	}
	for _, ipc := range snap.TopSources {
		s.sourceCounts[ipc.IP] = ipc.Count
	}
}

func copyCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
