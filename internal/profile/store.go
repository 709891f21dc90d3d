package profile

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"netsentry/pkg/models"
)

// Config bounds the behavioral profile store.
type Config struct {
	MaxProfiles   int
	Window        time.Duration
	BurstWindow   time.Duration
	MaxTimestamps int
	IdleExpiry    time.Duration
}

// Snapshot is a consistent point-in-time view of one source profile, with
// all windowed counts computed as of the triggering alert. Counts include
// the just-inserted alert.
type Snapshot struct {
	IP               string
	AlertCount       int     // alerts within the sliding window
	BurstRate        float64 // alerts per second over the burst window
	UniquePorts      int
	UniqueDests      int
	UniqueSignatures int
	AuthFailures     int
	TotalAlerts      int64
	FirstSeen        time.Time
	LastSeen         time.Time
	Age              time.Duration
}

// Store holds bounded per-source-IP sliding-window state. Profiles beyond
// MaxProfiles are evicted least-recently-active first; idle profiles are
// swept by EvictExpired. Updates to different IPs proceed independently.
type Store struct {
	mu   sync.Mutex // guards byIP and lru
	cfg  Config
	byIP map[string]*entry
	lru  *list.List // front = most recently active
}

type entry struct {
	mu   sync.Mutex
	cfg  *Config
	ip   string
	elem *list.Element

	ports      map[int]time.Time
	dests      map[string]time.Time
	timestamps []time.Time
	authFails  []time.Time
	sigCounts  map[int]int64

	firstSeen time.Time
	lastSeen  time.Time
	total     int64
}

// NewStore creates a profile store.
func NewStore(cfg Config) *Store {
	if cfg.MaxProfiles <= 0 {
		cfg.MaxProfiles = 10000
	}
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	if cfg.BurstWindow <= 0 {
		cfg.BurstWindow = 10 * time.Second
	}
	if cfg.MaxTimestamps <= 0 {
		cfg.MaxTimestamps = 1000
	}
	if cfg.IdleExpiry <= 0 {
		cfg.IdleExpiry = 24 * time.Hour
	}
	return &Store{
		cfg:  cfg,
		byIP: make(map[string]*entry),
		lru:  list.New(),
	}
}

// Update folds one alert into the source's profile and returns a snapshot
// taken at the instant of the update. Windows are kept in event time so a
// replayed sequence produces identical snapshots.
func (s *Store) Update(alert *models.Alert) Snapshot {
	e := s.entryFor(alert.SrcIP)

	e.mu.Lock()
	defer e.mu.Unlock()

	ts := alert.Timestamp
	if e.firstSeen.IsZero() || ts.Before(e.firstSeen) {
		e.firstSeen = ts
	}
	if ts.After(e.lastSeen) {
		e.lastSeen = ts
	}
	e.total++

	e.ports[alert.DestPort] = laterOf(e.ports[alert.DestPort], ts)
	e.dests[alert.DestIP] = laterOf(e.dests[alert.DestIP], ts)
	e.sigCounts[alert.SignatureID]++

	e.timestamps = append(e.timestamps, ts)
	if isAuthFailure(alert) {
		e.authFails = append(e.authFails, ts)
	}

	e.prune()
	return e.snapshot()
}

// Get returns the current snapshot for an IP, pruned as of its last
// activity. The second return is false when no profile exists.
func (s *Store) Get(ip string) (Snapshot, bool) {
	s.mu.Lock()
	e, ok := s.byIP[ip]
	s.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.prune()
	return e.snapshot(), true
}

// Len returns the number of live profiles.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byIP)
}

// EvictExpired removes profiles whose last activity is older than the idle
// expiry as of now. Returns the number of profiles removed.
func (s *Store) EvictExpired(now time.Time) int {
	cutoff := now.Add(-s.cfg.IdleExpiry)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for el := s.lru.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry)
		if !e.lastSeen.After(cutoff) {
			s.lru.Remove(el)
			delete(s.byIP, e.ip)
			removed++
		}
		el = prev
	}
	return removed
}

func (s *Store) entryFor(ip string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byIP[ip]
	if !ok {
		e = &entry{
			cfg:       &s.cfg,
			ip:        ip,
			ports:     make(map[int]time.Time),
			dests:     make(map[string]time.Time),
			sigCounts: make(map[int]int64),
		}
		e.elem = s.lru.PushFront(e)
		s.byIP[ip] = e

		for len(s.byIP) > s.cfg.MaxProfiles {
			back := s.lru.Back()
			if back == nil {
				break
			}
			victim := back.Value.(*entry)
			s.lru.Remove(back)
			delete(s.byIP, victim.ip)
		}
		return e
	}

	s.lru.MoveToFront(e.elem)
	return e
}

// prune drops window entries older than the window relative to the latest
// activity. Caller holds e.mu.
func (e *entry) prune() {
	cutoff := e.lastSeen.Add(-e.cfg.Window)

	for port, seen := range e.ports {
		if seen.Before(cutoff) {
			delete(e.ports, port)
		}
	}
	for dest, seen := range e.dests {
		if seen.Before(cutoff) {
			delete(e.dests, dest)
		}
	}
	e.timestamps = pruneTimes(e.timestamps, cutoff)
	e.authFails = pruneTimes(e.authFails, cutoff)

	if max := e.cfg.MaxTimestamps; len(e.timestamps) > max {
		e.timestamps = e.timestamps[len(e.timestamps)-max:]
	}
}

func (e *entry) snapshot() Snapshot {
	burstCutoff := e.lastSeen.Add(-e.cfg.BurstWindow)
	burstCount := 0
	for i := len(e.timestamps) - 1; i >= 0; i-- {
		if e.timestamps[i].Before(burstCutoff) {
			break
		}
		burstCount++
	}

	return Snapshot{
		IP:               e.ip,
		AlertCount:       len(e.timestamps),
		BurstRate:        float64(burstCount) / e.cfg.BurstWindow.Seconds(),
		UniquePorts:      len(e.ports),
		UniqueDests:      len(e.dests),
		UniqueSignatures: len(e.sigCounts),
		AuthFailures:     len(e.authFails),
		TotalAlerts:      e.total,
		FirstSeen:        e.firstSeen,
		LastSeen:         e.lastSeen,
		Age:              e.lastSeen.Sub(e.firstSeen),
	}
}

func pruneTimes(ts []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(ts) && ts[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		ts = ts[idx:]
	}
	return ts
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func isAuthFailure(alert *models.Alert) bool {
	category := strings.ToLower(alert.Category)
	if strings.Contains(category, "auth") || strings.Contains(category, "login") {
		return true
	}
	sig := strings.ToLower(alert.Signature)
	return strings.Contains(sig, "authentication failure") ||
		strings.Contains(sig, "failed login") ||
		strings.Contains(sig, "brute force")
}
