package profile

import (
	"fmt"
	"testing"
	"time"

	"netsentry/pkg/models"
)

func alertAt(ts time.Time, srcIP, destIP string, destPort int) *models.Alert {
	return &models.Alert{
		Timestamp:   ts,
		SrcIP:       srcIP,
		DestIP:      destIP,
		DestPort:    destPort,
		Proto:       "TCP",
		SignatureID: 2001219,
		Signature:   "ET SCAN Potential SSH Scan",
		Category:    "Attempted Information Leak",
		Severity:    2,
	}
}

func TestUpdateCountsUniquePortsAndDestsWithinWindow(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(Config{Window: 60 * time.Second, BurstWindow: 10 * time.Second})

	var snap Snapshot
	for i := 0; i < 5; i++ {
		a := alertAt(base.Add(time.Duration(i)*time.Second), "10.0.0.1", fmt.Sprintf("192.168.1.%d", i%2+1), 1000+i)
		snap = store.Update(a)
	}

	if snap.UniquePorts != 5 {
		t.Fatalf("expected 5 unique ports, got %d", snap.UniquePorts)
	}
	if snap.UniqueDests != 2 {
		t.Fatalf("expected 2 unique dests, got %d", snap.UniqueDests)
	}
	if snap.AlertCount != 5 {
		t.Fatalf("expected 5 alerts in window, got %d", snap.AlertCount)
	}
	if snap.TotalAlerts != 5 {
		t.Fatalf("expected 5 total alerts, got %d", snap.TotalAlerts)
	}
	if snap.UniqueSignatures != 1 {
		t.Fatalf("expected 1 unique signature, got %d", snap.UniqueSignatures)
	}
}

func TestUpdatePrunesEntriesOlderThanWindowInEventTime(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(Config{Window: 60 * time.Second, BurstWindow: 10 * time.Second})

	store.Update(alertAt(base, "10.0.0.1", "192.168.1.1", 22))
	store.Update(alertAt(base.Add(30*time.Second), "10.0.0.1", "192.168.1.2", 23))

	// Two minutes later the first two alerts have aged out of the window.
	snap := store.Update(alertAt(base.Add(2*time.Minute), "10.0.0.1", "192.168.1.3", 80))

	if snap.AlertCount != 1 {
		t.Fatalf("expected only the fresh alert in window, got %d", snap.AlertCount)
	}
	if snap.UniquePorts != 1 {
		t.Fatalf("expected stale ports pruned, got %d", snap.UniquePorts)
	}
	if snap.UniqueDests != 1 {
		t.Fatalf("expected stale dests pruned, got %d", snap.UniqueDests)
	}
	if snap.TotalAlerts != 3 {
		t.Fatalf("total alert count must survive pruning, got %d", snap.TotalAlerts)
	}
}

func TestBurstRateUsesBurstWindowOnly(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(Config{Window: 60 * time.Second, BurstWindow: 10 * time.Second})

	// 5 alerts spread over 40s, then 20 alerts within the last 10s.
	for i := 0; i < 5; i++ {
		store.Update(alertAt(base.Add(time.Duration(i*10)*time.Second), "10.0.0.1", "192.168.1.1", 22))
	}
	var snap Snapshot
	for i := 0; i < 19; i++ {
		snap = store.Update(alertAt(base.Add(41*time.Second).Add(time.Duration(i)*499*time.Millisecond), "10.0.0.1", "192.168.1.1", 22))
	}

	// 19 burst alerts plus the 40s alert at the cutoff boundary each count.
	if snap.BurstRate < 1.9 || snap.BurstRate > 2.1 {
		t.Fatalf("expected burst rate near 2.0/s, got %.3f", snap.BurstRate)
	}
}

func TestReplayedSequenceProducesIdenticalSnapshots(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	run := func() []Snapshot {
		store := NewStore(Config{Window: 60 * time.Second, BurstWindow: 10 * time.Second})
		var snaps []Snapshot
		for i := 0; i < 50; i++ {
			a := alertAt(base.Add(time.Duration(i*3)*time.Second), "10.0.0.1", fmt.Sprintf("192.168.1.%d", i%4), 1000+i%7)
			snaps = append(snaps, store.Update(a))
		}
		return snaps
	}

	first := run()
	second := run()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("snapshot %d differs between replays: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestStoreEvictsLeastRecentlyActiveBeyondMaxProfiles(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(Config{MaxProfiles: 3})

	for i := 0; i < 3; i++ {
		store.Update(alertAt(base.Add(time.Duration(i)*time.Second), fmt.Sprintf("10.0.0.%d", i+1), "192.168.1.1", 22))
	}
	// Touch 10.0.0.1 so 10.0.0.2 becomes the eviction candidate.
	store.Update(alertAt(base.Add(5*time.Second), "10.0.0.1", "192.168.1.1", 22))
	store.Update(alertAt(base.Add(6*time.Second), "10.0.0.4", "192.168.1.1", 22))

	if store.Len() != 3 {
		t.Fatalf("expected store capped at 3 profiles, got %d", store.Len())
	}
	if _, ok := store.Get("10.0.0.2"); ok {
		t.Fatalf("expected least recently active profile 10.0.0.2 to be evicted")
	}
	if _, ok := store.Get("10.0.0.1"); !ok {
		t.Fatalf("expected recently touched profile 10.0.0.1 to survive")
	}
	if _, ok := store.Get("10.0.0.4"); !ok {
		t.Fatalf("expected new profile 10.0.0.4 to be present")
	}
}

func TestEvictExpiredRemovesIdleProfiles(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(Config{IdleExpiry: time.Hour})

	store.Update(alertAt(base, "10.0.0.1", "192.168.1.1", 22))
	store.Update(alertAt(base.Add(50*time.Minute), "10.0.0.2", "192.168.1.1", 22))

	removed := store.EvictExpired(base.Add(90 * time.Minute))
	if removed != 1 {
		t.Fatalf("expected 1 profile evicted, got %d", removed)
	}
	if _, ok := store.Get("10.0.0.1"); ok {
		t.Fatalf("expected idle profile 10.0.0.1 removed")
	}
	if _, ok := store.Get("10.0.0.2"); !ok {
		t.Fatalf("expected active profile 10.0.0.2 retained")
	}
}

func TestAuthFailureDetectionMatchesCategoryAndSignature(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(Config{})

	byCategory := alertAt(base, "10.0.0.1", "192.168.1.1", 22)
	byCategory.Category = "Attempted Login"
	bySignature := alertAt(base.Add(time.Second), "10.0.0.1", "192.168.1.1", 22)
	bySignature.Category = "Misc activity"
	bySignature.Signature = "ET SCAN SSH Brute Force attempt"
	neither := alertAt(base.Add(2*time.Second), "10.0.0.1", "192.168.1.1", 80)
	neither.Category = "Misc activity"
	neither.Signature = "ET POLICY curl User-Agent"

	store.Update(byCategory)
	store.Update(bySignature)
	snap := store.Update(neither)

	if snap.AuthFailures != 2 {
		t.Fatalf("expected 2 auth failures, got %d", snap.AuthFailures)
	}
}

func TestMaxTimestampsCapBoundsWindowCount(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(Config{Window: time.Hour, MaxTimestamps: 100})

	var snap Snapshot
	for i := 0; i < 250; i++ {
		snap = store.Update(alertAt(base.Add(time.Duration(i)*time.Second), "10.0.0.1", "192.168.1.1", 22))
	}

	if snap.AlertCount != 100 {
		t.Fatalf("expected window count capped at 100, got %d", snap.AlertCount)
	}
	if snap.TotalAlerts != 250 {
		t.Fatalf("expected total unaffected by cap, got %d", snap.TotalAlerts)
	}
}
