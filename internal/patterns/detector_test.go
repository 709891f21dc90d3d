package patterns

import (
	"math"
	"testing"

	"netsentry/internal/profile"
	"netsentry/pkg/models"
)

func hitFor(hits []models.PatternHit, name string) (models.PatternHit, bool) {
	for _, h := range hits {
		if h.Pattern == name {
			return h, true
		}
	}
	return models.PatternHit{}, false
}

func TestPortScanConfidenceRampsLinearlyBetweenFloorAndCeiling(t *testing.T) {
	d := NewDetector(Config{})

	cases := []struct {
		ports int
		want  float64
	}{
		{5, 0},
		{10, 0},
		{15, 0.25},
		{20, 0.5},
		{25, 0.75},
		{30, 1},
		{100, 1},
	}
	for _, tc := range cases {
		hits := d.Detect(profile.Snapshot{UniquePorts: tc.ports})
		hit, ok := hitFor(hits, PortScan)
		if tc.want == 0 {
			if ok {
				t.Fatalf("ports=%d: expected no port_scan hit, got %.3f", tc.ports, hit.Confidence)
			}
			continue
		}
		if !ok {
			t.Fatalf("ports=%d: expected port_scan hit", tc.ports)
		}
		if math.Abs(hit.Confidence-tc.want) > 1e-9 {
			t.Fatalf("ports=%d: confidence %.4f, want %.4f", tc.ports, hit.Confidence, tc.want)
		}
	}
}

func TestDosConfidenceUsesBurstRate(t *testing.T) {
	d := NewDetector(Config{})

	if hits := d.Detect(profile.Snapshot{BurstRate: 4.9}); len(hits) != 0 {
		t.Fatalf("expected no hits below floor, got %+v", hits)
	}

	hits := d.Detect(profile.Snapshot{BurstRate: 12.5})
	hit, ok := hitFor(hits, Dos)
	if !ok {
		t.Fatalf("expected dos hit at 12.5 alerts/s")
	}
	if math.Abs(hit.Confidence-0.5) > 1e-9 {
		t.Fatalf("expected dos confidence 0.5, got %.4f", hit.Confidence)
	}

	hits = d.Detect(profile.Snapshot{BurstRate: 50})
	if hit, _ := hitFor(hits, Dos); hit.Confidence != 1 {
		t.Fatalf("expected dos confidence clamped at 1, got %.4f", hit.Confidence)
	}
}

func TestNetworkScanAndBruteForceRamps(t *testing.T) {
	d := NewDetector(Config{})

	hits := d.Detect(profile.Snapshot{UniqueDests: 12})
	hit, ok := hitFor(hits, NetworkScan)
	if !ok {
		t.Fatalf("expected network_scan hit at 12 dests")
	}
	if math.Abs(hit.Confidence-7.0/15.0) > 1e-9 {
		t.Fatalf("network_scan confidence %.4f, want %.4f", hit.Confidence, 7.0/15.0)
	}

	hits = d.Detect(profile.Snapshot{AuthFailures: 3})
	hit, ok = hitFor(hits, BruteForce)
	if !ok {
		t.Fatalf("expected brute_force hit at 3 auth failures")
	}
	if math.Abs(hit.Confidence-0.4) > 1e-9 {
		t.Fatalf("brute_force confidence %.4f, want 0.4", hit.Confidence)
	}

	if hits := d.Detect(profile.Snapshot{AuthFailures: 1}); len(hits) != 0 {
		t.Fatalf("a single auth failure must not trigger brute_force, got %+v", hits)
	}
}

func TestMultiplePatternsReportIndependently(t *testing.T) {
	d := NewDetector(Config{})

	hits := d.Detect(profile.Snapshot{
		UniquePorts:  30,
		UniqueDests:  20,
		BurstRate:    20,
		AuthFailures: 6,
	})
	if len(hits) != 4 {
		t.Fatalf("expected all 4 patterns reported, got %d: %+v", len(hits), hits)
	}
	for _, h := range hits {
		if h.Confidence != 1 {
			t.Fatalf("pattern %s: expected saturated confidence, got %.4f", h.Pattern, h.Confidence)
		}
	}
}

func TestCustomThresholdsOverrideDefaults(t *testing.T) {
	d := NewDetector(Config{PortScanFloor: 2, PortScanCeiling: 4})

	hits := d.Detect(profile.Snapshot{UniquePorts: 3})
	hit, ok := hitFor(hits, PortScan)
	if !ok {
		t.Fatalf("expected port_scan hit with lowered floor")
	}
	if math.Abs(hit.Confidence-0.5) > 1e-9 {
		t.Fatalf("expected confidence 0.5 with custom ramp, got %.4f", hit.Confidence)
	}
}
