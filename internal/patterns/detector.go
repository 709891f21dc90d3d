package patterns

import (
	"netsentry/internal/profile"
	"netsentry/pkg/models"
)

// Pattern names reported by the detector.
const (
	PortScan    = "port_scan"
	Dos         = "dos"
	NetworkScan = "network_scan"
	BruteForce  = "brute_force"
)

// Config holds the heuristic ramp endpoints. Confidence scales linearly from
// 0 at the floor to 1.0 at the ceiling; these were tuned empirically on the
// original deployment and are expected to be re-tuned in the field.
type Config struct {
	PortScanFloor     int
	PortScanCeiling   int
	DosRateFloor      float64
	DosRateCeiling    float64
	NetScanFloor      int
	NetScanCeiling    int
	BruteForceFloor   int
	BruteForceCeiling int
}

// Detector evaluates the heuristic rule set against profile snapshots.
type Detector struct {
	cfg Config
}

// NewDetector creates a detector, filling unset thresholds with defaults.
func NewDetector(cfg Config) *Detector {
	if cfg.PortScanFloor <= 0 {
		cfg.PortScanFloor = 10
	}
	if cfg.PortScanCeiling <= cfg.PortScanFloor {
		cfg.PortScanCeiling = 30
	}
	if cfg.DosRateFloor <= 0 {
		cfg.DosRateFloor = 5
	}
	if cfg.DosRateCeiling <= cfg.DosRateFloor {
		cfg.DosRateCeiling = 20
	}
	if cfg.NetScanFloor <= 0 {
		cfg.NetScanFloor = 5
	}
	if cfg.NetScanCeiling <= cfg.NetScanFloor {
		cfg.NetScanCeiling = 20
	}
	if cfg.BruteForceFloor <= 0 {
		cfg.BruteForceFloor = 1
	}
	if cfg.BruteForceCeiling <= cfg.BruteForceFloor {
		cfg.BruteForceCeiling = 6
	}
	return &Detector{cfg: cfg}
}

// Detect evaluates every rule against the snapshot. All patterns whose
// confidence is above zero are reported; none suppresses another.
func (d *Detector) Detect(snap profile.Snapshot) []models.PatternHit {
	var hits []models.PatternHit

	if c := ramp(float64(snap.UniquePorts), float64(d.cfg.PortScanFloor), float64(d.cfg.PortScanCeiling)); c > 0 {
		hits = append(hits, models.PatternHit{Pattern: PortScan, Confidence: c})
	}
	if c := ramp(snap.BurstRate, d.cfg.DosRateFloor, d.cfg.DosRateCeiling); c > 0 {
		hits = append(hits, models.PatternHit{Pattern: Dos, Confidence: c})
	}
	if c := ramp(float64(snap.UniqueDests), float64(d.cfg.NetScanFloor), float64(d.cfg.NetScanCeiling)); c > 0 {
		hits = append(hits, models.PatternHit{Pattern: NetworkScan, Confidence: c})
	}
	if c := ramp(float64(snap.AuthFailures), float64(d.cfg.BruteForceFloor), float64(d.cfg.BruteForceCeiling)); c > 0 {
		hits = append(hits, models.PatternHit{Pattern: BruteForce, Confidence: c})
	}

	return hits
}

// ramp maps value linearly onto [0,1] between floor and ceiling, clamped at
// both ends.
func ramp(value, floor, ceiling float64) float64 {
	if value <= floor {
		return 0
	}
	if value >= ceiling {
		return 1
	}
	return (value - floor) / (ceiling - floor)
}
