package classifier

import (
	"fmt"

	"netsentry/pkg/models"
)

// Config holds the aggregation weights and severity band thresholds.
// Weights must sum to 1; bands are lower-closed, upper-open, except the top
// band which is closed at 1.0.
type Config struct {
	SeverityWeight float64
	AnomalyWeight  float64
	PatternWeight  float64
	CriticalBand   float64
	HighBand       float64
	MediumBand     float64
	LowBand        float64
}

// Aggregator combines severity, anomaly score and pattern confidences into
// the final threat score and severity category.
type Aggregator struct {
	cfg Config
}

// NewAggregator validates the weights and returns an aggregator. Unset
// fields are filled with the tuned defaults.
func NewAggregator(cfg Config) (*Aggregator, error) {
	if cfg.SeverityWeight == 0 && cfg.AnomalyWeight == 0 && cfg.PatternWeight == 0 {
		cfg.SeverityWeight = 0.25
		cfg.AnomalyWeight = 0.25
		cfg.PatternWeight = 0.50
	}
	sum := cfg.SeverityWeight + cfg.AnomalyWeight + cfg.PatternWeight
	if sum < 0.999 || sum > 1.001 {
		return nil, fmt.Errorf("classifier weights must sum to 1, got %.4f", sum)
	}

	if cfg.CriticalBand == 0 {
		cfg.CriticalBand = 0.85
	}
	if cfg.HighBand == 0 {
		cfg.HighBand = 0.70
	}
	if cfg.MediumBand == 0 {
		cfg.MediumBand = 0.50
	}
	if cfg.LowBand == 0 {
		cfg.LowBand = 0.30
	}
	if !(cfg.LowBand < cfg.MediumBand && cfg.MediumBand < cfg.HighBand && cfg.HighBand < cfg.CriticalBand) {
		return nil, fmt.Errorf("classifier bands must be strictly increasing")
	}

	return &Aggregator{cfg: cfg}, nil
}

// Assess computes the threat score, category and default action for one
// alert. Boundary scores are deterministic: a score exactly on a band's
// lower bound takes that band.
func (a *Aggregator) Assess(alert *models.Alert, anomalyScore float64, hits []models.PatternHit) models.ThreatAssessment {
	sevNorm := clamp01(float64(alert.Severity) / 4.0)
	anomalyScore = clamp01(anomalyScore)

	maxPattern := 0.0
	for _, h := range hits {
		if h.Confidence > maxPattern {
			maxPattern = h.Confidence
		}
	}

	score := a.cfg.SeverityWeight*sevNorm +
		a.cfg.AnomalyWeight*anomalyScore +
		a.cfg.PatternWeight*maxPattern
	score = clamp01(score)

	category := a.category(score)
	return models.ThreatAssessment{
		Alert:        alert,
		AnomalyScore: anomalyScore,
		Patterns:     hits,
		BaseScore:    sevNorm,
		ThreatScore:  score,
		Category:     category,
		Action:       DefaultAction(category),
	}
}

func (a *Aggregator) category(score float64) string {
	switch {
	case score >= a.cfg.CriticalBand:
		return models.CategoryCritical
	case score >= a.cfg.HighBand:
		return models.CategoryHigh
	case score >= a.cfg.MediumBand:
		return models.CategoryMedium
	case score >= a.cfg.LowBand:
		return models.CategoryLow
	default:
		return models.CategoryInfo
	}
}

// DefaultAction maps a severity category to its default response action.
func DefaultAction(category string) string {
	switch category {
	case models.CategoryCritical:
		return models.ActionBlock
	case models.CategoryHigh:
		return models.ActionRateLimit
	case models.CategoryMedium:
		return models.ActionMonitor
	case models.CategoryLow:
		return models.ActionLog
	default:
		return models.ActionIgnore
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
