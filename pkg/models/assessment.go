package models

import "time"

// Severity categories ordered from least to most severe.
const (
	CategoryInfo     = "INFO"
	CategoryLow      = "LOW"
	CategoryMedium   = "MEDIUM"
	CategoryHigh     = "HIGH"
	CategoryCritical = "CRITICAL"
)

// Actions the response policy can decide.
const (
	ActionBlock     = "BLOCK"
	ActionRateLimit = "RATE_LIMIT"
	ActionMonitor   = "MONITOR"
	ActionLog       = "LOG"
	ActionIgnore    = "IGNORE"
	ActionUnblock   = "UNBLOCK"
)

// PatternHit is one heuristic attack pattern detected for a source.
type PatternHit struct {
	Pattern    string  `json:"pattern"`
	Confidence float64 `json:"confidence"`
}

// RuleTag annotates an alert with a matched enrichment rule.
type RuleTag struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Severity string `json:"severity,omitempty"`
}

// ThreatAssessment is the derived classification for one alert. Ephemeral;
// it exists only to drive the response decision and the training record.
type ThreatAssessment struct {
	Alert        *Alert       `json:"-"`
	AnomalyScore float64      `json:"anomaly_score"`
	Patterns     []PatternHit `json:"patterns,omitempty"`
	RuleTags     []RuleTag    `json:"rule_tags,omitempty"`
	BaseScore    float64      `json:"base_score"`
	ThreatScore  float64      `json:"threat_score"`
	Category     string       `json:"category"`
	Action       string       `json:"action"`
}

// MaxPatternConfidence returns the highest pattern confidence, or 0 when no
// pattern fired.
func (t *ThreatAssessment) MaxPatternConfidence() float64 {
	max := 0.0
	for _, p := range t.Patterns {
		if p.Confidence > max {
			max = p.Confidence
		}
	}
	return max
}

// TrainingRecord is one classified-alert record emitted for the archival
// collaborator. Features are the 16 extracted dimensions in extraction order.
type TrainingRecord struct {
	Timestamp     time.Time        `json:"timestamp"`
	SourceIP      string           `json:"source_ip"`
	DestIP        string           `json:"dest_ip"`
	Signature     string           `json:"signature"`
	SignatureID   int              `json:"signature_id"`
	Category      string           `json:"category"`
	Features      []float64        `json:"features"`
	Assessment    ThreatAssessment `json:"classification"`
	AutoLabelHint string           `json:"auto_label_hint"`
}
