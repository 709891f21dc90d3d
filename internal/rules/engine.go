package rules

import "netsentry/pkg/models"

// Engine tags alerts with matched enrichment rules. Tags are metadata for
// the decision record and metrics; they never enter the threat score.
type Engine interface {
	Apply(alert *models.Alert) []models.RuleTag
}

// NoopEngine returns no tags.
type NoopEngine struct{}

// Apply returns an empty tag list.
func (n *NoopEngine) Apply(alert *models.Alert) []models.RuleTag {
	return nil
}
