package rules

import (
	"os"
	"path/filepath"
	"testing"

	"netsentry/pkg/models"
)

const sshScanRule = `title: SSH Scan Activity
id: test-ssh-scan
level: high
detection:
  selection:
    dest_port: 22
    proto: TCP
  condition: selection
`

const keywordRule = `title: Keyword Sweep
id: test-keywords
level: medium
detection:
  keywords:
    - malware
  condition: keywords
`

func writeRule(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write rule %s: %v", name, err)
	}
}

func TestNewSigmaEngineLoadsSimpleRulesAndSkipsComplexOnes(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "ssh_scan.yml", sshScanRule)
	writeRule(t, dir, "keywords.yml", keywordRule)
	writeRule(t, dir, "broken.yml", "title: [unclosed")
	writeRule(t, dir, "notes.txt", "not a rule")

	engine, stats, err := NewSigmaEngine(dir)
	if err != nil {
		t.Fatalf("NewSigmaEngine: %v", err)
	}
	if stats.TotalFiles != 3 {
		t.Fatalf("expected 3 yaml files considered, got %d", stats.TotalFiles)
	}
	if stats.Loaded != 1 {
		t.Fatalf("expected 1 rule loaded, got %d", stats.Loaded)
	}
	if stats.SkippedComplex != 1 {
		t.Fatalf("expected keyword rule skipped as complex, got %d", stats.SkippedComplex)
	}
	if stats.SkippedInvalid != 1 {
		t.Fatalf("expected broken rule skipped as invalid, got %d", stats.SkippedInvalid)
	}
	if len(engine.rules) != 1 {
		t.Fatalf("expected 1 compiled rule, got %d", len(engine.rules))
	}
}

func TestSigmaEngineTagsMatchingAlerts(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "ssh_scan.yml", sshScanRule)

	engine, _, err := NewSigmaEngine(dir)
	if err != nil {
		t.Fatalf("NewSigmaEngine: %v", err)
	}

	match := &models.Alert{SrcIP: "10.0.0.1", DestIP: "10.0.0.2", DestPort: 22, Proto: "TCP", Severity: 2}
	tags := engine.Apply(match)
	if len(tags) != 1 {
		t.Fatalf("expected 1 tag for matching alert, got %d", len(tags))
	}
	if tags[0].ID != "test-ssh-scan" || tags[0].Name != "SSH Scan Activity" || tags[0].Severity != "high" {
		t.Fatalf("unexpected tag: %+v", tags[0])
	}

	miss := &models.Alert{SrcIP: "10.0.0.1", DestIP: "10.0.0.2", DestPort: 443, Proto: "TCP", Severity: 2}
	if tags := engine.Apply(miss); tags != nil {
		t.Fatalf("expected no tags for non-matching alert, got %+v", tags)
	}
}

func TestSigmaEngineSingleFilePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ssh_scan.yml")
	if err := os.WriteFile(path, []byte(sshScanRule), 0644); err != nil {
		t.Fatalf("write rule: %v", err)
	}

	engine, stats, err := NewSigmaEngine(path)
	if err != nil {
		t.Fatalf("NewSigmaEngine: %v", err)
	}
	if stats.Loaded != 1 || len(engine.rules) != 1 {
		t.Fatalf("expected single rule loaded, stats=%+v", stats)
	}
}

func TestNewSigmaEngineRejectsMissingPath(t *testing.T) {
	if _, _, err := NewSigmaEngine(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatalf("expected error for missing rule path")
	}
}

func TestNoopEngineReturnsNoTags(t *testing.T) {
	e := &NoopEngine{}
	if tags := e.Apply(&models.Alert{SrcIP: "10.0.0.1"}); tags != nil {
		t.Fatalf("noop engine must return nil, got %+v", tags)
	}
}
