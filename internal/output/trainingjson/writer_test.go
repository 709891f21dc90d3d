package trainingjson

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"netsentry/pkg/models"
)

func recordFor(ip, signature string) *models.TrainingRecord {
	return &models.TrainingRecord{
		Timestamp: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
		SourceIP:  ip,
		Signature: signature,
		Category:  models.CategoryMedium,
		Features:  []float64{0.5, 0.25},
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return lines
}

func TestWriteRecordsAppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()
	w.now = func() time.Time { return time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC) }

	if err := w.WriteRecords([]*models.TrainingRecord{recordFor("10.0.0.1", "ET SCAN Nmap"), recordFor("10.0.0.2", "ET SCAN Nmap")}); err != nil {
		t.Fatalf("write batch 1: %v", err)
	}
	if err := w.WriteRecords([]*models.TrainingRecord{recordFor("10.0.0.3", "ET SCAN Nmap")}); err != nil {
		t.Fatalf("write batch 2: %v", err)
	}

	lines := readLines(t, filepath.Join(dir, "decisions.2026-05-01.jsonl"))
	if len(lines) != 3 {
		t.Fatalf("expected 3 records, got %d", len(lines))
	}

	var rec models.TrainingRecord
	if err := json.Unmarshal([]byte(lines[2]), &rec); err != nil {
		t.Fatalf("decode line: %v", err)
	}
	if rec.SourceIP != "10.0.0.3" {
		t.Fatalf("unexpected record order: %+v", rec)
	}
}

func TestWriteRecordsRotatesAtDayBoundary(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	day := time.Date(2026, 5, 1, 23, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return day }
	if err := w.WriteRecords([]*models.TrainingRecord{recordFor("10.0.0.1", "x")}); err != nil {
		t.Fatalf("write day 1: %v", err)
	}

	day = day.Add(2 * time.Minute)
	if err := w.WriteRecords([]*models.TrainingRecord{recordFor("10.0.0.2", "x")}); err != nil {
		t.Fatalf("write day 2: %v", err)
	}

	if got := readLines(t, filepath.Join(dir, "decisions.2026-05-01.jsonl")); len(got) != 1 {
		t.Fatalf("expected 1 record in day-1 file, got %d", len(got))
	}
	if got := readLines(t, filepath.Join(dir, "decisions.2026-05-02.jsonl")); len(got) != 1 {
		t.Fatalf("expected 1 record in day-2 file, got %d", len(got))
	}
}

func TestWriteRecordsEmptyBatchIsNoop(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	if err := w.WriteRecords(nil); err != nil {
		t.Fatalf("empty batch must not error: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("empty batch must not create files, found %d", len(entries))
	}
}

func TestAutoLabelHintHeuristics(t *testing.T) {
	cases := []struct {
		name       string
		assessment models.ThreatAssessment
		want       string
	}{
		{
			"offload artifact",
			models.ThreatAssessment{Alert: &models.Alert{Signature: "SURICATA TCPv4 invalid checksum"}, Action: models.ActionIgnore},
			"BENIGN",
		},
		{
			"confident block",
			models.ThreatAssessment{Alert: &models.Alert{Signature: "ET SCAN Nmap"}, Action: models.ActionBlock, ThreatScore: 0.95},
			"THREAT",
		},
		{
			"known bad family",
			models.ThreatAssessment{Alert: &models.Alert{Signature: "ET MALWARE Zeus Callback"}, Action: models.ActionMonitor, ThreatScore: 0.55},
			"THREAT",
		},
		{
			"low confidence block",
			models.ThreatAssessment{Alert: &models.Alert{Signature: "ET SCAN Nmap"}, Action: models.ActionBlock, ThreatScore: 0.86},
			"REVIEW",
		},
		{
			"everything else",
			models.ThreatAssessment{Alert: &models.Alert{Signature: "ET POLICY curl User-Agent"}, Action: models.ActionLog, ThreatScore: 0.35},
			"REVIEW",
		},
	}
	for _, tc := range cases {
		if got := AutoLabelHint(&tc.assessment); got != tc.want {
			t.Fatalf("%s: AutoLabelHint = %s, want %s", tc.name, got, tc.want)
		}
	}
}
