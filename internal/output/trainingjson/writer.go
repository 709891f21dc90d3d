package trainingjson

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"netsentry/internal/logger"
	"netsentry/pkg/models"
)

// Writer appends training/decision records to daily-rotated JSONL files in
// a data directory, one file per calendar day.
type Writer struct {
	mu      sync.Mutex
	dir     string
	file    *os.File
	encoder *json.Encoder
	day     string
	now     func() time.Time
}

// NewWriter creates the data directory and a writer for it.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create training data directory: %w", err)
	}
	logger.Infof("Training record writer initialized: %s", dir)
	return &Writer{dir: dir, now: time.Now}, nil
}

// WriteRecords appends a batch of records, rotating to a new file when the
// day changes.
func (w *Writer) WriteRecords(records []*models.TrainingRecord) error {
	if len(records) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateLocked(); err != nil {
		return err
	}
	for _, rec := range records {
		if err := w.encoder.Encode(rec); err != nil {
			return fmt.Errorf("encode training record: %w", err)
		}
	}
	return w.file.Sync()
}

// AutoLabelHint applies the labeling heuristics carried over from the
// review tooling: obvious offload noise is BENIGN, confident blocks and
// known-bad signature families are THREAT, everything else needs review.
func AutoLabelHint(assessment *models.ThreatAssessment) string {
	sig := strings.ToLower(assessment.Alert.Signature)
	for _, marker := range []string{"checksum", "invalid ack", "packet out of window", "stream established", "invalid timestamp"} {
		if strings.Contains(sig, marker) {
			return "BENIGN"
		}
	}
	if assessment.Action == models.ActionBlock && assessment.ThreatScore >= 0.90 {
		return "THREAT"
	}
	for _, marker := range []string{"exploit", "malware", "trojan"} {
		if strings.Contains(sig, marker) {
			return "THREAT"
		}
	}
	return "REVIEW"
}

// Close closes the current day file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

func (w *Writer) rotateLocked() error {
	day := w.now().Format("2006-01-02")
	if w.file != nil && day == w.day {
		return nil
	}
	if w.file != nil {
		w.file.Close()
	}

	path := filepath.Join(w.dir, "decisions."+day+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open training log %s: %w", path, err)
	}
	w.file = f
	w.encoder = json.NewEncoder(f)
	w.day = day
	return nil
}
