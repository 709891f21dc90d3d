package anomaly

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"netsentry/internal/logger"
	"netsentry/internal/state"
)

// NeutralScore is used while no trained model is loaded, so classification
// falls back to pattern/severity-only scoring instead of stalling.
const NeutralScore = 0.5

// Config controls the scorer and its rolling training buffer.
type Config struct {
	Trees       int
	Subsample   int
	MinTraining int
	BufferSize  int
	ModelPath   string
}

// Scorer scores feature vectors against the current forest and maintains a
// rolling buffer of recent vectors for retraining. The model is published
// with a single atomic pointer swap; readers never observe a partial build.
type Scorer struct {
	cfg   Config
	model atomic.Pointer[Forest]

	mu        sync.Mutex
	buffer    [][]float64
	next      int
	filled    bool
	training  bool
	trainedAt time.Time
}

// NewScorer creates a scorer with an empty model.
func NewScorer(cfg Config) *Scorer {
	if cfg.Trees <= 0 {
		cfg.Trees = 100
	}
	if cfg.Subsample <= 0 {
		cfg.Subsample = 256
	}
	if cfg.MinTraining <= 0 {
		cfg.MinTraining = 50
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 5000
	}
	return &Scorer{
		cfg:    cfg,
		buffer: make([][]float64, cfg.BufferSize),
	}
}

// Score returns the anomaly score for a vector, or NeutralScore when no
// model has been trained yet.
func (s *Scorer) Score(vector []float64) float64 {
	forest := s.model.Load()
	if forest == nil {
		return NeutralScore
	}
	return forest.Score(vector)
}

// Trained reports whether a model is currently loaded.
func (s *Scorer) Trained() bool {
	return s.model.Load() != nil
}

// Observe adds a feature vector to the rolling training buffer.
func (s *Scorer) Observe(vector []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer[s.next] = vector
	s.next++
	if s.next >= len(s.buffer) {
		s.next = 0
		s.filled = true
	}
}

// BufferedCount returns the number of vectors available for retraining.
func (s *Scorer) BufferedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bufferedLocked()
}

func (s *Scorer) bufferedLocked() int {
	if s.filled {
		return len(s.buffer)
	}
	return s.next
}

// NeedsTraining reports whether no model is loaded yet while enough vectors
// are buffered to build one.
func (s *Scorer) NeedsTraining() bool {
	if s.model.Load() != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.training && s.bufferedLocked() >= s.cfg.MinTraining
}

// Retrain builds a new forest from the rolling buffer and swaps it in.
// Returns ErrInsufficientData below the training minimum. A concurrent
// retrain is rejected; cancellation leaves the previous model authoritative.
func (s *Scorer) Retrain(ctx context.Context) error {
	s.mu.Lock()
	if s.training {
		s.mu.Unlock()
		return fmt.Errorf("anomaly: retrain already in progress")
	}
	count := s.bufferedLocked()
	vectors := make([][]float64, 0, count)
	for i := 0; i < count; i++ {
		vectors = append(vectors, s.buffer[i])
	}
	s.training = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.training = false
		s.mu.Unlock()
	}()

	return s.Train(ctx, vectors)
}

// Train builds a forest from the given vectors and publishes it atomically.
func (s *Scorer) Train(ctx context.Context, vectors [][]float64) error {
	forest, err := BuildForest(ctx, vectors, s.cfg.Trees, s.cfg.Subsample, s.cfg.MinTraining, time.Now().UnixNano())
	if err != nil {
		return err
	}

	s.model.Store(forest)
	s.mu.Lock()
	s.trainedAt = time.Now()
	s.mu.Unlock()
	logger.Infof("Anomaly model trained: vectors=%d trees=%d subsample=%d", len(vectors), s.cfg.Trees, forest.Subsample)
	return nil
}

// Progress describes training state for the persisted snapshot.
type Progress struct {
	Trained         bool      `json:"trained"`
	TrainedAt       time.Time `json:"trained_at,omitempty"`
	SamplesBuffered int       `json:"samples_buffered"`
	SamplesTrained  int       `json:"samples_trained"`
}

// Progress returns the current training progress indicators.
func (s *Scorer) Progress() Progress {
	p := Progress{SamplesBuffered: s.BufferedCount()}
	if forest := s.model.Load(); forest != nil {
		p.Trained = true
		p.SamplesTrained = forest.Samples
		s.mu.Lock()
		p.TrainedAt = s.trainedAt
		s.mu.Unlock()
	}
	return p
}

// SaveModel writes the current forest to the configured model path using an
// atomic replace. A nil model is not an error; nothing is written.
func (s *Scorer) SaveModel() error {
	forest := s.model.Load()
	if forest == nil || s.cfg.ModelPath == "" {
		return nil
	}
	data, err := json.Marshal(forest)
	if err != nil {
		return fmt.Errorf("encode anomaly model: %w", err)
	}
	if err := state.WriteFileAtomic(s.cfg.ModelPath, data, 0644); err != nil {
		return fmt.Errorf("write anomaly model: %w", err)
	}
	return nil
}

// LoadModel restores a previously saved forest. A missing file simply
// leaves the scorer untrained.
func (s *Scorer) LoadModel() (bool, error) {
	if s.cfg.ModelPath == "" {
		return false, nil
	}
	data, err := os.ReadFile(s.cfg.ModelPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read anomaly model: %w", err)
	}

	var forest Forest
	if err := json.Unmarshal(data, &forest); err != nil {
		return false, fmt.Errorf("decode anomaly model: %w", err)
	}
	if len(forest.Trees) == 0 {
		return false, fmt.Errorf("anomaly model file %s holds no trees", s.cfg.ModelPath)
	}

	s.model.Store(&forest)
	return true, nil
}
