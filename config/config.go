package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	NetSentry NetSentryConfig `yaml:"netsentry"`
}

// NetSentryConfig is the project configuration.
type NetSentryConfig struct {
	Input      InputConfig      `yaml:"input"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Profiles   ProfilesConfig   `yaml:"profiles"`
	Patterns   PatternsConfig   `yaml:"patterns"`
	Anomaly    AnomalyConfig    `yaml:"anomaly"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Rules      RulesConfig      `yaml:"rules"`
	Policy     PolicyConfig     `yaml:"policy"`
	Output     OutputConfig     `yaml:"output"`
	State      StateConfig      `yaml:"state"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// InputConfig controls the alert stream reader.
type InputConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig controls Redis stream access.
type RedisConfig struct {
	Addr          string        `yaml:"addr"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	KeyPrefix     string        `yaml:"key_prefix"`
	Group         string        `yaml:"group"`
	Consumer      string        `yaml:"consumer"`
	BlockTimeout  time.Duration `yaml:"block_timeout"`
	ReadBatchSize int64         `yaml:"read_batch_size"`
}

// PipelineConfig controls pipeline behavior.
type PipelineConfig struct {
	Workers       int           `yaml:"workers"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	DedupeWindow  int           `yaml:"dedupe_window"`
}

// ProfilesConfig bounds the behavioral profile store.
type ProfilesConfig struct {
	MaxProfiles   int           `yaml:"max_profiles"`
	Window        time.Duration `yaml:"window"`
	BurstWindow   time.Duration `yaml:"burst_window"`
	MaxTimestamps int           `yaml:"max_timestamps"`
	IdleExpiry    time.Duration `yaml:"idle_expiry"`
}

// PatternsConfig holds heuristic trigger thresholds. Each pattern scales its
// confidence linearly between the floor and ceiling values.
type PatternsConfig struct {
	PortScanFloor     int     `yaml:"port_scan_floor"`
	PortScanCeiling   int     `yaml:"port_scan_ceiling"`
	DosRateFloor      float64 `yaml:"dos_rate_floor"`
	DosRateCeiling    float64 `yaml:"dos_rate_ceiling"`
	NetScanFloor      int     `yaml:"net_scan_floor"`
	NetScanCeiling    int     `yaml:"net_scan_ceiling"`
	BruteForceFloor   int     `yaml:"brute_force_floor"`
	BruteForceCeiling int     `yaml:"brute_force_ceiling"`
}

// AnomalyConfig controls the isolation forest scorer.
type AnomalyConfig struct {
	Trees       int    `yaml:"trees"`
	Subsample   int    `yaml:"subsample"`
	MinTraining int    `yaml:"min_training"`
	BufferSize  int    `yaml:"buffer_size"`
	ModelPath   string `yaml:"model_path"`
}

// ClassifierConfig holds aggregation weights and severity band thresholds.
// Weights must sum to 1.
type ClassifierConfig struct {
	SeverityWeight float64 `yaml:"severity_weight"`
	AnomalyWeight  float64 `yaml:"anomaly_weight"`
	PatternWeight  float64 `yaml:"pattern_weight"`
	CriticalBand   float64 `yaml:"critical_band"`
	HighBand       float64 `yaml:"high_band"`
	MediumBand     float64 `yaml:"medium_band"`
	LowBand        float64 `yaml:"low_band"`
}

// RulesConfig controls optional Sigma enrichment tagging.
type RulesConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// PolicyConfig controls the response policy engine.
type PolicyConfig struct {
	BlockTTL             time.Duration `yaml:"block_ttl"`
	DryRun               bool          `yaml:"dry_run"`
	ConfirmationRequired bool          `yaml:"confirmation_required"`
	ConfirmationTimeout  time.Duration `yaml:"confirmation_timeout"`
	SweepInterval        time.Duration `yaml:"sweep_interval"`
}

// OutputConfig controls command and training-record sinks.
type OutputConfig struct {
	Commands CommandOutputConfig  `yaml:"commands"`
	Training TrainingOutputConfig `yaml:"training"`
}

// CommandOutputConfig controls the action-command stream.
type CommandOutputConfig struct {
	MaxLen int64 `yaml:"max_len"`
}

// TrainingOutputConfig controls training/decision record output.
type TrainingOutputConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// StateConfig controls crash-safe state snapshots.
type StateConfig struct {
	Path         string        `yaml:"path"`
	SaveInterval time.Duration `yaml:"save_interval"`
	TopK         int           `yaml:"top_k"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
