package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"netsentry/config"
	"netsentry/internal/anomaly"
	"netsentry/internal/classifier"
	"netsentry/internal/features"
	inputredis "netsentry/internal/input/redis"
	"netsentry/internal/logger"
	"netsentry/internal/metrics"
	"netsentry/internal/output/commandredis"
	"netsentry/internal/output/trainingjson"
	"netsentry/internal/patterns"
	"netsentry/internal/pipeline"
	"netsentry/internal/policy"
	"netsentry/internal/profile"
	"netsentry/internal/rules"
	"netsentry/internal/state"
	"netsentry/internal/transform/suricata"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("netsentry.yml"); err == nil {
		return "netsentry.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "netsentry.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "netsentry.yml"
}

func applyDefaults(cfg *config.Config) {
	ns := &cfg.NetSentry

	if ns.Input.Redis.Addr == "" {
		ns.Input.Redis.Addr = "127.0.0.1:6379"
	}
	if ns.Input.Redis.KeyPrefix == "" {
		ns.Input.Redis.KeyPrefix = "netsentry"
	}
	if ns.Input.Redis.Group == "" {
		ns.Input.Redis.Group = "netsentry-processors"
	}
	if ns.Input.Redis.Consumer == "" {
		ns.Input.Redis.Consumer = "netsentry-1"
	}
	if ns.Input.Redis.BlockTimeout == 0 {
		ns.Input.Redis.BlockTimeout = 5 * time.Second
	}
	if ns.Input.Redis.ReadBatchSize <= 0 {
		ns.Input.Redis.ReadBatchSize = 10
	}

	if ns.Pipeline.Workers <= 0 {
		ns.Pipeline.Workers = 8
	}
	if ns.Pipeline.BatchSize <= 0 {
		ns.Pipeline.BatchSize = 200
	}
	if ns.Pipeline.FlushInterval <= 0 {
		ns.Pipeline.FlushInterval = 2 * time.Second
	}
	if ns.Pipeline.DedupeWindow <= 0 {
		ns.Pipeline.DedupeWindow = 4096
	}

	if ns.Profiles.MaxProfiles <= 0 {
		ns.Profiles.MaxProfiles = 10000
	}
	if ns.Profiles.Window <= 0 {
		ns.Profiles.Window = 60 * time.Second
	}
	if ns.Profiles.BurstWindow <= 0 {
		ns.Profiles.BurstWindow = 10 * time.Second
	}
	if ns.Profiles.MaxTimestamps <= 0 {
		ns.Profiles.MaxTimestamps = 1000
	}
	if ns.Profiles.IdleExpiry <= 0 {
		ns.Profiles.IdleExpiry = 24 * time.Hour
	}

	if ns.Anomaly.Trees <= 0 {
		ns.Anomaly.Trees = 100
	}
	if ns.Anomaly.Subsample <= 0 {
		ns.Anomaly.Subsample = 256
	}
	if ns.Anomaly.MinTraining <= 0 {
		ns.Anomaly.MinTraining = 50
	}
	if ns.Anomaly.BufferSize <= 0 {
		ns.Anomaly.BufferSize = 5000
	}
	if ns.Anomaly.ModelPath == "" {
		ns.Anomaly.ModelPath = "data/anomaly_model.json"
	}

	if ns.Policy.BlockTTL <= 0 {
		ns.Policy.BlockTTL = 24 * time.Hour
	}
	if ns.Policy.ConfirmationTimeout <= 0 {
		ns.Policy.ConfirmationTimeout = 5 * time.Minute
	}
	if ns.Policy.SweepInterval <= 0 {
		ns.Policy.SweepInterval = 30 * time.Second
	}

	if ns.Output.Commands.MaxLen <= 0 {
		ns.Output.Commands.MaxLen = 10000
	}
	if ns.Output.Training.Dir == "" {
		ns.Output.Training.Dir = "data/training"
	}

	if ns.State.Path == "" {
		ns.State.Path = "data/netsentry_state.json"
	}
	if ns.State.SaveInterval <= 0 {
		ns.State.SaveInterval = 60 * time.Second
	}
	if ns.State.TopK <= 0 {
		ns.State.TopK = 50
	}

	if ns.Metrics.Listen == "" {
		ns.Metrics.Listen = ":9102"
	}

	if ns.Logging.Level == "" {
		ns.Logging.Level = "info"
	}
}

func runProducer(args []string) {
	configArg := ""
	if len(args) > 0 {
		configArg = args[0]
	}

	configPath := findConfigFile(configArg)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyDefaults(cfg)
	ns := cfg.NetSentry

	if err := logger.Init(ns.Logging.Enabled, ns.Logging.Level, ns.Logging.File, ns.Logging.Console); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Infof("NetSentry starting")
	logger.Infof("Config loaded from: %s", configPath)
	if ns.Policy.DryRun {
		logger.Warnf("Dry-run mode: decisions are computed and logged, never executed")
	}

	statsStore := metrics.NewStore()

	consumer, err := inputredis.NewConsumer(context.Background(), inputredis.Config{
		Addr:         ns.Input.Redis.Addr,
		Password:     ns.Input.Redis.Password,
		DB:           ns.Input.Redis.DB,
		Stream:       ns.Input.Redis.KeyPrefix + ":alerts:stream",
		Group:        ns.Input.Redis.Group,
		Consumer:     ns.Input.Redis.Consumer,
		BlockTimeout: ns.Input.Redis.BlockTimeout,
		BatchSize:    ns.Input.Redis.ReadBatchSize,
	})
	if err != nil {
		logger.Errorf("Failed to create Redis consumer: %v", err)
		log.Fatalf("Failed to create Redis consumer: %v", err)
	}

	commandWriter, err := commandredis.NewWriter(commandredis.Config{
		Addr:     ns.Input.Redis.Addr,
		Password: ns.Input.Redis.Password,
		DB:       ns.Input.Redis.DB,
		Stream:   ns.Input.Redis.KeyPrefix + ":blocks:stream",
		MaxLen:   ns.Output.Commands.MaxLen,
	})
	if err != nil {
		logger.Errorf("Failed to create command writer: %v", err)
		log.Fatalf("Failed to create command writer: %v", err)
	}

	ackReader := inputredis.NewAckReader(
		ns.Input.Redis.Addr,
		ns.Input.Redis.Password,
		ns.Input.Redis.DB,
		ns.Input.Redis.KeyPrefix+":acks:stream",
		ns.Input.Redis.BlockTimeout,
	)

	controlReader := inputredis.NewControlReader(
		ns.Input.Redis.Addr,
		ns.Input.Redis.Password,
		ns.Input.Redis.DB,
		ns.Input.Redis.KeyPrefix+":control:stream",
		ns.Input.Redis.BlockTimeout,
	)

	var trainingWriter pipeline.TrainingWriter
	if ns.Output.Training.Enabled {
		w, err := trainingjson.NewWriter(ns.Output.Training.Dir)
		if err != nil {
			logger.Errorf("Failed to create training writer: %v", err)
			log.Fatalf("Failed to create training writer: %v", err)
		}
		trainingWriter = w
	}

	var engine rules.Engine
	if ns.Rules.Enabled {
		if strings.TrimSpace(ns.Rules.Path) == "" {
			logger.Warnf("Rules enabled but rules.path is empty; enrichment tagging disabled")
		} else {
			sigmaEngine, stats, err := rules.NewSigmaEngine(ns.Rules.Path)
			if err != nil {
				logger.Errorf("Failed to load Sigma rules from %s: %v", ns.Rules.Path, err)
				log.Fatalf("Failed to load Sigma rules: %v", err)
			}
			engine = sigmaEngine
			logger.Infof("Sigma rules loaded: loaded=%d skipped_complex=%d skipped_invalid=%d files=%d",
				stats.Loaded, stats.SkippedComplex, stats.SkippedInvalid, stats.TotalFiles)
		}
	}

	profiles := profile.NewStore(profile.Config{
		MaxProfiles:   ns.Profiles.MaxProfiles,
		Window:        ns.Profiles.Window,
		BurstWindow:   ns.Profiles.BurstWindow,
		MaxTimestamps: ns.Profiles.MaxTimestamps,
		IdleExpiry:    ns.Profiles.IdleExpiry,
	})

	detector := patterns.NewDetector(patterns.Config{
		PortScanFloor:     ns.Patterns.PortScanFloor,
		PortScanCeiling:   ns.Patterns.PortScanCeiling,
		DosRateFloor:      ns.Patterns.DosRateFloor,
		DosRateCeiling:    ns.Patterns.DosRateCeiling,
		NetScanFloor:      ns.Patterns.NetScanFloor,
		NetScanCeiling:    ns.Patterns.NetScanCeiling,
		BruteForceFloor:   ns.Patterns.BruteForceFloor,
		BruteForceCeiling: ns.Patterns.BruteForceCeiling,
	})

	scorer := anomaly.NewScorer(anomaly.Config{
		Trees:       ns.Anomaly.Trees,
		Subsample:   ns.Anomaly.Subsample,
		MinTraining: ns.Anomaly.MinTraining,
		BufferSize:  ns.Anomaly.BufferSize,
		ModelPath:   ns.Anomaly.ModelPath,
	})
	if loaded, err := scorer.LoadModel(); err != nil {
		logger.Warnf("Failed to load anomaly model, starting untrained: %v", err)
	} else if loaded {
		logger.Infof("Loaded pre-trained anomaly model from %s", ns.Anomaly.ModelPath)
	} else {
		logger.Infof("No pre-trained anomaly model; scoring falls back to neutral until trained")
	}

	aggregator, err := classifier.NewAggregator(classifier.Config{
		SeverityWeight: ns.Classifier.SeverityWeight,
		AnomalyWeight:  ns.Classifier.AnomalyWeight,
		PatternWeight:  ns.Classifier.PatternWeight,
		CriticalBand:   ns.Classifier.CriticalBand,
		HighBand:       ns.Classifier.HighBand,
		MediumBand:     ns.Classifier.MediumBand,
		LowBand:        ns.Classifier.LowBand,
	})
	if err != nil {
		log.Fatalf("Invalid classifier config: %v", err)
	}

	policyEngine := policy.NewEngine(policy.Config{
		BlockTTL:             ns.Policy.BlockTTL,
		DryRun:               ns.Policy.DryRun,
		ConfirmationRequired: ns.Policy.ConfirmationRequired,
		ConfirmationTimeout:  ns.Policy.ConfirmationTimeout,
	})

	stateManager := state.NewManager(ns.State.Path, ns.State.SaveInterval, func() state.PersistedState {
		snap := statsStore.Snapshot(ns.State.TopK)
		snap.Blocks = policyEngine.Blocks()
		progress := scorer.Progress()
		snap.Training = state.TrainingProgress{
			Trained:         progress.Trained,
			TrainedAt:       progress.TrainedAt,
			SamplesBuffered: progress.SamplesBuffered,
			SamplesTrained:  progress.SamplesTrained,
		}
		return snap
	})
	stateManager.SetHealthFunc(statsStore.SetPersistenceDegraded)

	switch restored, err := stateManager.Restore(); {
	case err == nil:
		statsStore.Restore(restored)
		policyEngine.RestoreBlocks(restored.Blocks)
		logger.Infof("State restored: processed=%d active_blocks=%d saved_at=%s",
			restored.ProcessedCount, len(restored.Blocks), restored.SavedAt.Format(time.RFC3339))
	case errors.Is(err, state.ErrNotFound):
		logger.Infof("No prior state snapshot; starting from empty state")
	default:
		logger.Errorf("State restore failed, starting from empty state: %v", err)
	}

	if ns.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(statsStore.Registry(), promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: ns.Metrics.Listen, Handler: mux}
		go func() {
			logger.Infof("Metrics listener on %s", ns.Metrics.Listen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorf("Metrics listener failed: %v", err)
			}
		}()
		defer srv.Close()
	}

	pipe := pipeline.New(pipeline.Config{
		Workers:       ns.Pipeline.Workers,
		BatchSize:     ns.Pipeline.BatchSize,
		FlushInterval: ns.Pipeline.FlushInterval,
		DedupeWindow:  ns.Pipeline.DedupeWindow,
		SweepInterval: ns.Policy.SweepInterval,
	}, consumer, profiles, detector, scorer, aggregator, engine, policyEngine,
		commandWriter, trainingWriter, ackReader, controlReader, statsStore)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := pipe.Run(ctx); err != nil && err != context.Canceled {
			logger.Errorf("Pipeline error: %v", err)
		}
	}()
	go stateManager.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("Shutting down")
	cancel()
	time.Sleep(1 * time.Second)

	if err := stateManager.Save(); err != nil {
		logger.Errorf("Final state save failed: %v", err)
	}
	if err := scorer.SaveModel(); err != nil {
		logger.Errorf("Failed to save anomaly model: %v", err)
	}
	if err := pipe.Close(); err != nil {
		logger.Errorf("Error closing pipeline: %v", err)
	}

	printSummary(statsStore, policyEngine)
	logger.Infof("NetSentry stopped")
}

func printSummary(stats *metrics.Store, policyEngine *policy.Engine) {
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println("NETSENTRY - SESSION SUMMARY")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Total alerts processed: %d\n", stats.Processed())

	counts := stats.SeverityCounts()
	order := []string{"CRITICAL", "HIGH", "MEDIUM", "LOW", "INFO"}
	fmt.Println("Threat distribution:")
	total := stats.Processed()
	if total == 0 {
		total = 1
	}
	for _, sev := range order {
		count := counts[sev]
		fmt.Printf("  %-8s: %6d (%5.1f%%)\n", sev, count, float64(count)/float64(total)*100)
	}
	fmt.Printf("Active blocks: %d\n", len(policyEngine.Blocks()))
}

// runTrainer bulk-trains the anomaly model from a historical EVE JSONL file
// and writes the model file for the next producer start.
func runTrainer(args []string) int {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	input := fs.String("input", "eve.json", "Historical EVE JSONL input path")
	modelPath := fs.String("model", "data/anomaly_model.json", "Output model path")
	trees := fs.Int("trees", 100, "Number of isolation trees")
	subsample := fs.Int("subsample", 256, "Per-tree subsample size")
	minTraining := fs.Int("min-training", 50, "Minimum training vectors")
	maxEvents := fs.Int("events", 5000, "Maximum number of events to read")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if err := logger.Init(true, "info", "", true); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}

	f, err := os.Open(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open input: %v\n", err)
		return 1
	}
	defer f.Close()

	profiles := profile.NewStore(profile.Config{})
	var vectors [][]float64

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	read := 0
	for scanner.Scan() && read < *maxEvents {
		read++
		alert, err := suricata.Parse(scanner.Bytes())
		if err != nil || alert == nil {
			continue
		}
		snap := profiles.Update(alert)
		vectors = append(vectors, features.Extract(alert, snap))
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to read input: %v\n", err)
		return 1
	}

	scorer := anomaly.NewScorer(anomaly.Config{
		Trees:       *trees,
		Subsample:   *subsample,
		MinTraining: *minTraining,
		ModelPath:   *modelPath,
	})
	if err := scorer.Train(context.Background(), vectors); err != nil {
		fmt.Fprintf(os.Stderr, "training failed: %v\n", err)
		return 1
	}
	if err := scorer.SaveModel(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to save model: %v\n", err)
		return 1
	}

	fmt.Printf("trained events=%d vectors=%d model=%s\n", read, len(vectors), *modelPath)
	return 0
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "run":
			runProducer(os.Args[2:])
			return
		case "train":
			os.Exit(runTrainer(os.Args[2:]))
		default:
			// Backward-compatible mode: first arg is config path.
			runProducer(os.Args[1:])
			return
		}
	}

	runProducer(nil)
}
