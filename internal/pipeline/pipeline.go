package pipeline

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"netsentry/internal/anomaly"
	"netsentry/internal/classifier"
	"netsentry/internal/features"
	"netsentry/internal/logger"
	"netsentry/internal/metrics"
	"netsentry/internal/output/trainingjson"
	"netsentry/internal/patterns"
	"netsentry/internal/policy"
	"netsentry/internal/profile"
	"netsentry/internal/rules"
	"netsentry/internal/transform/suricata"
	"netsentry/pkg/models"
)

// hardDrop signatures are discarded before classification; the original
// deployment drowned in these NIC offload artifacts.
var hardDrop = []string{"checksum", "invalid ack"}

// Config controls pipeline behavior.
type Config struct {
	Workers       int
	BatchSize     int
	FlushInterval time.Duration
	DedupeWindow  int
	SweepInterval time.Duration
}

// Pipeline consumes sensor alerts, classifies them and emits action
// commands plus decision records. Alerts are sharded to workers by source
// IP so per-source ordering is preserved while sources classify in
// parallel.
type Pipeline struct {
	cfg Config

	source         Source
	profiles       *profile.Store
	detector       *patterns.Detector
	scorer         *anomaly.Scorer
	aggregator     *classifier.Aggregator
	engine         rules.Engine
	policy         *policy.Engine
	commandWriter  CommandWriter
	trainingWriter TrainingWriter
	outcomes       OutcomeSource
	control        ControlSource
	stats          *metrics.Store

	mu     sync.Mutex
	dedupe map[string]struct{}
	order  []string
}

type workItem struct {
	record *models.TrainingRecord
	cmds   []models.ActionCommand
}

type parsedMsg struct {
	id    string
	alert *models.Alert
}

// New creates a pipeline.
func New(cfg Config, source Source, profiles *profile.Store, detector *patterns.Detector,
	scorer *anomaly.Scorer, aggregator *classifier.Aggregator, engine rules.Engine,
	policyEngine *policy.Engine, commandWriter CommandWriter, trainingWriter TrainingWriter,
	outcomes OutcomeSource, control ControlSource, stats *metrics.Store) *Pipeline {

	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = 4096
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if engine == nil {
		engine = &rules.NoopEngine{}
	}

	return &Pipeline{
		cfg:            cfg,
		source:         source,
		profiles:       profiles,
		detector:       detector,
		scorer:         scorer,
		aggregator:     aggregator,
		engine:         engine,
		policy:         policyEngine,
		commandWriter:  commandWriter,
		trainingWriter: trainingWriter,
		outcomes:       outcomes,
		control:        control,
		stats:          stats,
		dedupe:         make(map[string]struct{}),
	}
}

// Run starts the pipeline loops and blocks until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	logger.Infof("Alert pipeline started: workers=%d", p.cfg.Workers)

	shards := make([]chan parsedMsg, p.cfg.Workers)
	for i := range shards {
		shards[i] = make(chan parsedMsg, 64)
	}
	workCh := make(chan workItem, p.cfg.Workers*4)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.readLoop(ctx, shards)
		for _, shard := range shards {
			close(shard)
		}
	}()

	var workerWg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		workerWg.Add(1)
		go func(in <-chan parsedMsg) {
			defer workerWg.Done()
			p.workerLoop(ctx, in, workCh)
		}(shards[i])
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		workerWg.Wait()
		close(workCh)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.writeLoop(ctx, workCh)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.sweepLoop(ctx)
	}()

	if p.outcomes != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.ackLoop(ctx)
		}()
	}

	if p.control != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.controlLoop(ctx)
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close releases pipeline resources.
func (p *Pipeline) Close() error {
	if p.trainingWriter != nil {
		if err := p.trainingWriter.Close(); err != nil {
			logger.Errorf("Failed to close training writer: %v", err)
		}
	}
	if p.commandWriter != nil {
		if err := p.commandWriter.Close(); err != nil {
			logger.Errorf("Failed to close command writer: %v", err)
		}
	}
	if p.outcomes != nil {
		if err := p.outcomes.Close(); err != nil {
			logger.Errorf("Failed to close outcome reader: %v", err)
		}
	}
	if p.control != nil {
		if err := p.control.Close(); err != nil {
			logger.Errorf("Failed to close control reader: %v", err)
		}
	}
	if p.source != nil {
		return p.source.Close()
	}
	return nil
}

// readLoop consumes, parses and dispatches alerts to per-source shards.
// Parsing happens here so the shard key is known before handoff.
func (p *Pipeline) readLoop(ctx context.Context, shards []chan parsedMsg) {
	for {
		msgs, err := p.source.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("Failed to read alert stream: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		if ctx.Err() != nil {
			return
		}

		for _, msg := range msgs {
			alert, err := suricata.Parse(msg.Payload)
			if err != nil {
				p.stats.RecordMalformed()
				p.source.Ack(ctx, msg.ID)
				continue
			}
			if alert == nil {
				// Not an alert record; nothing to classify.
				p.source.Ack(ctx, msg.ID)
				continue
			}
			if alert.EventID == "" {
				alert.EventID = msg.ID
			}

			if p.shouldDrop(alert) {
				p.stats.RecordDroppedBenign()
				p.source.Ack(ctx, msg.ID)
				continue
			}
			if p.seenBefore(alert.Identity()) {
				p.source.Ack(ctx, msg.ID)
				continue
			}

			shard := shards[shardFor(alert.SrcIP, len(shards))]
			select {
			case <-ctx.Done():
				return
			case shard <- parsedMsg{id: msg.ID, alert: alert}:
			}
		}
	}
}

func (p *Pipeline) workerLoop(ctx context.Context, in <-chan parsedMsg, out chan<- workItem) {
	for msg := range in {
		item := p.classify(msg.alert)
		p.source.Ack(ctx, msg.id)
		if item.record == nil && len(item.cmds) == 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case out <- item:
		}
	}
}

// classify runs one alert through the full assessment path.
func (p *Pipeline) classify(alert *models.Alert) workItem {
	start := time.Now()

	benign := features.IsBenignArtifact(alert.Signature)

	var snap profile.Snapshot
	if benign {
		// Offload artifacts never feed behavioral windows.
		snap, _ = p.profiles.Get(alert.SrcIP)
		snap.IP = alert.SrcIP
	} else {
		snap = p.profiles.Update(alert)
	}

	vec := features.Extract(alert, snap)

	var hits []models.PatternHit
	if !benign {
		hits = p.detector.Detect(snap)
	}

	anomalyScore := p.scorer.Score(vec)
	p.scorer.Observe(vec)

	assessment := p.aggregator.Assess(alert, anomalyScore, hits)
	assessment.RuleTags = p.engine.Apply(alert)

	cmds := p.policy.Decide(&assessment)

	// Action counters record the decided outcome, not the category default:
	// suppressed, dry-run and held-for-confirmation decisions count as LOG.
	decided := assessment.Action
	if len(cmds) > 0 {
		decided = cmds[0].Action
	} else if decided != models.ActionLog && decided != models.ActionIgnore {
		decided = models.ActionLog
	}

	for _, hit := range hits {
		p.stats.RecordPattern(hit.Pattern)
	}
	for _, cmd := range cmds {
		if cmd.Action == models.ActionBlock {
			p.stats.RecordBlock()
		}
	}
	p.stats.RecordAlert(alert.SrcIP, assessment.Category, decided, anomalyScore, time.Since(start))

	record := &models.TrainingRecord{
		Timestamp:     alert.Timestamp,
		SourceIP:      alert.SrcIP,
		DestIP:        alert.DestIP,
		Signature:     alert.Signature,
		SignatureID:   alert.SignatureID,
		Category:      alert.Category,
		Features:      vec,
		Assessment:    assessment,
		AutoLabelHint: trainingjson.AutoLabelHint(&assessment),
	}

	return workItem{record: record, cmds: cmds}
}

// writeLoop batches records and commands, flushing on size, interval and
// shutdown. Failed flushes retry with backoff so nothing is dropped while
// the sink is down.
func (p *Pipeline) writeLoop(ctx context.Context, in <-chan workItem) {
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	var batchRecords []*models.TrainingRecord
	var batchCmds []models.ActionCommand

	flush := func() {
		if p.commandWriter != nil && len(batchCmds) > 0 {
			for {
				if err := p.commandWriter.WriteCommands(context.Background(), batchCmds); err != nil {
					logger.Errorf("Failed to write action commands: %v", err)
					select {
					case <-ctx.Done():
						return
					case <-time.After(1 * time.Second):
					}
					continue
				}
				batchCmds = nil
				break
			}
		}
		if p.trainingWriter != nil && len(batchRecords) > 0 {
			for {
				if err := p.trainingWriter.WriteRecords(batchRecords); err != nil {
					logger.Errorf("Failed to write training records: %v", err)
					select {
					case <-ctx.Done():
						return
					case <-time.After(1 * time.Second):
					}
					continue
				}
				batchRecords = nil
				break
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			// Drain whatever the workers already produced.
			for {
				select {
				case item, ok := <-in:
					if !ok {
						flush()
						return
					}
					batchRecords = append(batchRecords, item.record)
					batchCmds = append(batchCmds, item.cmds...)
				default:
					flush()
					return
				}
			}
		case <-ticker.C:
			flush()
		case item, ok := <-in:
			if !ok {
				flush()
				return
			}
			if item.record != nil {
				batchRecords = append(batchRecords, item.record)
			}
			if len(item.cmds) > 0 {
				batchCmds = append(batchCmds, item.cmds...)
			}
			if len(batchRecords) >= p.cfg.BatchSize || len(batchCmds) > 0 {
				// Commands are latency-sensitive; never hold them for
				// the next tick.
				flush()
			}
		}
	}
}

// sweepLoop expires blocks, pending confirmations and idle profiles.
func (p *Pipeline) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			if cmds := p.policy.Sweep(now); len(cmds) > 0 && p.commandWriter != nil {
				if err := p.commandWriter.WriteCommands(ctx, cmds); err != nil {
					logger.Errorf("Failed to write expiry commands: %v", err)
				}
			}
			if evicted := p.profiles.EvictExpired(now); evicted > 0 {
				logger.Debugf("Evicted %d idle profiles", evicted)
			}
			if p.scorer.NeedsTraining() {
				go func() {
					if err := p.scorer.Retrain(ctx); err != nil {
						logger.Warnf("Anomaly model bootstrap failed: %v", err)
					}
				}()
			}
			p.stats.SetActiveBlocks(len(p.policy.Blocks()))
			p.stats.SetTrackedProfiles(p.profiles.Len())
		}
	}
}

// controlLoop routes operator requests to the policy engine and emits the
// resulting commands immediately; confirmations are deadline-bound, so they
// never wait for the next write-loop flush.
func (p *Pipeline) controlLoop(ctx context.Context) {
	for {
		reqs, err := p.control.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("Failed to read control stream: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(1 * time.Second):
			}
			continue
		}
		if ctx.Err() != nil {
			return
		}
		for _, req := range reqs {
			p.applyControl(ctx, req)
		}
	}
}

func (p *Pipeline) applyControl(ctx context.Context, req models.ControlRequest) {
	var cmd models.ActionCommand
	var ok bool

	switch req.Op {
	case models.ControlConfirm:
		if cmd, ok = p.policy.Confirm(req.CommandID); !ok {
			logger.Warnf("Confirmation ignored for unknown or expired command %s", req.CommandID)
			return
		}
		p.stats.RecordBlock()
	case models.ControlUnblock:
		if cmd, ok = p.policy.Unblock(req.IP); !ok {
			logger.Warnf("Unblock ignored for %s: not blocked", req.IP)
			return
		}
	default:
		logger.Warnf("Unknown control op %q", req.Op)
		return
	}

	logger.Infof("Operator %s applied for %s (command_id=%s)", req.Op, cmd.IP, cmd.CommandID)
	if p.commandWriter != nil {
		if err := p.commandWriter.WriteCommands(ctx, []models.ActionCommand{cmd}); err != nil {
			logger.Errorf("Failed to write %s command: %v", cmd.Action, err)
		}
	}
}

// ackLoop records executor outcomes against their command IDs.
func (p *Pipeline) ackLoop(ctx context.Context) {
	for {
		outcomes, err := p.outcomes.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("Failed to read executor acks: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(1 * time.Second):
			}
			continue
		}
		if ctx.Err() != nil {
			return
		}
		for _, outcome := range outcomes {
			p.policy.RecordOutcome(outcome)
		}
	}
}

func (p *Pipeline) shouldDrop(alert *models.Alert) bool {
	sig := strings.ToLower(alert.Signature)
	for _, marker := range hardDrop {
		if strings.Contains(sig, marker) {
			return true
		}
	}
	return false
}

// seenBefore tracks a bounded window of recent event identities so
// duplicate deliveries do not double-count behavioral windows.
func (p *Pipeline) seenBefore(identity string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.dedupe[identity]; ok {
		return true
	}
	p.dedupe[identity] = struct{}{}
	p.order = append(p.order, identity)
	if len(p.order) > p.cfg.DedupeWindow {
		delete(p.dedupe, p.order[0])
		p.order = p.order[1:]
	}
	return false
}

func shardFor(ip string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(ip))
	return int(h.Sum32() % uint32(n))
}
