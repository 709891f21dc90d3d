package policy

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"netsentry/internal/logger"
	"netsentry/pkg/models"
)

// State is the per-IP position in the response escalation ladder.
type State int

const (
	StateClear State = iota
	StateMonitored
	StateRateLimited
	StateBlocked
)

func (s State) String() string {
	switch s {
	case StateMonitored:
		return "MONITORED"
	case StateRateLimited:
		return "RATE_LIMITED"
	case StateBlocked:
		return "BLOCKED"
	default:
		return "CLEAR"
	}
}

// Config controls the policy engine's safety behavior.
type Config struct {
	BlockTTL             time.Duration
	DryRun               bool
	ConfirmationRequired bool
	ConfirmationTimeout  time.Duration
}

const maxOutcomes = 1000

// Engine is the response policy state machine. Transitions for one IP are
// mutually exclusive; a second assessment for an IP mid-transition waits on
// that IP's lock instead of racing. Different IPs proceed independently.
type Engine struct {
	cfg Config

	mu       sync.Mutex // guards maps, not transitions
	byIP     map[string]*ipState
	pending  map[string]*pendingAction
	outcomes map[string]models.ActionOutcome
	order    []string // outcome insertion order, for bounded eviction

	now func() time.Time
}

type ipState struct {
	mu    sync.Mutex
	ip    string
	state State
	block *models.BlockEntry
}

type pendingAction struct {
	cmd      models.ActionCommand
	deadline time.Time
}

// NewEngine creates a policy engine.
func NewEngine(cfg Config) *Engine {
	if cfg.BlockTTL <= 0 {
		cfg.BlockTTL = 24 * time.Hour
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = 5 * time.Minute
	}
	return &Engine{
		cfg:      cfg,
		byIP:     make(map[string]*ipState),
		pending:  make(map[string]*pendingAction),
		outcomes: make(map[string]models.ActionOutcome),
		now:      time.Now,
	}
}

// Decide applies one assessment to the source's state machine and returns
// the action commands to emit, if any. BLOCKED is never downgraded; lower
// categories only ever escalate; a renewed CRITICAL refreshes the block TTL
// without emitting a second BLOCK.
func (e *Engine) Decide(assessment *models.ThreatAssessment) []models.ActionCommand {
	ip := assessment.Alert.SrcIP
	st := e.stateFor(ip)

	st.mu.Lock()
	defer st.mu.Unlock()

	now := e.now()
	switch assessment.Category {
	case models.CategoryCritical:
		return e.decideCritical(st, assessment, now)
	case models.CategoryHigh:
		if st.state >= StateRateLimited {
			return nil
		}
		if e.cfg.DryRun {
			logger.Infof("[dry-run] would rate-limit %s (score=%.2f)", ip, assessment.ThreatScore)
			return nil
		}
		st.state = StateRateLimited
		return []models.ActionCommand{e.newCommand(models.ActionRateLimit, ip, assessment, 0, now)}
	case models.CategoryMedium:
		if st.state >= StateMonitored {
			return nil
		}
		if e.cfg.DryRun {
			logger.Infof("[dry-run] would monitor %s (score=%.2f)", ip, assessment.ThreatScore)
			return nil
		}
		st.state = StateMonitored
		return []models.ActionCommand{e.newCommand(models.ActionMonitor, ip, assessment, 0, now)}
	default:
		// LOW and INFO never change an existing state.
		return nil
	}
}

func (e *Engine) decideCritical(st *ipState, assessment *models.ThreatAssessment, now time.Time) []models.ActionCommand {
	ip := st.ip

	if st.state == StateBlocked && st.block != nil {
		// Re-block refreshes expiry; never a duplicate entry or command.
		st.block.ExpiresAt = now.Add(e.cfg.BlockTTL)
		st.block.ThreatScore = assessment.ThreatScore
		logger.Debugf("Block refreshed for %s until %s", ip, st.block.ExpiresAt.Format(time.RFC3339))
		return nil
	}

	if e.cfg.DryRun {
		logger.Infof("[dry-run] would block %s for %s (score=%.2f)", ip, e.cfg.BlockTTL, assessment.ThreatScore)
		return nil
	}

	cmd := e.newCommand(models.ActionBlock, ip, assessment, e.cfg.BlockTTL, now)

	if e.cfg.ConfirmationRequired {
		e.mu.Lock()
		e.pending[cmd.CommandID] = &pendingAction{
			cmd:      cmd,
			deadline: now.Add(e.cfg.ConfirmationTimeout),
		}
		e.mu.Unlock()
		logger.Warnf("CRITICAL action for %s held for confirmation (command_id=%s, timeout=%s)",
			ip, cmd.CommandID, e.cfg.ConfirmationTimeout)
		return nil
	}

	e.applyBlock(st, cmd, now)
	return []models.ActionCommand{cmd}
}

// applyBlock transitions to BLOCKED. Caller holds st.mu.
func (e *Engine) applyBlock(st *ipState, cmd models.ActionCommand, now time.Time) {
	st.state = StateBlocked
	st.block = &models.BlockEntry{
		IP:          st.ip,
		Reason:      cmd.Reason,
		ThreatScore: cmd.ThreatScore,
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.cfg.BlockTTL),
	}
}

// Confirm executes a held CRITICAL action. The returned command must be
// emitted by the caller; ok is false for unknown or expired command IDs.
func (e *Engine) Confirm(commandID string) (models.ActionCommand, bool) {
	e.mu.Lock()
	p, ok := e.pending[commandID]
	if ok {
		delete(e.pending, commandID)
	}
	e.mu.Unlock()
	if !ok {
		return models.ActionCommand{}, false
	}

	now := e.now()
	if now.After(p.deadline) {
		logger.Warnf("Confirmation for %s arrived after timeout; decision stays logged-only", p.cmd.IP)
		return models.ActionCommand{}, false
	}

	st := e.stateFor(p.cmd.IP)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.state == StateBlocked && st.block != nil {
		st.block.ExpiresAt = now.Add(e.cfg.BlockTTL)
		return models.ActionCommand{}, false
	}
	e.applyBlock(st, p.cmd, now)
	return p.cmd, true
}

// Sweep expires blocks and pending confirmations as of now. Expired blocks
// transition back to CLEAR exactly at their expiry instant and produce an
// UNBLOCK command for the executor.
func (e *Engine) Sweep(now time.Time) []models.ActionCommand {
	e.mu.Lock()
	for id, p := range e.pending {
		if now.After(p.deadline) {
			delete(e.pending, id)
			logger.Warnf("Unconfirmed CRITICAL action for %s timed out; logged, not executed (command_id=%s)", p.cmd.IP, id)
		}
	}
	states := make([]*ipState, 0, len(e.byIP))
	for _, st := range e.byIP {
		states = append(states, st)
	}
	e.mu.Unlock()

	var cmds []models.ActionCommand
	for _, st := range states {
		st.mu.Lock()
		if st.state == StateBlocked && st.block != nil && st.block.Expired(now) {
			logger.Infof("Block expired for %s", st.ip)
			st.state = StateClear
			st.block = nil
			cmds = append(cmds, models.ActionCommand{
				CommandID: uuid.NewString(),
				Action:    models.ActionUnblock,
				IP:        st.ip,
				Reason:    "block TTL expired",
				IssuedAt:  now,
			})
		}
		st.mu.Unlock()
	}
	return cmds
}

// Unblock clears an IP explicitly and returns the UNBLOCK command to emit.
func (e *Engine) Unblock(ip string) (models.ActionCommand, bool) {
	st := e.stateFor(ip)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.state != StateBlocked {
		return models.ActionCommand{}, false
	}
	st.state = StateClear
	st.block = nil
	return models.ActionCommand{
		CommandID: uuid.NewString(),
		Action:    models.ActionUnblock,
		IP:        ip,
		Reason:    "operator unblock",
		IssuedAt:  e.now(),
	}, true
}

// RecordOutcome stores an executor acknowledgment. Failures are logged but
// never retried here; escalation is a policy decision.
func (e *Engine) RecordOutcome(outcome models.ActionOutcome) {
	if !outcome.Success {
		logger.Errorf("Executor reported failure for command %s: %s", outcome.CommandID, outcome.Error)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.outcomes[outcome.CommandID]; !exists {
		e.order = append(e.order, outcome.CommandID)
		if len(e.order) > maxOutcomes {
			delete(e.outcomes, e.order[0])
			e.order = e.order[1:]
		}
	}
	e.outcomes[outcome.CommandID] = outcome
}

// Outcome returns the recorded executor result for a command, if any.
func (e *Engine) Outcome(commandID string) (models.ActionOutcome, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out, ok := e.outcomes[commandID]
	return out, ok
}

// StateOf returns the current machine state for an IP.
func (e *Engine) StateOf(ip string) State {
	e.mu.Lock()
	st, ok := e.byIP[ip]
	e.mu.Unlock()
	if !ok {
		return StateClear
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state
}

// Blocks returns a copy of the active block entries for persistence.
func (e *Engine) Blocks() []models.BlockEntry {
	e.mu.Lock()
	states := make([]*ipState, 0, len(e.byIP))
	for _, st := range e.byIP {
		states = append(states, st)
	}
	e.mu.Unlock()

	var blocks []models.BlockEntry
	for _, st := range states {
		st.mu.Lock()
		if st.state == StateBlocked && st.block != nil {
			blocks = append(blocks, *st.block)
		}
		st.mu.Unlock()
	}
	return blocks
}

// RestoreBlocks repopulates the block registry from a persisted snapshot.
// Entries keep their original expiry so downtime counts against the TTL.
func (e *Engine) RestoreBlocks(blocks []models.BlockEntry) {
	now := e.now()
	for i := range blocks {
		b := blocks[i]
		if b.Expired(now) {
			continue
		}
		st := e.stateFor(b.IP)
		st.mu.Lock()
		st.state = StateBlocked
		st.block = &b
		st.mu.Unlock()
	}
}

// PendingCount returns the number of actions awaiting confirmation.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// PendingCommands returns copies of the actions awaiting confirmation so
// operators can look up the command ID to confirm.
func (e *Engine) PendingCommands() []models.ActionCommand {
	e.mu.Lock()
	defer e.mu.Unlock()
	cmds := make([]models.ActionCommand, 0, len(e.pending))
	for _, p := range e.pending {
		cmds = append(cmds, p.cmd)
	}
	return cmds
}

func (e *Engine) stateFor(ip string) *ipState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.byIP[ip]
	if !ok {
		st = &ipState{ip: ip}
		e.byIP[ip] = st
	}
	return st
}

func (e *Engine) newCommand(action, ip string, assessment *models.ThreatAssessment, ttl time.Duration, now time.Time) models.ActionCommand {
	reason := assessment.Alert.Signature
	if len(reason) > 80 {
		// Cut on a rune boundary so a multi-byte signature stays valid UTF-8.
		cut := 80
		for cut > 0 && !utf8.RuneStart(reason[cut]) {
			cut--
		}
		reason = reason[:cut]
	}
	reason = fmt.Sprintf("%s: %s", assessment.Category, reason)

	return models.ActionCommand{
		CommandID:   uuid.NewString(),
		Action:      action,
		IP:          ip,
		Reason:      reason,
		ThreatScore: assessment.ThreatScore,
		TTLSeconds:  int64(ttl.Seconds()),
		IssuedAt:    now,
	}
}
