package models

import "time"

// ActionCommand is sent to the action-execution collaborator. CommandID is
// unique and echoed back in the executor's acknowledgment.
type ActionCommand struct {
	CommandID   string    `json:"command_id"`
	Action      string    `json:"action"`
	IP          string    `json:"ip_address"`
	Reason      string    `json:"reason"`
	ThreatScore float64   `json:"threat_score"`
	TTLSeconds  int64     `json:"ttl_seconds"`
	IssuedAt    time.Time `json:"issued_at"`
}

// Operator control operations.
const (
	ControlConfirm = "confirm"
	ControlUnblock = "unblock"
)

// ControlRequest is an operator instruction read from the control stream:
// confirming a held CRITICAL action or explicitly unblocking an IP.
type ControlRequest struct {
	Op        string `json:"op"`
	CommandID string `json:"command_id,omitempty"`
	IP        string `json:"ip,omitempty"`
}

// ActionOutcome is the executor's acknowledgment for one command.
type ActionOutcome struct {
	CommandID   string `json:"command_id"`
	Success     bool   `json:"success"`
	Error       string `json:"error_message,omitempty"`
	ExecutionMS int64  `json:"execution_time_ms"`
}

// BlockEntry is one active block. At most one exists per IP; re-blocking
// refreshes ExpiresAt instead of duplicating.
type BlockEntry struct {
	IP          string    `json:"ip"`
	Reason      string    `json:"reason"`
	ThreatScore float64   `json:"threat_score"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the block has passed its expiry instant.
func (b *BlockEntry) Expired(now time.Time) bool {
	return !now.Before(b.ExpiresAt)
}
