package models

import (
	"fmt"
	"time"
)

// Alert is one intrusion-detection event emitted by the sensor, normalized
// from a Suricata EVE record. Immutable once parsed.
type Alert struct {
	Timestamp    time.Time     `json:"timestamp"`
	EventID      string        `json:"event_id,omitempty"`
	EventType    string        `json:"event_type"`
	SrcIP        string        `json:"src_ip"`
	SrcPort      int           `json:"src_port"`
	DestIP       string        `json:"dest_ip"`
	DestPort     int           `json:"dest_port"`
	Proto        string        `json:"proto"`
	SignatureID  int           `json:"signature_id"`
	Signature    string        `json:"signature"`
	Category     string        `json:"category"`
	Severity     int           `json:"severity"`
	PacketCount  int64         `json:"packet_count"`
	ByteCount    int64         `json:"byte_count"`
	FlowDuration time.Duration `json:"flow_duration"`
}

// Identity returns a stable event identity for deduplication. The stream
// message ID is preferred; without one a composite of flow-level fields is
// used so replayed duplicates collapse to the same key.
func (a *Alert) Identity() string {
	if a.EventID != "" {
		return a.EventID
	}
	return fmt.Sprintf("%d|%s|%s|%d|%d", a.Timestamp.UnixNano(), a.SrcIP, a.DestIP, a.DestPort, a.SignatureID)
}
