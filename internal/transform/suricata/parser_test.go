package suricata

import (
	"testing"
	"time"
)

const sampleAlert = `{
	"timestamp": "2026-03-15T10:30:45.123456+0000",
	"flow_id": 1234567890,
	"event_type": "alert",
	"src_ip": "203.0.113.5",
	"src_port": 51515,
	"dest_ip": "10.0.0.10",
	"dest_port": 22,
	"proto": "tcp",
	"alert": {
		"signature_id": 2001219,
		"signature": "ET SCAN Potential SSH Scan",
		"category": "Attempted Information Leak",
		"severity": 2
	},
	"flow": {
		"pkts_toserver": 10,
		"pkts_toclient": 8,
		"bytes_toserver": 1200,
		"bytes_toclient": 900,
		"start": "2026-03-15T10:30:40.123456+0000"
	}
}`

func TestParseValidAlert(t *testing.T) {
	alert, err := Parse([]byte(sampleAlert))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if alert == nil {
		t.Fatalf("expected alert, got nil")
	}

	if alert.SrcIP != "203.0.113.5" || alert.DestIP != "10.0.0.10" {
		t.Fatalf("unexpected endpoints: %s -> %s", alert.SrcIP, alert.DestIP)
	}
	if alert.SrcPort != 51515 || alert.DestPort != 22 {
		t.Fatalf("unexpected ports: %d -> %d", alert.SrcPort, alert.DestPort)
	}
	if alert.Proto != "TCP" {
		t.Fatalf("proto must normalize to upper case, got %q", alert.Proto)
	}
	if alert.SignatureID != 2001219 || alert.Severity != 2 {
		t.Fatalf("unexpected alert metadata: sid=%d severity=%d", alert.SignatureID, alert.Severity)
	}
	if alert.EventID != "1234567890" {
		t.Fatalf("expected flow_id as event identity, got %q", alert.EventID)
	}
	if alert.PacketCount != 18 {
		t.Fatalf("expected summed packet count 18, got %d", alert.PacketCount)
	}
	if alert.ByteCount != 2100 {
		t.Fatalf("expected summed byte count 2100, got %d", alert.ByteCount)
	}
	if alert.FlowDuration != 5*time.Second {
		t.Fatalf("expected 5s flow duration, got %v", alert.FlowDuration)
	}

	want := time.Date(2026, 3, 15, 10, 30, 45, 123456000, time.UTC)
	if !alert.Timestamp.Equal(want) {
		t.Fatalf("timestamp %v, want %v", alert.Timestamp, want)
	}
}

func TestParseNonAlertEventTypesAreSkipped(t *testing.T) {
	for _, eventType := range []string{"flow", "dns", "http", "stats"} {
		record := `{"timestamp": "2026-03-15T10:30:45.123456+0000", "event_type": "` + eventType + `", "src_ip": "10.0.0.1", "dest_ip": "10.0.0.2"}`
		alert, err := Parse([]byte(record))
		if err != nil {
			t.Fatalf("event_type=%s: unexpected error %v", eventType, err)
		}
		if alert != nil {
			t.Fatalf("event_type=%s: expected nil alert, got %+v", eventType, alert)
		}
	}
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	if _, err := Parse([]byte(`{"event_type": "alert",`)); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestParseRejectsIncompleteAlerts(t *testing.T) {
	cases := []struct {
		name   string
		record string
	}{
		{"missing src_ip", `{"timestamp": "2026-03-15T10:30:45+0000", "event_type": "alert", "dest_ip": "10.0.0.2", "alert": {"signature": "x", "severity": 2}}`},
		{"missing dest_ip", `{"timestamp": "2026-03-15T10:30:45+0000", "event_type": "alert", "src_ip": "10.0.0.1", "alert": {"signature": "x", "severity": 2}}`},
		{"missing signature", `{"timestamp": "2026-03-15T10:30:45+0000", "event_type": "alert", "src_ip": "10.0.0.1", "dest_ip": "10.0.0.2", "alert": {"severity": 2}}`},
		{"severity zero", `{"timestamp": "2026-03-15T10:30:45+0000", "event_type": "alert", "src_ip": "10.0.0.1", "dest_ip": "10.0.0.2", "alert": {"signature": "x", "severity": 0}}`},
		{"severity out of range", `{"timestamp": "2026-03-15T10:30:45+0000", "event_type": "alert", "src_ip": "10.0.0.1", "dest_ip": "10.0.0.2", "alert": {"signature": "x", "severity": 9}}`},
		{"missing timestamp", `{"event_type": "alert", "src_ip": "10.0.0.1", "dest_ip": "10.0.0.2", "alert": {"signature": "x", "severity": 2}}`},
	}
	for _, tc := range cases {
		if _, err := Parse([]byte(tc.record)); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestParseAcceptsAlertWithoutFlowBlock(t *testing.T) {
	record := `{"timestamp": "2026-03-15T10:30:45+0000", "event_type": "alert", "src_ip": "10.0.0.1", "dest_ip": "10.0.0.2", "proto": "udp", "alert": {"signature_id": 100, "signature": "x", "severity": 3}}`
	alert, err := Parse([]byte(record))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if alert.PacketCount != 0 || alert.ByteCount != 0 || alert.FlowDuration != 0 {
		t.Fatalf("expected zero flow stats, got %+v", alert)
	}
}

func TestParseTimestampFormats(t *testing.T) {
	formats := []string{
		"2026-03-15T10:30:45.123456+0000",
		"2026-03-15T10:30:45.123456Z",
		"2026-03-15T10:30:45Z",
		"2026-03-15T10:30:45+02:00",
	}
	for _, ts := range formats {
		if _, ok := parseTimestamp(ts); !ok {
			t.Fatalf("expected %q to parse", ts)
		}
	}
	if _, ok := parseTimestamp("not a time"); ok {
		t.Fatalf("expected garbage timestamp to fail")
	}
}
