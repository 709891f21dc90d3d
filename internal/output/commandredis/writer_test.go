package commandredis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"netsentry/pkg/models"
)

func TestWriteCommandsPublishesAgentFieldLayout(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	w, err := NewWriter(Config{Addr: mr.Addr(), Stream: "netsentry:blocks:stream"})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	issued := time.Date(2026, 6, 1, 14, 0, 0, 0, time.UTC)
	cmds := []models.ActionCommand{
		{
			CommandID:   "cmd-1",
			Action:      models.ActionBlock,
			IP:          "203.0.113.5",
			Reason:      "CRITICAL: ET SCAN Nmap",
			ThreatScore: 0.9125,
			TTLSeconds:  86400,
			IssuedAt:    issued,
		},
		{
			CommandID: "cmd-2",
			Action:    models.ActionUnblock,
			IP:        "203.0.113.6",
			Reason:    "block TTL expired",
			IssuedAt:  issued,
		},
	}
	if err := w.WriteCommands(ctx, cmds); err != nil {
		t.Fatalf("write: %v", err)
	}

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()
	entries, err := client.XRange(ctx, "netsentry:blocks:stream", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 stream entries, got %d", len(entries))
	}

	first := entries[0].Values
	if first["command_id"] != "cmd-1" || first["action"] != "BLOCK" || first["ip_address"] != "203.0.113.5" {
		t.Fatalf("unexpected first entry: %+v", first)
	}
	if first["threat_score"] != "0.9125" {
		t.Fatalf("threat score encoding: %v", first["threat_score"])
	}
	if first["ttl_seconds"] != "86400" {
		t.Fatalf("ttl encoding: %v", first["ttl_seconds"])
	}
	if first["issued_at"] != "2026-06-01T14:00:00Z" {
		t.Fatalf("issued_at encoding: %v", first["issued_at"])
	}
	if entries[1].Values["action"] != "UNBLOCK" {
		t.Fatalf("unexpected second entry: %+v", entries[1].Values)
	}
}

func TestWriteCommandsEmptyBatchIsNoop(t *testing.T) {
	mr := miniredis.RunT(t)

	w, err := NewWriter(Config{Addr: mr.Addr(), Stream: "netsentry:blocks:stream"})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	if err := w.WriteCommands(context.Background(), nil); err != nil {
		t.Fatalf("empty batch must not error: %v", err)
	}
}

func TestNewWriterRejectsUnreachableRedis(t *testing.T) {
	if _, err := NewWriter(Config{Addr: "127.0.0.1:1", Stream: "netsentry:blocks:stream"}); err == nil {
		t.Fatalf("expected connection error")
	}
}
