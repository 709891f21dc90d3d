package redis

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"

	"netsentry/pkg/models"
)

// ControlReader tails the operator control stream carrying confirmations
// for held CRITICAL actions and explicit unblock requests. Like the ack
// reader it starts at the stream tail: a restarted processor has no held
// actions an old confirmation could apply to.
type ControlReader struct {
	client       *redis.Client
	stream       string
	blockTimeout time.Duration
	lastID       string
}

// NewControlReader creates a reader positioned at the stream tail.
func NewControlReader(addr, password string, db int, stream string, blockTimeout time.Duration) *ControlReader {
	if blockTimeout <= 0 {
		blockTimeout = 5 * time.Second
	}
	return &ControlReader{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		stream:       stream,
		blockTimeout: blockTimeout,
		lastID:       "$",
	}
}

// Read blocks for up to the configured timeout and returns newly published
// control requests. Entries without a recognized op field are skipped.
func (r *ControlReader) Read(ctx context.Context) ([]models.ControlRequest, error) {
	res, err := r.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{r.stream, r.lastID},
		Count:   32,
		Block:   r.blockTimeout,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var reqs []models.ControlRequest
	for _, stream := range res {
		for _, entry := range stream.Messages {
			r.lastID = entry.ID
			req := models.ControlRequest{
				Op:        stringField(entry.Values, "op"),
				CommandID: stringField(entry.Values, "command_id"),
				IP:        stringField(entry.Values, "ip_address"),
			}
			if req.Op == "" {
				continue
			}
			reqs = append(reqs, req)
		}
	}
	return reqs, nil
}

// Close closes the reader.
func (r *ControlReader) Close() error {
	return r.client.Close()
}
