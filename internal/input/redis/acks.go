package redis

import (
	"context"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"netsentry/pkg/models"
)

// AckReader tails the executor acknowledgment stream. Acks are advisory,
// so plain XRead without a group is enough: a restarted reader only cares
// about new outcomes.
type AckReader struct {
	client       *redis.Client
	stream       string
	blockTimeout time.Duration
	lastID       string
}

// NewAckReader creates a reader positioned at the stream tail.
func NewAckReader(addr, password string, db int, stream string, blockTimeout time.Duration) *AckReader {
	if blockTimeout <= 0 {
		blockTimeout = 5 * time.Second
	}
	return &AckReader{
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
// outcomes.
func (r *AckReader) Read(ctx context.Context) ([]models.ActionOutcome, error) {
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

	var outcomes []models.ActionOutcome
	for _, stream := range res {
		for _, entry := range stream.Messages {
			r.lastID = entry.ID
			outcomes = append(outcomes, parseOutcome(entry.Values))
		}
	}
	return outcomes, nil
}

// Close closes the reader.
func (r *AckReader) Close() error {
	return r.client.Close()
}

func parseOutcome(values map[string]interface{}) models.ActionOutcome {
	out := models.ActionOutcome{
		CommandID: stringField(values, "command_id"),
		Error:     stringField(values, "error_message"),
	}
	out.Success = stringField(values, "success") == "true"
	if ms, err := strconv.ParseInt(stringField(values, "execution_time_ms"), 10, 64); err == nil {
		out.ExecutionMS = ms
	}
	return out
}

func stringField(values map[string]interface{}, key string) string {
	if v, ok := values[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
