package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Config configures the Redis stream consumer.
type Config struct {
	Addr         string
	Password     string
	DB           int
	Stream       string
	Group        string
	Consumer     string
	BlockTimeout time.Duration
	BatchSize    int64
}

// Message is one raw alert payload read from the stream. ID doubles as the
// stable event identity for deduplication.
type Message struct {
	ID      string
	Payload []byte
}

// Consumer reads sensor alerts from a Redis stream with a consumer group,
// matching the agent protocol: each entry carries the full EVE record in
// its event_data field.
type Consumer struct {
	client       *redis.Client
	stream       string
	group        string
	consumer     string
	blockTimeout time.Duration
	batchSize    int64
}

// NewConsumer creates a consumer and ensures the group exists.
func NewConsumer(ctx context.Context, cfg Config) (*Consumer, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if cfg.Stream == "" {
		return nil, fmt.Errorf("redis stream is required")
	}
	if cfg.Group == "" {
		cfg.Group = "netsentry-processors"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "netsentry-1"
	}
	if cfg.BlockTimeout == 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	err := client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		client.Close()
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	return &Consumer{
		client:       client,
		stream:       cfg.Stream,
		group:        cfg.Group,
		consumer:     cfg.Consumer,
		blockTimeout: cfg.BlockTimeout,
		batchSize:    cfg.BatchSize,
	}, nil
}

// Read blocks for up to the configured timeout and returns the next batch
// of messages. A timeout returns an empty batch, not an error.
func (c *Consumer) Read(ctx context.Context) ([]Message, error) {
	res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    c.batchSize,
		Block:    c.blockTimeout,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var msgs []Message
	for _, stream := range res {
		for _, entry := range stream.Messages {
			payload := extractPayload(entry.Values)
			if payload == nil {
				// Nothing usable; ack so it is not redelivered forever.
				c.Ack(ctx, entry.ID)
				continue
			}
			msgs = append(msgs, Message{ID: entry.ID, Payload: payload})
		}
	}
	return msgs, nil
}

// Ack acknowledges a processed message.
func (c *Consumer) Ack(ctx context.Context, id string) error {
	return c.client.XAck(ctx, c.stream, c.group, id).Err()
}

// Close closes the consumer.
func (c *Consumer) Close() error {
	return c.client.Close()
}

// extractPayload pulls the embedded EVE JSON out of a stream entry. The
// agent publishes the full record under event_data alongside flat copies of
// the key fields.
func extractPayload(values map[string]interface{}) []byte {
	if v, ok := values["event_data"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return []byte(s)
		}
	}
	if v, ok := values["payload"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return []byte(s)
		}
	}
	return nil
}
