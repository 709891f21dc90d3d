package commandredis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"netsentry/internal/logger"
	"netsentry/pkg/models"
)

// Config configures the command stream writer.
type Config struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

// Writer publishes action commands to the executor's Redis stream using
// the flat field layout the firewall agent consumes.
type Writer struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewWriter creates a command writer.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if cfg.Stream == "" {
		return nil, fmt.Errorf("command stream is required")
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = 10000
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis command stream: %w", err)
	}

	logger.Infof("Command writer initialized: stream=%s", cfg.Stream)
	return &Writer{client: client, stream: cfg.Stream, maxLen: cfg.MaxLen}, nil
}

// WriteCommands publishes a batch of commands.
func (w *Writer) WriteCommands(ctx context.Context, cmds []models.ActionCommand) error {
	if len(cmds) == 0 {
		return nil
	}

	pipe := w.client.Pipeline()
	for _, cmd := range cmds {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: w.stream,
			MaxLen: w.maxLen,
			Approx: true,
			Values: map[string]interface{}{
				"command_id":   cmd.CommandID,
				"action":       cmd.Action,
				"ip_address":   cmd.IP,
				"reason":       cmd.Reason,
				"threat_score": strconv.FormatFloat(cmd.ThreatScore, 'f', 4, 64),
				"ttl_seconds":  strconv.FormatInt(cmd.TTLSeconds, 10),
				"issued_at":    cmd.IssuedAt.UTC().Format(time.RFC3339Nano),
			},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish action commands: %w", err)
	}
	return nil
}

// Close closes the writer.
func (w *Writer) Close() error {
	return w.client.Close()
}
