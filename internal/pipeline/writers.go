package pipeline

import (
	"context"

	inputredis "netsentry/internal/input/redis"
	"netsentry/pkg/models"
)

// Source delivers raw alert messages to the pipeline.
type Source interface {
	Read(ctx context.Context) ([]inputredis.Message, error)
	Ack(ctx context.Context, id string) error
	Close() error
}

// CommandWriter emits action commands to the executor.
type CommandWriter interface {
	WriteCommands(ctx context.Context, cmds []models.ActionCommand) error
	Close() error
}

// TrainingWriter archives training/decision records.
type TrainingWriter interface {
	WriteRecords(records []*models.TrainingRecord) error
	Close() error
}

// OutcomeSource delivers executor acknowledgments.
type OutcomeSource interface {
	Read(ctx context.Context) ([]models.ActionOutcome, error)
	Close() error
}

// ControlSource delivers operator control requests (confirmations and
// explicit unblocks).
type ControlSource interface {
	Read(ctx context.Context) ([]models.ControlRequest, error)
	Close() error
}
