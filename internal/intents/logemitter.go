package intents

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/finova-net/finova-sub005/pkg/models"
)

// LogEmitter delivers intents by logging them, for local development and
// for deployments that have not yet wired a real blockchain/notification
// adapter. It never fails, so intents are always marked delivered.
type LogEmitter struct {
	logger zerolog.Logger
}

// NewLogEmitter constructs a LogEmitter.
func NewLogEmitter(logger zerolog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

func (e *LogEmitter) Deliver(ctx context.Context, intent models.Intent) error {
	e.logger.Info().
		Str("kind", string(intent.Kind)).
		Str("user_id", string(intent.UserID)).
		Int64("amount", intent.Amount).
		Str("provenance", intent.Provenance).
		Str("idempotency_key", intent.IdempotencyKey).
		Msg("intents: delivered")
	return nil
}
