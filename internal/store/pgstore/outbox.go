package pgstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finova-net/finova-sub005/internal/engineerr"
	"github.com/finova-net/finova-sub005/pkg/models"
)

// Outbox is the Postgres-backed intents.Outbox targeting the
// intent_outbox table (spec.md §6). Implemented structurally against
// internal/intents.Outbox so this package need not import it.
type Outbox struct {
	pool *pgxpool.Pool
}

// NewOutbox constructs an Outbox backed by the same pool as Store.
func NewOutbox(s *Store) *Outbox {
	return &Outbox{pool: s.pool}
}

func (o *Outbox) Enqueue(ctx context.Context, intent models.Intent) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return engineerr.Unavailable("intent encode failed", err)
	}
	_, err = o.pool.Exec(ctx, `
		INSERT INTO intent_outbox (idempotency_key, kind, payload, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		intent.IdempotencyKey, string(intent.Kind), payload, time.Now())
	if err != nil {
		return engineerr.Unavailable("outbox enqueue failed", err)
	}
	return nil
}

func (o *Outbox) MarkDelivered(ctx context.Context, idempotencyKey string) error {
	_, err := o.pool.Exec(ctx, `
		UPDATE intent_outbox SET delivered_at = $1 WHERE idempotency_key = $2`,
		time.Now(), idempotencyKey)
	if err != nil {
		return engineerr.Unavailable("outbox mark-delivered failed", err)
	}
	return nil
}

func (o *Outbox) Pending(ctx context.Context, limit int) ([]models.Intent, error) {
	rows, err := o.pool.Query(ctx, `
		SELECT payload FROM intent_outbox WHERE delivered_at IS NULL
		ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, engineerr.Unavailable("outbox pending query failed", err)
	}
	defer rows.Close()

	var out []models.Intent
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, engineerr.Unavailable("outbox row scan failed", err)
		}
		var intent models.Intent
		if err := json.Unmarshal(raw, &intent); err != nil {
			return nil, engineerr.Unavailable("outbox payload decode failed", err)
		}
		out = append(out, intent)
	}
	return out, rows.Err()
}
