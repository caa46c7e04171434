// Package intents implements the outbox pattern for side-effect delivery
// (spec.md §6/GLOSSARY): MintIntent, CardBurnIntent and NotificationIntent
// are persisted before being handed to an external adapter, so a crash
// between commit and delivery cannot lose a payout. Grounded on the
// teacher's db.SaveAnalysisResult / SaveRiskAssessment best-effort-persist
// pattern, generalized from forensic result storage to at-least-once
// intent delivery.
package intents

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/finova-net/finova-sub005/pkg/models"
)

// Outbox persists intents durably before delivery and lets the delivery
// loop mark them delivered; a Postgres-backed implementation targets the
// intent_outbox table, an in-memory one is used for tests and for
// running without a database.
type Outbox interface {
	Enqueue(ctx context.Context, intent models.Intent) error
	MarkDelivered(ctx context.Context, idempotencyKey string) error
	Pending(ctx context.Context, limit int) ([]models.Intent, error)
}

// Emitter hands an intent to whatever external system finally executes
// it (blockchain mint, notification service). A failed Deliver call
// leaves the intent pending in the Outbox for retry.
type Emitter interface {
	Deliver(ctx context.Context, intent models.Intent) error
}

// Dispatcher drains the Outbox and hands pending intents to an Emitter,
// marking each delivered on success; failures are left for the next pass
// (spec.md §7: intent emitter unavailability is handled by outbox-persist
// and retry, never by dropping the intent).
type Dispatcher struct {
	outbox  Outbox
	emitter Emitter
	logger  zerolog.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(outbox Outbox, emitter Emitter, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{outbox: outbox, emitter: emitter, logger: logger}
}

// DispatchOnce drains up to batchSize pending intents, delivering each
// and marking it delivered; it returns the count successfully delivered.
func (d *Dispatcher) DispatchOnce(ctx context.Context, batchSize int) (int, error) {
	pending, err := d.outbox.Pending(ctx, batchSize)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, intent := range pending {
		if err := d.emitter.Deliver(ctx, intent); err != nil {
			d.logger.Warn().Err(err).Str("idempotency_key", intent.IdempotencyKey).
				Str("kind", string(intent.Kind)).Msg("intents: delivery failed, will retry")
			continue
		}
		if err := d.outbox.MarkDelivered(ctx, intent.IdempotencyKey); err != nil {
			d.logger.Warn().Err(err).Str("idempotency_key", intent.IdempotencyKey).
				Msg("intents: mark-delivered failed")
			continue
		}
		delivered++
	}
	return delivered, nil
}

// IdempotencyKey builds the (user_id, seq) key spec.md requires on every
// intent so redelivery and out-of-order arrival are both safe.
func IdempotencyKey(userID models.UserId, seq uint64) string {
	return fmt.Sprintf("%s:%d", userID, seq)
}

// NewMintIntent builds a MintIntent for a claimed or fanned-out $FIN
// amount, tagged with provenance for audit (e.g. "claim", "referral_l1").
func NewMintIntent(userID models.UserId, amount int64, seq uint64, provenance string) models.Intent {
	return models.Intent{
		Kind:           models.IntentMint,
		UserID:         userID,
		Amount:         amount,
		Provenance:     provenance,
		Seq:            seq,
		IdempotencyKey: IdempotencyKey(userID, seq),
	}
}

// NewCardBurnIntent builds a CardBurnIntent for a single-use card's
// post-application cleanup (spec.md §4.13).
func NewCardBurnIntent(userID models.UserId, cardID string, seq uint64) models.Intent {
	return models.Intent{
		Kind:           models.IntentCardBurn,
		UserID:         userID,
		CardID:         cardID,
		Seq:            seq,
		IdempotencyKey: IdempotencyKey(userID, seq),
	}
}

// NewNotificationIntent builds a best-effort user-facing notification
// (LevelUp, TierChange, SessionSuspended).
func NewNotificationIntent(userID models.UserId, message string, seq uint64) models.Intent {
	return models.Intent{
		Kind:           models.IntentNotification,
		UserID:         userID,
		Message:        message,
		Seq:            seq,
		IdempotencyKey: IdempotencyKey(userID, seq),
	}
}
