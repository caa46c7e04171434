// Package store defines the abstract adapters the engine needs for
// durable state (spec.md §4.3, §6): a per-user optimistically
// concurrent User/Session repository, an append-only reward event log,
// a referral graph store and a card store. The engine assumes
// linearizable per-user reads and writes from any implementation.
package store

import (
	"context"
	"time"

	"github.com/finova-net/finova-sub005/pkg/models"
)

// MaxConflictRetries is N in spec.md §4.3's "retry on conflict up to N=5".
const MaxConflictRetries = 5

// Mutator transforms a User in place; returning an error aborts the update
// without persisting any change.
type Mutator func(u *models.User) error

// SessionMutator transforms a MiningSession in place.
type SessionMutator func(s *models.MiningSession) error

// UserStateStore is the abstract per-user repository of spec.md §4.3.
type UserStateStore interface {
	Get(ctx context.Context, id models.UserId) (models.User, error)
	// GetOrCreate returns the existing user or creates one with defaults.
	GetOrCreate(ctx context.Context, id models.UserId, now time.Time) (models.User, error)
	// Update applies mutator under optimistic concurrency, retrying on
	// version conflicts up to MaxConflictRetries.
	Update(ctx context.Context, id models.UserId, mutator Mutator) (models.User, error)
	CreditFIN(ctx context.Context, id models.UserId, amount int64, sourceTag string) (models.User, error)
	CreditXP(ctx context.Context, id models.UserId, amount uint64) (models.User, error)
	CreditRP(ctx context.Context, id models.UserId, delta int64) (models.User, error)

	// TodayAccrued returns the amount already credited to the user's
	// balance+claims today (UTC), for the daily-cap invariant I1/P2.
	TodayAccrued(ctx context.Context, id models.UserId, today string) (int64, error)
	RecordAccrued(ctx context.Context, id models.UserId, today string, amount int64) error

	// Session lifecycle (at most one Active session per user, I2).
	GetActiveSession(ctx context.Context, id models.UserId) (*models.MiningSession, error)
	// GetSession returns the user's most recent session regardless of
	// status, so closed-session cooldowns remain readable (spec.md §4.10).
	GetSession(ctx context.Context, id models.UserId) (*models.MiningSession, error)
	PutSession(ctx context.Context, s models.MiningSession) error
	UpdateSession(ctx context.Context, userID models.UserId, sessionID string, mutator SessionMutator) (models.MiningSession, error)

	// Idempotency cache for (user_id, client_event_id) -> outcome (P7).
	GetCachedOutcome(ctx context.Context, userID models.UserId, clientEventID string) (*models.RewardOutcome, bool, error)
	PutCachedOutcome(ctx context.Context, userID models.UserId, clientEventID string, outcome models.RewardOutcome) error
}

// RewardEventLog is the append-only, per-user-partitioned log of spec.md §6.
type RewardEventLog interface {
	Append(ctx context.Context, userID models.UserId, rec models.EventLogRecord) (seq uint64, err error)
	NextSeq(ctx context.Context, userID models.UserId) (uint64, error)
}

// ReferralGraphStore maintains the referral DAG of spec.md §4.9.
type ReferralGraphStore interface {
	// InsertEdge adds referrer->referee, rejecting cycles (I3) and a
	// referee that already has an inbound edge.
	InsertEdge(ctx context.Context, edge models.ReferralEdge) error
	ReferrerOf(ctx context.Context, referee models.UserId) (models.UserId, bool, error)
	Children(ctx context.Context, referrer models.UserId) ([]models.ReferralEdge, error)
	GetSnapshot(ctx context.Context, userID models.UserId) (*models.ReferralNetworkSnapshot, error)
	PutSnapshot(ctx context.Context, snap models.ReferralNetworkSnapshot) error
}

// CardStore holds active NFTCardEffect instances per user (spec.md §3).
type CardStore interface {
	ActiveEffects(ctx context.Context, userID models.UserId) ([]models.NFTCardEffect, error)
	PutEffect(ctx context.Context, effect models.NFTCardEffect) error
	RemoveEffect(ctx context.Context, userID models.UserId, instanceID string) error
	OwnsCard(ctx context.Context, userID models.UserId, cardID string) (bool, error)
	CooldownUntil(ctx context.Context, userID models.UserId, cardKind string) (time.Time, bool, error)
	SetCooldown(ctx context.Context, userID models.UserId, cardKind string, until time.Time) error
}
