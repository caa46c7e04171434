// Package pgstore is the Postgres-backed UserStateStore, following the
// teacher's internal/db/postgres.go connect/ping/transaction idiom
// (pgxpool, explicit schema.sql, begin/defer-rollback/commit), adapted
// from Bitcoin forensics records to Finova user/session/referral/card
// records per spec.md §6's persistent state layout.
package pgstore

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/finova-net/finova-sub005/internal/engineerr"
	"github.com/finova-net/finova-sub005/internal/store"
	"github.com/finova-net/finova-sub005/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

// Store is the pgx-backed implementation of store.UserStateStore and
// friends.
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Connect initializes the connection pool, mirroring the teacher's
// db.Connect: New then Ping, failing fast with a wrapped error.
func Connect(ctx context.Context, connStr string, logger zerolog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("pgstore: unable to connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pgstore: ping failed: %w", err)
	}
	logger.Info().Msg("pgstore: connected to PostgreSQL")
	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql, same pattern as the
// teacher's InitSchema reading internal/db/schema.sql from disk — here
// embedded at build time instead, so the binary has no runtime file
// dependency.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("pgstore: schema init failed: %w", err)
	}
	s.logger.Info().Msg("pgstore: schema initialized")
	return nil
}

func (s *Store) Get(ctx context.Context, id models.UserId) (models.User, error) {
	return s.scanUser(ctx, s.pool, id)
}

func (s *Store) scanUser(ctx context.Context, q pgxQuerier, id models.UserId) (models.User, error) {
	row := q.QueryRow(ctx, `
		SELECT id, version, kyc_verified, created_at, holdings, staked, xp_total,
		       xp_level, rp_total, rp_tier, streak_days, last_activity_at,
		       last_activity_day, human_score, quality_score_recent, banned,
		       suspension_reason
		FROM users WHERE id = $1`, string(id))

	var u models.User
	var idStr, tier string
	var lastActivity *time.Time
	err := row.Scan(&idStr, &u.Version, &u.KYCVerified, &u.CreatedAt, &u.Holdings, &u.Staked,
		&u.XPTotal, &u.XPLevel, &u.RPTotal, &tier, &u.StreakDays, &lastActivity,
		&u.LastActivityDay, &u.HumanScore, &u.QualityScoreRecent, &u.Banned, &u.SuspensionReason)
	if err != nil {
		if err == pgx.ErrNoRows {
			return models.User{}, engineerr.Validation("user not found", err)
		}
		return models.User{}, engineerr.Unavailable("user state store query failed", err)
	}
	u.ID = models.UserId(idStr)
	u.RPTier = models.RPTier(tier)
	if lastActivity != nil {
		u.LastActivityAt = *lastActivity
	}
	return u, nil
}

func (s *Store) GetOrCreate(ctx context.Context, id models.UserId, now time.Time) (models.User, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, created_at, rp_tier, xp_level, human_score, quality_score_recent)
		VALUES ($1, $2, 'Explorer', 1, 1.0, 1.0)
		ON CONFLICT (id) DO NOTHING`, string(id), now)
	if err != nil {
		return models.User{}, engineerr.Unavailable("user state store insert failed", err)
	}
	return s.Get(ctx, id)
}

// Update applies mutator under optimistic concurrency, retrying up to
// store.MaxConflictRetries times on a version conflict, per spec.md §4.3.
func (s *Store) Update(ctx context.Context, id models.UserId, mutator store.Mutator) (models.User, error) {
	var lastErr error
	for attempt := 0; attempt < store.MaxConflictRetries; attempt++ {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return models.User{}, engineerr.Unavailable("begin tx failed", err)
		}

		u, err := s.scanUser(ctx, tx, id)
		if err != nil {
			_ = tx.Rollback(ctx)
			return models.User{}, err
		}
		original := u
		if err := mutator(&u); err != nil {
			_ = tx.Rollback(ctx)
			return models.User{}, err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE users SET version = version + 1, kyc_verified = $1, holdings = $2,
			  staked = $3, xp_total = $4, xp_level = $5, rp_total = $6, rp_tier = $7,
			  streak_days = $8, last_activity_at = $9, last_activity_day = $10,
			  human_score = $11, quality_score_recent = $12, banned = $13,
			  suspension_reason = $14
			WHERE id = $15 AND version = $16`,
			u.KYCVerified, u.Holdings, u.Staked, u.XPTotal, u.XPLevel, u.RPTotal, string(u.RPTier),
			u.StreakDays, nullableTime(u.LastActivityAt), u.LastActivityDay, u.HumanScore,
			u.QualityScoreRecent, u.Banned, u.SuspensionReason, string(id), original.Version)
		if err != nil {
			_ = tx.Rollback(ctx)
			return models.User{}, engineerr.Unavailable("user update failed", err)
		}
		if tag.RowsAffected() == 0 {
			_ = tx.Rollback(ctx)
			lastErr = engineerr.Conflict("concurrent update conflict", nil)
			continue
		}
		if err := tx.Commit(ctx); err != nil {
			return models.User{}, engineerr.Unavailable("commit failed", err)
		}
		u.Version = original.Version + 1
		return u, nil
	}
	return models.User{}, lastErr
}

func (s *Store) CreditFIN(ctx context.Context, id models.UserId, amount int64, sourceTag string) (models.User, error) {
	return s.Update(ctx, id, func(u *models.User) error {
		u.Holdings += amount
		return nil
	})
}

func (s *Store) CreditXP(ctx context.Context, id models.UserId, amount uint64) (models.User, error) {
	return s.Update(ctx, id, func(u *models.User) error {
		u.XPTotal += amount
		return nil
	})
}

func (s *Store) CreditRP(ctx context.Context, id models.UserId, delta int64) (models.User, error) {
	return s.Update(ctx, id, func(u *models.User) error {
		if delta < 0 && uint64(-delta) > u.RPTotal {
			u.RPTotal = 0
			return nil
		}
		u.RPTotal = uint64(int64(u.RPTotal) + delta)
		return nil
	})
}

func (s *Store) TodayAccrued(ctx context.Context, id models.UserId, today string) (int64, error) {
	var amount int64
	err := s.pool.QueryRow(ctx, `SELECT amount FROM daily_accrual WHERE user_id=$1 AND day=$2`, string(id), today).Scan(&amount)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, engineerr.Unavailable("today-accrued query failed", err)
	}
	return amount, nil
}

func (s *Store) RecordAccrued(ctx context.Context, id models.UserId, today string, amount int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO daily_accrual (user_id, day, amount) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, day) DO UPDATE SET amount = daily_accrual.amount + EXCLUDED.amount`,
		string(id), today, amount)
	if err != nil {
		return engineerr.Unavailable("record-accrued failed", err)
	}
	return nil
}

type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
