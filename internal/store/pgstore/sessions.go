package pgstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/finova-net/finova-sub005/internal/engineerr"
	"github.com/finova-net/finova-sub005/internal/store"
	"github.com/finova-net/finova-sub005/pkg/models"
)

func (s *Store) GetActiveSession(ctx context.Context, id models.UserId) (*models.MiningSession, error) {
	sess, err := s.scanSession(ctx, s.pool, id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if sess.Status != models.SessionActive {
		return nil, nil
	}
	return &sess, nil
}

// GetSession returns the user's session record regardless of status, so
// a closed session's cooldown_until remains readable.
func (s *Store) GetSession(ctx context.Context, id models.UserId) (*models.MiningSession, error) {
	sess, err := s.scanSession(ctx, s.pool, id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, engineerr.Unavailable("get session failed", err)
	}
	return &sess, nil
}

func (s *Store) scanSession(ctx context.Context, q pgxQuerier, id models.UserId) (models.MiningSession, error) {
	row := q.QueryRow(ctx, `
		SELECT user_id, session_id, started_at, last_accrual_at, current_rate_per_hour,
		       accrued_unclaimed, human_score_at_start, status, close_reason, cooldown_until,
		       suspended_at
		FROM mining_sessions WHERE user_id = $1`, string(id))
	return scanSessionRow(row)
}

// scannable is the common subset of pgx.Row/pgx.Rows this package scans
// mining_session columns from.
type scannable interface {
	Scan(dest ...any) error
}

func scanSessionRow(row scannable) (models.MiningSession, error) {
	var sess models.MiningSession
	var userID, status string
	var cooldown, suspendedAt *time.Time
	err := row.Scan(&userID, &sess.SessionID, &sess.StartedAt, &sess.LastAccrualAt,
		&sess.CurrentRatePerHour, &sess.AccruedUnclaimed, &sess.HumanScoreAtStart,
		&status, &sess.CloseReason, &cooldown, &suspendedAt)
	if err != nil {
		return models.MiningSession{}, err
	}
	sess.UserID = models.UserId(userID)
	sess.Status = models.SessionStatus(status)
	if cooldown != nil {
		sess.CooldownUntil = *cooldown
	}
	if suspendedAt != nil {
		sess.SuspendedAt = *suspendedAt
	}
	return sess, nil
}

func (s *Store) PutSession(ctx context.Context, sess models.MiningSession) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mining_sessions (user_id, session_id, started_at, last_accrual_at,
		    current_rate_per_hour, accrued_unclaimed, human_score_at_start, status,
		    close_reason, cooldown_until, suspended_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (user_id) DO UPDATE SET
		    session_id = EXCLUDED.session_id, started_at = EXCLUDED.started_at,
		    last_accrual_at = EXCLUDED.last_accrual_at,
		    current_rate_per_hour = EXCLUDED.current_rate_per_hour,
		    accrued_unclaimed = EXCLUDED.accrued_unclaimed,
		    human_score_at_start = EXCLUDED.human_score_at_start,
		    status = EXCLUDED.status, close_reason = EXCLUDED.close_reason,
		    cooldown_until = EXCLUDED.cooldown_until, suspended_at = EXCLUDED.suspended_at`,
		string(sess.UserID), sess.SessionID, sess.StartedAt, sess.LastAccrualAt,
		sess.CurrentRatePerHour, sess.AccruedUnclaimed, sess.HumanScoreAtStart,
		string(sess.Status), sess.CloseReason, nullableTime(sess.CooldownUntil),
		nullableTime(sess.SuspendedAt))
	if err != nil {
		return engineerr.Unavailable("put session failed", err)
	}
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, userID models.UserId, sessionID string, mutator store.SessionMutator) (models.MiningSession, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.MiningSession{}, engineerr.Unavailable("begin tx failed", err)
	}
	defer tx.Rollback(ctx)

	sess, err := s.scanSession(ctx, tx, userID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return models.MiningSession{}, engineerr.New(engineerr.CodeValidation, "mining session not found", engineerr.ErrNoSession)
		}
		return models.MiningSession{}, engineerr.Unavailable("session query failed", err)
	}
	if sess.SessionID != sessionID {
		return models.MiningSession{}, engineerr.New(engineerr.CodeValidation, "mining session not found", engineerr.ErrNoSession)
	}
	if err := mutator(&sess); err != nil {
		return models.MiningSession{}, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE mining_sessions SET last_accrual_at=$1, current_rate_per_hour=$2,
		    accrued_unclaimed=$3, status=$4, close_reason=$5, cooldown_until=$6,
		    suspended_at=$7
		WHERE user_id=$8`,
		sess.LastAccrualAt, sess.CurrentRatePerHour, sess.AccruedUnclaimed,
		string(sess.Status), sess.CloseReason, nullableTime(sess.CooldownUntil),
		nullableTime(sess.SuspendedAt), string(userID))
	if err != nil {
		return models.MiningSession{}, engineerr.Unavailable("session update failed", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.MiningSession{}, engineerr.Unavailable("commit failed", err)
	}
	return sess, nil
}

func (s *Store) GetCachedOutcome(ctx context.Context, userID models.UserId, clientEventID string) (*models.RewardOutcome, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT outcome FROM idempotent_outcomes WHERE user_id=$1 AND client_event_id=$2`,
		string(userID), clientEventID).Scan(&raw)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, engineerr.Unavailable("cached outcome query failed", err)
	}
	var outcome models.RewardOutcome
	if err := json.Unmarshal(raw, &outcome); err != nil {
		return nil, false, engineerr.Unavailable("cached outcome decode failed", err)
	}
	return &outcome, true, nil
}

func (s *Store) PutCachedOutcome(ctx context.Context, userID models.UserId, clientEventID string, outcome models.RewardOutcome) error {
	raw, err := json.Marshal(outcome)
	if err != nil {
		return engineerr.Unavailable("cached outcome encode failed", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO idempotent_outcomes (user_id, client_event_id, outcome)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, client_event_id) DO NOTHING`,
		string(userID), clientEventID, raw)
	if err != nil {
		return engineerr.Unavailable("put cached outcome failed", err)
	}
	return nil
}
