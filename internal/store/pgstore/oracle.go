package pgstore

import (
	"context"

	"github.com/finova-net/finova-sub005/internal/engineerr"
	"github.com/finova-net/finova-sub005/pkg/models"
)

// TotalUsers implements phase.NetworkSizeSource.
func (s *Store) TotalUsers(ctx context.Context) (uint64, error) {
	var count uint64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&count)
	if err != nil {
		return 0, engineerr.Unavailable("user count query failed", err)
	}
	return count, nil
}

// ListActiveSessions implements mining.ActiveSessionLister.
func (s *Store) ListActiveSessions(ctx context.Context) ([]models.MiningSession, error) {
	return s.listSessionsByStatus(ctx, models.SessionActive)
}

// ListSuspendedSessions implements mining.ActiveSessionLister.
func (s *Store) ListSuspendedSessions(ctx context.Context) ([]models.MiningSession, error) {
	return s.listSessionsByStatus(ctx, models.SessionSuspended)
}

func (s *Store) listSessionsByStatus(ctx context.Context, status models.SessionStatus) ([]models.MiningSession, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, session_id, started_at, last_accrual_at, current_rate_per_hour,
		       accrued_unclaimed, human_score_at_start, status, close_reason, cooldown_until,
		       suspended_at
		FROM mining_sessions WHERE status = $1`, string(status))
	if err != nil {
		return nil, engineerr.Unavailable("list sessions by status failed", err)
	}
	defer rows.Close()

	var out []models.MiningSession
	for rows.Next() {
		sess, err := scanSessionRow(rows)
		if err != nil {
			return nil, engineerr.Unavailable("session row scan failed", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
