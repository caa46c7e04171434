package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/finova-net/finova-sub005/internal/engineerr"
	"github.com/finova-net/finova-sub005/pkg/models"
)

// InsertEdge rejects double-referrers via the primary key and rejects
// cycles by walking the referrer chain within the same transaction,
// same approach as the in-memory store generalized to SQL recursion.
func (s *Store) InsertEdge(ctx context.Context, edge models.ReferralEdge) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return engineerr.Unavailable("begin tx failed", err)
	}
	defer tx.Rollback(ctx)

	var cyclic bool
	err = tx.QueryRow(ctx, `
		WITH RECURSIVE ancestors AS (
			SELECT referrer_id FROM referral_edges WHERE referee_id = $1
			UNION ALL
			SELECT e.referrer_id FROM referral_edges e
			JOIN ancestors a ON e.referee_id = a.referrer_id
		)
		SELECT EXISTS (SELECT 1 FROM ancestors WHERE referrer_id = $2)`,
		edge.ReferrerID, edge.RefereeID).Scan(&cyclic)
	if err != nil {
		return engineerr.Unavailable("cycle check failed", err)
	}
	if cyclic {
		return engineerr.New(engineerr.CodeValidation, "referral would create a cycle", engineerr.ErrCycle)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO referral_edges (referee_id, referrer_id, created_at, referee_active)
		VALUES ($1, $2, $3, TRUE)`, string(edge.RefereeID), string(edge.ReferrerID), edge.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return engineerr.New(engineerr.CodeValidation, "user already has a referrer", engineerr.ErrAlreadyReferred)
		}
		return engineerr.Unavailable("insert referral edge failed", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) ReferrerOf(ctx context.Context, referee models.UserId) (models.UserId, bool, error) {
	var referrer string
	err := s.pool.QueryRow(ctx, `SELECT referrer_id FROM referral_edges WHERE referee_id=$1`, string(referee)).Scan(&referrer)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", false, nil
		}
		return "", false, engineerr.Unavailable("referrer-of query failed", err)
	}
	return models.UserId(referrer), true, nil
}

func (s *Store) Children(ctx context.Context, referrer models.UserId) ([]models.ReferralEdge, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT referee_id, referrer_id, created_at, referee_active
		FROM referral_edges WHERE referrer_id=$1`, string(referrer))
	if err != nil {
		return nil, engineerr.Unavailable("children query failed", err)
	}
	defer rows.Close()

	var out []models.ReferralEdge
	for rows.Next() {
		var e models.ReferralEdge
		var refereeID, referrerID string
		if err := rows.Scan(&refereeID, &referrerID, &e.CreatedAt, &e.RefereeActive); err != nil {
			return nil, engineerr.Unavailable("children scan failed", err)
		}
		e.RefereeID = models.UserId(refereeID)
		e.ReferrerID = models.UserId(referrerID)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) GetSnapshot(ctx context.Context, userID models.UserId) (*models.ReferralNetworkSnapshot, error) {
	var snap models.ReferralNetworkSnapshot
	var id, tier string
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, l1_count, l1_active, l2_count, l2_active, l3_count, l3_active,
		       quality_score, tier, last_refreshed_at
		FROM referral_snapshots WHERE user_id=$1`, string(userID)).Scan(
		&id, &snap.L1Count, &snap.L1Active, &snap.L2Count, &snap.L2Active,
		&snap.L3Count, &snap.L3Active, &snap.QualityScore, &tier, &snap.LastRefreshedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, engineerr.Unavailable("snapshot query failed", err)
	}
	snap.UserID = models.UserId(id)
	snap.Tier = models.RPTier(tier)
	return &snap, nil
}

func (s *Store) PutSnapshot(ctx context.Context, snap models.ReferralNetworkSnapshot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO referral_snapshots (user_id, l1_count, l1_active, l2_count, l2_active,
		    l3_count, l3_active, quality_score, tier, last_refreshed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (user_id) DO UPDATE SET
		    l1_count=EXCLUDED.l1_count, l1_active=EXCLUDED.l1_active,
		    l2_count=EXCLUDED.l2_count, l2_active=EXCLUDED.l2_active,
		    l3_count=EXCLUDED.l3_count, l3_active=EXCLUDED.l3_active,
		    quality_score=EXCLUDED.quality_score, tier=EXCLUDED.tier,
		    last_refreshed_at=EXCLUDED.last_refreshed_at`,
		string(snap.UserID), snap.L1Count, snap.L1Active, snap.L2Count, snap.L2Active,
		snap.L3Count, snap.L3Active, snap.QualityScore, string(snap.Tier), snap.LastRefreshedAt)
	if err != nil {
		return engineerr.Unavailable("put snapshot failed", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
