package pgstore

import (
	"context"
	"encoding/json"

	"github.com/finova-net/finova-sub005/internal/engineerr"
	"github.com/finova-net/finova-sub005/pkg/models"
)

func (s *Store) Append(ctx context.Context, userID models.UserId, rec models.EventLogRecord) (uint64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, engineerr.Unavailable("begin tx failed", err)
	}
	defer tx.Rollback(ctx)

	var seq uint64
	err = tx.QueryRow(ctx, `
		INSERT INTO reward_events (user_id, seq, ts, kind, fin_delta, xp_delta, rp_delta, factors, provenance)
		VALUES ($1, COALESCE((SELECT MAX(seq) FROM reward_events WHERE user_id=$1), 0) + 1,
		        $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq`,
		string(userID), rec.TS, rec.Kind, rec.FinDelta, rec.XPDelta, rec.RPDelta,
		mustMarshalFactors(rec.Factors), rec.Provenance).Scan(&seq)
	if err != nil {
		return 0, engineerr.Unavailable("append event failed", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, engineerr.Unavailable("commit failed", err)
	}
	return seq, nil
}

func (s *Store) NextSeq(ctx context.Context, userID models.UserId) (uint64, error) {
	var seq uint64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM reward_events WHERE user_id=$1`,
		string(userID)).Scan(&seq)
	if err != nil {
		return 0, engineerr.Unavailable("next-seq query failed", err)
	}
	return seq, nil
}

func mustMarshalFactors(f map[string]float64) []byte {
	if f == nil {
		f = map[string]float64{}
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return []byte("{}")
	}
	return raw
}
