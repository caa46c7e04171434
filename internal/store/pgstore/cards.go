package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/finova-net/finova-sub005/internal/engineerr"
	"github.com/finova-net/finova-sub005/pkg/models"
)

func (s *Store) ActiveEffects(ctx context.Context, userID models.UserId) ([]models.NFTCardEffect, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, instance_id, card_id, category, multiplier, duration_hours,
		       stackable, max_stack, activated_at, expires_at, single_use
		FROM card_effects WHERE user_id=$1`, string(userID))
	if err != nil {
		return nil, engineerr.Unavailable("active effects query failed", err)
	}
	defer rows.Close()

	var out []models.NFTCardEffect
	for rows.Next() {
		var e models.NFTCardEffect
		var uid, category string
		var expires *time.Time
		if err := rows.Scan(&uid, &e.InstanceID, &e.CardID, &category, &e.Multiplier,
			&e.DurationHours, &e.Stackable, &e.MaxStack, &e.ActivatedAt, &expires, &e.SingleUse); err != nil {
			return nil, engineerr.Unavailable("active effects scan failed", err)
		}
		e.UserID = models.UserId(uid)
		e.Category = models.CardCategory(category)
		e.ExpiresAt = expires
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) PutEffect(ctx context.Context, effect models.NFTCardEffect) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO card_effects (user_id, instance_id, card_id, category, multiplier,
		    duration_hours, stackable, max_stack, activated_at, expires_at, single_use)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (user_id, instance_id) DO UPDATE SET
		    multiplier=EXCLUDED.multiplier, expires_at=EXCLUDED.expires_at`,
		string(effect.UserID), effect.InstanceID, effect.CardID, string(effect.Category),
		effect.Multiplier, effect.DurationHours, effect.Stackable, effect.MaxStack,
		effect.ActivatedAt, effect.ExpiresAt, effect.SingleUse)
	if err != nil {
		return engineerr.Unavailable("put effect failed", err)
	}
	return nil
}

func (s *Store) RemoveEffect(ctx context.Context, userID models.UserId, instanceID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM card_effects WHERE user_id=$1 AND instance_id=$2`,
		string(userID), instanceID)
	if err != nil {
		return engineerr.Unavailable("remove effect failed", err)
	}
	return nil
}

func (s *Store) OwnsCard(ctx context.Context, userID models.UserId, cardID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM owned_cards WHERE user_id=$1 AND card_id=$2)`,
		string(userID), cardID).Scan(&exists)
	if err != nil {
		return false, engineerr.Unavailable("owns-card query failed", err)
	}
	return exists, nil
}

func (s *Store) CooldownUntil(ctx context.Context, userID models.UserId, cardKind string) (time.Time, bool, error) {
	var until time.Time
	err := s.pool.QueryRow(ctx, `SELECT until_at FROM card_cooldowns WHERE user_id=$1 AND card_kind=$2`,
		string(userID), cardKind).Scan(&until)
	if err != nil {
		if err == pgx.ErrNoRows {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, engineerr.Unavailable("cooldown query failed", err)
	}
	return until, true, nil
}

func (s *Store) SetCooldown(ctx context.Context, userID models.UserId, cardKind string, until time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO card_cooldowns (user_id, card_kind, until_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, card_kind) DO UPDATE SET until_at=EXCLUDED.until_at`,
		string(userID), cardKind, until)
	if err != nil {
		return engineerr.Unavailable("set cooldown failed", err)
	}
	return nil
}
