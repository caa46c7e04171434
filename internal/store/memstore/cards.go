package memstore

import (
	"context"
	"time"

	"github.com/finova-net/finova-sub005/pkg/models"
)

func (s *Store) ActiveEffects(ctx context.Context, userID models.UserId) ([]models.NFTCardEffect, error) {
	s.cardsMu.Lock()
	defer s.cardsMu.Unlock()
	m := s.cards[userID]
	out := make([]models.NFTCardEffect, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) PutEffect(ctx context.Context, effect models.NFTCardEffect) error {
	s.cardsMu.Lock()
	defer s.cardsMu.Unlock()
	m, ok := s.cards[effect.UserID]
	if !ok {
		m = make(map[string]models.NFTCardEffect)
		s.cards[effect.UserID] = m
	}
	m[effect.InstanceID] = effect
	return nil
}

func (s *Store) RemoveEffect(ctx context.Context, userID models.UserId, instanceID string) error {
	s.cardsMu.Lock()
	defer s.cardsMu.Unlock()
	delete(s.cards[userID], instanceID)
	return nil
}

func (s *Store) OwnsCard(ctx context.Context, userID models.UserId, cardID string) (bool, error) {
	s.cardsMu.Lock()
	defer s.cardsMu.Unlock()
	return s.ownedCards[string(userID)][cardID], nil
}

func (s *Store) CooldownUntil(ctx context.Context, userID models.UserId, cardKind string) (time.Time, bool, error) {
	s.cardsMu.Lock()
	defer s.cardsMu.Unlock()
	t, ok := s.cooldowns[string(userID)+"|"+cardKind]
	return t, ok, nil
}

func (s *Store) SetCooldown(ctx context.Context, userID models.UserId, cardKind string, until time.Time) error {
	s.cardsMu.Lock()
	defer s.cardsMu.Unlock()
	s.cooldowns[string(userID)+"|"+cardKind] = until
	return nil
}
