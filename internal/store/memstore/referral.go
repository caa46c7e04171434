package memstore

import (
	"context"

	"github.com/finova-net/finova-sub005/pkg/models"
)

// InsertEdge adds referrer->referee, rejecting a referee that already has
// an inbound edge and rejecting any insertion that would create a cycle
// (I3/P8), walking up the existing referrer chain from the proposed
// referrer to check the new referee never appears as an ancestor.
func (s *Store) InsertEdge(ctx context.Context, edge models.ReferralEdge) error {
	s.edgesMu.Lock()
	defer s.edgesMu.Unlock()

	if _, exists := s.referrerOf[edge.RefereeID]; exists {
		return errAlreadyReferred(edge.RefereeID)
	}

	// Walk ancestors of the referrer; if refereeID appears, this would
	// close a cycle.
	cur := edge.ReferrerID
	for i := 0; i < 4096; i++ { // depth guard; graph is acyclic by construction
		if cur == edge.RefereeID {
			return errCycle(edge.RefereeID)
		}
		next, ok := s.referrerOf[cur]
		if !ok {
			break
		}
		cur = next
	}

	s.referrerOf[edge.RefereeID] = edge.ReferrerID
	s.children[edge.ReferrerID] = append(s.children[edge.ReferrerID], edge)
	return nil
}

func (s *Store) ReferrerOf(ctx context.Context, referee models.UserId) (models.UserId, bool, error) {
	s.edgesMu.Lock()
	defer s.edgesMu.Unlock()
	r, ok := s.referrerOf[referee]
	return r, ok, nil
}

func (s *Store) Children(ctx context.Context, referrer models.UserId) ([]models.ReferralEdge, error) {
	s.edgesMu.Lock()
	defer s.edgesMu.Unlock()
	out := make([]models.ReferralEdge, len(s.children[referrer]))
	copy(out, s.children[referrer])
	return out, nil
}

func (s *Store) GetSnapshot(ctx context.Context, userID models.UserId) (*models.ReferralNetworkSnapshot, error) {
	s.snapshotsMu.Lock()
	defer s.snapshotsMu.Unlock()
	snap, ok := s.snapshots[userID]
	if !ok {
		return nil, nil
	}
	cp := snap
	return &cp, nil
}

func (s *Store) PutSnapshot(ctx context.Context, snap models.ReferralNetworkSnapshot) error {
	s.snapshotsMu.Lock()
	defer s.snapshotsMu.Unlock()
	s.snapshots[snap.UserID] = snap
	return nil
}
