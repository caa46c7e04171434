// Package referral implements the Referral Network Manager (spec.md §4.9):
// edge insertion with cycle rejection, L1-L3 mining-credit fan-out on
// claim, RP fan-out on activity, and the cached network snapshot
// with its 15-minute staleness policy. Grounded on the teacher's
// evidence_edge graph walk and mempool fan-out broadcast idiom,
// generalized from transaction-graph traversal to referral-tree traversal.
package referral

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/finova-net/finova-sub005/internal/engineerr"
	"github.com/finova-net/finova-sub005/internal/kernel"
	"github.com/finova-net/finova-sub005/internal/reward"
	"github.com/finova-net/finova-sub005/internal/store"
	"github.com/finova-net/finova-sub005/pkg/models"
)

// SnapshotStaleness is the refresh threshold of spec.md §4.9.
const SnapshotStaleness = 15 * time.Minute

// ActiveWindow is how recently a referrer must have acted to count as
// active for fan-out and network-quality purposes (spec.md §4.9).
const ActiveWindow = 30 * 24 * time.Hour

// levelWeight is the per-level weighting used for the network-quality
// score (spec.md §4.9: L1 1.0, L2 0.3, L3 0.1).
var levelWeight = [4]float64{0, 1.0, 0.3, 0.1}

// CreditLine is one referrer's share of a fan-out, tagged with the
// level it was earned at for provenance/event-logging.
type CreditLine struct {
	ReferrerID models.UserId
	Level      int
	Amount     int64 // FixedAmount micro-units
}

// Manager implements referral graph maintenance and credit fan-out
// against a ReferralGraphStore plus a UserStateStore for activity/ban
// lookups.
type Manager struct {
	graph  store.ReferralGraphStore
	users  store.UserStateStore
	logger zerolog.Logger
	nowFn  func() time.Time
}

// NewManager constructs a referral Manager.
func NewManager(graph store.ReferralGraphStore, users store.UserStateStore, logger zerolog.Logger, nowFn func() time.Time) *Manager {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Manager{graph: graph, users: users, logger: logger, nowFn: nowFn}
}

// Apply implements apply_referral (spec.md §6): links newUserID under
// referrerID, rejecting an invalid code, a banned referrer, a cycle, a
// referee that already has a referrer, or a self-referral (treated as
// suspicious).
func (m *Manager) Apply(ctx context.Context, newUserID, referrerID models.UserId) error {
	if referrerID == "" {
		return engineerr.Validation("referral code does not resolve to a user", engineerr.ErrInvalid)
	}
	if newUserID == referrerID {
		return engineerr.New(engineerr.CodeAntiBotRejection, "self-referral is not permitted", engineerr.ErrSuspicious)
	}
	referrer, err := m.users.Get(ctx, referrerID)
	if err != nil {
		return engineerr.Validation("referral code does not resolve to a user", engineerr.ErrInvalid)
	}
	if referrer.Banned {
		return engineerr.Validation("referrer is banned", engineerr.ErrInvalid)
	}

	now := m.nowFn()
	edge := models.ReferralEdge{ReferrerID: referrerID, RefereeID: newUserID, CreatedAt: now, RefereeActive: true}
	if err := m.graph.InsertEdge(ctx, edge); err != nil {
		return err
	}

	// Eager refresh for both endpoints (spec.md §4.9: "eagerly on edge
	// insertion for both endpoints").
	if _, err := m.RefreshSnapshot(ctx, referrerID); err != nil {
		m.logger.Warn().Err(err).Str("user_id", string(referrerID)).Msg("referral: snapshot refresh after insert failed")
	}
	if _, err := m.RefreshSnapshot(ctx, newUserID); err != nil {
		m.logger.Warn().Err(err).Str("user_id", string(newUserID)).Msg("referral: snapshot refresh after insert failed")
	}
	return nil
}

// ancestor walks up to 3 referrer levels above userID, in order
// (L1, L2, L3), stopping early if the chain runs out.
func (m *Manager) ancestors(ctx context.Context, userID models.UserId) ([]models.UserId, error) {
	out := make([]models.UserId, 0, 3)
	cur := userID
	for level := 0; level < 3; level++ {
		parent, ok, err := m.graph.ReferrerOf(ctx, cur)
		if err != nil {
			return nil, engineerr.Unavailable("referrer lookup failed", err)
		}
		if !ok {
			break
		}
		out = append(out, parent)
		cur = parent
	}
	return out, nil
}

// isActive reports whether a referrer qualifies for fan-out credit:
// not banned and active within ActiveWindow (spec.md §4.9).
func (m *Manager) isActive(ctx context.Context, userID models.UserId, now time.Time) (bool, error) {
	u, err := m.users.Get(ctx, userID)
	if err != nil {
		return false, engineerr.Unavailable("referrer state lookup failed", err)
	}
	if u.Banned {
		return false, nil
	}
	if u.LastActivityAt.IsZero() {
		return false, nil
	}
	return now.Sub(u.LastActivityAt) <= ActiveWindow, nil
}

// MiningFanOut computes the L1/L2/L3 mining-credit shares on a claimed
// $FIN amount, reading each referrer's own current tier for the share
// percentage (spec.md §4.9). Inactive or banned referrers are skipped;
// skipped levels do not cascade their share further up the chain.
func (m *Manager) MiningFanOut(ctx context.Context, userID models.UserId, claimedAmount int64) ([]CreditLine, error) {
	if claimedAmount <= 0 {
		return nil, nil
	}
	chain, err := m.ancestors(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := m.nowFn()
	var lines []CreditLine
	for i, referrerID := range chain {
		active, err := m.isActive(ctx, referrerID, now)
		if err != nil {
			return lines, err
		}
		if !active {
			continue
		}
		referrer, err := m.users.Get(ctx, referrerID)
		if err != nil {
			return lines, engineerr.Unavailable("referrer state lookup failed", err)
		}
		l1, l2, l3 := reward.TierShares(referrer.RPTier)
		shares := [3]float64{l1, l2, l3}
		share := shares[i]
		if share <= 0 {
			continue
		}
		amount := int64(math.Floor(float64(claimedAmount) * share))
		if amount <= 0 {
			continue
		}
		lines = append(lines, CreditLine{ReferrerID: referrerID, Level: i + 1, Amount: amount})
	}
	return lines, nil
}

// RPFanOut computes the L1/L2/L3 RP shares on an acting user's rp_credit_delta
// using the same share table (spec.md §4.9, "RP fan-out ... uses the same
// share table").
func (m *Manager) RPFanOut(ctx context.Context, userID models.UserId, rpDelta int64) ([]CreditLine, error) {
	if rpDelta <= 0 {
		return nil, nil
	}
	return m.MiningFanOut(ctx, userID, rpDelta)
}

// RefreshSnapshot recomputes and persists userID's ReferralNetworkSnapshot
// by traversing its subtree up to L3 with a visited set (cycles cannot
// exist by construction, I3).
func (m *Manager) RefreshSnapshot(ctx context.Context, userID models.UserId) (models.ReferralNetworkSnapshot, error) {
	now := m.nowFn()
	visited := map[models.UserId]bool{userID: true}

	var l1, l1Active, l2, l2Active, l3, l3Active int
	l1Children, err := m.graph.Children(ctx, userID)
	if err != nil {
		return models.ReferralNetworkSnapshot{}, engineerr.Unavailable("children lookup failed", err)
	}
	for _, c := range l1Children {
		if visited[c.RefereeID] {
			continue
		}
		visited[c.RefereeID] = true
		l1++
		active, err := m.isActive(ctx, c.RefereeID, now)
		if err != nil {
			return models.ReferralNetworkSnapshot{}, err
		}
		if active {
			l1Active++
		}

		l2Children, err := m.graph.Children(ctx, c.RefereeID)
		if err != nil {
			return models.ReferralNetworkSnapshot{}, engineerr.Unavailable("children lookup failed", err)
		}
		for _, c2 := range l2Children {
			if visited[c2.RefereeID] {
				continue
			}
			visited[c2.RefereeID] = true
			l2++
			active2, err := m.isActive(ctx, c2.RefereeID, now)
			if err != nil {
				return models.ReferralNetworkSnapshot{}, err
			}
			if active2 {
				l2Active++
			}

			l3Children, err := m.graph.Children(ctx, c2.RefereeID)
			if err != nil {
				return models.ReferralNetworkSnapshot{}, engineerr.Unavailable("children lookup failed", err)
			}
			for _, c3 := range l3Children {
				if visited[c3.RefereeID] {
					continue
				}
				visited[c3.RefereeID] = true
				l3++
				active3, err := m.isActive(ctx, c3.RefereeID, now)
				if err != nil {
					return models.ReferralNetworkSnapshot{}, err
				}
				if active3 {
					l3Active++
				}
			}
		}
	}

	user, err := m.users.Get(ctx, userID)
	if err != nil {
		return models.ReferralNetworkSnapshot{}, engineerr.Unavailable("user lookup failed", err)
	}

	snap := models.ReferralNetworkSnapshot{
		UserID:          userID,
		L1Count:         l1,
		L1Active:        l1Active,
		L2Count:         l2,
		L2Active:        l2Active,
		L3Count:         l3,
		L3Active:        l3Active,
		QualityScore:    NetworkQualityScore(l1, l1Active, l2, l2Active, l3, l3Active),
		Tier:            user.RPTier,
		LastRefreshedAt: now,
	}
	if err := m.graph.PutSnapshot(ctx, snap); err != nil {
		return models.ReferralNetworkSnapshot{}, err
	}
	return snap, nil
}

// Snapshot returns a fresh-enough snapshot for userID, refreshing lazily
// if the cached one is stale or missing (spec.md §4.9).
func (m *Manager) Snapshot(ctx context.Context, userID models.UserId) (models.ReferralNetworkSnapshot, error) {
	cached, err := m.graph.GetSnapshot(ctx, userID)
	if err != nil {
		return models.ReferralNetworkSnapshot{}, err
	}
	if cached != nil && m.nowFn().Sub(cached.LastRefreshedAt) <= SnapshotStaleness {
		return *cached, nil
	}
	return m.RefreshSnapshot(ctx, userID)
}

// NetworkQualityScore is active_users/total_users in a subtree, weighted
// by level (spec.md §4.9: L1 1.0, L2 0.3, L3 0.1).
func NetworkQualityScore(l1, l1Active, l2, l2Active, l3, l3Active int) float64 {
	weightedTotal := float64(l1)*levelWeight[1] + float64(l2)*levelWeight[2] + float64(l3)*levelWeight[3]
	if weightedTotal == 0 {
		return 0
	}
	weightedActive := float64(l1Active)*levelWeight[1] + float64(l2Active)*levelWeight[2] + float64(l3Active)*levelWeight[3]
	return weightedActive / weightedTotal
}

// RPValue applies the §4.9 regression formula to a user's raw RP
// components, reconciling drift during snapshot refresh.
func RPValue(directRP, l2RP, l3RP float64, tier models.RPTier, totalNetworkSize int, networkQuality float64) float64 {
	base := directRP + l2RP*0.3 + l3RP*0.1
	tierBonus := 1 + float64(tier.TierIndex())*0.2
	regression := kernel.ExpNeg(0.0001 * float64(totalNetworkSize) * networkQuality)
	return base * tierBonus * regression
}
