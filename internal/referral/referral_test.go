package referral

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/finova-net/finova-sub005/internal/engineerr"
	"github.com/finova-net/finova-sub005/internal/store/memstore"
	"github.com/finova-net/finova-sub005/pkg/models"
)

func seedUser(t *testing.T, ms *memstore.Store, id models.UserId, tier models.RPTier, lastActivity time.Time) {
	t.Helper()
	ctx := context.Background()
	_, err := ms.GetOrCreate(ctx, id, lastActivity)
	require.NoError(t, err)
	_, err = ms.Update(ctx, id, func(u *models.User) error {
		u.RPTier = tier
		u.LastActivityAt = lastActivity
		return nil
	})
	require.NoError(t, err)
}

func newManager(ms *memstore.Store, now time.Time) *Manager {
	return NewManager(ms, ms, zerolog.Nop(), func() time.Time { return now })
}

func TestApplyRejectsSelfReferral(t *testing.T) {
	ms := memstore.New()
	now := time.Now()
	seedUser(t, ms, "u1", models.TierExplorer, now)
	m := newManager(ms, now)

	err := m.Apply(context.Background(), "u1", "u1")
	require.ErrorIs(t, err, engineerr.ErrSuspicious)
}

func TestApplyRejectsUnknownReferrer(t *testing.T) {
	ms := memstore.New()
	now := time.Now()
	m := newManager(ms, now)

	err := m.Apply(context.Background(), "u2", "ghost")
	require.ErrorIs(t, err, engineerr.ErrInvalid)
}

func TestApplyRejectsDoubleReferrerAndCycle(t *testing.T) {
	ms := memstore.New()
	now := time.Now()
	seedUser(t, ms, "a", models.TierExplorer, now)
	seedUser(t, ms, "b", models.TierExplorer, now)
	seedUser(t, ms, "c", models.TierExplorer, now)
	m := newManager(ms, now)

	require.NoError(t, m.Apply(context.Background(), "b", "a"))
	require.NoError(t, m.Apply(context.Background(), "c", "b"))

	err := m.Apply(context.Background(), "a", "c")
	require.ErrorIs(t, err, engineerr.ErrCycle)

	err = m.Apply(context.Background(), "b", "c")
	require.ErrorIs(t, err, engineerr.ErrAlreadyReferred)
}

// TestScenarioS5ReferralFanOutOnClaim reproduces spec.md's worked example:
// user U claims 1.0 $FIN; R1 (Connector, L1=15%) and R2 (Influencer,
// L2=8%, R1's referrer) receive their shares; there is no L3.
func TestScenarioS5ReferralFanOutOnClaim(t *testing.T) {
	ms := memstore.New()
	now := time.Now()
	seedUser(t, ms, "r2", models.TierInfluencer, now)
	seedUser(t, ms, "r1", models.TierConnector, now)
	seedUser(t, ms, "u", models.TierExplorer, now)
	m := newManager(ms, now)

	require.NoError(t, m.Apply(context.Background(), "r1", "r2"))
	require.NoError(t, m.Apply(context.Background(), "u", "r1"))

	claimed := int64(1 * 100_000_000) // 1.0 $FIN in micro-units
	lines, err := m.MiningFanOut(context.Background(), "u", claimed)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	byLevel := map[int]CreditLine{}
	for _, l := range lines {
		byLevel[l.Level] = l
	}
	require.EqualValues(t, 15_000_000, byLevel[1].Amount) // 0.15 FIN to R1
	require.Equal(t, models.UserId("r1"), byLevel[1].ReferrerID)
	require.EqualValues(t, 8_000_000, byLevel[2].Amount) // 0.08 FIN to R2
	require.Equal(t, models.UserId("r2"), byLevel[2].ReferrerID)
	_, hasL3 := byLevel[3]
	require.False(t, hasL3)
}

func TestMiningFanOutSkipsInactiveReferrer(t *testing.T) {
	ms := memstore.New()
	now := time.Now()
	staleActivity := now.Add(-60 * 24 * time.Hour)
	seedUser(t, ms, "r1", models.TierConnector, staleActivity)
	seedUser(t, ms, "u", models.TierExplorer, now)
	m := newManager(ms, now)

	require.NoError(t, m.Apply(context.Background(), "u", "r1"))

	lines, err := m.MiningFanOut(context.Background(), "u", 1*100_000_000)
	require.NoError(t, err)
	require.Empty(t, lines)
}

func TestMiningFanOutSkipsBannedReferrer(t *testing.T) {
	ms := memstore.New()
	now := time.Now()
	seedUser(t, ms, "r1", models.TierConnector, now)
	ctx := context.Background()
	seedUser(t, ms, "u", models.TierExplorer, now)
	m := newManager(ms, now)

	// Apply rejects a banned referrer, so the ban lands after the edge exists.
	require.NoError(t, m.Apply(ctx, "u", "r1"))
	_, err := ms.Update(ctx, "r1", func(u *models.User) error { u.Banned = true; return nil })
	require.NoError(t, err)

	lines, err := m.MiningFanOut(ctx, "u", 1*100_000_000)
	require.NoError(t, err)
	require.Empty(t, lines)
}

func TestNetworkQualityScoreWeighting(t *testing.T) {
	// 2 L1 (1 active), 1 L2 (active): weighted total = 2*1.0+1*0.3=2.3,
	// weighted active = 1*1.0+1*0.3=1.3.
	q := NetworkQualityScore(2, 1, 1, 1, 0, 0)
	require.InDelta(t, 1.3/2.3, q, 1e-9)
}

func TestNetworkQualityScoreEmptySubtree(t *testing.T) {
	require.Equal(t, 0.0, NetworkQualityScore(0, 0, 0, 0, 0, 0))
}

func TestRefreshSnapshotCountsAllLevels(t *testing.T) {
	ms := memstore.New()
	now := time.Now()
	for _, id := range []models.UserId{"root", "l1a", "l1b", "l2a", "l3a"} {
		seedUser(t, ms, id, models.TierExplorer, now)
	}
	m := newManager(ms, now)
	ctx := context.Background()

	require.NoError(t, m.Apply(ctx, "l1a", "root"))
	require.NoError(t, m.Apply(ctx, "l1b", "root"))
	require.NoError(t, m.Apply(ctx, "l2a", "l1a"))
	require.NoError(t, m.Apply(ctx, "l3a", "l2a"))

	snap, err := m.RefreshSnapshot(ctx, "root")
	require.NoError(t, err)
	require.Equal(t, 2, snap.L1Count)
	require.Equal(t, 1, snap.L2Count)
	require.Equal(t, 1, snap.L3Count)
	require.Equal(t, 2, snap.L1Active)
	require.Equal(t, 1, snap.L2Active)
	require.Equal(t, 1, snap.L3Active)
}

func TestSnapshotUsesCacheWithinStalenessWindow(t *testing.T) {
	ms := memstore.New()
	now := time.Now()
	seedUser(t, ms, "root", models.TierExplorer, now)
	m := newManager(ms, now)
	ctx := context.Background()

	first, err := m.Snapshot(ctx, "root")
	require.NoError(t, err)

	// Mutate the graph without a new edge insertion; since the cache is
	// still fresh, Snapshot should return the stale-but-cached value
	// rather than recomputing.
	seedUser(t, ms, "late", models.TierExplorer, now)
	require.NoError(t, ms.InsertEdge(ctx, models.ReferralEdge{ReferrerID: "root", RefereeID: "late", CreatedAt: now}))

	second, err := m.Snapshot(ctx, "root")
	require.NoError(t, err)
	require.Equal(t, first.L1Count, second.L1Count)
}

func TestRPValueAppliesRegressionAndTierBonus(t *testing.T) {
	v := RPValue(1000, 0, 0, models.TierExplorer, 0, 0)
	require.InDelta(t, 1000, v, 1e-9) // no network, no tier bonus -> unchanged

	v2 := RPValue(1000, 0, 0, models.TierConnector, 100, 0.5)
	expected := 1000 * 1.2 * math.Exp(-0.0001*100*0.5)
	require.InDelta(t, expected, v2, 1e-6)
}
