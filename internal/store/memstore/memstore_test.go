package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/finova-net/finova-sub005/pkg/models"
)

func TestGetOrCreateDefaults(t *testing.T) {
	s := New()
	u, err := s.GetOrCreate(context.Background(), "u1", time.Now())
	require.NoError(t, err)
	require.Equal(t, models.TierExplorer, u.RPTier)
	require.EqualValues(t, 1, u.XPLevel)
}

func TestUpdateVersionIncrementsAndIsSerialPerUser(t *testing.T) {
	s := New()
	_, _ = s.GetOrCreate(context.Background(), "u1", time.Now())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(context.Background(), "u1", func(u *models.User) error {
				u.XPTotal++
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	u, err := s.Get(context.Background(), "u1")
	require.NoError(t, err)
	require.EqualValues(t, 50, u.XPTotal)
	require.EqualValues(t, 50, u.Version)
}

func TestInsertEdgeRejectsCycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.InsertEdge(ctx, models.ReferralEdge{ReferrerID: "a", RefereeID: "b"}))
	require.NoError(t, s.InsertEdge(ctx, models.ReferralEdge{ReferrerID: "b", RefereeID: "c"}))

	err := s.InsertEdge(ctx, models.ReferralEdge{ReferrerID: "c", RefereeID: "a"})
	require.Error(t, err)
}

func TestInsertEdgeRejectsDoubleReferrer(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.InsertEdge(ctx, models.ReferralEdge{ReferrerID: "a", RefereeID: "b"}))
	err := s.InsertEdge(ctx, models.ReferralEdge{ReferrerID: "c", RefereeID: "b"})
	require.Error(t, err)
}

func TestCachedOutcomeIdempotency(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, ok, err := s.GetCachedOutcome(ctx, "u1", "ev1")
	require.NoError(t, err)
	require.False(t, ok)

	outcome := models.RewardOutcome{UserID: "u1", XPGained: 10}
	require.NoError(t, s.PutCachedOutcome(ctx, "u1", "ev1", outcome))

	got, ok, err := s.GetCachedOutcome(ctx, "u1", "ev1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(10), got.XPGained)
}

func TestAppendAssignsMonotonicSeq(t *testing.T) {
	s := New()
	ctx := context.Background()
	seq1, err := s.Append(ctx, "u1", models.EventLogRecord{Kind: "test"})
	require.NoError(t, err)
	seq2, err := s.Append(ctx, "u1", models.EventLogRecord{Kind: "test"})
	require.NoError(t, err)
	require.Equal(t, uint64(1), seq1)
	require.Equal(t, uint64(2), seq2)
}
