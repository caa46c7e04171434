package mining

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/finova-net/finova-sub005/internal/engineerr"
	"github.com/finova-net/finova-sub005/internal/store/memstore"
	"github.com/finova-net/finova-sub005/pkg/models"
)

type fixedHumans struct{ prob float64 }

func (f fixedHumans) RecomputeForSession(ctx context.Context, userID models.UserId) (float64, error) {
	return f.prob, nil
}

type fixedCap struct{ cap int64 }

func (f fixedCap) CurrentDailyCap(ctx context.Context) (int64, error) { return f.cap, nil }

func newManager(t *testing.T, ms *memstore.Store, now time.Time) *Manager {
	t.Helper()
	return NewManager(ms, fixedHumans{prob: 1.0}, fixedCap{cap: 480_000_000}, zerolog.Nop(), func() time.Time { return now })
}

func TestStartSessionRejectsDoubleActive(t *testing.T) {
	ms := memstore.New()
	now := time.Now()
	_, _ = ms.GetOrCreate(context.Background(), "u1", now)
	m := newManager(t, ms, now)

	_, err := m.StartSession(context.Background(), "u1", 1_000_000, 1.0)
	require.NoError(t, err)

	_, err = m.StartSession(context.Background(), "u1", 1_000_000, 1.0)
	require.ErrorIs(t, err, engineerr.ErrAlreadyActive)
}

func TestStartSessionRejectsLowHumanScore(t *testing.T) {
	ms := memstore.New()
	now := time.Now()
	_, _ = ms.GetOrCreate(context.Background(), "u1", now)
	m := newManager(t, ms, now)

	_, err := m.StartSession(context.Background(), "u1", 1_000_000, 0.2)
	require.ErrorIs(t, err, engineerr.ErrSuspended)
}

func TestClaimZeroesAccruedAndRejectsWhenEmpty(t *testing.T) {
	ms := memstore.New()
	now := time.Now()
	_, _ = ms.GetOrCreate(context.Background(), "u1", now)
	m := newManager(t, ms, now)

	_, err := m.StartSession(context.Background(), "u1", 1_000_000, 1.0)
	require.NoError(t, err)

	_, err = m.Claim(context.Background(), "u1")
	require.ErrorIs(t, err, engineerr.ErrEmpty)

	sess, _ := ms.GetActiveSession(context.Background(), "u1")
	_, err = ms.UpdateSession(context.Background(), "u1", sess.SessionID, func(s *models.MiningSession) error {
		s.AccruedUnclaimed = 500_000
		return nil
	})
	require.NoError(t, err)

	res, err := m.Claim(context.Background(), "u1")
	require.NoError(t, err)
	require.EqualValues(t, 500_000, res.Amount)

	active, _ := ms.GetActiveSession(context.Background(), "u1")
	require.EqualValues(t, 0, active.AccruedUnclaimed)
}

func TestTickAccruesAndRespectsDailyCap(t *testing.T) {
	ms := memstore.New()
	now := time.Now()
	_, _ = ms.GetOrCreate(context.Background(), "u1", now)
	// 0.1 $FIN/hr rate, simulate 2 hours elapsed.
	sess := models.MiningSession{
		UserID:             "u1",
		SessionID:          "s1",
		StartedAt:          now.Add(-2 * time.Hour),
		LastAccrualAt:      now.Add(-2 * time.Hour),
		CurrentRatePerHour: 10_000_000, // 0.1 FIN/hr
		Status:             models.SessionActive,
	}
	require.NoError(t, ms.PutSession(context.Background(), sess))

	m := newManager(t, ms, now)
	m.dailyCap = fixedCap{cap: 15_000_000} // cap below the 2hr accrual of 0.2 FIN

	outcome := m.tickOne(context.Background(), sess)
	require.False(t, outcome.Suspended)
	require.EqualValues(t, 15_000_000, outcome.Accrued)
}

func TestTickSuspendsOnLowHumanProbabilityAndSetsCooldown(t *testing.T) {
	ms := memstore.New()
	now := time.Now()
	_, _ = ms.GetOrCreate(context.Background(), "u1", now)
	sess := models.MiningSession{UserID: "u1", SessionID: "s1", StartedAt: now, LastAccrualAt: now, Status: models.SessionActive}
	require.NoError(t, ms.PutSession(context.Background(), sess))

	m := NewManager(ms, fixedHumans{prob: 0.2}, fixedCap{cap: 1_000_000_000}, zerolog.Nop(), func() time.Time { return now })
	outcome := m.tickOne(context.Background(), sess)
	require.True(t, outcome.Suspended)

	got, _ := ms.GetSession(context.Background(), "u1")
	require.Equal(t, models.SessionSuspended, got.Status)
	require.Equal(t, now, got.SuspendedAt)
	require.Equal(t, now.Add(AntiBotCooldown), got.CooldownUntil)
}

func TestTickAutoClosesSuspendedSessionAfterOneHour(t *testing.T) {
	ms := memstore.New()
	now := time.Now()
	_, _ = ms.GetOrCreate(context.Background(), "u1", now)
	sess := models.MiningSession{
		UserID:      "u1",
		SessionID:   "s1",
		StartedAt:   now.Add(-2 * time.Hour),
		Status:      models.SessionSuspended,
		SuspendedAt: now.Add(-90 * time.Minute),
	}
	require.NoError(t, ms.PutSession(context.Background(), sess))

	m := newManager(t, ms, now)
	outcome := m.tickOne(context.Background(), sess)
	require.True(t, outcome.Closed)

	got, _ := ms.GetSession(context.Background(), "u1")
	require.Equal(t, models.SessionClosed, got.Status)
	require.Equal(t, "suspended_timeout", got.CloseReason)
	require.Equal(t, now.Add(AntiBotCooldown), got.CooldownUntil)
}

func TestTickLeavesRecentlySuspendedSessionAlone(t *testing.T) {
	ms := memstore.New()
	now := time.Now()
	_, _ = ms.GetOrCreate(context.Background(), "u1", now)
	sess := models.MiningSession{
		UserID:      "u1",
		SessionID:   "s1",
		StartedAt:   now.Add(-2 * time.Hour),
		Status:      models.SessionSuspended,
		SuspendedAt: now.Add(-10 * time.Minute),
	}
	require.NoError(t, ms.PutSession(context.Background(), sess))

	m := newManager(t, ms, now)
	outcome := m.tickOne(context.Background(), sess)
	require.True(t, outcome.Suspended)
	require.False(t, outcome.Closed)

	got, _ := ms.GetSession(context.Background(), "u1")
	require.Equal(t, models.SessionSuspended, got.Status)
}
