package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/finova-net/finova-sub005/internal/antibot"
	"github.com/finova-net/finova-sub005/internal/cards"
	"github.com/finova-net/finova-sub005/internal/intents"
	"github.com/finova-net/finova-sub005/internal/mining"
	"github.com/finova-net/finova-sub005/internal/phase"
	"github.com/finova-net/finova-sub005/internal/quality"
	"github.com/finova-net/finova-sub005/internal/referral"
	"github.com/finova-net/finova-sub005/internal/store/memstore"
	"github.com/finova-net/finova-sub005/pkg/models"
)

// benignSignals is an antibot.Signals stub that always reads as a clean,
// human user: no findings, comfortably above the suspension floor.
type benignSignals struct{}

func (benignSignals) BiometricSimilarity(ctx context.Context, userID models.UserId) (float64, error) {
	return 0.9, nil
}

func (benignSignals) RecentEventTimestamps(ctx context.Context, userID models.UserId) ([]time.Time, error) {
	return nil, nil
}

func (benignSignals) ReferralGraphShape(ctx context.Context, userID models.UserId) (antibot.ReferralShape, error) {
	return antibot.ReferralShape{}, nil
}

func (benignSignals) DeviceFingerprintCount(ctx context.Context, userID models.UserId) (antibot.DeviceCounts, error) {
	return antibot.DeviceCounts{UserAgentPlausible: true, GeoConsistent: true}, nil
}

func (benignSignals) ContentFingerprint(ctx context.Context, contentRef string) (antibot.ContentInfo, error) {
	return antibot.ContentInfo{}, nil
}

// testRig bundles an Orchestrator wired entirely over memstore and
// deterministic stand-ins, for exercising the eight operations of
// spec.md §6 end to end without a database.
type testRig struct {
	o     *Orchestrator
	store *memstore.Store
	now   time.Time
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	s := memstore.New()
	logger := zerolog.Nop()
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	nowFn := func() time.Time { return now }

	abScorer := antibot.NewScorer(benignSignals{})
	qScorer := quality.NewCircuitBreakingScorer(quality.NewDeterministicScorer(nowFn), 0, logger)
	phaseOracle := phase.NewOracle(s, time.Hour, logger)
	cardEng := cards.NewEngine(s)
	referralMgr := referral.NewManager(s, s, logger, nowFn)
	outbox := intents.NewMemOutbox()

	dailyCapSrc := NewDailyCapSource(phaseOracle)
	humanSrc := NewSessionHumanProbabilitySource(abScorer)
	miningMgr := mining.NewManager(s, humanSrc, dailyCapSrc, logger, nowFn)

	o := New(s, s, s, cardEng, abScorer, qScorer, phaseOracle, miningMgr, referralMgr, outbox, logger, nowFn)
	return &testRig{o: o, store: s, now: now}
}

func (r *testRig) activity(userID models.UserId, clientEventID string) models.ActivityEvent {
	return models.ActivityEvent{
		UserID:        userID,
		ClientEventID: clientEventID,
		Platform:      models.PlatformTikTok,
		Kind:          models.KindPost,
		ContentRef:    "content-" + clientEventID,
		ObservedAt:    r.now,
	}
}

func TestProcessActivityGrantsXPAndRP(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	out, err := rig.o.ProcessActivity(ctx, rig.activity("alice", "evt-1"))
	require.NoError(t, err)
	require.Greater(t, out.XPGained, uint64(0))
	require.False(t, out.Degraded)

	user, err := rig.store.Get(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, out.XPGained, user.XPTotal)
	require.Equal(t, uint32(1), user.StreakDays)
	require.Equal(t, "2026-01-15", user.LastActivityDay)
}

// TestProcessActivityIdempotent is property P7: replaying the same
// (user_id, client_event_id) must not double-credit XP/RP or append a
// second event-log record.
func TestProcessActivityIdempotent(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	first, err := rig.o.ProcessActivity(ctx, rig.activity("bob", "evt-1"))
	require.NoError(t, err)

	second, err := rig.o.ProcessActivity(ctx, rig.activity("bob", "evt-1"))
	require.NoError(t, err)
	require.Equal(t, first, second)

	user, err := rig.store.Get(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, first.XPGained, user.XPTotal)

	require.Len(t, rig.store.Records("bob"), 1)
}

func TestProcessActivityRejectsBannedUser(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, err := rig.store.Update(ctx, "carol", func(u *models.User) error {
		u.Banned = true
		return nil
	})
	require.NoError(t, err)

	_, err = rig.o.ProcessActivity(ctx, rig.activity("carol", "evt-1"))
	require.Error(t, err)
}

func TestStartMiningAndClaim(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	sess, err := rig.o.StartMining(ctx, "dave")
	require.NoError(t, err)
	require.Equal(t, models.SessionActive, sess.Status)
	require.Greater(t, sess.CurrentRatePerHour, int64(0))

	// Simulate the scheduler having accrued $FIN since start.
	active, err := rig.store.GetActiveSession(ctx, "dave")
	require.NoError(t, err)
	_, err = rig.store.UpdateSession(ctx, "dave", active.SessionID, func(s *models.MiningSession) error {
		s.AccruedUnclaimed = 500_000 // 0.005 FIN in micro-units
		return nil
	})
	require.NoError(t, err)

	result, err := rig.o.ClaimMining(ctx, "dave")
	require.NoError(t, err)
	require.EqualValues(t, 500_000, result.Amount)
	require.Len(t, result.Intents, 1)
	require.Equal(t, models.IntentMint, result.Intents[0].Kind)

	user, err := rig.store.Get(ctx, "dave")
	require.NoError(t, err)
	require.EqualValues(t, 500_000, user.Holdings)
}

func TestClaimMiningFansOutToReferrer(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	// referrer must be active (recent activity) to receive fan-out credit.
	_, err := rig.o.ProcessActivity(ctx, rig.activity("referrer1", "ref-evt-1"))
	require.NoError(t, err)

	_, err = rig.o.ApplyReferral(ctx, "child", "referrer1")
	require.NoError(t, err)

	_, err = rig.o.StartMining(ctx, "child")
	require.NoError(t, err)
	active, err := rig.store.GetActiveSession(ctx, "child")
	require.NoError(t, err)
	_, err = rig.store.UpdateSession(ctx, "child", active.SessionID, func(s *models.MiningSession) error {
		s.AccruedUnclaimed = 1_000_000 // 0.01 FIN
		return nil
	})
	require.NoError(t, err)

	result, err := rig.o.ClaimMining(ctx, "child")
	require.NoError(t, err)
	require.EqualValues(t, 1_000_000, result.Amount)
	// claim mint + one L1 referral mint, claimant's own intent first.
	require.Len(t, result.Intents, 2)
	require.Equal(t, "claim", result.Intents[0].Provenance)
	require.Equal(t, "referral_l1", result.Intents[1].Provenance)

	referrer, err := rig.store.Get(ctx, "referrer1")
	require.NoError(t, err)
	// Explorer tier L1 share is 10%.
	require.EqualValues(t, 100_000, referrer.Holdings)
}

func TestApplyReferralRejectsSelfReferral(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, err := rig.o.ApplyReferral(ctx, "eve", "eve")
	require.Error(t, err)
}

func TestActivateCard(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, err := rig.store.GetOrCreate(ctx, "frank", rig.now)
	require.NoError(t, err)
	rig.store.GrantCard("frank", "double_mining")

	effect, err := rig.o.ActivateCard(ctx, "frank", "double_mining")
	require.NoError(t, err)
	require.Equal(t, "double_mining", effect.CardID)
	require.Equal(t, models.CategoryMiningBoost, effect.Category)

	_, err = rig.o.ActivateCard(ctx, "frank", "does_not_exist")
	require.Error(t, err)
}

func TestStopMiningRequiresActiveSession(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, err := rig.o.StopMining(ctx, "grace")
	require.Error(t, err)

	_, err = rig.o.StartMining(ctx, "grace")
	require.NoError(t, err)
	stop, err := rig.o.StopMining(ctx, "grace")
	require.NoError(t, err)
	require.GreaterOrEqual(t, stop.DurationS, int64(0))
}

func TestQueryRateAndStats(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, err := rig.o.ProcessActivity(ctx, rig.activity("heidi", "evt-1"))
	require.NoError(t, err)
	_, err = rig.o.StartMining(ctx, "heidi")
	require.NoError(t, err)

	rate, err := rig.o.QueryRate(ctx, "heidi")
	require.NoError(t, err)
	require.Greater(t, rate.CurrentRatePerHour, int64(0))
	require.Greater(t, rate.DailyCap, int64(0))
	require.Equal(t, phase.Finizen, rate.Phase)

	stats, err := rig.o.QueryStats(ctx, "heidi")
	require.NoError(t, err)
	require.Equal(t, models.UserId("heidi"), stats.User.ID)
	require.GreaterOrEqual(t, stats.Level.Level, uint16(1))
}

// TestProcessActivityEnforcesDailyXPCap covers spec.md §4.7's hard
// per-kind daily XP cap: Login is capped at 1/day, so a second login the
// same UTC day must yield xp = 0 and DailyCapReached = true.
func TestProcessActivityEnforcesDailyXPCap(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	login := func(clientEventID string) models.ActivityEvent {
		ev := rig.activity("judy", clientEventID)
		ev.Kind = models.KindLogin
		return ev
	}

	first, err := rig.o.ProcessActivity(ctx, login("evt-1"))
	require.NoError(t, err)
	require.Greater(t, first.XPGained, uint64(0))
	require.False(t, first.DailyCapReached)

	second, err := rig.o.ProcessActivity(ctx, login("evt-2"))
	require.NoError(t, err)
	require.EqualValues(t, 0, second.XPGained)
	require.True(t, second.DailyCapReached)
}

func TestProcessActivityLevelUpEmitsNotification(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, err := rig.store.Update(ctx, "ivan", func(u *models.User) error {
		u.XPTotal = 999 // one XP gain below pushes into the Silver band
		return nil
	})
	require.NoError(t, err)

	out, err := rig.o.ProcessActivity(ctx, rig.activity("ivan", "evt-1"))
	require.NoError(t, err)
	require.True(t, out.LevelUp, "999 XP plus a post's XP gain should cross into the Silver band")
	require.NotEmpty(t, out.Intents)
	require.Equal(t, models.IntentNotification, out.Intents[0].Kind)
}
