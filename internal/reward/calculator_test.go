package reward

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/finova-net/finova-sub005/internal/kernel"
	"github.com/finova-net/finova-sub005/internal/phase"
	"github.com/finova-net/finova-sub005/pkg/models"
)

func fin(v float64) kernel.FixedAmount {
	return kernel.FixedAmount(v * float64(kernel.MicroUnitsPerFIN))
}

func finFloat(a kernel.FixedAmount) float64 {
	return float64(a) / float64(kernel.MicroUnitsPerFIN)
}

// TestScenarioS1NewFinizenUser reproduces spec.md scenario S1.
func TestScenarioS1NewFinizenUser(t *testing.T) {
	ph := phase.DeriveConstants(50_000)
	require.InDelta(t, 1.95, ph.FinizenMultiplier, 0.001)

	in := Inputs{
		User: models.User{
			KYCVerified:        true,
			XPTotal:            0,
			RPTier:             models.TierExplorer,
			QualityScoreRecent: 1.0,
			StreakDays:         1,
		},
		Event:            models.ActivityEvent{Kind: models.KindPost, Platform: models.PlatformTikTok},
		QualityScore:     1.0,
		HumanProbability: 1.0,
		Phase:            ph,
	}
	out := Calculate(in, 1.0, nil)

	require.InDelta(t, 0.234, finFloat(out.FinPerHour), 0.01)
	require.EqualValues(t, 64, out.XPGained)
}

// TestScenarioS2WhaleRegression reproduces the qualitative claim of S2:
// large holdings crush the rate via regression_whale_factor.
func TestScenarioS2WhaleRegression(t *testing.T) {
	ph := phase.DeriveConstants(500_000)

	base := Inputs{
		User: models.User{
			KYCVerified: true,
			XPTotal:     8000, // Gold band, xp_mult ~2.02
			RPTier:      models.TierInfluencer,
			Holdings:    0,
		},
		Event:            models.ActivityEvent{Kind: models.KindPost, Platform: models.PlatformTikTok},
		QualityScore:     1.0,
		HumanProbability: 1.0,
		Phase:            ph,
		ActiveL1Count:    25,
	}
	whale := base
	whale.User.Holdings = fin(10_000)

	outBase := Calculate(base, 1.0, nil)
	outWhale := Calculate(whale, 1.0, nil)

	require.Less(t, outWhale.FinPerHour, outBase.FinPerHour)
	require.Less(t, finFloat(outWhale.FinPerHour), 0.001)
}

// TestWhaleRegressionMonotonicity is property P3.
func TestWhaleRegressionMonotonicity(t *testing.T) {
	ph := phase.DeriveConstants(50_000)
	holdings := []float64{0, 100, 1000, 10000, 100000}
	var prev kernel.FixedAmount = kernel.FixedAmount(1 << 62)
	for _, h := range holdings {
		in := Inputs{
			User:             models.User{KYCVerified: true, RPTier: models.TierExplorer, Holdings: fin(h)},
			Event:            models.ActivityEvent{Kind: models.KindPost},
			QualityScore:     1.0,
			HumanProbability: 1.0,
			Phase:            ph,
		}
		out := Calculate(in, 1.0, nil)
		require.LessOrEqual(t, out.FinPerHour, prev)
		prev = out.FinPerHour
	}
}

// TestHumanProbabilityMonotonicity is property P9.
func TestHumanProbabilityMonotonicity(t *testing.T) {
	ph := phase.DeriveConstants(50_000)
	probs := []float64{1.0, 0.8, 0.5, 0.1}
	var prev kernel.FixedAmount = kernel.FixedAmount(1 << 62)
	for _, p := range probs {
		in := Inputs{
			User:             models.User{KYCVerified: true, RPTier: models.TierExplorer},
			Event:            models.ActivityEvent{Kind: models.KindPost},
			QualityScore:     1.0,
			HumanProbability: p,
			Phase:            ph,
		}
		out := Calculate(in, 1.0, nil)
		require.Less(t, out.FinPerHour, prev)
		prev = out.FinPerHour
	}
}

// TestCalculateDoesNotClampToDailyCap confirms the per-event rate carries
// the uncapped master-formula value: the daily cap is enforced only at
// accrual time (internal/mining/scheduler.go's tickOne), not here, so a
// user with a high instantaneous rate is not flattened to
// phase.DailyCap/24 the moment the rate is computed (see scenario S1,
// whose 0.234 $FIN/hr already exceeds the Finizen phase's 0.2 $FIN/hr
// average). TestTickAccruesAndRespectsDailyCap in internal/mining covers
// the actual cap enforcement.
func TestCalculateDoesNotClampToDailyCap(t *testing.T) {
	ph := phase.DeriveConstants(50_000)
	in := Inputs{
		User:             models.User{KYCVerified: true, RPTier: models.TierAmbassador, XPTotal: 150000},
		Event:            models.ActivityEvent{Kind: models.KindPost},
		QualityScore:     2.0,
		HumanProbability: 1.0,
		Phase:            ph,
		ActiveL1Count:    100,
	}
	out := Calculate(in, 20.0, nil)
	require.Greater(t, finFloat(out.FinPerHour)*24, finFloat(ph.DailyCap))
}

func TestLevelForXPBandsAndMonotoneMultiplier(t *testing.T) {
	cases := []struct {
		xp    uint64
		band  string
	}{
		{0, "Bronze"},
		{999, "Bronze"},
		{1000, "Silver"},
		{5000, "Gold"},
		{20000, "Platinum"},
		{50000, "Diamond"},
		{100000, "Mythic"},
		{1_000_000, "Mythic"},
	}
	for _, c := range cases {
		info := LevelForXP(c.xp)
		require.Equal(t, c.band, info.Band, "xp=%d", c.xp)
		require.GreaterOrEqual(t, info.MiningMult, 1.0)
		require.LessOrEqual(t, info.MiningMult, 5.0)
		require.GreaterOrEqual(t, info.Level, uint16(1))
		require.LessOrEqual(t, info.Level, uint16(200))
	}
}

func TestTierForRPRanges(t *testing.T) {
	require.Equal(t, models.TierExplorer, TierForRP(0))
	require.Equal(t, models.TierConnector, TierForRP(1000))
	require.Equal(t, models.TierInfluencer, TierForRP(5000))
	require.Equal(t, models.TierLeader, TierForRP(15000))
	require.Equal(t, models.TierAmbassador, TierForRP(50000))
	require.Equal(t, models.TierAmbassador, TierForRP(10_000_000))
}

func TestStakingBonusTiers(t *testing.T) {
	require.Equal(t, 1.0, StakingBonus(0))
	require.Equal(t, 1.2, StakingBonus(100))
	require.Equal(t, 2.0, StakingBonus(50000))
}
