package reward

import "github.com/finova-net/finova-sub005/pkg/models"

// activityRow is one row of spec.md §4.7's base-XP/RP and daily-cap table.
type activityRow struct {
	baseXP   float64
	baseRP   float64
	dailyCap uint32 // 0 = uncapped
}

var activityTable = map[models.ActivityKind]activityRow{
	models.KindPost:           {50, 10, 0},
	models.KindPhoto:          {75, 12, 0},
	models.KindVideo:          {150, 20, 0},
	models.KindStory:          {25, 5, 0},
	models.KindComment:        {25, 5, 0},
	models.KindLike:           {5, 1, 200},
	models.KindShare:          {15, 8, 50},
	models.KindFollow:         {20, 5, 25},
	models.KindLogin:          {10, 2, 1},
	models.KindQuestComplete:  {100, 15, 3},
	models.KindViralMilestone: {1000, 100, 0},
}

// BaseXP returns base_xp[kind] (spec.md §4.7).
func BaseXP(kind models.ActivityKind) float64 { return activityTable[kind].baseXP }

// BaseRP returns base_rp[kind] for the RP-credit-delta formula (spec.md §4.6).
func BaseRP(kind models.ActivityKind) float64 { return activityTable[kind].baseRP }

// DailyCap returns the hard per-day event cap for kind (0 = uncapped).
func DailyCap(kind models.ActivityKind) uint32 { return activityTable[kind].dailyCap }

var platformMultipliers = map[models.Platform]float64{
	models.PlatformTikTok:    1.3,
	models.PlatformYouTube:   1.4,
	models.PlatformInstagram: 1.2,
	models.PlatformX:         1.2,
	models.PlatformFacebook:  1.1,
}

// PlatformMultiplier returns the platform_multiplier of spec.md §4.7,
// defaulting to 1.0 for unlisted platforms.
func PlatformMultiplier(p models.Platform) float64 {
	if m, ok := platformMultipliers[p]; ok {
		return m
	}
	return 1.0
}

// stakingRow is one tier of spec.md §4.12's staking bonus table.
type stakingRow struct {
	minFIN     float64
	multiplier float64
}

var stakingTable = []stakingRow{
	{10000, 2.0},
	{5000, 1.75},
	{1000, 1.5},
	{500, 1.35},
	{100, 1.2},
	{0, 1.0},
}

// StakingBonus returns the [1.0, 2.0] staking_bonus multiplier for a
// given staked amount in whole $FIN (spec.md §4.12).
func StakingBonus(stakedFIN float64) float64 {
	for _, r := range stakingTable {
		if stakedFIN >= r.minFIN {
			return r.multiplier
		}
	}
	return 1.0
}
