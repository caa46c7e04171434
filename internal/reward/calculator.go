// Package reward implements the Reward Calculator (spec.md §4.6): a
// pure function combining the twelve bounded multiplicative factors of
// the master mining-rate formula, the XP-gained formula, and the
// RP-credit-delta formula, all built on internal/kernel's ChainBuilder
// so every product is provably bounded (P1) before conversion back to a
// FixedAmount. Grounded on the teacher's privacy_score.go weighted
// composition style, generalized from an additive weighted sum to a
// clamped multiplicative chain per spec.md §4.1.
package reward

import (
	"math"

	"github.com/finova-net/finova-sub005/internal/cards"
	"github.com/finova-net/finova-sub005/internal/kernel"
	"github.com/finova-net/finova-sub005/internal/phase"
	"github.com/finova-net/finova-sub005/pkg/models"
)

// Inputs bundles everything the Calculator needs (spec.md §4.6).
type Inputs struct {
	User             models.User
	Event            models.ActivityEvent
	QualityScore     float64 // [0.5, 2.0]
	HumanProbability float64 // [0.1, 1.0]
	Phase            phase.Constants
	ActiveCards      []models.NFTCardEffect
	ActiveL1Count    int // active, non-banned direct referees
	Recent7dActivity int
	DistinctPlatforms7d int
	SuspiciousScore  float64 // aggregated penalty input, see §4.11
	Now              int64   // unix seconds, for card expiry checks (via caller-supplied time.Time elsewhere)
}

// Outputs bundles the Calculator's results (spec.md §4.6). The daily
// accrual cap is not represented here: it is enforced against the
// session's actual today-so-far total, not against a per-event rate (see
// internal/mining/scheduler.go's tickOne).
type Outputs struct {
	FinPerHour      kernel.FixedAmount
	XPGained        uint64
	RPCreditDelta   int64
	FactorBreakdown models.FactorBreakdown
}

// Calculate is the pure reward calculation of spec.md §4.6, applying the
// §4.11 penalty system. The phase daily cap is not applied here (see
// Outputs).
func Calculate(in Inputs, cardBonus float64, cardBreakdown map[string]float64) Outputs {
	breakdown := make(models.FactorBreakdown, 16)
	chain := kernel.NewChain()

	finizen := chain.Factor(kernel.Multiplier(in.Phase.FinizenMultiplier), 1.0, 2.0)
	breakdown["finizen_multiplier"] = finizen

	referralBonus := 1.0 + 0.1*float64(in.ActiveL1Count)
	referralBonus = chain.Factor(kernel.Multiplier(referralBonus), 1.0, 3.5)
	breakdown["referral_bonus"] = referralBonus

	security := 0.8
	if in.User.KYCVerified {
		security = 1.2
	}
	security = chain.Factor(kernel.Multiplier(security), 0.8, 1.2)
	breakdown["security_bonus"] = security

	levelInfo := LevelForXP(in.User.XPTotal)
	xpMult := chain.Factor(kernel.Multiplier(levelInfo.MiningMult), 1.0, 5.0)
	breakdown["xp_level_multiplier"] = xpMult

	tierMult := chain.Factor(kernel.Multiplier(TierMiningMultiplier(in.User.RPTier)), 1.0, 3.0)
	breakdown["rp_tier_multiplier"] = tierMult

	quality := chain.Factor(kernel.Multiplier(in.QualityScore), 0.5, 2.0)
	breakdown["quality_score"] = quality

	activityBonus := activityBonus(in.Recent7dActivity, in.DistinctPlatforms7d, in.User.QualityScoreRecent)
	activityBonus = chain.Factor(kernel.Multiplier(activityBonus), 1.0, 2.0)
	breakdown["activity_bonus"] = activityBonus

	staking := chain.Factor(kernel.Multiplier(StakingBonus(float64(in.User.Staked)/float64(kernel.MicroUnitsPerFIN))), 1.0, 2.0)
	breakdown["staking_bonus"] = staking

	cardFactor := chain.Factor(kernel.Multiplier(cardBonus), 1.0, cards.BonusCap)
	breakdown["special_card_bonus"] = cardFactor
	for k, v := range cardBreakdown {
		breakdown["card_detail:"+k] = v
	}

	holdingsFIN := float64(in.User.Holdings) / float64(kernel.MicroUnitsPerFIN)
	whale := kernel.ExpNeg(0.001 * holdingsFIN)
	whale = chain.Factor(kernel.Multiplier(whale), 0.0, 1.0)
	breakdown["regression_whale_factor"] = whale

	humanProb := clamp(in.HumanProbability, 0.1, 1.0)
	humanSq := chain.Factor(kernel.Multiplier(humanProb*humanProb), 0.01, 1.0)
	breakdown["human_probability_squared"] = humanSq

	rate := chain.ApplyToRate(in.Phase.BaseRatePerHour)

	// Penalty system (spec.md §4.11): "applied ... when suspicious
	// findings exist" — a clean user (SuspiciousScore == 0) pays no
	// penalty, matching scenario S1's unpenalized master-formula result.
	miningPenalty, xpPenalty, rpPenalty := 0.0, 0.0, 0.0
	if in.SuspiciousScore > 0 {
		difficulty := 1.0 + float64(in.User.Holdings)/float64(kernel.MicroUnitsPerFIN)/1000.0 + in.SuspiciousScore*2
		miningPenalty = math.Min(0.95, difficulty*0.1)
		xpPenalty = math.Min(0.90, difficulty*0.05)
		rpPenalty = math.Min(0.92, difficulty*0.08)
	}
	breakdown["mining_penalty"] = miningPenalty
	breakdown["xp_penalty"] = xpPenalty
	breakdown["rp_penalty"] = rpPenalty
	rate = kernel.FixedAmount(float64(rate) * (1 - miningPenalty))

	// The daily cap is enforced where it belongs: at accrual time, against
	// the user's actual today-so-far total (internal/mining/scheduler.go's
	// tickOne, allowed = min(increment, cap-accruedToday)). Clamping the
	// per-event rate itself against phase.DailyCap/24 double-enforces the
	// same cap against a per-hour average that has no relation to what the
	// user has already accrued today, and would reject legitimate
	// above-average rates (spec.md §4.1 scenario S1) outright.
	xp := XPGainedWithPlatform(in.Event.Kind, in.Event.Platform, quality, in.User.StreakDays, levelInfo.Level, xpPenalty)
	rp := rpCreditDelta(in.Event.Kind, quality, in.User.RPTier, rpPenalty)

	return Outputs{
		FinPerHour:      rate,
		XPGained:        xp,
		RPCreditDelta:   rp,
		FactorBreakdown: breakdown,
	}
}

// activityBonus computes the [1.0, 2.0] activity_bonus factor (spec.md §4.6).
func activityBonus(recent7d, distinctPlatforms int, qualityRecent float64) float64 {
	a := math.Min(1.0, float64(recent7d)/50.0)
	b := math.Min(1.0, float64(distinctPlatforms)/5.0)
	bonus := 1 + a*b*qualityRecent
	if bonus > 2.0 {
		return 2.0
	}
	return bonus
}

// XPGainedWithPlatform computes floor(base_xp * platform_mult * quality *
// streak_bonus * exp(-0.01*level)) with the §4.11 xp_penalty applied
// multiplicatively (spec.md §4.6, §4.11). Per-kind daily caps are
// enforced by the caller, which has the day's event count; this
// function computes the uncapped value.
func XPGainedWithPlatform(kind models.ActivityKind, platform models.Platform, quality float64, streakDays uint32, level uint16, xpPenalty float64) uint64 {
	// streak_days is 1 on a user's first tracked day (spec.md §4.14.9's
	// "if first event of the day, increment"), so the bonus is keyed off
	// completed prior days, streak_days-1, per the worked example S1.
	completedStreakDays := 0.0
	if streakDays > 0 {
		completedStreakDays = float64(streakDays - 1)
	}
	streakBonus := 1 + math.Min(3.0, 0.1*completedStreakDays)
	decay := kernel.ExpNeg(0.01 * float64(level))
	raw := BaseXP(kind) * PlatformMultiplier(platform) * quality * streakBonus * decay * (1 - xpPenalty)
	if raw < 0 {
		return 0
	}
	return uint64(math.Floor(raw))
}

// rpCreditDelta computes base_rp[kind] * quality * network_quality_bonus
// with the rp_penalty applied (spec.md §4.6, §4.11).
func rpCreditDelta(kind models.ActivityKind, quality float64, tier models.RPTier, rpPenalty float64) int64 {
	networkQualityBonus := 1 + float64(tier.TierIndex())*0.2
	raw := BaseRP(kind) * quality * networkQualityBonus * (1 - rpPenalty)
	return int64(math.Round(raw))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
