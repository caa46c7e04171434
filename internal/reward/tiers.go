package reward

import "github.com/finova-net/finova-sub005/pkg/models"

// tierRow is one row of spec.md §4.8's RP tier table.
type tierRow struct {
	tier           models.RPTier
	rpLow, rpHigh  uint64 // rpHigh 0 = unbounded (Ambassador)
	miningBonusPct float64
	shareL1        float64
	shareL2        float64
	shareL3        float64
	networkCap     int // 0 = unbounded
}

var tierTable = []tierRow{
	{models.TierExplorer, 0, 1000, 0.0, 0.10, 0.0, 0.0, 10},
	{models.TierConnector, 1000, 5000, 0.20, 0.15, 0.05, 0.0, 25},
	{models.TierInfluencer, 5000, 15000, 0.50, 0.20, 0.08, 0.03, 50},
	{models.TierLeader, 15000, 50000, 1.00, 0.25, 0.10, 0.05, 100},
	{models.TierAmbassador, 50000, 0, 2.00, 0.30, 0.15, 0.08, 0},
}

// TierForRP returns the unique tier whose RP range contains rpTotal (I5).
func TierForRP(rpTotal uint64) models.RPTier {
	for _, r := range tierTable {
		if r.rpHigh == 0 || rpTotal < r.rpHigh {
			if rpTotal >= r.rpLow {
				return r.tier
			}
		}
	}
	return models.TierAmbassador
}

// TierMiningMultiplier returns the [1.0, 3.0] rp_tier_multiplier of
// spec.md §4.6 for a given tier (1 + mining bonus pct, capped at 3.0).
func TierMiningMultiplier(tier models.RPTier) float64 {
	for _, r := range tierTable {
		if r.tier == tier {
			m := 1.0 + r.miningBonusPct
			if m > 3.0 {
				return 3.0
			}
			return m
		}
	}
	return 1.0
}

// TierShares returns the L1/L2/L3 reward-share percentages for a
// referrer's own tier (spec.md §4.9 — "Shares are read from the
// referrer's current tier").
func TierShares(tier models.RPTier) (l1, l2, l3 float64) {
	for _, r := range tierTable {
		if r.tier == tier {
			return r.shareL1, r.shareL2, r.shareL3
		}
	}
	return 0, 0, 0
}

// TierNetworkCap returns the tier's network cap (0 = unbounded).
func TierNetworkCap(tier models.RPTier) int {
	for _, r := range tierTable {
		if r.tier == tier {
			return r.networkCap
		}
	}
	return 0
}

// MaxTierShares returns the maximum possible L1/L2/L3 share percentages
// across all tiers, used for the P5 conservation bound.
func MaxTierShares() (l1, l2, l3 float64) {
	for _, r := range tierTable {
		if r.shareL1 > l1 {
			l1 = r.shareL1
		}
		if r.shareL2 > l2 {
			l2 = r.shareL2
		}
		if r.shareL3 > l3 {
			l3 = r.shareL3
		}
	}
	return
}
