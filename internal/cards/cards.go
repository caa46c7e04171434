// Package cards implements the Special-Card Effect Engine (spec.md
// §4.13): activation validation, stacking/synergy bonus computation,
// per-card-kind cooldowns, and single-use consumption. Grounded on the
// teacher's risk-role activation/expiry bookkeeping style (time-boxed
// flags with explicit expiry checks), generalized from risk roles to
// NFT card effects.
package cards

import (
	"context"
	"time"

	"github.com/finova-net/finova-sub005/internal/engineerr"
	"github.com/finova-net/finova-sub005/internal/store"
	"github.com/finova-net/finova-sub005/pkg/models"
)

// BonusCap is the overall special-card multiplier cap (spec.md §4.6/§4.13).
const BonusCap = 20.0

// CardDefinition is the static catalog entry for a purchasable/earned
// card kind. The engine's catalog is provided by the caller (cards are
// content, not engine logic); this struct is what activation validates
// against.
type CardDefinition struct {
	CardID        string
	Category      models.CardCategory
	Multiplier    float64
	DurationHours uint32 // 0 = permanent
	Stackable     bool
	MaxStack      uint8
	SingleUse     bool
	Cooldown      time.Duration
}

// Catalog is the fixed set of card kinds the engine recognizes. Values
// mirror the illustrative cooldowns named in spec.md §4.13.
var Catalog = map[string]CardDefinition{
	"double_mining":   {CardID: "double_mining", Category: models.CategoryMiningBoost, Multiplier: 2.0, DurationHours: 24, Stackable: false, MaxStack: 1, Cooldown: 24 * time.Hour},
	"triple_mining":   {CardID: "triple_mining", Category: models.CategoryMiningBoost, Multiplier: 3.0, DurationHours: 12, Stackable: false, MaxStack: 1, Cooldown: 12 * time.Hour},
	"mining_frenzy":   {CardID: "mining_frenzy", Category: models.CategoryMiningBoost, Multiplier: 6.0, DurationHours: 4, Stackable: false, MaxStack: 1, Cooldown: 48 * time.Hour},
	"xp_double":       {CardID: "xp_double", Category: models.CategoryXPAccelerator, Multiplier: 2.0, DurationHours: 24, Stackable: false, MaxStack: 1, Cooldown: 24 * time.Hour},
	"referral_boost":  {CardID: "referral_boost", Category: models.CategoryReferralPower, Multiplier: 1.5, DurationHours: 168, Stackable: false, MaxStack: 1, Cooldown: 168 * time.Hour},
	"level_rush":      {CardID: "level_rush", Category: models.CategoryXPAccelerator, Multiplier: 1.5, DurationHours: 1, Stackable: true, MaxStack: 3, SingleUse: true, Cooldown: 0},
	"streak_saver":    {CardID: "streak_saver", Category: models.CategoryProfileBadge, Multiplier: 1.0, DurationHours: 0, Stackable: true, MaxStack: 1, SingleUse: true, Cooldown: 0},
}

// maxActiveBoosts returns the level-gated cap on simultaneously active
// boost effects (spec.md §4.13).
func maxActiveBoosts(level uint16) int {
	switch {
	case level >= 100:
		return 5
	case level >= 50:
		return 4
	case level >= 25:
		return 3
	case level >= 10:
		return 2
	default:
		return 1
	}
}

// Engine wires card activation against a CardStore.
type Engine struct {
	store store.CardStore
}

// NewEngine constructs a card Engine over the given CardStore.
func NewEngine(cs store.CardStore) *Engine {
	return &Engine{store: cs}
}

// Activate validates and records activation of cardID for userID,
// returning the new NFTCardEffect or a typed error (spec.md §4.13/§6).
func (e *Engine) Activate(ctx context.Context, userID models.UserId, cardID string, userLevel uint16, now time.Time) (models.NFTCardEffect, error) {
	def, ok := Catalog[cardID]
	if !ok {
		return models.NFTCardEffect{}, engineerr.Validation("unrecognized card", nil)
	}

	owns, err := e.store.OwnsCard(ctx, userID, cardID)
	if err != nil {
		return models.NFTCardEffect{}, engineerr.Unavailable("card ownership check failed", err)
	}
	if !owns {
		return models.NFTCardEffect{}, engineerr.New(engineerr.CodeValidation, "card not owned", engineerr.ErrNotOwned)
	}

	if until, onCooldown, err := e.store.CooldownUntil(ctx, userID, cardID); err != nil {
		return models.NFTCardEffect{}, engineerr.Unavailable("cooldown check failed", err)
	} else if onCooldown && now.Before(until) {
		return models.NFTCardEffect{}, engineerr.New(engineerr.CodeValidation, "card cooldown active", engineerr.ErrCooldownActive)
	}

	active, err := e.store.ActiveEffects(ctx, userID)
	if err != nil {
		return models.NFTCardEffect{}, engineerr.Unavailable("active effects query failed", err)
	}
	active = liveEffects(active, now)

	boostCount := 0
	sameCategory := 0
	sameKindCount := 0
	for _, a := range active {
		boostCount++
		if a.Category == def.Category {
			sameCategory++
		}
		if a.CardID == cardID {
			sameKindCount++
		}
	}
	if boostCount >= maxActiveBoosts(userLevel) {
		return models.NFTCardEffect{}, engineerr.New(engineerr.CodeValidation, "active-boost cap exceeded", engineerr.ErrCapExceeded)
	}
	if !def.Stackable && sameCategory > 0 {
		return models.NFTCardEffect{}, engineerr.New(engineerr.CodeValidation, "card incompatible with active effects", engineerr.ErrIncompatible)
	}
	if def.Stackable && sameKindCount >= int(def.MaxStack) {
		return models.NFTCardEffect{}, engineerr.New(engineerr.CodeValidation, "active-boost cap exceeded", engineerr.ErrCapExceeded)
	}

	effect := models.NFTCardEffect{
		UserID:        userID,
		CardID:        cardID,
		InstanceID:    newInstanceID(userID, cardID, now),
		Category:      def.Category,
		Multiplier:    def.Multiplier,
		DurationHours: def.DurationHours,
		Stackable:     def.Stackable,
		MaxStack:      def.MaxStack,
		ActivatedAt:   now,
		SingleUse:     def.SingleUse,
	}
	if def.DurationHours > 0 {
		expiry := now.Add(time.Duration(def.DurationHours) * time.Hour)
		effect.ExpiresAt = &expiry
	}

	if err := e.store.PutEffect(ctx, effect); err != nil {
		return models.NFTCardEffect{}, engineerr.Unavailable("put effect failed", err)
	}
	if def.Cooldown > 0 {
		if err := e.store.SetCooldown(ctx, userID, cardID, now.Add(def.Cooldown)); err != nil {
			return models.NFTCardEffect{}, engineerr.Unavailable("set cooldown failed", err)
		}
	}
	return effect, nil
}

// BurnIfSingleUse removes a single-use effect after its one application
// and reports whether a CardBurnIntent should be enqueued.
func (e *Engine) BurnIfSingleUse(ctx context.Context, effect models.NFTCardEffect) (bool, error) {
	if !effect.SingleUse {
		return false, nil
	}
	if err := e.store.RemoveEffect(ctx, effect.UserID, effect.InstanceID); err != nil {
		return false, engineerr.Unavailable("remove single-use effect failed", err)
	}
	return true, nil
}

// liveEffects filters out expired effects.
func liveEffects(effects []models.NFTCardEffect, now time.Time) []models.NFTCardEffect {
	out := effects[:0:0]
	for _, e := range effects {
		if e.ExpiresAt == nil || now.Before(*e.ExpiresAt) {
			out = append(out, e)
		}
	}
	return out
}

// ActiveBonus computes the product of per-card multipliers for
// unexpired effects, the synergy bonus for 2+ simultaneous cards, the
// all-three-category bonus, and the overall 20.0 cap (spec.md §4.13).
func ActiveBonus(effects []models.NFTCardEffect, now time.Time) (float64, map[string]float64) {
	live := liveEffects(effects, now)
	breakdown := make(map[string]float64, len(live)+2)

	product := 1.0
	categories := make(map[models.CardCategory]bool)
	for _, e := range live {
		product *= e.Multiplier
		breakdown["card:"+e.CardID] = e.Multiplier
		categories[e.Category] = true
	}

	if len(live) >= 2 {
		synergy := 1 + float64(len(live))*0.1
		product *= synergy
		breakdown["synergy"] = synergy
	}

	if categories[models.CategoryMiningBoost] && categories[models.CategoryXPAccelerator] && categories[models.CategoryReferralPower] {
		product += 0.3
		breakdown["triple_category_bonus"] = 0.3
	}

	if product > BonusCap {
		product = BonusCap
	}
	breakdown["total"] = product
	return product, breakdown
}

func newInstanceID(userID models.UserId, cardID string, now time.Time) string {
	return string(userID) + ":" + cardID + ":" + now.UTC().Format("20060102T150405.000000000")
}
