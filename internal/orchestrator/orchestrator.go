// Package orchestrator implements the Reward Orchestrator (spec.md
// §4.14): it sequences every other component into the eight external
// operations of §6, enforces the idempotency-cache and failure-policy
// contracts of §6/§7, and is the only package allowed to hold a
// reference to every other internal package. Grounded on the teacher's
// cmd/engine wiring and api/routes.go handler-composition style, which
// plays the same "glue everything, own no domain logic" role for the
// CoinJoin analysis pipeline.
package orchestrator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/finova-net/finova-sub005/internal/antibot"
	"github.com/finova-net/finova-sub005/internal/cards"
	"github.com/finova-net/finova-sub005/internal/engineerr"
	"github.com/finova-net/finova-sub005/internal/intents"
	"github.com/finova-net/finova-sub005/internal/kernel"
	"github.com/finova-net/finova-sub005/internal/mining"
	"github.com/finova-net/finova-sub005/internal/phase"
	"github.com/finova-net/finova-sub005/internal/quality"
	"github.com/finova-net/finova-sub005/internal/referral"
	"github.com/finova-net/finova-sub005/internal/reward"
	"github.com/finova-net/finova-sub005/internal/store"
	"github.com/finova-net/finova-sub005/pkg/models"
)

// qualityScoreRecentAlpha is the EMA smoothing factor of spec.md §4.14.10.
const qualityScoreRecentAlpha = 0.3

// Orchestrator is the composition root wiring every component into the
// eight operations of spec.md §6.
type Orchestrator struct {
	users     store.UserStateStore
	eventLog  store.RewardEventLog
	cardStore store.CardStore
	cardEng   *cards.Engine
	antibot   *antibot.Scorer
	quality   *quality.CircuitBreakingScorer
	phaseO    *phase.Oracle
	mining    *mining.Manager
	referral  *referral.Manager
	outbox    intents.Outbox
	history   *activityHistory
	logger    zerolog.Logger
	nowFn     func() time.Time
}

// New constructs an Orchestrator over already-wired component instances.
func New(
	users store.UserStateStore,
	eventLog store.RewardEventLog,
	cardStore store.CardStore,
	cardEng *cards.Engine,
	antibotScorer *antibot.Scorer,
	qualityScorer *quality.CircuitBreakingScorer,
	phaseOracle *phase.Oracle,
	miningMgr *mining.Manager,
	referralMgr *referral.Manager,
	outbox intents.Outbox,
	logger zerolog.Logger,
	nowFn func() time.Time,
) *Orchestrator {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Orchestrator{
		users:     users,
		eventLog:  eventLog,
		cardStore: cardStore,
		cardEng:   cardEng,
		antibot:   antibotScorer,
		quality:   qualityScorer,
		phaseO:    phaseOracle,
		mining:    miningMgr,
		referral:  referralMgr,
		outbox:    outbox,
		history:   newActivityHistory(),
		logger:    logger,
		nowFn:     nowFn,
	}
}

// DailyCapSource adapts a phase.Oracle to mining.DailyCapSource.
type DailyCapSource struct{ oracle *phase.Oracle }

// NewDailyCapSource constructs a mining.DailyCapSource backed by oracle.
func NewDailyCapSource(oracle *phase.Oracle) *DailyCapSource {
	return &DailyCapSource{oracle: oracle}
}

func (d *DailyCapSource) CurrentDailyCap(ctx context.Context) (int64, error) {
	c, err := d.oracle.Get(ctx)
	if err != nil {
		return 0, err
	}
	return int64(c.DailyCap), nil
}

// SessionHumanProbabilitySource adapts an antibot.Scorer to
// mining.HumanProbabilitySource for the accrual tick's suspend check;
// it rescores the user with no content reference since a tick is not
// tied to a single piece of content.
type SessionHumanProbabilitySource struct{ scorer *antibot.Scorer }

// NewSessionHumanProbabilitySource constructs the adapter.
func NewSessionHumanProbabilitySource(scorer *antibot.Scorer) *SessionHumanProbabilitySource {
	return &SessionHumanProbabilitySource{scorer: scorer}
}

func (s *SessionHumanProbabilitySource) RecomputeForSession(ctx context.Context, userID models.UserId) (float64, error) {
	res, err := s.scorer.Score(ctx, userID, "")
	if err != nil {
		return 0, err
	}
	return res.HumanProbability, nil
}

// ProcessActivity implements process_activity (spec.md §4.14/§6): the
// eleven-step sequence from anti-bot scoring through event-log append,
// idempotent on (user_id, client_event_id).
func (o *Orchestrator) ProcessActivity(ctx context.Context, event models.ActivityEvent) (models.RewardOutcome, error) {
	if cached, ok, err := o.users.GetCachedOutcome(ctx, event.UserID, event.ClientEventID); err != nil {
		return models.RewardOutcome{}, err
	} else if ok {
		return *cached, nil
	}

	now := o.nowFn()
	user, err := o.users.GetOrCreate(ctx, event.UserID, now)
	if err != nil {
		return models.RewardOutcome{}, err
	}
	if user.Banned {
		return models.RewardOutcome{}, engineerr.New(engineerr.CodeValidation, "user is banned", engineerr.ErrBanned)
	}

	// Step 2: anti-bot score the event and user.
	abResult, err := o.antibot.Score(ctx, event.UserID, event.ContentRef)
	if err != nil {
		abResult = antibot.Result{HumanProbability: 0.5}
	}

	// Step 3: gate the Quality Scorer call on the anti-bot score.
	degraded := false
	qualityScore := quality.NeutralScore
	if abResult.HumanProbability >= antibot.SuspensionScoreFloor && !antibot.HasCritical(abResult.Findings) {
		qr := o.quality.Score(ctx, event.ContentRef, event.Platform)
		qualityScore = qr.Value
		degraded = qr.Degraded
	} else {
		qualityScore = 0.5
		degraded = true
	}

	// Step 1 (remainder): load active cards and the referral snapshot.
	effects, err := o.cardStore.ActiveEffects(ctx, event.UserID)
	if err != nil {
		return models.RewardOutcome{}, err
	}
	cardBonus, cardBreakdown := cards.ActiveBonus(effects, now)

	l1Active := 0
	if snap, err := o.referral.Snapshot(ctx, event.UserID); err != nil {
		o.logger.Warn().Err(err).Str("user_id", string(event.UserID)).Msg("orchestrator: referral snapshot failed, treating as isolated")
	} else {
		l1Active = snap.L1Active
	}

	phaseConsts, err := o.phaseO.Get(ctx)
	if err != nil {
		return models.RewardOutcome{}, engineerr.Unavailable("phase oracle unavailable", err)
	}

	recent7d, distinctPlatforms := o.history.Recent7d(event.UserID, now)
	kindCountToday := o.history.DailyKindCount(event.UserID, event.Kind, now)
	o.history.Record(event.UserID, event.Platform, event.Kind, now)

	susp := suspiciousScore(abResult.Findings)

	calcOut := reward.Calculate(reward.Inputs{
		User:                user,
		Event:               event,
		QualityScore:        qualityScore,
		HumanProbability:    abResult.HumanProbability,
		Phase:               phaseConsts,
		ActiveCards:         effects,
		ActiveL1Count:       l1Active,
		Recent7dActivity:    recent7d,
		DistinctPlatforms7d: distinctPlatforms,
		SuspiciousScore:     susp,
		Now:                 now.Unix(),
	}, cardBonus, cardBreakdown)

	// Step 5: the new rate takes effect from the session's next tick.
	if err := o.mining.UpdateRate(ctx, event.UserID, int64(calcOut.FinPerHour)); err != nil {
		o.logger.Warn().Err(err).Str("user_id", string(event.UserID)).Msg("orchestrator: mining rate update failed")
	}

	// Step 6: enforce §4.7's hard per-kind daily XP cap, then credit XP
	// and recompute level. A kind with cap=0 is uncapped.
	xpDailyCapReached := false
	if cap := reward.DailyCap(event.Kind); cap > 0 && kindCountToday >= int(cap) {
		calcOut.XPGained = 0
		xpDailyCapReached = true
		calcOut.FactorBreakdown["xp_daily_cap_reached"] = 1.0
	}

	var levelUp bool
	var newLevel reward.LevelInfo
	_, err = o.users.Update(ctx, event.UserID, func(u *models.User) error {
		u.XPTotal += calcOut.XPGained
		newLevel = reward.LevelForXP(u.XPTotal)
		if newLevel.Level > u.XPLevel {
			levelUp = true
		}
		u.XPLevel = newLevel.Level
		return nil
	})
	if err != nil {
		return models.RewardOutcome{}, err
	}

	// Step 7: credit RP, recompute tier.
	var tierChange bool
	var newTier models.RPTier
	_, err = o.users.Update(ctx, event.UserID, func(u *models.User) error {
		applyRPDelta(u, calcOut.RPCreditDelta)
		newTier = reward.TierForRP(u.RPTotal)
		if newTier != u.RPTier {
			tierChange = true
		}
		u.RPTier = newTier
		return nil
	})
	if err != nil {
		return models.RewardOutcome{}, err
	}

	// Step 8: referral RP fan-out (mining fan-out is tied to claims, not events).
	if lines, err := o.referral.RPFanOut(ctx, event.UserID, calcOut.RPCreditDelta); err != nil {
		o.logger.Warn().Err(err).Str("user_id", string(event.UserID)).Msg("orchestrator: referral RP fan-out failed")
	} else {
		for _, line := range lines {
			if _, err := o.users.CreditRP(ctx, line.ReferrerID, line.Amount); err != nil {
				o.logger.Warn().Err(err).Str("user_id", string(line.ReferrerID)).Msg("orchestrator: referral RP credit failed")
			}
		}
	}

	// Steps 9-10: streak update and last_activity/human_score/quality EMA,
	// applied together since both are idempotent per-day/per-call state.
	today := now.UTC().Format("2006-01-02")
	_, err = o.users.Update(ctx, event.UserID, func(u *models.User) error {
		if u.LastActivityDay != today {
			u.StreakDays++
			u.LastActivityDay = today
		}
		u.LastActivityAt = now
		u.HumanScore = abResult.HumanProbability
		u.QualityScoreRecent = ema(u.QualityScoreRecent, qualityScore, qualityScoreRecentAlpha)
		return nil
	})
	if err != nil {
		return models.RewardOutcome{}, err
	}

	var outIntents []models.Intent
	if levelUp || tierChange {
		seq, err := o.eventLog.NextSeq(ctx, event.UserID)
		if err != nil {
			o.logger.Warn().Err(err).Msg("orchestrator: notification seq failed")
		} else {
			if levelUp {
				msg := fmt.Sprintf("level up: now level %d", newLevel.Level)
				intent := intents.NewNotificationIntent(event.UserID, msg, seq)
				if err := o.outbox.Enqueue(ctx, intent); err == nil {
					outIntents = append(outIntents, intent)
				}
			}
			if tierChange {
				msg := fmt.Sprintf("tier change: now %s", newTier)
				intent := intents.NewNotificationIntent(event.UserID, msg, seq+1)
				if err := o.outbox.Enqueue(ctx, intent); err == nil {
					outIntents = append(outIntents, intent)
				}
			}
		}
	}

	// Step 11: append to the event log and emit the RewardOutcome.
	seq, err := o.eventLog.Append(ctx, event.UserID, models.EventLogRecord{
		TS:         uint64(now.UnixMilli()),
		Kind:       string(event.Kind),
		FinDelta:   0,
		XPDelta:    int64(calcOut.XPGained),
		RPDelta:    calcOut.RPCreditDelta,
		Factors:    calcOut.FactorBreakdown,
		Provenance: "process_activity",
	})
	if err != nil {
		return models.RewardOutcome{}, err
	}

	outcome := models.RewardOutcome{
		UserID:          event.UserID,
		EventRef:        fmt.Sprintf("%s:%d", event.UserID, seq),
		XPGained:        calcOut.XPGained,
		RPCreditDelta:   calcOut.RPCreditDelta,
		FinAccrued:      0,
		Factors:         calcOut.FactorBreakdown,
		Intents:         outIntents,
		Degraded:        degraded,
		LevelUp:         levelUp,
		TierChange:      tierChange,
		NewLevel:        newLevel.Level,
		NewTier:         newTier,
		DailyCapReached: xpDailyCapReached,
	}
	if err := o.users.PutCachedOutcome(ctx, event.UserID, event.ClientEventID, outcome); err != nil {
		o.logger.Warn().Err(err).Msg("orchestrator: idempotency cache write failed")
	}
	return outcome, nil
}

// StartMining implements start_mining (spec.md §6): estimates the
// session's opening rate from the user's current phase/level/tier
// multipliers (no event-specific factors exist yet) and hands off to
// the Mining Session Manager for the anti-bot/cooldown/uniqueness checks.
func (o *Orchestrator) StartMining(ctx context.Context, userID models.UserId) (models.MiningSession, error) {
	now := o.nowFn()
	user, err := o.users.GetOrCreate(ctx, userID, now)
	if err != nil {
		return models.MiningSession{}, err
	}
	rate, err := o.estimateOpeningRate(ctx, user)
	if err != nil {
		return models.MiningSession{}, err
	}
	return o.mining.StartSession(ctx, userID, int64(rate), user.HumanScore)
}

// ClaimResult is the outcome of claim_mining (spec.md §6).
type ClaimResult struct {
	Amount  int64
	Intents []models.Intent
}

// ClaimMining implements claim_mining (spec.md §6/§4.10): zeroes the
// session's accrued balance, credits the user, emits the claim's mint
// intent, then fans out mining credit to up to three referrer levels,
// each tagged and emitted after the claimant's own intent (spec.md §5's
// ordering guarantee).
func (o *Orchestrator) ClaimMining(ctx context.Context, userID models.UserId) (ClaimResult, error) {
	claimed, err := o.mining.Claim(ctx, userID)
	if err != nil {
		return ClaimResult{}, err
	}

	result := ClaimResult{Amount: claimed.Amount}
	if _, err := o.users.CreditFIN(ctx, userID, claimed.Amount, "mining_claim"); err != nil {
		return ClaimResult{}, err
	}
	if intent, err := o.emitMint(ctx, userID, claimed.Amount, "claim"); err != nil {
		o.logger.Warn().Err(err).Str("user_id", string(userID)).Msg("orchestrator: claim mint intent enqueue failed")
	} else {
		result.Intents = append(result.Intents, intent)
	}
	if _, err := o.eventLog.Append(ctx, userID, models.EventLogRecord{
		TS: uint64(o.nowFn().UnixMilli()), Kind: "claim", FinDelta: claimed.Amount, Provenance: "claim_mining",
	}); err != nil {
		o.logger.Warn().Err(err).Str("user_id", string(userID)).Msg("orchestrator: claim event-log append failed")
	}

	lines, err := o.referral.MiningFanOut(ctx, userID, claimed.Amount)
	if err != nil {
		o.logger.Warn().Err(err).Str("user_id", string(userID)).Msg("orchestrator: mining fan-out failed")
		return result, nil
	}
	for _, line := range lines {
		if _, err := o.users.CreditFIN(ctx, line.ReferrerID, line.Amount, fmt.Sprintf("referral_l%d", line.Level)); err != nil {
			o.logger.Warn().Err(err).Str("user_id", string(line.ReferrerID)).Msg("orchestrator: referral fan-out credit failed")
			continue
		}
		intent, err := o.emitMint(ctx, line.ReferrerID, line.Amount, fmt.Sprintf("referral_l%d", line.Level))
		if err != nil {
			o.logger.Warn().Err(err).Str("user_id", string(line.ReferrerID)).Msg("orchestrator: referral mint intent enqueue failed")
			continue
		}
		result.Intents = append(result.Intents, intent)
	}
	return result, nil
}

func (o *Orchestrator) emitMint(ctx context.Context, userID models.UserId, amount int64, provenance string) (models.Intent, error) {
	seq, err := o.eventLog.NextSeq(ctx, userID)
	if err != nil {
		return models.Intent{}, err
	}
	intent := intents.NewMintIntent(userID, amount, seq, provenance)
	if err := o.outbox.Enqueue(ctx, intent); err != nil {
		return models.Intent{}, err
	}
	return intent, nil
}

// StopMining implements stop_mining (spec.md §6).
func (o *Orchestrator) StopMining(ctx context.Context, userID models.UserId) (mining.StopResult, error) {
	return o.mining.StopSession(ctx, userID)
}

// ActivateCard implements activate_card (spec.md §6).
func (o *Orchestrator) ActivateCard(ctx context.Context, userID models.UserId, cardID string) (models.NFTCardEffect, error) {
	user, err := o.users.Get(ctx, userID)
	if err != nil {
		return models.NFTCardEffect{}, err
	}
	level := reward.LevelForXP(user.XPTotal).Level
	effect, err := o.cardEng.Activate(ctx, userID, cardID, level, o.nowFn())
	if err != nil {
		return models.NFTCardEffect{}, err
	}
	return effect, nil
}

// ApplyReferralResult is the outcome of apply_referral (spec.md §6).
type ApplyReferralResult struct {
	ReferrerID   models.UserId
	InitialBonus int64
}

// ApplyReferral implements apply_referral (spec.md §6). The engine
// defines no standalone welcome bonus beyond the ongoing L1-L3 fan-out
// mechanics of §4.9, so InitialBonus is always 0 (see DESIGN.md).
func (o *Orchestrator) ApplyReferral(ctx context.Context, newUserID, referrerID models.UserId) (ApplyReferralResult, error) {
	if err := o.referral.Apply(ctx, newUserID, referrerID); err != nil {
		return ApplyReferralResult{}, err
	}
	return ApplyReferralResult{ReferrerID: referrerID, InitialBonus: 0}, nil
}

// RateInfo is the response DTO for query_rate (spec.md §6).
type RateInfo struct {
	CurrentRatePerHour int64
	DailyCap           int64
	TodayEarned        int64
	Phase              phase.PhaseName
}

// QueryRate implements query_rate (spec.md §6).
func (o *Orchestrator) QueryRate(ctx context.Context, userID models.UserId) (RateInfo, error) {
	sess, err := o.users.GetActiveSession(ctx, userID)
	if err != nil {
		return RateInfo{}, err
	}
	ph, err := o.phaseO.Get(ctx)
	if err != nil {
		return RateInfo{}, engineerr.Unavailable("phase oracle unavailable", err)
	}
	today := o.nowFn().UTC().Format("2006-01-02")
	earned, err := o.users.TodayAccrued(ctx, userID, today)
	if err != nil {
		return RateInfo{}, err
	}
	var rate int64
	if sess != nil {
		rate = sess.CurrentRatePerHour
	}
	return RateInfo{CurrentRatePerHour: rate, DailyCap: int64(ph.DailyCap), TodayEarned: earned, Phase: ph.Phase}, nil
}

// UserStatsDTO is the response DTO for query_stats (spec.md §6).
type UserStatsDTO struct {
	User     models.User
	Level    reward.LevelInfo
	Snapshot models.ReferralNetworkSnapshot
}

// QueryStats implements query_stats (spec.md §6).
func (o *Orchestrator) QueryStats(ctx context.Context, userID models.UserId) (UserStatsDTO, error) {
	user, err := o.users.Get(ctx, userID)
	if err != nil {
		return UserStatsDTO{}, err
	}
	snap, err := o.referral.Snapshot(ctx, userID)
	if err != nil {
		return UserStatsDTO{}, err
	}
	return UserStatsDTO{User: user, Level: reward.LevelForXP(user.XPTotal), Snapshot: snap}, nil
}

// estimateOpeningRate computes a session's starting rate from phase,
// level and tier multipliers only; event-specific factors (quality,
// activity, cards, whale regression) are folded in by the first
// process_activity call via UpdateRate.
func (o *Orchestrator) estimateOpeningRate(ctx context.Context, user models.User) (kernel.FixedAmount, error) {
	ph, err := o.phaseO.Get(ctx)
	if err != nil {
		return 0, engineerr.Unavailable("phase oracle unavailable", err)
	}
	chain := kernel.NewChain()
	chain.Factor(kernel.Multiplier(ph.FinizenMultiplier), 1.0, 2.0)
	levelInfo := reward.LevelForXP(user.XPTotal)
	chain.Factor(kernel.Multiplier(levelInfo.MiningMult), 1.0, 5.0)
	chain.Factor(kernel.Multiplier(reward.TierMiningMultiplier(user.RPTier)), 1.0, 3.0)
	return chain.ApplyToRate(ph.BaseRatePerHour), nil
}

func applyRPDelta(u *models.User, delta int64) {
	if delta < 0 && uint64(-delta) > u.RPTotal {
		u.RPTotal = 0
		return
	}
	u.RPTotal = uint64(int64(u.RPTotal) + delta)
}

func ema(prev, sample, alpha float64) float64 {
	return alpha*sample + (1-alpha)*prev
}

// suspiciousScore folds anti-bot findings into the single scalar the
// Reward Calculator's §4.11 penalty system gates on; a clean user
// (no findings) scores exactly 0, so the calculator applies no penalty.
func suspiciousScore(findings []antibot.SuspiciousFinding) float64 {
	score := 0.0
	for _, f := range findings {
		var s float64
		switch f.Severity {
		case antibot.SeverityCritical:
			s = 1.0
		case antibot.SeverityHigh:
			s = 0.7
		case antibot.SeverityMedium:
			s = 0.4
		case antibot.SeverityLow:
			s = 0.15
		}
		score = math.Max(score, s)
	}
	return score
}
