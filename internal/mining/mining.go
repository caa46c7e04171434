// Package mining implements the Mining Session Manager (spec.md §4.10):
// per-user session lifecycle (start/claim/stop), and the batched accrual
// scheduler. Grounded on the teacher's mempool/poller.go and
// scanner/block_scanner.go tick-and-batch idiom, generalized from
// polling a Bitcoin node to ticking mining sessions.
package mining

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/finova-net/finova-sub005/internal/engineerr"
	"github.com/finova-net/finova-sub005/internal/store"
	"github.com/finova-net/finova-sub005/pkg/models"
)

const (
	// SessionLifetime is the hard 24h cap on a session (spec.md §3).
	SessionLifetime = 24 * time.Hour
	// SuspendedAutoCloseAfter is the 1h auto-close of a Suspended session
	// absent admin intervention (spec.md §4.10).
	SuspendedAutoCloseAfter = time.Hour
	// AntiBotCooldown is the 1h cooldown imposed after an anti-bot close
	// reason before a new session can start (spec.md §4.10).
	AntiBotCooldown = time.Hour
	// TickBatchSize bounds how many Active sessions one scheduler pass
	// processes together (spec.md §4.10).
	TickBatchSize = 50
	// PerUserTickBudget is the wall-clock budget for one session's tick
	// (spec.md §5); over-budget ticks are deferred, not lost.
	PerUserTickBudget = 50 * time.Millisecond
)

// HumanProbabilitySource recomputes a session's human probability at
// tick time, used for the suspend-on-drop-below-0.5 check (spec.md §4.10).
type HumanProbabilitySource interface {
	RecomputeForSession(ctx context.Context, userID models.UserId) (float64, error)
}

// DailyCapSource reports the current phase's daily $FIN cap in
// micro-units, consulted by the accrual tick (spec.md §4.10 step 4).
type DailyCapSource interface {
	CurrentDailyCap(ctx context.Context) (int64, error)
}

// Manager implements start/claim/stop and the accrual tick against a
// UserStateStore (spec.md §4.10).
type Manager struct {
	store    store.UserStateStore
	humans   HumanProbabilitySource
	dailyCap DailyCapSource
	logger   zerolog.Logger
	nowFn    func() time.Time
}

// NewManager constructs a mining session Manager.
func NewManager(s store.UserStateStore, humans HumanProbabilitySource, dailyCap DailyCapSource, logger zerolog.Logger, nowFn func() time.Time) *Manager {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Manager{store: s, humans: humans, dailyCap: dailyCap, logger: logger, nowFn: nowFn}
}

// StartSession creates a new Active session for userID, enforcing
// I2 (at most one Active session), bans, and post-close cooldowns
// (spec.md §4.10/§6).
func (m *Manager) StartSession(ctx context.Context, userID models.UserId, ratePerHour int64, humanScore float64) (models.MiningSession, error) {
	user, err := m.store.Get(ctx, userID)
	if err != nil {
		return models.MiningSession{}, err
	}
	if user.Banned {
		return models.MiningSession{}, engineerr.New(engineerr.CodeValidation, "user is banned", engineerr.ErrBanned)
	}

	existing, err := m.store.GetActiveSession(ctx, userID)
	if err != nil {
		return models.MiningSession{}, err
	}
	if existing != nil {
		return models.MiningSession{}, engineerr.New(engineerr.CodeValidation, "mining session already active", engineerr.ErrAlreadyActive)
	}

	now := m.nowFn()
	if last, err := m.store.GetSession(ctx, userID); err == nil && last != nil &&
		!last.CooldownUntil.IsZero() && last.CooldownUntil.After(now) {
		return models.MiningSession{}, engineerr.New(engineerr.CodeValidation, "session start is in cooldown", engineerr.ErrCooldown)
	}

	if humanScore < 0.3 {
		return models.MiningSession{}, engineerr.New(engineerr.CodeAntiBotRejection, "session start suspended by anti-bot score", engineerr.ErrSuspended)
	}

	sess := models.MiningSession{
		UserID:            userID,
		SessionID:         uuid.NewString(),
		StartedAt:         now,
		LastAccrualAt:     now,
		CurrentRatePerHour: ratePerHour,
		HumanScoreAtStart: humanScore,
		Status:            models.SessionActive,
	}
	if err := m.store.PutSession(ctx, sess); err != nil {
		return models.MiningSession{}, err
	}
	return sess, nil
}

// ClaimResult is the outcome of a successful claim.
type ClaimResult struct {
	Amount  int64
	Session models.MiningSession
}

// Claim atomically zeroes accrued_unclaimed and returns the claimed
// amount for mint-intent emission and referral fan-out (spec.md §4.10).
func (m *Manager) Claim(ctx context.Context, userID models.UserId) (ClaimResult, error) {
	active, err := m.store.GetActiveSession(ctx, userID)
	if err != nil {
		return ClaimResult{}, err
	}
	if active == nil {
		return ClaimResult{}, engineerr.New(engineerr.CodeValidation, "no mining session", engineerr.ErrNoSession)
	}
	if active.Status == models.SessionSuspended {
		return ClaimResult{}, engineerr.New(engineerr.CodeAntiBotRejection, "session suspended", engineerr.ErrSuspended)
	}
	if active.AccruedUnclaimed == 0 {
		return ClaimResult{}, engineerr.New(engineerr.CodeValidation, "nothing to claim", engineerr.ErrEmpty)
	}

	var claimed int64
	updated, err := m.store.UpdateSession(ctx, userID, active.SessionID, func(s *models.MiningSession) error {
		claimed = s.AccruedUnclaimed
		s.AccruedUnclaimed = 0
		return nil
	})
	if err != nil {
		return ClaimResult{}, err
	}
	return ClaimResult{Amount: claimed, Session: updated}, nil
}

// StopResult is the outcome of manually stopping a session.
type StopResult struct {
	TotalEarned int64
	DurationS   int64
}

// StopSession manually closes the Active session (spec.md §6).
func (m *Manager) StopSession(ctx context.Context, userID models.UserId) (StopResult, error) {
	active, err := m.store.GetActiveSession(ctx, userID)
	if err != nil {
		return StopResult{}, err
	}
	if active == nil {
		return StopResult{}, engineerr.New(engineerr.CodeValidation, "no mining session", engineerr.ErrNoSession)
	}
	now := m.nowFn()
	total := active.AccruedUnclaimed
	duration := int64(now.Sub(active.StartedAt).Seconds())
	_, err = m.store.UpdateSession(ctx, userID, active.SessionID, func(s *models.MiningSession) error {
		s.Status = models.SessionClosed
		s.CloseReason = "manual_stop"
		return nil
	})
	if err != nil {
		return StopResult{}, err
	}
	return StopResult{TotalEarned: total, DurationS: duration}, nil
}

// UpdateRate resets current_rate_per_hour, effective from the session's
// next tick (spec.md §4.14.5); a no-op if there is no Active session.
func (m *Manager) UpdateRate(ctx context.Context, userID models.UserId, ratePerHour int64) error {
	active, err := m.store.GetActiveSession(ctx, userID)
	if err != nil || active == nil {
		return err
	}
	_, err = m.store.UpdateSession(ctx, userID, active.SessionID, func(s *models.MiningSession) error {
		s.CurrentRatePerHour = ratePerHour
		return nil
	})
	return err
}
