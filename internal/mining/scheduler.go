package mining

import (
	"context"
	"time"

	"github.com/finova-net/finova-sub005/internal/kernel"
	"github.com/finova-net/finova-sub005/pkg/models"
)

// ActiveSessionLister enumerates sessions the scheduler needs to visit
// each tick: Active sessions for accrual, and Suspended ones so they can
// be auto-closed after SuspendedAutoCloseAfter. A real deployment backs
// this with an index the UserStateStore implementation maintains.
type ActiveSessionLister interface {
	ListActiveSessions(ctx context.Context) ([]models.MiningSession, error)
	ListSuspendedSessions(ctx context.Context) ([]models.MiningSession, error)
}

// TickOutcome reports what happened to one session during a tick, for
// the caller to emit SessionSuspended/events as needed.
type TickOutcome struct {
	UserID    models.UserId
	Suspended bool
	Closed    bool
	Accrued   int64
	Reason    string
}

// RunScheduler drives the accrual tick once per minute in batches of at
// most TickBatchSize, per spec.md §4.10/§5. Blocks until ctx is done.
func (m *Manager) RunScheduler(ctx context.Context, lister ActiveSessionLister, onTick func(TickOutcome)) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runOnePass(ctx, lister, onTick)
		}
	}
}

func (m *Manager) runOnePass(ctx context.Context, lister ActiveSessionLister, onTick func(TickOutcome)) {
	sessions, err := lister.ListActiveSessions(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("mining: failed to list active sessions for tick")
		return
	}
	suspended, err := lister.ListSuspendedSessions(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("mining: failed to list suspended sessions for tick")
	} else {
		sessions = append(sessions, suspended...)
	}
	for i := 0; i < len(sessions); i += TickBatchSize {
		end := i + TickBatchSize
		if end > len(sessions) {
			end = len(sessions)
		}
		batch := sessions[i:end]
		for _, sess := range batch {
			budgetCtx, cancel := context.WithTimeout(ctx, PerUserTickBudget)
			outcome := m.tickOne(budgetCtx, sess)
			cancel()
			if onTick != nil {
				onTick(outcome)
			}
		}
	}
}

// tickOne implements the six-step accrual tick of spec.md §4.10.
func (m *Manager) tickOne(ctx context.Context, sess models.MiningSession) TickOutcome {
	now := m.nowFn()

	// A Suspended session is never accrued; it either gets admin-cleared
	// (out of band) or auto-closes after SuspendedAutoCloseAfter, at
	// which point the anti-bot cooldown starts running.
	if sess.Status == models.SessionSuspended {
		if now.Sub(sess.SuspendedAt) >= SuspendedAutoCloseAfter {
			_, err := m.store.UpdateSession(ctx, sess.UserID, sess.SessionID, func(s *models.MiningSession) error {
				s.Status = models.SessionClosed
				s.CloseReason = "suspended_timeout"
				s.CooldownUntil = now.Add(AntiBotCooldown)
				return nil
			})
			if err != nil {
				m.logger.Warn().Err(err).Msg("mining: suspended auto-close failed")
				return TickOutcome{UserID: sess.UserID}
			}
			return TickOutcome{UserID: sess.UserID, Closed: true, Reason: "suspended_timeout"}
		}
		return TickOutcome{UserID: sess.UserID, Suspended: true}
	}

	if m.humans != nil {
		prob, err := m.humans.RecomputeForSession(ctx, sess.UserID)
		if err == nil && prob < 0.5 {
			_, err := m.store.UpdateSession(ctx, sess.UserID, sess.SessionID, func(s *models.MiningSession) error {
				s.Status = models.SessionSuspended
				s.CloseReason = "anti_bot_tick"
				s.SuspendedAt = now
				s.CooldownUntil = now.Add(AntiBotCooldown)
				return nil
			})
			if err != nil {
				m.logger.Warn().Err(err).Msg("mining: anti-bot suspend failed")
				return TickOutcome{UserID: sess.UserID}
			}
			return TickOutcome{UserID: sess.UserID, Suspended: true, Reason: "anti_bot_tick"}
		}
	}

	elapsedMinutes := now.Sub(sess.LastAccrualAt).Minutes()
	if elapsedMinutes < 1 {
		return TickOutcome{UserID: sess.UserID}
	}

	increment := int64(float64(sess.CurrentRatePerHour) * (elapsedMinutes / 60.0))
	today := now.UTC().Format("2006-01-02")
	accruedToday, err := m.store.TodayAccrued(ctx, sess.UserID, today)
	if err != nil {
		m.logger.Warn().Err(err).Str("user_id", string(sess.UserID)).Msg("mining: today-accrued read failed, skipping tick")
		return TickOutcome{UserID: sess.UserID}
	}

	allowed := increment
	if m.dailyCap != nil {
		cap, err := m.dailyCap.CurrentDailyCap(ctx)
		if err == nil {
			remaining := cap - accruedToday
			if remaining < 0 {
				remaining = 0
			}
			if allowed > remaining {
				allowed = remaining
			}
		}
	}

	closed := false
	if now.Sub(sess.StartedAt) >= SessionLifetime {
		closed = true
	}

	if allowed > 0 {
		_, err = m.store.UpdateSession(ctx, sess.UserID, sess.SessionID, func(s *models.MiningSession) error {
			s.AccruedUnclaimed = kernelAdd(s.AccruedUnclaimed, allowed)
			s.LastAccrualAt = now
			if closed {
				s.Status = models.SessionClosed
				s.CloseReason = "24h_timeout"
			}
			return nil
		})
		if err != nil {
			m.logger.Warn().Err(err).Msg("mining: accrual update failed")
			return TickOutcome{UserID: sess.UserID}
		}
		if err := m.store.RecordAccrued(ctx, sess.UserID, today, allowed); err != nil {
			m.logger.Warn().Err(err).Msg("mining: record-accrued failed")
		}
	} else if closed {
		_, _ = m.store.UpdateSession(ctx, sess.UserID, sess.SessionID, func(s *models.MiningSession) error {
			s.Status = models.SessionClosed
			s.CloseReason = "24h_timeout"
			return nil
		})
	}

	return TickOutcome{UserID: sess.UserID, Accrued: allowed, Closed: closed}
}

func kernelAdd(a, b int64) int64 {
	return int64(kernel.Add(kernel.FixedAmount(a), kernel.FixedAmount(b)))
}
