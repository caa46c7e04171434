// Package phase implements the mining Phase & Network Oracle (spec.md
// §4.2): it derives the current phase, base rate, finizen multiplier and
// daily cap from the total registered-user count, and caches the result
// for up to 60 seconds without ever letting the base rate rise — the
// single piece of process-wide mutable state the engine is allowed to
// hold (spec.md §9 forbids any other global singleton).
package phase

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/finova-net/finova-sub005/internal/kernel"
)

// PhaseName enumerates the four mining phases (spec.md §4.2).
type PhaseName string

const (
	Finizen   PhaseName = "Finizen"
	Growth    PhaseName = "Growth"
	Maturity  PhaseName = "Maturity"
	Stability PhaseName = "Stability"
)

// Constants is an immutable snapshot of phase-derived values, valid for
// the lifetime of one caller's transaction (spec.md §4.2).
type Constants struct {
	Phase              PhaseName
	TotalUsers         uint64
	BaseRatePerHour    kernel.FixedAmount
	FinizenMultiplier  float64
	DailyCap           kernel.FixedAmount
	FetchedAt          time.Time
}

// phaseTable mirrors spec.md §4.2's table. Upper bound is exclusive of
// the next phase and inclusive of this one; Stability has no upper bound.
var phaseTable = []struct {
	name       PhaseName
	upperBound uint64 // 0 means unbounded (Stability)
	baseRate   float64
	dailyCap   float64
}{
	{Finizen, 100_000, 0.1, 4.8},
	{Growth, 1_000_000, 0.05, 1.8},
	{Maturity, 10_000_000, 0.025, 0.72},
	{Stability, 0, 0.01, 0.24},
}

// NetworkSizeSource reports the current total registered-user count.
// Implementations talk to whatever durable store tracks registrations.
type NetworkSizeSource interface {
	TotalUsers(ctx context.Context) (uint64, error)
}

// Oracle is the read-mostly Phase & Network Oracle. Reads never block;
// a single background goroutine refreshes the cached snapshot.
type Oracle struct {
	source        NetworkSizeSource
	cacheDuration time.Duration
	logger        zerolog.Logger

	snapshot atomic.Pointer[Constants]
}

// NewOracle constructs an Oracle that refreshes from source at most once
// per cacheDuration (default 60s per spec.md §4.2 if cacheDuration <= 0).
func NewOracle(source NetworkSizeSource, cacheDuration time.Duration, logger zerolog.Logger) *Oracle {
	if cacheDuration <= 0 {
		cacheDuration = 60 * time.Second
	}
	o := &Oracle{source: source, cacheDuration: cacheDuration, logger: logger}
	return o
}

// Get returns the current cached Constants, computing an initial
// snapshot synchronously on first use if the background refresher
// hasn't run yet.
func (o *Oracle) Get(ctx context.Context) (Constants, error) {
	if cur := o.snapshot.Load(); cur != nil {
		return *cur, nil
	}
	return o.refresh(ctx)
}

// Run starts the background refresher loop; blocks until ctx is done.
func (o *Oracle) Run(ctx context.Context) {
	ticker := time.NewTicker(o.cacheDuration)
	defer ticker.Stop()
	if _, err := o.refresh(ctx); err != nil {
		o.logger.Warn().Err(err).Msg("phase oracle: initial refresh failed")
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.refresh(ctx); err != nil {
				o.logger.Warn().Err(err).Msg("phase oracle: refresh failed, keeping stale snapshot")
			}
		}
	}
}

func (o *Oracle) refresh(ctx context.Context) (Constants, error) {
	users, err := o.source.TotalUsers(ctx)
	if err != nil {
		if cur := o.snapshot.Load(); cur != nil {
			return *cur, err
		}
		return Constants{}, err
	}
	next := DeriveConstants(users)
	// Monotonicity: base rate never rises (spec.md §4.2). If a stale
	// read raced and somehow produced a higher rate than what's cached,
	// keep the cached (lower) rate instead.
	if cur := o.snapshot.Load(); cur != nil && next.BaseRatePerHour > cur.BaseRatePerHour {
		next.BaseRatePerHour = cur.BaseRatePerHour
		next.Phase = cur.Phase
		next.DailyCap = cur.DailyCap
	}
	next.FetchedAt = time.Now()
	o.snapshot.Store(&next)
	return next, nil
}

// DeriveConstants computes phase constants purely from the total-user
// count, per the table in spec.md §4.2.
func DeriveConstants(totalUsers uint64) Constants {
	row := phaseTable[len(phaseTable)-1]
	for _, r := range phaseTable {
		if r.upperBound != 0 && totalUsers <= r.upperBound {
			row = r
			break
		}
	}

	finizen := 1.0
	if row.name != Stability {
		finizen = 2.0 - float64(totalUsers)/1_000_000.0
		if finizen < 1.0 {
			finizen = 1.0
		}
	}

	return Constants{
		Phase:             row.name,
		TotalUsers:        totalUsers,
		BaseRatePerHour:   kernel.FixedAmount(row.baseRate * float64(kernel.MicroUnitsPerFIN)),
		FinizenMultiplier: finizen,
		DailyCap:          kernel.FixedAmount(row.dailyCap * float64(kernel.MicroUnitsPerFIN)),
	}
}
