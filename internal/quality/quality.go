// Package quality adapts an external content-quality model behind the
// narrow contract spec.md §4.4 requires: a bounded Multiplier in
// [0.5, 2.0], deterministic for the same input within a 5-minute window,
// side-effect-free, with a 200ms p95 budget and a neutral-value fallback
// on failure. Modeled on the teacher's privacy_score.go weighted-model
// adapter shape, minus the weighting (quality has a single upstream score).
package quality

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/rs/zerolog"

	"github.com/finova-net/finova-sub005/pkg/models"
)

const (
	MinScore     = 0.5
	MaxScore     = 2.0
	NeutralScore = 1.0

	// DefaultBudget is the 200ms p95 latency contract of spec.md §4.4.
	DefaultBudget = 200 * time.Millisecond

	// determinismWindow is the 5-minute window within which the same
	// content_ref+platform must score identically.
	determinismWindow = 5 * time.Minute
)

// Scorer is the external content-quality model contract (spec.md §4.4/§6).
type Scorer interface {
	Score(ctx context.Context, contentRef string, platform models.Platform) (float64, error)
}

// ClampScore enforces the [0.5, 2.0] bound (I7) on any raw score.
func ClampScore(raw float64) float64 {
	if raw < MinScore {
		return MinScore
	}
	if raw > MaxScore {
		return MaxScore
	}
	return raw
}

// DeterministicScorer is a reference Scorer with no external dependency:
// it buckets (content_ref, platform, window) through SHA-256 into
// [0.5, 2.0], giving the same answer for the same input within a
// 5-minute window as the contract requires, without talking to a real
// ML model. Suitable standalone or wrapped for tests.
type DeterministicScorer struct {
	now func() time.Time
}

// NewDeterministicScorer builds a DeterministicScorer; nowFn defaults to
// time.Now if nil (tests should inject a fixed clock for reproducibility).
func NewDeterministicScorer(nowFn func() time.Time) *DeterministicScorer {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &DeterministicScorer{now: nowFn}
}

func (d *DeterministicScorer) Score(ctx context.Context, contentRef string, platform models.Platform) (float64, error) {
	window := d.now().Unix() / int64(determinismWindow.Seconds())
	h := sha256.New()
	h.Write([]byte(contentRef))
	h.Write([]byte(platform))
	var windowBuf [8]byte
	binary.BigEndian.PutUint64(windowBuf[:], uint64(window))
	h.Write(windowBuf[:])
	sum := h.Sum(nil)
	frac := float64(binary.BigEndian.Uint32(sum[:4])) / float64(^uint32(0))
	return MinScore + frac*(MaxScore-MinScore), nil
}

// CircuitBreakingScorer decorates a Scorer with the latency budget and
// degrade-to-neutral failure policy spec.md §4.4/§7 requires
// (DependencyTimeout -> neutral 1.0, logged, event not failed).
type CircuitBreakingScorer struct {
	inner  Scorer
	budget time.Duration
	logger zerolog.Logger
}

// NewCircuitBreakingScorer wraps inner with the given budget, falling back
// to DefaultBudget (200ms) when budget <= 0.
func NewCircuitBreakingScorer(inner Scorer, budget time.Duration, logger zerolog.Logger) *CircuitBreakingScorer {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &CircuitBreakingScorer{inner: inner, budget: budget, logger: logger}
}

// ScoreResult carries the score plus whether the call degraded to
// neutral, so the orchestrator can mark the RewardOutcome degraded.
type ScoreResult struct {
	Value    float64
	Degraded bool
}

func (c *CircuitBreakingScorer) Score(ctx context.Context, contentRef string, platform models.Platform) ScoreResult {
	callCtx, cancel := context.WithTimeout(ctx, c.budget)
	defer cancel()

	type res struct {
		v   float64
		err error
	}
	ch := make(chan res, 1)
	go func() {
		v, err := c.inner.Score(callCtx, contentRef, platform)
		ch <- res{v, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			c.logger.Warn().Err(r.err).Str("content_ref", contentRef).Msg("quality scorer failed, degrading to neutral")
			return ScoreResult{Value: NeutralScore, Degraded: true}
		}
		return ScoreResult{Value: ClampScore(r.v), Degraded: false}
	case <-callCtx.Done():
		c.logger.Warn().Str("content_ref", contentRef).Msg("quality scorer timed out, degrading to neutral")
		return ScoreResult{Value: NeutralScore, Degraded: true}
	}
}
