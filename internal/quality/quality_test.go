package quality

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/finova-net/finova-sub005/pkg/models"
)

func TestDeterministicScorerIsBoundedAndStableWithinWindow(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewDeterministicScorer(func() time.Time { return fixed })

	v1, err := s.Score(context.Background(), "content-1", models.PlatformTikTok)
	require.NoError(t, err)
	v2, err := s.Score(context.Background(), "content-1", models.PlatformTikTok)
	require.NoError(t, err)

	require.Equal(t, v1, v2)
	require.GreaterOrEqual(t, v1, MinScore)
	require.LessOrEqual(t, v1, MaxScore)
}

func TestClampScoreBounds(t *testing.T) {
	require.Equal(t, MinScore, ClampScore(0.1))
	require.Equal(t, MaxScore, ClampScore(10))
	require.Equal(t, 1.3, ClampScore(1.3))
}

type failingScorer struct{}

func (failingScorer) Score(ctx context.Context, contentRef string, platform models.Platform) (float64, error) {
	return 0, errors.New("upstream down")
}

type slowScorer struct{ delay time.Duration }

func (s slowScorer) Score(ctx context.Context, contentRef string, platform models.Platform) (float64, error) {
	select {
	case <-time.After(s.delay):
		return 1.8, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func TestCircuitBreakingScorerDegradesOnError(t *testing.T) {
	cb := NewCircuitBreakingScorer(failingScorer{}, 50*time.Millisecond, zerolog.Nop())
	res := cb.Score(context.Background(), "c1", models.PlatformX)
	require.True(t, res.Degraded)
	require.Equal(t, NeutralScore, res.Value)
}

func TestCircuitBreakingScorerDegradesOnTimeout(t *testing.T) {
	cb := NewCircuitBreakingScorer(slowScorer{delay: time.Second}, 20*time.Millisecond, zerolog.Nop())
	res := cb.Score(context.Background(), "c1", models.PlatformX)
	require.True(t, res.Degraded)
	require.Equal(t, NeutralScore, res.Value)
}

func TestCircuitBreakingScorerPassesThroughSuccess(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreakingScorer(NewDeterministicScorer(func() time.Time { return fixed }), DefaultBudget, zerolog.Nop())
	res := cb.Score(context.Background(), "c1", models.PlatformX)
	require.False(t, res.Degraded)
	require.GreaterOrEqual(t, res.Value, MinScore)
}
