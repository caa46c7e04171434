package phase

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func noopLogger() zerolog.Logger { return zerolog.Nop() }

func TestDeriveConstantsFinizen(t *testing.T) {
	c := DeriveConstants(50_000)
	require.Equal(t, Finizen, c.Phase)
	require.InDelta(t, 1.95, c.FinizenMultiplier, 1e-9)
}

func TestDeriveConstantsStabilityFloor(t *testing.T) {
	c := DeriveConstants(50_000_000)
	require.Equal(t, Stability, c.Phase)
	require.Equal(t, 1.0, c.FinizenMultiplier)
}

func TestDeriveConstantsFinizenAtUpperBound(t *testing.T) {
	c := DeriveConstants(100_000) // at Finizen upper bound, users=100k -> 2 - 0.1 = 1.9
	require.InDelta(t, 1.9, c.FinizenMultiplier, 1e-9)
}

type fakeSource struct{ total uint64 }

func (f *fakeSource) TotalUsers(ctx context.Context) (uint64, error) { return f.total, nil }

func TestOracleMonotonicBaseRateNeverRises(t *testing.T) {
	src := &fakeSource{total: 5_000_000} // Growth phase
	o := NewOracle(src, 0, noopLogger())
	c1, err := o.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, Growth, c1.Phase)

	// Simulate total users dropping back into Finizen (should not happen in
	// practice, but the oracle must still never let the rate rise).
	src.total = 1_000
	c2, err := o.refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, c1.BaseRatePerHour, c2.BaseRatePerHour)
}
