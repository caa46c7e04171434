package kernel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddOverflowPanics(t *testing.T) {
	defer func() {
		r := recover()
		require.NotNil(t, r)
		_, ok := r.(*OverflowError)
		require.True(t, ok)
	}()
	Add(FixedAmount(math.MaxInt64), FixedAmount(1))
}

func TestSubNegativePanics(t *testing.T) {
	defer func() {
		r := recover()
		require.NotNil(t, r)
	}()
	Sub(FixedAmount(1), FixedAmount(2))
}

func TestDivBankersRounding(t *testing.T) {
	require.Equal(t, FixedAmount(2), Div(FixedAmount(5), 2))  // 2.5 -> 2 (round to even)
	require.Equal(t, FixedAmount(4), Div(FixedAmount(7), 2))  // 3.5 -> 4 (round to even)
	require.Equal(t, FixedAmount(3), Div(FixedAmount(6), 2))
}

func TestClampMultiplier(t *testing.T) {
	require.Equal(t, Multiplier(0.5), ClampMultiplier(0.1, 0.5, 2.0))
	require.Equal(t, Multiplier(2.0), ClampMultiplier(5.0, 0.5, 2.0))
	require.Equal(t, Multiplier(1.2), ClampMultiplier(1.2, 0.5, 2.0))
}

func TestChainBuilderAppliesClampedFactors(t *testing.T) {
	c := NewChain()
	applied := c.Factor(10.0, 1.0, 5.0) // clamps to 5.0
	require.Equal(t, 5.0, applied)
	applied2 := c.Factor(0.5, 1.0, 2.0) // clamps to 1.0
	require.Equal(t, 1.0, applied2)

	base := FixedAmount(1 * MicroUnitsPerFIN) // 1.0 $FIN
	result := c.ApplyToRate(base)
	require.Equal(t, FixedAmount(5*MicroUnitsPerFIN), result)
}

func TestExpNegMonotoneDecreasingSmallDomain(t *testing.T) {
	prev := ExpNeg(0)
	require.Equal(t, 1.0, prev)
	for _, x := range []float64{0.001, 0.01, 0.1, 1.0, 2.0, 5.0} {
		v := ExpNeg(x)
		require.LessOrEqual(t, v, prev)
		require.GreaterOrEqual(t, v, 0.0)
		prev = v
	}
}

func TestExpNegMatchesMathExpApprox(t *testing.T) {
	for _, x := range []float64{0.0001, 0.001, 0.01, 1.0} {
		got := ExpNeg(x)
		want := math.Exp(-x)
		require.InDelta(t, want, got, 1e-6)
	}
}

func TestMulClampedBounds(t *testing.T) {
	base := FixedAmount(10 * MicroUnitsPerFIN)
	out := MulClamped(base, 3.0, 0.5, 2.0) // clamps m to 2.0
	require.Equal(t, FixedAmount(20*MicroUnitsPerFIN), out)
}
