// Package kernel implements the fixed-precision arithmetic required by
// spec.md §4.1: $FIN amounts as 64-bit "micro-unit" integers (1 $FIN =
// 10^8 units) and bounded Multiplier products accumulated through
// math/big so long multiplicative chains (spec.md §4.6 has twelve
// factors) never lose precision before the final clamp-and-convert.
//
// Go has no native 128-bit integer type, so *big.Int plays the role of
// the spec's "128-bit fixed point, 16 fractional digits" intermediate
// representation — the same tool nhbchain's staking reward engine uses
// to avoid precision loss across basis-point math.
package kernel

import (
	"fmt"
	"math/big"
)

// FixedAmount is a non-negative $FIN amount in micro-units (10^-8 $FIN).
type FixedAmount int64

// MicroUnitsPerFIN is the fixed-point scale for FixedAmount.
const MicroUnitsPerFIN int64 = 100_000_000

// TotalSupply is the total-supply constant bounding every FixedAmount (I6).
// Matches the whitepaper's 100 billion $FIN hard cap.
const TotalSupply FixedAmount = 100_000_000_000 * FixedAmount(MicroUnitsPerFIN)

// fixedPointScale is the 16-fractional-digit scale used for Multiplier
// products carried through math/big (spec.md §4.1).
var fixedPointScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil)

// OverflowError reports a fatal programmer error: arithmetic that would
// overflow int64 or produce a negative FixedAmount. Per spec.md §4.1 this
// is meant to panic the offending call path, not be silently clamped.
type OverflowError struct {
	Op string
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("kernel: overflow in %s", e.Op)
}

// Add returns a+b, panicking with *OverflowError on int64 overflow or a
// negative result.
func Add(a, b FixedAmount) FixedAmount {
	if a < 0 || b < 0 {
		panic(&OverflowError{Op: "Add: negative operand"})
	}
	sum := a + b
	if sum < a {
		panic(&OverflowError{Op: "Add: overflow"})
	}
	return sum
}

// Sub returns a-b, panicking if the result would be negative.
func Sub(a, b FixedAmount) FixedAmount {
	if a < b {
		panic(&OverflowError{Op: "Sub: negative result"})
	}
	return a - b
}

// Mul returns a*m (m a plain integer scalar), panicking on overflow.
func Mul(a FixedAmount, m int64) FixedAmount {
	if a < 0 || m < 0 {
		panic(&OverflowError{Op: "Mul: negative operand"})
	}
	if a == 0 || m == 0 {
		return 0
	}
	result := int64(a) * m
	if result/m != int64(a) {
		panic(&OverflowError{Op: "Mul: overflow"})
	}
	return FixedAmount(result)
}

// Div returns a/d using banker's rounding (round-half-to-even), matching
// spec.md §4.1's rounding rule for FixedAmount conversions.
func Div(a FixedAmount, d int64) FixedAmount {
	if d <= 0 {
		panic(&OverflowError{Op: "Div: non-positive divisor"})
	}
	return FixedAmount(bankersRoundDiv(int64(a), d))
}

func bankersRoundDiv(n, d int64) int64 {
	q := n / d
	r := n % d
	if r == 0 {
		return q
	}
	twice := 2 * r
	switch {
	case twice > d:
		return q + 1
	case twice < d:
		return q
	default: // exactly half: round to even
		if q%2 == 0 {
			return q
		}
		return q + 1
	}
}

// ToFixedAmount converts a big.Int value scaled by fixedPointScale into a
// FixedAmount expressed in micro-units, applying banker's rounding and
// rejecting negative inputs (spec.md §4.1).
func ToFixedAmount(scaled *big.Int, fromScale *big.Int) FixedAmount {
	if scaled.Sign() < 0 {
		panic(&OverflowError{Op: "ToFixedAmount: negative input"})
	}
	// scaled is in `fromScale` units; convert to micro-units (1e8 scale).
	num := new(big.Int).Mul(scaled, big.NewInt(MicroUnitsPerFIN))
	q, r := new(big.Int).QuoRem(num, fromScale, new(big.Int))
	halfCheck := new(big.Int).Mul(r, big.NewInt(2))
	cmp := halfCheck.Cmp(fromScale)
	if cmp > 0 || (cmp == 0 && q.Bit(0) == 1) {
		q.Add(q, big.NewInt(1))
	}
	if !q.IsInt64() {
		panic(&OverflowError{Op: "ToFixedAmount: overflow"})
	}
	return FixedAmount(q.Int64())
}

// Multiplier is a non-negative bounded factor used in the reward formulas.
// It is a thin float64 wrapper: every call site must pass it through
// ClampMultiplier (I7) before it participates in a product.
type Multiplier float64

// ClampMultiplier clamps m into [lo, hi], enforcing I7 before use in a product.
func ClampMultiplier(m, lo, hi Multiplier) Multiplier {
	if m < lo {
		return lo
	}
	if m > hi {
		return hi
	}
	return m
}

// MulClamped computes x * m, first clamping m to [lo, hi] (I7), and
// returns the product still clamped to [lo, hi] when x == 1 semantics
// are desired by callers composing chains of factors. For FixedAmount
// products against an already-combined multiplier chain use MulRate.
func MulClamped(x FixedAmount, m, lo, hi Multiplier) FixedAmount {
	mc := ClampMultiplier(m, lo, hi)
	return mulFixedByFloat(x, float64(mc))
}

// ChainBuilder accumulates a product of bounded multipliers at 16-digit
// fixed-point precision (spec.md §4.1), then converts once to a
// FixedAmount against a base rate. Each Factor call pre-clamps its input
// per I7 and records the clamped value for the audit breakdown.
type ChainBuilder struct {
	acc *big.Int // scaled by fixedPointScale, starts at 1.0
}

// NewChain starts a multiplier chain at 1.0.
func NewChain() *ChainBuilder {
	return &ChainBuilder{acc: new(big.Int).Set(fixedPointScale)}
}

// Factor multiplies the running product by m, clamped to [lo, hi], and
// returns the clamped value actually applied (for FactorBreakdown).
func (c *ChainBuilder) Factor(m, lo, hi Multiplier) float64 {
	mc := ClampMultiplier(m, lo, hi)
	scaledFactor := floatToScaledBigInt(float64(mc), fixedPointScale)
	c.acc.Mul(c.acc, scaledFactor)
	c.acc.Quo(c.acc, fixedPointScale)
	return float64(mc)
}

// Value returns the chain's current product as a float64 (for caps/comparisons).
func (c *ChainBuilder) Value() float64 {
	f := new(big.Float).SetInt(c.acc)
	scale := new(big.Float).SetInt(fixedPointScale)
	f.Quo(f, scale)
	v, _ := f.Float64()
	return v
}

// ApplyToRate multiplies a FixedAmount base rate by the chain's product,
// producing a FixedAmount via banker's rounding (spec.md §4.1).
func (c *ChainBuilder) ApplyToRate(base FixedAmount) FixedAmount {
	baseScaled := new(big.Int).Mul(big.NewInt(int64(base)), fixedPointScale)
	product := new(big.Int).Mul(baseScaled, c.acc)
	product.Quo(product, fixedPointScale)
	// product is already in micro-units scaled by fixedPointScale.
	return ToFixedAmount(product, microUnitsFixedPointScale())
}

func mulFixedByFloat(x FixedAmount, f float64) FixedAmount {
	scaled := floatToScaledBigInt(f, fixedPointScale)
	num := new(big.Int).Mul(big.NewInt(int64(x)), scaled)
	return ToFixedAmount(num, microUnitsFixedPointScale())
}

// microUnitsFixedPointScale is the fromScale for ToFixedAmount when the
// scaled value is already in micro-units rather than whole $FIN.
func microUnitsFixedPointScale() *big.Int {
	return new(big.Int).Mul(fixedPointScale, big.NewInt(MicroUnitsPerFIN))
}

func floatToScaledBigInt(f float64, scale *big.Int) *big.Int {
	bf := new(big.Float).SetFloat64(f)
	sf := new(big.Float).SetInt(scale)
	bf.Mul(bf, sf)
	i, _ := bf.Int(nil)
	return i
}

// ExpNeg computes e^(-x) for x >= 0 via a fixed-point Taylor series
// truncated to 12 terms, as specified (spec.md §4.1). The series is
// evaluated in float64 at x/1024, where 12 terms are accurate, and the
// result is squared ten times (e^-x = (e^(-x/1024))^1024), so large
// exponents such as whale regression exp(-0.001*holdings) stay accurate
// as well as level decay exp(-0.01*level). The result is
// monotone-decreasing for x >= 0.
func ExpNeg(x float64) float64 {
	if x < 0 {
		x = 0
	}
	const halvings = 10
	y := x / (1 << halvings)
	// e^-y = sum_{n=0}^{11} (-y)^n / n!
	term := 1.0
	sum := 1.0
	for n := 1; n <= 11; n++ {
		term *= -y / float64(n)
		sum += term
	}
	if sum < 0 {
		sum = 0
	}
	for i := 0; i < halvings; i++ {
		sum *= sum
	}
	return sum
}
