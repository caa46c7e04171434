package reward

// levelBand is one XP band of spec.md §4.7's table. Mining multiplier and
// daily cap interpolate linearly across the band's level range.
type levelBand struct {
	name               string
	levelsInBand       uint16 // e.g. Bronze I-X = 10 levels
	xpLow, xpHigh      uint64 // xpHigh is exclusive except for the last band
	multLow, multHigh  float64
	capLow, capHigh    float64 // $FIN
	levelFloor         uint16 // first level number of this band (1-based)
}

// Mythic has no hard XP ceiling, but its 100-level band (101-200) still
// needs a finite xpHigh to interpolate against: xpTotal beyond mythicMaxXP
// just clamps to the band's top (frac capped at 1 in LevelForXP).
const mythicMaxXP = 1_000_000

var levelBands = []levelBand{
	{"Bronze", 10, 0, 1000, 1.0, 1.2, 0.5, 2.0, 1},
	{"Silver", 15, 1000, 5000, 1.3, 1.8, 2.0, 4.0, 11},
	{"Gold", 25, 5000, 20000, 1.9, 2.5, 4.0, 6.0, 26},
	{"Platinum", 25, 20000, 50000, 2.6, 3.2, 6.0, 8.0, 51},
	{"Diamond", 25, 50000, 100000, 3.3, 4.0, 8.0, 10.0, 76},
	{"Mythic", 100, 100000, mythicMaxXP, 4.1, 5.0, 10.0, 15.0, 101},
}

// LevelInfo is the derived level state for a given xp_total (I4).
type LevelInfo struct {
	Level         uint16
	Band          string
	MiningMult    float64 // [1.0, 5.0]
	DailyCapFIN   float64
}

// LevelForXP returns the unique level whose band contains xpTotal, with
// linearly interpolated multiplier and daily cap within the band
// (spec.md §4.7, I4).
func LevelForXP(xpTotal uint64) LevelInfo {
	// The loop only matches xpTotal strictly below a band's xpHigh; XP at
	// or beyond mythicMaxXP falls through to this pre-loop default, the
	// last (Mythic) band, and clamps at the band's top via frac below.
	band := levelBands[len(levelBands)-1]
	for _, b := range levelBands {
		if xpTotal < b.xpHigh && xpTotal >= b.xpLow {
			band = b
			break
		}
	}

	span := band.xpHigh - band.xpLow
	var frac float64
	if span > 0 {
		frac = float64(xpTotal-band.xpLow) / float64(span)
		if frac > 1 {
			frac = 1
		}
	}
	levelOffset := uint16(frac * float64(band.levelsInBand-1))
	level := band.levelFloor + levelOffset
	if level < 1 {
		level = 1
	}
	if level > 200 {
		level = 200
	}

	return LevelInfo{
		Level:       level,
		Band:        band.name,
		MiningMult:  lerp(band.multLow, band.multHigh, frac),
		DailyCapFIN: lerp(band.capLow, band.capHigh, frac),
	}
}

func lerp(lo, hi, frac float64) float64 {
	return lo + (hi-lo)*frac
}
