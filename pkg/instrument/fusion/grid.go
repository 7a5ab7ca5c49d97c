package fusion

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Grid holds the canonical value of every sweep point, frequencies for frequency
// sweeps. A nil grid disables alignment.
type Grid []float64

func LinearGrid(start, stop float64, points int) Grid {
	if points <= 0 {
		return nil
	}
	if points == 1 {
		return Grid{start}
	}
	return floats.Span(make([]float64, points), start, stop)
}

func LogGrid(start, stop float64, points int) Grid {
	if points <= 0 || start <= 0 || stop <= 0 {
		return nil
	}
	if points == 1 {
		return Grid{start}
	}
	return floats.LogSpan(make([]float64, points), start, stop)
}

// At returns the canonical value of a point.
func (g Grid) At(point uint32) (float64, bool) {
	if int(point) >= len(g) {
		return 0, false
	}
	return g[point], true
}

// aligned reports whether a measured frequency matches the canonical one.
func aligned(measured, canonical, tolerance float64) bool {
	return math.Abs(measured-canonical) <= tolerance
}
