package fusion

import (
	"math"
	"testing"
)

func TestGrids(t *testing.T) {
	tests := []struct {
		name  string
		grid  Grid
		want  []float64
		exact bool
	}{
		{"linear", LinearGrid(1e6, 5e6, 5), []float64{1e6, 2e6, 3e6, 4e6, 5e6}, true},
		{"linear single point", LinearGrid(1e6, 5e6, 1), []float64{1e6}, true},
		{"linear no points", LinearGrid(1e6, 5e6, 0), nil, true},
		{"log", LogGrid(1e6, 1e9, 4), []float64{1e6, 1e7, 1e8, 1e9}, false},
		{"log zero start", LogGrid(0, 1e9, 4), nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if len(tt.grid) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(tt.grid), len(tt.want))
			}
			for i, want := range tt.want {
				got := tt.grid[i]
				if tt.exact && got != want {
					t.Errorf("grid[%d] = %v, want %v", i, got, want)
				}
				if !tt.exact && math.Abs(got-want)/want > 1e-9 {
					t.Errorf("grid[%d] = %v, want %v", i, got, want)
				}
			}
		})
	}
}

func TestGridAt(t *testing.T) {
	g := LinearGrid(1e6, 2e6, 2)
	if v, ok := g.At(1); !ok || v != 2e6 {
		t.Errorf("At(1) = %v, %v", v, ok)
	}
	if _, ok := g.At(2); ok {
		t.Errorf("At(2) past the end of the grid")
	}
	var none Grid
	if _, ok := none.At(0); ok {
		t.Errorf("nil grid returned a point")
	}
}
