package sim

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
	"github.com/norasector/vnacore/pkg/types"
)

const (
	windowLength      = 64
	shapeOversampling = 16
)

// windowShape returns the magnitude response in dB of the RBW filter built from
// w, sampled at 1/shapeOversampling of a bin. Index 0 is the center.
func windowShape(w types.Window) []float64 {
	var win []float64
	switch w {
	case types.WindowHann:
		win = window.Hann(windowLength)
	case types.WindowFlatTop:
		win = window.FlatTop(windowLength)
	case types.WindowKaiser:
		// closest shape go-dsp provides
		win = window.Blackman(windowLength)
	default:
		win = window.Rectangular(windowLength)
	}

	padded := make([]float64, windowLength*shapeOversampling)
	copy(padded, win)
	spectrum := fft.FFTReal(padded)
	half := spectrum[:len(spectrum)/2]

	peak := cmplx.Abs(half[0])
	shape := make([]float64, len(half))
	for i, c := range half {
		shape[i] = 20 * math.Log10(cmplx.Abs(c)/peak+1e-12)
	}
	return shape
}
