package publish

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizedDifferenceComputesScaledRatio(t *testing.T) {
	// NDVI-style: (nir-red)/(nir+red); nir=8000, red=2000 -> 0.6
	out := NormalizedDifference([]float64{8000}, []float64{2000}, 10000)
	require.Equal(t, 6000.0, out[0])
}

func TestNormalizedDifferenceZeroDenominatorYieldsZero(t *testing.T) {
	out := NormalizedDifference([]float64{0}, []float64{0}, 10000)
	require.Equal(t, 0.0, out[0])
}

func TestNormalizedDifferenceClipsToInt16Range(t *testing.T) {
	// a-b always <= a+b in magnitude for non-negative reflectance, but the
	// scale factor alone can push the scaled value out of range.
	out := NormalizedDifference([]float64{1}, []float64{-0.999999}, 1e9)
	require.LessOrEqual(t, out[0], 32767.0)
	require.GreaterOrEqual(t, out[0], -32768.0)
}
