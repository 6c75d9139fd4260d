package publish

// NormalizedDifference computes (a-b)/(a+b) per pixel, scaled and clipped
// to the int16 range, with 0 where a+b is zero (§4.6 NDVI formula,
// generalized to the whole normalized-difference index family).
func NormalizedDifference(a, b []float64, scale float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		denom := a[i] + b[i]
		if denom == 0 {
			out[i] = 0
			continue
		}
		v := (a[i] - b[i]) / denom * scale
		out[i] = clipInt16(v)
	}
	return out
}

func clipInt16(v float64) float64 {
	const maxInt16 = 32767
	const minInt16 = -32768
	if v > maxInt16 {
		return maxInt16
	}
	if v < minInt16 {
		return minInt16
	}
	return v
}
