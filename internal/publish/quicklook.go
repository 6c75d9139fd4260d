package publish

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"sort"
)

// DefaultLowPercentile and DefaultHighPercentile implement the §4.6
// "percent-clip stretch (default 2-98%)".
const (
	DefaultLowPercentile  = 0.02
	DefaultHighPercentile = 0.98
)

// RenderQuicklook stacks three bands (red, green, blue order, per the
// collection's bands_quicklook) into an 8-bit RGB PNG using an
// independent percent-clip stretch per band.
func RenderQuicklook(w io.Writer, width, height int, red, green, blue []float64) error {
	r8 := stretch(red, DefaultLowPercentile, DefaultHighPercentile)
	g8 := stretch(green, DefaultLowPercentile, DefaultHighPercentile)
	b8 := stretch(blue, DefaultLowPercentile, DefaultHighPercentile)

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < width*height; i++ {
		x, y := i%width, i/width
		img.Set(x, y, color.RGBA{R: r8[i], G: g8[i], B: b8[i], A: 255})
	}
	return png.Encode(w, img)
}

// stretch rescales data to [0,255] using the values at the low/high
// percentiles as the clip bounds.
func stretch(data []float64, low, high float64) []byte {
	lo, hi := percentileBounds(data, low, high)
	out := make([]byte, len(data))
	span := hi - lo
	if span == 0 {
		span = 1
	}
	for i, v := range data {
		scaled := (v - lo) / span * 255
		switch {
		case scaled < 0:
			out[i] = 0
		case scaled > 255:
			out[i] = 255
		default:
			out[i] = byte(scaled)
		}
	}
	return out
}

func percentileBounds(data []float64, low, high float64) (lo, hi float64) {
	if len(data) == 0 {
		return 0, 1
	}
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)
	loIdx := int(float64(len(sorted)-1) * low)
	hiIdx := int(float64(len(sorted)-1) * high)
	return sorted[loIdx], sorted[hiIdx]
}
