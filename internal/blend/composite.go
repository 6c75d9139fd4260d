package blend

import (
	"sort"
	"time"
)

// Observation is one contributing MERGE artifact's pixel data for a
// (tile, period, band), annotated with what the composite functions need
// to pick a winner per pixel (§4.5).
type Observation struct {
	SceneID    string
	AcquiredAt time.Time
	Data       []float64 // band values, row-major, fill where invalid
	Clear      []bool    // per-pixel validity from the paired quality band; nil means "always clear"
}

func (o Observation) isClear(i int) bool {
	if o.Clear == nil {
		return true
	}
	return o.Clear[i]
}

// MED computes the per-pixel median of every clear, non-fill observation
// (§4.5). Pixels with no clear observation are left at fill.
func MED(obs []Observation, n int, fill float64) []float64 {
	out := make([]float64, n)
	values := make([]float64, 0, len(obs))
	for i := 0; i < n; i++ {
		values = values[:0]
		for _, o := range obs {
			if o.isClear(i) && o.Data[i] != fill {
				values = append(values, o.Data[i])
			}
		}
		out[i] = median(values, fill)
	}
	return out
}

func median(values []float64, fill float64) float64 {
	if len(values) == 0 {
		return fill
	}
	sort.Float64s(values)
	mid := len(values) / 2
	if len(values)%2 == 1 {
		return values[mid]
	}
	return (values[mid-1] + values[mid]) / 2
}

// STK computes the per-pixel best-pixel stack: among clear, non-fill
// observations, the latest acquisition wins outright; ties break toward
// the lexicographically smallest scene id (§4.5 deterministic tie-break,
// §8 worked examples). provenance[i] is set to the index into obs of the
// winning observation, or -1 if no pixel was clear.
func STK(obs []Observation, n int, fill float64) (data []float64, provenance []int) {
	data = make([]float64, n)
	provenance = make([]int, n)
	for i := 0; i < n; i++ {
		best := -1
		for j, o := range obs {
			if !o.isClear(i) || o.Data[i] == fill {
				continue
			}
			if best == -1 || laterWins(obs[best], o) {
				best = j
			}
		}
		if best == -1 {
			data[i] = fill
			provenance[i] = -1
			continue
		}
		data[i] = obs[best].Data[i]
		provenance[i] = best
	}
	return data, provenance
}

// laterWins reports whether candidate beats current as a provenance
// winner: the later acquisition wins; a tie prefers the
// lexicographically smaller scene id.
func laterWins(current, candidate Observation) bool {
	if !candidate.AcquiredAt.Equal(current.AcquiredAt) {
		return candidate.AcquiredAt.After(current.AcquiredAt)
	}
	return candidate.SceneID < current.SceneID
}

// MEDProvenance computes PROVENANCE for a MED composite (§4.5): for each
// pixel, the index of the scene whose value equals the selected median.
// With an odd number of clear observations the median is one actual
// observation's value, so that observation (or, if several observations
// happen to share the exact median value, the one preferred by
// laterWins) is the winner. With an even number the median averages the
// two middle-ranked values and matches neither exactly, so the winner is
// whichever of those two middle observations laterWins prefers (§8 S1:
// two scenes average to the reported median, and the later scene is
// recorded as PROVENANCE). provenance[i] is -1 if no pixel was clear.
func MEDProvenance(obs []Observation, n int, fill float64) []int {
	provenance := make([]int, n)
	for i := 0; i < n; i++ {
		clear := clearIndices(obs, i, fill)
		if len(clear) == 0 {
			provenance[i] = -1
			continue
		}
		sort.Slice(clear, func(a, b int) bool { return obs[clear[a]].Data[i] < obs[clear[b]].Data[i] })

		mid := len(clear) / 2
		var candidates []int
		if len(clear)%2 == 1 {
			medianValue := obs[clear[mid]].Data[i]
			for _, j := range clear {
				if obs[j].Data[i] == medianValue {
					candidates = append(candidates, j)
				}
			}
		} else {
			candidates = []int{clear[mid-1], clear[mid]}
		}
		provenance[i] = pickProvenanceWinner(obs, candidates)
	}
	return provenance
}

// clearIndices returns the indices into obs of the clear, non-fill
// observations at pixel i.
func clearIndices(obs []Observation, i int, fill float64) []int {
	var idx []int
	for j, o := range obs {
		if o.isClear(i) && o.Data[i] != fill {
			idx = append(idx, j)
		}
	}
	return idx
}

// pickProvenanceWinner reduces a set of tied candidate indices down to
// the one laterWins prefers.
func pickProvenanceWinner(obs []Observation, idxs []int) int {
	best := idxs[0]
	for _, j := range idxs[1:] {
		if laterWins(obs[best], obs[j]) {
			best = j
		}
	}
	return best
}

// ClearTotalObs computes CLEAROB (count of clear observations) and
// TOTALOB (count of all observations, clear or not) per pixel (§3
// GLOSSARY, §4.5).
func ClearTotalObs(obs []Observation, n int) (clearOb, totalOb []float64) {
	clearOb = make([]float64, n)
	totalOb = make([]float64, n)
	for i := 0; i < n; i++ {
		var clear, total float64
		for _, o := range obs {
			total++
			if o.isClear(i) {
				clear++
			}
		}
		clearOb[i] = clear
		totalOb[i] = total
	}
	return clearOb, totalOb
}

// ProvenanceBand renders a STK or MED provenance index slice as a
// float64 band: -1 (no contributing scene) stays -1, otherwise the
// value is the index of the winning observation in the slice passed to
// STK or MEDProvenance. The scene ids themselves are not written to the
// band or to the collection item.
func ProvenanceBand(provenance []int) []float64 {
	out := make([]float64, len(provenance))
	for i, p := range provenance {
		out[i] = float64(p)
	}
	return out
}
