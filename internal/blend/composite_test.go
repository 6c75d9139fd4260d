package blend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const fill = -9999.0

func at(day int) time.Time {
	return time.Date(2019, 1, day, 0, 0, 0, 0, time.UTC)
}

func TestMEDReturnsMedianOfClearValues(t *testing.T) {
	obs := []Observation{
		{SceneID: "s1", Data: []float64{10, fill}},
		{SceneID: "s2", Data: []float64{20, 30}},
		{SceneID: "s3", Data: []float64{30, 40}},
	}
	out := MED(obs, 2, fill)
	require.Equal(t, 20.0, out[0]) // median(10,20,30) = 20
	require.Equal(t, 35.0, out[1]) // median(30,40) with fill excluded = 35
}

func TestMEDLeavesFillWhenNoClearObservation(t *testing.T) {
	obs := []Observation{
		{SceneID: "s1", Data: []float64{fill}},
		{SceneID: "s2", Data: []float64{fill}},
	}
	out := MED(obs, 1, fill)
	require.Equal(t, fill, out[0])
}

func TestMEDExcludesCloudyPixelsViaClearMask(t *testing.T) {
	obs := []Observation{
		{SceneID: "s1", Data: []float64{10}, Clear: []bool{false}},
		{SceneID: "s2", Data: []float64{20}, Clear: []bool{true}},
	}
	out := MED(obs, 1, fill)
	require.Equal(t, 20.0, out[0])
}

func TestSTKPicksTheLatestClearAcquisitionOutright(t *testing.T) {
	// Three clear scenes spread across a month-long period: the latest
	// acquisition wins regardless of its distance from the period's
	// midpoint, not the closest-to-midpoint scene.
	obs := []Observation{
		{SceneID: "s1", AcquiredAt: at(5), Data: []float64{100}},
		{SceneID: "s2", AcquiredAt: at(15), Data: []float64{200}},
		{SceneID: "s3", AcquiredAt: at(25), Data: []float64{300}},
	}
	data, prov := STK(obs, 1, fill)
	require.Equal(t, 300.0, data[0])
	require.Equal(t, 2, prov[0])
}

func TestSTKSkipsCloudyScenesAndFallsBackToTheLatestClearOne(t *testing.T) {
	obs := []Observation{
		{SceneID: "s1", AcquiredAt: at(5), Data: []float64{100}, Clear: []bool{true}},
		{SceneID: "s2", AcquiredAt: at(25), Data: []float64{300}, Clear: []bool{false}},
	}
	data, prov := STK(obs, 1, fill)
	require.Equal(t, 100.0, data[0])
	require.Equal(t, 0, prov[0])
}

func TestSTKTieBreaksTowardLexicographicallySmallerSceneID(t *testing.T) {
	// Both acquired at the exact same instant: scene id breaks the tie.
	obs := []Observation{
		{SceneID: "sceneB", AcquiredAt: at(15), Data: []float64{20}},
		{SceneID: "sceneA", AcquiredAt: at(15), Data: []float64{10}},
	}
	data, prov := STK(obs, 1, fill)
	require.Equal(t, 10.0, data[0])
	require.Equal(t, 1, prov[0])
}

func TestSTKLeavesProvenanceNegativeOneWhenNoClearPixel(t *testing.T) {
	obs := []Observation{
		{SceneID: "s1", AcquiredAt: at(10), Data: []float64{fill}},
	}
	data, prov := STK(obs, 1, fill)
	require.Equal(t, fill, data[0])
	require.Equal(t, -1, prov[0])
}

func TestMEDProvenanceTieBreaksTowardLaterScenesWhenMedianAveragesTwoValues(t *testing.T) {
	// Two clear scenes: the median is the average of both values, which
	// matches neither exactly, so the later scene is recorded as the
	// winner.
	obs := []Observation{
		{SceneID: "s1", AcquiredAt: at(5), Data: []float64{100}},
		{SceneID: "s2", AcquiredAt: at(25), Data: []float64{300}},
	}
	composite := MED(obs, 1, fill)
	require.Equal(t, 200.0, composite[0])

	prov := MEDProvenance(obs, 1, fill)
	require.Equal(t, 1, prov[0])
}

func TestMEDProvenancePicksTheScenesWhoseValueEqualsAnOddMedian(t *testing.T) {
	obs := []Observation{
		{SceneID: "s1", AcquiredAt: at(5), Data: []float64{100}},
		{SceneID: "s2", AcquiredAt: at(15), Data: []float64{200}},
		{SceneID: "s3", AcquiredAt: at(25), Data: []float64{300}},
	}
	composite := MED(obs, 1, fill)
	require.Equal(t, 200.0, composite[0])

	prov := MEDProvenance(obs, 1, fill)
	require.Equal(t, 1, prov[0])
}

func TestMEDProvenanceLeavesNegativeOneWhenNoClearPixel(t *testing.T) {
	obs := []Observation{
		{SceneID: "s1", AcquiredAt: at(10), Data: []float64{fill}},
	}
	prov := MEDProvenance(obs, 1, fill)
	require.Equal(t, -1, prov[0])
}

func TestClearTotalObsCounts(t *testing.T) {
	obs := []Observation{
		{Data: []float64{1}, Clear: []bool{true}},
		{Data: []float64{1}, Clear: []bool{false}},
		{Data: []float64{1}, Clear: []bool{true}},
	}
	clear, total := ClearTotalObs(obs, 1)
	require.Equal(t, 2.0, clear[0])
	require.Equal(t, 3.0, total[0])
}

func TestProvenanceBandPassesThroughIndices(t *testing.T) {
	out := ProvenanceBand([]int{-1, 0, 2})
	require.Equal(t, []float64{-1, 0, 2}, out)
}
