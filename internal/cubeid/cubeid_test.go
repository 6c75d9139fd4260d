package cubeid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseIrregular(t *testing.T) {
	p, err := Parse("mycube_10")
	require.NoError(t, err)
	require.True(t, p.IsIrregular())
	require.Equal(t, "mycube_10", p.IrregularID())
	require.Equal(t, "mycube_10", p.String())
}

func TestParseComposite(t *testing.T) {
	p, err := Parse("mycube_10_16D_STK")
	require.NoError(t, err)
	require.False(t, p.IsIrregular())
	require.Equal(t, 16, p.Step)
	require.Equal(t, "D", p.Unit)
	require.Equal(t, "STK", p.Function)
	require.Equal(t, "mycube_10", p.IrregularID())
	require.Equal(t, "mycube_10_16D_STK", p.String())
}

func TestParseMonthly(t *testing.T) {
	p, err := Parse("mycube_30_1M_MED")
	require.NoError(t, err)
	require.Equal(t, 1, p.Step)
	require.Equal(t, "M", p.Unit)
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse("not-a-cube-id")
	require.Error(t, err)

	_, err = Parse("mycube_10_bogus_STK")
	require.Error(t, err)
}

func TestActivityIDDeterministic(t *testing.T) {
	a := ActivityID("mycube_10_1M_STK", "merge", "003003", "red", "2019-01-01_2019-01-31", "scene-1")
	b := ActivityID("mycube_10_1M_STK", "merge", "003003", "red", "2019-01-01_2019-01-31", "scene-1")
	require.Equal(t, a, b)

	c := ActivityID("mycube_10_1M_STK", "merge", "003003", "red", "2019-01-01_2019-01-31", "scene-2")
	require.NotEqual(t, a, c)
}
