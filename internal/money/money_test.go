package money

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAndString(t *testing.T) {
	cases := map[string]string{
		"":          "0.000000",
		"0":         "0.000000",
		"10":        "10.000000",
		"10.5":      "10.500000",
		"0.000001":  "0.000001",
		"1234.5678": "1234.567800",
	}
	for in, want := range cases {
		a, err := Parse(in)
		require.NoError(t, err, in)
		require.Equal(t, want, a.String(), in)
	}
}

func TestParseTruncatesBeyondScale(t *testing.T) {
	a, err := Parse("1.0000001")
	require.NoError(t, err)
	require.Equal(t, "1.000000", a.String())
}

func TestParseRejectsNegative(t *testing.T) {
	_, err := Parse("-1")
	require.Error(t, err)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("not-a-number")
	require.Error(t, err)
}

func TestAddSubMulInt(t *testing.T) {
	a := MustParse("10.50")
	b := MustParse("2.25")
	require.Equal(t, "12.750000", a.Add(b).String())
	require.Equal(t, "8.250000", a.Sub(b).String())
	require.Equal(t, "31.500000", a.MulInt(3).String())
}

func TestCmpAndZero(t *testing.T) {
	require.True(t, Zero().IsZero())
	require.Equal(t, 0, MustParse("5").Cmp(MustParse("5")))
	require.Equal(t, 1, MustParse("6").Cmp(MustParse("5")))
	require.Equal(t, -1, MustParse("4").Cmp(MustParse("5")))
}

func TestSubBelowZeroIsNegative(t *testing.T) {
	a := MustParse("1").Sub(MustParse("2"))
	require.True(t, a.IsNegative())
}

func TestSplitNoOwnerShare(t *testing.T) {
	agentAmt, ownerAmt := Split(MustParse("10"), 0)
	require.Equal(t, "10.000000", agentAmt.String())
	require.True(t, ownerAmt.IsZero())
}

func TestSplitFullOwnerShare(t *testing.T) {
	agentAmt, ownerAmt := Split(MustParse("10"), 1)
	require.True(t, agentAmt.IsZero())
	require.Equal(t, "10.000000", ownerAmt.String())
}

func TestSplitConservesTotal(t *testing.T) {
	total := MustParse("10.000003")
	agentAmt, ownerAmt := Split(total, 0.3)
	require.Equal(t, total.String(), agentAmt.Add(ownerAmt).String())
}
