package tle

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixtures = []struct {
	name   string
	l1, l2 string
}{
	{"ISS (ZARYA)",
		"1 25544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927",
		"2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537"},
	{"VANGUARD 1",
		"1 00005U 58002B   00179.78495062  .00000023  00000-0  28098-4 0  4753",
		"2 00005  34.2682 348.7242 1859667 331.7664  19.3264 10.82419157413667"},
	{"",
		"1 11801U          80230.29629788  .01431103  00000-0  14311-1 0    13",
		"2 11801  46.7916 230.4354 7318036  47.4722  10.4117  2.28537848    13"},
	{"GEO",
		"1 28626U 05008A   06176.46683397 -.00000205  00000-0  10000-3 0  2190",
		"2 28626   0.0019 286.9433 0000335  13.7918  55.6504  1.00270176  4891"},
}

func TestChecksum(t *testing.T) {
	for _, f := range fixtures {
		assert.Equal(t, int(f.l1[68]-'0'), Checksum(f.l1), f.l1)
		assert.Equal(t, int(f.l2[68]-'0'), Checksum(f.l2), f.l2)
	}
}

func TestParseLinesDecodesFields(t *testing.T) {
	set, err := ParseLines("0 ISS (ZARYA)", fixtures[0].l1, fixtures[0].l2)
	require.NoError(t, err)

	assert.Equal(t, "ISS (ZARYA)", set.Name)
	assert.Equal(t, 25544, set.CatalogNumber)
	assert.Equal(t, byte('U'), set.Classification)
	assert.Equal(t, "98067A", set.IntlDesignator)

	wantEpoch := time.Date(2008, 9, 20, 12, 25, 40, 104192000, time.UTC)
	assert.WithinDuration(t, wantEpoch, set.Epoch, time.Microsecond)

	assert.InDelta(t, 51.6416, set.Inclination.Deg(), 1e-12)
	assert.InDelta(t, 247.4627, set.RAAN.Deg(), 1e-12)
	assert.InDelta(t, 0.0006703, set.Eccentricity, 1e-15)
	assert.InDelta(t, 130.5360, set.ArgPerigee.Deg(), 1e-12)
	assert.InDelta(t, 325.0288, set.MeanAnomaly.Deg(), 1e-12)
	assert.InDelta(t, 15.72125391, set.MeanMotion, 1e-12)
	assert.InDelta(t, -0.00002182, set.MeanMotionDot, 1e-15)
	assert.Zero(t, set.MeanMotionDDot)
	assert.InDelta(t, -0.11606e-4, set.BStar, 1e-15)
	assert.Equal(t, 292, set.ElementSetNumber)
	assert.Equal(t, 56353, set.RevolutionNumber)
	assert.Equal(t, fixtures[0].l1, set.Line1)
	assert.Equal(t, fixtures[0].l2, set.Line2)
}

func TestParseLinesDefaultsNameToCatalogNumber(t *testing.T) {
	set, err := ParseLines("  ", fixtures[2].l1, fixtures[2].l2)
	require.NoError(t, err)
	assert.Equal(t, "11801", set.Name)
	assert.Equal(t, 1980, set.Epoch.Year())
}

func TestParseLinesRejects(t *testing.T) {
	iss1, iss2 := fixtures[0].l1, fixtures[0].l2
	cases := []struct {
		name   string
		l1, l2 string
		want   error
	}{
		{"bad checksum",
			"1 25544U 98067A   21275.59097222  .00000204  00000-0  10270-4 0  9990",
			"2 25544  51.6459 115.9059 0001817  61.3028  35.9198 15.49370953257760", ErrChecksum},
		{"short line", iss1[:60], iss2, ErrLineLength},
		{"swapped lines", iss2, iss1, ErrLineNumber},
		{"catalog mismatch", iss1, withChecksum(strings.Replace(iss2[:68], "25544", "25545", 1)), ErrCatalogMismatch},
		{"garbage field", withChecksum(strings.Replace(iss1[:68], "08264.51782528", "08264.5178252X", 1)), iss2, ErrField},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseLines("X", tc.l1, tc.l2)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestParseLinesTrimsTrailingWhitespace(t *testing.T) {
	_, err := ParseLines("ISS", fixtures[0].l1+"  \r", fixtures[0].l2+"\n")
	require.NoError(t, err)
}

func TestAlpha5CatalogNumbers(t *testing.T) {
	l1 := withChecksum(strings.Replace(fixtures[0].l1[:68], "25544", "T0042", 1))
	l2 := withChecksum(strings.Replace(fixtures[0].l2[:68], "25544", "T0042", 1))

	set, err := ParseLines("ALPHA", l1, l2)
	require.NoError(t, err)
	// T is the 18th Alpha-5 letter once I and O are skipped: 27*10000 + 42.
	assert.Equal(t, 270042, set.CatalogNumber)

	f1, f2, err := Format(set)
	require.NoError(t, err)
	assert.Equal(t, l1, f1)
	assert.Equal(t, l2, f2)

	_, err = parseCatalog("I0001")
	assert.Error(t, err)
}

func TestParseImplied(t *testing.T) {
	cases := map[string]float64{
		" 00000-0": 0,
		"-11606-4": -0.11606e-4,
		" 28098-4": 0.28098e-4,
		"+12345+1": 1.2345,
		"        ": 0,
	}
	for in, want := range cases {
		got, err := parseImplied(in)
		require.NoError(t, err, in)
		assert.InDelta(t, want, got, 1e-18, in)
	}
	_, err := parseImplied(" 1234X-4")
	assert.Error(t, err)
}
