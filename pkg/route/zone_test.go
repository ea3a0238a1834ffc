package route

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func datum(t *testing.T, dst string, dstLen uint8, src string, srcLen uint8) Datum {
	t.Helper()
	d, err := netip.ParseAddr(dst)
	require.NoError(t, err)
	s, err := netip.ParseAddr(src)
	require.NoError(t, err)
	return Datum{Dst: d, DstLen: dstLen, Src: s, SrcLen: srcLen}.Canonical()
}

func TestIntersectDisjointDestination(t *testing.T) {
	a := datum(t, "10.0.0.0", 24, "::", 0)
	b := datum(t, "10.1.0.0", 24, "::", 0)
	_, ok := Intersect(a, b)
	require.False(t, ok)
}

func TestIntersectTakesMoreSpecificOnEachAxis(t *testing.T) {
	a := datum(t, "10.0.0.0", 16, "192.168.1.0", 24)
	b := datum(t, "10.0.1.0", 24, "192.168.0.0", 16)

	z, ok := Intersect(a, b)
	require.True(t, ok)
	require.Equal(t, uint8(96+24), z.DstLen)
	require.Equal(t, uint8(96+24), z.SrcLen)
}

func TestConflictsImpliesNonEmptyIntersection(t *testing.T) {
	a := datum(t, "10.0.0.0", 16, "192.168.1.0", 24)
	b := datum(t, "10.0.1.0", 24, "192.168.0.0", 16)

	require.True(t, Conflicts(a, b))
	_, ok := Intersect(a, b)
	require.True(t, ok)
}

func TestConflictsFalseWhenDestinationsEqual(t *testing.T) {
	a := datum(t, "10.0.0.0", 24, "192.168.1.0", 24)
	b := datum(t, "10.0.0.0", 24, "192.168.0.0", 16)
	require.False(t, Conflicts(a, b))
}

func TestConflictsFalseWhenSourcesDisjoint(t *testing.T) {
	a := datum(t, "10.0.0.0", 16, "192.168.1.0", 24)
	b := datum(t, "10.0.1.0", 24, "10.10.0.0", 16)
	require.False(t, Conflicts(a, b))
}

func TestCmpPrefersDestinationSpecificity(t *testing.T) {
	narrow := datum(t, "10.0.0.0", 24, "::", 0)
	wide := datum(t, "10.0.0.0", 16, "::", 0)
	require.Equal(t, -1, Cmp(narrow, wide))
	require.Equal(t, 1, Cmp(wide, narrow))
}

func TestCmpFallsBackToSourceSpecificity(t *testing.T) {
	a := datum(t, "10.0.0.0", 24, "192.168.1.0", 24)
	b := datum(t, "10.0.0.0", 24, "192.168.0.0", 16)
	require.Equal(t, -1, Cmp(a, b))
	require.Equal(t, 0, Cmp(a, a))
}

func TestCmpIsTotalPreorderOnASample(t *testing.T) {
	routes := []Datum{
		datum(t, "10.0.0.0", 8, "::", 0),
		datum(t, "10.0.0.0", 16, "::", 0),
		datum(t, "10.0.0.0", 24, "192.168.0.0", 16),
		datum(t, "10.0.0.0", 24, "192.168.1.0", 24),
	}
	for i, a := range routes {
		for j, b := range routes {
			if i == j {
				require.Equal(t, 0, Cmp(a, b))
				continue
			}
			require.Equal(t, -Cmp(a, b), sign(Cmp(b, a)), "Cmp must be antisymmetric for %v vs %v", a, b)
		}
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

func TestMinNilHandling(t *testing.T) {
	require.Nil(t, Min(nil, nil))
	r := &Route{Datum: datum(t, "10.0.0.0", 24, "::", 0)}
	require.Same(t, r, Min(nil, r))
	require.Same(t, r, Min(r, nil))
}

func TestMinPicksBetterSpecificity(t *testing.T) {
	narrow := &Route{Datum: datum(t, "10.0.0.0", 24, "::", 0)}
	wide := &Route{Datum: datum(t, "10.0.0.0", 16, "::", 0)}
	require.Same(t, narrow, Min(narrow, wide))
	require.Same(t, narrow, Min(wide, narrow))
}

func TestZoneEqualIgnoresUncanonicalBits(t *testing.T) {
	a := Datum{Dst: netip.MustParseAddr("10.0.0.255"), DstLen: 24, Src: netip.MustParseAddr("::"), SrcLen: 0}
	b := Datum{Dst: netip.MustParseAddr("10.0.0.1"), DstLen: 24, Src: netip.MustParseAddr("::"), SrcLen: 0}
	require.True(t, ZoneEqual(a, b))
}
