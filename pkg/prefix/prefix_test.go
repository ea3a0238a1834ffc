package prefix

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustPrefix(t *testing.T, addr string, length uint8) Prefix {
	t.Helper()
	a, err := netip.ParseAddr(addr)
	require.NoError(t, err)
	return New(a, length)
}

func TestCmpEqual(t *testing.T) {
	a := mustPrefix(t, "10.0.0.0", 24)
	b := mustPrefix(t, "10.0.0.0", 24)
	require.Equal(t, Equal, Cmp(a, b))
}

func TestCmpDisjoint(t *testing.T) {
	a := mustPrefix(t, "10.0.0.0", 24)
	b := mustPrefix(t, "10.1.0.0", 24)
	require.Equal(t, Disjoint, Cmp(a, b))
}

func TestCmpMoreAndLessSpecific(t *testing.T) {
	narrow := mustPrefix(t, "10.0.0.0", 24)
	wide := mustPrefix(t, "10.0.0.0", 16)

	require.Equal(t, MoreSpecific, Cmp(narrow, wide))
	require.Equal(t, LessSpecific, Cmp(wide, narrow))
}

func TestCmpIsSymmetricUnderSwap(t *testing.T) {
	// Cmp is not commutative (MoreSpecific/LessSpecific swap), but it
	// must be a total function: for any two prefixes exactly one of
	// the four relations holds in each direction, and swapping the
	// arguments mirrors MoreSpecific/LessSpecific.
	pairs := []struct {
		a, b Prefix
	}{
		{mustPrefix(t, "192.168.1.0", 24), mustPrefix(t, "192.168.0.0", 16)},
		{mustPrefix(t, "::1", 128), mustPrefix(t, "::1", 128)},
		{mustPrefix(t, "fc00::", 7), mustPrefix(t, "fc00::1", 128)},
	}
	for _, p := range pairs {
		fwd := Cmp(p.a, p.b)
		rev := Cmp(p.b, p.a)
		switch fwd {
		case Equal:
			require.Equal(t, Equal, rev)
		case Disjoint:
			require.Equal(t, Disjoint, rev)
		case MoreSpecific:
			require.Equal(t, LessSpecific, rev)
		case LessSpecific:
			require.Equal(t, MoreSpecific, rev)
		}
	}
}

func TestContains(t *testing.T) {
	p := mustPrefix(t, "10.0.0.0", 24)
	inside, err := netip.ParseAddr("10.0.0.42")
	require.NoError(t, err)
	outside, err := netip.ParseAddr("10.0.1.42")
	require.NoError(t, err)

	require.True(t, Contains(p, inside))
	require.False(t, Contains(p, outside))
}

func TestNewNormalisesIPv4To16Bytes(t *testing.T) {
	a, err := netip.ParseAddr("10.0.0.1")
	require.NoError(t, err)
	p := New(a, 32)
	require.True(t, p.Addr.Is4In6() || p.Addr.Is6())
}

func TestRelationString(t *testing.T) {
	require.Equal(t, "disjoint", Disjoint.String())
	require.Equal(t, "equal", Equal.String())
	require.Equal(t, "more-specific", MoreSpecific.String())
	require.Equal(t, "less-specific", LessSpecific.String())
}
