package route

import "github.com/ssbabel/ssbabeld/pkg/prefix"

// Intersect computes the intersection of two routes' Data, treating
// each as a rectangle in (dst,src) prefix space. It returns the zone
// and true iff neither axis is disjoint; on either axis take the more
// specific (or equal) side independently.
func Intersect(a, b Datum) (Zone, bool) {
	dstRel := prefix.Cmp(a.DstPrefix(), b.DstPrefix())
	if dstRel == prefix.Disjoint {
		return Zone{}, false
	}
	srcRel := prefix.Cmp(a.SrcPrefix(), b.SrcPrefix())
	if srcRel == prefix.Disjoint {
		return Zone{}, false
	}

	z := Zone{}
	if dstRel == prefix.LessSpecific {
		z.Dst, z.DstLen = b.Dst, b.DstLen
	} else {
		z.Dst, z.DstLen = a.Dst, a.DstLen
	}
	if srcRel == prefix.LessSpecific {
		z.Src, z.SrcLen = b.Src, b.SrcLen
	} else {
		z.Src, z.SrcLen = a.Src, a.SrcLen
	}
	return z.Canonical(), true
}

// Conflicts reports whether two routes' destinations and sources
// overlap in a way a destination-only kernel FIB cannot disambiguate:
// the destinations are neither equal nor disjoint, and one route is
// destination-more-specific while the other is source-more-specific
// (or vice versa).
func Conflicts(a, b Datum) bool {
	dstRel := prefix.Cmp(a.DstPrefix(), b.DstPrefix())
	if dstRel == prefix.Disjoint || dstRel == prefix.Equal {
		return false
	}
	srcRel := prefix.Cmp(a.SrcPrefix(), b.SrcPrefix())
	if srcRel == prefix.Disjoint {
		return false
	}
	return (dstRel == prefix.LessSpecific && srcRel == prefix.MoreSpecific) ||
		(dstRel == prefix.MoreSpecific && srcRel == prefix.LessSpecific)
}

// ZoneEqual is a structural comparison on the four Datum components.
func ZoneEqual(a, b Zone) bool {
	return a.Canonical() == b.Canonical()
}

// Cmp implements rt_cmp: a total preorder over pairwise non-disjoint
// routes, preferring destination specificity first, then source
// specificity. Returns -1 if a sorts before b (a wins), +1 if b wins,
// 0 if tied.
func Cmp(a, b Datum) int {
	switch prefix.Cmp(a.DstPrefix(), b.DstPrefix()) {
	case prefix.MoreSpecific:
		return -1
	case prefix.LessSpecific:
		return 1
	}
	switch prefix.Cmp(a.SrcPrefix(), b.SrcPrefix()) {
	case prefix.MoreSpecific:
		return -1
	case prefix.LessSpecific:
		return 1
	}
	return 0
}

// Min returns whichever of a, b sorts earlier under Cmp. A nil
// argument loses to any non-nil route; Min(nil, nil) is nil.
func Min(a, b *Route) *Route {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if Cmp(a.Datum, b.Datum) <= 0 {
		return a
	}
	return b
}
