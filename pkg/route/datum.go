// Package route implements zone arithmetic (C2) and the specificity
// ordering (C3) over source-specific routes, plus the Datum key type
// that every other component uses to identify a (destination, source)
// pair.
package route

import (
	"fmt"
	"net/netip"

	"github.com/ssbabel/ssbabeld/pkg/prefix"
)

// Datum is the routing key: a destination prefix and a source prefix.
// It is comparable and therefore directly usable as a map key, which
// is the explicit key type the original's raw-byte-struct trick is
// replaced with.
type Datum struct {
	Dst    netip.Addr
	DstLen uint8
	Src    netip.Addr
	SrcLen uint8
}

// Zone is a Datum obtained as the intersection of two non-disjoint
// routes. Kept as a distinct name from Datum only for readability at
// call sites.
type Zone = Datum

// maskAddr zeroes every bit of a beyond the first length bits.
func maskAddr(a netip.Addr, length uint8) netip.Addr {
	b := a.As16()
	full := int(length) / 8
	rem := int(length) % 8
	start := full
	if rem != 0 && full < 16 {
		mask := byte(0xFF << (8 - rem))
		b[full] &= mask
		start = full + 1
	}
	for i := start; i < 16; i++ {
		b[i] = 0
	}
	return netip.AddrFrom16(b)
}

// Canonical returns d with bits beyond each declared length zeroed and
// addresses normalised to their 16-byte form, per the Datum invariant.
// A plain IPv4 address with a length of at most 32 is moved into the
// v4-mapped ::ffff:0:0/96 space, so its length becomes 96+n.
func (d Datum) Canonical() Datum {
	dst, dstLen := d.Dst, d.DstLen
	if dst.Is4() {
		dst = netip.AddrFrom16(dst.As16())
		if dstLen <= 32 {
			dstLen += 96
		}
	}
	src, srcLen := d.Src, d.SrcLen
	if src.Is4() {
		src = netip.AddrFrom16(src.As16())
		if srcLen <= 32 {
			srcLen += 96
		}
	}
	return Datum{
		Dst:    maskAddr(dst, dstLen),
		DstLen: dstLen,
		Src:    maskAddr(src, srcLen),
		SrcLen: srcLen,
	}
}

// DstPrefix returns the destination half of d as a prefix.Prefix.
func (d Datum) DstPrefix() prefix.Prefix { return prefix.New(d.Dst, d.DstLen) }

// SrcPrefix returns the source half of d as a prefix.Prefix.
func (d Datum) SrcPrefix() prefix.Prefix { return prefix.New(d.Src, d.SrcLen) }

// IsDefaultSource reports whether d carries the default (::/0) source
// prefix, i.e. it is not a source-specific route.
func (d Datum) IsDefaultSource() bool { return d.SrcLen == 0 }

func (d Datum) String() string {
	return fmt.Sprintf("%s/%d from %s/%d", d.Dst, d.DstLen, d.Src, d.SrcLen)
}

// Route references a Datum and carries the forwarding state the
// disambiguation engine needs. Routes are owned by an external route
// table; the core receives borrowed handles and never mutates them.
type Route struct {
	Datum   Datum
	NextHop netip.Addr
	IfIndex int
	Metric  uint16
}

func (r *Route) String() string {
	return fmt.Sprintf("%s via %s%%%d metric %d", r.Datum, r.NextHop, r.IfIndex, r.Metric)
}
