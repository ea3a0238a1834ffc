// Package prefix implements the four-valued comparison of (address,
// length) pairs that every other routing component is built on: equal,
// disjoint, more-specific, less-specific.
package prefix

import "net/netip"

// Relation is the result of comparing two prefixes.
type Relation int

const (
	// Disjoint means the prefixes' first min(l1,l2) bits differ.
	Disjoint Relation = iota
	// Equal means the prefixes have the same length and the same bits.
	Equal
	// MoreSpecific means the first argument is the narrower (longer)
	// prefix and is contained in the second.
	MoreSpecific
	// LessSpecific means the first argument is the wider (shorter)
	// prefix and contains the second.
	LessSpecific
)

func (r Relation) String() string {
	switch r {
	case Disjoint:
		return "disjoint"
	case Equal:
		return "equal"
	case MoreSpecific:
		return "more-specific"
	case LessSpecific:
		return "less-specific"
	default:
		return "invalid"
	}
}

// Prefix is a 16-octet address (always carried in its IPv6 form, IPv4
// addresses use the v4-mapped embedding) together with a bit length.
type Prefix struct {
	Addr netip.Addr
	Len  uint8
}

// New returns a Prefix for addr with length bits. addr is normalised
// to its 16-byte form; a plain IPv4 address with a length of at most
// 32 has its length offset by 96 into the v4-mapped space. Bits of
// addr beyond the length are not cleared.
func New(addr netip.Addr, length uint8) Prefix {
	if addr.Is4() {
		addr = netip.AddrFrom16(addr.As16())
		if length <= 32 {
			length += 96
		}
	}
	return Prefix{Addr: addr, Len: length}
}

// bytes16 returns the prefix address as 16 raw octets.
func bytes16(a netip.Addr) [16]byte {
	if a.Is4() {
		return a.As16()
	}
	return a.As16()
}

// bitAt reports the value of bit index i (0-based, MSB first) of b.
func bitAt(b [16]byte, i int) int {
	byteIdx := i / 8
	bitIdx := 7 - uint(i%8)
	return int((b[byteIdx] >> bitIdx) & 1)
}

// commonBits returns the number of leading bits shared by a and b, up
// to max bits.
func commonBits(a, b [16]byte, max int) int {
	n := 0
	for n < max {
		if bitAt(a, n) != bitAt(b, n) {
			break
		}
		n++
	}
	return n
}

// Cmp implements prefix_cmp: compares p1 against p2 over their shared
// bit length k = min(l1,l2). The result is Disjoint if the first k
// bits differ, otherwise Equal/MoreSpecific/LessSpecific depending on
// how p1's length relates to p2's.
func Cmp(p1, p2 Prefix) Relation {
	k := int(p1.Len)
	if int(p2.Len) < k {
		k = int(p2.Len)
	}
	b1 := bytes16(p1.Addr)
	b2 := bytes16(p2.Addr)
	if commonBits(b1, b2, k) < k {
		return Disjoint
	}
	switch {
	case p1.Len == p2.Len:
		return Equal
	case p1.Len > p2.Len:
		return MoreSpecific
	default:
		return LessSpecific
	}
}

// Contains reports whether addr falls within p.
func Contains(p Prefix, addr netip.Addr) bool {
	a := New(addr, 128)
	rel := Cmp(a, p)
	return rel == Equal || rel == MoreSpecific
}
