// Package kernel declares the collaborator interfaces the
// disambiguation and xroute engines use to reach the operating
// system's forwarding table, plus the two concrete backends
// (pkg/kernel/netlinkfib, pkg/kernel/memfib) that implement them.
package kernel

import (
	"errors"
	"net/netip"

	"github.com/ssbabel/ssbabeld/pkg/route"
)

// Op identifies a kernel FIB operation.
type Op int

const (
	Add Op = iota
	Flush
	Modify
)

func (o Op) String() string {
	switch o {
	case Add:
		return "add"
	case Flush:
		return "flush"
	case Modify:
		return "modify"
	default:
		return "invalid"
	}
}

// ErrExists is returned by Add when the kernel entry is already
// present. The disambiguation engine treats this as success.
var ErrExists = errors.New("kernel: route exists")

// Entry is one (zone, next-hop, interface, metric, table) tuple as
// seen or programmed in the kernel FIB.
type Entry struct {
	Zone    route.Zone
	NextHop netip.Addr
	IfIndex int
	Metric  uint16
	Table   int
}

// FIB is the kernel forwarding table, as addressed by zone rather than
// by a full route: Add/Flush install or remove a single entry, Modify
// atomically replaces old with new at the same zone.
type FIB interface {
	Add(e Entry) error
	Flush(e Entry) error
	Modify(old, new Entry) error
	// ModifyMetric changes only the metric of an installed entry.
	ModifyMetric(e Entry, newMetric uint16) error
}

// Kind selects which object class a Dumper call enumerates.
type Kind int

const (
	ChangeRoute Kind = iota
	ChangeAddr
)

// DumpedRoute is one object yielded by a Dumper during a kernel
// snapshot: either a real kernel route or a synthesised /128 host
// route standing in for a local address.
type DumpedRoute struct {
	Datum   route.Datum
	Metric  uint16
	IfIndex int
	Proto   int
	NextHop netip.Addr
}

// ErrBufferTooSmall is returned by Dump when the caller's buffer
// cannot hold the full snapshot; the caller is expected to retry with
// a larger buffer.
var ErrBufferTooSmall = errors.New("kernel: snapshot buffer too small")

// Dumper enumerates kernel routes or addresses into buf, returning the
// number of entries written. ifindex/linkLocal scope an address dump
// (ifindex 0 means any interface; how linkLocal is applied is up to
// the backend); they are ignored for a route dump.
type Dumper interface {
	Dump(kind Kind, ifindex int, linkLocal bool, buf []DumpedRoute) (int, error)
}

// TableFinder maps a zone to a kernel table id. The mapping is
// kernel-specific and treated as opaque by the disambiguation engine.
type TableFinder interface {
	FindTable(z route.Zone) int
}

// DisambiguateProber reports whether the kernel natively supports
// source-specific FIB lookups for the given address family.
type DisambiguateProber interface {
	KernelDisambiguate(v4 bool) bool
}
