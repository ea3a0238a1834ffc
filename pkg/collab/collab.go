// Package collab declares the non-kernel collaborator interfaces the
// core operates against: the installed-route table, the redistribution
// and suppression filters, and the outbound transport. Their policy is
// out of scope for this repository; pkg/demo provides a minimal
// in-memory implementation sufficient to exercise C4-C7 end to end.
package collab

import (
	"net/netip"
	"time"

	"github.com/ssbabel/ssbabeld/pkg/route"
)

// StreamKind selects which subset of installed routes RouteSource
// iterates.
type StreamKind int

const (
	// Installed yields every installed route.
	Installed StreamKind = iota
	// SSInstalled yields only routes whose source prefix is
	// non-default.
	SSInstalled
)

// RouteSource is the installed-routes collaborator the disambiguation
// engine reads from. Routes returned are borrowed: the core never
// mutates them.
type RouteSource interface {
	Stream(kind StreamKind) []*route.Route
	FindInstalled(d route.Datum) *route.Route
}

// InstalledRoutes extends RouteSource with the mutating operations the
// xroute reconciler drives when a redistributed route displaces or
// restores a Babel-selected one.
type InstalledRoutes interface {
	RouteSource
	FindBest(d route.Datum, includeRetracted bool) *route.Route
	Install(r *route.Route) error
	Uninstall(r *route.Route) error
}

// Filters groups the metric-gate and redistribution filters the
// resend and xroute engines consult.
type Filters interface {
	// InputFilter returns the metric a REQUEST for d would be
	// suppressed at.
	InputFilter(d route.Datum) uint16
	// OutputFilter returns the metric an UPDATE for d would be
	// suppressed at.
	OutputFilter(d route.Datum) uint16
	// Redistribute returns the metric at which a kernel route should
	// be redistributed, and d with its source prefix rewritten if the
	// filter chooses to narrow it (returned unchanged otherwise).
	Redistribute(d route.Datum, ifindex, proto int) (metric uint16, out route.Datum)
}

// Transport is the outbound protocol collaborator; packet framing and
// the message codec remain out of scope, so a Transport only needs to
// accept the logical send calls the resend and xroute engines issue.
type Transport interface {
	SendMulticastMultihopRequest(ifindex int, d route.Datum, seqno uint16, id [8]byte, hopCount uint8)
	SendUpdate(ifindex int, urgent bool, d route.Datum)
}

// Clock supplies the process-wide "now" the event loop advances. It is
// a plain function type rather than an interface, matching the
// teacher's convention of passing time.Now-shaped funcs for
// testability.
type Clock func() time.Time

// LocalChangeKind labels how an xroute table entry changed, for
// subscriber notification.
type LocalChangeKind int

const (
	LocalAdd LocalChangeKind = iota
	LocalChange
	LocalFlush
)

// AddrSource is the minimal local-address enumerator a Dumper-backed
// kernel needs; kept here because pkg/demo's in-memory kernel needs a
// source of "local" addresses that isn't netlink.
type AddrSource interface {
	LocalAddresses() []netip.Addr
}
