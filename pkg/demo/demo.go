// Package demo provides the minimal external collaborators spec.md's
// external-interfaces section declares the policy of but does not
// specify: an in-memory installed route table, pass-through filters,
// and a logging transport stub. They exist so the binary can run
// standalone and so package tests have a realistic, non-mocked
// collaborator to drive, not to implement Babel route selection
// policy.
package demo

import (
	"log/slog"
	"net/netip"
	"sync"

	"github.com/ssbabel/ssbabeld/pkg/collab"
	"github.com/ssbabel/ssbabeld/pkg/route"
)

// RouteTable is an in-memory installed-routes collaborator.
type RouteTable struct {
	mu     sync.Mutex
	routes map[route.Datum]*route.Route
	// retracted holds routes removed from the installed set but kept
	// around for FindBest's includeRetracted case, mirroring the
	// original's retracted-but-not-forgotten routes.
	retracted map[route.Datum]*route.Route
}

// NewRouteTable returns an empty RouteTable.
func NewRouteTable() *RouteTable {
	return &RouteTable{
		routes:    make(map[route.Datum]*route.Route),
		retracted: make(map[route.Datum]*route.Route),
	}
}

// Link adds r to the installed set without touching the kernel FIB;
// callers wire this together with disambiguate.Engine.Install per the
// contract that r must be linked before Install is called.
func (t *RouteTable) Link(r *route.Route) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[r.Datum] = r
	delete(t.retracted, r.Datum)
}

// Unlink removes r from the installed set, retaining it as a
// retracted candidate for FindBest.
func (t *RouteTable) Unlink(r *route.Route) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.routes, r.Datum)
	t.retracted[r.Datum] = r
}

// Stream implements collab.RouteSource.
func (t *RouteTable) Stream(kind collab.StreamKind) []*route.Route {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*route.Route, 0, len(t.routes))
	for _, r := range t.routes {
		if kind == collab.SSInstalled && r.Datum.IsDefaultSource() {
			continue
		}
		out = append(out, r)
	}
	return out
}

// FindInstalled implements collab.RouteSource.
func (t *RouteTable) FindInstalled(d route.Datum) *route.Route {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.routes[d]
}

// FindBest implements collab.InstalledRoutes. The demo table has no
// metric-based route selection policy, so it returns the installed
// route for d, falling back to a retracted one when includeRetracted
// is set.
func (t *RouteTable) FindBest(d route.Datum, includeRetracted bool) *route.Route {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.routes[d]; ok {
		return r
	}
	if includeRetracted {
		if r, ok := t.retracted[d]; ok {
			return r
		}
	}
	return nil
}

// Install implements collab.InstalledRoutes by linking r.
func (t *RouteTable) Install(r *route.Route) error {
	t.Link(r)
	return nil
}

// Uninstall implements collab.InstalledRoutes by unlinking r.
func (t *RouteTable) Uninstall(r *route.Route) error {
	t.Unlink(r)
	return nil
}

// Filters is a pass-through collab.Filters that never suppresses
// anything and never rewrites the source prefix; it exists purely to
// exercise C4-C6 without imposing any real filtering policy.
type Filters struct{}

// InputFilter implements collab.Filters.
func (Filters) InputFilter(route.Datum) uint16 { return 0 }

// OutputFilter implements collab.Filters.
func (Filters) OutputFilter(route.Datum) uint16 { return 0 }

// Redistribute implements collab.Filters.
func (Filters) Redistribute(d route.Datum, ifindex, proto int) (uint16, route.Datum) {
	return 0, d
}

// Transport is a collab.Transport stub that logs instead of doing
// wire I/O: packet framing and the message codec remain out of scope.
type Transport struct {
	Log *slog.Logger
}

// NewTransport returns a Transport that logs through log (or
// slog.Default() if nil).
func NewTransport(log *slog.Logger) *Transport {
	if log == nil {
		log = slog.Default()
	}
	return &Transport{Log: log}
}

// SendMulticastMultihopRequest implements collab.Transport.
func (t *Transport) SendMulticastMultihopRequest(ifindex int, d route.Datum, seqno uint16, id [8]byte, hopCount uint8) {
	t.Log.Debug("send multicast multihop request", "ifindex", ifindex, "datum", d, "seqno", seqno, "hop_count", hopCount)
}

// SendUpdate implements collab.Transport.
func (t *Transport) SendUpdate(ifindex int, urgent bool, d route.Datum) {
	t.Log.Debug("send update", "ifindex", ifindex, "urgent", urgent, "datum", d)
}

// Addrs is a static collab.AddrSource, for wiring the memory kernel
// backend's address dump without a real interface list.
type Addrs []netip.Addr

// LocalAddresses implements collab.AddrSource.
func (a Addrs) LocalAddresses() []netip.Addr { return a }
