// Package xroute implements external route (xroute) reconciliation
// (C6): maintaining the set of externally-redistributed routes and
// reconciling it against a kernel snapshot on every tick.
package xroute

import (
	"errors"
	"log/slog"
	"net/netip"

	"github.com/ssbabel/ssbabeld/pkg/babel"
	"github.com/ssbabel/ssbabeld/pkg/collab"
	"github.com/ssbabel/ssbabeld/pkg/kernel"
	"github.com/ssbabel/ssbabeld/pkg/route"
)

// Xroute is a redistributed route, identified by its Datum: at most
// one xroute exists per Datum.
type Xroute struct {
	Datum   route.Datum
	Metric  uint16
	IfIndex int
	Proto   int
}

// ErrSnapshotTooLarge is returned by CheckXroutes when the kernel
// snapshot does not fit even at the configured maximum buffer size.
var ErrSnapshotTooLarge = errors.New("xroute: kernel snapshot exceeds maximum buffer size")

const defaultStartBuf = 8

// Table owns the xroute set and reconciles it against the kernel.
type Table struct {
	xroutes map[route.Datum]*Xroute

	maxBuf    int
	maxMaxBuf int

	Dumper      kernel.Dumper
	Routes      collab.InstalledRoutes
	Filters     collab.Filters
	Transport   collab.Transport
	AllowDups   func(kernelMetric uint16) bool
	OnLocalChange func(x Xroute, kind collab.LocalChangeKind)
	Log         *slog.Logger
}

// New builds a Table. log may be nil. AllowDups is left nil, which
// never allows a Babel route to coexist with a newly redistributed
// one; callers set the field after New returns.
func New(dumper kernel.Dumper, routes collab.InstalledRoutes, filters collab.Filters, transport collab.Transport, log *slog.Logger) *Table {
	if log == nil {
		log = slog.Default()
	}
	return &Table{
		xroutes:   make(map[route.Datum]*Xroute),
		maxBuf:    defaultStartBuf,
		maxMaxBuf: 16 * 1024,
		Dumper:    dumper,
		Routes:    routes,
		Filters:   filters,
		Transport: transport,
		Log:       log,
	}
}

// Find returns the xroute for d, if any.
func (t *Table) Find(d route.Datum) *Xroute { return t.xroutes[d] }

// Len returns the current number of xroutes.
func (t *Table) Len() int { return len(t.xroutes) }

// All returns every current xroute, for introspection/tests only.
func (t *Table) All() []Xroute {
	out := make([]Xroute, 0, len(t.xroutes))
	for _, x := range t.xroutes {
		out = append(out, *x)
	}
	return out
}

func (t *Table) notify(x Xroute, kind collab.LocalChangeKind) {
	if t.OnLocalChange != nil {
		t.OnLocalChange(x, kind)
	}
}

// flush removes d's xroute, notifying subscribers first.
func (t *Table) flush(d route.Datum) {
	x, ok := t.xroutes[d]
	if !ok {
		return
	}
	t.notify(*x, collab.LocalFlush)
	delete(t.xroutes, d)
}

// addXroute realises add_xroute: if present, the lower metric wins and
// a CHANGE is reported only when the metric actually improved; report
// ADD on a genuine insert. insert distinguishes a genuine insert from
// a metric-improving update of an existing entry, which callers need
// to decide whether to uninstall a competing Babel route.
func (t *Table) addXroute(d route.Datum, metric uint16, ifindex, proto int) (insert bool) {
	if x, ok := t.xroutes[d]; ok {
		if x.Metric <= metric {
			return false
		}
		x.Metric = metric
		t.notify(*x, collab.LocalChange)
		return false
	}
	x := &Xroute{Datum: d, Metric: metric, IfIndex: ifindex, Proto: proto}
	t.xroutes[d] = x
	t.notify(*x, collab.LocalAdd)
	return true
}

func isMartian(p route.Datum) bool {
	// A destination or source prefix covering the unspecified address
	// at length 0 is never martian (::/0 is a legitimate default). The
	// only prefix rejected here is the loopback host route ::1/128;
	// multicast and other loopback-class prefixes are not filtered by
	// this function.
	return p.Dst == netip.IPv6Loopback() && p.DstLen == 128
}

// CheckXroutes is the periodic reconciliation tick. It snapshots the
// kernel (local addresses as /128 host routes first, then kernel
// routes, retrying with a doubled buffer up to a fixed ceiling),
// flushes xroutes that no longer validate, and adds newly-qualifying
// kernel routes, returning whether anything changed.
func (t *Table) CheckXroutes(sendUpdates bool) (changed bool, err error) {
	buf := make([]kernel.DumpedRoute, t.maxBuf)
	var numAddrs, numRoutes int

	for {
		na, aerr := t.Dumper.Dump(kernel.ChangeAddr, 0, false, buf)
		if aerr != nil && !errors.Is(aerr, kernel.ErrBufferTooSmall) {
			t.Log.Warn("kernel address dump failed", "err", aerr)
			na = 0
		}
		if na >= t.maxBuf {
			if !t.grow() {
				return false, ErrSnapshotTooLarge
			}
			buf = make([]kernel.DumpedRoute, t.maxBuf)
			continue
		}
		numAddrs = na

		nr, rerr := t.Dumper.Dump(kernel.ChangeRoute, 0, false, buf[numAddrs:])
		if rerr != nil && !errors.Is(rerr, kernel.ErrBufferTooSmall) {
			t.Log.Warn("kernel route dump failed", "err", rerr)
			nr = 0
		}
		numRoutes = numAddrs + nr
		if numRoutes >= t.maxBuf {
			if !t.grow() {
				return false, ErrSnapshotTooLarge
			}
			buf = make([]kernel.DumpedRoute, t.maxBuf)
			continue
		}
		break
	}
	snapshot := buf[:numRoutes]

	// Apply the redistribution filter to kernel routes only (addresses
	// are already canonical host routes); the filter may rewrite the
	// source prefix.
	for i := numAddrs; i < numRoutes; i++ {
		_, rewritten := t.Filters.Redistribute(snapshot[i].Datum, snapshot[i].IfIndex, snapshot[i].Proto)
		snapshot[i].Datum = rewritten
	}

	// Flush xroutes that no longer validate.
	var toFlush []route.Datum
	for d, x := range t.xroutes {
		metric, _ := t.Filters.Redistribute(x.Datum, x.IfIndex, x.Proto)
		exported := false
		if metric < babel.Infinity && metric == x.Metric {
			for j := range snapshot {
				if snapshot[j].Datum == x.Datum && snapshot[j].IfIndex == x.IfIndex && snapshot[j].Proto == x.Proto {
					exported = true
					break
				}
			}
		}
		if !exported {
			toFlush = append(toFlush, d)
		}
	}
	for _, d := range toFlush {
		t.flush(d)
		if best := t.Routes.FindBest(d, true); best != nil {
			if ierr := t.Routes.Install(best); ierr != nil {
				t.Log.Warn("install of best route after xroute flush failed", "datum", d, "err", ierr)
			}
		}
		if sendUpdates {
			t.Transport.SendUpdate(0, false, d)
		}
		changed = true
	}

	// Add newly-qualifying kernel routes.
	for i := 0; i < numRoutes; i++ {
		if isMartian(snapshot[i].Datum) {
			continue
		}
		metric, _ := t.Filters.Redistribute(snapshot[i].Datum, snapshot[i].IfIndex, snapshot[i].Proto)
		if metric >= babel.Infinity {
			continue
		}
		if !t.addXroute(snapshot[i].Datum, metric, snapshot[i].IfIndex, snapshot[i].Proto) {
			continue
		}
		if installed := t.Routes.FindInstalled(snapshot[i].Datum); installed != nil {
			if t.AllowDups == nil || !t.AllowDups(snapshot[i].Metric) {
				if uerr := t.Routes.Uninstall(installed); uerr != nil {
					t.Log.Warn("uninstall of displaced babel route failed", "datum", snapshot[i].Datum, "err", uerr)
				}
			}
		}
		changed = true
		if sendUpdates {
			t.Transport.SendUpdate(0, false, snapshot[i].Datum)
		}
	}

	t.maxBuf = min(numRoutes+defaultStartBuf, t.maxMaxBuf)
	return changed, nil
}

func (t *Table) grow() bool {
	if t.maxBuf >= t.maxMaxBuf {
		return false
	}
	next := t.maxBuf * 2
	if next > t.maxMaxBuf {
		next = t.maxMaxBuf
	}
	t.maxBuf = next
	return true
}

