// Package disambiguate implements the source-specific route
// disambiguation engine (C4): given an installed, uninstalled,
// next-hop-switched, or metric-changed route, it determines which
// kernel FIB zones must be added, modified, or flushed so that a
// destination-only kernel FIB behaves as if it understood
// source-specific routes.
package disambiguate

import (
	"errors"
	"log/slog"
	"net/netip"

	"github.com/ssbabel/ssbabeld/pkg/collab"
	"github.com/ssbabel/ssbabeld/pkg/kernel"
	"github.com/ssbabel/ssbabeld/pkg/route"
)

// ErrInvariant marks a programming invariant violation (e.g. an empty
// intersection reaching a call site that requires a non-empty zone).
// The original aborts the process here. No function in this package
// currently returns it.
var ErrInvariant = errors.New("disambiguate: invariant violation")

// Engine ties the pure zone arithmetic in pkg/route to a concrete
// kernel FIB and installed-route table.
type Engine struct {
	Routes collab.RouteSource
	FIB    kernel.FIB
	Tables kernel.TableFinder
	Prober kernel.DisambiguateProber
	Log    *slog.Logger
}

// New builds an Engine. log may be nil, in which case slog.Default()
// is used.
func New(routes collab.RouteSource, fib kernel.FIB, tables kernel.TableFinder, prober kernel.DisambiguateProber, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{Routes: routes, FIB: fib, Tables: tables, Prober: prober, Log: log}
}

func isV4(d route.Datum) bool {
	return d.Dst.Is4() || d.Dst.Is4In6()
}

func hasSpecificRoute(rs collab.RouteSource) bool {
	return len(rs.Stream(collab.SSInstalled)) > 0
}

// fastPath reports whether r can be programmed with a single direct
// kernel call: either the kernel natively understands source-specific
// FIB entries, or r carries the default source prefix and no
// source-specific route is installed anywhere (so no ambiguity can
// arise).
func (e *Engine) fastPath(r *route.Route) bool {
	if e.Prober != nil && e.Prober.KernelDisambiguate(isV4(r.Datum)) {
		return true
	}
	return r.Datum.IsDefaultSource() && !hasSpecificRoute(e.Routes)
}

func (e *Engine) isInstalled(z route.Zone) bool {
	return e.Routes.FindInstalled(z) != nil
}

func (e *Engine) entryFor(z route.Zone, r *route.Route) kernel.Entry {
	table := 0
	if e.Tables != nil {
		table = e.Tables.FindTable(z)
	}
	return kernel.Entry{Zone: z, NextHop: r.NextHop, IfIndex: r.IfIndex, Metric: r.Metric, Table: table}
}

func (e *Engine) entryAt(z route.Zone, nh netip.Addr, ifindex int, metric uint16) kernel.Entry {
	table := 0
	if e.Tables != nil {
		table = e.Tables.FindTable(z)
	}
	return kernel.Entry{Zone: z, NextHop: nh, IfIndex: ifindex, Metric: metric, Table: table}
}

// minConflict returns the rt_cmp-minimum installed route that
// conflicts with base at exactly zone z, excluding the route named by
// exclude (if any). It realises min_conflict(z, r).
func minConflict(rs collab.RouteSource, z route.Zone, base route.Datum, exclude *route.Route) *route.Route {
	var best *route.Route
	for _, rp := range rs.Stream(collab.Installed) {
		if exclude != nil && rp.Datum == exclude.Datum {
			continue
		}
		if !route.Conflicts(base, rp.Datum) {
			continue
		}
		zz, ok := route.Intersect(base, rp.Datum)
		if !ok || !route.ZoneEqual(zz, z) {
			continue
		}
		best = route.Min(best, rp)
	}
	return best
}

// conflictSolution returns the rt_cmp-minimum r1 among pairs (r1, r2)
// of installed routes such that conflicts(r1,r2), intersection(r1,r2)
// == target, and rt_cmp(r1,r2) < 0 — the route that would have been
// programmed at target's exact zone as a completion. exclude, if
// non-nil, is omitted from both sides of the pair (used by Uninstall,
// which is called while the departing route is still linked into the
// installed set).
func conflictSolution(rs collab.RouteSource, target route.Datum, exclude *route.Route) *route.Route {
	var best *route.Route
	for _, r1 := range rs.Stream(collab.Installed) {
		if exclude != nil && r1.Datum == exclude.Datum {
			continue
		}
		for _, r2 := range rs.Stream(collab.Installed) {
			if exclude != nil && r2.Datum == exclude.Datum {
				continue
			}
			if r1.Datum == r2.Datum {
				continue
			}
			if !route.Conflicts(r1.Datum, r2.Datum) {
				continue
			}
			z, ok := route.Intersect(r1.Datum, r2.Datum)
			if !ok || !route.ZoneEqual(z, target) {
				continue
			}
			if route.Cmp(r1.Datum, r2.Datum) >= 0 {
				continue
			}
			best = route.Min(best, r1)
		}
	}
	return best
}

// Install programs the kernel FIB so that r is reachable, adding
// whatever completion routes the slow path requires. The caller must
// link r into the installed-route table before calling Install.
func (e *Engine) Install(r *route.Route) error {
	if e.fastPath(r) {
		err := e.FIB.Add(e.entryFor(r.Datum, r))
		if err != nil && !errors.Is(err, kernel.ErrExists) {
			e.Log.Error("kernel add failed", "zone", r.Datum, "err", err)
			return err
		}
		return nil
	}

	for _, rp := range e.Routes.Stream(collab.Installed) {
		if rp.Datum == r.Datum || !route.Conflicts(r.Datum, rp.Datum) {
			continue
		}
		z, ok := route.Intersect(r.Datum, rp.Datum)
		if !ok {
			continue
		}
		if e.isInstalled(z) {
			continue
		}
		winner := minConflict(e.Routes, z, r.Datum, nil)
		if winner == nil || winner.Datum != rp.Datum {
			continue
		}
		rt2 := minConflict(e.Routes, z, rp.Datum, r)
		if rt2 == nil {
			win := route.Min(r, rp)
			if err := e.FIB.Add(e.entryFor(z, win)); err != nil && !errors.Is(err, kernel.ErrExists) {
				e.Log.Warn("completion route add failed", "zone", z, "err", err)
			}
		} else if route.Cmp(r.Datum, rt2.Datum) < 0 && route.Cmp(r.Datum, rp.Datum) < 0 {
			if err := e.FIB.Modify(e.entryFor(z, rt2), e.entryFor(z, r)); err != nil {
				e.Log.Warn("completion route modify failed", "zone", z, "err", err)
			}
		}
	}

	sol := conflictSolution(e.Routes, r.Datum, nil)
	var err error
	if sol != nil {
		err = e.FIB.Modify(e.entryFor(r.Datum, sol), e.entryFor(r.Datum, r))
	} else {
		err = e.FIB.Add(e.entryFor(r.Datum, r))
		if errors.Is(err, kernel.ErrExists) {
			err = nil
		}
	}
	if err != nil {
		e.Log.Error("kernel own-zone install failed", "zone", r.Datum, "err", err)
		return err
	}
	return nil
}

// Uninstall reverts whatever Install programmed for r. The caller must
// unlink r from the installed-route table only after Uninstall
// returns.
func (e *Engine) Uninstall(r *route.Route) error {
	if e.fastPath(r) {
		err := e.FIB.Flush(e.entryFor(r.Datum, r))
		if err != nil {
			e.Log.Error("kernel flush failed", "zone", r.Datum, "err", err)
			return err
		}
		return nil
	}

	sol := conflictSolution(e.Routes, r.Datum, r)
	var err error
	if sol != nil {
		err = e.FIB.Modify(e.entryFor(r.Datum, r), e.entryFor(r.Datum, sol))
	} else {
		err = e.FIB.Flush(e.entryFor(r.Datum, r))
	}
	if err != nil {
		e.Log.Error("kernel own-zone uninstall failed", "zone", r.Datum, "err", err)
	}

	for _, rp := range e.Routes.Stream(collab.Installed) {
		if rp.Datum == r.Datum || !route.Conflicts(r.Datum, rp.Datum) {
			continue
		}
		z, ok := route.Intersect(r.Datum, rp.Datum)
		if !ok {
			continue
		}
		if e.isInstalled(z) {
			continue
		}
		winner := minConflict(e.Routes, z, r.Datum, nil)
		if winner == nil || winner.Datum != rp.Datum {
			continue
		}
		rt2 := minConflict(e.Routes, z, rp.Datum, r)
		if rt2 == nil {
			if ferr := e.FIB.Flush(e.entryFor(z, r)); ferr != nil {
				e.Log.Warn("completion route flush failed", "zone", z, "err", ferr)
			}
		} else {
			if ferr := e.FIB.Modify(e.entryFor(z, r), e.entryFor(z, rt2)); ferr != nil {
				e.Log.Warn("completion route modify failed", "zone", z, "err", ferr)
			}
		}
	}
	return err
}

// Switch reprograms the next hop or metric of an installed route
// in-place: old and new share a Datum. It rewrites every completion
// zone old was winning on the slow path to point at new instead.
func (e *Engine) Switch(old, next *route.Route) error {
	z := old.Datum
	if err := e.FIB.Modify(e.entryFor(z, old), e.entryFor(z, next)); err != nil {
		e.Log.Error("kernel switch failed", "zone", z, "err", err)
		return err
	}
	if e.fastPath(old) {
		return nil
	}
	for _, rp := range e.Routes.Stream(collab.Installed) {
		if rp.Datum == old.Datum || !route.Conflicts(old.Datum, rp.Datum) {
			continue
		}
		cz, ok := route.Intersect(old.Datum, rp.Datum)
		if !ok || e.isInstalled(cz) {
			continue
		}
		if route.Cmp(old.Datum, rp.Datum) >= 0 {
			continue
		}
		winner := minConflict(e.Routes, cz, rp.Datum, nil)
		if winner == nil || winner.Datum != old.Datum {
			continue
		}
		if ferr := e.FIB.Modify(e.entryFor(cz, old), e.entryFor(cz, next)); ferr != nil {
			e.Log.Warn("completion route switch failed", "zone", cz, "err", ferr)
		}
	}
	return nil
}

// ChangeMetric updates only the metric of an installed route, at its
// own zone and at every completion zone it was winning on the slow
// path, using the same topology as Switch.
func (e *Engine) ChangeMetric(r *route.Route, oldMetric, newMetric uint16) error {
	z := r.Datum
	oldEntry := e.entryAt(z, r.NextHop, r.IfIndex, oldMetric)
	if err := e.FIB.ModifyMetric(oldEntry, newMetric); err != nil {
		e.Log.Error("kernel metric change failed", "zone", z, "err", err)
		return err
	}
	if e.fastPath(r) {
		return nil
	}
	for _, rp := range e.Routes.Stream(collab.Installed) {
		if rp.Datum == r.Datum || !route.Conflicts(r.Datum, rp.Datum) {
			continue
		}
		cz, ok := route.Intersect(r.Datum, rp.Datum)
		if !ok || e.isInstalled(cz) {
			continue
		}
		if route.Cmp(r.Datum, rp.Datum) >= 0 {
			continue
		}
		winner := minConflict(e.Routes, cz, rp.Datum, nil)
		if winner == nil || winner.Datum != r.Datum {
			continue
		}
		czEntry := e.entryAt(cz, r.NextHop, r.IfIndex, oldMetric)
		if ferr := e.FIB.ModifyMetric(czEntry, newMetric); ferr != nil {
			e.Log.Warn("completion route metric change failed", "zone", cz, "err", ferr)
		}
	}
	return nil
}
