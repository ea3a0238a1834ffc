// Package memfib is a process-local, map-backed implementation of
// pkg/kernel's FIB/Dumper/TableFinder/DisambiguateProber interfaces.
// It backs the daemon's tests, non-Linux builds, and the CLI's
// "--kernel memory" demonstration mode.
package memfib

import (
	"sync"

	"github.com/ssbabel/ssbabeld/pkg/babel"
	"github.com/ssbabel/ssbabeld/pkg/collab"
	"github.com/ssbabel/ssbabeld/pkg/kernel"
	"github.com/ssbabel/ssbabeld/pkg/route"
)

// FIB is an in-memory kernel forwarding table keyed by zone.
type FIB struct {
	mu       sync.Mutex
	entries  map[route.Zone]kernel.Entry
	addrs    collab.AddrSource
	v4Disamb bool
	v6Disamb bool
}

// New returns an empty FIB. addrs supplies the local addresses a Dump
// of kernel.ChangeAddr synthesises as /128 host routes; it may be nil,
// in which case address dumps are always empty.
func New(addrs collab.AddrSource) *FIB {
	return &FIB{entries: make(map[route.Zone]kernel.Entry), addrs: addrs}
}

// SetDisambiguate configures the capability probe FIB exposes via
// KernelDisambiguate, for tests that want to exercise the fast path.
func (f *FIB) SetDisambiguate(v4, v6 bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.v4Disamb, f.v6Disamb = v4, v6
}

// Add implements kernel.FIB.
func (f *FIB) Add(e kernel.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[e.Zone]; ok {
		return kernel.ErrExists
	}
	f.entries[e.Zone] = e
	return nil
}

// Flush implements kernel.FIB.
func (f *FIB) Flush(e kernel.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, e.Zone)
	return nil
}

// Modify implements kernel.FIB.
func (f *FIB) Modify(old, new kernel.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[new.Zone] = new
	return nil
}

// ModifyMetric implements kernel.FIB.
func (f *FIB) ModifyMetric(e kernel.Entry, newMetric uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.entries[e.Zone]
	if !ok {
		cur = e
	}
	cur.Metric = newMetric
	f.entries[e.Zone] = cur
	return nil
}

// Get returns the entry programmed at z, for tests.
func (f *FIB) Get(z route.Zone) (kernel.Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[z]
	return e, ok
}

// Len returns the number of programmed entries, for tests.
func (f *FIB) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// Dump implements kernel.Dumper by replaying the programmed entries
// (kernel.ChangeRoute) or the configured local addresses
// (kernel.ChangeAddr, synthesised as /128 host routes with metric 0
// and protocol RTPROT_BABEL_LOCAL).
func (f *FIB) Dump(kind kernel.Kind, ifindex int, linkLocal bool, buf []kernel.DumpedRoute) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	switch kind {
	case kernel.ChangeRoute:
		for _, e := range f.entries {
			if n >= len(buf) {
				return n, kernel.ErrBufferTooSmall
			}
			buf[n] = kernel.DumpedRoute{Datum: e.Zone, Metric: e.Metric, IfIndex: e.IfIndex, NextHop: e.NextHop}
			n++
		}
	case kernel.ChangeAddr:
		if f.addrs == nil {
			return 0, nil
		}
		for _, a := range f.addrs.LocalAddresses() {
			if ifindex != 0 {
				continue
			}
			if n >= len(buf) {
				return n, kernel.ErrBufferTooSmall
			}
			buf[n] = kernel.DumpedRoute{
				Datum:   route.Datum{Dst: a, DstLen: 128}.Canonical(),
				Metric:  0,
				IfIndex: 0,
				Proto:   babel.RTProtoBabelLocal,
			}
			n++
		}
	}
	return n, nil
}

// FindTable implements kernel.TableFinder by always returning the
// main table: the memory backend has no notion of multiple tables.
func (f *FIB) FindTable(z route.Zone) int { return 0 }

// KernelDisambiguate implements kernel.DisambiguateProber.
func (f *FIB) KernelDisambiguate(v4 bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v4 {
		return f.v4Disamb
	}
	return f.v6Disamb
}
