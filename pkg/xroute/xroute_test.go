package xroute

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ssbabel/ssbabeld/pkg/babel"
	"github.com/ssbabel/ssbabeld/pkg/collab"
	"github.com/ssbabel/ssbabeld/pkg/demo"
	"github.com/ssbabel/ssbabeld/pkg/kernel"
	"github.com/ssbabel/ssbabeld/pkg/route"
)

// fakeDumper serves a fixed address/route snapshot, reporting
// kernel.ErrBufferTooSmall whenever the caller's buffer can't hold it
// so CheckXroutes's grow-and-retry loop is exercised faithfully.
type fakeDumper struct {
	addrs  []kernel.DumpedRoute
	routes []kernel.DumpedRoute
}

func (f *fakeDumper) Dump(kind kernel.Kind, ifindex int, linkLocal bool, buf []kernel.DumpedRoute) (int, error) {
	var src []kernel.DumpedRoute
	switch kind {
	case kernel.ChangeAddr:
		src = f.addrs
	case kernel.ChangeRoute:
		src = f.routes
	}
	n := copy(buf, src)
	if len(src) > len(buf) {
		return n, kernel.ErrBufferTooSmall
	}
	return n, nil
}

type passthroughFilters struct {
	redistributeMetric uint16
}

func (passthroughFilters) InputFilter(route.Datum) uint16  { return 0 }
func (passthroughFilters) OutputFilter(route.Datum) uint16 { return 0 }
func (f passthroughFilters) Redistribute(d route.Datum, ifindex, proto int) (uint16, route.Datum) {
	return f.redistributeMetric, d
}

type recordingTransport struct {
	updates []route.Datum
}

func (r *recordingTransport) SendMulticastMultihopRequest(int, route.Datum, uint16, [8]byte, uint8) {
}
func (r *recordingTransport) SendUpdate(ifindex int, urgent bool, d route.Datum) {
	r.updates = append(r.updates, d)
}

func datum(t *testing.T, dst string, dstLen uint8) route.Datum {
	t.Helper()
	a, err := netip.ParseAddr(dst)
	require.NoError(t, err)
	return route.Datum{Dst: a, DstLen: dstLen, Src: netip.IPv6Unspecified(), SrcLen: 0}.Canonical()
}

func routeEntry(t *testing.T, dst string, dstLen uint8, ifindex int, metric uint16) kernel.DumpedRoute {
	t.Helper()
	return kernel.DumpedRoute{Datum: datum(t, dst, dstLen), Metric: metric, IfIndex: ifindex, Proto: 10}
}

func TestCheckXroutesAddsQualifyingKernelRoute(t *testing.T) {
	dumper := &fakeDumper{routes: []kernel.DumpedRoute{routeEntry(t, "10.0.0.0", 24, 1, 5)}}
	routes := demo.NewRouteTable()
	transport := &recordingTransport{}
	tbl := New(dumper, routes, passthroughFilters{redistributeMetric: 5}, transport, nil)

	changed, err := tbl.CheckXroutes(true)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, 1, tbl.Len())
	require.Len(t, transport.updates, 1)
}

func TestCheckXroutesSkipsRouteFilteredToInfinity(t *testing.T) {
	dumper := &fakeDumper{routes: []kernel.DumpedRoute{routeEntry(t, "10.0.0.0", 24, 1, 5)}}
	routes := demo.NewRouteTable()
	tbl := New(dumper, routes, passthroughFilters{redistributeMetric: babel.Infinity}, &recordingTransport{}, nil)

	changed, err := tbl.CheckXroutes(false)
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, 0, tbl.Len())
}

func TestCheckXroutesFlushesStaleEntryAndReinstallsBestRoute(t *testing.T) {
	d := datum(t, "10.0.0.0", 24)
	dumper := &fakeDumper{routes: []kernel.DumpedRoute{{Datum: d, Metric: 5, IfIndex: 1, Proto: 10}}}
	routes := demo.NewRouteTable()
	tbl := New(dumper, routes, passthroughFilters{redistributeMetric: 5}, &recordingTransport{}, nil)

	changed, err := tbl.CheckXroutes(false)
	require.NoError(t, err)
	require.True(t, changed)
	require.NotNil(t, tbl.Find(d))

	// A Babel route for the same Datum, installed while the xroute held
	// the slot, should be reinstalled once the kernel route disappears
	// and the xroute is flushed.
	babelRoute := &route.Route{Datum: d, NextHop: netip.MustParseAddr("fe80::1"), IfIndex: 2, Metric: 20}
	routes.Link(babelRoute)
	routes.Unlink(babelRoute)

	dumper.routes = nil
	changed, err = tbl.CheckXroutes(true)
	require.NoError(t, err)
	require.True(t, changed)
	require.Nil(t, tbl.Find(d))

	best := routes.FindInstalled(d)
	require.NotNil(t, best)
	require.Equal(t, babelRoute.NextHop, best.NextHop)
}

func TestCheckXroutesSkipsLoopbackHostRoute(t *testing.T) {
	loopback := kernel.DumpedRoute{
		Datum:   route.Datum{Dst: netip.IPv6Loopback(), DstLen: 128, Src: netip.IPv6Unspecified(), SrcLen: 0},
		Metric:  5,
		IfIndex: 1,
	}
	dumper := &fakeDumper{routes: []kernel.DumpedRoute{loopback}}
	routes := demo.NewRouteTable()
	tbl := New(dumper, routes, passthroughFilters{redistributeMetric: 5}, &recordingTransport{}, nil)

	changed, err := tbl.CheckXroutes(false)
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, 0, tbl.Len())
}

func TestAddXrouteUpgradesMetricWithoutReinsert(t *testing.T) {
	tbl := New(&fakeDumper{}, demo.NewRouteTable(), passthroughFilters{}, &recordingTransport{}, nil)
	d := datum(t, "10.0.0.0", 24)

	insert := tbl.addXroute(d, 10, 1, 10)
	require.True(t, insert)

	insert = tbl.addXroute(d, 5, 1, 10)
	require.False(t, insert, "a metric improvement on an existing xroute is a CHANGE, not an insert")
	require.Equal(t, uint16(5), tbl.Find(d).Metric)

	insert = tbl.addXroute(d, 8, 1, 10)
	require.False(t, insert, "a worse metric must not regress the existing entry")
	require.Equal(t, uint16(5), tbl.Find(d).Metric)
}

func TestAddXrouteNotifiesSubscribers(t *testing.T) {
	tbl := New(&fakeDumper{}, demo.NewRouteTable(), passthroughFilters{}, &recordingTransport{}, nil)
	d := datum(t, "10.0.0.0", 24)

	var kinds []collab.LocalChangeKind
	tbl.OnLocalChange = func(x Xroute, kind collab.LocalChangeKind) {
		kinds = append(kinds, kind)
	}

	tbl.addXroute(d, 10, 1, 10)
	tbl.addXroute(d, 5, 1, 10)
	tbl.flush(d)

	require.Equal(t, []collab.LocalChangeKind{collab.LocalAdd, collab.LocalChange, collab.LocalFlush}, kinds)
}

func TestCheckXroutesGrowsBufferWhenSnapshotExceedsInitialCapacity(t *testing.T) {
	entries := make([]kernel.DumpedRoute, 0, 10)
	for i := 0; i < 10; i++ {
		entries = append(entries, routeEntry(t, "10.0."+string(rune('0'+i))+".0", 24, 1, 5))
	}
	dumper := &fakeDumper{routes: entries}
	routes := demo.NewRouteTable()
	tbl := New(dumper, routes, passthroughFilters{redistributeMetric: 5}, &recordingTransport{}, nil)
	require.Equal(t, defaultStartBuf, tbl.maxBuf)

	changed, err := tbl.CheckXroutes(false)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, 10, tbl.Len())
	require.Greater(t, tbl.maxBuf, defaultStartBuf)
}

func TestCheckXroutesReturnsErrSnapshotTooLargeWhenCeilingHit(t *testing.T) {
	entries := make([]kernel.DumpedRoute, 0, 100)
	for i := 0; i < 100; i++ {
		entries = append(entries, routeEntry(t, "10.0.0.0", 24, i, 5))
	}
	dumper := &fakeDumper{routes: entries}
	tbl := New(dumper, demo.NewRouteTable(), passthroughFilters{redistributeMetric: 5}, &recordingTransport{}, nil)
	tbl.maxMaxBuf = 16

	_, err := tbl.CheckXroutes(false)
	require.ErrorIs(t, err, ErrSnapshotTooLarge)
}
