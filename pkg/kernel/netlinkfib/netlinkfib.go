//go:build linux

// Package netlinkfib implements pkg/kernel's FIB/Dumper/TableFinder
// interfaces against the real Linux kernel forwarding table using
// github.com/vishvananda/netlink.
package netlinkfib

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/ssbabel/ssbabeld/pkg/babel"
	"github.com/ssbabel/ssbabeld/pkg/kernel"
	"github.com/ssbabel/ssbabeld/pkg/route"
)

// FIB programs the kernel IPv6/IPv4 routing table via netlink.
type FIB struct {
	// Table is the kernel table id new entries are programmed into
	// when TableFinder returns 0 ("unspecified").
	Table int
}

// New returns a FIB targeting the main routing table.
func New() *FIB {
	return &FIB{Table: unix.RT_TABLE_MAIN}
}

func (f *FIB) netlinkRoute(e kernel.Entry) *netlink.Route {
	ip := net.IP(e.Zone.Dst.AsSlice())
	mask := net.CIDRMask(int(e.Zone.DstLen), 128)
	table := e.Table
	if table == 0 {
		table = f.Table
	}
	r := &netlink.Route{
		Dst:       &net.IPNet{IP: ip, Mask: mask},
		LinkIndex: e.IfIndex,
		Priority:  int(e.Metric),
		Table:     table,
	}
	if e.NextHop.IsValid() {
		r.Gw = net.IP(e.NextHop.AsSlice())
	}
	return r
}

// Add implements kernel.FIB.
func (f *FIB) Add(e kernel.Entry) error {
	err := netlink.RouteAdd(f.netlinkRoute(e))
	if err != nil && errors.Is(err, unix.EEXIST) {
		return kernel.ErrExists
	}
	if err != nil {
		return fmt.Errorf("netlinkfib: add %s: %w", e.Zone, err)
	}
	return nil
}

// Flush implements kernel.FIB.
func (f *FIB) Flush(e kernel.Entry) error {
	if err := netlink.RouteDel(f.netlinkRoute(e)); err != nil {
		return fmt.Errorf("netlinkfib: flush %s: %w", e.Zone, err)
	}
	return nil
}

// Modify implements kernel.FIB.
func (f *FIB) Modify(old, new kernel.Entry) error {
	if err := netlink.RouteReplace(f.netlinkRoute(new)); err != nil {
		return fmt.Errorf("netlinkfib: modify %s: %w", new.Zone, err)
	}
	return nil
}

// ModifyMetric implements kernel.FIB.
func (f *FIB) ModifyMetric(e kernel.Entry, newMetric uint16) error {
	e.Metric = newMetric
	if err := netlink.RouteReplace(f.netlinkRoute(e)); err != nil {
		return fmt.Errorf("netlinkfib: modify metric %s: %w", e.Zone, err)
	}
	return nil
}

// Dump implements kernel.Dumper against the live kernel table and
// interface address list.
func (f *FIB) Dump(kind kernel.Kind, ifindex int, linkLocal bool, buf []kernel.DumpedRoute) (int, error) {
	switch kind {
	case kernel.ChangeRoute:
		return f.dumpRoutes(buf)
	case kernel.ChangeAddr:
		return f.dumpAddrs(ifindex, linkLocal, buf)
	default:
		return 0, nil
	}
}

func (f *FIB) dumpRoutes(buf []kernel.DumpedRoute) (int, error) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_ALL)
	if err != nil {
		return 0, fmt.Errorf("netlinkfib: route list: %w", err)
	}
	n := 0
	for _, r := range routes {
		if r.Dst == nil {
			continue
		}
		if n >= len(buf) {
			return n, kernel.ErrBufferTooSmall
		}
		ones, _ := r.Dst.Mask.Size()
		dst, ok := addrFromIP(r.Dst.IP)
		if !ok {
			continue
		}
		buf[n] = kernel.DumpedRoute{
			Datum:   route.Datum{Dst: dst, DstLen: uint8(ones)}.Canonical(),
			Metric:  uint16(r.Priority),
			IfIndex: r.LinkIndex,
			Proto:   int(r.Protocol),
		}
		if r.Gw != nil {
			if gw, ok := addrFromIP(r.Gw); ok {
				buf[n].NextHop = gw
			}
		}
		n++
	}
	return n, nil
}

func (f *FIB) dumpAddrs(ifindex int, linkLocal bool, buf []kernel.DumpedRoute) (int, error) {
	var link netlink.Link
	if ifindex != 0 {
		l, err := netlink.LinkByIndex(ifindex)
		if err != nil {
			return 0, fmt.Errorf("netlinkfib: link by index: %w", err)
		}
		link = l
	}
	addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
	if err != nil {
		return 0, fmt.Errorf("netlinkfib: addr list: %w", err)
	}
	n := 0
	for _, a := range addrs {
		addr, ok := addrFromIP(a.IP)
		if !ok {
			continue
		}
		if addr.IsLinkLocalUnicast() != linkLocal {
			continue
		}
		if n >= len(buf) {
			return n, kernel.ErrBufferTooSmall
		}
		buf[n] = kernel.DumpedRoute{
			Datum:   route.Datum{Dst: addr, DstLen: 128}.Canonical(),
			Metric:  0,
			IfIndex: a.LinkIndex,
			Proto:   babel.RTProtoBabelLocal,
		}
		n++
	}
	return n, nil
}

func addrFromIP(ip net.IP) (netip.Addr, bool) {
	if ip == nil {
		return netip.Addr{}, false
	}
	if v4 := ip.To4(); v4 != nil {
		a, ok := netip.AddrFromSlice(v4)
		if !ok {
			return netip.Addr{}, false
		}
		return netip.AddrFrom16(a.As16()), true
	}
	a, ok := netip.AddrFromSlice(ip.To16())
	return a, ok
}

// FindTable returns the configured default table: real source-table
// multiplexing is kernel/distro specific and left opaque.
func (f *FIB) FindTable(z route.Zone) int { return f.Table }

// KernelDisambiguate reports false: no common Linux kernel natively
// understands source-specific FIB lookups without RPDB-based
// emulation, which this backend does not implement.
func (f *FIB) KernelDisambiguate(v4 bool) bool { return false }
