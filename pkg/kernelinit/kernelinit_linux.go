//go:build linux

package kernelinit

import "github.com/ssbabel/ssbabeld/pkg/kernel/netlinkfib"

func newNetlink() (Backend, error) {
	fib := netlinkfib.New()
	return Backend{FIB: fib, Dumper: fib, Tables: fib, Prober: fib}, nil
}
