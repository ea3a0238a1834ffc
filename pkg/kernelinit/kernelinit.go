// Package kernelinit selects the pkg/kernel backend named by
// config.Config.Kernel, isolating the cmd layer from the netlinkfib
// backend's Linux build tag.
package kernelinit

import (
	"fmt"

	"github.com/ssbabel/ssbabeld/pkg/collab"
	"github.com/ssbabel/ssbabeld/pkg/config"
	"github.com/ssbabel/ssbabeld/pkg/kernel"
	"github.com/ssbabel/ssbabeld/pkg/kernel/memfib"
)

// Backend bundles the four kernel-facing interfaces a Daemon needs.
type Backend struct {
	FIB    kernel.FIB
	Dumper kernel.Dumper
	Tables kernel.TableFinder
	Prober kernel.DisambiguateProber
}

// New builds the Backend named by cfg.Kernel. BackendMemory is always
// available; BackendNetlink is only available on linux (see
// kernelinit_linux.go / kernelinit_other.go).
func New(cfg *config.Config, addrs collab.AddrSource) (Backend, error) {
	switch cfg.Kernel {
	case config.BackendMemory:
		fib := memfib.New(addrs)
		return Backend{FIB: fib, Dumper: fib, Tables: fib, Prober: fib}, nil
	case config.BackendNetlink:
		return newNetlink()
	default:
		return Backend{}, fmt.Errorf("kernelinit: unknown backend %q", cfg.Kernel)
	}
}
