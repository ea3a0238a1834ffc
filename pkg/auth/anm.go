package auth

import (
	"net/netip"
	"sync"
)

// ANM is the per-(neighbour, interface) authentication state: the
// last accepted (timestamp, packet-counter) pair.
type ANM struct {
	Neighbour netip.Addr
	Iface     string
	LastTS    uint32
	LastPC    uint16
}

type anmKey struct {
	neighbour netip.Addr
	iface     string
}

// ANMTable owns the replay-protection state for every neighbour seen
// on every interface. It is only ever mutated from the event-loop
// goroutine, but tests may exercise it concurrently, so a mutex
// guards it rather than leaving it implicitly single-threaded like the
// rest of the core.
type ANMTable struct {
	mu      sync.Mutex
	entries map[anmKey]*ANM
}

// NewANMTable returns an empty table.
func NewANMTable() *ANMTable {
	return &ANMTable{entries: make(map[anmKey]*ANM)}
}

func (t *ANMTable) findOrCreate(neighbour netip.Addr, iface string) *ANM {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := anmKey{neighbour: neighbour, iface: iface}
	if a, ok := t.entries[k]; ok {
		return a
	}
	a := &ANM{Neighbour: neighbour, Iface: iface}
	t.entries[k] = a
	return a
}

// Find returns the ANM for (neighbour, iface), if it exists.
func (t *ANMTable) Find(neighbour netip.Addr, iface string) (ANM, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.entries[anmKey{neighbour: neighbour, iface: iface}]
	if !ok {
		return ANM{}, false
	}
	return *a, true
}

// All returns every known ANM entry, for introspection.
func (t *ANMTable) All() []ANM {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ANM, 0, len(t.entries))
	for _, a := range t.entries {
		out = append(out, *a)
	}
	return out
}
