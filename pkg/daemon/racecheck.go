//go:build !ssbabeld_racecheck

package daemon

// checkSingleThreaded is a no-op in normal builds; see racecheck_debug.go
// for the -tags ssbabeld_racecheck variant that asserts the
// single-goroutine contract.
func (d *Daemon) checkSingleThreaded() func() { return func() {} }
