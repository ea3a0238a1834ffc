// Package daemon bundles C1-C7 and their collaborators into a single
// explicit state value, in place of the original's process-wide
// singletons, and drives the cooperative single-threaded event loop
// that ties the resend engine's backoff timers to the periodic xroute
// reconciliation tick.
package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ssbabel/ssbabeld/pkg/auth"
	"github.com/ssbabel/ssbabeld/pkg/collab"
	"github.com/ssbabel/ssbabeld/pkg/config"
	"github.com/ssbabel/ssbabeld/pkg/demo"
	"github.com/ssbabel/ssbabeld/pkg/disambiguate"
	"github.com/ssbabel/ssbabeld/pkg/kernel"
	"github.com/ssbabel/ssbabeld/pkg/metrics"
	"github.com/ssbabel/ssbabeld/pkg/resend"
	"github.com/ssbabel/ssbabeld/pkg/xroute"
)

// XrouteTick is how often CheckXroutes runs, independent of any
// resend deadline.
const XrouteTick = 5 * time.Second

// Daemon is the explicit, single-goroutine state bundle every core
// operation acts on. It is not safe for concurrent use by design: the
// whole point of the single-threaded event loop is that no operation
// in C1-C7 needs a lock.
type Daemon struct {
	Config *config.Config
	Log    *slog.Logger

	FIB    kernel.FIB
	Dumper kernel.Dumper
	Tables kernel.TableFinder
	Prober kernel.DisambiguateProber

	Routes  *demo.RouteTable
	Filters collab.Filters

	Disambiguate *disambiguate.Engine
	Resend       *resend.Engine
	Xroute       *xroute.Table
	ANM          *auth.ANMTable
	Keys         auth.KeySource

	Clock   collab.Clock
	Metrics *metrics.Collectors

	generation int32
}

// New wires together a Daemon from its collaborators. Routes,
// filters, and transport default to pkg/demo's in-memory
// implementations when nil, since the daemon needs something behind
// those interfaces to run standalone even though their policy is out
// of scope.
func New(cfg *config.Config, fib kernel.FIB, dumper kernel.Dumper, tables kernel.TableFinder, prober kernel.DisambiguateProber, routes *demo.RouteTable, filters collab.Filters, transport collab.Transport, log *slog.Logger) *Daemon {
	if log == nil {
		log = slog.Default()
	}
	if routes == nil {
		routes = demo.NewRouteTable()
	}
	if filters == nil {
		filters = demo.Filters{}
	}
	if transport == nil {
		transport = demo.NewTransport(log)
	}

	d := &Daemon{
		Config:  cfg,
		Log:     log,
		FIB:     fib,
		Dumper:  dumper,
		Tables:  tables,
		Prober:  prober,
		Routes:  routes,
		Filters: filters,
		ANM:     auth.NewANMTable(),
		Keys:    auth.MapKeySource(cfg.KeyBytes()),
		Clock:   time.Now,
	}
	d.Disambiguate = disambiguate.New(routes, fib, tables, prober, log)
	d.Resend = resend.New(filters, transport, log)
	d.Resend.ResendMax = cfg.Resend.Max
	d.Resend.RequestTimeout = cfg.Resend.RequestTimeout
	d.Xroute = xroute.New(dumper, routes, filters, transport, log)
	if cfg.AllowDuplicates >= 0 {
		limit := uint16(cfg.AllowDuplicates)
		d.Xroute.AllowDups = func(kernelMetric uint16) bool { return kernelMetric < limit }
	}
	return d
}

// UseMetrics registers the daemon's Prometheus collectors against reg
// and wires them into the event loop so they're refreshed on every
// tick.
func (d *Daemon) UseMetrics(reg prometheus.Registerer) {
	d.Metrics = metrics.New(reg)
}

// nextDeadline returns the earliest of the resend engine's per-kind
// next-fire deadlines and the next xroute tick, matching spec.md's
// "event loop computes its next poll timeout as the minimum across
// all per-kind resend deadlines", extended with the xroute tick this
// repository must drive itself since the main loop is out of scope as
// a component but still has to exist as code.
func (d *Daemon) nextDeadline(now, nextXroute time.Time) time.Time {
	next := nextXroute
	for _, k := range []resend.Kind{resend.Request, resend.Update} {
		if nf := d.Resend.NextFire(k); !nf.IsZero() && nf.Before(next) {
			next = nf
		}
	}
	if next.Before(now) {
		return now
	}
	return next
}

// Run is the cooperative event loop: it resets its timer to the
// minimum of the resend engine's next-fire deadlines and the fixed
// xroute tick, and runs until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	now := d.Clock()
	nextXroute := now.Add(XrouteTick)

	timer := time.NewTimer(time.Until(d.nextDeadline(now, nextXroute)))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			done := d.checkSingleThreaded()
			now = d.Clock()
			if !now.Before(nextXroute) {
				if _, err := d.Xroute.CheckXroutes(true); err != nil {
					d.Log.Warn("check xroutes failed", "err", err)
				}
				nextXroute = now.Add(XrouteTick)
			}
			d.Resend.DoResend(resend.Request, now)
			d.Resend.DoResend(resend.Update, now)

			if d.Metrics != nil {
				d.Metrics.ObserveResend(d.Resend.Len(resend.Request), d.Resend.Len(resend.Update))
				d.Metrics.ObserveXroute(d.Xroute)
			}

			timer.Reset(time.Until(d.nextDeadline(now, nextXroute)))
			done()
		}
	}
}
