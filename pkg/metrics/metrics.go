// Package metrics registers the Prometheus collectors that expose the
// daemon's internal queues and rejection counters, following the
// prometheus/client_golang usage the teacher wires into its own
// telemetry middleware.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ssbabel/ssbabeld/pkg/auth"
	"github.com/ssbabel/ssbabeld/pkg/resend"
	"github.com/ssbabel/ssbabeld/pkg/xroute"
)

const namespace = "ssbabeld"

// Collectors bundles every Prometheus collector the daemon exposes.
type Collectors struct {
	ResendEntries *prometheus.GaugeVec
	XrouteCount   prometheus.Gauge
	AuthRejects   *prometheus.CounterVec
	KernelErrors  *prometheus.CounterVec
}

// New constructs the collectors and registers them against reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		ResendEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resend",
			Name:      "entries",
			Help:      "Number of pending resend entries, by kind.",
		}, []string{"kind"}),
		XrouteCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "xroute",
			Name:      "count",
			Help:      "Number of externally-redistributed routes currently tracked.",
		}),
		AuthRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "rejects_total",
			Help:      "Number of inbound packets rejected by the authentication trailer, by reason.",
		}, []string{"reason"}),
		KernelErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kernel",
			Name:      "op_errors_total",
			Help:      "Number of kernel FIB operation errors, by op.",
		}, []string{"op"}),
	}
	reg.MustRegister(c.ResendEntries, c.XrouteCount, c.AuthRejects, c.KernelErrors)
	return c
}

// ObserveResend refreshes the per-kind resend gauges from a live
// engine snapshot.
func (c *Collectors) ObserveResend(requestCount, updateCount int) {
	c.ResendEntries.WithLabelValues(resend.Request.String()).Set(float64(requestCount))
	c.ResendEntries.WithLabelValues(resend.Update.String()).Set(float64(updateCount))
}

// ObserveXroute refreshes the xroute count gauge from a live table.
func (c *Collectors) ObserveXroute(t *xroute.Table) {
	c.XrouteCount.Set(float64(t.Len()))
}

// RecordAuthReject increments the reject counter for "malformed" or
// "replay", matching auth.ErrMalformed/auth.ErrReplay, and for "other"
// on any other error.
func (c *Collectors) RecordAuthReject(err error) {
	switch {
	case errors.Is(err, auth.ErrMalformed):
		c.AuthRejects.WithLabelValues("malformed").Inc()
	case errors.Is(err, auth.ErrReplay):
		c.AuthRejects.WithLabelValues("replay").Inc()
	default:
		c.AuthRejects.WithLabelValues("other").Inc()
	}
}

// RecordKernelError increments the kernel error counter for op.
func (c *Collectors) RecordKernelError(op string) {
	c.KernelErrors.WithLabelValues(op).Inc()
}
