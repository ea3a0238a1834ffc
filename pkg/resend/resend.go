// Package resend implements the bounded, exponentially-backed-off
// retransmission engine (C5): two kind-keyed tables of pending request
// and update retransmissions, with filter-aware suppression, replay
// satisfaction, and expiry.
package resend

import (
	"log/slog"
	"time"

	"github.com/ssbabel/ssbabeld/pkg/babel"
	"github.com/ssbabel/ssbabeld/pkg/collab"
	"github.com/ssbabel/ssbabeld/pkg/route"
)

// Kind distinguishes the two resend tables.
type Kind int

const (
	Request Kind = iota
	Update
)

func (k Kind) String() string {
	if k == Request {
		return "request"
	}
	return "update"
}

// key is the resend table's identity: (kind, Datum).
type key struct {
	kind  Kind
	datum route.Datum
}

// Entry is one pending retransmission.
type Entry struct {
	Kind      Kind
	Datum     route.Datum
	Seqno     uint16
	RouterID  [8]byte
	IfIndex   int // 0 means "any interface"
	FirstSent time.Time
	Delay     uint16 // milliseconds; 0 means "not scheduled"
	Retries   uint8
}

// seqnoCompare implements the Babel circular sequence-number order:
// positive when a is strictly more recent than b, negative when b is,
// zero when equal.
func seqnoCompare(a, b uint16) int {
	if a == b {
		return 0
	}
	d := a - b
	if d < 0x8000 {
		return 1
	}
	return -1
}

// Engine owns the two resend tables and their cached next-fire
// deadlines.
type Engine struct {
	ResendMax      uint8
	RequestTimeout time.Duration

	tables   [2]map[key]*Entry
	nextFire [2]time.Time

	Filters   collab.Filters
	Transport collab.Transport
	Log       *slog.Logger
}

// New builds an Engine with the given filters/transport collaborators.
// log may be nil.
func New(filters collab.Filters, transport collab.Transport, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		ResendMax:      babel.DefaultResendMax,
		RequestTimeout: babel.DefaultRequestTimeout,
		tables:         [2]map[key]*Entry{make(map[key]*Entry), make(map[key]*Entry)},
		Filters:        filters,
		Transport:      transport,
		Log:            log,
	}
}

func (e *Engine) table(k Kind) map[key]*Entry { return e.tables[k] }

func (e *Engine) expired(ent *Entry, now time.Time) bool {
	if ent.Kind == Request {
		return now.Sub(ent.FirstSent) >= e.RequestTimeout
	}
	return ent.Retries == 0
}

// Record realises record_resend: suppressed entirely if the relevant
// filter already drops the Datum (metric >= INFINITY); otherwise
// merges into or creates the (kind, Datum) entry.
func (e *Engine) Record(kind Kind, d route.Datum, seqno uint16, id [8]byte, ifindex int, delayMs uint16, now time.Time) bool {
	var metric uint16
	if kind == Request {
		metric = e.Filters.InputFilter(d)
	} else {
		metric = e.Filters.OutputFilter(d)
	}
	if metric >= babel.Infinity {
		return false
	}
	if delayMs > babel.MaxDelay {
		delayMs = babel.MaxDelay
	}

	k := key{kind: kind, datum: d}
	ent, ok := e.table(kind)[k]
	if ok {
		if ent.Delay != 0 && delayMs != 0 {
			if delayMs < ent.Delay {
				ent.Delay = delayMs
			}
		} else if delayMs != 0 {
			ent.Delay = delayMs
		}
		ent.FirstSent = now
		ent.Retries = e.ResendMax
		if ent.RouterID == id && seqnoCompare(ent.Seqno, seqno) > 0 {
			// The entry already carries strictly newer information;
			// leave id/seqno/interface untouched.
			e.bumpNextFire(kind, ent)
			return true
		}
		ent.RouterID = id
		ent.Seqno = seqno
		if ent.IfIndex != ifindex {
			ent.IfIndex = 0
		}
	} else {
		ent = &Entry{
			Kind:      kind,
			Datum:     d,
			Seqno:     seqno,
			RouterID:  id,
			IfIndex:   ifindex,
			FirstSent: now,
			Delay:     delayMs,
			Retries:   e.ResendMax,
		}
		e.table(kind)[k] = ent
	}
	e.bumpNextFire(kind, ent)
	return true
}

func (e *Engine) bumpNextFire(kind Kind, ent *Entry) {
	if ent.Delay == 0 {
		return
	}
	deadline := ent.FirstSent.Add(time.Duration(ent.Delay) * time.Millisecond)
	if e.nextFire[kind].IsZero() || deadline.Before(e.nextFire[kind]) {
		e.nextFire[kind] = deadline
	}
}

// FindRequest returns the pending REQUEST entry for d, if any.
func (e *Engine) FindRequest(d route.Datum) *Entry {
	return e.table(Request)[key{kind: Request, datum: d}]
}

// UnsatisfiedRequest reports whether a pending, non-expired request
// for d exists that the arriving (id, seqno) does not already satisfy.
func (e *Engine) UnsatisfiedRequest(d route.Datum, seqno uint16, id [8]byte, now time.Time) bool {
	req := e.FindRequest(d)
	if req == nil || e.expired(req, now) {
		return false
	}
	if req.RouterID == id && seqnoCompare(req.Seqno, seqno) > 0 {
		return true
	}
	return false
}

// RequestRedundant reports whether forwarding a request for d on
// ifindex would duplicate a request already outstanding.
func (e *Engine) RequestRedundant(d route.Datum, ifindex int, seqno uint16, id [8]byte, helloInterval time.Duration, now time.Time) bool {
	req := e.FindRequest(d)
	if req == nil || e.expired(req, now) {
		return false
	}
	if req.RouterID == id && seqnoCompare(req.Seqno, seqno) > 0 {
		return false
	}
	if req.IfIndex != 0 && ifindex != 0 && req.IfIndex != ifindex {
		return false
	}
	if req.Retries > 0 {
		return true
	}
	min := helloInterval
	if min <= 0 || min > time.Second {
		min = time.Second
	}
	return now.Sub(req.FirstSent) < min
}

// SatisfyRequest reports whether an arriving (id, seqno) on ifindex
// satisfies the pending request for d; if so, the entry is marked
// expired in place (rather than deleted) so a live iteration over the
// table is not invalidated, and the kind's next-fire deadline is
// recomputed.
func (e *Engine) SatisfyRequest(d route.Datum, seqno uint16, id [8]byte, ifindex int) bool {
	req := e.FindRequest(d)
	if req == nil {
		return false
	}
	if ifindex != 0 && req.IfIndex != 0 && req.IfIndex != ifindex {
		return false
	}
	if req.RouterID != id || seqnoCompare(req.Seqno, seqno) <= 0 {
		req.Retries = 0
		req.FirstSent = time.Time{}
		e.RecomputeNextFire(Request)
		return true
	}
	return false
}

// RecomputeNextFire recomputes the kind's cached next-fire deadline as
// the minimum of time+delay over remaining live, scheduled entries.
func (e *Engine) RecomputeNextFire(kind Kind) {
	var next time.Time
	for _, ent := range e.table(kind) {
		if ent.Delay == 0 || ent.Retries == 0 {
			continue
		}
		deadline := ent.FirstSent.Add(time.Duration(ent.Delay) * time.Millisecond)
		if next.IsZero() || deadline.Before(next) {
			next = deadline
		}
	}
	e.nextFire[kind] = next
}

// NextFire returns the kind's cached next-fire deadline, or the zero
// time if nothing is scheduled.
func (e *Engine) NextFire(kind Kind) time.Time { return e.nextFire[kind] }

// Len returns the number of entries currently tracked for kind.
func (e *Engine) Len(kind Kind) int { return len(e.table(kind)) }

// Entries returns a snapshot of every entry tracked for kind, for
// metrics and introspection; callers must not mutate the returned
// entries.
func (e *Engine) Entries(kind Kind) []Entry {
	table := e.table(kind)
	out := make([]Entry, 0, len(table))
	for _, ent := range table {
		out = append(out, *ent)
	}
	return out
}

// DoResend fires every due, non-expired entry of kind, doubling its
// delay (capped at 0xFFFF) and decrementing its retry budget, removes
// any entry that has since become expired, and recomputes the kind's
// next-fire deadline.
func (e *Engine) DoResend(kind Kind, now time.Time) {
	for k, ent := range e.table(kind) {
		if !e.expired(ent, now) && ent.Delay > 0 && ent.Retries > 0 {
			deadline := ent.FirstSent.Add(time.Duration(ent.Delay) * time.Millisecond)
			if !now.Before(deadline) {
				switch kind {
				case Request:
					e.Transport.SendMulticastMultihopRequest(ent.IfIndex, ent.Datum, ent.Seqno, ent.RouterID, 127)
				case Update:
					e.Transport.SendUpdate(ent.IfIndex, true, ent.Datum)
				}
				if ent.Delay > babel.MaxDelay/2 {
					ent.Delay = babel.MaxDelay
				} else {
					ent.Delay *= 2
				}
				ent.Retries--
			}
		}
		if e.expired(ent, now) {
			delete(e.table(kind), k)
		}
	}
	e.RecomputeNextFire(kind)
}

// ExpireResend sweeps both kinds, removing every expired entry and
// recomputing each kind's next-fire deadline if anything was removed.
func (e *Engine) ExpireResend(now time.Time) {
	for _, kind := range []Kind{Request, Update} {
		removed := false
		for k, ent := range e.table(kind) {
			if e.expired(ent, now) {
				delete(e.table(kind), k)
				removed = true
			}
		}
		if removed {
			e.RecomputeNextFire(kind)
		}
	}
}
