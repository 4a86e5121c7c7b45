// Package memtracker implements spec.md Component G: a process-global
// admission controller for large byte-buffer allocations. It is one of the
// two legitimate process-wide singletons per spec.md §9 (the other being
// the catalog tree snapshot) — callers are expected to construct exactly
// one Tracker at engine start and share it, rather than reaching for an
// ambient instance from within a component.
//
// The FIFO waiter queue is hand-rolled on top of a plain mutex and
// container/list because golang.org/x/sync/semaphore.Weighted alone can't
// express the "grant somewhere in [min,max], not exactly N" negotiation
// spec.md §4.G calls for; the ceiling bookkeeping itself reuses the same
// acquire/release shape the teacher's pkg/clients/circuit_breaker.go uses
// for its own mutex-guarded state machine.
package memtracker

import (
	"container/list"
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/nexus-main/nexus-sub002/internal/nexuserrors"
	"github.com/nexus-main/nexus-sub002/pkg/logging"
)

// Grant is a scoped reservation against the tracker's byte ceiling. The
// reservation is released exactly once, whether by an explicit Release
// call or — callers are expected to defer it — never implicitly.
type Grant struct {
	tracker *Tracker
	id      string
	actual  int64
	once    sync.Once
}

// Actual returns the number of bytes this grant reserved, somewhere in the
// requested [min,max] range.
func (g *Grant) Actual() int64 { return g.actual }

// ID is a unique token for this grant, useful for log correlation.
func (g *Grant) ID() string { return g.id }

// Release returns the grant's bytes to the tracker, waking any waiter that
// can now be satisfied. Safe to call more than once; only the first call
// has effect.
func (g *Grant) Release() {
	g.once.Do(func() {
		g.tracker.release(g.actual)
	})
}

// waiter is one blocked RegisterAllocation call sitting in FIFO order.
type waiter struct {
	min, max int64
	granted  chan int64
}

// Tracker is spec.md §4.G's memory tracker.
type Tracker struct {
	mu      sync.Mutex
	ceiling int64
	inUse   int64
	waiters *list.List
	logger  logging.Logger
}

// New constructs a Tracker with the given byte ceiling — spec.md §6's
// total_buffer_memory_consumption configuration option.
func New(ceilingBytes int64, logger logging.Logger) *Tracker {
	return &Tracker{
		ceiling: ceilingBytes,
		waiters: list.New(),
		logger:  logger,
	}
}

// Ceiling returns the configured total-memory ceiling, in bytes.
func (t *Tracker) Ceiling() int64 { return t.ceiling }

// InUse returns the bytes currently granted and not yet released.
func (t *Tracker) InUse() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inUse
}

// Waiting returns the number of callers currently blocked in
// RegisterAllocation, for health/metrics reporting.
func (t *Tracker) Waiting() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.waiters.Len()
}

// RegisterAllocation blocks until the tracker can grant some
// actual ∈ [min,max] respecting the ceiling, honoring FIFO order among
// concurrent waiters, or until ctx is cancelled — spec.md §4.G/§5: this is
// the only blocking operation in the core apart from I/O.
func (t *Tracker) RegisterAllocation(ctx context.Context, min, max int64) (*Grant, error) {
	if min <= 0 || max < min {
		return nil, nexuserrors.New(nexuserrors.Validation, "memtracker: invalid [min,max] request")
	}
	if min > t.ceiling {
		return nil, nexuserrors.New(nexuserrors.ResourceExhaustion, "memtracker: minimum request exceeds configured ceiling")
	}

	t.mu.Lock()
	if t.waiters.Len() == 0 {
		if actual, ok := t.tryGrantLocked(min, max); ok {
			t.mu.Unlock()
			return t.newGrant(actual), nil
		}
	}

	w := &waiter{min: min, max: max, granted: make(chan int64, 1)}
	elem := t.waiters.PushBack(w)
	t.mu.Unlock()

	select {
	case actual := <-w.granted:
		return t.newGrant(actual), nil
	case <-ctx.Done():
		t.mu.Lock()
		select {
		case actual := <-w.granted:
			// Granted in the race between ctx firing and the scheduler
			// waking this waiter; honor it rather than dropping bytes on
			// the floor with no Grant to release them.
			t.mu.Unlock()
			return t.newGrant(actual), nil
		default:
			t.waiters.Remove(elem)
			t.mu.Unlock()
			if ctx.Err() == context.DeadlineExceeded {
				return nil, nexuserrors.Wrap(nexuserrors.ResourceExhaustion, "memtracker: no grant before the deadline", ctx.Err())
			}
			return nil, nexuserrors.Wrap(nexuserrors.Cancelled, "memtracker: cancelled while waiting for a grant", ctx.Err())
		}
	}
}

func (t *Tracker) newGrant(actual int64) *Grant {
	return &Grant{tracker: t, id: uuid.NewString(), actual: actual}
}

// tryGrantLocked attempts to satisfy one request against the current
// available headroom, preferring max but never exceeding it or the
// ceiling. Caller must hold t.mu.
func (t *Tracker) tryGrantLocked(min, max int64) (int64, bool) {
	available := t.ceiling - t.inUse
	if available < min {
		return 0, false
	}
	actual := max
	if actual > available {
		actual = available
	}
	t.inUse += actual
	return actual, true
}

// release returns actual bytes to the ceiling and wakes as many
// front-of-queue waiters as now fit, in FIFO order — a waiter that cannot
// yet be satisfied blocks every waiter behind it, matching spec.md §4.G's
// "bounded waiting" rather than letting later, smaller requests jump the
// queue.
func (t *Tracker) release(actual int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inUse -= actual
	for front := t.waiters.Front(); front != nil; {
		w := front.Value.(*waiter)
		granted, ok := t.tryGrantLocked(w.min, w.max)
		if !ok {
			break
		}
		next := front.Next()
		t.waiters.Remove(front)
		w.granted <- granted
		front = next
	}
}
