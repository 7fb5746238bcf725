// Package coord implements the state lock and the re-entrancy handoff
// between nested editor requests.
//
// There is one Coordinator per plugin process. Write programs hold a Lease
// for the whole of their execution. When a request arrives while the lock
// is held, its lease queues and the current owner is signalled through
// Pending. The owner, once it is blocked on an outbound editor call, hands
// the lock to the queued lease with Yield and resumes only after that lease
// is released. Nesting is therefore strictly LIFO: the editor answers the
// outer call only after the inner request it issued has been served.
package coord

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pithecene-io/nvplug/log"
)

// Coordinator owns the state lock and the waiters queue.
type Coordinator struct {
	mu     sync.Mutex
	owner  *Lease
	queue  []*Lease
	nextID atomic.Uint64
	logger *log.Logger
}

// New creates a Coordinator with the lock free.
func New(logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Nop()
	}
	return &Coordinator{logger: logger}
}

// Lease is one claim on the state lock.
type Lease struct {
	c     *Coordinator
	id    uint64
	label string

	granted  chan struct{}
	pending  chan struct{}
	released chan struct{}

	// parent is the lease that yielded to this one; guarded by c.mu.
	parent *Lease
	// queued is true while the lease sits in the waiters queue; guarded by c.mu.
	queued bool

	releaseOnce sync.Once
}

// Enqueue claims the lock for label. The lease is granted immediately
// when the lock is free and nobody is queued; otherwise it joins the
// queue and the owner is signalled. Enqueue never blocks, so calling it
// from the transport reader fixes the order in which requests are served.
func (c *Coordinator) Enqueue(label string) *Lease {
	l := &Lease{
		c:        c,
		id:       c.nextID.Add(1),
		label:    label,
		granted:  make(chan struct{}),
		pending:  make(chan struct{}, 1),
		released: make(chan struct{}),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.owner == nil && len(c.queue) == 0 {
		c.owner = l
		close(l.granted)
		return l
	}

	l.queued = true
	c.queue = append(c.queue, l)
	if c.owner != nil {
		c.owner.signal()
	}
	c.logger.Debug("lease queued", map[string]any{
		"lease":  l.label,
		"owner":  c.ownerLabel(),
		"queued": len(c.queue),
	})
	return l
}

// Acquire enqueues and waits for the grant.
func (c *Coordinator) Acquire(ctx context.Context, label string) (*Lease, error) {
	l := c.Enqueue(label)
	if err := l.Wait(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Owner returns the label of the current lock holder, or "".
func (c *Coordinator) Owner() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ownerLabel()
}

// Queued returns the number of waiting leases.
func (c *Coordinator) Queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Coordinator) ownerLabel() string {
	if c.owner == nil {
		return ""
	}
	return c.owner.label
}

// grantNextLocked hands the lock to the head of the queue, or frees it.
func (c *Coordinator) grantNextLocked() {
	if len(c.queue) == 0 {
		c.owner = nil
		return
	}
	next := c.queue[0]
	c.queue = c.queue[1:]
	next.queued = false
	c.owner = next
	close(next.granted)
	if len(c.queue) > 0 {
		next.signal()
	}
}

func (c *Coordinator) removeLocked(l *Lease) {
	for i, q := range c.queue {
		if q == l {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			l.queued = false
			return
		}
	}
}

// Label returns the name the lease was enqueued with.
func (l *Lease) Label() string {
	if l == nil {
		return ""
	}
	return l.label
}

// signal notes that someone is waiting on this lease. Non-blocking.
func (l *Lease) signal() {
	select {
	case l.pending <- struct{}{}:
	default:
	}
}

// Wait blocks until the lease is granted. If ctx ends first the lease is
// withdrawn and ctx's error returned.
func (l *Lease) Wait(ctx context.Context) error {
	select {
	case <-l.granted:
		return nil
	case <-ctx.Done():
		l.Release()
		return ctx.Err()
	}
}

// Granted reports whether the lease has been granted.
func (l *Lease) Granted() bool {
	select {
	case <-l.granted:
		return true
	default:
		return false
	}
}

// Pending fires when another lease is waiting for this one. A nil lease
// returns a nil channel, which never fires.
func (l *Lease) Pending() <-chan struct{} {
	if l == nil {
		return nil
	}
	return l.pending
}

// Yield hands the lock to the next waiting lease and blocks until that
// lease is released, at which point this lease owns the lock again.
// Returns false without blocking when nobody is waiting or this lease
// is not the owner.
func (l *Lease) Yield() bool {
	if l == nil {
		return false
	}
	c := l.c

	c.mu.Lock()
	if c.owner != l || len(c.queue) == 0 {
		c.mu.Unlock()
		return false
	}
	next := c.queue[0]
	c.queue = c.queue[1:]
	next.queued = false
	next.parent = l
	c.owner = next
	close(next.granted)
	if len(c.queue) > 0 {
		next.signal()
	}
	c.mu.Unlock()

	c.logger.Debug("lease yielded", map[string]any{
		"from": l.label,
		"to":   next.label,
	})

	<-next.released

	c.mu.Lock()
	if len(c.queue) > 0 {
		l.signal()
	}
	c.mu.Unlock()
	return true
}

// Release gives up the lease. Ownership returns to the lease that yielded
// to this one, else passes to the next queued lease. A lease that was
// never granted is withdrawn from the queue. Safe to call more than once;
// nil-receiver safe so it can be deferred unconditionally.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.releaseOnce.Do(func() {
		c := l.c
		c.mu.Lock()
		switch {
		case c.owner == l:
			if l.parent != nil {
				c.owner = l.parent
			} else {
				c.grantNextLocked()
			}
		case l.queued:
			c.removeLocked(l)
		}
		c.mu.Unlock()
		close(l.released)
	})
}

// Released is closed once the lease has been released.
func (l *Lease) Released() <-chan struct{} {
	return l.released
}
