package coord

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// waitGranted and expectSignal report with Errorf so they are safe to
// call from helper goroutines.
func waitGranted(t *testing.T, l *Lease) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	if err := l.Wait(ctx); err != nil {
		t.Errorf("lease %s not granted: %v", l.Label(), err)
	}
}

func expectSignal(t *testing.T, l *Lease) {
	t.Helper()
	select {
	case <-l.Pending():
	case <-time.After(2 * time.Second):
		t.Errorf("lease %s was not signalled", l.Label())
	}
}

// events records an ordered trace across goroutines.
type events struct {
	mu   sync.Mutex
	list []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	e.list = append(e.list, s)
	e.mu.Unlock()
}

func (e *events) get() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.list...)
}

func TestEnqueue_ImmediateGrant(t *testing.T) {
	c := New(nil)
	l := c.Enqueue("first")
	if !l.Granted() {
		t.Fatal("lease on a free lock should be granted immediately")
	}
	if c.Owner() != "first" {
		t.Errorf("Owner() = %q, want first", c.Owner())
	}
	l.Release()
	if c.Owner() != "" {
		t.Errorf("Owner() = %q after release, want empty", c.Owner())
	}
}

func TestRelease_PassesToQueueInOrder(t *testing.T) {
	c := New(nil)
	a := c.Enqueue("a")
	b := c.Enqueue("b")
	d := c.Enqueue("d")

	if b.Granted() || d.Granted() {
		t.Fatal("queued leases granted while a holds the lock")
	}
	expectSignal(t, a)
	if c.Queued() != 2 {
		t.Errorf("Queued() = %d, want 2", c.Queued())
	}

	a.Release()
	waitGranted(t, b)
	if d.Granted() {
		t.Error("d granted before b released")
	}
	b.Release()
	waitGranted(t, d)
	d.Release()

	if c.Owner() != "" || c.Queued() != 0 {
		t.Errorf("lock not free: owner=%q queued=%d", c.Owner(), c.Queued())
	}
}

func TestYield_NestedRunsToCompletionFirst(t *testing.T) {
	c := New(nil)
	trace := &events{}

	outer := c.Enqueue("outer")
	trace.add("outer start")

	inner := c.Enqueue("inner")
	expectSignal(t, outer)

	innerDone := make(chan struct{})
	go func() {
		defer close(innerDone)
		waitGranted(t, inner)
		trace.add("inner run")
		if c.Owner() != "inner" {
			t.Errorf("Owner() = %q during inner, want inner", c.Owner())
		}
		inner.Release()
	}()

	if !outer.Yield() {
		t.Fatal("Yield returned false with a waiter queued")
	}
	trace.add("outer resumed")
	<-innerDone

	if c.Owner() != "outer" {
		t.Errorf("Owner() = %q after yield, want outer", c.Owner())
	}
	outer.Release()

	want := []string{"outer start", "inner run", "outer resumed"}
	got := trace.get()
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("trace = %v, want %v", got, want)
		}
	}
}

func TestYield_DoublyNested(t *testing.T) {
	c := New(nil)
	a := c.Enqueue("a")
	b := c.Enqueue("b")
	expectSignal(t, a)

	bDone := make(chan struct{})
	go func() {
		defer close(bDone)
		waitGranted(t, b)

		d := c.Enqueue("d")
		expectSignal(t, b)

		dDone := make(chan struct{})
		go func() {
			defer close(dDone)
			waitGranted(t, d)
			if c.Owner() != "d" {
				t.Errorf("Owner() = %q, want d", c.Owner())
			}
			d.Release()
		}()

		if !b.Yield() {
			t.Error("b.Yield returned false")
		}
		<-dDone
		if c.Owner() != "b" {
			t.Errorf("Owner() = %q after d, want b", c.Owner())
		}
		b.Release()
	}()

	if !a.Yield() {
		t.Fatal("a.Yield returned false")
	}
	<-bDone
	if c.Owner() != "a" {
		t.Errorf("Owner() = %q, want a", c.Owner())
	}
	a.Release()
}

func TestYield_MultipleWaitersResignal(t *testing.T) {
	c := New(nil)
	a := c.Enqueue("a")
	b := c.Enqueue("b")
	d := c.Enqueue("d")
	expectSignal(t, a)

	for _, l := range []*Lease{b, d} {
		go func() {
			waitGranted(t, l)
			l.Release()
		}()
	}

	if !a.Yield() {
		t.Fatal("first Yield returned false")
	}
	// d is still queued, so a is signalled again.
	expectSignal(t, a)
	if !a.Yield() {
		t.Fatal("second Yield returned false")
	}
	if c.Queued() != 0 {
		t.Errorf("Queued() = %d, want 0", c.Queued())
	}
	a.Release()
}

func TestYield_NoWaiter(t *testing.T) {
	c := New(nil)
	a := c.Enqueue("a")
	if a.Yield() {
		t.Error("Yield returned true with no waiter")
	}
	a.Release()

	var nilLease *Lease
	if nilLease.Yield() {
		t.Error("nil Yield returned true")
	}
	if nilLease.Pending() != nil {
		t.Error("nil lease Pending should be a nil channel")
	}
	nilLease.Release()
}

func TestWait_CancelWithdraws(t *testing.T) {
	c := New(nil)
	a := c.Enqueue("a")
	b := c.Enqueue("b")

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := b.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait = %v, want context.Canceled", err)
	}
	if c.Queued() != 0 {
		t.Errorf("Queued() = %d after withdrawal, want 0", c.Queued())
	}

	a.Release()
	if c.Owner() != "" {
		t.Errorf("Owner() = %q, want empty", c.Owner())
	}
}

func TestAcquire(t *testing.T) {
	c := New(nil)
	l, err := c.Acquire(t.Context(), "x")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	l.Release()
	l.Release() // idempotent
	select {
	case <-l.Released():
	default:
		t.Error("Released channel not closed")
	}
}

func TestMutualExclusion(t *testing.T) {
	c := New(nil)
	var active, maxActive int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := c.Acquire(t.Context(), "w")
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			defer l.Release()

			mu.Lock()
			active++
			maxActive = max(maxActive, active)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxActive)
	}
}
