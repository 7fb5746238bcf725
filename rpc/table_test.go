package rpc

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/nvplug/metrics"
)

func receive(t *testing.T, p *Pending) Completion {
	t.Helper()
	select {
	case c := <-p.Done():
		return c
	case <-time.After(time.Second):
		t.Fatalf("request %d not completed", p.ID)
		return Completion{}
	}
}

func TestTable_AllocateMonotonic(t *testing.T) {
	table := NewTable(nil, nil)
	for want := uint32(1); want <= 5; want++ {
		if got := table.Allocate(); got != want {
			t.Fatalf("Allocate() = %d, want %d", got, want)
		}
	}
}

func TestTable_AllocateWrapsPastPending(t *testing.T) {
	table := NewTable(nil, nil)
	if _, err := table.Register(1, Rpc{Method: "nvim_eval"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	table.next = math.MaxUint32 - 1

	var got []uint32
	for range 2 {
		got = append(got, table.Allocate())
	}
	if want := []uint32{math.MaxUint32, 2}; got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Allocate() sequence = %v, want %v", got, want)
	}
}

func TestTable_AllocateConcurrentUnique(t *testing.T) {
	table := NewTable(nil, nil)
	const n = 500

	var mu sync.Mutex
	seen := make(map[uint32]bool, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for range n {
		go func() {
			defer wg.Done()
			id := table.Allocate()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Errorf("got %d unique ids, want %d", len(seen), n)
	}
}

func TestTable_RegisterComplete(t *testing.T) {
	collector := metrics.NewCollector("s", "p", "stdio")
	table := NewTable(nil, collector)

	id := table.Allocate()
	p, err := table.Register(id, Rpc{Method: "nvim_eval", Args: []any{"1+1"}})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !table.Has(id) {
		t.Fatal("id not pending after Register")
	}
	if p.Rpc.ID != id {
		t.Errorf("Rpc.ID = %d, want %d", p.Rpc.ID, id)
	}

	if !table.Complete(id, Completion{Value: int64(2)}) {
		t.Fatal("Complete returned false for a pending id")
	}
	if table.Has(id) {
		t.Error("id still pending after Complete")
	}

	c := receive(t, p)
	if c.Err != nil || c.Value != int64(2) {
		t.Errorf("completion = %+v, want value 2", c)
	}
	if got := collector.Snapshot().ResponsesReceived; got != 1 {
		t.Errorf("ResponsesReceived = %d, want 1", got)
	}
}

func TestTable_DuplicateRegister(t *testing.T) {
	table := NewTable(nil, nil)
	if _, err := table.Register(1, Rpc{Method: "a"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err := table.Register(1, Rpc{Method: "b"})
	if !errors.Is(err, ErrDuplicateID) {
		t.Errorf("err = %v, want ErrDuplicateID", err)
	}
	if IsError(err) {
		t.Error("duplicate registration must not be a domain error")
	}
}

func TestTable_LateResponse(t *testing.T) {
	collector := metrics.NewCollector("s", "p", "stdio")
	table := NewTable(nil, collector)

	id := table.Allocate()
	p, _ := table.Register(id, Rpc{Method: "nvim_get_var"})

	if !table.Cancel(id, "nvim_get_var timed out after 1.0s") {
		t.Fatal("Cancel returned false for a pending id")
	}
	c := receive(t, p)
	var rpcErr *Error
	if !errors.As(c.Err, &rpcErr) || rpcErr.Message != "nvim_get_var timed out after 1.0s" {
		t.Errorf("completion error = %v, want timeout message", c.Err)
	}

	if table.Complete(id, Completion{Value: "late"}) {
		t.Error("late Complete returned true")
	}
	if table.Cancel(id, "again") {
		t.Error("second Cancel returned true")
	}
	if got := collector.Snapshot().LateResponses; got != 1 {
		t.Errorf("LateResponses = %d, want 1", got)
	}
}

func TestTable_DrainCompletesEachOnce(t *testing.T) {
	table := NewTable(nil, nil)

	var pending []*Pending
	for range 3 {
		id := table.Allocate()
		p, err := table.Register(id, Rpc{Method: "nvim_command"})
		if err != nil {
			t.Fatalf("Register: %v", err)
		}
		pending = append(pending, p)
	}

	if n := table.Drain("process exit"); n != 3 {
		t.Errorf("Drain() = %d, want 3", n)
	}
	if table.Len() != 0 {
		t.Errorf("Len() = %d after drain, want 0", table.Len())
	}

	for _, p := range pending {
		c := receive(t, p)
		if c.Err == nil || c.Err.Error() != "process exit" {
			t.Errorf("request %d completion = %+v, want process exit", p.ID, c)
		}
		select {
		case extra := <-p.Done():
			t.Errorf("request %d completed twice: %+v", p.ID, extra)
		default:
		}
	}

	_, err := table.Register(table.Allocate(), Rpc{Method: "after"})
	if !IsError(err) || err.Error() != "process exit" {
		t.Errorf("Register after drain = %v, want process exit", err)
	}
	if n := table.Drain("again"); n != 0 {
		t.Errorf("second Drain() = %d, want 0", n)
	}
}

func TestKindString(t *testing.T) {
	if Blocking.String() != "blocking" || Nonblocking.String() != "nonblocking" {
		t.Errorf("Kind strings = %q, %q", Blocking, Nonblocking)
	}
}
