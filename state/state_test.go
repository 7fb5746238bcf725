package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/pithecene-io/nvplug/coord"
	"github.com/pithecene-io/nvplug/metrics"
	"github.com/pithecene-io/nvplug/nvimio"
	"github.com/pithecene-io/nvplug/program"
)

func newHolder(data any) (*Holder, *metrics.Collector) {
	c := metrics.NewCollector("s", "p", "stdio")
	return NewHolder(PluginState{Data: data}, c, nil), c
}

func TestWithState_PublishesOnSuccess(t *testing.T) {
	h, c := newHolder(1)
	co := coord.New(nil)

	res := h.WithState(co.Enqueue("w"), func(data any) nvimio.Result {
		return nvimio.Success(program.Update(data.(int)+1, "ok"))
	})

	if !res.IsSuccess() || res.Value != "ok" {
		t.Errorf("WithState = %v, want Success(ok)", res)
	}
	if h.Data() != 2 {
		t.Errorf("Data() = %v, want 2", h.Data())
	}
	if got := c.Snapshot().StatePublications; got != 1 {
		t.Errorf("StatePublications = %d, want 1", got)
	}
	if co.Owner() != "" {
		t.Errorf("lease not released: owner = %q", co.Owner())
	}
}

func TestWithState_RetainsOnNonSuccess(t *testing.T) {
	tests := []struct {
		name string
		res  nvimio.Result
	}{
		{"failure", nvimio.Failure("nope")},
		{"fatal", nvimio.FatalResult(errors.New("boom"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, c := newHolder("before")
			co := coord.New(nil)
			got := h.WithState(co.Enqueue("w"), func(any) nvimio.Result { return tt.res })
			if got.Status != tt.res.Status {
				t.Errorf("status = %v, want %v", got.Status, tt.res.Status)
			}
			if h.Data() != "before" {
				t.Errorf("Data() = %v, want before", h.Data())
			}
			if c.Snapshot().StatePublications != 0 {
				t.Error("state published on non-success")
			}
			if co.Owner() != "" {
				t.Errorf("lease not released on %s", tt.name)
			}
		})
	}
}

func TestWithState_ReleasesOnPanic(t *testing.T) {
	h, _ := newHolder(0)
	co := coord.New(nil)

	func() {
		defer func() { _ = recover() }()
		h.WithState(co.Enqueue("w"), func(any) nvimio.Result { panic("x") })
	}()
	if co.Owner() != "" {
		t.Errorf("lease not released after panic: owner = %q", co.Owner())
	}
}

func TestWithState_PlainValueAndUnchangedOutput(t *testing.T) {
	h, c := newHolder("d")
	co := coord.New(nil)

	if res := h.WithState(co.Enqueue("a"), func(any) nvimio.Result { return nvimio.Success(5) }); res.Value != 5 {
		t.Errorf("plain value = %v", res)
	}
	if res := h.WithState(co.Enqueue("b"), func(any) nvimio.Result { return nvimio.Success(program.Return(6)) }); res.Value != 6 {
		t.Errorf("unchanged output = %v", res)
	}
	if h.Data() != "d" || c.Snapshot().StatePublications != 0 {
		t.Errorf("data = %v, publications = %d", h.Data(), c.Snapshot().StatePublications)
	}
}

func TestObserve_NeverPublishes(t *testing.T) {
	h, _ := newHolder("d")
	res := h.Observe(func(data any) nvimio.Result {
		return nvimio.Success(program.Update("other", data))
	})
	if res.Value != "d" {
		t.Errorf("Observe = %v, want Success(d)", res)
	}
	if h.Data() != "d" {
		t.Errorf("Data() = %v, want d", h.Data())
	}
}

func TestSetComponents(t *testing.T) {
	h, _ := newHolder(nil)
	h.SetComponents([]string{"core", "tracking"})
	if diff := cmp.Diff([]string{"core", "tracking"}, h.Current().Components); diff != "" {
		t.Errorf("components mismatch (-want +got):\n%s", diff)
	}
	if h.Programs() == nil {
		t.Error("Programs() is nil")
	}
}

func TestWaitInitialized(t *testing.T) {
	h, _ := newHolder(nil)
	if h.Initialized() {
		t.Fatal("new holder reports initialized")
	}

	if err := h.WaitInitialized(t.Context(), 10*time.Millisecond); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("WaitInitialized = %v, want ErrNotInitialized", err)
	}
	if ErrNotInitialized.Error() != "state wasn't initialized" {
		t.Errorf("message = %q", ErrNotInitialized.Error())
	}

	done := make(chan error, 1)
	go func() { done <- h.WaitInitialized(t.Context(), time.Minute) }()
	h.SetInitialized()
	h.SetInitialized()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitInitialized = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not woken by SetInitialized")
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := h.WaitInitialized(ctx, time.Minute); err != nil {
		t.Errorf("WaitInitialized after init = %v, want nil", err)
	}
}
