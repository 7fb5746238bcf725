package nvimio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/pithecene-io/nvplug/rpc"
)

// fakeEditor answers requests from a handler and records traffic.
type fakeEditor struct {
	mu       sync.Mutex
	requests []Call
	notes    []Call
	sleeps   []time.Duration
	handle   func(method string, args []any) (any, error)
}

func (f *fakeEditor) Request(ctx context.Context, method string, args []any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.requests = append(f.requests, Call{Method: method, Args: args})
	f.mu.Unlock()
	if f.handle == nil {
		return nil, nil
	}
	return f.handle(method, args)
}

func (f *fakeEditor) Notify(method string, args []any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, Call{Method: method, Args: args})
	return nil
}

func (f *fakeEditor) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	f.sleeps = append(f.sleeps, d)
	f.mu.Unlock()
	return ctx.Err()
}

func run(t *testing.T, ed Editor, io IO) Result {
	t.Helper()
	return NewRunner(nil).Run(t.Context(), ed, io)
}

func TestBindLaws(t *testing.T) {
	double := func(v any) IO { return Pure(v.(int) * 2) }
	called := false
	spy := func(any) IO { called = true; return Pure(nil) }
	boom := errors.New("boom")

	tests := []struct {
		name string
		io   IO
		want Result
	}{
		{"pure", Bind(Pure(21), double), Success(42)},
		{"failure short-circuits", Bind(Fail("nope"), spy), Failure("nope")},
		{"fatal short-circuits", Bind(Fatal(boom), spy), FatalResult(boom)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = false
			got := run(t, &fakeEditor{}, tt.io)
			if got.Status != tt.want.Status || got.Value != tt.want.Value || got.Msg != tt.want.Msg || got.Err != tt.want.Err {
				t.Errorf("Run = %v, want %v", got, tt.want)
			}
			if called {
				t.Error("continuation ran after a non-success result")
			}
		})
	}
}

func TestRecoverLaws(t *testing.T) {
	handled := func(r Result) IO { return Pure("handled " + r.Status.String()) }
	boom := errors.New("boom")

	tests := []struct {
		name string
		io   IO
		want Result
	}{
		{"success passes through", Recover(Pure(1), handled, OnError), Success(1)},
		{"success never reaches handler", Recover(Pure(1), handled, func(Result) bool { return true }), Success(1)},
		{"matching failure handled", Recover(Fail("x"), handled, OnFailure), Success("handled failure")},
		{"non-matching failure propagates", Recover(Fail("x"), handled, OnFatal), Failure("x")},
		{"matching fatal handled", Recover(Fatal(boom), handled, OnFatal), Success("handled fatal")},
		{"non-matching fatal propagates", Recover(Fatal(boom), handled, OnFailure), FatalResult(boom)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := run(t, &fakeEditor{}, tt.io)
			if got.Status != tt.want.Status || got.Value != tt.want.Value || got.Msg != tt.want.Msg || got.Err != tt.want.Err {
				t.Errorf("Run = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecover_InsideBind(t *testing.T) {
	io := Bind(
		RecoverFailure(Fail("missing"), func(msg string) IO { return Pure("default after " + msg) }),
		func(v any) IO { return Pure(v.(string) + "!") },
	)
	got := run(t, &fakeEditor{}, io)
	if !got.IsSuccess() || got.Value != "default after missing!" {
		t.Errorf("Run = %v", got)
	}
}

func TestPanicsBecomeFatal(t *testing.T) {
	tests := []struct {
		name string
		io   IO
	}{
		{"suspend", Suspend(func(Handle) IO { panic("thunk exploded") })},
		{"continuation", Bind(Pure(1), func(any) IO { panic("k exploded") })},
		{"handler", Recover(Fail("x"), func(Result) IO { panic("handler exploded") }, OnError)},
		{"nil continuation result", Bind(Pure(1), func(any) IO { return nil })},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := run(t, &fakeEditor{}, tt.io)
			if !got.IsFatal() {
				t.Fatalf("Run = %v, want Fatal", got)
			}
		})
	}

	got := run(t, &fakeEditor{}, Suspend(func(Handle) IO { panic("with stack") }))
	var panicErr *PanicError
	if !errors.As(got.Err, &panicErr) || panicErr.Value != "with stack" || len(panicErr.Stack) == 0 {
		t.Errorf("Err = %#v, want PanicError with stack", got.Err)
	}
}

func TestFatalCanBeRecovered(t *testing.T) {
	io := Recover(
		Suspend(func(Handle) IO { panic("bad") }),
		func(r Result) IO { return Pure(r.ErrorMessage()) },
		OnFatal,
	)
	got := run(t, &fakeEditor{}, io)
	if !got.IsSuccess() || got.Value != "panic: bad" {
		t.Errorf("Run = %v, want Success(panic: bad)", got)
	}
}

func TestRequestOutcomes(t *testing.T) {
	ed := &fakeEditor{handle: func(method string, args []any) (any, error) {
		switch method {
		case "ok":
			return args[0], nil
		case "domain":
			return nil, &rpc.Error{Method: method, Message: "E5108: lua error"}
		default:
			return nil, errors.New("encoder broke")
		}
	}}

	if got := run(t, ed, Request("ok", "v")); !got.IsSuccess() || got.Value != "v" {
		t.Errorf("ok = %v", got)
	}
	if got := run(t, ed, Request("domain")); !got.IsFailure() || got.Msg != "E5108: lua error" {
		t.Errorf("domain = %v", got)
	}
	if got := run(t, ed, Request("other")); !got.IsFatal() {
		t.Errorf("other = %v, want Fatal", got)
	}
}

func TestRequestAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	ed := &fakeEditor{}
	got := NewRunner(nil).Run(ctx, ed, Request("nvim_command", "echo 1"))
	if !got.IsFailure() {
		t.Errorf("Run = %v, want Failure", got)
	}
	if len(ed.requests) != 0 {
		t.Errorf("sent %d requests after cancel, want 0", len(ed.requests))
	}
}

func TestDeepBindChains(t *testing.T) {
	const depth = 100000

	left := Pure(0)
	for range depth {
		left = Bind(left, func(v any) IO { return Pure(v.(int) + 1) })
	}
	if got := run(t, &fakeEditor{}, left); got.Value != depth {
		t.Errorf("left-nested = %v, want %d", got, depth)
	}

	var right func(i int) IO
	right = func(i int) IO {
		if i == depth {
			return Pure(i)
		}
		return Bind(Pure(i), func(any) IO { return right(i + 1) })
	}
	if got := run(t, &fakeEditor{}, right(0)); got.Value != depth {
		t.Errorf("right-nested = %v, want %d", got, depth)
	}
}

func TestSequencingIsOrdered(t *testing.T) {
	ed := &fakeEditor{handle: func(method string, args []any) (any, error) {
		return method, nil
	}}
	got := run(t, ed, Sequence(Request("a"), Request("b"), Request("c")))
	if diff := cmp.Diff([]any{"a", "b", "c"}, got.Value); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}

	// A second evaluation starts from an empty result list.
	io := Sequence(Pure(1), Pure(2))
	first := run(t, ed, io)
	second := run(t, ed, io)
	if diff := cmp.Diff(first.Value, second.Value); diff != "" {
		t.Errorf("re-evaluation differs (-first +second):\n%s", diff)
	}
}

func TestDelayAndWrapEither(t *testing.T) {
	ed := &fakeEditor{}
	got := run(t, ed, Delay(func(h Handle) any { return h.Editor() == Editor(ed) }))
	if got.Value != true {
		t.Errorf("Delay = %v, want handle bound to editor", got)
	}

	got = run(t, ed, WrapEither(func(Handle) (any, error) { return nil, fmt.Errorf("bad input") }))
	if !got.IsFailure() || got.Msg != "bad input" {
		t.Errorf("WrapEither = %v, want Failure(bad input)", got)
	}
}

func TestAttempt(t *testing.T) {
	got := run(t, &fakeEditor{}, Attempt(Fail("nope")))
	r, ok := got.Value.(Result)
	if !got.IsSuccess() || !ok || !r.IsFailure() || r.Msg != "nope" {
		t.Errorf("Attempt = %v", got)
	}
}

func TestNotifyAndSleep(t *testing.T) {
	ed := &fakeEditor{}
	got := run(t, ed, Then(Notify("nvim_command", "redraw"), Sleep(10*time.Millisecond)))
	if !got.IsSuccess() {
		t.Fatalf("Run = %v", got)
	}
	if len(ed.notes) != 1 || ed.notes[0].Method != "nvim_command" {
		t.Errorf("notes = %v", ed.notes)
	}
	if len(ed.sleeps) != 1 || ed.sleeps[0] != 10*time.Millisecond {
		t.Errorf("sleeps = %v", ed.sleeps)
	}
}

func TestRepeatTimeout_Succeeds(t *testing.T) {
	polls := 0
	ed := &fakeEditor{handle: func(string, []any) (any, error) {
		polls++
		return int64(polls), nil
	}}

	io := RepeatTimeout(GetVar("ready"), func(v any) bool { return v.(int64) >= 3 }, "never ready", time.Minute, 5*time.Millisecond)
	got := run(t, ed, io)
	if !got.IsSuccess() || got.Value != int64(3) {
		t.Fatalf("Run = %v, want Success(3)", got)
	}
	if len(ed.sleeps) != 2 {
		t.Errorf("slept %d times, want 2", len(ed.sleeps))
	}
}

func TestRepeatTimeout_Expires(t *testing.T) {
	ed := &fakeEditor{handle: func(string, []any) (any, error) { return false, nil }}
	io := RepeatTimeout(GetVar("ready"), func(v any) bool { return v == true }, "variable never set", 0, time.Millisecond)
	got := run(t, ed, io)
	if !got.IsFailure() || got.Msg != "variable never set" {
		t.Errorf("Run = %v, want Failure(variable never set)", got)
	}
}

func TestRepeatTimeout_PropagatesFailure(t *testing.T) {
	ed := &fakeEditor{handle: func(method string, _ []any) (any, error) {
		return nil, &rpc.Error{Method: method, Message: "Key not found: ready"}
	}}
	io := RepeatTimeout(GetVar("ready"), func(any) bool { return true }, "timeout", time.Minute, time.Millisecond)
	got := run(t, ed, io)
	if !got.IsFailure() || got.Msg != "Key not found: ready" {
		t.Errorf("Run = %v", got)
	}
}
