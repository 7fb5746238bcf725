// Package nvimio describes and evaluates editor-effect computations.
//
// A computation (IO) is a tree of nodes that describes calls to the
// editor without performing them. A Runner evaluates the tree against an
// Editor with an explicit frame stack, so deep Bind chains do not grow
// the Go stack. Evaluation of one computation is strictly sequential.
package nvimio

import (
	"context"
	"fmt"
	"time"
)

// Editor is the effect target. Implementations route Request through
// the RPC engine and may let other work run while a call is in flight.
type Editor interface {
	// Request issues a blocking call and waits for the response.
	// Domain failures are reported as *rpc.Error.
	Request(ctx context.Context, method string, args []any) (any, error)
	// Notify sends a fire-and-forget notification.
	Notify(method string, args []any) error
	// Sleep pauses the caller for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

// Handle is the editor handle passed to thunks. It binds an Editor to
// the context of the running computation.
type Handle struct {
	ctx context.Context
	ed  Editor
}

// NewHandle binds ed to ctx.
func NewHandle(ctx context.Context, ed Editor) Handle {
	return Handle{ctx: ctx, ed: ed}
}

// Context returns the context of the running computation.
func (h Handle) Context() context.Context { return h.ctx }

// Editor returns the underlying editor.
func (h Handle) Editor() Editor { return h.ed }

// Request issues a blocking call on the bound context.
func (h Handle) Request(method string, args ...any) (any, error) {
	return h.ed.Request(h.ctx, method, args)
}

// Notify sends a notification.
func (h Handle) Notify(method string, args ...any) error {
	return h.ed.Notify(method, args)
}

// Sleep pauses on the bound context.
func (h Handle) Sleep(d time.Duration) error {
	return h.ed.Sleep(h.ctx, d)
}

// IO is an editor-effect computation.
type IO interface {
	node()
}

type pureNode struct{ value any }

type failNode struct{ msg string }

type fatalNode struct{ err error }

type requestNode struct {
	method string
	args   []any
}

type suspendNode struct{ thunk func(Handle) IO }

type bindNode struct {
	sub IO
	k   func(any) IO
}

type recoverNode struct {
	sub     IO
	handler func(Result) IO
	pred    func(Result) bool
}

func (pureNode) node()    {}
func (failNode) node()    {}
func (fatalNode) node()   {}
func (requestNode) node() {}
func (suspendNode) node() {}
func (bindNode) node()    {}
func (recoverNode) node() {}

// Pure produces v.
func Pure(v any) IO { return pureNode{value: v} }

// Fail produces a domain error.
func Fail(msg string) IO { return failNode{msg: msg} }

// Failf produces a formatted domain error.
func Failf(format string, args ...any) IO { return failNode{msg: fmt.Sprintf(format, args...)} }

// Fatal produces a fatal error.
func Fatal(err error) IO { return fatalNode{err: err} }

// Request issues a blocking editor call and produces its response.
func Request(method string, args ...any) IO {
	return requestNode{method: method, args: args}
}

// Suspend defers building the next computation until evaluation, when
// the editor handle is available. A panicking thunk yields Fatal.
func Suspend(thunk func(Handle) IO) IO { return suspendNode{thunk: thunk} }

// Bind sequences sub and k. Failure and Fatal short-circuit k.
func Bind(sub IO, k func(any) IO) IO { return bindNode{sub: sub, k: k} }

// Recover evaluates sub and, when pred matches its Result, continues
// with handler. It is the only construct that observes non-success.
func Recover(sub IO, handler func(Result) IO, pred func(Result) bool) IO {
	return recoverNode{sub: sub, handler: handler, pred: pred}
}

// FromResult lifts a Result back into a computation.
func FromResult(r Result) IO {
	switch r.Status {
	case StatusSuccess:
		return Pure(r.Value)
	case StatusFailure:
		return Fail(r.Msg)
	default:
		return Fatal(r.Err)
	}
}
