package nvimio

import (
	"context"
	"errors"
	"runtime/debug"

	"github.com/pithecene-io/nvplug/log"
	"github.com/pithecene-io/nvplug/rpc"
)

// ErrNilComputation is the Fatal error for a nil IO node.
var ErrNilComputation = errors.New("nil computation")

// Runner evaluates computations.
type Runner struct {
	logger *log.Logger
}

// NewRunner creates a Runner. Uncaught Fatal results are logged to logger.
func NewRunner(logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Nop()
	}
	return &Runner{logger: logger}
}

// frame is a pending continuation on the evaluation stack.
type frame struct {
	catch   bool
	k       func(any) IO
	handler func(Result) IO
	pred    func(Result) bool
}

// Run evaluates io against ed until it produces a Result.
func (r *Runner) Run(ctx context.Context, ed Editor, io IO) Result {
	h := NewHandle(ctx, ed)
	var stack []frame
	cur := io

	for {
		var res Result

		switch n := cur.(type) {
		case pureNode:
			res = Success(n.value)
		case failNode:
			res = Failure(n.msg)
		case fatalNode:
			res = FatalResult(n.err)
		case requestNode:
			res = r.request(h, n)
		case suspendNode:
			cur = protect(func() IO { return n.thunk(h) })
			continue
		case bindNode:
			stack = append(stack, frame{k: n.k})
			cur = n.sub
			continue
		case recoverNode:
			stack = append(stack, frame{catch: true, handler: n.handler, pred: n.pred})
			cur = n.sub
			continue
		default:
			res = FatalResult(ErrNilComputation)
		}

		next, done := unwind(&stack, res)
		if done {
			if res.IsFatal() {
				r.logFatal(res)
			}
			return res
		}
		cur = next
	}
}

// unwind pops frames until one consumes res. Recover frames never see
// Success. Returns done=true when the stack is exhausted.
func unwind(stack *[]frame, res Result) (IO, bool) {
	for len(*stack) > 0 {
		top := (*stack)[len(*stack)-1]
		*stack = (*stack)[:len(*stack)-1]

		if !top.catch {
			if !res.IsSuccess() {
				continue
			}
			v := res.Value
			return protect(func() IO { return top.k(v) }), false
		}
		if res.IsSuccess() {
			continue
		}
		if top.pred == nil || top.pred(res) {
			return protect(func() IO { return top.handler(res) }), false
		}
	}
	return nil, true
}

// protect runs fn, converting a panic into a Fatal node.
func protect(fn func() IO) (next IO) {
	defer func() {
		if p := recover(); p != nil {
			next = Fatal(&PanicError{Value: p, Stack: debug.Stack()})
		}
	}()
	next = fn()
	if next == nil {
		return Fatal(ErrNilComputation)
	}
	return next
}

func (r *Runner) request(h Handle, n requestNode) Result {
	if err := h.ctx.Err(); err != nil {
		return Failure(err.Error())
	}
	v, err := h.ed.Request(h.ctx, n.method, n.args)
	if err != nil {
		return errorResult(err)
	}
	return Success(v)
}

// errorResult classifies an editor error: domain errors and context
// cancellation are failures, everything else is fatal.
func errorResult(err error) Result {
	if rpc.IsError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Failure(err.Error())
	}
	return FatalResult(err)
}

func (r *Runner) logFatal(res Result) {
	fields := map[string]any{"error": res.ErrorMessage()}
	var panicErr *PanicError
	if errors.As(res.Err, &panicErr) {
		fields["stack"] = stackSummary(panicErr.Stack)
	}
	r.logger.Error("computation failed with fatal error", fields)
}

// stackSummary keeps the first lines of a stack trace.
func stackSummary(stack []byte) string {
	const maxLines = 16
	lines := 0
	for i, b := range stack {
		if b == '\n' {
			lines++
			if lines == maxLines {
				return string(stack[:i])
			}
		}
	}
	return string(stack)
}
