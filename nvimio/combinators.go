package nvimio

import (
	"time"
)

// Delay wraps a handle-consuming thunk whose return value becomes the
// computation's value.
func Delay(f func(h Handle) any) IO {
	return Suspend(func(h Handle) IO { return Pure(f(h)) })
}

// WrapEither lifts a (value, error) thunk: a nil error yields the value,
// any error becomes a Failure with its message.
func WrapEither(f func(h Handle) (any, error)) IO {
	return Suspend(func(h Handle) IO {
		v, err := f(h)
		if err != nil {
			return Fail(err.Error())
		}
		return Pure(v)
	})
}

// Sleep pauses for d. While sleeping the editor may run other work.
func Sleep(d time.Duration) IO {
	return Suspend(func(h Handle) IO {
		if err := h.Sleep(d); err != nil {
			return FromResult(errorResult(err))
		}
		return Pure(nil)
	})
}

// Notify sends a fire-and-forget notification and produces nil.
func Notify(method string, args ...any) IO {
	return Suspend(func(h Handle) IO {
		if err := h.Notify(method, args...); err != nil {
			return Fatal(err)
		}
		return Pure(nil)
	})
}

// Map transforms the value of io.
func Map(io IO, f func(any) any) IO {
	return Bind(io, func(v any) IO { return Pure(f(v)) })
}

// Then runs a, discards its value and continues with b.
func Then(a, b IO) IO {
	return Bind(a, func(any) IO { return b })
}

// Sequence runs ios in order and collects their values.
func Sequence(ios ...IO) IO {
	return Suspend(func(Handle) IO {
		values := make([]any, 0, len(ios))
		var step func(i int) IO
		step = func(i int) IO {
			if i == len(ios) {
				return Pure(values)
			}
			return Bind(ios[i], func(v any) IO {
				values = append(values, v)
				return step(i + 1)
			})
		}
		return step(0)
	})
}

// RecoverFailure continues with handler when io fails with a domain error.
func RecoverFailure(io IO, handler func(msg string) IO) IO {
	return Recover(io, func(r Result) IO { return handler(r.Msg) }, OnFailure)
}

// Attempt evaluates io and always succeeds with its Result, so callers
// can branch on failures explicitly.
func Attempt(io IO) IO {
	return Recover(
		Map(io, func(v any) any { return Success(v) }),
		func(r Result) IO { return Pure(r) },
		OnError,
	)
}

// RepeatTimeout evaluates io every interval until pred holds for its
// value, and fails with msg once timeout has elapsed. The deadline is
// measured on the monotonic clock from the first evaluation. Failures of
// io itself propagate immediately.
func RepeatTimeout(io IO, pred func(any) bool, msg string, timeout, interval time.Duration) IO {
	return Suspend(func(Handle) IO {
		start := time.Now()
		var loop func() IO
		loop = func() IO {
			return Bind(io, func(v any) IO {
				if pred(v) {
					return Pure(v)
				}
				if time.Since(start) >= timeout {
					return Fail(msg)
				}
				return Then(Sleep(interval), Suspend(func(Handle) IO { return loop() }))
			})
		}
		return loop()
	})
}
