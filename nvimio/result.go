package nvimio

import (
	"fmt"
)

// Status is the outcome class of an evaluated computation.
type Status int

const (
	// StatusSuccess carries a value.
	StatusSuccess Status = iota
	// StatusFailure is a domain-level error with a message.
	StatusFailure
	// StatusFatal is an unexpected error (a panic or an internal failure).
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusFatal:
		return "fatal"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is the terminal value of a computation: Success(v), Failure(msg)
// or Fatal(err).
type Result struct {
	Status Status
	Value  any
	Msg    string
	Err    error
}

// Success returns a successful Result.
func Success(v any) Result { return Result{Status: StatusSuccess, Value: v} }

// Failure returns a domain-error Result.
func Failure(msg string) Result { return Result{Status: StatusFailure, Msg: msg} }

// FatalResult returns a fatal Result.
func FatalResult(err error) Result { return Result{Status: StatusFatal, Err: err} }

// IsSuccess reports whether r carries a value.
func (r Result) IsSuccess() bool { return r.Status == StatusSuccess }

// IsFailure reports whether r is a domain error.
func (r Result) IsFailure() bool { return r.Status == StatusFailure }

// IsFatal reports whether r is a fatal error.
func (r Result) IsFatal() bool { return r.Status == StatusFatal }

// ErrorMessage returns the message reported to the editor for a
// non-success result, and "" for Success.
func (r Result) ErrorMessage() string {
	switch r.Status {
	case StatusFailure:
		return r.Msg
	case StatusFatal:
		if r.Err == nil {
			return "fatal error"
		}
		return r.Err.Error()
	default:
		return ""
	}
}

func (r Result) String() string {
	switch r.Status {
	case StatusSuccess:
		return fmt.Sprintf("Success(%v)", r.Value)
	case StatusFailure:
		return fmt.Sprintf("Failure(%s)", r.Msg)
	default:
		return fmt.Sprintf("Fatal(%v)", r.Err)
	}
}

// PanicError is the Fatal error produced when a thunk or continuation panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Predicates for Recover.

// OnFailure matches domain errors.
func OnFailure(r Result) bool { return r.Status == StatusFailure }

// OnFatal matches fatal errors.
func OnFatal(r Result) bool { return r.Status == StatusFatal }

// OnError matches any non-success result.
func OnError(r Result) bool { return r.Status != StatusSuccess }
