// Package rpc tracks outbound requests awaiting a response from the editor.
//
// Every blocking request is registered in a Table before its bytes are
// written. The entry is removed exactly once, by whichever comes first:
// the response, an error response, a cancellation (timeout), or a drain
// when the transport exits.
package rpc

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pithecene-io/nvplug/log"
	"github.com/pithecene-io/nvplug/metrics"
)

// Kind distinguishes requests that await a response from fire-and-forget
// notifications.
type Kind int

const (
	// Blocking requests are registered and awaited.
	Blocking Kind = iota
	// Nonblocking requests are sent as notifications and never tracked.
	Nonblocking
)

func (k Kind) String() string {
	if k == Nonblocking {
		return "nonblocking"
	}
	return "blocking"
}

// Rpc describes one outbound call. ID is zero for nonblocking calls.
type Rpc struct {
	Method string
	Args   []any
	Kind   Kind
	ID     uint32
}

func (r Rpc) String() string {
	return r.Method
}

// Error is a domain-level failure of an outbound call: an error response
// from the editor, a timeout, or the transport going away.
type Error struct {
	Method  string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// IsError reports whether err is (or wraps) an *Error.
func IsError(err error) bool {
	var rpcErr *Error
	return errors.As(err, &rpcErr)
}

// ErrDuplicateID is returned when an id is registered twice. It signals a
// broken allocator and is treated as fatal by callers.
var ErrDuplicateID = errors.New("duplicate request id")

// Completion is the outcome delivered to a Pending request.
// Err is an *Error when the call failed.
type Completion struct {
	Value any
	Err   error
}

// Pending is a registered request awaiting completion.
type Pending struct {
	ID         uint32
	Rpc        Rpc
	Registered time.Time

	done chan Completion
}

// Done yields exactly one Completion.
func (p *Pending) Done() <-chan Completion {
	return p.done
}

// Table maps request ids to pending completions.
type Table struct {
	mu      sync.Mutex
	next    uint32
	pending map[uint32]*Pending
	closed  string

	logger  *log.Logger
	metrics *metrics.Collector
}

// NewTable creates an empty request table. Ids start at 1.
func NewTable(logger *log.Logger, collector *metrics.Collector) *Table {
	if logger == nil {
		logger = log.Nop()
	}
	return &Table{
		pending: make(map[uint32]*Pending),
		logger:  logger,
		metrics: collector,
	}
}

// Allocate returns the next request id. Ids wrap around u32, skipping
// zero and ids that are still pending.
func (t *Table) Allocate() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		t.next++
		if _, busy := t.pending[t.next]; t.next != 0 && !busy {
			return t.next
		}
	}
}

// Register records a pending request under id. After Drain, Register
// fails with an *Error carrying the drain reason.
func (t *Table) Register(id uint32, r Rpc) (*Pending, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed != "" {
		return nil, &Error{Method: r.Method, Message: t.closed}
	}
	if _, exists := t.pending[id]; exists {
		return nil, fmt.Errorf("%w: %d (%s)", ErrDuplicateID, id, r.Method)
	}

	r.ID = id
	p := &Pending{
		ID:         id,
		Rpc:        r,
		Registered: time.Now(),
		done:       make(chan Completion, 1),
	}
	t.pending[id] = p
	return p, nil
}

// take removes and returns the entry for id.
func (t *Table) take(id uint32) *Pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[id]
	if !ok {
		return nil
	}
	delete(t.pending, id)
	return p
}

// Complete delivers c to the request registered under id. A response for
// an id that is no longer pending is logged and dropped; Complete then
// returns false.
func (t *Table) Complete(id uint32, c Completion) bool {
	p := t.take(id)
	if p == nil {
		t.metrics.IncLateResponse()
		fields := map[string]any{"id": id}
		if c.Err != nil {
			fields["error"] = c.Err.Error()
		}
		t.logger.Error("response for unknown request id", fields)
		return false
	}
	t.metrics.IncResponseReceived()
	if e, ok := c.Err.(*Error); ok && e.Method == "" {
		e.Method = p.Rpc.Method
	}
	p.done <- c
	return true
}

// Cancel completes the request under id with an *Error carrying reason.
// Returns false if the request already completed.
func (t *Table) Cancel(id uint32, reason string) bool {
	p := t.take(id)
	if p == nil {
		return false
	}
	t.logger.Warn("request cancelled", map[string]any{
		"id":     id,
		"method": p.Rpc.Method,
		"reason": reason,
	})
	p.done <- Completion{Err: &Error{Method: p.Rpc.Method, Message: reason}}
	return true
}

// Drain completes every pending request with an *Error carrying reason
// and refuses further registrations. Returns the number drained.
func (t *Table) Drain(reason string) int {
	t.mu.Lock()
	drained := t.pending
	t.pending = make(map[uint32]*Pending)
	if t.closed == "" {
		t.closed = reason
	}
	t.mu.Unlock()

	for _, p := range drained {
		p.done <- Completion{Err: &Error{Method: p.Rpc.Method, Message: reason}}
	}
	if len(drained) > 0 {
		t.logger.Info("drained pending requests", map[string]any{
			"count":  len(drained),
			"reason": reason,
		})
	}
	return len(drained)
}

// Len returns the number of pending requests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Has reports whether id is pending.
func (t *Table) Has(id uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[id]
	return ok
}
