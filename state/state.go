// Package state holds the plugin's data value and publishes updates
// produced by write programs.
package state

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/nvplug/coord"
	"github.com/pithecene-io/nvplug/log"
	"github.com/pithecene-io/nvplug/metrics"
	"github.com/pithecene-io/nvplug/nvimio"
	"github.com/pithecene-io/nvplug/program"
)

// DefaultInitWait is how long an early request waits for initialization.
const DefaultInitWait = 20 * time.Second

// ErrNotInitialized is returned when the init budget runs out.
var ErrNotInitialized = errors.New("state wasn't initialized")

// PluginState is the committed plugin value.
type PluginState struct {
	// Data is the user value programs transform.
	Data any
	// Components lists the enabled component names.
	Components []string
	// Programs is the registered program table.
	Programs *program.Table
}

// Holder owns the single PluginState. Reads see the last committed
// value without locking; writes go through WithState while the caller
// holds the coordinator lease.
type Holder struct {
	current atomic.Pointer[PluginState]

	initOnce    sync.Once
	initialized chan struct{}

	collector *metrics.Collector
	logger    *log.Logger
}

// NewHolder creates a holder with the initial state.
func NewHolder(initial PluginState, collector *metrics.Collector, logger *log.Logger) *Holder {
	if logger == nil {
		logger = log.Nop()
	}
	if initial.Programs == nil {
		initial.Programs = program.NewTable()
	}
	h := &Holder{
		initialized: make(chan struct{}),
		collector:   collector,
		logger:      logger,
	}
	h.current.Store(&initial)
	return h
}

// Current returns the committed state.
func (h *Holder) Current() PluginState {
	return *h.current.Load()
}

// Data returns the committed user value.
func (h *Holder) Data() any {
	return h.current.Load().Data
}

// Programs returns the program table.
func (h *Holder) Programs() *program.Table {
	return h.current.Load().Programs
}

// SetComponents records the enabled components.
func (h *Holder) SetComponents(names []string) {
	next := h.Current()
	next.Components = append([]string(nil), names...)
	h.current.Store(&next)
}

func (h *Holder) publish(data any) {
	next := h.Current()
	next.Data = data
	h.current.Store(&next)
	h.collector.IncStatePublication()
}

// WithState runs fn against the committed data while lease is held and
// releases the lease on every path. When fn succeeds with a changed
// program.Output, its data is published before the lease is released.
// Any other result leaves the previous data in place. The returned
// Result carries the program's value, not the Output.
func (h *Holder) WithState(lease *coord.Lease, fn func(data any) nvimio.Result) (res nvimio.Result) {
	defer lease.Release()

	res = fn(h.Data())
	if !res.IsSuccess() {
		return res
	}
	out, ok := res.Value.(program.Output)
	if !ok {
		return res
	}
	if out.Changed {
		h.publish(out.Data)
		h.logger.Debug("state published", map[string]any{"lease": lease.Label()})
	}
	return nvimio.Success(out.Value)
}

// Observe runs fn against the committed data without publishing. A read
// program that reports changed data is logged and its data dropped.
func (h *Holder) Observe(fn func(data any) nvimio.Result) nvimio.Result {
	res := fn(h.Data())
	if !res.IsSuccess() {
		return res
	}
	out, ok := res.Value.(program.Output)
	if !ok {
		return res
	}
	if out.Changed {
		h.logger.Warn("read program returned new state; discarded", nil)
	}
	return nvimio.Success(out.Value)
}

// SetInitialized marks initialization complete. Later calls are no-ops.
func (h *Holder) SetInitialized() {
	h.initOnce.Do(func() { close(h.initialized) })
}

// Initialized reports whether SetInitialized has been called.
func (h *Holder) Initialized() bool {
	select {
	case <-h.initialized:
		return true
	default:
		return false
	}
}

// WaitInitialized blocks until initialization completes, budget elapses
// or ctx ends. A budget of zero uses DefaultInitWait.
func (h *Holder) WaitInitialized(ctx context.Context, budget time.Duration) error {
	if h.Initialized() {
		return nil
	}
	if budget <= 0 {
		budget = DefaultInitWait
	}
	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case <-h.initialized:
		return nil
	case <-timer.C:
		return ErrNotInitialized
	case <-ctx.Done():
		return ctx.Err()
	}
}
