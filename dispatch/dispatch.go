// Package dispatch routes inbound requests and notifications to
// programs and turns their results into response frames.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pithecene-io/nvplug/coord"
	"github.com/pithecene-io/nvplug/ipc"
	"github.com/pithecene-io/nvplug/log"
	"github.com/pithecene-io/nvplug/metrics"
	"github.com/pithecene-io/nvplug/nvimio"
	"github.com/pithecene-io/nvplug/program"
	"github.com/pithecene-io/nvplug/state"
)

// Session is the dispatcher's view of the connection.
type Session interface {
	// Editor returns the effect target for a program holding lease.
	// A nil lease is passed for read programs.
	Editor(lease *coord.Lease) nvimio.Editor
	// Respond writes a response frame.
	Respond(id uint32, errValue, result any) error
}

// Config bounds dispatch.
type Config struct {
	// InitWait is how long requests arriving before initialization wait.
	// Zero uses state.DefaultInitWait.
	InitWait time.Duration
	// ProgramTimeout bounds each outermost program. Zero disables.
	ProgramTimeout time.Duration
}

// Dispatcher resolves method names against the program table held by
// the state holder.
type Dispatcher struct {
	holder    *state.Holder
	coord     *coord.Coordinator
	runner    *nvimio.Runner
	session   Session
	cfg       Config
	collector *metrics.Collector
	logger    *log.Logger

	wg sync.WaitGroup

	// Calls that arrive before initialization queue here in arrival
	// order. A single waiter drains them once initialized; later calls
	// queue behind them until the backlog is empty.
	earlyMu  sync.Mutex
	early    []call
	draining bool
}

// call is a resolved invocation waiting to be started.
type call struct {
	ctx       context.Context
	inv       invocation
	name      string
	label     string
	programs  []program.Program
	exclusive bool
}

// New creates a Dispatcher.
func New(holder *state.Holder, co *coord.Coordinator, session Session, cfg Config, collector *metrics.Collector, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Nop()
	}
	return &Dispatcher{
		holder:    holder,
		coord:     co,
		runner:    nvimio.NewRunner(logger),
		session:   session,
		cfg:       cfg,
		collector: collector,
		logger:    logger,
	}
}

// Route splits a method of the form "sync:name" into name and a flag
// forcing exclusive execution. Other names are returned unchanged.
func Route(method string) (name string, forceSync bool) {
	parts := strings.Split(method, ":")
	if len(parts) > 1 && parts[0] == "sync" {
		return strings.Join(parts[1:], ":"), true
	}
	return method, false
}

type invocation struct {
	id      uint32
	respond bool
	method  string
	args    []any
}

// HandleRequest dispatches req. It does not block: a write program's
// lease is queued before returning, so call order on the reader
// goroutine fixes the order in which write programs run.
func (d *Dispatcher) HandleRequest(ctx context.Context, req ipc.Request) {
	d.collector.IncRequestReceived()
	d.dispatch(ctx, invocation{id: req.ID, respond: true, method: req.Method, args: req.Args})
}

// HandleNotification dispatches n. Results are discarded; errors are
// logged.
func (d *Dispatcher) HandleNotification(ctx context.Context, n ipc.Notification) {
	d.collector.IncNotificationReceived()
	d.dispatch(ctx, invocation{method: n.Method, args: n.Args})
}

// Wait blocks until every dispatched program has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) dispatch(ctx context.Context, inv invocation) {
	name, forceSync := Route(inv.method)
	programs := d.holder.Programs().Lookup(name)
	if len(programs) == 0 {
		d.reply(inv, nvimio.Failure(fmt.Sprintf("no programs defined for request %s", inv.method)))
		return
	}

	exclusive := forceSync
	for _, p := range programs {
		exclusive = exclusive || p.Meta.Write
	}
	label := name
	if inv.respond {
		label = fmt.Sprintf("%s#%d", name, inv.id)
	}

	c := call{ctx: ctx, inv: inv, name: name, label: label, programs: programs, exclusive: exclusive}
	d.wg.Add(1)

	d.earlyMu.Lock()
	if !d.draining && d.holder.Initialized() {
		d.earlyMu.Unlock()
		d.start(c)
		return
	}
	// Early calls cannot queue behind the init lease: init would yield
	// to them before the state exists.
	d.early = append(d.early, c)
	if !d.draining {
		d.draining = true
		d.wg.Add(1)
		go d.drainEarly(ctx)
	}
	d.earlyMu.Unlock()
}

// start queues the call's lease, if any, and runs it. Lease order is
// the order start is called in.
func (d *Dispatcher) start(c call) {
	var lease *coord.Lease
	if c.exclusive {
		lease = d.coord.Enqueue(c.label)
	}
	go func() {
		defer d.wg.Done()
		d.complete(c.inv, d.run(c.ctx, lease, c.name, c.programs, c.inv.args))
	}()
}

// drainEarly waits for initialization, then starts queued calls in
// arrival order. When the init budget runs out every queued call fails.
func (d *Dispatcher) drainEarly(ctx context.Context) {
	defer d.wg.Done()
	err := d.holder.WaitInitialized(ctx, d.cfg.InitWait)
	for {
		d.earlyMu.Lock()
		batch := d.early
		d.early = nil
		if len(batch) == 0 {
			d.draining = false
			d.earlyMu.Unlock()
			return
		}
		d.earlyMu.Unlock()

		for _, c := range batch {
			if err != nil {
				d.reply(c.inv, nvimio.Failure(err.Error()))
				d.wg.Done()
				continue
			}
			d.start(c)
		}
	}
}

// RunExclusive runs p under a fresh lease regardless of initialization.
// The host uses it for the init program.
func (d *Dispatcher) RunExclusive(ctx context.Context, p program.Program, args []any) nvimio.Result {
	lease := d.coord.Enqueue(p.Name)
	res := d.run(ctx, lease, p.Name, []program.Program{p}, args)
	d.record(res)
	return res
}

func (d *Dispatcher) run(ctx context.Context, lease *coord.Lease, name string, programs []program.Program, args []any) nvimio.Result {
	if lease != nil {
		if err := lease.Wait(ctx); err != nil {
			return nvimio.Failure(err.Error())
		}
	}

	if d.cfg.ProgramTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.ProgramTimeout)
		defer cancel()
	}

	ed := d.session.Editor(lease)
	exec := func(data any) nvimio.Result {
		return d.Execute(ctx, ed, name, programs, args, data)
	}

	var res nvimio.Result
	if lease != nil {
		res = d.holder.WithState(lease, exec)
	} else {
		res = d.holder.Observe(exec)
	}

	if !res.IsSuccess() && errors.Is(ctx.Err(), context.DeadlineExceeded) && d.cfg.ProgramTimeout > 0 {
		res = nvimio.Failure(fmt.Sprintf("%s timed out after %.1fs", name, d.cfg.ProgramTimeout.Seconds()))
	}
	return res
}

// Execute parses arguments for each program and evaluates it against
// data. Exactly one program may answer a name; more than one result is
// an error.
func (d *Dispatcher) Execute(ctx context.Context, ed nvimio.Editor, method string, programs []program.Program, raw []any, data any) nvimio.Result {
	results := make([]nvimio.Result, 0, len(programs))
	for _, p := range programs {
		in, err := p.PrepareInput(raw)
		if err != nil {
			results = append(results, nvimio.Failure(err.Error()))
			continue
		}
		in.Data = data
		results = append(results, d.runner.Run(ctx, ed, build(p, in)))
	}

	switch len(results) {
	case 0:
		return nvimio.Failure(fmt.Sprintf("no programs defined for request %s", method))
	case 1:
		return results[0]
	default:
		return nvimio.Failure(fmt.Sprintf("multiple results for %s", method))
	}
}

// build defers p.Run into the computation so a panicking constructor
// becomes Fatal instead of crashing the dispatcher.
func build(p program.Program, in program.Input) nvimio.IO {
	return nvimio.Suspend(func(nvimio.Handle) nvimio.IO {
		return p.Run(in)
	})
}

func (d *Dispatcher) complete(inv invocation, res nvimio.Result) {
	d.record(res)
	d.reply(inv, res)
}

func (d *Dispatcher) record(res nvimio.Result) {
	switch res.Status {
	case nvimio.StatusSuccess:
		d.collector.IncProgramSuccess()
	case nvimio.StatusFailure:
		d.collector.IncProgramFailure()
	case nvimio.StatusFatal:
		d.collector.IncProgramFatal()
	}
}

func (d *Dispatcher) reply(inv invocation, res nvimio.Result) {
	if !inv.respond {
		if !res.IsSuccess() {
			d.logger.Error("notification failed", map[string]any{
				"method": inv.method,
				"status": res.Status.String(),
				"error":  res.ErrorMessage(),
			})
		}
		return
	}

	var err error
	if res.IsSuccess() {
		err = d.session.Respond(inv.id, nil, res.Value)
	} else {
		d.logger.Debug("request failed", map[string]any{
			"method": inv.method,
			"id":     inv.id,
			"status": res.Status.String(),
			"error":  res.ErrorMessage(),
		})
		err = d.session.Respond(inv.id, res.ErrorMessage(), nil)
	}
	if err != nil {
		d.logger.Warn("failed to send response", map[string]any{
			"method": inv.method,
			"id":     inv.id,
			"error":  err.Error(),
		})
		return
	}
	d.collector.IncResponseSent()
}
