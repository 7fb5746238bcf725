// Package host wires the RPC engine together and runs a plugin session
// from startup to transport exit.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pithecene-io/nvplug/adapter"
	"github.com/pithecene-io/nvplug/coord"
	"github.com/pithecene-io/nvplug/dispatch"
	"github.com/pithecene-io/nvplug/ipc"
	"github.com/pithecene-io/nvplug/log"
	"github.com/pithecene-io/nvplug/metrics"
	"github.com/pithecene-io/nvplug/nvimio"
	"github.com/pithecene-io/nvplug/program"
	"github.com/pithecene-io/nvplug/rpc"
	"github.com/pithecene-io/nvplug/state"
	"github.com/pithecene-io/nvplug/transport"
	"github.com/pithecene-io/nvplug/trigger"
	"github.com/pithecene-io/nvplug/types"
)

// DefaultRequestTimeout bounds each outbound request.
const DefaultRequestTimeout = 3 * time.Second

// ExitReason completes every pending request when the transport closes.
const ExitReason = "process exit"

// joinGrace bounds the wait for the transport reader at shutdown. A
// blocking stdin read may outlive Stop.
const joinGrace = 2 * time.Second

// Config configures a Host.
type Config struct {
	Meta   *types.SessionMeta
	Plugin program.Plugin
	// Components selects enabled components; empty enables all.
	Components []string
	// RequestTimeout bounds outbound requests. Zero disables.
	RequestTimeout time.Duration
	// InitWait bounds how long early requests wait for initialization.
	InitWait time.Duration
	// ProgramTimeout bounds each outermost program. Zero disables.
	ProgramTimeout time.Duration

	Notifier  *adapter.Notifier
	Collector *metrics.Collector
	Logger    *log.Logger
}

// Host owns one plugin session.
type Host struct {
	cfg       Config
	transport transport.Transport
	decoder   *ipc.Decoder
	table     *rpc.Table
	coord     *coord.Coordinator
	holder    *state.Holder
	dispatch  *dispatch.Dispatcher
	runner    *nvimio.Runner
	naming    trigger.Naming
	collector *metrics.Collector
	logger    *log.Logger

	ctx context.Context

	exitOnce sync.Once
	exited   chan struct{}

	infoMu  sync.Mutex
	apiInfo *APIInfo
}

// New wires a Host over tr. Programs of the enabled components are
// registered immediately; nothing is sent until Run.
func New(cfg Config, tr transport.Transport) (*Host, error) {
	if cfg.Meta == nil {
		return nil, errors.New("session metadata is required")
	}
	if err := cfg.Meta.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	if cfg.Collector == nil {
		cfg.Collector = metrics.NewCollector(cfg.Meta.SessionID, cfg.Meta.PluginName, string(cfg.Meta.Mode))
	}

	components, err := cfg.Plugin.Enabled(cfg.Components)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(components))
	for _, c := range components {
		names = append(names, c.Name)
	}

	logger := cfg.Logger
	h := &Host{
		cfg:       cfg,
		transport: tr,
		decoder:   ipc.NewDecoder(),
		table:     rpc.NewTable(logger.Named("rpc"), cfg.Collector),
		coord:     coord.New(logger.Named("coord")),
		runner:    nvimio.NewRunner(logger),
		naming:    trigger.Naming{PluginName: cfg.Meta.PluginName, Prefix: cfg.Meta.Prefix},
		collector: cfg.Collector,
		logger:    logger,
		ctx:       context.Background(),
		exited:    make(chan struct{}),
	}

	h.holder = state.NewHolder(state.PluginState{
		Data:       cfg.Plugin.InitialData,
		Components: names,
	}, cfg.Collector, logger.Named("state"))
	if err := h.holder.Programs().RegisterComponents(components); err != nil {
		return nil, err
	}

	h.dispatch = dispatch.New(h.holder, h.coord, h, dispatch.Config{
		InitWait:       cfg.InitWait,
		ProgramTimeout: cfg.ProgramTimeout,
	}, cfg.Collector, logger.Named("dispatch"))
	return h, nil
}

// State returns the state holder.
func (h *Host) State() *state.Holder { return h.holder }

// Collector returns the session metrics.
func (h *Host) Collector() *metrics.Collector { return h.collector }

// APIInfo returns the cached editor API info once startup fetched it.
func (h *Host) APIInfo() (APIInfo, bool) {
	h.infoMu.Lock()
	defer h.infoMu.Unlock()
	if h.apiInfo == nil {
		return APIInfo{}, false
	}
	return *h.apiInfo, true
}

// Run starts the transport, performs startup and serves until the
// transport closes or ctx ends. Transport-originated exits, read
// failures included, are logged and return nil.
func (h *Host) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	h.ctx = ctx
	started := time.Now()

	if err := h.transport.Start(h.onMessage, h.onTransportExit); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}
	h.logger.Info("session started", map[string]any{"version": types.Version})

	startupDone := make(chan struct{})
	go func() {
		defer close(startupDone)
		h.startup(ctx)
	}()

	select {
	case <-h.exited:
	case <-ctx.Done():
		h.logger.Info("session cancelled", map[string]any{"reason": context.Cause(ctx).Error()})
	}
	cancel()

	h.shutdown(startupDone, started)
	return nil
}

// startup runs api info, init, trigger definition, the initialized flag
// and the started variable, in that order. Any failure stops the
// sequence; the session keeps serving but never reports started.
func (h *Host) startup(ctx context.Context) {
	ed := h.Editor(nil)

	fail := func(phase string, res nvimio.Result) {
		h.collector.IncInitFailure()
		h.logger.Error("startup failed", map[string]any{
			"phase": phase,
			"error": res.ErrorMessage(),
		})
		event := h.event(adapter.EventSessionStarted)
		event.Outcome = adapter.OutcomeInitFailed
		event.Error = fmt.Sprintf("%s: %s", phase, res.ErrorMessage())
		h.cfg.Notifier.Notify(ctx, event)
	}

	res := h.runner.Run(ctx, ed, nvimio.Request("nvim_get_api_info"))
	if !res.IsSuccess() {
		fail("api_info", res)
		return
	}
	info, err := ParseAPIInfo(res.Value)
	if err != nil {
		fail("api_info", nvimio.Failure(err.Error()))
		return
	}
	h.infoMu.Lock()
	h.apiInfo = &info
	h.infoMu.Unlock()
	h.logger.Info("editor connected", map[string]any{
		"channel_id": info.ChannelID,
		"version":    info.Version(),
	})

	if initProg := h.cfg.Plugin.Init; initProg != nil {
		p := initProg.WithDefaults()
		if res := h.dispatch.RunExclusive(ctx, p, nil); !res.IsSuccess() {
			fail("init", res)
			return
		}
	}

	if res := h.runner.Run(ctx, ed, trigger.Define(info.ChannelID, h.naming, h.holder.Programs().All())); !res.IsSuccess() {
		fail("triggers", res)
		return
	}

	h.holder.SetInitialized()

	if res := h.runner.Run(ctx, ed, nvimio.SetVar(h.cfg.Meta.Prefix+"_started", 1)); !res.IsSuccess() {
		fail("started_var", res)
		return
	}

	h.logger.Info("plugin ready", map[string]any{
		"programs":   h.holder.Programs().Len(),
		"components": h.holder.Current().Components,
	})
	event := h.event(adapter.EventSessionStarted)
	event.Outcome = adapter.OutcomeOK
	h.cfg.Notifier.Notify(ctx, event)
}

func (h *Host) onMessage(chunk []byte) {
	for _, r := range h.decoder.Receives(chunk) {
		h.route(r)
	}
}

func (h *Host) route(r ipc.Receive) {
	switch m := r.(type) {
	case ipc.Request:
		h.dispatch.HandleRequest(h.ctx, m)
	case ipc.Notification:
		h.dispatch.HandleNotification(h.ctx, m)
	case ipc.Response:
		h.table.Complete(m.ID, rpc.Completion{Value: m.Result})
	case ipc.ErrorResponse:
		h.table.Complete(m.ID, rpc.Completion{Err: &rpc.Error{Message: m.Message}})
	case ipc.Malformed:
		h.collector.IncMalformedFrame()
		h.logger.Warn("malformed frame", map[string]any{"reason": m.Reason})
	case ipc.Exit:
		h.onExit(m)
	}
}

// onTransportExit feeds the transport close through route like any
// other inbound message.
func (h *Host) onTransportExit(err error) {
	h.route(ipc.ExitFrom(err))
}

// onExit runs on the reader goroutine when the transport closes. Pending
// requests are completed here so that waiting programs unblock at once.
func (h *Host) onExit(m ipc.Exit) {
	h.exitOnce.Do(func() {
		drained := h.table.Drain(ExitReason)
		fields := map[string]any{"drained": drained, "reason": m.Reason}
		if m.Err != nil {
			h.logger.Warn("transport closed", fields)
		} else {
			h.logger.Info("transport closed", fields)
		}
		close(h.exited)
	})
}

func (h *Host) shutdown(startupDone <-chan struct{}, started time.Time) {
	if err := h.transport.Stop(); err != nil {
		h.logger.Warn("failed to stop transport", map[string]any{"error": err.Error()})
	}
	h.table.Drain(ExitReason)

	<-startupDone
	h.dispatch.Wait()

	joined := make(chan struct{})
	go func() {
		h.transport.Join()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(joinGrace):
		h.logger.Warn("transport reader still blocked after stop", nil)
	}

	snap := h.collector.Snapshot()
	h.logger.Info("session ended", snap.Map())

	event := h.event(adapter.EventSessionEnded)
	event.DurationMs = time.Since(started).Milliseconds()
	event.Counters = counters(snap)
	h.cfg.Notifier.Notify(context.Background(), event)
	h.cfg.Notifier.Close()
}

func (h *Host) event(eventType string) *adapter.SessionEvent {
	e := adapter.NewSessionEvent(eventType, h.cfg.Meta, time.Now())
	if info, ok := h.APIInfo(); ok {
		e.ChannelID = info.ChannelID
	}
	return e
}

func counters(s metrics.Snapshot) map[string]int64 {
	out := make(map[string]int64)
	for k, v := range s.Map() {
		if n, ok := v.(int64); ok {
			out[k] = n
		}
	}
	return out
}
