package host

import (
	"context"
	"fmt"
	"time"

	"github.com/pithecene-io/nvplug/coord"
	"github.com/pithecene-io/nvplug/ipc"
	"github.com/pithecene-io/nvplug/nvimio"
	"github.com/pithecene-io/nvplug/rpc"
)

// editor is the effect target handed to one program execution. While
// the program waits on the editor it hands its lease to any request that
// queued behind it, which is how a nested request runs to completion
// before the outer program resumes.
type editor struct {
	h     *Host
	lease *coord.Lease
}

var _ nvimio.Editor = (*editor)(nil)

// Editor implements dispatch.Session.
func (h *Host) Editor(lease *coord.Lease) nvimio.Editor {
	return &editor{h: h, lease: lease}
}

func (e *editor) Request(ctx context.Context, method string, args []any) (any, error) {
	return e.h.call(ctx, e.lease, method, args)
}

func (e *editor) Notify(method string, args []any) error {
	return e.h.notify(method, args)
}

func (e *editor) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return nil
		case <-e.lease.Pending():
			e.lease.Yield()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// call issues a blocking request. The entry is registered before the
// frame is written and removed by exactly one of response, error,
// timeout, ctx cancellation or drain.
func (h *Host) call(ctx context.Context, lease *coord.Lease, method string, args []any) (any, error) {
	id := h.table.Allocate()
	r := rpc.Rpc{Method: method, Args: args, Kind: rpc.Blocking}
	pending, err := h.table.Register(id, r)
	if err != nil {
		return nil, err
	}

	if timeout := h.cfg.RequestTimeout; timeout > 0 {
		timer := time.AfterFunc(timeout, func() {
			if h.table.Cancel(id, fmt.Sprintf("%s timed out after %.1fs", r, timeout.Seconds())) {
				h.collector.IncRPCTimeout()
			}
		})
		defer timer.Stop()
	}

	frame, err := ipc.EncodeRequest(id, method, args)
	if err != nil {
		h.table.Cancel(id, err.Error())
		return nil, err
	}
	if err := h.transport.Send(frame); err != nil {
		h.table.Cancel(id, err.Error())
		return nil, &rpc.Error{Method: method, Message: err.Error()}
	}
	h.collector.IncOutboundRequest()

	for {
		select {
		case c := <-pending.Done():
			return c.Value, c.Err
		case <-lease.Pending():
			lease.Yield()
		case <-ctx.Done():
			// A completion that raced the cancellation wins.
			h.table.Cancel(id, ctx.Err().Error())
			c := <-pending.Done()
			return c.Value, c.Err
		}
	}
}

func (h *Host) notify(method string, args []any) error {
	frame, err := ipc.EncodeNotification(method, args)
	if err != nil {
		return err
	}
	if err := h.transport.Send(frame); err != nil {
		return err
	}
	h.collector.IncOutboundNotification()
	return nil
}

// Respond implements dispatch.Session. A result that cannot be encoded
// is reported to the editor as an error instead.
func (h *Host) Respond(id uint32, errValue, result any) error {
	frame, err := ipc.EncodeResponse(id, errValue, result)
	if err != nil {
		h.logger.Error("failed to encode response", map[string]any{"id": id, "error": err.Error()})
		frame, err = ipc.EncodeResponse(id, fmt.Sprintf("failed to encode result: %v", err), nil)
		if err != nil {
			return err
		}
	}
	return h.transport.Send(frame)
}
