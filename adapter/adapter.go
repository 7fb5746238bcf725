// Package adapter defines the boundary for publishing plugin session
// lifecycle events to downstream systems.
//
// The host owns adapter lifecycle; users provide configuration only.
// Publication is best-effort: a failing adapter never affects the
// editor session.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/nvplug/log"
	"github.com/pithecene-io/nvplug/types"
)

// Event types.
const (
	EventSessionStarted = "session_started"
	EventSessionEnded   = "session_ended"
)

// Outcomes carried by session_started.
const (
	OutcomeOK         = "ok"
	OutcomeInitFailed = "init_failed"
)

// SessionEvent is the payload published at session start and end.
type SessionEvent struct {
	EventType string `json:"event_type"`
	SessionID string `json:"session_id"`
	Plugin    string `json:"plugin"`
	Prefix    string `json:"prefix"`
	Mode      string `json:"mode"`
	Version   string `json:"version"`
	// Outcome is set on session_started.
	Outcome string `json:"outcome,omitempty"`
	// Error carries the init failure message.
	Error string `json:"error,omitempty"`
	// ChannelID is the editor-assigned channel, when known.
	ChannelID  int64            `json:"channel_id,omitempty"`
	Timestamp  string           `json:"timestamp"` // RFC 3339
	DurationMs int64            `json:"duration_ms,omitempty"`
	Counters   map[string]int64 `json:"counters,omitempty"`
}

// NewSessionEvent fills the session identity fields.
func NewSessionEvent(eventType string, meta *types.SessionMeta, now time.Time) *SessionEvent {
	e := &SessionEvent{
		EventType: eventType,
		Version:   types.Version,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
	if meta != nil {
		e.SessionID = meta.SessionID
		e.Plugin = meta.PluginName
		e.Prefix = meta.Prefix
		e.Mode = string(meta.Mode)
	}
	return e
}

// Adapter publishes session events to a downstream system.
type Adapter interface {
	// Publish sends an event. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *SessionEvent) error

	// Close releases adapter resources.
	Close() error
}

// Backoff returns the wait before retry attempt i (1-based): 500ms,
// doubling per attempt.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
}

// ErrPermanent marks a publish failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent failure")

// Retry calls attempt up to 1+retries times, sleeping Backoff between
// calls. It stops at the first success, when ctx is done, or when
// attempt returns an error wrapping ErrPermanent.
func Retry(ctx context.Context, retries int, attempt func(ctx context.Context) error) error {
	var lastErr error
	total := 1 + retries
	for i := range total {
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			case <-time.After(Backoff(i)):
			}
		} else if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}

		lastErr = attempt(ctx)
		if lastErr == nil || errors.Is(lastErr, ErrPermanent) {
			return lastErr
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", total, lastErr)
}

// Notifier publishes through an optional Adapter and only logs failures.
type Notifier struct {
	adapter Adapter
	timeout time.Duration
	logger  *log.Logger
}

// DefaultPublishTimeout bounds one best-effort publication.
const DefaultPublishTimeout = 10 * time.Second

// NewNotifier wraps a. A nil adapter makes every call a no-op.
func NewNotifier(a Adapter, timeout time.Duration, logger *log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	return &Notifier{adapter: a, timeout: timeout, logger: logger}
}

// Notify publishes event within the notifier's timeout.
func (n *Notifier) Notify(ctx context.Context, event *SessionEvent) {
	if n == nil || n.adapter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	if err := n.adapter.Publish(ctx, event); err != nil {
		n.logger.Warn("failed to publish session event", map[string]any{
			"event_type": event.EventType,
			"error":      err.Error(),
		})
		return
	}
	n.logger.Debug("published session event", map[string]any{"event_type": event.EventType})
}

// Close closes the adapter, logging failures.
func (n *Notifier) Close() {
	if n == nil || n.adapter == nil {
		return
	}
	if err := n.adapter.Close(); err != nil {
		n.logger.Warn("failed to close adapter", map[string]any{"error": err.Error()})
	}
}
