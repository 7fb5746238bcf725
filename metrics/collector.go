// Package metrics provides per-session metrics collection.
//
// The Collector accumulates counters for the lifetime of one plugin
// session. It is a leaf package with no internal dependencies so that
// every engine component can record into it.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all session metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Inbound traffic
	RequestsReceived      int64 `json:"requests_received" yaml:"requests_received"`
	NotificationsReceived int64 `json:"notifications_received" yaml:"notifications_received"`
	ResponsesReceived     int64 `json:"responses_received" yaml:"responses_received"`
	LateResponses         int64 `json:"late_responses" yaml:"late_responses"`
	MalformedFrames       int64 `json:"malformed_frames" yaml:"malformed_frames"`

	// Outbound traffic
	ResponsesSent         int64 `json:"responses_sent" yaml:"responses_sent"`
	OutboundRequests      int64 `json:"outbound_requests" yaml:"outbound_requests"`
	OutboundNotifications int64 `json:"outbound_notifications" yaml:"outbound_notifications"`
	RPCTimeouts           int64 `json:"rpc_timeouts" yaml:"rpc_timeouts"`

	// Programs
	ProgramSuccesses  int64 `json:"program_successes" yaml:"program_successes"`
	ProgramFailures   int64 `json:"program_failures" yaml:"program_failures"`
	ProgramFatals     int64 `json:"program_fatals" yaml:"program_fatals"`
	StatePublications int64 `json:"state_publications" yaml:"state_publications"`
	InitFailures      int64 `json:"init_failures" yaml:"init_failures"`

	// Dimensions (informational, set at construction)
	SessionID string `json:"session_id" yaml:"session_id"`
	Plugin    string `json:"plugin" yaml:"plugin"`
	Mode      string `json:"mode" yaml:"mode"`
}

// Map flattens the counters into a map keyed by their JSON names.
// Used for msgpack responses and lifecycle event payloads.
func (s Snapshot) Map() map[string]any {
	return map[string]any{
		"requests_received":      s.RequestsReceived,
		"notifications_received": s.NotificationsReceived,
		"responses_received":     s.ResponsesReceived,
		"late_responses":         s.LateResponses,
		"malformed_frames":       s.MalformedFrames,
		"responses_sent":         s.ResponsesSent,
		"outbound_requests":      s.OutboundRequests,
		"outbound_notifications": s.OutboundNotifications,
		"rpc_timeouts":           s.RPCTimeouts,
		"program_successes":      s.ProgramSuccesses,
		"program_failures":       s.ProgramFailures,
		"program_fatals":         s.ProgramFatals,
		"state_publications":     s.StatePublications,
		"init_failures":          s.InitFailures,
	}
}

// Collector accumulates metrics during a single session.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	requestsReceived      int64
	notificationsReceived int64
	responsesReceived     int64
	lateResponses         int64
	malformedFrames       int64

	responsesSent         int64
	outboundRequests      int64
	outboundNotifications int64
	rpcTimeouts           int64

	programSuccesses  int64
	programFailures   int64
	programFatals     int64
	statePublications int64
	initFailures      int64

	sessionID string
	plugin    string
	mode      string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(sessionID, plugin, mode string) *Collector {
	return &Collector{
		sessionID: sessionID,
		plugin:    plugin,
		mode:      mode,
	}
}

func (c *Collector) inc(counter *int64) {
	c.mu.Lock()
	*counter++
	c.mu.Unlock()
}

// --- Inbound ---

// IncRequestReceived records an inbound request frame.
func (c *Collector) IncRequestReceived() {
	if c == nil {
		return
	}
	c.inc(&c.requestsReceived)
}

// IncNotificationReceived records an inbound notification frame.
func (c *Collector) IncNotificationReceived() {
	if c == nil {
		return
	}
	c.inc(&c.notificationsReceived)
}

// IncResponseReceived records a response (or error response) matched to a pending request.
func (c *Collector) IncResponseReceived() {
	if c == nil {
		return
	}
	c.inc(&c.responsesReceived)
}

// IncLateResponse records a response whose id was no longer pending.
func (c *Collector) IncLateResponse() {
	if c == nil {
		return
	}
	c.inc(&c.lateResponses)
}

// IncMalformedFrame records a frame the classifier rejected.
func (c *Collector) IncMalformedFrame() {
	if c == nil {
		return
	}
	c.inc(&c.malformedFrames)
}

// --- Outbound ---

// IncResponseSent records a response frame written to the editor.
func (c *Collector) IncResponseSent() {
	if c == nil {
		return
	}
	c.inc(&c.responsesSent)
}

// IncOutboundRequest records a blocking request issued to the editor.
func (c *Collector) IncOutboundRequest() {
	if c == nil {
		return
	}
	c.inc(&c.outboundRequests)
}

// IncOutboundNotification records a fire-and-forget notification.
func (c *Collector) IncOutboundNotification() {
	if c == nil {
		return
	}
	c.inc(&c.outboundNotifications)
}

// IncRPCTimeout records an outbound request cancelled by its timeout.
func (c *Collector) IncRPCTimeout() {
	if c == nil {
		return
	}
	c.inc(&c.rpcTimeouts)
}

// --- Programs ---

// IncProgramSuccess records a program that finished with Success.
func (c *Collector) IncProgramSuccess() {
	if c == nil {
		return
	}
	c.inc(&c.programSuccesses)
}

// IncProgramFailure records a program that finished with a domain error.
func (c *Collector) IncProgramFailure() {
	if c == nil {
		return
	}
	c.inc(&c.programFailures)
}

// IncProgramFatal records a program that finished with a fatal error.
func (c *Collector) IncProgramFatal() {
	if c == nil {
		return
	}
	c.inc(&c.programFatals)
}

// IncStatePublication records a committed state replacement.
func (c *Collector) IncStatePublication() {
	if c == nil {
		return
	}
	c.inc(&c.statePublications)
}

// IncInitFailure records a failed startup phase.
func (c *Collector) IncInitFailure() {
	if c == nil {
		return
	}
	c.inc(&c.initFailures)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		RequestsReceived:      c.requestsReceived,
		NotificationsReceived: c.notificationsReceived,
		ResponsesReceived:     c.responsesReceived,
		LateResponses:         c.lateResponses,
		MalformedFrames:       c.malformedFrames,

		ResponsesSent:         c.responsesSent,
		OutboundRequests:      c.outboundRequests,
		OutboundNotifications: c.outboundNotifications,
		RPCTimeouts:           c.rpcTimeouts,

		ProgramSuccesses:  c.programSuccesses,
		ProgramFailures:   c.programFailures,
		ProgramFatals:     c.programFatals,
		StatePublications: c.statePublications,
		InitFailures:      c.initFailures,

		SessionID: c.sessionID,
		Plugin:    c.plugin,
		Mode:      c.mode,
	}
}
