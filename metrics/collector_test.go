package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("sess-1", "scratch", "stdio")

	c.IncRequestReceived()
	c.IncRequestReceived()
	c.IncNotificationReceived()
	c.IncResponseReceived()
	c.IncLateResponse()
	c.IncMalformedFrame()
	c.IncMalformedFrame()
	c.IncMalformedFrame()
	c.IncResponseSent()
	c.IncOutboundRequest()
	c.IncOutboundNotification()
	c.IncRPCTimeout()
	c.IncProgramSuccess()
	c.IncProgramFailure()
	c.IncProgramFailure()
	c.IncProgramFatal()
	c.IncStatePublication()
	c.IncInitFailure()

	s := c.Snapshot()

	tests := []struct {
		name string
		got  int64
		want int64
	}{
		{"RequestsReceived", s.RequestsReceived, 2},
		{"NotificationsReceived", s.NotificationsReceived, 1},
		{"ResponsesReceived", s.ResponsesReceived, 1},
		{"LateResponses", s.LateResponses, 1},
		{"MalformedFrames", s.MalformedFrames, 3},
		{"ResponsesSent", s.ResponsesSent, 1},
		{"OutboundRequests", s.OutboundRequests, 1},
		{"OutboundNotifications", s.OutboundNotifications, 1},
		{"RPCTimeouts", s.RPCTimeouts, 1},
		{"ProgramSuccesses", s.ProgramSuccesses, 1},
		{"ProgramFailures", s.ProgramFailures, 2},
		{"ProgramFatals", s.ProgramFatals, 1},
		{"StatePublications", s.StatePublications, 1},
		{"InitFailures", s.InitFailures, 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.want)
		}
	}
}

func TestCollector_Dimensions(t *testing.T) {
	c := NewCollector("sess-42", "scratch", "embed")
	s := c.Snapshot()

	if s.SessionID != "sess-42" {
		t.Errorf("SessionID = %q, want %q", s.SessionID, "sess-42")
	}
	if s.Plugin != "scratch" {
		t.Errorf("Plugin = %q, want %q", s.Plugin, "scratch")
	}
	if s.Mode != "embed" {
		t.Errorf("Mode = %q, want %q", s.Mode, "embed")
	}
}

func TestSnapshot_Map(t *testing.T) {
	c := NewCollector("sess-1", "scratch", "stdio")
	c.IncResponseSent()
	c.IncResponseSent()

	m := c.Snapshot().Map()
	if m["responses_sent"] != int64(2) {
		t.Errorf("responses_sent = %v, want 2", m["responses_sent"])
	}
	if len(m) != 14 {
		t.Errorf("Map has %d entries, want 14", len(m))
	}
	if _, ok := m["session_id"]; ok {
		t.Error("Map should carry counters only")
	}
}

func TestCollector_SnapshotImmutability(t *testing.T) {
	c := NewCollector("sess-1", "scratch", "stdio")
	c.IncRequestReceived()

	s1 := c.Snapshot()

	c.IncRequestReceived()
	c.IncStatePublication()

	if s1.RequestsReceived != 1 {
		t.Errorf("s1.RequestsReceived = %d, want 1 (snapshot should be frozen)", s1.RequestsReceived)
	}
	if s1.StatePublications != 0 {
		t.Errorf("s1.StatePublications = %d, want 0 (snapshot should be frozen)", s1.StatePublications)
	}

	s2 := c.Snapshot()
	if s2.RequestsReceived != 2 {
		t.Errorf("s2.RequestsReceived = %d, want 2", s2.RequestsReceived)
	}
}

func TestCollector_NilReceiverSafety(t *testing.T) {
	var c *Collector

	// None of these should panic
	c.IncRequestReceived()
	c.IncNotificationReceived()
	c.IncResponseReceived()
	c.IncLateResponse()
	c.IncMalformedFrame()
	c.IncResponseSent()
	c.IncOutboundRequest()
	c.IncOutboundNotification()
	c.IncRPCTimeout()
	c.IncProgramSuccess()
	c.IncProgramFailure()
	c.IncProgramFatal()
	c.IncStatePublication()
	c.IncInitFailure()

	s := c.Snapshot()
	if s.RequestsReceived != 0 {
		t.Errorf("nil collector snapshot RequestsReceived = %d, want 0", s.RequestsReceived)
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	c := NewCollector("sess-1", "scratch", "stdio")
	const goroutines = 10
	const iterations = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for range goroutines {
		go func() {
			defer wg.Done()
			for range iterations {
				c.IncRequestReceived()
				c.IncOutboundRequest()
				c.IncMalformedFrame()
			}
		}()
	}

	wg.Wait()

	s := c.Snapshot()
	want := int64(goroutines * iterations)

	if s.RequestsReceived != want {
		t.Errorf("RequestsReceived = %d, want %d", s.RequestsReceived, want)
	}
	if s.OutboundRequests != want {
		t.Errorf("OutboundRequests = %d, want %d", s.OutboundRequests, want)
	}
	if s.MalformedFrames != want {
		t.Errorf("MalformedFrames = %d, want %d", s.MalformedFrames, want)
	}
}
