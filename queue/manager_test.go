// queue/manager_test.go
package queue

import (
	"testing"

	"dgtgateway-go/types"
)

func testEvent() *types.Event {
	return &types.Event{Kind: types.TimeUpdate, Priority: types.PriorityNormal}
}

func TestManagerEventStats(t *testing.T) {
	m := NewManager()

	m.SendEvent(testEvent(), 0)
	m.SendEvent(testEvent(), 0)
	m.SendPriorityEvent(testEvent(), 0)

	s := m.Statistics()
	if s.EventsQueued != 3 {
		t.Errorf("EventsQueued = %d, want 3", s.EventsQueued)
	}
	if s.MaxEventQueueDepth != 3 {
		t.Errorf("MaxEventQueueDepth = %d, want 3", s.MaxEventQueueDepth)
	}

	m.RecvEvent(0)
	if s = m.Statistics(); s.EventsProcessed != 1 {
		t.Errorf("EventsProcessed = %d, want 1", s.EventsProcessed)
	}
}

func TestManagerEventOverflow(t *testing.T) {
	m := NewManager()
	for i := 0; i < EventQueueSize; i++ {
		if !m.SendEvent(testEvent(), 0) {
			t.Fatalf("event %d dropped before capacity", i)
		}
	}
	if m.SendEvent(testEvent(), 0) {
		t.Error("event accepted past capacity")
	}
	if s := m.Statistics(); s.QueueOverflows != 1 {
		t.Errorf("QueueOverflows = %d, want 1", s.QueueOverflows)
	}
}

func TestManagerPriorityEventOrdering(t *testing.T) {
	m := NewManager()

	normal := &types.Event{Kind: types.TimeUpdate, Priority: types.PriorityNormal}
	urgent := &types.Event{Kind: types.ErrorEvent, Priority: types.PriorityHigh}
	m.SendEvent(normal, 0)
	m.SendPriorityEvent(urgent, 0)

	if got := m.RecvEvent(0); got == nil || got.Kind != types.ErrorEvent {
		t.Error("priority event did not jump the queue")
	}
	if got := m.RecvEvent(0); got == nil || got.Kind != types.TimeUpdate {
		t.Error("normal event lost")
	}
}

func TestManagerRawCommandsNotCountedInEventStats(t *testing.T) {
	m := NewManager()
	m.SendRawCommand(&types.RawCommand{Payload: []byte(`{}`)}, 0)
	if s := m.Statistics(); s.EventsQueued != 0 {
		t.Errorf("raw command counted as event: EventsQueued = %d", s.EventsQueued)
	}
	if got := m.RecvRawCommand(0); got == nil {
		t.Error("raw command lost")
	}
}

func TestManagerNilItemsRejected(t *testing.T) {
	m := NewManager()
	if m.SendRawCommand(nil, 0) || m.SendEvent(nil, 0) || m.SendResponse(nil, 0) {
		t.Error("nil item accepted")
	}
}

func TestManagerHealth(t *testing.T) {
	m := NewManager()
	if !m.Healthy() {
		t.Fatal("fresh manager unhealthy")
	}

	// Push the event queue over the utilization threshold, then force the
	// check interval to have elapsed.
	for i := 0; i < EventQueueSize-2; i++ {
		m.SendEvent(testEvent(), 0)
	}
	m.lastHealthCheck = 0
	if m.Healthy() {
		t.Error("manager healthy at 90% event queue utilization")
	}

	// Verdict is cached until the next interval.
	m.FlushAll()
	if m.Healthy() {
		t.Error("health verdict not cached between checks")
	}
	m.lastHealthCheck = 0
	if !m.Healthy() {
		t.Error("manager still unhealthy after flush")
	}
}

func TestManagerFlushAll(t *testing.T) {
	m := NewManager()
	m.SendRawCommand(&types.RawCommand{Payload: []byte(`{}`)}, 0)
	m.SendEvent(testEvent(), 0)
	m.SendResponse(&types.CommandResponse{ID: "x"}, 0)

	m.FlushAll()

	if m.RawCommandQueueDepth() != 0 || m.EventQueueDepth() != 0 || m.ResponseQueueDepth() != 0 {
		t.Error("queues not empty after FlushAll")
	}
	if m.RecvRawCommand(0) != nil || m.RecvEvent(0) != nil || m.RecvResponse(0) != nil {
		t.Error("flushed item surfaced in Recv")
	}
}
