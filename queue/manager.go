// manager.go
package queue

import (
	"dgtgateway-go/types"
	"dgtgateway-go/x/logx"
	"dgtgateway-go/x/timex"
)

// Queue capacities and health tuning.
const (
	CommandQueueSize = 10
	EventQueueSize   = 20

	DefaultSendTimeoutMs = 1000

	healthCheckIntervalMs = 5000
	healthThreshold       = 0.8 // utilization above which a queue is unhealthy
)

// Stats counts queue traffic. Raw commands are intentionally not counted
// here; the clock task tracks them.
type Stats struct {
	EventsQueued       uint32
	EventsProcessed    uint32
	QueueOverflows     uint32
	QueueTimeouts      uint32
	MaxEventQueueDepth int
}

// Manager owns the three queues that decouple the BLE loop from the clock
// task: raw commands (BLE -> clock), events and responses (clock -> BLE).
type Manager struct {
	rawCommands *Queue[*types.RawCommand]
	events      *Queue[*types.Event]
	responses   *Queue[*types.CommandResponse]

	stats Stats

	lastHealthCheck int64
	healthy         bool

	log *logx.Logger
}

// NewManager creates the three queues at their fixed capacities.
func NewManager() *Manager {
	return &Manager{
		rawCommands:     New[*types.RawCommand](CommandQueueSize),
		events:          New[*types.Event](EventQueueSize),
		responses:       New[*types.CommandResponse](CommandQueueSize),
		lastHealthCheck: timex.NowMs(),
		healthy:         true,
		log:             logx.New("queue"),
	}
}

// --- Raw command queue (BLE -> clock task) ---

// SendRawCommand hands a command to the clock task. On timeout the command
// is dropped and false is returned.
func (m *Manager) SendRawCommand(cmd *types.RawCommand, timeoutMs uint32) bool {
	if cmd == nil {
		return false
	}
	if !m.rawCommands.Send(cmd, timeoutMs) {
		m.log.Warnf("raw command dropped (len %d), queue full", len(cmd.Payload))
		return false
	}
	return true
}

// RecvRawCommand takes the next pending command, or nil.
func (m *Manager) RecvRawCommand(timeoutMs uint32) *types.RawCommand {
	cmd, ok := m.rawCommands.Recv(timeoutMs)
	if !ok {
		return nil
	}
	return cmd
}

func (m *Manager) RawCommandQueueDepth() int { return m.rawCommands.Depth() }

// --- Event queue (clock task -> BLE) ---

// SendEvent queues an event for notification. Events are best-effort: a
// full queue drops the event and bumps the overflow counter.
func (m *Manager) SendEvent(ev *types.Event, timeoutMs uint32) bool {
	if ev == nil {
		return false
	}
	ok := m.events.Send(ev, timeoutMs)
	m.noteEventSend(ok)
	if !ok {
		m.log.Warnf("event dropped: %s", ev.Kind)
	}
	return ok
}

// SendPriorityEvent inserts an event at the head of the event queue.
// Successive priority events keep their insertion order.
func (m *Manager) SendPriorityEvent(ev *types.Event, timeoutMs uint32) bool {
	if ev == nil {
		return false
	}
	ok := m.events.SendFront(ev, timeoutMs)
	m.noteEventSend(ok)
	if !ok {
		m.log.Warnf("priority event dropped: %s", ev.Kind)
	}
	return ok
}

// RecvEvent takes the next event, or nil.
func (m *Manager) RecvEvent(timeoutMs uint32) *types.Event {
	ev, ok := m.events.Recv(timeoutMs)
	if !ok {
		if timeoutMs > 0 {
			m.stats.QueueTimeouts++
		}
		return nil
	}
	m.stats.EventsProcessed++
	return ev
}

func (m *Manager) EventQueueDepth() int { return m.events.Depth() }

// --- Response queue (clock task -> BLE) ---

func (m *Manager) SendResponse(r *types.CommandResponse, timeoutMs uint32) bool {
	if r == nil {
		return false
	}
	if !m.responses.Send(r, timeoutMs) {
		m.log.Warnf("response dropped for id %q", r.ID)
		return false
	}
	return true
}

func (m *Manager) RecvResponse(timeoutMs uint32) *types.CommandResponse {
	r, ok := m.responses.Recv(timeoutMs)
	if !ok {
		return nil
	}
	return r
}

func (m *Manager) ResponseQueueDepth() int { return m.responses.Depth() }

// --- Statistics and health ---

func (m *Manager) noteEventSend(ok bool) {
	if ok {
		m.stats.EventsQueued++
		if d := m.events.Depth(); d > m.stats.MaxEventQueueDepth {
			m.stats.MaxEventQueueDepth = d
		}
	} else {
		m.stats.QueueOverflows++
	}
}

// Statistics returns a copy of the current counters.
func (m *Manager) Statistics() Stats { return m.stats }

// ResetStatistics zeroes all counters.
func (m *Manager) ResetStatistics() { m.stats = Stats{} }

// Healthy reports whether every queue sits below the utilization threshold.
// The check runs at most once per healthCheckIntervalMs; between checks the
// cached verdict is returned.
func (m *Manager) Healthy() bool {
	if timex.SinceMs(m.lastHealthCheck) < healthCheckIntervalMs {
		return m.healthy
	}
	m.lastHealthCheck = timex.NowMs()

	m.healthy = m.rawCommands.Utilization() < healthThreshold &&
		m.events.Utilization() < healthThreshold &&
		m.responses.Utilization() < healthThreshold
	if !m.healthy {
		m.log.Warnf("queue health check failed: cmd=%.0f%% evt=%.0f%% resp=%.0f%%",
			m.rawCommands.Utilization()*100, m.events.Utilization()*100, m.responses.Utilization()*100)
	}
	return m.healthy
}

// FlushAll drains and drops everything still queued. Called before the
// queues are abandoned (BLE disconnect, shutdown).
func (m *Manager) FlushAll() {
	n := m.rawCommands.Flush() + m.events.Flush() + m.responses.Flush()
	if n > 0 {
		m.log.Warnf("flushed %d queued items", n)
	}
}
