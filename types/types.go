// types.go
package types

import (
	"dgtgateway-go/errcode"
)

// Application-wide limits.
const (
	MaxCommandIDLength    = 32  // command correlation id, bytes
	MaxErrorMessageLength = 128 // error message, bytes
	MaxCommandBytes       = 512 // raw JSON command payload, bytes
)

// -----------------------------------------------------------------------------
// States
// -----------------------------------------------------------------------------

// SystemState is the coarse state of the whole gateway.
type SystemState uint8

const (
	SystemUninitialized SystemState = iota
	SystemInitializing
	SystemIdle
	SystemActive
	SystemErrorRecovery
)

func (s SystemState) String() string {
	switch s {
	case SystemUninitialized:
		return "Uninitialized"
	case SystemInitializing:
		return "Initializing"
	case SystemIdle:
		return "Idle"
	case SystemActive:
		return "Active"
	case SystemErrorRecovery:
		return "Error Recovery"
	default:
		return "Unknown State"
	}
}

// TaskState is the lifecycle state of the clock task.
// Exactly one transition per operation; set under the task state mutex, with
// an unlocked write as fallback when the mutex stays contended for 100 ms.
type TaskState uint8

const (
	TaskIdle TaskState = iota
	TaskInitialized
	TaskRunning
	TaskStopping
	TaskError
)

func (s TaskState) String() string {
	switch s {
	case TaskIdle:
		return "IDLE"
	case TaskInitialized:
		return "INITIALIZED"
	case TaskRunning:
		return "RUNNING"
	case TaskStopping:
		return "STOPPING"
	case TaskError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ConnectionState is tracked independently for the BLE and clock sides.
type ConnectionState uint8

const (
	Disconnected ConnectionState = iota
	Connected
	Configured
	ConnError
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connected:
		return "Connected"
	case Configured:
		return "Configured"
	case ConnError:
		return "Error"
	default:
		return "Unknown Connection State"
	}
}

// -----------------------------------------------------------------------------
// Queue payloads
// -----------------------------------------------------------------------------

// RawCommand is an opaque command payload written by a BLE client.
// It is created on GATT write, consumed at most once by the clock task.
type RawCommand struct {
	Timestamp int64  // Unix wall-clock ms at reception (timex.NowMs), not monotonic
	Payload   []byte // textual JSON object, 0 < len < MaxCommandBytes
}

// CommandResponse is the correlated reply to one RawCommand.
// On success Result is set; on failure ErrorCode/ErrorMessage are.
type CommandResponse struct {
	ID        string
	Success   bool
	Timestamp int64

	Result map[string]any

	ErrorCode    errcode.Code
	ErrorMessage string
}

// EventKind discriminates asynchronous notifications sent to the client.
type EventKind uint8

const (
	TimeUpdate EventKind = iota
	ButtonEvent
	ConnectionStatus
	ErrorEvent
	SystemStatusEvent
)

// String returns the wire name used in the notification JSON.
func (k EventKind) String() string {
	switch k {
	case TimeUpdate:
		return "timeUpdate"
	case ButtonEvent:
		return "buttonEvent"
	case ConnectionStatus:
		return "connectionStatus"
	case ErrorEvent:
		return "error"
	case SystemStatusEvent:
		return "systemStatus"
	default:
		return "unknown"
	}
}

// Event priorities.
const (
	PriorityHigh   uint8 = 0 // may be inserted at the head of the event queue
	PriorityNormal uint8 = 1
)

// Event is one asynchronous notification from the clock task to the client.
type Event struct {
	Kind      EventKind
	Timestamp int64
	Priority  uint8
	Data      map[string]any
}

// -----------------------------------------------------------------------------
// Clock time
// -----------------------------------------------------------------------------

// ClockTime is one snapshot of both timers.
// Invariants: hours 0-9, minutes and seconds 0-59.
type ClockTime struct {
	LeftHours    uint8 `json:"leftHours"`
	LeftMinutes  uint8 `json:"leftMinutes"`
	LeftSeconds  uint8 `json:"leftSeconds"`
	RightHours   uint8 `json:"rightHours"`
	RightMinutes uint8 `json:"rightMinutes"`
	RightSeconds uint8 `json:"rightSeconds"`
}

// Valid reports whether every field respects the timer ranges.
func (t ClockTime) Valid() bool {
	return t.LeftHours <= 9 && t.RightHours <= 9 &&
		t.LeftMinutes <= 59 && t.RightMinutes <= 59 &&
		t.LeftSeconds <= 59 && t.RightSeconds <= 59
}
