// status.go
package types

import (
	"dgtgateway-go/errcode"
	"dgtgateway-go/x/timex"
)

// SystemStatus is the shared status snapshot surfaced on the BLE status
// characteristic. Each field is written by exactly one component (clock task
// or BLE service); readers accept momentary tears on non-atomic reads, so no
// lock is taken here.
type SystemStatus struct {
	SystemState        SystemState
	BLEConnectionState ConnectionState
	DGTConnectionState ConnectionState
	DGTConfigured      bool

	UptimeMs     int64
	LastActivity int64
	FreeHeapKB   uint32
	TemperatureC int16

	CommandsProcessed uint32
	EventsGenerated   uint32

	LastError        errcode.Code
	LastErrorMessage string
}

// bootMs is the process start time that uptime is measured from.
var bootMs = timex.NowMs()

// UpdateUptime refreshes the uptime counter.
func (s *SystemStatus) UpdateUptime() { s.UptimeMs = timex.SinceMs(bootMs) }

// UpdateActivity stamps the last-activity time.
func (s *SystemStatus) UpdateActivity() { s.LastActivity = timex.NowMs() }

// SetLastError records the most recent error code and message, truncating
// the message to the wire limit.
func (s *SystemStatus) SetLastError(code errcode.Code, msg string) {
	s.LastError = code
	if len(msg) > MaxErrorMessageLength {
		msg = msg[:MaxErrorMessageLength]
	}
	s.LastErrorMessage = msg
}
