// services/clocktask/events.go
package clocktask

import (
	"errors"

	"dgtgateway-go/drivers/dgt3000"
	"dgtgateway-go/errcode"
	"dgtgateway-go/types"
	"dgtgateway-go/x/timex"
)

// handleEvents runs once per loop iteration while the clock is connected:
// discrete button events first, then hold-repeat detection, then time.
func (t *Task) handleEvents() {
	t.generateButtonEvents()
	t.handleButtonRepeat()

	if t.link.NewTimeAvailable() {
		t.generateTimeEvent(t.link.Time())
	}
}

// -----------------------------------------------------------------------------
// Buttons
// -----------------------------------------------------------------------------

// generateButtonEvents drains the link's button ring. Each discrete event
// is high priority and resets the repeat monitor.
func (t *Task) generateButtonEvents() {
	for {
		code, ok := t.link.ButtonEvent()
		if !ok {
			return
		}
		name := buttonName(code)
		ev := &types.Event{
			Kind:      types.ButtonEvent,
			Timestamp: timex.NowMs(),
			Priority:  types.PriorityHigh,
			Data: map[string]any{
				"button":     name,
				"buttonCode": code,
				"isRepeat":   false,
			},
		}
		if t.queues.SendPriorityEvent(ev, 2) {
			t.stats.EventsGenerated++
			t.status.EventsGenerated++
			t.repeat = repeatMonitor{}
			t.log.Infof("button event: %s (code: 0x%02X)", name, code)
		}
	}
}

// repeatMonitor tracks a held main-button mask and decides when to fire
// repeat events. It is pure state; the timings come from the task config so
// the logic is testable without real holds.
type repeatMonitor struct {
	active      bool
	lastMask    uint8
	lastTs      int64
	repeatCount uint32
}

// update advances the monitor with the current held mask (already
// restricted to the main five buttons). It reports whether a repeat fires.
func (m *repeatMonitor) update(nowMs int64, mask uint8, initialMs, intervalMs int64) bool {
	if mask == 0 {
		m.active = false
		m.repeatCount = 0
		return false
	}
	if !m.active {
		m.active = true
		m.lastMask = mask
		m.lastTs = nowMs
		m.repeatCount = 0
	}
	if m.lastMask != mask {
		// A different button is held now; start over.
		m.active = false
		m.repeatCount = 0
		return false
	}
	threshold := intervalMs
	if m.repeatCount == 0 {
		threshold = initialMs
	}
	if nowMs-m.lastTs > threshold {
		m.repeatCount++
		m.lastTs = nowMs
		return true
	}
	return false
}

func (t *Task) handleButtonRepeat() {
	mask := t.link.ButtonState() & dgt3000.MainButtonsMask
	if !t.repeat.update(timex.NowMs(), mask,
		t.cfg.RepeatInitialDelay.Milliseconds(), t.cfg.RepeatInterval.Milliseconds()) {
		return
	}

	name := buttonName(mask)
	ev := &types.Event{
		Kind:      types.ButtonEvent,
		Timestamp: timex.NowMs(),
		Priority:  types.PriorityHigh,
		Data: map[string]any{
			"button":      name,
			"buttonCode":  mask,
			"isRepeat":    true,
			"repeatCount": t.repeat.repeatCount,
		},
	}
	if t.queues.SendPriorityEvent(ev, 2) {
		t.stats.EventsGenerated++
		t.status.EventsGenerated++
		t.log.Infof("button repeat: %s (count: %d)", name, t.repeat.repeatCount)
	}
}

// buttonName maps a button or event code to its wire name.
func buttonName(code uint8) string {
	switch code {
	case dgt3000.ButtonBack:
		return "back"
	case dgt3000.ButtonMinus:
		return "minus"
	case dgt3000.ButtonPlayPause:
		return "play_pause"
	case dgt3000.ButtonPlus:
		return "plus"
	case dgt3000.ButtonForward:
		return "forward"
	case dgt3000.EventOnOffPress:
		return "on_off_press"
	case dgt3000.EventOnOffRelease:
		return "on_off_release"
	case dgt3000.EventLeverRight:
		return "lever_right"
	case dgt3000.EventLeverLeft:
		return "lever_left"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Time, connection and error events
// -----------------------------------------------------------------------------

func (t *Task) generateTimeEvent(tm [6]uint8) {
	ev := &types.Event{
		Kind:      types.TimeUpdate,
		Timestamp: timex.NowMs(),
		Priority:  types.PriorityNormal,
		Data: map[string]any{
			"leftHours":    tm[0],
			"leftMinutes":  tm[1],
			"leftSeconds":  tm[2],
			"rightHours":   tm[3],
			"rightMinutes": tm[4],
			"rightSeconds": tm[5],
		},
	}
	if t.queues.SendEvent(ev, 2) {
		t.stats.EventsGenerated++
		t.status.EventsGenerated++
		t.log.Debugf("time event sent: L %d:%02d:%02d R %d:%02d:%02d",
			tm[0], tm[1], tm[2], tm[3], tm[4], tm[5])
	}
}

func (t *Task) generateConnectionStatusEvent(connected, configured bool) {
	ev := &types.Event{
		Kind:      types.ConnectionStatus,
		Timestamp: timex.NowMs(),
		Priority:  types.PriorityNormal,
		Data: map[string]any{
			"connected":  connected,
			"configured": configured,
		},
	}
	t.queues.SendEvent(ev, 100)
}

func (t *Task) generateErrorEvent(code errcode.Code, msg string) {
	if msg == "" {
		msg = code.String()
	}
	ev := &types.Event{
		Kind:      types.ErrorEvent,
		Timestamp: timex.NowMs(),
		Priority:  types.PriorityHigh,
		Data: map[string]any{
			"errorCode":    uint16(code),
			"errorMessage": msg,
		},
	}
	if t.queues.SendPriorityEvent(ev, 100) {
		t.log.Infof("error event sent: %s", msg)
	} else {
		t.log.Warnf("failed to send error event: %s", msg)
	}
}

// -----------------------------------------------------------------------------
// Link error translation
// -----------------------------------------------------------------------------

// mapLinkError translates a driver error into the wire error code.
func mapLinkError(err error) errcode.Code {
	switch {
	case err == nil:
		return errcode.Success
	case errors.Is(err, dgt3000.ErrI2C), errors.Is(err, dgt3000.ErrI2CInit):
		return errcode.I2CCommunicationError
	case errors.Is(err, dgt3000.ErrTimeout), errors.Is(err, dgt3000.ErrNoAck):
		return errcode.CommandTimeout
	case errors.Is(err, dgt3000.ErrNotConfigured):
		return errcode.DGTNotConfigured
	case errors.Is(err, dgt3000.ErrCRC):
		return errcode.I2CCRCError
	case errors.Is(err, dgt3000.ErrClockOff):
		return errcode.DGTNotConnected
	default:
		return errcode.UnknownError
	}
}

// fatalLinkError reports whether the error class should drop the link.
func fatalLinkError(err error) bool {
	return errors.Is(err, dgt3000.ErrI2C) || errors.Is(err, dgt3000.ErrTimeout) ||
		errors.Is(err, dgt3000.ErrNoAck) || errors.Is(err, dgt3000.ErrClockOff) ||
		errors.Is(err, dgt3000.ErrCRC) || errors.Is(err, dgt3000.ErrNotConfigured)
}

// handleLinkError records and publishes a transport failure. Fatal-class
// errors mark the clock disconnected so the recovery loop takes over.
func (t *Task) handleLinkError(err error) {
	if err == nil {
		return
	}
	t.log.Errorf("DGT3000 error: %v", err)
	t.stats.DGTErrors++

	code := mapLinkError(err)
	t.generateErrorEvent(code, err.Error())
	t.status.SetLastError(code, err.Error())

	if fatalLinkError(err) && t.dgtConn == types.Connected {
		t.log.Warnf("DGT3000 disconnected due to error")
		t.dgtConn = types.Disconnected
		t.dgtConfigured = false
		t.generateConnectionStatusEvent(false, false)
		t.updateConnectionState()
	}
}
