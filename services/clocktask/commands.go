// services/clocktask/commands.go
package clocktask

import (
	"encoding/json"

	"dgtgateway-go/drivers/dgt3000"
	"dgtgateway-go/errcode"
	"dgtgateway-go/types"
	"dgtgateway-go/x/mathx"
	"dgtgateway-go/x/timex"
)

// processCommand drains at most one raw command per loop iteration, parses
// it and dispatches. Commands without a usable id are dropped silently; a
// missing command name earns an error response; everything except
// getStatus requires a connected clock.
func (t *Task) processCommand() {
	raw := t.queues.RecvRawCommand(0)
	if raw == nil {
		return
	}
	t.stats.CommandsReceived++

	var doc map[string]any
	if err := json.Unmarshal(raw.Payload, &doc); err != nil {
		t.log.Errorf("JSON parse error: %v", err)
		return
	}

	id, _ := doc["id"].(string)
	if id == "" {
		t.log.Warnf("missing 'id' field in JSON command")
		return
	}
	if len(id) > types.MaxCommandIDLength {
		id = id[:types.MaxCommandIDLength]
	}

	name, _ := doc["command"].(string)
	if name == "" {
		t.log.Warnf("missing 'command' field in JSON command")
		t.sendCommandError(id, errcode.JSONInvalidCommand, "Missing 'id' or 'command' field")
		return
	}

	t.log.Infof("processing command: %s (id: %s)", name, id)

	if name != "getStatus" && !t.linkConnected() {
		t.sendCommandError(id, errcode.DGTNotConfigured, "DGT3000 not connected")
		return
	}

	params, _ := doc["params"].(map[string]any)
	if t.executeCommand(id, name, params) {
		t.stats.CommandsExecuted++
	} else {
		t.stats.CommandsFailed++
	}
}

func (t *Task) executeCommand(id, name string, params map[string]any) bool {
	switch name {
	case "setTime":
		return t.executeSetTime(id, params)
	case "displayText":
		return t.executeDisplayText(id, params)
	case "endDisplay":
		return t.executeEndDisplay(id)
	case "stop":
		return t.executeStop(id)
	case "run":
		return t.executeRun(id, params)
	case "getTime":
		return t.executeGetTime(id)
	case "getStatus":
		return t.executeGetStatus(id)
	}
	t.sendCommandError(id, errcode.JSONInvalidCommand, "Unknown command")
	return false
}

// paramU8 extracts a numeric parameter as uint8. Missing or non-numeric
// values read as 0; out-of-range values clamp to 255 so range validation
// rejects them.
func paramU8(params map[string]any, key string) uint8 {
	v, ok := params[key].(float64)
	if !ok {
		return 0
	}
	if v < 0 {
		return 255
	}
	return uint8(mathx.Clamp(v, 0, 255))
}

func paramString(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

func (t *Task) executeSetTime(id string, params map[string]any) bool {
	leftMode := paramU8(params, "leftMode")
	leftHours := paramU8(params, "leftHours")
	leftMinutes := paramU8(params, "leftMinutes")
	leftSeconds := paramU8(params, "leftSeconds")
	rightMode := paramU8(params, "rightMode")
	rightHours := paramU8(params, "rightHours")
	rightMinutes := paramU8(params, "rightMinutes")
	rightSeconds := paramU8(params, "rightSeconds")

	if !dgt3000.ValidateTime(leftMode, leftHours, leftMinutes, leftSeconds,
		rightMode, rightHours, rightMinutes, rightSeconds) {
		t.sendCommandError(id, errcode.JSONInvalidParameters, "Invalid time parameters")
		return false
	}

	err := t.link.SetAndRun(leftMode, leftHours, leftMinutes, leftSeconds,
		rightMode, rightHours, rightMinutes, rightSeconds)
	if err != nil {
		t.handleLinkError(err)
		t.sendCommandError(id, errcode.I2CCommunicationError, "Failed to set time on DGT3000")
		return false
	}
	t.sendCommandResponse(id, map[string]any{"status": "Time set successfully"})
	return true
}

func (t *Task) executeDisplayText(id string, params map[string]any) bool {
	text := paramString(params, "text")
	beep := paramU8(params, "beep")
	leftDots := paramU8(params, "leftDots")
	rightDots := paramU8(params, "rightDots")

	if !dgt3000.ValidateDisplayText(text, beep, leftDots, rightDots) {
		t.sendCommandError(id, errcode.JSONInvalidParameters, "Invalid display text parameters")
		return false
	}

	if err := t.link.DisplayText(text, beep, leftDots, rightDots); err != nil {
		t.handleLinkError(err)
		t.sendCommandError(id, errcode.I2CCommunicationError, "Failed to display text on DGT3000")
		return false
	}
	t.sendCommandResponse(id, map[string]any{"status": "Text displayed successfully"})
	return true
}

func (t *Task) executeEndDisplay(id string) bool {
	if err := t.link.EndDisplay(); err != nil {
		t.handleLinkError(err)
		t.sendCommandError(id, errcode.I2CCommunicationError, "Failed to end display")
		return false
	}
	t.sendCommandResponse(id, map[string]any{"status": "Display ended successfully"})
	return true
}

func (t *Task) executeStop(id string) bool {
	if err := t.link.Stop(); err != nil {
		t.handleLinkError(err)
		t.sendCommandError(id, errcode.I2CCommunicationError, "Failed to stop timers")
		return false
	}
	t.sendCommandResponse(id, map[string]any{"status": "Timers stopped successfully"})
	return true
}

func (t *Task) executeRun(id string, params map[string]any) bool {
	leftMode := paramU8(params, "leftMode")
	rightMode := paramU8(params, "rightMode")

	if !dgt3000.ValidateRun(leftMode, rightMode) {
		t.sendCommandError(id, errcode.JSONInvalidParameters, "Invalid run parameters")
		return false
	}

	if err := t.link.Run(leftMode, rightMode); err != nil {
		t.handleLinkError(err)
		t.sendCommandError(id, errcode.I2CCommunicationError, "Failed to start timers")
		return false
	}
	t.sendCommandResponse(id, map[string]any{"status": "Timers started successfully"})
	return true
}

func (t *Task) executeGetTime(id string) bool {
	tm := t.link.Time()
	t.sendCommandResponse(id, map[string]any{
		"leftHours":    tm[0],
		"leftMinutes":  tm[1],
		"leftSeconds":  tm[2],
		"rightHours":   tm[3],
		"rightMinutes": tm[4],
		"rightSeconds": tm[5],
	})
	return true
}

func (t *Task) executeGetStatus(id string) bool {
	result := map[string]any{
		"dgtConnected":     t.linkConnected(),
		"dgtConfigured":    t.dgtConfigured,
		"bleConnected":     t.bleConnected.Load(),
		"lastUpdateTime":   t.stats.LastUpdateMs,
		"recoveryAttempts": t.recoveryAttempts,
	}
	if t.link != nil {
		lastErr := t.link.LastError()
		result["lastDgtError"] = uint16(mapLinkError(lastErr))
		if lastErr != nil {
			result["lastDgtErrorString"] = lastErr.Error()
		} else {
			result["lastDgtErrorString"] = "Success"
		}
	}
	t.sendCommandResponse(id, result)
	return true
}

// -----------------------------------------------------------------------------
// Responses
// -----------------------------------------------------------------------------

func (t *Task) sendCommandResponse(id string, result map[string]any) {
	resp := &types.CommandResponse{
		ID:        id,
		Success:   true,
		Timestamp: timex.NowMs(),
		Result:    result,
	}
	if !t.queues.SendResponse(resp, 100) {
		t.log.Warnf("failed to send command response to queue")
	}
	t.status.CommandsProcessed++
	t.status.UpdateActivity()
}

func (t *Task) sendCommandError(id string, code errcode.Code, msg string) {
	if msg == "" {
		msg = code.String()
	}
	if len(msg) > types.MaxErrorMessageLength {
		msg = msg[:types.MaxErrorMessageLength]
	}
	resp := &types.CommandResponse{
		ID:           id,
		Success:      false,
		Timestamp:    timex.NowMs(),
		ErrorCode:    code,
		ErrorMessage: msg,
	}
	if !t.queues.SendResponse(resp, 100) {
		t.log.Warnf("failed to send error response to queue")
	}
	t.status.CommandsProcessed++
	t.status.UpdateActivity()
}
