// Package blegw exposes the gateway over BLE GATT: a write-only command
// characteristic feeding the raw-command queue, a notify characteristic for
// events and command responses, a readable status snapshot, and a protocol
// version constant. It owns no clock state; everything it reports comes
// from the shared queues and the SystemStatus snapshot.
package blegw

import (
	"encoding/json"
	"time"

	"dgtgateway-go/queue"
	"dgtgateway-go/types"
	"dgtgateway-go/x/logx"
	"dgtgateway-go/x/timex"
)

// GATT identity.
const (
	ServiceUUID         = "73822f6e-edcd-44bb-974b-93ee97cb0000"
	ProtocolVersionUUID = "73822f6e-edcd-44bb-974b-93ee97cb0001"
	CommandCharUUID     = "73822f6e-edcd-44bb-974b-93ee97cb0002"
	EventCharUUID       = "73822f6e-edcd-44bb-974b-93ee97cb0003"
	StatusCharUUID      = "73822f6e-edcd-44bb-974b-93ee97cb0004"

	ProtocolVersion   = "1.0"
	DefaultDeviceName = "DGT3000-Gateway"
)

// Notification pacing per ProcessEvents call.
const (
	maxEventsPerCycle     = 10
	maxProcessingMs       = 20
	statusCacheIntervalMs = 2000
)

// ClockNotifier receives BLE lifecycle notifications; the clock task
// implements it.
type ClockNotifier interface {
	OnBLEConnected()
	OnBLEDisconnected()
}

// NotificationStats counts outbound notifications.
type NotificationStats struct {
	Sent     uint32
	Failed   uint32
	LastSent int64
}

// Sensors supplies the platform readings surfaced in the status snapshot.
type Sensors interface {
	FreeHeapKB() uint32
	// TemperatureC returns the die temperature; ok is false when the
	// sensor is unavailable.
	TemperatureC() (c int16, ok bool)
}

// Service is the BLE side of the gateway.
type Service struct {
	peripheral Peripheral
	queues     *queue.Manager
	status     *types.SystemStatus
	clock      ClockNotifier
	sensors    Sensors
	deviceName string
	log        *logx.Logger

	connected bool

	notifStats NotificationStats

	cachedStatus    []byte
	lastStatusCache int64
}

// New wires the service. clock may be nil in host tools that only exercise
// the queues.
func New(p Peripheral, queues *queue.Manager, status *types.SystemStatus,
	clock ClockNotifier, sensors Sensors, deviceName string) *Service {
	if deviceName == "" {
		deviceName = DefaultDeviceName
	}
	return &Service{
		peripheral: p,
		queues:     queues,
		status:     status,
		clock:      clock,
		sensors:    sensors,
		deviceName: deviceName,
		log:        logx.New("ble"),
	}
}

// Initialize starts the GATT stack and advertising.
func (s *Service) Initialize() error {
	s.log.Infof("initializing BLE service")
	err := s.peripheral.Start(s.deviceName, Callbacks{
		OnConnect:      s.handleConnect,
		OnDisconnect:   s.handleDisconnect,
		OnCommandWrite: s.HandleCommandWrite,
		OnSubscribe:    s.handleSubscription,
	})
	if err != nil {
		s.log.Errorf("failed to initialize BLE stack: %v", err)
		return err
	}
	s.status.SystemState = types.SystemIdle
	s.status.BLEConnectionState = types.Disconnected
	s.status.UpdateActivity()
	s.log.Infof("BLE advertising started, device name %q", s.deviceName)
	return nil
}

// Close stops advertising and tears the stack down.
func (s *Service) Close() error {
	s.connected = false
	return s.peripheral.Stop()
}

// Connected reports whether a central is attached.
func (s *Service) Connected() bool { return s.connected }

// Statistics returns the notification counters.
func (s *Service) Statistics() NotificationStats { return s.notifStats }

// ProcessEvents runs one BLE loop tick: refresh status, drain the event and
// response queues into notifications, and refresh the status cache on its
// 2 s cadence. It never blocks beyond its processing bound.
func (s *Service) ProcessEvents() {
	s.updateStatus()

	if s.connected {
		s.processNotificationQueue()
		s.processResponseQueue()
	}

	if timex.SinceMs(s.lastStatusCache) > statusCacheIntervalMs {
		s.updateStatusCache()
	}
}

// -----------------------------------------------------------------------------
// Inbound: command writes
// -----------------------------------------------------------------------------

// HandleCommandWrite validates a GATT write as a plausible JSON object and
// queues it for the clock task. Invalid payloads are dropped here so junk
// never crosses the queue.
func (s *Service) HandleCommandWrite(data []byte) {
	if len(data) == 0 || len(data) >= types.MaxCommandBytes {
		s.log.Warnf("received invalid command length: %d", len(data))
		return
	}
	if data[0] != '{' || data[len(data)-1] != '}' {
		s.log.Warnf("received non-JSON command")
		return
	}

	cmd := &types.RawCommand{
		Timestamp: timex.NowMs(),
		Payload:   append([]byte(nil), data...),
	}
	if !s.queues.SendRawCommand(cmd, 10) {
		s.log.Errorf("failed to queue raw command")
	}
}

// -----------------------------------------------------------------------------
// Outbound: notifications
// -----------------------------------------------------------------------------

func (s *Service) processNotificationQueue() {
	start := timex.NowMs()
	for n := 0; n < maxEventsPerCycle && timex.SinceMs(start) < maxProcessingMs; n++ {
		ev := s.queues.RecvEvent(0)
		if ev == nil {
			return
		}
		s.sendEvent(ev)
	}
}

func (s *Service) processResponseQueue() {
	resp := s.queues.RecvResponse(0)
	if resp == nil {
		return
	}
	s.log.Debugf("processing response for command id %s", resp.ID)

	doc := map[string]any{
		"type": "command_response",
		"id":   resp.ID,
	}
	if resp.Success {
		doc["status"] = "success"
		doc["result"] = resp.Result
	} else {
		doc["status"] = "error"
		doc["data"] = map[string]any{
			"errorCode":    uint16(resp.ErrorCode),
			"errorMessage": resp.ErrorMessage,
		}
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		s.log.Errorf("failed to encode response for id %s: %v", resp.ID, err)
		return
	}
	if s.sendNotification(payload) {
		s.log.Infof("sent response for command id %s", resp.ID)
	} else {
		s.log.Warnf("failed to send response for command id %s", resp.ID)
	}
}

func (s *Service) sendEvent(ev *types.Event) bool {
	doc := map[string]any{
		"type":      ev.Kind.String(),
		"timestamp": ev.Timestamp,
		"data":      ev.Data,
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		s.log.Errorf("failed to encode %s event: %v", ev.Kind, err)
		return false
	}
	return s.sendNotification(payload)
}

func (s *Service) sendNotification(payload []byte) bool {
	if !s.connected {
		return false
	}
	s.log.Debugf("notify: %s", payload)
	if err := s.peripheral.Notify(payload); err != nil {
		s.notifStats.Failed++
		return false
	}
	s.notifStats.Sent++
	s.notifStats.LastSent = timex.NowMs()
	s.status.UpdateActivity()
	return true
}

// -----------------------------------------------------------------------------
// Status snapshot
// -----------------------------------------------------------------------------

func (s *Service) updateStatus() {
	s.status.UpdateUptime()
	if s.sensors != nil {
		s.status.FreeHeapKB = s.sensors.FreeHeapKB()
		if c, ok := s.sensors.TemperatureC(); ok {
			s.status.TemperatureC = c
		} else {
			s.status.TemperatureC = -999
		}
	}
	if s.connected {
		s.status.BLEConnectionState = types.Connected
	} else {
		s.status.BLEConnectionState = types.Disconnected
	}
}

// updateStatusCache rebuilds the status JSON and pushes it onto the status
// characteristic.
func (s *Service) updateStatusCache() {
	s.lastStatusCache = timex.NowMs()
	s.updateStatus()

	doc := map[string]any{
		"systemState":         s.status.SystemState.String(),
		"bleConnected":        s.connected,
		"dgtConnected":        s.status.DGTConnectionState == types.Connected,
		"dgtConfigured":       s.status.DGTConfigured,
		"uptime":              s.status.UptimeMs,
		"freeHeap":            s.status.FreeHeapKB,
		"temperature":         s.status.TemperatureC,
		"commandsProcessed":   s.status.CommandsProcessed,
		"eventsGenerated":     s.status.EventsGenerated,
		"notificationsSent":   s.notifStats.Sent,
		"notificationsFailed": s.notifStats.Failed,
		"rawCmdQueueDepth":    s.queues.RawCommandQueueDepth(),
		"evtQueueDepth":       s.queues.EventQueueDepth(),
		"respQueueDepth":      s.queues.ResponseQueueDepth(),
		"queuesHealthy":       s.queues.Healthy(),
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		s.log.Errorf("failed to encode status: %v", err)
		return
	}
	s.cachedStatus = payload
	if err := s.peripheral.SetStatus(payload); err != nil {
		s.log.Warnf("failed to update status characteristic: %v", err)
	}
	s.log.Debugf("status cache updated (%d bytes)", len(payload))
}

// CachedStatus returns the last serialized status snapshot.
func (s *Service) CachedStatus() []byte { return s.cachedStatus }

// -----------------------------------------------------------------------------
// Stack callbacks
// -----------------------------------------------------------------------------

func (s *Service) handleConnect() {
	s.connected = true
	s.log.Infof("BLE client connected")
	s.status.SystemState = types.SystemActive
	s.status.UpdateActivity()
	if s.clock != nil {
		s.clock.OnBLEConnected()
	}
}

func (s *Service) handleDisconnect() {
	s.connected = false
	s.log.Infof("BLE client disconnected")
	s.status.SystemState = types.SystemIdle
	s.status.UpdateActivity()
	if s.clock != nil {
		s.clock.OnBLEDisconnected()
	}
}

// handleSubscription queues the current clock connection status so a fresh
// subscriber learns the state without having to poll.
func (s *Service) handleSubscription() {
	ev := &types.Event{
		Kind:      types.ConnectionStatus,
		Timestamp: timex.NowMs(),
		Priority:  types.PriorityNormal,
		Data: map[string]any{
			"connected":  s.status.DGTConnectionState == types.Connected,
			"configured": s.status.DGTConfigured,
		},
	}
	s.log.Infof("client subscribed to events, queueing initial connection status")
	s.queues.SendEvent(ev, 100)
}

// RunLoop drives ProcessEvents at the BLE loop cadence until stop closes.
// main uses it as the Core-1 equivalent of the original firmware loop.
func (s *Service) RunLoop(stop <-chan struct{}, healthCheck func()) {
	lastHealth := timex.NowMs()
	for {
		select {
		case <-stop:
			return
		default:
		}
		s.ProcessEvents()
		if healthCheck != nil && timex.SinceMs(lastHealth) > 5000 {
			lastHealth = timex.NowMs()
			healthCheck()
		}
		time.Sleep(10 * time.Millisecond)
	}
}
