// services/blegw/blegw_test.go
package blegw

import (
	"encoding/json"
	"strings"
	"testing"

	"dgtgateway-go/errcode"
	"dgtgateway-go/queue"
	"dgtgateway-go/types"
)

// fakePeripheral records everything the service pushes into the stack.
type fakePeripheral struct {
	started    bool
	deviceName string
	cb         Callbacks

	notifies [][]byte
	status   []byte

	notifyErr error
}

func (p *fakePeripheral) Start(deviceName string, cb Callbacks) error {
	p.started = true
	p.deviceName = deviceName
	p.cb = cb
	return nil
}

func (p *fakePeripheral) Notify(data []byte) error {
	if p.notifyErr != nil {
		return p.notifyErr
	}
	p.notifies = append(p.notifies, append([]byte(nil), data...))
	return nil
}

func (p *fakePeripheral) SetStatus(data []byte) error {
	p.status = append([]byte(nil), data...)
	return nil
}

func (p *fakePeripheral) Stop() error {
	p.started = false
	return nil
}

type fakeNotifier struct {
	connects    int
	disconnects int
}

func (n *fakeNotifier) OnBLEConnected()    { n.connects++ }
func (n *fakeNotifier) OnBLEDisconnected() { n.disconnects++ }

func newTestService(t *testing.T) (*Service, *fakePeripheral, *queue.Manager, *fakeNotifier) {
	t.Helper()
	p := &fakePeripheral{}
	queues := queue.NewManager()
	status := &types.SystemStatus{}
	notifier := &fakeNotifier{}
	s := New(p, queues, status, notifier, nil, "")
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return s, p, queues, notifier
}

func lastNotification(t *testing.T, p *fakePeripheral) map[string]any {
	t.Helper()
	if len(p.notifies) == 0 {
		t.Fatal("no notification sent")
	}
	var doc map[string]any
	if err := json.Unmarshal(p.notifies[len(p.notifies)-1], &doc); err != nil {
		t.Fatalf("notification is not JSON: %v", err)
	}
	return doc
}

// -----------------------------------------------------------------------------
// Command writes
// -----------------------------------------------------------------------------

func TestCommandWriteQueued(t *testing.T) {
	s, _, queues, _ := newTestService(t)

	payload := []byte(`{"id":"c1","command":"getTime"}`)
	s.HandleCommandWrite(payload)

	cmd := queues.RecvRawCommand(0)
	if cmd == nil {
		t.Fatal("command not queued")
	}
	if string(cmd.Payload) != string(payload) {
		t.Errorf("payload = %s", cmd.Payload)
	}
	// The queue owns a copy, not the GATT buffer.
	payload[2] = 'X'
	if string(cmd.Payload) == string(payload) {
		t.Error("queued payload aliases the write buffer")
	}
}

func TestCommandWriteValidation(t *testing.T) {
	s, _, queues, _ := newTestService(t)

	s.HandleCommandWrite(nil)
	s.HandleCommandWrite([]byte(``))
	s.HandleCommandWrite([]byte(`not json`))
	s.HandleCommandWrite([]byte(`{"unterminated"`))
	s.HandleCommandWrite([]byte(`"quoted"}`))
	s.HandleCommandWrite([]byte(`{` + strings.Repeat("x", types.MaxCommandBytes) + `}`))

	if got := queues.RawCommandQueueDepth(); got != 0 {
		t.Errorf("%d invalid payloads queued", got)
	}
}

// -----------------------------------------------------------------------------
// Notifications
// -----------------------------------------------------------------------------

func TestEventNotificationShape(t *testing.T) {
	s, p, queues, _ := newTestService(t)
	p.cb.OnConnect()

	queues.SendEvent(&types.Event{
		Kind:      types.TimeUpdate,
		Timestamp: 12345,
		Priority:  types.PriorityNormal,
		Data:      map[string]any{"leftHours": 1},
	}, 0)
	s.ProcessEvents()

	doc := lastNotification(t, p)
	if doc["type"] != "timeUpdate" {
		t.Errorf("type = %v", doc["type"])
	}
	if doc["timestamp"] != float64(12345) {
		t.Errorf("timestamp = %v", doc["timestamp"])
	}
	data, _ := doc["data"].(map[string]any)
	if data["leftHours"] != float64(1) {
		t.Errorf("data = %v", data)
	}
}

func TestSuccessResponseShape(t *testing.T) {
	s, p, queues, _ := newTestService(t)
	p.cb.OnConnect()

	queues.SendResponse(&types.CommandResponse{
		ID:      "c7",
		Success: true,
		Result:  map[string]any{"status": "Time set successfully"},
	}, 0)
	s.ProcessEvents()

	doc := lastNotification(t, p)
	if doc["type"] != "command_response" || doc["id"] != "c7" || doc["status"] != "success" {
		t.Errorf("response doc = %v", doc)
	}
	result, _ := doc["result"].(map[string]any)
	if result["status"] != "Time set successfully" {
		t.Errorf("result = %v", result)
	}
}

func TestErrorResponseShape(t *testing.T) {
	s, p, queues, _ := newTestService(t)
	p.cb.OnConnect()

	queues.SendResponse(&types.CommandResponse{
		ID:           "x",
		Success:      false,
		ErrorCode:    errcode.JSONInvalidCommand,
		ErrorMessage: "Unknown command",
	}, 0)
	s.ProcessEvents()

	doc := lastNotification(t, p)
	if doc["status"] != "error" {
		t.Errorf("status = %v", doc["status"])
	}
	data, _ := doc["data"].(map[string]any)
	if data["errorCode"] != float64(errcode.JSONInvalidCommand) {
		t.Errorf("errorCode = %v", data["errorCode"])
	}
	if data["errorMessage"] != "Unknown command" {
		t.Errorf("errorMessage = %v", data["errorMessage"])
	}
}

func TestNoNotificationsWhileDisconnected(t *testing.T) {
	s, p, queues, _ := newTestService(t)

	queues.SendEvent(&types.Event{Kind: types.TimeUpdate}, 0)
	s.ProcessEvents()

	if len(p.notifies) != 0 {
		t.Error("notification sent with no central attached")
	}
	if queues.EventQueueDepth() != 1 {
		t.Error("event drained while disconnected")
	}
}

func TestNotifyFailureCounted(t *testing.T) {
	s, p, queues, _ := newTestService(t)
	p.cb.OnConnect()
	p.notifyErr = errNotify

	queues.SendEvent(&types.Event{Kind: types.TimeUpdate}, 0)
	s.ProcessEvents()

	if st := s.Statistics(); st.Failed != 1 || st.Sent != 0 {
		t.Errorf("stats = %+v, want one failure", st)
	}
}

var errNotify = jsonError("notify failed")

type jsonError string

func (e jsonError) Error() string { return string(e) }

// -----------------------------------------------------------------------------
// Lifecycle and status
// -----------------------------------------------------------------------------

func TestConnectDisconnectNotifiesClockTask(t *testing.T) {
	s, p, _, notifier := newTestService(t)

	p.cb.OnConnect()
	if !s.Connected() || notifier.connects != 1 {
		t.Error("connect not propagated")
	}
	p.cb.OnDisconnect()
	if s.Connected() || notifier.disconnects != 1 {
		t.Error("disconnect not propagated")
	}
}

func TestSubscriptionQueuesInitialStatus(t *testing.T) {
	s, p, queues, _ := newTestService(t)
	s.status.DGTConnectionState = types.Connected
	s.status.DGTConfigured = true

	p.cb.OnSubscribe()

	ev := queues.RecvEvent(0)
	if ev == nil || ev.Kind != types.ConnectionStatus {
		t.Fatalf("event = %+v, want connectionStatus", ev)
	}
	if ev.Data["connected"] != true || ev.Data["configured"] != true {
		t.Errorf("event data = %v", ev.Data)
	}
}

func TestStatusCache(t *testing.T) {
	s, p, queues, _ := newTestService(t)
	s.status.CommandsProcessed = 9
	queues.SendEvent(&types.Event{Kind: types.TimeUpdate}, 0)

	s.updateStatusCache()

	if p.status == nil {
		t.Fatal("status characteristic never written")
	}
	var doc map[string]any
	if err := json.Unmarshal(s.CachedStatus(), &doc); err != nil {
		t.Fatalf("cached status is not JSON: %v", err)
	}
	if doc["commandsProcessed"] != float64(9) {
		t.Errorf("commandsProcessed = %v", doc["commandsProcessed"])
	}
	if doc["evtQueueDepth"] != float64(1) {
		t.Errorf("evtQueueDepth = %v", doc["evtQueueDepth"])
	}
	if _, ok := doc["queuesHealthy"]; !ok {
		t.Error("queuesHealthy missing from snapshot")
	}
}

func TestProtocolConstants(t *testing.T) {
	if ProtocolVersion != "1.0" {
		t.Errorf("ProtocolVersion = %q", ProtocolVersion)
	}
	if ServiceUUID != "73822f6e-edcd-44bb-974b-93ee97cb0000" {
		t.Errorf("ServiceUUID = %q", ServiceUUID)
	}
	s, p, _, _ := newTestService(t)
	if s.deviceName != DefaultDeviceName || p.deviceName != DefaultDeviceName {
		t.Errorf("empty device name not defaulted")
	}
}
