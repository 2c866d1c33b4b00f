// platform/factories_host_test.go
package platform

import (
	"testing"
	"time"

	"dgtgateway-go/drivers/dgt3000"
)

func hostDevice(t *testing.T, clock *HostClock) *dgt3000.Device {
	t.Helper()
	d := dgt3000.New(clock, clock, dgt3000.Config{
		AckTimeout:         20 * time.Millisecond,
		AckPoll:            time.Millisecond,
		PingTimeout:        20 * time.Millisecond,
		RetryDelay:         time.Millisecond,
		AddressSwitchDelay: time.Millisecond,
		CommandDelay:       time.Millisecond,
	})
	if err := d.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return d
}

func TestHostClockConfigures(t *testing.T) {
	clock := NewHostClock()
	d := hostDevice(t, clock)

	if err := d.Configure(); err != nil {
		t.Fatalf("Configure against host clock: %v", err)
	}
	if !d.IsConfigured() {
		t.Error("driver not configured")
	}
}

func TestHostClockWakesFromOff(t *testing.T) {
	clock := NewHostClock()
	clock.PoweredOn = false
	clock.FailSends = 3 // the first ChangeState burns its attempts
	d := hostDevice(t, clock)

	if err := d.Configure(); err != nil {
		t.Fatalf("Configure with sleeping clock: %v", err)
	}
	if !clock.PoweredOn {
		t.Error("wake-up ping did not power the clock on")
	}
}

func TestHostClockStoresSetAndRun(t *testing.T) {
	clock := NewHostClock()
	d := hostDevice(t, clock)

	if err := d.SetAndRun(1, 0, 5, 30, 1, 1, 2, 3); err != nil {
		t.Fatalf("SetAndRun: %v", err)
	}
	if got := clock.Time(); got != [6]uint8{0, 5, 30, 1, 2, 3} {
		t.Errorf("clock stored %v", got)
	}
}

func TestHostClockTimeAndButtonFrames(t *testing.T) {
	clock := NewHostClock()
	d := hostDevice(t, clock)

	clock.PushTime([6]uint8{1, 23, 45, 0, 59, 1})
	if !d.NewTimeAvailable() {
		t.Fatal("time frame not received")
	}
	if got := d.Time(); got != [6]uint8{1, 23, 45, 0, 59, 1} {
		t.Errorf("Time() = %v", got)
	}

	clock.PushButtons(0x04, 0x00)
	ev, ok := d.ButtonEvent()
	if !ok || ev != dgt3000.ButtonPlayPause {
		t.Errorf("button event = 0x%02X ok=%v", ev, ok)
	}
}

func TestHostClockPowerOff(t *testing.T) {
	clock := NewHostClock()
	d := hostDevice(t, clock)

	if err := d.PowerOff(); err != nil {
		t.Fatalf("PowerOff: %v", err)
	}
	if clock.PoweredOn {
		t.Error("emulated clock still on")
	}
}

func TestNewResourcesHost(t *testing.T) {
	res := NewResources()
	if res.Master == nil || res.Slave == nil || res.Watchdog == nil || res.Sensors == nil {
		t.Fatal("host resources incomplete")
	}
	res.Watchdog.Feed() // must not panic
	if kb := res.Sensors.FreeHeapKB(); kb == 0 {
		t.Error("free heap reads zero")
	}
	if _, ok := res.Sensors.TemperatureC(); ok {
		t.Error("host reports a die temperature")
	}
}
