// platform/factories_host.go
//go:build !rp2040

package platform

import (
	"runtime"
	"sync"

	"dgtgateway-go/drivers/dgt3000"
)

// -----------------------------------------------------------------------------
// Emulated clock (host)
// -----------------------------------------------------------------------------

// HostClock emulates enough of a DGT3000 to run the whole gateway off
// target. It is both buses at once: the gateway masters it with command
// frames and it writes response frames back through whatever slave handler
// is currently bound. ACKs are delivered inline from Tx, so an ACK-awaiting
// send observes them on its first poll.
type HostClock struct {
	mu         sync.Mutex
	handler    func([]byte)
	listenAddr uint8
	bound      bool

	// FailSends makes the next N master transmissions fail, for exercising
	// the retry and recovery paths.
	FailSends int
	// Acknowledge controls whether command frames are ACKed. On by default.
	Acknowledge bool
	// PoweredOn tracks the emulated power state; a wake-up ping switches it
	// back on.
	PoweredOn bool

	time  [6]uint8
	modes uint8

	// Frames records every frame the clock received, oldest first.
	Frames [][]byte
}

// NewHostClock returns an emulated clock that is on and acknowledging.
func NewHostClock() *HostClock {
	return &HostClock{Acknowledge: true, PoweredOn: true}
}

// Tx implements the master bus: the gateway pushing one frame to the clock.
func (c *HostClock) Tx(addr uint16, w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FailSends > 0 {
		c.FailSends--
		return errHostI2C
	}
	if len(w) < 3 {
		return errHostI2C
	}
	c.Frames = append(c.Frames, append([]byte(nil), w...))

	switch w[2] {
	case 0x0D: // ping to the wake-up alias
		if addr == dgt3000.WakeupAddress {
			c.PoweredOn = true
			c.deliverLocked(0x00, []byte{0x10, 0x07, 0x02, 0x22, 0x01, 0x05})
		}
		return nil
	case 0x0B: // change state; a zero data byte is power-off
		if len(w) > 3 && w[3] == 0x00 {
			c.PoweredOn = false
			return nil
		}
	case 0x0A: // set and run
		if len(w) >= 10 {
			c.time = [6]uint8{w[3], bcdHost(w[4]), bcdHost(w[5]), w[6], bcdHost(w[7]), bcdHost(w[8])}
			c.modes = w[9]
		}
	}

	if c.Acknowledge {
		ack := []byte{0x10, 0x06, 0x01, w[2], 0x00}
		dgt3000.ApplyCRC(ack)
		c.deliverLocked(0x10, ack)
	}
	return nil
}

// Listen implements the slave bus: bind the gateway's receive handler.
func (c *HostClock) Listen(addr uint8, onReceive func(data []byte)) error {
	c.mu.Lock()
	c.handler = onReceive
	c.listenAddr = addr
	c.bound = true
	c.mu.Unlock()
	return nil
}

// Close releases the binding.
func (c *HostClock) Close() error {
	c.mu.Lock()
	c.bound = false
	c.mu.Unlock()
	return nil
}

// PushTime delivers a time frame for the given snapshot, as the real clock
// does once per second while running.
func (c *HostClock) PushTime(t [6]uint8) {
	frame := make([]byte, 24)
	frame[0] = 0x10
	frame[1] = 0x18
	frame[2] = 0x04
	frame[4] = t[0]
	frame[5] = bcdEncHost(t[1])
	frame[6] = bcdEncHost(t[2])
	frame[10] = t[3]
	frame[11] = bcdEncHost(t[4])
	frame[12] = bcdEncHost(t[5])
	c.mu.Lock()
	c.deliverLocked(0x00, frame)
	c.mu.Unlock()
}

// Tick delivers the stored snapshot.
func (c *HostClock) Tick() {
	c.mu.Lock()
	t := c.time
	c.mu.Unlock()
	c.PushTime(t)
}

// PushButtons delivers one button state frame.
func (c *HostClock) PushButtons(current, previous uint8) {
	c.mu.Lock()
	c.deliverLocked(0x00, []byte{0x10, 0x06, 0x05, current, previous})
	c.mu.Unlock()
}

// Time returns the emulated clock's stored snapshot.
func (c *HostClock) Time() [6]uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.time
}

// LastFrame returns the most recently received frame, or nil.
func (c *HostClock) LastFrame() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Frames) == 0 {
		return nil
	}
	return c.Frames[len(c.Frames)-1]
}

// deliverLocked hands a frame to the gateway if it is bound to addr.
func (c *HostClock) deliverLocked(addr uint8, frame []byte) {
	if !c.bound || c.listenAddr != addr || c.handler == nil {
		return
	}
	c.handler(frame)
}

type hostI2CError struct{}

func (hostI2CError) Error() string { return "host i2c: transmission failed" }

var errHostI2C = hostI2CError{}

func bcdHost(b uint8) uint8    { return (b>>4)*10 + b&0x0F }
func bcdEncHost(v uint8) uint8 { return (v/10)<<4 | v%10 }

// -----------------------------------------------------------------------------
// Watchdog and sensors (host)
// -----------------------------------------------------------------------------

// NoopWatchdog satisfies the task's watchdog on hosts, which have none.
type NoopWatchdog struct{}

func (NoopWatchdog) Feed() {}

// HostSensors reports heap from the Go runtime; there is no die
// temperature sensor on a host.
type HostSensors struct{}

func (HostSensors) FreeHeapKB() uint32 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return uint32((ms.HeapSys - ms.HeapInuse) / 1024)
}

func (HostSensors) TemperatureC() (int16, bool) { return 0, false }

// NewResources wires the host build: an emulated clock on both buses.
func NewResources() Resources {
	clock := NewHostClock()
	return Resources{
		Master:   clock,
		Slave:    clock,
		Watchdog: NoopWatchdog{},
		Sensors:  HostSensors{},
	}
}
