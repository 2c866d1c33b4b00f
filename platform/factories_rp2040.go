// platform/factories_rp2040.go
//go:build rp2040

package platform

import (
	"machine"
	"runtime"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"

	"dgtgateway-go/drivers/dgt3000"
	"dgtgateway-go/x/logx"
)

// Board wiring.
const (
	watchdogTimeoutMs = 5000
	logBaud           = 115200
)

// NewResources configures the RP2040 peripherals: I2C0 as the master bus to
// the clock, I2C1 in target mode as the slave bus, the hardware watchdog,
// and UART0 as the log sink.
func NewResources() Resources {
	_ = uartx.UART0.Configure(uartx.UARTConfig{
		BaudRate: logBaud,
		TX:       machine.UART0_TX_PIN,
		RX:       machine.UART0_RX_PIN,
	})
	logx.SetOutput(uartx.UART0)

	master := machine.I2C0
	_ = master.Configure(machine.I2CConfig{
		Frequency: dgt3000.Frequency,
		SDA:       machine.I2C0_SDA_PIN,
		SCL:       machine.I2C0_SCL_PIN,
	})

	_ = machine.Watchdog.Configure(machine.WatchdogConfig{
		TimeoutMillis: watchdogTimeoutMs,
	})
	machine.Watchdog.Start()

	return Resources{
		Master:   master,
		Slave:    &rp2SlaveBus{bus: machine.I2C1},
		Watchdog: rp2Watchdog{},
		Sensors:  rp2Sensors{},
	}
}

// -----------------------------------------------------------------------------
// Slave bus
// -----------------------------------------------------------------------------

// rp2SlaveBus binds I2C1 in target mode and pumps receive events into the
// driver's handler. Listen after Close rebinds with the new address, which
// is how the driver switches between the data and ACK addresses.
type rp2SlaveBus struct {
	bus  *machine.I2C
	stop chan struct{}
}

func (s *rp2SlaveBus) Listen(addr uint8, onReceive func(data []byte)) error {
	err := s.bus.Configure(machine.I2CConfig{
		Frequency: dgt3000.Frequency,
		Mode:      machine.I2CModeTarget,
		SDA:       machine.I2C1_SDA_PIN,
		SCL:       machine.I2C1_SCL_PIN,
	})
	if err != nil {
		return err
	}
	if err := s.bus.Listen(uint16(addr)); err != nil {
		return err
	}
	s.stop = make(chan struct{})
	go s.pump(onReceive, s.stop)
	return nil
}

func (s *rp2SlaveBus) Close() error {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	return nil
}

func (s *rp2SlaveBus) pump(onReceive func(data []byte), stop chan struct{}) {
	buf := make([]byte, 64)
	for {
		select {
		case <-stop:
			return
		default:
		}
		evt, n, err := s.bus.WaitForEvent(buf)
		if err != nil {
			continue
		}
		if evt == machine.I2CReceive && n > 0 {
			onReceive(buf[:n])
		}
	}
}

// -----------------------------------------------------------------------------
// Watchdog and sensors
// -----------------------------------------------------------------------------

type rp2Watchdog struct{}

func (rp2Watchdog) Feed() { machine.Watchdog.Update() }

type rp2Sensors struct{}

func (rp2Sensors) FreeHeapKB() uint32 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return uint32(ms.HeapIdle / 1024)
}

func (rp2Sensors) TemperatureC() (int16, bool) {
	return int16(machine.ReadTemperature() / 1000), true
}
