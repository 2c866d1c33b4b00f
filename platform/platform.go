// Package platform binds the gateway to its hardware: the two I2C buses of
// the clock link, the hardware watchdog, the system sensors and the log
// sink. Host builds get inert fakes so the whole stack runs (and tests) off
// target; MCU builds bind the machine peripherals.
package platform

import (
	"dgtgateway-go/drivers/dgt3000"
	"dgtgateway-go/services/blegw"
	"dgtgateway-go/services/clocktask"
)

// Resources is everything main needs from the board.
type Resources struct {
	Master   dgt3000.MasterBus
	Slave    dgt3000.SlaveBus
	Watchdog clocktask.Watchdog
	Sensors  blegw.Sensors
}
