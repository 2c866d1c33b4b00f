// bus.go
package dgt3000

import "tinygo.org/x/drivers"

// MasterBus is the controller side of the dual link, used to push command
// frames to the clock. Any tinygo I2C implementation satisfies it.
type MasterBus = drivers.I2C

// SlaveBus is the receive side. The clock masters this bus and writes
// frames to whichever address the gateway is currently bound to; only one
// listen address is active at a time. Implementations invoke the handler
// registered by Listen for every inbound write. The handler is treated as
// interrupt-adjacent: it must return quickly and must not block.
type SlaveBus interface {
	// Listen binds the bus to addr and installs the receive handler.
	Listen(addr uint8, onReceive func(data []byte)) error
	// Close releases the current binding. Listen may be called again
	// afterwards with a different address.
	Close() error
}
