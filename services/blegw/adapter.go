// services/blegw/adapter.go
package blegw

// Callbacks are the hooks a Peripheral implementation invokes from the BLE
// stack. They run in the stack's context and must not block.
type Callbacks struct {
	// OnConnect fires when a central connects.
	OnConnect func()
	// OnDisconnect fires when the central drops.
	OnDisconnect func()
	// OnCommandWrite delivers a raw write to the command characteristic.
	OnCommandWrite func(data []byte)
	// OnSubscribe fires when the central subscribes to event notifications.
	OnSubscribe func()
}

// Peripheral abstracts the BLE stack: one service, four characteristics,
// advertising under a device name. The real implementation sits on
// tinygo.org/x/bluetooth; tests substitute a fake.
type Peripheral interface {
	// Start brings the stack up, registers the GATT service and begins
	// advertising.
	Start(deviceName string, cb Callbacks) error
	// Notify pushes one notification on the event characteristic.
	Notify(data []byte) error
	// SetStatus updates the value of the status characteristic.
	SetStatus(data []byte) error
	// Stop tears the stack down.
	Stop() error
}
