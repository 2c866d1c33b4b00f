// services/blegw/bluetooth.go
package blegw

import (
	"dgtgateway-go/x/logx"

	"tinygo.org/x/bluetooth"
)

// BluetoothPeripheral implements Peripheral on tinygo.org/x/bluetooth. It
// works against the platform's native stack (SoftDevice on nrf, BlueZ on
// Linux hosts).
type BluetoothPeripheral struct {
	adapter *bluetooth.Adapter
	adv     *bluetooth.Advertisement

	protoChar  bluetooth.Characteristic
	cmdChar    bluetooth.Characteristic
	eventChar  bluetooth.Characteristic
	statusChar bluetooth.Characteristic

	cb  Callbacks
	log *logx.Logger
}

// NewBluetoothPeripheral wraps the default adapter.
func NewBluetoothPeripheral() *BluetoothPeripheral {
	return &BluetoothPeripheral{
		adapter: bluetooth.DefaultAdapter,
		log:     logx.New("ble-hw"),
	}
}

// Start enables the adapter, registers the gateway service and starts
// advertising.
func (p *BluetoothPeripheral) Start(deviceName string, cb Callbacks) error {
	p.cb = cb

	if err := p.adapter.Enable(); err != nil {
		return err
	}

	p.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			if p.cb.OnConnect != nil {
				p.cb.OnConnect()
			}
			// The stack owns the CCCD, so a subscription cannot be observed
			// directly; a connected central is treated as subscribed.
			if p.cb.OnSubscribe != nil {
				p.cb.OnSubscribe()
			}
			return
		}
		if p.cb.OnDisconnect != nil {
			p.cb.OnDisconnect()
		}
		// Re-advertise so the next client can find us.
		if p.adv != nil {
			if err := p.adv.Start(); err != nil {
				p.log.Warnf("failed to restart advertising: %v", err)
			}
		}
	})

	svcUUID, err := bluetooth.ParseUUID(ServiceUUID)
	if err != nil {
		return err
	}
	protoUUID, err := bluetooth.ParseUUID(ProtocolVersionUUID)
	if err != nil {
		return err
	}
	cmdUUID, err := bluetooth.ParseUUID(CommandCharUUID)
	if err != nil {
		return err
	}
	eventUUID, err := bluetooth.ParseUUID(EventCharUUID)
	if err != nil {
		return err
	}
	statusUUID, err := bluetooth.ParseUUID(StatusCharUUID)
	if err != nil {
		return err
	}

	err = p.adapter.AddService(&bluetooth.Service{
		UUID: svcUUID,
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				Handle: &p.protoChar,
				UUID:   protoUUID,
				Value:  []byte(ProtocolVersion),
				Flags:  bluetooth.CharacteristicReadPermission,
			},
			{
				Handle: &p.cmdChar,
				UUID:   cmdUUID,
				Flags:  bluetooth.CharacteristicWritePermission,
				WriteEvent: func(client bluetooth.Connection, offset int, value []byte) {
					if p.cb.OnCommandWrite != nil {
						p.cb.OnCommandWrite(value)
					}
				},
			},
			{
				Handle: &p.eventChar,
				UUID:   eventUUID,
				Flags:  bluetooth.CharacteristicNotifyPermission | bluetooth.CharacteristicReadPermission,
			},
			{
				Handle: &p.statusChar,
				UUID:   statusUUID,
				Flags:  bluetooth.CharacteristicReadPermission,
			},
		},
	})
	if err != nil {
		return err
	}

	p.adv = p.adapter.DefaultAdvertisement()
	err = p.adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    deviceName,
		ServiceUUIDs: []bluetooth.UUID{svcUUID},
	})
	if err != nil {
		return err
	}
	return p.adv.Start()
}

// Notify writes to the event characteristic, which pushes a notification to
// subscribed centrals.
func (p *BluetoothPeripheral) Notify(data []byte) error {
	_, err := p.eventChar.Write(data)
	return err
}

// SetStatus updates the readable status characteristic value.
func (p *BluetoothPeripheral) SetStatus(data []byte) error {
	_, err := p.statusChar.Write(data)
	return err
}

// Stop halts advertising. The adapter itself stays enabled; tinygo
// bluetooth has no portable disable.
func (p *BluetoothPeripheral) Stop() error {
	if p.adv != nil {
		return p.adv.Stop()
	}
	return nil
}
