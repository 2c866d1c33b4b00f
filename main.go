// DGT3000 BLE gateway firmware entry point. Wires the queue manager, the
// clock task (its own goroutine, the I2C side) and the BLE service (this
// goroutine), then runs the BLE loop forever.
package main

import (
	"time"

	"dgtgateway-go/drivers/dgt3000"
	"dgtgateway-go/platform"
	"dgtgateway-go/queue"
	"dgtgateway-go/services/blegw"
	"dgtgateway-go/services/clocktask"
	"dgtgateway-go/types"
	"dgtgateway-go/x/logx"
)

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)

	log := logx.New("main")
	log.Infof("=== DGT3000 BLE Gateway starting ===")

	res := platform.NewResources()

	status := &types.SystemStatus{SystemState: types.SystemInitializing}
	status.UpdateUptime()

	queues := queue.NewManager()

	task := clocktask.New(queues, status, func() *dgt3000.Device {
		return dgt3000.New(res.Master, res.Slave)
	}, res.Watchdog)
	if err := task.Initialize(); err != nil {
		log.Errorf("failed to initialize clock task: %v", err)
		return
	}

	ble := blegw.New(blegw.NewBluetoothPeripheral(), queues, status,
		task, res.Sensors, blegw.DefaultDeviceName)
	if err := ble.Initialize(); err != nil {
		log.Errorf("failed to initialize BLE service: %v", err)
		return
	}

	// The clock task starts last so every collaborator it reaches for is
	// ready before its first loop iteration.
	if err := task.Start(); err != nil {
		log.Errorf("failed to start clock task: %v", err)
		return
	}

	log.Infof("=== gateway ready, waiting for BLE client ===")

	ble.RunLoop(nil, func() {
		if !queues.Healthy() {
			log.Warnf("queue health check failed")
		}
		if !task.Running() {
			log.Warnf("clock task is not running")
		}
	})
}
