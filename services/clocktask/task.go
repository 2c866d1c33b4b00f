// services/clocktask/task.go
//
// The clock task owns the only DGT3000 link and runs the gateway's I2C side
// on a dedicated goroutine: it drains one raw command per loop iteration,
// turns clock activity into events, and re-runs the configure sequence when
// the link drops while a BLE client is attached.
package clocktask

import (
	"sync"
	"sync/atomic"
	"time"

	"dgtgateway-go/drivers/dgt3000"
	"dgtgateway-go/errcode"
	"dgtgateway-go/queue"
	"dgtgateway-go/types"
	"dgtgateway-go/x/logx"
	"dgtgateway-go/x/timex"
)

// Watchdog is fed once per loop iteration. Platform code supplies the
// hardware watchdog; host builds use a no-op.
type Watchdog interface {
	Feed()
}

// Config holds the task tunables. Zero values take the defaults below;
// tests shrink the repeat and recovery timings.
type Config struct {
	// UpdateInterval is the loop period. Default 10 ms.
	UpdateInterval time.Duration
	// RecoveryDelay is the minimum spacing between recovery attempts.
	// Default 1 s.
	RecoveryDelay time.Duration
	// MaxRecoveryAttempts caps recovery; 0 means unbounded.
	MaxRecoveryAttempts uint32
	// RepeatInitialDelay is the hold time before the first button repeat.
	// Default 800 ms.
	RepeatInitialDelay time.Duration
	// RepeatInterval is the cadence of subsequent repeats. Default 400 ms.
	RepeatInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = 10 * time.Millisecond
	}
	if c.RecoveryDelay <= 0 {
		c.RecoveryDelay = time.Second
	}
	if c.RepeatInitialDelay <= 0 {
		c.RepeatInitialDelay = 800 * time.Millisecond
	}
	if c.RepeatInterval <= 0 {
		c.RepeatInterval = 400 * time.Millisecond
	}
}

// Stats are the task's cumulative counters.
type Stats struct {
	CommandsReceived uint32
	CommandsExecuted uint32
	CommandsFailed   uint32
	EventsGenerated  uint32
	DGTErrors        uint32
	RecoveryAttempts uint32
	UptimeMs         int64
	LastUpdateMs     int64
}

// LinkFactory builds a fresh link over the platform buses. The task
// re-creates the link after a BLE disconnect so no connection-bound state
// survives into the next session.
type LinkFactory func() *dgt3000.Device

// Task drives the DGT3000 lifecycle.
type Task struct {
	queues   *queue.Manager
	status   *types.SystemStatus
	newLink  LinkFactory
	watchdog Watchdog
	cfg      Config
	log      *logx.Logger

	link *dgt3000.Device

	stateMu   sync.Mutex
	taskState types.TaskState

	dgtConn       types.ConnectionState
	dgtConfigured bool
	bleConnected  atomic.Bool
	initializing  atomic.Bool

	lastRecoveryAttempt int64
	recoveryAttempts    uint32

	repeat repeatMonitor
	stats  Stats

	stop chan struct{}
	done chan struct{}
}

// New creates the task. Initialize must be called before Start.
func New(queues *queue.Manager, status *types.SystemStatus, newLink LinkFactory, wd Watchdog, cfgs ...Config) *Task {
	var cfg Config
	if len(cfgs) > 0 {
		cfg = cfgs[0]
	}
	cfg.setDefaults()
	return &Task{
		queues:   queues,
		status:   status,
		newLink:  newLink,
		watchdog: wd,
		cfg:      cfg,
		log:      logx.New("i2c"),
		dgtConn:  types.Disconnected,
	}
}

// Initialize creates the link instance. Hardware initialization is deferred
// until a BLE client connects.
func (t *Task) Initialize() error {
	t.link = t.newLink()
	t.stats = Stats{}
	t.setState(types.TaskInitialized)
	t.log.Infof("clock task initialized")
	return nil
}

// Start launches the task loop on its own goroutine.
func (t *Task) Start() error {
	if t.State() != types.TaskInitialized {
		return errcode.DGTNotConfigured
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	t.setState(types.TaskRunning)
	go t.run()
	t.log.Infof("clock task started")
	return nil
}

// Stop halts the loop and waits for it to exit.
func (t *Task) Stop() {
	if t.State() != types.TaskRunning {
		return
	}
	t.log.Infof("stopping clock task")
	t.setState(types.TaskStopping)
	close(t.stop)
	<-t.done
	t.setState(types.TaskInitialized)
	t.log.Infof("clock task stopped")
}

// Running reports whether the loop is active.
func (t *Task) Running() bool { return t.State() == types.TaskRunning }

// State returns the task lifecycle state.
func (t *Task) State() types.TaskState {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.taskState
}

// setState takes the state mutex with a bounded wait; if the mutex stays
// contended the write happens anyway so the lifecycle cannot wedge.
func (t *Task) setState(s types.TaskState) {
	deadline := time.Now().Add(100 * time.Millisecond)
	for {
		if t.stateMu.TryLock() {
			t.taskState = s
			t.stateMu.Unlock()
			return
		}
		if !time.Now().Before(deadline) {
			t.taskState = s // fallback if the mutex stays held
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// -----------------------------------------------------------------------------
// Main loop
// -----------------------------------------------------------------------------

func (t *Task) run() {
	defer close(t.done)
	t.stats.LastUpdateMs = timex.NowMs()

	for {
		select {
		case <-t.stop:
			t.log.Infof("clock task loop finished")
			return
		default:
		}

		loopStart := time.Now()
		if t.watchdog != nil {
			t.watchdog.Feed()
		}

		t.processCommand()
		if t.linkConnected() {
			t.handleEvents()
		}
		t.monitorConnection()
		t.updateStatistics()

		if elapsed := time.Since(loopStart); elapsed < t.cfg.UpdateInterval {
			time.Sleep(t.cfg.UpdateInterval - elapsed)
		}
	}
}

func (t *Task) linkConnected() bool { return t.dgtConn == types.Connected }

// -----------------------------------------------------------------------------
// BLE-triggered lifecycle
// -----------------------------------------------------------------------------

// OnBLEConnected is invoked by the BLE service when a client attaches. It
// brings the clock up; a failure is reported as an error event while the
// task keeps running so recovery can proceed.
func (t *Task) OnBLEConnected() {
	t.log.Infof("BLE connected, initializing DGT3000")
	t.bleConnected.Store(true)

	if !t.initializeLink() {
		t.log.Errorf("failed to initialize DGT3000 on BLE connection")
		t.generateErrorEvent(errcode.I2CCommunicationError, "Failed to initialize DGT3000")
	}
}

// OnBLEDisconnected powers the clock off and re-creates every piece of
// connection-bound state: link, queues, recovery counters, monitors and
// statistics all start fresh for the next client.
func (t *Task) OnBLEDisconnected() {
	t.log.Infof("BLE disconnected, cleaning up DGT3000")
	t.bleConnected.Store(false)
	t.cleanupLink()
	t.resetConnectionState()
}

func (t *Task) initializeLink() bool {
	t.initializing.Store(true)
	defer t.initializing.Store(false)

	if err := t.link.Begin(); err != nil {
		t.log.Errorf("failed to initialize DGT3000 hardware")
		return false
	}
	time.Sleep(100 * time.Millisecond) // settle after bus bring-up

	if err := t.link.Configure(); err != nil {
		t.log.Errorf("failed to configure DGT3000")
		return false
	}

	t.dgtConn = types.Connected
	t.dgtConfigured = true
	t.updateConnectionState()
	t.status.UpdateActivity()

	t.generateConnectionStatusEvent(true, true)
	t.log.Infof("DGT3000 initialized successfully")
	return true
}

func (t *Task) cleanupLink() {
	if t.link == nil || !t.linkConnected() {
		return
	}
	_ = t.link.Close() // sends the power-off command

	t.dgtConn = types.Disconnected
	t.dgtConfigured = false
	t.updateConnectionState()
	t.status.UpdateActivity()

	t.generateConnectionStatusEvent(false, false)
	t.log.Infof("DGT3000 cleanup complete")
}

// resetConnectionState is the restart-equivalent mandated after a BLE
// disconnect: drain the queues, zero counters and monitors, and replace the
// link instance.
func (t *Task) resetConnectionState() {
	t.queues.FlushAll()
	t.queues.ResetStatistics()
	t.recoveryAttempts = 0
	t.lastRecoveryAttempt = 0
	t.repeat = repeatMonitor{}
	t.stats = Stats{}
	t.link = t.newLink()
	t.log.Infof("connection state reset")
}

// -----------------------------------------------------------------------------
// Recovery
// -----------------------------------------------------------------------------

func (t *Task) monitorConnection() {
	if t.shouldAttemptRecovery() {
		t.attemptRecovery()
	}
	t.updateConnectionState()
}

func (t *Task) shouldAttemptRecovery() bool {
	return !t.linkConnected() && t.bleConnected.Load() && !t.initializing.Load() &&
		(t.cfg.MaxRecoveryAttempts == 0 || t.recoveryAttempts < t.cfg.MaxRecoveryAttempts)
}

func (t *Task) attemptRecovery() bool {
	now := timex.NowMs()
	if now-t.lastRecoveryAttempt < t.cfg.RecoveryDelay.Milliseconds() {
		return false
	}
	t.recoveryAttempts++

	t.log.Infof("attempting DGT3000 recovery (attempt %d)", t.recoveryAttempts)
	err := t.link.Configure()
	// Pace from the end of the attempt so a slow failure still leaves a gap.
	t.lastRecoveryAttempt = timex.NowMs()
	if err != nil {
		t.log.Warnf("DGT3000 recovery failed")
		return false
	}

	t.log.Infof("DGT3000 recovery successful")
	t.dgtConn = types.Connected
	t.dgtConfigured = true
	t.recoveryAttempts = 0
	t.generateConnectionStatusEvent(true, true)
	return true
}

// -----------------------------------------------------------------------------
// Status mirroring
// -----------------------------------------------------------------------------

func (t *Task) updateConnectionState() {
	t.status.DGTConnectionState = t.dgtConn
	t.status.DGTConfigured = t.dgtConfigured
}

func (t *Task) updateStatistics() {
	t.stats.UptimeMs = timex.NowMs()
	t.stats.LastUpdateMs = timex.NowMs()
	t.stats.RecoveryAttempts = t.recoveryAttempts
}

// Statistics returns a copy of the counters.
func (t *Task) Statistics() Stats { return t.stats }
