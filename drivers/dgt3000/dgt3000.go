// Package dgt3000 drives a DGT3000 chess clock over its dual I2C link.
//
// The gateway masters one bus to push command frames to the clock and is a
// slave on a second bus where the clock pushes frames back. The clock
// addresses the gateway at 0x10 for ACKs and ping responses and at 0x00 for
// time and button frames; only one listen address can be bound at a time,
// and switching costs a bus re-initialisation. The driver owns that
// discipline: ACK-awaiting sends retune to 0x10 and revert to 0x00 so time
// and button frames are not missed.
//
// Frames are [0x20, length, command, ...payload, CRC] with CRC-8-ATM seeded
// by the untransmitted destination address 0x10. Minutes and seconds travel
// as BCD.
package dgt3000

import (
	"errors"
	"time"

	"dgtgateway-go/x/logx"
)

// I2C addresses of the dual link.
const (
	ClockAddress      = 0x08 // master target: the clock
	WakeupAddress     = 0x28 // master target: wake-up alias
	dataListenAddress = 0x00 // slave binding for time/button frames
	ackListenAddress  = 0x10 // slave binding for ACK/ping-response frames

	Frequency = 100_000 // both buses run at 100 kHz
)

// Command and message codes.
const (
	cmdChangeState       = 0x0B
	cmdSetCentralControl = 0x0F
	cmdSetAndRun         = 0x0A
	cmdEndDisplay        = 0x07
	cmdDisplay           = 0x06
	cmdPing              = 0x0D
	msgWakeupResponse    = 0x02
)

// Run modes for the clock timers.
const (
	ModeStop      = 0
	ModeCountDown = 1
	ModeCountUp   = 2
)

// Button state bitmasks (raw state, see ButtonState).
const (
	ButtonBack      = 0x01
	ButtonMinus     = 0x02
	ButtonPlayPause = 0x04
	ButtonPlus      = 0x08
	ButtonForward   = 0x10
	OnOffStateMask  = 0x20
	LeverStateMask  = 0x40 // 1 = right side down

	MainButtonsMask = 0x1F
)

// Button event codes (see ButtonEvent).
const (
	EventLeverRight   = 0x40
	EventLeverLeft    = 0xC0
	EventOnOffPress   = 0x20
	EventOnOffRelease = 0xA0 // only sent if the clock stays on
)

// Display icon bitmasks.
const (
	DotFlag      = 0x01
	DotWhiteKing = 0x02
	DotBlackKing = 0x04
	DotColon     = 0x08
	DotDot       = 0x10
	DotExtra     = 0x20 // left side only
)

// Limits.
const (
	DisplayTextMax  = 11 // characters on the segment display
	MaxBeep         = 48 // 62.5 ms units, 3 s total
	buttonRingSize  = 16
	rxBufferSize    = 256
	invalidListenAd = 0xFF
)

// Errors returned by the driver.
var (
	ErrI2CInit       = errors.New("dgt3000: I2C initialization failed")
	ErrI2C           = errors.New("dgt3000: I2C communication error")
	ErrTimeout       = errors.New("dgt3000: timeout")
	ErrNoAck         = errors.New("dgt3000: no acknowledgment")
	ErrBufferOverrun = errors.New("dgt3000: buffer overrun")
	ErrCRC           = errors.New("dgt3000: CRC error")
	ErrClockOff      = errors.New("dgt3000: clock is off")
	ErrNotConfigured = errors.New("dgt3000: not configured")
	ErrInitFailed    = errors.New("dgt3000: initialization failed after recovery")
)

// LinkState is the coarse driver state.
type LinkState uint8

const (
	Uninitialized LinkState = iota
	Initialized
	Connected
	ConfiguredState
)

func (s LinkState) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Initialized:
		return "Initialized"
	case Connected:
		return "Connected"
	case ConfiguredState:
		return "Configured"
	default:
		return "Unknown"
	}
}

// Config controls timing behaviour. All fields are optional; zero values
// take the protocol defaults. Tests shrink these to keep runs fast.
type Config struct {
	// AckTimeout bounds each wait for a command ACK. Default 50 ms.
	AckTimeout time.Duration
	// AckPoll is the sleep between ACK flag checks. Default 5 ms.
	AckPoll time.Duration
	// PingTimeout bounds the wait for the wake-up response. Default 100 ms.
	PingTimeout time.Duration
	// RetryDelay is the pause between failed send attempts. Default 100 ms.
	RetryDelay time.Duration
	// AddressSwitchDelay is the settle time while rebinding the slave
	// address. Default 10 ms; the clock misses frames below that.
	AddressSwitchDelay time.Duration
	// CommandDelay separates the configure-sequence commands. Default 5 ms.
	CommandDelay time.Duration
}

func (c *Config) setDefaults() {
	if c.AckTimeout <= 0 {
		c.AckTimeout = 50 * time.Millisecond
	}
	if c.AckPoll <= 0 {
		c.AckPoll = 5 * time.Millisecond
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 100 * time.Millisecond
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 100 * time.Millisecond
	}
	if c.AddressSwitchDelay <= 0 {
		c.AddressSwitchDelay = 10 * time.Millisecond
	}
	if c.CommandDelay <= 0 {
		c.CommandDelay = 5 * time.Millisecond
	}
}

// Device is one DGT3000 link. It is owned by the clock task; only the
// slave-receive path (rx.go) runs concurrently with it, and that path
// touches nothing but the atomic rx state.
type Device struct {
	master MasterBus
	slave  SlaveBus
	cfg    Config
	log    *logx.Logger

	initialized        bool
	recoveryInProgress bool
	currentListen      uint8
	lastErr            error

	rx rxState
}

// New creates a driver over the two buses. The buses must already exist;
// Begin binds the slave side.
func New(master MasterBus, slave SlaveBus, cfgs ...Config) *Device {
	var cfg Config
	if len(cfgs) > 0 {
		cfg = cfgs[0]
	}
	cfg.setDefaults()
	return &Device{
		master:        master,
		slave:         slave,
		cfg:           cfg,
		log:           logx.New("dgt"),
		currentListen: invalidListenAd,
	}
}

// Begin initializes the link and binds the slave bus to the data address so
// time and button frames are received. It does not talk to the clock.
func (d *Device) Begin() error {
	d.rx.reset()
	d.initialized = true
	d.lastErr = nil
	if err := d.setListenAddress(dataListenAddress); err != nil {
		d.initialized = false
		return err
	}
	d.log.Infof("link initialized")
	return nil
}

// Close powers the clock off and releases the slave bus. The device can be
// re-initialized with Begin afterwards.
func (d *Device) Close() error {
	if !d.initialized {
		return nil
	}
	_ = d.PowerOff()
	time.Sleep(d.cfg.CommandDelay)
	err := d.slave.Close()
	d.currentListen = invalidListenAd
	d.initialized = false
	d.rx.connected.Store(false)
	d.rx.configured.Store(false)
	d.log.Infof("link closed")
	return err
}

// State derives the coarse link state.
func (d *Device) State() LinkState {
	switch {
	case !d.initialized:
		return Uninitialized
	case d.rx.configured.Load():
		return ConfiguredState
	case d.rx.connected.Load():
		return Connected
	default:
		return Initialized
	}
}

// Connected reports whether the clock is responding.
func (d *Device) Connected() bool { return d.rx.connected.Load() }

// IsConfigured reports whether the clock granted central control.
func (d *Device) IsConfigured() bool { return d.rx.configured.Load() }

// LastError returns the last recorded transport error, or nil.
func (d *Device) LastError() error { return d.lastErr }

// -----------------------------------------------------------------------------
// Configure sequence
// -----------------------------------------------------------------------------

// Configure performs the handshake that takes central control of the clock:
// ChangeState without ACK (waking the clock with a ping if the first send
// fails), SetCentralControl, ChangeState with ACK, then SetAndRun with both
// timers stopped at 0:00:00. A re-entry guard prevents recursive recovery.
func (d *Device) Configure() error {
	if !d.initialized {
		d.lastErr = ErrNotConfigured
		return ErrNotConfigured
	}
	if d.recoveryInProgress {
		return ErrInitFailed
	}
	d.recoveryInProgress = true
	defer func() { d.recoveryInProgress = false }()

	d.rx.configured.Store(false)
	d.rx.connected.Store(false)

	// A failed no-ACK send means the clock is likely off; ping to wake it
	// and try once more.
	if err := d.ChangeStateNoAck(); err != nil {
		time.Sleep(d.cfg.RetryDelay)
		if d.SendPing() != nil || d.ChangeStateNoAck() != nil {
			d.lastErr = ErrClockOff
			return ErrClockOff
		}
	}
	time.Sleep(d.cfg.CommandDelay)

	if err := d.SetCentralControl(); err != nil {
		d.lastErr = ErrI2C
		return ErrI2C
	}
	time.Sleep(d.cfg.CommandDelay)

	if err := d.ChangeState(); err != nil {
		d.lastErr = ErrI2C
		return ErrI2C
	}
	time.Sleep(d.cfg.CommandDelay)

	if err := d.SetAndRun(ModeStop, 0, 0, 0, ModeStop, 0, 0, 0); err != nil {
		d.lastErr = ErrI2C
		return ErrI2C
	}

	d.rx.configured.Store(true)
	d.rx.connected.Store(true)
	d.lastErr = nil
	d.log.Infof("configure complete")
	return nil
}

// -----------------------------------------------------------------------------
// Commands
// -----------------------------------------------------------------------------

// ChangeState sends the mode-switch command and waits for its ACK.
func (d *Device) ChangeState() error {
	if !d.initialized {
		d.lastErr = ErrNotConfigured
		return ErrNotConfigured
	}
	cmd := []byte{0x20, 0x06, cmdChangeState, 0x39, 0xB9}
	return d.send("Change State", cmd, ackListenAddress, cmdChangeState, 1, ClockAddress, true)
}

// ChangeStateNoAck sends the mode-switch command without waiting for an
// ACK. Used during initial wake-up when the clock may not answer yet.
func (d *Device) ChangeStateNoAck() error {
	if !d.initialized {
		d.lastErr = ErrNotConfigured
		return ErrNotConfigured
	}
	cmd := []byte{0x20, 0x06, cmdChangeState, 0x39, 0xB9}
	return d.send("Change State (no ACK)", cmd, dataListenAddress, 0, 0, ClockAddress, true)
}

// SetCentralControl takes control of the clock, expecting an ACK.
func (d *Device) SetCentralControl() error {
	if !d.initialized {
		d.lastErr = ErrNotConfigured
		return ErrNotConfigured
	}
	cmd := []byte{0x20, 0x05, cmdSetCentralControl, 0x48}
	return d.send("Set Central Control", cmd, ackListenAddress, cmdSetCentralControl, 1, ClockAddress, true)
}

// SendPing transmits the wake-up ping to the alias address and waits for
// the fixed 6-byte response. A timeout is reported but is not fatal to the
// link; the caller decides.
func (d *Device) SendPing() error {
	if !d.initialized {
		d.lastErr = ErrNotConfigured
		return ErrNotConfigured
	}
	cmd := []byte{0x20, 0x05, cmdPing, 0x46}
	d.rx.newPingResponse.Store(false)

	// Fire and forget: a master-side failure is normal when the clock is
	// off, so the send is not retried and its result is ignored.
	_ = d.send("Ping (Wakeup)", cmd, dataListenAddress, 0, 0, WakeupAddress, false)

	deadline := time.Now().Add(d.cfg.PingTimeout)
	for time.Now().Before(deadline) {
		if d.rx.newPingResponse.Load() {
			d.rx.newPingResponse.Store(false)
			d.log.Infof("ping response received")
			return nil
		}
		time.Sleep(d.cfg.AckPoll)
	}
	d.log.Infof("timeout waiting for ping response")
	d.lastErr = ErrTimeout
	return ErrTimeout
}

// SendDisplayEmpty pushes the fixed blank-display frame.
func (d *Device) SendDisplayEmpty() error {
	if !d.initialized {
		d.lastErr = ErrNotConfigured
		return ErrNotConfigured
	}
	cmd := []byte{
		0x20, 0x15, cmdDisplay,
		0x20, 0x20, 0x20, 0x20, 0x20, 0x20, 0x20, 0x20, 0x20, 0x20, 0x20,
		0xFF, 0x00, 0x03, 0x01, 0x01, 0xFC,
	}
	return d.send("Display Empty", cmd, ackListenAddress, cmdDisplay, 1, ClockAddress, true)
}

// DisplayText shows up to DisplayTextMax characters with an optional beep
// and icon masks. The previous text is cleared first.
func (d *Device) DisplayText(text string, beep, leftDots, rightDots uint8) error {
	if !d.initialized {
		d.lastErr = ErrNotConfigured
		return ErrNotConfigured
	}
	if !ValidateDisplayText(text, beep, leftDots, rightDots) {
		d.lastErr = ErrI2C
		return ErrI2C
	}

	if err := d.EndDisplay(); err != nil {
		d.log.Infof("failed to clear display before showing text")
		return err
	}

	cmd := make([]byte, 20)
	cmd[0] = 0x20
	cmd[1] = 0x15
	cmd[2] = cmdDisplay
	for i := 0; i < DisplayTextMax; i++ {
		if i < len(text) {
			cmd[3+i] = text[i]
		} else {
			cmd[3+i] = ' '
		}
	}
	cmd[14] = 0xFF
	cmd[15] = beep
	cmd[16] = 0x03
	cmd[17] = leftDots
	cmd[18] = rightDots
	ApplyCRC(cmd)

	return d.send("Display", cmd, ackListenAddress, cmdDisplay, 1, ClockAddress, true)
}

// EndDisplay clears any text and returns the clock to the time display.
// The ACK is deliberately not awaited: the listen-address retune from 0x10
// back to 0x00 takes long enough to lose button frames in practice.
func (d *Device) EndDisplay() error {
	if !d.initialized {
		d.lastErr = ErrNotConfigured
		return ErrNotConfigured
	}
	cmd := []byte{0x20, 0x05, cmdEndDisplay, 0x70}
	return d.send("End Display", cmd, dataListenAddress, cmdEndDisplay, 0, ClockAddress, true)
}

// SetAndRun sets both timers and their run modes. Minutes and seconds go
// out as BCD; the two modes pack into one byte. Like EndDisplay, the ACK is
// skipped to avoid the listen-address retune.
func (d *Device) SetAndRun(leftMode, leftHours, leftMinutes, leftSeconds,
	rightMode, rightHours, rightMinutes, rightSeconds uint8) error {
	if !d.initialized {
		d.lastErr = ErrNotConfigured
		return ErrNotConfigured
	}
	if !ValidateTime(leftMode, leftHours, leftMinutes, leftSeconds,
		rightMode, rightHours, rightMinutes, rightSeconds) {
		d.lastErr = ErrI2C
		return ErrI2C
	}

	cmd := make([]byte, 11)
	cmd[0] = 0x20
	cmd[1] = 0x0C
	cmd[2] = cmdSetAndRun
	cmd[3] = leftHours
	cmd[4] = bcdEncode(leftMinutes)
	cmd[5] = bcdEncode(leftSeconds)
	cmd[6] = rightHours
	cmd[7] = bcdEncode(rightMinutes)
	cmd[8] = bcdEncode(rightSeconds)
	cmd[9] = leftMode | rightMode<<2
	ApplyCRC(cmd)

	return d.send("Set And Run", cmd, dataListenAddress, cmdSetAndRun, 0, ClockAddress, true)
}

// Stop halts both timers, preserving the last received time snapshot.
func (d *Device) Stop() error {
	d.log.Infof("stopping timers")
	t := d.Time()
	return d.SetAndRun(ModeStop, t[0], t[1], t[2], ModeStop, t[3], t[4], t[5])
}

// Run starts both timers from the current snapshot with the given modes.
func (d *Device) Run(leftMode, rightMode uint8) error {
	if !d.initialized {
		d.lastErr = ErrNotConfigured
		return ErrNotConfigured
	}
	if !ValidateRun(leftMode, rightMode) {
		d.lastErr = ErrI2C
		return ErrI2C
	}
	d.log.Infof("running timers")
	t := d.Time()
	return d.SetAndRun(leftMode, t[0], t[1], t[2], rightMode, t[3], t[4], t[5])
}

// PowerOff asks the clock to switch off. The command is a ChangeState
// variant with a zero data byte and is sent without retry or ACK.
func (d *Device) PowerOff() error {
	if !d.initialized {
		d.lastErr = ErrNotConfigured
		return ErrNotConfigured
	}
	cmd := make([]byte, 5)
	cmd[0] = 0x20
	cmd[1] = 0x06
	cmd[2] = cmdChangeState
	cmd[3] = 0x00
	ApplyCRC(cmd)

	err := d.send("Power Off", cmd, dataListenAddress, 0, 0, ClockAddress, false)
	if err == nil {
		d.log.Infof("power off command sent")
		d.rx.connected.Store(false)
		d.rx.configured.Store(false)
	}
	return err
}

// -----------------------------------------------------------------------------
// Send path
// -----------------------------------------------------------------------------

// send pushes one frame to targetAddr, optionally awaiting an ACK with code
// expectedAck on ackListen. withRetry allows up to 3 attempts. After an
// ACK-awaiting send (successful or not) the slave reverts to the data
// address. Exhausting all attempts marks the connection lost.
func (d *Device) send(name string, frame []byte, ackListen, expectedAck uint8,
	acks int, targetAddr uint16, withRetry bool) error {
	if !d.initialized || d.master == nil {
		d.lastErr = ErrNotConfigured
		return ErrNotConfigured
	}
	if len(frame) == 0 {
		d.lastErr = ErrI2C
		return ErrI2C
	}

	maxAttempts := 1
	if withRetry {
		maxAttempts = 3
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		d.log.Debugf("-> 10 %s = %s", logx.Hex(frame), name)

		d.setListenAddress(ackListen)
		d.rx.newAck.Store(false)
		d.rx.receivedAckCmd.Store(0)

		if err := d.master.Tx(targetAddr, frame, nil); err != nil {
			d.log.Debugf("send error: I2C transmission failed")
			d.lastErr = ErrI2C
			if withRetry {
				time.Sleep(d.cfg.RetryDelay)
				continue
			}
			// Non-retry sends (wake-up ping, power-off) treat a master
			// failure as non-fatal.
			return nil
		}

		if acks == 0 {
			d.lastErr = nil
			return nil
		}

		if d.waitForAck(expectedAck) {
			d.setListenAddress(dataListenAddress)
			d.lastErr = nil
			return nil
		}
		if attempt < maxAttempts {
			d.log.Debugf("send error: ACK not received, retrying")
			d.lastErr = ErrNoAck
		}
	}

	d.log.Infof("sending %s failed after all attempts", name)
	d.setListenAddress(dataListenAddress)
	d.rx.connected.Store(false)
	d.rx.configured.Store(false)
	if d.lastErr == nil {
		d.lastErr = ErrNoAck
	}
	return d.lastErr
}

// waitForAck polls the ACK flag until the expected command code arrives or
// the timeout elapses. ACKs for other codes are ignored.
func (d *Device) waitForAck(expected uint8) bool {
	deadline := time.Now().Add(d.cfg.AckTimeout)
	for time.Now().Before(deadline) {
		if d.rx.newAck.Load() && uint8(d.rx.receivedAckCmd.Load()) == expected {
			d.rx.newAck.Store(false)
			d.lastErr = nil
			return true
		}
		time.Sleep(d.cfg.AckPoll)
	}
	d.log.Infof("ACK timeout waiting for command 0x%02X", expected)
	d.lastErr = ErrTimeout
	return false
}

// setListenAddress rebinds the slave bus, paying the settle delay. A failed
// rebind leaves the listen address invalid so the next call retries.
func (d *Device) setListenAddress(addr uint8) error {
	if !d.initialized || d.slave == nil {
		d.lastErr = ErrNotConfigured
		return ErrNotConfigured
	}
	if d.currentListen == addr {
		return nil
	}

	_ = d.slave.Close()
	time.Sleep(d.cfg.AddressSwitchDelay)

	if err := d.slave.Listen(addr, d.onReceive); err != nil {
		d.log.Infof("failed to set slave listen address 0x%02X", addr)
		d.lastErr = ErrI2CInit
		d.currentListen = invalidListenAd
		return ErrI2CInit
	}
	d.currentListen = addr
	d.log.Debugf("(listening on 0x%02X)", addr)
	return nil
}

// -----------------------------------------------------------------------------
// Parameter validation
// -----------------------------------------------------------------------------

// ValidateDisplayText checks text length, beep duration, and the icon
// masks. DotExtra is valid on the left side only.
func ValidateDisplayText(text string, beep, leftDots, rightDots uint8) bool {
	if len(text) > DisplayTextMax {
		return false
	}
	if beep > MaxBeep {
		return false
	}
	const validLeft = DotFlag | DotWhiteKing | DotBlackKing | DotColon | DotDot | DotExtra
	if leftDots&^uint8(validLeft) != 0 {
		return false
	}
	const validRight = DotFlag | DotWhiteKing | DotBlackKing | DotColon | DotDot
	if rightDots&^uint8(validRight) != 0 {
		return false
	}
	return true
}

// ValidateTime checks run modes (0-2), hours (0-9) and minutes/seconds
// (0-59) for both sides.
func ValidateTime(leftMode, leftHours, leftMinutes, leftSeconds,
	rightMode, rightHours, rightMinutes, rightSeconds uint8) bool {
	if leftMode > 2 || rightMode > 2 {
		return false
	}
	if leftHours > 9 || rightHours > 9 {
		return false
	}
	if leftMinutes > 59 || rightMinutes > 59 || leftSeconds > 59 || rightSeconds > 59 {
		return false
	}
	return true
}

// ValidateRun checks the two run modes.
func ValidateRun(leftMode, rightMode uint8) bool {
	return leftMode <= 2 && rightMode <= 2
}
