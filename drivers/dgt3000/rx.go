// rx.go
//
// Slave-receive path. The receive handler runs in the bus implementation's
// context and is treated as interrupt-adjacent: it writes only the atomic
// fields of rxState and the lock-free button ring, and never blocks. The
// clock task consumes the flags; NewTimeAvailable and the ACK/ping flags
// are consume-on-read.
package dgt3000

import (
	"sync/atomic"

	"dgtgateway-go/x/logx"
)

// pingResponse is the fixed wake-up answer the clock emits on the data
// address after a ping to the wake-up alias.
var pingResponse = [6]byte{0x10, 0x07, 0x02, 0x22, 0x01, 0x05}

type rxState struct {
	connected  atomic.Bool
	configured atomic.Bool

	receivedAckCmd  atomic.Uint32
	newAck          atomic.Bool
	newPingResponse atomic.Bool

	newTime atomic.Bool
	// timePacked holds the six time bytes [L_H L_M L_S R_H R_M R_S] in one
	// word so the handler can publish a tear-free snapshot without a lock.
	timePacked atomic.Uint64

	buttonState atomic.Uint32
	ring        buttonRing
}

func (r *rxState) reset() {
	r.connected.Store(false)
	r.configured.Store(false)
	r.receivedAckCmd.Store(0)
	r.newAck.Store(false)
	r.newPingResponse.Store(false)
	r.newTime.Store(false)
	r.timePacked.Store(0)
	r.buttonState.Store(0)
	r.ring.reset()
}

func packTime(t [6]uint8) uint64 {
	return uint64(t[0])<<40 | uint64(t[1])<<32 | uint64(t[2])<<24 |
		uint64(t[3])<<16 | uint64(t[4])<<8 | uint64(t[5])
}

func unpackTime(v uint64) [6]uint8 {
	return [6]uint8{
		uint8(v >> 40), uint8(v >> 32), uint8(v >> 24),
		uint8(v >> 16), uint8(v >> 8), uint8(v),
	}
}

// -----------------------------------------------------------------------------
// Inbound dispatch
// -----------------------------------------------------------------------------

// onReceive classifies one inbound frame. Valid frames are at least 3 bytes
// and addressed to the gateway (0x10); byte 2 selects the message type.
func (d *Device) onReceive(buf []byte) {
	if !d.initialized || len(buf) == 0 {
		return
	}
	if len(buf) > rxBufferSize {
		buf = buf[:rxBufferSize]
	}

	d.log.Debugf("<- %s", logx.Hex(buf))

	if len(buf) < 3 || buf[0] != ackListenAddress {
		return
	}

	switch buf[2] {
	case 0x01:
		d.processAck(buf)
	case msgWakeupResponse:
		d.processPingResponse(buf)
	case 0x04:
		d.processTime(buf)
	case 0x05:
		d.processButtons(buf)
	default:
		d.log.Debugf("= unknown message type %d", buf[2])
	}
}

// processAck handles "10 08 01 [CMD] [STATUS] ...".
func (d *Device) processAck(buf []byte) {
	if len(buf) < 5 {
		d.log.Debugf("invalid ACK message")
		return
	}
	d.rx.receivedAckCmd.Store(uint32(buf[3]))
	d.rx.newAck.Store(true)
	d.log.Debugf("= ack for command 0x%02X", buf[3])
}

func (d *Device) processPingResponse(buf []byte) {
	if len(buf) >= len(pingResponse) && [6]byte(buf[:6]) == pingResponse {
		d.log.Debugf("= ping response ok")
		d.rx.newPingResponse.Store(true)
	} else {
		d.log.Debugf("= invalid ping response")
	}
}

// processTime parses a time frame. Echo frames (byte 19 set) are dropped,
// as are frames whose parsed fields break the timer ranges. Receiving time
// proves the clock is alive: an unconnected link is promoted to Connected,
// but not Configured, since the clock may have been reset.
func (d *Device) processTime(buf []byte) {
	if len(buf) > 19 && buf[19] == 1 {
		d.log.Debugf("= time: ignoring no-update message")
		return
	}
	if len(buf) < 14 || buf[1] != 0x18 {
		d.log.Infof("invalid time message")
		return
	}

	t := [6]uint8{
		buf[4] & 0x0F,
		bcdDecode(buf[5]),
		bcdDecode(buf[6]),
		buf[10] & 0x0F,
		bcdDecode(buf[11]),
		bcdDecode(buf[12]),
	}
	if t[0] > 9 || t[3] > 9 || t[1] > 59 || t[4] > 59 || t[2] > 59 || t[5] > 59 {
		d.log.Debugf("invalid time values in message, ignoring")
		return
	}

	d.rx.timePacked.Store(packTime(t))
	d.rx.newTime.Store(true)

	if !d.rx.connected.Load() {
		d.log.Infof("time messages received - connection restored")
		d.rx.connected.Store(true)
		d.rx.configured.Store(false)
	}
}

// processButtons turns a (current, previous) state pair into at most one
// event, in priority order: on/off, lever, then the main five buttons
// (which have no release events).
func (d *Device) processButtons(buf []byte) {
	if len(buf) < 5 || buf[2] != 0x05 {
		return
	}
	current, previous := buf[3], buf[4]
	d.log.Debugf("= button msg: current=0x%02X previous=0x%02X", current, previous)

	d.rx.buttonState.Store(uint32(current))

	changed := current ^ previous
	if changed == 0 {
		return
	}

	switch {
	case changed&OnOffStateMask != 0:
		if current&OnOffStateMask != 0 {
			d.rx.ring.push(EventOnOffPress)
		} else {
			d.rx.ring.push(EventOnOffRelease)
		}
	case changed&LeverStateMask != 0:
		if current&LeverStateMask != 0 {
			d.rx.ring.push(EventLeverLeft)
		} else {
			d.rx.ring.push(EventLeverRight)
		}
	default:
		if pressed := changed & current & MainButtonsMask; pressed != 0 {
			d.rx.ring.push(pressed)
		}
	}
}

// -----------------------------------------------------------------------------
// Consumer accessors
// -----------------------------------------------------------------------------

// Time returns the current snapshot [L_H, L_M, L_S, R_H, R_M, R_S].
func (d *Device) Time() [6]uint8 {
	return unpackTime(d.rx.timePacked.Load())
}

// NewTimeAvailable reports and consumes the new-time flag.
func (d *Device) NewTimeAvailable() bool {
	return d.rx.newTime.CompareAndSwap(true, false)
}

// ButtonEvent removes and returns the oldest queued button event.
func (d *Device) ButtonEvent() (uint8, bool) {
	if !d.initialized {
		return 0, false
	}
	return d.rx.ring.pop()
}

// ButtonState returns the last raw button/lever state byte.
func (d *Device) ButtonState() uint8 {
	if !d.initialized {
		return 0
	}
	return uint8(d.rx.buttonState.Load())
}

// -----------------------------------------------------------------------------
// Button ring
// -----------------------------------------------------------------------------

// buttonRing is a fixed single-producer ring of button events. When full,
// the oldest event is overwritten so the newest is never lost.
type buttonRing struct {
	buf   [buttonRingSize]atomic.Uint32
	start atomic.Int32
	end   atomic.Int32
}

func (r *buttonRing) reset() {
	r.start.Store(0)
	r.end.Store(0)
	for i := range r.buf {
		r.buf[i].Store(0)
	}
}

// push is called only from the receive handler.
func (r *buttonRing) push(b uint8) {
	e := r.end.Load()
	next := (e + 1) % buttonRingSize
	if s := r.start.Load(); next == s {
		// Full: drop the oldest event. The CAS loses gracefully against a
		// concurrent pop, which frees a slot either way.
		r.start.CompareAndSwap(s, (s+1)%buttonRingSize)
	}
	r.buf[e].Store(uint32(b))
	r.end.Store(next)
}

// pop is called only from the clock task.
func (r *buttonRing) pop() (uint8, bool) {
	for {
		s := r.start.Load()
		if s == r.end.Load() {
			return 0, false
		}
		v := uint8(r.buf[s].Load())
		if r.start.CompareAndSwap(s, (s+1)%buttonRingSize) {
			return v, true
		}
	}
}
