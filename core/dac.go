package core

import (
	"sync"
	"sync/atomic"
)

// DAC transfer function: code = ZeroCurrentCode - 14836*mA/10000.
const (
	ZeroCurrentCode = 62569
	codeSlopeNum    = 14836 // codes per 10 A
	codeSlopeDen    = 10000
)

// CurrentToCode converts a current in mA to a DAC code.
func CurrentToCode(mA uint32) uint16 {
	c := int64(ZeroCurrentCode) - int64(mA)*codeSlopeNum/codeSlopeDen
	if c < 0 {
		return 0
	}
	return uint16(c)
}

// CodeToCurrent is the inverse of CurrentToCode, in mA.
func CodeToCurrent(code uint16) uint32 {
	if code >= ZeroCurrentCode {
		return 0
	}
	return uint32((int64(ZeroCurrentCode) - int64(code)) * codeSlopeDen / codeSlopeNum)
}

// DAC is the slew-limited current actuator. Tick runs from the slew timer
// and moves the output one step toward the target; WriteCodeNonBlocking is
// used by the PID from the sampling domain.
type DAC struct {
	drv DACDriver

	busMu sync.Mutex

	code      atomic.Uint32
	target    atomic.Uint32
	transient atomic.Bool

	step uint32 // codes per tick

	writeErrors atomic.Uint32
}

// NewDAC creates an actuator limited to slewAmpsPerSecond with one step
// every tickMs.
func NewDAC(drv DACDriver, slewAmpsPerSecond, tickMs uint32) *DAC {
	mAPerTick := slewAmpsPerSecond * tickMs
	step := mAPerTick * codeSlopeNum / codeSlopeDen
	if step == 0 {
		step = 1
	}
	d := &DAC{drv: drv, step: step}
	d.code.Store(ZeroCurrentCode)
	d.target.Store(ZeroCurrentCode)
	return d
}

// SetCurrent commands mA. With slew the output ramps from its present
// code; a ramp already in progress is redirected to the new target.
func (d *DAC) SetCurrent(mA uint32, slew bool) {
	code := CurrentToCode(mA)
	if !slew {
		d.WriteCode(code)
		return
	}
	d.target.Store(uint32(code))
	if uint32(code) != d.code.Load() {
		d.transient.Store(true)
	}
}

// WriteCode writes code immediately and cancels any ramp.
func (d *DAC) WriteCode(code uint16) {
	d.transient.Store(false)
	d.target.Store(uint32(code))

	d.busMu.Lock()
	defer d.busMu.Unlock()
	d.write(code)
}

// WriteCodeNonBlocking writes code unless the bus is busy, in which case
// the update is dropped. It never touches the ramp state.
func (d *DAC) WriteCodeNonBlocking(code uint16) bool {
	return d.TryWriteCode(code, nil)
}

// TryWriteCode is WriteCodeNonBlocking with a condition checked once the
// bus is held. A false or busy result means nothing was written.
func (d *DAC) TryWriteCode(code uint16, cond func() bool) bool {
	if !d.busMu.TryLock() {
		return false
	}
	defer d.busMu.Unlock()
	if cond != nil && !cond() {
		return false
	}
	d.write(code)
	return true
}

func (d *DAC) write(code uint16) {
	if err := d.drv.WriteCode(code); err != nil {
		d.writeErrors.Add(1)
		return
	}
	d.code.Store(uint32(code))
}

// Tick advances the ramp by one step and reports whether the ramp is
// still in progress.
func (d *DAC) Tick() bool {
	if !d.transient.Load() {
		return false
	}

	d.busMu.Lock()
	defer d.busMu.Unlock()

	cur := d.code.Load()
	target := d.target.Load()
	next := target
	if cur > target+d.step {
		next = cur - d.step
	} else if cur+d.step < target {
		next = cur + d.step
	}
	d.write(uint16(next))
	if next == target {
		d.transient.Store(false)
		return false
	}
	return true
}

// InTransient reports whether a slew-limited ramp is in progress.
func (d *DAC) InTransient() bool {
	return d.transient.Load()
}

// Code returns the last code written.
func (d *DAC) Code() uint16 {
	return uint16(d.code.Load())
}

// Target returns the ramp destination.
func (d *DAC) Target() uint16 {
	return uint16(d.target.Load())
}

// WriteErrors returns the number of failed driver writes.
func (d *DAC) WriteErrors() uint32 {
	return d.writeErrors.Load()
}
