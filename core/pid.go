package core

import "sync"

// PID runs the closed-loop laws for CV, CR and CP. The integral is shared
// between the sampling domain (Update) and the task domain (Reset, Hold,
// Release). A held regulator refuses updates, so no sample that raced a
// Hold can store into the integral after it.
type PID struct {
	gains [ModeCP + 1]Gains
	limit int64

	mu       sync.Mutex
	integral int64
	held     bool
}

// NewPID creates a regulator using the gains and integral clamp in s.
func NewPID(s Settings) *PID {
	p := &PID{limit: s.IntegralLimit}
	p.gains[ModeCV] = s.CVGains
	p.gains[ModeCR] = s.CRGains
	p.gains[ModeCP] = s.CPGains
	for m := ModeCV; m <= ModeCP; m++ {
		if p.gains[m].Kp == 0 {
			p.gains[m].Kp = 1
		}
		if p.gains[m].Ki == 0 {
			p.gains[m].Ki = 1
		}
	}
	return p
}

// Reset zeroes the integral.
func (p *PID) Reset() {
	p.mu.Lock()
	p.integral = 0
	p.mu.Unlock()
}

// Hold zeroes the integral and refuses updates until Release.
func (p *PID) Hold() {
	p.mu.Lock()
	p.integral = 0
	p.held = true
	p.mu.Unlock()
}

// Release zeroes the integral and accepts updates again.
func (p *PID) Release() {
	p.mu.Lock()
	p.integral = 0
	p.held = false
	p.mu.Unlock()
}

// Integral returns the accumulated integral term.
func (p *PID) Integral() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.integral
}

// Error returns the regulation error of mode for one sample. A positive
// error asks for more sink current. setpoint is in mV, mOhm or mW. ok is
// false when the error is undefined (CR with no current flowing) or the
// mode is not closed-loop.
func Error(mode Mode, setpoint, voltageMV, currentMA uint32) (err int64, ok bool) {
	switch mode {
	case ModeCV:
		return int64(voltageMV) - int64(setpoint), true
	case ModeCR:
		if currentMA == 0 {
			return 0, false
		}
		resistance := int64(voltageMV) * 1000 / int64(currentMA)
		return resistance - int64(setpoint), true
	case ModeCP:
		// Setpoint and measurement compared in uW
		power := int64(voltageMV) * int64(currentMA)
		return int64(setpoint)*1000 - power, true
	default:
		return 0, false
	}
}

// Update runs one step of mode's law and returns the DAC code to write.
// ok is false while held.
func (p *PID) Update(mode Mode, setpoint, voltageMV, currentMA uint32) (uint16, bool) {
	e, ok := Error(mode, setpoint, voltageMV, currentMA)
	if !ok {
		return 0, false
	}
	g := p.gains[mode]

	p.mu.Lock()
	if p.held {
		p.mu.Unlock()
		return 0, false
	}
	integral := p.integral + e/g.Ki
	if integral > p.limit {
		integral = p.limit
	}
	if integral < -p.limit {
		integral = -p.limit
	}
	p.integral = integral
	p.mu.Unlock()

	out := int64(ZeroCurrentCode) - (e/g.Kp + integral)
	if out < 0 {
		out = 0
	}
	if out > ZeroCurrentCode {
		out = ZeroCurrentCode
	}
	return uint16(out), true
}
