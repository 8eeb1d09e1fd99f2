package core

import (
	"errors"
	"sync"

	"eload/protocol"
)

// Host fakes for the collaborator interfaces.

type fakeClock struct {
	mu  sync.Mutex
	now uint32
}

func (c *fakeClock) Millis() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(ms uint32) {
	c.mu.Lock()
	c.now += ms
	c.mu.Unlock()
}

type fakeDAC struct {
	mu     sync.Mutex
	codes  []uint16
	failed bool
}

func (d *fakeDAC) WriteCode(code uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failed {
		return errBus
	}
	d.codes = append(d.codes, code)
	return nil
}

func (d *fakeDAC) Last() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.codes) == 0 {
		return 0
	}
	return d.codes[len(d.codes)-1]
}

func (d *fakeDAC) Writes() []uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint16(nil), d.codes...)
}

var errBus = errors.New("bus error")

type fakeSense struct {
	voltage    uint32
	current    uint32
	branches   [BranchCount]uint32
	continuous bool
	source     SenseSource
	handler    SampleHandler
}

func (s *fakeSense) Voltage() uint32 { return s.voltage }
func (s *fakeSense) Current() uint32 { return s.current }
func (s *fakeSense) Power() uint32 {
	return uint32(uint64(s.voltage) * uint64(s.current) / 1000)
}
func (s *fakeSense) BranchCurrent(b Branch) uint32 { return s.branches[b] }
func (s *fakeSense) SetContinuous(on bool) { s.continuous = on }
func (s *fakeSense) SetVoltageSource(src SenseSource) { s.source = src }
func (s *fakeSense) SetSampleHandler(h SampleHandler) { s.handler = h }

// setCurrent spreads mA evenly over the four branches.
func (s *fakeSense) setCurrent(mA uint32) {
	s.current = mA
	for b := range s.branches {
		s.branches[b] = mA / BranchCount
	}
}

type fakePin struct {
	high bool
	sets int
}

func (p *fakePin) Set(high bool) {
	p.high = high
	p.sets++
}

type fakeInput struct {
	level bool
}

func (p *fakeInput) Get() bool { return p.level }

type fakeThermal struct {
	temps  [2]int16
	faults [2]SensorFault
}

func (f *fakeThermal) ReadTemperature(s TempSensor) (int16, SensorFault) {
	return f.temps[s], f.faults[s]
}

type fakeFans struct {
	pwm     uint8
	rpm     [2]uint16
	history []uint8
}

func (f *fakeFans) SetPWM(pwm uint8) {
	f.pwm = pwm
	f.history = append(f.history, pwm)
}

func (f *fakeFans) RPM(fan int) uint16 { return f.rpm[fan] }

// rig is a supervisor wired to fakes.
type rig struct {
	cfg   Settings
	table *protocol.RegisterTable
	drv   *fakeDAC
	dac   *DAC
	sense *fakeSense
	clock *fakeClock
	pins  struct{ enL, enR, line, faultLED, enLED *fakePin }
	sup   *Supervisor
}

func newRig(cfg Settings) *rig {
	r := &rig{
		cfg:   cfg,
		table: protocol.NewRegisterTable(),
		drv:   &fakeDAC{},
		sense: &fakeSense{voltage: 12000},
		clock: &fakeClock{},
	}
	r.pins.enL = &fakePin{}
	r.pins.enR = &fakePin{}
	r.pins.line = &fakePin{}
	r.pins.faultLED = &fakePin{}
	r.pins.enLED = &fakePin{}
	r.dac = NewDAC(r.drv, cfg.SlewAmpsPerSecond, cfg.SlewTickMs)
	pins := Pins{
		EnableL:   r.pins.enL,
		EnableR:   r.pins.enR,
		FaultLine: r.pins.line,
		FaultLED:  r.pins.faultLED,
		EnableLED: r.pins.enLED,
	}
	r.sup = NewSupervisor(cfg, r.table, r.dac, r.sense, pins, r.clock)
	r.sup.Init()
	return r
}

// readyRig returns a ready rig with the default fault mask.
func readyRig() *rig {
	r := newRig(DefaultSettings())
	r.sup.SetReady(true)
	return r
}

// ramp ticks the DAC until the ramp completes and returns the tick count.
func (r *rig) ramp() int {
	n := 0
	for r.dac.Tick() {
		n++
	}
	return n + 1
}
