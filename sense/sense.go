// Package sense implements the analog front end of the load: oversampled
// voltage and total current, per-branch currents, voltage-sense source
// selection and the continuous-conversion path feeding the closed loop.
package sense

import (
	"context"
	"sync/atomic"
	"time"

	"eload/core"
)

// Reader returns one raw conversion of a 12-bit converter.
type Reader interface {
	Read() (uint16, error)
}

// BranchReader returns one raw conversion of a branch current channel.
type BranchReader interface {
	ReadBranch(b core.Branch) (uint16, error)
}

// ADCMax is the full-scale code of the converters.
const ADCMax = 4095

// Config holds the front-end scaling and filtering parameters.
type Config struct {
	Oversample uint8 // Conversions per averaged sample

	InternalFullScaleMV uint32 // Voltage at ADCMax, internal sense
	RemoteFullScaleMV   uint32 // Voltage at ADCMax, remote sense
	CurrentFullScaleMA  uint32 // Total current at ADCMax
	BranchFullScaleMA   uint32 // Branch current at ADCMax

	MinVoltageMV uint32 // Averaged voltage below this reads 0
	MinCurrentMA uint32 // Averaged current below this reads 0
	MinBranchMA  uint32 // Branch current below this reads 0
	RoundTo      uint32 // Averaged values are rounded to this step

	AutoThresholdMV uint32 // Remote voltage needed for automatic selection
	AutoProbeEvery  uint8  // Averaged samples between remote probes in auto mode

	SamplePeriod     time.Duration // Pause between conversions, paced mode
	ContinuousPeriod time.Duration // Pause between conversions, continuous mode
}

// DefaultConfig returns the shipped front-end parameters.
func DefaultConfig() Config {
	return Config{
		Oversample:          16,
		InternalFullScaleMV: 100000,
		RemoteFullScaleMV:   100000,
		CurrentFullScaleMA:  50000,
		BranchFullScaleMA:   15000,
		MinVoltageMV:        100,
		MinCurrentMA:        300,
		MinBranchMA:         50,
		RoundTo:             50,
		AutoThresholdMV:     100,
		AutoProbeEvery:      8,
		SamplePeriod:        10 * time.Millisecond,
		ContinuousPeriod:    200 * time.Microsecond,
	}
}

// Sampler is the analog front end. Step performs one conversion pair; Run
// paces Step from its own goroutine. Results are read from the task
// goroutine through the core.Sense methods.
type Sampler struct {
	cfg Config

	voltage  Reader
	current  Reader
	branches BranchReader
	srcPin   core.OutputPin // High selects remote sense

	// Owned by the sampling goroutine
	vSum, iSum uint32
	count      uint8
	probeCount uint8
	probing    bool

	voltageMV atomic.Uint32
	currentMA atomic.Uint32

	remote     atomic.Bool
	source     atomic.Uint32
	continuous atomic.Bool
	wake       chan struct{}
	handler    atomic.Pointer[core.SampleHandler]

	readErrors atomic.Uint32
}

// New creates a sampler. branches and srcPin may be nil.
func New(cfg Config, voltage, current Reader, branches BranchReader, srcPin core.OutputPin) *Sampler {
	if cfg.Oversample == 0 {
		cfg.Oversample = 1
	}
	if cfg.RoundTo == 0 {
		cfg.RoundTo = 1
	}
	s := &Sampler{
		cfg:      cfg,
		voltage:  voltage,
		current:  current,
		branches: branches,
		srcPin:   srcPin,
		wake:     make(chan struct{}, 1),
	}
	s.selectRemote(false)
	return s
}

func scale(raw uint16, fullScale uint32) uint32 {
	if raw > ADCMax {
		raw = ADCMax
	}
	return uint32(uint64(raw) * uint64(fullScale) / ADCMax)
}

func (s *Sampler) roundAndFloor(v, floor uint32) uint32 {
	step := s.cfg.RoundTo
	v = (v + step/2) / step * step
	if v < floor {
		return 0
	}
	return v
}

func (s *Sampler) selectRemote(remote bool) {
	s.remote.Store(remote)
	if s.srcPin != nil {
		s.srcPin.Set(remote)
	}
}

func (s *Sampler) voltageScale() uint32 {
	if s.remote.Load() {
		return s.cfg.RemoteFullScaleMV
	}
	return s.cfg.InternalFullScaleMV
}

// Step performs one voltage and current conversion. In continuous mode
// the pair is delivered to the sample handler; every Oversample
// conversions the averaged values are updated.
func (s *Sampler) Step() error {
	s.applySource()

	rawV, err := s.voltage.Read()
	if err != nil {
		s.readErrors.Add(1)
		return err
	}
	rawI, err := s.current.Read()
	if err != nil {
		s.readErrors.Add(1)
		return err
	}

	if s.continuous.Load() {
		if h := s.handler.Load(); h != nil {
			(*h)(scale(rawV, s.voltageScale()), scale(rawI, s.cfg.CurrentFullScaleMA))
		}
	}

	s.vSum += uint32(rawV)
	s.iSum += uint32(rawI)
	s.count++
	if s.count < s.cfg.Oversample {
		return nil
	}

	v := scale(uint16(s.vSum/uint32(s.count)), s.voltageScale())
	i := scale(uint16(s.iSum/uint32(s.count)), s.cfg.CurrentFullScaleMA)
	s.vSum, s.iSum, s.count = 0, 0, 0

	if s.probing {
		s.probing = false
		if v >= s.cfg.AutoThresholdMV {
			s.voltageMV.Store(s.roundAndFloor(v, s.cfg.MinVoltageMV))
		} else {
			s.selectRemote(false)
		}
	} else {
		avgV := (s.voltageMV.Load() + v) / 2
		s.voltageMV.Store(s.roundAndFloor(avgV, s.cfg.MinVoltageMV))
		s.autoSelect(v)
	}

	avgI := (s.currentMA.Load() + i) / 2
	s.currentMA.Store(s.roundAndFloor(avgI, s.cfg.MinCurrentMA))
	return nil
}

// applySource drives the select pin for the fixed sources.
func (s *Sampler) applySource() {
	switch core.SenseSource(s.source.Load()) {
	case core.SenseInternal:
		if s.remote.Load() {
			s.selectRemote(false)
		}
	case core.SenseRemote:
		if !s.remote.Load() {
			s.selectRemote(true)
		}
	}
}

// autoSelect prefers remote sense while it reads a voltage and falls back
// to internal sense otherwise, probing remote periodically.
func (s *Sampler) autoSelect(v uint32) {
	if core.SenseSource(s.source.Load()) != core.SenseAuto {
		return
	}
	if s.remote.Load() {
		if v < s.cfg.AutoThresholdMV {
			s.selectRemote(false)
		}
		return
	}
	s.probeCount++
	if s.cfg.AutoProbeEvery == 0 || s.probeCount >= s.cfg.AutoProbeEvery {
		s.probeCount = 0
		s.probing = true
		s.selectRemote(true)
	}
}

// Run converts until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) error {
	for {
		if err := s.Step(); err != nil {
			core.DebugPrintln("[SENSE] read failed: " + err.Error())
		}

		d := s.cfg.SamplePeriod
		if s.continuous.Load() {
			d = s.cfg.ContinuousPeriod
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-s.wake:
			t.Stop()
		case <-t.C:
		}
	}
}

// Voltage returns the averaged load voltage in mV.
func (s *Sampler) Voltage() uint32 {
	return s.voltageMV.Load()
}

// Current returns the averaged load current in mA.
func (s *Sampler) Current() uint32 {
	return s.currentMA.Load()
}

// Power returns the product of the averaged voltage and current in mW.
func (s *Sampler) Power() uint32 {
	return uint32(uint64(s.Voltage()) * uint64(s.Current()) / 1000)
}

// BranchCurrent converts one branch channel on demand.
func (s *Sampler) BranchCurrent(b core.Branch) uint32 {
	if s.branches == nil || b >= core.BranchCount {
		return 0
	}
	raw, err := s.branches.ReadBranch(b)
	if err != nil {
		s.readErrors.Add(1)
		return 0
	}
	mA := scale(raw, s.cfg.BranchFullScaleMA)
	if mA < s.cfg.MinBranchMA {
		return 0
	}
	return mA
}

// SetContinuous switches between paced and back-to-back conversions.
func (s *Sampler) SetContinuous(on bool) {
	if s.continuous.Swap(on) != on && on {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

// Continuous reports whether continuous conversion is on.
func (s *Sampler) Continuous() bool {
	return s.continuous.Load()
}

// SetVoltageSource selects the voltage sense input.
func (s *Sampler) SetVoltageSource(src core.SenseSource) {
	s.source.Store(uint32(src))
}

// SetSampleHandler registers the continuous-mode callback.
func (s *Sampler) SetSampleHandler(h core.SampleHandler) {
	if h == nil {
		s.handler.Store(nil)
		return
	}
	s.handler.Store(&h)
}

// Remote reports whether the remote sense input is selected.
func (s *Sampler) Remote() bool {
	return s.remote.Load()
}

// ReadErrors returns the number of failed conversions.
func (s *Sampler) ReadErrors() uint32 {
	return s.readErrors.Load()
}
