package core

import (
	"strconv"
	"sync/atomic"

	"eload/protocol"
)

// Registers is the view of the register table the supervisor publishes to.
type Registers interface {
	Publish(addr uint8, value uint16)
	Value(addr uint8) uint16
}

// Supervisor owns the enable state, the regulation mode, the setpoints and
// the fault model. Every method except PIDUpdate belongs to the task
// domain and must be called from a single goroutine.
type Supervisor struct {
	cfg   Settings
	regs  Registers
	dac   *DAC
	sense Sense
	pins  Pins
	clock Clock
	pid   *PID
	deb   *Debouncer

	// Read by PIDUpdate from the sampling domain
	enabled atomic.Bool
	mode    atomic.Uint32
	cvMV    atomic.Uint32
	crMR    atomic.Uint32
	cpMW    atomic.Uint32

	ccMA     uint32
	dischMV  uint32
	senseSrc SenseSource
	faults   Fault
	mask     Fault
	status   Status
	events   *EventRing

	enableTime uint32
	totalMAms  uint64
	totalMWms  uint64
}

// NewSupervisor creates a disabled, not-ready supervisor. Call Init to
// publish the startup configuration.
func NewSupervisor(cfg Settings, regs Registers, dac *DAC, sense Sense, pins Pins, clock Clock) *Supervisor {
	s := &Supervisor{
		cfg:    cfg,
		regs:   regs,
		dac:    dac,
		sense:  sense,
		pins:   pins,
		clock:  clock,
		pid:    NewPID(cfg),
		deb:    NewDebouncer(cfg),
		events: &EventRing{},
	}
	s.pid.Hold()
	s.mode.Store(uint32(ModeCC))
	return s
}

// Init applies the startup defaults and advertises the load capability.
func (s *Supervisor) Init() {
	s.regs.Publish(protocol.RegID, protocol.IDCode)

	setPin(s.pins.EnableLED, false)
	setPin(s.pins.FaultLED, false)
	setPin(s.pins.FaultLine, false)
	s.disableOutputs()

	s.SetFaultMask(s.cfg.DefaultFaultMask)
	s.publishConfig()
	s.SetCCLevel(s.cfg.StartCurrentMA)
	s.SetCVLevel(s.cfg.StartVoltageMV)
	s.SetCRLevel(s.cfg.StartResistanceMR)
	s.SetCPLevel(s.cfg.StartPowerMW)
	s.SetDischargeVoltage(0)

	s.regs.Publish(protocol.RegAvlblCurrent, s.cfg.AvailableCurrentA)
	s.regs.Publish(protocol.RegAvlblPower, s.cfg.AvailablePowerW)
	s.publishStatus()
	s.publishFaults()
}

// SetEnable turns the load on or off and reports success. Enabling fails
// while not ready or while a masked fault is active; a failed call changes
// nothing. Requesting the present state always succeeds. Disabling parks
// the DAC and zeroes the integral.
func (s *Supervisor) SetEnable(on bool) bool {
	if on == s.enabled.Load() {
		return true
	}
	if on && s.status&StatusReady == 0 {
		return false
	}
	if on && s.faults&s.mask != 0 {
		return false
	}

	if on {
		s.dac.SetCurrent(s.cfg.MinCurrentMA, false)
		setPin(s.pins.EnableL, true)
		setPin(s.pins.EnableR, true)

		mode := s.Mode()
		if mode == ModeCC {
			s.dac.SetCurrent(s.ccMA, true)
		} else {
			s.pid.Release()
			s.sense.SetContinuous(true)
		}
		setPin(s.pins.EnableLED, true)

		s.enableTime = s.clock.Millis()
		s.totalMAms = 0
		s.totalMWms = 0
		s.status |= StatusEnabled
		s.enabled.Store(true)
		s.events.Record(EvtEnable, s.enableTime, uint32(mode), 0)
	} else {
		s.enabled.Store(false)
		s.pid.Hold()
		s.disableOutputs()
		s.status &^= StatusEnabled | StatusNoReg
		s.events.Record(EvtDisable, s.clock.Millis(), 0, 0)
	}

	s.publishStatus()
	return true
}

func (s *Supervisor) disableOutputs() {
	s.sense.SetContinuous(false)
	setPin(s.pins.EnableL, false)
	setPin(s.pins.EnableR, false)
	s.dac.WriteCode(ZeroCurrentCode)
	setPin(s.pins.EnableLED, false)
}

// Enabled reports whether the load is sinking current.
func (s *Supervisor) Enabled() bool {
	return s.enabled.Load()
}

// SetMode switches the regulation law. The load is disabled first and the
// integral is cleared. Invalid modes are ignored.
func (s *Supervisor) SetMode(m Mode) {
	old := s.Mode()
	if m == old || !m.Valid() {
		return
	}
	s.SetEnable(false)
	s.mode.Store(uint32(m))
	s.pid.Reset()
	s.events.Record(EvtModeChange, s.clock.Millis(), uint32(old), uint32(m))
	s.publishConfig()
}

// Mode returns the active regulation law.
func (s *Supervisor) Mode() Mode {
	return Mode(s.mode.Load())
}

// SetSenseSource selects the voltage sense input.
func (s *Supervisor) SetSenseSource(src SenseSource) {
	s.senseSrc = src
	s.sense.SetVoltageSource(src)
	s.publishConfig()
}

func (s *Supervisor) publishConfig() {
	v := uint16(s.Mode()) & protocol.ConfigModeMask
	switch s.senseSrc {
	case SenseRemote:
		v |= protocol.ConfigVsenRemote
	case SenseAuto:
		v |= protocol.ConfigVsenAuto
	}
	s.regs.Publish(protocol.RegConfig, v)
}

func clamp(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SetCCLevel sets the constant-current setpoint. A running CC load ramps
// to the new level.
func (s *Supervisor) SetCCLevel(mA uint32) {
	mA = clamp(mA, s.cfg.MinCurrentMA, s.cfg.MaxCurrentMA)
	if s.enabled.Load() && s.Mode() == ModeCC {
		s.dac.SetCurrent(mA, true)
	}
	s.ccMA = mA
	s.regs.Publish(protocol.RegCCLevel, uint16(mA))
}

// SetCVLevel sets the constant-voltage setpoint.
func (s *Supervisor) SetCVLevel(mV uint32) {
	mV = clamp(mV, s.cfg.MinVoltageMV, s.cfg.MaxVoltageMV)
	s.cvMV.Store(mV)
	s.regs.Publish(protocol.RegCVLevel, uint16(mV/protocol.CVScaleMV))
}

// SetCRLevel sets the constant-resistance setpoint.
func (s *Supervisor) SetCRLevel(mR uint32) {
	mR = clamp(mR, s.cfg.MinResistanceMR, s.cfg.MaxResistanceMR)
	s.crMR.Store(mR)
	s.regs.Publish(protocol.RegCRLevel, uint16(mR/protocol.CRScaleMR))
}

// SetCPLevel sets the constant-power setpoint.
func (s *Supervisor) SetCPLevel(mW uint32) {
	mW = clamp(mW, s.cfg.MinPowerMW, s.cfg.MaxPowerMW)
	s.cpMW.Store(mW)
	s.regs.Publish(protocol.RegCPLevel, uint16(mW/protocol.CPScaleMW))
}

// SetDischargeVoltage sets the cut-off voltage below which a running load
// disables itself. Zero disables the feature.
func (s *Supervisor) SetDischargeVoltage(mV uint32) {
	if limit := uint32(0xFFFF) * protocol.CVScaleMV; mV > limit {
		mV = limit
	}
	s.dischMV = mV
	s.regs.Publish(protocol.RegDischLevel, uint16(mV/protocol.CVScaleMV))
}

// Setpoint returns the setpoint of m in its base unit.
func (s *Supervisor) Setpoint(m Mode) uint32 {
	switch m {
	case ModeCC:
		return s.ccMA
	case ModeCV:
		return s.cvMV.Load()
	case ModeCR:
		return s.crMR.Load()
	case ModeCP:
		return s.cpMW.Load()
	}
	return 0
}

// SetReady sets or clears the ready flag.
func (s *Supervisor) SetReady(ready bool) {
	if ready {
		s.status |= StatusReady
	} else {
		s.status &^= StatusReady
	}
	var v uint32
	if ready {
		v = 1
	}
	s.events.Record(EvtReady, s.clock.Millis(), v, 0)
	s.publishStatus()
}

// TriggerFault latches f. Latching an already set bit does nothing.
func (s *Supervisor) TriggerFault(f Fault) {
	old := s.faults
	s.faults |= f & FaultAll
	if s.faults == old {
		return
	}
	s.events.Record(EvtFaultTrigger, s.clock.Millis(), uint32(s.faults&^old), uint32(s.faults))
	DebugPrintln("[LOAD] fault " + (s.faults &^ old).String())
	s.checkFaultConditions()
	s.publishFaults()
}

// ClearFault clears the bits of f from the fault register.
func (s *Supervisor) ClearFault(f Fault) {
	cleared := s.faults & f
	s.faults &^= f
	if cleared != 0 {
		s.events.Record(EvtFaultClear, s.clock.Millis(), uint32(cleared), uint32(s.faults))
	}
	s.checkFaultConditions()
	s.publishFaults()
}

// SetFaultMask replaces the fault mask. Non-maskable faults stay masked.
func (s *Supervisor) SetFaultMask(m Fault) {
	s.mask = EffectiveMask(m & FaultAll)
	s.events.Record(EvtFaultMask, s.clock.Millis(), uint32(s.mask), 0)
	s.checkFaultConditions()
	s.regs.Publish(protocol.RegFaultMask, uint16(s.mask))
}

// Faults returns the fault register.
func (s *Supervisor) Faults() Fault {
	return s.faults
}

// FaultMask returns the effective fault mask.
func (s *Supervisor) FaultMask() Fault {
	return s.mask
}

// Status returns the status register.
func (s *Supervisor) Status() Status {
	return s.status
}

// Events returns the supervisor event ring.
func (s *Supervisor) Events() *EventRing {
	return s.events
}

// checkFaultConditions re-evaluates the fault state after the fault
// register or the mask changed.
func (s *Supervisor) checkFaultConditions() {
	if s.faults&s.mask != 0 {
		s.SetEnable(false)

		// External faults are reported to the panel only
		indicate := s.faults&^FaultExternal != 0
		setPin(s.pins.FaultLine, indicate)
		setPin(s.pins.FaultLED, indicate)
		s.status |= StatusFault
	} else {
		setPin(s.pins.FaultLine, false)
		setPin(s.pins.FaultLED, false)
		s.status &^= StatusFault
	}
	s.publishStatus()
}

func (s *Supervisor) publishStatus() {
	s.regs.Publish(protocol.RegStatus, uint16(s.status))
	var on uint16
	if s.status&StatusEnabled != 0 {
		on = 1
	}
	s.regs.Publish(protocol.RegEnable, on)
}

func (s *Supervisor) publishFaults() {
	s.regs.Publish(protocol.RegFault, uint16(s.faults))
}

// PIDUpdate runs the closed loop for one sample pair and returns the DAC
// code to write. It is called from the sampling domain.
func (s *Supervisor) PIDUpdate(voltageMV, currentMA uint32) (uint16, bool) {
	if !s.enabled.Load() {
		return 0, false
	}
	mode := s.Mode()
	var setpoint uint32
	switch mode {
	case ModeCV:
		setpoint = s.cvMV.Load()
	case ModeCR:
		setpoint = s.crMR.Load()
	case ModeCP:
		setpoint = s.cpMW.Load()
	default:
		return 0, false
	}
	return s.pid.Update(mode, setpoint, voltageMV, currentMA)
}

// HandleSample is the sample handler registered with the analog front end.
func (s *Supervisor) HandleSample(voltageMV, currentMA uint32) {
	if code, ok := s.PIDUpdate(voltageMV, currentMA); ok {
		// A disable that landed after the update has already parked the DAC
		s.dac.TryWriteCode(code, s.enabled.Load)
	}
}

// PIDIntegral exposes the integral term for diagnostics.
func (s *Supervisor) PIDIntegral() int64 {
	return s.pid.Integral()
}

// Step runs the periodic protection, regulation and statistics checks.
// Telemetry is published every period, the checks only while enabled.
func (s *Supervisor) Step() {
	voltage := s.sense.Voltage()
	current := s.sense.Current()
	power := uint32(uint64(voltage) * uint64(current) / 1000)

	s.publishTelemetry(voltage, current, power)

	if !s.enabled.Load() {
		return
	}

	if current > s.cfg.OCPThresholdMA {
		s.TriggerFault(FaultOCP)
	}
	if power > s.cfg.OPPThresholdMW {
		s.TriggerFault(FaultOPP)
	}
	if !s.enabled.Load() {
		return
	}

	s.checkRegulation(voltage, current, power)
	s.checkFuses(current)

	if voltage < s.dischMV {
		DebugPrintln("[LOAD] discharge cut-off at " + strconv.FormatUint(uint64(voltage), 10) + " mV")
		s.SetEnable(false)
		return
	}

	s.updateStatistics(current, power)
}

func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

func (s *Supervisor) checkRegulation(voltage, current, power uint32) {
	var outOfReg bool
	switch s.Mode() {
	case ModeCC:
		outOfReg = absDiff(s.ccMA, current) >= s.cfg.NoRegThresholdCC
	case ModeCV:
		outOfReg = absDiff(s.cvMV.Load(), voltage) >= s.cfg.NoRegThresholdCV
	case ModeCR:
		if current == 0 {
			outOfReg = true
		} else {
			r := uint32(uint64(voltage) * 1000 / uint64(current))
			outOfReg = absDiff(s.crMR.Load(), r) >= s.cfg.NoRegThresholdCR
		}
	case ModeCP:
		outOfReg = absDiff(s.cpMW.Load(), power) >= s.cfg.NoRegThresholdCP
	}
	if s.dac.InTransient() {
		outOfReg = false
	}

	if outOfReg {
		if s.deb.Observe(CondRegulation, true) {
			s.status |= StatusNoReg
			s.publishStatus()
			s.TriggerFault(FaultReg)
		}
		return
	}
	s.deb.Observe(CondRegulation, false)
	if s.status&StatusNoReg != 0 {
		s.status &^= StatusNoReg
		s.publishStatus()
	}
}

func (s *Supervisor) checkFuses(current uint32) {
	if current <= s.cfg.MinCurrentMA || s.dac.InTransient() {
		return
	}
	for b := Branch(0); b < BranchCount; b++ {
		fc := fuseCondition[b]
		if s.deb.Observe(fc.cond, s.sense.BranchCurrent(b) == 0) {
			s.TriggerFault(fc.fault)
		}
	}
}

func (s *Supervisor) updateStatistics(current, power uint32) {
	s.totalMAms += uint64(current) * uint64(s.cfg.ControlPeriodMs)
	s.totalMWms += uint64(power) * uint64(s.cfg.ControlPeriodMs)

	const msPerHour = 3600 * 1000
	seconds := since(s.clock.Millis(), s.enableTime) / 1000

	s.regs.Publish(protocol.RegTotalTimeL, uint16(seconds))
	s.regs.Publish(protocol.RegTotalTimeH, uint16(seconds>>16))
	mAh := uint32(s.totalMAms / msPerHour)
	s.regs.Publish(protocol.RegTotalMAhL, uint16(mAh))
	s.regs.Publish(protocol.RegTotalMAhH, uint16(mAh>>16))
	mWh := uint32(s.totalMWms / msPerHour)
	s.regs.Publish(protocol.RegTotalMWhL, uint16(mWh))
	s.regs.Publish(protocol.RegTotalMWhH, uint16(mWh>>16))
}

// Totals returns charge in mAh, energy in mWh and seconds since enable.
func (s *Supervisor) Totals() (mAh, mWh, seconds uint32) {
	const msPerHour = 3600 * 1000
	return uint32(s.totalMAms / msPerHour), uint32(s.totalMWms / msPerHour),
		since(s.clock.Millis(), s.enableTime) / 1000
}

func saturate16(v uint32) uint16 {
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}

func (s *Supervisor) publishTelemetry(voltage, current, power uint32) {
	s.regs.Publish(protocol.RegVoltage, saturate16(voltage/protocol.CVScaleMV))
	s.regs.Publish(protocol.RegCurrent, saturate16(current))
	s.regs.Publish(protocol.RegPower, saturate16(power/protocol.CPScaleMW))
	branchRegs := [BranchCount]uint8{protocol.RegIL1, protocol.RegIL2, protocol.RegIR1, protocol.RegIR2}
	for b := Branch(0); b < BranchCount; b++ {
		s.regs.Publish(branchRegs[b], saturate16(s.sense.BranchCurrent(b)))
	}
}

// Debouncer returns the shared cumulative counters.
func (s *Supervisor) Debouncer() *Debouncer {
	return s.deb
}

// Settings returns the configuration in use.
func (s *Supervisor) Settings() Settings {
	return s.cfg
}

// Registers returns the register view the supervisor publishes to.
func (s *Supervisor) Registers() Registers {
	return s.regs
}
