package core

import (
	"strconv"

	"eload/protocol"
)

// Thermal converts heatsink temperature into fan demand, raises OTP and
// watches the sensors and fans for faults.
type Thermal struct {
	sup     *Supervisor
	sensors ThermalSensors
	fans    *FanRegulator
	cfg     Settings

	regulating bool
	overTemp   bool
	testing    bool
}

// NewThermal creates the thermal controller.
func NewThermal(sup *Supervisor, sensors ThermalSensors, fans *FanRegulator) *Thermal {
	return &Thermal{
		sup:     sup,
		sensors: sensors,
		fans:    fans,
		cfg:     sup.Settings(),
	}
}

// Step reads both sensors and updates fan demand and faults.
func (t *Thermal) Step() {
	tempL, faultL := t.sensors.ReadTemperature(TempLeft)
	tempR, faultR := t.sensors.ReadTemperature(TempRight)

	regs := t.sup.Registers()
	regs.Publish(protocol.RegTempL, uint16(clampTemp(tempL)))
	regs.Publish(protocol.RegTempR, uint16(clampTemp(tempR)))

	deb := t.sup.Debouncer()
	if deb.Observe(CondTempSensor, faultL != 0 || faultR != 0) {
		t.sup.TriggerFault(FaultTempSensor)
	}

	maxTemp := tempL
	if tempR > maxTemp {
		maxTemp = tempR
	}
	if !t.testing {
		t.fans.SetDemand(t.demand(maxTemp))
	}

	t.checkFans(deb)
}

// demand applies the OTP and regulation hysteresis and returns the PWM.
func (t *Thermal) demand(temp int16) uint8 {
	c := t.cfg

	if temp >= c.OTPStartC {
		if !t.overTemp {
			DebugPrintln("[THERMAL] OTP at " + strconv.Itoa(int(temp)) + " C")
		}
		t.overTemp = true
		t.sup.TriggerFault(FaultOTP)
	} else if t.overTemp && temp < c.OTPStopC {
		t.overTemp = false
	}
	if t.overTemp {
		return c.FanMaxPWM
	}

	if temp >= c.RegulationStartC {
		t.regulating = true
	} else if temp < c.RegulationStopC {
		t.regulating = false
	}
	if !t.regulating {
		return c.FanIdlePWM
	}
	return FanCurve(c, temp)
}

// FanCurve maps a regulated temperature linearly from the minimum PWM at
// the stop temperature to the maximum PWM at the OTP temperature.
func FanCurve(c Settings, temp int16) uint8 {
	if temp <= c.RegulationStopC {
		return c.FanMinPWM
	}
	if temp >= c.OTPStartC {
		return c.FanMaxPWM
	}
	span := int32(c.OTPStartC - c.RegulationStopC)
	if span <= 0 {
		return c.FanMaxPWM
	}
	pwm := int32(c.FanMinPWM) + int32(temp-c.RegulationStopC)*int32(c.FanMaxPWM-c.FanMinPWM)/span
	return uint8(pwm)
}

// checkFans flags a fan that reads no rotation while driven above the
// minimum PWM.
func (t *Thermal) checkFans(deb *Debouncer) {
	regs := t.sup.Registers()
	driven := t.fans.PWM() >= t.cfg.FanMinPWM && t.fans.PWM() > 0

	fanConds := [2]struct {
		cond  Condition
		fault Fault
		reg   uint8
	}{
		{CondFan1, FaultFan1, protocol.RegRPM1},
		{CondFan2, FaultFan2, protocol.RegRPM2},
	}
	for i, fc := range fanConds {
		rpm := t.fans.RPM(i)
		regs.Publish(fc.reg, rpm)
		if deb.Observe(fc.cond, driven && rpm == 0) {
			t.sup.TriggerFault(fc.fault)
		}
	}
}

// OverTemperature reports whether OTP is holding the fans at maximum.
func (t *Thermal) OverTemperature() bool {
	return t.overTemp
}

func clampTemp(v int16) int16 {
	if v < 0 {
		return 0
	}
	return v
}

// SelfTest spins the fans at the test PWM and checks both reach the
// minimum speed before declaring the load ready.
type SelfTest struct {
	thermal *Thermal
	cfg     Settings
	started bool
	done    bool
}

// NewSelfTest creates the power-up test.
func NewSelfTest(thermal *Thermal) *SelfTest {
	return &SelfTest{thermal: thermal, cfg: thermal.cfg}
}

// Start begins the test and returns the milliseconds until Finish must
// be called. A zero delay means the test is disabled and Finish may be
// called at once.
func (st *SelfTest) Start() uint32 {
	st.started = true
	if !st.cfg.FanTest {
		return 0
	}
	st.thermal.testing = true
	st.thermal.fans.SetDemand(st.cfg.FanTestPWM)
	return st.cfg.FanTestMs
}

// Finish evaluates the fans, releases them to thermal control and sets
// the ready flag.
func (st *SelfTest) Finish() {
	if !st.started || st.done {
		return
	}
	st.done = true
	sup := st.thermal.sup

	if st.cfg.FanTest {
		for i, f := range [2]Fault{FaultFan1, FaultFan2} {
			if rpm := st.thermal.fans.RPM(i); rpm < st.cfg.FanTestMinRPM {
				DebugPrintln("[SELFTEST] fan " + strconv.Itoa(i+1) + " at " + strconv.Itoa(int(rpm)) + " rpm")
				sup.TriggerFault(f)
			}
		}
		st.thermal.testing = false
		st.thermal.fans.SetDemand(st.cfg.FanIdlePWM)
	}
	sup.SetReady(true)
}

// Done reports whether the test has completed.
func (st *SelfTest) Done() bool {
	return st.done
}
