package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eload/protocol"
)

func TestInitPublishesDefaults(t *testing.T) {
	r := newRig(DefaultSettings())

	assert.Equal(t, protocol.IDCode, r.table.Value(protocol.RegID))
	assert.Equal(t, uint16(FaultAll), r.table.Value(protocol.RegFaultMask))
	assert.Equal(t, uint16(1000), r.table.Value(protocol.RegCCLevel))
	assert.Equal(t, uint16(1200), r.table.Value(protocol.RegCVLevel))
	assert.Equal(t, uint16(1000), r.table.Value(protocol.RegCRLevel))
	assert.Equal(t, uint16(100), r.table.Value(protocol.RegCPLevel))
	assert.Equal(t, uint16(42), r.table.Value(protocol.RegAvlblCurrent))
	assert.Equal(t, uint16(420), r.table.Value(protocol.RegAvlblPower))
	assert.Equal(t, uint16(0), r.table.Value(protocol.RegStatus))
	assert.Equal(t, ModeCC, r.sup.Mode())
	assert.Equal(t, uint16(ZeroCurrentCode), r.drv.Last())
}

func TestEnableRequiresReady(t *testing.T) {
	r := newRig(DefaultSettings())

	assert.False(t, r.sup.SetEnable(true))
	assert.False(t, r.sup.Enabled())
	assert.False(t, r.pins.enL.high)

	r.sup.SetReady(true)
	assert.True(t, r.sup.SetEnable(true))
	assert.True(t, r.sup.Enabled())
	assert.True(t, r.pins.enL.high)
	assert.True(t, r.pins.enR.high)
	assert.True(t, r.pins.enLED.high)
	assert.Equal(t, uint16(1), r.table.Value(protocol.RegEnable))
	assert.Equal(t, uint16(StatusEnabled|StatusReady), r.table.Value(protocol.RegStatus))
}

func TestEnableRefusedWhileMaskedFaultActive(t *testing.T) {
	r := readyRig()

	r.sup.TriggerFault(FaultExternal)
	assert.NotZero(t, r.sup.Status()&StatusFault)
	// External faults do not drive the indicator
	assert.False(t, r.pins.line.high)
	assert.False(t, r.pins.faultLED.high)
	assert.False(t, r.sup.SetEnable(true))

	r.sup.SetFaultMask(FaultAll &^ FaultExternal)
	assert.Zero(t, r.sup.Status()&StatusFault)
	assert.True(t, r.sup.SetEnable(true))
}

func TestSetEnableToCurrentStateSucceeds(t *testing.T) {
	r := newRig(DefaultSettings())
	// Not ready, but disabling a disabled load is fine
	assert.True(t, r.sup.SetEnable(false))
}

func TestCCRampIsSlewLimited(t *testing.T) {
	r := readyRig()
	r.sup.SetCCLevel(10000)

	require.True(t, r.sup.SetEnable(true))
	assert.True(t, r.sup.Enabled(), "enabled must be reported before the ramp completes")
	assert.True(t, r.dac.InTransient())
	assert.Equal(t, CurrentToCode(r.cfg.MinCurrentMA), r.drv.Last())

	start := len(r.drv.Writes())
	r.ramp()
	codes := r.drv.Writes()[start-1:]

	step := uint16(r.cfg.SlewAmpsPerSecond * r.cfg.SlewTickMs * codeSlopeNum / codeSlopeDen)
	for i := 1; i < len(codes); i++ {
		assert.LessOrEqual(t, codes[i], codes[i-1], "ramp must be monotonic")
		assert.LessOrEqual(t, codes[i-1]-codes[i], step, "step %d exceeds slew limit", i)
	}
	assert.Equal(t, CurrentToCode(10000), r.drv.Last())
	assert.False(t, r.dac.InTransient())
}

func TestOverCurrentDisablesAndLatches(t *testing.T) {
	r := readyRig()
	require.True(t, r.sup.SetEnable(true))

	r.sense.setCurrent(46000)
	r.sup.Step()

	assert.False(t, r.sup.Enabled())
	assert.NotZero(t, r.sup.Faults()&FaultOCP)
	assert.NotZero(t, r.sup.Status()&StatusFault)
	assert.True(t, r.pins.line.high)
	assert.True(t, r.pins.faultLED.high)
	assert.False(t, r.pins.enL.high)
	assert.Equal(t, uint16(ZeroCurrentCode), r.drv.Last())
	assert.Equal(t, uint16(FaultOCP), r.table.Value(protocol.RegFault))

	// Latched until cleared
	r.sense.setCurrent(0)
	r.sup.Step()
	assert.NotZero(t, r.sup.Faults()&FaultOCP)
	assert.False(t, r.sup.SetEnable(true))

	r.sup.ClearFault(FaultOCP)
	assert.False(t, r.pins.line.high)
	assert.True(t, r.sup.SetEnable(true))
}

func TestOverPowerTrips(t *testing.T) {
	r := readyRig()
	require.True(t, r.sup.SetEnable(true))

	r.sense.voltage = 40000
	r.sense.setCurrent(11000) // 440 W
	r.sup.Step()

	assert.NotZero(t, r.sup.Faults()&FaultOPP)
	assert.False(t, r.sup.Enabled())
}

func TestNonMaskableFaultsAlwaysDisable(t *testing.T) {
	r := readyRig()
	r.sup.SetFaultMask(0)
	assert.Equal(t, NonMaskable, r.sup.FaultMask())
	assert.Equal(t, uint16(NonMaskable), r.table.Value(protocol.RegFaultMask))

	r.sup.TriggerFault(FaultOCP)
	assert.True(t, r.sup.SetEnable(true), "masked-out fault must not block enable")

	r.sup.TriggerFault(FaultOTP)
	assert.False(t, r.sup.Enabled())
	assert.True(t, r.pins.line.high)
}

func TestModeSwitchDisablesAndResetsIntegral(t *testing.T) {
	r := readyRig()
	r.sup.SetMode(ModeCV)
	require.True(t, r.sup.SetEnable(true))
	assert.True(t, r.sense.continuous)

	for i := 0; i < 5; i++ {
		r.sup.HandleSample(13000, 1000)
	}
	assert.NotZero(t, r.sup.PIDIntegral())

	r.sup.SetMode(ModeCR)
	assert.False(t, r.sup.Enabled())
	assert.Zero(t, r.sup.PIDIntegral())
	assert.False(t, r.sense.continuous)
	assert.Equal(t, uint16(ModeCR), r.table.Value(protocol.RegConfig)&protocol.ConfigModeMask)
}

func TestDisableResetsIntegral(t *testing.T) {
	r := readyRig()
	r.sup.SetMode(ModeCV)
	require.True(t, r.sup.SetEnable(true))

	for i := 0; i < 5; i++ {
		r.sup.HandleSample(13000, 1000)
	}
	require.NotZero(t, r.sup.PIDIntegral())

	require.True(t, r.sup.SetEnable(false))
	assert.Zero(t, r.sup.PIDIntegral())
	assert.Equal(t, uint16(ZeroCurrentCode), r.drv.Last())
}

func TestFaultResetsIntegral(t *testing.T) {
	r := readyRig()
	r.sup.SetMode(ModeCV)
	require.True(t, r.sup.SetEnable(true))
	r.sup.HandleSample(13000, 1000)
	require.NotZero(t, r.sup.PIDIntegral())

	r.sup.TriggerFault(FaultOTP)
	assert.False(t, r.sup.Enabled())
	assert.Zero(t, r.sup.PIDIntegral())
}

func TestLateSampleAfterDisable(t *testing.T) {
	r := readyRig()
	r.sup.SetMode(ModeCV)
	require.True(t, r.sup.SetEnable(true))

	// The update half of a sample that passed the enable check
	code, ok := r.sup.PIDUpdate(13000, 1000)
	require.True(t, ok)

	require.True(t, r.sup.SetEnable(false))

	assert.False(t, r.sup.dac.TryWriteCode(code, r.sup.enabled.Load))
	assert.Equal(t, uint16(ZeroCurrentCode), r.drv.Last())

	_, ok = r.sup.pid.Update(ModeCV, 12000, 13000, 1000)
	assert.False(t, ok)
	assert.Zero(t, r.sup.PIDIntegral())
}

func TestConcurrentSamplesAcrossDisable(t *testing.T) {
	r := readyRig()
	r.sup.SetMode(ModeCV)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				r.sup.HandleSample(13000, 1000)
			}
		}
	}()

	for i := 0; i < 200; i++ {
		require.True(t, r.sup.SetEnable(true))
		require.True(t, r.sup.SetEnable(false))
		assert.Zero(t, r.sup.PIDIntegral())
	}
	close(stop)
	wg.Wait()

	assert.Zero(t, r.sup.PIDIntegral())
	assert.Equal(t, uint16(ZeroCurrentCode), r.drv.Last())
}

func TestSampleIgnoredWhileDisabled(t *testing.T) {
	r := readyRig()
	r.sup.SetMode(ModeCV)
	writes := len(r.drv.Writes())

	r.sup.HandleSample(13000, 1000)
	assert.Len(t, r.drv.Writes(), writes)
	assert.Zero(t, r.sup.PIDIntegral())
}

func TestPersistingConditionLatchesOnce(t *testing.T) {
	r := readyRig()
	r.sup.SetFaultMask(FaultAll &^ FaultReg)
	require.True(t, r.sup.SetEnable(true))
	r.ramp()
	r.sup.Events().Clear()

	r.sense.setCurrent(0)
	for i := 0; i < int(r.cfg.NoRegCounts)+20; i++ {
		r.sup.Step()
	}
	require.NotZero(t, r.sup.Faults()&FaultReg)

	triggers := 0
	for _, e := range r.sup.Events().Events() {
		if e.Type == EvtFaultTrigger {
			triggers++
		}
	}
	assert.Equal(t, 1, triggers)
}

func TestSetpointsAreClamped(t *testing.T) {
	r := newRig(DefaultSettings())

	r.sup.SetCCLevel(50)
	assert.Equal(t, uint32(300), r.sup.Setpoint(ModeCC))
	r.sup.SetCCLevel(60000)
	assert.Equal(t, uint32(42000), r.sup.Setpoint(ModeCC))

	r.sup.SetCVLevel(90000)
	assert.Equal(t, uint32(80000), r.sup.Setpoint(ModeCV))
	assert.Equal(t, uint16(8000), r.table.Value(protocol.RegCVLevel))

	r.sup.SetCPLevel(0)
	assert.Equal(t, uint32(1000), r.sup.Setpoint(ModeCP))
}

func TestRegulationFaultAfterDebounce(t *testing.T) {
	r := readyRig()
	r.sup.SetFaultMask(FaultAll &^ FaultReg)
	require.True(t, r.sup.SetEnable(true))
	r.ramp()

	r.sense.setCurrent(0)
	for i := 0; i < int(r.cfg.NoRegCounts)-1; i++ {
		r.sup.Step()
	}
	assert.Zero(t, r.sup.Faults()&FaultReg)
	assert.Zero(t, r.sup.Status()&StatusNoReg)

	r.sup.Step()
	assert.NotZero(t, r.sup.Faults()&FaultReg)
	assert.NotZero(t, r.sup.Status()&StatusNoReg)
	assert.True(t, r.sup.Enabled(), "masked regulation fault keeps the load on")

	r.sense.setCurrent(1000)
	r.sup.Step()
	assert.Zero(t, r.sup.Status()&StatusNoReg)
}

func TestRegulationIgnoredDuringTransient(t *testing.T) {
	r := readyRig()
	r.sup.SetCCLevel(20000)
	require.True(t, r.sup.SetEnable(true))
	require.True(t, r.dac.InTransient())

	r.sense.setCurrent(0)
	for i := 0; i < 2*int(r.cfg.NoRegCounts); i++ {
		r.sup.Step()
	}
	assert.Zero(t, r.sup.Faults()&FaultReg)
	assert.True(t, r.sup.Enabled())
}

func TestBlownFuseDetected(t *testing.T) {
	r := readyRig()
	require.True(t, r.sup.SetEnable(true))
	r.ramp()

	r.sense.setCurrent(1000)
	r.sense.branches[BranchR2] = 0
	for i := 0; i < int(r.cfg.FuseCounts); i++ {
		r.sup.Step()
	}
	assert.Equal(t, FaultFuseR2, r.sup.Faults())
	assert.False(t, r.sup.Enabled())
}

func TestDischargeCutoff(t *testing.T) {
	r := readyRig()
	r.sup.SetDischargeVoltage(11000)
	require.True(t, r.sup.SetEnable(true))

	r.sense.voltage = 11500
	r.sup.Step()
	assert.True(t, r.sup.Enabled())

	r.sense.voltage = 10900
	r.sup.Step()
	assert.False(t, r.sup.Enabled())
	assert.Zero(t, r.sup.Faults())
}

func TestStatisticsAccumulate(t *testing.T) {
	r := readyRig()
	require.True(t, r.sup.SetEnable(true))
	r.ramp()
	r.sense.voltage = 12000
	r.sense.setCurrent(1000)

	for i := 0; i < 360; i++ {
		r.clock.Advance(r.cfg.ControlPeriodMs)
		r.sup.Step()
	}

	mAh, mWh, secs := r.sup.Totals()
	assert.Equal(t, uint32(10), mAh)
	assert.Equal(t, uint32(120), mWh)
	assert.Equal(t, uint32(36), secs)
	assert.Equal(t, uint16(10), r.table.Value(protocol.RegTotalMAhL))
	assert.Equal(t, uint16(120), r.table.Value(protocol.RegTotalMWhL))
	assert.Equal(t, uint16(36), r.table.Value(protocol.RegTotalTimeL))
}

func TestTelemetryPublishedWhileDisabled(t *testing.T) {
	r := newRig(DefaultSettings())
	r.sense.voltage = 12340
	r.sense.setCurrent(0)

	r.sup.Step()
	assert.Equal(t, uint16(1234), r.table.Value(protocol.RegVoltage))
	assert.Equal(t, uint16(0), r.table.Value(protocol.RegCurrent))
}

func TestFaultEventsRecorded(t *testing.T) {
	r := readyRig()
	r.sup.Events().Clear()

	r.sup.TriggerFault(FaultFan1)
	r.sup.TriggerFault(FaultFan1)

	evts := r.sup.Events().Events()
	require.Len(t, evts, 1, "duplicate trigger must not be recorded")
	assert.Equal(t, EvtFaultTrigger, evts[0].Type)
	assert.Equal(t, uint32(FaultFan1), evts[0].Value1)
}
