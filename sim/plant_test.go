package sim

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eload/core"
)

func enabledPlant(cfg PlantConfig, mA uint32) *Plant {
	p := NewPlant(cfg)
	p.EnableL.Set(true)
	p.EnableR.Set(true)
	p.WriteCode(core.CurrentToCode(mA))
	return p
}

func TestPlantStagesOff(t *testing.T) {
	p := NewPlant(DefaultPlantConfig())
	p.WriteCode(core.CurrentToCode(5000))

	mV, mA := p.Operating()
	assert.Equal(t, uint32(24000), mV)
	assert.Zero(t, mA)
}

func TestPlantOperatingPoint(t *testing.T) {
	p := enabledPlant(DefaultPlantConfig(), 2000)

	want := core.CodeToCurrent(core.CurrentToCode(2000))
	mV, mA := p.Operating()
	assert.Equal(t, want, mA)
	assert.Equal(t, 24000-want*50/1000, mV)
}

func TestPlantSourceLimit(t *testing.T) {
	p := enabledPlant(DefaultPlantConfig(), 10000)
	p.SetSource(1000, 500) // 2 A short-circuit current

	mV, mA := p.Operating()
	assert.Equal(t, uint32(2000), mA)
	assert.Zero(t, mV)
}

func TestPlantBlownFuse(t *testing.T) {
	p := enabledPlant(DefaultPlantConfig(), 4000)
	full := core.CodeToCurrent(core.CurrentToCode(4000))

	p.BlowFuse(core.BranchR2, true)
	_, mA := p.Operating()
	assert.Equal(t, full*3/4, mA)

	raw, err := p.ReadBranch(core.BranchR2)
	require.NoError(t, err)
	assert.Zero(t, raw)

	raw, err = p.ReadBranch(core.BranchL1)
	require.NoError(t, err)
	assert.NotZero(t, raw)
}

func TestPlantHeatsink(t *testing.T) {
	cfg := DefaultPlantConfig()
	cfg.ThermalTauS = 0
	p := enabledPlant(cfg, 2000)

	p.Step(time.Millisecond)
	hot, f := p.ReadTemperature(core.TempLeft)
	assert.Zero(t, f)
	assert.Greater(t, hot, int16(30))

	p.SetPWM(255)
	p.Step(time.Millisecond)
	cooled, _ := p.ReadTemperature(core.TempRight)
	assert.Less(t, cooled, hot)
	assert.GreaterOrEqual(t, cooled, int16(cfg.AmbientC))
}

func TestPlantHeatsinkTimeConstant(t *testing.T) {
	p := enabledPlant(DefaultPlantConfig(), 2000)

	p.Step(time.Second)
	first := p.Temperature()
	p.Step(time.Minute)
	second := p.Temperature()

	assert.Greater(t, first, 25.0)
	assert.Greater(t, second, first)
}

func TestPlantForcedTemperature(t *testing.T) {
	p := NewPlant(DefaultPlantConfig())

	p.SetTemperature(85)
	p.Step(time.Minute)
	temp, _ := p.ReadTemperature(core.TempLeft)
	assert.Equal(t, int16(85), temp)

	p.SetTemperature(math.NaN())
	p.Step(time.Hour)
	temp, _ = p.ReadTemperature(core.TempLeft)
	assert.Equal(t, int16(25), temp)
}

func TestPlantSensorFault(t *testing.T) {
	p := NewPlant(DefaultPlantConfig())
	p.SetSensorFault(core.TempRight, core.SensorOpen)

	_, f := p.ReadTemperature(core.TempLeft)
	assert.Zero(t, f)
	_, f = p.ReadTemperature(core.TempRight)
	assert.Equal(t, core.SensorOpen, f)
}

func TestPlantFans(t *testing.T) {
	p := NewPlant(DefaultPlantConfig())

	p.SetPWM(255)
	assert.Equal(t, uint16(22000), p.RPM(0))
	assert.Equal(t, uint16(22000), p.RPM(1))

	p.StallFan(1, true)
	assert.Zero(t, p.RPM(1))
	assert.Zero(t, p.RPM(2))

	p.SetPWM(0)
	assert.Zero(t, p.RPM(0))
}

func TestPlantPassesFanSelfTest(t *testing.T) {
	p := NewPlant(DefaultPlantConfig())
	s := core.DefaultSettings()

	p.SetPWM(s.FanTestPWM)
	assert.GreaterOrEqual(t, p.RPM(0), s.FanTestMinRPM)
}

func TestPlantRemoteSense(t *testing.T) {
	p := NewPlant(DefaultPlantConfig())
	adc := p.VoltageADC()

	p.SourceSelect.Set(true)
	raw, err := adc.Read()
	require.NoError(t, err)
	assert.NotZero(t, raw)

	p.SetRemoteConnected(false)
	raw, err = adc.Read()
	require.NoError(t, err)
	assert.Zero(t, raw)

	p.SourceSelect.Set(false)
	raw, err = adc.Read()
	require.NoError(t, err)
	assert.NotZero(t, raw)
}

func TestPlantFailADC(t *testing.T) {
	p := NewPlant(DefaultPlantConfig())
	p.FailADC(true)

	_, err := p.VoltageADC().Read()
	assert.ErrorIs(t, err, ErrInjected)
	_, err = p.CurrentADC().Read()
	assert.ErrorIs(t, err, ErrInjected)
}

func TestHardwareSampler(t *testing.T) {
	p := enabledPlant(DefaultPlantConfig(), 2000)
	hw, sampler := p.Hardware(&ManualClock{})

	require.NotNil(t, hw.DAC)
	require.NotNil(t, hw.Sense)
	require.NotNil(t, hw.Clock)

	for i := 0; i < 16*20; i++ {
		require.NoError(t, sampler.Step())
	}
	assert.InDelta(t, 23900, float64(hw.Sense.Voltage()), 100)
	assert.InDelta(t, 2000, float64(hw.Sense.Current()), 150)
	assert.InDelta(t, 500, float64(hw.Sense.BranchCurrent(core.BranchL2)), 60)
}

func TestClocks(t *testing.T) {
	var m ManualClock
	m.Advance(5)
	m.Advance(7)
	if m.Millis() != 12 {
		t.Errorf("Expected 12, got %d", m.Millis())
	}

	c := NewClock()
	time.Sleep(2 * time.Millisecond)
	if c.Millis() < 2 {
		t.Errorf("Expected at least 2 ms, got %d", c.Millis())
	}
}

func TestPlantRun(t *testing.T) {
	cfg := DefaultPlantConfig()
	cfg.ThermalTauS = 0.01
	p := enabledPlant(cfg, 4000)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := p.Run(ctx, time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, p.Temperature(), 40.0)
}
