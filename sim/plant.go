// Package sim models the power stage, heatsink and fans of the load so the
// controller can run on a host without hardware.
package sim

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"eload/core"
	"eload/sense"
)

// PlantConfig describes the simulated source, converters and heatsink.
type PlantConfig struct {
	SourceVoltageMV    uint32
	SourceResistanceMR uint32

	AmbientC            float64
	ThermalResistanceCW float64 // Heatsink rise per watt with fans stopped
	FanCoolingFactor    float64 // Fraction of the rise removed at full PWM
	ThermalTauS         float64
	FanMaxRPM           uint16

	Sense sense.Config // Converter full-scale values
}

// DefaultPlantConfig returns a 24 V bench supply on a small heatsink.
func DefaultPlantConfig() PlantConfig {
	return PlantConfig{
		SourceVoltageMV:     24000,
		SourceResistanceMR:  50,
		AmbientC:            25,
		ThermalResistanceCW: 0.25,
		FanCoolingFactor:    0.6,
		ThermalTauS:         60,
		FanMaxRPM:           22000, // 11000 rpm at the self-test PWM
		Sense:               sense.DefaultConfig(),
	}
}

// ErrInjected is returned by converters after FailADC.
var ErrInjected = errors.New("sim: injected converter failure")

// Plant is the simulated load hardware. All methods are safe for
// concurrent use.
type Plant struct {
	mu  sync.Mutex
	cfg PlantConfig

	code uint16

	sourceMV uint32
	sourceMR uint32
	remote   bool // Remote sense leads connected

	tempC       float64
	forcedTemp  bool
	sensorFault [2]core.SensorFault

	fanPWM   uint8
	fanStall [2]bool

	fuseBlown [core.BranchCount]bool
	adcFailed bool

	EnableL      *Pin
	EnableR      *Pin
	FaultLine    *Pin
	FaultLED     *Pin
	EnableLED    *Pin
	SourceSelect *Pin
	DACSelect    *Pin
	ExtFault     *Input
}

// NewPlant creates a plant at ambient temperature with the stages off.
func NewPlant(cfg PlantConfig) *Plant {
	return &Plant{
		cfg:          cfg,
		code:         core.ZeroCurrentCode,
		sourceMV:     cfg.SourceVoltageMV,
		sourceMR:     cfg.SourceResistanceMR,
		remote:       true,
		tempC:        cfg.AmbientC,
		EnableL:      &Pin{},
		EnableR:      &Pin{},
		FaultLine:    &Pin{},
		FaultLED:     &Pin{},
		EnableLED:    &Pin{},
		SourceSelect: &Pin{},
		DACSelect:    &Pin{},
		ExtFault:     NewInput(true),
	}
}

// WriteCode sets the current DAC.
func (p *Plant) WriteCode(code uint16) error {
	p.mu.Lock()
	p.code = code
	p.mu.Unlock()
	return nil
}

// Code returns the last DAC code.
func (p *Plant) Code() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code
}

// operating solves the source and sink for the load voltage and current.
func (p *Plant) operating() (mV, mA uint32) {
	if !p.EnableL.Get() || !p.EnableR.Get() || p.sourceMV == 0 {
		return p.sourceMV, 0
	}
	mA = core.CodeToCurrent(p.code)

	// Each healthy branch carries a quarter; a blown fuse removes its share
	healthy := uint32(0)
	for _, blown := range p.fuseBlown {
		if !blown {
			healthy++
		}
	}
	mA = mA * healthy / core.BranchCount

	if p.sourceMR > 0 {
		if limit := uint32(uint64(p.sourceMV) * 1000 / uint64(p.sourceMR)); mA > limit {
			mA = limit
		}
	}
	drop := uint32(uint64(mA) * uint64(p.sourceMR) / 1000)
	if drop > p.sourceMV {
		return 0, mA
	}
	return p.sourceMV - drop, mA
}

// Operating returns the present load voltage in mV and current in mA.
func (p *Plant) Operating() (mV, mA uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.operating()
}

// Step advances the heatsink model by dt.
func (p *Plant) Step(dt time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.forcedTemp {
		return
	}
	mV, mA := p.operating()
	watts := float64(mV) * float64(mA) / 1e6

	rth := p.cfg.ThermalResistanceCW * (1 - p.cfg.FanCoolingFactor*float64(p.fanPWM)/255)
	target := p.cfg.AmbientC + watts*rth
	tau := p.cfg.ThermalTauS
	if tau <= 0 {
		p.tempC = target
		return
	}
	p.tempC += (target - p.tempC) * (1 - math.Exp(-dt.Seconds()/tau))
}

// Run steps the heatsink model every step until ctx is cancelled.
func (p *Plant) Run(ctx context.Context, step time.Duration) error {
	if step <= 0 {
		step = time.Millisecond
	}
	t := time.NewTicker(step)
	defer t.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			p.Step(now.Sub(last))
			last = now
		}
	}
}

func toRaw(v, fullScale uint32) uint16 {
	if fullScale == 0 {
		return 0
	}
	raw := uint64(v) * sense.ADCMax / uint64(fullScale)
	if raw > sense.ADCMax {
		raw = sense.ADCMax
	}
	return uint16(raw)
}

type adcFunc func() (uint16, error)

func (f adcFunc) Read() (uint16, error) { return f() }

// VoltageADC returns the voltage converter. The source-select pin picks
// the remote leads, which read zero when disconnected.
func (p *Plant) VoltageADC() sense.Reader {
	return adcFunc(func() (uint16, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.adcFailed {
			return 0, ErrInjected
		}
		mV, _ := p.operating()
		if p.SourceSelect.Get() {
			if !p.remote {
				return 0, nil
			}
			return toRaw(mV, p.cfg.Sense.RemoteFullScaleMV), nil
		}
		return toRaw(mV, p.cfg.Sense.InternalFullScaleMV), nil
	})
}

// CurrentADC returns the total current converter.
func (p *Plant) CurrentADC() sense.Reader {
	return adcFunc(func() (uint16, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.adcFailed {
			return 0, ErrInjected
		}
		_, mA := p.operating()
		return toRaw(mA, p.cfg.Sense.CurrentFullScaleMA), nil
	})
}

// ReadBranch converts one branch current.
func (p *Plant) ReadBranch(b core.Branch) (uint16, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b >= core.BranchCount || p.fuseBlown[b] {
		return 0, nil
	}
	_, mA := p.operating()
	healthy := uint32(0)
	for _, blown := range p.fuseBlown {
		if !blown {
			healthy++
		}
	}
	if healthy == 0 {
		return 0, nil
	}
	return toRaw(mA/healthy, p.cfg.Sense.BranchFullScaleMA), nil
}

// ReadTemperature reports the heatsink temperature; both sensors sit on
// the same heatsink.
func (p *Plant) ReadTemperature(s core.TempSensor) (int16, core.SensorFault) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f := p.sensorFault[s&1]; f != 0 {
		return 0, f
	}
	return int16(math.Round(p.tempC)), 0
}

// SetPWM drives both fans.
func (p *Plant) SetPWM(pwm uint8) {
	p.mu.Lock()
	p.fanPWM = pwm
	p.mu.Unlock()
}

// PWM returns the fan drive.
func (p *Plant) PWM() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fanPWM
}

// RPM reports fan speed proportional to PWM.
func (p *Plant) RPM(fan int) uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fan < 0 || fan > 1 || p.fanStall[fan] {
		return 0
	}
	return uint16(uint32(p.fanPWM) * uint32(p.cfg.FanMaxRPM) / 255)
}

// Temperature returns the modelled heatsink temperature.
func (p *Plant) Temperature() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tempC
}

// SetSource changes the supply under test.
func (p *Plant) SetSource(mV, mOhm uint32) {
	p.mu.Lock()
	p.sourceMV, p.sourceMR = mV, mOhm
	p.mu.Unlock()
}

// SetRemoteConnected attaches or removes the remote sense leads.
func (p *Plant) SetRemoteConnected(on bool) {
	p.mu.Lock()
	p.remote = on
	p.mu.Unlock()
}

// SetTemperature pins the heatsink temperature; NaN releases it.
func (p *Plant) SetTemperature(c float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if math.IsNaN(c) {
		p.forcedTemp = false
		return
	}
	p.forcedTemp = true
	p.tempC = c
}

// SetSensorFault injects a sensor fault.
func (p *Plant) SetSensorFault(s core.TempSensor, f core.SensorFault) {
	p.mu.Lock()
	p.sensorFault[s&1] = f
	p.mu.Unlock()
}

// StallFan stops one fan regardless of PWM.
func (p *Plant) StallFan(fan int, stalled bool) {
	p.mu.Lock()
	p.fanStall[fan&1] = stalled
	p.mu.Unlock()
}

// BlowFuse opens one branch.
func (p *Plant) BlowFuse(b core.Branch, blown bool) {
	p.mu.Lock()
	if b < core.BranchCount {
		p.fuseBlown[b] = blown
	}
	p.mu.Unlock()
}

// FailADC makes every conversion fail.
func (p *Plant) FailADC(failed bool) {
	p.mu.Lock()
	p.adcFailed = failed
	p.mu.Unlock()
}
