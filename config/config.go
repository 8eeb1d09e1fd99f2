// Package config loads the load controller configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"eload/core"
	"eload/sense"
	"eload/sim"
)

// Config is the root of the configuration file.
type Config struct {
	Load    LoadConfig    `yaml:"load"`
	DAC     DACConfig     `yaml:"dac"`
	PID     PIDConfig     `yaml:"pid"`
	Thermal ThermalConfig `yaml:"thermal"`
	Fan     FanConfig     `yaml:"fan"`
	Link    LinkConfig    `yaml:"link"`
	Sense   SenseConfig   `yaml:"sense"`
	Sim     SimConfig     `yaml:"sim"`
	Serial  SerialConfig  `yaml:"serial"`
}

// LoadConfig holds limits, protection thresholds and task periods.
type LoadConfig struct {
	MinCurrentMA    uint32 `yaml:"min_current_ma"`
	MaxCurrentMA    uint32 `yaml:"max_current_ma"`
	MinVoltageMV    uint32 `yaml:"min_voltage_mv"`
	MaxVoltageMV    uint32 `yaml:"max_voltage_mv"`
	MinResistanceMR uint32 `yaml:"min_resistance_mohm"`
	MaxResistanceMR uint32 `yaml:"max_resistance_mohm"`
	MinPowerMW      uint32 `yaml:"min_power_mw"`
	MaxPowerMW      uint32 `yaml:"max_power_mw"`

	StartCurrentMA    uint32 `yaml:"start_current_ma"`
	StartVoltageMV    uint32 `yaml:"start_voltage_mv"`
	StartResistanceMR uint32 `yaml:"start_resistance_mohm"`
	StartPowerMW      uint32 `yaml:"start_power_mw"`

	AvailableCurrentA uint16 `yaml:"available_current_a"`
	AvailablePowerW   uint16 `yaml:"available_power_w"`

	OCPThresholdMA   uint32  `yaml:"ocp_threshold_ma"`
	OPPThresholdMW   uint32  `yaml:"opp_threshold_mw"`
	NoRegThresholdCC uint32  `yaml:"noreg_threshold_cc_ma"`
	NoRegThresholdCV uint32  `yaml:"noreg_threshold_cv_mv"`
	NoRegThresholdCR uint32  `yaml:"noreg_threshold_cr_mohm"`
	NoRegThresholdCP uint32  `yaml:"noreg_threshold_cp_mw"`
	FaultMask        *uint16 `yaml:"fault_mask"`

	NoRegCounts uint8 `yaml:"noreg_counts"`
	FuseCounts  uint8 `yaml:"fuse_counts"`

	ControlPeriodMs  uint32 `yaml:"control_period_ms"`
	CommandPollMs    uint32 `yaml:"command_poll_ms"`
	ExtFaultPeriodMs uint32 `yaml:"ext_fault_period_ms"`
}

// DACConfig sets the slew limiter.
type DACConfig struct {
	SlewAmpsPerSecond uint32 `yaml:"slew_amps_per_second"`
	TickMs            uint32 `yaml:"tick_ms"`
}

// Gains are the PID divisors of one mode.
type Gains struct {
	Kp int64 `yaml:"kp"`
	Ki int64 `yaml:"ki"`
}

// PIDConfig holds the closed-loop gains.
type PIDConfig struct {
	CV            Gains `yaml:"cv"`
	CR            Gains `yaml:"cr"`
	CP            Gains `yaml:"cp"`
	IntegralLimit int64 `yaml:"integral_limit"`
}

// ThermalConfig holds the temperature thresholds in degrees C.
type ThermalConfig struct {
	PeriodMs         uint32 `yaml:"period_ms"`
	RegulationStartC int16  `yaml:"regulation_start_c"`
	RegulationStopC  int16  `yaml:"regulation_stop_c"`
	OTPStartC        int16  `yaml:"otp_start_c"`
	OTPStopC         int16  `yaml:"otp_stop_c"`
	SensorCounts     uint8  `yaml:"sensor_fault_counts"`
}

// FanConfig holds fan PWM limits and the power-up test.
type FanConfig struct {
	IdlePWM     uint8  `yaml:"idle_pwm"`
	MinPWM      uint8  `yaml:"min_pwm"`
	MaxPWM      uint8  `yaml:"max_pwm"`
	RampStepMs  uint32 `yaml:"ramp_step_ms"`
	FaultCounts uint8  `yaml:"fault_counts"`
	Test        *bool  `yaml:"test"`
	TestPWM     uint8  `yaml:"test_pwm"`
	TestMs      uint32 `yaml:"test_ms"`
	TestMinRPM  uint16 `yaml:"test_min_rpm"`
}

// LinkConfig holds the communication watchdog.
type LinkConfig struct {
	WatchdogTimeoutMs uint32 `yaml:"watchdog_timeout_ms"`
}

// SenseConfig holds the analog front-end scaling.
type SenseConfig struct {
	Oversample          uint8  `yaml:"oversample"`
	InternalFullScaleMV uint32 `yaml:"internal_full_scale_mv"`
	RemoteFullScaleMV   uint32 `yaml:"remote_full_scale_mv"`
	CurrentFullScaleMA  uint32 `yaml:"current_full_scale_ma"`
	BranchFullScaleMA   uint32 `yaml:"branch_full_scale_ma"`
	MinVoltageMV        uint32 `yaml:"min_voltage_mv"`
	MinCurrentMA        uint32 `yaml:"min_current_ma"`
	MinBranchMA         uint32 `yaml:"min_branch_ma"`
	RoundTo             uint32 `yaml:"round_to"`
	AutoThresholdMV     uint32 `yaml:"auto_threshold_mv"`
	SamplePeriodMs      uint32 `yaml:"sample_period_ms"`
	ContinuousPeriodUs  uint32 `yaml:"continuous_period_us"`
}

// SimConfig describes the simulated source and heatsink.
type SimConfig struct {
	SourceVoltageMV     uint32  `yaml:"source_voltage_mv"`
	SourceResistanceMR  uint32  `yaml:"source_resistance_mohm"`
	AmbientC            float64 `yaml:"ambient_c"`
	ThermalResistanceCW float64 `yaml:"thermal_resistance_c_per_w"`
	FanCoolingFactor    float64 `yaml:"fan_cooling_factor"`
	ThermalTauS         float64 `yaml:"thermal_tau_s"`
	FanMaxRPM           uint16  `yaml:"fan_max_rpm"`
	StepMs              uint32  `yaml:"step_ms"`
}

// SerialConfig selects the port the slave link is exposed on.
type SerialConfig struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

// Load parses YAML data and fills unset values with defaults.
func Load(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads and parses the configuration file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Load(data)
}

// Default returns the shipped configuration.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func setU32(v *uint32, def uint32) {
	if *v == 0 {
		*v = def
	}
}

func setU16(v *uint16, def uint16) {
	if *v == 0 {
		*v = def
	}
}

func setU8(v *uint8, def uint8) {
	if *v == 0 {
		*v = def
	}
}

func setI16(v *int16, def int16) {
	if *v == 0 {
		*v = def
	}
}

func setF64(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}

func setGains(g *Gains, def core.Gains) {
	if g.Kp == 0 {
		g.Kp = def.Kp
	}
	if g.Ki == 0 {
		g.Ki = def.Ki
	}
}

// applyDefaults fills in missing configuration values from the shipped
// controller settings
func applyDefaults(cfg *Config) {
	d := core.DefaultSettings()

	l := &cfg.Load
	setU32(&l.MinCurrentMA, d.MinCurrentMA)
	setU32(&l.MaxCurrentMA, d.MaxCurrentMA)
	setU32(&l.MinVoltageMV, d.MinVoltageMV)
	setU32(&l.MaxVoltageMV, d.MaxVoltageMV)
	setU32(&l.MinResistanceMR, d.MinResistanceMR)
	setU32(&l.MaxResistanceMR, d.MaxResistanceMR)
	setU32(&l.MinPowerMW, d.MinPowerMW)
	setU32(&l.MaxPowerMW, d.MaxPowerMW)
	setU32(&l.StartCurrentMA, d.StartCurrentMA)
	setU32(&l.StartVoltageMV, d.StartVoltageMV)
	setU32(&l.StartResistanceMR, d.StartResistanceMR)
	setU32(&l.StartPowerMW, d.StartPowerMW)
	setU16(&l.AvailableCurrentA, d.AvailableCurrentA)
	setU16(&l.AvailablePowerW, d.AvailablePowerW)
	setU32(&l.OCPThresholdMA, d.OCPThresholdMA)
	setU32(&l.OPPThresholdMW, d.OPPThresholdMW)
	setU32(&l.NoRegThresholdCC, d.NoRegThresholdCC)
	setU32(&l.NoRegThresholdCV, d.NoRegThresholdCV)
	setU32(&l.NoRegThresholdCR, d.NoRegThresholdCR)
	setU32(&l.NoRegThresholdCP, d.NoRegThresholdCP)
	if l.FaultMask == nil {
		m := uint16(d.DefaultFaultMask)
		l.FaultMask = &m
	}
	setU8(&l.NoRegCounts, d.NoRegCounts)
	setU8(&l.FuseCounts, d.FuseCounts)
	setU32(&l.ControlPeriodMs, d.ControlPeriodMs)
	setU32(&l.CommandPollMs, d.CommandPollMs)
	setU32(&l.ExtFaultPeriodMs, d.ExtFaultPeriodMs)

	setU32(&cfg.DAC.SlewAmpsPerSecond, d.SlewAmpsPerSecond)
	setU32(&cfg.DAC.TickMs, d.SlewTickMs)

	setGains(&cfg.PID.CV, d.CVGains)
	setGains(&cfg.PID.CR, d.CRGains)
	setGains(&cfg.PID.CP, d.CPGains)
	if cfg.PID.IntegralLimit == 0 {
		cfg.PID.IntegralLimit = d.IntegralLimit
	}

	th := &cfg.Thermal
	setU32(&th.PeriodMs, d.ThermalPeriodMs)
	setI16(&th.RegulationStartC, d.RegulationStartC)
	setI16(&th.RegulationStopC, d.RegulationStopC)
	setI16(&th.OTPStartC, d.OTPStartC)
	setI16(&th.OTPStopC, d.OTPStopC)
	setU8(&th.SensorCounts, d.TempSensorCounts)

	f := &cfg.Fan
	setU8(&f.IdlePWM, d.FanIdlePWM)
	setU8(&f.MinPWM, d.FanMinPWM)
	setU8(&f.MaxPWM, d.FanMaxPWM)
	setU32(&f.RampStepMs, d.FanRampStepMs)
	setU8(&f.FaultCounts, d.FanCounts)
	if f.Test == nil {
		test := d.FanTest
		f.Test = &test
	}
	setU8(&f.TestPWM, d.FanTestPWM)
	setU32(&f.TestMs, d.FanTestMs)
	setU16(&f.TestMinRPM, d.FanTestMinRPM)

	setU32(&cfg.Link.WatchdogTimeoutMs, d.WatchdogTimeoutMs)

	sd := sense.DefaultConfig()
	s := &cfg.Sense
	setU8(&s.Oversample, sd.Oversample)
	setU32(&s.InternalFullScaleMV, sd.InternalFullScaleMV)
	setU32(&s.RemoteFullScaleMV, sd.RemoteFullScaleMV)
	setU32(&s.CurrentFullScaleMA, sd.CurrentFullScaleMA)
	setU32(&s.BranchFullScaleMA, sd.BranchFullScaleMA)
	setU32(&s.MinVoltageMV, sd.MinVoltageMV)
	setU32(&s.MinCurrentMA, sd.MinCurrentMA)
	setU32(&s.MinBranchMA, sd.MinBranchMA)
	setU32(&s.RoundTo, sd.RoundTo)
	setU32(&s.AutoThresholdMV, sd.AutoThresholdMV)
	setU32(&s.SamplePeriodMs, uint32(sd.SamplePeriod/time.Millisecond))
	setU32(&s.ContinuousPeriodUs, uint32(sd.ContinuousPeriod/time.Microsecond))

	pd := sim.DefaultPlantConfig()
	sc := &cfg.Sim
	setU32(&sc.SourceVoltageMV, pd.SourceVoltageMV)
	setU32(&sc.SourceResistanceMR, pd.SourceResistanceMR)
	setF64(&sc.AmbientC, pd.AmbientC)
	setF64(&sc.ThermalResistanceCW, pd.ThermalResistanceCW)
	setF64(&sc.FanCoolingFactor, pd.FanCoolingFactor)
	setF64(&sc.ThermalTauS, pd.ThermalTauS)
	setU16(&sc.FanMaxRPM, pd.FanMaxRPM)
	setU32(&sc.StepMs, 1)

	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = 115200
	}
}

// Validation errors.
var (
	ErrRange    = errors.New("config: min exceeds max")
	ErrStart    = errors.New("config: start level out of range")
	ErrThermal  = errors.New("config: thermal thresholds out of order")
	ErrFanPWM   = errors.New("config: fan pwm limits out of order")
	ErrProtect  = errors.New("config: protection threshold below maximum setpoint")
	ErrSenseCfg = errors.New("config: invalid sense scaling")
)

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	l := c.Load
	ranges := []struct {
		name     string
		min, max uint32
		start    uint32
	}{
		{"current", l.MinCurrentMA, l.MaxCurrentMA, l.StartCurrentMA},
		{"voltage", l.MinVoltageMV, l.MaxVoltageMV, l.StartVoltageMV},
		{"resistance", l.MinResistanceMR, l.MaxResistanceMR, l.StartResistanceMR},
		{"power", l.MinPowerMW, l.MaxPowerMW, l.StartPowerMW},
	}
	for _, r := range ranges {
		if r.min > r.max {
			return fmt.Errorf("%w: %s %d > %d", ErrRange, r.name, r.min, r.max)
		}
		if r.start < r.min || r.start > r.max {
			return fmt.Errorf("%w: %s %d", ErrStart, r.name, r.start)
		}
	}
	if l.OCPThresholdMA < l.MaxCurrentMA {
		return fmt.Errorf("%w: ocp %d mA", ErrProtect, l.OCPThresholdMA)
	}
	if l.OPPThresholdMW < l.MaxPowerMW {
		return fmt.Errorf("%w: opp %d mW", ErrProtect, l.OPPThresholdMW)
	}

	th := c.Thermal
	if th.RegulationStopC > th.RegulationStartC || th.RegulationStartC >= th.OTPStartC || th.OTPStopC > th.OTPStartC {
		return fmt.Errorf("%w: stop %d start %d otp %d/%d", ErrThermal,
			th.RegulationStopC, th.RegulationStartC, th.OTPStopC, th.OTPStartC)
	}

	f := c.Fan
	if f.MinPWM > f.MaxPWM || f.IdlePWM > f.MaxPWM {
		return fmt.Errorf("%w: idle %d min %d max %d", ErrFanPWM, f.IdlePWM, f.MinPWM, f.MaxPWM)
	}

	if c.Sense.RoundTo == 0 || c.Sense.Oversample == 0 {
		return ErrSenseCfg
	}
	return nil
}

// Settings converts the configuration to controller settings.
func (c *Config) Settings() core.Settings {
	l := c.Load
	s := core.Settings{
		MinCurrentMA:      l.MinCurrentMA,
		MaxCurrentMA:      l.MaxCurrentMA,
		MinVoltageMV:      l.MinVoltageMV,
		MaxVoltageMV:      l.MaxVoltageMV,
		MinResistanceMR:   l.MinResistanceMR,
		MaxResistanceMR:   l.MaxResistanceMR,
		MinPowerMW:        l.MinPowerMW,
		MaxPowerMW:        l.MaxPowerMW,
		StartCurrentMA:    l.StartCurrentMA,
		StartVoltageMV:    l.StartVoltageMV,
		StartResistanceMR: l.StartResistanceMR,
		StartPowerMW:      l.StartPowerMW,
		AvailableCurrentA: l.AvailableCurrentA,
		AvailablePowerW:   l.AvailablePowerW,
		OCPThresholdMA:    l.OCPThresholdMA,
		OPPThresholdMW:    l.OPPThresholdMW,
		NoRegThresholdCC:  l.NoRegThresholdCC,
		NoRegThresholdCV:  l.NoRegThresholdCV,
		NoRegThresholdCR:  l.NoRegThresholdCR,
		NoRegThresholdCP:  l.NoRegThresholdCP,
		NoRegCounts:       l.NoRegCounts,
		FuseCounts:        l.FuseCounts,
		ControlPeriodMs:   l.ControlPeriodMs,
		CommandPollMs:     l.CommandPollMs,
		ExtFaultPeriodMs:  l.ExtFaultPeriodMs,

		SlewAmpsPerSecond: c.DAC.SlewAmpsPerSecond,
		SlewTickMs:        c.DAC.TickMs,
		WatchdogTimeoutMs: c.Link.WatchdogTimeoutMs,

		CVGains:       core.Gains{Kp: c.PID.CV.Kp, Ki: c.PID.CV.Ki},
		CRGains:       core.Gains{Kp: c.PID.CR.Kp, Ki: c.PID.CR.Ki},
		CPGains:       core.Gains{Kp: c.PID.CP.Kp, Ki: c.PID.CP.Ki},
		IntegralLimit: c.PID.IntegralLimit,

		ThermalPeriodMs:  c.Thermal.PeriodMs,
		RegulationStartC: c.Thermal.RegulationStartC,
		RegulationStopC:  c.Thermal.RegulationStopC,
		OTPStartC:        c.Thermal.OTPStartC,
		OTPStopC:         c.Thermal.OTPStopC,
		TempSensorCounts: c.Thermal.SensorCounts,

		FanIdlePWM:    c.Fan.IdlePWM,
		FanMinPWM:     c.Fan.MinPWM,
		FanMaxPWM:     c.Fan.MaxPWM,
		FanRampStepMs: c.Fan.RampStepMs,
		FanCounts:     c.Fan.FaultCounts,
		FanTestPWM:    c.Fan.TestPWM,
		FanTestMs:     c.Fan.TestMs,
		FanTestMinRPM: c.Fan.TestMinRPM,
	}
	if l.FaultMask != nil {
		s.DefaultFaultMask = core.Fault(*l.FaultMask)
	}
	if c.Fan.Test != nil {
		s.FanTest = *c.Fan.Test
	}
	return s
}

// SenseConfig converts the analog front-end section.
func (c *Config) SenseConfig() sense.Config {
	s := c.Sense
	d := sense.DefaultConfig()
	return sense.Config{
		Oversample:          s.Oversample,
		InternalFullScaleMV: s.InternalFullScaleMV,
		RemoteFullScaleMV:   s.RemoteFullScaleMV,
		CurrentFullScaleMA:  s.CurrentFullScaleMA,
		BranchFullScaleMA:   s.BranchFullScaleMA,
		MinVoltageMV:        s.MinVoltageMV,
		MinCurrentMA:        s.MinCurrentMA,
		MinBranchMA:         s.MinBranchMA,
		RoundTo:             s.RoundTo,
		AutoThresholdMV:     s.AutoThresholdMV,
		AutoProbeEvery:      d.AutoProbeEvery,
		SamplePeriod:        time.Duration(s.SamplePeriodMs) * time.Millisecond,
		ContinuousPeriod:    time.Duration(s.ContinuousPeriodUs) * time.Microsecond,
	}
}

// PlantConfig converts the simulator section.
func (c *Config) PlantConfig() sim.PlantConfig {
	return sim.PlantConfig{
		SourceVoltageMV:     c.Sim.SourceVoltageMV,
		SourceResistanceMR:  c.Sim.SourceResistanceMR,
		AmbientC:            c.Sim.AmbientC,
		ThermalResistanceCW: c.Sim.ThermalResistanceCW,
		FanCoolingFactor:    c.Sim.FanCoolingFactor,
		ThermalTauS:         c.Sim.ThermalTauS,
		FanMaxRPM:           c.Sim.FanMaxRPM,
		Sense:               c.SenseConfig(),
	}
}
