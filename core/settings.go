package core

// Gains holds the divisors of one PID law: output contribution is
// error/Kp for the proportional term and error/Ki per update for the
// integral term.
type Gains struct {
	Kp int64
	Ki int64
}

// Settings collects every tunable of the controller. Values are in base
// units (mA, mV, mOhm, mW, ms, degrees C) unless noted.
type Settings struct {
	// Setpoint clamps
	MinCurrentMA    uint32
	MaxCurrentMA    uint32
	MinVoltageMV    uint32
	MaxVoltageMV    uint32
	MinResistanceMR uint32
	MaxResistanceMR uint32
	MinPowerMW      uint32
	MaxPowerMW      uint32

	// Startup setpoints
	StartCurrentMA    uint32
	StartVoltageMV    uint32
	StartResistanceMR uint32
	StartPowerMW      uint32

	// Advertised capability
	AvailableCurrentA uint16
	AvailablePowerW   uint16

	// Protection
	OCPThresholdMA   uint32
	OPPThresholdMW   uint32
	NoRegThresholdCC uint32 // mA
	NoRegThresholdCV uint32 // mV
	NoRegThresholdCR uint32 // mOhm
	NoRegThresholdCP uint32 // mW
	DefaultFaultMask Fault

	// Debounce thresholds
	NoRegCounts      uint8
	FuseCounts       uint8
	TempSensorCounts uint8
	FanCounts        uint8

	// Task periods
	ControlPeriodMs  uint32
	CommandPollMs    uint32
	ThermalPeriodMs  uint32
	ExtFaultPeriodMs uint32
	FanRampStepMs    uint32

	// Actuation
	SlewAmpsPerSecond uint32
	SlewTickMs        uint32
	WatchdogTimeoutMs uint32

	// PID
	CVGains       Gains
	CRGains       Gains
	CPGains       Gains
	IntegralLimit int64

	// Thermal management
	RegulationStartC int16
	RegulationStopC  int16
	OTPStartC        int16
	OTPStopC         int16
	FanIdlePWM       uint8
	FanMinPWM        uint8
	FanMaxPWM        uint8

	// Power-up fan test
	FanTest       bool
	FanTestPWM    uint8
	FanTestMs     uint32
	FanTestMinRPM uint16
}

// DefaultSettings returns the values the load ships with.
func DefaultSettings() Settings {
	return Settings{
		MinCurrentMA:    300,
		MaxCurrentMA:    42000,
		MinVoltageMV:    1000,
		MaxVoltageMV:    80000,
		MinResistanceMR: 100,
		MaxResistanceMR: 600000,
		MinPowerMW:      1000,
		MaxPowerMW:      400000,

		StartCurrentMA:    1000,
		StartVoltageMV:    12000,
		StartResistanceMR: 10000,
		StartPowerMW:      10000,

		AvailableCurrentA: 42,
		AvailablePowerW:   420,

		OCPThresholdMA:   45000,
		OPPThresholdMW:   430000,
		NoRegThresholdCC: 200,
		NoRegThresholdCV: 1000,
		NoRegThresholdCR: 10000,
		NoRegThresholdCP: 10000,
		DefaultFaultMask: FaultAll,

		NoRegCounts:      16,
		FuseCounts:       16,
		TempSensorCounts: 4,
		FanCounts:        8,

		ControlPeriodMs:  100,
		CommandPollMs:    1,
		ThermalPeriodMs:  1000,
		ExtFaultPeriodMs: 10,
		FanRampStepMs:    20,

		SlewAmpsPerSecond: 20,
		SlewTickMs:        1,
		WatchdogTimeoutMs: 1000,

		CVGains:       Gains{Kp: 50, Ki: 100},
		CRGains:       Gains{Kp: 50, Ki: 100},
		CPGains:       Gains{Kp: 60000, Ki: 250000},
		IntegralLimit: 100000,

		RegulationStartC: 50,
		RegulationStopC:  48,
		OTPStartC:        70,
		OTPStopC:         60,
		FanIdlePWM:       0,
		FanMinPWM:        30,
		FanMaxPWM:        217,

		FanTest:       true,
		FanTestPWM:    128,
		FanTestMs:     3000,
		FanTestMinRPM: 10000,
	}
}
