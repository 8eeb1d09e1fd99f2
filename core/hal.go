package core

// Collaborator interfaces. Targets provide implementations backed by real
// peripherals or by a simulated plant.

// DACDriver writes a raw code to the current-setting DAC. Larger codes
// sink less current.
type DACDriver interface {
	WriteCode(code uint16) error
}

// Branch identifies one of the four current sinks.
type Branch uint8

const (
	BranchL1 Branch = iota
	BranchL2
	BranchR1
	BranchR2

	BranchCount = 4
)

var branchNames = [BranchCount]string{"L1", "L2", "R1", "R2"}

func (b Branch) String() string {
	if b < BranchCount {
		return branchNames[b]
	}
	return "invalid"
}

// SenseSource selects where the load voltage is measured.
type SenseSource uint8

const (
	SenseInternal SenseSource = iota
	SenseRemote
	SenseAuto
)

// SampleHandler receives one averaged voltage/current pair.
type SampleHandler func(voltageMV, currentMA uint32)

// Sense is the analog front end.
type Sense interface {
	Voltage() uint32 // mV
	Current() uint32 // mA
	Power() uint32   // mW
	BranchCurrent(b Branch) uint32

	// SetContinuous switches between paced sampling and back-to-back
	// conversions for minimum loop latency.
	SetContinuous(on bool)
	SetVoltageSource(src SenseSource)

	// SetSampleHandler registers the per-sample-pair callback. It runs in
	// the sampling domain and must not block.
	SetSampleHandler(h SampleHandler)
}

// TempSensor identifies a heatsink sensor.
type TempSensor uint8

const (
	TempLeft TempSensor = iota
	TempRight
)

// SensorFault flags reported with a temperature reading.
type SensorFault uint8

const (
	SensorOpen  SensorFault = 0x01
	SensorShort SensorFault = 0x02
)

// ThermalSensors reads heatsink temperatures in degrees C.
type ThermalSensors interface {
	ReadTemperature(s TempSensor) (int16, SensorFault)
}

// Fans drives both fans with one PWM value and reports tachometer speed.
type Fans interface {
	SetPWM(pwm uint8)
	RPM(fan int) uint16
}

// OutputPin is a digital output.
type OutputPin interface {
	Set(high bool)
}

// InputPin is a digital input.
type InputPin interface {
	Get() bool
}

// Clock is a monotonic millisecond counter that may wrap.
type Clock interface {
	Millis() uint32
}

// Pins groups the digital lines driven by the supervisor. Nil pins are
// skipped.
type Pins struct {
	EnableL   OutputPin // Left power stage enable
	EnableR   OutputPin // Right power stage enable
	FaultLine OutputPin // Shared fault line, high = asserted
	FaultLED  OutputPin
	EnableLED OutputPin
}

// Hardware bundles every collaborator the controller needs.
type Hardware struct {
	DAC      DACDriver
	Sense    Sense
	Thermal  ThermalSensors
	Fans     Fans
	Pins     Pins
	ExtFault InputPin // Low = external fault asserted
	Clock    Clock
}

func setPin(p OutputPin, high bool) {
	if p != nil {
		p.Set(high)
	}
}

// since returns the elapsed milliseconds from then to now across wraps.
func since(now, then uint32) uint32 {
	return now - then
}
