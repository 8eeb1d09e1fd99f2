package core

// FanRegulator ramps the shared fan PWM toward the larger of the thermal
// demand and the panel override. Increases step by one per tick to limit
// inrush; decreases apply at once.
type FanRegulator struct {
	fans Fans

	demand   uint8
	override uint8
	current  uint8
}

// NewFanRegulator creates a regulator with the fans stopped.
func NewFanRegulator(fans Fans) *FanRegulator {
	f := &FanRegulator{fans: fans}
	fans.SetPWM(0)
	return f
}

// SetDemand sets the PWM requested by thermal control.
func (f *FanRegulator) SetDemand(pwm uint8) {
	f.demand = pwm
}

// SetOverride sets the minimum PWM requested by the panel. It can raise
// but never lower the thermal demand.
func (f *FanRegulator) SetOverride(pwm uint8) {
	f.override = pwm
}

// Target returns the PWM the regulator is moving toward.
func (f *FanRegulator) Target() uint8 {
	if f.override > f.demand {
		return f.override
	}
	return f.demand
}

// PWM returns the PWM currently applied.
func (f *FanRegulator) PWM() uint8 {
	return f.current
}

// Tick moves the applied PWM one step toward the target.
func (f *FanRegulator) Tick() {
	target := f.Target()
	switch {
	case target > f.current:
		f.current++
	case target < f.current:
		f.current = target
	default:
		return
	}
	f.fans.SetPWM(f.current)
}

// RPM returns the tachometer reading of fan.
func (f *FanRegulator) RPM(fan int) uint16 {
	return f.fans.RPM(fan)
}
