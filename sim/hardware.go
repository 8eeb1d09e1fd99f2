package sim

import (
	"sync/atomic"
	"time"

	"eload/core"
	"eload/devices/ltc2641"
	"eload/devices/spiadc"
	"eload/sense"
)

// Pin is a simulated digital line.
type Pin struct {
	level atomic.Bool
}

// Set drives the line.
func (p *Pin) Set(high bool) { p.level.Store(high) }

// Get reads the line.
func (p *Pin) Get() bool { return p.level.Load() }

// Input is a simulated digital input driven by the test bench.
type Input struct {
	Pin
}

// NewInput returns an input at level.
func NewInput(level bool) *Input {
	in := &Input{}
	in.Set(level)
	return in
}

// Clock counts milliseconds from its creation.
type Clock struct {
	start time.Time
}

// NewClock starts a clock.
func NewClock() *Clock {
	return &Clock{start: time.Now()}
}

// Millis returns elapsed milliseconds, wrapping at 2^32.
func (c *Clock) Millis() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

// ManualClock is advanced explicitly.
type ManualClock struct {
	now atomic.Uint32
}

// Millis returns the current time.
func (c *ManualClock) Millis() uint32 { return c.now.Load() }

// Advance moves the clock forward.
func (c *ManualClock) Advance(ms uint32) { c.now.Add(ms) }

// Hardware returns the collaborator set for a controller running on p.
// The DAC and both converters are driven through their SPI device drivers
// over simulated buses; the branch channels are read directly.
func (p *Plant) Hardware(clock core.Clock) (core.Hardware, *sense.Sampler) {
	dac := ltc2641.New(&dacBus{plant: p, cs: p.DACSelect}, p.DACSelect)
	voltage := p.converter(p.VoltageADC())
	current := p.converter(p.CurrentADC())

	sampler := sense.New(p.cfg.Sense, voltage, current, p, p.SourceSelect)
	return core.Hardware{
		DAC:     dac,
		Sense:   sampler,
		Thermal: p,
		Fans:    p,
		Pins: core.Pins{
			EnableL:   p.EnableL,
			EnableR:   p.EnableR,
			FaultLine: p.FaultLine,
			FaultLED:  p.FaultLED,
			EnableLED: p.EnableLED,
		},
		ExtFault: p.ExtFault,
		Clock:    clock,
	}, sampler
}

// converter puts input behind a CONVST-triggered SPI converter and starts
// its first conversion.
func (p *Plant) converter(input sense.Reader) *spiadc.Device {
	cs := &Pin{}
	bus := &adcBus{input: input, cs: cs}
	d := spiadc.New(bus, cs, &convstPin{bus: bus})
	// No conversion has run yet, so the first frame cannot fail
	_ = d.Prime()
	return d
}
