package sim

import (
	"sync"

	"eload/sense"
)

// dacBus is the SPI bus of the current-setting DAC. A 16-bit frame shifted
// in while the chip select is low loads and updates the output.
type dacBus struct {
	plant *Plant
	cs    *Pin
}

func (b *dacBus) Tx(w, r []byte) error {
	if b.cs.Get() || len(w) < 2 {
		return nil
	}
	return b.plant.WriteCode(uint16(w[0])<<8 | uint16(w[1]))
}

func (b *dacBus) Transfer(byte) (byte, error) { return 0, nil }

// adcBus is one converter behind its own SPI bus. A falling CONVST edge
// samples the input; a frame clocked out under chip select returns that
// conversion left aligned. A failed conversion fails the next frame.
type adcBus struct {
	input sense.Reader
	cs    *Pin

	mu     sync.Mutex
	result uint16
	err    error
}

func (b *adcBus) Tx(w, r []byte) error {
	if b.cs.Get() {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	frame := b.result << 4
	if len(r) > 0 {
		r[0] = byte(frame >> 8)
	}
	if len(r) > 1 {
		r[1] = byte(frame)
	}
	return nil
}

func (b *adcBus) Transfer(byte) (byte, error) { return 0, nil }

func (b *adcBus) convert() {
	v, err := b.input.Read()
	b.mu.Lock()
	b.result, b.err = v, err
	b.mu.Unlock()
}

// convstPin starts a conversion on its falling edge.
type convstPin struct {
	Pin
	bus *adcBus
}

func (p *convstPin) Set(high bool) {
	if !high && p.Get() {
		p.bus.convert()
	}
	p.Pin.Set(high)
}
