// Package ltc2641 drives the 16-bit current-setting DAC over SPI.
package ltc2641

import (
	"fmt"

	"tinygo.org/x/drivers"

	"eload/core"
)

// Device is one LTC2641 on a shared SPI bus.
type Device struct {
	bus drivers.SPI
	cs  core.OutputPin // Active low chip select

	buf [2]byte
}

// New returns a device. The chip select is released.
func New(bus drivers.SPI, cs core.OutputPin) *Device {
	d := &Device{bus: bus, cs: cs}
	d.cs.Set(true)
	return d
}

// WriteCode loads and updates the DAC output in one 16-bit transfer.
func (d *Device) WriteCode(code uint16) error {
	d.buf[0] = byte(code >> 8)
	d.buf[1] = byte(code)

	d.cs.Set(false)
	err := d.bus.Tx(d.buf[:], nil)
	d.cs.Set(true)
	if err != nil {
		return fmt.Errorf("ltc2641: write code: %w", err)
	}
	return nil
}
