// Package spiadc reads a 12-bit SPI converter whose conversion is started
// by a CONVST pulse. Each read returns the result of the conversion started
// by the previous read and starts the next one.
package spiadc

import (
	"fmt"

	"tinygo.org/x/drivers"

	"eload/core"
)

// Device is one converter.
type Device struct {
	bus    drivers.SPI
	cs     core.OutputPin // Active low chip select
	convst core.OutputPin // Active low conversion start

	rx [2]byte
	tx [2]byte
}

// New returns a device with both control lines idle high.
func New(bus drivers.SPI, cs, convst core.OutputPin) *Device {
	d := &Device{bus: bus, cs: cs, convst: convst}
	d.cs.Set(true)
	d.convst.Set(true)
	return d
}

// Prime starts the first conversion and discards its stale result.
func (d *Device) Prime() error {
	_, err := d.Read()
	return err
}

// Read clocks out the last conversion and triggers the next.
func (d *Device) Read() (uint16, error) {
	d.cs.Set(false)
	err := d.bus.Tx(d.tx[:], d.rx[:])
	d.cs.Set(true)

	// The next conversion starts even when the transfer failed
	d.convst.Set(false)
	d.convst.Set(true)
	if err != nil {
		return 0, fmt.Errorf("spiadc: read: %w", err)
	}

	// 12-bit result left aligned in the 16-bit frame
	return (uint16(d.rx[0])<<8 | uint16(d.rx[1])) >> 4, nil
}
