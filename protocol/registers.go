package protocol

import "sync/atomic"

// RegisterTable holds the value served for every read address. Each entry
// is a single word value<<8 | checksum so the receive handler never sees a
// value paired with a stale checksum.
type RegisterTable struct {
	words [RegisterCount]atomic.Uint32
}

// NewRegisterTable returns a table with every register set to zero.
func NewRegisterTable() *RegisterTable {
	t := &RegisterTable{}
	for addr := uint8(0); addr < RegisterCount; addr++ {
		t.Publish(addr, 0)
	}
	return t
}

// Publish stores value at addr. Invalid addresses are ignored.
func (t *RegisterTable) Publish(addr uint8, value uint16) {
	if !ValidAddress(addr) {
		return
	}
	cs := Checksum(AddressByte(addr, DirRead), value)
	t.words[addr].Store(uint32(value)<<8 | uint32(cs))
}

// Value returns the value at addr, or zero for invalid addresses.
func (t *RegisterTable) Value(addr uint8) uint16 {
	if !ValidAddress(addr) {
		return 0
	}
	return uint16(t.words[addr].Load() >> 8)
}

// Word returns the packed value and checksum served for a read of addr.
// Invalid addresses yield zero data with the checksum computed over zero.
func (t *RegisterTable) Word(addr uint8) uint32 {
	if !ValidAddress(addr) {
		return uint32(Checksum(AddressByte(addr, DirRead), 0))
	}
	return t.words[addr].Load()
}

// SetBits ORs mask into the register at addr. Callers must be the only
// writer of addr.
func (t *RegisterTable) SetBits(addr uint8, mask uint16) {
	t.Publish(addr, t.Value(addr)|mask)
}

// ClearBits clears mask in the register at addr. Callers must be the only
// writer of addr.
func (t *RegisterTable) ClearBits(addr uint8, mask uint16) {
	t.Publish(addr, t.Value(addr)&^mask)
}

// Publish32 splits a 32-bit value across a low and a high register.
func (t *RegisterTable) Publish32(low, high uint8, value uint32) {
	t.Publish(low, uint16(value))
	t.Publish(high, uint16(value>>16))
}
