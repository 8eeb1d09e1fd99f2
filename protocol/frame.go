package protocol

// Frame is one exchange unit. AddressByte keeps the direction bit exactly as
// it was received so the checksum can be verified against the wire bytes.
type Frame struct {
	AddressByte byte
	Data        uint16
	Checksum    byte
}

// NewWriteFrame builds a write frame with a correct checksum.
func NewWriteFrame(addr uint8, data uint16) Frame {
	ab := AddressByte(addr, DirWrite)
	return Frame{AddressByte: ab, Data: data, Checksum: Checksum(ab, data)}
}

// Address returns the 7-bit register address.
func (f Frame) Address() uint8 {
	return f.AddressByte & AddressMask
}

// Direction returns the direction encoded in the address byte.
func (f Frame) Direction() Direction {
	if f.AddressByte&ReadBit != 0 {
		return DirRead
	}
	return DirWrite
}

// Valid reports whether the checksum matches the address and data.
func (f Frame) Valid() bool {
	return Validate(f.AddressByte, f.Data, f.Checksum)
}

// Pack encodes the frame as address<<24 | dataHigh<<16 | dataLow<<8 | checksum.
func (f Frame) Pack() uint32 {
	return uint32(f.AddressByte)<<24 | uint32(f.Data)<<8 | uint32(f.Checksum)
}

// UnpackFrame is the inverse of Pack.
func UnpackFrame(w uint32) Frame {
	return Frame{
		AddressByte: byte(w >> 24),
		Data:        uint16(w >> 8),
		Checksum:    byte(w),
	}
}

// Encode returns the wire bytes of a write frame including the sync byte.
func (f Frame) Encode() []byte {
	return []byte{SyncByte, f.AddressByte, byte(f.Data >> 8), byte(f.Data), f.Checksum}
}
