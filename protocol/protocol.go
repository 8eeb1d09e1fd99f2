// Package protocol implements the register-access link between the load
// and its control panel: a sync byte, an address byte carrying a direction
// bit, two data bytes and an inverted-XOR checksum.
package protocol

// Version represents the eload firmware version
const Version = "0.1.0"

// Wire constants
const (
	SyncByte    = 0xFF // Starts every frame
	ReadBit     = 0x80 // Direction bit in the address byte (1 = read)
	AddressMask = 0x7F // Register address bits of the address byte

	WriteFrameLen = 5 // sync, address, data high, data low, checksum
	ReadFrameLen  = 2 // sync, address
	ReplyLen      = 3 // data high, data low, checksum

	// QueueCapacity is the number of write frames buffered between the
	// receive handler and the supervisor.
	QueueCapacity = 64
)

// Direction is the transfer direction encoded in the address byte
type Direction uint8

const (
	DirWrite Direction = 0
	DirRead  Direction = 1
)

func (d Direction) String() string {
	if d == DirRead {
		return "read"
	}
	return "write"
}

// AddressByte builds the on-wire address byte for addr and dir.
func AddressByte(addr uint8, dir Direction) byte {
	b := addr & AddressMask
	if dir == DirRead {
		b |= ReadBit
	}
	return b
}
