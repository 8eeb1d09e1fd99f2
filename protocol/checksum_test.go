package protocol

import "testing"

func TestChecksumKnownValues(t *testing.T) {
	tests := []struct {
		addr byte
		data uint16
		want byte
	}{
		{0x00, 0x0000, 0xFF},
		{0x06, 0xABCD, ^byte(0x06 ^ 0xAB ^ 0xCD)},
		{0x80, 0x0000, 0x7F},
		{0x7F, 0xFFFF, 0x80},
	}

	for _, tt := range tests {
		if got := Checksum(tt.addr, tt.data); got != tt.want {
			t.Errorf("Checksum(0x%02x, 0x%04x): expected 0x%02x, got 0x%02x", tt.addr, tt.data, tt.want, got)
		}
	}
}

func TestChecksumRoundTripAndBitFlips(t *testing.T) {
	for addr := 0; addr < 256; addr += 7 {
		for data := 0; data < 0x10000; data += 0x0101 {
			code := Checksum(byte(addr), uint16(data))
			if !Validate(byte(addr), uint16(data), code) {
				t.Fatalf("Validate failed for addr=0x%02x data=0x%04x", addr, data)
			}
			for bit := 0; bit < 8; bit++ {
				if Validate(byte(addr), uint16(data), code^(1<<bit)) {
					t.Fatalf("Flipped bit %d accepted for addr=0x%02x data=0x%04x", bit, addr, data)
				}
			}
		}
	}
}

func TestReadChecksumDiffersFromWrite(t *testing.T) {
	w := Checksum(AddressByte(RegStatus, DirWrite), 0x1234)
	r := Checksum(AddressByte(RegStatus, DirRead), 0x1234)
	if w^r != ReadBit {
		t.Errorf("Expected read and write checksums to differ by the direction bit, got 0x%02x vs 0x%02x", w, r)
	}
}

func TestFramePackUnpack(t *testing.T) {
	f := NewWriteFrame(RegCCLevel, 0x03E8)
	w := f.Pack()
	if w>>24 != uint32(RegCCLevel) {
		t.Errorf("Expected address in top byte, got 0x%08x", w)
	}
	got := UnpackFrame(w)
	if got != f {
		t.Errorf("Expected %+v, got %+v", f, got)
	}
	if !got.Valid() {
		t.Error("Frame built by NewWriteFrame should be valid")
	}
	if got.Direction() != DirWrite || got.Address() != RegCCLevel {
		t.Errorf("Unexpected direction/address: %v 0x%02x", got.Direction(), got.Address())
	}

	enc := f.Encode()
	if len(enc) != WriteFrameLen || enc[0] != SyncByte || enc[2] != 0x03 || enc[3] != 0xE8 {
		t.Errorf("Unexpected encoding % x", enc)
	}
}
