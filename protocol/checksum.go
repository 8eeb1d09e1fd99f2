package protocol

// Checksum computes the frame integrity code over the address byte as it
// appears on the wire (direction bit included) and both data bytes.
func Checksum(addressByte byte, data uint16) byte {
	return ^(addressByte ^ byte(data>>8) ^ byte(data))
}

// Validate reports whether code matches Checksum(addressByte, data).
func Validate(addressByte byte, data uint16, code byte) bool {
	return Checksum(addressByte, data) == code
}
