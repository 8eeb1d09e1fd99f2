package protocol

import "errors"

var (
	// ErrTimeout is returned when the slave does not answer a read in time.
	ErrTimeout = errors.New("protocol: reply timeout")

	// ErrChecksum is returned when a read reply fails its integrity check.
	ErrChecksum = errors.New("protocol: checksum mismatch")

	// ErrInvalidAddress is returned for addresses outside the register map.
	ErrInvalidAddress = errors.New("protocol: invalid register address")

	// ErrClosed is returned after the master has been closed.
	ErrClosed = errors.New("protocol: link closed")

	// ErrShortWrite is returned when the port accepts fewer bytes than sent.
	ErrShortWrite = errors.New("protocol: incomplete write")
)
