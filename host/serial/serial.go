// Package serial opens the byte link between the panel and the load.
package serial

import (
	"errors"
	"fmt"
	"io"
)

// Port is an open link. The native implementation uses
// github.com/tarm/serial; tests and the simulator use in-memory pipes or
// TCP connections through the plain io.ReadWriteCloser.
type Port interface {
	io.ReadWriteCloser

	// Flush discards unread input
	Flush() error
}

// Parity of each character.
type Parity byte

const (
	ParityNone Parity = 'N'
	ParityOdd  Parity = 'O'
	ParityEven Parity = 'E'
)

// Config describes the serial line.
type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string

	// Baud rate of the panel link
	Baud int

	Parity   Parity
	StopBits int // 1 or 2

	// Read timeout in milliseconds (0 = blocking). A timed-out read
	// reports io.EOF on most platforms.
	ReadTimeout int
}

var (
	ErrNilConfig = errors.New("serial: config cannot be nil")
	ErrConfig    = errors.New("serial: invalid config")
)

// DefaultConfig returns the panel link settings for device: 115200 8N1
// with a 100 ms read timeout.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		Parity:      ParityNone,
		StopBits:    1,
		ReadTimeout: 100,
	}
}

// Validate checks the line settings.
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if c.Device == "" {
		return fmt.Errorf("%w: empty device", ErrConfig)
	}
	if c.Baud <= 0 {
		return fmt.Errorf("%w: baud %d", ErrConfig, c.Baud)
	}
	switch c.Parity {
	case 0, ParityNone, ParityOdd, ParityEven:
	default:
		return fmt.Errorf("%w: parity %q", ErrConfig, rune(c.Parity))
	}
	if c.StopBits != 0 && c.StopBits != 1 && c.StopBits != 2 {
		return fmt.Errorf("%w: %d stop bits", ErrConfig, c.StopBits)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("%w: read timeout %d", ErrConfig, c.ReadTimeout)
	}
	return nil
}
