package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultReplyTimeout bounds how long a read waits for the slave.
const DefaultReplyTimeout = 200 * time.Millisecond

// Exchange records one master transaction.
type Exchange struct {
	Time      time.Time
	Direction Direction
	Address   uint8
	Data      uint16
	Checksum  byte
	Err       error
}

// Observer receives every completed exchange.
type Observer interface {
	Observe(Exchange)
}

// Master is the panel side of the link. One transaction runs at a time.
type Master struct {
	port io.ReadWriteCloser

	timeout  time.Duration
	observer Observer

	txMutex sync.Mutex
	rxChan  chan byte

	closed   atomic.Bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewMaster starts a master on port.
func NewMaster(port io.ReadWriteCloser) *Master {
	m := &Master{
		port:     port,
		timeout:  DefaultReplyTimeout,
		rxChan:   make(chan byte, 64),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}

	go m.readLoop()

	return m
}

// SetTimeout changes the reply timeout used when ctx has no deadline.
func (m *Master) SetTimeout(d time.Duration) {
	m.timeout = d
}

// SetObserver installs an exchange observer. Call before the first transaction.
func (m *Master) SetObserver(o Observer) {
	m.observer = o
}

// WriteRegister queues value for addr on the slave. Writes are not
// acknowledged; read the register back to confirm.
func (m *Master) WriteRegister(addr uint8, value uint16) error {
	if addr > AddressMask {
		return fmt.Errorf("write 0x%02x: %w", addr, ErrInvalidAddress)
	}
	if m.closed.Load() {
		return ErrClosed
	}

	m.txMutex.Lock()
	defer m.txMutex.Unlock()

	f := NewWriteFrame(addr, value)
	err := m.write(f.Encode())
	m.notify(Exchange{Time: time.Now(), Direction: DirWrite, Address: addr, Data: value, Checksum: f.Checksum, Err: err})
	if err != nil {
		return fmt.Errorf("write 0x%02x: %w", addr, err)
	}
	return nil
}

// ReadRegister reads addr from the slave.
func (m *Master) ReadRegister(ctx context.Context, addr uint8) (uint16, error) {
	if addr > AddressMask {
		return 0, fmt.Errorf("read 0x%02x: %w", addr, ErrInvalidAddress)
	}
	if m.closed.Load() {
		return 0, ErrClosed
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	m.txMutex.Lock()
	defer m.txMutex.Unlock()

	m.drain()

	ab := AddressByte(addr, DirRead)
	ex := Exchange{Direction: DirRead, Address: addr}
	if err := m.write([]byte{SyncByte, ab}); err != nil {
		ex.Time, ex.Err = time.Now(), err
		m.notify(ex)
		return 0, fmt.Errorf("read 0x%02x: %w", addr, err)
	}

	var reply [ReplyLen]byte
	for i := range reply {
		select {
		case b := <-m.rxChan:
			reply[i] = b
		case <-ctx.Done():
			ex.Time, ex.Err = time.Now(), ErrTimeout
			m.notify(ex)
			return 0, fmt.Errorf("read 0x%02x after %d bytes: %w", addr, i, ErrTimeout)
		case <-m.stopChan:
			return 0, ErrClosed
		}
	}

	ex.Time = time.Now()
	ex.Data = uint16(reply[0])<<8 | uint16(reply[1])
	ex.Checksum = reply[2]
	if !Validate(ab, ex.Data, ex.Checksum) {
		ex.Err = ErrChecksum
		m.notify(ex)
		return 0, fmt.Errorf("read 0x%02x: %w", addr, ErrChecksum)
	}
	m.notify(ex)
	return ex.Data, nil
}

// ReadRegister32 reads a value split across a low and a high register.
func (m *Master) ReadRegister32(ctx context.Context, low, high uint8) (uint32, error) {
	lo, err := m.ReadRegister(ctx, low)
	if err != nil {
		return 0, err
	}
	hi, err := m.ReadRegister(ctx, high)
	if err != nil {
		return 0, err
	}
	return uint32(hi)<<16 | uint32(lo), nil
}

func (m *Master) write(b []byte) error {
	n, err := m.port.Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return fmt.Errorf("%d/%d bytes: %w", n, len(b), ErrShortWrite)
	}
	return nil
}

// drain discards bytes left over from an abandoned reply.
func (m *Master) drain() {
	for {
		select {
		case <-m.rxChan:
		default:
			return
		}
	}
}

func (m *Master) notify(ex Exchange) {
	if m.observer != nil {
		m.observer.Observe(ex)
	}
}

// readLoop moves bytes from the port into rxChan
func (m *Master) readLoop() {
	defer close(m.doneChan)

	buffer := make([]byte, 64)

	for {
		select {
		case <-m.stopChan:
			return
		default:
		}

		n, err := m.port.Read(buffer)
		for _, b := range buffer[:n] {
			select {
			case m.rxChan <- b:
			default:
				// Nobody is waiting for this many bytes
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) && n == 0 {
				// Idle serial line or closed pipe
				select {
				case <-m.stopChan:
					return
				case <-time.After(time.Millisecond):
				}
				continue
			}
			if m.closed.Load() {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// Close stops the read loop and closes the port.
func (m *Master) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(m.stopChan)
	err := m.port.Close()
	<-m.doneChan
	return err
}
