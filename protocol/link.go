package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Link feeds an Engine from a byte stream and writes its replies back,
// standing in for the receive and transmit interrupts of a serial port.
type Link struct {
	engine *Engine
	rw     io.ReadWriter

	// RetryEOF keeps serving after io.EOF. Serial ports configured with a
	// read timeout report an idle line as EOF.
	RetryEOF bool
}

// NewLink creates a link serving engine over rw.
func NewLink(engine *Engine, rw io.ReadWriter) *Link {
	return &Link{engine: engine, rw: rw}
}

// Serve runs until ctx is cancelled or the stream fails.
func (l *Link) Serve(ctx context.Context) error {
	buf := make([]byte, 64)
	out := make([]byte, 0, 2*ReplyLen)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := l.rw.Read(buf)
		out = out[:0]
		for _, b := range buf[:n] {
			l.engine.Receive(b)
			for {
				tx, ok := l.engine.Transmit()
				if !ok {
					break
				}
				out = append(out, tx)
			}
		}
		if len(out) > 0 {
			if _, werr := l.rw.Write(out); werr != nil {
				return fmt.Errorf("link write: %w", werr)
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				if !l.RetryEOF {
					return nil
				}
				time.Sleep(time.Millisecond)
				continue
			}
			return fmt.Errorf("link read: %w", err)
		}
	}
}
