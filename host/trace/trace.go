// Package trace records link exchanges as a stream of CBOR records.
package trace

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"eload/protocol"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create trace CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create trace CBOR decoder mode: %v", err))
	}
}

// Record is one traced exchange. Integer keys keep the stream compact.
type Record struct {
	Session   string    `cbor:"1,keyasint"`
	Seq       uint64    `cbor:"2,keyasint"`
	Time      time.Time `cbor:"3,keyasint"`
	Direction uint8     `cbor:"4,keyasint"`
	Address   uint8     `cbor:"5,keyasint"`
	Register  string    `cbor:"6,keyasint,omitempty"`
	Data      uint16    `cbor:"7,keyasint"`
	Checksum  uint8     `cbor:"8,keyasint"`
	Error     string    `cbor:"9,keyasint,omitempty"`
}

func (r Record) String() string {
	name := r.Register
	if name == "" {
		name = fmt.Sprintf("0x%02x", r.Address)
	}
	s := fmt.Sprintf("#%d %s %-5s %-14s 0x%04x", r.Seq, r.Time.Format("15:04:05.000"),
		protocol.Direction(r.Direction), name, r.Data)
	if r.Error != "" {
		s += " error: " + r.Error
	}
	return s
}

// Recorder is a protocol.Observer that encodes every exchange to w. It
// is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	w       io.Writer
	encoder *cbor.Encoder
	session uuid.UUID
	seq     uint64
	err     error
	closed  bool
}

// NewRecorder starts a new trace session on w.
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{
		w:       w,
		encoder: encMode.NewEncoder(w),
		session: uuid.New(),
	}
}

// Session returns the session identifier stamped on every record.
func (r *Recorder) Session() uuid.UUID {
	return r.session
}

// Observe implements protocol.Observer. Encoding errors are kept and
// reported by Err; tracing never disturbs the link.
func (r *Recorder) Observe(x protocol.Exchange) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.err != nil {
		return
	}
	r.seq++
	rec := Record{
		Session:   r.session.String(),
		Seq:       r.seq,
		Time:      x.Time,
		Direction: uint8(x.Direction),
		Address:   x.Address,
		Register:  protocol.RegisterName(x.Address),
		Data:      x.Data,
		Checksum:  x.Checksum,
	}
	if x.Err != nil {
		rec.Error = x.Err.Error()
	}
	r.err = r.encoder.Encode(rec)
}

// Count returns the number of records written.
func (r *Recorder) Count() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// Err returns the first encoding error.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close stops recording and closes w when it is an io.Closer. It is safe
// to call Close multiple times.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if c, ok := r.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

var _ protocol.Observer = (*Recorder)(nil)

// Reader decodes a trace stream.
type Reader struct {
	decoder *cbor.Decoder
}

// NewReader reads records from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{decoder: decMode.NewDecoder(r)}
}

// Next returns the next record or io.EOF.
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.decoder.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, err
	}
	return rec, nil
}

// ReadAll decodes every record in r.
func ReadAll(r io.Reader) ([]Record, error) {
	rd := NewReader(r)
	var out []Record
	for {
		rec, err := rd.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
