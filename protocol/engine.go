package protocol

import "sync/atomic"

// EngineState is the position of the slave inside the current frame.
type EngineState uint8

const (
	StateAwaitingSync EngineState = iota
	StateReceivingAddress
	StateReceivingDataHigh
	StateReceivingDataLow
	StateReceivingChecksum
	StateTransmittingHigh
	StateTransmittingLow
	StateTransmittingChecksum
)

var engineStateNames = [...]string{
	"awaiting_sync",
	"receiving_address",
	"receiving_data_high",
	"receiving_data_low",
	"receiving_checksum",
	"transmitting_high",
	"transmitting_low",
	"transmitting_checksum",
}

func (s EngineState) String() string {
	if int(s) < len(engineStateNames) {
		return engineStateNames[s]
	}
	return "unknown"
}

// Engine is the slave side of the link. Receive and Transmit are the
// receive-not-empty and transmit-empty handlers of the serial peripheral;
// both run in the same interrupt domain and must never block.
type Engine struct {
	table *RegisterTable
	queue *CommandQueue

	state EngineState
	frame uint32 // frame being assembled or transmitted

	txEnabled atomic.Bool

	syncDiscards atomic.Uint32
	reads        atomic.Uint32
	writes       atomic.Uint32
}

// NewEngine creates an engine serving table and feeding queue.
func NewEngine(table *RegisterTable, queue *CommandQueue) *Engine {
	return &Engine{
		table: table,
		queue: queue,
		state: StateAwaitingSync,
	}
}

// Receive handles one byte from the master.
func (e *Engine) Receive(b byte) {
	switch e.state {
	case StateAwaitingSync:
		if b == SyncByte {
			e.state = StateReceivingAddress
		} else {
			e.syncDiscards.Add(1)
		}

	case StateReceivingAddress:
		e.frame = uint32(b) << 24
		if b&ReadBit != 0 {
			e.frame |= e.table.Word(b & AddressMask)
			e.state = StateTransmittingHigh
			e.txEnabled.Store(true)
		} else {
			e.state = StateReceivingDataHigh
		}

	case StateReceivingDataHigh:
		e.frame |= uint32(b) << 16
		e.state = StateReceivingDataLow

	case StateReceivingDataLow:
		e.frame |= uint32(b) << 8
		e.state = StateReceivingChecksum

	case StateReceivingChecksum:
		e.frame |= uint32(b)
		e.state = StateAwaitingSync
		e.writes.Add(1)
		// Checksum is validated by the consumer.
		e.queue.Push(UnpackFrame(e.frame))

	default:
		// Bytes clocked in while a reply is shifting out are dummies.
	}
}

// Transmit returns the next reply byte. ok is false when no reply is in
// progress, which corresponds to the transmit interrupt being disabled.
func (e *Engine) Transmit() (b byte, ok bool) {
	if !e.txEnabled.Load() {
		return 0, false
	}
	switch e.state {
	case StateTransmittingHigh:
		e.state = StateTransmittingLow
		return byte(e.frame >> 16), true

	case StateTransmittingLow:
		e.state = StateTransmittingChecksum
		return byte(e.frame >> 8), true

	case StateTransmittingChecksum:
		e.state = StateAwaitingSync
		e.txEnabled.Store(false)
		e.reads.Add(1)
		return byte(e.frame), true

	default:
		e.txEnabled.Store(false)
		return 0, false
	}
}

// TxEnabled reports whether a reply is being transmitted.
func (e *Engine) TxEnabled() bool {
	return e.txEnabled.Load()
}

// State returns the current frame state. Only meaningful from the
// interrupt domain or when the link is idle.
func (e *Engine) State() EngineState {
	return e.state
}

// Reset returns the engine to AwaitingSync and abandons any reply.
func (e *Engine) Reset() {
	e.state = StateAwaitingSync
	e.frame = 0
	e.txEnabled.Store(false)
}

// EngineStats counts link activity since start.
type EngineStats struct {
	SyncDiscards uint32
	Reads        uint32
	Writes       uint32
	Dropped      uint32
}

// Stats returns a snapshot of the link counters.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		SyncDiscards: e.syncDiscards.Load(),
		Reads:        e.reads.Load(),
		Writes:       e.writes.Load(),
		Dropped:      e.queue.Dropped(),
	}
}
