package core

import (
	"strconv"
	"sync"
)

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// Event captures a supervisor state change for post-mortem analysis
type Event struct {
	Type   EventType
	Clock  uint32 // Milliseconds at event
	Value1 uint32 // Context-dependent value
	Value2 uint32 // Context-dependent value
}

// EventType identifies what an Event records.
type EventType uint8

// Event type codes
const (
	EvtEnable       EventType = 1 // Load enabled, v1 = mode
	EvtDisable      EventType = 2 // Load disabled
	EvtFaultTrigger EventType = 3 // v1 = new bit, v2 = fault register
	EvtFaultClear   EventType = 4 // v1 = cleared bits, v2 = fault register
	EvtFaultMask    EventType = 5 // v1 = effective mask
	EvtModeChange   EventType = 6 // v1 = old mode, v2 = new mode
	EvtWatchdog     EventType = 7 // Watchdog expired
	EvtLinkError    EventType = 8 // v1 = address byte, v2 = link error count
	EvtReady        EventType = 9 // v1 = ready flag
)

var eventNames = map[EventType]string{
	EvtEnable:       "ENABLE",
	EvtDisable:      "DISABLE",
	EvtFaultTrigger: "FAULT",
	EvtFaultClear:   "FAULT_CLR",
	EvtFaultMask:    "MASK",
	EvtModeChange:   "MODE",
	EvtWatchdog:     "WATCHDOG!",
	EvtLinkError:    "LINK_ERR",
	EvtReady:        "READY",
}

func (t EventType) String() string {
	if n, ok := eventNames[t]; ok {
		return n
	}
	return "UNKNOWN"
}

const (
	EventRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	debugMu sync.Mutex
)

// SetDebugWriter sets the platform-specific debug output function
func SetDebugWriter(writer DebugWriter) {
	debugMu.Lock()
	defer debugMu.Unlock()
	if writer == nil {
		writer = func(string) {}
	}
	debugPrintln = writer
}

// DebugPrintln writes a debug message using the platform-specific writer
func DebugPrintln(msg string) {
	debugMu.Lock()
	w := debugPrintln
	debugMu.Unlock()
	w(msg)
}

// EventRing is a fixed-size ring of the most recent events.
type EventRing struct {
	mu   sync.Mutex
	ring [EventRingSize]Event
	head uint8 // Next write position
	n    uint8
}

// Record appends an event, overwriting the oldest when full.
func (r *EventRing) Record(t EventType, clock, v1, v2 uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ring[r.head] = Event{Type: t, Clock: clock, Value1: v1, Value2: v2}
	r.head = (r.head + 1) % EventRingSize
	if r.n < EventRingSize {
		r.n++
	}
}

// Events returns the recorded events from oldest to newest.
func (r *EventRing) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, r.n)
	start := (r.head + EventRingSize - r.n) % EventRingSize
	for i := uint8(0); i < r.n; i++ {
		out = append(out, r.ring[(start+i)%EventRingSize])
	}
	return out
}

// Clear drops all events.
func (r *EventRing) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ring = [EventRingSize]Event{}
	r.head = 0
	r.n = 0
}

// Dump writes the ring through the debug writer.
func (r *EventRing) Dump() {
	DebugPrintln("[EVENTS] === Event Ring Dump ===")
	for _, evt := range r.Events() {
		DebugPrintln("[EVENTS] " + evt.Type.String() +
			" clock=" + strconv.FormatUint(uint64(evt.Clock), 10) +
			" v1=0x" + strconv.FormatUint(uint64(evt.Value1), 16) +
			" v2=0x" + strconv.FormatUint(uint64(evt.Value2), 16))
	}
	DebugPrintln("[EVENTS] === End Dump ===")
}
