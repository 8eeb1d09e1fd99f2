package protocol

import "sync/atomic"

// CommandQueue is a fixed-capacity circular buffer of packed write frames
// with exactly one producer (the receive handler) and one consumer (the
// supervisor). Full is tracked explicitly since head == tail is also the
// empty condition.
type CommandQueue struct {
	buf  [QueueCapacity]uint32
	head atomic.Uint32 // next write slot, producer owned
	tail atomic.Uint32 // next read slot, consumer owned
	full atomic.Bool

	dropped atomic.Uint32
}

// NewCommandQueue creates an empty queue.
func NewCommandQueue() *CommandQueue {
	return &CommandQueue{}
}

// Push appends a frame. It returns false and drops the frame when full.
func (q *CommandQueue) Push(f Frame) bool {
	if q.full.Load() {
		q.dropped.Add(1)
		return false
	}
	head := q.head.Load()
	q.buf[head] = f.Pack()
	head = (head + 1) % QueueCapacity
	q.head.Store(head)
	if head == q.tail.Load() {
		q.full.Store(true)
	}
	return true
}

// Pop removes the oldest frame.
func (q *CommandQueue) Pop() (Frame, bool) {
	tail := q.tail.Load()
	wasFull := q.full.Load()
	if tail == q.head.Load() && !wasFull {
		return Frame{}, false
	}
	w := q.buf[tail]
	q.tail.Store((tail + 1) % QueueCapacity)
	// Only clear a full flag observed before the slot was freed; a flag set
	// by the producer after the tail moved is genuine.
	if wasFull {
		q.full.Store(false)
	}
	return UnpackFrame(w), true
}

// HasData returns true if at least one frame is waiting.
func (q *CommandQueue) HasData() bool {
	return q.head.Load() != q.tail.Load() || q.full.Load()
}

// Len returns the number of queued frames.
func (q *CommandQueue) Len() int {
	if q.full.Load() {
		return QueueCapacity
	}
	head, tail := q.head.Load(), q.tail.Load()
	if head >= tail {
		return int(head - tail)
	}
	return int(QueueCapacity - tail + head)
}

// IsFull reports whether the next Push would be dropped.
func (q *CommandQueue) IsFull() bool {
	return q.full.Load()
}

// Dropped returns the number of frames rejected because the queue was full.
func (q *CommandQueue) Dropped() uint32 {
	return q.dropped.Load()
}

// Reset empties the queue. Only safe while the producer is idle.
func (q *CommandQueue) Reset() {
	q.tail.Store(q.head.Load())
	q.full.Store(false)
}
