// Package buffer provides the pooled byte accumulator backing every
// Connection's receive and send buffer: append-only at the tail, consumed
// from the head, reused across keep-alive requests via bytebufferpool
// instead of reallocating on every reset.
package buffer

import (
	"github.com/valyala/bytebufferpool"
)

var pool bytebufferpool.Pool

// Queue is a byte accumulator owned by exactly one goroutine — the loop
// goroutine driving the Connection it belongs to. It carries no lock: the
// concurrency model guarantees a Connection's buffers are only ever touched
// from that single goroutine.
type Queue struct {
	buf  *bytebufferpool.ByteBuffer
	head int // bytes already consumed from buf.B
}

// New returns an empty Queue backed by a pooled buffer.
func New() *Queue {
	return &Queue{buf: pool.Get()}
}

// NewWithData returns a Queue pre-populated with data. The slice is copied
// into the pooled buffer; the caller's slice is not retained.
func NewWithData(data []byte) *Queue {
	q := New()
	q.Append(data)
	return q
}

// Append adds p to the tail of the queue.
func (q *Queue) Append(p []byte) {
	q.buf.B = append(q.buf.B, p...)
}

// Bytes returns the unconsumed portion of the queue: everything appended
// but not yet advanced past by Consume. The returned slice aliases the
// queue's internal storage and is only valid until the next Append, Consume,
// Compact, or Reset call.
func (q *Queue) Bytes() []byte {
	return q.buf.B[q.head:]
}

// Len returns the number of unconsumed bytes.
func (q *Queue) Len() int {
	return len(q.buf.B) - q.head
}

// Consume advances the head by n bytes, marking them as read. Compact
// should be called periodically (e.g. once per event-loop iteration) to
// reclaim the consumed prefix.
func (q *Queue) Consume(n int) {
	q.head += n
	if q.head > len(q.buf.B) {
		q.head = len(q.buf.B)
	}
}

// Compact drops the already-consumed prefix, shifting remaining bytes to
// the front of the backing array. Cheap no-op when nothing has been
// consumed yet or the queue is already empty.
func (q *Queue) Compact() {
	if q.head == 0 {
		return
	}
	if q.head >= len(q.buf.B) {
		q.buf.B = q.buf.B[:0]
		q.head = 0
		return
	}
	n := copy(q.buf.B, q.buf.B[q.head:])
	q.buf.B = q.buf.B[:n]
	q.head = 0
}

// Reset discards all data, keeping the pooled backing array for reuse.
// Call this when a Connection resets between keep-alive requests.
func (q *Queue) Reset() {
	q.buf.Reset()
	q.head = 0
}

// Close returns the backing buffer to the pool. The Queue must not be used
// afterward; call New again to get a fresh one.
func (q *Queue) Close() {
	if q.buf == nil {
		return
	}
	pool.Put(q.buf)
	q.buf = nil
	q.head = 0
}
