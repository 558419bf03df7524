package audio

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Queue is the bounded handoff between a real-time capture callback and the
// pipeline consumer. Push never blocks: when the queue is full, the oldest
// queued frame is dropped to make room and the overrun is counted. Blocking
// the capture callback would cause device-level dropouts, so losing the
// oldest audio under sustained backpressure is the accepted degradation.
//
// Queue assumes a single producer (the capture callback) and a single
// consumer. Push must not be called after Close.
type Queue struct {
	frames  chan Frame
	dropped atomic.Uint64

	closeOnce sync.Once
	warnOnce  sync.Once
}

// NewQueue creates a queue holding at most capacity frames. capacity must be
// at least 1; smaller values are raised to 1.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{frames: make(chan Frame, capacity)}
}

// Push enqueues a frame without ever blocking. If the queue is full, the
// oldest queued frame is discarded first. The first overrun is logged; all
// overruns are counted and visible via [Queue.Dropped].
func (q *Queue) Push(f Frame) {
	select {
	case q.frames <- f:
		return
	default:
	}

	// Full: evict the oldest frame, then retry. With a single producer the
	// retry can only fail if the consumer emptied the slot first, in which
	// case the send succeeds anyway.
	select {
	case <-q.frames:
		q.dropped.Add(1)
		q.warnOnce.Do(func() {
			slog.Warn("audio queue overrun: dropping oldest frames",
				"capacity", cap(q.frames),
			)
		})
	default:
	}
	q.frames <- f
}

// Frames returns the consumer side of the queue. The channel is closed by
// [Queue.Close].
func (q *Queue) Frames() <-chan Frame {
	return q.frames
}

// Dropped returns the total number of frames discarded due to overruns.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Close signals end-of-stream to the consumer. Frames already queued remain
// readable. Safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.frames)
	})
}
