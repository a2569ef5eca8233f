package session

import (
	"errors"
	"sync"
)

var (
	ErrQueueClosed    = errors.New("send queue closed")
	ErrQueueSaturated = errors.New("send queue saturated")
)

// Frame is one outbound wire message. Droppable frames (cursor and
// timer traffic) are the first to go when a slow consumer backs the
// queue up; mutations are never dropped.
type Frame struct {
	Data      []byte
	Droppable bool
}

// sendQueue is a bounded FIFO between one engine (producer) and one
// write pump (consumer). It is the only structure in the room path
// touched by two goroutines.
type sendQueue struct {
	mu     sync.Mutex
	frames []Frame
	limit  int
	notify chan struct{}
	closed bool
}

func newSendQueue(limit int) *sendQueue {
	return &sendQueue{
		limit:  limit,
		notify: make(chan struct{}, 1),
	}
}

// push appends a frame, evicting the oldest droppable frame when the
// queue is full. A full queue with nothing droppable left means the
// consumer is wedged: ErrQueueSaturated tells the fabric to detach.
func (q *sendQueue) push(f Frame) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if len(q.frames) >= q.limit {
		dropped := false
		for i, queued := range q.frames {
			if queued.Droppable {
				q.frames = append(q.frames[:i], q.frames[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped {
			return ErrQueueSaturated
		}
	}
	q.frames = append(q.frames, f)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// pop removes and returns the head frame. ok is false when nothing is
// queued; frames pushed before close still drain after it.
func (q *sendQueue) pop() (Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return Frame{}, false
	}
	f := q.frames[0]
	q.frames = q.frames[1:]
	return f, true
}

// ready signals pushes and closure. It carries at most one pending
// token, so the consumer must pop until empty after each wakeup.
func (q *sendQueue) ready() <-chan struct{} {
	return q.notify
}

func (q *sendQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *sendQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *sendQueue) peek() (Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return Frame{}, false
	}
	return q.frames[0], true
}

func (q *sendQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}
