// Package lockq provides a per-key FIFO lock used to serialize edits
// on a single document while edits to other documents proceed freely.
package lockq

import (
	"errors"
	"sync"
)

// ErrCancelled is returned from Acquire when the queue is torn down
// while the caller is still waiting.
var ErrCancelled = errors.New("lockq: acquire cancelled")

// Queue hands out at most one Handle per key at a time. Waiters are
// granted in acquisition order. There is no acquire timeout: a caller
// that never releases blocks its key forever, so callers must pair
// every Acquire with a deferred Release.
type Queue struct {
	mu      sync.Mutex
	waiters map[string][]*Handle
}

// Handle represents a granted or pending spot in a key's queue.
type Handle struct {
	key      string
	q        *Queue
	ready    chan error
	released bool
}

func New() *Queue {
	return &Queue{waiters: make(map[string][]*Handle)}
}

// Acquire blocks until the caller owns key, then returns the handle
// that releases it. The only error is ErrCancelled from ClearAll.
func (q *Queue) Acquire(key string) (*Handle, error) {
	h := &Handle{key: key, q: q, ready: make(chan error, 1)}

	q.mu.Lock()
	q.waiters[key] = append(q.waiters[key], h)
	if len(q.waiters[key]) == 1 {
		h.ready <- nil
	}
	q.mu.Unlock()

	if err := <-h.ready; err != nil {
		return nil, err
	}
	return h, nil
}

// Release gives up ownership of the key and grants the next waiter in
// FIFO order, if any. Releasing twice is a no-op.
func (h *Handle) Release() {
	q := h.q
	q.mu.Lock()
	defer q.mu.Unlock()

	if h.released {
		return
	}
	h.released = true

	line := q.waiters[h.key]
	if len(line) == 0 || line[0] != h {
		// Not the holder; nothing to hand over.
		return
	}
	line = line[1:]
	if len(line) == 0 {
		delete(q.waiters, h.key)
		return
	}
	q.waiters[h.key] = line
	line[0].ready <- nil
}

// ClearAll rejects every waiter that has not been granted yet with
// ErrCancelled. Current holders keep their handles. Used for shutdown
// and test reset only.
func (q *Queue) ClearAll() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for key, line := range q.waiters {
		for _, w := range line[1:] {
			w.ready <- ErrCancelled
		}
		q.waiters[key] = line[:1]
	}
}
