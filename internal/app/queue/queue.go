// Package queue provides the concurrency-safe track queue.
package queue

import (
	"math/rand"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/osahiro/groovebox/internal/domain/track"
)

var (
	ErrFull            = errors.New("queue is full")
	ErrIndexOutOfRange = errors.New("index out of range")
)

// Queue is an ordered FIFO collection of queued tracks. All mutating
// operations are serialized by a single mutex; reads are served from
// snapshots so display never blocks the consumer.
type Queue struct {
	mu      sync.Mutex
	items   []track.Queued
	maxSize int // 0 = unlimited

	// notify wakes the session loop after a push. Buffered with
	// capacity 1 so pushes never block on a busy loop.
	notify chan struct{}
}

// New creates a queue. maxSize of 0 means unlimited.
func New(maxSize int) *Queue {
	return &Queue{
		items:   make([]track.Queued, 0),
		maxSize: maxSize,
		notify:  make(chan struct{}, 1),
	}
}

// Wait returns the channel signaled after every successful push.
func (q *Queue) Wait() <-chan struct{} {
	return q.notify
}

// Push appends a track to the back of the queue.
func (q *Queue) Push(qt track.Queued) error {
	q.mu.Lock()
	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		q.mu.Unlock()
		return ErrFull
	}
	q.items = append(q.items, qt)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// PopFront removes and returns the first track. The second return
// value is false when the queue is empty.
func (q *Queue) PopFront() (track.Queued, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return track.Queued{}, false
	}
	qt := q.items[0]
	q.items = q.items[1:]
	return qt, true
}

// Peek returns a copy of up to count tracks starting at offset.
func (q *Queue) Peek(offset, count int) []track.Queued {
	q.mu.Lock()
	defer q.mu.Unlock()

	if offset < 0 || offset >= len(q.items) || count <= 0 {
		return []track.Queued{}
	}
	end := offset + count
	if end > len(q.items) {
		end = len(q.items)
	}
	result := make([]track.Queued, end-offset)
	copy(result, q.items[offset:end])
	return result
}

// Snapshot returns a copy of every queued track in order.
func (q *Queue) Snapshot() []track.Queued {
	q.mu.Lock()
	defer q.mu.Unlock()

	result := make([]track.Queued, len(q.items))
	copy(result, q.items)
	return result
}

// RemoveAt removes and returns the track at the 1-based index.
func (q *Queue) RemoveAt(index int) (track.Queued, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if index < 1 || index > len(q.items) {
		return track.Queued{}, errors.Wrapf(ErrIndexOutOfRange, "index %d, size %d", index, len(q.items))
	}
	i := index - 1
	qt := q.items[i]
	q.items = append(q.items[:i], q.items[i+1:]...)
	return qt, nil
}

// Move relocates the track at 1-based position from to position to.
// Moving a track onto its own position is a no-op.
func (q *Queue) Move(from, to int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if from < 1 || from > len(q.items) || to < 1 || to > len(q.items) {
		return errors.Wrapf(ErrIndexOutOfRange, "from %d, to %d, size %d", from, to, len(q.items))
	}
	if from == to {
		return nil
	}

	src, dst := from-1, to-1
	qt := q.items[src]
	q.items = append(q.items[:src], q.items[src+1:]...)
	q.items = append(q.items[:dst], append([]track.Queued{qt}, q.items[dst:]...)...)
	return nil
}

// Shuffle applies a uniform random permutation. No-op with fewer than
// two tracks.
func (q *Queue) Shuffle() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) < 2 {
		return
	}
	rand.Shuffle(len(q.items), func(i, j int) {
		q.items[i], q.items[j] = q.items[j], q.items[i]
	})
}

// Clear removes all tracks and returns how many were removed.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := len(q.items)
	q.items = q.items[:0]
	return removed
}

// Size returns the number of queued tracks.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsEmpty returns true if the queue holds no tracks.
func (q *Queue) IsEmpty() bool {
	return q.Size() == 0
}

// IsFull returns true if a configured capacity has been reached.
func (q *Queue) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxSize > 0 && len(q.items) >= q.maxSize
}
