package connection

import "github.com/arkmoor/arkmoor/internal/broker"

// pendingQueue buffers envelopes for a player in grace period. The queue is
// bounded: overflow discards the OLDEST entry so the final message a
// returning player sees is as fresh as possible.
type pendingQueue struct {
	capacity int
	items    []broker.Envelope
	dropped  int64
}

func newPendingQueue(capacity int) *pendingQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &pendingQueue{capacity: capacity}
}

// push appends env, evicting the oldest entry when full. Returns true when
// an entry was dropped.
func (q *pendingQueue) push(env broker.Envelope) bool {
	if len(q.items) < q.capacity {
		q.items = append(q.items, env)
		return false
	}
	copy(q.items, q.items[1:])
	q.items[len(q.items)-1] = env
	q.dropped++
	return true
}

// drain returns every queued envelope in order and empties the queue.
func (q *pendingQueue) drain() []broker.Envelope {
	items := q.items
	q.items = nil
	return items
}
