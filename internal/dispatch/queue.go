package dispatch

import "sync"

// SessionQueue holds the pending requests of one session. The lock flag
// marks that a worker is draining it.
type SessionQueue struct {
	sessionID string
	pending   []*job
	mu        sync.Mutex
	locked    bool
}

func NewSessionQueue(sessionID string) *SessionQueue {
	return &SessionQueue{sessionID: sessionID}
}

func (q *SessionQueue) Enqueue(j *job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, j)
}

func (q *SessionQueue) Dequeue() (*job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil, false
	}

	j := q.pending[0]
	q.pending = q.pending[1:]
	return j, true
}

func (q *SessionQueue) TryLock() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.locked {
		return false
	}
	q.locked = true
	return true
}

// UnlockIfEmpty releases the worker flag unless requests arrived after the
// last Dequeue, in which case the caller keeps draining.
func (q *SessionQueue) UnlockIfEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) > 0 {
		return false
	}
	q.locked = false
	return true
}

// Idle reports whether no worker holds the queue and nothing is pending.
func (q *SessionQueue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.locked && len(q.pending) == 0
}

func (q *SessionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
