package flowgate

import (
	"sync"
	"sync/atomic"
)

// admissionQueues holds the active/paused partition. Both queues are
// strict FIFO: the longest-paused flow is promoted first, the
// longest-active flow is demoted first.
//
// mu is the only lock in the package and guards exactly the two slices.
// activeLen/pausedLen mirror the slice lengths so the scheduler can peek
// without taking the mutex; they are updated only while mu is held.
type admissionQueues struct {
	mu     sync.Mutex
	active []int
	paused []int

	activeLen atomic.Int32
	pausedLen atomic.Int32
}

// admit places fd in the active queue if there is capacity, otherwise in
// the paused queue. Returns true if the flow starts active. onPause runs
// while the mutex is still held, so a rotation pass can never interleave
// between the admission decision and the initial throttle.
func (q *admissionQueues) admit(fd int, capacity int, onPause func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.active) < capacity {
		q.active = append(q.active, fd)
		q.syncLens()
		return true
	}
	q.paused = append(q.paused, fd)
	q.syncLens()
	onPause()
	return false
}

// syncLens refreshes the lock-free length mirrors. Callers must hold mu.
func (q *admissionQueues) syncLens() {
	q.activeLen.Store(int32(len(q.active)))
	q.pausedLen.Store(int32(len(q.paused)))
}

// snapshot copies both queues for inspection without exposing the
// underlying slices.
func (q *admissionQueues) snapshot() (active, paused []int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int(nil), q.active...), append([]int(nil), q.paused...)
}
