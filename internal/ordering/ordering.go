// Package ordering serializes task eligibility per routing key. It gates
// eligibility only; the slot pool separately bounds how many eligible tasks
// execute.
package ordering

import (
	"sync"

	"dispatchd/internal/metrics"
)

var granted = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

type keyState struct {
	active  bool
	waiters []chan struct{}
}

// Queue maintains per-key FIFO turn-taking for routing keys in single-queue
// mode. All mutations are short critical sections under one mutex.
type Queue struct {
	mu   sync.Mutex
	keys map[string]*keyState
}

// NewQueue creates an empty ordering queue.
func NewQueue() *Queue {
	return &Queue{keys: make(map[string]*keyState)}
}

// Enter registers a task for its routing key and returns a channel that is
// closed when the task becomes eligible for slot acquisition. Tasks outside
// single-queue mode are eligible immediately. Within a key, grants follow
// submission order.
func (q *Queue) Enter(key string, single bool) <-chan struct{} {
	if !single {
		return granted
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	st, ok := q.keys[key]
	if !ok {
		st = &keyState{}
		q.keys[key] = st
	}

	if !st.active && len(st.waiters) == 0 {
		st.active = true
		return granted
	}

	ch := make(chan struct{})
	st.waiters = append(st.waiters, ch)
	metrics.OrderedWaiting.Inc()
	return ch
}

// Leave signals completion of the key's current task and grants the turn to
// the next waiter, if any. Must be called exactly once per granted Enter.
func (q *Queue) Leave(key string, single bool) {
	if !single {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	st, ok := q.keys[key]
	if !ok {
		return
	}

	if len(st.waiters) > 0 {
		next := st.waiters[0]
		st.waiters = st.waiters[1:]
		metrics.OrderedWaiting.Dec()
		close(next)
		return
	}

	delete(q.keys, key)
}

// Depth returns the number of tasks waiting behind the key's current task.
func (q *Queue) Depth(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if st, ok := q.keys[key]; ok {
		return len(st.waiters)
	}
	return 0
}

// Depths returns waiter counts for every key with pending work.
func (q *Queue) Depths() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[string]int, len(q.keys))
	for key, st := range q.keys {
		out[key] = len(st.waiters)
	}
	return out
}
