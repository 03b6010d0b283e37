// Package pool manages the fixed set of named execution slots. The slot
// count is the system's admission control: each slot is backed by an
// expensive dev container, so the bound is deliberately coarse.
package pool

import (
	"container/list"
	"context"
	"sync"
	"time"

	"dispatchd/internal/metrics"
)

// SlotState is the occupancy of a slot.
type SlotState string

const (
	StateIdle SlotState = "idle"
	StateBusy SlotState = "busy"
)

// Slot is a named execution unit backing at most one concurrent task.
type Slot struct {
	Name           string
	state          SlotState
	currentTaskID  string
	lastReleasedAt time.Time
}

// SlotStatus is a point-in-time snapshot of a slot, exposed to status
// endpoints.
type SlotStatus struct {
	Name           string    `json:"name"`
	State          SlotState `json:"state"`
	CurrentTaskID  string    `json:"current_task_id,omitempty"`
	LastReleasedAt time.Time `json:"last_released_at,omitempty"`
}

type waiter struct {
	taskID string
	ready  chan *Slot // buffered, capacity 1
}

// Pool owns slot allocation and release. Waiting acquires are served in
// FIFO order. The slot name set is immutable for the process lifetime.
type Pool struct {
	mu      sync.Mutex
	slots   map[string]*Slot
	idle    []*Slot
	waiters *list.List
}

// New creates a pool with the given slot names.
func New(names []string) *Pool {
	p := &Pool{
		slots:   make(map[string]*Slot, len(names)),
		waiters: list.New(),
	}
	for _, name := range names {
		s := &Slot{Name: name, state: StateIdle}
		p.slots[name] = s
		p.idle = append(p.idle, s)
	}
	return p
}

// Size returns the fixed slot count.
func (p *Pool) Size() int {
	return len(p.slots)
}

// Acquire blocks until a slot transitions Idle to Busy for the given task,
// or until ctx is done. Waiters are served in arrival order.
func (p *Pool) Acquire(ctx context.Context, taskID string) (*Slot, error) {
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		s := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.markBusyLocked(s, taskID)
		p.mu.Unlock()
		return s, nil
	}

	w := &waiter{taskID: taskID, ready: make(chan *Slot, 1)}
	elem := p.waiters.PushBack(w)
	p.mu.Unlock()

	select {
	case s := <-w.ready:
		return s, nil
	case <-ctx.Done():
		p.mu.Lock()
		p.waiters.Remove(elem)
		p.mu.Unlock()
		// A release may have handed us a slot before we left the queue.
		select {
		case s := <-w.ready:
			p.Release(s)
		default:
		}
		return nil, ctx.Err()
	}
}

// Release returns a slot to the pool, unconditionally. If anyone is waiting
// the slot is handed over directly, staying Busy under the new task.
func (p *Pool) Release(s *Slot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.state == StateBusy {
		metrics.BusySlots.Dec()
	}
	s.state = StateIdle
	s.currentTaskID = ""
	s.lastReleasedAt = time.Now().UTC()

	if elem := p.waiters.Front(); elem != nil {
		p.waiters.Remove(elem)
		w := elem.Value.(*waiter)
		p.markBusyLocked(s, w.taskID)
		w.ready <- s
		return
	}

	p.idle = append(p.idle, s)
}

func (p *Pool) markBusyLocked(s *Slot, taskID string) {
	s.state = StateBusy
	s.currentTaskID = taskID
	metrics.BusySlots.Inc()
}

// Busy returns the number of slots currently executing a task.
func (p *Pool) Busy() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, s := range p.slots {
		if s.state == StateBusy {
			n++
		}
	}
	return n
}

// Status returns a snapshot of every slot.
func (p *Pool) Status() []SlotStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]SlotStatus, 0, len(p.slots))
	for _, s := range p.slots {
		out = append(out, SlotStatus{
			Name:           s.Name,
			State:          s.state,
			CurrentTaskID:  s.currentTaskID,
			LastReleasedAt: s.lastReleasedAt,
		})
	}
	return out
}
