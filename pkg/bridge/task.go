package bridge

import (
	"sync"
	"time"
)

// Task is a cancellable delayed action. At most one action is pending; a new
// Schedule replaces it and restarts the delay.
//
// Once Cancel or Flush returns, the replaced action is guaranteed never to
// start from the timer.
type Task struct {
	mu      sync.Mutex
	timer   *time.Timer
	pending func()
	gen     uint64
}

// NewTask creates an idle task.
func NewTask() *Task {
	return &Task{}
}

// Schedule arranges for fn to run after delay, superseding any pending action.
// A delay of zero or less runs fn synchronously.
func (t *Task) Schedule(delay time.Duration, fn func()) {
	if delay <= 0 {
		t.Cancel()
		fn()
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.pending = fn
	gen := t.gen
	t.timer = time.AfterFunc(delay, func() { t.fire(gen) })
}

func (t *Task) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.pending == nil {
		t.mu.Unlock()
		return
	}
	fn := t.pending
	t.pending = nil
	t.timer = nil
	t.gen++
	t.mu.Unlock()

	fn()
}

// stopLocked invalidates the current timer. Caller must hold t.mu.
func (t *Task) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pending = nil
	t.gen++
}

// Cancel drops the pending action without running it.
func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

// Flush runs the pending action immediately, if there is one. It reports
// whether an action ran.
func (t *Task) Flush() bool {
	t.mu.Lock()
	fn := t.pending
	t.stopLocked()
	t.mu.Unlock()

	if fn == nil {
		return false
	}
	fn()
	return true
}

// Pending reports whether an action is waiting for its delay to elapse.
func (t *Task) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}
