package loop

import (
	"adslots/internal/ports"
	"time"
)

// Policy decides what happens when a Task is scheduled while a previous run is still waiting.
type Policy int

const (
	// Restart cancels the waiting run and starts a fresh wait (debounce).
	Restart Policy = iota
	// Drop ignores the new request and lets the waiting run finish.
	Drop
)

var PolicyText = map[Policy]string{
	Restart: "restart",
	Drop:    "drop",
}

// Task is a cancellable delayed callback with a collision policy. It MUST only be used from
// tasks running on its Scheduler. Each schedule bumps a generation number and the callback
// checks it, so a timer that fires after Cancel or a restart does nothing.
type Task struct {
	sched   ports.Scheduler
	policy  Policy
	timer   ports.Timer
	gen     uint64
	pending bool
}

func NewTask(s ports.Scheduler, p Policy) *Task {
	return &Task{sched: s, policy: p}
}

// Schedule runs fn after d. It returns false when the request was dropped by the Drop policy.
func (t *Task) Schedule(d time.Duration, fn func()) bool {
	if t.pending {
		if t.policy == Drop {
			return false
		}
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.pending = true
	t.timer = t.sched.AfterFunc(d, func() {
		if !t.pending || gen != t.gen {
			return
		}
		t.pending = false
		fn()
	})
	return true
}

// Cancel stops the waiting run, if any.
func (t *Task) Cancel() {
	if !t.pending {
		return
	}
	t.timer.Stop()
	t.pending = false
	t.gen++
}

func (t *Task) Pending() bool {
	return t.pending
}
