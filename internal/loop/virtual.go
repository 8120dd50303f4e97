package loop

import (
	"adslots/internal/ports"
	"container/heap"
	"time"
)

// Epoch is where virtual time starts.
var Epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// Virtual is a deterministic Scheduler driven by Advance. Posted tasks run immediately unless a
// task is already running, in which case they run right after it. Timers fire in deadline
// order, ties broken by scheduling order. Virtual is not safe for concurrent use.
type Virtual struct {
	now     time.Time
	seq     uint64
	timers  timerHeap
	queue   []func()
	running bool
}

func NewVirtual() *Virtual {
	return &Virtual{now: Epoch}
}

func (v *Virtual) Post(fn func()) {
	v.queue = append(v.queue, fn)
	v.drain()
}

func (v *Virtual) drain() {
	if v.running {
		return
	}
	v.running = true
	defer func() { v.running = false }()
	for len(v.queue) > 0 {
		fn := v.queue[0]
		v.queue[0] = nil
		v.queue = v.queue[1:]
		fn()
	}
}

func (v *Virtual) AfterFunc(d time.Duration, fn func()) ports.Timer {
	if d < 0 {
		d = 0
	}
	v.seq++
	t := &virtualTimer{v: v, when: v.now.Add(d), seq: v.seq, fn: fn, index: -1}
	heap.Push(&v.timers, t)
	return t
}

func (v *Virtual) Now() time.Time {
	return v.now
}

// Elapsed is the virtual time since Epoch.
func (v *Virtual) Elapsed() time.Duration {
	return v.now.Sub(Epoch)
}

// Advance moves the clock forward by d, firing every timer that becomes due on the way.
func (v *Virtual) Advance(d time.Duration) {
	v.AdvanceTo(v.now.Add(d))
}

// AdvanceTo moves the clock to target, which must not be in the past.
func (v *Virtual) AdvanceTo(target time.Time) {
	for len(v.timers) > 0 && !v.timers[0].when.After(target) {
		t := heap.Pop(&v.timers).(*virtualTimer)
		v.now = t.when
		v.Post(t.fn)
	}
	if target.After(v.now) {
		v.now = target
	}
}

// Pending is the number of timers not yet fired or stopped.
func (v *Virtual) Pending() int {
	return len(v.timers)
}

type virtualTimer struct {
	v     *Virtual
	when  time.Time
	seq   uint64
	fn    func()
	index int
}

func (t *virtualTimer) Stop() bool {
	if t.index < 0 {
		return false
	}
	heap.Remove(&t.v.timers, t.index)
	return true
}

type timerHeap []*virtualTimer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*virtualTimer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
