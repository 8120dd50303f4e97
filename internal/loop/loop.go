// Package loop provides the single-threaded executors the ad units and the ad queue run on.
//
// Everything that mutates unit or queue state (signal callbacks, timer expiries, ad service
// commands) is posted to one Scheduler and runs to completion before the next task starts,
// so no locks are needed on that state.
package loop

import (
	"adslots/internal/ports"
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultBacklog is the initial capacity of the run queue. The queue grows past it.
const DefaultBacklog = 256

// Loop runs posted tasks on a single goroutine. Timers are time.AfterFunc timers that post
// their callback back onto the loop.
// The run queue is unbounded, so a task may post any amount of work onto its own loop.
type Loop struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func New(backlog int) *Loop {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &Loop{
		queue: make([]func(), 0, backlog),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Run drains tasks until ctx is cancelled or Stop is called. This is a blocking call.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return
		case <-l.done:
			return
		case <-l.wake:
			l.drain()
		}
	}
}

// drain runs queued tasks in post order, including the ones they post, until the queue is
// empty or the loop is stopped.
func (l *Loop) drain() {
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			select {
			case <-l.done:
				return
			default:
			}
			l.run(fn)
		}
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("loop task panicked")
		}
	}()
	fn()
}

// Stop makes Run return. Tasks posted afterwards are discarded.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.done) })
}

// Post never blocks, also when called from a task running on the loop.
func (l *Loop) Post(fn func()) {
	select {
	case <-l.done:
		return
	default:
	}
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Queued returns the number of tasks waiting to run.
func (l *Loop) Queued() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *Loop) AfterFunc(d time.Duration, fn func()) ports.Timer {
	return time.AfterFunc(d, func() { l.Post(fn) })
}

func (l *Loop) Now() time.Time {
	return time.Now()
}

// Await runs fn on s and waits for it. It MUST NOT be called from a task already running on s.
func Await(s ports.Scheduler, fn func()) {
	done := make(chan struct{})
	s.Post(func() {
		defer close(done)
		fn()
	})
	<-done
}
