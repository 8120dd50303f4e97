// Package adqueue batches slot definition and display calls of every ad unit on a page.
//
// Units register when they are due for their first impression. Each registration defines the
// unit's slot right away (through the ordered command queue) and (re)starts a short debounce;
// once registrations stop arriving for the batch delay, every pending element id is displayed
// in registration order. The ad service expects slots to be defined before services are
// enabled and much prefers one burst of display calls over one round-trip per unit.
package adqueue

import (
	"adslots/internal/loop"
	"adslots/internal/metrics"
	"adslots/internal/ports"
	"adslots/internal/targeting"
	"adslots/internal/types"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Registrant is what the queue needs from an ad unit.
type Registrant interface {
	AdID() string
	Placement() string
	ElementID() string
	Size() [2]int
	TargetingContext() types.TargetingContext
	Targeting() types.TargetingFunc
	// AttachSlot hands the defined slot back to the unit. It runs from a command.
	AttachSlot(slot ports.Slot)
	Tracing() bool
	// Destroyed units get neither a slot nor a display.
	Destroyed() bool
}

type Queue struct {
	sched    ports.Scheduler
	cmds     ports.CommandQueue
	delay    time.Duration
	flush    *loop.Task
	pending  []Registrant
	index    map[string]struct{}
	ready    bool
	tracing  bool
	metrics  *metrics.Metrics
	recorder ports.ImpressionRecorder
}

type Option func(q *Queue)

// WithBatchDelay sets the debounce window. Default types.DefaultBatchDelay.
func WithBatchDelay(d time.Duration) Option {
	return func(q *Queue) { q.delay = d }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithRecorder reports a display impression for every display command issued.
func WithRecorder(r ports.ImpressionRecorder) Option {
	return func(q *Queue) { q.recorder = r }
}

func WithTracing(on bool) Option {
	return func(q *Queue) { q.tracing = on }
}

func New(s ports.Scheduler, cmds ports.CommandQueue, opts ...Option) *Queue {
	q := &Queue{
		sched: s,
		cmds:  cmds,
		delay: types.DefaultBatchDelay,
		index: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	q.flush = loop.NewTask(s, loop.Restart)
	return q
}

// Initialize enqueues the one-time handshake: batched requests, then services. It is
// idempotent. Since it only enqueues, ordering against slot definitions is guaranteed by the
// command queue and nothing blocks.
func (q *Queue) Initialize() {
	if q.ready {
		return
	}
	q.ready = true
	q.cmds.Push("enable_single_request", func(svc ports.AdService) error {
		q.trace(nil, "enableSingleRequest")
		return svc.EnableSingleRequest()
	})
	q.cmds.Push("enable_services", func(svc ports.AdService) error {
		q.trace(nil, "enableServices")
		return svc.EnableServices()
	})
}

// Register defines r's slot and adds it to the pending display batch. Registering an element
// id that is already pending does nothing.
func (q *Queue) Register(r Registrant) {
	q.Initialize()
	if r.Tracing() {
		q.tracing = true
	}
	elementID := r.ElementID()
	if _, ok := q.index[elementID]; ok {
		q.trace(log.Fields{"elementId": elementID}, "already pending, skipping")
		return
	}
	q.trace(log.Fields{"adId": r.AdID(), "elementId": elementID}, "adding")
	q.index[elementID] = struct{}{}
	q.pending = append(q.pending, r)

	q.cmds.Push("define_slot", func(svc ports.AdService) error {
		if r.Destroyed() {
			q.trace(log.Fields{"elementId": elementID}, "destroyed before definition, skipping")
			return nil
		}
		size := r.Size()
		q.trace(log.Fields{"adId": r.AdID(), "elementId": elementID}, fmt.Sprintf("defining slot @ %dx%d", size[0], size[1]))
		slot, err := svc.DefineSlot(r.AdID(), size, elementID)
		if err != nil {
			return fmt.Errorf("define slot %q: %w", elementID, err)
		}
		if err := svc.AddService(slot); err != nil {
			return fmt.Errorf("add service %q: %w", elementID, err)
		}
		r.AttachSlot(slot)
		for _, kv := range targeting.Pairs(r.Targeting(), r.TargetingContext()) {
			if err := svc.SetTargeting(slot, kv[0], kv[1]); err != nil {
				return fmt.Errorf("set targeting %q on %q: %w", kv[0], elementID, err)
			}
		}
		return nil
	})

	q.flush.Schedule(q.delay, q.displayAll)
}

// Unregister drops r from the pending batch, so that another unit can register under the same
// element id before the next flush. It does nothing when r is not the pending registrant.
func (q *Queue) Unregister(r Registrant) {
	elementID := r.ElementID()
	if _, ok := q.index[elementID]; !ok {
		return
	}
	for i, p := range q.pending {
		if p != r {
			continue
		}
		q.pending = append(q.pending[:i:i], q.pending[i+1:]...)
		delete(q.index, elementID)
		q.trace(log.Fields{"elementId": elementID}, "removed from batch")
		return
	}
}

// displayAll drains the pending set and issues one display command per element id, each in
// its own command so one failure does not cost the rest of the batch.
func (q *Queue) displayAll() {
	batch := make([]Registrant, 0, len(q.pending))
	for _, r := range q.pending {
		if !r.Destroyed() {
			batch = append(batch, r)
		}
	}
	q.pending = nil
	q.index = make(map[string]struct{})
	if len(batch) == 0 {
		return
	}
	q.metrics.Batch(len(batch))
	q.trace(log.Fields{"count": len(batch)}, "displaying batch")

	for _, r := range batch {
		elementID := r.ElementID()
		q.cmds.Push("display", func(svc ports.AdService) error {
			if r.Destroyed() {
				return nil
			}
			q.trace(log.Fields{"elementId": elementID}, "display")
			if err := svc.Display(elementID); err != nil {
				return fmt.Errorf("display %q: %w", elementID, err)
			}
			q.metrics.Impression(string(types.ImpressionDisplay))
			if q.recorder != nil {
				tc := r.TargetingContext()
				q.recorder.Record(types.Impression{
					Kind:         types.ImpressionDisplay,
					AdID:         r.AdID(),
					Placement:    r.Placement(),
					ElementID:    elementID,
					RefreshCount: tc.RefreshCount,
					At:           q.sched.Now(),
				})
			}
			return nil
		})
	}
}

// Pending returns the element ids waiting for the next flush, in registration order.
func (q *Queue) Pending() []string {
	out := make([]string, 0, len(q.pending))
	for _, r := range q.pending {
		out = append(out, r.ElementID())
	}
	return out
}

// FlushPending reports whether a flush is scheduled.
func (q *Queue) FlushPending() bool {
	return q.flush.Pending()
}

func (q *Queue) trace(fields log.Fields, msg string) {
	if !q.tracing {
		return
	}
	log.WithFields(fields).WithField("component", "ad-queue").Info(msg)
}
