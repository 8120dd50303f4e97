package gpt

import (
	"adslots/internal/ports"
	"adslots/internal/types"
	"sort"
	"sync"
)

const (
	OpDefineSlot          = "define_slot"
	OpAddService          = "add_service"
	OpSetTargeting        = "set_targeting"
	OpEnableSingleRequest = "enable_single_request"
	OpEnableServices      = "enable_services"
	OpDisplay             = "display"
	OpRefresh             = "refresh"
	OpDestroySlots        = "destroy_slots"
)

// Call is one successful ad service call as seen by the Recorder.
type Call struct {
	Seq        int               `json:"seq"`
	Op         string            `json:"op"`
	ElementID  string            `json:"element_id,omitempty"`
	AdUnitPath string            `json:"ad_unit_path,omitempty"`
	Size       *[2]int           `json:"size,omitempty"`
	Targeting  map[string]string `json:"targeting,omitempty"`
}

type slot struct {
	path      string
	elementID string
	targeting map[string]string
	attached  bool
}

func (s *slot) AdUnitPath() string { return s.path }
func (s *slot) ElementID() string  { return s.elementID }

// Recorder is an in-process AdService that records what it is asked to do. It enforces the
// few rules the real client enforces silently: slots are defined once per element, services
// must be enabled before display, and only defined slots can be displayed or refreshed.
// FailWhen, if set, is consulted before every call; a non-nil error fails that call.
type Recorder struct {
	mu       sync.Mutex
	calls    []Call
	slots    map[string]*slot
	enabled  bool
	FailWhen func(op, elementID string) error
}

var _ ports.AdService = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{slots: make(map[string]*slot)}
}

func (r *Recorder) DefineSlot(adUnitPath string, size [2]int, elementID string) (ports.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(OpDefineSlot, elementID); err != nil {
		return nil, err
	}
	if _, ok := r.slots[elementID]; ok {
		return nil, types.Err(types.ErrAdService, types.ErrDuplicateElement, "slot for %q already defined", elementID)
	}
	s := &slot{path: adUnitPath, elementID: elementID, targeting: map[string]string{}}
	r.slots[elementID] = s
	sz := size
	r.record(Call{Op: OpDefineSlot, ElementID: elementID, AdUnitPath: adUnitPath, Size: &sz})
	return s, nil
}

func (r *Recorder) AddService(s ports.Slot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	own, err := r.lookup(OpAddService, s)
	if err != nil {
		return err
	}
	own.attached = true
	r.record(Call{Op: OpAddService, ElementID: own.elementID})
	return nil
}

func (r *Recorder) SetTargeting(s ports.Slot, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	own, err := r.lookup(OpSetTargeting, s)
	if err != nil {
		return err
	}
	own.targeting[key] = value
	r.record(Call{Op: OpSetTargeting, ElementID: own.elementID, Targeting: map[string]string{key: value}})
	return nil
}

func (r *Recorder) EnableSingleRequest() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(OpEnableSingleRequest, ""); err != nil {
		return err
	}
	r.record(Call{Op: OpEnableSingleRequest})
	return nil
}

func (r *Recorder) EnableServices() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(OpEnableServices, ""); err != nil {
		return err
	}
	r.enabled = true
	r.record(Call{Op: OpEnableServices})
	return nil
}

func (r *Recorder) Display(elementID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(OpDisplay, elementID); err != nil {
		return err
	}
	if !r.enabled {
		return types.Err(types.ErrAdService, types.ErrServicesDisabled, "display %q", elementID)
	}
	if _, ok := r.slots[elementID]; !ok {
		return types.Err(types.ErrAdService, types.ErrSlotNotDefined, "display %q", elementID)
	}
	r.record(Call{Op: OpDisplay, ElementID: elementID})
	return nil
}

func (r *Recorder) Refresh(slots []ports.Slot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	owned := make([]*slot, 0, len(slots))
	for _, s := range slots {
		own, err := r.lookup(OpRefresh, s)
		if err != nil {
			return err
		}
		owned = append(owned, own)
	}
	for _, own := range owned {
		r.record(Call{Op: OpRefresh, ElementID: own.elementID, Targeting: copyTargeting(own.targeting)})
	}
	return nil
}

// DestroySlots forgets the given slots. A stale handle whose element id has since been
// defined again is rejected.
func (r *Recorder) DestroySlots(slots []ports.Slot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	owned := make([]*slot, 0, len(slots))
	for _, s := range slots {
		own, err := r.lookup(OpDestroySlots, s)
		if err != nil {
			return err
		}
		if ports.Slot(own) != s {
			return types.Err(types.ErrAdService, types.ErrSlotNotDefined, "%s %q: stale slot", OpDestroySlots, own.elementID)
		}
		owned = append(owned, own)
	}
	for _, own := range owned {
		delete(r.slots, own.elementID)
		r.record(Call{Op: OpDestroySlots, ElementID: own.elementID})
	}
	return nil
}

// Calls returns a copy of every recorded call, in order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// ElementIDs returns the element ids of the recorded calls of one op, in order.
func (r *Recorder) ElementIDs(op string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.calls {
		if c.Op == op {
			out = append(out, c.ElementID)
		}
	}
	return out
}

// Count returns how many times op was recorded, optionally for one element id only.
func (r *Recorder) Count(op, elementID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Op == op && (elementID == "" || c.ElementID == elementID) {
			n++
		}
	}
	return n
}

// Defined lists the element ids with a defined slot, sorted.
func (r *Recorder) Defined() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.slots))
	for id := range r.slots {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Recorder) check(op, elementID string) error {
	if r.FailWhen == nil {
		return nil
	}
	if err := r.FailWhen(op, elementID); err != nil {
		return types.Err(types.ErrAdService, err, "%s %q", op, elementID)
	}
	return nil
}

func (r *Recorder) lookup(op string, s ports.Slot) (*slot, error) {
	if s == nil {
		return nil, types.Err(types.ErrAdService, types.ErrSlotNotDefined, "%s: nil slot", op)
	}
	if err := r.check(op, s.ElementID()); err != nil {
		return nil, err
	}
	own, ok := r.slots[s.ElementID()]
	if !ok {
		return nil, types.Err(types.ErrAdService, types.ErrSlotNotDefined, "%s %q", op, s.ElementID())
	}
	return own, nil
}

func (r *Recorder) record(c Call) {
	c.Seq = len(r.calls) + 1
	r.calls = append(r.calls, c)
}

func copyTargeting(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
