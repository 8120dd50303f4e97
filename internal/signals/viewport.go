package signals

import (
	"adslots/internal/ports"
	"adslots/internal/types"
)

type watch struct {
	opts    ports.ViewportOptions
	h       ports.ViewportHandler
	in      bool
	entered bool
}

// Viewport is a ports.ViewportWatcher whose intersections are reported with SetInViewport.
// Without spy mode a watch reports its first enter and nothing after it.
type Viewport struct {
	watches map[string]*watch
}

var _ ports.ViewportWatcher = (*Viewport)(nil)

func NewViewport() *Viewport {
	return &Viewport{watches: make(map[string]*watch)}
}

func (v *Viewport) Watch(elementID string, opts ports.ViewportOptions, h ports.ViewportHandler) (cancel func()) {
	w := &watch{opts: opts, h: h}
	v.watches[elementID] = w
	return func() {
		if v.watches[elementID] == w {
			delete(v.watches, elementID)
		}
	}
}

// SetInViewport reports the element entering (true) or leaving (false) the viewport.
// Reporting the current state again is a no-op.
func (v *Viewport) SetInViewport(elementID string, in bool) error {
	w, ok := v.watches[elementID]
	if !ok {
		return types.Err(types.ErrNotFound, nil, "element %q is not watched", elementID)
	}
	if w.in == in {
		return nil
	}
	w.in = in
	if !w.opts.Spy && w.entered {
		return nil
	}
	if in {
		w.entered = true
		w.h.OnEnterViewport()
	} else {
		w.h.OnExitViewport()
	}
	return nil
}

// Options returns the options an element is watched with.
func (v *Viewport) Options(elementID string) (ports.ViewportOptions, bool) {
	w, ok := v.watches[elementID]
	if !ok {
		return ports.ViewportOptions{}, false
	}
	return w.opts, true
}

func (v *Viewport) Watching(elementID string) bool {
	_, ok := v.watches[elementID]
	return ok
}
