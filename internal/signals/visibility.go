// Package signals holds in-process signal sources for page visibility and viewport
// intersection. They are driven explicitly (by the sandbox API, a scenario or a test) and must
// be used from tasks running on the page's scheduler.
package signals

import "adslots/internal/ports"

type subscriber struct {
	id int
	fn func(bool)
}

// Visibility is a ports.VisibilitySource whose state is set with SetVisible.
type Visibility struct {
	visible bool
	next    int
	subs    []subscriber
}

var _ ports.VisibilitySource = (*Visibility)(nil)

func NewVisibility(visible bool) *Visibility {
	return &Visibility{visible: visible}
}

func (v *Visibility) Visible() bool {
	return v.visible
}

func (v *Visibility) Subscribe(fn func(visible bool)) (cancel func()) {
	v.next++
	id := v.next
	v.subs = append(v.subs, subscriber{id: id, fn: fn})
	return func() {
		for i, s := range v.subs {
			if s.id == id {
				v.subs = append(v.subs[:i:i], v.subs[i+1:]...)
				return
			}
		}
	}
}

// SetVisible updates the state and notifies subscribers, in subscription order, when it changed.
func (v *Visibility) SetVisible(visible bool) {
	if v.visible == visible {
		return
	}
	v.visible = visible
	subs := make([]subscriber, len(v.subs))
	copy(subs, v.subs)
	for _, s := range subs {
		s.fn(visible)
	}
}

// Subscribers is the number of live subscriptions.
func (v *Visibility) Subscribers() int {
	return len(v.subs)
}
