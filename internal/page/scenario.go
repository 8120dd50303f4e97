package page

import (
	"adslots/internal/gpt"
	"adslots/internal/loop"
	"adslots/internal/types"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// DefaultTail is how long a scenario keeps running after its last step unless Until is set.
const DefaultTail = time.Minute

// Scenario is a timeline of page events replayed in virtual time. Every step sets exactly
// one of Mount, Viewport, Visible or Unmount.
type Scenario struct {
	Page   types.PageConfig `yaml:"page" json:"page"`
	Hidden bool             `yaml:"hidden,omitempty" json:"hidden,omitempty"`
	Steps  []Step           `yaml:"steps" json:"steps"`
	// Until is when the replay stops, as a duration from the start. Default: last step + 1m.
	Until string `yaml:"until,omitempty" json:"until,omitempty"`
}

type Step struct {
	At       string            `yaml:"at" json:"at"`
	Mount    *types.UnitConfig `yaml:"mount,omitempty" json:"mount,omitempty"`
	Viewport *ViewportStep     `yaml:"viewport,omitempty" json:"viewport,omitempty"`
	Visible  *bool             `yaml:"visible,omitempty" json:"visible,omitempty"`
	Unmount  string            `yaml:"unmount,omitempty" json:"unmount,omitempty"`
}

type ViewportStep struct {
	Element string `yaml:"element" json:"element"`
	In      bool   `yaml:"in" json:"in"`
}

// Result is what a replay produced.
type Result struct {
	Elapsed     time.Duration      `json:"elapsed"`
	Calls       []gpt.Call         `json:"calls"`
	Units       []types.UnitState  `json:"units"`
	Impressions []types.Impression `json:"impressions"`
}

type impressionLog struct {
	imps []types.Impression
}

func (l *impressionLog) Record(imp types.Impression) {
	l.imps = append(l.imps, imp)
}

type timedStep struct {
	at time.Duration
	Step
}

// LoadScenario reads a YAML scenario.
func LoadScenario(path string) (Scenario, error) {
	var sc Scenario
	b, err := os.ReadFile(path)
	if err != nil {
		return sc, err
	}
	if err := yaml.Unmarshal(b, &sc); err != nil {
		return sc, types.Err(types.ErrInvalidScenario, err, "parse %s", path)
	}
	return sc, nil
}

func (sc Scenario) plan() ([]timedStep, time.Duration, error) {
	steps := make([]timedStep, 0, len(sc.Steps))
	var last time.Duration
	for i, st := range sc.Steps {
		at, err := time.ParseDuration(st.At)
		if err != nil {
			return nil, 0, types.Err(types.ErrInvalidScenario, err, "steps[%d].at", i)
		}
		if at < last {
			return nil, 0, types.Err(types.ErrInvalidScenario, nil, "steps[%d] at %s is before the previous step", i, at)
		}
		n := 0
		if st.Mount != nil {
			n++
		}
		if st.Viewport != nil {
			n++
		}
		if st.Visible != nil {
			n++
		}
		if st.Unmount != "" {
			n++
		}
		if n != 1 {
			return nil, 0, types.Err(types.ErrInvalidScenario, nil, "steps[%d] must have exactly one action, has %d", i, n)
		}
		last = at
		steps = append(steps, timedStep{at: at, Step: st})
	}

	until := last + DefaultTail
	if sc.Until != "" {
		d, err := time.ParseDuration(sc.Until)
		if err != nil {
			return nil, 0, types.Err(types.ErrInvalidScenario, err, "until")
		}
		if d < last {
			return nil, 0, types.Err(types.ErrInvalidScenario, nil, "until %s is before the last step", d)
		}
		until = d
	}
	return steps, until, nil
}

// Run replays sc against a recording ad service on a virtual clock. Units in the page config
// are mounted at the start.
func (sc Scenario) Run() (*Result, error) {
	steps, until, err := sc.plan()
	if err != nil {
		return nil, err
	}
	v := loop.NewVirtual()
	rec := gpt.NewRecorder()
	imps := &impressionLog{}
	p, err := New(v, rec, sc.Page, WithRecorder(imps), WithVisible(!sc.Hidden))
	if err != nil {
		return nil, err
	}

	v.Post(func() { err = p.MountAll() })
	if err != nil {
		return nil, err
	}
	for i, st := range steps {
		v.AdvanceTo(loop.Epoch.Add(st.at))
		v.Post(func() { err = p.apply(st.Step) })
		if err != nil {
			return nil, types.Err(types.ErrInvalidScenario, err, "steps[%d]", i)
		}
	}
	v.AdvanceTo(loop.Epoch.Add(until))

	res := &Result{
		Elapsed:     v.Elapsed(),
		Calls:       rec.Calls(),
		Impressions: imps.imps,
	}
	v.Post(func() { res.Units = p.Units() })
	return res, nil
}

func (p *Page) apply(st Step) error {
	switch {
	case st.Mount != nil:
		_, err := p.Mount(*st.Mount)
		return err
	case st.Viewport != nil:
		return p.SetInViewport(st.Viewport.Element, st.Viewport.In)
	case st.Visible != nil:
		p.SetVisible(*st.Visible)
		return nil
	default:
		return p.Unmount(st.Unmount)
	}
}
