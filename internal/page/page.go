// Package page assembles ad units, the ad queue and the signal sources of one page.
//
// A Page is not safe for concurrent use. Every method must run on the page's scheduler; callers
// on other goroutines go through loop.Await.
package page

import (
	"adslots/internal/adqueue"
	"adslots/internal/adunit"
	"adslots/internal/gpt"
	"adslots/internal/metrics"
	"adslots/internal/ports"
	"adslots/internal/signals"
	"adslots/internal/targeting"
	"adslots/internal/types"
	"os"

	"github.com/goccy/go-yaml"
	log "github.com/sirupsen/logrus"
)

type Page struct {
	cfg       types.PageConfig
	sched     ports.Scheduler
	cmds      *gpt.CommandQueue
	queue     *adqueue.Queue
	vis       *signals.Visibility
	vp        *signals.Viewport
	targeting types.TargetingFunc
	metrics   *metrics.Metrics
	recorder  ports.ImpressionRecorder
	visible   bool

	units map[string]*adunit.Unit
	order []string
}

type Option func(p *Page)

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Page) { p.metrics = m }
}

// WithRecorder receives every display and refresh impression.
func WithRecorder(r ports.ImpressionRecorder) Option {
	return func(p *Page) { p.recorder = r }
}

// WithVisible sets the initial page visibility. Default true.
func WithVisible(v bool) Option {
	return func(p *Page) { p.visible = v }
}

// New validates cfg and wires the page to svc through an ordered command queue on s. Units
// listed in cfg are not mounted until MountAll. The ad service handshake is enqueued right away.
func New(s ports.Scheduler, svc ports.AdService, cfg types.PageConfig, opts ...Option) (*Page, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	delay, err := cfg.BatchDelayOrDefault()
	if err != nil {
		return nil, err
	}
	hook, err := targeting.Compile(cfg.Targeting, cfg.Context)
	if err != nil {
		return nil, err
	}

	p := &Page{
		cfg:       cfg,
		sched:     s,
		vp:        signals.NewViewport(),
		targeting: hook,
		visible:   true,
		units:     make(map[string]*adunit.Unit),
	}
	for _, o := range opts {
		o(p)
	}
	p.vis = signals.NewVisibility(p.visible)
	p.cmds = gpt.NewCommandQueue(s, svc, p.metrics)

	qopts := []adqueue.Option{adqueue.WithBatchDelay(delay), adqueue.WithMetrics(p.metrics)}
	if p.recorder != nil {
		qopts = append(qopts, adqueue.WithRecorder(p.recorder))
	}
	p.queue = adqueue.New(s, p.cmds, qopts...)
	s.Post(p.queue.Initialize)
	return p, nil
}

// LoadConfig reads a YAML page config.
func LoadConfig(path string) (types.PageConfig, error) {
	var cfg types.PageConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, types.Err(types.ErrInvalidConfig, err, "parse %s", path)
	}
	return cfg, cfg.Validate()
}

// MountAll mounts every unit of the page config, in order.
func (p *Page) MountAll() error {
	for _, u := range p.cfg.Units {
		if _, err := p.Mount(u); err != nil {
			return err
		}
	}
	return nil
}

// Mount creates a unit from cfg and mounts it. Page-level targeting runs before the unit's own.
func (p *Page) Mount(cfg types.UnitConfig) (types.UnitState, error) {
	if err := cfg.Validate(); err != nil {
		return types.UnitState{}, err
	}
	elementID := cfg.ElementID()
	if _, ok := p.units[elementID]; ok {
		return types.UnitState{}, types.Err(types.ErrDuplicateElement, nil, "element id %q is mounted", elementID)
	}
	cfg.AddTargeting = targeting.Chain(p.targeting, cfg.AddTargeting)

	u, err := adunit.New(cfg, adunit.Deps{
		Scheduler:       p.sched,
		Queue:           p.queue,
		Commands:        p.cmds,
		Viewport:        p.vp,
		Visibility:      p.vis,
		Metrics:         p.metrics,
		Recorder:        p.recorder,
		VisibleFraction: p.cfg.VisibleFractionOrDefault(),
	})
	if err != nil {
		return types.UnitState{}, err
	}
	p.units[elementID] = u
	p.order = append(p.order, elementID)
	p.metrics.Mounted(1)
	u.Mount()
	log.WithFields(log.Fields{"adId": cfg.AdID, "elementId": elementID}).Debug("mounted")
	return u.Snapshot(), nil
}

// Unmount destroys the unit and forgets it.
func (p *Page) Unmount(elementID string) error {
	u, ok := p.units[elementID]
	if !ok {
		return types.Err(types.ErrNotFound, nil, "element id %q", elementID)
	}
	u.Destroy()
	delete(p.units, elementID)
	for i, id := range p.order {
		if id == elementID {
			p.order = append(p.order[:i:i], p.order[i+1:]...)
			break
		}
	}
	p.metrics.Mounted(-1)
	return nil
}

// Close unmounts every unit.
func (p *Page) Close() {
	for _, id := range append([]string(nil), p.order...) {
		_ = p.Unmount(id)
	}
}

func (p *Page) SetVisible(visible bool) {
	p.vis.SetVisible(visible)
}

func (p *Page) Visible() bool {
	return p.vis.Visible()
}

// SetInViewport reports an intersection change for a mounted, viewport-watching unit.
func (p *Page) SetInViewport(elementID string, in bool) error {
	if _, ok := p.units[elementID]; !ok {
		return types.Err(types.ErrNotFound, nil, "element id %q", elementID)
	}
	if err := p.vp.SetInViewport(elementID, in); err != nil {
		return types.Err(types.ErrInvalidConfig, err, "element id %q does not watch the viewport", elementID)
	}
	return nil
}

// Units returns the state of every mounted unit, in mount order.
func (p *Page) Units() []types.UnitState {
	out := make([]types.UnitState, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.units[id].Snapshot())
	}
	return out
}

func (p *Page) Unit(elementID string) (types.UnitState, error) {
	u, ok := p.units[elementID]
	if !ok {
		return types.UnitState{}, types.Err(types.ErrNotFound, nil, "element id %q", elementID)
	}
	return u.Snapshot(), nil
}

// Pending lists the element ids waiting for the next display flush.
func (p *Page) Pending() []string {
	return p.queue.Pending()
}
