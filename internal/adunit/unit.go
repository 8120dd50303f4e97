// Package adunit implements the per-placement refresh state machine.
//
// A unit requests an impression if and only if three signals are true at the moment one of
// them changes: it is in the viewport, the page is in the foreground, and a refresh is due.
// After every impression the refresh is no longer due and a countdown of the configured
// interval starts; when it expires the refresh becomes due again. If the other signals block
// it at that point the unit is overdue and refreshes as soon as they flip back.
//
// The countdown uses the drop policy: an arm request while a countdown is running is ignored,
// so scrolling an ad in and out of view never stretches or multiplies refreshes.
package adunit

import (
	"adslots/internal/adqueue"
	"adslots/internal/loop"
	"adslots/internal/metrics"
	"adslots/internal/ports"
	"adslots/internal/targeting"
	"adslots/internal/tolerance"
	"adslots/internal/types"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Registrar receives units that are due for their first impression.
type Registrar interface {
	Register(r adqueue.Registrant)
	Unregister(r adqueue.Registrant)
}

// Deps are the collaborators a unit talks to. Scheduler, Queue, Commands and Visibility are
// required; Viewport is required unless the unit does not watch the viewport.
type Deps struct {
	Scheduler  ports.Scheduler
	Queue      Registrar
	Commands   ports.CommandQueue
	Viewport   ports.ViewportWatcher
	Visibility ports.VisibilitySource
	Metrics    *metrics.Metrics
	Recorder   ports.ImpressionRecorder

	// VisibleFraction of the ad area that counts as "in viewport". Default 0.5.
	VisibleFraction float64
}

type Unit struct {
	cfg       types.UnitConfig
	deps      Deps
	elementID string
	style     string
	tolerance ports.Margins

	refreshCount     int
	inViewport       bool
	inForeground     bool
	isRefreshDue     bool
	isRefreshOverdue bool

	slot       ports.Slot
	registered bool
	mounted    bool
	destroyed  bool

	countdown   *loop.Task
	unwatch     func()
	unsubscribe func()
	log         *log.Entry
}

var _ adqueue.Registrant = (*Unit)(nil)
var _ ports.ViewportHandler = (*Unit)(nil)

// New validates cfg and prepares the unit. Configuration errors are caller bugs and are
// returned right away; nothing is subscribed until Mount.
func New(cfg types.UnitConfig, deps Deps) (*Unit, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Scheduler == nil || deps.Queue == nil || deps.Commands == nil || deps.Visibility == nil {
		return nil, types.Err(types.ErrInvalidConfig, nil, "%q (%s): missing dependencies", cfg.AdID, cfg.PlacementOrDefault())
	}
	if cfg.WatchViewport() && deps.Viewport == nil {
		return nil, types.Err(types.ErrInvalidConfig, nil, "%q (%s): viewport watcher required", cfg.AdID, cfg.PlacementOrDefault())
	}
	fraction := deps.VisibleFraction
	if fraction == 0 {
		fraction = types.DefaultVisibleFraction
	}
	margins, err := tolerance.Compute(float64(cfg.Width), float64(cfg.Height), fraction)
	if err != nil {
		return nil, err
	}
	cfg.Placement = cfg.PlacementOrDefault()

	return &Unit{
		cfg:       cfg,
		deps:      deps,
		elementID: cfg.ElementID(),
		style:     cfg.Style(),
		tolerance: margins,
		countdown: loop.NewTask(deps.Scheduler, loop.Drop),
		log: log.WithFields(log.Fields{
			"adId":      cfg.AdID,
			"placement": cfg.Placement,
		}),
	}, nil
}

// Mount wires the signals and forces the initial impression. It runs on the scheduler.
func (u *Unit) Mount() {
	if u.mounted || u.destroyed {
		return
	}
	u.mounted = true
	u.viewportSetup()
	u.backgroundSetup()
	u.refreshSetup()
}

func (u *Unit) viewportSetup() {
	if !u.cfg.WatchViewport() {
		// enter/exit will never be reported, so this stays true for good
		u.inViewport = true
		return
	}
	u.inViewport = false
	u.unwatch = u.deps.Viewport.Watch(u.elementID, ports.ViewportOptions{
		Tolerance: u.tolerance,
		Spy:       true,
	}, u)
}

func (u *Unit) backgroundSetup() {
	if u.cfg.BackgroundRefresh {
		u.inForeground = true
		return
	}
	u.inForeground = u.deps.Visibility.Visible()
	u.unsubscribe = u.deps.Visibility.Subscribe(func(visible bool) {
		u.trace("visibilitychange", log.Fields{"visible": visible})
		u.SetInForeground(visible)
	})
}

func (u *Unit) refreshSetup() {
	// always due at setup, to get the first impression
	u.isRefreshDue = true
	u.evaluate()
}

func (u *Unit) OnEnterViewport() {
	if u.destroyed {
		return
	}
	u.trace("entered viewport", nil)
	u.inViewport = true
	u.evaluate()
}

func (u *Unit) OnExitViewport() {
	if u.destroyed {
		return
	}
	u.trace("exited viewport", nil)
	u.inViewport = false
	u.evaluate()
}

// SetInForeground is fed by the visibility source. Units with background refresh ignore it.
func (u *Unit) SetInForeground(visible bool) {
	if u.destroyed || u.cfg.BackgroundRefresh {
		return
	}
	u.inForeground = visible
	u.evaluate()
}

// evaluate is run after every single signal mutation.
func (u *Unit) evaluate() Action {
	if u.destroyed {
		return NoOp
	}
	if !(u.inViewport && u.inForeground && u.isRefreshDue) {
		u.trace("skipping refresh", log.Fields{
			"inViewport":   u.inViewport,
			"inForeground": u.inForeground,
			"isRefreshDue": u.isRefreshDue,
		})
		return SkipGate
	}
	action := u.refresh()
	u.waitForRefresh()
	return action
}

func (u *Unit) refresh() Action {
	if u.limitReached() {
		u.trace(fmt.Sprintf("refreshCount has met refreshLimit: %d", u.cfg.RefreshLimit), nil)
		u.deps.Metrics.RefreshSkipped(StatusTextMap[SuppressLimit])
		return SuppressLimit
	}
	if u.slot == nil && u.registered {
		u.trace("slot definition still pending", nil)
		u.deps.Metrics.RefreshSkipped(StatusTextMap[AwaitSlot])
		return AwaitSlot
	}

	u.refreshCount++
	u.trace(fmt.Sprintf("refreshing now: %d of %d", u.refreshCount, u.cfg.RefreshLimit), nil)

	if u.slot == nil {
		u.registered = true
		u.deps.Queue.Register(u)
		return Registered
	}

	slot := u.slot
	tc := u.TargetingContext()
	imp := types.Impression{
		Kind:         types.ImpressionRefresh,
		AdID:         u.cfg.AdID,
		Placement:    u.cfg.Placement,
		ElementID:    u.elementID,
		RefreshCount: u.refreshCount,
	}
	u.deps.Commands.Push("refresh", func(svc ports.AdService) error {
		if u.destroyed {
			return nil
		}
		// the caller's hook runs inside the command so a panic in it is recovered there
		for _, kv := range targeting.Pairs(u.cfg.AddTargeting, tc) {
			if err := svc.SetTargeting(slot, kv[0], kv[1]); err != nil {
				return fmt.Errorf("set targeting %q on %q: %w", kv[0], u.elementID, err)
			}
		}
		if err := svc.Refresh([]ports.Slot{slot}); err != nil {
			return fmt.Errorf("refresh %q: %w", u.elementID, err)
		}
		u.deps.Metrics.Impression(string(types.ImpressionRefresh))
		if u.deps.Recorder != nil {
			imp.At = u.deps.Scheduler.Now()
			u.deps.Recorder.Record(imp)
		}
		return nil
	})
	return Refreshed
}

// waitForRefresh clears the due flag and arms the next countdown.
func (u *Unit) waitForRefresh() {
	u.isRefreshDue = false
	u.isRefreshOverdue = false

	interval := u.cfg.RefreshInterval()
	if interval <= 0 {
		u.trace("refresh is disabled", nil)
		return
	}
	if u.limitReached() {
		u.trace(fmt.Sprintf("refreshCount has met refreshLimit: %d", u.cfg.RefreshLimit), nil)
		return
	}
	if !u.countdown.Schedule(interval, u.onCountdown) {
		u.trace("countdown already running, keeping it", nil)
		return
	}
	u.trace(fmt.Sprintf("waiting for %d seconds to refresh", u.cfg.Refresh), nil)
}

func (u *Unit) onCountdown() {
	if u.destroyed {
		return
	}
	u.trace("refresh is due", nil)
	u.isRefreshDue = true
	if u.evaluate() == SkipGate {
		u.isRefreshOverdue = true
		u.deps.Metrics.RefreshSkipped("overdue")
	}
}

func (u *Unit) limitReached() bool {
	return u.cfg.RefreshLimit > 0 && u.refreshCount >= u.cfg.RefreshLimit
}

// Destroy cancels the countdown and every subscription. Late callbacks and queued commands
// see the unit as destroyed and do nothing.
func (u *Unit) Destroy() {
	if u.destroyed {
		return
	}
	u.destroyed = true
	u.countdown.Cancel()
	if u.registered {
		u.deps.Queue.Unregister(u)
	}
	if slot := u.slot; slot != nil {
		u.deps.Commands.Push("destroy_slot", func(svc ports.AdService) error {
			return svc.DestroySlots([]ports.Slot{slot})
		})
	}
	if u.unwatch != nil {
		u.unwatch()
		u.unwatch = nil
	}
	if u.unsubscribe != nil {
		u.unsubscribe()
		u.unsubscribe = nil
	}
	u.trace("destroyed", nil)
}

func (u *Unit) AttachSlot(slot ports.Slot) {
	if u.destroyed {
		return
	}
	u.slot = slot
}

func (u *Unit) AdID() string      { return u.cfg.AdID }
func (u *Unit) Placement() string { return u.cfg.Placement }
func (u *Unit) ElementID() string { return u.elementID }
func (u *Unit) Size() [2]int      { return [2]int{u.cfg.Width, u.cfg.Height} }
func (u *Unit) Style() string     { return u.style }
func (u *Unit) Tracing() bool     { return u.cfg.Tracing }
func (u *Unit) Destroyed() bool   { return u.destroyed }

func (u *Unit) Tolerance() ports.Margins {
	return u.tolerance
}

func (u *Unit) Targeting() types.TargetingFunc {
	return u.cfg.AddTargeting
}

func (u *Unit) TargetingContext() types.TargetingContext {
	return types.TargetingContext{
		AdID:         u.cfg.AdID,
		Placement:    u.cfg.Placement,
		ElementID:    u.elementID,
		Width:        u.cfg.Width,
		Height:       u.cfg.Height,
		RefreshCount: u.refreshCount,
	}
}

func (u *Unit) Snapshot() types.UnitState {
	return types.UnitState{
		AdID:             u.cfg.AdID,
		Placement:        u.cfg.Placement,
		ElementID:        u.elementID,
		Width:            u.cfg.Width,
		Height:           u.cfg.Height,
		RefreshCount:     u.refreshCount,
		RefreshLimit:     u.cfg.RefreshLimit,
		InViewport:       u.inViewport,
		InForeground:     u.inForeground,
		IsRefreshDue:     u.isRefreshDue,
		IsRefreshOverdue: u.isRefreshOverdue,
		CountdownPending: u.countdown.Pending(),
		SlotDefined:      u.slot != nil,
		Destroyed:        u.destroyed,
	}
}

func (u *Unit) trace(msg string, fields log.Fields) {
	if !u.cfg.Tracing {
		return
	}
	u.log.WithFields(fields).Info(msg)
}
