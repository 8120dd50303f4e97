package adunit

import (
	"adslots/internal/adqueue"
	"adslots/internal/gpt"
	"adslots/internal/loop"
	"adslots/internal/ports"
	"adslots/internal/signals"
	"adslots/internal/tolerance"
	"adslots/internal/types"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type UnitTestSuite struct {
	suite.Suite

	v     *loop.Virtual
	rec   *gpt.Recorder
	cmds  *gpt.CommandQueue
	queue *adqueue.Queue
	vis   *signals.Visibility
	vp    *signals.Viewport
}

func TestUnitTestSuite(t *testing.T) {
	suite.Run(t, new(UnitTestSuite))
}

func (s *UnitTestSuite) SetupTest() {
	s.v = loop.NewVirtual()
	s.rec = gpt.NewRecorder()
	s.cmds = gpt.NewCommandQueue(s.v, s.rec, nil)
	s.queue = adqueue.New(s.v, s.cmds)
	s.vis = signals.NewVisibility(true)
	s.vp = signals.NewViewport()
}

func (s *UnitTestSuite) deps() Deps {
	return Deps{
		Scheduler:  s.v,
		Queue:      s.queue,
		Commands:   s.cmds,
		Viewport:   s.vp,
		Visibility: s.vis,
	}
}

func (s *UnitTestSuite) mount(cfg types.UnitConfig) *Unit {
	u, err := New(cfg, s.deps())
	s.Require().NoError(err)
	s.v.Post(u.Mount)
	return u
}

func (s *UnitTestSuite) viewport(u *Unit, in bool) {
	s.v.Post(func() {
		s.Require().NoError(s.vp.SetInViewport(u.ElementID(), in))
	})
}

func (s *UnitTestSuite) visible(v bool) {
	s.v.Post(func() { s.vis.SetVisible(v) })
}

// advanceTo moves virtual time to t seconds after the start.
func (s *UnitTestSuite) advanceTo(t time.Duration) {
	s.v.AdvanceTo(loop.Epoch.Add(t))
}

func (s *UnitTestSuite) refreshes(u *Unit) int {
	return s.rec.Count(gpt.OpRefresh, u.ElementID())
}

func no() *bool {
	b := false
	return &b
}

func (s *UnitTestSuite) TestConfigErrorsFailFast() {
	_, err := New(types.UnitConfig{AdID: "/1/a", Width: 0, Height: 250}, s.deps())
	s.ErrorIs(err, types.ErrInvalidConfig)

	_, err = New(types.UnitConfig{AdID: "/1/a", Width: 300}, s.deps())
	s.ErrorIs(err, types.ErrInvalidConfig)

	_, err = New(types.UnitConfig{Width: 300, Height: 250}, s.deps())
	s.ErrorIs(err, types.ErrInvalidConfig)

	d := s.deps()
	d.Viewport = nil
	_, err = New(types.UnitConfig{AdID: "/1/a", Width: 300, Height: 250}, d)
	s.ErrorIs(err, types.ErrInvalidConfig)

	_, err = New(types.UnitConfig{AdID: "/1/a", Width: 300, Height: 250, ShouldWatchViewport: no()}, d)
	s.NoError(err)
}

func (s *UnitTestSuite) TestDerivedIdentityAndStyle() {
	u, err := New(types.UnitConfig{AdID: "/6355419/Travel/Europe", Width: 300, Height: 250}, s.deps())
	s.Require().NoError(err)
	s.Equal("travel/europe-0", u.ElementID())
	s.Equal("0", u.Placement())
	s.Equal("width:300px; height:250px;", u.Style())
	s.Equal([2]int{300, 250}, u.Size())
}

func (s *UnitTestSuite) TestWithoutViewportWatchingIsAlwaysInViewport() {
	u := s.mount(types.UnitConfig{AdID: "/6355419/Travel/Europe", Width: 300, Height: 250, ShouldWatchViewport: no()})

	s.False(s.vp.Watching(u.ElementID()))
	st := u.Snapshot()
	s.True(st.InViewport)
	s.Equal(1, st.RefreshCount)
	s.True(st.SlotDefined)
	s.Empty(s.rec.ElementIDs(gpt.OpDisplay))

	s.advanceTo(time.Second)
	s.Equal([]string{"travel/europe-0"}, s.rec.ElementIDs(gpt.OpDisplay))
	s.True(u.Snapshot().InViewport)
	s.Zero(s.refreshes(u))
}

func (s *UnitTestSuite) TestWatchesViewportWithHalfAreaToleranceInSpyMode() {
	u := s.mount(types.UnitConfig{AdID: "/1/Sports", Width: 300, Height: 250})

	opts, ok := s.vp.Options(u.ElementID())
	s.Require().True(ok)
	want, err := tolerance.Compute(300, 250, 0.5)
	s.Require().NoError(err)
	s.Equal(want, opts.Tolerance)
	s.True(opts.Spy)
}

func (s *UnitTestSuite) TestNothingHappensUntilInViewport() {
	u := s.mount(types.UnitConfig{AdID: "/1/Sports", Width: 300, Height: 250, Refresh: 10})

	s.advanceTo(time.Minute)
	s.Empty(s.rec.Calls())
	st := u.Snapshot()
	s.False(st.InViewport)
	s.True(st.IsRefreshDue)
	s.Zero(st.RefreshCount)

	s.viewport(u, true)
	s.Equal(1, u.Snapshot().RefreshCount)
	s.advanceTo(time.Minute + time.Second)
	s.Equal([]string{u.ElementID()}, s.rec.ElementIDs(gpt.OpDisplay))
}

func (s *UnitTestSuite) TestRefreshLimitStopsExternalRefreshes() {
	u := s.mount(types.UnitConfig{AdID: "/1/Sports", Width: 300, Height: 250, Refresh: 10, RefreshLimit: 3})
	s.viewport(u, true)

	s.advanceTo(10 * time.Second)
	s.Equal(1, s.refreshes(u))
	s.advanceTo(20 * time.Second)
	s.Equal(2, s.refreshes(u))

	s.advanceTo(5 * time.Minute)
	st := u.Snapshot()
	s.Equal(3, st.RefreshCount)
	s.False(st.CountdownPending)
	s.Equal(2, s.refreshes(u))

	for i := 0; i < 5; i++ {
		s.viewport(u, false)
		s.viewport(u, true)
		s.visible(false)
		s.visible(true)
	}
	s.advanceTo(10 * time.Minute)
	s.Equal(2, s.refreshes(u))
	s.Equal(1, s.rec.Count(gpt.OpDisplay, u.ElementID()))
	s.Equal(3, u.Snapshot().RefreshCount)
}

func (s *UnitTestSuite) TestViewportFlapDoesNotResetCountdown() {
	u := s.mount(types.UnitConfig{AdID: "/1/Sports", Width: 300, Height: 250, Refresh: 30})
	s.viewport(u, true)

	s.advanceTo(10 * time.Second)
	s.viewport(u, false)
	s.advanceTo(15 * time.Second)
	s.viewport(u, true)
	s.True(u.Snapshot().CountdownPending)

	s.advanceTo(30*time.Second - time.Millisecond)
	s.Zero(s.refreshes(u))
	s.advanceTo(30 * time.Second)
	s.Equal(1, s.refreshes(u))

	for i := 31; i < 36; i++ {
		s.advanceTo(time.Duration(i) * time.Second)
		s.viewport(u, false)
		s.viewport(u, true)
	}
	s.advanceTo(60*time.Second - time.Millisecond)
	s.Equal(1, s.refreshes(u))
	s.advanceTo(60 * time.Second)
	s.Equal(2, s.refreshes(u))
}

func (s *UnitTestSuite) TestExitedViewportMakesRefreshOverdue() {
	u := s.mount(types.UnitConfig{AdID: "/1/Sports", Width: 300, Height: 250, Refresh: 30})
	s.viewport(u, true)
	s.advanceTo(20 * time.Second)
	s.viewport(u, false)

	s.advanceTo(45 * time.Second)
	s.Zero(s.refreshes(u))
	s.True(u.Snapshot().IsRefreshOverdue)

	s.viewport(u, true)
	s.Equal(1, s.refreshes(u))
	s.False(u.Snapshot().IsRefreshOverdue)

	s.advanceTo(75*time.Second - time.Millisecond)
	s.Equal(1, s.refreshes(u))
	s.advanceTo(75 * time.Second)
	s.Equal(2, s.refreshes(u))
}

func (s *UnitTestSuite) TestBackgroundTabDefersRefreshUntilForeground() {
	u := s.mount(types.UnitConfig{AdID: "/1/Sports", Width: 300, Height: 250, Refresh: 30, ShouldWatchViewport: no()})
	s.advanceTo(10 * time.Second)
	s.visible(false)

	s.advanceTo(30 * time.Second)
	st := u.Snapshot()
	s.True(st.IsRefreshOverdue)
	s.True(st.IsRefreshDue)
	s.False(st.CountdownPending)
	s.Zero(s.refreshes(u))

	s.advanceTo(100 * time.Second)
	s.Zero(s.refreshes(u))

	s.visible(true)
	s.Equal(1, s.refreshes(u))
	st = u.Snapshot()
	s.False(st.IsRefreshOverdue)
	s.False(st.IsRefreshDue)
	s.True(st.CountdownPending)

	s.advanceTo(130*time.Second - time.Millisecond)
	s.Equal(1, s.refreshes(u))
	s.advanceTo(130 * time.Second)
	s.Equal(2, s.refreshes(u))
}

func (s *UnitTestSuite) TestHiddenPageBlocksFirstImpression() {
	s.vis = signals.NewVisibility(false)
	u := s.mount(types.UnitConfig{AdID: "/1/Sports", Width: 300, Height: 250, ShouldWatchViewport: no()})
	s.advanceTo(time.Minute)
	s.Empty(s.rec.Calls())
	s.False(u.Snapshot().InForeground)

	s.visible(true)
	s.advanceTo(time.Minute + time.Second)
	s.Equal([]string{u.ElementID()}, s.rec.ElementIDs(gpt.OpDisplay))
}

func (s *UnitTestSuite) TestBackgroundRefreshIgnoresVisibility() {
	s.vis = signals.NewVisibility(false)
	u := s.mount(types.UnitConfig{AdID: "/1/Sports", Width: 300, Height: 250, Refresh: 10, ShouldWatchViewport: no(), BackgroundRefresh: true})

	s.Zero(s.vis.Subscribers())
	s.True(u.Snapshot().InForeground)
	s.advanceTo(20 * time.Second)
	s.Equal(1, s.rec.Count(gpt.OpDisplay, u.ElementID()))
	s.Equal(2, s.refreshes(u))
}

func (s *UnitTestSuite) TestRefreshDisabledDisplaysOnce() {
	u := s.mount(types.UnitConfig{AdID: "/1/Sports", Width: 300, Height: 250, ShouldWatchViewport: no()})
	s.advanceTo(time.Hour)
	s.Equal(1, s.rec.Count(gpt.OpDisplay, u.ElementID()))
	s.Zero(s.refreshes(u))
	s.False(u.Snapshot().CountdownPending)
}

func (s *UnitTestSuite) TestDestroyStopsEverything() {
	u := s.mount(types.UnitConfig{AdID: "/1/Sports", Width: 300, Height: 250, Refresh: 10})
	s.viewport(u, true)
	s.advanceTo(5 * time.Second)
	s.Equal(1, s.vis.Subscribers())

	s.v.Post(u.Destroy)
	s.False(s.vp.Watching(u.ElementID()))
	s.Zero(s.vis.Subscribers())

	s.advanceTo(time.Hour)
	s.Zero(s.refreshes(u))
	st := u.Snapshot()
	s.True(st.Destroyed)
	s.False(st.CountdownPending)

	// late signals are ignored
	s.v.Post(u.OnEnterViewport)
	s.v.Post(func() { u.SetInForeground(true) })
	s.Zero(s.refreshes(u))
}

// heldQueue keeps commands until released, like an ad service that has not loaded yet.
type heldQueue struct {
	svc  ports.AdService
	cmds []ports.Command
}

func (h *heldQueue) Push(op string, cmd ports.Command) {
	h.cmds = append(h.cmds, cmd)
}

func (h *heldQueue) release() {
	cmds := h.cmds
	h.cmds = nil
	for _, c := range cmds {
		_ = c(h.svc)
	}
}

func (s *UnitTestSuite) TestDestroyBeforeQueuedRefreshRuns() {
	held := &heldQueue{svc: s.rec}
	d := s.deps()
	d.Commands = held
	d.Queue = adqueue.New(s.v, held)
	u, err := New(types.UnitConfig{AdID: "/1/Sports", Width: 300, Height: 250, Refresh: 10, ShouldWatchViewport: no()}, d)
	s.Require().NoError(err)
	s.v.Post(u.Mount)
	held.release()
	s.advanceTo(time.Second)
	held.release()
	s.Equal(1, s.rec.Count(gpt.OpDisplay, u.ElementID()))

	s.advanceTo(10 * time.Second)
	s.Len(held.cmds, 1)
	s.v.Post(u.Destroy)
	held.release()
	s.Zero(s.refreshes(u))
}

func (s *UnitTestSuite) TestTargetingAppliedOnDefineAndRefresh() {
	cfg := types.UnitConfig{AdID: "/1/Sports", Width: 300, Height: 250, Refresh: 10, ShouldWatchViewport: no()}
	cfg.AddTargeting = func(tc types.TargetingContext) map[string]string {
		return map[string]string{"refresh_count": strconv.Itoa(tc.RefreshCount), "placement": tc.Placement}
	}
	u := s.mount(cfg)
	s.advanceTo(10 * time.Second)

	var targeted []map[string]string
	var refreshed map[string]string
	for _, c := range s.rec.Calls() {
		switch c.Op {
		case gpt.OpSetTargeting:
			targeted = append(targeted, c.Targeting)
		case gpt.OpRefresh:
			refreshed = c.Targeting
		}
	}
	s.Equal([]map[string]string{
		{"placement": "0"},
		{"refresh_count": "1"},
		{"placement": "0"},
		{"refresh_count": "2"},
	}, targeted)
	s.Equal(map[string]string{"placement": "0", "refresh_count": "2"}, refreshed)
	s.Equal(2, u.Snapshot().RefreshCount)
}

func (s *UnitTestSuite) TestFailedSlotDefinitionNeverRefreshes() {
	s.rec.FailWhen = func(op, elementID string) error {
		if op == gpt.OpDefineSlot {
			return errors.New("gpt not loaded")
		}
		return nil
	}
	u := s.mount(types.UnitConfig{AdID: "/1/Sports", Width: 300, Height: 250, Refresh: 10, ShouldWatchViewport: no()})

	s.advanceTo(time.Minute)
	s.Empty(s.rec.ElementIDs(gpt.OpDisplay))
	s.Zero(s.refreshes(u))
	st := u.Snapshot()
	s.False(st.SlotDefined)
	s.Equal(1, st.RefreshCount)
	s.True(st.CountdownPending)
}

func (s *UnitTestSuite) TestFailedRefreshKeepsCadence() {
	fail := true
	s.rec.FailWhen = func(op, elementID string) error {
		if op == gpt.OpRefresh && fail {
			return errors.New("network down")
		}
		return nil
	}
	u := s.mount(types.UnitConfig{AdID: "/1/Sports", Width: 300, Height: 250, Refresh: 10, ShouldWatchViewport: no()})

	s.advanceTo(10 * time.Second)
	s.Zero(s.refreshes(u))
	s.Equal(2, u.Snapshot().RefreshCount)

	fail = false
	s.advanceTo(20 * time.Second)
	s.Equal(1, s.refreshes(u))
}

func (s *UnitTestSuite) TestArmWhileCountdownPendingKeepsDeadline() {
	u := s.mount(types.UnitConfig{AdID: "/1/Sports", Width: 300, Height: 250, Refresh: 30})
	s.viewport(u, true)
	s.True(u.Snapshot().CountdownPending)

	s.advanceTo(20 * time.Second)
	s.v.Post(func() {
		s.False(u.countdown.Schedule(u.cfg.RefreshInterval(), u.onCountdown))
		u.waitForRefresh()
	})
	s.True(u.Snapshot().CountdownPending)

	s.advanceTo(30*time.Second - time.Millisecond)
	s.Zero(s.refreshes(u))
	s.advanceTo(30 * time.Second)
	s.Equal(1, s.refreshes(u))
	s.advanceTo(50 * time.Second)
	s.Equal(1, s.refreshes(u))
}

func (s *UnitTestSuite) TestPanickingTargetingHookKeepsCadence() {
	cfg := types.UnitConfig{AdID: "/1/Sports", Width: 300, Height: 250, Refresh: 10, ShouldWatchViewport: no()}
	cfg.AddTargeting = func(types.TargetingContext) map[string]string { panic("bad hook") }
	u := s.mount(cfg)

	s.advanceTo(time.Second)
	s.Equal(1, s.rec.Count(gpt.OpDisplay, u.ElementID()))

	s.advanceTo(10 * time.Second)
	st := u.Snapshot()
	s.Equal(2, st.RefreshCount)
	s.False(st.IsRefreshDue)
	s.True(st.CountdownPending)
	s.Zero(s.refreshes(u))

	s.advanceTo(20 * time.Second)
	s.Equal(3, u.Snapshot().RefreshCount)
}

func (s *UnitTestSuite) TestRemountSameElementWithinBatchWindow() {
	cfg := types.UnitConfig{AdID: "/1/Sports", Width: 300, Height: 250, ShouldWatchViewport: no()}
	first := s.mount(cfg)
	s.advanceTo(200 * time.Millisecond)
	s.v.Post(first.Destroy)
	s.Empty(s.queue.Pending())

	second := s.mount(cfg)
	s.Equal([]string{second.ElementID()}, s.queue.Pending())
	s.advanceTo(1200 * time.Millisecond)

	s.Equal(2, s.rec.Count(gpt.OpDefineSlot, second.ElementID()))
	s.Equal(1, s.rec.Count(gpt.OpDestroySlots, second.ElementID()))
	s.Equal([]string{second.ElementID()}, s.rec.ElementIDs(gpt.OpDisplay))
	s.True(second.Snapshot().SlotDefined)
	s.True(first.Snapshot().Destroyed)
}
