package page

import (
	"adslots/internal/gpt"
	"adslots/internal/loop"
	"adslots/internal/types"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type PageTestSuite struct {
	suite.Suite

	v   *loop.Virtual
	rec *gpt.Recorder
}

func TestPageTestSuite(t *testing.T) {
	suite.Run(t, new(PageTestSuite))
}

func (s *PageTestSuite) SetupTest() {
	s.v = loop.NewVirtual()
	s.rec = gpt.NewRecorder()
}

func (s *PageTestSuite) newPage(cfg types.PageConfig, opts ...Option) *Page {
	p, err := New(s.v, s.rec, cfg, opts...)
	s.Require().NoError(err)
	return p
}

func (s *PageTestSuite) TestLoadConfig() {
	cfg, err := LoadConfig("testdata/page.yaml")
	s.Require().NoError(err)
	s.Len(cfg.Units, 2)
	s.Equal("/6355419/Travel/Europe", cfg.Units[0].AdID)
	s.False(cfg.Units[0].WatchViewport())
	s.True(cfg.Units[1].WatchViewport())
	s.Equal(2, cfg.Units[1].RefreshLimit)
	s.Equal("travel", cfg.Context["section"])

	_, err = LoadConfig("testdata/missing.yaml")
	s.Error(err)
}

func (s *PageTestSuite) TestInvalidConfigs() {
	_, err := New(s.v, s.rec, types.PageConfig{Targeting: map[string]string{"k": "page.[["}})
	s.ErrorIs(err, types.ErrInvalidTargeting)

	_, err = New(s.v, s.rec, types.PageConfig{BatchDelay: "soon"})
	s.ErrorIs(err, types.ErrInvalidConfig)

	_, err = New(s.v, s.rec, types.PageConfig{Units: []types.UnitConfig{
		{AdID: "/1/Top", Width: 1, Height: 1},
		{AdID: "/2/Top", Width: 1, Height: 1},
	}})
	s.ErrorIs(err, types.ErrDuplicateElement)
}

func (s *PageTestSuite) TestHandshakeIsEnqueuedAtStart() {
	s.newPage(types.PageConfig{})
	s.Equal(1, s.rec.Count(gpt.OpEnableSingleRequest, ""))
	s.Equal(1, s.rec.Count(gpt.OpEnableServices, ""))
}

func (s *PageTestSuite) TestMountUnmountLifecycle() {
	p := s.newPage(types.PageConfig{})
	s.v.Post(func() {
		st, err := p.Mount(types.UnitConfig{AdID: "/1/Top", Width: 300, Height: 250, Refresh: 10})
		s.Require().NoError(err)
		s.Equal("top-0", st.ElementID)

		_, err = p.Mount(types.UnitConfig{AdID: "/9/Top", Width: 300, Height: 250})
		s.ErrorIs(err, types.ErrDuplicateElement)

		_, err = p.Mount(types.UnitConfig{AdID: "/1/Top", Placement: "bottom", Width: 300, Height: 250, ShouldWatchViewport: new(bool)})
		s.Require().NoError(err)
	})

	units := p.Units()
	s.Require().Len(units, 2)
	s.Equal("top-0", units[0].ElementID)
	s.Equal("top-bottom", units[1].ElementID)
	s.Equal([]string{"top-bottom"}, p.Pending())

	s.Require().NoError(p.SetInViewport("top-0", true))
	s.Equal([]string{"top-bottom", "top-0"}, p.Pending())
	s.ErrorIs(p.SetInViewport("top-bottom", true), types.ErrInvalidConfig)
	s.ErrorIs(p.SetInViewport("nope-0", true), types.ErrNotFound)

	s.v.Advance(time.Second)
	s.Equal([]string{"top-bottom", "top-0"}, s.rec.ElementIDs(gpt.OpDisplay))

	s.Require().NoError(p.Unmount("top-0"))
	s.ErrorIs(p.Unmount("top-0"), types.ErrNotFound)
	_, err := p.Unit("top-0")
	s.ErrorIs(err, types.ErrNotFound)
	s.v.Advance(time.Minute)
	s.Zero(s.rec.Count(gpt.OpRefresh, "top-0"))

	s.v.Post(func() {
		_, err := p.Mount(types.UnitConfig{AdID: "/1/Top", Width: 300, Height: 250, Refresh: 10})
		s.Require().NoError(err)
	})
	s.Require().NoError(p.SetInViewport("top-0", true))
	s.v.Advance(time.Second)
	s.Equal(2, s.rec.Count(gpt.OpDisplay, "top-0"))
	s.Equal(1, s.rec.Count(gpt.OpDestroySlots, "top-0"))

	p.Close()
	s.Empty(p.Units())
}

func (s *PageTestSuite) TestPageTargetingRunsBeforeUnitTargeting() {
	p := s.newPage(types.PageConfig{
		Targeting: map[string]string{"section": "page.section", "size": "unit.width"},
		Context:   map[string]any{"section": "news"},
	})
	cfg := types.UnitConfig{AdID: "/1/Top", Width: 300, Height: 250, ShouldWatchViewport: new(bool)}
	cfg.AddTargeting = func(types.TargetingContext) map[string]string {
		return map[string]string{"section": "override"}
	}
	s.v.Post(func() {
		_, err := p.Mount(cfg)
		s.Require().NoError(err)
	})

	got := map[string]string{}
	for _, c := range s.rec.Calls() {
		if c.Op == gpt.OpSetTargeting {
			for k, v := range c.Targeting {
				got[k] = v
			}
		}
	}
	s.Equal(map[string]string{"section": "override", "size": "300"}, got)
}

func (s *PageTestSuite) TestHiddenPageWaitsForVisibility() {
	p := s.newPage(types.PageConfig{Units: []types.UnitConfig{
		{AdID: "/1/Top", Width: 300, Height: 250, ShouldWatchViewport: new(bool)},
	}}, WithVisible(false))
	s.v.Post(func() { s.Require().NoError(p.MountAll()) })
	s.v.Advance(time.Minute)
	s.Empty(s.rec.ElementIDs(gpt.OpDisplay))
	s.False(p.Visible())

	s.v.Post(func() { p.SetVisible(true) })
	s.v.Advance(time.Second)
	s.Equal([]string{"top-0"}, s.rec.ElementIDs(gpt.OpDisplay))
}

func (s *PageTestSuite) TestScenarioReplay() {
	sc, err := LoadScenario("testdata/scenario.yaml")
	s.Require().NoError(err)
	res, err := sc.Run()
	s.Require().NoError(err)

	s.Equal(time.Minute, res.Elapsed)
	s.Equal(gpt.OpEnableSingleRequest, res.Calls[0].Op)
	s.Equal(gpt.OpEnableServices, res.Calls[1].Op)

	var displays, refreshes []string
	for _, c := range res.Calls {
		switch c.Op {
		case gpt.OpDisplay:
			displays = append(displays, c.ElementID)
		case gpt.OpRefresh:
			refreshes = append(refreshes, c.ElementID)
			s.Equal("travel", c.Targeting["section"])
			s.Equal(c.ElementID, c.Targeting["slot"])
		}
	}
	s.Equal([]string{"travel/europe-0", "sports-0"}, displays)
	s.Equal([]string{"sports-0", "travel/europe-0"}, refreshes)

	s.Require().Len(res.Impressions, 4)
	s.Equal(types.ImpressionRefresh, res.Impressions[3].Kind)
	s.Equal("travel/europe-0", res.Impressions[3].ElementID)
	s.Equal(loop.Epoch.Add(45*time.Second), res.Impressions[3].At)

	s.Require().Len(res.Units, 2)
	s.Equal(2, res.Units[0].RefreshCount)
	s.True(res.Units[0].CountdownPending)
	s.Equal(2, res.Units[1].RefreshCount)
	s.False(res.Units[1].CountdownPending)
}

func (s *PageTestSuite) TestScenarioValidation() {
	yes := true
	cases := []Scenario{
		{Steps: []Step{{At: "soon", Visible: &yes}}},
		{Steps: []Step{{At: "1s"}}},
		{Steps: []Step{{At: "1s", Visible: &yes, Unmount: "x"}}},
		{Steps: []Step{{At: "2s", Visible: &yes}, {At: "1s", Visible: &yes}}},
		{Steps: []Step{{At: "2s", Visible: &yes}}, Until: "1s"},
		{Steps: []Step{{At: "1s", Unmount: "ghost-0"}}},
	}
	for i, sc := range cases {
		_, err := sc.Run()
		s.ErrorIs(err, types.ErrInvalidScenario, "case %d", i)
	}
}

func (s *PageTestSuite) TestMountManyUnitsOnRealLoop() {
	l := loop.New(loop.DefaultBacklog)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	cfg := types.PageConfig{BatchDelay: "10ms"}
	for i := 0; i < 300; i++ {
		cfg.Units = append(cfg.Units, types.UnitConfig{
			AdID:                fmt.Sprintf("/1/List%d", i),
			Width:               300,
			Height:              250,
			ShouldWatchViewport: new(bool),
		})
	}
	p, err := New(l, s.rec, cfg)
	s.Require().NoError(err)

	mounted := make(chan error, 1)
	go loop.Await(l, func() { mounted <- p.MountAll() })
	select {
	case err := <-mounted:
		s.Require().NoError(err)
	case <-time.After(5 * time.Second):
		s.FailNow("MountAll did not finish")
	}

	s.Eventually(func() bool {
		return s.rec.Count(gpt.OpDisplay, "") == 300
	}, 5*time.Second, 10*time.Millisecond)
	s.Equal(300, s.rec.Count(gpt.OpDefineSlot, ""))
}
