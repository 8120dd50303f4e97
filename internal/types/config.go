package types

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// UnitConfig is the public configuration surface of one ad placement.
// AdID, Width and Height are required; everything else has a default.
// Placement only matters when the same AdID is used more than once on a page, e.g. "top-left"
// and "bottom-right".
// Refresh is the number of seconds between refreshes, 0 disables refreshing.
// RefreshLimit caps the number of impressions (the first one included), 0 means unlimited.
// ShouldWatchViewport defaults to true; when false the unit is always considered in viewport.
// BackgroundRefresh keeps refreshing while the tab is hidden.
// Tracing enables verbose logging keyed by AdID and Placement.
type UnitConfig struct {
	AdID                string `json:"ad_id" yaml:"ad_id"`
	Width               int    `json:"width" yaml:"width"`
	Height              int    `json:"height" yaml:"height"`
	Placement           string `json:"placement,omitempty" yaml:"placement,omitempty"`
	Refresh             int    `json:"refresh,omitempty" yaml:"refresh,omitempty"`
	RefreshLimit        int    `json:"refresh_limit,omitempty" yaml:"refresh_limit,omitempty"`
	ShouldWatchViewport *bool  `json:"should_watch_viewport,omitempty" yaml:"should_watch_viewport,omitempty"`
	BackgroundRefresh   bool   `json:"background_refresh,omitempty" yaml:"background_refresh,omitempty"`
	Tracing             bool   `json:"tracing,omitempty" yaml:"tracing,omitempty"`

	// AddTargeting is invoked before every slot definition and every refresh. Nil is a no-op.
	AddTargeting TargetingFunc `json:"-" yaml:"-"`
}

const (
	DefaultPlacement       = "0"
	DefaultVisibleFraction = 0.5
	DefaultBatchDelay      = time.Second
)

func (c UnitConfig) Validate() error {
	if strings.TrimSpace(c.AdID) == "" {
		return Err(ErrInvalidConfig, nil, "ad_id is required")
	}
	// width and height end up in DefineSlot, which fails silently on anything but numbers
	if c.Width <= 0 || c.Height <= 0 {
		return Err(ErrInvalidConfig, nil, "%q (%s): width and height must be positive numbers", c.AdID, c.PlacementOrDefault())
	}
	if c.Refresh < 0 {
		return Err(ErrInvalidConfig, nil, "%q (%s): refresh must be non-negative. 0 to disable", c.AdID, c.PlacementOrDefault())
	}
	if c.RefreshLimit < 0 {
		return Err(ErrInvalidConfig, nil, "%q (%s): refresh_limit must be non-negative. 0 for no limit", c.AdID, c.PlacementOrDefault())
	}
	return nil
}

func (c UnitConfig) PlacementOrDefault() string {
	if c.Placement == "" {
		return DefaultPlacement
	}
	return c.Placement
}

func (c UnitConfig) WatchViewport() bool {
	return c.ShouldWatchViewport == nil || *c.ShouldWatchViewport
}

func (c UnitConfig) RefreshInterval() time.Duration {
	return time.Duration(c.Refresh) * time.Second
}

var (
	leadingSegment = regexp.MustCompile(`^/?[^/]+/`)
	camelBoundary  = regexp.MustCompile(`([a-z\d])([A-Z])`)
	spaceOrScore   = regexp.MustCompile(`[ _]`)
)

// ElementID derives the page-unique element id from AdID and Placement: the network code
// segment is stripped, the placement appended and the result dasherized.
// "/6355419/Travel/Europe" with placement "0" becomes "travel/europe-0".
func (c UnitConfig) ElementID() string {
	id := leadingSegment.ReplaceAllString(c.AdID, "")
	id = fmt.Sprintf("%s-%s", id, c.PlacementOrDefault())
	id = strings.ToLower(camelBoundary.ReplaceAllString(id, "${1}_${2}"))
	return spaceOrScore.ReplaceAllString(id, "-")
}

// Style is the inline CSS reserving the ad's box.
func (c UnitConfig) Style() string {
	return fmt.Sprintf("width:%dpx; height:%dpx;", c.Width, c.Height)
}

// PageConfig describes every placement of a page plus the page-wide knobs.
// Targeting maps a targeting key to a JMESPath expression evaluated against
// {"page": Context, "unit": <unit info>}; see the targeting package.
type PageConfig struct {
	Units           []UnitConfig      `json:"units" yaml:"units"`
	BatchDelay      string            `json:"batch_delay,omitempty" yaml:"batch_delay,omitempty"`
	VisibleFraction float64           `json:"visible_fraction,omitempty" yaml:"visible_fraction,omitempty"`
	Targeting       map[string]string `json:"targeting,omitempty" yaml:"targeting,omitempty"`
	Context         map[string]any    `json:"context,omitempty" yaml:"context,omitempty"`
}

func (p PageConfig) Validate() error {
	if _, err := p.BatchDelayOrDefault(); err != nil {
		return err
	}
	if p.VisibleFraction < 0 || p.VisibleFraction > 1 {
		return Err(ErrInvalidConfig, ErrInvalidVisibility, "visible_fraction %v", p.VisibleFraction)
	}
	seen := make(map[string]struct{}, len(p.Units))
	for i, u := range p.Units {
		if err := u.Validate(); err != nil {
			return Err(ErrInvalidConfig, err, "units[%d]", i)
		}
		id := u.ElementID()
		if _, ok := seen[id]; ok {
			return Err(ErrDuplicateElement, nil, "units[%d]: element id %q already used on this page, set a distinct placement", i, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func (p PageConfig) BatchDelayOrDefault() (time.Duration, error) {
	if p.BatchDelay == "" {
		return DefaultBatchDelay, nil
	}
	d, err := time.ParseDuration(p.BatchDelay)
	if err != nil {
		return 0, Err(ErrInvalidConfig, err, "batch_delay")
	}
	if d < 0 {
		return 0, Err(ErrInvalidConfig, nil, "batch_delay must be non-negative")
	}
	return d, nil
}

func (p PageConfig) VisibleFractionOrDefault() float64 {
	if p.VisibleFraction == 0 {
		return DefaultVisibleFraction
	}
	return p.VisibleFraction
}
