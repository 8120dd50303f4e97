// Package tolerance converts a required visible-area fraction into the directional margins a
// viewport watcher uses to decide whether an ad counts as "in viewport".
package tolerance

import (
	"adslots/internal/ports"
	"adslots/internal/types"
	"math"
)

// Compute treats the ad as a centered rectangle shrunk uniformly until its area is
// visibleFraction of the original. The margin on each axis is half the size difference, so an
// element intersecting the viewport by at least visibleFraction of its area reports as inside.
func Compute(width, height, visibleFraction float64) (ports.Margins, error) {
	if !(visibleFraction > 0 && visibleFraction <= 1) {
		return ports.Margins{}, types.Err(types.ErrInvalidConfig, types.ErrInvalidVisibility, "got %v", visibleFraction)
	}
	if width < 0 || height < 0 {
		return ports.Margins{}, types.Err(types.ErrInvalidConfig, nil, "negative size %vx%v", width, height)
	}
	ratio := 1 / math.Sqrt(1/visibleFraction)

	horizontal := (width - width*ratio) / 2
	vertical := (height - height*ratio) / 2

	return ports.Margins{
		Top:    vertical,
		Bottom: vertical,
		Left:   horizontal,
		Right:  horizontal,
	}, nil
}
