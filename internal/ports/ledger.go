package ports

import (
	"context"

	"adslots/internal/types"
)

// ImpressionRecorder accepts impressions from the event loop. It MUST NOT block.
type ImpressionRecorder interface {
	Record(imp types.Impression)
}

// ImpressionSink persists or forwards impressions off the event loop.
type ImpressionSink interface {
	Name() string
	Store(ctx context.Context, imp types.Impression) error
}

// ImpressionStore is a sink that can also answer aggregated counts.
// Counts MUST return types.ErrNotFound when nothing was recorded for the unit.
type ImpressionStore interface {
	ImpressionSink
	Counts(ctx context.Context, adID, placement string) (types.ImpressionCounts, error)
}

type Publisher interface {
	PublishRaw(ctx context.Context, arn string, payload []byte) error
}
