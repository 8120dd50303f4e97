package pub

import (
	"adslots/internal/types"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	arn     string
	payload []byte
	err     error
}

func (f *fakePublisher) PublishRaw(_ context.Context, arn string, payload []byte) error {
	f.arn, f.payload = arn, payload
	return f.err
}

func TestSinkPublishesImpressionJSON(t *testing.T) {
	p := &fakePublisher{}
	s := NewSink(p, "arn:aws:sns:us-east-1:000000000000:impressions")
	imp := types.Impression{
		PageViewID:   "pv",
		Kind:         types.ImpressionRefresh,
		AdID:         "/1/a",
		Placement:    "0",
		ElementID:    "a-0",
		RefreshCount: 2,
		At:           time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.Store(context.Background(), imp))
	require.Equal(t, "arn:aws:sns:us-east-1:000000000000:impressions", p.arn)

	var got map[string]any
	require.NoError(t, json.Unmarshal(p.payload, &got))
	require.Equal(t, "refresh", got["kind"])
	require.Equal(t, "a-0", got["element_id"])
	require.Equal(t, float64(2), got["refresh_count"])
	require.Equal(t, "sns", s.Name())
}

func TestSinkWrapsPublishErrors(t *testing.T) {
	boom := errors.New("throttled")
	s := NewSink(&fakePublisher{err: boom}, "arn")
	err := s.Store(context.Background(), types.Impression{Kind: types.ImpressionDisplay})
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, err, types.ErrLedgerAccess)
}
