package redis

import (
	"adslots/internal/types"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyLayout(t *testing.T) {
	require.Equal(t, "_adslots_cnt_/6355419/Travel_0", getCountKey("/6355419/Travel", "0"))
	require.Equal(t, "_adslots_recent_/6355419/Travel_top", getRecentKey("/6355419/Travel", "top"))
}

func TestImpressionCodec(t *testing.T) {
	imp := types.Impression{
		PageViewID:   "pv",
		Kind:         types.ImpressionRefresh,
		AdID:         "/1/a",
		Placement:    "0",
		ElementID:    "a-0",
		RefreshCount: 4,
		At:           time.Date(2024, 1, 1, 0, 0, 30, 0, time.UTC),
	}
	s, err := EncodeImpression(imp)
	require.NoError(t, err)
	require.NotContains(t, s, "=")

	got, err := DecodeImpression(s)
	require.NoError(t, err)
	require.Equal(t, imp, got)

	_, err = DecodeImpression("not*base64")
	require.Error(t, err)
}

func TestParseCounts(t *testing.T) {
	c, err := parseCounts("/1/a", "0", map[string]string{"display": "1", "refresh": "7"})
	require.NoError(t, err)
	require.Equal(t, types.ImpressionCounts{AdID: "/1/a", Placement: "0", Displays: 1, Refreshes: 7}, c)

	c, err = parseCounts("/1/a", "0", map[string]string{"display": "1"})
	require.NoError(t, err)
	require.Zero(t, c.Refreshes)

	_, err = parseCounts("/1/a", "0", map[string]string{"refresh": "x"})
	require.Error(t, err)
}

func TestCountField(t *testing.T) {
	f, err := countField(types.ImpressionDisplay)
	require.NoError(t, err)
	require.Equal(t, "display", f)
	_, err = countField("click")
	require.ErrorIs(t, err, types.ErrLedgerAccess)
}
