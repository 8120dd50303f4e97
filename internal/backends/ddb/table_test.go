package ddb

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUnitKeyLayout(t *testing.T) {
	pk := pkUnit("/6355419/Travel/Europe", "top")
	require.Equal(t, "UNIT#/6355419/Travel/Europe#top", pk)
	require.True(t, strings.HasSuffix(pkUnit("/1/a", "0"), "#/1/a#0"))
}

func TestImpressionSortKeysOrderByTime(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := skImpression(t0, "pv")
	b := skImpression(t0.Add(time.Millisecond), "pv")
	c := skImpression(t0.Add(time.Hour), "pv")
	require.True(t, strings.HasPrefix(a, "IMP#"))
	require.Less(t, a, b)
	require.Less(t, b, c)
}
