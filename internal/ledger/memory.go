package ledger

import (
	"adslots/internal/ports"
	"adslots/internal/types"
	"context"
	"fmt"
	"sync"
)

// MemorySink keeps counts and a bounded history per (ad id, placement) in process.
type MemorySink struct {
	mu     sync.Mutex
	counts map[string]*types.ImpressionCounts
	recent map[string][]types.Impression
}

var _ ports.ImpressionStore = (*MemorySink)(nil)

func NewMemorySink() *MemorySink {
	return &MemorySink{
		counts: make(map[string]*types.ImpressionCounts),
		recent: make(map[string][]types.Impression),
	}
}

func (m *MemorySink) Name() string { return "memory" }

func (m *MemorySink) Store(_ context.Context, imp types.Impression) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := unitKey(imp.AdID, imp.Placement)
	c, ok := m.counts[k]
	if !ok {
		c = &types.ImpressionCounts{AdID: imp.AdID, Placement: imp.Placement}
		m.counts[k] = c
	}
	switch imp.Kind {
	case types.ImpressionDisplay:
		c.Displays++
	case types.ImpressionRefresh:
		c.Refreshes++
	default:
		return types.Err(types.ErrLedgerAccess, nil, "unknown impression kind %q", imp.Kind)
	}
	m.recent[k] = types.AppendRecent(m.recent[k], imp, types.HardLimitRecentItems)
	return nil
}

func (m *MemorySink) Counts(_ context.Context, adID, placement string) (types.ImpressionCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counts[unitKey(adID, placement)]
	if !ok {
		return types.ImpressionCounts{}, types.ErrNotFound
	}
	return *c, nil
}

// Recent returns up to the last n impressions of one unit, most recent last.
func (m *MemorySink) Recent(adID, placement string, n int) []types.Impression {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs := m.recent[unitKey(adID, placement)]
	if n > 0 && n < len(rs) {
		rs = rs[len(rs)-n:]
	}
	out := make([]types.Impression, len(rs))
	copy(out, rs)
	return out
}

// All returns the counts of every unit seen so far.
func (m *MemorySink) All() []types.ImpressionCounts {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.ImpressionCounts, 0, len(m.counts))
	for _, c := range m.counts {
		out = append(out, *c)
	}
	return out
}

func unitKey(adID, placement string) string {
	return fmt.Sprintf("%s|%s", adID, placement)
}
