package redis

import (
	"adslots/internal/ports"
	"adslots/internal/types"
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	keyPrefix         = "_adslots_"
	countKeyTemplate  = keyPrefix + "cnt_%s_%s"
	recentKeyTemplate = keyPrefix + "recent_%s_%s"
	fieldDisplays     = "display"
	fieldRefreshes    = "refresh"
)

// ImpressionStore keeps a counter hash and a capped, compressed history list per unit.
type ImpressionStore struct {
	cli *redis.Client
}

var _ ports.ImpressionStore = (*ImpressionStore)(nil)

func NewImpressionStore(cli *redis.Client) *ImpressionStore {
	return &ImpressionStore{cli: cli}
}

func (s *ImpressionStore) Name() string { return "redis" }

func (s *ImpressionStore) Store(ctx context.Context, imp types.Impression) error {
	field, err := countField(imp.Kind)
	if err != nil {
		return err
	}
	encoded, err := EncodeImpression(imp)
	if err != nil {
		return types.Err(types.ErrLedgerAccess, err, "encode impression")
	}
	recentKey := getRecentKey(imp.AdID, imp.Placement)
	_, err = s.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrBy(ctx, getCountKey(imp.AdID, imp.Placement), field, 1)
		p.RPush(ctx, recentKey, encoded)
		p.LTrim(ctx, recentKey, -types.HardLimitRecentItems, -1)
		return nil
	})
	if err != nil {
		return types.Err(types.ErrLedgerAccess, err, "store %s impression of %q", imp.Kind, imp.ElementID)
	}
	return nil
}

func (s *ImpressionStore) Counts(ctx context.Context, adID, placement string) (types.ImpressionCounts, error) {
	out := s.cli.HGetAll(ctx, getCountKey(adID, placement))
	if out.Err() != nil {
		return types.ImpressionCounts{}, types.Err(types.ErrLedgerAccess, out.Err(), "counts of %q", adID)
	}
	m := out.Val()
	if len(m) == 0 {
		return types.ImpressionCounts{}, types.ErrNotFound
	}
	return parseCounts(adID, placement, m)
}

// Recent returns up to n of the unit's latest impressions, most recent last. Entries that no
// longer decode are skipped.
func (s *ImpressionStore) Recent(ctx context.Context, adID, placement string, n int) ([]types.Impression, error) {
	if n <= 0 || n > types.HardLimitRecentItems {
		n = types.HardLimitRecentItems
	}
	out := s.cli.LRange(ctx, getRecentKey(adID, placement), int64(-n), -1)
	if out.Err() != nil {
		return nil, types.Err(types.ErrLedgerAccess, out.Err(), "recent of %q", adID)
	}
	imps := make([]types.Impression, 0, len(out.Val()))
	for _, v := range out.Val() {
		imp, err := DecodeImpression(v)
		if err != nil {
			log.WithError(err).WithField("adId", adID).Warn("skipping undecodable impression")
			continue
		}
		imps = append(imps, imp)
	}
	return imps, nil
}

// ClearAll removes every key this store owns.
func (s *ImpressionStore) ClearAll(ctx context.Context) error {
	out := s.cli.Keys(ctx, keyPrefix+"*")
	if out.Err() != nil {
		return out.Err()
	}
	keys := out.Val()
	if len(keys) == 0 {
		return nil
	}
	return s.cli.Del(ctx, keys...).Err()
}

func parseCounts(adID, placement string, m map[string]string) (types.ImpressionCounts, error) {
	c := types.ImpressionCounts{AdID: adID, Placement: placement}
	var err error
	if v, ok := m[fieldDisplays]; ok {
		if c.Displays, err = strconv.ParseInt(v, 10, 64); err != nil {
			return c, fmt.Errorf("invalid %s count: %w", fieldDisplays, err)
		}
	}
	if v, ok := m[fieldRefreshes]; ok {
		if c.Refreshes, err = strconv.ParseInt(v, 10, 64); err != nil {
			return c, fmt.Errorf("invalid %s count: %w", fieldRefreshes, err)
		}
	}
	return c, nil
}

func countField(kind types.ImpressionKind) (string, error) {
	switch kind {
	case types.ImpressionDisplay:
		return fieldDisplays, nil
	case types.ImpressionRefresh:
		return fieldRefreshes, nil
	}
	return "", types.Err(types.ErrLedgerAccess, nil, "unknown impression kind %q", kind)
}

func getCountKey(adID, placement string) string {
	return fmt.Sprintf(countKeyTemplate, adID, placement)
}

func getRecentKey(adID, placement string) string {
	return fmt.Sprintf(recentKeyTemplate, adID, placement)
}
