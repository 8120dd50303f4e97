// Package targeting builds targeting hooks from configuration.
//
// Each targeting key maps to a JMESPath expression evaluated against
//
//	{"page": <page context>, "unit": {"ad_id", "placement", "element_id", "width", "height", "refresh_count"}}
//
// Strings are used as is, other values are JSON-encoded, and a null result leaves the key unset.
package targeting

import (
	"adslots/internal/types"
	"sort"

	"github.com/jmespath/go-jmespath"
	log "github.com/sirupsen/logrus"
)

type rule struct {
	key  string
	expr *jmespath.JMESPath
}

// Compile turns key → expression pairs into a TargetingFunc. It returns nil, a no-op hook,
// when there is nothing to compile.
func Compile(exprs map[string]string, pageContext map[string]any) (types.TargetingFunc, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(exprs))
	for k := range exprs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rules := make([]rule, 0, len(keys))
	for _, k := range keys {
		expr, err := jmespath.Compile(exprs[k])
		if err != nil {
			return nil, types.Err(types.ErrInvalidTargeting, err, "key %q", k)
		}
		rules = append(rules, rule{key: k, expr: expr})
	}

	return func(tc types.TargetingContext) map[string]string {
		doc := map[string]any{
			"page": pageContext,
			"unit": map[string]any{
				"ad_id":         tc.AdID,
				"placement":     tc.Placement,
				"element_id":    tc.ElementID,
				"width":         float64(tc.Width),
				"height":        float64(tc.Height),
				"refresh_count": float64(tc.RefreshCount),
			},
		}
		out := make(map[string]string, len(rules))
		for _, r := range rules {
			v, err := EvalString(r.expr, doc)
			if err != nil {
				log.WithError(err).WithField("key", r.key).Warn("targeting expression failed")
				continue
			}
			if v != nil {
				out[r.key] = *v
			}
		}
		return out
	}, nil
}

// Chain merges the pairs of several hooks; later hooks win on key collisions. Nil hooks are
// skipped.
func Chain(fns ...types.TargetingFunc) types.TargetingFunc {
	var live []types.TargetingFunc
	for _, fn := range fns {
		if fn != nil {
			live = append(live, fn)
		}
	}
	switch len(live) {
	case 0:
		return nil
	case 1:
		return live[0]
	}
	return func(tc types.TargetingContext) map[string]string {
		out := map[string]string{}
		for _, fn := range live {
			for k, v := range fn(tc) {
				out[k] = v
			}
		}
		return out
	}
}

// Pairs evaluates fn and returns its pairs as sorted [key, value] tuples, so slots receive
// targeting in a stable order. A nil fn yields nothing.
func Pairs(fn types.TargetingFunc, tc types.TargetingContext) [][2]string {
	if fn == nil {
		return nil
	}
	m := fn(tc)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([][2]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, [2]string{k, m[k]})
	}
	return out
}
