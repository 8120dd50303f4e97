package api

import (
	"sync"
	"time"
)

// ttlCache is a small in-process cache with lazy expiration on get. It keeps impression count
// reads off remote stores while a dashboard polls.
type ttlCache[K comparable, V any] struct {
	mu   sync.RWMutex
	ttl  time.Duration
	now  func() time.Time
	data map[K]ttlEntry[V]
}

type ttlEntry[V any] struct {
	val V
	exp time.Time
}

func newTTLCache[K comparable, V any](ttl time.Duration) *ttlCache[K, V] {
	return &ttlCache[K, V]{ttl: ttl, now: time.Now, data: make(map[K]ttlEntry[V])}
}

func (c *ttlCache[K, V]) get(k K) (V, bool) {
	if c == nil {
		var zero V
		return zero, false
	}
	c.mu.RLock()
	e, ok := c.data[k]
	c.mu.RUnlock()
	if !ok || c.now().After(e.exp) {
		var zero V
		return zero, false
	}
	return e.val, true
}

func (c *ttlCache[K, V]) set(k K, v V) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.data[k] = ttlEntry[V]{val: v, exp: c.now().Add(c.ttl)}
	c.mu.Unlock()
}
