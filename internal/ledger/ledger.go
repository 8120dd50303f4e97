// Package ledger fans impressions out to persistence and publishing sinks off the event loop.
//
// Record never blocks: impressions go through a bounded backlog and are dropped (and counted)
// when it is full. A single worker drains the backlog, throttled by a token bucket, and writes
// every impression to every sink. Sink errors are logged and never reach the page.
package ledger

import (
	"adslots/internal/metrics"
	"adslots/internal/ports"
	"adslots/internal/types"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DefaultBacklog      = 1024
	DefaultRate         = rate.Limit(200)
	DefaultBurst        = 50
	DefaultStoreTimeout = 5 * time.Second
)

type Ledger struct {
	pageViewID string
	sinks      []ports.ImpressionSink
	limiter    *rate.Limiter
	timeout    time.Duration
	metrics    *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	events chan types.Impression
}

var _ ports.ImpressionRecorder = (*Ledger)(nil)

type Option func(l *Ledger)

// WithBacklog sets how many impressions may wait for the worker before new ones are dropped.
func WithBacklog(n int) Option {
	return func(l *Ledger) { l.events = make(chan types.Impression, n) }
}

// WithRate throttles sink writes to r impressions per second with the given burst.
// rate.Inf disables throttling.
func WithRate(r rate.Limit, burst int) Option {
	return func(l *Ledger) { l.limiter = rate.NewLimiter(r, burst) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithPageViewID overrides the generated page view id.
func WithPageViewID(id string) Option {
	return func(l *Ledger) { l.pageViewID = id }
}

func New(sinks []ports.ImpressionSink, opts ...Option) *Ledger {
	l := &Ledger{
		pageViewID: uuid.NewString(),
		sinks:      sinks,
		limiter:    rate.NewLimiter(DefaultRate, DefaultBurst),
		timeout:    DefaultStoreTimeout,
		events:     make(chan types.Impression, DefaultBacklog),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Ledger) PageViewID() string {
	return l.pageViewID
}

// Record stamps imp with the page view id and hands it to the worker. It never blocks.
func (l *Ledger) Record(imp types.Impression) {
	if err := l.Submit(imp); err != nil {
		log.WithError(err).WithField("elementId", imp.ElementID).Debug("impression not recorded")
	}
}

// Submit is Record with an outcome: ErrLedgerClosed after Close, ErrLedgerAccess when the
// backlog is full.
func (l *Ledger) Submit(imp types.Impression) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return types.ErrLedgerClosed
	}
	if imp.PageViewID == "" {
		imp.PageViewID = l.pageViewID
	}
	select {
	case l.events <- imp:
		return nil
	default:
		l.metrics.Dropped()
		return types.Err(types.ErrLedgerAccess, nil, "backlog full (%d)", cap(l.events))
	}
}

// Run writes impressions to the sinks until the ledger is closed and drained, or ctx is done.
func (l *Ledger) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case imp, ok := <-l.events:
			if !ok {
				return nil
			}
			if err := l.limiter.Wait(ctx); err != nil {
				return err
			}
			l.store(ctx, imp)
		}
	}
}

func (l *Ledger) store(ctx context.Context, imp types.Impression) {
	for _, s := range l.sinks {
		sctx, cancel := context.WithTimeout(ctx, l.timeout)
		err := s.Store(sctx, imp)
		cancel()
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"sink":      s.Name(),
				"elementId": imp.ElementID,
				"kind":      imp.Kind,
			}).Error("failed to store impression")
		}
	}
}

// Close stops accepting impressions. Run returns once the backlog is drained.
func (l *Ledger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.events)
}

// Store returns the first sink that can answer counts, if any.
func (l *Ledger) Store() (ports.ImpressionStore, bool) {
	for _, s := range l.sinks {
		if st, ok := s.(ports.ImpressionStore); ok {
			return st, true
		}
	}
	return nil, false
}

func (l *Ledger) Sinks() []string {
	out := make([]string, 0, len(l.sinks))
	for _, s := range l.sinks {
		out = append(out, s.Name())
	}
	return out
}
