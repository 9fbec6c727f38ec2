package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/atmx/fund-engine/internal/metrics"
	"github.com/atmx/fund-engine/internal/model"
	"github.com/atmx/fund-engine/internal/token"
)

const refreshTimeout = 15 * time.Second

// Snapshot is an immutable set of quotes fetched together. It is never
// modified after being published.
type Snapshot struct {
	Quotes    map[string]model.Quote `json:"quotes"`
	FetchedAt time.Time              `json:"fetched_at"`
	Tokens    []string               `json:"tokens"` // tokens requested, quoted or not
}

func (s *Snapshot) covers(tokens []string) bool {
	have := make(map[string]struct{}, len(s.Tokens))
	for _, t := range s.Tokens {
		have[t] = struct{}{}
	}
	for _, t := range tokens {
		if _, ok := have[t]; !ok {
			return false
		}
	}
	return true
}

func (s *Snapshot) subset(tokens []string) map[string]model.Quote {
	out := make(map[string]model.Quote, len(tokens))
	for _, t := range tokens {
		if q, ok := s.Quotes[t]; ok {
			out[t] = q
		}
	}
	return out
}

// SnapshotStore persists snapshots outside the process so that instances
// share one upstream budget and a cold start has something to serve.
type SnapshotStore interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, s *Snapshot) error
}

// Cache serves live quotes from the latest snapshot and refreshes it from
// the source once it is older than the TTL. Concurrent refreshes for the same
// token set collapse into one upstream call. When a refresh fails the last
// snapshot is served regardless of age, and no further upstream attempt is
// made until the TTL has passed since the failure.
type Cache struct {
	source QuoteSource
	ttl    time.Duration
	l2     SnapshotStore

	snap  atomic.Pointer[Snapshot]
	group singleflight.Group
	now   func() time.Time

	mu        sync.Mutex
	onRefresh func(*Snapshot)
	failedAt  time.Time
}

// NewCache wraps source. l2 may be nil.
func NewCache(source QuoteSource, ttl time.Duration, l2 SnapshotStore) *Cache {
	return &Cache{
		source: source,
		ttl:    ttl,
		l2:     l2,
		now:    time.Now,
	}
}

// OnRefresh registers fn to run after every successful upstream refresh.
func (c *Cache) OnRefresh(fn func(*Snapshot)) {
	c.mu.Lock()
	c.onRefresh = fn
	c.mu.Unlock()
}

// Current returns the latest snapshot, or nil if none was ever fetched.
func (c *Cache) Current() *Snapshot {
	return c.snap.Load()
}

func (c *Cache) fresh(s *Snapshot) bool {
	return s != nil && c.now().Sub(s.FetchedAt) < c.ttl
}

func (c *Cache) backingOff() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.failedAt.IsZero() && c.now().Sub(c.failedAt) < c.ttl
}

func (c *Cache) setFailed(t time.Time) {
	c.mu.Lock()
	c.failedAt = t
	c.mu.Unlock()
}

// Quotes returns live quotes for tokens. Tokens without a live quote are
// absent from the result. USDC is never requested upstream.
func (c *Cache) Quotes(ctx context.Context, tokens []string) (map[string]model.Quote, error) {
	want := upstreamTokens(tokens)
	if len(want) == 0 {
		return map[string]model.Quote{}, nil
	}

	cur := c.snap.Load()
	if c.fresh(cur) && cur.covers(want) {
		return cur.subset(want), nil
	}
	if cur != nil && c.backingOff() {
		metrics.StaleQuoteServes.Inc()
		return cur.subset(want), nil
	}

	snap, err := c.refresh(ctx, want, false)
	if err == nil {
		return snap.subset(want), nil
	}

	if last := c.snap.Load(); last != nil {
		metrics.StaleQuoteServes.Inc()
		slog.Warn("serving stale quotes",
			"err", err,
			"age", c.now().Sub(last.FetchedAt).Round(time.Second).String(),
		)
		return last.subset(want), nil
	}
	return nil, fmt.Errorf("%w: %v", ErrNoSnapshot, err)
}

// Refresh fetches tokens upstream even if the current snapshot is fresh.
func (c *Cache) Refresh(ctx context.Context, tokens []string) (*Snapshot, error) {
	want := upstreamTokens(tokens)
	if len(want) == 0 {
		return c.snap.Load(), nil
	}
	return c.refresh(ctx, want, true)
}

func (c *Cache) refresh(ctx context.Context, want []string, force bool) (*Snapshot, error) {
	// Widen the request to what is already cached so a smaller token set
	// never shrinks the snapshot.
	if cur := c.snap.Load(); cur != nil {
		want = token.Set(append(append([]string{}, want...), cur.Tokens...))
	}
	key := strings.Join(want, ",")

	v, err, _ := c.group.Do(key, func() (any, error) {
		// The refresh outlives any single caller's cancellation.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		if !force {
			if shared := c.loadShared(rctx); shared != nil && c.fresh(shared) && shared.covers(want) {
				c.snap.Store(shared)
				return shared, nil
			}
		}

		start := c.now()
		quotes, err := c.source.FetchQuotes(rctx, want)
		metrics.QuoteFetchLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.QuoteFetches.WithLabelValues("error").Inc()
			c.setFailed(c.now())
			return nil, err
		}
		metrics.QuoteFetches.WithLabelValues("ok").Inc()
		c.setFailed(time.Time{})

		snap := &Snapshot{Quotes: quotes, FetchedAt: c.now(), Tokens: want}
		c.snap.Store(snap)
		slog.Debug("quote snapshot refreshed", "tokens", len(want), "quoted", len(quotes))

		if c.l2 != nil {
			if err := c.l2.Save(rctx, snap); err != nil {
				slog.Warn("shared quote snapshot save failed", "err", err)
			}
		}

		c.mu.Lock()
		fn := c.onRefresh
		c.mu.Unlock()
		if fn != nil {
			fn(snap)
		}
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (c *Cache) loadShared(ctx context.Context) *Snapshot {
	if c.l2 == nil {
		return nil
	}
	s, err := c.l2.Load(ctx)
	if err != nil {
		slog.Warn("shared quote snapshot load failed", "err", err)
		return nil
	}
	return s
}

// Seed loads the shared snapshot, if any, so a cold process can serve
// stale quotes before its first successful fetch.
func (c *Cache) Seed(ctx context.Context) bool {
	s := c.loadShared(ctx)
	if s == nil {
		return false
	}
	c.snap.CompareAndSwap(nil, s)
	return true
}

func upstreamTokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range token.Set(tokens) {
		if !token.IsCash(t) {
			out = append(out, t)
		}
	}
	return out
}
