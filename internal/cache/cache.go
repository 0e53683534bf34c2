// Package cache is the staleness layer in front of the aggregator: one result
// per (anime, episode), expiring after the result's own TTL, with concurrent
// requests for the same key collapsed into a single computation.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pokerjest/animeSourceHub/internal/event"
	"github.com/pokerjest/animeSourceHub/internal/logging"
	"github.com/pokerjest/animeSourceHub/internal/model"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ComputeFunc produces a fresh result on a miss. It runs detached from the
// caller's cancellation so one caller leaving does not fail the others, but
// inherits the caller's deadline (slightly shortened) so a short-budget
// caller still gets whatever was gathered in time.
type ComputeFunc func(ctx context.Context) (*model.AggregatedResult, error)

const maxDeadlineMargin = 50 * time.Millisecond

type Stats struct {
	Entries       int   `json:"entries"`
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Computes      int64 `json:"computes"`
	Errors        int64 `json:"errors"`
	Invalidations int64 `json:"invalidations"`
}

type Cache struct {
	backend Backend
	group   singleflight.Group
	bus     event.Bus
	log     *logrus.Entry
	now     func() time.Time

	genMu sync.Mutex
	gen   map[Key]uint64

	hits, misses, computes, errs, invalidations atomic.Int64
}

func New(backend Backend, bus event.Bus) *Cache {
	if backend == nil {
		backend = NewMemory()
	}
	if bus == nil {
		bus = event.Nop{}
	}
	return &Cache{
		backend: backend,
		bus:     bus,
		log:     logging.For("cache"),
		now:     time.Now,
		gen:     make(map[Key]uint64),
	}
}

func (c *Cache) generation(key Key) uint64 {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	return c.gen[key]
}

func (c *Cache) bump(key Key) {
	c.genMu.Lock()
	c.gen[key]++
	c.genMu.Unlock()
}

func (c *Cache) backendError(op string, key Key, err error) {
	c.errs.Add(1)
	ce := &CacheError{Op: op, Key: key, Err: err}
	c.log.Warn(ce.Error())
}

// Peek returns the cached result for key if it exists and has not expired.
func (c *Cache) Peek(ctx context.Context, animeID string, episode int) (*model.AggregatedResult, bool) {
	key := Key{AnimeID: animeID, Episode: episode}
	res, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.backendError("get", key, err)
		return nil, false
	}
	if !ok || res.Expired(c.now()) {
		return nil, false
	}
	return res, true
}

// Stored returns whatever is held for the key, expired or not.
func (c *Cache) Stored(ctx context.Context, animeID string, episode int) (*model.AggregatedResult, bool) {
	key := Key{AnimeID: animeID, Episode: episode}
	res, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.backendError("get", key, err)
		return nil, false
	}
	return res, ok
}

// GetOrCompute returns the fresh cached result or runs compute exactly once
// for all concurrent callers of the same key. Degraded results are handed
// back but never stored.
func (c *Cache) GetOrCompute(ctx context.Context, animeID string, episode int, compute ComputeFunc) (*model.AggregatedResult, error) {
	if res, ok := c.Peek(ctx, animeID, episode); ok {
		c.hits.Add(1)
		return res, nil
	}
	c.misses.Add(1)

	key := Key{AnimeID: animeID, Episode: episode}
	ch := c.group.DoChan(key.String(), func() (interface{}, error) {
		startGen := c.generation(key)
		c.computes.Add(1)

		cctx, cancel := computeContext(ctx)
		defer cancel()
		res, err := compute(cctx)
		if err != nil {
			return nil, err
		}
		if !res.Degraded && c.generation(key) == startGen {
			if err := c.backend.Set(context.WithoutCancel(ctx), key, res); err != nil {
				c.backendError("set", key, err)
			}
		}
		return res, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*model.AggregatedResult).Clone(), nil
	case <-ctx.Done():
		// the computation may have finished right at the deadline
		select {
		case r := <-ch:
			if r.Err == nil {
				return r.Val.(*model.AggregatedResult).Clone(), nil
			}
		default:
		}
		return nil, ctx.Err()
	}
}

// computeContext detaches from ctx's cancellation but keeps its deadline,
// pulled in by a small margin so the result reaches the caller before its
// own ctx fires.
func computeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	dl, ok := ctx.Deadline()
	if !ok {
		return base, func() {}
	}
	margin := time.Until(dl) / 10
	if margin > maxDeadlineMargin {
		margin = maxDeadlineMargin
	}
	return context.WithDeadline(base, dl.Add(-margin))
}

// Invalidate drops one entry. A computation already in flight for the key
// will still answer its waiters but will not be stored.
func (c *Cache) Invalidate(ctx context.Context, animeID string, episode int) {
	key := Key{AnimeID: animeID, Episode: episode}
	c.bump(key)
	c.group.Forget(key.String())
	if err := c.backend.Delete(ctx, key); err != nil {
		c.backendError("delete", key, err)
	}
	c.invalidations.Add(1)
	c.bus.Publish(event.EventCacheInvalidated, map[string]interface{}{
		"animeId":       animeID,
		"episodeNumber": episode,
	})
}

// Replace swaps the stored entry for res without a window in which the key is
// empty. Computations already in flight for the key will not overwrite it.
func (c *Cache) Replace(ctx context.Context, res *model.AggregatedResult) {
	key := Key{AnimeID: res.AnimeID, Episode: res.EpisodeNumber}
	c.bump(key)
	c.group.Forget(key.String())
	if err := c.backend.Set(ctx, key, res); err != nil {
		c.backendError("set", key, err)
	}
	c.bus.Publish(event.EventCacheInvalidated, map[string]interface{}{
		"animeId":       res.AnimeID,
		"episodeNumber": res.EpisodeNumber,
	})
}

// InvalidateAnime drops every cached episode of one title.
func (c *Cache) InvalidateAnime(ctx context.Context, animeID string) int {
	n := 0
	for _, k := range c.Keys(ctx) {
		if k.AnimeID == animeID {
			c.Invalidate(ctx, k.AnimeID, k.Episode)
			n++
		}
	}
	return n
}

// InvalidateOlderThan removes entries fetched more than days ago.
func (c *Cache) InvalidateOlderThan(ctx context.Context, days int) int {
	cutoff := c.now().Add(-time.Duration(days) * 24 * time.Hour)
	n, err := c.backend.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		c.backendError("purge", Key{}, err)
		return 0
	}
	if n > 0 {
		c.invalidations.Add(int64(n))
		c.log.WithField("removed", n).Info("purged stale cache entries")
	}
	return n
}

func (c *Cache) Keys(ctx context.Context) []Key {
	keys, err := c.backend.Keys(ctx)
	if err != nil {
		c.backendError("keys", Key{}, err)
		return nil
	}
	return keys
}

// Entries returns every stored result, expired ones included.
func (c *Cache) Entries(ctx context.Context) []*model.AggregatedResult {
	var out []*model.AggregatedResult
	for _, k := range c.Keys(ctx) {
		res, ok, err := c.backend.Get(ctx, k)
		if err != nil {
			c.backendError("get", k, err)
			continue
		}
		if ok {
			out = append(out, res)
		}
	}
	return out
}

// FindSource locates a source id across stored results and reports every key
// that holds it.
func (c *Cache) FindSource(ctx context.Context, sourceID string) (model.Source, []Key, bool) {
	var (
		found model.Source
		keys  []Key
	)
	for _, res := range c.Entries(ctx) {
		for _, s := range res.Sources {
			if s.ID == sourceID {
				if len(keys) == 0 {
					found = s
				}
				keys = append(keys, Key{AnimeID: res.AnimeID, Episode: res.EpisodeNumber})
				break
			}
		}
	}
	return found, keys, len(keys) > 0
}

func (c *Cache) Stats(ctx context.Context) Stats {
	return Stats{
		Entries:       len(c.Keys(ctx)),
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Computes:      c.computes.Load(),
		Errors:        c.errs.Load(),
		Invalidations: c.invalidations.Load(),
	}
}
