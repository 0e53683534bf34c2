package service

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/pokerjest/animeSourceHub/internal/cache"
	"github.com/pokerjest/animeSourceHub/internal/event"
	"github.com/pokerjest/animeSourceHub/internal/model"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

type BatchReport struct {
	Updated int      `json:"updated"`
	Failed  int      `json:"failed"`
	Skipped []string `json:"skipped"` // titles with nothing cached
}

// BatchUpdate re-aggregates every cached episode of the given titles. Only
// the listed providers are re-queried; an empty list means all of them.
func (s *SourceService) BatchUpdate(ctx context.Context, animeIDs []string, providers []model.Provider) (BatchReport, error) {
	report := BatchReport{Skipped: []string{}}
	if len(animeIDs) == 0 {
		return report, invalid("animeIds", "must not be empty")
	}
	for _, id := range animeIDs {
		if err := validateAnimeID(id); err != nil {
			return report, err
		}
	}
	if err := validateProviders(providers); err != nil {
		return report, err
	}
	animeIDs = lo.Uniq(animeIDs)

	byAnime := lo.GroupBy(s.cache.Keys(ctx), func(k cache.Key) string { return k.AnimeID })
	var keys []cache.Key
	for _, id := range animeIDs {
		if len(byAnime[id]) == 0 {
			report.Skipped = append(report.Skipped, id)
			continue
		}
		keys = append(keys, byAnime[id]...)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.BatchConcurrency)
	for _, k := range keys {
		g.Go(func() error {
			err := s.refreshKey(gctx, k, providers)

			mu.Lock()
			if err != nil {
				report.Failed++
				s.log.WithField("key", k.String()).Warnf("batch refresh failed: %v", err)
			} else {
				report.Updated++
			}
			done := report.Updated + report.Failed
			mu.Unlock()

			s.bus.Publish(event.EventBatchProgress, map[string]interface{}{
				"animeId":       k.AnimeID,
				"episodeNumber": k.Episode,
				"done":          done,
				"total":         len(keys),
				"ok":            err == nil,
			})
			// one failing episode must not cancel the rest
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, ctx.Err()
}

// refreshKey recomputes one entry and swaps it in. A refresh in which every
// re-queried provider failed leaves the stored entry untouched.
func (s *SourceService) refreshKey(ctx context.Context, k cache.Key, providers []model.Provider) error {
	var (
		res *model.AggregatedResult
		err error
	)
	if prev, ok := s.cache.Stored(ctx, k.AnimeID, k.Episode); ok {
		res, err = s.agg.Refresh(ctx, prev, providers)
	} else {
		res, err = s.agg.Aggregate(ctx, k.AnimeID, k.Episode, providers, false)
	}
	if err != nil {
		return err
	}

	queried := providers
	if len(queried) == 0 {
		queried = s.agg.Providers()
	}
	failed := lo.Every(res.DegradedProviders, lo.Map(queried, func(p model.Provider, _ int) string { return string(p) }))
	if res.Degraded || (len(queried) > 0 && failed) {
		return errors.Errorf("no provider answered for %s", k)
	}
	s.cache.Replace(ctx, res)
	return nil
}
