// Package service is the query surface over the cache and aggregator. It
// validates input, picks between cached and fresh results and shapes views
// of them; it never writes into a cached result.
package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/pokerjest/animeSourceHub/internal/cache"
	"github.com/pokerjest/animeSourceHub/internal/event"
	"github.com/pokerjest/animeSourceHub/internal/logging"
	"github.com/pokerjest/animeSourceHub/internal/model"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// Aggregator is the part of aggregator.Aggregator the service drives.
type Aggregator interface {
	Aggregate(ctx context.Context, animeID string, episode int, providers []model.Provider, checkAvailability bool) (*model.AggregatedResult, error)
	Refresh(ctx context.Context, prev *model.AggregatedResult, providers []model.Provider) (*model.AggregatedResult, error)
	Providers() []model.Provider
}

// HealthReporter exposes per-provider health snapshots.
type HealthReporter interface {
	Snapshot(providers []model.Provider) []model.ProviderHealth
}

// Store holds overrides and id mappings.
type Store interface {
	SetOverride(ctx context.Context, sourceID string, available bool) (model.SourceOverride, error)
	PurgeOverrides(ctx context.Context, olderThan time.Time) (int64, error)
	SetMapping(ctx context.Context, animeID string, p model.Provider, externalID string) error
	Mappings(ctx context.Context, animeID string) ([]model.ProviderMapping, error)
}

type Options struct {
	DefaultLimit     int
	BatchConcurrency int
}

// Query carries the optional knobs of a sources request.
type Query struct {
	Quality           string
	Limit             int
	CheckAvailability bool
	ForceRefresh      bool
}

// Page is a filtered, truncated view of one aggregated result.
type Page struct {
	AnimeID             string         `json:"animeId"`
	EpisodeNumber       int            `json:"episodeNumber"`
	Sources             []model.Source `json:"sources"`
	Truncated           bool           `json:"truncated"`
	FetchedAt           time.Time      `json:"fetchedAt"`
	AvailabilityChecked bool           `json:"availabilityChecked"`
	DegradedProviders   []string       `json:"degradedProviders"`
	Degraded            bool           `json:"degraded"`
}

type SourceService struct {
	agg    Aggregator
	health HealthReporter
	cache  *cache.Cache
	store  Store
	bus    event.Bus
	opts   Options
	log    *logrus.Entry
}

func NewSourceService(agg Aggregator, health HealthReporter, c *cache.Cache, store Store, bus event.Bus, opts Options) *SourceService {
	if opts.DefaultLimit <= 0 || opts.DefaultLimit > MaxLimit {
		opts.DefaultLimit = DefaultLimit
	}
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = 4
	}
	if bus == nil {
		bus = event.Nop{}
	}
	return &SourceService{
		agg:    agg,
		health: health,
		cache:  c,
		store:  store,
		bus:    bus,
		opts:   opts,
		log:    logging.For("service"),
	}
}

// resolve returns a result for the key, honouring the refresh and probe flags.
func (s *SourceService) resolve(ctx context.Context, animeID string, episode int, q Query) (*model.AggregatedResult, error) {
	compute := func(cctx context.Context) (*model.AggregatedResult, error) {
		return s.agg.Aggregate(cctx, animeID, episode, nil, q.CheckAvailability)
	}

	if q.ForceRefresh {
		s.cache.Invalidate(ctx, animeID, episode)
	}
	res, err := s.cache.GetOrCompute(ctx, animeID, episode, compute)
	if err != nil {
		return nil, err
	}
	// a cached result that was never probed cannot answer a probe request
	if q.CheckAvailability && !res.AvailabilityChecked {
		s.cache.Invalidate(ctx, animeID, episode)
		return s.cache.GetOrCompute(ctx, animeID, episode, compute)
	}
	return res, nil
}

func pageOf(res *model.AggregatedResult, sources []model.Source, truncated bool) *Page {
	if sources == nil {
		sources = []model.Source{}
	}
	degraded := res.DegradedProviders
	if degraded == nil {
		degraded = []string{}
	}
	return &Page{
		AnimeID:             res.AnimeID,
		EpisodeNumber:       res.EpisodeNumber,
		Sources:             sources,
		Truncated:           truncated,
		FetchedAt:           res.FetchedAt,
		AvailabilityChecked: res.AvailabilityChecked,
		DegradedProviders:   degraded,
		Degraded:            res.Degraded,
	}
}

// GetSources returns the ranked sources for one episode, optionally filtered
// to one quality and truncated to Limit entries.
func (s *SourceService) GetSources(ctx context.Context, animeID string, episode int, q Query) (*Page, error) {
	if err := validateKey(animeID, episode); err != nil {
		return nil, err
	}
	if err := q.validate(s.opts.DefaultLimit); err != nil {
		return nil, err
	}

	res, err := s.resolve(ctx, animeID, episode, q)
	if err != nil {
		return nil, err
	}

	sources := res.Sources
	if q.Quality != "" {
		sources = lo.Filter(sources, func(src model.Source, _ int) bool {
			return src.Quality == model.Quality(q.Quality)
		})
	}
	truncated := len(sources) > q.Limit
	if truncated {
		sources = sources[:q.Limit]
	}
	return pageOf(res, sources, truncated), nil
}

// GetBestSources keeps the highest-priority playable source of each provider.
func (s *SourceService) GetBestSources(ctx context.Context, animeID string, episode int, q Query) (*Page, error) {
	if err := validateKey(animeID, episode); err != nil {
		return nil, err
	}
	res, err := s.resolve(ctx, animeID, episode, q)
	if err != nil {
		return nil, err
	}
	playable := lo.Filter(res.Sources, func(src model.Source, _ int) bool { return src.Playable() })
	best := lo.UniqBy(playable, func(src model.Source) model.Provider { return src.Provider })
	return pageOf(res, best, false), nil
}

// GetActiveSources keeps only sources confirmed available.
func (s *SourceService) GetActiveSources(ctx context.Context, animeID string, episode int, q Query) (*Page, error) {
	if err := validateKey(animeID, episode); err != nil {
		return nil, err
	}
	res, err := s.resolve(ctx, animeID, episode, q)
	if err != nil {
		return nil, err
	}
	active := lo.Filter(res.Sources, func(src model.Source, _ int) bool {
		return src.Status == model.StatusAvailable
	})
	return pageOf(res, active, false), nil
}

// ProviderStatus reports health for every known or configured provider.
func (s *SourceService) ProviderStatus() []model.ProviderHealth {
	enabled := s.agg.Providers()
	all := lo.Uniq(append(append([]model.Provider{}, model.KnownProviders...), enabled...))
	list := s.health.Snapshot(all)
	for i := range list {
		list[i].Enabled = lo.Contains(enabled, model.Provider(list[i].Provider))
	}
	return list
}

type SourceStats struct {
	Cache      cache.Stats    `json:"cache"`
	Episodes   int            `json:"episodes"`
	Sources    int            `json:"sources"`
	ByProvider map[string]int `json:"byProvider"`
	ByStatus   map[string]int `json:"byStatus"`
	ByQuality  map[string]int `json:"byQuality"`
}

// Stats summarises everything currently held in the cache.
func (s *SourceService) Stats(ctx context.Context) SourceStats {
	entries := s.cache.Entries(ctx)
	all := lo.FlatMap(entries, func(r *model.AggregatedResult, _ int) []model.Source { return r.Sources })

	return SourceStats{
		Cache:      s.cache.Stats(ctx),
		Episodes:   len(entries),
		Sources:    len(all),
		ByProvider: lo.CountValuesBy(all, func(src model.Source) string { return string(src.Provider) }),
		ByStatus:   lo.CountValuesBy(all, func(src model.Source) string { return string(src.Status) }),
		ByQuality:  lo.CountValuesBy(all, func(src model.Source) string { return string(src.Quality) }),
	}
}

// SetAvailability records a manual override and drops every cached result
// holding the source so the next read re-ranks with it applied.
func (s *SourceService) SetAvailability(ctx context.Context, sourceID string, available bool) (model.Source, error) {
	if sourceID == "" {
		return model.Source{}, invalid("sourceId", "must not be empty")
	}
	src, keys, ok := s.cache.FindSource(ctx, sourceID)
	if !ok {
		return model.Source{}, ErrSourceNotFound
	}
	o, err := s.store.SetOverride(ctx, sourceID, available)
	if err != nil {
		return model.Source{}, err
	}
	for _, k := range keys {
		s.cache.Invalidate(ctx, k.AnimeID, k.Episode)
	}

	if available {
		src.Status = model.StatusAvailable
	} else {
		src.Status = model.StatusUnavailable
	}
	src.LastChecked = &o.UpdatedAt
	s.log.WithFields(logrus.Fields{
		"source":    sourceID,
		"available": available,
		"entries":   len(keys),
	}).Info("availability overridden")
	return src, nil
}

type CleanupReport struct {
	Removed          int   `json:"removed"`
	OverridesRemoved int64 `json:"overridesRemoved"`
}

// Cleanup drops cached results and overrides older than days.
func (s *SourceService) Cleanup(ctx context.Context, days int) (CleanupReport, error) {
	if days < 1 {
		return CleanupReport{}, invalid("days", "must be >= 1, got %d", days)
	}
	removed := s.cache.InvalidateOlderThan(ctx, days)
	purged, err := s.store.PurgeOverrides(ctx, time.Now().Add(-time.Duration(days)*24*time.Hour))
	if err != nil {
		return CleanupReport{Removed: removed}, errors.Wrap(err, "cleanup overrides")
	}
	return CleanupReport{Removed: removed, OverridesRemoved: purged}, nil
}

func (s *SourceService) SetMapping(ctx context.Context, animeID string, p model.Provider, externalID string) error {
	if err := validateAnimeID(animeID); err != nil {
		return err
	}
	if !p.Valid() {
		return invalid("provider", "unknown provider %q", p)
	}
	if externalID == "" {
		return invalid("externalId", "must not be empty")
	}
	if err := s.store.SetMapping(ctx, animeID, p, externalID); err != nil {
		return err
	}
	// results resolved with the old id are stale now
	s.cache.InvalidateAnime(ctx, animeID)
	return nil
}

func (s *SourceService) Mappings(ctx context.Context, animeID string) ([]model.ProviderMapping, error) {
	if err := validateAnimeID(animeID); err != nil {
		return nil, err
	}
	return s.store.Mappings(ctx, animeID)
}
