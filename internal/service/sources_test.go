package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pokerjest/animeSourceHub/internal/aggregator"
	"github.com/pokerjest/animeSourceHub/internal/cache"
	"github.com/pokerjest/animeSourceHub/internal/db"
	"github.com/pokerjest/animeSourceHub/internal/model"
	"github.com/pokerjest/animeSourceHub/internal/provider"
	"github.com/pokerjest/animeSourceHub/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	name    model.Provider
	delay   time.Duration
	quality []model.Quality
	calls   atomic.Int32
	fail    bool
	tag     string
}

func (a *stubAdapter) Name() model.Provider { return a.name }

func (a *stubAdapter) Fetch(ctx context.Context, animeID string, episode int) ([]model.Source, error) {
	a.calls.Add(1)
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, &provider.Error{Provider: a.name, Kind: provider.KindTimeout, Err: ctx.Err()}
		}
	}
	if a.fail {
		return nil, &provider.Error{Provider: a.name, Kind: provider.KindHTTP, Status: 502}
	}
	out := make([]model.Source, 0, len(a.quality))
	for i, q := range a.quality {
		url := fmt.Sprintf("https://%s.example/%s/%d/%d%s.m3u8", a.name, animeID, episode, i, a.tag)
		out = append(out, model.Source{
			ID:            model.SourceID(a.name, animeID, episode, url),
			AnimeID:       animeID,
			EpisodeNumber: episode,
			Provider:      a.name,
			Quality:       q,
			SourceURL:     url,
			Title:         model.DefaultTitle(a.name, q),
			Status:        model.StatusUnknown,
		})
	}
	return out, nil
}

type allAvailable struct{ calls atomic.Int32 }

func (p *allAvailable) ProbeAll(_ context.Context, sources []model.Source) []model.Source {
	p.calls.Add(1)
	now := time.Now()
	out := make([]model.Source, len(sources))
	for i, s := range sources {
		s.Status = model.StatusAvailable
		s.LastChecked = &now
		out[i] = s
	}
	return out
}

type fixture struct {
	svc    *SourceService
	agg    *aggregator.Aggregator
	cache  *cache.Cache
	store  *store.Store
	prober *allAvailable
}

func newFixture(t *testing.T, timeout time.Duration, adapters ...provider.Adapter) *fixture {
	t.Helper()
	conn, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			sqlDB.Close()
		}
	})
	st := store.New(conn)
	prober := &allAvailable{}
	agg := aggregator.New(adapters, prober, st, nil, aggregator.Options{
		Timeout:       timeout,
		ProviderOrder: []string{"aniliberty", "anilibria", "shikimori", "jikan", "anilist"},
	})
	c := cache.New(cache.NewMemory(), nil)
	svc := NewSourceService(agg, agg.Health(), c, st, nil, Options{})
	return &fixture{svc: svc, agg: agg, cache: c, store: st, prober: prober}
}

func TestGetSources_Validation(t *testing.T) {
	f := newFixture(t, time.Second, &stubAdapter{name: model.ProviderJikan})
	ctx := context.Background()

	cases := []struct {
		name    string
		animeID string
		episode int
		q       Query
		field   string
	}{
		{"empty id", "", 1, Query{}, "animeId"},
		{"bad chars", "a/b", 1, Query{}, "animeId"},
		{"episode zero", "x", 0, Query{}, "episode"},
		{"bad quality", "x", 1, Query{Quality: "999p"}, "quality"},
		{"negative limit", "x", 1, Query{Limit: -1}, "limit"},
		{"limit too large", "x", 1, Query{Limit: 101}, "limit"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.GetSources(ctx, tc.animeID, tc.episode, tc.q)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestGetSources_LimitAndTruncation(t *testing.T) {
	ten := make([]model.Quality, 10)
	for i := range ten {
		ten[i] = model.Quality720p
	}
	f := newFixture(t, time.Second, &stubAdapter{name: model.ProviderJikan, quality: ten})

	page, err := f.svc.GetSources(context.Background(), "x", 1, Query{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, page.Sources, 3)
	assert.True(t, page.Truncated)
	for i, s := range page.Sources {
		assert.Equal(t, i+1, s.Priority)
	}

	page, err = f.svc.GetSources(context.Background(), "x", 1, Query{})
	require.NoError(t, err)
	assert.Len(t, page.Sources, 10)
	assert.False(t, page.Truncated)

	// the view never shrinks the cached result
	stored, ok := f.cache.Peek(context.Background(), "x", 1)
	require.True(t, ok)
	assert.Len(t, stored.Sources, 10)
}

func TestGetSources_QualityFilter(t *testing.T) {
	f := newFixture(t, time.Second, &stubAdapter{
		name:    model.ProviderAnilibria,
		quality: []model.Quality{model.Quality480p, model.Quality720p, model.Quality1080p},
	})
	page, err := f.svc.GetSources(context.Background(), "x", 2, Query{Quality: "720p"})
	require.NoError(t, err)
	require.Len(t, page.Sources, 1)
	assert.Equal(t, model.Quality720p, page.Sources[0].Quality)
}

func TestGetSources_SlowProviderDegradesGracefully(t *testing.T) {
	fast := &stubAdapter{name: model.ProviderAniliberty, delay: 50 * time.Millisecond,
		quality: []model.Quality{model.Quality1080p, model.Quality720p}}
	slow := &stubAdapter{name: model.ProviderShikimori, delay: 5 * time.Second,
		quality: []model.Quality{model.Quality720p}}
	f := newFixture(t, 200*time.Millisecond, fast, slow)

	start := time.Now()
	page, err := f.svc.GetSources(context.Background(), "x", 1, Query{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, page.Sources, 2)
	assert.False(t, page.Truncated)
	assert.Equal(t, []string{"shikimori"}, page.DegradedProviders)
}

func TestGetSources_CallerDeadlineShorterThanAggregatorTimeout(t *testing.T) {
	fast := &stubAdapter{name: model.ProviderAniliberty, delay: 50 * time.Millisecond,
		quality: []model.Quality{model.Quality1080p, model.Quality720p}}
	slow := &stubAdapter{name: model.ProviderShikimori, delay: 5 * time.Second,
		quality: []model.Quality{model.Quality720p}}
	f := newFixture(t, 8*time.Second, fast, slow)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	page, err := f.svc.GetSources(ctx, "x", 1, Query{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, page.Sources, 2)
	assert.Equal(t, []string{"shikimori"}, page.DegradedProviders)
}

func TestGetSources_IdempotentWithinTTL(t *testing.T) {
	a := &stubAdapter{name: model.ProviderJikan, quality: []model.Quality{model.Quality720p}}
	f := newFixture(t, time.Second, a)
	ctx := context.Background()

	first, err := f.svc.GetSources(ctx, "x", 1, Query{})
	require.NoError(t, err)
	second, err := f.svc.GetSources(ctx, "x", 1, Query{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), a.calls.Load())

	_, err = f.svc.GetSources(ctx, "x", 1, Query{ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, int32(2), a.calls.Load())
}

func TestGetSources_CheckAvailabilityRecomputesUnprobedEntry(t *testing.T) {
	a := &stubAdapter{name: model.ProviderJikan, quality: []model.Quality{model.Quality720p}}
	f := newFixture(t, time.Second, a)
	ctx := context.Background()

	page, err := f.svc.GetSources(ctx, "x", 1, Query{})
	require.NoError(t, err)
	assert.False(t, page.AvailabilityChecked)
	assert.Equal(t, model.StatusUnknown, page.Sources[0].Status)

	page, err = f.svc.GetSources(ctx, "x", 1, Query{CheckAvailability: true})
	require.NoError(t, err)
	assert.True(t, page.AvailabilityChecked)
	assert.Equal(t, model.StatusAvailable, page.Sources[0].Status)
	assert.Equal(t, int32(2), a.calls.Load())

	// probed entry also serves plain requests
	_, err = f.svc.GetSources(ctx, "x", 1, Query{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), a.calls.Load())
}

func TestGetSources_ConcurrentCallersShareOneFanOut(t *testing.T) {
	a := &stubAdapter{name: model.ProviderJikan, delay: 100 * time.Millisecond, quality: []model.Quality{model.Quality720p}}
	f := newFixture(t, time.Second, a)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.GetSources(context.Background(), "x", 1, Query{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), a.calls.Load())
}

func TestBestAndActiveSources(t *testing.T) {
	f := newFixture(t, time.Second,
		&stubAdapter{name: model.ProviderAniliberty, quality: []model.Quality{model.Quality1080p, model.Quality720p}},
		&stubAdapter{name: model.ProviderJikan, quality: []model.Quality{model.Quality480p}},
	)
	ctx := context.Background()

	best, err := f.svc.GetBestSources(ctx, "x", 1, Query{})
	require.NoError(t, err)
	require.Len(t, best.Sources, 2)
	assert.Equal(t, model.Quality1080p, best.Sources[0].Quality)
	assert.Equal(t, model.ProviderJikan, best.Sources[1].Provider)

	active, err := f.svc.GetActiveSources(ctx, "x", 1, Query{})
	require.NoError(t, err)
	assert.Empty(t, active.Sources)

	active, err = f.svc.GetActiveSources(ctx, "x", 1, Query{CheckAvailability: true})
	require.NoError(t, err)
	assert.Len(t, active.Sources, 3)
}

func TestSetAvailability(t *testing.T) {
	f := newFixture(t, time.Second,
		&stubAdapter{name: model.ProviderAniliberty, quality: []model.Quality{model.Quality1080p, model.Quality720p}},
	)
	ctx := context.Background()

	_, err := f.svc.SetAvailability(ctx, "missing", true)
	assert.ErrorIs(t, err, ErrSourceNotFound)

	page, err := f.svc.GetSources(ctx, "x", 1, Query{})
	require.NoError(t, err)
	top := page.Sources[0]

	updated, err := f.svc.SetAvailability(ctx, top.ID, false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnavailable, updated.Status)

	_, ok := f.cache.Peek(ctx, "x", 1)
	assert.False(t, ok, "entry holding the source is invalidated")

	page, err = f.svc.GetSources(ctx, "x", 1, Query{})
	require.NoError(t, err)
	require.Len(t, page.Sources, 2)
	assert.Equal(t, top.ID, page.Sources[1].ID)
	assert.Equal(t, model.StatusUnavailable, page.Sources[1].Status)

	best, err := f.svc.GetBestSources(ctx, "x", 1, Query{})
	require.NoError(t, err)
	require.Len(t, best.Sources, 1)
	assert.Equal(t, model.Quality720p, best.Sources[0].Quality)
}

func TestCleanup(t *testing.T) {
	f := newFixture(t, time.Second, &stubAdapter{name: model.ProviderJikan, quality: []model.Quality{model.Quality720p}})
	ctx := context.Background()

	_, err := f.svc.Cleanup(ctx, 0)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = f.svc.GetSources(ctx, "x", 1, Query{})
	require.NoError(t, err)

	report, err := f.svc.Cleanup(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Removed)
	assert.Len(t, f.cache.Keys(ctx), 1)
}

func TestProviderStatus(t *testing.T) {
	f := newFixture(t, time.Second,
		&stubAdapter{name: model.ProviderJikan, quality: []model.Quality{model.Quality720p}},
		&stubAdapter{name: model.ProviderShikimori, fail: true},
	)
	_, err := f.svc.GetSources(context.Background(), "x", 1, Query{})
	require.NoError(t, err)

	status := f.svc.ProviderStatus()
	byName := map[string]model.ProviderHealth{}
	for _, h := range status {
		byName[h.Provider] = h
	}
	assert.Len(t, status, len(model.KnownProviders))
	assert.True(t, byName["jikan"].Enabled)
	assert.False(t, byName["jikan"].Degraded)
	assert.True(t, byName["shikimori"].Degraded)
	assert.Equal(t, "http_error", byName["shikimori"].LastErrorKind)
	assert.False(t, byName["anilist"].Enabled)
}

func TestStats(t *testing.T) {
	f := newFixture(t, time.Second,
		&stubAdapter{name: model.ProviderJikan, quality: []model.Quality{model.Quality720p, model.Quality1080p}},
	)
	ctx := context.Background()
	for ep := 1; ep <= 2; ep++ {
		_, err := f.svc.GetSources(ctx, "x", ep, Query{})
		require.NoError(t, err)
	}
	st := f.svc.Stats(ctx)
	assert.Equal(t, 2, st.Episodes)
	assert.Equal(t, 4, st.Sources)
	assert.Equal(t, 4, st.ByProvider["jikan"])
	assert.Equal(t, 2, st.ByQuality["720p"])
	assert.Equal(t, 4, st.ByStatus["unknown"])
	assert.Equal(t, 2, st.Cache.Entries)
}

func TestMappings(t *testing.T) {
	f := newFixture(t, time.Second, &stubAdapter{name: model.ProviderJikan})
	ctx := context.Background()

	err := f.svc.SetMapping(ctx, "x", "nope", "1")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)

	require.NoError(t, f.svc.SetMapping(ctx, "x", model.ProviderJikan, "52991"))
	list, err := f.svc.Mappings(ctx, "x")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "52991", list[0].ExternalID)
}
