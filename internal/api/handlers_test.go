package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pokerjest/animeSourceHub/internal/aggregator"
	"github.com/pokerjest/animeSourceHub/internal/cache"
	"github.com/pokerjest/animeSourceHub/internal/config"
	"github.com/pokerjest/animeSourceHub/internal/db"
	"github.com/pokerjest/animeSourceHub/internal/event"
	"github.com/pokerjest/animeSourceHub/internal/model"
	"github.com/pokerjest/animeSourceHub/internal/provider"
	"github.com/pokerjest/animeSourceHub/internal/service"
	"github.com/pokerjest/animeSourceHub/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if err := config.LoadConfig(""); err != nil {
		fmt.Printf("config load warning: %v\n", err)
	}
	// Setup: Use in-memory DB for tests
	db.InitDB(":memory:")

	code := m.Run()

	if err := db.CloseDB(); err != nil {
		fmt.Printf("CloseDB error: %v\n", err)
	}
	os.Exit(code)
}

type staticAdapter struct {
	name model.Provider
	qs   []model.Quality
	fail bool
}

func (a staticAdapter) Name() model.Provider { return a.name }

func (a staticAdapter) Fetch(_ context.Context, animeID string, episode int) ([]model.Source, error) {
	if a.fail {
		return nil, &provider.Error{Provider: a.name, Kind: provider.KindHTTP, Status: 500}
	}
	var out []model.Source
	for _, q := range a.qs {
		url := fmt.Sprintf("https://%s.example/%s/%d/%s.m3u8", a.name, animeID, episode, q)
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

func setupRouter(t *testing.T, failHard bool, adapters ...provider.Adapter) *gin.Engine {
	t.Helper()
	r, _ := setupRouterWithBus(t, failHard, adapters...)
	return r
}

func setupRouterWithBus(t *testing.T, failHard bool, adapters ...provider.Adapter) (*gin.Engine, event.Bus) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// 每个测试一个干净的缓存, 共享同一个内存库
	db.DB.Exec("DELETE FROM source_overrides")
	db.DB.Exec("DELETE FROM provider_mappings")

	st := store.New(db.DB)
	bus := event.NewInMemoryBus()
	agg := aggregator.New(adapters, nil, st, bus, aggregator.Options{
		Timeout:       time.Second,
		ProviderOrder: config.AppConfig.Aggregator.ProviderOrder,
		FailHard:      failHard,
	})
	svc := service.NewSourceService(agg, agg.Health(), cache.New(cache.NewMemory(), bus), st, bus, service.Options{})

	r := gin.New()
	InitRoutes(r, NewHandler(svc, bus, 7))
	return r, bus
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func do(t *testing.T, r *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, _ := http.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func defaultAdapters() []provider.Adapter {
	return []provider.Adapter{
		staticAdapter{name: model.ProviderAniliberty, qs: []model.Quality{model.Quality1080p, model.Quality720p, model.Quality480p}},
		staticAdapter{name: model.ProviderJikan, qs: []model.Quality{model.Quality720p}},
	}
}

func TestGetSourcesHandler(t *testing.T) {
	r := setupRouter(t, false, defaultAdapters()...)

	w, env := do(t, r, "GET", "/api/anime/frieren/episode/1/sources?limit=2", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var page service.Page
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Len(t, page.Sources, 2)
	assert.True(t, page.Truncated)
	assert.Equal(t, 1, page.Sources[0].Priority)
	assert.Equal(t, "aniliberty", string(page.Sources[0].Provider))

	w, env = do(t, r, "GET", "/api/anime/frieren/episode/1/sources?quality=720p", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Len(t, page.Sources, 2)
	for _, s := range page.Sources {
		assert.Equal(t, model.Quality720p, s.Quality)
	}
}

func TestGetSourcesHandler_BadRequests(t *testing.T) {
	r := setupRouter(t, false, defaultAdapters()...)

	for _, path := range []string{
		"/api/anime/frieren/episode/abc/sources",
		"/api/anime/frieren/episode/0/sources",
		"/api/anime/frieren/episode/1/sources?limit=500",
		"/api/anime/frieren/episode/1/sources?limit=x",
		"/api/anime/frieren/episode/1/sources?quality=8k",
	} {
		w, env := do(t, r, "GET", path, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.False(t, env.Success)
		assert.NotEmpty(t, env.Error)
	}
}

func TestBestAndActiveHandlers(t *testing.T) {
	r := setupRouter(t, false, defaultAdapters()...)

	w, env := do(t, r, "GET", "/api/anime/frieren/episode/1/best-sources", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var page service.Page
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Len(t, page.Sources, 2)

	w, env = do(t, r, "GET", "/api/anime/frieren/episode/1/active-sources", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Empty(t, page.Sources)
}

func TestAllProvidersFailed(t *testing.T) {
	failing := []provider.Adapter{staticAdapter{name: model.ProviderJikan, fail: true}}

	r := setupRouter(t, false, failing...)
	w, env := do(t, r, "GET", "/api/anime/frieren/episode/1/sources", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var page service.Page
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Empty(t, page.Sources)
	assert.True(t, page.Degraded)

	r = setupRouter(t, true, failing...)
	w, env = do(t, r, "GET", "/api/anime/frieren/episode/1/sources", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
}

func TestAvailabilityHandler(t *testing.T) {
	r := setupRouter(t, false, defaultAdapters()...)

	w, _ := do(t, r, "PATCH", "/api/sources/unknown/availability", gin.H{"isAvailable": false})
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, env := do(t, r, "GET", "/api/anime/frieren/episode/1/sources", nil)
	var page service.Page
	require.NoError(t, json.Unmarshal(env.Data, &page))
	id := page.Sources[0].ID

	w, _ = do(t, r, "PATCH", "/api/sources/"+id+"/availability", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = do(t, r, "PATCH", "/api/sources/"+id+"/availability", gin.H{"isAvailable": false})
	assert.Equal(t, http.StatusOK, w.Code)
	var src model.Source
	require.NoError(t, json.Unmarshal(env.Data, &src))
	assert.Equal(t, model.StatusUnavailable, src.Status)

	_, env = do(t, r, "GET", "/api/anime/frieren/episode/1/sources", nil)
	require.NoError(t, json.Unmarshal(env.Data, &page))
	last := page.Sources[len(page.Sources)-1]
	assert.Equal(t, id, last.ID)
	assert.Equal(t, model.StatusUnavailable, last.Status)
}

func TestCleanupHandler(t *testing.T) {
	r := setupRouter(t, false, defaultAdapters()...)

	w, _ := do(t, r, "DELETE", "/api/sources/cleanup?days=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env := do(t, r, "DELETE", "/api/sources/cleanup?days=3", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var report service.CleanupReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, 0, report.Removed)

	w, _ = do(t, r, "DELETE", "/api/sources/cleanup", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBatchUpdateHandler(t *testing.T) {
	r := setupRouter(t, false, defaultAdapters()...)

	w, _ := do(t, r, "POST", "/api/sources/batch-update", gin.H{"providers": []string{"jikan"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	do(t, r, "GET", "/api/anime/frieren/episode/1/sources", nil)
	do(t, r, "GET", "/api/anime/frieren/episode/2/sources", nil)

	w, env := do(t, r, "POST", "/api/sources/batch-update", gin.H{"animeIds": []string{"frieren"}, "providers": []string{"jikan"}})
	assert.Equal(t, http.StatusOK, w.Code)
	var report service.BatchReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, 2, report.Updated)
	assert.Empty(t, report.Skipped)
}

func TestProviderStatusAndStatsHandlers(t *testing.T) {
	r := setupRouter(t, false, append(defaultAdapters(), staticAdapter{name: model.ProviderShikimori, fail: true})...)
	do(t, r, "GET", "/api/anime/frieren/episode/1/sources", nil)

	w, env := do(t, r, "GET", "/api/providers/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var status struct {
		Providers []model.ProviderHealth `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.Len(t, status.Providers, len(model.KnownProviders))

	w, env = do(t, r, "GET", "/api/sources/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var stats service.SourceStats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 1, stats.Episodes)
	assert.Equal(t, 4, stats.Sources)
}

func TestMappingHandlers(t *testing.T) {
	r := setupRouter(t, false, defaultAdapters()...)

	w, _ := do(t, r, "PUT", "/api/anime/frieren/mappings/jikan", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, "PUT", "/api/anime/frieren/mappings/nope", gin.H{"externalId": "1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, "PUT", "/api/anime/frieren/mappings/jikan", gin.H{"externalId": "52991"})
	assert.Equal(t, http.StatusOK, w.Code)

	w, env := do(t, r, "GET", "/api/anime/frieren/mappings", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Mappings []model.ProviderMapping `json:"mappings"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	require.Len(t, body.Mappings, 1)
	assert.Equal(t, "52991", body.Mappings[0].ExternalID)
}

func TestHealthz(t *testing.T) {
	r := setupRouter(t, false)
	w, env := do(t, r, "GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
}
