package provider

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pokerjest/animeSourceHub/internal/config"
	"github.com/pokerjest/animeSourceHub/internal/model"
	"golang.org/x/time/rate"
)

// jikanMaxPages bounds pagination through long-running shows.
const jikanMaxPages = 5

// JikanAdapter reads MyAnimeList episode videos through Jikan. Jikan allows
// roughly three requests per second, so calls are paced.
type JikanAdapter struct {
	client  *resty.Client
	baseURL string
	mapper  Mapper
	limiter *rate.Limiter
}

func NewJikanAdapter(cfg config.ProviderConfig, mapper Mapper) *JikanAdapter {
	return &JikanAdapter{
		client:  newRestClient(cfg),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		mapper:  mapper,
		limiter: rate.NewLimiter(rate.Every(350*time.Millisecond), 1),
	}
}

type jikanEpisodeVideo struct {
	MalID   int    `json:"mal_id"`
	Title   string `json:"title"`
	Episode string `json:"episode"`
	URL     string `json:"url"`
}

type jikanEpisodeVideosResponse struct {
	Data       []jikanEpisodeVideo `json:"data"`
	Pagination struct {
		HasNextPage bool `json:"has_next_page"`
	} `json:"pagination"`
}

func (a *JikanAdapter) Name() model.Provider {
	return model.ProviderJikan
}

func (a *JikanAdapter) Fetch(ctx context.Context, animeID string, episode int) ([]model.Source, error) {
	malID, err := resolveID(ctx, a.mapper, a.Name(), animeID)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/anime/%s/videos/episodes", a.baseURL, url.PathEscape(malID))
	var collected []jikanEpisodeVideo
	for page := 1; page <= jikanMaxPages; page++ {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, &Error{Provider: a.Name(), Kind: KindTimeout, Err: err}
		}

		var resp jikanEpisodeVideosResponse
		params := map[string]string{"page": strconv.Itoa(page)}
		if err := getJSON(ctx, a.client, a.Name(), endpoint, params, &resp); err != nil {
			return nil, err
		}
		collected = append(collected, resp.Data...)

		if containsJikanEpisode(resp.Data, episode) || !resp.Pagination.HasNextPage {
			break
		}
	}
	return normalizeJikan(animeID, episode, collected), nil
}

func jikanEpisodeNumber(v jikanEpisodeVideo) int {
	if n, ok := episodeFromLabel(v.Episode); ok {
		return n
	}
	return v.MalID
}

func containsJikanEpisode(list []jikanEpisodeVideo, episode int) bool {
	for _, v := range list {
		if jikanEpisodeNumber(v) == episode {
			return true
		}
	}
	return false
}

func normalizeJikan(animeID string, episode int, list []jikanEpisodeVideo) []model.Source {
	var raws []rawSource
	for _, v := range list {
		if jikanEpisodeNumber(v) != episode {
			continue
		}
		title := v.Title
		if title != "" && v.Episode != "" {
			title = v.Episode + " - " + title
		}
		raws = append(raws, rawSource{URL: v.URL, Title: title})
	}
	return normalize(model.ProviderJikan, animeID, episode, raws)
}
