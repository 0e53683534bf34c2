package provider

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/pokerjest/animeSourceHub/internal/config"
	"github.com/pokerjest/animeSourceHub/internal/model"
)

// AnilibertyAdapter reads HLS renditions from the AniLiberty release API.
type AnilibertyAdapter struct {
	client  *resty.Client
	baseURL string
	mapper  Mapper
}

func NewAnilibertyAdapter(cfg config.ProviderConfig, mapper Mapper) *AnilibertyAdapter {
	return &AnilibertyAdapter{
		client:  newRestClient(cfg),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		mapper:  mapper,
	}
}

type anilibertyRelease struct {
	ID       int                 `json:"id"`
	Episodes []anilibertyEpisode `json:"episodes"`
}

type anilibertyEpisode struct {
	Ordinal float64 `json:"ordinal"`
	Name    string  `json:"name"`
	HLS480  string  `json:"hls_480"`
	HLS720  string  `json:"hls_720"`
	HLS1080 string  `json:"hls_1080"`
}

func (a *AnilibertyAdapter) Name() model.Provider {
	return model.ProviderAniliberty
}

func (a *AnilibertyAdapter) Fetch(ctx context.Context, animeID string, episode int) ([]model.Source, error) {
	releaseID, err := resolveID(ctx, a.mapper, a.Name(), animeID)
	if err != nil {
		return nil, err
	}

	var release anilibertyRelease
	endpoint := fmt.Sprintf("%s/anime/releases/%s", a.baseURL, url.PathEscape(releaseID))
	if err := getJSON(ctx, a.client, a.Name(), endpoint, nil, &release); err != nil {
		return nil, err
	}
	return normalizeAniliberty(animeID, episode, release), nil
}

func normalizeAniliberty(animeID string, episode int, release anilibertyRelease) []model.Source {
	var raws []rawSource
	for _, ep := range release.Episodes {
		// 12.5 style recap episodes never match an integer request
		if ep.Ordinal != math.Trunc(ep.Ordinal) || int(ep.Ordinal) != episode {
			continue
		}
		raws = append(raws,
			rawSource{URL: ep.HLS1080, Quality: "1080p", Title: titled(ep.Name, "1080p")},
			rawSource{URL: ep.HLS720, Quality: "720p", Title: titled(ep.Name, "720p")},
			rawSource{URL: ep.HLS480, Quality: "480p", Title: titled(ep.Name, "480p")},
		)
	}
	return normalize(model.ProviderAniliberty, animeID, episode, raws)
}

// titled appends the quality to an upstream episode name, or returns "" so
// the default title applies.
func titled(name, quality string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return name + " [" + quality + "]"
}
