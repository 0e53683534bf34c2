package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/pokerjest/animeSourceHub/internal/config"
	"github.com/pokerjest/animeSourceHub/internal/model"
)

// ShikimoriAdapter reads the per-title video list.
type ShikimoriAdapter struct {
	client  *resty.Client
	baseURL string
	mapper  Mapper
}

func NewShikimoriAdapter(cfg config.ProviderConfig, mapper Mapper) *ShikimoriAdapter {
	return &ShikimoriAdapter{
		client:  newRestClient(cfg),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		mapper:  mapper,
	}
}

type shikimoriVideo struct {
	ID        int    `json:"id"`
	URL       string `json:"url"`
	PlayerURL string `json:"player_url"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Hosting   string `json:"hosting"`
	Episode   int    `json:"episode"`
	Quality   string `json:"quality"`
}

// promotional kinds are never episode sources
var shikimoriSkipKinds = map[string]bool{
	"op":                true,
	"ed":                true,
	"pv":                true,
	"cm":                true,
	"clip":              true,
	"character_trailer": true,
	"op_ed_clip":        true,
}

func (a *ShikimoriAdapter) Name() model.Provider {
	return model.ProviderShikimori
}

func (a *ShikimoriAdapter) Fetch(ctx context.Context, animeID string, episode int) ([]model.Source, error) {
	shikiID, err := resolveID(ctx, a.mapper, a.Name(), animeID)
	if err != nil {
		return nil, err
	}

	var videos []shikimoriVideo
	endpoint := fmt.Sprintf("%s/animes/%s/videos", a.baseURL, url.PathEscape(shikiID))
	if err := getJSON(ctx, a.client, a.Name(), endpoint, nil, &videos); err != nil {
		return nil, err
	}
	return normalizeShikimori(animeID, episode, videos), nil
}

func normalizeShikimori(animeID string, episode int, videos []shikimoriVideo) []model.Source {
	var raws []rawSource
	for _, v := range videos {
		if shikimoriSkipKinds[strings.ToLower(v.Kind)] {
			continue
		}
		ep := v.Episode
		if ep <= 0 {
			n, ok := episodeFromLabel(v.Name)
			if !ok {
				continue
			}
			ep = n
		}
		if ep != episode {
			continue
		}
		link := v.PlayerURL
		if link == "" {
			link = v.URL
		}
		title := v.Name
		if title != "" && v.Hosting != "" {
			title = fmt.Sprintf("%s (%s)", title, v.Hosting)
		}
		raws = append(raws, rawSource{URL: joinURL("", link), Title: title, Quality: v.Quality})
	}
	return normalize(model.ProviderShikimori, animeID, episode, raws)
}
