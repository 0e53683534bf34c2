package provider

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/pokerjest/animeSourceHub/internal/config"
	"github.com/pokerjest/animeSourceHub/internal/model"
)

// AnilibriaAdapter reads the player block of the AniLibria v3 title API.
type AnilibriaAdapter struct {
	client  *resty.Client
	baseURL string
	mapper  Mapper
}

func NewAnilibriaAdapter(cfg config.ProviderConfig, mapper Mapper) *AnilibriaAdapter {
	return &AnilibriaAdapter{
		client:  newRestClient(cfg),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		mapper:  mapper,
	}
}

type anilibriaTitle struct {
	Player struct {
		Host string          `json:"host"`
		List json.RawMessage `json:"list"`
	} `json:"player"`
}

type anilibriaEpisode struct {
	Episode float64 `json:"episode"`
	Name    string  `json:"name"`
	HLS     struct {
		FHD string `json:"fhd"`
		HD  string `json:"hd"`
		SD  string `json:"sd"`
	} `json:"hls"`
}

func (a *AnilibriaAdapter) Name() model.Provider {
	return model.ProviderAnilibria
}

func (a *AnilibriaAdapter) Fetch(ctx context.Context, animeID string, episode int) ([]model.Source, error) {
	titleID, err := resolveID(ctx, a.mapper, a.Name(), animeID)
	if err != nil {
		return nil, err
	}

	var title anilibriaTitle
	params := map[string]string{
		"id":     titleID,
		"filter": "player",
	}
	if err := getJSON(ctx, a.client, a.Name(), a.baseURL+"/title", params, &title); err != nil {
		return nil, err
	}

	episodes, err := anilibriaEpisodes(title.Player.List)
	if err != nil {
		return nil, &Error{Provider: a.Name(), Kind: KindParse, Err: err}
	}
	return normalizeAnilibria(animeID, episode, title.Player.Host, episodes), nil
}

// anilibriaEpisodes accepts both the keyed-object and the array form of
// player.list; an absent list is treated as empty.
func anilibriaEpisodes(raw json.RawMessage) ([]anilibriaEpisode, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var list []anilibriaEpisode
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var keyed map[string]anilibriaEpisode
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(keyed))
	for k := range keyed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		list = append(list, keyed[k])
	}
	return list, nil
}

func normalizeAnilibria(animeID string, episode int, host string, episodes []anilibriaEpisode) []model.Source {
	base := ""
	if host != "" {
		base = "https://" + strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")
	}
	var raws []rawSource
	for _, ep := range episodes {
		if ep.Episode != float64(episode) {
			continue
		}
		raws = append(raws,
			rawSource{URL: joinURL(base, ep.HLS.FHD), Quality: "fhd", Title: titled(ep.Name, "1080p")},
			rawSource{URL: joinURL(base, ep.HLS.HD), Quality: "hd", Title: titled(ep.Name, "720p")},
			rawSource{URL: joinURL(base, ep.HLS.SD), Quality: "sd", Title: titled(ep.Name, "480p")},
		)
	}
	return normalize(model.ProviderAnilibria, animeID, episode, raws)
}
