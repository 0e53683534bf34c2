package provider

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"github.com/pokerjest/animeSourceHub/internal/anilist"
	"github.com/pokerjest/animeSourceHub/internal/config"
	"github.com/pokerjest/animeSourceHub/internal/model"
)

// AniListAdapter exposes the official streaming links AniList lists per episode.
type AniListAdapter struct {
	client *anilist.Client
	mapper Mapper
}

func NewAniListAdapter(cfg config.ProviderConfig, mapper Mapper) *AniListAdapter {
	return &AniListAdapter{
		client: anilist.NewClientWithEndpoint(cfg.BaseURL, cfg.Token, cfg.Proxy, cfg.Timeout),
		mapper: mapper,
	}
}

func (a *AniListAdapter) Name() model.Provider {
	return model.ProviderAniList
}

func (a *AniListAdapter) Fetch(ctx context.Context, animeID string, episode int) ([]model.Source, error) {
	rawID, err := resolveID(ctx, a.mapper, a.Name(), animeID)
	if err != nil {
		return nil, err
	}
	mediaID, err := strconv.Atoi(rawID)
	if err != nil {
		return nil, &Error{Provider: a.Name(), Kind: KindUnmappedID, Err: errors.Wrapf(err, "anilist id %q", rawID)}
	}

	media, err := a.client.GetStreamingEpisodes(ctx, mediaID)
	if err != nil {
		return nil, a.classify(ctx, err)
	}
	return normalizeAniList(animeID, episode, media.StreamingEpisodes), nil
}

func (a *AniListAdapter) classify(ctx context.Context, err error) error {
	var (
		se *anilist.StatusError
		ge *anilist.GraphQLError
	)
	switch {
	case errors.As(err, &se):
		return &Error{Provider: a.Name(), Kind: KindHTTP, Status: se.Code, Err: err}
	case errors.As(err, &ge) && ge.Status != 0:
		return &Error{Provider: a.Name(), Kind: KindHTTP, Status: ge.Status, Err: err}
	case errors.As(err, &ge):
		// 200 with an errors[] body and no code: the payload is not what we asked for
		return &Error{Provider: a.Name(), Kind: KindParse, Err: err}
	case errors.Is(err, anilist.ErrDecode):
		return &Error{Provider: a.Name(), Kind: KindParse, Err: err}
	}
	return transportError(ctx, a.Name(), err)
}

func normalizeAniList(animeID string, episode int, list []anilist.StreamingEpisode) []model.Source {
	var raws []rawSource
	for _, se := range list {
		n, ok := episodeFromLabel(se.Title)
		if !ok || n != episode {
			continue
		}
		title := se.Title
		if se.Site != "" {
			title += " (" + se.Site + ")"
		}
		raws = append(raws, rawSource{URL: se.URL, Title: title})
	}
	return normalize(model.ProviderAniList, animeID, episode, raws)
}
