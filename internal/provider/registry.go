package provider

import (
	"github.com/pokerjest/animeSourceHub/internal/config"
	"github.com/pokerjest/animeSourceHub/internal/model"
)

// Build creates one adapter per enabled provider, in model.KnownProviders order.
func Build(cfg *config.Config, mapper Mapper) []Adapter {
	var adapters []Adapter
	for _, p := range model.KnownProviders {
		pc := cfg.Provider(string(p))
		if !pc.Enabled {
			continue
		}
		switch p {
		case model.ProviderAniliberty:
			adapters = append(adapters, NewAnilibertyAdapter(pc, mapper))
		case model.ProviderAnilibria:
			adapters = append(adapters, NewAnilibriaAdapter(pc, mapper))
		case model.ProviderShikimori:
			adapters = append(adapters, NewShikimoriAdapter(pc, mapper))
		case model.ProviderJikan:
			adapters = append(adapters, NewJikanAdapter(pc, mapper))
		case model.ProviderAniList:
			adapters = append(adapters, NewAniListAdapter(pc, mapper))
		}
	}
	return adapters
}
