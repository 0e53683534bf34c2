package service

import (
	"regexp"

	"github.com/pokerjest/animeSourceHub/internal/model"
)

const (
	MaxLimit     = 100
	DefaultLimit = 20
)

var animeIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

func validateAnimeID(animeID string) error {
	if animeID == "" {
		return invalid("animeId", "must not be empty")
	}
	if !animeIDPattern.MatchString(animeID) {
		return invalid("animeId", "%q contains unsupported characters", animeID)
	}
	return nil
}

func validateKey(animeID string, episode int) error {
	if err := validateAnimeID(animeID); err != nil {
		return err
	}
	if episode < 1 {
		return invalid("episode", "must be >= 1, got %d", episode)
	}
	return nil
}

func (q *Query) validate(defaultLimit int) error {
	if q.Quality != "" && !model.Quality(q.Quality).Valid() {
		return invalid("quality", "unknown quality %q", q.Quality)
	}
	if q.Limit < 0 || q.Limit > MaxLimit {
		return invalid("limit", "must be between 0 and %d, got %d", MaxLimit, q.Limit)
	}
	if q.Limit == 0 {
		q.Limit = defaultLimit
	}
	return nil
}

func validateProviders(providers []model.Provider) error {
	for _, p := range providers {
		if !p.Valid() {
			return invalid("providers", "unknown provider %q", p)
		}
	}
	return nil
}
