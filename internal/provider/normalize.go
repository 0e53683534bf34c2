package provider

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/pokerjest/animeSourceHub/internal/model"
)

// rawSource is the provider-agnostic shape every adapter maps into before
// defaults are applied.
type rawSource struct {
	URL     string
	Title   string
	Quality string
}

// normalize fills defaults and drops entries without a usable absolute URL.
func normalize(p model.Provider, animeID string, episode int, raws []rawSource) []model.Source {
	out := make([]model.Source, 0, len(raws))
	for _, r := range raws {
		u := strings.TrimSpace(r.URL)
		if !isAbsoluteHTTP(u) {
			continue
		}
		q := model.ParseQuality(r.Quality)
		title := strings.TrimSpace(r.Title)
		if title == "" {
			title = model.DefaultTitle(p, q)
		}
		out = append(out, model.Source{
			ID:            model.SourceID(p, animeID, episode, u),
			AnimeID:       animeID,
			EpisodeNumber: episode,
			Provider:      p,
			Quality:       q,
			SourceURL:     u,
			Title:         title,
			Status:        model.StatusUnknown,
		})
	}
	return out
}

func isAbsoluteHTTP(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// joinURL resolves ref against base; protocol-relative and host-relative refs
// are supported, absolute refs are returned unchanged.
func joinURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	if isAbsoluteHTTP(ref) {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil || b.Host == "" {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return b.ResolveReference(r).String()
}

var episodeLabelRe = regexp.MustCompile(`(?i)(?:episode|ep\.?|серия|эпизод)\s*#?\s*(\d+)|(\d+)\s*(?:серия|эпизод)`)

// episodeFromLabel pulls the episode number out of labels like
// "Episode 12", "Ep. 3 - Title" or "5 серия".
func episodeFromLabel(label string) (int, bool) {
	m := episodeLabelRe.FindStringSubmatch(label)
	if m == nil {
		return 0, false
	}
	digits := m[1]
	if digits == "" {
		digits = m[2]
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
