package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Provider 上游数据源标识
type Provider string

const (
	ProviderAniliberty Provider = "aniliberty"
	ProviderAnilibria  Provider = "anilibria"
	ProviderShikimori  Provider = "shikimori"
	ProviderJikan      Provider = "jikan"
	ProviderAniList    Provider = "anilist"
)

// KnownProviders lists every provider an adapter exists for.
var KnownProviders = []Provider{
	ProviderAniliberty,
	ProviderAnilibria,
	ProviderShikimori,
	ProviderJikan,
	ProviderAniList,
}

func (p Provider) Valid() bool {
	for _, k := range KnownProviders {
		if k == p {
			return true
		}
	}
	return false
}

// Quality 视频清晰度, ordered 360p < ... < 2160p; unknown sorts below all.
type Quality string

const (
	QualityUnknown Quality = "unknown"
	Quality360p    Quality = "360p"
	Quality480p    Quality = "480p"
	Quality720p    Quality = "720p"
	Quality1080p   Quality = "1080p"
	Quality1440p   Quality = "1440p"
	Quality2160p   Quality = "2160p"
)

var qualityRank = map[Quality]int{
	QualityUnknown: 0,
	Quality360p:    1,
	Quality480p:    2,
	Quality720p:    3,
	Quality1080p:   4,
	Quality1440p:   5,
	Quality2160p:   6,
}

func (q Quality) Rank() int {
	return qualityRank[q]
}

func (q Quality) Valid() bool {
	_, ok := qualityRank[q]
	return ok
}

var qualityDigits = regexp.MustCompile(`(\d{3,4})\s*[pP]?`)

// ParseQuality normalises upstream spellings ("FHD", "1080", "hd", "4K").
// Anything unrecognised becomes QualityUnknown.
func ParseQuality(raw string) Quality {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return QualityUnknown
	}
	switch s {
	case "sd":
		return Quality480p
	case "hd":
		return Quality720p
	case "fhd", "fullhd", "full hd":
		return Quality1080p
	case "qhd", "2k":
		return Quality1440p
	case "uhd", "4k":
		return Quality2160p
	}
	for _, m := range qualityDigits.FindAllStringSubmatch(s, -1) {
		q := Quality(m[1] + "p")
		if q.Valid() {
			return q
		}
	}
	return QualityUnknown
}

// Status 可用性状态
type Status string

const (
	StatusAvailable   Status = "available"
	StatusUnavailable Status = "unavailable"
	StatusUnknown     Status = "unknown"
)

// Tier orders confidence: available first, unavailable last.
func (s Status) Tier() int {
	switch s {
	case StatusAvailable:
		return 0
	case StatusUnavailable:
		return 2
	default:
		return 1
	}
}

// Source 一个可播放的剧集来源
type Source struct {
	ID            string     `json:"id"`
	AnimeID       string     `json:"animeId"`
	EpisodeNumber int        `json:"episodeNumber"`
	Provider      Provider   `json:"provider"`
	Quality       Quality    `json:"quality"`
	SourceURL     string     `json:"sourceUrl"`
	Title         string     `json:"title"`
	Status        Status     `json:"status"`
	LastChecked   *time.Time `json:"lastChecked"`
	Priority      int        `json:"priority"`
}

// Playable reports whether the source may be chosen as a play target.
func (s Source) Playable() bool {
	return s.Status != StatusUnavailable && s.SourceURL != ""
}

// DefaultTitle is used when upstream gives no label.
func DefaultTitle(p Provider, q Quality) string {
	return fmt.Sprintf("%s %s", p, q)
}

// SourceID derives a stable id from the fields that identify a playable URL.
func SourceID(p Provider, animeID string, episode int, url string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s", p, animeID, episode, url)))
	return hex.EncodeToString(h[:8])
}

// AggregatedResult 缓存单元, never patched in place.
type AggregatedResult struct {
	AnimeID             string    `json:"animeId"`
	EpisodeNumber       int       `json:"episodeNumber"`
	Sources             []Source  `json:"sources"`
	FetchedAt           time.Time `json:"fetchedAt"`
	TTLSeconds          int       `json:"ttlSeconds"`
	AvailabilityChecked bool      `json:"availabilityChecked"`
	DegradedProviders   []string  `json:"degradedProviders"`
	Degraded            bool      `json:"degraded"`
}

func (r *AggregatedResult) Expired(now time.Time) bool {
	return now.Sub(r.FetchedAt) >= time.Duration(r.TTLSeconds)*time.Second
}

// Clone returns a deep copy so cached data never leaks a mutable reference.
func (r *AggregatedResult) Clone() *AggregatedResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Sources = make([]Source, len(r.Sources))
	for i, s := range r.Sources {
		if s.LastChecked != nil {
			t := *s.LastChecked
			s.LastChecked = &t
		}
		out.Sources[i] = s
	}
	out.DegradedProviders = append([]string(nil), r.DegradedProviders...)
	return &out
}
