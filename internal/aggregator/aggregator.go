// Package aggregator fans out to every configured provider adapter, merges
// what comes back, deduplicates by URL and assigns a total priority order.
package aggregator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/pokerjest/animeSourceHub/internal/event"
	"github.com/pokerjest/animeSourceHub/internal/logging"
	"github.com/pokerjest/animeSourceHub/internal/model"
	"github.com/pokerjest/animeSourceHub/internal/provider"
	"github.com/sirupsen/logrus"
)

const (
	defaultTimeout         = 8 * time.Second
	defaultTTL             = 300 * time.Second
	defaultAvailabilityTTL = 60 * time.Second
)

// Prober checks sources; implemented by probe.Prober.
type Prober interface {
	ProbeAll(ctx context.Context, sources []model.Source) []model.Source
}

// OverrideSource supplies manual availability overrides by source id.
type OverrideSource interface {
	Overrides(ctx context.Context, sourceIDs []string) (map[string]model.SourceOverride, error)
}

type Options struct {
	Timeout         time.Duration
	ProviderOrder   []string
	FailHard        bool
	TTL             time.Duration
	AvailabilityTTL time.Duration
}

type Aggregator struct {
	adapters  []provider.Adapter
	prober    Prober
	overrides OverrideSource
	bus       event.Bus
	health    *Health
	opts      Options
	rank      map[model.Provider]int
	now       func() time.Time
	log       *logrus.Entry
}

// New wires an aggregator. prober, overrides and bus may be nil.
func New(adapters []provider.Adapter, prober Prober, overrides OverrideSource, bus event.Bus, opts Options) *Aggregator {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.AvailabilityTTL <= 0 {
		opts.AvailabilityTTL = defaultAvailabilityTTL
	}
	if bus == nil {
		bus = event.Nop{}
	}

	rank := make(map[model.Provider]int, len(opts.ProviderOrder))
	for i, name := range opts.ProviderOrder {
		if _, dup := rank[model.Provider(name)]; !dup {
			rank[model.Provider(name)] = i
		}
	}

	return &Aggregator{
		adapters:  adapters,
		prober:    prober,
		overrides: overrides,
		bus:       bus,
		health:    NewHealth(),
		opts:      opts,
		rank:      rank,
		now:       time.Now,
		log:       logging.For("aggregator"),
	}
}

// Providers lists the configured adapters in configuration order.
func (a *Aggregator) Providers() []model.Provider {
	out := make([]model.Provider, len(a.adapters))
	for i, ad := range a.adapters {
		out[i] = ad.Name()
	}
	return out
}

func (a *Aggregator) Health() *Health {
	return a.health
}

type outcome struct {
	idx     int
	sources []model.Source
	err     error
	latency time.Duration
}

// Aggregate runs one fan-out/merge/rank cycle. An empty providers slice means
// every configured adapter. Provider failures never escape, except as an
// AggregationError when all of them failed and FailHard is set.
func (a *Aggregator) Aggregate(ctx context.Context, animeID string, episode int, providers []model.Provider, checkAvailability bool) (*model.AggregatedResult, error) {
	return a.run(ctx, animeID, episode, providers, checkAvailability, nil)
}

// Refresh re-queries only the given providers and merges their sources with
// what prev already holds for the others. With no providers, or no previous
// result, it is a full Aggregate.
func (a *Aggregator) Refresh(ctx context.Context, prev *model.AggregatedResult, providers []model.Provider) (*model.AggregatedResult, error) {
	if prev == nil {
		return nil, errors.New("refresh without previous result")
	}
	if len(providers) == 0 {
		return a.run(ctx, prev.AnimeID, prev.EpisodeNumber, nil, prev.AvailabilityChecked, nil)
	}
	refreshed := make(map[model.Provider]bool, len(providers))
	for _, p := range providers {
		refreshed[p] = true
	}
	carry := &carried{}
	for _, s := range prev.Sources {
		if !refreshed[s.Provider] {
			s.Priority = 0
			carry.sources = append(carry.sources, s)
		}
	}
	for _, name := range prev.DegradedProviders {
		if !refreshed[model.Provider(name)] {
			carry.degraded = append(carry.degraded, name)
		}
	}
	return a.run(ctx, prev.AnimeID, prev.EpisodeNumber, providers, prev.AvailabilityChecked, carry)
}

// carried holds state kept from a previous result during a partial refresh.
type carried struct {
	sources  []model.Source
	degraded []string
}

func (a *Aggregator) run(ctx context.Context, animeID string, episode int, providers []model.Provider, checkAvailability bool, carry *carried) (*model.AggregatedResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	selected := a.selectAdapters(providers)
	outcomes := a.fanOut(ctx, selected, animeID, episode)

	var (
		fetched  []model.Source
		degraded []string
		failures = make(map[model.Provider]error)
	)
	for i, ad := range selected {
		o := outcomes[i]
		if o.err != nil {
			failures[ad.Name()] = o.err
			degraded = append(degraded, string(ad.Name()))
			a.health.RecordFailure(ad.Name(), o.err, o.latency)
			a.log.WithFields(logrus.Fields{
				"provider": ad.Name(),
				"anime":    animeID,
				"episode":  episode,
				"kind":     provider.KindOf(o.err),
			}).Warnf("provider failed: %v", o.err)
			a.bus.Publish(event.EventProviderDegraded, map[string]interface{}{
				"provider": ad.Name(),
				"kind":     provider.KindOf(o.err),
				"error":    o.err.Error(),
			})
			continue
		}
		a.health.RecordSuccess(ad.Name(), o.latency)
		fetched = append(fetched, o.sources...)
	}

	allFailed := len(selected) > 0 && len(failures) == len(selected)
	if carry != nil {
		allFailed = allFailed && len(carry.sources) == 0
	}
	if allFailed && a.opts.FailHard {
		return nil, &AggregationError{Kind: AllProvidersFailed, Failures: failures}
	}

	if checkAvailability && a.prober != nil && len(fetched) > 0 {
		fetched = a.prober.ProbeAll(ctx, fetched)
	} else {
		for i := range fetched {
			fetched[i].Status = model.StatusUnknown
			fetched[i].LastChecked = nil
		}
	}

	merged := fetched
	if carry != nil {
		merged = append(carry.sources, fetched...)
		degraded = append(carry.degraded, degraded...)
	}
	merged = a.applyOverrides(ctx, merged)
	ranked := a.rankAndDedupe(merged)

	ttl := a.opts.TTL
	if checkAvailability {
		ttl = a.opts.AvailabilityTTL
	}
	result := &model.AggregatedResult{
		AnimeID:             animeID,
		EpisodeNumber:       episode,
		Sources:             ranked,
		FetchedAt:           a.now(),
		TTLSeconds:          int(ttl / time.Second),
		AvailabilityChecked: checkAvailability,
		DegradedProviders:   degraded,
		Degraded:            allFailed,
	}

	a.log.WithFields(logrus.Fields{
		"anime":    animeID,
		"episode":  episode,
		"sources":  len(ranked),
		"degraded": degraded,
	}).Info("aggregation complete")
	a.bus.Publish(event.EventAggregationComplete, map[string]interface{}{
		"animeId":           animeID,
		"episodeNumber":     episode,
		"sources":           len(ranked),
		"degradedProviders": degraded,
	})
	return result, nil
}

func (a *Aggregator) selectAdapters(providers []model.Provider) []provider.Adapter {
	if len(providers) == 0 {
		return a.adapters
	}
	want := make(map[model.Provider]bool, len(providers))
	for _, p := range providers {
		want[p] = true
	}
	var out []provider.Adapter
	for _, ad := range a.adapters {
		if want[ad.Name()] {
			out = append(out, ad)
		}
	}
	return out
}

// fanOut calls every adapter concurrently and waits until all settle or ctx
// ends. Adapters still running at the deadline are reported as timeouts;
// their goroutines finish into a buffered channel nobody reads.
func (a *Aggregator) fanOut(ctx context.Context, adapters []provider.Adapter, animeID string, episode int) []outcome {
	outcomes := make([]outcome, len(adapters))
	settled := make([]bool, len(adapters))
	results := make(chan outcome, len(adapters))
	start := a.now()

	for i, ad := range adapters {
		go func() {
			begin := time.Now()
			o := outcome{idx: i}
			defer func() {
				if r := recover(); r != nil {
					o.sources = nil
					o.err = &provider.Error{Provider: ad.Name(), Kind: provider.KindParse, Err: errors.Errorf("adapter panic: %v", r)}
				}
				o.latency = time.Since(begin)
				results <- o
			}()
			o.sources, o.err = ad.Fetch(ctx, animeID, episode)
		}()
	}

	pending := len(adapters)
	take := func(o outcome) {
		outcomes[o.idx] = o
		settled[o.idx] = true
		pending--
	}

wait:
	for pending > 0 {
		select {
		case o := <-results:
			take(o)
		case <-ctx.Done():
			break wait
		}
	}
	// keep anything that landed at the same moment as the deadline
	for pending > 0 {
		select {
		case o := <-results:
			take(o)
			continue
		default:
		}
		break
	}

	for i, ad := range adapters {
		if !settled[i] {
			outcomes[i] = outcome{
				idx:     i,
				err:     &provider.Error{Provider: ad.Name(), Kind: provider.KindTimeout, Err: ctx.Err()},
				latency: a.now().Sub(start),
			}
		}
	}
	return outcomes
}

func (a *Aggregator) applyOverrides(ctx context.Context, sources []model.Source) []model.Source {
	if a.overrides == nil || len(sources) == 0 {
		return sources
	}
	ids := make([]string, len(sources))
	for i, s := range sources {
		ids[i] = s.ID
	}
	found, err := a.overrides.Overrides(ctx, ids)
	if err != nil {
		a.log.Warnf("loading overrides failed, ignoring: %v", err)
		return sources
	}
	for i, s := range sources {
		o, ok := found[s.ID]
		if !ok {
			continue
		}
		if o.Available {
			s.Status = model.StatusAvailable
		} else {
			s.Status = model.StatusUnavailable
		}
		at := o.UpdatedAt
		s.LastChecked = &at
		sources[i] = s
	}
	return sources
}

func (a *Aggregator) providerRank(p model.Provider) int {
	if r, ok := a.rank[p]; ok {
		return r
	}
	return len(a.rank)
}

// rankAndDedupe sorts by (status tier, provider preference, quality desc,
// discovery order), drops later duplicates of the same URL and numbers the
// survivors from 1.
func (a *Aggregator) rankAndDedupe(sources []model.Source) []model.Source {
	sorted := make([]model.Source, len(sources))
	copy(sorted, sources)

	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := sorted[i], sorted[j]
		if ti, tj := si.Status.Tier(), sj.Status.Tier(); ti != tj {
			return ti < tj
		}
		if ri, rj := a.providerRank(si.Provider), a.providerRank(sj.Provider); ri != rj {
			return ri < rj
		}
		// unlisted providers share a rank; keep them deterministic by name
		if si.Provider != sj.Provider {
			return si.Provider < sj.Provider
		}
		return si.Quality.Rank() > sj.Quality.Rank()
	})

	seenURL := make(map[string]bool, len(sorted))
	seenID := make(map[string]int, len(sorted))
	out := make([]model.Source, 0, len(sorted))
	for _, s := range sorted {
		if seenURL[s.SourceURL] {
			continue
		}
		seenURL[s.SourceURL] = true
		if n := seenID[s.ID]; n > 0 {
			s.ID = fmt.Sprintf("%s-%d", s.ID, n)
		}
		seenID[s.ID]++
		s.Priority = len(out) + 1
		out = append(out, s)
	}
	return out
}
