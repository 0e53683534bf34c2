// Package probe checks whether source URLs currently resolve.
package probe

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pokerjest/animeSourceHub/internal/logging"
	"github.com/pokerjest/animeSourceHub/internal/model"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	defaultConcurrency = 10
	defaultTimeout     = 5 * time.Second
)

// Prober issues HEAD (or one-byte ranged GET) requests.
type Prober struct {
	client      *resty.Client
	concurrency int
	limiter     *rate.Limiter
	now         func() time.Time
}

type Options struct {
	Concurrency   int
	RatePerSecond float64 // <= 0 disables pacing
	Timeout       time.Duration
}

func New(opts Options) *Prober {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Concurrency

	c := resty.New()
	c.SetTimeout(opts.Timeout)
	c.SetHeader("User-Agent", "pokerjest/animeSourceHub/1.0")
	// body is never read; resty must not buffer it
	c.SetDoNotParseResponse(true)

	return &Prober{
		client:      c,
		concurrency: opts.Concurrency,
		limiter:     rate.NewLimiter(limit, burst),
		now:         time.Now,
	}
}

// Probe returns a copy of src with Status set. It never fails: every outcome
// maps onto a status. LastChecked is stamped only once a check actually ran;
// a context that ends first leaves it as it was.
func (p *Prober) Probe(ctx context.Context, src model.Source) model.Source {
	if src.SourceURL == "" {
		src.Status = model.StatusUnavailable
		p.stamp(&src)
		return src
	}
	if err := p.limiter.Wait(ctx); err != nil {
		// deadline hit before we could ask; we learned nothing
		src.Status = model.StatusUnknown
		return src
	}

	status, err := p.request(ctx, http.MethodHead, src.SourceURL)
	if err == nil && ambiguous(status) {
		status, err = p.request(ctx, http.MethodGet, src.SourceURL)
		if err == nil && ambiguous(status) {
			src.Status = model.StatusUnknown
			p.stamp(&src)
			return src
		}
	}
	if err != nil && ctx.Err() != nil {
		// cut off by the caller's deadline, not a verdict on the URL
		src.Status = model.StatusUnknown
		return src
	}
	src.Status = classify(status, err)
	p.stamp(&src)

	logging.For("probe").WithField("url", src.SourceURL).
		WithField("status", src.Status).
		Debug("probed source")
	return src
}

func (p *Prober) stamp(src *model.Source) {
	checked := p.now()
	src.LastChecked = &checked
}

// ProbeAll probes concurrently with bounded parallelism; output order matches input.
func (p *Prober) ProbeAll(ctx context.Context, sources []model.Source) []model.Source {
	out := make([]model.Source, len(sources))
	var g errgroup.Group
	g.SetLimit(p.concurrency)

	for i, src := range sources {
		g.Go(func() error {
			out[i] = p.Probe(ctx, src)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (p *Prober) request(ctx context.Context, method, url string) (int, error) {
	req := p.client.R().SetContext(ctx)
	if method == http.MethodGet {
		req.SetHeader("Range", "bytes=0-0")
	}
	resp, err := req.Execute(method, url)
	if resp != nil && resp.RawBody() != nil {
		resp.RawBody().Close()
	}
	if err != nil {
		return 0, err
	}
	return resp.StatusCode(), nil
}

// ambiguous statuses mean the host refuses this kind of check, not that the
// resource is missing.
func ambiguous(status int) bool {
	return status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented
}

func classify(status int, err error) model.Status {
	if err != nil {
		return model.StatusUnavailable
	}
	if status >= 200 && status < 400 {
		return model.StatusAvailable
	}
	return model.StatusUnavailable
}
