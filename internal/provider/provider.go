// Package provider contains one adapter per upstream API. Each adapter resolves
// the canonical anime id to the provider's own id, fetches the episode's raw
// data and normalises it into model.Source records. Adapters never cache.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/pokerjest/animeSourceHub/internal/config"
	"github.com/pokerjest/animeSourceHub/internal/model"
)

const userAgent = "pokerjest/animeSourceHub/1.0 (https://github.com/pokerjest/animeSourceHub)"

// Adapter fetches and normalises sources for one provider.
type Adapter interface {
	Name() model.Provider
	Fetch(ctx context.Context, animeID string, episode int) ([]model.Source, error)
}

// Mapper resolves a canonical anime id to a provider-specific id.
type Mapper interface {
	LookupExternalID(ctx context.Context, animeID string, p model.Provider) (string, error)
}

type ErrorKind string

const (
	KindTimeout    ErrorKind = "timeout"
	KindHTTP       ErrorKind = "http_error"
	KindParse      ErrorKind = "parse_error"
	KindUnmappedID ErrorKind = "unmapped_id"
)

// Error is the only error type adapters return.
type Error struct {
	Provider model.Provider
	Kind     ErrorKind
	Status   int // HTTP status for KindHTTP, 0 for transport failures
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.Kind == KindHTTP && e.Status != 0 {
		msg += fmt.Sprintf(" (%d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind, or "" when err is not a provider error.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

func newRestClient(cfg config.ProviderConfig) *resty.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := resty.New()
	c.SetTimeout(timeout)
	if cfg.Proxy != "" {
		c.SetProxy(cfg.Proxy)
	}
	c.SetHeader("Accept", "application/json")
	c.SetHeader("User-Agent", userAgent)
	return c
}

// resolveID maps the canonical id; any lookup failure counts as unmapped.
func resolveID(ctx context.Context, m Mapper, p model.Provider, animeID string) (string, error) {
	if m == nil {
		return "", &Error{Provider: p, Kind: KindUnmappedID, Err: errors.New("no mapper configured")}
	}
	id, err := m.LookupExternalID(ctx, animeID, p)
	if err != nil {
		return "", &Error{Provider: p, Kind: KindUnmappedID, Err: errors.Wrapf(err, "anime %q", animeID)}
	}
	return id, nil
}

// getJSON performs a GET and decodes the body into out.
func getJSON(ctx context.Context, c *resty.Client, p model.Provider, url string, params map[string]string, out interface{}) error {
	resp, err := c.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(url)
	return decode(ctx, p, resp, err, out)
}

func decode(ctx context.Context, p model.Provider, resp *resty.Response, err error, out interface{}) error {
	if err != nil {
		return transportError(ctx, p, err)
	}
	if resp.IsError() {
		return &Error{Provider: p, Kind: KindHTTP, Status: resp.StatusCode(), Err: errors.New(resp.Status())}
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &Error{Provider: p, Kind: KindParse, Err: err}
	}
	return nil
}

func transportError(ctx context.Context, p model.Provider, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Provider: p, Kind: KindTimeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Provider: p, Kind: KindTimeout, Err: err}
	}
	return &Error{Provider: p, Kind: KindHTTP, Err: err}
}
