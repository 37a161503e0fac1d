// Package search walks a paginated quick-search result set.
package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"planet-fetch/planet"

	"github.com/hashicorp/go-retryablehttp"
	log "github.com/sirupsen/logrus"
)

// ErrEmptyItemTypes is returned by New when no item types are given.
var ErrEmptyItemTypes = errors.New("search: at least one item type is required")

// Searcher is the part of the catalog API the pager needs.
type Searcher interface {
	Search(ctx context.Context, req *planet.SearchRequest) (*planet.Page, error)
	NextPage(ctx context.Context, token string) (*planet.Page, error)
}

// SearchFailed is returned when a page could not be fetched within the retry budget.
type SearchFailed struct {
	Page     int
	Attempts int
	Cause    error
}

func (e *SearchFailed) Error() string {
	return fmt.Sprintf("search failed on page %d after %d attempts: %v", e.Page, e.Attempts, e.Cause)
}

func (e *SearchFailed) Unwrap() error { return e.Cause }

// SearchRejected is returned when the service refuses the request (bad
// filter, bad credentials). It is never retried.
type SearchRejected struct {
	Cause error
}

func (e *SearchRejected) Error() string {
	return fmt.Sprintf("search rejected: %v", e.Cause)
}

func (e *SearchRejected) Unwrap() error { return e.Cause }

// Options configures retries of page fetches.
type Options struct {
	// MaxAttempts per page, including the first. Default: 5
	MaxAttempts int
	// MinBackoff is the wait before the first retry. Default: 1s
	MinBackoff time.Duration
	// MaxBackoff caps the wait. Default: 30s
	MaxBackoff time.Duration
	// OnPage is called after every fetched page.
	OnPage func(index, items int)
}

// DefaultOptions returns the retry policy used by the CLI.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 5,
		MinBackoff:  time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// Pager yields the items of one search, fetching pages on demand. It is not
// safe for concurrent use and cannot be rewound.
type Pager struct {
	svc  Searcher
	req  *planet.SearchRequest
	opts Options

	buf     []planet.ItemRecord
	next    string
	started bool
	pages   int
	err     error
}

// New prepares a search. No request is made until the first call to Next.
func New(svc Searcher, spec *planet.FilterSpec, itemTypes []string, opts Options) (*Pager, error) {
	if spec == nil {
		return nil, fmt.Errorf("search: nil filter")
	}
	if len(itemTypes) == 0 {
		return nil, ErrEmptyItemTypes
	}
	for _, t := range itemTypes {
		if t == "" {
			return nil, fmt.Errorf("search: empty item type in %q", itemTypes)
		}
	}
	def := DefaultOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = def.MinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = def.MaxBackoff
		if opts.MaxBackoff < opts.MinBackoff {
			opts.MaxBackoff = opts.MinBackoff
		}
	}
	return &Pager{
		svc:  svc,
		req:  spec.Request(itemTypes),
		opts: opts,
	}, nil
}

// Request returns the search body the pager sends.
func (p *Pager) Request() *planet.SearchRequest {
	return p.req
}

// Next returns the next item, or io.EOF once the last page is drained. Once
// Next has returned an error it keeps returning that error.
func (p *Pager) Next(ctx context.Context) (planet.ItemRecord, error) {
	for len(p.buf) == 0 {
		if p.err != nil {
			return planet.ItemRecord{}, p.err
		}
		if p.started && p.next == "" {
			p.err = io.EOF
			return planet.ItemRecord{}, p.err
		}
		page, err := p.fetch(ctx)
		if err != nil {
			p.err = err
			return planet.ItemRecord{}, err
		}
		p.started = true
		p.pages++
		p.buf = page.Items
		p.next = page.Next
		log.Debugf("Search page %d: %d items, more=%v", p.pages, len(page.Items), p.next != "")
		if p.opts.OnPage != nil {
			p.opts.OnPage(p.pages, len(page.Items))
		}
	}
	item := p.buf[0]
	p.buf = p.buf[1:]
	return item, nil
}

// All drains the pager.
func (p *Pager) All(ctx context.Context) ([]planet.ItemRecord, error) {
	var out []planet.ItemRecord
	for {
		item, err := p.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, item)
	}
}

// Pages reports how many pages have been fetched so far.
func (p *Pager) Pages() int {
	return p.pages
}

func (p *Pager) fetch(ctx context.Context) (*planet.Page, error) {
	var lastErr error
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			wait := retryablehttp.DefaultBackoff(p.opts.MinBackoff, p.opts.MaxBackoff, attempt-2, nil)
			log.Warnf("Search page %d attempt %d failed: %v; retrying in %v", p.pages+1, attempt-1, lastErr, wait)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		var page *planet.Page
		var err error
		if !p.started {
			page, err = p.svc.Search(ctx, p.req)
		} else {
			page, err = p.svc.NextPage(ctx, p.next)
		}
		if err == nil {
			return page, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if planet.IsClientError(err) {
			return nil, &SearchRejected{Cause: err}
		}
		lastErr = err
	}
	return nil, &SearchFailed{Page: p.pages + 1, Attempts: p.opts.MaxAttempts, Cause: lastErr}
}
