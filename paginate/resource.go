// Package paginate iterates a templated, paginated resource one page per
// step, so a caller can stop mid-crawl without prefetching anything.
package paginate

import (
	"bytes"
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/regsift/regsift/fetch"
)

// Fetcher is the slice of fetch.Fetcher the paginator needs.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts ...fetch.Option) (*fetch.Response, error)
}

// Page is one fetched result page. The parsed DOM is built lazily so
// non-HTML consumers (feeds) pay nothing for it.
type Page struct {
	URL  string
	Body []byte

	once sync.Once
	doc  *html.Node
	err  error
}

// HTML parses the page body once and returns the document root.
func (p *Page) HTML() (*html.Node, error) {
	p.once.Do(func() {
		p.doc, p.err = htmlquery.Parse(bytes.NewReader(p.Body))
	})
	return p.doc, p.err
}

// Config configures a Resource.
type Config struct {
	// MinPage is the first page number. Default: 1.
	MinPage int
	// MaxPage stops iteration once exceeded. Zero means unbounded.
	MaxPage int
	// Step is the page increment. Default: 1.
	Step int
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MinPage == 0 {
		c.MinPage = 1
	}
	if c.Step == 0 {
		c.Step = 1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Resource walks a URL template containing a "{page}" placeholder. A fresh
// Resource always starts at MinPage; instances share no state.
//
// Iteration terminates when MaxPage is exceeded, the fetch fails terminally,
// or the response has a non-success status. Termination is part of the
// iteration contract, not an error.
type Resource struct {
	urlTemplate string
	fetcher     Fetcher
	config      Config

	page int
	done bool
}

// New creates a Resource over urlTemplate.
func New(urlTemplate string, fetcher Fetcher, cfg Config) *Resource {
	cfg.defaults()
	return &Resource{
		urlTemplate: urlTemplate,
		fetcher:     fetcher,
		config:      cfg,
		page:        cfg.MinPage,
	}
}

// PageURL renders the template for a given page number.
func (r *Resource) PageURL(page int) string {
	return strings.ReplaceAll(r.urlTemplate, "{page}", strconv.Itoa(page))
}

// Next fetches and returns the next page, or nil when iteration is done.
// Exactly one page is fetched per call.
func (r *Resource) Next(ctx context.Context) *Page {
	if r.done || ctx.Err() != nil {
		return nil
	}
	if r.config.MaxPage > 0 && r.page > r.config.MaxPage {
		r.done = true
		return nil
	}

	url := r.PageURL(r.page)
	resp, err := r.fetcher.Fetch(ctx, url)
	if err != nil {
		r.config.Logger.Warn("paginate: fetch failed, stopping iteration",
			"url", url, "page", r.page, "error", err)
		r.done = true
		return nil
	}
	if !resp.OK() {
		r.config.Logger.Debug("paginate: non-success status, stopping iteration",
			"url", url, "page", r.page, "status", resp.StatusCode)
		r.done = true
		return nil
	}

	r.page += r.config.Step
	return &Page{URL: url, Body: resp.Body}
}
