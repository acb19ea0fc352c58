// Package newsfeed turns any RSS or Atom feed into a crawl source. Feed
// entries map straight onto documents; when the feed carries full entry
// content the item link is never fetched.
package newsfeed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/regsift/regsift/crawl"
	"github.com/regsift/regsift/document"
	"github.com/regsift/regsift/feed"
	"github.com/regsift/regsift/fetch"
	"github.com/regsift/regsift/paginate"
)

// Config describes one feed.
type Config struct {
	// Name identifies the source; required, must be unique per feed.
	Name string

	// URL is the feed location.
	URL string

	// FollowLinks fetches each entry's link for the full page even when
	// the feed embeds content.
	FollowLinks bool
}

type Plugin struct {
	cfg     Config
	fetcher *fetch.Fetcher
	logger  *slog.Logger
}

// Factory builds a plugin factory for one configured feed.
func Factory(cfg Config) crawl.Factory {
	return func(deps crawl.Deps) (crawl.Plugin, error) {
		if cfg.Name == "" || cfg.URL == "" {
			return nil, fmt.Errorf("newsfeed: name and url are required")
		}
		logger := deps.Logger
		if logger == nil {
			logger = slog.Default()
		}
		return &Plugin{
			cfg:     cfg,
			fetcher: deps.Fetcher,
			logger:  logger.With("source", cfg.Name),
		}, nil
	}
}

func (p *Plugin) Name() string { return p.cfg.Name }

// Entries yields the feed itself as a single page. Feeds are not
// paginated; one crawl is one fetch.
func (p *Plugin) Entries(_ context.Context) crawl.PageSource {
	return &feedSource{plugin: p}
}

type feedSource struct {
	plugin *Plugin
	done   bool
}

func (s *feedSource) Next(ctx context.Context) *paginate.Page {
	if s.done {
		return nil
	}
	s.done = true

	p := s.plugin
	resp, err := p.fetcher.Fetch(ctx, p.cfg.URL)
	if err != nil {
		p.logger.Warn("feed fetch failed", "url", p.cfg.URL, "error", err)
		return nil
	}
	if !resp.OK() {
		p.logger.Warn("feed fetch rejected", "url", p.cfg.URL, "status", resp.StatusCode)
		return nil
	}
	return &paginate.Page{URL: p.cfg.URL, Body: resp.Body}
}

func (p *Plugin) FindEntries(_ context.Context, page *paginate.Page) []*document.Document {
	f, err := feed.Parse(page.Body)
	if err != nil {
		p.logger.Warn("feed not parseable", "url", page.URL, "error", err)
		return nil
	}

	var docs []*document.Document
	for _, entry := range f.Entries {
		link := entry.Link
		if link == "" {
			link = entry.GUID
		}
		if link == "" {
			continue
		}

		doc := document.New(link)
		doc.Title = entry.Title
		doc.PublishedDate = entry.Published
		if entry.Author != "" {
			doc.Metadata.Set("author", entry.Author)
		}
		if entry.Summary != "" {
			doc.Metadata.Set("summary", entry.Summary)
		}
		if entry.GUID != "" {
			doc.Metadata.Set("guid", entry.GUID)
		}

		if !p.cfg.FollowLinks && entry.Content != "" {
			doc.RawContent = []byte(entry.Content)
			doc.ContentType = "text/html"
		}
		docs = append(docs, doc)
	}
	return docs
}

// ProcessDocument is a no-op: feeds carry all their metadata inline.
func (p *Plugin) ProcessDocument(_ context.Context, _ *document.Document) error {
	return nil
}
