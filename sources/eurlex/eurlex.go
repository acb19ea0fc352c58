// Package eurlex crawls the EUR-Lex search portal, newest documents
// first. Result pages list publications with their PDF/HTML links; the
// detail page carries a metadata table that is folded into the document.
package eurlex

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/antchfx/htmlquery"

	"github.com/regsift/regsift/crawl"
	"github.com/regsift/regsift/document"
	"github.com/regsift/regsift/extract"
	"github.com/regsift/regsift/fetch"
	"github.com/regsift/regsift/paginate"
)

const (
	siteRoot    = "https://eur-lex.europa.eu"
	urlTemplate = siteRoot + "/search.html?lang=en&type=quick&scope=EURLEX" +
		"&sortOneOrder=desc&sortOne=DD&locale=en&page={page}"

	// Keys on detail pages end in assorted punctuation.
	keyCutset = " .:,;!?-_#"
)

// sessionParams matches the volatile rid/qid query parameters EUR-Lex
// appends to every link. They change per session and would defeat URL
// deduplication.
const sessionParams = `[?&][qr]id=[^&]+`

type Plugin struct {
	fetcher *fetch.Fetcher
	logger  *slog.Logger

	entries *extract.Rule
	date    *extract.Rule
	docURL  *extract.Rule
	title   *extract.Rule
	detail  *extract.Rule

	meta  *extract.Rule
	key   *extract.Rule
	value *extract.Rule
}

// New builds the plugin. It satisfies crawl.Factory.
func New(deps crawl.Deps) (crawl.Plugin, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("source", "eurlex")
	lo := extract.WithLogger(logger)

	linkCleanup := []extract.Transform{
		extract.First(),
		extract.StripPattern(sessionParams),
		extract.ResolveURL(siteRoot),
		// AUTO links redirect through a language chooser; the direct
		// variant skips it.
		extract.Replace("AUTO", "DE/ALL"),
	}

	p := &Plugin{
		fetcher: deps.Fetcher,
		logger:  logger,

		entries: extract.MustRule(`//div[@class = 'SearchResult']`, lo),
		date: extract.MustRule(
			`.//dl/dd[preceding-sibling::dt[contains(text(), 'Date') or
			                                contains(text(), 'Datum')]]/text()`,
			extract.WithAfter(
				extract.First(),
				extract.MatchDate(`(\d+/\d+/\d+)`, "02/01/2006")),
			lo),
		docURL: extract.MustRule(
			`.//ul[contains(@class, 'SearchResultDoc')]/li
			 /a[contains(@href, 'PDF') or contains(@href, 'HTML')]/@href`,
			extract.WithAfter(linkCleanup...), lo),
		title: extract.MustRule(
			`.//h2/a[@class = 'title']/text()`,
			extract.WithAfter(extract.First(), extract.TrimSpace()),
			extract.WithDefault("No title"), lo),
		detail: extract.MustRule(
			`.//h2/a[@class = 'title']/@href`,
			extract.WithAfter(linkCleanup...), lo),

		meta: extract.MustRule(`//dl[contains(@class, 'NMetadata')]/dd`, lo),
		key: extract.MustRule(
			`normalize-space(./preceding-sibling::dt[1])`,
			extract.WithAfter(extract.Trim(keyCutset)), lo),
		value: extract.MustRule(
			`./text() | .//*[self::span[@lang] or
			                 self::a[not(child::span)] or
			                 self::i[not(child::span)]]/text()`,
			extract.WithAfter(extract.Trim(keyCutset+"\n\t ")), lo),
	}
	return p, nil
}

func (p *Plugin) Name() string { return "eurlex" }

func (p *Plugin) Entries(_ context.Context) crawl.PageSource {
	return paginate.New(urlTemplate, p.fetcher, paginate.Config{Logger: p.logger})
}

func (p *Plugin) FindEntries(_ context.Context, page *paginate.Page) []*document.Document {
	root, err := page.HTML()
	if err != nil {
		p.logger.Warn("result page is not parseable", "url", page.URL, "error", err)
		return nil
	}

	var docs []*document.Document
	for _, entry := range p.entries.Nodes(root) {
		contentURL := extract.AsString(p.docURL.First(entry))
		detailURL := extract.AsString(p.detail.First(entry))
		if contentURL == "" {
			// Some older entries publish no direct document link.
			contentURL = detailURL
		}
		if contentURL == "" {
			continue
		}

		doc := document.New(contentURL)
		doc.DetailURL = detailURL
		doc.Title = extract.AsString(p.title.First(entry))
		if t, ok := p.date.First(entry).(time.Time); ok {
			doc.PublishedDate = t
		}
		docs = append(docs, doc)
	}
	return docs
}

// ProcessDocument folds the detail page's metadata table into the
// document: every dd is keyed by its closest preceding dt.
func (p *Plugin) ProcessDocument(ctx context.Context, doc *document.Document) error {
	if doc.DetailURL == "" {
		return nil
	}
	resp, err := p.fetcher.Fetch(ctx, doc.DetailURL)
	if err != nil {
		return fmt.Errorf("eurlex: detail page: %w", err)
	}
	if !resp.OK() {
		return fmt.Errorf("eurlex: detail page %s: status %d", doc.DetailURL, resp.StatusCode)
	}
	root, err := htmlquery.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return fmt.Errorf("eurlex: detail page %s: %w", doc.DetailURL, err)
	}

	for _, dd := range p.meta.Nodes(root) {
		key := extract.AsString(p.key.First(dd))
		if key == "" {
			continue
		}
		values := p.value.Strings(dd)
		switch len(values) {
		case 0:
		case 1:
			doc.Metadata.Set(key, values[0])
		default:
			doc.Metadata.Set(key, values)
		}
	}
	return nil
}
