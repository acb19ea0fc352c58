// Package bafin crawls the BaFin service search, a JSP portal that lists
// supervisory publications newest first. Markup is class-soup, so
// extraction runs on CSS selectors rather than XPath; dates appear in
// German running text.
package bafin

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/regsift/regsift/crawl"
	"github.com/regsift/regsift/document"
	"github.com/regsift/regsift/fetch"
	"github.com/regsift/regsift/paginate"
)

const (
	siteRoot    = "https://www.bafin.de"
	urlTemplate = siteRoot + "/SiteGlobals/Forms/Suche/Servicesuche_Formular.html" +
		"?input_=7844616&gts=7855320_list%253DdateOfIssue_dt%252Bdesc" +
		"&gtp=7855320_list%253D{page}&resourceId=7844738" +
		"&language_=de&pageLocale=de"
)

var (
	// The portal embeds session ids in every link.
	jsessionRe = regexp.MustCompile(`;jsessionid=[^?]+`)
	germanDate = regexp.MustCompile(`(\d{2}\.\d{2}\.\d{4})`)
)

type Plugin struct {
	fetcher *fetch.Fetcher
	logger  *slog.Logger
	window  *Window
}

// New builds the plugin. It satisfies crawl.Factory.
func New(deps crawl.Deps) (crawl.Plugin, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Plugin{
		fetcher: deps.Fetcher,
		logger:  logger.With("source", "bafin"),
	}, nil
}

// NewWindowed restricts the crawl to publications within w.
func NewWindowed(w Window) crawl.Factory {
	return func(deps crawl.Deps) (crawl.Plugin, error) {
		plugin, err := New(deps)
		if err != nil {
			return nil, err
		}
		p := plugin.(*Plugin)
		p.window = &w
		return p, nil
	}
}

func (p *Plugin) Name() string { return "bafin" }

func (p *Plugin) Entries(_ context.Context) crawl.PageSource {
	tmpl := urlTemplate
	if p.window != nil {
		tmpl += "&dateFrom=" + url.QueryEscape(p.window.From.Format("02.01.2006")) +
			"&dateTo=" + url.QueryEscape(p.window.To.Format("02.01.2006"))
	}
	return paginate.New(tmpl, p.fetcher, paginate.Config{Logger: p.logger})
}

func (p *Plugin) FindEntries(_ context.Context, page *paginate.Page) []*document.Document {
	sel, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		p.logger.Warn("result page is not parseable", "url", page.URL, "error", err)
		return nil
	}

	var docs []*document.Document
	sel.Find("div[class*='search-result']").Each(func(_ int, entry *goquery.Selection) {
		titleLink := entry.Find("h3 a").First()
		detailURL := cleanPath(titleLink.AttrOr("href", ""))
		contentURL := cleanPath(entry.Find("ul.links li a").First().AttrOr("href", ""))
		if contentURL == "" {
			// Announcements without an attachment: the detail page is
			// the document.
			contentURL = detailURL
		}
		if contentURL == "" {
			return
		}

		doc := document.New(contentURL)
		doc.DetailURL = detailURL
		doc.Title = unhyphenate(strings.TrimSpace(titleLink.Text()))
		doc.PublishedDate = issuedDate(entry)

		if topics := splitList(entry.Find("span.thema a").Text()); len(topics) > 0 {
			doc.Metadata.Set("topic", topics)
		}
		if kinds := splitList(metadataAfter(entry, "Format:")); len(kinds) > 0 {
			doc.Metadata.Set("type", kinds)
		}
		docs = append(docs, doc)
	})
	return docs
}

// ProcessDocument records which other publications the detail page links
// to, the portal's way of expressing "supersedes" and "relates to".
func (p *Plugin) ProcessDocument(ctx context.Context, doc *document.Document) error {
	if doc.DetailURL == "" {
		return nil
	}
	resp, err := p.fetcher.Fetch(ctx, doc.DetailURL)
	if err != nil {
		return fmt.Errorf("bafin: detail page: %w", err)
	}
	if !resp.OK() {
		return fmt.Errorf("bafin: detail page %s: status %d", doc.DetailURL, resp.StatusCode)
	}
	sel, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return fmt.Errorf("bafin: detail page %s: %w", doc.DetailURL, err)
	}

	var mentioned []string
	sel.Find("#content a[class*='RichTextIntLink']").Each(func(_ int, a *goquery.Selection) {
		if href := cleanPath(a.AttrOr("href", "")); href != "" {
			mentioned = append(mentioned, href)
		}
	})
	if len(mentioned) > 0 {
		doc.Metadata.Set("mentioned", mentioned)
	}
	return nil
}

// issuedDate digs the publication date out of the entry's metadata spans,
// e.g. "Erscheinung: 20.11.2018".
func issuedDate(entry *goquery.Selection) time.Time {
	raw := metadataAfter(entry, "Erscheinung")
	m := germanDate.FindStringSubmatch(raw)
	if m == nil {
		return time.Time{}
	}
	t, err := time.Parse("02.01.2006", m[1])
	if err != nil {
		return time.Time{}
	}
	return t
}

// metadataAfter returns the text that follows the metadata label span
// containing marker.
func metadataAfter(entry *goquery.Selection, marker string) string {
	var out string
	entry.Find("span.metadata span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !strings.Contains(s.Text(), marker) {
			return true
		}
		if node := s.Get(0); node.NextSibling != nil {
			out = node.NextSibling.Data
		}
		return false
	})
	return strings.TrimSpace(out)
}

// cleanPath strips the session id and roots the path at the portal.
func cleanPath(href string) string {
	if href == "" {
		return ""
	}
	href = jsessionRe.ReplaceAllString(href, "")
	base, _ := url.Parse(siteRoot)
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// unhyphenate removes soft hyphens, which the portal sprinkles through
// titles for line breaking.
func unhyphenate(s string) string {
	return strings.ReplaceAll(s, "­", "")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
