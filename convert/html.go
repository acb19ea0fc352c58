package convert

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// htmlConverter renders an HTML page to PDF through an external tool.
// Before rendering it resolves relative href/src attributes against the
// page's <base> (or the caller-supplied base URL) and sanitizes the markup
// so the renderer only ever sees a safe subset.
type htmlConverter struct {
	tool   string
	args   []string
	logger *slog.Logger
}

var sanitizePolicy = newSanitizePolicy()

func newSanitizePolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowImages()
	p.AllowTables()
	return p
}

func (c *htmlConverter) Convert(ctx context.Context, content []byte, opts Options) ([]byte, error) {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", ErrConversionFailed, err)
	}

	base := findBaseHref(doc)
	if base == "" {
		base = opts.BaseURL
	}
	if base != "" {
		if baseURL, perr := url.Parse(base); perr == nil {
			rewriteRelativeLinks(doc, baseURL)
		}
	}

	var rendered bytes.Buffer
	if err := html.Render(&rendered, doc); err != nil {
		return nil, fmt.Errorf("%w: render html: %v", ErrConversionFailed, err)
	}

	safe := sanitizePolicy.SanitizeBytes(rendered.Bytes())
	page := []byte(`<!DOCTYPE html><html><head><meta charset="utf-8"></head><body>` +
		string(safe) + `</body></html>`)

	return runTool(ctx, c.logger, c.tool, c.args, page, ".html", ".pdf")
}

// findBaseHref returns the document's <head><base href> if present.
func findBaseHref(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Base {
		for _, a := range n.Attr {
			if a.Key == "href" {
				return strings.TrimSpace(a.Val)
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if href := findBaseHref(c); href != "" {
			return href
		}
	}
	return ""
}

// rewriteRelativeLinks resolves every href and src attribute against base so
// the rendered PDF keeps working references.
func rewriteRelativeLinks(n *html.Node, base *url.URL) {
	if n.Type == html.ElementNode {
		for i, a := range n.Attr {
			if a.Key != "href" && a.Key != "src" {
				continue
			}
			ref, err := url.Parse(strings.TrimSpace(a.Val))
			if err != nil {
				continue
			}
			n.Attr[i].Val = base.ResolveReference(ref).String()
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		rewriteRelativeLinks(c, base)
	}
}
