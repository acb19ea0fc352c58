package analyze

import (
	"bytes"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	readability "github.com/go-shiori/go-readability"
)

// readabilityMinChars is the point below which a readability extraction is
// treated as degenerate. Short regulatory notices often carry their whole
// payload in tables or definition lists that readability scores as chrome.
const readabilityMinChars = 120

func (a *Analyzer) htmlText(content []byte, baseURL string) (Result, error) {
	var pageURL *url.URL
	if baseURL != "" {
		if u, err := url.Parse(baseURL); err == nil {
			pageURL = u
		}
	}

	article, err := readability.FromReader(bytes.NewReader(content), pageURL)
	if err == nil {
		text := normalizeSpace(article.TextContent)
		if len([]rune(text)) >= readabilityMinChars {
			return Result{
				Title:   strings.TrimSpace(article.Title),
				Text:    text,
				Excerpt: excerpt(text),
			}, nil
		}
		a.logger.Debug("readability output too short, falling back to markdown",
			"chars", len(text), "url", baseURL)
	} else {
		a.logger.Debug("readability failed, falling back to markdown",
			"error", err, "url", baseURL)
	}

	// Fallback keeps everything the page renders, tables included, as
	// markdown-flavoured text.
	md, mdErr := htmltomarkdown.ConvertString(string(content))
	if mdErr != nil {
		return Result{}, ErrNoText
	}
	text := normalizeSpace(md)
	if text == "" {
		return Result{}, ErrNoText
	}
	res := Result{Text: text, Excerpt: excerpt(text)}
	if err == nil {
		res.Title = strings.TrimSpace(article.Title)
	}
	return res, nil
}
