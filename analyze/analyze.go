// Package analyze derives plain text and titles from converted document
// content. It is the last enrichment step before a document is indexed:
// the text it produces is what search and review tooling operate on.
package analyze

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/regsift/regsift/convert"
)

// ErrNoText reports that the content held nothing extractable.
var ErrNoText = errors.New("analyze: no extractable text")

// Result carries what could be derived from a piece of content.
type Result struct {
	Title   string
	Text    string
	Excerpt string
}

// Analyzer turns stored content bytes into plain text.
type Analyzer struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{logger: logger.With("component", "analyze")}
}

// Analyze dispatches on the (possibly parameterised) content type. baseURL
// anchors relative links when the content is HTML; it may be empty.
func (a *Analyzer) Analyze(content []byte, contentType, baseURL string) (Result, error) {
	if len(content) == 0 {
		return Result{}, ErrNoText
	}
	switch mt := convert.NormalizeMime(contentType); mt {
	case "text/html", "application/xhtml+xml":
		return a.htmlText(content, baseURL)
	case "application/pdf":
		return a.pdfText(content)
	case "text/plain", "":
		return plainText(content), nil
	default:
		return Result{}, fmt.Errorf("analyze: unsupported content type %q", mt)
	}
}

func plainText(content []byte) Result {
	text := normalizeSpace(string(content))
	return Result{Text: text, Excerpt: excerpt(text)}
}

// normalizeSpace collapses runs of whitespace into single spaces while
// keeping line breaks, so paragraph structure survives.
func normalizeSpace(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	var prevSpace, prevNL bool
	for _, r := range s {
		switch {
		case r == '\n':
			if !prevNL {
				sb.WriteByte('\n')
			}
			prevNL, prevSpace = true, true
		case unicode.IsSpace(r):
			if !prevSpace {
				sb.WriteByte(' ')
			}
			prevSpace = true
		case unicode.IsPrint(r):
			sb.WriteRune(r)
			prevSpace, prevNL = false, false
		}
	}
	return strings.TrimSpace(sb.String())
}

const excerptLen = 280

func excerpt(text string) string {
	text = strings.ReplaceAll(text, "\n", " ")
	runes := []rune(text)
	if len(runes) <= excerptLen {
		return text
	}
	cut := excerptLen
	for cut > 0 && !unicode.IsSpace(runes[cut]) {
		cut--
	}
	if cut == 0 {
		cut = excerptLen
	}
	return strings.TrimSpace(string(runes[:cut]))
}
