package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/araddon/dateparse"
	"golang.org/x/net/html"
)

// First keeps only the first element of the sequence. Fails on an empty
// sequence, which routes the field to its default.
func First() Transform {
	return func(values []any) ([]any, error) {
		if len(values) == 0 {
			return nil, fmt.Errorf("first: empty sequence")
		}
		return values[:1], nil
	}
}

// Texts stringifies every value via AsString.
func Texts() Transform {
	return func(values []any) ([]any, error) {
		out := make([]any, 0, len(values))
		for _, v := range values {
			out = append(out, AsString(v))
		}
		return out, nil
	}
}

// Trim strips cutset from both ends of every string value.
func Trim(cutset string) Transform {
	return eachString(func(s string) (any, error) {
		return strings.Trim(s, cutset), nil
	})
}

// TrimSpace strips surrounding whitespace from every string value.
func TrimSpace() Transform {
	return eachString(func(s string) (any, error) {
		return strings.TrimSpace(s), nil
	})
}

// Replace substitutes old with new in every string value. Useful for
// scrubbing soft hyphens and similar markup debris.
func Replace(old, new string) Transform {
	return eachString(func(s string) (any, error) {
		return strings.ReplaceAll(s, old, new), nil
	})
}

// Split breaks every string value on sep, splicing the parts flat.
func Split(sep string) Transform {
	return func(values []any) ([]any, error) {
		var out []any
		for _, v := range values {
			for _, part := range strings.Split(AsString(v), sep) {
				if part = strings.TrimSpace(part); part != "" {
					out = append(out, part)
				}
			}
		}
		return out, nil
	}
}

// StripPattern deletes all matches of an expression from every string value
// (session IDs, tracking parameters).
func StripPattern(pattern string) Transform {
	re := regexp.MustCompile(pattern)
	return eachString(func(s string) (any, error) {
		return re.ReplaceAllString(s, ""), nil
	})
}

// ResolveURL resolves every string value as a reference against base.
func ResolveURL(base string) Transform {
	baseURL, err := url.Parse(base)
	return eachString(func(s string) (any, error) {
		if err != nil {
			return nil, fmt.Errorf("resolve: bad base %q: %w", base, err)
		}
		ref, perr := url.Parse(strings.TrimSpace(s))
		if perr != nil {
			return nil, fmt.Errorf("resolve %q: %w", s, perr)
		}
		return baseURL.ResolveReference(ref).String(), nil
	})
}

// ParseDate parses every string value with dateparse's layout detection.
func ParseDate() Transform {
	return eachString(func(s string) (any, error) {
		t, err := dateparse.ParseAny(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", s, err)
		}
		return t, nil
	})
}

// MatchDate searches every string value for pattern and parses the first
// submatch (or whole match) with the given layout. Sources bury dates in
// running text ("vom 20.11.2018"); this digs them out.
func MatchDate(pattern, layout string) Transform {
	re := regexp.MustCompile(pattern)
	return eachString(func(s string) (any, error) {
		m := re.FindStringSubmatch(s)
		if m == nil {
			return nil, fmt.Errorf("match date: no %q in %q", pattern, s)
		}
		raw := m[0]
		if len(m) > 1 {
			raw = m[1]
		}
		t, err := time.Parse(layout, raw)
		if err != nil {
			return nil, fmt.Errorf("match date %q: %w", raw, err)
		}
		return t, nil
	})
}

// eachString applies fn to the string form of every value.
func eachString(fn func(string) (any, error)) Transform {
	return func(values []any) ([]any, error) {
		out := make([]any, 0, len(values))
		for _, v := range values {
			r, err := fn(AsString(v))
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		}
		return out, nil
	}
}

// Descend replaces each traversal root with the nodes matching query under
// it, for rules whose interesting subtree sits below the entry node.
func Descend(query string) NodeTransform {
	return func(nodes []*html.Node) ([]*html.Node, error) {
		var out []*html.Node
		for _, n := range nodes {
			found, err := htmlquery.QueryAll(n, query)
			if err != nil {
				return nil, err
			}
			out = append(out, found...)
		}
		return out, nil
	}
}

func stringify(v any) string {
	return fmt.Sprintf("%v", v)
}
